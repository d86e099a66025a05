package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/blackwell-systems/npmdash/internal/config"
	"github.com/blackwell-systems/npmdash/internal/dashboard"
	"github.com/blackwell-systems/npmdash/internal/registry"
	"github.com/blackwell-systems/npmdash/internal/store"
)

var testPackages = []config.TrackedPackage{
	{Name: "pkg-a", DisplayName: "Package A", Homepage: config.NpmPackageURL("pkg-a")},
	{Name: "@scope/pkg-b", DisplayName: "Package B", Homepage: config.NpmPackageURL("@scope/pkg-b")},
}

func staticFetcher(counts map[string]int64) dashboard.Fetcher {
	return dashboard.FetcherFunc(func(ctx context.Context, period config.PeriodKey, name string) (registry.Point, error) {
		n, ok := counts[name]
		if !ok {
			return registry.Point{}, &registry.StatusError{StatusCode: http.StatusInternalServerError, Message: "boom"}
		}
		return registry.Point{Package: name, Downloads: n}, nil
	})
}

type testEnv struct {
	srv     *Server
	http    *httptest.Server
	ctrl    *dashboard.Controller
	metrics *Metrics
	history *store.History
}

func newTestEnv(t *testing.T, fetcher dashboard.Fetcher) *testEnv {
	t.Helper()

	st, err := store.Open()
	if err != nil {
		t.Fatalf("store.Open() error = %v", err)
	}
	t.Cleanup(func() { st.Close() })

	metrics := NewMetrics()
	history := store.NewHistory(st, 0, nil)
	ctrl := dashboard.New(testPackages, metrics.InstrumentFetcher(fetcher),
		dashboard.WithObserver(history),
		dashboard.WithObserver(metrics),
	)

	srv, err := New(ctrl, Options{History: history, Metrics: metrics})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	hs := httptest.NewServer(srv)
	t.Cleanup(func() {
		hs.Close()
		srv.Close()
	})

	return &testEnv{srv: srv, http: hs, ctrl: ctrl, metrics: metrics, history: history}
}

func (e *testEnv) start(t *testing.T) {
	t.Helper()
	if err := e.ctrl.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	e.ctrl.Wait()
}

func noRedirectClient() *http.Client {
	return &http.Client{
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

func getState(t *testing.T, baseURL string) State {
	t.Helper()
	resp, err := http.Get(baseURL + "/api/state")
	if err != nil {
		t.Fatalf("GET /api/state: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET /api/state status = %d", resp.StatusCode)
	}
	var st State
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		t.Fatalf("decode state: %v", err)
	}
	return st
}

func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return string(b)
}

func TestNew_NilController(t *testing.T) {
	if _, err := New(nil, Options{}); err == nil {
		t.Fatal("New(nil) expected error, got nil")
	}
}

func TestAPIState_BeforeFirstCycle(t *testing.T) {
	env := newTestEnv(t, staticFetcher(map[string]int64{"pkg-a": 1, "@scope/pkg-b": 2}))

	st := getState(t, env.http.URL)
	if st.Status != dashboard.StatusIdle {
		t.Errorf("status = %q, want idle", st.Status)
	}
	if st.Period != config.LastWeek || st.PeriodLabel != "Last 7 days" {
		t.Errorf("period = %q/%q, want last-week/Last 7 days", st.Period, st.PeriodLabel)
	}
	if len(st.Periods) != 4 {
		t.Errorf("periods = %d, want 4", len(st.Periods))
	}
	if st.LastUpdated != nil {
		t.Errorf("lastUpdated = %v, want nil", st.LastUpdated)
	}
	for _, p := range st.Packages {
		if p.Downloads != nil {
			t.Errorf("%s downloads = %d, want null", p.Name, *p.Downloads)
		}
	}
}

func TestAPIState_AfterCommit(t *testing.T) {
	env := newTestEnv(t, staticFetcher(map[string]int64{"pkg-a": 1200, "@scope/pkg-b": 0}))
	env.start(t)

	st := getState(t, env.http.URL)
	if st.Status != dashboard.StatusReady {
		t.Fatalf("status = %q, want ready", st.Status)
	}
	if st.LastUpdated == nil {
		t.Error("lastUpdated should be set after a commit")
	}
	if len(st.Packages) != 2 || st.Packages[0].Name != "pkg-a" {
		t.Fatalf("packages = %+v", st.Packages)
	}
	if got := st.Packages[0].Downloads; got == nil || *got != 1200 {
		t.Errorf("pkg-a downloads = %v, want 1200", got)
	}
	if got := st.Packages[1].Downloads; got == nil || *got != 0 {
		t.Errorf("pkg-b downloads = %v, want 0", got)
	}
}

func TestAPIPeriod(t *testing.T) {
	env := newTestEnv(t, staticFetcher(map[string]int64{"pkg-a": 1, "@scope/pkg-b": 2}))
	env.start(t)

	tests := []struct {
		name       string
		body       string
		wantStatus int
	}{
		{"valid period", `{"period":"last-day"}`, http.StatusAccepted},
		{"unknown period", `{"period":"last-century"}`, http.StatusBadRequest},
		{"empty body", ``, http.StatusBadRequest},
		{"malformed json", `{"period":`, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := http.Post(env.http.URL+"/api/period", "application/json", strings.NewReader(tt.body))
			if err != nil {
				t.Fatalf("POST /api/period: %v", err)
			}
			body := readBody(t, resp)
			if resp.StatusCode != tt.wantStatus {
				t.Errorf("status = %d, want %d (body %s)", resp.StatusCode, tt.wantStatus, body)
			}
		})
	}

	env.ctrl.Wait()
	st := getState(t, env.http.URL)
	if st.Period != config.LastDay || st.Status != dashboard.StatusReady {
		t.Errorf("state = %s/%s, want last-day/ready", st.Period, st.Status)
	}
}

func TestAPIRefresh(t *testing.T) {
	env := newTestEnv(t, staticFetcher(map[string]int64{"pkg-a": 1, "@scope/pkg-b": 2}))
	env.start(t)
	before := env.ctrl.Snapshot().Generation

	resp, err := http.Post(env.http.URL+"/api/refresh", "application/json", nil)
	if err != nil {
		t.Fatalf("POST /api/refresh: %v", err)
	}
	readBody(t, resp)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", resp.StatusCode)
	}

	env.ctrl.Wait()
	if got := env.ctrl.Snapshot().Generation; got <= before {
		t.Errorf("generation = %d, want > %d", got, before)
	}
}

func TestAPIRefresh_MethodNotAllowed(t *testing.T) {
	env := newTestEnv(t, staticFetcher(nil))

	resp, err := http.Get(env.http.URL + "/api/refresh")
	if err != nil {
		t.Fatalf("GET /api/refresh: %v", err)
	}
	readBody(t, resp)
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", resp.StatusCode)
	}
}

func TestFormEndpoints_Redirect(t *testing.T) {
	env := newTestEnv(t, staticFetcher(map[string]int64{"pkg-a": 1, "@scope/pkg-b": 2}))
	env.start(t)
	client := noRedirectClient()

	resp, err := client.PostForm(env.http.URL+"/period", url.Values{"period": {"last-year"}})
	if err != nil {
		t.Fatalf("POST /period: %v", err)
	}
	readBody(t, resp)
	if resp.StatusCode != http.StatusSeeOther || resp.Header.Get("Location") != "/" {
		t.Errorf("POST /period = %d %q, want 303 /", resp.StatusCode, resp.Header.Get("Location"))
	}

	resp, err = client.Post(env.http.URL+"/refresh", "application/x-www-form-urlencoded", nil)
	if err != nil {
		t.Fatalf("POST /refresh: %v", err)
	}
	readBody(t, resp)
	if resp.StatusCode != http.StatusSeeOther {
		t.Errorf("POST /refresh = %d, want 303", resp.StatusCode)
	}

	resp, err = client.PostForm(env.http.URL+"/period", url.Values{"period": {"bogus"}})
	if err != nil {
		t.Fatalf("POST /period: %v", err)
	}
	readBody(t, resp)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("POST /period bogus = %d, want 400", resp.StatusCode)
	}

	env.ctrl.Wait()
	if got := env.ctrl.Snapshot().Period; got != config.LastYear {
		t.Errorf("period = %q, want last-year", got)
	}
}

func TestIndex_Ready(t *testing.T) {
	env := newTestEnv(t, staticFetcher(map[string]int64{"pkg-a": 1234567, "@scope/pkg-b": 0}))
	env.start(t)

	resp, err := http.Get(env.http.URL + "/")
	if err != nil {
		t.Fatalf("GET /: %v", err)
	}
	body := readBody(t, resp)
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
		t.Errorf("Content-Type = %q", ct)
	}

	for _, want := range []string{"Package A", "@scope/pkg-b", "1,234,567", "downloads • Last 7 days", "Updated ", `value="last-week" selected`} {
		if !strings.Contains(body, want) {
			t.Errorf("page missing %q", want)
		}
	}
	if strings.Contains(body, "Heads up:") {
		t.Error("page should not show a banner without an error")
	}
	if strings.Contains(body, "disabled") {
		t.Error("controls should be enabled when not loading")
	}
}

func TestIndex_Error(t *testing.T) {
	env := newTestEnv(t, staticFetcher(map[string]int64{"pkg-a": 5}))
	env.start(t)

	resp, err := http.Get(env.http.URL + "/")
	if err != nil {
		t.Fatalf("GET /: %v", err)
	}
	body := readBody(t, resp)

	if !strings.Contains(body, "<strong>Heads up:</strong> unable to fetch downloads for Package B") {
		t.Errorf("page missing error banner:\n%s", body)
	}
	// Nothing committed yet and not loading: placeholders, not skeletons.
	if !strings.Contains(body, "—") {
		t.Error("page should show placeholders for missing counts")
	}
	if strings.Contains(body, `class="skeleton"`) {
		t.Error("page should not show skeletons after a failed first load")
	}
}

func TestIndex_FirstLoad(t *testing.T) {
	gate := make(chan struct{})
	fetcher := dashboard.FetcherFunc(func(ctx context.Context, period config.PeriodKey, name string) (registry.Point, error) {
		select {
		case <-gate:
			return registry.Point{Package: name, Downloads: 1}, nil
		case <-ctx.Done():
			return registry.Point{}, ctx.Err()
		}
	})
	env := newTestEnv(t, fetcher)
	if err := env.ctrl.Start(); err != nil {
		t.Fatal(err)
	}
	defer func() {
		close(gate)
		env.ctrl.Wait()
	}()

	resp, err := http.Get(env.http.URL + "/")
	if err != nil {
		t.Fatalf("GET /: %v", err)
	}
	body := readBody(t, resp)

	if strings.Count(body, `class="skeleton"`) != 2 {
		t.Errorf("want one skeleton per package:\n%s", body)
	}
	if !strings.Contains(body, "disabled") || !strings.Contains(body, "Refreshing...") {
		t.Error("controls should be disabled while loading")
	}
}

func TestIndex_NotFound(t *testing.T) {
	env := newTestEnv(t, staticFetcher(nil))

	resp, err := http.Get(env.http.URL + "/nope")
	if err != nil {
		t.Fatal(err)
	}
	readBody(t, resp)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestHistory(t *testing.T) {
	env := newTestEnv(t, staticFetcher(map[string]int64{"pkg-a": 1, "@scope/pkg-b": 2}))
	env.start(t)
	if err := env.ctrl.SetPeriod(config.LastMonth); err != nil {
		t.Fatal(err)
	}
	env.ctrl.Wait()

	resp, err := http.Get(env.http.URL + "/api/history?limit=1")
	if err != nil {
		t.Fatalf("GET /api/history: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var payload historyResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(payload.Cycles) != 1 {
		t.Fatalf("cycles = %d, want 1", len(payload.Cycles))
	}
	c := payload.Cycles[0]
	if c.Period != string(config.LastMonth) || c.Outcome != string(dashboard.OutcomeCommitted) {
		t.Errorf("latest cycle = %s/%s, want last-month/committed", c.Period, c.Outcome)
	}
	if c.Totals["@scope/pkg-b"] != 2 {
		t.Errorf("totals = %v", c.Totals)
	}
	if payload.Counts["committed"] != 2 {
		t.Errorf("counts = %v, want 2 committed", payload.Counts)
	}
	if payload.LastCommitted == nil || payload.LastCommitted.ID != c.ID {
		t.Errorf("lastCommitted = %+v, want cycle %d", payload.LastCommitted, c.ID)
	}
}

func TestHistory_LastCommittedOutlivesFailure(t *testing.T) {
	fetcher := dashboard.FetcherFunc(func(ctx context.Context, period config.PeriodKey, name string) (registry.Point, error) {
		if period == config.LastYear {
			return registry.Point{}, &registry.StatusError{StatusCode: http.StatusServiceUnavailable}
		}
		return registry.Point{Package: name, Downloads: 5}, nil
	})
	env := newTestEnv(t, fetcher)
	env.start(t)
	if err := env.ctrl.SetPeriod(config.LastYear); err != nil {
		t.Fatal(err)
	}
	env.ctrl.Wait()

	resp, err := http.Get(env.http.URL + "/api/history?limit=1")
	if err != nil {
		t.Fatalf("GET /api/history: %v", err)
	}
	defer resp.Body.Close()

	var payload historyResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(payload.Cycles) != 1 || payload.Cycles[0].Outcome != string(dashboard.OutcomeFailed) {
		t.Fatalf("cycles = %+v, want one failed cycle", payload.Cycles)
	}
	if payload.LastCommitted == nil {
		t.Fatal("lastCommitted should survive a later failure")
	}
	if payload.LastCommitted.Period != string(config.LastWeek) || payload.LastCommitted.Totals["pkg-a"] != 5 {
		t.Errorf("lastCommitted = %+v, want last-week with totals", payload.LastCommitted)
	}
	if payload.Counts["committed"] != 1 || payload.Counts["failed"] != 1 {
		t.Errorf("counts = %v, want 1 committed and 1 failed", payload.Counts)
	}
}

func TestHistory_EmptyHasNullLastCommitted(t *testing.T) {
	env := newTestEnv(t, staticFetcher(nil))

	resp, err := http.Get(env.http.URL + "/api/history")
	if err != nil {
		t.Fatal(err)
	}
	body := readBody(t, resp)
	for _, want := range []string{`"cycles":[]`, `"counts":{}`, `"lastCommitted":null`} {
		if !strings.Contains(body, want) {
			t.Errorf("body %s missing %s", body, want)
		}
	}
}

func TestHistory_InvalidLimit(t *testing.T) {
	env := newTestEnv(t, staticFetcher(nil))

	for _, q := range []string{"abc", "0", "-3"} {
		resp, err := http.Get(env.http.URL + "/api/history?limit=" + q)
		if err != nil {
			t.Fatal(err)
		}
		readBody(t, resp)
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("limit=%s status = %d, want 400", q, resp.StatusCode)
		}
	}
}

func TestHistory_Disabled(t *testing.T) {
	ctrl := dashboard.New(testPackages, staticFetcher(nil))
	srv, err := New(ctrl, Options{})
	if err != nil {
		t.Fatal(err)
	}
	defer srv.Close()

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/history", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}

	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("/metrics without Metrics status = %d, want 404", rec.Code)
	}
}

func TestHealthz(t *testing.T) {
	env := newTestEnv(t, staticFetcher(nil))

	resp, err := http.Get(env.http.URL + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	if body := readBody(t, resp); body != "ok" {
		t.Errorf("body = %q, want ok", body)
	}
}

func TestClosedController_Returns503(t *testing.T) {
	env := newTestEnv(t, staticFetcher(nil))
	env.ctrl.Close()

	resp, err := http.Post(env.http.URL+"/api/refresh", "application/json", nil)
	if err != nil {
		t.Fatal(err)
	}
	readBody(t, resp)
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", resp.StatusCode)
	}
}

func TestSwap(t *testing.T) {
	env := newTestEnv(t, staticFetcher(map[string]int64{"pkg-a": 1, "@scope/pkg-b": 2}))
	env.start(t)
	old := env.ctrl

	next := dashboard.New([]config.TrackedPackage{{Name: "pkg-c", DisplayName: "Package C"}},
		staticFetcher(map[string]int64{"pkg-c": 42}))
	env.srv.Swap(next)
	if err := next.Start(); err != nil {
		t.Fatal(err)
	}
	next.Wait()

	if env.srv.Controller() != next {
		t.Fatal("Controller() should return the new controller")
	}
	if err := old.Refresh(); !errors.Is(err, dashboard.ErrClosed) {
		t.Errorf("old controller Refresh() = %v, want ErrClosed", err)
	}

	st := getState(t, env.http.URL)
	if len(st.Packages) != 1 || st.Packages[0].Name != "pkg-c" {
		t.Fatalf("packages after swap = %+v", st.Packages)
	}
	if got := st.Packages[0].Downloads; got == nil || *got != 42 {
		t.Errorf("pkg-c downloads = %v, want 42", got)
	}

	// Refresh follows the swap.
	if err := env.srv.Refresh(); err != nil {
		t.Errorf("Refresh() after swap = %v", err)
	}
	next.Wait()
}

func dialWS(t *testing.T, baseURL string) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(baseURL, "http") + "/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		if resp != nil {
			resp.Body.Close()
		}
		t.Fatalf("failed to open websocket connection: %v", err)
	}
	t.Cleanup(func() {
		conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		conn.Close()
	})
	return conn
}

func readStateMessage(t *testing.T, conn *websocket.Conn) stateMessage {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, payload, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("failed to read message: %v", err)
	}
	var msg stateMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		t.Fatalf("failed to decode message: %v", err)
	}
	return msg
}

func TestWebsocket_InitialAndUpdates(t *testing.T) {
	env := newTestEnv(t, staticFetcher(map[string]int64{"pkg-a": 7, "@scope/pkg-b": 8}))
	conn := dialWS(t, env.http.URL)

	first := readStateMessage(t, conn)
	if first.Type != "state" || first.State.Status != dashboard.StatusIdle {
		t.Fatalf("initial message = %s/%s, want state/idle", first.Type, first.State.Status)
	}

	if err := env.ctrl.Start(); err != nil {
		t.Fatal(err)
	}

	// Signals coalesce, so read until the committed state arrives.
	for {
		msg := readStateMessage(t, conn)
		if msg.State.Status != dashboard.StatusReady {
			continue
		}
		if got := msg.State.Packages[0].Downloads; got == nil || *got != 7 {
			t.Errorf("pkg-a downloads = %v, want 7", got)
		}
		break
	}
}

func TestWebsocket_SubscriberCount(t *testing.T) {
	env := newTestEnv(t, staticFetcher(nil))
	conn := dialWS(t, env.http.URL)
	readStateMessage(t, conn)

	if got := env.srv.hub.Count(); got != 1 {
		t.Errorf("hub.Count() = %d, want 1", got)
	}

	conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	conn.Close()

	deadline := time.Now().Add(3 * time.Second)
	for env.srv.hub.Count() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("subscriber not removed after close")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestListenAndServe_ShutsDownOnCancel(t *testing.T) {
	ctrl := dashboard.New(testPackages, staticFetcher(nil))
	srv, err := New(ctrl, Options{})
	if err != nil {
		t.Fatal(err)
	}
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.ListenAndServe(ctx, "127.0.0.1:0") }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("ListenAndServe() = %v, want nil", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("ListenAndServe did not return after cancel")
	}
}

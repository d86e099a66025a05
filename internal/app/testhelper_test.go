package app

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// fakeRegistry serves /downloads/point/{period}/{name} from counts. Names
// missing from counts answer 500.
func fakeRegistry(t *testing.T, counts map[string]int64) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rest := strings.TrimPrefix(r.URL.Path, "/downloads/point/")
		_, name, ok := strings.Cut(rest, "/")
		if !ok {
			http.NotFound(w, r)
			return
		}
		n, ok := counts[name]
		if !ok {
			w.WriteHeader(http.StatusInternalServerError)
			w.Write([]byte(`{"error":"internal"}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"downloads": n, "package": name})
	}))
	t.Cleanup(srv.Close)
	return srv
}

const testConfig = `default_period: last-week
packages:
  - name: pkg-a
    display_name: Package A
  - name: "@scope/pkg-b"
    display_name: Package B
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

// executeCommand runs RootCmd with args and restores the global flag
// values afterwards.
func executeCommand(t *testing.T, args ...string) (string, string, error) {
	t.Helper()

	t.Cleanup(func() {
		configPath, registryURL, logLevel = "", "", "warn"
		showPeriod, watchPeriod, servePeriod = "", "", ""
		watchInterval, serveRefreshInterval = 0, 0
		RootCmd.SetArgs(nil)
		RootCmd.SetOut(nil)
		RootCmd.SetErr(nil)
		RootCmd.SetIn(nil)
	})

	var stdout, stderr bytes.Buffer
	RootCmd.SetOut(&stdout)
	RootCmd.SetErr(&stderr)
	RootCmd.SetIn(strings.NewReader(""))
	if args == nil {
		// nil makes cobra fall back to os.Args.
		args = []string{}
	}
	RootCmd.SetArgs(args)

	err := RootCmd.Execute()
	return stdout.String(), stderr.String(), err
}

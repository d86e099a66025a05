package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/blackwell-systems/npmdash/internal/config"
	"github.com/blackwell-systems/npmdash/internal/dashboard"
	"github.com/blackwell-systems/npmdash/internal/store"
)

const (
	defaultHistoryLimit = 20
	maxHistoryLimit     = 500
	maxBodyBytes        = 1 << 16
)

func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /{$}", s.handleIndex)
	mux.HandleFunc("POST /period", s.handleFormPeriod)
	mux.HandleFunc("POST /refresh", s.handleFormRefresh)

	mux.HandleFunc("GET /api/state", s.handleState)
	mux.HandleFunc("POST /api/period", s.handleAPIPeriod)
	mux.HandleFunc("POST /api/refresh", s.handleAPIRefresh)
	mux.HandleFunc("GET /api/history", s.handleHistory)

	mux.Handle("GET /ws", s.hub)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte("ok"))
	})
	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics.Handler())
	}
	return mux
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	ctrl := s.Controller()
	d := newPageData(ctrl.Packages(), ctrl.Snapshot())

	var buf bytes.Buffer
	if err := renderPage(&buf, s.page, d); err != nil {
		s.log.Error("failed to render page", "err", err)
		http.Error(w, "failed to render page", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(buf.Bytes())
}

func (s *Server) handleFormPeriod(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form", http.StatusBadRequest)
		return
	}
	if err := s.Controller().SetPeriod(config.PeriodKey(r.PostFormValue("period"))); err != nil {
		http.Error(w, err.Error(), triggerStatus(err))
		return
	}
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func (s *Server) handleFormRefresh(w http.ResponseWriter, r *http.Request) {
	if err := s.Controller().Refresh(); err != nil {
		http.Error(w, err.Error(), triggerStatus(err))
		return
	}
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	ctrl := s.Controller()
	writeJSON(w, http.StatusOK, NewState(ctrl.Packages(), ctrl.Snapshot()))
}

type periodRequest struct {
	Period string `json:"period"`
}

func (s *Server) handleAPIPeriod(w http.ResponseWriter, r *http.Request) {
	var req periodRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}

	ctrl := s.Controller()
	if err := ctrl.SetPeriod(config.PeriodKey(req.Period)); err != nil {
		writeError(w, triggerStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, NewState(ctrl.Packages(), ctrl.Snapshot()))
}

func (s *Server) handleAPIRefresh(w http.ResponseWriter, r *http.Request) {
	ctrl := s.Controller()
	if err := ctrl.Refresh(); err != nil {
		writeError(w, triggerStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, NewState(ctrl.Packages(), ctrl.Snapshot()))
}

// historyResponse is the /api/history body. LastCommitted may be older than
// every entry in Cycles when limit is small.
type historyResponse struct {
	Cycles        []*store.Cycle `json:"cycles"`
	Counts        map[string]int `json:"counts"`
	LastCommitted *store.Cycle   `json:"lastCommitted"`
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeError(w, http.StatusNotFound, "history is disabled")
		return
	}

	limit := defaultHistoryLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid limit %q", v))
			return
		}
		limit = min(n, maxHistoryLimit)
	}

	cycles, err := s.history.Recent(limit)
	if err != nil {
		s.log.Error("failed to read history", "err", err)
		writeError(w, http.StatusInternalServerError, "failed to read history")
		return
	}
	if cycles == nil {
		cycles = []*store.Cycle{}
	}
	counts, err := s.history.Counts()
	if err != nil {
		s.log.Error("failed to count history", "err", err)
		writeError(w, http.StatusInternalServerError, "failed to read history")
		return
	}
	last, err := s.history.LastCommitted()
	if err != nil {
		s.log.Error("failed to read last commit", "err", err)
		writeError(w, http.StatusInternalServerError, "failed to read history")
		return
	}
	writeJSON(w, http.StatusOK, historyResponse{Cycles: cycles, Counts: counts, LastCommitted: last})
}

// triggerStatus maps controller trigger errors to HTTP status codes.
func triggerStatus(err error) int {
	switch {
	case errors.Is(err, dashboard.ErrUnknownPeriod):
		return http.StatusBadRequest
	case errors.Is(err, dashboard.ErrClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, "failed to encode", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(data)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/blackwell-systems/npmdash/internal/dashboard"
	"github.com/blackwell-systems/npmdash/internal/logging"
	"github.com/blackwell-systems/npmdash/internal/store"
)

const shutdownTimeout = 5 * time.Second

// Options configures a Server. Every field is optional.
type Options struct {
	// History backs /api/history. Without it the endpoint answers 404.
	History *store.History
	// Metrics backs /metrics and counts websocket subscribers.
	Metrics *Metrics
	Logger  *slog.Logger
}

// Server serves one controller at a time over HTTP.
type Server struct {
	history *store.History
	metrics *Metrics
	log     *slog.Logger
	page    *template.Template
	hub     *Hub
	mux     *http.ServeMux

	mu   sync.RWMutex
	ctrl *dashboard.Controller

	bridges sync.WaitGroup
}

// New creates a Server for ctrl. The controller is not started; call
// ctrl.Start once the server is in place so the first load is pushed to
// subscribers.
func New(ctrl *dashboard.Controller, opts Options) (*Server, error) {
	if ctrl == nil {
		return nil, fmt.Errorf("controller cannot be nil")
	}
	page, err := parsePage()
	if err != nil {
		return nil, fmt.Errorf("failed to parse page template: %w", err)
	}

	log := opts.Logger
	if log == nil {
		log = logging.Discard()
	}

	s := &Server{
		history: opts.History,
		metrics: opts.Metrics,
		log:     log.With("component", "server"),
		page:    page,
		ctrl:    ctrl,
	}
	s.hub = NewHub(s.stateJSON, s.log)
	if s.metrics != nil {
		s.hub.onCount = s.metrics.setSubscribers
	}
	s.mux = s.routes()
	s.bridge(ctrl)
	return s, nil
}

// Controller returns the controller currently being served.
func (s *Server) Controller() *dashboard.Controller {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ctrl
}

// Swap replaces the served controller and closes the old one. As with New,
// the caller starts the new controller afterwards.
func (s *Server) Swap(ctrl *dashboard.Controller) {
	s.mu.Lock()
	old := s.ctrl
	s.ctrl = ctrl
	s.mu.Unlock()

	s.bridge(ctrl)
	old.Close()
	s.hub.Broadcast()
	s.log.Info("controller replaced", "packages", len(ctrl.Packages()))
}

// Refresh refreshes the current controller. It lets a Server be driven by
// a watcher.Watcher across swaps.
func (s *Server) Refresh() error {
	return s.Controller().Refresh()
}

// bridge forwards controller change signals to the websocket hub until
// the controller is closed.
func (s *Server) bridge(ctrl *dashboard.Controller) {
	ch, _ := ctrl.Subscribe()
	s.bridges.Add(1)
	go func() {
		defer s.bridges.Done()
		for range ch {
			s.hub.Broadcast()
		}
	}()
}

func (s *Server) stateJSON() ([]byte, error) {
	ctrl := s.Controller()
	return json.Marshal(stateMessage{
		Type:  "state",
		State: NewState(ctrl.Packages(), ctrl.Snapshot()),
	})
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("failed to serve on %s: %w", addr, err)
	case <-ctx.Done():
	}

	s.hub.Close()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Close disconnects subscribers and closes the current controller.
func (s *Server) Close() {
	s.hub.Close()
	s.Controller().Close()
	s.bridges.Wait()
}

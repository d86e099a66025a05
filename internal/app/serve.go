package app

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/blackwell-systems/npmdash/internal/config"
	"github.com/blackwell-systems/npmdash/internal/dashboard"
	"github.com/blackwell-systems/npmdash/internal/server"
	"github.com/blackwell-systems/npmdash/internal/store"
	"github.com/blackwell-systems/npmdash/internal/watcher"
)

var (
	serveAddr            string
	servePeriod          string
	serveRefreshInterval time.Duration
	serveWatchConfig     bool
	serveHistory         int

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Serve the dashboard over HTTP",
		Long: `Serve an HTML dashboard, a JSON API and a websocket feed of the
download counts.

Endpoints:
  GET  /              dashboard page
  GET  /api/state     current view state
  POST /api/period    select a period: {"period":"last-month"}
  POST /api/refresh   refresh the current period
  GET  /api/history   recent fetch cycles (?limit=N)
  GET  /ws            websocket, pushes the state on every change
  GET  /metrics       prometheus metrics

The cycle history is kept in memory and lost on exit.

With --watch-config the config file is watched and the package list is
reloaded when it changes. The selected period is kept across reloads.`,
		Example: `  # Serve on :8080
  npmdash serve

  # Refresh every 15 minutes and reload on config edits
  npmdash serve --refresh-interval 15m --watch-config

  # Bind to localhost only
  npmdash serve --addr 127.0.0.1:9000`,
		RunE: runServe,
	}
)

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", ":8080", "listen address")
	serveCmd.Flags().StringVar(&servePeriod, "period", "", "initial period (default from config)")
	serveCmd.Flags().DurationVar(&serveRefreshInterval, "refresh-interval", 0, "auto-refresh interval, e.g. 15m (0 disables)")
	serveCmd.Flags().BoolVar(&serveWatchConfig, "watch-config", false, "reload the package list when the config file changes")
	serveCmd.Flags().IntVar(&serveHistory, "history", store.DefaultHistoryLimit, "number of fetch cycles kept for /api/history")
}

// dashboardFactory builds controllers that share the process-wide history
// and metrics.
type dashboardFactory struct {
	history *store.History
	metrics *server.Metrics
	log     *slog.Logger
}

func (f *dashboardFactory) build(cfg config.Config, period config.PeriodKey) *dashboard.Controller {
	fetcher := f.metrics.InstrumentFetcher(newRegistryClient(cfg, f.log))
	return newController(cfg, fetcher, period, f.log, f.history, f.metrics)
}

func runServe(cmd *cobra.Command, args []string) error {
	if serveRefreshInterval < 0 {
		return fmt.Errorf("invalid refresh interval: %v (must not be negative)", serveRefreshInterval)
	}

	path, err := getConfigPath()
	if err != nil {
		return err
	}
	cfg, err := loadConfig(path)
	if err != nil {
		return err
	}
	period, err := resolvePeriod(servePeriod, cfg)
	if err != nil {
		return err
	}
	log, err := newLogger(cmd.ErrOrStderr())
	if err != nil {
		return err
	}

	st, err := store.Open()
	if err != nil {
		return fmt.Errorf("failed to open history store: %w", err)
	}
	defer st.Close()

	factory := &dashboardFactory{
		history: store.NewHistory(st, serveHistory, log.With("component", "history")),
		metrics: server.NewMetrics(),
		log:     log,
	}

	srv, err := server.New(factory.build(cfg, period), server.Options{
		History: factory.history,
		Metrics: factory.metrics,
		Logger:  log,
	})
	if err != nil {
		return err
	}
	defer srv.Close()

	if err := srv.Controller().Start(); err != nil {
		return fmt.Errorf("failed to start fetch: %w", err)
	}

	if serveRefreshInterval > 0 {
		w, err := watcher.New(srv, serveRefreshInterval, log)
		if err != nil {
			return fmt.Errorf("failed to create refresher: %w", err)
		}
		if err := w.Start(); err != nil {
			return fmt.Errorf("failed to start refresher: %w", err)
		}
		defer w.Stop()
	}

	if serveWatchConfig {
		cw, err := watcher.NewConfigWatcher(path, 0, func() {
			reloadConfig(srv, factory, path, log)
		}, log)
		if err != nil {
			return fmt.Errorf("failed to create config watcher: %w", err)
		}
		if err := cw.Start(); err != nil {
			return fmt.Errorf("failed to watch config: %w", err)
		}
		defer cw.Stop()
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fmt.Fprintf(cmd.OutOrStdout(), "Serving npm download stats on http://%s (Ctrl+C to stop)\n", displayAddr(serveAddr))
	return srv.ListenAndServe(ctx, serveAddr)
}

// reloadConfig swaps in a controller built from the file at path. An
// invalid file is logged and the running dashboard is left alone.
func reloadConfig(srv *server.Server, factory *dashboardFactory, path string, log *slog.Logger) {
	cfg, err := loadConfig(path)
	if err != nil {
		log.Warn("config reload failed, keeping current packages", "path", path, "err", err)
		return
	}

	period := srv.Controller().Snapshot().Period
	next := factory.build(cfg, period)
	srv.Swap(next)
	if err := next.Start(); err != nil {
		log.Error("failed to start reloaded dashboard", "err", err)
		return
	}
	log.Info("config reloaded", "path", path, "packages", len(cfg.Packages), "period", period)
}

// displayAddr turns ":8080" into "localhost:8080" for the startup banner.
func displayAddr(addr string) string {
	if strings.HasPrefix(addr, ":") {
		return "localhost" + addr
	}
	return addr
}

package app

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/blackwell-systems/npmdash/internal/config"
	"github.com/blackwell-systems/npmdash/internal/dashboard"
	"github.com/blackwell-systems/npmdash/internal/logging"
	"github.com/blackwell-systems/npmdash/internal/registry"
)

// getConfigPath returns the config path, using the flag value or default
func getConfigPath() (string, error) {
	if configPath != "" {
		return configPath, nil
	}
	path, err := config.DefaultPath()
	if err != nil {
		return "", fmt.Errorf("failed to resolve config path: %w", err)
	}
	return path, nil
}

// loadConfig loads the config file at path and applies flag overrides.
func loadConfig(path string) (config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return config.Config{}, fmt.Errorf("failed to load config %s: %w", path, err)
	}
	if registryURL != "" {
		cfg.RegistryURL = strings.TrimRight(registryURL, "/")
	}
	return cfg, nil
}

// newLogger builds the process logger from --log-level.
func newLogger(w io.Writer) (*slog.Logger, error) {
	level, err := logging.ParseLevel(logLevel)
	if err != nil {
		return nil, err
	}
	return logging.New(w, level), nil
}

// resolvePeriod picks the --period flag if set, else the configured default.
func resolvePeriod(flag string, cfg config.Config) (config.PeriodKey, error) {
	if flag == "" {
		return cfg.DefaultPeriod, nil
	}
	return config.ParsePeriod(flag)
}

func newRegistryClient(cfg config.Config, log *slog.Logger) *registry.Client {
	opts := registry.DefaultOptions()
	opts.BaseURL = cfg.RegistryURL
	opts.UserAgent = "npmdash/" + Version
	opts.Logger = log.With("component", "registry")
	return registry.NewClient(opts)
}

// newController wires a controller for cfg. The caller starts and closes it.
func newController(cfg config.Config, fetcher dashboard.Fetcher, period config.PeriodKey, log *slog.Logger, observers ...dashboard.CycleObserver) *dashboard.Controller {
	opts := []dashboard.Option{
		dashboard.WithPeriod(period),
		dashboard.WithLogger(log.With("component", "dashboard")),
	}
	for _, o := range observers {
		opts = append(opts, dashboard.WithObserver(o))
	}
	return dashboard.New(cfg.Packages, fetcher, opts...)
}

// Package config provides configuration loading for npmdash: the tracked
// package list, the selectable periods and the registry location.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// DefaultRegistryURL is the public npm download statistics host.
const DefaultRegistryURL = "https://api.npmjs.org"

// ErrNoPackages is returned when a config leaves nothing to track.
var ErrNoPackages = errors.New("config: no packages to track")

// Config holds everything npmdash needs at process start.
type Config struct {
	RegistryURL   string           `yaml:"registry_url"`
	DefaultPeriod PeriodKey        `yaml:"default_period"`
	Packages      []TrackedPackage `yaml:"packages"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		RegistryURL:   DefaultRegistryURL,
		DefaultPeriod: DefaultPeriod,
		Packages:      DefaultPackages(),
	}
}

// Dir returns the npmdash config directory, respecting XDG_CONFIG_HOME.
// Defaults to ~/.config/npmdash if XDG_CONFIG_HOME is not set.
func Dir() (string, error) {
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		base = filepath.Join(home, ".config")
	}
	return filepath.Join(base, "npmdash"), nil
}

// DefaultPath returns {Dir}/config.yaml.
func DefaultPath() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}

// Load reads the YAML config at path and layers it over Default. A missing
// file yields the defaults without an error.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return Config{}, fmt.Errorf("read config file: %w", err)
	}

	var fc Config
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return Config{}, fmt.Errorf("parse config file: %w", err)
	}

	if fc.RegistryURL != "" {
		cfg.RegistryURL = strings.TrimRight(fc.RegistryURL, "/")
	}
	if fc.DefaultPeriod != "" {
		cfg.DefaultPeriod = fc.DefaultPeriod
	}
	if fc.Packages != nil {
		cfg.Packages = normalizePackages(fc.Packages)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the package list and default period.
func (c Config) Validate() error {
	if _, ok := LookupPeriod(c.DefaultPeriod); !ok {
		return fmt.Errorf("config: default_period: %w: %q", ErrUnknownPeriod, c.DefaultPeriod)
	}
	if len(c.Packages) == 0 {
		return ErrNoPackages
	}

	seen := make(map[string]bool, len(c.Packages))
	for i, pkg := range c.Packages {
		if pkg.Name == "" {
			return fmt.Errorf("config: packages[%d]: name is required", i)
		}
		if seen[pkg.Name] {
			return fmt.Errorf("config: packages[%d]: duplicate package %q", i, pkg.Name)
		}
		seen[pkg.Name] = true
	}
	return nil
}

// normalizePackages trims names and fills in display names and homepages.
func normalizePackages(in []TrackedPackage) []TrackedPackage {
	out := make([]TrackedPackage, len(in))
	for i, pkg := range in {
		pkg.Name = strings.TrimSpace(pkg.Name)
		pkg.DisplayName = strings.TrimSpace(pkg.DisplayName)
		if pkg.DisplayName == "" {
			pkg.DisplayName = pkg.Name
		}
		if pkg.Homepage == "" && pkg.Name != "" {
			pkg.Homepage = NpmPackageURL(pkg.Name)
		}
		out[i] = pkg
	}
	return out
}

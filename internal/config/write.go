package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

const fileHeader = `# npmdash configuration
#
# registry_url:   statistics host
# default_period: last-day, last-week, last-month or last-year
# packages:       name is required; display_name and homepage are optional
`

// WriteFile writes cfg as YAML to path, creating parent directories. An
// existing file is left alone unless overwrite is set.
// Returns written=false when the file already existed and was kept.
func WriteFile(path string, cfg Config, overwrite bool) (written bool, err error) {
	if err := cfg.Validate(); err != nil {
		return false, err
	}

	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return false, nil
		} else if !os.IsNotExist(err) {
			return false, fmt.Errorf("cannot stat config file %s: %w", path, err)
		}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return false, fmt.Errorf("cannot create config directory %s: %w", filepath.Dir(path), err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return false, fmt.Errorf("cannot encode config: %w", err)
	}

	if err := os.WriteFile(path, append([]byte(fileHeader), data...), 0644); err != nil {
		return false, fmt.Errorf("cannot write config file %s: %w", path, err)
	}
	return true, nil
}

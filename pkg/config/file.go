package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// ApplyFile overlays values from a YAML file onto cfg. Keys missing from the
// file keep the value already loaded from the environment.
func ApplyFile(cfg *APIConfig, path string) error {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

// LoadAPIConfigWithFile loads the environment configuration and then applies
// the overlay named by CONFIG_FILE, if any.
func LoadAPIConfigWithFile() (APIConfig, error) {
	cfg := LoadAPIConfig()
	if err := ApplyFile(&cfg, GetString("CONFIG_FILE", "")); err != nil {
		return cfg, err
	}
	return cfg, nil
}

package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Environment variables naming each daemon's config file.
const (
	DaemonConfigEnv   = "BOUNCER_CONFIG_PATH"
	ObserverConfigEnv = "OBSERVER_CONFIG_PATH"
)

// Config file basenames used for the home/cwd fallbacks.
const (
	daemonConfigName   = "bouncerd.yaml"
	observerConfigName = "observer.yaml"
)

// ResolvePath determines which config file to read. Resolution order:
// positional argument, the named environment variable, $HOME/<name>, then
// ./<name>. Returns "" when no candidate exists; callers then run on
// defaults.
func ResolvePath(positional, envVar, name string) string {
	if positional != "" {
		return positional
	}
	if v := os.Getenv(envVar); v != "" {
		return v
	}
	if home, err := os.UserHomeDir(); err == nil {
		p := filepath.Join(home, name)
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	if _, err := os.Stat(name); err == nil {
		return name
	}
	return ""
}

// LoadDaemon reads the bouncerd configuration. An empty path or a missing
// file yields the defaults; a present but malformed file is an error.
func LoadDaemon(path string) (DaemonConfig, error) {
	cfg := DefaultDaemon()
	if err := loadInto(path, &cfg); err != nil {
		return cfg, err
	}
	cfg = applyDaemonEnv(cfg)
	return cfg, nil
}

// LoadObserver reads the bounce-observer configuration with the same
// missing-file semantics as LoadDaemon.
func LoadObserver(path string) (ObserverConfig, error) {
	cfg := DefaultObserver()
	if err := loadInto(path, &cfg); err != nil {
		return cfg, err
	}
	cfg = applyObserverEnv(cfg)
	return cfg, nil
}

// loadInto unmarshals the YAML file at path over the defaults already in v.
func loadInto(path string, v any) error {
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading config file: %w", err)
	}
	if err := yaml.Unmarshal(data, v); err != nil {
		return fmt.Errorf("parsing config file %s: %w", path, err)
	}
	return nil
}

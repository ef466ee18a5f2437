package main

import (
	"fmt"
	"os"
	"path/filepath"

	"vigil/pkg/protocol"
)

// Paths holds all resolved vigil state file paths.
// Use ResolvePaths() to populate this struct with defaults + env overrides.
type Paths struct {
	Home        string // ~/.vigil or VIGIL_HOME
	PIDPath     string // vigil.pid or VIGIL_PID_PATH
	StateDBPath string // state.db or VIGIL_DB_PATH
	ConfigPath  string // config.toml or VIGIL_CONFIG
}

// ResolvePaths returns all vigil paths, respecting env var overrides.
// Environment variables:
//   - VIGIL_HOME: base directory for all vigil state (default: ~/.vigil)
//   - VIGIL_PID_PATH: daemon PID file (default: $VIGIL_HOME/vigil.pid)
//   - VIGIL_DB_PATH: state database (default: $VIGIL_HOME/state.db)
//   - VIGIL_CONFIG: configuration file (default: $VIGIL_HOME/config.toml)
//
// If VIGIL_HOME is set, it becomes the base for all default paths.
// Specific env vars override both the default and the VIGIL_HOME base.
func ResolvePaths() (*Paths, error) {
	home, err := resolveVigilHome()
	if err != nil {
		return nil, err
	}

	return &Paths{
		Home:        home,
		PIDPath:     resolvePathWithEnv("VIGIL_PID_PATH", home, protocol.PIDFile),
		StateDBPath: resolvePathWithEnv("VIGIL_DB_PATH", home, protocol.StateDBFile),
		ConfigPath:  resolvePathWithEnv("VIGIL_CONFIG", home, protocol.ConfigFile),
	}, nil
}

// EnsureHome creates the directories holding the PID file and the state
// database.
func (p *Paths) EnsureHome() error {
	for _, dir := range []string{p.Home, filepath.Dir(p.PIDPath), filepath.Dir(p.StateDBPath)} {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}
	return nil
}

// resolveVigilHome returns the vigil home directory from VIGIL_HOME or ~/.vigil.
func resolveVigilHome() (string, error) {
	if v := os.Getenv("VIGIL_HOME"); v != "" {
		return v, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home dir: %w", err)
	}
	return filepath.Join(home, protocol.VigilDir), nil
}

// resolvePathWithEnv returns the path from envKey if set, otherwise joins base + suffix.
func resolvePathWithEnv(envKey, base, suffix string) string {
	if v := os.Getenv(envKey); v != "" {
		return v
	}
	return filepath.Join(base, suffix)
}

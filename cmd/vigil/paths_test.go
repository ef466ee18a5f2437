package main

import (
	"os"
	"path/filepath"
	"testing"

	"vigil/pkg/protocol"
)

func clearPathEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{"VIGIL_HOME", "VIGIL_PID_PATH", "VIGIL_DB_PATH", "VIGIL_CONFIG"} {
		t.Setenv(k, "")
	}
}

func TestResolvePaths_Defaults(t *testing.T) {
	clearPathEnv(t)

	home, err := os.UserHomeDir()
	if err != nil {
		t.Fatalf("get home dir: %v", err)
	}

	paths, err := ResolvePaths()
	if err != nil {
		t.Fatalf("ResolvePaths() error: %v", err)
	}

	base := filepath.Join(home, protocol.VigilDir)
	checks := map[string][2]string{
		"Home":        {paths.Home, base},
		"PIDPath":     {paths.PIDPath, filepath.Join(base, "vigil.pid")},
		"StateDBPath": {paths.StateDBPath, filepath.Join(base, "state.db")},
		"ConfigPath":  {paths.ConfigPath, filepath.Join(base, "config.toml")},
	}
	for name, c := range checks {
		if c[0] != c[1] {
			t.Errorf("%s = %q, want %q", name, c[0], c[1])
		}
	}
}

func TestResolvePaths_HomeOverride(t *testing.T) {
	clearPathEnv(t)
	custom := filepath.Join(t.TempDir(), "custom-vigil")
	t.Setenv("VIGIL_HOME", custom)

	paths, err := ResolvePaths()
	if err != nil {
		t.Fatalf("ResolvePaths() error: %v", err)
	}
	if paths.Home != custom {
		t.Errorf("Home = %q, want %q", paths.Home, custom)
	}
	if paths.StateDBPath != filepath.Join(custom, "state.db") {
		t.Errorf("StateDBPath = %q, want it under VIGIL_HOME", paths.StateDBPath)
	}
}

func TestResolvePaths_SpecificOverridesWin(t *testing.T) {
	clearPathEnv(t)
	tmp := t.TempDir()
	t.Setenv("VIGIL_HOME", filepath.Join(tmp, "home"))
	t.Setenv("VIGIL_PID_PATH", filepath.Join(tmp, "custom.pid"))
	t.Setenv("VIGIL_DB_PATH", filepath.Join(tmp, "custom.db"))
	t.Setenv("VIGIL_CONFIG", filepath.Join(tmp, "custom.yaml"))

	paths, err := ResolvePaths()
	if err != nil {
		t.Fatalf("ResolvePaths() error: %v", err)
	}
	if paths.PIDPath != filepath.Join(tmp, "custom.pid") {
		t.Errorf("PIDPath = %q", paths.PIDPath)
	}
	if paths.StateDBPath != filepath.Join(tmp, "custom.db") {
		t.Errorf("StateDBPath = %q", paths.StateDBPath)
	}
	if paths.ConfigPath != filepath.Join(tmp, "custom.yaml") {
		t.Errorf("ConfigPath = %q", paths.ConfigPath)
	}
}

func TestEnsureHome_CreatesDirectories(t *testing.T) {
	clearPathEnv(t)
	tmp := t.TempDir()
	t.Setenv("VIGIL_HOME", filepath.Join(tmp, "home"))
	t.Setenv("VIGIL_DB_PATH", filepath.Join(tmp, "db", "state.db"))

	paths, err := ResolvePaths()
	if err != nil {
		t.Fatalf("ResolvePaths() error: %v", err)
	}
	if err := paths.EnsureHome(); err != nil {
		t.Fatalf("EnsureHome() error: %v", err)
	}
	for _, dir := range []string{paths.Home, filepath.Join(tmp, "db")} {
		if info, err := os.Stat(dir); err != nil || !info.IsDir() {
			t.Errorf("expected directory %s, stat err = %v", dir, err)
		}
	}
}

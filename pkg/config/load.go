package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"vigil/pkg/protocol"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Environment overrides applied after the file is decoded.
const (
	EnvKBRoot        = "VIGIL_KB_ROOT"
	EnvMinConfidence = "VIGIL_MIN_CONFIDENCE"
)

// Load reads the configuration at path. A missing file is not an error when
// required is false: defaults apply. Credentials are picked up from a .env
// file in the working directory (if present) before env overrides run.
// Every failure is returned as a *protocol.ConfigurationError.
func Load(path string, required bool) (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}

	data, err := os.ReadFile(path) //nolint:gosec // config path is chosen by the operator
	switch {
	case err == nil:
		if err := decode(path, data, cfg); err != nil {
			return nil, err
		}
	case errors.Is(err, os.ErrNotExist) && !required:
		// Defaults only.
	default:
		return nil, &protocol.ConfigurationError{Field: "config", Reason: err.Error()}
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// decode picks the format from the file extension. Unknown keys are rejected
// so typos surface at startup instead of silently using defaults.
func decode(path string, data []byte, cfg *Config) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
			return &protocol.ConfigurationError{Field: "config", Reason: fmt.Sprintf("parse %s: %v", path, err)}
		}
	case ".toml", "":
		dec := toml.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(cfg); err != nil {
			return &protocol.ConfigurationError{Field: "config", Reason: fmt.Sprintf("parse %s: %v", path, err)}
		}
	default:
		return &protocol.ConfigurationError{Field: "config", Reason: fmt.Sprintf("unsupported config format %q", filepath.Ext(path))}
	}
	return nil
}

func applyEnv(cfg *Config) error {
	if v := os.Getenv(EnvKBRoot); v != "" {
		cfg.KBRoot = v
	}
	if v := os.Getenv(EnvMinConfidence); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return &protocol.ConfigurationError{Field: EnvMinConfidence, Reason: err.Error()}
		}
		cfg.Evaluator.MinConfidenceToAct = f
	}
	return nil
}

// Validate checks ranges, paths, glob syntax and credentials.
func (c *Config) Validate() error {
	if err := requireDir("kb_root", c.KBRoot); err != nil {
		return err
	}
	for i, p := range c.Watch.Paths {
		if err := requireDir(fmt.Sprintf("watch.paths[%d]", i), p); err != nil {
			return err
		}
	}
	if err := validatePatterns("watch.ignore", c.Watch.Ignore); err != nil {
		return err
	}
	if err := validatePatterns("executor.allow", c.Executor.Allow); err != nil {
		return err
	}
	if err := validatePatterns("executor.deny", c.Executor.Deny); err != nil {
		return err
	}

	switch {
	case c.Workspace.Capacity < 1:
		return invalid("workspace.capacity", "must be at least 1")
	case c.Workspace.DecayRate <= 0 || c.Workspace.DecayRate > 1:
		return invalid("workspace.decay_rate", "must be in (0, 1]")
	case c.SalienceFloor() < 0 || c.SalienceFloor() >= 1:
		return invalid("workspace.salience_floor", "must be in [0, 1)")
	case c.Health.RetryCount < 1:
		return invalid("health.retry_count", "must be at least 1")
	case c.Health.ProbeTimeout.D() <= 0 || c.Health.Interval.D() <= 0:
		return invalid("health", "interval and probe_timeout must be positive")
	case c.Health.ProbeTimeout.D() >= c.Health.Interval.D():
		return invalid("health.probe_timeout", "must be shorter than health.interval")
	case c.Evaluator.MinConfidenceToAct < 0 || c.Evaluator.MinConfidenceToAct > 1:
		return invalid("evaluator.min_confidence_to_act", "must be in [0, 1]")
	case c.DeferBand() < 0 || c.DeferBand() > c.Evaluator.MinConfidenceToAct:
		return invalid("evaluator.defer_band", "must be in [0, min_confidence_to_act]")
	case c.Evaluator.MaxConcurrentTasks < 1:
		return invalid("evaluator.max_concurrent_tasks", "must be at least 1")
	case c.Executor.Timeout.D() <= 0:
		return invalid("executor.timeout", "must be positive")
	case c.CycleInterval.D() <= 0:
		return invalid("cycle_interval", "must be positive")
	case c.Calibration.MinThreshold > c.Calibration.MaxThreshold:
		return invalid("calibration", "min_threshold exceeds max_threshold")
	case c.Calibration.Step <= 0 || c.Calibration.Step > 0.1:
		return invalid("calibration.step", "must be in (0, 0.1]")
	}

	for _, k := range c.Executor.DegradedKinds {
		if !protocol.ActionKind(k).Valid() {
			return invalid("executor.degraded_kinds", fmt.Sprintf("unknown action kind %q", k))
		}
	}

	return c.validateBackends()
}

func (c *Config) validateBackends() error {
	slots := []struct {
		name  string
		b     BackendConfig
		kinds []string
	}{
		{"backends.primary", c.Backends.Primary, []string{KindOllama, KindGemini, KindStatic}},
		{"backends.secondary", c.Backends.Secondary, []string{KindOllama, KindGemini, KindStatic, KindNone}},
		{"backends.direct", c.Backends.Direct, []string{KindDirect}},
		{"backends.delegate", c.Backends.Delegate, []string{KindClaude, KindDirect}},
	}
	seen := make(map[string]string)
	for _, s := range slots {
		if !contains(s.kinds, s.b.Kind) {
			return invalid(s.name+".kind", fmt.Sprintf("%q not one of %s", s.b.Kind, strings.Join(s.kinds, ", ")))
		}
		if !s.b.Enabled() {
			continue
		}
		if other, dup := seen[s.b.ID]; dup {
			return invalid(s.name+".id", fmt.Sprintf("%q already used by %s", s.b.ID, other))
		}
		seen[s.b.ID] = s.name
		if s.b.Kind == KindOllama && s.b.URL == "" {
			return invalid(s.name+".url", "required for ollama backends")
		}
		if s.b.Kind == KindGemini && os.Getenv(s.b.APIKeyEnv) == "" {
			return invalid(s.name+".api_key_env", fmt.Sprintf("credential %s is not set", s.b.APIKeyEnv))
		}
	}
	return nil
}

func requireDir(field, path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return invalid(field, err.Error())
	}
	if !info.IsDir() {
		return invalid(field, fmt.Sprintf("%s is not a directory", path))
	}
	return nil
}

func validatePatterns(field string, patterns []string) error {
	for _, p := range patterns {
		if !doublestar.ValidatePattern(p) {
			return invalid(field, fmt.Sprintf("bad pattern %q", p))
		}
	}
	return nil
}

func invalid(field, reason string) error {
	return &protocol.ConfigurationError{Field: field, Reason: reason}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

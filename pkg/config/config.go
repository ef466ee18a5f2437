// Package config loads and validates the vigil daemon configuration.
//
// Configuration is declarative: a TOML or YAML file (chosen by extension),
// a .env file for credentials, and a handful of environment overrides.
// Every knob has a default, so an empty file is a valid configuration as
// long as the referenced paths exist.
package config

import (
	"time"
)

// Config holds all vigil configuration.
type Config struct {
	// KBRoot is the knowledge-base root actions are confined to.
	KBRoot string `toml:"kb_root" yaml:"kb_root"`

	// CycleInterval drives the OIDA loop.
	CycleInterval Duration `toml:"cycle_interval" yaml:"cycle_interval"`

	Watch       WatchConfig       `toml:"watch" yaml:"watch"`
	Workspace   WorkspaceConfig   `toml:"workspace" yaml:"workspace"`
	Health      HealthConfig      `toml:"health" yaml:"health"`
	Mode        ModeConfig        `toml:"mode" yaml:"mode"`
	Reasoner    ReasonerConfig    `toml:"reasoner" yaml:"reasoner"`
	Evaluator   EvaluatorConfig   `toml:"evaluator" yaml:"evaluator"`
	Executor    ExecutorConfig    `toml:"executor" yaml:"executor"`
	Calibration CalibrationConfig `toml:"calibration" yaml:"calibration"`
	Backends    BackendsConfig    `toml:"backends" yaml:"backends"`
	Logging     LoggingConfig     `toml:"logging" yaml:"logging"`
}

// WatchConfig configures the change observer.
type WatchConfig struct {
	Paths           []string `toml:"paths" yaml:"paths"`
	Ignore          []string `toml:"ignore" yaml:"ignore"`
	Debounce        Duration `toml:"debounce" yaml:"debounce"`
	VCSPollInterval Duration `toml:"vcs_poll_interval" yaml:"vcs_poll_interval"`
}

// WorkspaceConfig configures the attention workspace.
type WorkspaceConfig struct {
	Capacity  int     `toml:"capacity" yaml:"capacity"`
	DecayRate float64 `toml:"decay_rate" yaml:"decay_rate"`

	// SalienceFloor is a pointer so an explicit 0 (never prune) survives
	// defaulting.
	SalienceFloor *float64 `toml:"salience_floor" yaml:"salience_floor"`
}

// HealthConfig configures backend probing.
type HealthConfig struct {
	Interval     Duration `toml:"interval" yaml:"interval"`
	ProbeTimeout Duration `toml:"probe_timeout" yaml:"probe_timeout"`
	RetryCount   int      `toml:"retry_count" yaml:"retry_count"`
}

// ModeConfig configures the mode controller.
type ModeConfig struct {
	// PreferPrimary returns to PRIMARY as soon as it recovers. Pointer so an
	// explicit false survives defaulting.
	PreferPrimary *bool `toml:"prefer_primary" yaml:"prefer_primary"`
}

// ReasonerConfig holds per-mode inference timeouts.
type ReasonerConfig struct {
	PrimaryTimeout  Duration `toml:"primary_timeout" yaml:"primary_timeout"`
	FallbackTimeout Duration `toml:"fallback_timeout" yaml:"fallback_timeout"`
	MaxAttempts     int      `toml:"max_attempts" yaml:"max_attempts"`
}

// EvaluatorConfig configures the decision gate.
type EvaluatorConfig struct {
	MinConfidenceToAct float64  `toml:"min_confidence_to_act" yaml:"min_confidence_to_act"`
	DeferBand          *float64 `toml:"defer_band" yaml:"defer_band"` // explicit 0 disables deferral
	DeferWindow        Duration `toml:"defer_window" yaml:"defer_window"`
	DeferMemory        int      `toml:"defer_memory" yaml:"defer_memory"`
	MaxConcurrentTasks int      `toml:"max_concurrent_tasks" yaml:"max_concurrent_tasks"`
}

// ExecutorConfig configures the safety policy and dispatch timeout.
type ExecutorConfig struct {
	Timeout       Duration `toml:"timeout" yaml:"timeout"`
	Allow         []string `toml:"allow" yaml:"allow"`
	Deny          []string `toml:"deny" yaml:"deny"`
	DegradedKinds []string `toml:"degraded_kinds" yaml:"degraded_kinds"`
}

// CalibrationConfig configures the outcome tracker's threshold suggestions.
type CalibrationConfig struct {
	Every           int     `toml:"every" yaml:"every"`
	Window          int     `toml:"window" yaml:"window"`
	Step            float64 `toml:"step" yaml:"step"`
	TargetPrecision float64 `toml:"target_precision" yaml:"target_precision"`
	MinThreshold    float64 `toml:"min_threshold" yaml:"min_threshold"`
	MaxThreshold    float64 `toml:"max_threshold" yaml:"max_threshold"`
	Retention       int     `toml:"retention" yaml:"retention"`
}

// BackendsConfig names the four backend slots.
type BackendsConfig struct {
	Primary   BackendConfig `toml:"primary" yaml:"primary"`
	Secondary BackendConfig `toml:"secondary" yaml:"secondary"`
	Direct    BackendConfig `toml:"direct" yaml:"direct"`
	Delegate  BackendConfig `toml:"delegate" yaml:"delegate"`
}

// Backend kinds understood by the factory in cmd/vigil.
const (
	KindOllama = "ollama"
	KindGemini = "gemini"
	KindStatic = "static"
	KindDirect = "direct"
	KindClaude = "claude"
	KindNone   = "none"
)

// BackendConfig describes one backend.
type BackendConfig struct {
	ID        string `toml:"id" yaml:"id"`
	Kind      string `toml:"kind" yaml:"kind"`
	URL       string `toml:"url" yaml:"url"`
	Model     string `toml:"model" yaml:"model"`
	APIKeyEnv string `toml:"api_key_env" yaml:"api_key_env"`
	Binary    string `toml:"binary" yaml:"binary"`
}

// Enabled reports whether the slot is configured.
func (b BackendConfig) Enabled() bool {
	return b.Kind != "" && b.Kind != KindNone
}

// LoggingConfig configures zap.
type LoggingConfig struct {
	Level  string `toml:"level" yaml:"level"`   // debug, info, warn, error
	Format string `toml:"format" yaml:"format"` // json or console
}

// PreferPrimary returns the resolved prefer_primary flag.
func (c *Config) PreferPrimary() bool {
	return c.Mode.PreferPrimary == nil || *c.Mode.PreferPrimary
}

// Resolved defaults for the pointer fields.
const (
	defaultSalienceFloor = 0.05
	defaultDeferBand     = 0.1
)

// SalienceFloor returns the resolved workspace.salience_floor.
func (c *Config) SalienceFloor() float64 {
	if c.Workspace.SalienceFloor == nil {
		return defaultSalienceFloor
	}
	return *c.Workspace.SalienceFloor
}

// DeferBand returns the resolved evaluator.defer_band.
func (c *Config) DeferBand() float64 {
	if c.Evaluator.DeferBand == nil {
		return defaultDeferBand
	}
	return *c.Evaluator.DeferBand
}

// Default returns a configuration with every default applied.
func Default() *Config {
	c := &Config{}
	c.withDefaults()
	return c
}

// withDefaults fills zero values with their defaults in place.
func (c *Config) withDefaults() {
	if c.KBRoot == "" {
		c.KBRoot = "."
	}
	if c.CycleInterval == 0 {
		c.CycleInterval = Duration(5 * time.Second)
	}

	if len(c.Watch.Paths) == 0 {
		c.Watch.Paths = []string{c.KBRoot}
	}
	if c.Watch.Ignore == nil {
		c.Watch.Ignore = []string{".git/**", "**/.git/**", "**/*.swp", "**/*~", "**/.DS_Store", "node_modules/**"}
	}
	if c.Watch.Debounce == 0 {
		c.Watch.Debounce = Duration(500 * time.Millisecond)
	}
	if c.Watch.VCSPollInterval == 0 {
		c.Watch.VCSPollInterval = Duration(10 * time.Second)
	}

	if c.Workspace.Capacity == 0 {
		c.Workspace.Capacity = 7
	}
	if c.Workspace.DecayRate == 0 {
		c.Workspace.DecayRate = 0.9
	}

	if c.Health.Interval == 0 {
		c.Health.Interval = Duration(30 * time.Second)
	}
	if c.Health.ProbeTimeout == 0 {
		c.Health.ProbeTimeout = Duration(5 * time.Second)
	}
	if c.Health.RetryCount == 0 {
		c.Health.RetryCount = 2
	}

	if c.Reasoner.PrimaryTimeout == 0 {
		c.Reasoner.PrimaryTimeout = Duration(60 * time.Second)
	}
	if c.Reasoner.FallbackTimeout == 0 {
		c.Reasoner.FallbackTimeout = Duration(120 * time.Second)
	}
	if c.Reasoner.MaxAttempts == 0 {
		c.Reasoner.MaxAttempts = 2
	}

	if c.Evaluator.MinConfidenceToAct == 0 {
		c.Evaluator.MinConfidenceToAct = 0.7
	}
	if c.Evaluator.DeferWindow == 0 {
		c.Evaluator.DeferWindow = Duration(10 * time.Minute)
	}
	if c.Evaluator.DeferMemory == 0 {
		c.Evaluator.DeferMemory = 64
	}
	if c.Evaluator.MaxConcurrentTasks == 0 {
		c.Evaluator.MaxConcurrentTasks = 2
	}

	if c.Executor.Timeout == 0 {
		c.Executor.Timeout = Duration(300 * time.Second)
	}
	if c.Executor.Deny == nil {
		c.Executor.Deny = []string{".git/**", "**/.env", "**/*.key", "**/*.pem"}
	}
	if c.Executor.DegradedKinds == nil {
		c.Executor.DegradedKinds = []string{"noop", "query"}
	}

	if c.Calibration.Every == 0 {
		c.Calibration.Every = 20
	}
	if c.Calibration.Window == 0 {
		c.Calibration.Window = 100
	}
	if c.Calibration.Step == 0 {
		c.Calibration.Step = 0.02
	}
	if c.Calibration.TargetPrecision == 0 {
		c.Calibration.TargetPrecision = 0.8
	}
	if c.Calibration.MinThreshold == 0 {
		c.Calibration.MinThreshold = 0.5
	}
	if c.Calibration.MaxThreshold == 0 {
		c.Calibration.MaxThreshold = 0.95
	}
	if c.Calibration.Retention == 0 {
		c.Calibration.Retention = 1000
	}

	c.Backends.withDefaults()

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
}

func (b *BackendsConfig) withDefaults() {
	if b.Primary.Kind == "" {
		b.Primary.Kind = KindOllama
	}
	if b.Primary.Kind == KindOllama {
		if b.Primary.URL == "" {
			b.Primary.URL = "http://127.0.0.1:11434"
		}
		if b.Primary.Model == "" {
			b.Primary.Model = "llama3.1"
		}
	}
	if b.Primary.ID == "" {
		b.Primary.ID = "primary"
	}

	if b.Secondary.Kind == "" {
		b.Secondary.Kind = KindNone
	}
	if b.Secondary.Kind == KindGemini {
		if b.Secondary.Model == "" {
			b.Secondary.Model = "gemini-2.5-flash"
		}
		if b.Secondary.APIKeyEnv == "" {
			b.Secondary.APIKeyEnv = "GEMINI_API_KEY"
		}
	}
	if b.Secondary.ID == "" {
		b.Secondary.ID = "secondary"
	}

	if b.Direct.Kind == "" {
		b.Direct.Kind = KindDirect
	}
	if b.Direct.ID == "" {
		b.Direct.ID = "direct"
	}

	if b.Delegate.Kind == "" {
		b.Delegate.Kind = KindClaude
	}
	if b.Delegate.Kind == KindClaude {
		if b.Delegate.Binary == "" {
			b.Delegate.Binary = "claude"
		}
		if b.Delegate.Model == "" {
			b.Delegate.Model = "sonnet"
		}
	}
	if b.Delegate.ID == "" {
		b.Delegate.ID = "delegate"
	}
}

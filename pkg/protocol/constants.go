package protocol

// Directory and file constants used throughout vigil.
const (
	// VigilDir is the user-level state directory (e.g., ~/.vigil).
	VigilDir = ".vigil"

	// ConfigFile is the default configuration file name inside VigilDir.
	ConfigFile = "config.toml"

	// StateDBFile holds events, outcomes, the status snapshot and the inbox.
	StateDBFile = "state.db"

	// PIDFile is the daemon PID file name.
	PIDFile = "vigil.pid"
)

// Backend ids reported when no real backend was involved.
const (
	BackendNone     = "none"
	BackendPolicy   = "policy"
	BackendOperator = "operator"
)

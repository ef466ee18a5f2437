// Package protocol defines the data model shared by every vigil component:
// observations, workspace items, backend health, operating modes, decisions,
// actions, execution results and outcome records. Each entity has exactly one
// owning component; everything else reads immutable copies.
package protocol

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// --- Observations ---

// Source identifies where an Observation came from.
type Source string

// Observation sources.
const (
	SourceFilesystem Source = "filesystem"
	SourceVCS        Source = "vcs"
)

// Kind classifies the change an Observation describes.
type Kind string

// Observation kinds.
const (
	KindCreated   Kind = "created"
	KindModified  Kind = "modified"
	KindDeleted   Kind = "deleted"
	KindCommitted Kind = "committed"
)

// Observation is one debounced change in the watched workspace. Immutable
// once created by the observer.
type Observation struct {
	ID         string    `json:"id"`
	Timestamp  time.Time `json:"timestamp"`
	Source     Source    `json:"source"`
	Path       string    `json:"path"`
	Kind       Kind      `json:"kind"`
	RawSummary string    `json:"raw_summary,omitempty"`
}

// NewObservation stamps a fresh id onto an observation.
func NewObservation(src Source, path string, kind Kind, summary string, at time.Time) Observation {
	return Observation{
		ID:         uuid.NewString(),
		Timestamp:  at,
		Source:     src,
		Path:       path,
		Kind:       kind,
		RawSummary: summary,
	}
}

// WorkspaceItem is an Observation competing for attention. Owned exclusively
// by the workspace; the id of an item is the id of its observation.
type WorkspaceItem struct {
	Observation Observation `json:"observation"`
	Salience    float64     `json:"salience"`
	EnteredAt   time.Time   `json:"entered_at"`
	DecayRate   float64     `json:"decay_rate"`
}

// ID returns the item id (its observation id).
func (w WorkspaceItem) ID() string { return w.Observation.ID }

// --- Backend health and modes ---

// Role says what a backend is used for.
type Role string

// Backend roles.
const (
	RoleReasoner Role = "reasoner"
	RoleExecutor Role = "executor"
)

// BackendHealth is the liveness estimate for one configured backend. Written
// only by the health monitor.
type BackendHealth struct {
	BackendID           string        `json:"backend_id"`
	Role                Role          `json:"role"`
	Available           bool          `json:"available"`
	LastChecked         time.Time     `json:"last_checked"`
	ConsecutiveFailures int           `json:"consecutive_failures"`
	MeanLatency         time.Duration `json:"mean_latency"`
	LastError           string        `json:"last_error,omitempty"`
}

// Mode is the process-wide operating mode owned by the mode controller.
type Mode string

// Operating modes.
const (
	ModePrimary  Mode = "primary"
	ModeFallback Mode = "fallback"
	ModeDegraded Mode = "degraded"
)

// Valid reports whether m is one of the three known modes.
func (m Mode) Valid() bool {
	switch m {
	case ModePrimary, ModeFallback, ModeDegraded:
		return true
	default:
		return false
	}
}

// Transition records a mode change together with the health snapshot that
// triggered it.
type Transition struct {
	From     Mode            `json:"from"`
	To       Mode            `json:"to"`
	At       time.Time       `json:"at"`
	Reason   string          `json:"reason"`
	Snapshot []BackendHealth `json:"snapshot"`
}

// --- Actions and decisions ---

// ActionKind classifies what an Action asks for.
type ActionKind string

// Action kinds.
const (
	ActionMutate  ActionKind = "mutate"
	ActionQuery   ActionKind = "query"
	ActionAnalyze ActionKind = "analyze"
	ActionNoop    ActionKind = "noop"
)

// Valid reports whether k is a known action kind.
func (k ActionKind) Valid() bool {
	switch k {
	case ActionMutate, ActionQuery, ActionAnalyze, ActionNoop:
		return true
	default:
		return false
	}
}

// Action is a declarative description of what should happen. It never
// executes itself.
type Action struct {
	ID      string     `json:"id"`
	Kind    ActionKind `json:"kind"`
	Target  string     `json:"target,omitempty"`
	Payload string     `json:"payload,omitempty"`
}

// NoopAction returns an action that does nothing.
func NoopAction() Action {
	return Action{ID: uuid.NewString(), Kind: ActionNoop}
}

// Decision is a proposed Action with the confidence and rationale behind it.
// Created by the reasoner (or the operator inbox when Direct is set) and
// consumed once by the evaluator.
type Decision struct {
	ID             string    `json:"id"`
	BasedOn        []string  `json:"based_on"`
	ProposedAction Action    `json:"proposed_action"`
	Confidence     float64   `json:"confidence"`
	Rationale      string    `json:"rationale"`
	ProducedBy     string    `json:"produced_by"`
	ProducedAt     time.Time `json:"produced_at"`
	Direct         bool      `json:"direct,omitempty"`
}

// NoopDecision is the zero-confidence decision returned when reasoning fails
// or is bypassed.
func NoopDecision(basedOn []string, producedBy, rationale string, at time.Time) Decision {
	return Decision{
		ID:             uuid.NewString(),
		BasedOn:        basedOn,
		ProposedAction: NoopAction(),
		Confidence:     0,
		Rationale:      rationale,
		ProducedBy:     producedBy,
		ProducedAt:     at,
	}
}

// Verdict is the evaluator's gate outcome.
type Verdict string

// Evaluator verdicts.
const (
	VerdictExecute Verdict = "execute"
	VerdictDefer   Verdict = "defer"
	VerdictDiscard Verdict = "discard"
)

// --- Execution ---

// Status is the terminal state of a dispatched action.
type Status string

// Execution statuses.
const (
	StatusSuccess Status = "success"
	StatusFailure Status = "failure"
	StatusTimeout Status = "timeout"
)

// ExecutionResult is produced exactly once per executed action.
type ExecutionResult struct {
	ActionID   string        `json:"action_id"`
	Status     Status        `json:"status"`
	Output     string        `json:"output,omitempty"`
	ExecutedBy string        `json:"executed_by"`
	Duration   time.Duration `json:"duration"`
}

// OutcomeRecord pairs a decision with its result and the reward derived
// from it.
type OutcomeRecord struct {
	Decision Decision        `json:"decision"`
	Result   ExecutionResult `json:"result"`
	Reward   float64         `json:"reward"`
}

// Reward maps an execution status onto the calibration reward signal.
func Reward(s Status) float64 {
	switch s {
	case StatusSuccess:
		return 1
	case StatusTimeout:
		return -0.5
	default:
		return -1
	}
}

// ShortID trims an id for log lines and status tables.
func ShortID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8]
}

// DescribeAction renders an action as "kind target".
func DescribeAction(a Action) string {
	if a.Target == "" {
		return string(a.Kind)
	}
	return fmt.Sprintf("%s %s", a.Kind, a.Target)
}

package reasoner

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"vigil/pkg/protocol"
)

// PermanentError marks a failure retrying cannot fix, such as a model
// answer that does not describe a valid action.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return "permanent: " + e.Err.Error() }

func (e *PermanentError) Unwrap() error { return e.Err }

// ErrInvalidProposal is wrapped by every proposal validation failure.
var ErrInvalidProposal = errors.New("invalid proposal")

// proposalJSON is the wire shape reasoning models are asked to produce.
type proposalJSON struct {
	Action struct {
		Kind    string `json:"kind"`
		Target  string `json:"target"`
		Payload string `json:"payload"`
	} `json:"action"`
	Confidence float64 `json:"confidence"`
	Rationale  string  `json:"rationale"`
}

// ParseProposal decodes a model answer. Code fences around the JSON are
// tolerated. Every failure is a *PermanentError.
func ParseProposal(raw string) (Proposal, error) {
	raw = stripFences(raw)
	var pj proposalJSON
	if err := json.Unmarshal([]byte(raw), &pj); err != nil {
		return Proposal{}, &PermanentError{Err: fmt.Errorf("%w: decode: %v", ErrInvalidProposal, err)}
	}
	p := Proposal{
		Action: protocol.Action{
			Kind:    protocol.ActionKind(strings.ToLower(strings.TrimSpace(pj.Action.Kind))),
			Target:  strings.TrimSpace(pj.Action.Target),
			Payload: pj.Action.Payload,
		},
		Confidence: pj.Confidence,
		Rationale:  strings.TrimSpace(pj.Rationale),
	}
	if err := p.validate(); err != nil {
		return Proposal{}, err
	}
	return p, nil
}

// validate rejects proposals the evaluator could not reason about.
func (p Proposal) validate() error {
	switch {
	case !p.Action.Kind.Valid():
		return &PermanentError{Err: fmt.Errorf("%w: unknown action kind %q", ErrInvalidProposal, p.Action.Kind)}
	case !(p.Confidence >= 0 && p.Confidence <= 1): // also rejects NaN
		return &PermanentError{Err: fmt.Errorf("%w: confidence %v out of [0,1]", ErrInvalidProposal, p.Confidence)}
	case p.Action.Kind != protocol.ActionNoop && p.Action.Target == "":
		return &PermanentError{Err: fmt.Errorf("%w: %s action without target", ErrInvalidProposal, p.Action.Kind)}
	}
	return nil
}

func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

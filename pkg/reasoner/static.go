package reasoner

import (
	"context"
	"sync"

	"vigil/pkg/protocol"
)

// StaticBackend returns a fixed proposal. Used for dry runs and tests.
type StaticBackend struct {
	id string

	mu       sync.Mutex
	proposal Proposal
	err      error
	probeErr error
	calls    int
}

// NewStaticBackend creates a backend that always proposes noop with zero
// confidence until SetProposal is called.
func NewStaticBackend(id string) *StaticBackend {
	return &StaticBackend{id: id, proposal: Proposal{Action: protocol.Action{Kind: protocol.ActionNoop}}}
}

// ID implements Backend.
func (s *StaticBackend) ID() string { return s.id }

// SetProposal replaces the canned answer.
func (s *StaticBackend) SetProposal(p Proposal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.proposal = p
}

// SetError makes Request (and optionally Probe) fail.
func (s *StaticBackend) SetError(requestErr, probeErr error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = requestErr
	s.probeErr = probeErr
}

// Calls returns how many times Request ran.
func (s *StaticBackend) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// Request implements Backend.
func (s *StaticBackend) Request(ctx context.Context, _ []protocol.WorkspaceItem) (Proposal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if err := ctx.Err(); err != nil {
		return Proposal{}, err
	}
	if s.err != nil {
		return Proposal{}, s.err
	}
	return s.proposal, nil
}

// Probe implements Backend.
func (s *StaticBackend) Probe(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.probeErr != nil {
		return s.probeErr
	}
	return ctx.Err()
}

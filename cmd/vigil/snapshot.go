package main

import (
	"context"
	"errors"
	"os"

	"vigil/pkg/daemon"
	"vigil/pkg/eventlog"
)

// statusReport combines process liveness with the last published snapshot.
type statusReport struct {
	Process  processState   `json:"process"`
	PID      int            `json:"pid,omitempty"`
	Snapshot *daemon.Status `json:"snapshot,omitempty"`
}

// loadStatus reads the PID file and the status snapshot. A missing state
// database is not an error: the report simply carries no snapshot.
func loadStatus(ctx context.Context, paths *Paths) (statusReport, error) {
	proc, pid, err := pidFile(paths.PIDPath).state()
	if err != nil {
		return statusReport{}, err
	}
	rep := statusReport{Process: proc, PID: pid}

	if _, err := os.Stat(paths.StateDBPath); errors.Is(err, os.ErrNotExist) {
		return rep, nil
	}
	r, err := eventlog.NewReader(paths.StateDBPath)
	if err != nil {
		return rep, err
	}
	defer func() { _ = r.Close() }()

	s, err := daemon.ReadStatus(ctx, r.DB())
	switch {
	case errors.Is(err, daemon.ErrNoStatus):
		return rep, nil
	case err != nil:
		return rep, err
	}
	rep.Snapshot = &s
	return rep, nil
}

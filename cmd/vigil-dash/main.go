// Package main implements vigil-dash, a live terminal view of the vigil
// daemon's status snapshot and event log.
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"vigil/pkg/protocol"

	tea "github.com/charmbracelet/bubbletea"
)

// stateDBPath resolves the state database the same way the vigil CLI does:
// VIGIL_DB_PATH, then $VIGIL_HOME/state.db, then ~/.vigil/state.db.
func stateDBPath() (string, error) {
	if v := os.Getenv("VIGIL_DB_PATH"); v != "" {
		return v, nil
	}
	if v := os.Getenv("VIGIL_HOME"); v != "" {
		return filepath.Join(v, protocol.StateDBFile), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home dir: %w", err)
	}
	return filepath.Join(home, protocol.VigilDir, protocol.StateDBFile), nil
}

func main() {
	dbPath, err := stateDBPath()
	if err != nil {
		fmt.Fprintf(os.Stderr, "vigil-dash: %v\n", err)
		os.Exit(1)
	}

	m := newModel(dbPath)
	defer m.Close()

	p := tea.NewProgram(m, tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error running dashboard: %v\n", err)
		os.Exit(1)
	}
}

package main

import (
	"fmt"
	"strings"
	"time"

	"vigil/pkg/daemon"
	"vigil/pkg/eventlog"
	"vigil/pkg/protocol"

	"github.com/charmbracelet/bubbles/table"
)

func newTable(cols []table.Column, height int, styles Styles) table.Model {
	t := table.New(
		table.WithColumns(cols),
		table.WithHeight(height),
	)
	t.SetStyles(styles.Table)
	return t
}

func backendColumns() []table.Column {
	return []table.Column{
		{Title: "Backend", Width: 14},
		{Title: "Role", Width: 9},
		{Title: "State", Width: 6},
		{Title: "Latency", Width: 9},
		{Title: "Failures", Width: 8},
		{Title: "Last error", Width: 36},
	}
}

func backendRows(health []protocol.BackendHealth) []table.Row {
	rows := make([]table.Row, 0, len(health))
	for _, h := range health {
		state := "up"
		if !h.Available {
			state = "down"
		}
		rows = append(rows, table.Row{
			h.BackendID,
			string(h.Role),
			state,
			h.MeanLatency.Round(time.Millisecond).String(),
			fmt.Sprintf("%d", h.ConsecutiveFailures),
			oneLine(h.LastError),
		})
	}
	return rows
}

func workspaceColumns() []table.Column {
	return []table.Column{
		{Title: "Salience", Width: 8},
		{Title: "Kind", Width: 10},
		{Title: "Source", Width: 10},
		{Title: "Path", Width: 40},
		{Title: "Summary", Width: 30},
	}
}

func workspaceRows(items []protocol.WorkspaceItem) []table.Row {
	rows := make([]table.Row, 0, len(items))
	for _, it := range items {
		rows = append(rows, table.Row{
			fmt.Sprintf("%.2f", it.Salience),
			string(it.Observation.Kind),
			string(it.Observation.Source),
			it.Observation.Path,
			oneLine(it.Observation.RawSummary),
		})
	}
	return rows
}

func inflightColumns() []table.Column {
	return []table.Column{
		{Title: "Action", Width: 10},
		{Title: "Kind", Width: 8},
		{Title: "Target", Width: 40},
		{Title: "Backend", Width: 12},
		{Title: "Running", Width: 10},
	}
}

func inflightRows(in []daemon.InFlight, now time.Time) []table.Row {
	rows := make([]table.Row, 0, len(in))
	for _, f := range in {
		rows = append(rows, table.Row{
			protocol.ShortID(f.ActionID),
			string(f.Kind),
			f.Target,
			f.Backend,
			now.Sub(f.Since).Round(time.Second).String(),
		})
	}
	return rows
}

func eventColumns() []table.Column {
	return []table.Column{
		{Title: "Time", Width: 19},
		{Title: "Type", Width: 16},
		{Title: "Target", Width: 30},
		{Title: "Payload", Width: 50},
	}
}

func eventRows(events []eventlog.Event) []table.Row {
	rows := make([]table.Row, 0, len(events))
	for _, e := range events {
		rows = append(rows, table.Row{
			e.CreatedAt.Local().Format(time.DateTime),
			e.Type,
			e.Target,
			oneLine(e.Payload),
		})
	}
	return rows
}

// oneLine flattens s so it fits a table cell.
func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

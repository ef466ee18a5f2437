package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"vigil/pkg/protocol"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
)

// newStatusCmd creates the "vigil status" subcommand.
func newStatusCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show mode, backend health, workspace and in-flight actions",
		Long:  "Reads the status snapshot the daemon publishes after every cycle.\nOutput is colored on a terminal; --json prints the raw report.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			paths, err := ResolvePaths()
			if err != nil {
				return err
			}
			rep, err := loadStatus(cmd.Context(), paths)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(rep)
			}
			renderStatus(out, rep, newStatusStyles(isTerminal(out)), time.Now())
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "print the report as JSON")
	return cmd
}

// statusStyles colors the human-readable status report.
type statusStyles struct {
	Title   lipgloss.Style
	Section lipgloss.Style
	OK      lipgloss.Style
	Warn    lipgloss.Style
	Bad     lipgloss.Style
	Muted   lipgloss.Style
}

// newStatusStyles returns colored styles for a terminal and plain ones
// otherwise.
func newStatusStyles(styled bool) statusStyles {
	if !styled {
		plain := lipgloss.NewStyle()
		return statusStyles{Title: plain, Section: plain, OK: plain, Warn: plain, Bad: plain, Muted: plain}
	}
	return statusStyles{
		Title:   lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12")),
		Section: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("14")),
		OK:      lipgloss.NewStyle().Foreground(lipgloss.Color("10")),
		Warn:    lipgloss.NewStyle().Foreground(lipgloss.Color("11")),
		Bad:     lipgloss.NewStyle().Foreground(lipgloss.Color("9")),
		Muted:   lipgloss.NewStyle().Foreground(lipgloss.Color("240")),
	}
}

func (st statusStyles) mode(m protocol.Mode) lipgloss.Style {
	switch m {
	case protocol.ModePrimary:
		return st.OK
	case protocol.ModeFallback:
		return st.Warn
	default:
		return st.Bad
	}
}

// renderStatus writes the human-readable report.
func renderStatus(w io.Writer, rep statusReport, st statusStyles, now time.Time) {
	var header string
	switch rep.Process {
	case procRunning:
		header = st.OK.Render("running") + fmt.Sprintf(" (PID %d)", rep.PID)
	case procStale:
		header = st.Warn.Render("stale PID file") + fmt.Sprintf(" (PID %d)", rep.PID)
	default:
		header = st.Bad.Render("stopped")
	}
	s := rep.Snapshot
	if s != nil && s.DryRun {
		header += ", dry run"
	}
	fmt.Fprintf(w, "%s %s\n", st.Title.Render("vigil"), header)

	if s == nil {
		fmt.Fprintln(w, st.Muted.Render("no status snapshot yet"))
		return
	}

	fmt.Fprintf(w, "mode:      %s since %s (reasoner %s, executor %s)\n",
		st.mode(s.Mode).Render(string(s.Mode)),
		s.ModeSince.Local().Format(time.DateTime),
		orDash(s.Reasoner), orDash(s.Executor))
	fmt.Fprintf(w, "threshold: %.2f, precision %.2f over %d outcomes (brier %.3f)\n",
		s.Threshold, s.Calibration.Precision, s.Calibration.Count, s.Calibration.Brier)
	fmt.Fprintf(w, "cycles:    %d, updated %s ago\n", s.Cycles, age(now, s.UpdatedAt))

	fmt.Fprintf(w, "\n%s\n", st.Section.Render("BACKENDS"))
	for _, h := range s.Health {
		state := st.OK.Render("up  ")
		if !h.Available {
			state = st.Bad.Render("down")
		}
		line := fmt.Sprintf("  %-12s %-8s %s %8s  %d failures", h.BackendID, h.Role, state,
			h.MeanLatency.Round(time.Millisecond), h.ConsecutiveFailures)
		if h.LastError != "" {
			line += "  " + st.Muted.Render(h.LastError)
		}
		fmt.Fprintln(w, line)
	}

	fmt.Fprintf(w, "\n%s\n", st.Section.Render(fmt.Sprintf("WORKSPACE (%d/%d)", len(s.Workspace), s.WorkspaceCapacity)))
	if len(s.Workspace) == 0 {
		fmt.Fprintln(w, st.Muted.Render("  empty"))
	}
	for _, it := range s.Workspace {
		fmt.Fprintf(w, "  %.2f  %-9s %s\n", it.Salience, it.Observation.Kind, it.Observation.Path)
	}

	fmt.Fprintf(w, "\n%s\n", st.Section.Render("IN FLIGHT"))
	if len(s.InFlight) == 0 {
		fmt.Fprintln(w, st.Muted.Render("  none"))
	}
	for _, f := range s.InFlight {
		fmt.Fprintf(w, "  %s on %s for %s\n",
			protocol.DescribeAction(protocol.Action{Kind: f.Kind, Target: f.Target}), f.Backend, age(now, f.Since))
	}

	if d := s.LastDecision; d != nil {
		fmt.Fprintf(w, "\n%s\n", st.Section.Render("LAST DECISION"))
		fmt.Fprintf(w, "  %s %s (%.2f by %s): %s\n", verdictStyle(st, d.Verdict).Render(string(d.Verdict)),
			d.Action, d.Confidence, d.ProducedBy, d.Reason)
	}

	if s.PendingCommands > 0 {
		fmt.Fprintf(w, "\n%d operator command(s) pending\n", s.PendingCommands)
	}
}

func verdictStyle(st statusStyles, v protocol.Verdict) lipgloss.Style {
	switch v {
	case protocol.VerdictExecute:
		return st.OK
	case protocol.VerdictDefer:
		return st.Warn
	default:
		return st.Muted
	}
}

func orDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}

// age renders how long ago t was, rounded to the second.
func age(now, t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	d := now.Sub(t).Round(time.Second)
	if d < 0 {
		d = 0
	}
	return d.String()
}

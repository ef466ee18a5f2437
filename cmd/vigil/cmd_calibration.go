package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"vigil/pkg/eventlog"
	"vigil/pkg/outcome"
	"vigil/pkg/protocol"

	"github.com/spf13/cobra"
)

// calibrationReport is the calibration command's JSON shape.
type calibrationReport struct {
	Window int                      `json:"window"`
	Stats  outcome.Stats            `json:"stats"`
	Recent []protocol.OutcomeRecord `json:"recent,omitempty"`
}

// newCalibrationCmd creates the "vigil calibration" subcommand.
func newCalibrationCmd() *cobra.Command {
	var (
		window int
		recent int
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:   "calibration",
		Short: "Show how well confidence predicted success",
		Long:  "Computes precision, confidence means, timeout rate and Brier score over\nthe newest outcomes. Operator commands are left out of the statistics.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if window < 1 {
				return errors.New("--window must be at least 1")
			}
			paths, err := ResolvePaths()
			if err != nil {
				return err
			}
			r, err := openStateReader(paths)
			if err != nil {
				return err
			}
			defer func() { _ = r.Close() }()

			rep := calibrationReport{Window: window}
			if rep.Stats, err = outcome.QueryStats(cmd.Context(), r.DB(), window); err != nil {
				return err
			}
			if recent > 0 {
				if rep.Recent, err = outcome.Recent(cmd.Context(), r.DB(), recent); err != nil {
					return err
				}
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(rep)
			}
			renderCalibration(out, rep)
			return nil
		},
	}

	cmd.Flags().IntVar(&window, "window", 100, "number of newest outcomes to consider")
	cmd.Flags().IntVar(&recent, "recent", 0, "also list this many newest outcomes")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the report as JSON")
	return cmd
}

// openStateReader opens the state database read-only.
func openStateReader(paths *Paths) (*eventlog.Reader, error) {
	if _, err := os.Stat(paths.StateDBPath); errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("no state database at %s (has vigil run yet?)", paths.StateDBPath)
	}
	return eventlog.NewReader(paths.StateDBPath)
}

func renderCalibration(w io.Writer, rep calibrationReport) {
	s := rep.Stats
	if s.Count == 0 {
		fmt.Fprintf(w, "no reasoner outcomes in the last %d records\n", rep.Window)
	} else {
		fmt.Fprintf(w, "outcomes:          %d (window %d)\n", s.Count, rep.Window)
		fmt.Fprintf(w, "precision:         %.3f\n", s.Precision)
		fmt.Fprintf(w, "mean confidence:   %.3f (success %.3f, failure %.3f)\n",
			s.MeanConfidence, s.MeanConfidenceGivenSuccess, s.MeanConfidenceGivenFailure)
		fmt.Fprintf(w, "timeout rate:      %.3f\n", s.TimeoutRate)
		fmt.Fprintf(w, "brier score:       %.3f\n", s.Brier)
	}

	if len(rep.Recent) == 0 {
		return
	}
	fmt.Fprintln(w)
	for _, rec := range rep.Recent {
		by := rec.Decision.ProducedBy
		if rec.Decision.Direct {
			by = "operator"
		}
		fmt.Fprintf(w, "  %s  %-7s %.2f  %-28s %s on %s\n",
			rec.Decision.ProducedAt.Local().Format("01-02 15:04:05"), rec.Result.Status,
			rec.Decision.Confidence, protocol.DescribeAction(rec.Decision.ProposedAction), by, rec.Result.ExecutedBy)
	}
}

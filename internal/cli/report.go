package cli

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/nixpkgs-fod-reports/internal/report"
	"github.com/mesh-intelligence/nixpkgs-fod-reports/internal/sqlite"
	"github.com/mesh-intelligence/nixpkgs-fod-reports/pkg/types"
)

func newReportCmd(a *app) *cobra.Command {
	var (
		all   bool
		jsonl string
	)
	cmd := &cobra.Command{
		Use:   "report [run-id]",
		Short: "Print the results of a recorded run (default: latest)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := a.openStore()
			if err != nil {
				return err
			}
			defer store.Detach()

			var run types.Run
			if len(args) == 1 {
				run, err = store.Run(args[0])
				if errors.Is(err, types.ErrNotFound) || errors.Is(err, types.ErrInvalidID) {
					return withCode(exitUserError, fmt.Errorf("run %q: %w", args[0], err))
				}
				if err != nil {
					return withCode(exitSysError, fmt.Errorf("load run: %w", err))
				}
			} else {
				run, err = store.LatestRun()
				if errors.Is(err, types.ErrNotFound) {
					return withCode(exitUserError, errors.New("no runs recorded"))
				}
				if err != nil {
					return withCode(exitSysError, fmt.Errorf("latest run: %w", err))
				}
			}
			runID := run.RunID

			results, err := store.Results(runID)
			if err != nil {
				return withCode(exitSysError, fmt.Errorf("load results: %w", err))
			}

			if jsonl != "" {
				if err := sqlite.ExportResults(jsonl, results); err != nil {
					return withCode(exitSysError, fmt.Errorf("export results: %w", err))
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Exported %d results of run %s to %s\n", len(results), runID, jsonl)
				return nil
			}

			fmt.Fprintf(cmd.ErrOrStderr(), "Run %s of %s, started %s, took %s: %d of %d reproducible\n",
				runID, run.Nixpkgs, run.StartedAt.Format(time.RFC3339), run.Duration().Round(time.Second),
				run.Summary.Reproducible, run.Summary.Total)

			if a.flags.jsonMode {
				return report.WriteJSON(cmd.OutOrStdout(), results, all)
			}
			return report.WriteText(cmd.OutOrStdout(), results, all)
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "also print reproducible derivations")
	cmd.Flags().StringVar(&jsonl, "jsonl", "", "export all results of the run to this file as JSONL")
	return cmd
}

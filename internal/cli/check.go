package cli

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/nixpkgs-fod-reports/internal/checker"
	"github.com/mesh-intelligence/nixpkgs-fod-reports/internal/logging"
	"github.com/mesh-intelligence/nixpkgs-fod-reports/internal/report"
	"github.com/mesh-intelligence/nixpkgs-fod-reports/pkg/types"
)

// checkFlags holds the flags shared by the root command and check.
type checkFlags struct {
	drvCache             string
	all                  bool
	failOnUnreproducible bool
	noRecord             bool
}

func addCheckFlags(cmd *cobra.Command, f *checkFlags) {
	cmd.Flags().StringVar(&f.drvCache, "drv-cache", "", "JSON file caching collected derivations between runs (env NIXPKGS_FOD_REPORTS_DRV_CACHE)")
	cmd.Flags().BoolVar(&f.all, "all", false, "also print reproducible derivations")
	cmd.Flags().BoolVar(&f.failOnUnreproducible, "fail-on-unreproducible", false, "exit with status 3 when an unreproducible derivation is found")
	cmd.Flags().BoolVar(&f.noRecord, "no-record", false, "do not record the run in the history store")
}

func newCheckCmd(a *app) *cobra.Command {
	var f checkFlags
	cmd := &cobra.Command{
		Use:   "check <nixpkgs>",
		Short: "Rebuild every fixed-output derivation of a Nixpkgs checkout",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runCheck(cmd, args[0], f)
		},
	}
	addCheckFlags(cmd, &f)
	return cmd
}

func (a *app) runCheck(cmd *cobra.Command, nixpkgs string, f checkFlags) error {
	ctx := cmd.Context()
	log := logging.FromContext(ctx)

	nixpkgs, err := filepath.Abs(nixpkgs)
	if err != nil {
		return withCode(exitUserError, fmt.Errorf("resolve nixpkgs path: %w", err))
	}

	drvCache := f.drvCache
	if drvCache == "" {
		drvCache = a.cfg.GetString(cfgKeyDrvCache)
	}

	c := checker.New(
		a.newNix(a.cfg.GetString(cfgKeyNixBinDir), cmd.ErrOrStderr()),
		checker.WithJobs(a.cfg.GetInt(cfgKeyJobs)),
		checker.WithDrvCache(drvCache),
		checker.WithLogger(log),
	)

	started := time.Now()
	res, err := c.CheckAll(ctx, nixpkgs)
	if err != nil {
		log.Error("check failed", slog.Any("error", err))
		fmt.Fprintf(cmd.ErrOrStderr(), "Erroring reproducing all FODs: %v\n", err)
		return reportedWithCode(exitUserError, err)
	}
	finished := time.Now()

	results := res.Sorted()
	if a.flags.jsonMode {
		err = report.WriteJSON(cmd.OutOrStdout(), results, f.all)
	} else {
		err = report.WriteText(cmd.OutOrStdout(), results, f.all)
	}
	if err != nil {
		return withCode(exitSysError, fmt.Errorf("write report: %w", err))
	}

	summary := types.Summarize(results)
	log.Info("check finished",
		slog.Int("total", summary.Total),
		slog.Int("reproducible", summary.Reproducible),
		slog.Int("unreproducible", summary.Unreproducible),
		slog.Duration("elapsed", finished.Sub(started)))

	if !f.noRecord {
		run := types.Run{Nixpkgs: nixpkgs, StartedAt: started, FinishedAt: finished}
		runID, err := a.record(run, results)
		if err != nil {
			return err
		}
		log.Info("recorded run", slog.String("run_id", runID))
	}

	if f.failOnUnreproducible && summary.Unreproducible > 0 {
		return withCode(exitUnreproducible,
			fmt.Errorf("%d unreproducible fixed-output derivations", summary.Unreproducible))
	}
	return nil
}

func (a *app) record(run types.Run, results []types.Result) (string, error) {
	store, err := a.openStore()
	if err != nil {
		return "", err
	}
	defer store.Detach()

	runID, err := store.RecordRun(run, results)
	if err != nil {
		return "", withCode(exitSysError, fmt.Errorf("record run: %w", err))
	}
	return runID, nil
}

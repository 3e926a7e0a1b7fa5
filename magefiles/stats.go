//go:build mage

package main

import (
	"encoding/json"
	"flag"
	"fmt"

	"github.com/mesh-intelligence/nixpkgs-fod-reports/internal/checker"
	"github.com/mesh-intelligence/nixpkgs-fod-reports/internal/paths"
	"github.com/mesh-intelligence/nixpkgs-fod-reports/pkg/sqlite"
	"github.com/mesh-intelligence/nixpkgs-fod-reports/pkg/types"
)

// Stats prints run history statistics as one JSON line: the number of
// recorded runs, the outcome counts of the latest run, and which attributes
// changed outcome since the run before it.
//
//	mage stats [--data-dir DIR] [--drv-cache drvs.json]
func Stats() error {
	fs := flag.NewFlagSet("stats", flag.ContinueOnError)
	dataDirFlag := fs.String("data-dir", "", "run history directory")
	drvCache := fs.String("drv-cache", "", "derivation cache file to size")
	parseTargetFlags(fs)

	dataDir, err := paths.ResolveDataDir(*dataDirFlag, "")
	if err != nil {
		return err
	}

	store := sqlite.NewStore()
	if err := store.Attach(types.Config{Backend: types.BackendSQLite, DataDir: dataDir}); err != nil {
		return fmt.Errorf("attach %s: %w", dataDir, err)
	}
	defer store.Detach()

	runs, err := store.Runs()
	if err != nil {
		return err
	}

	record := map[string]any{
		"data_dir": dataDir,
		"runs":     len(runs),
	}
	if len(runs) > 0 {
		latest := runs[0]
		record["latest_run"] = latest.RunID
		record["fods"] = latest.Summary.Total
		record["unreproducible"] = latest.Summary.Unreproducible
		record["duration_s"] = int(latest.Duration().Seconds())
	}
	if len(runs) > 1 {
		regressed, fixed, err := outcomeChanges(store, runs[1].RunID, runs[0].RunID)
		if err != nil {
			return err
		}
		record["regressed"] = regressed
		record["fixed"] = fixed
	}

	if *drvCache != "" {
		drvs, err := checker.LoadCache(*drvCache)
		if err != nil {
			return err
		}
		record["cached_drvs"] = len(drvs)
	}

	line, err := json.Marshal(record)
	if err != nil {
		return err
	}
	fmt.Println(string(line))
	return nil
}

// outcomeChanges compares two runs by attribute and derivation. regressed
// lists derivations reproducible in prev but not in cur; fixed the reverse.
func outcomeChanges(store types.Store, prevID, curID string) (regressed, fixed []string, err error) {
	prev, err := store.Results(prevID)
	if err != nil {
		return nil, nil, err
	}
	cur, err := store.Results(curID)
	if err != nil {
		return nil, nil, err
	}

	before := make(map[types.Key]bool, len(prev))
	for _, r := range prev {
		before[types.Key{Attr: r.Attr, Drv: r.Drv}] = r.Reproducible
	}
	for _, r := range cur {
		was, ok := before[types.Key{Attr: r.Attr, Drv: r.Drv}]
		switch {
		case !ok:
		case was && !r.Reproducible:
			regressed = append(regressed, r.Attr)
		case !was && r.Reproducible:
			fixed = append(fixed, r.Attr)
		}
	}
	if regressed == nil {
		regressed = []string{}
	}
	if fixed == nil {
		fixed = []string{}
	}
	return regressed, fixed, nil
}

package sqlite

// Schema DDL for the query tables. The JSONL files are the source of truth;
// these tables are rebuilt from them on every Attach.
const (
	createRuns = `CREATE TABLE runs (
    run_id TEXT PRIMARY KEY,
    nixpkgs TEXT NOT NULL,
    started_at TEXT NOT NULL,
    finished_at TEXT NOT NULL
);`

	createResults = `CREATE TABLE results (
    run_id TEXT NOT NULL,
    attr TEXT NOT NULL,
    drv TEXT NOT NULL,
    reproducible INTEGER NOT NULL,
    PRIMARY KEY (run_id, attr, drv),
    FOREIGN KEY (run_id) REFERENCES runs(run_id)
);`
)

// Index DDL for common queries.
const (
	idxRunsStarted       = `CREATE INDEX idx_runs_started ON runs(started_at);`
	idxResultsRun        = `CREATE INDEX idx_results_run ON results(run_id);`
	idxResultsDrv        = `CREATE INDEX idx_results_drv ON results(drv);`
	idxResultsReproduced = `CREATE INDEX idx_results_reproducible ON results(run_id, reproducible);`
)

// schemaDDL lists all CREATE TABLE statements in dependency order.
var schemaDDL = []string{
	createRuns,
	createResults,
}

// indexDDL lists all CREATE INDEX statements.
var indexDDL = []string{
	idxRunsStarted,
	idxResultsRun,
	idxResultsDrv,
	idxResultsReproduced,
}

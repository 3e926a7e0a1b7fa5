package types

import "errors"

// Store records checker runs and their results.
// Callers attach to a backend, record or query, and detach when done.
type Store interface {
	// Attach connects the Store to the backend described by config.
	// Creates the DataDir if it does not exist. Returns ErrAlreadyAttached
	// if called while already attached.
	Attach(config Config) error

	// Detach releases backend resources. Idempotent: multiple calls succeed.
	Detach() error

	// RecordRun stores a finished run and its results. When run.RunID is
	// empty a new UUID v7 is generated. Returns the ID used.
	RecordRun(run Run, results []Result) (string, error)

	// Runs returns all recorded runs, newest first.
	Runs() ([]Run, error)

	// LatestRun returns the most recent run.
	// Returns ErrNotFound if no run has been recorded.
	LatestRun() (Run, error)

	// Run returns the run with the given ID.
	// Returns ErrInvalidID for an empty ID and ErrNotFound if it does not exist.
	Run(runID string) (Run, error)

	// Results returns the results of a run sorted by attribute and derivation.
	// Returns ErrNotFound if the run does not exist.
	Results(runID string) ([]Result, error)
}

// Store lifecycle errors.
var (
	ErrStoreDetached   = errors.New("store is detached")
	ErrAlreadyAttached = errors.New("store is already attached")
)

// Query errors.
var (
	ErrNotFound  = errors.New("run not found")
	ErrInvalidID = errors.New("invalid run ID")
)

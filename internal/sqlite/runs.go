package sqlite

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/mesh-intelligence/nixpkgs-fod-reports/pkg/types"
)

const selectRunSummary = `SELECT r.run_id, r.nixpkgs, r.started_at, r.finished_at,
       COUNT(res.drv), COALESCE(SUM(res.reproducible), 0)
FROM runs r
LEFT JOIN results res ON res.run_id = r.run_id`

// RecordRun stores a finished run and its results. When run.RunID is empty a
// new UUID v7 is generated. Returns the ID used.
func (b *Backend) RecordRun(run types.Run, results []types.Result) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.attached {
		return "", types.ErrStoreDetached
	}

	if run.RunID == "" {
		run.RunID = generateUUID()
	}

	tx, err := b.db.Begin()
	if err != nil {
		return "", err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(
		"INSERT INTO runs (run_id, nixpkgs, started_at, finished_at) VALUES (?, ?, ?, ?)",
		run.RunID, run.Nixpkgs, formatTime(run.StartedAt), formatTime(run.FinishedAt)); err != nil {
		return "", fmt.Errorf("inserting run: %w", err)
	}

	stmt, err := tx.Prepare("INSERT OR REPLACE INTO results (run_id, attr, drv, reproducible) VALUES (?, ?, ?, ?)")
	if err != nil {
		return "", err
	}
	defer stmt.Close()

	for _, r := range results {
		if _, err := stmt.Exec(run.RunID, r.Attr, r.Drv, boolToInt(r.Reproducible)); err != nil {
			return "", fmt.Errorf("inserting result %s: %w", r.Drv, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return "", err
	}

	if err := b.persistJSONL(); err != nil {
		return "", fmt.Errorf("persist JSONL: %w", err)
	}
	return run.RunID, nil
}

// Runs returns all recorded runs, newest first.
func (b *Backend) Runs() ([]types.Run, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if !b.attached {
		return nil, types.ErrStoreDetached
	}

	rows, err := b.db.Query(selectRunSummary + " GROUP BY r.run_id ORDER BY r.started_at DESC, r.run_id DESC")
	if err != nil {
		return nil, fmt.Errorf("querying runs: %w", err)
	}
	defer rows.Close()

	runs := []types.Run{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// LatestRun returns the most recent run.
// Returns ErrNotFound if no run has been recorded.
func (b *Backend) LatestRun() (types.Run, error) {
	runs, err := b.Runs()
	if err != nil {
		return types.Run{}, err
	}
	if len(runs) == 0 {
		return types.Run{}, types.ErrNotFound
	}
	return runs[0], nil
}

// Run returns the run with the given ID.
// Returns ErrInvalidID for an empty ID and ErrNotFound if it does not exist.
func (b *Backend) Run(runID string) (types.Run, error) {
	if runID == "" {
		return types.Run{}, types.ErrInvalidID
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	if !b.attached {
		return types.Run{}, types.ErrStoreDetached
	}

	row := b.db.QueryRow(selectRunSummary+" WHERE r.run_id = ? GROUP BY r.run_id", runID)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return types.Run{}, types.ErrNotFound
	}
	return run, err
}

// Results returns the results of a run sorted by attribute and derivation.
// Returns ErrNotFound if the run does not exist.
func (b *Backend) Results(runID string) ([]types.Result, error) {
	if runID == "" {
		return nil, types.ErrInvalidID
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	if !b.attached {
		return nil, types.ErrStoreDetached
	}

	var exists int
	err := b.db.QueryRow("SELECT COUNT(*) FROM runs WHERE run_id = ?", runID).Scan(&exists)
	if err != nil {
		return nil, fmt.Errorf("looking up run: %w", err)
	}
	if exists == 0 {
		return nil, types.ErrNotFound
	}

	rows, err := b.db.Query(
		"SELECT attr, drv, reproducible FROM results WHERE run_id = ? ORDER BY attr, drv", runID)
	if err != nil {
		return nil, fmt.Errorf("querying results: %w", err)
	}
	defer rows.Close()

	results := []types.Result{}
	for rows.Next() {
		var r types.Result
		var reproducible int
		if err := rows.Scan(&r.Attr, &r.Drv, &reproducible); err != nil {
			return nil, fmt.Errorf("scanning result: %w", err)
		}
		r.Reproducible = reproducible != 0
		results = append(results, r)
	}
	return results, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(s scanner) (types.Run, error) {
	var run types.Run
	var startedAt, finishedAt string
	if err := s.Scan(&run.RunID, &run.Nixpkgs, &startedAt, &finishedAt,
		&run.Summary.Total, &run.Summary.Reproducible); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return run, err
		}
		return run, fmt.Errorf("scanning run: %w", err)
	}
	run.Summary.Unreproducible = run.Summary.Total - run.Summary.Reproducible

	var err error
	if run.StartedAt, err = parseTime(startedAt); err != nil {
		return run, fmt.Errorf("parsing run started_at: %w", err)
	}
	if run.FinishedAt, err = parseTime(finishedAt); err != nil {
		return run, fmt.Errorf("parsing run finished_at: %w", err)
	}
	return run, nil
}

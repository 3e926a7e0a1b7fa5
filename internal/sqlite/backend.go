// Package sqlite implements the run history store.
//
// runs.jsonl and results.jsonl in the data directory are the source of truth.
// On Attach they are loaded into a fresh SQLite database that serves queries;
// every write goes to SQLite first and is then persisted back to JSONL.
package sqlite

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/mesh-intelligence/nixpkgs-fod-reports/pkg/types"
)

const dbFileName = "fodreports.db"

var _ types.Store = (*Backend)(nil)

// timeLayout is fixed width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Backend implements types.Store on SQLite and JSONL files.
type Backend struct {
	mu       sync.RWMutex
	attached bool
	config   types.Config
	dataDir  string
	db       *sql.DB
}

// NewBackend creates a new SQLite backend instance.
// The backend is not attached; call Attach with a Config to initialize.
func NewBackend() *Backend {
	return &Backend{}
}

// Attach initializes the backend with the given configuration.
// Creates DataDir if it does not exist, builds the SQLite schema and loads
// the JSONL files into it.
// Returns ErrAlreadyAttached if already attached.
func (b *Backend) Attach(config types.Config) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.attached {
		return types.ErrAlreadyAttached
	}

	if err := config.Validate(); err != nil {
		return err
	}

	dataDir := config.DataDir
	if dataDir == "" {
		dataDir = "."
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return err
	}

	// The database is a disposable index over the JSONL files.
	dbPath := filepath.Join(dataDir, dbFileName)
	_ = os.Remove(dbPath)

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return err
	}
	// One connection keeps writes serialized.
	db.SetMaxOpenConns(1)

	for _, ddl := range append(append([]string{}, schemaDDL...), indexDDL...) {
		if _, err := db.Exec(ddl); err != nil {
			db.Close()
			return fmt.Errorf("creating schema: %w", err)
		}
	}

	b.db = db
	b.config = config
	b.dataDir = dataDir

	for _, name := range []string{runsFile, resultsFile} {
		if err := ensureJSONL(filepath.Join(dataDir, name)); err != nil {
			db.Close()
			return err
		}
	}

	if err := b.loadJSONL(); err != nil {
		db.Close()
		return fmt.Errorf("load JSONL: %w", err)
	}

	b.attached = true
	return nil
}

// Detach releases all resources held by the backend. Detach is idempotent.
func (b *Backend) Detach() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.attached {
		return nil
	}

	if b.db != nil {
		if err := b.db.Close(); err != nil {
			return err
		}
		b.db = nil
	}

	b.attached = false
	return nil
}

// generateUUID generates a new UUID v7 for run IDs.
func generateUUID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.New().String()
	}
	return id.String()
}

// loadJSONL populates the SQLite tables from the JSONL files. Lines that
// do not decode are skipped, as are results whose run is unknown.
func (b *Backend) loadJSONL() error {
	runs, err := readJSONL(filepath.Join(b.dataDir, runsFile))
	if err != nil {
		return err
	}
	results, err := readJSONL(filepath.Join(b.dataDir, resultsFile))
	if err != nil {
		return err
	}

	tx, err := b.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	known := make(map[string]bool, len(runs))
	for _, raw := range runs {
		var rec runRecord
		if err := json.Unmarshal(raw, &rec); err != nil || rec.RunID == "" {
			continue
		}
		if _, err := tx.Exec(
			"INSERT OR REPLACE INTO runs (run_id, nixpkgs, started_at, finished_at) VALUES (?, ?, ?, ?)",
			rec.RunID, rec.Nixpkgs, rec.StartedAt, rec.FinishedAt); err != nil {
			return fmt.Errorf("loading run %s: %w", rec.RunID, err)
		}
		known[rec.RunID] = true
	}

	for _, raw := range results {
		var rec resultRecord
		if err := json.Unmarshal(raw, &rec); err != nil || !known[rec.RunID] {
			continue
		}
		if _, err := tx.Exec(
			"INSERT OR REPLACE INTO results (run_id, attr, drv, reproducible) VALUES (?, ?, ?, ?)",
			rec.RunID, rec.Attr, rec.Drv, boolToInt(rec.Reproducible)); err != nil {
			return fmt.Errorf("loading result for run %s: %w", rec.RunID, err)
		}
	}

	return tx.Commit()
}

// persistJSONL rewrites both JSONL files from the SQLite tables.
// The caller must hold b.mu.
func (b *Backend) persistJSONL() error {
	runs, err := b.queryRunRecords()
	if err != nil {
		return err
	}
	if err := writeJSONL(filepath.Join(b.dataDir, runsFile), runs); err != nil {
		return err
	}

	rows, err := b.db.Query("SELECT run_id, attr, drv, reproducible FROM results ORDER BY run_id, attr, drv")
	if err != nil {
		return fmt.Errorf("reading results for JSONL: %w", err)
	}
	defer rows.Close()

	var records []json.RawMessage
	for rows.Next() {
		var rec resultRecord
		var reproducible int
		if err := rows.Scan(&rec.RunID, &rec.Attr, &rec.Drv, &reproducible); err != nil {
			return fmt.Errorf("scanning result for JSONL: %w", err)
		}
		rec.Reproducible = reproducible != 0
		raw, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		records = append(records, raw)
	}
	if err := rows.Err(); err != nil {
		return err
	}
	return writeJSONL(filepath.Join(b.dataDir, resultsFile), records)
}

func (b *Backend) queryRunRecords() ([]json.RawMessage, error) {
	rows, err := b.db.Query("SELECT run_id, nixpkgs, started_at, finished_at FROM runs ORDER BY started_at, run_id")
	if err != nil {
		return nil, fmt.Errorf("reading runs for JSONL: %w", err)
	}
	defer rows.Close()

	var records []json.RawMessage
	for rows.Next() {
		var rec runRecord
		if err := rows.Scan(&rec.RunID, &rec.Nixpkgs, &rec.StartedAt, &rec.FinishedAt); err != nil {
			return nil, fmt.Errorf("scanning run for JSONL: %w", err)
		}
		raw, err := json.Marshal(rec)
		if err != nil {
			return nil, err
		}
		records = append(records, raw)
	}
	return records, rows.Err()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(timeLayout, s)
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}

// Package sqlite provides the public factory for the SQLite run history
// store while keeping the implementation internal.
package sqlite

import (
	"github.com/mesh-intelligence/nixpkgs-fod-reports/internal/sqlite"
	"github.com/mesh-intelligence/nixpkgs-fod-reports/pkg/types"
)

// NewStore creates a new SQLite store. The store is not attached; call
// Attach with a Config to initialize.
//
// Example:
//
//	store := sqlite.NewStore()
//	err := store.Attach(types.Config{
//	    Backend: types.BackendSQLite,
//	    DataDir: dataDir,
//	})
//	defer store.Detach()
func NewStore() types.Store {
	return sqlite.NewBackend()
}

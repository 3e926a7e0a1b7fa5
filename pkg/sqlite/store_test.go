package sqlite_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/nixpkgs-fod-reports/pkg/sqlite"
	"github.com/mesh-intelligence/nixpkgs-fod-reports/pkg/types"
)

func TestNewStore(t *testing.T) {
	store := sqlite.NewStore()
	require.NoError(t, store.Attach(types.Config{Backend: types.BackendSQLite, DataDir: t.TempDir()}))
	defer store.Detach()

	now := time.Now()
	id, err := store.RecordRun(types.Run{Nixpkgs: "/src/nixpkgs", StartedAt: now, FinishedAt: now}, []types.Result{
		{Attr: "hello", Drv: "/nix/store/111-src.drv"},
	})
	require.NoError(t, err)

	latest, err := store.LatestRun()
	require.NoError(t, err)
	assert.Equal(t, id, latest.RunID)
	assert.Equal(t, types.Summary{Total: 1, Unreproducible: 1}, latest.Summary)
}

func TestNewStore_RunByID(t *testing.T) {
	store := sqlite.NewStore()
	require.NoError(t, store.Attach(types.Config{Backend: types.BackendSQLite, DataDir: t.TempDir()}))
	defer store.Detach()

	started := time.Now().Add(-time.Minute)
	id, err := store.RecordRun(types.Run{Nixpkgs: "/src/nixpkgs", StartedAt: started, FinishedAt: started.Add(time.Minute)}, nil)
	require.NoError(t, err)

	run, err := store.Run(id)
	require.NoError(t, err)
	assert.Equal(t, "/src/nixpkgs", run.Nixpkgs)
	assert.Equal(t, time.Minute, run.Duration())

	_, err = store.Run("")
	assert.ErrorIs(t, err, types.ErrInvalidID)
}

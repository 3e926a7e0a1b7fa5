package cli

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/mesh-intelligence/nixpkgs-fod-reports/internal/paths"
	"github.com/mesh-intelligence/nixpkgs-fod-reports/pkg/sqlite"
	"github.com/mesh-intelligence/nixpkgs-fod-reports/pkg/types"
)

// resolveDataDir returns the data directory with precedence:
// --data-dir flag > config data_dir > NIXPKGS_FOD_REPORTS_DATA_DIR > default.
func (a *app) resolveDataDir() (string, error) {
	return paths.ResolveDataDir(a.flags.dataDir, a.cfg.GetString(cfgKeyDataDir))
}

// openStore attaches the run history store. The caller must Detach it.
func (a *app) openStore() (types.Store, error) {
	dataDir, err := a.resolveDataDir()
	if err != nil {
		return nil, withCode(exitSysError, fmt.Errorf("resolve data dir: %w", err))
	}

	cfg := types.Config{
		Backend: a.cfg.GetString(cfgKeyBackend),
		DataDir: dataDir,
	}
	if err := cfg.Validate(); err != nil {
		return nil, withCode(exitUserError, fmt.Errorf("invalid config: %w", err))
	}

	store := sqlite.NewStore()
	if err := store.Attach(cfg); err != nil {
		return nil, withCode(exitSysError, fmt.Errorf("attach store: %w", err))
	}
	return store, nil
}

// printJSON writes v as indented JSON.
func printJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal JSON: %w", err)
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/mesh-intelligence/nixpkgs-fod-reports/internal/paths"
	"github.com/mesh-intelligence/nixpkgs-fod-reports/pkg/types"
)

// configFile holds the structure written to config.yaml by init.
type configFile struct {
	Backend   string `yaml:"backend"`
	DataDir   string `yaml:"data_dir,omitempty"`
	DrvCache  string `yaml:"drv_cache,omitempty"`
	Jobs      int    `yaml:"jobs"`
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
	NixBinDir string `yaml:"nix_bin_dir,omitempty"`
}

func newInitCmd(a *app) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write the configuration file and initialize the run history store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			configDir, err := paths.ResolveConfigDir(a.flags.configDir)
			if err != nil {
				return withCode(exitSysError, fmt.Errorf("resolve config dir: %w", err))
			}
			dataDir, err := a.resolveDataDir()
			if err != nil {
				return withCode(exitSysError, fmt.Errorf("resolve data dir: %w", err))
			}

			cfg := configFile{
				Backend:   a.cfg.GetString(cfgKeyBackend),
				DataDir:   dataDir,
				DrvCache:  a.cfg.GetString(cfgKeyDrvCache),
				Jobs:      a.cfg.GetInt(cfgKeyJobs),
				LogLevel:  a.cfg.GetString(cfgKeyLogLevel),
				LogFormat: a.cfg.GetString(cfgKeyLogFormat),
				NixBinDir: a.cfg.GetString(cfgKeyNixBinDir),
			}
			configPath := filepath.Join(configDir, configFileExt)
			if err := writeConfig(configPath, cfg, force); err != nil {
				return withCode(exitSysError, fmt.Errorf("write config: %w", err))
			}

			store, err := a.openStore()
			if err != nil {
				return err
			}
			if err := store.Detach(); err != nil {
				return withCode(exitSysError, fmt.Errorf("finalize storage: %w", err))
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Initialized %s\nConfig: %s\nData:   %s\n", paths.AppName, configPath, dataDir)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite a config file written by hand")
	return cmd
}

// writeConfig writes cfg to path. An existing file is left alone unless it
// still holds the generated defaults or force is set.
func writeConfig(path string, cfg configFile, force bool) error {
	existing, err := os.ReadFile(path)
	switch {
	case err == nil:
		if !force && string(existing) != defaultConfigYAML {
			return nil
		}
	case !os.IsNotExist(err):
		return err
	}

	if cfg.Backend == "" {
		cfg.Backend = types.BackendSQLite
	}
	data, err := yaml.Marshal(&cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// Package cli implements the nixpkgs-fod-reports command-line interface.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/mesh-intelligence/nixpkgs-fod-reports/internal/checker"
	"github.com/mesh-intelligence/nixpkgs-fod-reports/internal/logging"
	"github.com/mesh-intelligence/nixpkgs-fod-reports/internal/nix"
	"github.com/mesh-intelligence/nixpkgs-fod-reports/internal/paths"
)

// Exit codes.
const (
	exitSuccess        = 0
	exitUserError      = 1
	exitSysError       = 2
	exitUnreproducible = 3
)

// exitError carries the process exit code for a failed command.
// A reported error has already been written to stderr.
type exitError struct {
	code     int
	err      error
	reported bool
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func withCode(code int, err error) error {
	return &exitError{code: code, err: err}
}

func reportedWithCode(code int, err error) error {
	return &exitError{code: code, err: err, reported: true}
}

// rootFlags holds global flag values accessible to all subcommands.
type rootFlags struct {
	configDir string
	dataDir   string
	jsonMode  bool
	jobs      int
	logLevel  string
	logFormat string
}

// app is the state shared by the commands of one invocation.
type app struct {
	flags  rootFlags
	cfg    *viper.Viper
	logger *slog.Logger

	// newNix builds the Nix client; tests replace it.
	newNix func(binDir string, stderr io.Writer) checker.Nix
}

func defaultNix(binDir string, stderr io.Writer) checker.Nix {
	c := nix.NewClient(binDir)
	c.Stderr = stderr
	return c
}

// NewRootCmd creates the top-level command with global flags and all
// subcommands registered.
func NewRootCmd() *cobra.Command {
	return newRootCmd(&app{newNix: defaultNix})
}

func newRootCmd(a *app) *cobra.Command {
	var cf checkFlags
	root := &cobra.Command{
		Use:   "nixpkgs-fod-reports [nixpkgs]",
		Short: "Check the fixed-output derivations of Nixpkgs for reproducibility",
		Long: "nixpkgs-fod-reports instantiates every attribute of a Nixpkgs checkout, collects\n" +
			"the fixed-output derivations they depend on and rebuilds each one with\n" +
			"nix-store --check. Running it with a Nixpkgs path is the same as \"check\".",
		Version:           version,
		Args:              cobra.MaximumNArgs(1),
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: a.setup,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				return cmd.Help()
			}
			return a.runCheck(cmd, args[0], cf)
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&a.flags.configDir, "config-dir", "", "configuration directory (default: per-user config dir)")
	pf.StringVar(&a.flags.dataDir, "data-dir", "", "data directory for run history (default: per-user data dir)")
	pf.BoolVar(&a.flags.jsonMode, "json", false, "output as JSON")
	pf.IntVarP(&a.flags.jobs, "jobs", "j", 0, "concurrent Nix operations (default: number of CPUs)")
	pf.StringVar(&a.flags.logLevel, "log-level", "info", "log level: debug, info, warn, error")
	pf.StringVar(&a.flags.logFormat, "log-format", logging.FormatText, "log format: text or json")
	addCheckFlags(root, &cf)

	root.AddCommand(newCheckCmd(a))
	root.AddCommand(newAttrsCmd(a))
	root.AddCommand(newRunsCmd(a))
	root.AddCommand(newReportCmd(a))
	root.AddCommand(newInitCmd(a))
	root.AddCommand(newVersionCmd())

	return root
}

// setup loads configuration and builds the logger before any subcommand runs.
func (a *app) setup(cmd *cobra.Command, args []string) error {
	configDir, err := paths.ResolveConfigDir(a.flags.configDir)
	if err != nil {
		return withCode(exitSysError, fmt.Errorf("resolve config dir: %w", err))
	}

	cfg, err := loadConfig(configDir)
	if err != nil {
		return withCode(exitSysError, err)
	}
	pf := cmd.Root().PersistentFlags()
	for key, name := range map[string]string{
		cfgKeyJobs:      "jobs",
		cfgKeyLogLevel:  "log-level",
		cfgKeyLogFormat: "log-format",
	} {
		if err := cfg.BindPFlag(key, pf.Lookup(name)); err != nil {
			return withCode(exitSysError, fmt.Errorf("bind flag %s: %w", name, err))
		}
	}
	a.cfg = cfg

	a.logger = logging.New(cfg.GetString(cfgKeyLogLevel), cfg.GetString(cfgKeyLogFormat), cmd.ErrOrStderr())
	a.logger.Debug("loaded configuration",
		slog.String("config_dir", configDir),
		slog.String("config_file", cfg.ConfigFileUsed()))

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	cmd.SetContext(logging.WithLogger(ctx, a.logger))
	return nil
}

// Execute runs the root command and returns the process exit code.
func Execute(ctx context.Context) int {
	return execute(ctx, NewRootCmd(), os.Stderr)
}

func execute(ctx context.Context, root *cobra.Command, stderr io.Writer) int {
	err := root.ExecuteContext(ctx)
	if err == nil {
		return exitSuccess
	}

	var ee *exitError
	if errors.As(err, &ee) {
		if !ee.reported {
			fmt.Fprintln(stderr, "Error:", err)
		}
		return ee.code
	}
	fmt.Fprintln(stderr, "Error:", err)
	return exitUserError
}

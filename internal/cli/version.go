package cli

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"
)

const modulePath = "github.com/mesh-intelligence/nixpkgs-fod-reports"

// version is set at build time with
// -ldflags "-X github.com/mesh-intelligence/nixpkgs-fod-reports/internal/cli.version=...".
var version = "dev"

func newVersionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print the nixpkgs-fod-reports version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintf(cmd.OutOrStdout(), "nixpkgs-fod-reports %s\nmodule: %s\ngo: %s\n", version, modulePath, runtime.Version())
			return nil
		},
	}
	// version needs no configuration.
	cmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error { return nil }
	return cmd
}

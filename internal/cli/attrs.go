package cli

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"
)

func newAttrsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "attrs <nixpkgs>",
		Short: "List the attribute paths that a check would instantiate",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			nixpkgs, err := filepath.Abs(args[0])
			if err != nil {
				return withCode(exitUserError, fmt.Errorf("resolve nixpkgs path: %w", err))
			}

			n := a.newNix(a.cfg.GetString(cfgKeyNixBinDir), cmd.ErrOrStderr())
			attrs, err := n.Attrs(cmd.Context(), nixpkgs)
			if err != nil {
				return withCode(exitUserError, fmt.Errorf("listing attributes: %w", err))
			}

			if a.flags.jsonMode {
				if attrs == nil {
					attrs = []string{}
				}
				return printJSON(cmd.OutOrStdout(), attrs)
			}
			for _, attr := range attrs {
				fmt.Fprintln(cmd.OutOrStdout(), attr)
			}
			return nil
		},
	}
}

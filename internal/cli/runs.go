package cli

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

func newRunsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "runs",
		Short: "List recorded check runs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := a.openStore()
			if err != nil {
				return err
			}
			defer store.Detach()

			runs, err := store.Runs()
			if err != nil {
				return withCode(exitSysError, fmt.Errorf("list runs: %w", err))
			}

			if a.flags.jsonMode {
				return printJSON(cmd.OutOrStdout(), runs)
			}
			if len(runs) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No runs recorded")
				return nil
			}

			// Counts are grouped by thousands.
			p := message.NewPrinter(language.English)
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "RUN ID\tSTARTED\tDURATION\tFODS\tUNREPRODUCIBLE\tNIXPKGS")
			for _, r := range runs {
				p.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%s\n",
					r.RunID,
					r.StartedAt.Local().Format(time.DateTime),
					r.Duration().Round(time.Second),
					r.Summary.Total,
					r.Summary.Unreproducible,
					r.Nixpkgs)
			}
			return w.Flush()
		},
	}
}

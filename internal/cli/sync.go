package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"stampsync/internal/syncer"
)

// NewSyncCommand runs one sync pass and exits. Retries scheduled during the
// pass are dropped on exit; their bumped retry counts are already stored.
func NewSyncCommand(root *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Drain all offline queues once",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := NewApp(root.Config)
			if err != nil {
				return err
			}
			defer app.Close()

			reports, syncErr := app.Syncer.Sync(cmd.Context())
			if err := writeOutput(cmd.OutOrStdout(), root.Format, reports, func(w io.Writer) error {
				return printReports(w, reports)
			}); err != nil {
				return err
			}
			return syncErr
		},
	}
}

func printReports(w io.Writer, reports []syncer.Report) error {
	for _, r := range reports {
		if _, err := fmt.Fprintf(w, "%-12s succeeded=%d failed=%d exhausted=%d unsupported=%d skipped=%d\n",
			r.Queue, r.Succeeded, r.Failed, r.Exhausted, r.Unsupported, r.Skipped); err != nil {
			return err
		}
	}
	return nil
}

package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"stampsync/internal/domain"
)

func NewQueueCommand(root *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and edit offline queues",
	}
	cmd.AddCommand(newQueueListCommand(root))
	cmd.AddCommand(newQueueRemoveCommand(root))
	return cmd
}

func newQueueListCommand(root *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list [queue...]",
		Short: "List queued operations (all queues by default)",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := NewApp(root.Config)
			if err != nil {
				return err
			}
			defer app.Close()

			keys := app.Store.Keys()
			if len(args) > 0 {
				keys = keys[:0]
				for _, a := range args {
					keys = append(keys, domain.QueueKey(a))
				}
			}

			out := make(map[domain.QueueKey][]domain.Operation, len(keys))
			for _, k := range keys {
				ops, err := app.Store.List(cmd.Context(), k)
				if err != nil {
					return err
				}
				out[k] = ops
			}
			return writeOutput(cmd.OutOrStdout(), root.Format, out, func(w io.Writer) error {
				for _, k := range keys {
					fmt.Fprintf(w, "%s (%d)\n", k, len(out[k]))
					for _, op := range out[k] {
						fmt.Fprintf(w, "  %s  %-10s retries=%d  %s\n", op.ID, op.Type, op.RetryCount, op.Payload)
					}
				}
				return nil
			})
		},
	}
}

func newQueueRemoveCommand(root *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "rm <queue> <id>",
		Short: "Remove an operation without syncing it",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := NewApp(root.Config)
			if err != nil {
				return err
			}
			defer app.Close()
			return app.Store.Remove(cmd.Context(), domain.QueueKey(args[0]), args[1])
		},
	}
}

package cli

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"stampsync/internal/domain"
)

type EnqueueOptions struct {
	*RootOptions
	Type    string
	Payload string
	ID      string
}

func NewEnqueueCommand(root *RootOptions) *cobra.Command {
	opts := &EnqueueOptions{RootOptions: root}

	cmd := &cobra.Command{
		Use:   "enqueue",
		Short: "Record an offline operation",
		Example: `  stampsync enqueue --type stamp --payload '{"customerId":"c1","cardId":"k1","stamps":1}'
  stampsync enqueue --type redemption --payload '{"cardId":"k1","code":"R-42"}'`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEnqueue(cmd, opts)
		},
	}
	cmd.Flags().StringVar(&opts.Type, "type", "", "operation type (stamp|redemption)")
	cmd.Flags().StringVar(&opts.Payload, "payload", "", "JSON payload sent to the remote endpoint")
	cmd.Flags().StringVar(&opts.ID, "id", "", "operation id (generated when empty)")
	_ = cmd.MarkFlagRequired("type")
	_ = cmd.MarkFlagRequired("payload")
	return cmd
}

func runEnqueue(cmd *cobra.Command, opts *EnqueueOptions) error {
	typ := domain.OperationType(opts.Type)
	key, ok := domain.QueueFor(typ)
	if !ok {
		return fmt.Errorf("unknown operation type %q", opts.Type)
	}
	if !json.Valid([]byte(opts.Payload)) {
		return fmt.Errorf("payload is not valid JSON")
	}

	app, err := NewApp(opts.Config)
	if err != nil {
		return err
	}
	defer app.Close()

	op, err := app.Store.Enqueue(cmd.Context(), key, domain.Operation{
		ID:      opts.ID,
		Type:    typ,
		Payload: json.RawMessage(opts.Payload),
	})
	if err != nil {
		return err
	}
	return writeOutput(cmd.OutOrStdout(), opts.Format, op, func(w io.Writer) error {
		_, err := fmt.Fprintf(w, "%s queued in %s\n", op.ID, key)
		return err
	})
}

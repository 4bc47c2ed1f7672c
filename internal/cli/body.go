package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nhle/inbox-sync/internal/app"
)

func newBodyCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "body <identity-key>",
		Short: "Print a message body, refetching it from the server if needed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := e.open(ctx, app.Options{WithMailbox: true})
			if err != nil {
				return err
			}
			defer a.Close(context.WithoutCancel(ctx))

			body, err := a.Bodies.GetBody(ctx, args[0])
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(e.out, body)
			return err
		},
	}
}

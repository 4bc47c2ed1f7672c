package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nhle/inbox-sync/internal/app"
	"github.com/nhle/inbox-sync/internal/draft"
	appsync "github.com/nhle/inbox-sync/internal/sync"
)

func newDraftCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "draft <identity-key>",
		Short: "Print a reply draft for a stored message",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key := args[0]
			ctx := cmd.Context()
			a, err := e.open(ctx, app.Options{WithMailbox: true, WithModels: true})
			if err != nil {
				return err
			}
			defer a.Close(context.WithoutCancel(ctx))

			m, err := a.Store.Get(ctx, key)
			if err != nil {
				return err
			}
			body, err := a.Bodies.GetBody(ctx, key)
			if err != nil && !errors.Is(err, appsync.ErrBodyUnavailable) {
				return err
			}

			res, err := a.Drafts.GetOrGenerate(ctx, "cli", draft.Request{
				Key:     key,
				Subject: m.Subject,
				Sender:  m.FromAddr,
				Body:    body,
			})
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(e.out, res.Text)
			return err
		},
	}
}

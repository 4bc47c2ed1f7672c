package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nhle/inbox-sync/internal/app"
	appsync "github.com/nhle/inbox-sync/internal/sync"
)

func newBackfillCmd(e *env) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "backfill",
		Short: "Rewrite legacy identity keys to the current scheme",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := e.open(ctx, app.Options{})
			if err != nil {
				return err
			}
			defer a.Close(context.WithoutCancel(ctx))

			res, err := appsync.Backfill(ctx, a.Store, limit, e.log)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(e.out, "scanned %d, rekeyed %d, duplicates %d, failed %d\n",
				res.Scanned, res.Rekeyed, res.Duplicates, res.Failed)
			return err
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 500, "maximum rows to scan")
	return cmd
}

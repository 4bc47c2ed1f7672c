package cli

import (
	"context"
	"encoding/json"

	"github.com/spf13/cobra"

	"github.com/nhle/inbox-sync/internal/app"
	"github.com/nhle/inbox-sync/internal/report"
	"github.com/nhle/inbox-sync/internal/store"
)

func newListCmd(e *env) *cobra.Command {
	var (
		limit       int
		offset      int
		includeAuto bool
		counts      bool
		asJSON      bool
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List stored messages, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := e.open(ctx, app.Options{})
			if err != nil {
				return err
			}
			defer a.Close(context.WithoutCancel(ctx))

			if counts {
				c, err := a.Store.IntentCounts(ctx)
				if err != nil {
					return err
				}
				return report.IntentCounts(e.out, c)
			}

			msgs, err := a.Store.List(ctx, store.ListFilter{IncludeAuto: includeAuto, Limit: limit, Offset: offset})
			if err != nil {
				return err
			}
			if asJSON {
				enc := json.NewEncoder(e.out)
				enc.SetIndent("", "  ")
				return enc.Encode(msgs)
			}
			return report.Messages(e.out, msgs)
		},
	}

	f := cmd.Flags()
	f.IntVar(&limit, "limit", 20, "number of messages")
	f.IntVar(&offset, "offset", 0, "messages to skip")
	f.BoolVar(&includeAuto, "include-auto", false, "include auto-replies")
	f.BoolVar(&counts, "counts", false, "show counts per intent instead")
	f.BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}

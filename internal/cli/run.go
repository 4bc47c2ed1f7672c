package cli

import (
	"context"
	"encoding/json"
	"time"

	"github.com/spf13/cobra"

	"github.com/nhle/inbox-sync/internal/app"
	"github.com/nhle/inbox-sync/internal/planner"
	"github.com/nhle/inbox-sync/internal/report"
	appsync "github.com/nhle/inbox-sync/internal/sync"
)

func newRunCmd(e *env) *cobra.Command {
	var (
		limit    int
		lookback time.Duration
		scope    string
		asJSON   bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one sync pass",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var sc planner.Scope
			if scope != "" {
				var err error
				if sc, err = planner.ParseScope(scope); err != nil {
					return err
				}
			}

			ctx := cmd.Context()
			a, err := e.open(ctx, app.Options{WithMailbox: true, WithModels: true})
			if err != nil {
				return err
			}
			defer a.Close(context.WithoutCancel(ctx))

			summary, runErr := a.Engine.Run(ctx, appsync.RunOptions{Limit: limit, Lookback: lookback, Scope: sc})
			if asJSON {
				enc := json.NewEncoder(e.out)
				enc.SetIndent("", "  ")
				if err := enc.Encode(summary); err != nil {
					return err
				}
			} else if err := report.Summary(e.out, summary); err != nil {
				return err
			}
			if runErr != nil {
				return errAborted(summary.LastErrorClass)
			}
			return nil
		},
	}

	f := cmd.Flags()
	f.IntVar(&limit, "limit", 0, "maximum messages to fetch (default sync.limit)")
	f.DurationVar(&lookback, "lookback", 0, "how far back to look, e.g. 72h")
	f.StringVar(&scope, "scope", "", "unseen or all (default sync.scope)")
	f.BoolVar(&asJSON, "json", false, "print the summary as JSON")
	return cmd
}

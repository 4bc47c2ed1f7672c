package cli

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/nhle/inbox-sync/internal/app"
	appsync "github.com/nhle/inbox-sync/internal/sync"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd(e *env) *cobra.Command {
	var (
		addr     string
		interval time.Duration
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API, optionally syncing on an interval",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if addr == "" {
				addr = e.cfg.Server.Addr
			}
			if !cmd.Flags().Changed("interval") {
				interval = e.cfg.Sync.Interval
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := e.open(ctx, app.Options{WithMailbox: true, WithModels: true})
			if err != nil {
				return err
			}
			defer a.Close(context.WithoutCancel(ctx))

			var poller *appsync.Poller
			if interval > 0 {
				poller = appsync.NewPoller(a.Engine, interval, e.log)
				poller.Start(ctx)
				defer poller.Stop()
			}

			ln, err := net.Listen("tcp", addr)
			if err != nil {
				return fmt.Errorf("listening on %s: %w", addr, err)
			}
			srv := &http.Server{
				Handler:           a.Router(poller),
				ReadHeaderTimeout: 10 * time.Second,
			}
			return serveHTTP(ctx, e, srv, ln)
		},
	}

	f := cmd.Flags()
	f.StringVar(&addr, "addr", "", "listen address (default server.addr)")
	f.DurationVar(&interval, "interval", 0, "background sync interval; 0 disables (default sync.interval)")
	return cmd
}

// serveHTTP serves until ctx is done, then shuts the server down.
func serveHTTP(ctx context.Context, e *env, srv *http.Server, ln net.Listener) error {
	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		e.log.Info().Str("addr", ln.Addr().String()).Msg("http server listening")
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	e.log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down http server: %w", err)
	}
	return <-errCh
}

package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/rflorenc/fitsync/internal/api"
	"github.com/rflorenc/fitsync/internal/config"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd() *cobra.Command {
	var listen string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the migration API and event stream",
		Args:  cobra.NoArgs,
		RunE: withApp(appOptions{needsDB: true, needsRemote: true}, func(app *App, cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("listen") {
				app.Config.Listen = listen
			}
			out := cmd.OutOrStdout()

			server := &api.Server{
				Migrations: app.Migrations,
				Logger:     app.Logger,
			}

			// Verify connectivity early
			if app.Client != nil {
				server.Endpoint = app.Endpoint
				server.Pinger = app.Client
				ctx, cancel := context.WithTimeout(cmd.Context(), app.Config.Remote.Timeout)
				resp, err := app.Client.Ping(ctx)
				cancel()
				if err != nil {
					app.Endpoint.SetHealth("error", err.Error())
					fmt.Fprintf(out, "  PING FAILED: %s: %v\n", app.Endpoint.BaseURL(), err)
				} else {
					app.Endpoint.SetHealth("ok", "")
					fmt.Fprintf(out, "  PING OK: %s: version %s\n", app.Endpoint.BaseURL(), resp.Version)
				}
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			server.BaseContext = ctx

			fmt.Fprintf(out, "fitsync %s starting on %s\n", Version, app.Config.Listen)
			return listenAndServe(ctx, app.Config.Listen, api.NewRouter(server))
		}),
	}
	cmd.Flags().StringVar(&listen, "listen", ":8080", "Address to listen on (overrides FITSYNC_LISTEN)")
	return cmd
}

func newRemoteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "remote",
		Short: "Run or check the account-record service",
	}
	cmd.AddCommand(newRemoteServeCmd(), newRemotePingCmd())
	return cmd
}

func newRemoteServeCmd() *cobra.Command {
	var (
		listen string
		token  string
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the reference account-record API",
		Long: `Serve the account-record API that the http remote talks to.

Records are kept in MongoDB when the configured remote kind is mongo, and in
memory otherwise.

Examples:
  fitsync remote serve --listen :8090 --token s3cret
  FITSYNC_REMOTE_KIND=mongo FITSYNC_MONGO_URI=mongodb://localhost:27017 fitsync remote serve
`,
		Args: cobra.NoArgs,
		RunE: withApp(appOptions{}, func(app *App, cmd *cobra.Command, args []string) error {
			// The backend stores records itself; it never proxies to another
			// http remote.
			if app.Config.Remote.Kind != config.RemoteMongo {
				app.Config.Remote.Kind = config.RemoteMemory
			}
			if err := app.openRemote(cmd.Context()); err != nil {
				return err
			}
			if token == "" {
				app.Logger.Warn("no --token set, the record API is unauthenticated")
			}

			handler := api.NewBackendRouter(&api.Backend{
				Store:   app.Remote,
				Token:   token,
				Version: Version,
				Logger:  app.Logger,
			})

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			fmt.Fprintf(cmd.OutOrStdout(), "account-record service (%s store) starting on %s\n", app.Config.Remote.Kind, listen)
			return listenAndServe(ctx, listen, handler)
		}),
	}
	cmd.Flags().StringVar(&listen, "listen", ":8090", "Address to listen on")
	cmd.Flags().StringVar(&token, "token", "", "Bearer token clients must present")
	return cmd
}

func newRemotePingCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ping",
		Short: "Check that the configured http remote is reachable",
		Args:  cobra.NoArgs,
		RunE: withApp(appOptions{needsRemote: true}, func(app *App, cmd *cobra.Command, args []string) error {
			if app.Client == nil {
				return fmt.Errorf("remote kind %q has no ping; use the http remote", app.Config.Remote.Kind)
			}
			resp, err := app.Client.Ping(cmd.Context())
			if err != nil {
				return fmt.Errorf("PING FAILED: %s: %w", app.Endpoint.BaseURL(), err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "PING OK: %s: version %s\n", app.Endpoint.BaseURL(), resp.Version)
			return nil
		}),
	}
}

// listenAndServe serves handler until ctx is done, then shuts down gracefully.
func listenAndServe(ctx context.Context, addr string, handler http.Handler) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

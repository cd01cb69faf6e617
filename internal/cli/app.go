package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/rflorenc/fitsync/internal/config"
	"github.com/rflorenc/fitsync/internal/db"
	"github.com/rflorenc/fitsync/internal/history"
	"github.com/rflorenc/fitsync/internal/localstore"
	"github.com/rflorenc/fitsync/internal/migration"
	"github.com/rflorenc/fitsync/internal/models"
	"github.com/rflorenc/fitsync/internal/remote"
)

// App holds what a command needs, built once per invocation.
type App struct {
	Config *config.Config
	Logger *slog.Logger

	// DB is nil unless the command asked for it.
	DB *db.DB

	// Remote is nil unless the command asked for it. Endpoint and Client are
	// only set for the HTTP remote.
	Remote   remote.Store
	Endpoint *models.RemoteEndpoint
	Client   *remote.Client

	// Migrations is set when DB is. Without Remote it runs offline and only
	// local queries succeed.
	Migrations *migration.Manager

	closers []func()
}

// Close releases everything the App opened. Safe to call more than once.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

type appOptions struct {
	needsDB     bool
	needsRemote bool
}

type runFunc func(app *App, cmd *cobra.Command, args []string) error

// withApp wraps a command's run function with config loading and resource
// setup. Everything is closed when fn returns.
func withApp(opts appOptions, fn runFunc) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		app, err := bootstrap(cmd, opts)
		if err != nil {
			return err
		}
		defer app.Close()
		return fn(app, cmd, args)
	}
}

func bootstrap(cmd *cobra.Command, opts appOptions) (*App, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	level, _ := cfg.SlogLevel()
	logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))

	app := &App{Config: cfg, Logger: logger}

	if opts.needsDB {
		database, err := db.OpenAndMigrate(cfg.LocalDB)
		if err != nil {
			return nil, fmt.Errorf("opening local database: %w", err)
		}
		app.DB = database
		app.closers = append(app.closers, func() { database.Close() })
		logger.Debug("local database ready", "path", database.Path())
	}

	if opts.needsRemote {
		if err := app.openRemote(cmd.Context()); err != nil {
			app.Close()
			return nil, err
		}
	}

	if app.DB != nil {
		store := app.Remote
		if store == nil {
			store = offlineStore{}
		}
		policy, err := migration.NewPolicy(cfg.Conflicts.Default, cfg.Conflicts.Overrides)
		if err != nil {
			app.Close()
			return nil, fmt.Errorf("conflicts: %w", err)
		}
		mgr, err := migration.NewManager(migration.Options{
			Local:   localstore.NewSQLiteStore(app.DB),
			Remote:  store,
			History: history.NewSQLiteStore(app.DB),
			Policy:  policy,
			Logger:  logger,
		})
		if err != nil {
			app.Close()
			return nil, err
		}
		app.Migrations = mgr
	}
	return app, nil
}

// offlineStore stands in for the remote in commands that only read local
// state.
type offlineStore struct{}

var _ remote.Store = offlineStore{}

func (offlineStore) GetAccountRecord(context.Context, string, string) ([]byte, bool, error) {
	return nil, false, fmt.Errorf("remote not opened for this command: %w", remote.ErrUnavailable)
}

func (offlineStore) PutAccountRecord(context.Context, string, string, []byte) error {
	return fmt.Errorf("remote not opened for this command: %w", remote.ErrUnavailable)
}

// openRemote connects the configured remote store and wraps it with the
// configured rate and timeout limits.
func (a *App) openRemote(ctx context.Context) error {
	rc := a.Config.Remote
	if err := rc.Validate(); err != nil {
		return err
	}

	var store remote.Store
	switch rc.Kind {
	case config.RemoteHTTP:
		ep := rc.Endpoint
		a.Endpoint = &ep
		a.Client = remote.NewClient(a.Endpoint, remote.ClientOptions{Timeout: rc.Timeout})
		store = a.Client
	case config.RemoteMongo:
		if ctx == nil {
			ctx = context.Background()
		}
		connectCtx, cancel := context.WithTimeout(ctx, rc.Timeout)
		defer cancel()
		client, err := remote.ConnectToMongoDB(connectCtx, rc.MongoURI, a.Logger)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, func() {
			if err := client.Disconnect(context.Background()); err != nil {
				a.Logger.Warn("disconnecting from MongoDB", "error", err)
			}
		})
		store = remote.NewMongoStore(remote.NewMongoProvider(client, rc.MongoDatabase))
	case config.RemoteMemory:
		a.Logger.Warn("using the in-memory remote; pushed records are lost on exit")
		store = remote.NewMemoryStore()
	}

	a.Remote = remote.WithLimits(store, remote.Limits{
		RatePerSec: rc.RatePerSec,
		Burst:      rc.Burst,
		Timeout:    rc.Timeout,
	})
	return nil
}

// loadConfig loads the config file and applies the persistent flags that
// were set on the command line.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	flags := cmd.Flags()
	path, _ := flags.GetString("config")
	if path == "" {
		if _, err := os.Stat("fitsync.yaml"); err == nil {
			path = "fitsync.yaml"
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if flags.Changed("log-level") {
		cfg.LogLevel, _ = flags.GetString("log-level")
	}
	if flags.Changed("local-db") {
		cfg.LocalDB, _ = flags.GetString("local-db")
	}
	if flags.Changed("remote") {
		cfg.Remote.Kind, _ = flags.GetString("remote")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

package mvserver

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/rs/zerolog"

	"github.com/surrealdb/multiversion"
	"github.com/surrealdb/multiversion/pkg/compaction"
	"github.com/surrealdb/multiversion/pkg/logger"
	"github.com/surrealdb/multiversion/pkg/negotiator"
	"github.com/surrealdb/multiversion/pkg/storage"
	"github.com/surrealdb/multiversion/pkg/storage/memstore"
	"github.com/surrealdb/multiversion/pkg/storage/postgres"
)

// App holds the application state.
type App struct {
	config     *Config
	adaptor    storage.Adaptor
	pg         *postgres.Store
	manager    *multiversion.Manager
	negotiator negotiator.Negotiator
	policy     multiversion.CompactionPolicy
	logData    *logger.LogData
	logger     zerolog.Logger
}

// New creates the application and its storage adaptor from config.
func New(config *Config) (*App, error) {
	if config.PostgresDSN == "" {
		return NewWithAdaptor(config, memstore.New())
	}
	pg, err := postgres.New(config.PostgresDSN)
	if err != nil {
		return nil, err
	}
	app, err := NewWithAdaptor(config, pg)
	if err != nil {
		_ = pg.Close()
		return nil, err
	}
	app.pg = pg
	return app, nil
}

// NewWithAdaptor creates the application on top of an existing adaptor.
func NewWithAdaptor(config *Config, adaptor storage.Adaptor) (*App, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	build := logger.New().Level(config.LogLevel).Console(true).FromBuffer(os.Stderr)
	if config.LogFile != "" {
		build = build.FromPath(config.LogFile)
	}
	logData, err := build.Make()
	if err != nil {
		return nil, fmt.Errorf("failed to set up logging: %w", err)
	}

	app := &App{
		config:  config,
		adaptor: adaptor,
		logData: logData,
		logger:  logData.Logger,
		policy:  multiversion.KeepNone{},
	}
	if config.CompactPolicy != "" {
		app.policy, err = compaction.Compile(config.CompactPolicy)
		if err != nil {
			_ = logData.Close()
			return nil, err
		}
	}

	app.manager, err = multiversion.New(adaptor,
		multiversion.WithLogger(app.logger),
		multiversion.WithDefaultWorkspace(config.DefaultWorkspace),
	)
	if err != nil {
		_ = logData.Close()
		return nil, err
	}
	app.negotiator = negotiator.Chain{
		negotiator.Header{Resolver: app.manager.Workspaces()},
		negotiator.Default{ID: app.manager.DefaultWorkspace()},
	}
	return app, nil
}

// Manager returns the application's multiversion manager.
func (a *App) Manager() *multiversion.Manager {
	return a.manager
}

// Open rebuilds the in-memory indices from the adaptor, if it keeps a
// catalog. Every command except migrate calls it first.
func (a *App) Open(ctx context.Context) error {
	if _, ok := a.adaptor.(storage.Catalog); !ok {
		return nil
	}
	if err := a.manager.Restore(ctx); err != nil {
		return fmt.Errorf("failed to restore indices: %w", err)
	}
	return nil
}

// Migrate creates or extends the PostgreSQL schema.
func (a *App) Migrate(ctx context.Context, _ *MigrateCommand) error {
	if a.pg == nil {
		return errors.New("migrate needs the PostgreSQL adaptor")
	}
	a.logger.Info().Msg("running database migrations")
	if err := a.pg.Migrate(ctx); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	a.logger.Info().Msg("migrations completed")
	return nil
}

// Close releases the database connection and the log file.
func (a *App) Close() error {
	var errs []error
	if a.pg != nil {
		errs = append(errs, a.pg.Close())
	}
	errs = append(errs, a.logData.Close())
	return errors.Join(errs...)
}

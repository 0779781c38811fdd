// Package app builds the ChatPPT object graph from the loaded configuration.
package app

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/uptrace/bun"
	"go.uber.org/zap"

	"github.com/chatppt/chatppt/internal/chat"
	"github.com/chatppt/chatppt/internal/config"
	"github.com/chatppt/chatppt/internal/export"
	"github.com/chatppt/chatppt/internal/health"
	"github.com/chatppt/chatppt/internal/sessions"
	"github.com/chatppt/chatppt/internal/transport"
)

// AppState holds all application services
type AppState struct {
	Logger         *zap.Logger
	Config         *config.Config
	Client         *transport.Client
	Generator      transport.Generator
	Exporter       *export.Coordinator
	SessionService *sessions.SessionService
	Machine        *chat.Machine
	Health         *health.Manager

	db  *bun.DB
	rdb redis.UniversalClient
}

// New creates and wires the application state. config.Load must have been called.
func New(ctx context.Context, logger *zap.Logger) (*AppState, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	as := &AppState{
		Logger: logger,
		Config: config.Get(),
		Health: health.NewManager(logger),
	}

	store, err := as.openStore(ctx)
	if err != nil {
		as.closeStores()
		return nil, err
	}
	as.SessionService = sessions.NewSessionService(store, logger)

	backend := config.Backend()
	as.Client = transport.NewClient(backend.BaseURL,
		transport.WithRequestTimeout(backend.RequestTimeout()),
		transport.WithLogger(logger))
	as.Health.AddChecker(health.NewBackendChecker(as.Client))

	switch backend.Mode {
	case config.BackendModePoll:
		as.Generator = transport.NewPollGenerator(as.Client, backend.PollInterval())
	default:
		as.Generator = transport.NewStreamGenerator(as.Client)
	}

	exportCfg := config.Export()
	as.Exporter = export.NewCoordinator(as.Client,
		export.WithPollInterval(exportCfg.PollInterval()),
		export.WithLogger(logger))
	as.Health.AddChecker(health.NewDirectoryChecker("download_dir", exportCfg.DownloadDir, false))

	as.Machine, err = chat.NewMachine(chat.Config{
		Generator:   as.Generator,
		Exporter:    as.Exporter,
		Sessions:    as.SessionService,
		Rag:         as.Client,
		DownloadDir: exportCfg.DownloadDir,
		Logger:      logger,
	})
	if err != nil {
		as.closeStores()
		return nil, fmt.Errorf("failed to create conversation machine: %w", err)
	}

	logger.Info("Application state initialized",
		zap.String("backend", backend.BaseURL),
		zap.String("mode", backend.Mode),
		zap.String("storage", config.Storage().Driver))

	return as, nil
}

func (as *AppState) openStore(ctx context.Context) (sessions.SessionStore, error) {
	storage := config.Storage()

	switch storage.Driver {
	case config.StorageMemory:
		return sessions.NewInMemoryStore(), nil

	case config.StorageFile:
		store, err := sessions.NewFileStore(storage.FileDir, as.Logger)
		if err != nil {
			return nil, fmt.Errorf("failed to open session directory: %w", err)
		}
		as.Health.AddChecker(health.NewDirectoryChecker("session_files", storage.FileDir, true))
		return store, nil

	case config.StoragePostgres:
		pgConfig := config.Postgres()
		as.Logger.Info("Database configuration",
			zap.String("host", pgConfig.Host),
			zap.Int("port", pgConfig.Port),
			zap.String("database", pgConfig.Database),
			zap.String("user", pgConfig.User))

		db, err := sessions.OpenDB(ctx, pgConfig.DSN(), pgConfig.MaxOpenConnections)
		if err != nil {
			return nil, err
		}
		as.db = db
		if err := sessions.CreateTables(ctx, db); err != nil {
			return nil, fmt.Errorf("failed to run migrations: %w", err)
		}
		as.Health.AddChecker(health.NewDatabaseChecker(db))
		return sessions.NewPostgresStore(db), nil

	case config.StorageRedis:
		redisConfig := config.Redis()
		as.rdb = redis.NewClient(&redis.Options{
			Addr:     redisConfig.Addr(),
			Password: redisConfig.Password,
			DB:       redisConfig.Database,
		})
		as.Health.AddChecker(health.NewRedisChecker(as.rdb))
		return sessions.NewRedisStore(as.rdb, redisConfig.KeyPrefix), nil
	}

	return nil, fmt.Errorf("unknown storage driver %q", storage.Driver)
}

// Close stops in-flight work and releases storage connections
func (as *AppState) Close(ctx context.Context) error {
	if as.Machine != nil {
		as.Machine.StopGeneration()
		if err := as.Machine.Wait(ctx); err != nil {
			as.Logger.Warn("Generation did not finish before shutdown", zap.Error(err))
		}
	}
	if as.Exporter != nil {
		as.Exporter.Reset()
	}
	return as.closeStores()
}

func (as *AppState) closeStores() error {
	var firstErr error
	if as.db != nil {
		if err := as.db.Close(); err != nil {
			firstErr = err
		}
		as.db = nil
	}
	if as.rdb != nil {
		if err := as.rdb.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		as.rdb = nil
	}
	return firstErr
}

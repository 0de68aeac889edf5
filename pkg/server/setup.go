package server

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/coder/quartz"
	"go.uber.org/zap"

	"github.com/nicktill/tinytrack/pkg/auth"
	"github.com/nicktill/tinytrack/pkg/cache"
	"github.com/nicktill/tinytrack/pkg/export"
	"github.com/nicktill/tinytrack/pkg/ingest"
	"github.com/nicktill/tinytrack/pkg/publish"
	"github.com/nicktill/tinytrack/pkg/server/monitor"
	"github.com/nicktill/tinytrack/pkg/stats"
	"github.com/nicktill/tinytrack/pkg/storage"
	"github.com/nicktill/tinytrack/pkg/storage/badger"
	"github.com/nicktill/tinytrack/pkg/storage/memory"
	"github.com/nicktill/tinytrack/pkg/storage/postgres"
	"github.com/nicktill/tinytrack/pkg/storage/sqlite"
)

// App is a fully wired server: storage, handlers and their collaborators.
type App struct {
	Config Config
	Log    *zap.Logger

	Store          storage.Storage
	StorageMonitor *monitor.StorageMonitor // nil for backends without a local data dir
	WriteMonitor   *monitor.WriteMonitor
	Metrics        *Metrics
	Auth           *auth.Authenticator

	Ingest *ingest.Handler
	Stats  *stats.Handler
	Export *export.Handler

	closers []func() error
}

// New opens storage and wires every component described by cfg.
func New(ctx context.Context, cfg Config, log *zap.Logger) (*App, error) {
	if log == nil {
		log = zap.NewNop()
	}
	app := &App{
		Config:       cfg,
		Log:          log,
		WriteMonitor: &monitor.WriteMonitor{},
		Metrics:      NewMetrics(),
	}

	store, err := InitializeStorage(ctx, cfg, log)
	if err != nil {
		return nil, err
	}
	app.Store = store
	app.closers = append(app.closers, store.Close)

	if cfg.Storage == BackendBadger || cfg.Storage == BackendSQLite {
		app.StorageMonitor = monitor.NewStorageMonitor(cfg.DataDir, cfg.MaxStorageBytes())
		log.Info("storage limit enforcement enabled",
			zap.String("dir", cfg.DataDir),
			zap.Float64("max_gb", float64(cfg.MaxStorageBytes())/(1024*1024*1024)),
		)
	}

	if app.Auth, err = initializeAuth(cfg, log); err != nil {
		app.Close()
		return nil, err
	}

	publisher, err := initializePublisher(cfg, log)
	if err != nil {
		app.Close()
		return nil, err
	}
	app.closers = append(app.closers, publisher.Close)

	snapshotCache, err := initializeCache(ctx, cfg, log)
	if err != nil {
		app.Close()
		return nil, err
	}
	if c, ok := snapshotCache.(*cache.Redis); ok {
		app.closers = append(app.closers, c.Close)
	}

	app.Ingest = ingest.NewHandler(store, log)
	app.Ingest.SetWriteRecorder(app.WriteMonitor)
	app.Ingest.SetPublisher(publisher)
	app.Ingest.SetRecorder(app.Metrics)
	if app.StorageMonitor != nil {
		app.Ingest.SetStorageChecker(app.StorageMonitor)
	}
	if cfg.RateLimit > 0 {
		app.Ingest.SetLimiter(ingest.NewSessionLimiter(cfg.RateLimit, cfg.RateBurst, quartz.NewReal()))
		log.Info("per-session rate limit enabled", zap.Float64("per_second", cfg.RateLimit), zap.Int("burst", cfg.RateBurst))
	}

	// Values already in the log count towards the cardinality limit.
	existing, err := store.Snapshot(ctx, 1)
	if err != nil {
		app.Close()
		return nil, fmt.Errorf("seed cardinality: %w", err)
	}
	app.Ingest.Cardinality().Seed(existing)
	app.Metrics.RegisterCardinality(app.Ingest.Cardinality())
	log.Info("ingest handler created", zap.Int64("existing_events", existing.TotalEvents))

	engine := stats.NewEngine(store, log)
	engine.SetCache(snapshotCache)
	engine.SetRecorder(app.Metrics)
	app.Stats = stats.NewHandler(engine)

	app.Export = export.NewHandler(export.NewExporter(store), log)

	return app, nil
}

// Close releases everything New opened, newest first.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// InitializeStorage opens the backend selected by cfg.Storage.
func InitializeStorage(ctx context.Context, cfg Config, log *zap.Logger) (storage.Storage, error) {
	switch cfg.Storage {
	case BackendMemory:
		log.Warn("using in-memory storage, events are lost on restart")
		return memory.New(), nil

	case BackendBadger:
		if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
			return nil, fmt.Errorf("create data directory: %w", err)
		}
		store, err := badger.New(badger.Config{
			Path:        cfg.DataDir,
			MaxMemoryMB: cfg.MaxMemoryMB,
		})
		if err != nil {
			return nil, fmt.Errorf("open badger: %w", err)
		}
		log.Info("badger storage initialized", zap.String("dir", cfg.DataDir), zap.Int64("max_memory_mb", cfg.MaxMemoryMB))
		return store, nil

	case BackendSQLite:
		if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
			return nil, fmt.Errorf("create data directory: %w", err)
		}
		path := filepath.Join(cfg.DataDir, "tinytrack.db")
		store, err := sqlite.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		log.Info("sqlite storage initialized", zap.String("path", path))
		return store, nil

	case BackendPostgres:
		store, err := postgres.New(ctx, postgres.Config{URL: cfg.PostgresURL})
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		log.Info("postgres storage initialized")
		return store, nil
	}
	return nil, fmt.Errorf("unknown storage backend %q", cfg.Storage)
}

func initializeAuth(cfg Config, log *zap.Logger) (*auth.Authenticator, error) {
	secret := []byte(cfg.JWTSecret)
	if len(secret) == 0 {
		// Nobody knows this key, so /export rejects every token until a secret is configured.
		secret = make([]byte, 32)
		if _, err := rand.Read(secret); err != nil {
			return nil, fmt.Errorf("generate jwt secret: %w", err)
		}
		log.Warn("TINYTRACK_JWT_SECRET not set, /export is locked")
	}
	a, err := auth.New(secret, cfg.JWTIssuer)
	if err != nil {
		return nil, fmt.Errorf("TINYTRACK_JWT_SECRET: %w", err)
	}
	return a, nil
}

func initializePublisher(cfg Config, log *zap.Logger) (publish.Publisher, error) {
	if len(cfg.KafkaBrokers) == 0 {
		return publish.Nop{}, nil
	}
	k, err := publish.NewKafka(cfg.KafkaBrokers, cfg.KafkaTopic, func(err error) {
		log.Warn("kafka delivery failed", zap.Error(err))
	})
	if err != nil {
		return nil, fmt.Errorf("kafka publisher: %w", err)
	}
	log.Info("publishing events to kafka", zap.Strings("brokers", cfg.KafkaBrokers), zap.String("topic", cfg.KafkaTopic))
	return k, nil
}

func initializeCache(ctx context.Context, cfg Config, log *zap.Logger) (cache.SnapshotCache, error) {
	switch {
	case cfg.StatsCacheTTL == 0:
		return cache.Nop{}, nil
	case cfg.RedisAddr != "":
		r, err := cache.NewRedis(ctx, cfg.RedisAddr, cfg.StatsCacheTTL)
		if err != nil {
			return nil, fmt.Errorf("redis cache: %w", err)
		}
		log.Info("stats cache: redis", zap.String("addr", cfg.RedisAddr), zap.Duration("ttl", cfg.StatsCacheTTL))
		return r, nil
	default:
		return cache.NewLocal(cfg.StatsCacheTTL, quartz.NewReal()), nil
	}
}

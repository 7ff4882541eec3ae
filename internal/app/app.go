// Package app wires configuration into the long-lived pieces the binaries
// share: the database, the optional Redis, the Mailgun profiles and the
// event reconciler.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/redis/go-redis/v9"

	"github.com/socivy/rebel/internal/archive"
	"github.com/socivy/rebel/internal/config"
	"github.com/socivy/rebel/internal/mailgun"
	"github.com/socivy/rebel/internal/pkg/distlock"
	"github.com/socivy/rebel/internal/pkg/logger"
	"github.com/socivy/rebel/internal/repository/postgres"
	"github.com/socivy/rebel/internal/service/reconcile"
	"github.com/socivy/rebel/internal/service/suppression"
)

// App holds the shared dependencies. Redis is nil when not configured or
// unreachable.
type App struct {
	Config     *config.Config
	DB         *sql.DB
	Redis      *redis.Client
	Registry   *mailgun.Registry
	Deliveries *postgres.DeliveryRepo
	Reconciler *reconcile.Reconciler

	// Suppressions filters owners that complained or unsubscribed. Pass
	// Suppressions.Filter to dispatch.WithOwnerValidator.
	Suppressions *suppression.Service

	// lockDB backs advisory locks when Redis is nil. It is kept apart from
	// DB so a lock holder never waits on the pool its own lock pins.
	lockDB *sql.DB
}

// ConfigureLogger applies the log section of cfg to the default logger.
func ConfigureLogger(cfg config.LogConfig) {
	logger.SetLevel(logger.ParseLevel(cfg.Level))
	if cfg.RedactPII != nil {
		logger.SetRedactPII(*cfg.RedactPII)
	}
}

// New opens the database and Redis and builds the reconciler.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	if cfg.Database.URL == "" {
		return nil, fmt.Errorf("config: database.url (or DATABASE_URL) is required")
	}

	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if cfg.Database.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	}
	if cfg.Database.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	}
	db.SetConnMaxLifetime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	logger.Info("app: connected to database")

	a := &App{
		Config:     cfg,
		DB:         db,
		Redis:      connectRedis(ctx, cfg.Redis),
		Registry:   mailgun.NewRegistry(cfg.Rebel),
		Deliveries: postgres.NewDeliveryRepo(db),

		Suppressions: suppression.NewService(postgres.NewSuppressionRepo(db)),
	}

	if a.Redis == nil {
		a.lockDB, err = openLockPool(cfg.Database)
		if err != nil {
			a.Close()
			return nil, err
		}
	}
	opts := []reconcile.Option{
		reconcile.WithLocks(distlock.NewFactory(a.Redis, a.lockDB, cfg.Redis.LockTTL()), 0),
	}
	if cfg.Archive.Enabled {
		arc, err := archive.NewFromConfig(ctx, cfg.Archive)
		if err != nil {
			a.Close()
			return nil, err
		}
		opts = append(opts, reconcile.WithArchive(arc))
	}
	a.Reconciler = reconcile.New(a.Deliveries, a.Registry, opts...)
	return a, nil
}

// connectRedis returns nil when Redis is unset or does not answer, in which
// case locks fall back to Postgres advisory locks.
func connectRedis(ctx context.Context, cfg config.RedisConfig) *redis.Client {
	if cfg.Addr == "" {
		logger.Info("app: redis not configured, using postgres advisory locks")
		return nil
	}

	var client *redis.Client
	if opts, err := redis.ParseURL(cfg.Addr); err == nil {
		client = redis.NewClient(opts)
	} else {
		client = redis.NewClient(&redis.Options{Addr: cfg.Addr, Password: cfg.Password, DB: cfg.DB})
	}

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		logger.Warn("app: redis unreachable, using postgres advisory locks", "error", err)
		client.Close()
		return nil
	}
	logger.Info("app: redis connected")
	return client
}

func openLockPool(cfg config.DatabaseConfig) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("open lock pool: %w", err)
	}
	db.SetMaxOpenConns(cfg.LockPoolSize())
	db.SetMaxIdleConns(cfg.LockPoolSize())
	db.SetConnMaxLifetime(5 * time.Minute)
	return db, nil
}

// Close releases the connections.
func (a *App) Close() {
	if a.lockDB != nil {
		a.lockDB.Close()
	}
	if a.Redis != nil {
		a.Redis.Close()
	}
	if a.DB != nil {
		a.DB.Close()
	}
}

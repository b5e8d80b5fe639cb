// Package bootstrap opens the configured appointment store for the
// api-server and seed commands.
package bootstrap

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.uber.org/zap"

	"github.com/hackgods/doctor-appointment-booking/internal/appointment"
	"github.com/hackgods/doctor-appointment-booking/internal/config"
	"github.com/hackgods/doctor-appointment-booking/internal/db"
	redisclient "github.com/hackgods/doctor-appointment-booking/internal/redis"
)

// Backend is an opened store plus what the process needs to watch and
// release it.
type Backend struct {
	Store  appointment.Store
	Checks map[string]func(ctx context.Context) error
	Close  func()
}

// OpenStore connects the backend named by cfg.StoreBackend, prepares its
// schema or indexes and wraps it in a circuit breaker when enabled.
func OpenStore(ctx context.Context, cfg config.Config, log *zap.Logger) (*Backend, error) {
	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	b, err := open(connectCtx, cfg, log)
	if err != nil {
		return nil, err
	}

	if cfg.BreakerEnabled && cfg.StoreBackend != config.BackendMemory {
		b.Store = appointment.NewBreakerStore(b.Store, appointment.BreakerSettings{
			Name:        cfg.StoreBackend,
			MaxFailures: cfg.BreakerMaxFailures,
			OpenTimeout: cfg.BreakerOpenTimeout,
		}, log)
	}

	return b, nil
}

func open(ctx context.Context, cfg config.Config, log *zap.Logger) (*Backend, error) {
	switch cfg.StoreBackend {
	case config.BackendMemory:
		log.Warn("using in-memory store, appointments are lost on restart")
		return &Backend{
			Store:  appointment.NewMemoryStore(),
			Checks: map[string]func(context.Context) error{},
			Close:  func() {},
		}, nil

	case config.BackendPostgres:
		pool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, err
		}
		if err := db.MigratePostgres(ctx, pool, log); err != nil {
			pool.Close()
			return nil, err
		}
		log.Info("connected to postgres")
		return &Backend{
			Store:  appointment.NewPgStore(pool),
			Checks: map[string]func(context.Context) error{"postgres": pool.Ping},
			Close:  pool.Close,
		}, nil

	case config.BackendMongo:
		client, err := db.ConnectMongo(ctx, cfg.MongoURI)
		if err != nil {
			return nil, err
		}
		store := appointment.NewMongoStore(client.Database(cfg.MongoDatabase))
		if err := store.EnsureIndexes(ctx); err != nil {
			_ = client.Disconnect(context.Background())
			return nil, err
		}
		log.Info("connected to mongo", zap.String("database", cfg.MongoDatabase))
		return &Backend{
			Store: store,
			Checks: map[string]func(context.Context) error{
				"mongo": func(ctx context.Context) error { return client.Ping(ctx, readpref.Primary()) },
			},
			Close: func() {
				if err := client.Disconnect(context.Background()); err != nil {
					log.Warn("error disconnecting mongo", zap.Error(err))
				}
			},
		}, nil

	case config.BackendRedis:
		rdb, err := redisclient.NewClient(ctx, cfg.RedisAddr, cfg.RedisUsername, cfg.RedisPassword)
		if err != nil {
			return nil, err
		}
		log.Info("connected to redis", zap.String("addr", cfg.RedisAddr))
		return &Backend{
			Store: redisclient.NewStore(rdb, cfg.RedisKeyPrefix),
			Checks: map[string]func(context.Context) error{
				"redis": func(ctx context.Context) error { return rdb.Ping(ctx).Err() },
			},
			Close: func() {
				if err := rdb.Close(); err != nil {
					log.Warn("error closing redis", zap.Error(err))
				}
			},
		}, nil
	}

	return nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
}

// RetryPolicy maps the store settings from cfg onto the service policy.
func RetryPolicy(cfg config.Config) appointment.RetryPolicy {
	return appointment.RetryPolicy{
		MaxAttempts:     cfg.StoreMaxAttempts,
		AttemptTimeout:  cfg.StoreTimeout,
		InitialInterval: cfg.RetryInitialInterval,
		MaxInterval:     cfg.RetryMaxInterval,
	}
}

// Package bootstrap assembles the collaborators shared by the binaries.
package bootstrap

import (
	"context"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"

	"github.com/DavidJBarnes/wanly-api/internal/adapter/memory"
	"github.com/DavidJBarnes/wanly-api/internal/adapter/repo"
	"github.com/DavidJBarnes/wanly-api/internal/domain"
	"github.com/DavidJBarnes/wanly-api/internal/infra"
)

// Backend is a store together with the catalog it reads references from.
type Backend interface {
	domain.Store
	domain.Catalog
}

// OpenStore returns the configured store and a function releasing it. The
// postgres schema is created when missing.
func OpenStore(ctx context.Context, cfg *infra.Config, logger infra.Logger) (Backend, func(), error) {
	switch cfg.StoreDriver {
	case infra.StoreDriverMemory:
		logger.Warn().Msg("bootstrap: using in-memory store, state is lost on exit")
		return memory.New(), func() {}, nil
	case infra.StoreDriverPostgres:
		pool, err := infra.NewDBPool(ctx, cfg)
		if err != nil {
			return nil, nil, err
		}
		store := repo.NewStore(infra.NewSQLRunner(pool, infra.Component(logger, "sql")))
		if err := store.Migrate(ctx); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("migrate schema: %w", err)
		}
		return store, pool.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}
}

// DialAMQP connects to the broker.
func DialAMQP(cfg *infra.Config) (*amqp.Connection, error) {
	conn, err := amqp.Dial(cfg.AMQPURL)
	if err != nil {
		return nil, fmt.Errorf("connect amqp: %w", err)
	}
	return conn, nil
}

// NewRedisClient connects to redis and verifies it answers.
func NewRedisClient(ctx context.Context, cfg *infra.Config) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr: cfg.RedisAddr,
		DB:   cfg.RedisDB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	return client, nil
}

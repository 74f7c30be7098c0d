package redisclient

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hackgods/clinic-scheduling/internal/config"
)

// ClientOptions holds what the practitioner lock needs from a redis server.
type ClientOptions struct {
	Addr     string
	Username string
	Password string
	PoolSize int
}

// OptionsFromConfig sizes the pool so every database connection can hold a
// practitioner lock without waiting on a redis connection.
func OptionsFromConfig(cfg config.Config) ClientOptions {
	return ClientOptions{
		Addr:     cfg.RedisAddr,
		Username: cfg.RedisUsername,
		Password: cfg.RedisPassword,
		PoolSize: max(cfg.PostgresMaxConn, 10),
	}
}

// NewRedisClient connects and pings. The caller owns Close.
func NewRedisClient(ctx context.Context, opts ClientOptions) (*redis.Client, error) {
	if opts.PoolSize <= 0 {
		opts.PoolSize = 10
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:         opts.Addr,
		Username:     opts.Username,
		Password:     opts.Password,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
		PoolSize:     opts.PoolSize,
		MinIdleConns: 1,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping redis %s: %w", opts.Addr, err)
	}

	return rdb, nil
}

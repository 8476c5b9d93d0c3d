package database

import (
	"context"
	"net"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisConfig describes the Redis instance backing the list cache and the
// shared submission limiter.
type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
	// PoolSize caps open connections. Zero keeps the go-redis default.
	PoolSize int
	// ClientName shows up in CLIENT LIST.
	ClientName  string
	DialTimeout time.Duration
}

func DefaultRedisConfig() RedisConfig {
	return RedisConfig{Host: "localhost", Port: 6379, DialTimeout: 3 * time.Second}
}

func (c RedisConfig) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

func (c RedisConfig) options() *redis.Options {
	return &redis.Options{
		Addr:        c.Addr(),
		Password:    c.Password,
		DB:          c.DB,
		PoolSize:    c.PoolSize,
		ClientName:  c.ClientName,
		DialTimeout: c.DialTimeout,
	}
}

// NewRedisClient dials Redis and pings it, retrying like the Postgres pool
// does. A client that never answers is closed before returning.
func NewRedisClient(ctx context.Context, cfg RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(cfg.options())
	err := startupRetry.do(ctx, nil, "ping redis", nil, func(ctx context.Context) error {
		return client.Ping(ctx).Err()
	})
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	return client, nil
}

// RedisPinger adapts client to a health check.
func RedisPinger(client redis.UniversalClient) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		return client.Ping(ctx).Err()
	}
}

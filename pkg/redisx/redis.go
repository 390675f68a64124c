package redisx

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultAddr = "localhost:6379"

type Config struct {
	Addr     string
	Password string
	DB       int
}

// FromEnv reads REDIS_ADDR, REDIS_PASSWORD and REDIS_DB.
func FromEnv() Config {
	cfg := Config{
		Addr:     os.Getenv("REDIS_ADDR"),
		Password: os.Getenv("REDIS_PASSWORD"),
	}
	if cfg.Addr == "" {
		cfg.Addr = defaultAddr
	}
	if db, err := strconv.Atoi(os.Getenv("REDIS_DB")); err == nil {
		cfg.DB = db
	}
	return cfg
}

// NewClient builds a go-redis client for c. Pub/sub connections block on
// reads for as long as no message arrives, so the read timeout only applies
// to regular commands.
func NewClient(c Config) *redis.Client {
	addr := c.Addr
	if addr == "" {
		addr = defaultAddr
	}
	return redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     c.Password,
		DB:           c.DB,
		DialTimeout:  10 * time.Second,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		PoolSize:     100,
		MinIdleConns: 2,
	})
}

// Ping checks that the server answers within timeout.
func Ping(ctx context.Context, rdb *redis.Client, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("failed to connect redis at %s: %w", rdb.Options().Addr, err)
	}
	return nil
}

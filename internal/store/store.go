// Package store is the key/value persistence the market cache sits on.
package store

import (
	"context"
	"errors"
	"fmt"
)

// ErrNotFound is returned by Get when the key is absent
var ErrNotFound = errors.New("store: key not found")

// Store is a flat key/value namespace. Values are opaque bytes.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, keys ...string) error
	// Keys lists every key starting with prefix; "" lists all keys
	Keys(ctx context.Context, prefix string) ([]string, error)
	Close() error
}

// Config selects and configures a driver
type Config struct {
	Driver     string      `yaml:"driver"` // memory | sqlite | redis
	SQLitePath string      `yaml:"sqlite_path"`
	Redis      RedisConfig `yaml:"redis"`
}

// Open builds the store named by cfg.Driver
func Open(ctx context.Context, cfg Config) (Store, error) {
	switch cfg.Driver {
	case "", "memory":
		return NewMemory(), nil
	case "sqlite":
		return NewSQLite(cfg.SQLitePath)
	case "redis":
		return NewRedis(ctx, cfg.Redis)
	default:
		return nil, fmt.Errorf("store: unknown driver %q", cfg.Driver)
	}
}

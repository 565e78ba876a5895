// Package storage provides the string-valued key-value store that backs session persistence.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"helixar/internal/config"
	"helixar/internal/redis"
)

// Well-known keys.
const (
	KeySessions = "sessions"
	KeyTheme    = "theme"
	KeyAccent   = "accent"
)

var ErrUnsupportedDriver = errors.New("unsupported storage driver")

// KV is a blocking key-value store of serialized values.
// Get reports a missing key with ok=false and a nil error.
type KV interface {
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	Set(ctx context.Context, key, value string) error
}

// Store is a KV that owns resources which must be released.
type Store interface {
	KV
	io.Closer
}

// New builds the backend selected by cfg.Storage.Driver.
func New(cfg *config.Config) (Store, error) {
	driver := strings.ToLower(cfg.Storage.Driver)
	switch driver {
	case "memory":
		return NewMemoryStore(), nil
	case "sqlite", "sqlite3", "mysql":
		db, err := Open(driver, cfg)
		if err != nil {
			return nil, err
		}
		if err := Migrate(db, driver); err != nil {
			db.Close()
			return nil, err
		}
		return NewSQLStore(db, driver), nil
	case "redis":
		client, err := redis.NewRedisClient(cfg.Redis)
		if err != nil {
			return nil, err
		}
		return NewRedisStore(client), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedDriver, cfg.Storage.Driver)
	}
}

// Package persist defines the key-value backends that keep bot sessions and
// callback bindings across restarts.
package persist

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/go-redis/redis/v8"
	"github.com/jmoiron/sqlx"

	"github.com/m3rciful/wgbot/core/logger"
)

// KV is a namespaced byte store. Load returns the whole namespace so callers
// can rebuild their in-memory view at startup and write through on every change.
type KV interface {
	Load(ctx context.Context, namespace string) (map[string][]byte, error)
	Put(ctx context.Context, namespace, key string, value []byte) error
	Delete(ctx context.Context, namespace string, keys ...string) error
	Clear(ctx context.Context, namespace string) error
	Close() error
}

// Backend names accepted by Config.Backend.
const (
	BackendSQLite = "sqlite"
	BackendRedis    = "redis"
	BackendMemory   = "memory"
	BackendDatabase = "database"
)

// ErrUnknownBackend is returned by Open for unsupported backend names.
var ErrUnknownBackend = errors.New("persist: unknown backend")

// ErrNoDatabase is returned by Open for the database backend without WithDB.
var ErrNoDatabase = errors.New("persist: database backend needs a connection")

// Config selects and configures a KV backend.
type Config struct {
	Backend       string `yaml:"backend" envconfig:"STATE_BACKEND"`
	Path          string `yaml:"path" envconfig:"STATE_PATH"`
	RedisAddr     string `yaml:"redis_addr" envconfig:"STATE_REDIS_ADDR"`
	RedisPassword string `yaml:"redis_password" envconfig:"STATE_REDIS_PASSWORD"`
	RedisDB       int    `yaml:"redis_db" envconfig:"STATE_REDIS_DB"`
	Prefix        string `yaml:"prefix" envconfig:"STATE_PREFIX"`
}

// OpenOption customises Open.
type OpenOption func(*openOptions)

type openOptions struct {
	db *sqlx.DB
}

// WithDB hands Open the application database for the database backend.
// Open never closes it.
func WithDB(db *sqlx.DB) OpenOption {
	return func(o *openOptions) { o.db = db }
}

// Open builds the configured backend.
func Open(ctx context.Context, cfg Config, opts ...OpenOption) (KV, error) {
	backend := strings.ToLower(strings.TrimSpace(cfg.Backend))
	if backend == "" {
		backend = BackendSQLite
	}
	var o openOptions
	for _, opt := range opts {
		opt(&o)
	}

	var (
		kv  KV
		err error
	)
	switch backend {
	case BackendMemory:
		kv = NewMemory()
	case BackendSQLite:
		path := cfg.Path
		if path == "" {
			path = "data/state.db"
		}
		kv, err = OpenSQLite(ctx, path)
	case BackendDatabase:
		if o.db == nil {
			err = ErrNoDatabase
		} else {
			kv, err = NewSQL(ctx, o.db)
		}
	case BackendRedis:
		addr := cfg.RedisAddr
		if addr == "" {
			addr = "localhost:6379"
		}
		client := redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err = client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			err = fmt.Errorf("redis ping: %w", err)
		} else {
			kv = NewRedis(client, cfg.Prefix)
		}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, cfg.Backend)
	}
	if err != nil {
		logger.State.Error("kv open failed",
			slog.String("event", "kv.open"),
			slog.String("backend", backend),
			slog.String("err", err.Error()),
		)
		return nil, err
	}
	logger.State.Info("kv opened",
		slog.String("event", "kv.open"),
		slog.String("backend", backend),
	)
	return kv, nil
}

package storage

import (
	"context"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/Skotchmaster/blytz_client/pkg/db"
)

const redisPrefix = "blytz"

// Open picks an adapter from the DSN: redis://, postgres://, memory:, or a
// SQLite file path. The returned func releases the underlying connection.
func Open(ctx context.Context, dsn string) (KV, func() error, error) {
	switch {
	case dsn == "" || dsn == "memory:":
		return NewMemory(), func() error { return nil }, nil

	case strings.HasPrefix(dsn, "redis://") || strings.HasPrefix(dsn, "rediss://"):
		opts, err := redis.ParseURL(dsn)
		if err != nil {
			return nil, nil, fmt.Errorf("parse redis url: %w", err)
		}
		client := redis.NewClient(opts)
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, nil, fmt.Errorf("redis ping: %w", err)
		}
		return NewRedis(client, redisPrefix), client.Close, nil

	default:
		gdb, err := db.Open(ctx, dsn)
		if err != nil {
			return nil, nil, err
		}
		kv, err := NewGorm(gdb)
		if err != nil {
			db.Close(gdb)
			return nil, nil, err
		}
		return kv, func() error { return db.Close(gdb) }, nil
	}
}

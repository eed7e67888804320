package storage

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/glebarez/sqlite"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func newGormKV(t *testing.T) *GormKV {
	t.Helper()
	gdb, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := gdb.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	kv, err := NewGorm(gdb)
	require.NoError(t, err)
	return kv
}

func newRedisKV(t *testing.T) (*RedisKV, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedis(client, "test"), mr
}

func adapters(t *testing.T) map[string]KV {
	rkv, _ := newRedisKV(t)
	return map[string]KV{
		"memory": NewMemory(),
		"gorm":   newGormKV(t),
		"redis":  rkv,
	}
}

func TestKV_Contract(t *testing.T) {
	for name, kv := range adapters(t) {
		kv := kv
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			_, err := kv.Get(ctx, "missing")
			assert.ErrorIs(t, err, ErrNotFound)

			require.NoError(t, kv.Set(ctx, "access_token", "a1"))
			v, err := kv.Get(ctx, "access_token")
			require.NoError(t, err)
			assert.Equal(t, "a1", v)

			require.NoError(t, kv.Set(ctx, "access_token", "a2"))
			v, err = kv.Get(ctx, "access_token")
			require.NoError(t, err)
			assert.Equal(t, "a2", v)

			require.NoError(t, kv.Delete(ctx, "access_token"))
			_, err = kv.Get(ctx, "access_token")
			assert.ErrorIs(t, err, ErrNotFound)

			require.NoError(t, kv.Delete(ctx, "never-set"))
		})
	}
}

func TestJSONHelpers(t *testing.T) {
	ctx := context.Background()
	kv := NewMemory()

	type entry struct {
		Name  string `json:"name"`
		Count int    `json:"count"`
	}

	require.NoError(t, SetJSON(ctx, kv, "e", entry{Name: "x", Count: 2}))

	var got entry
	require.NoError(t, GetJSON(ctx, kv, "e", &got))
	assert.Equal(t, entry{Name: "x", Count: 2}, got)

	assert.ErrorIs(t, GetJSON(ctx, kv, "nope", &got), ErrNotFound)

	require.NoError(t, kv.Set(ctx, "bad", "{"))
	assert.Error(t, GetJSON(ctx, kv, "bad", &got))
}

func TestGetString_MissingIsEmpty(t *testing.T) {
	v, err := GetString(context.Background(), NewMemory(), "refresh_token")
	require.NoError(t, err)
	assert.Empty(t, v)
}

func TestRedisKV_UsesPrefix(t *testing.T) {
	kv, mr := newRedisKV(t)
	require.NoError(t, kv.Set(context.Background(), "auth-storage", "{}"))

	v, err := mr.Get("test:auth-storage")
	require.NoError(t, err)
	assert.Equal(t, "{}", v)
}

func TestOpen_Adapters(t *testing.T) {
	ctx := context.Background()

	kv, closeFn, err := Open(ctx, "memory:")
	require.NoError(t, err)
	assert.IsType(t, &Memory{}, kv)
	require.NoError(t, closeFn())

	kv, closeFn, err = Open(ctx, ":memory:")
	require.NoError(t, err)
	assert.IsType(t, &GormKV{}, kv)
	require.NoError(t, closeFn())

	mr := miniredis.RunT(t)
	kv, closeFn, err = Open(ctx, "redis://"+mr.Addr())
	require.NoError(t, err)
	assert.IsType(t, &RedisKV{}, kv)
	require.NoError(t, closeFn())
}

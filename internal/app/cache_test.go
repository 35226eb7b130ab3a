package app

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smg1208/audio-crawler/pkg/config"
)

func TestOpenCache(t *testing.T) {
	ctx := context.Background()

	t.Run("none", func(t *testing.T) {
		for _, backend := range []string{"", "none"} {
			c, closeFn, err := openCache(ctx, config.CacheConfig{Backend: backend})
			require.NoError(t, err)
			assert.Nil(t, c)
			assert.Nil(t, closeFn)
		}
	})

	t.Run("sqlite", func(t *testing.T) {
		cfg := config.CacheConfig{
			Backend: "sqlite",
			Path:    filepath.Join(t.TempDir(), "data", "cache.db"),
			TTL:     config.Duration(config.Day),
		}
		c, closeFn, err := openCache(ctx, cfg)
		require.NoError(t, err)
		defer closeFn()

		require.NoError(t, c.SetCache(ctx, "k", []byte("v")))
		got, ok := c.GetCache(ctx, "k")
		require.True(t, ok)
		assert.Equal(t, []byte("v"), got)
	})

	t.Run("redis", func(t *testing.T) {
		mr := miniredis.RunT(t)
		cfg := config.CacheConfig{Backend: "redis", RedisAddr: mr.Addr(), Prefix: "test"}
		c, closeFn, err := openCache(ctx, cfg)
		require.NoError(t, err)
		defer closeFn()

		require.NoError(t, c.SetCache(ctx, "k", []byte("v")))
		got, ok := c.GetCache(ctx, "k")
		require.True(t, ok)
		assert.Equal(t, []byte("v"), got)
		assert.True(t, mr.Exists("test:chunk:k"))
	})

	t.Run("redis unreachable", func(t *testing.T) {
		mr := miniredis.RunT(t)
		addr := mr.Addr()
		mr.Close()
		_, _, err := openCache(ctx, config.CacheConfig{Backend: "redis", RedisAddr: addr})
		assert.ErrorContains(t, err, "failed to connect to redis")
	})

	t.Run("unknown", func(t *testing.T) {
		_, _, err := openCache(ctx, config.CacheConfig{Backend: "memcached"})
		assert.ErrorContains(t, err, "unknown cache backend")
	})
}

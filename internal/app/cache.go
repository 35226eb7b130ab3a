package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/redis/go-redis/v9"

	"github.com/smg1208/audio-crawler/pkg/cache"
	"github.com/smg1208/audio-crawler/pkg/config"
	"github.com/smg1208/audio-crawler/pkg/db"
)

// openCache opens the configured chunk cache backend. A nil Cacher means
// caching is disabled.
func openCache(ctx context.Context, cfg config.CacheConfig) (cache.Cacher, func() error, error) {
	switch cfg.Backend {
	case "", "none":
		return nil, nil, nil

	case "sqlite":
		d, err := db.Init(cfg.Path)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to initialize cache database: %w", err)
		}
		if ttl := cfg.TTL.Std(); ttl > 0 {
			n, err := d.PruneCache(ttl)
			if err != nil {
				slog.Warn("App: cache prune failed", "error", err)
			} else if n > 0 {
				slog.Info("App: pruned expired cache entries", "count", n)
			}
		}
		if entries, size, err := d.CacheStats(ctx); err == nil {
			slog.Debug("App: chunk cache opened", "path", cfg.Path, "entries", entries, "size", humanize.Bytes(uint64(size)))
		}
		return cache.NewSQLiteCache(d), d.Close, nil

	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			client.Close()
			return nil, nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.RedisAddr, err)
		}
		c := cache.NewRedisCache(client, cache.WithTTL(cfg.TTL.Std()), cache.WithPrefix(cfg.Prefix))
		return c, client.Close, nil

	default:
		return nil, nil, fmt.Errorf("unknown cache backend: %q", cfg.Backend)
	}
}

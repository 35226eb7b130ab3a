package core

import (
	"context"
	"log/slog"
	"time"

	"github.com/smg1208/audio-crawler/pkg/cache"
	"github.com/smg1208/audio-crawler/pkg/logging"
	"github.com/smg1208/audio-crawler/pkg/tracker"
	"github.com/smg1208/audio-crawler/pkg/tts"
)

// instrumented serves chunks from the cache when possible and records
// metrics for every real provider call.
type instrumented struct {
	tts.Provider
	cache   *cache.ChunkCache
	tracker *tracker.Tracker
}

func instrument(p tts.Provider, cc *cache.ChunkCache, t *tracker.Tracker) tts.Provider {
	return &instrumented{Provider: p, cache: cc, tracker: t}
}

func (i *instrumented) Synthesize(ctx context.Context, text, voice string) (*tts.Audio, error) {
	name := i.Name()
	key := voice
	if key == "" {
		if dv, ok := i.Provider.(defaultVoicer); ok {
			key = dv.DefaultVoice()
		}
	}

	if i.cache != nil {
		if a, ok := i.cache.Get(ctx, name, key, text); ok {
			i.tracker.TrackCacheHit(name)
			logging.TraceDefault("Scheduler: chunk served from cache", "provider", name, "bytes", len(a.Data))
			return a, nil
		}
		i.tracker.TrackCacheMiss(name)
	}

	start := time.Now()
	a, err := i.Provider.Synthesize(ctx, text, voice)
	i.tracker.TrackSynthesis(name, time.Since(start), err)
	if err != nil {
		return nil, err
	}

	if i.cache != nil && len(a.Data) > 0 {
		if err := i.cache.Put(ctx, name, key, text, a); err != nil {
			slog.Warn("Scheduler: failed to cache chunk", "provider", name, "error", err)
		}
	}
	return a, nil
}

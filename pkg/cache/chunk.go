package cache

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"

	"github.com/smg1208/audio-crawler/pkg/tts"
)

// ChunkCache keys chunk audio by provider, voice and exact text.
type ChunkCache struct {
	c Cacher
}

// NewChunkCache wraps a Cacher.
func NewChunkCache(c Cacher) *ChunkCache {
	return &ChunkCache{c: c}
}

// Key returns the cache key of a chunk.
func Key(provider, voice, text string) string {
	h := sha256.New()
	for _, part := range []string{provider, voice, text} {
		h.Write([]byte(part))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Get returns cached audio for the chunk.
func (cc *ChunkCache) Get(ctx context.Context, provider, voice, text string) (*tts.Audio, bool) {
	val, ok := cc.c.GetCache(ctx, Key(provider, voice, text))
	if !ok {
		return nil, false
	}
	// Stored as format, NUL, audio bytes
	i := bytes.IndexByte(val, 0)
	if i < 0 || i == len(val)-1 {
		return nil, false
	}
	return &tts.Audio{Format: string(val[:i]), Data: val[i+1:]}, true
}

// Put stores chunk audio. Empty audio is not cached.
func (cc *ChunkCache) Put(ctx context.Context, provider, voice, text string, audio *tts.Audio) error {
	if audio == nil || len(audio.Data) == 0 {
		return nil
	}
	val := make([]byte, 0, len(audio.Format)+1+len(audio.Data))
	val = append(val, audio.Format...)
	val = append(val, 0)
	val = append(val, audio.Data...)
	return cc.c.SetCache(ctx, Key(provider, voice, text), val)
}

package tts

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"
)

// Throttle wraps p so that at most requestsPerMinute Synthesize calls start per
// minute, shared by every goroutine using the returned provider. A non-positive
// rate returns p unchanged.
func Throttle(p Provider, requestsPerMinute int) Provider {
	if requestsPerMinute <= 0 {
		return p
	}
	return &throttled{
		Provider: p,
		limiter:  rate.NewLimiter(rate.Every(time.Minute/time.Duration(requestsPerMinute)), 1),
	}
}

type throttled struct {
	Provider
	limiter *rate.Limiter
}

func (t *throttled) Synthesize(ctx context.Context, text, voice string) (*Audio, error) {
	if err := t.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter wait: %w", err)
	}
	return t.Provider.Synthesize(ctx, text, voice)
}

// Voices forwards to the wrapped provider when it lists voices.
func (t *throttled) Voices(ctx context.Context) ([]Voice, error) {
	if vl, ok := t.Provider.(VoiceLister); ok {
		return vl.Voices(ctx)
	}
	return nil, fmt.Errorf("%s does not list voices", t.Name())
}

// DefaultVoice forwards to the wrapped provider.
func (t *throttled) DefaultVoice() string {
	if dv, ok := t.Provider.(interface{ DefaultVoice() string }); ok {
		return dv.DefaultVoice()
	}
	return ""
}

package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/smg1208/audio-crawler/pkg/logging"
	"github.com/smg1208/audio-crawler/pkg/tts"
)

// Result is a verified chunk artifact.
type Result struct {
	Path     string
	Format   string
	Size     int64
	Attempts int
}

// Controller runs one provider call under a Policy.
type Controller struct {
	policy  Policy
	backoff *Backoff
	sleep   func(ctx context.Context, d time.Duration) error
}

// Option configures a Controller.
type Option func(*Controller)

// WithBackoff shares a per-provider cooldown across controllers.
func WithBackoff(b *Backoff) Option {
	return func(c *Controller) { c.backoff = b }
}

// WithSleep replaces the backoff sleep, mainly for tests.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(c *Controller) { c.sleep = fn }
}

// New creates a Controller.
func New(policy Policy, opts ...Option) *Controller {
	c := &Controller{policy: policy, sleep: sleepCtx}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Policy returns the controller's policy.
func (c *Controller) Policy() Policy { return c.policy }

// Synthesize calls p until it yields a non-empty artifact at basePath plus
// the audio format extension. Fatal errors stop immediately. The returned
// error always matches tts.ErrSynthesisFailed and keeps the last cause; the
// Result returned with it carries only the attempt count.
func (c *Controller) Synthesize(ctx context.Context, p tts.Provider, text, voice, basePath string) (*Result, error) {
	name := p.Name()
	pol := c.policy.withBase(p.Capabilities().RetryDelay)
	attempts := pol.Attempts()

	var last error
	made := 0
	for attempt := 0; attempt < attempts; attempt++ {
		if c.backoff != nil {
			if err := c.backoff.Wait(ctx, name); err != nil {
				last = err
				break
			}
		}

		made++
		res, err := c.attempt(ctx, p, text, voice, basePath, pol.AttemptTimeout)
		if err == nil {
			if c.backoff != nil {
				c.backoff.RecordSuccess(name)
			}
			res.Attempts = made
			logging.TraceDefault("Retry: chunk synthesized", "provider", name, "attempts", made, "bytes", res.Size)
			return res, nil
		}
		last = err

		if ctx.Err() != nil || tts.IsFatal(err) {
			break
		}
		if errors.Is(err, tts.ErrRateLimited) && c.backoff != nil {
			c.backoff.RecordFailure(name)
		}
		if attempt == attempts-1 {
			break
		}

		delay, sleep := c.delay(name, pol.Delay(attempt))
		slog.Warn("Retry: attempt failed, backing off",
			"provider", name, "attempt", made, "max", attempts, "delay", delay, "error", err)
		if sleep <= 0 {
			continue
		}
		if err := c.sleep(ctx, sleep); err != nil {
			break
		}
	}

	return &Result{Attempts: made}, &tts.Error{
		Provider: name,
		Kind:     tts.ErrSynthesisFailed,
		Message:  fmt.Sprintf("gave up after %d attempt(s)", made),
		Fatal:    tts.IsFatal(last),
		Err:      last,
	}
}

// delay returns the wait before the next attempt and the part of it to sleep
// here. The wait is the longer of the policy delay and the provider's shared
// cooldown; the cooldown itself is served by Backoff.Wait.
func (c *Controller) delay(provider string, policy time.Duration) (wait, sleep time.Duration) {
	if c.backoff == nil {
		return policy, policy
	}
	_, next := c.backoff.State(provider)
	cooling := time.Until(next)
	if cooling <= 0 {
		return policy, policy
	}
	return max(policy, cooling), policy - cooling
}

func (c *Controller) attempt(ctx context.Context, p tts.Provider, text, voice, basePath string, timeout time.Duration) (*Result, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	audio, err := p.Synthesize(ctx, text, voice)
	if err != nil {
		return nil, err
	}

	path, err := WriteArtifact(basePath, audio)
	if err != nil {
		return nil, err
	}
	if err := tts.VerifyAudioFile(path); err != nil {
		os.Remove(path)
		return nil, tts.Failed(p.Name(), 0, "artifact verification failed", err)
	}
	return &Result{Path: path, Format: audio.Format, Size: int64(len(audio.Data))}, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

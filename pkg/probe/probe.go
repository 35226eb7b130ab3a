package probe

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/smg1208/audio-crawler/pkg/tts"
)

// DefaultTimeout bounds a probe that sets no Timeout of its own.
const DefaultTimeout = 5 * time.Second

// CheckFunc is a function that performs a health check.
// It returns nil if the check passes, or an error if it fails.
type CheckFunc func(ctx context.Context) error

// Probe represents a single startup check.
type Probe struct {
	Name     string
	Check    CheckFunc
	Critical bool // If true, a failure here should prevent the job from starting.
	Timeout  time.Duration
}

// Result holds the outcome of a single probe.
type Result struct {
	Probe    Probe
	Error    error
	Duration time.Duration
}

// Run executes a list of probes and returns their results.
// Each check gets its own timeout even if the parent context is long-lived.
func Run(ctx context.Context, probes []Probe) []Result {
	results := make([]Result, len(probes))

	for i, p := range probes {
		start := time.Now()

		timeout := p.Timeout
		if timeout <= 0 {
			timeout = DefaultTimeout
		}
		checkCtx, cancel := context.WithTimeout(ctx, timeout)

		err := p.Check(checkCtx)
		cancel()

		results[i] = Result{
			Probe:    p,
			Error:    err,
			Duration: time.Since(start),
		}
	}

	return results
}

// AnalyzeResults aggregates the results and returns a combined error if critical probes failed.
func AnalyzeResults(results []Result) error {
	var criticalErrors []error

	slog.Info("Startup Checks Summary")

	for _, r := range results {
		status := "PASS"
		if r.Error != nil {
			status = "FAIL"
		}

		msg := fmt.Sprintf("[%s] %-20s (%v)", status, r.Probe.Name, r.Duration.Round(time.Millisecond))

		switch {
		case r.Error == nil:
			slog.Info(msg)
		case r.Probe.Critical:
			slog.Error(msg, "error", r.Error)
			criticalErrors = append(criticalErrors, fmt.Errorf("%s: %w", r.Probe.Name, r.Error))
		default:
			slog.Warn(msg, "error", r.Error)
		}
	}

	if len(criticalErrors) > 0 {
		return errors.Join(criticalErrors...)
	}

	return nil
}

// Providers builds one probe per provider. The first provider is critical
// only when requirePrimary is set. With listVoices, providers that enumerate
// voices are also asked for their voice list, which exercises credentials
// against the backend.
func Providers(providers []tts.Provider, requirePrimary, listVoices bool) []Probe {
	probes := make([]Probe, 0, len(providers))
	for i, p := range providers {
		probes = append(probes, Probe{
			Name:     p.Name(),
			Check:    providerCheck(p, listVoices),
			Critical: requirePrimary && i == 0,
			Timeout:  15 * time.Second,
		})
	}
	return probes
}

// AnyProvider is a critical probe that passes when at least one of the
// providers can serve requests.
func AnyProvider(providers []tts.Provider) Probe {
	return Probe{
		Name:     "tts chain",
		Critical: true,
		Check: func(context.Context) error {
			for _, p := range providers {
				if p.IsAvailable() {
					return nil
				}
			}
			return fmt.Errorf("none of %d providers is available: %w", len(providers), tts.ErrProviderUnavailable)
		},
	}
}

func providerCheck(p tts.Provider, listVoices bool) CheckFunc {
	return func(ctx context.Context) error {
		if !p.IsAvailable() {
			return tts.Unavailable(p.Name(), "credentials or local dependency missing")
		}
		if !listVoices {
			return nil
		}
		vl, ok := p.(tts.VoiceLister)
		if !ok {
			return nil
		}
		voices, err := vl.Voices(ctx)
		if err != nil {
			return fmt.Errorf("failed to list voices: %w", err)
		}
		if len(voices) == 0 {
			return errors.New("provider returned no voices")
		}
		return nil
	}
}

// Binary checks that an external tool needed for a full-quality run exists.
func Binary(name string, available func() bool) Probe {
	return Probe{
		Name: name,
		Check: func(context.Context) error {
			if !available() {
				return fmt.Errorf("%s not found in PATH", name)
			}
			return nil
		},
	}
}

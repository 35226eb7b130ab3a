// Package ttstest provides a scripted tts.Provider for tests.
package ttstest

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/smg1208/audio-crawler/pkg/tts"
)

// Fake is a tts.Provider whose behaviour is scripted per call.
type Fake struct {
	ProviderName string
	Caps         tts.Capabilities
	Unavailable  bool
	Format       string
	// Voice is reported by DefaultVoice.
	Voice string
	// Delay is slept inside every Synthesize call, honouring ctx.
	Delay time.Duration
	// Errors[n] is returned by the n-th call (0-based). Calls past the end,
	// or with a nil entry, succeed.
	Errors []error
	// Fail, when set, is consulted for every call after Errors.
	Fail func(call int, text string) error
	// Empty makes successful calls return zero bytes.
	Empty bool

	calls       atomic.Int64
	inFlight    atomic.Int64
	maxInFlight atomic.Int64

	mu     sync.Mutex
	texts  []string
	voices []string
}

// New returns a Fake with generous limits.
func New(name string) *Fake {
	return &Fake{
		ProviderName: name,
		Caps:         tts.Capabilities{MaxBytes: 4000, Concurrency: 16},
		Format:       "mp3",
	}
}

// Name implements tts.Provider.
func (f *Fake) Name() string { return f.ProviderName }

// Capabilities implements tts.Provider.
func (f *Fake) Capabilities() tts.Capabilities { return f.Caps }

// IsAvailable implements tts.Provider.
func (f *Fake) IsAvailable() bool { return !f.Unavailable }

// DefaultVoice returns Voice.
func (f *Fake) DefaultVoice() string { return f.Voice }

// Synthesize implements tts.Provider.
func (f *Fake) Synthesize(ctx context.Context, text, voice string) (*tts.Audio, error) {
	call := int(f.calls.Add(1)) - 1

	cur := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		prev := f.maxInFlight.Load()
		if cur <= prev || f.maxInFlight.CompareAndSwap(prev, cur) {
			break
		}
	}

	f.mu.Lock()
	f.texts = append(f.texts, text)
	f.voices = append(f.voices, voice)
	f.mu.Unlock()

	if f.Delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(f.Delay):
		}
	}

	if call < len(f.Errors) && f.Errors[call] != nil {
		return nil, f.Errors[call]
	}
	if f.Fail != nil {
		if err := f.Fail(call, text); err != nil {
			return nil, err
		}
	}
	if f.Empty {
		return &tts.Audio{Format: f.Format}, nil
	}
	return &tts.Audio{Data: []byte(f.ProviderName + ":" + text), Format: f.Format}, nil
}

// Calls returns how many times Synthesize was entered.
func (f *Fake) Calls() int { return int(f.calls.Load()) }

// MaxInFlight returns the highest number of concurrent Synthesize calls seen.
func (f *Fake) MaxInFlight() int { return int(f.maxInFlight.Load()) }

// Texts returns the text of every call in arrival order.
func (f *Fake) Texts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.texts...)
}

// VoicesSeen returns the voice argument of every call in arrival order.
func (f *Fake) VoicesSeen() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.voices...)
}

// AlwaysFail returns a Fail hook that fails every call with err.
func AlwaysFail(err error) func(int, string) error {
	return func(int, string) error { return err }
}

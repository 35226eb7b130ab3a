package tts

import (
	"context"
	"time"
)

// Capabilities is the declared size and rate contract of a provider.
// It is fixed at construction and safe to read from any goroutine.
type Capabilities struct {
	// MaxBytes is the largest request the backend accepts, in UTF-8 bytes.
	MaxBytes int
	// MaxSentenceLength is the longest sentence, in characters, the backend
	// speaks reliably. Zero means no sentence limit.
	MaxSentenceLength int
	// Concurrency is how many tasks may use the provider at the same time.
	Concurrency int
	// RetryDelay is the preferred base backoff. Zero uses the job default.
	RetryDelay time.Duration
}

// Audio is the result of one synthesis call.
type Audio struct {
	Data []byte
	// Format is the file extension of Data without the dot ("mp3", "wav").
	Format string
}

// Provider defines the interface for Text-To-Speech engines.
type Provider interface {
	// Name is the registry name of the provider ("edge-tts", "google-cloud").
	Name() string

	// Capabilities returns the request limits of the provider.
	Capabilities() Capabilities

	// IsAvailable reports whether credentials and local dependencies are
	// present. It never performs network I/O.
	IsAvailable() bool

	// Synthesize converts text to audio. Voice may be empty to use the
	// provider default.
	Synthesize(ctx context.Context, text, voice string) (*Audio, error)
}

// VoiceLister is implemented by providers that can enumerate voices.
type VoiceLister interface {
	Voices(ctx context.Context) ([]Voice, error)
}

// Voice represents an available TTS voice.
type Voice struct {
	ID       string
	Name     string
	Language string
	IsNeural bool
}

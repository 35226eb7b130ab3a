package core

import (
	"context"

	"github.com/smg1208/audio-crawler/pkg/audio"
)

// TextReader returns the text behind a task's text reference.
type TextReader interface {
	ReadText(ctx context.Context, ref string) (string, error)
}

// Concatenator merges rendered chunk files into a task's output.
type Concatenator interface {
	Concat(ctx context.Context, parts []string, outputPath string) (*audio.ConcatResult, error)
}

// defaultVoicer is implemented by providers that resolve an empty voice to a
// configured default. The resolved voice keys the chunk cache.
type defaultVoicer interface {
	DefaultVoice() string
}

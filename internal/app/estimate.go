package app

import (
	"context"
	"errors"
	"fmt"
	"unicode/utf8"

	"github.com/smg1208/audio-crawler/pkg/chunker"
	"github.com/smg1208/audio-crawler/pkg/tts"
)

// Estimate is the size of a job as one provider would see it.
type Estimate struct {
	Provider  string
	Available bool
	Chapters  int
	Runes     int
	Bytes     int
	Chunks    int
	// Empty counts chapters with no speakable text.
	Empty int
}

// Estimate measures the selected chapters of job against every configured provider.
func (a *App) Estimate(ctx context.Context, job string, from, to int) ([]Estimate, error) {
	tasks, err := a.Tasks(ctx, job, from, to, "")
	if err != nil {
		return nil, err
	}
	chain, err := a.Chain()
	if err != nil {
		return nil, err
	}

	texts := make([]string, 0, len(tasks))
	for _, t := range tasks {
		text, err := a.Source.ReadText(ctx, t.TextRef)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", t.Label, err)
		}
		texts = append(texts, text)
	}

	var out []Estimate
	for _, p := range chain.Providers() {
		e := Estimate{Provider: p.Name(), Available: p.IsAvailable(), Chapters: len(texts)}
		limits := chunker.LimitsFor(p.Capabilities())
		for _, text := range texts {
			e.Runes += utf8.RuneCountInString(text)
			e.Bytes += len(text)
			chunks, err := chunker.Split(text, limits)
			switch {
			case errors.Is(err, tts.ErrEmptyInput):
				e.Empty++
			case err != nil:
				return nil, fmt.Errorf("%s: %w", p.Name(), err)
			default:
				e.Chunks += len(chunks)
			}
		}
		out = append(out, e)
	}
	return out, nil
}

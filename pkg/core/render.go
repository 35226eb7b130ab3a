package core

import (
	"context"
	"errors"
)

type staticText string

func (t staticText) ReadText(context.Context, string) (string, error) { return string(t), nil }

// Render synthesizes text into output through the fallback chain, outside
// any job. deps.Ledger and deps.Reader are not used.
func Render(ctx context.Context, deps Deps, text, voice, output string, maxRetries int) (TaskResult, error) {
	switch {
	case deps.Chain == nil:
		return TaskResult{}, errors.New("render: provider chain required")
	case deps.Concat == nil:
		return TaskResult{}, errors.New("render: concatenator required")
	}
	deps.Reader = staticText(text)
	s := &Scheduler{deps: deps.withDefaults()}

	r := s.runTask(ctx, Task{Label: "text", OutputRef: output, Voice: voice}, s.controller(maxRetries))
	s.deps.Tracker.TrackTask(r.Status.String())
	if r.Err != nil {
		return r, r.Err
	}
	return r, nil
}

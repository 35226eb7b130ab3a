package core

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/smg1208/audio-crawler/pkg/chunker"
	"github.com/smg1208/audio-crawler/pkg/ledger"
	"github.com/smg1208/audio-crawler/pkg/logging"
	"github.com/smg1208/audio-crawler/pkg/retry"
	"github.com/smg1208/audio-crawler/pkg/tts"
)

// rendered is what one provider produced for a task.
type rendered struct {
	path     string
	chunks   int
	attempts int
	degraded bool
}

// runTask renders one task through the fallback chain. It never panics the
// worker and always returns a completed or failed result.
func (s *Scheduler) runTask(ctx context.Context, t Task, ctrl *retry.Controller) TaskResult {
	start := time.Now()
	res := TaskResult{Index: t.Index, Label: t.Label, Output: t.OutputRef, Status: ledger.StatusFailed}

	text, err := s.deps.Reader.ReadText(ctx, t.TextRef)
	if err != nil {
		res.Err = fmt.Errorf("failed to read text: %w", err)
		res.Duration = time.Since(start)
		return res
	}

	if err := os.MkdirAll(filepath.Dir(t.OutputRef), 0o755); err != nil {
		res.Err = fmt.Errorf("failed to create output directory: %w", err)
		res.Duration = time.Since(start)
		return res
	}

	primary := s.deps.Chain.Primary().Name()
	var out rendered
	provider, err := s.deps.Chain.Run(ctx, func(ctx context.Context, p tts.Provider) error {
		voice := ""
		if p.Name() == primary {
			voice = t.Voice
		}
		r, err := s.render(ctx, p, text, voice, t.OutputRef, ctrl)
		out.attempts += r.attempts
		if err != nil {
			return err
		}
		out.path, out.chunks, out.degraded = r.path, r.chunks, r.degraded
		return nil
	})

	res.Duration = time.Since(start)
	res.Attempts = out.attempts
	if err != nil {
		res.Err = err
		return res
	}

	res.Status = ledger.StatusCompleted
	res.Provider = provider
	res.Output = out.path
	res.Chunks = out.chunks
	res.Degraded = out.degraded
	return res
}

// render chunks text for p, synthesizes every chunk and concatenates the
// parts into output. Part files never outlive the call.
func (s *Scheduler) render(ctx context.Context, p tts.Provider, text, voice, output string, ctrl *retry.Controller) (rendered, error) {
	var r rendered

	chunks, err := chunker.Split(text, chunker.LimitsFor(p.Capabilities()))
	if err != nil {
		if errors.Is(err, tts.ErrEmptyInput) {
			return r, err
		}
		return r, tts.Failed(p.Name(), 0, "chunking failed", err)
	}
	r.chunks = len(chunks)

	ip := instrument(p, s.deps.Cache, s.deps.Tracker)
	base := strings.TrimSuffix(output, filepath.Ext(output))

	parts := make([]string, 0, len(chunks))
	for _, c := range chunks {
		partBase := fmt.Sprintf("%s.part_%03d", base, c.Index)
		cr, err := ctrl.Synthesize(ctx, ip, c.Text, voice, partBase)
		r.attempts += cr.Attempts
		if err != nil {
			removeAll(parts)
			return r, fmt.Errorf("chunk %d/%d: %w", c.Index+1, len(chunks), err)
		}
		logging.TraceDefault("Scheduler: chunk done", "provider", p.Name(), "chunk", c.Index, "of", len(chunks), "bytes", cr.Size)
		parts = append(parts, cr.Path)
	}

	cres, err := s.deps.Concat.Concat(ctx, parts, output)
	if err != nil {
		return r, tts.Failed(p.Name(), 0, "concatenation failed", err)
	}
	if err := tts.VerifyAudioFile(cres.Path); err != nil {
		os.Remove(cres.Path)
		return r, tts.Failed(p.Name(), 0, "output verification failed", err)
	}

	r.path = cres.Path
	r.degraded = cres.Degraded
	return r, nil
}

func removeAll(paths []string) {
	for _, p := range paths {
		os.Remove(p)
	}
}

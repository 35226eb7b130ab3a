// Package app wires configuration into providers, storage and the scheduler.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/smg1208/audio-crawler/pkg/audio"
	"github.com/smg1208/audio-crawler/pkg/cache"
	"github.com/smg1208/audio-crawler/pkg/config"
	"github.com/smg1208/audio-crawler/pkg/core"
	"github.com/smg1208/audio-crawler/pkg/failover"
	"github.com/smg1208/audio-crawler/pkg/ledger"
	"github.com/smg1208/audio-crawler/pkg/probe"
	"github.com/smg1208/audio-crawler/pkg/request"
	"github.com/smg1208/audio-crawler/pkg/retry"
	"github.com/smg1208/audio-crawler/pkg/source"
	"github.com/smg1208/audio-crawler/pkg/tracker"
	"github.com/smg1208/audio-crawler/pkg/tts"
)

// App holds the long-lived collaborators of one process.
type App struct {
	Cfg     *config.Config
	Tracker *tracker.Tracker
	Request *request.Client
	Source  *source.Directory
	Concat  *audio.Concatenator
	Backoff *retry.Backoff

	chunks     *cache.ChunkCache
	closeCache func() error

	mu        sync.Mutex
	providers map[string]tts.Provider
}

// New builds an App from cfg. The cache backend is opened here; Close releases it.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	tts.SetLogPath(cfg.Log.TTS.Path)

	tr := tracker.New()
	a := &App{
		Cfg:       cfg,
		Tracker:   tr,
		Request:   request.New(tr, cfg.Request.Timeout.Std()),
		Source:    source.NewDirectory(cfg.Source.Root, cfg.Job.Format),
		Concat:    audio.NewConcatenator(cfg.Concat.FFmpeg),
		Backoff:   retry.NewBackoff(cfg.Request.Backoff.BaseDelay.Std(), cfg.Request.Backoff.MaxDelay.Std()),
		providers: make(map[string]tts.Provider),
	}

	backend, closeFn, err := openCache(ctx, cfg.Cache)
	if err != nil {
		return nil, err
	}
	a.closeCache = closeFn
	if backend != nil {
		a.chunks = cache.NewChunkCache(backend)
	}
	return a, nil
}

// Close releases the cache backend.
func (a *App) Close() error {
	if a.closeCache == nil {
		return nil
	}
	return a.closeCache()
}

// ChunkCache returns the chunk cache, or nil when caching is disabled.
func (a *App) ChunkCache() *cache.ChunkCache { return a.chunks }

// Chain builds the fallback chain from the configured primary and fallbacks.
func (a *App) Chain() (*failover.Chain, error) {
	names := a.providerNames()
	if len(names) == 0 {
		return nil, errors.New("no tts provider configured")
	}
	providers := make([]tts.Provider, 0, len(names))
	for _, n := range names {
		p, err := a.Provider(n)
		if err != nil {
			return nil, err
		}
		providers = append(providers, p)
	}
	return failover.New(providers[0], providers[1:]...)
}

// providerNames resolves aliases before removing duplicates, so "edge" and
// "edge-tts" count once.
func (a *App) providerNames() []string {
	var names []string
	seen := make(map[string]bool)
	for _, n := range a.Cfg.TTS.Providers() {
		n = CanonicalName(n)
		if !seen[n] {
			seen[n] = true
			names = append(names, n)
		}
	}
	return names
}

// Probes returns the startup checks for the configured chain and ffmpeg.
// Only an entirely unavailable chain is critical.
func (a *App) Probes(listVoices bool) ([]probe.Probe, error) {
	chain, err := a.Chain()
	if err != nil {
		return nil, err
	}
	providers := chain.Providers()
	probes := []probe.Probe{probe.AnyProvider(providers)}
	probes = append(probes, probe.Providers(providers, false, listVoices)...)
	return append(probes, probe.Binary(a.Cfg.Concat.FFmpeg, a.Concat.Available)), nil
}

func (a *App) policy() retry.Policy {
	j := a.Cfg.Job
	return retry.Policy{
		MaxRetries:     j.MaxRetries,
		BaseDelay:      j.BaseDelay.Std(),
		MaxDelay:       j.MaxDelay.Std(),
		AttemptTimeout: j.AttemptTimeout.Std(),
		Jitter:         0.1,
	}
}

func (a *App) deps(chain *failover.Chain) core.Deps {
	return core.Deps{
		Chain:   chain,
		Reader:  a.Source,
		Concat:  a.Concat,
		Cache:   a.chunks,
		Tracker: a.Tracker,
		Policy:  a.policy(),
		Backoff: a.Backoff,
	}
}

// JobOptions select and tune one run of a job.
type JobOptions struct {
	core.Options
	// From and To bound the chapter range. Zero leaves that side open.
	From, To int
	Voice    string
}

// Tasks lists the chapters of job within the selected range.
func (a *App) Tasks(ctx context.Context, job string, from, to int, voice string) ([]core.Task, error) {
	records, err := a.Source.ListTasks(ctx, job)
	if err != nil {
		return nil, err
	}
	records = source.Filter(records, from, to)
	if len(records) == 0 {
		return nil, fmt.Errorf("no chapters in range %d-%d: %w", from, to, source.ErrNoChapters)
	}

	tasks := make([]core.Task, 0, len(records))
	for _, r := range records {
		tasks = append(tasks, core.Task{
			Index:     r.Index,
			Label:     r.Label,
			TextRef:   r.TextRef,
			OutputRef: a.Source.OutputPath(job, r),
			Voice:     voice,
		})
	}
	return tasks, nil
}

// RunJob renders every pending chapter of job and exports metrics when done.
func (a *App) RunJob(ctx context.Context, job string, opts JobOptions) (*core.Summary, error) {
	tasks, err := a.Tasks(ctx, job, opts.From, opts.To, opts.Voice)
	if err != nil {
		return nil, err
	}
	chain, err := a.Chain()
	if err != nil {
		return nil, err
	}
	l, err := ledger.Open(a.Source.LedgerPath(job))
	if err != nil {
		return nil, err
	}

	deps := a.deps(chain)
	deps.Ledger = l
	sched, err := core.NewScheduler(deps)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	summary, runErr := sched.RunJob(ctx, tasks, opts.Options)
	slog.Info("App: job done", "job", job, "phase", sched.Phase(), "elapsed", time.Since(start).Round(time.Second), "ledger", l.Path())

	if path := a.Cfg.Metrics.Textfile; path != "" && !opts.DryRun {
		if err := a.Tracker.WriteTextfile(path); err != nil {
			slog.Warn("App: failed to write metrics textfile", "path", path, "error", err)
		}
	}
	return summary, runErr
}

// Say renders text into output outside any job.
func (a *App) Say(ctx context.Context, text, voice, output string) (core.TaskResult, error) {
	chain, err := a.Chain()
	if err != nil {
		return core.TaskResult{}, err
	}
	return core.Render(ctx, a.deps(chain), text, voice, output, 0)
}

// Status opens the ledger of job without changing it.
func (a *App) Status(job string) (*ledger.Ledger, error) {
	return ledger.Open(a.Source.LedgerPath(job))
}

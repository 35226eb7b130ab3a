// Package core runs synthesis jobs: it plans tasks against the ledger,
// dispatches them to a bounded worker pool, and sweeps failed tasks once more
// at the end.
package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/smg1208/audio-crawler/pkg/cache"
	"github.com/smg1208/audio-crawler/pkg/chunker"
	"github.com/smg1208/audio-crawler/pkg/failover"
	"github.com/smg1208/audio-crawler/pkg/ledger"
	"github.com/smg1208/audio-crawler/pkg/retry"
	"github.com/smg1208/audio-crawler/pkg/tracker"
	"github.com/smg1208/audio-crawler/pkg/tts"
)

var (
	// ErrJobFailed is returned when tasks ran and none of them completed.
	ErrJobFailed = errors.New("job failed: no task completed")
	// ErrJobRunning is returned when RunJob is called while a job is active.
	ErrJobRunning = errors.New("a job is already running")
)

// Phase is the state of the job state machine.
type Phase int32

const (
	PhaseIdle Phase = iota
	PhasePlanning
	PhaseRunning
	PhaseRetrySweep
	PhaseDone
)

func (p Phase) String() string {
	switch p {
	case PhasePlanning:
		return "PLANNING"
	case PhaseRunning:
		return "RUNNING"
	case PhaseRetrySweep:
		return "RETRY_SWEEP"
	case PhaseDone:
		return "DONE"
	default:
		return "IDLE"
	}
}

// Task is one chapter to render.
type Task struct {
	Index     int
	Label     string
	TextRef   string
	OutputRef string
	// Voice overrides the primary provider's default voice. Alternates
	// always speak with their own default.
	Voice string
}

// Options tune a single RunJob call.
type Options struct {
	// Concurrency is the worker pool size. Zero uses the primary provider's
	// declared concurrency.
	Concurrency int
	// MaxRetries overrides the attempts per chunk when positive.
	MaxRetries int
	// RetryFailed runs one more pass over tasks that failed.
	RetryFailed bool
	// DryRun plans and chunks without calling providers or touching the ledger.
	DryRun bool
}

// Deps are the collaborators of a Scheduler.
type Deps struct {
	Chain   *failover.Chain
	Ledger  *ledger.Ledger
	Reader  TextReader
	Concat  Concatenator
	Cache   *cache.ChunkCache // optional
	Tracker *tracker.Tracker  // optional
	Policy  retry.Policy
	Backoff *retry.Backoff // optional
	// Sleep replaces the retry backoff sleep, for tests.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Scheduler runs jobs. One job at a time per Scheduler.
type Scheduler struct {
	deps    Deps
	phase   atomic.Int32
	running atomic.Bool
}

// NewScheduler validates deps and returns a Scheduler.
func NewScheduler(deps Deps) (*Scheduler, error) {
	switch {
	case deps.Chain == nil:
		return nil, errors.New("scheduler: provider chain required")
	case deps.Ledger == nil:
		return nil, errors.New("scheduler: ledger required")
	case deps.Reader == nil:
		return nil, errors.New("scheduler: text reader required")
	case deps.Concat == nil:
		return nil, errors.New("scheduler: concatenator required")
	}
	return &Scheduler{deps: deps.withDefaults()}, nil
}

func (d Deps) withDefaults() Deps {
	if d.Tracker == nil {
		d.Tracker = tracker.New()
	}
	if d.Policy.MaxRetries == 0 && d.Policy.MaxDelay == 0 {
		d.Policy = retry.DefaultPolicy()
	}
	return d
}

// Phase returns the current phase of the active or last job.
func (s *Scheduler) Phase() Phase {
	return Phase(s.phase.Load())
}

func (s *Scheduler) setPhase(p Phase) {
	s.phase.Store(int32(p))
	slog.Debug("Scheduler: phase", "phase", p)
}

// RunJob renders tasks and returns the outcome of each. Task failures never
// abort sibling tasks. Cancelling ctx stops dispatch; tasks already handed
// to a worker finish on their own and undispatched tasks stay queued.
func (s *Scheduler) RunJob(ctx context.Context, tasks []Task, opts Options) (*Summary, error) {
	if !s.running.CompareAndSwap(false, true) {
		return nil, ErrJobRunning
	}
	defer s.running.Store(false)
	defer s.setPhase(PhaseDone)

	s.setPhase(PhasePlanning)
	start := time.Now()
	toRun, summary, err := s.plan(tasks, opts.DryRun)
	if err != nil {
		return nil, err
	}

	workers := s.poolSize(opts.Concurrency, len(toRun))
	slog.Info("Scheduler: job planned",
		"tasks", len(tasks), "to_run", len(toRun), "skipped", len(summary.Skipped),
		"workers", workers, "providers", s.providerNames())

	if opts.DryRun {
		summary.Pending = s.dryRun(ctx, toRun)
		slog.Info("Scheduler: dry run complete", "tasks", len(toRun), "chunks", summary.Chunks())
		return summary, nil
	}

	ctrl := s.controller(opts.MaxRetries)

	s.setPhase(PhaseRunning)
	results, pending := s.dispatch(ctx, toRun, workers, ctrl)

	var failed []Task
	byIndex := make(map[int]Task, len(toRun))
	for _, t := range toRun {
		byIndex[t.Index] = t
	}
	for _, r := range results {
		if r.Status == ledger.StatusFailed {
			failed = append(failed, byIndex[r.Index])
		}
	}

	if opts.RetryFailed && len(failed) > 0 && ctx.Err() == nil {
		s.setPhase(PhaseRetrySweep)
		slog.Info("Scheduler: retrying failed tasks", "count", len(failed))
		if err := s.requeue(failed); err != nil {
			return nil, err
		}
		swept, stillPending := s.dispatch(ctx, failed, s.poolSize(opts.Concurrency, len(failed)), ctrl)
		results = mergeResults(results, swept, stillPending)
		pending = append(pending, stillPending...)
	}

	for _, r := range results {
		switch r.Status {
		case ledger.StatusCompleted:
			summary.Completed = append(summary.Completed, r)
		default:
			summary.Failed = append(summary.Failed, r)
		}
	}
	summary.Pending = append(summary.Pending, pending...)
	sortResults(summary)

	slog.Info("Scheduler: job finished",
		"completed", len(summary.Completed), "failed", len(summary.Failed),
		"skipped", len(summary.Skipped), "pending", len(summary.Pending),
		"elapsed", time.Since(start).Round(time.Millisecond))

	if err := ctx.Err(); err != nil {
		return summary, fmt.Errorf("job interrupted: %w", err)
	}
	if summary.Ran() > 0 && len(summary.Completed) == 0 {
		return summary, ErrJobFailed
	}
	return summary, nil
}

// plan seeds the ledger and splits tasks into those to run and those
// already completed with a valid artifact.
func (s *Scheduler) plan(tasks []Task, dryRun bool) ([]Task, *Summary, error) {
	seen := make(map[int]bool, len(tasks))
	entries := make([]ledger.Entry, 0, len(tasks))
	for _, t := range tasks {
		if seen[t.Index] {
			return nil, nil, fmt.Errorf("duplicate sequence index %d", t.Index)
		}
		seen[t.Index] = true
		entries = append(entries, ledger.Entry{
			Index: t.Index, Label: t.Label, TextRef: t.TextRef, OutputRef: t.OutputRef,
		})
	}

	merged := s.deps.Ledger.Merge(entries)
	summary := &Summary{}
	var toRun []Task
	for i, e := range merged {
		t := tasks[i]
		if e.Status == ledger.StatusCompleted {
			if out, ok := artifact(e.OutputRef, t.OutputRef); ok {
				summary.Skipped = append(summary.Skipped, TaskResult{
					Index: t.Index, Label: t.Label, Output: out,
					Status: ledger.StatusCompleted, Provider: e.Provider,
				})
				continue
			}
			slog.Warn("Scheduler: completed task has no artifact, re-queueing",
				"index", t.Index, "output", t.OutputRef)
		}
		toRun = append(toRun, t)
	}

	if !dryRun {
		if err := s.deps.Ledger.Save(); err != nil {
			return nil, nil, fmt.Errorf("failed to seed ledger: %w", err)
		}
	}
	return toRun, summary, nil
}

// artifact returns the first of the recorded and planned outputs that holds
// valid audio.
func artifact(recorded, planned string) (string, bool) {
	for _, p := range []string{recorded, planned} {
		if p != "" && tts.VerifyAudioFile(p) == nil {
			return p, true
		}
	}
	return "", false
}

func (s *Scheduler) poolSize(requested, tasks int) int {
	n := requested
	if n <= 0 {
		n = s.deps.Chain.Primary().Capabilities().Concurrency
	}
	if n > tasks {
		n = tasks
	}
	if n < 1 {
		n = 1
	}
	return n
}

func (s *Scheduler) controller(maxRetries int) *retry.Controller {
	pol := s.deps.Policy
	if maxRetries > 0 {
		pol.MaxRetries = maxRetries
	}
	var opts []retry.Option
	if s.deps.Backoff != nil {
		opts = append(opts, retry.WithBackoff(s.deps.Backoff))
	}
	if s.deps.Sleep != nil {
		opts = append(opts, retry.WithSleep(s.deps.Sleep))
	}
	return retry.New(pol, opts...)
}

func (s *Scheduler) providerNames() []string {
	var names []string
	for _, p := range s.deps.Chain.Providers() {
		names = append(names, p.Name())
	}
	return names
}

type workItem struct {
	task Task
}

// dispatch runs tasks on a pool of workers. This goroutine is the only
// ledger writer; workers report back on doneCh. Tasks not dispatched before
// ctx is cancelled are returned as pending.
func (s *Scheduler) dispatch(ctx context.Context, tasks []Task, workers int, ctrl *retry.Controller) (results, pending []TaskResult) {
	if len(tasks) == 0 {
		return nil, nil
	}

	// Dispatched tasks run to completion regardless of job cancellation.
	workCtx := context.WithoutCancel(ctx)

	workCh := make(chan workItem)
	doneCh := make(chan TaskResult, workers)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for w := range workCh {
				doneCh <- s.runTask(workCtx, w.task, ctrl)
			}
		}()
	}
	go func() {
		wg.Wait()
		close(doneCh)
	}()

	next := 0
	inFlight := 0
	stopped := false
	for {
		if !stopped && ctx.Err() != nil {
			stopped = true
			slog.Warn("Scheduler: cancelled, waiting for in-flight tasks", "in_flight", inFlight)
		}
		if inFlight == 0 && (stopped || next >= len(tasks)) {
			break
		}

		var (
			sendCh   chan workItem
			item     workItem
			cancelCh <-chan struct{}
		)
		if !stopped {
			cancelCh = ctx.Done()
			if next < len(tasks) {
				sendCh = workCh
				item = workItem{task: tasks[next]}
			}
		}

		select {
		case <-cancelCh:
		case sendCh <- item:
			s.start(item.task)
			next++
			inFlight++
		case r := <-doneCh:
			inFlight--
			s.finish(r)
			results = append(results, r)
		}
	}
	close(workCh)

	if stopped {
		pending = s.undispatched(tasks, results)
	}
	return results, pending
}

func (s *Scheduler) undispatched(tasks []Task, results []TaskResult) []TaskResult {
	done := make(map[int]bool, len(results))
	for _, r := range results {
		done[r.Index] = true
	}
	var pending []TaskResult
	for _, t := range tasks {
		if done[t.Index] {
			continue
		}
		pending = append(pending, TaskResult{
			Index: t.Index, Label: t.Label, Output: t.OutputRef, Status: ledger.StatusQueued,
		})
	}
	return pending
}

// start marks a task in progress before it is handed to a worker.
func (s *Scheduler) start(t Task) {
	s.deps.Tracker.TrackInFlight(1)
	e, _ := s.deps.Ledger.Get(t.Index)
	e.Status = ledger.StatusInProgress
	e.UpdatedAt = time.Time{}
	if err := s.deps.Ledger.Record(e); err != nil {
		slog.Error("Scheduler: failed to update ledger", "index", t.Index, "error", err)
	}
}

// finish records a worker's outcome.
func (s *Scheduler) finish(r TaskResult) {
	s.deps.Tracker.TrackInFlight(-1)
	s.deps.Tracker.TrackTask(r.Status.String())

	e, _ := s.deps.Ledger.Get(r.Index)
	e.Status = r.Status
	e.Provider = r.Provider
	if r.Output != "" {
		e.OutputRef = r.Output
	}
	e.LastError = ""
	if r.Err != nil {
		e.LastError = r.Err.Error()
	}
	e.UpdatedAt = time.Time{}
	if err := s.deps.Ledger.Record(e); err != nil {
		slog.Error("Scheduler: failed to update ledger", "index", r.Index, "error", err)
	}

	if r.Status == ledger.StatusCompleted {
		slog.Info("Scheduler: task completed",
			"index", r.Index, "label", r.Label, "provider", r.Provider,
			"chunks", r.Chunks, "attempts", r.Attempts, "degraded", r.Degraded,
			"duration", r.Duration.Round(time.Millisecond))
	} else {
		slog.Warn("Scheduler: task failed", "index", r.Index, "label", r.Label, "error", r.Err)
	}
}

// requeue resets failed tasks to queued ahead of the retry sweep.
func (s *Scheduler) requeue(tasks []Task) error {
	entries := make([]ledger.Entry, 0, len(tasks))
	for _, t := range tasks {
		e, _ := s.deps.Ledger.Get(t.Index)
		e.Status = ledger.StatusQueued
		e.UpdatedAt = time.Time{}
		entries = append(entries, e)
	}
	if err := s.deps.Ledger.Record(entries...); err != nil {
		return fmt.Errorf("failed to requeue failed tasks: %w", err)
	}
	return nil
}

// dryRun chunks every task with the primary provider's limits.
func (s *Scheduler) dryRun(ctx context.Context, tasks []Task) []TaskResult {
	lim := chunker.LimitsFor(s.deps.Chain.Primary().Capabilities())
	out := make([]TaskResult, 0, len(tasks))
	for _, t := range tasks {
		r := TaskResult{Index: t.Index, Label: t.Label, Output: t.OutputRef, Status: ledger.StatusQueued}
		text, err := s.deps.Reader.ReadText(ctx, t.TextRef)
		if err == nil {
			var chunks []chunker.Chunk
			chunks, err = chunker.Split(text, lim)
			r.Chunks = len(chunks)
		}
		r.Err = err
		out = append(out, r)
	}
	return out
}

// mergeResults replaces first-pass results with their sweep outcome and
// drops tasks the sweep requeued but never dispatched.
func mergeResults(first, sweep, requeued []TaskResult) []TaskResult {
	byIndex := make(map[int]TaskResult, len(sweep))
	for _, r := range sweep {
		byIndex[r.Index] = r
	}
	dropped := make(map[int]bool, len(requeued))
	for _, r := range requeued {
		dropped[r.Index] = true
	}
	out := make([]TaskResult, 0, len(first))
	for _, r := range first {
		if dropped[r.Index] {
			continue
		}
		if s, ok := byIndex[r.Index]; ok {
			s.Attempts += r.Attempts
			r = s
		}
		out = append(out, r)
	}
	return out
}

func sortResults(s *Summary) {
	for _, group := range [][]TaskResult{s.Completed, s.Failed, s.Skipped, s.Pending} {
		sort.Slice(group, func(i, j int) bool { return group[i].Index < group[j].Index })
	}
}

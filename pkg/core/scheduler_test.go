package core

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smg1208/audio-crawler/pkg/audio"
	"github.com/smg1208/audio-crawler/pkg/cache"
	"github.com/smg1208/audio-crawler/pkg/failover"
	"github.com/smg1208/audio-crawler/pkg/ledger"
	"github.com/smg1208/audio-crawler/pkg/retry"
	"github.com/smg1208/audio-crawler/pkg/tracker"
	"github.com/smg1208/audio-crawler/pkg/tts"
	"github.com/smg1208/audio-crawler/pkg/tts/ttstest"
)

type mapReader map[string]string

func (m mapReader) ReadText(_ context.Context, ref string) (string, error) {
	text, ok := m[ref]
	if !ok {
		return "", fmt.Errorf("%s: %w", ref, os.ErrNotExist)
	}
	return text, nil
}

// joinConcat writes the parts joined by "|" and removes them.
type joinConcat struct{}

func (joinConcat) Concat(_ context.Context, parts []string, out string) (*audio.ConcatResult, error) {
	var buf bytes.Buffer
	for i, p := range parts {
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, err
		}
		if i > 0 {
			buf.WriteByte('|')
		}
		buf.Write(data)
		os.Remove(p)
	}
	if err := os.WriteFile(out, buf.Bytes(), 0o644); err != nil {
		return nil, err
	}
	return &audio.ConcatResult{Path: out, Parts: len(parts)}, nil
}

type sleepRecorder struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (s *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.delays = append(s.delays, d)
	s.mu.Unlock()
	return ctx.Err()
}

type fixture struct {
	dir     string
	reader  mapReader
	tasks   []Task
	ledger  *ledger.Ledger
	tracker *tracker.Tracker
	sleeps  *sleepRecorder
	concat  Concatenator
}

func newFixture(t *testing.T, n int) *fixture {
	t.Helper()
	f := &fixture{
		dir:     t.TempDir(),
		reader:  mapReader{},
		tracker: tracker.New(),
		sleeps:  &sleepRecorder{},
		concat:  joinConcat{},
	}
	for i := 1; i <= n; i++ {
		ref := fmt.Sprintf("text/%d", i)
		f.reader[ref] = fmt.Sprintf("Chapter %d begins. It ends here.", i)
		f.tasks = append(f.tasks, Task{
			Index:     i,
			Label:     fmt.Sprintf("Chapter %d", i),
			TextRef:   ref,
			OutputRef: filepath.Join(f.dir, "audio", fmt.Sprintf("Chapter_%d.mp3", i)),
		})
	}
	f.reopen(t)
	return f
}

func (f *fixture) ledgerPath() string { return filepath.Join(f.dir, "audio", "ledger.csv") }

func (f *fixture) reopen(t *testing.T) {
	t.Helper()
	l, err := ledger.Open(f.ledgerPath())
	require.NoError(t, err)
	f.ledger = l
}

func (f *fixture) scheduler(t *testing.T, cc *cache.ChunkCache, providers ...tts.Provider) *Scheduler {
	t.Helper()
	chain, err := failover.New(providers[0], providers[1:]...)
	require.NoError(t, err)
	s, err := NewScheduler(Deps{
		Chain:   chain,
		Ledger:  f.ledger,
		Reader:  f.reader,
		Concat:  f.concat,
		Cache:   cc,
		Tracker: f.tracker,
		Policy:  retry.Policy{MaxRetries: 3, BaseDelay: 100 * time.Millisecond, MaxDelay: time.Minute},
		Sleep:   f.sleeps.sleep,
	})
	require.NoError(t, err)
	return s
}

func indices(rs []TaskResult) []int {
	var out []int
	for _, r := range rs {
		out = append(out, r.Index)
	}
	return out
}

func TestRunJob_CompletesAllTasks(t *testing.T) {
	f := newFixture(t, 3)
	p := ttstest.New("edge-tts")
	p.Caps.MaxBytes = 20

	sum, err := f.scheduler(t, nil, p).RunJob(context.Background(), f.tasks, Options{Concurrency: 2})
	require.NoError(t, err)

	assert.Equal(t, []int{1, 2, 3}, indices(sum.Completed))
	assert.Empty(t, sum.Failed)
	for _, r := range sum.Completed {
		assert.Equal(t, "edge-tts", r.Provider)
		assert.Equal(t, 2, r.Chunks)
		assert.Equal(t, 2, r.Attempts)
	}

	data, err := os.ReadFile(f.tasks[0].OutputRef)
	require.NoError(t, err)
	assert.Equal(t, "edge-tts:Chapter 1 begins.|edge-tts:It ends here.", string(data))

	reloaded, err := ledger.Open(f.ledgerPath())
	require.NoError(t, err)
	for _, e := range reloaded.Entries() {
		assert.Equal(t, ledger.StatusCompleted, e.Status, "index %d", e.Index)
		assert.Equal(t, "edge-tts", e.Provider)
	}

	parts, _ := filepath.Glob(filepath.Join(f.dir, "audio", "*.part_*"))
	assert.Empty(t, parts, "part files are removed")
}

func TestRunJob_IdempotentRerun(t *testing.T) {
	f := newFixture(t, 4)
	p := ttstest.New("edge-tts")

	first, err := f.scheduler(t, nil, p).RunJob(context.Background(), f.tasks, Options{Concurrency: 2})
	require.NoError(t, err)
	calls := p.Calls()

	f.reopen(t)
	second, err := f.scheduler(t, nil, p).RunJob(context.Background(), f.tasks, Options{Concurrency: 2})
	require.NoError(t, err)

	assert.Equal(t, calls, p.Calls(), "no provider calls for completed tasks")
	assert.Equal(t, indices(first.Completed), indices(second.Skipped))
	assert.Empty(t, second.Completed)
}

func TestRunJob_SkipsCompletedTaskWithArtifact(t *testing.T) {
	f := newFixture(t, 5)
	require.NoError(t, os.MkdirAll(filepath.Dir(f.tasks[4].OutputRef), 0o755))
	require.NoError(t, os.WriteFile(f.tasks[4].OutputRef, []byte("audio"), 0o644))
	require.NoError(t, f.ledger.Record(ledger.Entry{Index: 5, Status: ledger.StatusCompleted, OutputRef: f.tasks[4].OutputRef}))
	f.reopen(t)

	p := ttstest.New("edge-tts")
	sum, err := f.scheduler(t, nil, p).RunJob(context.Background(), f.tasks, Options{Concurrency: 1})
	require.NoError(t, err)

	assert.Equal(t, []int{5}, indices(sum.Skipped))
	assert.Equal(t, []int{1, 2, 3, 4}, indices(sum.Completed))
	for _, text := range p.Texts() {
		assert.NotContains(t, text, "Chapter 5")
	}
}

func TestRunJob_RequeuesCompletedWithoutArtifact(t *testing.T) {
	f := newFixture(t, 1)
	require.NoError(t, f.ledger.Record(ledger.Entry{Index: 1, Status: ledger.StatusCompleted}))
	f.reopen(t)

	p := ttstest.New("edge-tts")
	sum, err := f.scheduler(t, nil, p).RunJob(context.Background(), f.tasks, Options{})
	require.NoError(t, err)

	assert.Empty(t, sum.Skipped)
	assert.Equal(t, []int{1}, indices(sum.Completed))
	assert.Positive(t, p.Calls())
}

func TestRunJob_RerunSkipsDegradedOutput(t *testing.T) {
	f := newFixture(t, 1)
	f.concat = audio.NewConcatenator(filepath.Join(f.dir, "no-ffmpeg"))
	p := ttstest.New("edge-tts")
	p.Format = "wav"

	first, err := f.scheduler(t, nil, p).RunJob(context.Background(), f.tasks, Options{})
	require.NoError(t, err)
	require.Len(t, first.Completed, 1)
	kept := strings.TrimSuffix(f.tasks[0].OutputRef, ".mp3") + ".wav"
	assert.Equal(t, kept, first.Completed[0].Output)
	assert.FileExists(t, kept)

	reloaded, err := ledger.Open(f.ledgerPath())
	require.NoError(t, err)
	e, ok := reloaded.Get(1)
	require.True(t, ok)
	assert.Equal(t, kept, e.OutputRef)

	calls := p.Calls()
	f.reopen(t)
	second, err := f.scheduler(t, nil, p).RunJob(context.Background(), f.tasks, Options{})
	require.NoError(t, err)

	assert.Equal(t, calls, p.Calls(), "kept output counts as the artifact")
	assert.Empty(t, second.Completed)
	require.Len(t, second.Skipped, 1)
	assert.Equal(t, kept, second.Skipped[0].Output)
}

func TestRunJob_FallbackOrdering(t *testing.T) {
	f := newFixture(t, 1)
	primary := ttstest.New("edge-tts")
	primary.Fail = ttstest.AlwaysFail(tts.NewFatalError("edge-tts", 400, "bad request"))
	first := ttstest.New("azure-speech")
	first.Fail = ttstest.AlwaysFail(tts.NewFatalError("azure-speech", 400, "bad ssml"))
	second := ttstest.New("gtts")

	sum, err := f.scheduler(t, nil, primary, first, second).RunJob(context.Background(), f.tasks, Options{})
	require.NoError(t, err)

	require.Len(t, sum.Completed, 1)
	assert.Equal(t, "gtts", sum.Completed[0].Provider)
	assert.Equal(t, 1, first.Calls(), "first alternate attempted exactly once")
	assert.Equal(t, 1, primary.Calls())

	data, err := os.ReadFile(f.tasks[0].OutputRef)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), "gtts:"))
}

func TestRunJob_VoiceOverrideOnlyForPrimary(t *testing.T) {
	f := newFixture(t, 1)
	f.tasks[0].Voice = "vi-VN-NamMinhNeural"
	primary := ttstest.New("edge-tts")
	primary.Fail = ttstest.AlwaysFail(tts.NewFatalError("edge-tts", 400, "x"))
	alt := ttstest.New("gtts")

	_, err := f.scheduler(t, nil, primary, alt).RunJob(context.Background(), f.tasks, Options{})
	require.NoError(t, err)

	assert.Equal(t, []string{"vi-VN-NamMinhNeural"}, primary.VoicesSeen())
	for _, v := range alt.VoicesSeen() {
		assert.Empty(t, v)
	}
}

func TestRunJob_ConcurrencyBound(t *testing.T) {
	f := newFixture(t, 12)
	p := ttstest.New("edge-tts")
	p.Delay = 15 * time.Millisecond

	sum, err := f.scheduler(t, nil, p).RunJob(context.Background(), f.tasks, Options{Concurrency: 3})
	require.NoError(t, err)

	assert.Len(t, sum.Completed, 12)
	assert.LessOrEqual(t, p.MaxInFlight(), 3)
	assert.GreaterOrEqual(t, p.MaxInFlight(), 2, "workers run in parallel")
}

func TestRunJob_DefaultConcurrencyFromProvider(t *testing.T) {
	f := newFixture(t, 8)
	p := ttstest.New("edge-tts")
	p.Caps.Concurrency = 2
	p.Delay = 10 * time.Millisecond

	_, err := f.scheduler(t, nil, p).RunJob(context.Background(), f.tasks, Options{})
	require.NoError(t, err)
	assert.LessOrEqual(t, p.MaxInFlight(), 2)
}

func TestRunJob_RateLimitedThenSuccess(t *testing.T) {
	f := newFixture(t, 1)
	f.reader["text/1"] = "Short."
	p := ttstest.New("edge-tts")
	p.Errors = []error{
		tts.RateLimited("edge-tts", 429, "slow down"),
		tts.RateLimited("edge-tts", 429, "slow down"),
	}

	sum, err := f.scheduler(t, nil, p).RunJob(context.Background(), f.tasks, Options{MaxRetries: 3})
	require.NoError(t, err)

	require.Len(t, sum.Completed, 1)
	assert.Equal(t, 3, p.Calls())
	assert.Equal(t, 3, sum.Completed[0].Attempts)
	assert.Equal(t, []time.Duration{100 * time.Millisecond, 200 * time.Millisecond}, f.sleeps.delays)
}

func TestRunJob_FailureDoesNotAbortSiblings(t *testing.T) {
	f := newFixture(t, 3)
	f.reader["text/2"] = "A broken chapter."
	p := ttstest.New("edge-tts")
	p.Fail = func(_ int, text string) error {
		if strings.Contains(text, "broken") {
			return tts.NewFatalError("edge-tts", 400, "rejected")
		}
		return nil
	}

	sum, err := f.scheduler(t, nil, p).RunJob(context.Background(), f.tasks, Options{Concurrency: 3, RetryFailed: true})
	require.NoError(t, err)

	assert.Equal(t, []int{1, 3}, indices(sum.Completed))
	require.Equal(t, []int{2}, indices(sum.Failed))
	assert.ErrorIs(t, sum.Failed[0].Err, tts.ErrSynthesisFailed)

	e, ok := f.ledger.Get(2)
	require.True(t, ok)
	assert.Equal(t, ledger.StatusFailed, e.Status)
	assert.Contains(t, e.LastError, "rejected")
}

func TestRunJob_RetrySweep(t *testing.T) {
	f := newFixture(t, 1)
	f.reader["text/1"] = "Once."
	p := ttstest.New("edge-tts")
	p.Errors = []error{errors.New("connection reset")}

	sum, err := f.scheduler(t, nil, p).RunJob(context.Background(), f.tasks, Options{MaxRetries: 1, RetryFailed: true})
	require.NoError(t, err)

	assert.Equal(t, []int{1}, indices(sum.Completed))
	assert.Empty(t, sum.Failed)
	assert.Equal(t, 2, p.Calls())
	assert.Equal(t, 2, sum.Completed[0].Attempts)
}

func TestRunJob_NoRetrySweepFailsJob(t *testing.T) {
	f := newFixture(t, 1)
	f.reader["text/1"] = "Once."
	p := ttstest.New("edge-tts")
	p.Errors = []error{errors.New("connection reset")}

	sum, err := f.scheduler(t, nil, p).RunJob(context.Background(), f.tasks, Options{MaxRetries: 1})
	require.ErrorIs(t, err, ErrJobFailed)

	require.NotNil(t, sum)
	assert.Equal(t, []int{1}, indices(sum.Failed))
	assert.Equal(t, 1, p.Calls())

	// The ledger stays inspectable after a failed job.
	reloaded, err := ledger.Open(f.ledgerPath())
	require.NoError(t, err)
	e, ok := reloaded.Get(1)
	require.True(t, ok)
	assert.Equal(t, ledger.StatusFailed, e.Status)
}

func TestRunJob_EmptyTextDoesNotFallBack(t *testing.T) {
	f := newFixture(t, 1)
	f.reader["text/1"] = "   \n\t  "
	primary := ttstest.New("edge-tts")
	alt := ttstest.New("gtts")

	sum, err := f.scheduler(t, nil, primary, alt).RunJob(context.Background(), f.tasks, Options{})
	require.ErrorIs(t, err, ErrJobFailed)

	require.Len(t, sum.Failed, 1)
	assert.ErrorIs(t, sum.Failed[0].Err, tts.ErrEmptyInput)
	assert.Zero(t, primary.Calls())
	assert.Zero(t, alt.Calls())
}

func TestRunJob_MissingText(t *testing.T) {
	f := newFixture(t, 2)
	delete(f.reader, "text/1")
	p := ttstest.New("edge-tts")

	sum, err := f.scheduler(t, nil, p).RunJob(context.Background(), f.tasks, Options{})
	require.NoError(t, err)
	require.Equal(t, []int{1}, indices(sum.Failed))
	assert.ErrorIs(t, sum.Failed[0].Err, os.ErrNotExist)
}

func TestRunJob_DryRun(t *testing.T) {
	f := newFixture(t, 3)
	p := ttstest.New("edge-tts")
	p.Caps.MaxBytes = 20

	sum, err := f.scheduler(t, nil, p).RunJob(context.Background(), f.tasks, Options{DryRun: true})
	require.NoError(t, err)

	assert.Zero(t, p.Calls())
	assert.Equal(t, []int{1, 2, 3}, indices(sum.Pending))
	assert.Equal(t, 6, sum.Chunks())
	_, statErr := os.Stat(f.ledgerPath())
	assert.True(t, os.IsNotExist(statErr), "dry run leaves no ledger")
}

func TestRunJob_ChunkCache(t *testing.T) {
	f := newFixture(t, 2)
	db := newMemCache()
	cc := cache.NewChunkCache(db)
	p := ttstest.New("edge-tts")

	_, err := f.scheduler(t, cc, p).RunJob(context.Background(), f.tasks, Options{})
	require.NoError(t, err)
	calls := p.Calls()
	require.Positive(t, calls)

	// Forget progress but keep the cache.
	require.NoError(t, os.Remove(f.ledgerPath()))
	f.reopen(t)
	sum, err := f.scheduler(t, cc, p).RunJob(context.Background(), f.tasks, Options{})
	require.NoError(t, err)

	assert.Len(t, sum.Completed, 2)
	assert.Equal(t, calls, p.Calls(), "every chunk served from cache")
	assert.Equal(t, int64(calls), f.tracker.Snapshot()["edge-tts"].CacheHits)
}

func TestRunJob_Cancellation(t *testing.T) {
	f := newFixture(t, 5)
	p := ttstest.New("edge-tts")
	p.Delay = 50 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	s := f.scheduler(t, nil, p)

	var (
		sum *Summary
		err error
	)
	done := make(chan struct{})
	go func() {
		sum, err = s.RunJob(ctx, f.tasks, Options{Concurrency: 1})
		close(done)
	}()

	require.Eventually(t, func() bool { return p.Calls() > 0 }, time.Second, time.Millisecond)
	cancel()
	<-done

	require.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, sum)
	// The in-flight task finishes despite cancellation.
	assert.Equal(t, []int{1}, indices(sum.Completed))
	assert.Equal(t, []int{2, 3, 4, 5}, indices(sum.Pending))

	reloaded, lerr := ledger.Open(f.ledgerPath())
	require.NoError(t, lerr)
	for _, e := range reloaded.Entries()[1:] {
		assert.Equal(t, ledger.StatusQueued, e.Status, "index %d", e.Index)
	}
	assert.Equal(t, PhaseDone, s.Phase())
}

func TestRunJob_RejectsConcurrentJobs(t *testing.T) {
	f := newFixture(t, 1)
	p := ttstest.New("edge-tts")
	p.Delay = 100 * time.Millisecond
	s := f.scheduler(t, nil, p)

	done := make(chan struct{})
	go func() {
		_, _ = s.RunJob(context.Background(), f.tasks, Options{})
		close(done)
	}()
	require.Eventually(t, func() bool { return s.Phase() == PhaseRunning }, time.Second, time.Millisecond)

	_, err := s.RunJob(context.Background(), f.tasks, Options{})
	assert.ErrorIs(t, err, ErrJobRunning)
	<-done
}

func TestRunJob_DuplicateIndex(t *testing.T) {
	f := newFixture(t, 2)
	f.tasks[1].Index = 1
	_, err := f.scheduler(t, nil, ttstest.New("edge-tts")).RunJob(context.Background(), f.tasks, Options{})
	assert.ErrorContains(t, err, "duplicate sequence index")
}

func TestNewScheduler_Validation(t *testing.T) {
	_, err := NewScheduler(Deps{})
	assert.Error(t, err)
}

func TestPhaseString(t *testing.T) {
	assert.Equal(t, "PLANNING", PhasePlanning.String())
	assert.Equal(t, "RETRY_SWEEP", PhaseRetrySweep.String())
	assert.Equal(t, "IDLE", Phase(42).String())
}

type memCache struct {
	mu sync.Mutex
	m  map[string][]byte
}

func newMemCache() *memCache { return &memCache{m: map[string][]byte{}} }

func (c *memCache) GetCache(_ context.Context, key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.m[key]
	return v, ok
}

func (c *memCache) SetCache(_ context.Context, key string, val []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.m[key] = append([]byte(nil), val...)
	return nil
}

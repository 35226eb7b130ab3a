// Package tracker counts provider usage and exposes job metrics.
package tracker

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/smg1208/audio-crawler/pkg/tts"
)

const namespace = "audiocrawler"

// Tracker tracks usage statistics per provider and mirrors them into a
// private Prometheus registry.
type Tracker struct {
	mu    sync.RWMutex
	stats map[string]*ProviderStats

	registry      *prometheus.Registry
	tasks         *prometheus.CounterVec
	synthCalls    *prometheus.CounterVec
	synthDuration *prometheus.HistogramVec
	tasksInFlight prometheus.Gauge
	cacheLookups  *prometheus.CounterVec
	apiRequests   *prometheus.CounterVec
}

// ProviderStats holds metrics for a specific provider.
// Fields are accessed atomically.
type ProviderStats struct {
	CacheHits   int64
	CacheMisses int64
	APISuccess  int64
	APIFailures int64
	Synthesized int64
	Failed      int64
}

// New creates a Tracker with its own registry.
func New() *Tracker {
	t := &Tracker{
		stats:    make(map[string]*ProviderStats),
		registry: prometheus.NewRegistry(),
		tasks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tasks_total",
				Help:      "Tasks finished, by final status",
			},
			[]string{"status"}, // completed, failed, skipped
		),
		synthCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "synthesis_calls_total",
				Help:      "Provider synthesis calls, by result",
			},
			[]string{"provider", "result"},
		),
		synthDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "synthesis_duration_seconds",
				Help:      "Duration of provider synthesis calls in seconds",
				Buckets:   []float64{.25, .5, 1, 2.5, 5, 10, 30, 60, 120},
			},
			[]string{"provider"},
		),
		tasksInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "tasks_in_flight",
				Help:      "Tasks currently held by a worker",
			},
		),
		cacheLookups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_lookups_total",
				Help:      "Chunk cache lookups, by outcome",
			},
			[]string{"provider", "outcome"}, // hit, miss
		),
		apiRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "api_requests_total",
				Help:      "HTTP requests to provider APIs, by outcome",
			},
			[]string{"provider", "outcome"}, // success, failure
		),
	}
	t.registry.MustRegister(t.tasks, t.synthCalls, t.synthDuration, t.tasksInFlight, t.cacheLookups, t.apiRequests)
	return t
}

// Registry returns the registry holding the job metrics.
func (t *Tracker) Registry() *prometheus.Registry { return t.registry }

// getStats returns the stats object for a provider, creating it if needed.
func (t *Tracker) getStats(provider string) *ProviderStats {
	t.mu.RLock()
	s, ok := t.stats[provider]
	t.mu.RUnlock()
	if ok {
		return s
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if s, ok = t.stats[provider]; ok {
		return s
	}
	s = &ProviderStats{}
	t.stats[provider] = s
	return s
}

// TrackCacheHit increments the cache hit counter.
func (t *Tracker) TrackCacheHit(provider string) {
	atomic.AddInt64(&t.getStats(provider).CacheHits, 1)
	t.cacheLookups.WithLabelValues(provider, "hit").Inc()
}

func (t *Tracker) TrackCacheMiss(provider string) {
	atomic.AddInt64(&t.getStats(provider).CacheMisses, 1)
	t.cacheLookups.WithLabelValues(provider, "miss").Inc()
}

func (t *Tracker) TrackAPISuccess(provider string) {
	atomic.AddInt64(&t.getStats(provider).APISuccess, 1)
	t.apiRequests.WithLabelValues(provider, "success").Inc()
}

func (t *Tracker) TrackAPIFailure(provider string) {
	atomic.AddInt64(&t.getStats(provider).APIFailures, 1)
	t.apiRequests.WithLabelValues(provider, "failure").Inc()
}

// TrackSynthesis records one chunk synthesis call and its latency.
func (t *Tracker) TrackSynthesis(provider string, d time.Duration, err error) {
	s := t.getStats(provider)
	if err == nil {
		atomic.AddInt64(&s.Synthesized, 1)
	} else {
		atomic.AddInt64(&s.Failed, 1)
	}
	t.synthCalls.WithLabelValues(provider, Result(err)).Inc()
	t.synthDuration.WithLabelValues(provider).Observe(d.Seconds())
}

// TrackTask records a task reaching a final status.
func (t *Tracker) TrackTask(status string) {
	t.tasks.WithLabelValues(status).Inc()
}

// TrackInFlight moves the in-flight task gauge by delta.
func (t *Tracker) TrackInFlight(delta int) {
	t.tasksInFlight.Add(float64(delta))
}

// Result maps an error to the result label used for synthesis calls.
func Result(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, tts.ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, tts.ErrProviderUnavailable):
		return "unavailable"
	case errors.Is(err, tts.ErrEmptyInput):
		return "empty_input"
	default:
		return "failed"
	}
}

// WriteTextfile writes the registry in the node exporter textfile format.
func (t *Tracker) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, t.registry)
}

// Snapshot returns a copy of the current stats.
func (t *Tracker) Snapshot() map[string]ProviderStats {
	t.mu.RLock()
	defer t.mu.RUnlock()

	result := make(map[string]ProviderStats)
	for k, v := range t.stats {
		result[k] = ProviderStats{
			CacheHits:   atomic.LoadInt64(&v.CacheHits),
			CacheMisses: atomic.LoadInt64(&v.CacheMisses),
			APISuccess:  atomic.LoadInt64(&v.APISuccess),
			APIFailures: atomic.LoadInt64(&v.APIFailures),
			Synthesized: atomic.LoadInt64(&v.Synthesized),
			Failed:      atomic.LoadInt64(&v.Failed),
		}
	}
	return result
}

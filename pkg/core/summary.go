package core

import (
	"time"

	"github.com/smg1208/audio-crawler/pkg/ledger"
)

// TaskResult is the outcome of one task in a job.
type TaskResult struct {
	Index    int
	Label    string
	Output   string
	Status   ledger.Status
	Provider string
	Chunks   int
	Attempts int
	Duration time.Duration
	// Degraded is set when concatenation kept only the first chunk.
	Degraded bool
	Err      error
}

// Summary lists every task of a job by outcome, each in sequence order.
type Summary struct {
	Completed []TaskResult
	Failed    []TaskResult
	// Skipped tasks were already completed with a valid artifact.
	Skipped []TaskResult
	// Pending tasks were never dispatched: the job was cancelled, or this
	// was a dry run.
	Pending []TaskResult
}

// Ran is the number of tasks that reached a worker.
func (s *Summary) Ran() int {
	return len(s.Completed) + len(s.Failed)
}

// Chunks is the total chunk count over every listed task.
func (s *Summary) Chunks() int {
	n := 0
	for _, group := range [][]TaskResult{s.Completed, s.Failed, s.Skipped, s.Pending} {
		for _, r := range group {
			n += r.Chunks
		}
	}
	return n
}

package jobengine

import (
	"sync"

	"github.com/klyuchko/unitjob/pkg/unit"
)

// Statistics counts per-kind and per-stage job changes.
// Diagnostic only: nothing in the core ever branches on these counters.
type Statistics struct {
	mu           sync.Mutex
	kindCounts   map[unit.JobKind]int64
	stageCounts  map[unit.JobStage]int64
	resultCounts map[unit.JobResult]int64
}

// NewStatistics returns a zeroed counter set.
func NewStatistics() *Statistics {
	return &Statistics{
		kindCounts:   make(map[unit.JobKind]int64),
		stageCounts:  make(map[unit.JobStage]int64),
		resultCounts: make(map[unit.JobResult]int64),
	}
}

// Update records a job's departure from the table. Its callers are the
// dispatcher's and the bridge's finish paths, Manager.Cancel, and the
// dispatcher when a trigger is displaced; suspends that Commit merges or
// flushes away, and those Fallback removes, are not counted.
func (s *Statistics) Update(j *JobEntry) {
	if s == nil || j == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.kindCounts[j.Kind]++
	s.stageCounts[j.Stage]++
	s.resultCounts[j.Result]++
}

// RecordImplicit records a synthesized implicit job (NotifyBridge's
// implicit-job synthesis never allocates a real JobEntry to pass Update).
func (s *Statistics) RecordImplicit(kind unit.JobKind, result unit.JobResult) {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.kindCounts[kind]++
	s.resultCounts[result]++
}

// Snapshot returns copies of the current counters, safe for a caller
// (e.g. the Prometheus exporter) to range over without holding the lock.
func (s *Statistics) Snapshot() (kinds map[unit.JobKind]int64, stages map[unit.JobStage]int64, results map[unit.JobResult]int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kinds = make(map[unit.JobKind]int64, len(s.kindCounts))
	for k, v := range s.kindCounts {
		kinds[k] = v
	}
	stages = make(map[unit.JobStage]int64, len(s.stageCounts))
	for k, v := range s.stageCounts {
		stages[k] = v
	}
	results = make(map[unit.JobResult]int64, len(s.resultCounts))
	for k, v := range s.resultCounts {
		results[k] = v
	}
	return kinds, stages, results
}

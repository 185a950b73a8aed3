// Package progress tracks per-worker run state for the status endpoint.
package progress

import (
	"sync"
	"time"
)

// WorkerStatus is one worker's snapshot.
type WorkerStatus struct {
	Worker    int    `json:"worker"`
	Processed int    `json:"processed"`
	Failed    int    `json:"failed"`
	Total     int    `json:"total"`
	Current   string `json:"current,omitempty"`
	UpdatedAt string `json:"updated_at"`
}

// RunStatus summarizes the whole run.
type RunStatus struct {
	RunID     string         `json:"run_id"`
	StartedAt string         `json:"started_at"`
	Workers   []WorkerStatus `json:"workers"`
	Processed int            `json:"processed"`
	Failed    int            `json:"failed"`
	Total     int            `json:"total"`
}

// Tracker aggregates worker updates. Safe for concurrent use.
type Tracker struct {
	mu      sync.RWMutex
	runID   string
	started time.Time
	workers map[int]WorkerStatus
}

// NewTracker begins tracking a run.
func NewTracker(runID string) *Tracker {
	return &Tracker{
		runID:   runID,
		started: time.Now().UTC(),
		workers: make(map[int]WorkerStatus),
	}
}

// Update records one worker's progress; it satisfies scraper.StatusSink.
func (t *Tracker) Update(worker, processed, failed, total int, current string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.workers[worker] = WorkerStatus{
		Worker:    worker,
		Processed: processed,
		Failed:    failed,
		Total:     total,
		Current:   current,
		UpdatedAt: time.Now().UTC().Format(time.RFC3339),
	}
}

// Snapshot returns the current run state with workers in index order.
func (t *Tracker) Snapshot() RunStatus {
	t.mu.RLock()
	defer t.mu.RUnlock()
	status := RunStatus{
		RunID:     t.runID,
		StartedAt: t.started.Format(time.RFC3339),
	}
	maxWorker := -1
	for idx := range t.workers {
		if idx > maxWorker {
			maxWorker = idx
		}
	}
	for idx := 0; idx <= maxWorker; idx++ {
		ws, ok := t.workers[idx]
		if !ok {
			continue
		}
		status.Workers = append(status.Workers, ws)
		status.Processed += ws.Processed
		status.Failed += ws.Failed
		status.Total += ws.Total
	}
	return status
}

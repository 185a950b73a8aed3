package scraper

import (
	"context"
	"math/rand"
	"strconv"
	"time"

	"go.uber.org/zap"
)

// StatusSink receives per-worker progress updates. Implementations must be
// safe for concurrent use.
type StatusSink interface {
	Update(worker, processed, failed, total int, current string)
}

// WorkerConfig controls one worker's batching and pacing.
type WorkerConfig struct {
	Index        int
	SaveInterval int
	DelayMin     time.Duration
	DelayMax     time.Duration
	RunID        string
	Topic        string
}

func (c WorkerConfig) withDefaults() WorkerConfig {
	if c.SaveInterval <= 0 {
		c.SaveInterval = 50
	}
	if c.DelayMin <= 0 {
		c.DelayMin = time.Second
	}
	if c.DelayMax < c.DelayMin {
		c.DelayMax = 3 * time.Second
	}
	return c
}

// Worker owns one automation session and processes its ID partition
// sequentially, flushing batches as they fill and recovering from per-issue
// and session-level failures without dropping earlier results.
type Worker struct {
	session   Session
	nav       *Navigator
	extractor *Extractor
	writer    *BatchWriter
	publisher Publisher
	store     RecordStore
	status    StatusSink
	clock     Clock
	trackers  Trackers
	cfg       WorkerConfig
	logger    *zap.Logger
}

// NewWorker constructs a Worker. publisher, store and status may be nil.
func NewWorker(
	session Session,
	nav *Navigator,
	extractor *Extractor,
	writer *BatchWriter,
	publisher Publisher,
	store RecordStore,
	status StatusSink,
	trackers Trackers,
	cfg WorkerConfig,
	logger *zap.Logger,
) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		session:   session,
		nav:       nav,
		extractor: extractor,
		writer:    writer,
		publisher: publisher,
		store:     store,
		status:    status,
		clock:     systemClock{},
		trackers:  trackers,
		cfg:       cfg.withDefaults(),
		logger:    logger.With(zap.Int("worker", cfg.Index)),
	}
}

// Run processes the assigned partition in order. It returns when the
// partition is exhausted or the context finishes; a final non-empty batch is
// always flushed before returning.
func (w *Worker) Run(ctx context.Context, ids []int64) {
	w.logger.Info("worker starting", zap.Int("issues", len(ids)))
	var (
		batch     []*Record
		processed int
		failed    int
	)
	for i, id := range ids {
		if ctx.Err() != nil {
			break
		}
		issueID := strconv.FormatInt(id, 10)
		w.updateStatus(processed, failed, len(ids), issueID)
		w.logger.Info("processing issue",
			zap.String("issue_id", issueID),
			zap.Int("position", i+1),
			zap.Int("total", len(ids)),
		)

		result := w.extractor.ExtractIssue(ctx, issueID, w.trackers.IssueURL(id))
		if ctx.Err() != nil {
			// Drop the in-flight issue: whatever came back was cut short and
			// must not be deduplicated against on the next run.
			w.logger.Info("run cancelled, dropping in-flight issue",
				zap.String("issue_id", issueID))
			break
		}
		switch {
		case result.Err != nil:
			// The session is suspect: keep what we have, then start over
			// with a fresh browser before the next issue.
			failed++
			w.logger.Error("critical extraction failure",
				zap.String("issue_id", issueID),
				zap.Error(result.Err),
			)
			batch = w.flush(ctx, batch)
			w.restartSession(ctx)
		case result.Record != nil:
			if result.Record.Error {
				failed++
			} else {
				processed++
			}
			batch = append(batch, result.Record)
		}

		if len(batch) >= w.cfg.SaveInterval {
			batch = w.flush(ctx, batch)
		}
		w.nav.Sleep(ctx, w.interIssueDelay())
	}
	w.flush(ctx, batch)
	w.updateStatus(processed, failed, len(ids), "")
	w.logger.Info("worker finished",
		zap.Int("processed", processed),
		zap.Int("failed", failed),
	)
}

// flush writes the batch and reports it downstream. Persistence failures
// lose the batch but never stop the worker.
func (w *Worker) flush(ctx context.Context, batch []*Record) []*Record {
	if len(batch) == 0 {
		return batch
	}
	path, err := w.writer.Write(batch)
	if err != nil {
		w.logger.Error("batch persistence failed, records lost",
			zap.Int("records", len(batch)),
			zap.Error(err),
		)
		return batch[:0]
	}
	w.mirrorRecords(ctx, batch)
	w.publishFlush(ctx, path, len(batch))
	return batch[:0]
}

func (w *Worker) mirrorRecords(ctx context.Context, batch []*Record) {
	if w.store == nil {
		return
	}
	if err := w.store.StoreRecords(ctx, batch); err != nil {
		w.logger.Warn("record mirror failed", zap.Error(err))
	}
}

func (w *Worker) publishFlush(ctx context.Context, path string, count int) {
	if w.publisher == nil || w.cfg.Topic == "" {
		return
	}
	payload := map[string]any{
		"run_id":    w.cfg.RunID,
		"worker":    w.cfg.Index,
		"batch":     path,
		"records":   count,
		"timestamp": w.clock.Now().Format(time.RFC3339),
	}
	if _, err := w.publisher.Publish(ctx, w.cfg.Topic, payload); err != nil {
		w.logger.Warn("batch event publish failed", zap.Error(err))
	}
}

func (w *Worker) restartSession(ctx context.Context) {
	TotalSessionRestarts.Inc()
	if err := w.session.Restart(ctx); err != nil {
		w.logger.Error("session restart failed", zap.Error(err))
	}
}

func (w *Worker) updateStatus(processed, failed, total int, current string) {
	if w.status == nil {
		return
	}
	w.status.Update(w.cfg.Index, processed, failed, total, current)
}

func (w *Worker) interIssueDelay() time.Duration {
	spread := w.cfg.DelayMax - w.cfg.DelayMin
	if spread <= 0 {
		return w.cfg.DelayMin
	}
	return w.cfg.DelayMin + time.Duration(rand.Int63n(int64(spread)))
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// Package history implements the Request History Recorder (spec.md
// §4.7): requests are sanitized and enqueued onto a bounded channel by
// the proxy's request path, and a single background writer persists
// them so the hot request path never blocks on a database write. When
// the channel is full the oldest queued record is dropped in favor of
// the newest, rather than blocking the caller or dropping the new one.
package history

import (
	"context"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/llmlb/llmlb/internal/domain/entity"
	"github.com/llmlb/llmlb/internal/domain/repository"
	"github.com/llmlb/llmlb/internal/domain/service"
	"github.com/llmlb/llmlb/pkg/safego"
)

// defaultQueueCapacity bounds how many unwritten records may queue
// before the recorder starts dropping the oldest.
const defaultQueueCapacity = 1024

// Recorder owns the bounded queue and the single writer goroutine.
type Recorder struct {
	repo    repository.HistoryRepository
	logger  *zap.Logger
	queue   chan *entity.RequestRecord
	dropped atomic.Uint64
}

// New constructs a Recorder. Call Start to launch its writer goroutine.
func New(repo repository.HistoryRepository, logger *zap.Logger) *Recorder {
	return &Recorder{
		repo:   repo,
		logger: logger,
		queue:  make(chan *entity.RequestRecord, defaultQueueCapacity),
	}
}

// Start launches the single writer goroutine, panic-isolated via
// pkg/safego like every other background loop in this module.
func (r *Recorder) Start(ctx context.Context) {
	safego.Go(r.logger, "history-recorder", func() {
		r.run(ctx)
	})
}

func (r *Recorder) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case rec := <-r.queue:
			if err := r.repo.Save(ctx, rec); err != nil {
				r.logger.Warn("failed to persist request history record", zap.String("id", rec.ID), zap.Error(err))
			}
		}
	}
}

// Record sanitizes rec's request/response bodies and enqueues it.
// Sanitization only affects what is stored for history — the wire
// payload the proxy forwards is never touched (spec.md §4.5).
func (r *Recorder) Record(rec *entity.RequestRecord) {
	rec.RequestBody = service.SanitizeForHistory(rec.RequestBody)
	if rec.ResponseBody != "" {
		rec.ResponseBody = service.SanitizeForHistory(rec.ResponseBody)
	}
	r.enqueue(rec)
}

// enqueue implements drop-oldest-on-full: if the queue is saturated,
// the oldest queued record is discarded to make room for rec, rather
// than blocking the caller (the proxy's request path) or discarding
// rec itself.
func (r *Recorder) enqueue(rec *entity.RequestRecord) {
	for {
		select {
		case r.queue <- rec:
			return
		default:
			select {
			case dropped := <-r.queue:
				r.dropped.Add(1)
				r.logger.Warn("history queue full, dropping oldest record", zap.String("dropped_id", dropped.ID))
			default:
			}
		}
	}
}

// QueueDepth reports how many records are currently queued, for
// dashboard metrics.
func (r *Recorder) QueueDepth() int {
	return len(r.queue)
}

// Dropped reports how many records have been discarded because the queue
// was full.
func (r *Recorder) Dropped() uint64 {
	return r.dropped.Load()
}

// Package resultq buffers run results between the hot execution path and the
// slow persistence sinks. Producers never block; a single consumer goroutine
// delivers items in enqueue order.
package resultq

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/loopbot/internal/domain"
)

// drainTimeout bounds how long shutdown waits for the backlog to flush
// before logging a warning. Items are never discarded; the warning only
// flags that shutdown is taking longer than expected.
const drainTimeout = 10 * time.Second

// Sink consumes one result record. Sinks run on the consumer goroutine; a
// sink error is logged and the item moves on, it never stops the queue.
type Sink interface {
	Handle(ctx context.Context, rec domain.ResultRecord) error
}

// Queue is an unbounded FIFO with a monotonically increasing sequence
// number assigned at enqueue time. Enqueue is safe for concurrent use;
// Run must be called from exactly one goroutine.
type Queue struct {
	runID  string
	sink   Sink
	logger *slog.Logger

	mu     sync.Mutex
	cond   *sync.Cond
	items  []domain.ResultRecord
	seq    uint64
	closed bool
}

// New creates a queue whose consumer delivers into sink.
func New(runID string, sink Sink, logger *slog.Logger) *Queue {
	q := &Queue{
		runID:  runID,
		sink:   sink,
		logger: logger.With(slog.String("component", "resultq"), slog.String("run_id", runID)),
	}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Enqueue appends an item and returns its sequence number. It never blocks
// on sink I/O. After Close it returns ErrQueueClosed and the item is not
// recorded.
func (q *Queue) Enqueue(kind domain.ResultKind, payload any) (uint64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return 0, domain.ErrQueueClosed
	}
	q.seq++
	q.items = append(q.items, domain.ResultRecord{
		RunID:     q.runID,
		Seq:       q.seq,
		Kind:      kind,
		Payload:   payload,
		CreatedAt: time.Now().UTC(),
	})
	q.cond.Signal()
	return q.seq, nil
}

// Len reports the current backlog size.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Close stops accepting new items. Items already enqueued are still drained
// by Run.
func (q *Queue) Close() {
	q.mu.Lock()
	q.closed = true
	q.cond.Broadcast()
	q.mu.Unlock()
}

// Run is the single consumer loop. It delivers items strictly in enqueue
// order and exits only once Close has been called and the backlog is
// flushed. A shutdown request alone never stops the consumer: producers
// publish their final records after observing cancellation, so the loop
// keeps accepting work until Close marks the stream complete. A drain that
// exceeds drainTimeout logs a warning and keeps flushing; no enqueued item
// is ever dropped.
func (q *Queue) Run() {
	for {
		q.mu.Lock()
		for len(q.items) == 0 && !q.closed {
			q.cond.Wait()
		}
		if q.closed {
			backlog := len(q.items)
			q.mu.Unlock()
			if backlog > 0 {
				q.drain(backlog)
			}
			return
		}
		rec := q.items[0]
		q.items = q.items[1:]
		q.mu.Unlock()

		q.deliver(context.Background(), rec)
	}
}

// drain flushes the backlog remaining at close.
func (q *Queue) drain(backlog int) {
	q.logger.Info("draining result queue", slog.Int("backlog", backlog))
	deadline := time.Now().Add(drainTimeout)
	warned := false

	for {
		q.mu.Lock()
		if len(q.items) == 0 {
			q.mu.Unlock()
			q.logger.Info("result queue drained")
			return
		}
		rec := q.items[0]
		q.items = q.items[1:]
		remaining := len(q.items)
		q.mu.Unlock()

		q.deliver(context.Background(), rec)

		if !warned && time.Now().After(deadline) {
			warned = true
			q.logger.Warn("result queue drain exceeded timeout, continuing",
				slog.Duration("timeout", drainTimeout),
				slog.Int("remaining", remaining),
			)
		}
	}
}

// deliver hands one record to the sink. Sink failures are isolated: the
// error is logged with the item's identity and the consumer moves on.
func (q *Queue) deliver(ctx context.Context, rec domain.ResultRecord) {
	if err := q.sink.Handle(ctx, rec); err != nil {
		q.logger.Error("sink failed, item skipped",
			slog.Uint64("seq", rec.Seq),
			slog.String("kind", string(rec.Kind)),
			slog.String("error", err.Error()),
		)
	}
}

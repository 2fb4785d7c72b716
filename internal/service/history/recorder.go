// Package history provides the asynchronous match-history pipeline with
// buffered COPY-based writes.
//
// History rows are advisory audit data: a match or response must never
// fail or stall because the history insert is slow. The Recorder buffers
// rows in memory and flushes in batches; when the buffer is full, new rows
// are dropped and counted rather than blocking the caller.
package history

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/metric"

	"github.com/ashita-ai/musubi/internal/model"
	"github.com/ashita-ai/musubi/internal/telemetry"
)

// maxBufferCapacity is the hard upper limit on buffered rows to prevent
// OOM. Rows beyond it are dropped, not queued.
const maxBufferCapacity = 50_000

// Sink receives flushed history batches. *storage.DB satisfies it.
type Sink interface {
	InsertMatchHistoryBatch(ctx context.Context, rows []model.MatchHistory) (int64, error)
}

// Recorder accumulates match-history rows in memory and flushes them to
// the database when either the batch size or flush timeout is reached.
type Recorder struct {
	sink         Sink
	logger       *slog.Logger
	maxSize      int
	flushTimeout time.Duration

	mu   sync.Mutex
	rows []model.MatchHistory

	droppedRows atomic.Int64 // rows dropped at capacity; non-zero means audit loss

	started    atomic.Bool
	flushCh    chan struct{}
	done       chan struct{}
	cancelLoop context.CancelFunc
	drainCtx   context.Context // set by Drain so the final flush respects the caller's deadline
}

// NewRecorder creates a history recorder flushing to sink.
func NewRecorder(sink Sink, logger *slog.Logger, maxSize int, flushTimeout time.Duration) *Recorder {
	return &Recorder{
		sink:         sink,
		logger:       logger,
		maxSize:      maxSize,
		flushTimeout: flushTimeout,
		flushCh:      make(chan struct{}, 1),
		done:         make(chan struct{}),
	}
}

// Start begins the background flush loop and registers metrics. Safe to
// call only once; subsequent calls are no-ops. Call Drain to stop.
func (r *Recorder) Start(ctx context.Context) {
	if !r.started.CompareAndSwap(false, true) {
		r.logger.Warn("history: Start called more than once, ignoring")
		return
	}
	r.registerMetrics()
	loopCtx, cancel := context.WithCancel(ctx)
	r.cancelLoop = cancel
	go r.flushLoop(loopCtx)
}

// Record buffers one history row. It never blocks and never fails: at
// capacity the row is dropped and counted. Zero ID and CreatedAt are
// filled in.
func (r *Recorder) Record(_ context.Context, h model.MatchHistory) {
	if h.ID == uuid.Nil {
		h.ID = uuid.New()
	}
	if h.CreatedAt.IsZero() {
		h.CreatedAt = time.Now().UTC()
	}

	r.mu.Lock()
	if len(r.rows) >= maxBufferCapacity {
		r.mu.Unlock()
		r.droppedRows.Add(1)
		r.logger.Error("history: buffer at capacity, dropping row",
			"shift_id", h.OpenShiftID, "outcome", h.Outcome)
		return
	}
	r.rows = append(r.rows, h)
	trigger := len(r.rows) >= r.maxSize
	r.mu.Unlock()

	if trigger {
		select {
		case r.flushCh <- struct{}{}:
		default:
		}
	}
}

func (r *Recorder) flushLoop(ctx context.Context) {
	ticker := time.NewTicker(r.flushTimeout)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			// Final flush needs a live context because ctx is already done;
			// Drain supplies one with the caller's deadline.
			if r.drainCtx != nil {
				r.flush(r.drainCtx)
			} else {
				fallbackCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				r.flush(fallbackCtx)
				cancel()
			}
			close(r.done)
			return
		case <-ticker.C:
			r.flush(ctx)
		case <-r.flushCh:
			r.flush(ctx)
		}
	}
}

func (r *Recorder) flush(ctx context.Context) {
	r.mu.Lock()
	if len(r.rows) == 0 {
		r.mu.Unlock()
		return
	}
	batch := r.rows
	r.rows = nil
	r.mu.Unlock()

	start := time.Now()
	count, err := r.sink.InsertMatchHistoryBatch(ctx, batch)
	duration := time.Since(start)

	if err != nil {
		r.logger.Error("history: flush failed", "error", err, "batch_size", len(batch))
		// Put rows back for retry, within the capacity limit.
		r.mu.Lock()
		if len(r.rows)+len(batch) <= maxBufferCapacity {
			r.rows = append(batch, r.rows...)
		} else {
			r.droppedRows.Add(int64(len(batch)))
			r.logger.Error("history: dropping rows, buffer at capacity after flush failure", "dropped", len(batch))
		}
		r.mu.Unlock()
		return
	}

	r.logger.Debug("history: batch flushed",
		"batch_size", count,
		"flush_duration_ms", duration.Milliseconds(),
	)
}

// Drain signals the flush loop to stop, waits for the final flush, and
// returns. ctx bounds the wait and the final flush itself.
func (r *Recorder) Drain(ctx context.Context) {
	r.drainCtx = ctx
	if r.cancelLoop != nil {
		r.cancelLoop()
	}
	select {
	case <-r.done:
	case <-ctx.Done():
		r.logger.Warn("history: drain timed out waiting for flush loop")
	}
}

func (r *Recorder) registerMetrics() {
	meter := telemetry.Meter("musubi/history")

	_, _ = meter.Int64ObservableGauge("musubi.recorder.depth",
		metric.WithDescription("Current number of rows in the history write buffer"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(int64(r.Len()))
			return nil
		}),
	)

	_, _ = meter.Int64ObservableGauge("musubi.recorder.dropped_total",
		metric.WithDescription("Total history rows dropped due to buffer capacity exhaustion"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(r.Dropped())
			return nil
		}),
	)
}

// Len returns the current number of buffered rows.
func (r *Recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rows)
}

// Capacity returns the hard buffer limit. Health checks compare Len against
// it to flag a backed-up recorder.
func (r *Recorder) Capacity() int {
	return maxBufferCapacity
}

// Dropped returns the total rows dropped at capacity. Non-zero means audit
// data was lost.
func (r *Recorder) Dropped() int64 {
	return r.droppedRows.Load()
}

package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel/metric"

	"github.com/ashita-ai/musubi/internal/model"
	"github.com/ashita-ai/musubi/internal/storage"
	"github.com/ashita-ai/musubi/internal/telemetry"
)

// outboxEntry is a single row from the notification_outbox table.
type outboxEntry struct {
	ID          int64
	ProposalID  uuid.UUID
	OrgID       uuid.UUID
	CaregiverID uuid.UUID
	Kind        string
	Attempts    int
}

const maxOutboxAttempts = 10

// OutboxWorker polls the notification_outbox table and delivers offers for
// proposals that are still PENDING. Proposals that progressed past PENDING
// by other means (inline delivery, a response, expiry) just get their
// entries completed.
type OutboxWorker struct {
	db           *storage.DB
	sink         Notifier
	logger       *slog.Logger
	pollInterval time.Duration
	batchSize    int

	started     atomic.Bool
	cancelLoop  context.CancelFunc
	done        chan struct{}
	once        sync.Once
	lastCleanup time.Time
	drainCh     chan context.Context // carries the drain context to pollLoop for the final poll
}

// NewOutboxWorker creates a worker delivering through sink.
func NewOutboxWorker(db *storage.DB, sink Notifier, logger *slog.Logger, pollInterval time.Duration, batchSize int) *OutboxWorker {
	return &OutboxWorker{
		db:           db,
		sink:         sink,
		logger:       logger,
		pollInterval: pollInterval,
		batchSize:    batchSize,
		done:         make(chan struct{}),
		drainCh:      make(chan context.Context, 1),
	}
}

// Start begins the background poll loop. It is safe to call only once;
// subsequent calls are no-ops and log a warning.
func (w *OutboxWorker) Start(ctx context.Context) {
	if !w.started.CompareAndSwap(false, true) {
		w.logger.Warn("notify outbox: Start called more than once, ignoring")
		return
	}
	w.registerMetrics()
	loopCtx, cancel := context.WithCancel(ctx)
	w.cancelLoop = cancel
	go w.pollLoop(loopCtx)
}

// Drain signals the poll loop to stop, processes remaining entries, and
// blocks until done or the context expires.
func (w *OutboxWorker) Drain(ctx context.Context) {
	// Must be sent before cancelLoop so pollLoop can receive it on ctx.Done().
	select {
	case w.drainCh <- ctx:
	default:
	}
	if w.cancelLoop != nil {
		w.cancelLoop()
	}
	select {
	case <-w.done:
	case <-ctx.Done():
		w.logger.Warn("notify outbox: drain timed out")
	}
}

func (w *OutboxWorker) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			// Final drain: prefer the drain context so the last poll
			// respects the caller's deadline.
			var drainCtx context.Context
			select {
			case drainCtx = <-w.drainCh:
			default:
			}
			if drainCtx != nil {
				w.processBatch(drainCtx)
			} else {
				fallbackCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				w.processBatch(fallbackCtx)
				cancel()
			}
			w.once.Do(func() { close(w.done) })
			return
		case <-ticker.C:
			batchCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
			w.processBatch(batchCtx)
			cancel()
		}
	}
}

func (w *OutboxWorker) processBatch(ctx context.Context) {
	entries, err := w.claimEntries(ctx)
	if err != nil {
		w.logger.Error("notify outbox: claim entries", "error", err)
		return
	}
	if len(entries) > 0 {
		w.deliverOffers(ctx, entries)
	}

	// Periodic dead-letter cleanup (attempts >= max, older than 7 days).
	if time.Since(w.lastCleanup) > time.Hour {
		w.cleanupDeadLetters(ctx)
		w.lastCleanup = time.Now()
	}
}

// claimEntries selects due entries with SKIP LOCKED and stamps a lock long
// enough to outlive the 30s batch context, so a second worker cannot pick
// them up mid-flight.
func (w *OutboxWorker) claimEntries(ctx context.Context) ([]outboxEntry, error) {
	tx, err := w.db.Pool().Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	rows, err := tx.Query(ctx,
		`SELECT id, proposal_id, org_id, caregiver_id, kind, attempts
		 FROM notification_outbox
		 WHERE (locked_until IS NULL OR locked_until < now())
		   AND attempts < $1
		 ORDER BY created_at ASC
		 LIMIT $2
		 FOR UPDATE SKIP LOCKED`,
		maxOutboxAttempts, w.batchSize,
	)
	if err != nil {
		return nil, fmt.Errorf("select pending: %w", err)
	}
	entries, err := scanOutboxEntries(rows)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, nil
	}

	ids := entryIDs(entries)
	if _, err := tx.Exec(ctx,
		`UPDATE notification_outbox SET locked_until = now() + interval '60 seconds' WHERE id = ANY($1)`,
		ids,
	); err != nil {
		return nil, fmt.Errorf("lock entries: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit lock: %w", err)
	}
	return entries, nil
}

func (w *OutboxWorker) deliverOffers(ctx context.Context, entries []outboxEntry) {
	proposalIDs := make([]uuid.UUID, len(entries))
	for i, e := range entries {
		proposalIDs[i] = e.ProposalID
	}
	proposals, err := w.db.ProposalsByIDs(ctx, proposalIDs)
	if err != nil {
		w.logger.Error("notify outbox: fetch proposals", "error", err, "count", len(proposalIDs))
		w.failEntries(ctx, entries, err.Error())
		return
	}
	byID := make(map[uuid.UUID]model.AssignmentProposal, len(proposals))
	for _, p := range proposals {
		byID[p.ID] = p
	}

	var completed, failed []outboxEntry
	var lastErr string
	delivered := 0
	for _, e := range entries {
		p, ok := byID[e.ProposalID]
		if !ok || p.ProposalStatus != model.ProposalStatusPending {
			// Deleted, already delivered, or already responded to.
			completed = append(completed, e)
			continue
		}
		method, err := w.sink.SendProposalOffer(ctx, p)
		if err != nil {
			lastErr = err.Error()
			failed = append(failed, e)
			continue
		}
		if _, err := w.db.MarkProposalSent(ctx, p.ID, &method, time.Now().UTC()); err != nil {
			// A state miss means the proposal progressed under us; that
			// delivery attempt still happened, so complete the entry.
			var stateErr *model.StateError
			var notFound *model.NotFoundError
			if !errors.As(err, &stateErr) && !errors.As(err, &notFound) {
				lastErr = err.Error()
				failed = append(failed, e)
				continue
			}
		}
		delivered++
		completed = append(completed, e)
	}

	if len(completed) > 0 {
		w.succeedEntries(ctx, completed)
	}
	if len(failed) > 0 {
		w.failEntries(ctx, failed, lastErr)
	}
	if delivered > 0 {
		w.logger.Info("notify outbox: delivered offers", "count", delivered)
	}
}

func (w *OutboxWorker) succeedEntries(ctx context.Context, entries []outboxEntry) {
	if _, err := w.db.Pool().Exec(ctx,
		`DELETE FROM notification_outbox WHERE id = ANY($1)`, entryIDs(entries),
	); err != nil {
		w.logger.Error("notify outbox: delete completed entries", "error", err)
	}
}

func (w *OutboxWorker) failEntries(ctx context.Context, entries []outboxEntry, errMsg string) {
	// Exponential backoff: locked_until = now() + 2^attempts seconds,
	// capped at 5 minutes, so a provider outage cannot cause a tight retry
	// loop.
	if _, err := w.db.Pool().Exec(ctx,
		`UPDATE notification_outbox
		 SET attempts = attempts + 1,
		     last_error = $1,
		     locked_until = now() + LEAST(POWER(2, attempts + 1), 300) * interval '1 second'
		 WHERE id = ANY($2)`,
		errMsg, entryIDs(entries),
	); err != nil {
		w.logger.Error("notify outbox: update failed entries", "error", err)
	}

	for _, e := range entries {
		if e.Attempts+1 >= maxOutboxAttempts {
			w.logger.Warn("notify outbox: dead-letter entry",
				"outbox_id", e.ID,
				"proposal_id", e.ProposalID,
				"kind", e.Kind,
				"attempts", e.Attempts+1,
			)
		}
	}
}

func (w *OutboxWorker) cleanupDeadLetters(ctx context.Context) {
	tag, err := w.db.Pool().Exec(ctx,
		`DELETE FROM notification_outbox
		 WHERE attempts >= $1
		   AND created_at < now() - interval '7 days'`,
		maxOutboxAttempts,
	)
	if err != nil {
		w.logger.Error("notify outbox: cleanup dead-letters failed", "error", err)
		return
	}
	if tag.RowsAffected() > 0 {
		w.logger.Info("notify outbox: cleaned dead-letter entries", "deleted", tag.RowsAffected())
	}
}

func (w *OutboxWorker) registerMetrics() {
	meter := telemetry.Meter("musubi/outbox")

	_, _ = meter.Int64ObservableGauge("musubi.outbox.depth",
		metric.WithDescription("Number of pending entries in the notification outbox"),
		metric.WithInt64Callback(func(ctx context.Context, o metric.Int64Observer) error {
			var count int64
			err := w.db.Pool().QueryRow(ctx,
				`SELECT COUNT(*) FROM notification_outbox WHERE attempts < $1`, maxOutboxAttempts,
			).Scan(&count)
			if err != nil {
				return nil // non-fatal, skip this observation
			}
			o.Observe(count)
			return nil
		}),
	)
}

// Depth reports pending outbox entries, for the health endpoint.
func (w *OutboxWorker) Depth(ctx context.Context) (int64, error) {
	var count int64
	err := w.db.Pool().QueryRow(ctx,
		`SELECT COUNT(*) FROM notification_outbox WHERE attempts < $1`, maxOutboxAttempts,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("notify outbox: depth: %w", err)
	}
	return count, nil
}

func entryIDs(entries []outboxEntry) []int64 {
	ids := make([]int64, len(entries))
	for i, e := range entries {
		ids[i] = e.ID
	}
	return ids
}

func scanOutboxEntries(rows pgx.Rows) ([]outboxEntry, error) {
	defer rows.Close()
	var entries []outboxEntry
	for rows.Next() {
		var e outboxEntry
		if err := rows.Scan(&e.ID, &e.ProposalID, &e.OrgID, &e.CaregiverID, &e.Kind, &e.Attempts); err != nil {
			return nil, fmt.Errorf("notify outbox: scan entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

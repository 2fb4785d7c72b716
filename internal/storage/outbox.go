package storage

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// Notification kinds carried by notification_outbox rows.
const (
	NotificationKindOffer = "proposal_offer"
)

// EnqueueProposalNotifications queues outbox rows for proposals outside any
// transaction. Used to re-queue offers whose caregiver never received the
// first attempt.
func (db *DB) EnqueueProposalNotifications(ctx context.Context, kind string, proposalIDs []uuid.UUID) error {
	return enqueueProposalNotifications(ctx, db.pool, kind, proposalIDs)
}

// enqueueProposalNotifications inserts one outbox row per proposal through
// the caller's pool or transaction, so notification intent commits atomically
// with the proposals themselves. Requeueing an existing (proposal, kind) pair
// resets its backoff.
func enqueueProposalNotifications(ctx context.Context, q execer, kind string, proposalIDs []uuid.UUID) error {
	if len(proposalIDs) == 0 {
		return nil
	}
	_, err := q.Exec(ctx,
		`INSERT INTO notification_outbox (proposal_id, org_id, caregiver_id, kind)
		 SELECT id, organization_id, caregiver_id, $2
		 FROM assignment_proposals WHERE id = ANY($1)
		 ON CONFLICT (proposal_id, kind) DO UPDATE
		 SET created_at = now(), attempts = 0, locked_until = NULL, last_error = NULL`,
		proposalIDs, kind,
	)
	if err != nil {
		return fmt.Errorf("storage: enqueue proposal notifications: %w", err)
	}
	return nil
}

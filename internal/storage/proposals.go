package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/ashita-ai/musubi/internal/model"
)

const proposalColumns = `id, open_shift_id, visit_id, caregiver_id, organization_id, branch_id,
	 match_score, match_quality, match_reasons, proposal_status,
	 proposed_at, sent_at, viewed_at, responded_at, accepted_at, rejected_at, expired_at,
	 proposal_method, sent_to_caregiver, notification_method, urgency_flag,
	 response_method, accepted_by, rejection_reason, rejection_category, notes,
	 created_at, created_by, updated_at, updated_by, version`

// CreateProposal inserts a proposal in PENDING with the score snapshot
// frozen at emission. When notify is true an offer row is enqueued on the
// notification outbox in the same transaction.
func (db *DB) CreateProposal(ctx context.Context, p model.AssignmentProposal, notify bool) (model.AssignmentProposal, error) {
	ps, err := db.CreateProposals(ctx, []model.AssignmentProposal{p}, notify)
	if err != nil {
		return model.AssignmentProposal{}, err
	}
	return ps[0], nil
}

// CreateProposals inserts a batch of proposals atomically. The matcher
// emits one batch per attempt; either every proposal exists or none does.
// Outbox rows for offer notifications commit with the batch so no proposal
// can exist without its pending notification (and vice versa).
func (db *DB) CreateProposals(ctx context.Context, ps []model.AssignmentProposal, notify bool) ([]model.AssignmentProposal, error) {
	if len(ps) == 0 {
		return nil, nil
	}
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("storage: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	ids := make([]uuid.UUID, len(ps))
	for i := range ps {
		fillProposalDefaults(&ps[i])
		if err := db.insertProposal(ctx, tx, ps[i]); err != nil {
			return nil, err
		}
		ids[i] = ps[i].ID
	}
	if notify {
		if err := enqueueProposalNotifications(ctx, tx, NotificationKindOffer, ids); err != nil {
			return nil, err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("storage: commit proposals: %w", err)
	}
	return ps, nil
}

// GetProposal retrieves a non-deleted proposal by ID, scoped to the
// organization.
func (db *DB) GetProposal(ctx context.Context, orgID, id uuid.UUID) (model.AssignmentProposal, error) {
	row := db.pool.QueryRow(ctx,
		`SELECT `+proposalColumns+` FROM assignment_proposals
		 WHERE id = $1 AND organization_id = $2 AND deleted_at IS NULL`, id, orgID)
	p, err := scanProposal(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.AssignmentProposal{}, model.NewNotFound("proposal", id.String())
		}
		return model.AssignmentProposal{}, fmt.Errorf("storage: get proposal: %w", err)
	}
	return p, nil
}

// MarkProposalSent advances PENDING → SENT after the notification sink was
// invoked. No-op StateError if the proposal already moved on.
func (db *DB) MarkProposalSent(ctx context.Context, id uuid.UUID, method *string, at time.Time) (model.AssignmentProposal, error) {
	row := db.pool.QueryRow(ctx,
		`UPDATE assignment_proposals
		 SET proposal_status = $1, sent_at = $2, sent_to_caregiver = TRUE,
		     notification_method = COALESCE($3, notification_method),
		     updated_at = $2, version = version + 1
		 WHERE id = $4 AND proposal_status = $5 AND deleted_at IS NULL
		 RETURNING `+proposalColumns,
		model.ProposalStatusSent, at, method, id, model.ProposalStatusPending)
	p, err := scanProposal(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.AssignmentProposal{}, db.proposalTransitionMiss(ctx, id, model.ProposalStatusSent)
		}
		return model.AssignmentProposal{}, fmt.Errorf("storage: mark proposal sent: %w", err)
	}
	return p, nil
}

// MarkProposalViewed stamps the caregiver's first view, advancing
// PENDING/SENT → VIEWED.
func (db *DB) MarkProposalViewed(ctx context.Context, orgID, id uuid.UUID, at time.Time) (model.AssignmentProposal, error) {
	row := db.pool.QueryRow(ctx,
		`UPDATE assignment_proposals
		 SET proposal_status = $1, viewed_at = $2, updated_at = $2, version = version + 1
		 WHERE id = $3 AND organization_id = $4
		   AND proposal_status = ANY($5) AND deleted_at IS NULL
		 RETURNING `+proposalColumns,
		model.ProposalStatusViewed, at, id, orgID,
		[]string{string(model.ProposalStatusPending), string(model.ProposalStatusSent)})
	p, err := scanProposal(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.AssignmentProposal{}, db.proposalTransitionMiss(ctx, id, model.ProposalStatusViewed)
		}
		return model.AssignmentProposal{}, fmt.Errorf("storage: mark proposal viewed: %w", err)
	}
	return p, nil
}

// AcceptProposal performs the transactional accept: proposal → ACCEPTED,
// live siblings → SUPERSEDED, visit assigned and SCHEDULED, shift →
// ASSIGNED. All four writes commit together or not at all.
//
// The open shift row is locked first; every response path takes locks in
// shift-then-proposal order so concurrent sibling responses serialize
// instead of deadlocking. Returns the accepted proposal and the IDs of the
// superseded siblings.
func (db *DB) AcceptProposal(ctx context.Context, orgID, id, acceptedBy uuid.UUID, responseMethod, notes *string, at time.Time) (model.AssignmentProposal, []uuid.UUID, error) {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return model.AssignmentProposal{}, nil, fmt.Errorf("storage: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var shiftID, visitID, caregiverID uuid.UUID
	err = tx.QueryRow(ctx,
		`SELECT open_shift_id, visit_id, caregiver_id FROM assignment_proposals
		 WHERE id = $1 AND organization_id = $2 AND deleted_at IS NULL`, id, orgID,
	).Scan(&shiftID, &visitID, &caregiverID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.AssignmentProposal{}, nil, model.NewNotFound("proposal", id.String())
		}
		return model.AssignmentProposal{}, nil, fmt.Errorf("storage: resolve proposal shift: %w", err)
	}

	var shiftStatus model.ShiftStatus
	err = tx.QueryRow(ctx,
		`SELECT matching_status FROM open_shifts
		 WHERE id = $1 AND deleted_at IS NULL FOR UPDATE`, shiftID,
	).Scan(&shiftStatus)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.AssignmentProposal{}, nil, model.NewNotFound("open_shift", shiftID.String())
		}
		return model.AssignmentProposal{}, nil, fmt.Errorf("storage: lock shift: %w", err)
	}
	if shiftStatus == model.ShiftStatusAssigned {
		return model.AssignmentProposal{}, nil, model.NewConflict("shift %s is already assigned", shiftID)
	}

	row := tx.QueryRow(ctx,
		`UPDATE assignment_proposals
		 SET proposal_status = $1, accepted_at = $2, responded_at = $2,
		     accepted_by = $3, response_method = $4, notes = COALESCE($5, notes),
		     updated_at = $2, updated_by = $3, version = version + 1
		 WHERE id = $6 AND proposal_status = ANY($7) AND deleted_at IS NULL
		 RETURNING `+proposalColumns,
		model.ProposalStatusAccepted, at, acceptedBy, responseMethod, notes,
		id, liveStatusStrings())
	accepted, err := scanProposal(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.AssignmentProposal{}, nil, db.proposalTransitionMiss(ctx, id, model.ProposalStatusAccepted)
		}
		return model.AssignmentProposal{}, nil, fmt.Errorf("storage: accept proposal: %w", err)
	}

	rows, err := tx.Query(ctx,
		`UPDATE assignment_proposals
		 SET proposal_status = $1, updated_at = $2, version = version + 1
		 WHERE open_shift_id = $3 AND id <> $4
		   AND proposal_status = ANY($5) AND deleted_at IS NULL
		 RETURNING id`,
		model.ProposalStatusSuperseded, at, shiftID, id, liveStatusStrings())
	if err != nil {
		return model.AssignmentProposal{}, nil, fmt.Errorf("storage: supersede siblings: %w", err)
	}
	var superseded []uuid.UUID
	for rows.Next() {
		var sid uuid.UUID
		if err := rows.Scan(&sid); err != nil {
			rows.Close()
			return model.AssignmentProposal{}, nil, fmt.Errorf("storage: scan superseded id: %w", err)
		}
		superseded = append(superseded, sid)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return model.AssignmentProposal{}, nil, fmt.Errorf("storage: supersede siblings: %w", err)
	}

	tag, err := tx.Exec(ctx,
		`UPDATE visits
		 SET assigned_caregiver_id = $1, status = $2, updated_at = $3, version = version + 1
		 WHERE id = $4 AND deleted_at IS NULL`,
		caregiverID, model.VisitStatusScheduled, at, visitID)
	if err != nil {
		return model.AssignmentProposal{}, nil, fmt.Errorf("storage: assign visit: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.AssignmentProposal{}, nil, model.NewNotFound("visit", visitID.String())
	}

	if _, err := tx.Exec(ctx,
		`UPDATE open_shifts
		 SET matching_status = $1, updated_at = $2, updated_by = $3, version = version + 1
		 WHERE id = $4 AND deleted_at IS NULL`,
		model.ShiftStatusAssigned, at, acceptedBy, shiftID); err != nil {
		return model.AssignmentProposal{}, nil, fmt.Errorf("storage: assign shift: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return model.AssignmentProposal{}, nil, fmt.Errorf("storage: commit accept: %w", err)
	}
	return accepted, superseded, nil
}

// RejectProposal records a caregiver decline. When the rejection leaves the
// shift with no live proposals, the shift reverts PROPOSED → MATCHED so it
// is available for re-matching; the second return value reports whether
// that happened.
func (db *DB) RejectProposal(ctx context.Context, orgID, id, respondedBy uuid.UUID, reason *string, category *model.RejectionCategory, responseMethod, notes *string, at time.Time) (model.AssignmentProposal, bool, error) {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return model.AssignmentProposal{}, false, fmt.Errorf("storage: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var shiftID uuid.UUID
	err = tx.QueryRow(ctx,
		`SELECT open_shift_id FROM assignment_proposals
		 WHERE id = $1 AND organization_id = $2 AND deleted_at IS NULL`, id, orgID,
	).Scan(&shiftID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.AssignmentProposal{}, false, model.NewNotFound("proposal", id.String())
		}
		return model.AssignmentProposal{}, false, fmt.Errorf("storage: resolve proposal shift: %w", err)
	}

	// Same shift-first lock order as AcceptProposal.
	if _, err := tx.Exec(ctx,
		`SELECT 1 FROM open_shifts WHERE id = $1 AND deleted_at IS NULL FOR UPDATE`, shiftID); err != nil {
		return model.AssignmentProposal{}, false, fmt.Errorf("storage: lock shift: %w", err)
	}

	row := tx.QueryRow(ctx,
		`UPDATE assignment_proposals
		 SET proposal_status = $1, rejected_at = $2, responded_at = $2,
		     rejection_reason = $3, rejection_category = $4,
		     response_method = $5, notes = COALESCE($6, notes),
		     updated_at = $2, updated_by = $7, version = version + 1
		 WHERE id = $8 AND proposal_status = ANY($9) AND deleted_at IS NULL
		 RETURNING `+proposalColumns,
		model.ProposalStatusRejected, at, reason, category, responseMethod, notes,
		respondedBy, id, liveStatusStrings())
	rejected, err := scanProposal(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.AssignmentProposal{}, false, db.proposalTransitionMiss(ctx, id, model.ProposalStatusRejected)
		}
		return model.AssignmentProposal{}, false, fmt.Errorf("storage: reject proposal: %w", err)
	}

	var liveSiblings int
	if err := tx.QueryRow(ctx,
		`SELECT COUNT(*) FROM assignment_proposals
		 WHERE open_shift_id = $1 AND proposal_status = ANY($2) AND deleted_at IS NULL`,
		shiftID, liveStatusStrings(),
	).Scan(&liveSiblings); err != nil {
		return model.AssignmentProposal{}, false, fmt.Errorf("storage: count live siblings: %w", err)
	}

	shiftReverted := false
	if liveSiblings == 0 {
		tag, err := tx.Exec(ctx,
			`UPDATE open_shifts
			 SET matching_status = $1, updated_at = $2, version = version + 1
			 WHERE id = $3 AND matching_status = $4 AND deleted_at IS NULL`,
			model.ShiftStatusMatched, at, shiftID, model.ShiftStatusProposed)
		if err != nil {
			return model.AssignmentProposal{}, false, fmt.Errorf("storage: revert shift to matched: %w", err)
		}
		shiftReverted = tag.RowsAffected() == 1
	}

	if err := tx.Commit(ctx); err != nil {
		return model.AssignmentProposal{}, false, fmt.Errorf("storage: commit reject: %w", err)
	}
	return rejected, shiftReverted, nil
}

// ExpireStaleProposals transitions every live proposal whose send time plus
// the owning organization's TTL has passed. The TTL comes from the active
// default configuration covering the shift's branch, falling back to
// defaultTTLMinutes when no configuration exists. The conditional status
// check makes the sweep idempotent and safe alongside concurrent responses.
func (db *DB) ExpireStaleProposals(ctx context.Context, defaultTTLMinutes int, now time.Time) ([]model.AssignmentProposal, error) {
	rows, err := db.pool.Query(ctx,
		`UPDATE assignment_proposals p
		 SET proposal_status = $1, expired_at = $2, updated_at = $2, version = p.version + 1
		 FROM open_shifts s
		 LEFT JOIN LATERAL (
		     SELECT c.proposal_expiration_minutes
		     FROM matching_configurations c
		     WHERE c.organization_id = s.organization_id
		       AND c.is_default AND c.is_active AND c.deleted_at IS NULL
		       AND (c.branch_id IS NULL OR c.branch_id = s.branch_id)
		     ORDER BY c.branch_id NULLS LAST
		     LIMIT 1
		 ) cfg ON TRUE
		 WHERE p.open_shift_id = s.id
		   AND p.deleted_at IS NULL
		   AND p.proposal_status = ANY($3)
		   AND COALESCE(p.sent_at, p.proposed_at)
		       + make_interval(mins => COALESCE(cfg.proposal_expiration_minutes, $4)) < $2
		 RETURNING `+prefixedProposalColumns("p."),
		model.ProposalStatusExpired, now, liveStatusStrings(), defaultTTLMinutes)
	if err != nil {
		return nil, fmt.Errorf("storage: expire stale proposals: %w", err)
	}
	defer rows.Close()

	return scanProposals(rows)
}

// SearchProposals executes a filtered, paginated proposal query and returns
// the page plus the total match count.
func (db *DB) SearchProposals(ctx context.Context, f model.ProposalFilters, p model.Pagination) ([]model.AssignmentProposal, int, error) {
	if err := p.Normalize(); err != nil {
		return nil, 0, model.NewValidation("%s", err.Error())
	}
	where, args := buildProposalWhereClause(f, 1)

	var total int
	if err := db.pool.QueryRow(ctx, "SELECT COUNT(*) FROM assignment_proposals"+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("storage: count proposals: %w", err)
	}

	orderBy := "proposed_at"
	switch p.SortBy {
	case "proposed_at", "responded_at", "match_score", "proposal_status", "created_at":
		orderBy = p.SortBy
	}
	orderDir := "DESC"
	if p.SortOrder == model.SortAsc {
		orderDir = "ASC"
	}

	query := fmt.Sprintf(
		`SELECT `+proposalColumns+` FROM assignment_proposals%s ORDER BY %s %s, id LIMIT %d OFFSET %d`,
		where, orderBy, orderDir, p.Limit, p.Offset(),
	)
	rows, err := db.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("storage: search proposals: %w", err)
	}
	defer rows.Close()

	proposals, err := scanProposals(rows)
	return proposals, total, err
}

// LiveProposalsForShift returns the shift's proposals still in a live
// state, newest first.
func (db *DB) LiveProposalsForShift(ctx context.Context, shiftID uuid.UUID) ([]model.AssignmentProposal, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT `+proposalColumns+` FROM assignment_proposals
		 WHERE open_shift_id = $1 AND proposal_status = ANY($2) AND deleted_at IS NULL
		 ORDER BY proposed_at DESC`,
		shiftID, liveStatusStrings())
	if err != nil {
		return nil, fmt.Errorf("storage: live proposals for shift: %w", err)
	}
	defer rows.Close()

	return scanProposals(rows)
}

// ProposalsByIDs fetches proposals by primary key, in no particular order.
// Missing IDs are silently absent from the result.
func (db *DB) ProposalsByIDs(ctx context.Context, ids []uuid.UUID) ([]model.AssignmentProposal, error) {
	if len(ids) == 0 {
		return []model.AssignmentProposal{}, nil
	}
	rows, err := db.pool.Query(ctx,
		`SELECT `+proposalColumns+` FROM assignment_proposals
		 WHERE id = ANY($1) AND deleted_at IS NULL`,
		ids)
	if err != nil {
		return nil, fmt.Errorf("storage: proposals by ids: %w", err)
	}
	defer rows.Close()

	return scanProposals(rows)
}

// proposalTransitionMiss classifies a conditional-update miss: the proposal
// is either gone or in a state that forbids the transition.
func (db *DB) proposalTransitionMiss(ctx context.Context, id uuid.UUID, to model.ProposalStatus) error {
	var current model.ProposalStatus
	err := db.pool.QueryRow(ctx,
		`SELECT proposal_status FROM assignment_proposals
		 WHERE id = $1 AND deleted_at IS NULL`, id,
	).Scan(&current)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.NewNotFound("proposal", id.String())
		}
		return fmt.Errorf("storage: inspect proposal: %w", err)
	}
	return model.NewStateError("proposal", string(current), string(to))
}

func fillProposalDefaults(p *model.AssignmentProposal) {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	now := time.Now().UTC()
	if p.ProposedAt.IsZero() {
		p.ProposedAt = now
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = now
	}
	if p.ProposalStatus == "" {
		p.ProposalStatus = model.ProposalStatusPending
	}
	if p.MatchReasons == nil {
		p.MatchReasons = []model.MatchReason{}
	}
	if p.Version == 0 {
		p.Version = 1
	}
}

// execer is the subset of pgx satisfied by both *pgxpool.Pool and pgx.Tx.
type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// insertProposal writes one proposal row through pool or transaction.
func (db *DB) insertProposal(ctx context.Context, q execer, p model.AssignmentProposal) error {
	_, err := q.Exec(ctx,
		`INSERT INTO assignment_proposals (id, open_shift_id, visit_id, caregiver_id, organization_id, branch_id,
		 match_score, match_quality, match_reasons, proposal_status,
		 proposed_at, sent_at, viewed_at, responded_at, accepted_at, rejected_at, expired_at,
		 proposal_method, sent_to_caregiver, notification_method, urgency_flag,
		 response_method, accepted_by, rejection_reason, rejection_category, notes,
		 created_at, created_by, updated_at, updated_by, version)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16,
		 $17, $18, $19, $20, $21, $22, $23, $24, $25, $26, $27, $28, $29, $30, $31)`,
		p.ID, p.OpenShiftID, p.VisitID, p.CaregiverID, p.OrganizationID, p.BranchID,
		p.MatchScore, p.MatchQuality, p.MatchReasons, p.ProposalStatus,
		p.ProposedAt, p.SentAt, p.ViewedAt, p.RespondedAt, p.AcceptedAt, p.RejectedAt, p.ExpiredAt,
		p.ProposalMethod, p.SentToCaregiver, p.NotificationMethod, p.UrgencyFlag,
		p.ResponseMethod, p.AcceptedBy, p.RejectionReason, p.RejectionCategory, p.Notes,
		p.CreatedAt, p.CreatedBy, p.UpdatedAt, p.UpdatedBy, p.Version,
	)
	if err != nil {
		if _, ok := uniqueViolation(err); ok {
			return model.NewConflict("caregiver %s already has a live proposal for shift %s", p.CaregiverID, p.OpenShiftID)
		}
		return fmt.Errorf("storage: insert proposal: %w", err)
	}
	return nil
}

func buildProposalWhereClause(f model.ProposalFilters, startArgIdx int) (string, []any) {
	conditions := []string{"deleted_at IS NULL"}
	var args []any
	idx := startArgIdx

	conditions = append(conditions, fmt.Sprintf("organization_id = $%d", idx))
	args = append(args, f.OrganizationID)
	idx++

	if f.BranchID != nil {
		conditions = append(conditions, fmt.Sprintf("branch_id = $%d", idx))
		args = append(args, *f.BranchID)
		idx++
	}
	if f.OpenShiftID != nil {
		conditions = append(conditions, fmt.Sprintf("open_shift_id = $%d", idx))
		args = append(args, *f.OpenShiftID)
		idx++
	}
	if f.CaregiverID != nil {
		conditions = append(conditions, fmt.Sprintf("caregiver_id = $%d", idx))
		args = append(args, *f.CaregiverID)
		idx++
	}
	if len(f.Status) > 0 {
		vals := make([]string, len(f.Status))
		for i, st := range f.Status {
			vals[i] = string(st)
		}
		conditions = append(conditions, fmt.Sprintf("proposal_status = ANY($%d)", idx))
		args = append(args, vals)
		idx++
	}
	if len(f.Method) > 0 {
		vals := make([]string, len(f.Method))
		for i, m := range f.Method {
			vals[i] = string(m)
		}
		conditions = append(conditions, fmt.Sprintf("proposal_method = ANY($%d)", idx))
		args = append(args, vals)
		idx++
	}
	if f.DateFrom != nil {
		conditions = append(conditions, fmt.Sprintf("proposed_at >= $%d", idx))
		args = append(args, *f.DateFrom)
		idx++
	}
	if f.DateTo != nil {
		conditions = append(conditions, fmt.Sprintf("proposed_at <= $%d", idx))
		args = append(args, *f.DateTo)
	}

	return " WHERE " + strings.Join(conditions, " AND "), args
}

// prefixedProposalColumns qualifies the shared column list for queries that
// join other tables.
func prefixedProposalColumns(prefix string) string {
	parts := strings.Split(proposalColumns, ",")
	for i, c := range parts {
		parts[i] = prefix + strings.TrimSpace(c)
	}
	return strings.Join(parts, ", ")
}

func scanProposal(row pgx.Row) (model.AssignmentProposal, error) {
	var p model.AssignmentProposal
	err := row.Scan(
		&p.ID, &p.OpenShiftID, &p.VisitID, &p.CaregiverID, &p.OrganizationID, &p.BranchID,
		&p.MatchScore, &p.MatchQuality, &p.MatchReasons, &p.ProposalStatus,
		&p.ProposedAt, &p.SentAt, &p.ViewedAt, &p.RespondedAt, &p.AcceptedAt, &p.RejectedAt, &p.ExpiredAt,
		&p.ProposalMethod, &p.SentToCaregiver, &p.NotificationMethod, &p.UrgencyFlag,
		&p.ResponseMethod, &p.AcceptedBy, &p.RejectionReason, &p.RejectionCategory, &p.Notes,
		&p.CreatedAt, &p.CreatedBy, &p.UpdatedAt, &p.UpdatedBy, &p.Version,
	)
	return p, err
}

func scanProposals(rows pgx.Rows) ([]model.AssignmentProposal, error) {
	var proposals []model.AssignmentProposal
	for rows.Next() {
		p, err := scanProposal(rows)
		if err != nil {
			return nil, fmt.Errorf("storage: scan proposal: %w", err)
		}
		proposals = append(proposals, p)
	}
	return proposals, rows.Err()
}

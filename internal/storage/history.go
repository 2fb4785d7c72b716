package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/ashita-ai/musubi/internal/integrity"
	"github.com/ashita-ai/musubi/internal/model"
)

const historyColumns = `id, open_shift_id, visit_id, organization_id, caregiver_id, proposal_id,
	outcome, match_score, match_quality, attempt_number, configuration_id, configuration_snapshot,
	assigned_successfully, response_time_minutes, notes, content_hash, created_at, created_by`

// InsertMatchHistory appends a single history row (for low-volume callers
// like accept/reject handlers that record one outcome apiece).
func (db *DB) InsertMatchHistory(ctx context.Context, h model.MatchHistory) error {
	fillHistoryDefaults(&h)
	_, err := db.pool.Exec(ctx, `
		INSERT INTO match_history (`+historyColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`,
		h.ID, h.OpenShiftID, h.VisitID, h.OrganizationID, h.CaregiverID, h.ProposalID,
		string(h.Outcome), h.MatchScore, h.MatchQuality, h.AttemptNumber, h.ConfigurationID, h.ConfigurationSnapshot,
		h.AssignedSuccessfully, h.ResponseTimeMinutes, h.Notes, h.ContentHash, h.CreatedAt, h.CreatedBy,
	)
	if err != nil {
		return fmt.Errorf("storage: insert match history: %w", err)
	}
	return nil
}

// InsertMatchHistoryBatch appends history rows using the COPY protocol. The
// async recorder flushes its buffer through here, so one matching run that
// proposed to N caregivers lands in a single round trip.
func (db *DB) InsertMatchHistoryBatch(ctx context.Context, entries []model.MatchHistory) (int64, error) {
	if len(entries) == 0 {
		return 0, nil
	}

	columns := []string{
		"id", "open_shift_id", "visit_id", "organization_id", "caregiver_id", "proposal_id",
		"outcome", "match_score", "match_quality", "attempt_number", "configuration_id", "configuration_snapshot",
		"assigned_successfully", "response_time_minutes", "notes", "content_hash", "created_at", "created_by",
	}

	rows := make([][]any, len(entries))
	for i := range entries {
		h := entries[i]
		fillHistoryDefaults(&h)
		rows[i] = []any{
			h.ID, h.OpenShiftID, h.VisitID, h.OrganizationID, h.CaregiverID, h.ProposalID,
			string(h.Outcome), h.MatchScore, h.MatchQuality, h.AttemptNumber, h.ConfigurationID, h.ConfigurationSnapshot,
			h.AssignedSuccessfully, h.ResponseTimeMinutes, h.Notes, h.ContentHash, h.CreatedAt, h.CreatedBy,
		}
	}

	// Dedicated 30s COPY timeout prevents a hung Postgres from blocking the
	// recorder flush indefinitely.
	copyCtx, copyCancel := context.WithTimeout(ctx, 30*time.Second)
	copyCount, err := db.pool.CopyFrom(
		copyCtx,
		pgx.Identifier{"match_history"},
		columns,
		pgx.CopyFromRows(rows),
	)
	copyCancel()
	if err != nil {
		return 0, fmt.Errorf("storage: copy match history: %w", err)
	}
	return copyCount, nil
}

// ListMatchHistory returns a page of history rows, newest first by default.
func (db *DB) ListMatchHistory(ctx context.Context, f model.HistoryFilters, p model.Pagination) ([]model.MatchHistory, int, error) {
	if err := p.Normalize(); err != nil {
		return nil, 0, model.NewValidation("%s", err.Error())
	}

	where, args := buildHistoryWhereClause(f, 1)

	var total int
	if err := db.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM match_history WHERE `+where, args...,
	).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("storage: count match history: %w", err)
	}

	sortColumn := "created_at"
	switch p.SortBy {
	case "", "created_at":
	case "match_score", "outcome", "attempt_number":
		sortColumn = p.SortBy
	default:
		return nil, 0, model.NewValidation("unsupported sort field %q", p.SortBy)
	}

	query := fmt.Sprintf(`
		SELECT `+historyColumns+`
		FROM match_history
		WHERE %s
		ORDER BY %s %s, id
		LIMIT $%d OFFSET $%d`,
		where, sortColumn, p.SortOrder, len(args)+1, len(args)+2)
	args = append(args, p.Limit, p.Offset())

	rows, err := db.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("storage: list match history: %w", err)
	}
	defer rows.Close()

	entries, err := scanHistoryRows(rows)
	if err != nil {
		return nil, 0, err
	}
	return entries, total, nil
}

func buildHistoryWhereClause(f model.HistoryFilters, startIdx int) (string, []any) {
	where := fmt.Sprintf("organization_id = $%d", startIdx)
	args := []any{f.OrganizationID}
	idx := startIdx + 1

	if f.OpenShiftID != nil {
		where += fmt.Sprintf(" AND open_shift_id = $%d", idx)
		args = append(args, *f.OpenShiftID)
		idx++
	}
	if f.CaregiverID != nil {
		where += fmt.Sprintf(" AND caregiver_id = $%d", idx)
		args = append(args, *f.CaregiverID)
		idx++
	}
	if len(f.Outcome) > 0 {
		outcomes := make([]string, len(f.Outcome))
		for i, o := range f.Outcome {
			outcomes[i] = string(o)
		}
		where += fmt.Sprintf(" AND outcome = ANY($%d)", idx)
		args = append(args, outcomes)
	}
	return where, args
}

func fillHistoryDefaults(h *model.MatchHistory) {
	if h.ID == uuid.Nil {
		h.ID = uuid.New()
	}
	if h.CreatedAt.IsZero() {
		h.CreatedAt = time.Now().UTC()
	}
	// Hash last: it covers the generated ID and timestamp.
	if h.ContentHash == "" {
		h.ContentHash = integrity.ComputeRowHash(
			h.ID, h.OpenShiftID, h.CaregiverID, string(h.Outcome),
			h.MatchScore, h.AttemptNumber, h.Notes, h.CreatedAt,
		)
	}
}

func scanHistoryRows(rows pgx.Rows) ([]model.MatchHistory, error) {
	var entries []model.MatchHistory
	for rows.Next() {
		var h model.MatchHistory
		if err := rows.Scan(
			&h.ID, &h.OpenShiftID, &h.VisitID, &h.OrganizationID, &h.CaregiverID, &h.ProposalID,
			&h.Outcome, &h.MatchScore, &h.MatchQuality, &h.AttemptNumber, &h.ConfigurationID, &h.ConfigurationSnapshot,
			&h.AssignedSuccessfully, &h.ResponseTimeMinutes, &h.Notes, &h.ContentHash, &h.CreatedAt, &h.CreatedBy,
		); err != nil {
			return nil, fmt.Errorf("storage: scan match history: %w", err)
		}
		entries = append(entries, h)
	}
	return entries, rows.Err()
}

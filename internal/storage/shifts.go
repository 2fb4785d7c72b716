package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/ashita-ai/musubi/internal/model"
)

const shiftColumns = `id, visit_id, organization_id, branch_id, client_id, service_type_id,
	 scheduled_date, start_time, end_time, duration_minutes, timezone,
	 required_skills, required_certifications, preferred_caregivers, blocked_caregivers,
	 gender_preference, language_preference, address, latitude, longitude,
	 matching_status, match_attempts, last_matched_at, priority, is_urgent, fill_by_date, notes,
	 created_at, created_by, updated_at, updated_by, version`

// CreateShiftFromVisit opens a shift for an unassigned visit, snapshotting
// the visit's requirements and preferences. At most one non-deleted shift
// may exist per visit; a second create returns ConflictError.
func (db *DB) CreateShiftFromVisit(ctx context.Context, visitID uuid.UUID, priority *model.ShiftPriority, fillByDate *time.Time, notes *string, createdBy *uuid.UUID) (model.OpenShift, error) {
	v, err := db.GetVisit(ctx, visitID)
	if err != nil {
		return model.OpenShift{}, err
	}
	if v.AssignedCaregiverID != nil || v.Status != model.VisitStatusUnassigned {
		return model.OpenShift{}, model.NewConflict("visit %s is not unassigned (status %s)", visitID, v.Status)
	}

	now := time.Now().UTC()
	s := model.OpenShift{
		ID:                     uuid.New(),
		VisitID:                v.ID,
		OrganizationID:         v.OrganizationID,
		BranchID:               v.BranchID,
		ClientID:               v.ClientID,
		ServiceTypeID:          v.ServiceTypeID,
		ScheduledDate:          v.ScheduledDate,
		StartTime:              v.StartTime,
		EndTime:                v.EndTime,
		DurationMinutes:        v.DurationMinutes,
		Timezone:               v.Timezone,
		RequiredSkills:         v.RequiredSkills,
		RequiredCertifications: v.RequiredCertifications,
		PreferredCaregivers:    v.PreferredCaregivers,
		BlockedCaregivers:      v.BlockedCaregivers,
		GenderPreference:       v.GenderPreference,
		LanguagePreference:     v.LanguagePreference,
		Address:                v.Address,
		Latitude:               v.Latitude,
		Longitude:              v.Longitude,
		MatchingStatus:         model.ShiftStatusNew,
		Priority:               model.PriorityMedium,
		FillByDate:             fillByDate,
		Notes:                  notes,
		CreatedAt:              now,
		CreatedBy:              createdBy,
		UpdatedAt:              now,
		UpdatedBy:              createdBy,
		Version:                1,
	}
	if priority != nil {
		s.Priority = *priority
	}

	_, err = db.pool.Exec(ctx,
		`INSERT INTO open_shifts (id, visit_id, organization_id, branch_id, client_id, service_type_id,
		 scheduled_date, start_time, end_time, duration_minutes, timezone,
		 required_skills, required_certifications, preferred_caregivers, blocked_caregivers,
		 gender_preference, language_preference, address, latitude, longitude,
		 matching_status, match_attempts, last_matched_at, priority, is_urgent, fill_by_date, notes,
		 created_at, created_by, updated_at, updated_by, version)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16,
		 $17, $18, $19, $20, $21, $22, $23, $24, $25, $26, $27, $28, $29, $30, $31, $32)`,
		s.ID, s.VisitID, s.OrganizationID, s.BranchID, s.ClientID, s.ServiceTypeID,
		s.ScheduledDate, s.StartTime, s.EndTime, s.DurationMinutes, s.Timezone,
		s.RequiredSkills, s.RequiredCertifications, s.PreferredCaregivers, s.BlockedCaregivers,
		s.GenderPreference, s.LanguagePreference, s.Address, s.Latitude, s.Longitude,
		s.MatchingStatus, s.MatchAttempts, s.LastMatchedAt, s.Priority, s.IsUrgent, s.FillByDate, s.Notes,
		s.CreatedAt, s.CreatedBy, s.UpdatedAt, s.UpdatedBy, s.Version,
	)
	if err != nil {
		if _, ok := uniqueViolation(err); ok {
			return model.OpenShift{}, model.NewConflict("an open shift already exists for visit %s", visitID)
		}
		return model.OpenShift{}, fmt.Errorf("storage: create shift: %w", err)
	}
	return s, nil
}

// GetShift retrieves a non-deleted shift by ID, scoped to the organization.
func (db *DB) GetShift(ctx context.Context, orgID, id uuid.UUID) (model.OpenShift, error) {
	row := db.pool.QueryRow(ctx,
		`SELECT `+shiftColumns+` FROM open_shifts
		 WHERE id = $1 AND organization_id = $2 AND deleted_at IS NULL`, id, orgID)
	s, err := scanShift(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.OpenShift{}, model.NewNotFound("open_shift", id.String())
		}
		return model.OpenShift{}, fmt.Errorf("storage: get shift: %w", err)
	}
	return s, nil
}

// BeginMatching claims a shift for one matching attempt: a compare-and-swap
// from any matchable status into MATCHING, incrementing match_attempts.
// A shift already held by another worker returns ConcurrencyError; an
// ASSIGNED shift returns StateError.
//
// The returned shift is the post-claim row (status MATCHING, attempts
// incremented). The second return value is the status the shift held
// before the claim; RevertMatching restores it on rollback.
func (db *DB) BeginMatching(ctx context.Context, orgID, id uuid.UUID) (model.OpenShift, model.ShiftStatus, error) {
	statuses := make([]string, len(model.MatchableShiftStatuses))
	for i, st := range model.MatchableShiftStatuses {
		statuses[i] = string(st)
	}

	// The RETURNING subquery runs against the statement snapshot, which
	// excludes the statement's own write, so it yields the pre-claim status.
	var prior model.ShiftStatus
	row := db.pool.QueryRow(ctx,
		`UPDATE open_shifts
		 SET matching_status = $1,
		     match_attempts = match_attempts + 1,
		     updated_at = now(),
		     version = version + 1
		 WHERE id = $2 AND organization_id = $3 AND deleted_at IS NULL
		   AND matching_status = ANY($4)
		 RETURNING `+shiftColumns+`, (SELECT s2.matching_status FROM open_shifts s2 WHERE s2.id = $2)`,
		model.ShiftStatusMatching, id, orgID, statuses)

	s, err := scanShiftWithPrior(row, &prior)
	if err == nil {
		return s, prior, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return model.OpenShift{}, "", fmt.Errorf("storage: begin matching: %w", err)
	}

	// CAS missed. Distinguish absent, terminal, and contended.
	current, gerr := db.GetShift(ctx, orgID, id)
	if gerr != nil {
		return model.OpenShift{}, "", gerr
	}
	switch current.MatchingStatus {
	case model.ShiftStatusAssigned:
		return model.OpenShift{}, "", model.NewStateError("open_shift",
			string(model.ShiftStatusAssigned), string(model.ShiftStatusMatching))
	case model.ShiftStatusMatching:
		return model.OpenShift{}, "", model.NewConcurrency("shift %s is being matched by another worker", id)
	default:
		return model.OpenShift{}, "", model.NewConcurrency("shift %s changed state during claim", id)
	}
}

// RevertMatching restores a shift from MATCHING to the status it held
// before BeginMatching. Used on rollback after a failed or cancelled
// attempt. No-op if the shift has already moved on.
func (db *DB) RevertMatching(ctx context.Context, id uuid.UUID, prior model.ShiftStatus) error {
	_, err := db.pool.Exec(ctx,
		`UPDATE open_shifts
		 SET matching_status = $1, updated_at = now(), version = version + 1
		 WHERE id = $2 AND matching_status = $3 AND deleted_at IS NULL`,
		prior, id, model.ShiftStatusMatching)
	if err != nil {
		return fmt.Errorf("storage: revert matching: %w", err)
	}
	return nil
}

// CompleteMatching moves a shift out of MATCHING into MATCHED or NO_MATCH
// and stamps last_matched_at.
func (db *DB) CompleteMatching(ctx context.Context, id uuid.UUID, to model.ShiftStatus, at time.Time) (model.OpenShift, error) {
	if to != model.ShiftStatusMatched && to != model.ShiftStatusNoMatch {
		return model.OpenShift{}, model.NewStateError("open_shift", string(model.ShiftStatusMatching), string(to))
	}
	row := db.pool.QueryRow(ctx,
		`UPDATE open_shifts
		 SET matching_status = $1, last_matched_at = $2, updated_at = now(), version = version + 1
		 WHERE id = $3 AND matching_status = $4 AND deleted_at IS NULL
		 RETURNING `+shiftColumns,
		to, at, id, model.ShiftStatusMatching)
	s, err := scanShift(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.OpenShift{}, model.NewConcurrency("shift %s left MATCHING before completion", id)
		}
		return model.OpenShift{}, fmt.Errorf("storage: complete matching: %w", err)
	}
	return s, nil
}

// MarkShiftProposed advances MATCHED → PROPOSED once proposals have been
// emitted for the shift.
func (db *DB) MarkShiftProposed(ctx context.Context, id uuid.UUID) (model.OpenShift, error) {
	row := db.pool.QueryRow(ctx,
		`UPDATE open_shifts
		 SET matching_status = $1, updated_at = now(), version = version + 1
		 WHERE id = $2 AND matching_status = $3 AND deleted_at IS NULL
		 RETURNING `+shiftColumns,
		model.ShiftStatusProposed, id, model.ShiftStatusMatched)
	s, err := scanShift(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.OpenShift{}, model.NewConcurrency("shift %s left MATCHED before proposing", id)
		}
		return model.OpenShift{}, fmt.Errorf("storage: mark shift proposed: %w", err)
	}
	return s, nil
}

// SoftDeleteShift hides a shift from all queries and withdraws its live
// proposals in the same transaction.
func (db *DB) SoftDeleteShift(ctx context.Context, orgID, id uuid.UUID, deletedBy *uuid.UUID) error {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("storage: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	now := time.Now().UTC()
	tag, err := tx.Exec(ctx,
		`UPDATE open_shifts
		 SET deleted_at = $1, deleted_by = $2, updated_at = $1, version = version + 1
		 WHERE id = $3 AND organization_id = $4 AND deleted_at IS NULL`,
		now, deletedBy, id, orgID)
	if err != nil {
		return fmt.Errorf("storage: soft delete shift: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.NewNotFound("open_shift", id.String())
	}

	if _, err := tx.Exec(ctx,
		`UPDATE assignment_proposals
		 SET proposal_status = $1, updated_at = $2, version = version + 1
		 WHERE open_shift_id = $3 AND proposal_status = ANY($4) AND deleted_at IS NULL`,
		model.ProposalStatusSuperseded, now, id, liveStatusStrings()); err != nil {
		return fmt.Errorf("storage: withdraw proposals for deleted shift: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("storage: commit shift delete: %w", err)
	}
	return nil
}

// SearchShifts executes a filtered, paginated shift query and returns the
// page plus the total match count.
func (db *DB) SearchShifts(ctx context.Context, f model.ShiftFilters, p model.Pagination) ([]model.OpenShift, int, error) {
	if err := p.Normalize(); err != nil {
		return nil, 0, model.NewValidation("%s", err.Error())
	}
	where, args := buildShiftWhereClause(f, 1)

	var total int
	if err := db.pool.QueryRow(ctx, "SELECT COUNT(*) FROM open_shifts"+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("storage: count shifts: %w", err)
	}

	orderBy := "scheduled_date"
	switch p.SortBy {
	case "scheduled_date", "created_at", "fill_by_date", "match_attempts", "matching_status":
		orderBy = p.SortBy
	case "priority":
		// Enum order, not lexicographic.
		orderBy = `CASE priority
			 WHEN 'CRITICAL' THEN 4 WHEN 'HIGH' THEN 3 WHEN 'MEDIUM' THEN 2 ELSE 1 END`
	}
	orderDir := "DESC"
	if p.SortOrder == model.SortAsc {
		orderDir = "ASC"
	}

	query := fmt.Sprintf(
		`SELECT `+shiftColumns+` FROM open_shifts%s ORDER BY %s %s, id LIMIT %d OFFSET %d`,
		where, orderBy, orderDir, p.Limit, p.Offset(),
	)
	rows, err := db.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("storage: search shifts: %w", err)
	}
	defer rows.Close()

	shifts, err := scanShifts(rows)
	return shifts, total, err
}

// BrowseShiftsForCaregiver returns shifts a caregiver may self-select:
// open statuses, in the caregiver's branch, scheduled inside the window,
// and not blocking this caregiver. Scoring happens upstream; this is the
// raw candidate pool.
func (db *DB) BrowseShiftsForCaregiver(ctx context.Context, orgID, branchID, caregiverID uuid.UUID, from, to time.Time) ([]model.OpenShift, error) {
	openStatuses := []string{
		string(model.ShiftStatusNew), string(model.ShiftStatusMatching),
		string(model.ShiftStatusMatched), string(model.ShiftStatusProposed),
	}
	rows, err := db.pool.Query(ctx,
		`SELECT `+shiftColumns+` FROM open_shifts
		 WHERE organization_id = $1 AND branch_id = $2 AND deleted_at IS NULL
		   AND matching_status = ANY($3)
		   AND scheduled_date >= $4 AND scheduled_date <= $5
		   AND NOT ($6 = ANY(blocked_caregivers))
		 ORDER BY scheduled_date ASC, start_time ASC`,
		orgID, branchID, openStatuses, from, to, caregiverID)
	if err != nil {
		return nil, fmt.Errorf("storage: browse shifts: %w", err)
	}
	defer rows.Close()

	return scanShifts(rows)
}

func buildShiftWhereClause(f model.ShiftFilters, startArgIdx int) (string, []any) {
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
	if len(f.BranchIDs) > 0 {
		conditions = append(conditions, fmt.Sprintf("branch_id = ANY($%d)", idx))
		args = append(args, f.BranchIDs)
		idx++
	}
	if f.ClientID != nil {
		conditions = append(conditions, fmt.Sprintf("client_id = $%d", idx))
		args = append(args, *f.ClientID)
		idx++
	}
	if f.ServiceTypeID != nil {
		conditions = append(conditions, fmt.Sprintf("service_type_id = $%d", idx))
		args = append(args, *f.ServiceTypeID)
		idx++
	}
	if f.DateFrom != nil {
		conditions = append(conditions, fmt.Sprintf("scheduled_date >= $%d", idx))
		args = append(args, *f.DateFrom)
		idx++
	}
	if f.DateTo != nil {
		conditions = append(conditions, fmt.Sprintf("scheduled_date <= $%d", idx))
		args = append(args, *f.DateTo)
		idx++
	}
	if len(f.Priority) > 0 {
		vals := make([]string, len(f.Priority))
		for i, pr := range f.Priority {
			vals[i] = string(pr)
		}
		conditions = append(conditions, fmt.Sprintf("priority = ANY($%d)", idx))
		args = append(args, vals)
		idx++
	}
	if len(f.MatchingStatus) > 0 {
		vals := make([]string, len(f.MatchingStatus))
		for i, st := range f.MatchingStatus {
			vals[i] = string(st)
		}
		conditions = append(conditions, fmt.Sprintf("matching_status = ANY($%d)", idx))
		args = append(args, vals)
		idx++
	}
	if f.IsUrgent != nil {
		conditions = append(conditions, fmt.Sprintf("is_urgent = $%d", idx))
		args = append(args, *f.IsUrgent)
	}

	return " WHERE " + strings.Join(conditions, " AND "), args
}

func scanShift(row pgx.Row) (model.OpenShift, error) {
	var s model.OpenShift
	err := row.Scan(
		&s.ID, &s.VisitID, &s.OrganizationID, &s.BranchID, &s.ClientID, &s.ServiceTypeID,
		&s.ScheduledDate, &s.StartTime, &s.EndTime, &s.DurationMinutes, &s.Timezone,
		&s.RequiredSkills, &s.RequiredCertifications, &s.PreferredCaregivers, &s.BlockedCaregivers,
		&s.GenderPreference, &s.LanguagePreference, &s.Address, &s.Latitude, &s.Longitude,
		&s.MatchingStatus, &s.MatchAttempts, &s.LastMatchedAt, &s.Priority, &s.IsUrgent, &s.FillByDate, &s.Notes,
		&s.CreatedAt, &s.CreatedBy, &s.UpdatedAt, &s.UpdatedBy, &s.Version,
	)
	return s, err
}

func scanShiftWithPrior(row pgx.Row, prior *model.ShiftStatus) (model.OpenShift, error) {
	var s model.OpenShift
	err := row.Scan(
		&s.ID, &s.VisitID, &s.OrganizationID, &s.BranchID, &s.ClientID, &s.ServiceTypeID,
		&s.ScheduledDate, &s.StartTime, &s.EndTime, &s.DurationMinutes, &s.Timezone,
		&s.RequiredSkills, &s.RequiredCertifications, &s.PreferredCaregivers, &s.BlockedCaregivers,
		&s.GenderPreference, &s.LanguagePreference, &s.Address, &s.Latitude, &s.Longitude,
		&s.MatchingStatus, &s.MatchAttempts, &s.LastMatchedAt, &s.Priority, &s.IsUrgent, &s.FillByDate, &s.Notes,
		&s.CreatedAt, &s.CreatedBy, &s.UpdatedAt, &s.UpdatedBy, &s.Version,
		prior,
	)
	return s, err
}

func scanShifts(rows pgx.Rows) ([]model.OpenShift, error) {
	var shifts []model.OpenShift
	for rows.Next() {
		s, err := scanShift(rows)
		if err != nil {
			return nil, fmt.Errorf("storage: scan shift: %w", err)
		}
		shifts = append(shifts, s)
	}
	return shifts, rows.Err()
}

func liveStatusStrings() []string {
	out := make([]string, len(model.LiveProposalStatuses))
	for i, st := range model.LiveProposalStatuses {
		out[i] = string(st)
	}
	return out
}

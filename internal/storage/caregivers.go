package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/ashita-ai/musubi/internal/model"
)

const caregiverColumns = `id, organization_id, branch_id, first_name, last_name, email, phone,
	 employment_type, active, gender, languages, skills, compliance_status, max_hours_per_week,
	 latitude, longitude, reliability_score, created_at, updated_at`

// GetCaregiver retrieves a non-deleted caregiver by ID, scoped to the
// organization.
func (db *DB) GetCaregiver(ctx context.Context, orgID, id uuid.UUID) (model.Caregiver, error) {
	row := db.pool.QueryRow(ctx,
		`SELECT `+caregiverColumns+` FROM caregivers
		 WHERE id = $1 AND organization_id = $2 AND deleted_at IS NULL`, id, orgID)
	c, err := scanCaregiver(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Caregiver{}, model.NewNotFound("caregiver", id.String())
		}
		return model.Caregiver{}, fmt.Errorf("storage: get caregiver: %w", err)
	}
	return c, nil
}

// ListActiveCaregiversByBranch returns the matchable caregiver pool for a
// branch. Caregivers in the exclude list never appear; the loader passes
// the shift's block list here so blocked caregivers are absent from
// results rather than marked ineligible.
func (db *DB) ListActiveCaregiversByBranch(ctx context.Context, orgID, branchID uuid.UUID, exclude []uuid.UUID) ([]model.Caregiver, error) {
	if exclude == nil {
		exclude = []uuid.UUID{}
	}
	rows, err := db.pool.Query(ctx,
		`SELECT `+caregiverColumns+` FROM caregivers
		 WHERE organization_id = $1 AND branch_id = $2 AND active AND deleted_at IS NULL
		   AND NOT (id = ANY($3))
		 ORDER BY id`,
		orgID, branchID, exclude)
	if err != nil {
		return nil, fmt.Errorf("storage: list caregivers by branch: %w", err)
	}
	defer rows.Close()

	var caregivers []model.Caregiver
	for rows.Next() {
		c, err := scanCaregiver(rows)
		if err != nil {
			return nil, fmt.Errorf("storage: scan caregiver: %w", err)
		}
		caregivers = append(caregivers, c)
	}
	return caregivers, rows.Err()
}

// CertificationsByCaregiver returns every credential for the given
// caregivers in one query, keyed by caregiver ID.
func (db *DB) CertificationsByCaregiver(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID][]model.Certification, error) {
	if len(ids) == 0 {
		return map[uuid.UUID][]model.Certification{}, nil
	}
	rows, err := db.pool.Query(ctx,
		`SELECT caregiver_id, certification_type, status, expires_at
		 FROM caregiver_certifications
		 WHERE caregiver_id = ANY($1)
		 ORDER BY caregiver_id, certification_type`, ids)
	if err != nil {
		return nil, fmt.Errorf("storage: certifications by caregiver: %w", err)
	}
	defer rows.Close()

	out := make(map[uuid.UUID][]model.Certification, len(ids))
	for rows.Next() {
		var cid uuid.UUID
		var cert model.Certification
		if err := rows.Scan(&cid, &cert.Type, &cert.Status, &cert.ExpiresAt); err != nil {
			return nil, fmt.Errorf("storage: scan certification: %w", err)
		}
		out[cid] = append(out[cid], cert)
	}
	return out, rows.Err()
}

// WeeklyHoursByCaregiver sums scheduled visit hours per caregiver inside
// [weekStart, weekEnd]. Cancelled visits do not count against capacity.
func (db *DB) WeeklyHoursByCaregiver(ctx context.Context, ids []uuid.UUID, weekStart, weekEnd time.Time) (map[uuid.UUID]float64, error) {
	if len(ids) == 0 {
		return map[uuid.UUID]float64{}, nil
	}
	rows, err := db.pool.Query(ctx,
		`SELECT assigned_caregiver_id, SUM(duration_minutes)::float8 / 60.0
		 FROM visits
		 WHERE assigned_caregiver_id = ANY($1)
		   AND scheduled_date >= $2 AND scheduled_date <= $3
		   AND status = ANY($4) AND deleted_at IS NULL
		 GROUP BY assigned_caregiver_id`,
		ids, weekStart, weekEnd,
		[]string{string(model.VisitStatusScheduled), string(model.VisitStatusInProgress), string(model.VisitStatusCompleted)})
	if err != nil {
		return nil, fmt.Errorf("storage: weekly hours: %w", err)
	}
	defer rows.Close()

	out := make(map[uuid.UUID]float64, len(ids))
	for rows.Next() {
		var cid uuid.UUID
		var hours float64
		if err := rows.Scan(&cid, &hours); err != nil {
			return nil, fmt.Errorf("storage: scan weekly hours: %w", err)
		}
		out[cid] = hours
	}
	return out, rows.Err()
}

// ConflictingVisitsByCaregiver returns, per caregiver, the visits on the
// given date whose "HH:MM" interval overlaps [startTime, endTime). Only
// visits that still occupy the caregiver count.
func (db *DB) ConflictingVisitsByCaregiver(ctx context.Context, ids []uuid.UUID, date time.Time, startTime, endTime string) (map[uuid.UUID][]model.VisitInterval, error) {
	if len(ids) == 0 {
		return map[uuid.UUID][]model.VisitInterval{}, nil
	}
	rows, err := db.pool.Query(ctx,
		`SELECT assigned_caregiver_id, id, start_time, end_time
		 FROM visits
		 WHERE assigned_caregiver_id = ANY($1)
		   AND scheduled_date = $2
		   AND start_time < $4 AND end_time > $3
		   AND status = ANY($5) AND deleted_at IS NULL
		 ORDER BY start_time`,
		ids, date, startTime, endTime,
		[]string{string(model.VisitStatusScheduled), string(model.VisitStatusInProgress)})
	if err != nil {
		return nil, fmt.Errorf("storage: conflicting visits: %w", err)
	}
	defer rows.Close()

	out := make(map[uuid.UUID][]model.VisitInterval)
	for rows.Next() {
		var cid uuid.UUID
		var iv model.VisitInterval
		if err := rows.Scan(&cid, &iv.VisitID, &iv.StartTime, &iv.EndTime); err != nil {
			return nil, fmt.Errorf("storage: scan conflicting visit: %w", err)
		}
		out[cid] = append(out[cid], iv)
	}
	return out, rows.Err()
}

// ClientHistory is a caregiver's track record with one client: completed
// visit count and the client's average rating of them, when any exists.
type ClientHistory struct {
	Visits    int
	AvgRating *float64
}

// ClientHistoryByCaregiver returns each caregiver's history with the given
// client in one round trip. Visit counts and ratings aggregate separately
// so neither inflates the other.
func (db *DB) ClientHistoryByCaregiver(ctx context.Context, ids []uuid.UUID, clientID uuid.UUID) (map[uuid.UUID]ClientHistory, error) {
	if len(ids) == 0 {
		return map[uuid.UUID]ClientHistory{}, nil
	}
	rows, err := db.pool.Query(ctx,
		`SELECT c.caregiver_id, COALESCE(v.visits, 0), r.avg_rating
		 FROM unnest($1::uuid[]) AS c(caregiver_id)
		 LEFT JOIN (
		     SELECT assigned_caregiver_id, COUNT(*) AS visits
		     FROM visits
		     WHERE assigned_caregiver_id = ANY($1) AND client_id = $2
		       AND status = $3 AND deleted_at IS NULL
		     GROUP BY assigned_caregiver_id
		 ) v ON v.assigned_caregiver_id = c.caregiver_id
		 LEFT JOIN (
		     SELECT caregiver_id, AVG(rating)::float8 AS avg_rating
		     FROM client_caregiver_ratings
		     WHERE caregiver_id = ANY($1) AND client_id = $2
		     GROUP BY caregiver_id
		 ) r ON r.caregiver_id = c.caregiver_id`,
		ids, clientID, string(model.VisitStatusCompleted))
	if err != nil {
		return nil, fmt.Errorf("storage: client history: %w", err)
	}
	defer rows.Close()

	out := make(map[uuid.UUID]ClientHistory, len(ids))
	for rows.Next() {
		var cid uuid.UUID
		var h ClientHistory
		if err := rows.Scan(&cid, &h.Visits, &h.AvgRating); err != nil {
			return nil, fmt.Errorf("storage: scan client history: %w", err)
		}
		out[cid] = h
	}
	return out, rows.Err()
}

// RecentRejectionCountsByCaregiver counts proposals each caregiver rejected
// since the given time.
func (db *DB) RecentRejectionCountsByCaregiver(ctx context.Context, ids []uuid.UUID, since time.Time) (map[uuid.UUID]int, error) {
	if len(ids) == 0 {
		return map[uuid.UUID]int{}, nil
	}
	rows, err := db.pool.Query(ctx,
		`SELECT caregiver_id, COUNT(*)
		 FROM assignment_proposals
		 WHERE caregiver_id = ANY($1) AND proposal_status = $2
		   AND rejected_at >= $3 AND deleted_at IS NULL
		 GROUP BY caregiver_id`,
		ids, model.ProposalStatusRejected, since)
	if err != nil {
		return nil, fmt.Errorf("storage: recent rejection counts: %w", err)
	}
	defer rows.Close()

	out := make(map[uuid.UUID]int, len(ids))
	for rows.Next() {
		var cid uuid.UUID
		var n int
		if err := rows.Scan(&cid, &n); err != nil {
			return nil, fmt.Errorf("storage: scan rejection count: %w", err)
		}
		out[cid] = n
	}
	return out, rows.Err()
}

func scanCaregiver(row pgx.Row) (model.Caregiver, error) {
	var c model.Caregiver
	err := row.Scan(
		&c.ID, &c.OrganizationID, &c.BranchID, &c.FirstName, &c.LastName, &c.Email, &c.Phone,
		&c.EmploymentType, &c.Active, &c.Gender, &c.Languages, &c.Skills, &c.ComplianceStatus, &c.MaxHoursPerWeek,
		&c.Latitude, &c.Longitude, &c.ReliabilityScore, &c.CreatedAt, &c.UpdatedAt,
	)
	return c, err
}

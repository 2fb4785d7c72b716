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

const visitColumns = `id, organization_id, branch_id, client_id, service_type_id,
	 scheduled_date, start_time, end_time, duration_minutes, timezone,
	 required_skills, required_certifications, preferred_caregivers, blocked_caregivers,
	 gender_preference, language_preference, address, latitude, longitude,
	 assigned_caregiver_id, status, created_at, updated_at, version`

// GetVisit retrieves a non-deleted visit by ID. Organization scoping
// happens in the service layer since shift creation derives the org from
// the visit itself.
func (db *DB) GetVisit(ctx context.Context, id uuid.UUID) (model.Visit, error) {
	row := db.pool.QueryRow(ctx,
		`SELECT `+visitColumns+` FROM visits
		 WHERE id = $1 AND deleted_at IS NULL`, id)
	v, err := scanVisit(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Visit{}, model.NewNotFound("visit", id.String())
		}
		return model.Visit{}, fmt.Errorf("storage: get visit: %w", err)
	}
	return v, nil
}

// CreateVisit inserts a visit. Visits normally arrive from the scheduling
// system; this exists for seeding and integration tests.
func (db *DB) CreateVisit(ctx context.Context, v model.Visit) (model.Visit, error) {
	if v.ID == uuid.Nil {
		v.ID = uuid.New()
	}
	now := time.Now().UTC()
	if v.CreatedAt.IsZero() {
		v.CreatedAt = now
	}
	v.UpdatedAt = now
	if v.Status == "" {
		v.Status = model.VisitStatusUnassigned
	}
	if v.Version == 0 {
		v.Version = 1
	}

	_, err := db.pool.Exec(ctx,
		`INSERT INTO visits (id, organization_id, branch_id, client_id, service_type_id,
		 scheduled_date, start_time, end_time, duration_minutes, timezone,
		 required_skills, required_certifications, preferred_caregivers, blocked_caregivers,
		 gender_preference, language_preference, address, latitude, longitude,
		 assigned_caregiver_id, status, created_at, updated_at, version)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16,
		 $17, $18, $19, $20, $21, $22, $23, $24)`,
		v.ID, v.OrganizationID, v.BranchID, v.ClientID, v.ServiceTypeID,
		v.ScheduledDate, v.StartTime, v.EndTime, v.DurationMinutes, v.Timezone,
		v.RequiredSkills, v.RequiredCertifications, v.PreferredCaregivers, v.BlockedCaregivers,
		v.GenderPreference, v.LanguagePreference, v.Address, v.Latitude, v.Longitude,
		v.AssignedCaregiverID, v.Status, v.CreatedAt, v.UpdatedAt, v.Version,
	)
	if err != nil {
		return model.Visit{}, fmt.Errorf("storage: create visit: %w", err)
	}
	return v, nil
}

func scanVisit(row pgx.Row) (model.Visit, error) {
	var v model.Visit
	err := row.Scan(
		&v.ID, &v.OrganizationID, &v.BranchID, &v.ClientID, &v.ServiceTypeID,
		&v.ScheduledDate, &v.StartTime, &v.EndTime, &v.DurationMinutes, &v.Timezone,
		&v.RequiredSkills, &v.RequiredCertifications, &v.PreferredCaregivers, &v.BlockedCaregivers,
		&v.GenderPreference, &v.LanguagePreference, &v.Address, &v.Latitude, &v.Longitude,
		&v.AssignedCaregiverID, &v.Status, &v.CreatedAt, &v.UpdatedAt, &v.Version,
	)
	return v, err
}

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

const preferenceColumns = `id, caregiver_id, organization_id, preferred_days, preferred_time_ranges,
	max_hours_per_week, willing_to_work_weekends, willing_to_work_holidays, accepts_urgent_shifts,
	accept_auto_assignment, notification_methods, quiet_hours_start, quiet_hours_end,
	created_at, updated_at, deleted_at, version`

// GetPreferenceProfile returns the preference profile for a caregiver.
// Callers treat NotFound as "no stated preferences": the claim path falls
// back to defaults with auto-assignment off.
func (db *DB) GetPreferenceProfile(ctx context.Context, orgID, caregiverID uuid.UUID) (model.CaregiverPreferenceProfile, error) {
	row := db.pool.QueryRow(ctx, `
		SELECT `+preferenceColumns+`
		FROM caregiver_preference_profiles
		WHERE caregiver_id = $1 AND organization_id = $2 AND deleted_at IS NULL`,
		caregiverID, orgID)

	p, err := scanPreferenceProfile(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.CaregiverPreferenceProfile{}, model.NewNotFound("preference_profile", caregiverID.String())
		}
		return model.CaregiverPreferenceProfile{}, fmt.Errorf("storage: get preference profile: %w", err)
	}
	return p, nil
}

// UpsertPreferenceProfile creates or replaces a caregiver's preference
// profile. Profiles are unique per caregiver, so a second write overwrites
// the stated preferences wholesale and bumps the version.
func (db *DB) UpsertPreferenceProfile(ctx context.Context, p model.CaregiverPreferenceProfile) (model.CaregiverPreferenceProfile, error) {
	now := time.Now().UTC()
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	if p.Version == 0 {
		p.Version = 1
	}
	if p.PreferredDays == nil {
		p.PreferredDays = []string{}
	}
	if p.PreferredTimeRanges == nil {
		p.PreferredTimeRanges = []model.TimeRange{}
	}
	if p.NotificationMethods == nil {
		p.NotificationMethods = []string{}
	}

	row := db.pool.QueryRow(ctx, `
		INSERT INTO caregiver_preference_profiles (`+preferenceColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		ON CONFLICT (caregiver_id) DO UPDATE SET
			preferred_days = EXCLUDED.preferred_days,
			preferred_time_ranges = EXCLUDED.preferred_time_ranges,
			max_hours_per_week = EXCLUDED.max_hours_per_week,
			willing_to_work_weekends = EXCLUDED.willing_to_work_weekends,
			willing_to_work_holidays = EXCLUDED.willing_to_work_holidays,
			accepts_urgent_shifts = EXCLUDED.accepts_urgent_shifts,
			accept_auto_assignment = EXCLUDED.accept_auto_assignment,
			notification_methods = EXCLUDED.notification_methods,
			quiet_hours_start = EXCLUDED.quiet_hours_start,
			quiet_hours_end = EXCLUDED.quiet_hours_end,
			updated_at = EXCLUDED.updated_at,
			deleted_at = NULL,
			version = caregiver_preference_profiles.version + 1
		RETURNING `+preferenceColumns,
		p.ID, p.CaregiverID, p.OrganizationID, p.PreferredDays, p.PreferredTimeRanges,
		p.MaxHoursPerWeek, p.WillingToWorkWeekends, p.WillingToWorkHolidays, p.AcceptsUrgentShifts,
		p.AcceptAutoAssignment, p.NotificationMethods, p.QuietHoursStart, p.QuietHoursEnd,
		p.CreatedAt, p.UpdatedAt, p.DeletedAt, p.Version)

	stored, err := scanPreferenceProfile(row)
	if err != nil {
		return model.CaregiverPreferenceProfile{}, fmt.Errorf("storage: upsert preference profile: %w", err)
	}
	return stored, nil
}

func scanPreferenceProfile(row pgx.Row) (model.CaregiverPreferenceProfile, error) {
	var p model.CaregiverPreferenceProfile
	err := row.Scan(
		&p.ID, &p.CaregiverID, &p.OrganizationID, &p.PreferredDays, &p.PreferredTimeRanges,
		&p.MaxHoursPerWeek, &p.WillingToWorkWeekends, &p.WillingToWorkHolidays, &p.AcceptsUrgentShifts,
		&p.AcceptAutoAssignment, &p.NotificationMethods, &p.QuietHoursStart, &p.QuietHoursEnd,
		&p.CreatedAt, &p.UpdatedAt, &p.DeletedAt, &p.Version,
	)
	return p, err
}

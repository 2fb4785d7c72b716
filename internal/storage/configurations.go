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

const configurationColumns = `id, organization_id, branch_id, name, is_default, is_active,
	 weights, require_exact_skill_match, require_active_certifications,
	 respect_gender_preference, respect_language_preference, max_travel_distance, max_travel_time,
	 min_score_for_proposal, auto_assign_threshold, max_proposals_per_shift, proposal_expiration_minutes,
	 optimize_for, prioritize_continuity_of_care, prefer_same_caregiver_for_recurring,
	 penalize_frequent_rejections, boost_reliable_performers, score_manual_proposals, ml_weight,
	 created_at, created_by, updated_at, updated_by, version`

// CreateConfiguration inserts a matching configuration. When the new
// configuration is a default, any previous default for the same (org,
// branch) scope is demoted in the same transaction so at most one
// default+active configuration covers a scope.
func (db *DB) CreateConfiguration(ctx context.Context, c model.MatchingConfiguration) (model.MatchingConfiguration, error) {
	if err := c.Validate(); err != nil {
		return model.MatchingConfiguration{}, model.NewValidation("%s", err.Error())
	}
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	now := time.Now().UTC()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now
	if c.Version == 0 {
		c.Version = 1
	}

	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return model.MatchingConfiguration{}, fmt.Errorf("storage: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if c.IsDefault {
		if err := demoteDefaults(ctx, tx, c.OrganizationID, c.BranchID, now); err != nil {
			return model.MatchingConfiguration{}, err
		}
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO matching_configurations (id, organization_id, branch_id, name, is_default, is_active,
		 weights, require_exact_skill_match, require_active_certifications,
		 respect_gender_preference, respect_language_preference, max_travel_distance, max_travel_time,
		 min_score_for_proposal, auto_assign_threshold, max_proposals_per_shift, proposal_expiration_minutes,
		 optimize_for, prioritize_continuity_of_care, prefer_same_caregiver_for_recurring,
		 penalize_frequent_rejections, boost_reliable_performers, score_manual_proposals, ml_weight,
		 created_at, created_by, updated_at, updated_by, version)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16,
		 $17, $18, $19, $20, $21, $22, $23, $24, $25, $26, $27, $28, $29)`,
		c.ID, c.OrganizationID, c.BranchID, c.Name, c.IsDefault, c.IsActive,
		c.Weights, c.RequireExactSkillMatch, c.RequireActiveCertifications,
		c.RespectGenderPreference, c.RespectLanguagePreference, c.MaxTravelDistance, c.MaxTravelTime,
		c.MinScoreForProposal, c.AutoAssignThreshold, c.MaxProposalsPerShift, c.ProposalExpirationMinutes,
		c.OptimizeFor, c.PrioritizeContinuityOfCare, c.PreferSameCaregiverForRecurring,
		c.PenalizeFrequentRejections, c.BoostReliablePerformers, c.ScoreManualProposals, c.MLWeight,
		c.CreatedAt, c.CreatedBy, c.UpdatedAt, c.UpdatedBy, c.Version,
	)
	if err != nil {
		if _, ok := uniqueViolation(err); ok {
			return model.MatchingConfiguration{}, model.NewConflict("a default active configuration already exists for this scope")
		}
		return model.MatchingConfiguration{}, fmt.Errorf("storage: create configuration: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return model.MatchingConfiguration{}, fmt.Errorf("storage: commit configuration: %w", err)
	}
	return c, nil
}

// GetConfiguration retrieves a non-deleted configuration by ID, scoped to
// the organization.
func (db *DB) GetConfiguration(ctx context.Context, orgID, id uuid.UUID) (model.MatchingConfiguration, error) {
	row := db.pool.QueryRow(ctx,
		`SELECT `+configurationColumns+` FROM matching_configurations
		 WHERE id = $1 AND organization_id = $2 AND deleted_at IS NULL`, id, orgID)
	c, err := scanConfiguration(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.MatchingConfiguration{}, model.NewNotFound("matching_configuration", id.String())
		}
		return model.MatchingConfiguration{}, fmt.Errorf("storage: get configuration: %w", err)
	}
	return c, nil
}

// ResolveConfiguration returns the configuration the matcher should use for
// a shift: the branch-level active default when one exists, otherwise the
// org-level one. ErrNotFound when the organization has no usable
// configuration; the caller decides whether to fall back to built-ins.
func (db *DB) ResolveConfiguration(ctx context.Context, orgID uuid.UUID, branchID uuid.UUID) (model.MatchingConfiguration, error) {
	row := db.pool.QueryRow(ctx,
		`SELECT `+configurationColumns+` FROM matching_configurations
		 WHERE organization_id = $1 AND is_default AND is_active AND deleted_at IS NULL
		   AND (branch_id IS NULL OR branch_id = $2)
		 ORDER BY branch_id NULLS LAST
		 LIMIT 1`, orgID, branchID)
	c, err := scanConfiguration(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.MatchingConfiguration{}, fmt.Errorf("configuration for org %s: %w", orgID, ErrNotFound)
		}
		return model.MatchingConfiguration{}, fmt.Errorf("storage: resolve configuration: %w", err)
	}
	return c, nil
}

// UpdateConfiguration rewrites a configuration under optimistic locking:
// the caller supplies the version it read, and a mismatch returns
// ConcurrencyError.
func (db *DB) UpdateConfiguration(ctx context.Context, c model.MatchingConfiguration) (model.MatchingConfiguration, error) {
	if err := c.Validate(); err != nil {
		return model.MatchingConfiguration{}, model.NewValidation("%s", err.Error())
	}
	now := time.Now().UTC()

	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return model.MatchingConfiguration{}, fmt.Errorf("storage: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if c.IsDefault {
		if err := demoteDefaults(ctx, tx, c.OrganizationID, c.BranchID, now, c.ID); err != nil {
			return model.MatchingConfiguration{}, err
		}
	}

	row := tx.QueryRow(ctx,
		`UPDATE matching_configurations SET
		 name = $1, is_default = $2, is_active = $3, weights = $4,
		 require_exact_skill_match = $5, require_active_certifications = $6,
		 respect_gender_preference = $7, respect_language_preference = $8,
		 max_travel_distance = $9, max_travel_time = $10,
		 min_score_for_proposal = $11, auto_assign_threshold = $12,
		 max_proposals_per_shift = $13, proposal_expiration_minutes = $14,
		 optimize_for = $15, prioritize_continuity_of_care = $16, prefer_same_caregiver_for_recurring = $17,
		 penalize_frequent_rejections = $18, boost_reliable_performers = $19,
		 score_manual_proposals = $20, ml_weight = $21,
		 updated_at = $22, updated_by = $23, version = version + 1
		 WHERE id = $24 AND organization_id = $25 AND version = $26 AND deleted_at IS NULL
		 RETURNING `+configurationColumns,
		c.Name, c.IsDefault, c.IsActive, c.Weights,
		c.RequireExactSkillMatch, c.RequireActiveCertifications,
		c.RespectGenderPreference, c.RespectLanguagePreference,
		c.MaxTravelDistance, c.MaxTravelTime,
		c.MinScoreForProposal, c.AutoAssignThreshold,
		c.MaxProposalsPerShift, c.ProposalExpirationMinutes,
		c.OptimizeFor, c.PrioritizeContinuityOfCare, c.PreferSameCaregiverForRecurring,
		c.PenalizeFrequentRejections, c.BoostReliablePerformers,
		c.ScoreManualProposals, c.MLWeight,
		now, c.UpdatedBy, c.ID, c.OrganizationID, c.Version,
	)
	updated, err := scanConfiguration(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			if _, gerr := db.GetConfiguration(ctx, c.OrganizationID, c.ID); gerr != nil {
				return model.MatchingConfiguration{}, gerr
			}
			return model.MatchingConfiguration{}, model.NewConcurrency("configuration %s was modified concurrently", c.ID)
		}
		return model.MatchingConfiguration{}, fmt.Errorf("storage: update configuration: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return model.MatchingConfiguration{}, fmt.Errorf("storage: commit configuration update: %w", err)
	}
	return updated, nil
}

// SoftDeleteConfiguration hides a configuration from resolution and reads.
func (db *DB) SoftDeleteConfiguration(ctx context.Context, orgID, id uuid.UUID, deletedBy *uuid.UUID) error {
	now := time.Now().UTC()
	tag, err := db.pool.Exec(ctx,
		`UPDATE matching_configurations
		 SET deleted_at = $1, deleted_by = $2, is_default = FALSE, is_active = FALSE,
		     updated_at = $1, version = version + 1
		 WHERE id = $3 AND organization_id = $4 AND deleted_at IS NULL`,
		now, deletedBy, id, orgID)
	if err != nil {
		return fmt.Errorf("storage: soft delete configuration: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.NewNotFound("matching_configuration", id.String())
	}
	return nil
}

// ListConfigurations returns every non-deleted configuration for an
// organization, branch-level entries first.
func (db *DB) ListConfigurations(ctx context.Context, orgID uuid.UUID) ([]model.MatchingConfiguration, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT `+configurationColumns+` FROM matching_configurations
		 WHERE organization_id = $1 AND deleted_at IS NULL
		 ORDER BY branch_id NULLS LAST, is_default DESC, name`, orgID)
	if err != nil {
		return nil, fmt.Errorf("storage: list configurations: %w", err)
	}
	defer rows.Close()

	var configs []model.MatchingConfiguration
	for rows.Next() {
		c, err := scanConfiguration(rows)
		if err != nil {
			return nil, fmt.Errorf("storage: scan configuration: %w", err)
		}
		configs = append(configs, c)
	}
	return configs, rows.Err()
}

// demoteDefaults clears the default flag on any other configuration in the
// same (org, branch) scope. excludeIDs keeps the row being written from
// demoting itself on update.
func demoteDefaults(ctx context.Context, tx pgx.Tx, orgID uuid.UUID, branchID *uuid.UUID, now time.Time, excludeIDs ...uuid.UUID) error {
	query := `UPDATE matching_configurations
		 SET is_default = FALSE, updated_at = $1, version = version + 1
		 WHERE organization_id = $2 AND is_default AND deleted_at IS NULL
		   AND branch_id IS NOT DISTINCT FROM $3`
	args := []any{now, orgID, branchID}
	if len(excludeIDs) > 0 {
		query += ` AND id <> ALL($4)`
		args = append(args, excludeIDs)
	}
	if _, err := tx.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("storage: demote default configurations: %w", err)
	}
	return nil
}

func scanConfiguration(row pgx.Row) (model.MatchingConfiguration, error) {
	var c model.MatchingConfiguration
	err := row.Scan(
		&c.ID, &c.OrganizationID, &c.BranchID, &c.Name, &c.IsDefault, &c.IsActive,
		&c.Weights, &c.RequireExactSkillMatch, &c.RequireActiveCertifications,
		&c.RespectGenderPreference, &c.RespectLanguagePreference, &c.MaxTravelDistance, &c.MaxTravelTime,
		&c.MinScoreForProposal, &c.AutoAssignThreshold, &c.MaxProposalsPerShift, &c.ProposalExpirationMinutes,
		&c.OptimizeFor, &c.PrioritizeContinuityOfCare, &c.PreferSameCaregiverForRecurring,
		&c.PenalizeFrequentRejections, &c.BoostReliablePerformers, &c.ScoreManualProposals, &c.MLWeight,
		&c.CreatedAt, &c.CreatedBy, &c.UpdatedAt, &c.UpdatedBy, &c.Version,
	)
	return c, err
}

package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// OptimizeStrategy names what a configuration tunes the matcher for.
// Strategies shape weight presets upstream; the scorer itself only sees the
// resulting weights.
type OptimizeStrategy string

const (
	OptimizeBestMatch        OptimizeStrategy = "BEST_MATCH"
	OptimizeFastestFill      OptimizeStrategy = "FASTEST_FILL"
	OptimizeBalancedWorkload OptimizeStrategy = "BALANCED_WORKLOAD"
	OptimizeContinuityOfCare OptimizeStrategy = "CONTINUITY_OF_CARE"
)

// ScoringWeights maps each dimension to a non-negative integer weight.
// The scorer normalizes weights to sum to 1.
type ScoringWeights map[Dimension]int

// DefaultWeights returns the balanced preset used when an organization has
// no configuration of its own.
func DefaultWeights() ScoringWeights {
	return ScoringWeights{
		DimensionSkill:        25,
		DimensionAvailability: 20,
		DimensionProximity:    15,
		DimensionPreference:   10,
		DimensionExperience:   10,
		DimensionReliability:  10,
		DimensionCompliance:   5,
		DimensionCapacity:     5,
	}
}

// Normalize converts integer weights into fractions summing to 1, in
// canonical dimension order. Unknown dimensions are ignored; missing ones
// weigh zero.
func (w ScoringWeights) Normalize() (map[Dimension]float64, error) {
	total := 0
	for _, dim := range Dimensions {
		v := w[dim]
		if v < 0 {
			return nil, fmt.Errorf("weight for %s is negative", dim)
		}
		total += v
	}
	if total == 0 {
		return nil, fmt.Errorf("scoring weights sum to zero")
	}
	normalized := make(map[Dimension]float64, len(Dimensions))
	for _, dim := range Dimensions {
		normalized[dim] = float64(w[dim]) / float64(total)
	}
	return normalized, nil
}

// MatchingConfiguration is the per-organization (optionally per-branch)
// matching policy. At most one configuration per (org, branch) is both
// default and active; a branch-level default shadows the org-level one.
type MatchingConfiguration struct {
	ID             uuid.UUID  `json:"id"`
	OrganizationID uuid.UUID  `json:"organization_id"`
	BranchID       *uuid.UUID `json:"branch_id,omitempty"`
	Name           string     `json:"name"`
	IsDefault      bool       `json:"is_default"`
	IsActive       bool       `json:"is_active"`

	Weights ScoringWeights `json:"weights"`

	RequireExactSkillMatch      bool     `json:"require_exact_skill_match"`
	RequireActiveCertifications bool     `json:"require_active_certifications"`
	RespectGenderPreference     bool     `json:"respect_gender_preference"`
	RespectLanguagePreference   bool     `json:"respect_language_preference"`
	MaxTravelDistance           *float64 `json:"max_travel_distance,omitempty"`
	MaxTravelTime               *int     `json:"max_travel_time,omitempty"`

	MinScoreForProposal       int  `json:"min_score_for_proposal"`
	AutoAssignThreshold       *int `json:"auto_assign_threshold,omitempty"`
	MaxProposalsPerShift      int  `json:"max_proposals_per_shift"`
	ProposalExpirationMinutes int  `json:"proposal_expiration_minutes"`

	OptimizeFor                     OptimizeStrategy `json:"optimize_for"`
	PrioritizeContinuityOfCare      bool             `json:"prioritize_continuity_of_care"`
	PreferSameCaregiverForRecurring bool             `json:"prefer_same_caregiver_for_recurring"`
	PenalizeFrequentRejections      bool             `json:"penalize_frequent_rejections"`
	BoostReliablePerformers         bool             `json:"boost_reliable_performers"`

	// When set, manual proposals snapshot the real rubric score instead of
	// the conventional 100. Gates are never enforced for manual proposals.
	ScoreManualProposals bool `json:"score_manual_proposals"`

	// Blend fraction for an optional scorer variant; 0 keeps the rubric
	// score as-is.
	MLWeight float64 `json:"ml_weight"`

	CreatedAt time.Time  `json:"created_at"`
	CreatedBy *uuid.UUID `json:"created_by,omitempty"`
	UpdatedAt time.Time  `json:"updated_at"`
	UpdatedBy *uuid.UUID `json:"updated_by,omitempty"`
	DeletedAt *time.Time `json:"-"`
	DeletedBy *uuid.UUID `json:"-"`
	Version   int        `json:"version"`
}

// Validate rejects configurations that would make matching misbehave.
func (c *MatchingConfiguration) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("name is required")
	}
	if _, err := c.Weights.Normalize(); err != nil {
		return err
	}
	if c.MinScoreForProposal < 0 || c.MinScoreForProposal > 100 {
		return fmt.Errorf("min_score_for_proposal must be in [0,100], got %d", c.MinScoreForProposal)
	}
	if c.AutoAssignThreshold != nil && (*c.AutoAssignThreshold < 0 || *c.AutoAssignThreshold > 100) {
		return fmt.Errorf("auto_assign_threshold must be in [0,100], got %d", *c.AutoAssignThreshold)
	}
	if c.MaxProposalsPerShift < 1 {
		return fmt.Errorf("max_proposals_per_shift must be at least 1, got %d", c.MaxProposalsPerShift)
	}
	if c.ProposalExpirationMinutes < 1 {
		return fmt.Errorf("proposal_expiration_minutes must be at least 1, got %d", c.ProposalExpirationMinutes)
	}
	if c.MaxTravelDistance != nil && *c.MaxTravelDistance <= 0 {
		return fmt.Errorf("max_travel_distance must be positive, got %g", *c.MaxTravelDistance)
	}
	if c.MaxTravelTime != nil && *c.MaxTravelTime <= 0 {
		return fmt.Errorf("max_travel_time must be positive, got %d", *c.MaxTravelTime)
	}
	if c.MLWeight < 0 || c.MLWeight > 1 {
		return fmt.Errorf("ml_weight must be in [0,1], got %g", c.MLWeight)
	}
	switch c.OptimizeFor {
	case OptimizeBestMatch, OptimizeFastestFill, OptimizeBalancedWorkload, OptimizeContinuityOfCare:
	case "":
		return fmt.Errorf("optimize_for is required")
	default:
		return fmt.Errorf("unknown optimize_for strategy %q", c.OptimizeFor)
	}
	return nil
}

package model

import (
	"time"

	"github.com/google/uuid"
)

// MatchOutcome classifies one match-history row.
type MatchOutcome string

const (
	OutcomeProposed     MatchOutcome = "PROPOSED"
	OutcomeAccepted     MatchOutcome = "ACCEPTED"
	OutcomeRejected     MatchOutcome = "REJECTED"
	OutcomeExpired      MatchOutcome = "EXPIRED"
	OutcomeNoCandidates MatchOutcome = "NO_CANDIDATES"
)

// MatchHistory is one append-only audit row: either a matching attempt for
// a shift or the outcome of a single proposal. Rows are written after the
// state transitions they describe and are never updated or deleted.
type MatchHistory struct {
	ID             uuid.UUID  `json:"id"`
	OpenShiftID    uuid.UUID  `json:"open_shift_id"`
	VisitID        uuid.UUID  `json:"visit_id"`
	OrganizationID uuid.UUID  `json:"organization_id"`
	CaregiverID    *uuid.UUID `json:"caregiver_id,omitempty"`
	ProposalID     *uuid.UUID `json:"proposal_id,omitempty"`

	Outcome      MatchOutcome  `json:"outcome"`
	MatchScore   *int          `json:"match_score,omitempty"`
	MatchQuality *MatchQuality `json:"match_quality,omitempty"`

	// Monotone per shift; mirrors OpenShift.MatchAttempts at write time.
	AttemptNumber int `json:"attempt_number"`

	ConfigurationID       *uuid.UUID     `json:"configuration_id,omitempty"`
	ConfigurationSnapshot map[string]any `json:"configuration_snapshot,omitempty"`

	AssignedSuccessfully bool    `json:"assigned_successfully"`
	ResponseTimeMinutes  *int    `json:"response_time_minutes,omitempty"`
	Notes                *string `json:"notes,omitempty"`

	// SHA-256 over the row's canonical fields, set at insert. See
	// internal/integrity for the encoding and offline verification.
	ContentHash string `json:"content_hash,omitempty"`

	CreatedAt time.Time  `json:"created_at"`
	CreatedBy *uuid.UUID `json:"created_by,omitempty"`
}

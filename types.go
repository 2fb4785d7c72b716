package musubi

import (
	"time"

	"github.com/google/uuid"
)

// Role is an account's RBAC role.
type Role string

const (
	RoleAdmin       Role = "admin"
	RoleCoordinator Role = "coordinator"
	RoleCaregiver   Role = "caregiver"
)

// Proposal is the public representation of an assignment proposal.
// It is a curated view of internal/model.AssignmentProposal for use in
// extension interfaces. No internal package imports, so it is safe to
// use from outside the module.
type Proposal struct {
	ID          uuid.UUID
	OrgID       uuid.UUID
	BranchID    uuid.UUID
	ShiftID     uuid.UUID
	VisitID     uuid.UUID
	CaregiverID uuid.UUID

	// Score is the frozen match score snapshot [0, 100].
	Score   int
	Quality string // EXCELLENT | GOOD | FAIR | POOR
	Status  string // PENDING | SENT | VIEWED | ACCEPTED | REJECTED | EXPIRED | SUPERSEDED
	Method  string // AUTOMATIC | MANUAL | CAREGIVER_SELF_SELECT
	Urgent  bool

	ProposedAt  time.Time
	RespondedAt *time.Time

	RejectionReason   *string
	RejectionCategory *string
}

// Shift is the public representation of an open shift offered for matching.
type Shift struct {
	ID       uuid.UUID
	OrgID    uuid.UUID
	BranchID uuid.UUID
	VisitID  uuid.UUID
	ClientID uuid.UUID

	// ScheduledDate is the calendar date; StartTime/EndTime are "HH:MM"
	// wall-clock strings in Timezone.
	ScheduledDate   time.Time
	StartTime       string
	EndTime         string
	DurationMinutes int
	Timezone        string

	RequiredSkills         []string
	RequiredCertifications []string

	Latitude  *float64
	Longitude *float64

	Status   string // NEW | MATCHING | MATCHED | PROPOSED | ASSIGNED | NO_MATCH
	Priority string // LOW | MEDIUM | HIGH | CRITICAL
	IsUrgent bool
}

// Candidate is the public view of one (caregiver, shift) scoring verdict.
// Ineligible candidates are fully populated; eligibility is data, not an error.
type Candidate struct {
	CaregiverID   uuid.UUID
	CaregiverName string

	// Scores holds per-dimension values in [0, 100], keyed by dimension
	// name (skill, availability, proximity, preference, experience,
	// reliability, compliance, capacity).
	Scores       map[string]float64
	OverallScore int
	Quality      string // EXCELLENT | GOOD | FAIR | POOR

	IsEligible bool
	// Issues lists blocking gate failures and advisory warnings as
	// human-readable messages.
	Issues []string

	DistanceMiles *float64
}

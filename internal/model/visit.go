package model

import (
	"time"

	"github.com/google/uuid"
)

// VisitStatus is the scheduling lifecycle of a client visit. The matcher
// only writes SCHEDULED (via the accept path); everything else belongs to
// scheduling workflows outside this service.
type VisitStatus string

const (
	VisitStatusUnassigned VisitStatus = "UNASSIGNED"
	VisitStatusScheduled  VisitStatus = "SCHEDULED"
	VisitStatusInProgress VisitStatus = "IN_PROGRESS"
	VisitStatusCompleted  VisitStatus = "COMPLETED"
	VisitStatusCancelled  VisitStatus = "CANCELLED"
)

// Visit is a client care appointment. Open shifts are created from
// unassigned visits; accepting a proposal writes the assignment back here.
type Visit struct {
	ID             uuid.UUID  `json:"id"`
	OrganizationID uuid.UUID  `json:"organization_id"`
	BranchID       uuid.UUID  `json:"branch_id"`
	ClientID       uuid.UUID  `json:"client_id"`
	ServiceTypeID  *uuid.UUID `json:"service_type_id,omitempty"`

	ScheduledDate   time.Time `json:"scheduled_date"`
	StartTime       string    `json:"start_time"`
	EndTime         string    `json:"end_time"`
	DurationMinutes int       `json:"duration_minutes"`
	Timezone        string    `json:"timezone"`

	RequiredSkills         []string `json:"required_skills"`
	RequiredCertifications []string `json:"required_certifications"`

	PreferredCaregivers []uuid.UUID `json:"preferred_caregivers"`
	BlockedCaregivers   []uuid.UUID `json:"blocked_caregivers"`
	GenderPreference    *string     `json:"gender_preference,omitempty"`
	LanguagePreference  *string     `json:"language_preference,omitempty"`

	Address   *string  `json:"address,omitempty"`
	Latitude  *float64 `json:"latitude,omitempty"`
	Longitude *float64 `json:"longitude,omitempty"`

	AssignedCaregiverID *uuid.UUID  `json:"assigned_caregiver_id,omitempty"`
	Status              VisitStatus `json:"status"`

	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	DeletedAt *time.Time `json:"-"`
	Version   int        `json:"version"`
}

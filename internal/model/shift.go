// Package model defines the core domain types for musubi.
//
// All types correspond directly to database tables and API payloads.
// Types use strong typing (UUIDs, time.Time, enums) and avoid
// interface{} wherever possible.
package model

import (
	"time"

	"github.com/google/uuid"
)

// ShiftStatus represents the matching lifecycle state of an open shift.
type ShiftStatus string

const (
	ShiftStatusNew      ShiftStatus = "NEW"
	ShiftStatusMatching ShiftStatus = "MATCHING"
	ShiftStatusMatched  ShiftStatus = "MATCHED"
	ShiftStatusProposed ShiftStatus = "PROPOSED"
	ShiftStatusAssigned ShiftStatus = "ASSIGNED"
	ShiftStatusNoMatch  ShiftStatus = "NO_MATCH"
)

// shiftTransitions is the open-shift state machine. ASSIGNED is terminal.
// Only the matcher mutates shift status; everything else reads.
var shiftTransitions = map[ShiftStatus][]ShiftStatus{
	ShiftStatusNew:      {ShiftStatusMatching},
	ShiftStatusMatching: {ShiftStatusMatched, ShiftStatusNoMatch},
	ShiftStatusMatched:  {ShiftStatusProposed, ShiftStatusMatching},
	ShiftStatusProposed: {ShiftStatusAssigned, ShiftStatusMatched, ShiftStatusMatching},
	ShiftStatusNoMatch:  {ShiftStatusMatching},
	ShiftStatusAssigned: nil,
}

// CanTransitionTo reports whether the shift state machine allows s → next.
func (s ShiftStatus) CanTransitionTo(next ShiftStatus) bool {
	for _, allowed := range shiftTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Terminal reports whether no further transitions are possible from s.
func (s ShiftStatus) Terminal() bool {
	return len(shiftTransitions[s]) == 0
}

// MatchableShiftStatuses is the set of states the matcher may CAS into
// MATCHING. A shift already in MATCHING is held by another worker.
var MatchableShiftStatuses = []ShiftStatus{
	ShiftStatusNew, ShiftStatusNoMatch, ShiftStatusMatched, ShiftStatusProposed,
}

// ShiftPriority orders shifts for coordinator attention.
type ShiftPriority string

const (
	PriorityLow      ShiftPriority = "LOW"
	PriorityMedium   ShiftPriority = "MEDIUM"
	PriorityHigh     ShiftPriority = "HIGH"
	PriorityCritical ShiftPriority = "CRITICAL"
)

// OpenShift is an unassigned visit offered for matching. Exactly one
// non-deleted open shift may exist per visit. Requirement and preference
// fields are snapshotted from the visit at creation time so matching does
// not race with visit edits.
type OpenShift struct {
	ID             uuid.UUID  `json:"id"`
	VisitID        uuid.UUID  `json:"visit_id"`
	OrganizationID uuid.UUID  `json:"organization_id"`
	BranchID       uuid.UUID  `json:"branch_id"`
	ClientID       uuid.UUID  `json:"client_id"`
	ServiceTypeID  *uuid.UUID `json:"service_type_id,omitempty"`

	// Temporal. StartTime/EndTime are zero-padded "HH:MM" wall-clock
	// strings in the shift's timezone; interval comparisons work
	// lexicographically.
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

	MatchingStatus ShiftStatus   `json:"matching_status"`
	MatchAttempts  int           `json:"match_attempts"`
	LastMatchedAt  *time.Time    `json:"last_matched_at,omitempty"`
	Priority       ShiftPriority `json:"priority"`
	IsUrgent       bool          `json:"is_urgent"`
	FillByDate     *time.Time    `json:"fill_by_date,omitempty"`
	Notes          *string       `json:"notes,omitempty"`

	CreatedAt time.Time  `json:"created_at"`
	CreatedBy *uuid.UUID `json:"created_by,omitempty"`
	UpdatedAt time.Time  `json:"updated_at"`
	UpdatedBy *uuid.UUID `json:"updated_by,omitempty"`
	DeletedAt *time.Time `json:"-"`
	DeletedBy *uuid.UUID `json:"-"`
	Version   int        `json:"version"`
}

// ShiftHours returns the shift duration in fractional hours.
func (s *OpenShift) ShiftHours() float64 {
	return float64(s.DurationMinutes) / 60.0
}

// IsBlocked reports whether the caregiver appears in the shift's block list.
func (s *OpenShift) IsBlocked(caregiverID uuid.UUID) bool {
	for _, id := range s.BlockedCaregivers {
		if id == caregiverID {
			return true
		}
	}
	return false
}

// IsPreferred reports whether the caregiver appears in the shift's
// preferred list.
func (s *OpenShift) IsPreferred(caregiverID uuid.UUID) bool {
	for _, id := range s.PreferredCaregivers {
		if id == caregiverID {
			return true
		}
	}
	return false
}

package model

import (
	"time"

	"github.com/google/uuid"
)

// ComplianceStatus is the caregiver's standing with agency compliance
// requirements (background checks, TB tests, training hours). Anything
// other than COMPLIANT blocks matching.
type ComplianceStatus string

const (
	ComplianceCompliant     ComplianceStatus = "COMPLIANT"
	CompliancePendingReview ComplianceStatus = "PENDING_REVIEW"
	ComplianceExpired       ComplianceStatus = "EXPIRED"
	ComplianceNonCompliant  ComplianceStatus = "NON_COMPLIANT"
)

// EmploymentType distinguishes staffing arrangements for display and
// reporting; it does not affect scoring.
type EmploymentType string

const (
	EmploymentFullTime EmploymentType = "FULL_TIME"
	EmploymentPartTime EmploymentType = "PART_TIME"
	EmploymentPerDiem  EmploymentType = "PER_DIEM"
	EmploymentContract EmploymentType = "CONTRACT"
)

// CertificationStatus is the lifecycle state of a single credential.
type CertificationStatus string

const (
	CertificationActive    CertificationStatus = "ACTIVE"
	CertificationExpired   CertificationStatus = "EXPIRED"
	CertificationSuspended CertificationStatus = "SUSPENDED"
	CertificationPending   CertificationStatus = "PENDING"
)

// Certification is one credential held by a caregiver.
type Certification struct {
	Type      string              `json:"type"`
	Status    CertificationStatus `json:"status"`
	ExpiresAt *time.Time          `json:"expires_at,omitempty"`
}

// Caregiver is the agency staff record used for matching.
type Caregiver struct {
	ID             uuid.UUID      `json:"id"`
	OrganizationID uuid.UUID      `json:"organization_id"`
	BranchID       uuid.UUID      `json:"branch_id"`
	FirstName      string         `json:"first_name"`
	LastName       string         `json:"last_name"`
	Email          *string        `json:"email,omitempty"`
	Phone          *string        `json:"phone,omitempty"`
	EmploymentType EmploymentType `json:"employment_type"`
	Active         bool           `json:"active"`

	Gender    *string  `json:"gender,omitempty"`
	Languages []string `json:"languages"`
	Skills    []string `json:"skills"`

	ComplianceStatus ComplianceStatus `json:"compliance_status"`
	MaxHoursPerWeek  float64          `json:"max_hours_per_week"`

	Latitude  *float64 `json:"latitude,omitempty"`
	Longitude *float64 `json:"longitude,omitempty"`

	// Maintained by attendance/EVV systems; read as-is for scoring.
	ReliabilityScore float64 `json:"reliability_score"`

	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	DeletedAt *time.Time `json:"-"`
}

// FullName joins the caregiver's display name.
func (c *Caregiver) FullName() string {
	return c.FirstName + " " + c.LastName
}

// VisitInterval is one already-scheduled visit overlapping a shift's day,
// used for conflict detection. Times are "HH:MM" wall-clock strings.
type VisitInterval struct {
	VisitID   uuid.UUID `json:"visit_id"`
	StartTime string    `json:"start_time"`
	EndTime   string    `json:"end_time"`
}

// Overlaps reports whether the interval intersects [start, end). Zero-padded
// "HH:MM" strings compare correctly as text.
func (v VisitInterval) Overlaps(start, end string) bool {
	return v.StartTime < end && v.EndTime > start
}

// CaregiverContext is the per-(caregiver, shift) evaluation input assembled
// by the candidate loader. All fields are pre-materialized scalars so the
// scorer stays pure and allocation-bounded.
type CaregiverContext struct {
	CaregiverID    uuid.UUID      `json:"caregiver_id"`
	FirstName      string         `json:"first_name"`
	LastName       string         `json:"last_name"`
	EmploymentType EmploymentType `json:"employment_type"`
	BranchID       uuid.UUID      `json:"branch_id"`

	Gender    *string  `json:"gender,omitempty"`
	Languages []string `json:"languages"`
	Skills    []string `json:"skills"`

	Certifications   []Certification  `json:"certifications"`
	ComplianceStatus ComplianceStatus `json:"compliance_status"`

	MaxHoursPerWeek float64  `json:"max_hours_per_week"`
	Latitude        *float64 `json:"latitude,omitempty"`
	Longitude       *float64 `json:"longitude,omitempty"`

	CurrentWeekHours         float64         `json:"current_week_hours"`
	ConflictingVisits        []VisitInterval `json:"conflicting_visits"`
	PreviousVisitsWithClient int             `json:"previous_visits_with_client"`
	ClientRating             *float64        `json:"client_rating,omitempty"`
	ReliabilityScore         float64         `json:"reliability_score"`
	RecentRejectionCount     int             `json:"recent_rejection_count"`

	// Miles to the shift location; zero when either side lacks coordinates.
	// The scorer detects the unknown case from the coordinate fields.
	DistanceFromShift float64 `json:"distance_from_shift"`
}

// FullName joins the context's display name.
func (c *CaregiverContext) FullName() string {
	return c.FirstName + " " + c.LastName
}

// HasSkill reports whether the caregiver's skill set contains skill.
func (c *CaregiverContext) HasSkill(skill string) bool {
	for _, s := range c.Skills {
		if s == skill {
			return true
		}
	}
	return false
}

// HasActiveCertification reports whether the caregiver holds certType with
// status ACTIVE.
func (c *CaregiverContext) HasActiveCertification(certType string) bool {
	for _, cert := range c.Certifications {
		if cert.Type == certType && cert.Status == CertificationActive {
			return true
		}
	}
	return false
}

// SpeaksLanguage reports whether lang appears in the caregiver's languages.
func (c *CaregiverContext) SpeaksLanguage(lang string) bool {
	for _, l := range c.Languages {
		if l == lang {
			return true
		}
	}
	return false
}

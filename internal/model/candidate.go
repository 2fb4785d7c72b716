package model

import (
	"time"

	"github.com/google/uuid"
)

// Dimension is one axis of the scoring rubric.
type Dimension string

const (
	DimensionSkill        Dimension = "skill"
	DimensionAvailability Dimension = "availability"
	DimensionProximity    Dimension = "proximity"
	DimensionPreference   Dimension = "preference"
	DimensionExperience   Dimension = "experience"
	DimensionReliability  Dimension = "reliability"
	DimensionCompliance   Dimension = "compliance"
	DimensionCapacity     Dimension = "capacity"
)

// Dimensions lists every scoring dimension in canonical order. Iteration
// over score maps goes through this slice so output is deterministic.
var Dimensions = []Dimension{
	DimensionSkill,
	DimensionAvailability,
	DimensionProximity,
	DimensionPreference,
	DimensionExperience,
	DimensionReliability,
	DimensionCompliance,
	DimensionCapacity,
}

// MatchQuality discretizes the overall score.
type MatchQuality string

const (
	QualityExcellent MatchQuality = "EXCELLENT"
	QualityGood      MatchQuality = "GOOD"
	QualityFair      MatchQuality = "FAIR"
	QualityPoor      MatchQuality = "POOR"
)

// IssueSeverity distinguishes gate failures from advisory findings.
type IssueSeverity string

const (
	SeverityBlocking IssueSeverity = "BLOCKING"
	SeverityWarning  IssueSeverity = "WARNING"
)

// IssueType enumerates eligibility findings produced by the scorer.
type IssueType string

const (
	IssueBlockedByClient      IssueType = "BLOCKED_BY_CLIENT"
	IssueMissingCertification IssueType = "MISSING_CERTIFICATION"
	IssueMissingSkill         IssueType = "MISSING_SKILL"
	IssueTimeConflict         IssueType = "TIME_CONFLICT"
	IssueOverCapacity         IssueType = "OVER_CAPACITY"
	IssueNonCompliant         IssueType = "NON_COMPLIANT"
	IssueGenderMismatch       IssueType = "GENDER_MISMATCH"
	IssueLanguageMismatch     IssueType = "LANGUAGE_MISMATCH"
	IssueTooFar               IssueType = "TOO_FAR"
	IssueDistanceUnknown      IssueType = "DISTANCE_UNKNOWN"
)

// EligibilityIssue is one finding from the eligibility gates.
type EligibilityIssue struct {
	Type     IssueType     `json:"type"`
	Severity IssueSeverity `json:"severity"`
	Message  string        `json:"message"`
}

// ReasonImpact marks a match reason as helping, hurting, or neutral.
type ReasonImpact string

const (
	ImpactPositive ReasonImpact = "POSITIVE"
	ImpactNegative ReasonImpact = "NEGATIVE"
	ImpactNeutral  ReasonImpact = "NEUTRAL"
)

// ReasonSystemOptimized is the single reason category attached to manual
// proposals, which bypass scoring.
const ReasonSystemOptimized = "SYSTEM_OPTIMIZED"

// MatchReason is one human-readable explanation of a score, tagged with the
// normalized weight of the dimension it describes.
type MatchReason struct {
	Category    string       `json:"category"`
	Description string       `json:"description"`
	Impact      ReasonImpact `json:"impact"`
	Weight      float64      `json:"weight"`
}

// MatchCandidate is the scorer's verdict for one (caregiver, shift) pair.
// Ineligible candidates are fully populated; eligibility is data, not an
// error.
type MatchCandidate struct {
	CaregiverID    uuid.UUID      `json:"caregiver_id"`
	OpenShiftID    uuid.UUID      `json:"open_shift_id"`
	CaregiverName  string         `json:"caregiver_name"`
	EmploymentType EmploymentType `json:"employment_type"`

	Scores       map[Dimension]float64 `json:"scores"`
	OverallScore int                   `json:"overall_score"`
	MatchQuality MatchQuality          `json:"match_quality"`

	IsEligible        bool               `json:"is_eligible"`
	EligibilityIssues []EligibilityIssue `json:"eligibility_issues"`
	Warnings          []string           `json:"warnings"`

	DistanceFromShift   *float64 `json:"distance_from_shift,omitempty"`
	EstimatedTravelTime *int     `json:"estimated_travel_time,omitempty"`
	HasConflict         bool     `json:"has_conflict"`
	AvailableHours      float64  `json:"available_hours"`

	MatchReasons []MatchReason `json:"match_reasons"`

	ComputedAt time.Time `json:"computed_at"`
}

// HasBlockingIssue reports whether any eligibility issue is BLOCKING.
func (c *MatchCandidate) HasBlockingIssue() bool {
	for _, issue := range c.EligibilityIssues {
		if issue.Severity == SeverityBlocking {
			return true
		}
	}
	return false
}

// MatchResult is the outcome of one matching attempt for a shift.
type MatchResult struct {
	Shift            *OpenShift           `json:"shift"`
	Candidates       []MatchCandidate     `json:"candidates"`
	CreatedProposals []AssignmentProposal `json:"created_proposals"`
	EligibleCount    int                  `json:"eligible_count"`
	IneligibleCount  int                  `json:"ineligible_count"`
}

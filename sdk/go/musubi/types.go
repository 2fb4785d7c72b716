package musubi

import (
	"time"

	"github.com/google/uuid"
)

// ShiftStatus is the matching lifecycle state of an open shift.
type ShiftStatus string

const (
	ShiftStatusNew      ShiftStatus = "NEW"
	ShiftStatusMatching ShiftStatus = "MATCHING"
	ShiftStatusMatched  ShiftStatus = "MATCHED"
	ShiftStatusProposed ShiftStatus = "PROPOSED"
	ShiftStatusAssigned ShiftStatus = "ASSIGNED"
	ShiftStatusNoMatch  ShiftStatus = "NO_MATCH"
)

// ShiftPriority orders shifts for matching attention.
type ShiftPriority string

const (
	PriorityLow      ShiftPriority = "LOW"
	PriorityMedium   ShiftPriority = "MEDIUM"
	PriorityHigh     ShiftPriority = "HIGH"
	PriorityCritical ShiftPriority = "CRITICAL"
)

// ProposalStatus is the lifecycle state of an assignment proposal.
type ProposalStatus string

const (
	ProposalPending    ProposalStatus = "PENDING"
	ProposalSent       ProposalStatus = "SENT"
	ProposalViewed     ProposalStatus = "VIEWED"
	ProposalAccepted   ProposalStatus = "ACCEPTED"
	ProposalRejected   ProposalStatus = "REJECTED"
	ProposalExpired    ProposalStatus = "EXPIRED"
	ProposalSuperseded ProposalStatus = "SUPERSEDED"
)

// ProposalMethod records how a proposal came to exist.
type ProposalMethod string

const (
	MethodAutomatic           ProposalMethod = "AUTOMATIC"
	MethodManual              ProposalMethod = "MANUAL"
	MethodCaregiverSelfSelect ProposalMethod = "CAREGIVER_SELF_SELECT"
)

// RejectionCategory classifies why a caregiver declined a proposal.
type RejectionCategory string

const (
	RejectionTooFar         RejectionCategory = "TOO_FAR"
	RejectionTimeConflict   RejectionCategory = "TIME_CONFLICT"
	RejectionPersonalReason RejectionCategory = "PERSONAL_REASON"
	RejectionLowPay         RejectionCategory = "LOW_PAY"
	RejectionClientHistory  RejectionCategory = "CLIENT_HISTORY"
	RejectionOther          RejectionCategory = "OTHER"
)

// MatchQuality is the banded interpretation of an overall score.
type MatchQuality string

const (
	QualityExcellent MatchQuality = "EXCELLENT"
	QualityGood      MatchQuality = "GOOD"
	QualityFair      MatchQuality = "FAIR"
	QualityPoor      MatchQuality = "POOR"
)

// MatchOutcome is what a matching attempt produced, as recorded in history.
type MatchOutcome string

const (
	OutcomeProposed     MatchOutcome = "PROPOSED"
	OutcomeAccepted     MatchOutcome = "ACCEPTED"
	OutcomeRejected     MatchOutcome = "REJECTED"
	OutcomeExpired      MatchOutcome = "EXPIRED"
	OutcomeNoCandidates MatchOutcome = "NO_CANDIDATES"
)

// Dimension names one axis of the scoring rubric.
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

// OptimizeStrategy names what a matching configuration tunes for.
type OptimizeStrategy string

const (
	OptimizeBestMatch        OptimizeStrategy = "BEST_MATCH"
	OptimizeFastestFill      OptimizeStrategy = "FASTEST_FILL"
	OptimizeBalancedWorkload OptimizeStrategy = "BALANCED_WORKLOAD"
	OptimizeContinuityOfCare OptimizeStrategy = "CONTINUITY_OF_CARE"
)

// ScoringWeights maps each dimension to a non-negative integer weight.
// The server normalizes weights to sum to 1.
type ScoringWeights map[Dimension]int

// TimeRange is a wall-clock window in "HH:MM" strings.
type TimeRange struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// OpenShift mirrors the server's model.OpenShift for API consumers.
// StartTime and EndTime are zero-padded "HH:MM" strings in the shift's
// timezone.
type OpenShift struct {
	ID             uuid.UUID  `json:"id"`
	VisitID        uuid.UUID  `json:"visit_id"`
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
	Version   int        `json:"version"`
}

// AssignmentProposal mirrors the server's model.AssignmentProposal.
type AssignmentProposal struct {
	ID             uuid.UUID `json:"id"`
	OpenShiftID    uuid.UUID `json:"open_shift_id"`
	VisitID        uuid.UUID `json:"visit_id"`
	CaregiverID    uuid.UUID `json:"caregiver_id"`
	OrganizationID uuid.UUID `json:"organization_id"`
	BranchID       uuid.UUID `json:"branch_id"`

	MatchScore   int           `json:"match_score"`
	MatchQuality MatchQuality  `json:"match_quality"`
	MatchReasons []MatchReason `json:"match_reasons"`

	ProposalStatus ProposalStatus `json:"proposal_status"`

	ProposedAt  time.Time  `json:"proposed_at"`
	SentAt      *time.Time `json:"sent_at,omitempty"`
	ViewedAt    *time.Time `json:"viewed_at,omitempty"`
	RespondedAt *time.Time `json:"responded_at,omitempty"`
	AcceptedAt  *time.Time `json:"accepted_at,omitempty"`
	RejectedAt  *time.Time `json:"rejected_at,omitempty"`
	ExpiredAt   *time.Time `json:"expired_at,omitempty"`

	ProposalMethod     ProposalMethod `json:"proposal_method"`
	SentToCaregiver    bool           `json:"sent_to_caregiver"`
	NotificationMethod *string        `json:"notification_method,omitempty"`
	UrgencyFlag        bool           `json:"urgency_flag"`

	ResponseMethod    *string            `json:"response_method,omitempty"`
	AcceptedBy        *uuid.UUID         `json:"accepted_by,omitempty"`
	RejectionReason   *string            `json:"rejection_reason,omitempty"`
	RejectionCategory *RejectionCategory `json:"rejection_category,omitempty"`
	Notes             *string            `json:"notes,omitempty"`

	CreatedAt time.Time  `json:"created_at"`
	CreatedBy *uuid.UUID `json:"created_by,omitempty"`
	UpdatedAt time.Time  `json:"updated_at"`
	UpdatedBy *uuid.UUID `json:"updated_by,omitempty"`
	Version   int        `json:"version"`
}

// MatchReason is one human-readable explanation of a score.
// Impact is "POSITIVE", "NEGATIVE", or "NEUTRAL".
type MatchReason struct {
	Category    string  `json:"category"`
	Description string  `json:"description"`
	Impact      string  `json:"impact"`
	Weight      float64 `json:"weight"`
}

// EligibilityIssue is one finding from the eligibility gates.
// Severity is "BLOCKING" or "WARNING".
type EligibilityIssue struct {
	Type     string `json:"type"`
	Severity string `json:"severity"`
	Message  string `json:"message"`
}

// MatchCandidate is the scorer's verdict for one (caregiver, shift) pair.
type MatchCandidate struct {
	CaregiverID    uuid.UUID `json:"caregiver_id"`
	OpenShiftID    uuid.UUID `json:"open_shift_id"`
	CaregiverName  string    `json:"caregiver_name"`
	EmploymentType string    `json:"employment_type"`

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

// MatchResult is the outcome of one matching attempt for a shift.
type MatchResult struct {
	Shift            *OpenShift           `json:"shift"`
	Candidates       []MatchCandidate     `json:"candidates"`
	CreatedProposals []AssignmentProposal `json:"created_proposals"`
	EligibleCount    int                  `json:"eligible_count"`
	IneligibleCount  int                  `json:"ineligible_count"`
}

// MatchHistory mirrors one append-only row of a shift's matching record.
// ContentHash is a SHA-256 over the row's canonical fields, set by the
// server at insert.
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

	AttemptNumber int `json:"attempt_number"`

	ConfigurationID       *uuid.UUID     `json:"configuration_id,omitempty"`
	ConfigurationSnapshot map[string]any `json:"configuration_snapshot,omitempty"`

	AssignedSuccessfully bool    `json:"assigned_successfully"`
	ResponseTimeMinutes  *int    `json:"response_time_minutes,omitempty"`
	Notes                *string `json:"notes,omitempty"`

	ContentHash string `json:"content_hash,omitempty"`

	CreatedAt time.Time  `json:"created_at"`
	CreatedBy *uuid.UUID `json:"created_by,omitempty"`
}

// CaregiverPreferenceProfile mirrors the server's preference profile.
type CaregiverPreferenceProfile struct {
	ID             uuid.UUID `json:"id"`
	CaregiverID    uuid.UUID `json:"caregiver_id"`
	OrganizationID uuid.UUID `json:"organization_id"`

	PreferredDays       []string    `json:"preferred_days"`
	PreferredTimeRanges []TimeRange `json:"preferred_time_ranges"`
	MaxHoursPerWeek     *float64    `json:"max_hours_per_week,omitempty"`

	WillingToWorkWeekends bool `json:"willing_to_work_weekends"`
	WillingToWorkHolidays bool `json:"willing_to_work_holidays"`
	AcceptsUrgentShifts   bool `json:"accepts_urgent_shifts"`
	AcceptAutoAssignment  bool `json:"accept_auto_assignment"`

	NotificationMethods []string `json:"notification_methods"`
	QuietHoursStart     *string  `json:"quiet_hours_start,omitempty"`
	QuietHoursEnd       *string  `json:"quiet_hours_end,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Version   int       `json:"version"`
}

// MatchingConfiguration mirrors the server's per-organization matching
// policy.
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
	ScoreManualProposals            bool             `json:"score_manual_proposals"`
	MLWeight                        float64          `json:"ml_weight"`

	CreatedAt time.Time  `json:"created_at"`
	CreatedBy *uuid.UUID `json:"created_by,omitempty"`
	UpdatedAt time.Time  `json:"updated_at"`
	UpdatedBy *uuid.UUID `json:"updated_by,omitempty"`
	Version   int        `json:"version"`
}

// Account mirrors the server's model.Account. The API key hash never
// leaves the server.
type Account struct {
	ID          uuid.UUID  `json:"id"`
	AccountID   string     `json:"account_id"`
	OrgID       uuid.UUID  `json:"org_id"`
	Name        string     `json:"name"`
	Role        string     `json:"role"`
	CaregiverID *uuid.UUID `json:"caregiver_id,omitempty"`
	Active      bool       `json:"active"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// ScopedToken is a short-lived JWT that acts as another account, with the
// issuing admin recorded in ScopedBy.
type ScopedToken struct {
	Token       string    `json:"token"`
	ExpiresAt   time.Time `json:"expires_at"`
	AsAccountID string    `json:"as_account_id"`
	ScopedBy    string    `json:"scoped_by"`
}

// HealthResponse is the server's health report.
type HealthResponse struct {
	Status         string `json:"status"`
	Version        string `json:"version"`
	Postgres       string `json:"postgres"`
	RecorderDepth  int    `json:"recorder_depth"`
	RecorderStatus string `json:"recorder_status"`
	OutboxDepth    int    `json:"outbox_depth"`
	SSEBroker      string `json:"sse_broker,omitempty"`
	Uptime         int64  `json:"uptime_seconds"`
}

// --- Request types ---

// CreateShiftRequest is the input for Client.CreateShift. The shift's
// schedule, location, and requirements are snapshotted from the visit.
type CreateShiftRequest struct {
	VisitID    uuid.UUID      `json:"visit_id"`
	Priority   *ShiftPriority `json:"priority,omitempty"`
	FillByDate *time.Time     `json:"fill_by_date,omitempty"`
	Notes      *string        `json:"notes,omitempty"`
}

// MatchShiftRequest is the input for Client.MatchShift. Zero values defer
// to the organization's matching configuration.
type MatchShiftRequest struct {
	ConfigurationID *uuid.UUID `json:"configuration_id,omitempty"`
	MaxCandidates   *int       `json:"max_candidates,omitempty"`
	AutoPropose     bool       `json:"auto_propose"`
}

// CreateProposalRequest is the input for Client.CreateProposal.
type CreateProposalRequest struct {
	CaregiverID        uuid.UUID `json:"caregiver_id"`
	SendNotification   bool      `json:"send_notification"`
	NotificationMethod *string   `json:"notification_method,omitempty"`
	UrgencyFlag        bool      `json:"urgency_flag"`
}

// RespondProposalRequest is the input for Client.RespondProposal.
// RejectionCategory is required when Accept is false.
type RespondProposalRequest struct {
	Accept            bool               `json:"accept"`
	ResponseMethod    string             `json:"response_method"`
	RejectionReason   *string            `json:"rejection_reason,omitempty"`
	RejectionCategory *RejectionCategory `json:"rejection_category,omitempty"`
	Notes             *string            `json:"notes,omitempty"`
}

// UpsertPreferencesRequest is the input for Client.UpsertPreferences.
// The upsert replaces the whole profile; omitted lists are cleared.
type UpsertPreferencesRequest struct {
	PreferredDays         []string    `json:"preferred_days,omitempty"`
	PreferredTimeRanges   []TimeRange `json:"preferred_time_ranges,omitempty"`
	MaxHoursPerWeek       *float64    `json:"max_hours_per_week,omitempty"`
	WillingToWorkWeekends bool        `json:"willing_to_work_weekends"`
	WillingToWorkHolidays bool        `json:"willing_to_work_holidays"`
	AcceptsUrgentShifts   bool        `json:"accepts_urgent_shifts"`
	AcceptAutoAssignment  bool        `json:"accept_auto_assignment"`
	NotificationMethods   []string    `json:"notification_methods,omitempty"`
	QuietHoursStart       *string     `json:"quiet_hours_start,omitempty"`
	QuietHoursEnd         *string     `json:"quiet_hours_end,omitempty"`
}

// CreateConfigurationRequest is the input for Client.CreateConfiguration.
// Nil pointers take server defaults.
type CreateConfigurationRequest struct {
	Name                            string           `json:"name"`
	BranchID                        *uuid.UUID       `json:"branch_id,omitempty"`
	IsDefault                       bool             `json:"is_default"`
	Weights                         ScoringWeights   `json:"weights,omitempty"`
	RequireExactSkillMatch          bool             `json:"require_exact_skill_match"`
	RequireActiveCertifications     bool             `json:"require_active_certifications"`
	RespectGenderPreference         bool             `json:"respect_gender_preference"`
	RespectLanguagePreference       bool             `json:"respect_language_preference"`
	MaxTravelDistance               *float64         `json:"max_travel_distance,omitempty"`
	MaxTravelTime                   *int             `json:"max_travel_time,omitempty"`
	MinScoreForProposal             *int             `json:"min_score_for_proposal,omitempty"`
	AutoAssignThreshold             *int             `json:"auto_assign_threshold,omitempty"`
	MaxProposalsPerShift            *int             `json:"max_proposals_per_shift,omitempty"`
	ProposalExpirationMinutes       *int             `json:"proposal_expiration_minutes,omitempty"`
	OptimizeFor                     OptimizeStrategy `json:"optimize_for,omitempty"`
	PrioritizeContinuityOfCare      bool             `json:"prioritize_continuity_of_care"`
	PreferSameCaregiverForRecurring bool             `json:"prefer_same_caregiver_for_recurring"`
	PenalizeFrequentRejections      bool             `json:"penalize_frequent_rejections"`
	BoostReliablePerformers         bool             `json:"boost_reliable_performers"`
	ScoreManualProposals            bool             `json:"score_manual_proposals"`
	MLWeight                        float64          `json:"ml_weight"`
}

// UpdateConfigurationRequest is the input for Client.UpdateConfiguration.
// A full replacement: the branch scope is fixed at creation, and Version
// must carry the version last read.
type UpdateConfigurationRequest struct {
	Name                            string           `json:"name"`
	IsDefault                       bool             `json:"is_default"`
	IsActive                        bool             `json:"is_active"`
	Weights                         ScoringWeights   `json:"weights,omitempty"`
	RequireExactSkillMatch          bool             `json:"require_exact_skill_match"`
	RequireActiveCertifications     bool             `json:"require_active_certifications"`
	RespectGenderPreference         bool             `json:"respect_gender_preference"`
	RespectLanguagePreference       bool             `json:"respect_language_preference"`
	MaxTravelDistance               *float64         `json:"max_travel_distance,omitempty"`
	MaxTravelTime                   *int             `json:"max_travel_time,omitempty"`
	MinScoreForProposal             *int             `json:"min_score_for_proposal,omitempty"`
	AutoAssignThreshold             *int             `json:"auto_assign_threshold,omitempty"`
	MaxProposalsPerShift            *int             `json:"max_proposals_per_shift,omitempty"`
	ProposalExpirationMinutes       *int             `json:"proposal_expiration_minutes,omitempty"`
	OptimizeFor                     OptimizeStrategy `json:"optimize_for,omitempty"`
	PrioritizeContinuityOfCare      bool             `json:"prioritize_continuity_of_care"`
	PreferSameCaregiverForRecurring bool             `json:"prefer_same_caregiver_for_recurring"`
	PenalizeFrequentRejections      bool             `json:"penalize_frequent_rejections"`
	BoostReliablePerformers         bool             `json:"boost_reliable_performers"`
	ScoreManualProposals            bool             `json:"score_manual_proposals"`
	MLWeight                        float64          `json:"ml_weight"`
	Version                         int              `json:"version"`
}

// CreateAccountRequest is the input for Client.CreateAccount. Requires
// admin role. CaregiverID links the account to a caregiver record and is
// required for the caregiver role.
type CreateAccountRequest struct {
	AccountID   string     `json:"account_id"`
	Name        string     `json:"name"`
	Role        string     `json:"role"`
	APIKey      string     `json:"api_key"`
	CaregiverID *uuid.UUID `json:"caregiver_id,omitempty"`
}

// --- Paginated results ---

// ShiftPage is one page of shifts from Client.ListShifts.
type ShiftPage struct {
	Shifts  []OpenShift
	Total   int
	HasMore bool
	Page    int
	Limit   int
}

// ProposalPage is one page of proposals from Client.SearchProposals or
// Client.ShiftProposals.
type ProposalPage struct {
	Proposals []AssignmentProposal
	Total     int
	HasMore   bool
	Page      int
	Limit     int
}

// HistoryPage is one page of match history from Client.ShiftHistory.
type HistoryPage struct {
	Entries []MatchHistory
	Total   int
	HasMore bool
	Page    int
	Limit   int
}

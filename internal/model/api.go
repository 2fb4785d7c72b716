package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Field length limits for caller-controlled text columns.
const (
	MaxNameLen               = 200
	MaxNotesLen              = 4 * 1024
	MaxRejectionReasonLen    = 2 * 1024
	MaxResponseMethodLen     = 50
	MaxNotificationMethodLen = 50
)

// ValidateTimeOfDay checks a zero-padded 24h "HH:MM" wall-clock string.
func ValidateTimeOfDay(s string) error {
	if len(s) != 5 || s[2] != ':' {
		return fmt.Errorf("time must be HH:MM, got %q", s)
	}
	for _, i := range []int{0, 1, 3, 4} {
		if s[i] < '0' || s[i] > '9' {
			return fmt.Errorf("time must be HH:MM, got %q", s)
		}
	}
	hh := int(s[0]-'0')*10 + int(s[1]-'0')
	mm := int(s[3]-'0')*10 + int(s[4]-'0')
	if hh > 23 || mm > 59 {
		return fmt.Errorf("time out of range: %q", s)
	}
	return nil
}

// APIResponse is the standard response envelope for all HTTP API responses.
type APIResponse struct {
	Data any          `json:"data,omitempty"`
	Meta ResponseMeta `json:"meta"`
}

// ListResponse is the standard envelope for paginated list endpoints.
type ListResponse struct {
	Data    any          `json:"data"`
	Total   int          `json:"total"`
	HasMore bool         `json:"has_more"`
	Page    int          `json:"page"`
	Limit   int          `json:"limit"`
	Meta    ResponseMeta `json:"meta"`
}

// APIError is the standard error response envelope.
type APIError struct {
	Error ErrorDetail  `json:"error"`
	Meta  ResponseMeta `json:"meta"`
}

// ResponseMeta contains request metadata included in every response.
type ResponseMeta struct {
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`
}

// ErrorDetail describes an API error.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// ErrorCode constants for standard API error codes.
const (
	ErrCodeInvalidInput     = "INVALID_INPUT"
	ErrCodeUnauthorized     = "UNAUTHORIZED"
	ErrCodeForbidden        = "FORBIDDEN"
	ErrCodeNotFound         = "NOT_FOUND"
	ErrCodeConflict         = "CONFLICT"
	ErrCodeInvalidState     = "INVALID_STATE"
	ErrCodeConcurrentUpdate = "CONCURRENT_UPDATE"
	ErrCodeUpstreamError    = "UPSTREAM_ERROR"
	ErrCodeInternalError    = "INTERNAL_ERROR"
	ErrCodeRateLimited      = "RATE_LIMITED"
)

// AuthTokenRequest is the request body for POST /auth/token. OrgSlug scopes
// authentication to one organization when the same account_id exists in
// several; without it the first account whose credentials verify wins.
type AuthTokenRequest struct {
	AccountID string `json:"account_id"`
	APIKey    string `json:"api_key"`
	OrgSlug   string `json:"org_slug,omitempty"`
}

// AuthTokenResponse is the response for POST /auth/token.
type AuthTokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// ScopedTokenRequest is the request body for POST /auth/scoped-token.
type ScopedTokenRequest struct {
	AsAccountID string `json:"as_account_id"`
	ExpiresIn   int    `json:"expires_in,omitempty"` // seconds; defaults to 300, capped at 3600
}

// ScopedTokenResponse is the response for POST /auth/scoped-token.
type ScopedTokenResponse struct {
	Token       string    `json:"token"`
	ExpiresAt   time.Time `json:"expires_at"`
	AsAccountID string    `json:"as_account_id"`
	ScopedBy    string    `json:"scoped_by"`
}

// CreateShiftRequest is the request body for POST /v1/shifts.
type CreateShiftRequest struct {
	VisitID    uuid.UUID      `json:"visit_id"`
	Priority   *ShiftPriority `json:"priority,omitempty"`
	FillByDate *time.Time     `json:"fill_by_date,omitempty"`
	Notes      *string        `json:"notes,omitempty"`
}

// MatchShiftRequest is the request body for POST /v1/shifts/{shift_id}/match.
type MatchShiftRequest struct {
	ConfigurationID *uuid.UUID `json:"configuration_id,omitempty"`
	MaxCandidates   *int       `json:"max_candidates,omitempty"`
	AutoPropose     bool       `json:"auto_propose"`
}

// CreateManualProposalRequest is the request body for
// POST /v1/shifts/{shift_id}/proposals.
type CreateManualProposalRequest struct {
	CaregiverID        uuid.UUID `json:"caregiver_id"`
	SendNotification   bool      `json:"send_notification"`
	NotificationMethod *string   `json:"notification_method,omitempty"`
	UrgencyFlag        bool      `json:"urgency_flag"`
}

// RespondProposalRequest is the request body for
// POST /v1/proposals/{proposal_id}/respond.
type RespondProposalRequest struct {
	Accept            bool               `json:"accept"`
	ResponseMethod    string             `json:"response_method"`
	RejectionReason   *string            `json:"rejection_reason,omitempty"`
	RejectionCategory *RejectionCategory `json:"rejection_category,omitempty"`
	Notes             *string            `json:"notes,omitempty"`
}

// Validate applies the business rules a response must satisfy before it
// reaches the matcher.
func (r *RespondProposalRequest) Validate() error {
	if r.ResponseMethod == "" {
		return fmt.Errorf("response_method is required")
	}
	if len(r.ResponseMethod) > MaxResponseMethodLen {
		return fmt.Errorf("response_method exceeds %d characters", MaxResponseMethodLen)
	}
	if !r.Accept && r.RejectionReason == nil && r.RejectionCategory == nil {
		return fmt.Errorf("rejection requires a reason or category")
	}
	if r.RejectionReason != nil && len(*r.RejectionReason) > MaxRejectionReasonLen {
		return fmt.Errorf("rejection_reason exceeds %d bytes", MaxRejectionReasonLen)
	}
	if r.Notes != nil && len(*r.Notes) > MaxNotesLen {
		return fmt.Errorf("notes exceeds %d bytes", MaxNotesLen)
	}
	return nil
}

// UpsertPreferencesRequest is the request body for
// PUT /v1/caregivers/{caregiver_id}/preferences.
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

// CreateConfigurationRequest is the request body for POST /v1/configurations.
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

// UpdateConfigurationRequest is the request body for
// PUT /v1/configurations/{config_id}. A full replacement: the branch scope
// is fixed at creation, and Version must be the version the caller last
// read.
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

// CreateAccountRequest is the request body for POST /v1/accounts.
type CreateAccountRequest struct {
	AccountID   string     `json:"account_id"`
	Name        string     `json:"name"`
	Role        Role       `json:"role"`
	APIKey      string     `json:"api_key"`
	CaregiverID *uuid.UUID `json:"caregiver_id,omitempty"`
}

// RotateAccountKeyRequest is the request body for PUT /v1/accounts/{account_id}/key.
type RotateAccountKeyRequest struct {
	APIKey string `json:"api_key"`
}

// ExpireStaleResponse is the response for POST /v1/proposals/expire-stale.
type ExpireStaleResponse struct {
	Expired int `json:"expired"`
}

// HealthResponse is the response for GET /health.
type HealthResponse struct {
	Status         string `json:"status"`
	Version        string `json:"version"`
	Postgres       string `json:"postgres"`
	RecorderDepth  int    `json:"recorder_depth"`
	RecorderStatus string `json:"recorder_status"` // "ok", "high", "critical"
	OutboxDepth    int    `json:"outbox_depth"`
	SSEBroker      string `json:"sse_broker,omitempty"`
	Uptime         int64  `json:"uptime_seconds"`
}

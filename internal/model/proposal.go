package model

import (
	"time"

	"github.com/google/uuid"
)

// ProposalStatus represents the lifecycle state of an assignment proposal.
type ProposalStatus string

const (
	ProposalStatusPending    ProposalStatus = "PENDING"
	ProposalStatusSent       ProposalStatus = "SENT"
	ProposalStatusViewed     ProposalStatus = "VIEWED"
	ProposalStatusAccepted   ProposalStatus = "ACCEPTED"
	ProposalStatusRejected   ProposalStatus = "REJECTED"
	ProposalStatusExpired    ProposalStatus = "EXPIRED"
	ProposalStatusSuperseded ProposalStatus = "SUPERSEDED"
)

// proposalTransitions is the proposal state DAG. Status only moves forward;
// ACCEPTED, REJECTED, EXPIRED and SUPERSEDED are terminal.
var proposalTransitions = map[ProposalStatus][]ProposalStatus{
	ProposalStatusPending: {
		ProposalStatusSent, ProposalStatusViewed, ProposalStatusAccepted,
		ProposalStatusRejected, ProposalStatusExpired, ProposalStatusSuperseded,
	},
	ProposalStatusSent: {
		ProposalStatusViewed, ProposalStatusAccepted, ProposalStatusRejected,
		ProposalStatusExpired, ProposalStatusSuperseded,
	},
	ProposalStatusViewed: {
		ProposalStatusAccepted, ProposalStatusRejected,
		ProposalStatusExpired, ProposalStatusSuperseded,
	},
}

// CanTransitionTo reports whether the proposal DAG allows s → next.
func (s ProposalStatus) CanTransitionTo(next ProposalStatus) bool {
	for _, allowed := range proposalTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Terminal reports whether s admits no further transitions.
func (s ProposalStatus) Terminal() bool {
	return len(proposalTransitions[s]) == 0
}

// Respondable reports whether a caregiver response (accept or reject) is
// still possible from s.
func (s ProposalStatus) Respondable() bool {
	switch s {
	case ProposalStatusPending, ProposalStatusSent, ProposalStatusViewed:
		return true
	}
	return false
}

// LiveProposalStatuses is the set of non-terminal proposal states. Sibling
// supersession and expiry sweeps operate on exactly this set.
var LiveProposalStatuses = []ProposalStatus{
	ProposalStatusPending, ProposalStatusSent, ProposalStatusViewed,
}

// ProposalMethod records how a proposal came to exist.
type ProposalMethod string

const (
	ProposalMethodAutomatic  ProposalMethod = "AUTOMATIC"
	ProposalMethodManual     ProposalMethod = "MANUAL"
	ProposalMethodSelfSelect ProposalMethod = "CAREGIVER_SELF_SELECT"
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

// AssignmentProposal is a time-bounded offer of one open shift to one
// caregiver. The score snapshot is frozen at emission; at most one proposal
// per shift ever reaches ACCEPTED.
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
	DeletedAt *time.Time `json:"-"`
	DeletedBy *uuid.UUID `json:"-"`
	Version   int        `json:"version"`
}

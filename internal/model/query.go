package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// SortOrder is the direction of a sorted listing.
type SortOrder string

const (
	SortAsc  SortOrder = "asc"
	SortDesc SortOrder = "desc"
)

// Pagination bounds for list endpoints.
const (
	DefaultPageLimit = 20
	MaxPageLimit     = 100
)

// Pagination carries page-based listing parameters. Zero values are filled
// by Normalize.
type Pagination struct {
	Page      int       `json:"page,omitempty"`
	Limit     int       `json:"limit,omitempty"`
	SortBy    string    `json:"sort_by,omitempty"`
	SortOrder SortOrder `json:"sort_order,omitempty"`
}

// Normalize applies defaults and rejects out-of-range values.
func (p *Pagination) Normalize() error {
	if p.Page == 0 {
		p.Page = 1
	}
	if p.Page < 1 {
		return fmt.Errorf("page must be >= 1, got %d", p.Page)
	}
	if p.Limit == 0 {
		p.Limit = DefaultPageLimit
	}
	if p.Limit < 1 || p.Limit > MaxPageLimit {
		return fmt.Errorf("limit must be in [1,%d], got %d", MaxPageLimit, p.Limit)
	}
	switch p.SortOrder {
	case "":
		p.SortOrder = SortDesc
	case SortAsc, SortDesc:
	default:
		return fmt.Errorf("sort_order must be asc or desc, got %q", p.SortOrder)
	}
	return nil
}

// Offset converts the page number to a row offset.
func (p Pagination) Offset() int {
	return (p.Page - 1) * p.Limit
}

// ShiftFilters narrows open-shift searches. OrganizationID is mandatory;
// everything else is optional.
type ShiftFilters struct {
	OrganizationID uuid.UUID       `json:"organization_id"`
	BranchID       *uuid.UUID      `json:"branch_id,omitempty"`
	BranchIDs      []uuid.UUID     `json:"branch_ids,omitempty"`
	ClientID       *uuid.UUID      `json:"client_id,omitempty"`
	DateFrom       *time.Time      `json:"date_from,omitempty"`
	DateTo         *time.Time      `json:"date_to,omitempty"`
	Priority       []ShiftPriority `json:"priority,omitempty"`
	MatchingStatus []ShiftStatus   `json:"matching_status,omitempty"`
	IsUrgent       *bool           `json:"is_urgent,omitempty"`
	ServiceTypeID  *uuid.UUID      `json:"service_type_id,omitempty"`
}

// Validate rejects filter combinations the store cannot serve.
func (f *ShiftFilters) Validate() error {
	if f.OrganizationID == uuid.Nil {
		return fmt.Errorf("organization_id is required")
	}
	if f.DateFrom != nil && f.DateTo != nil && f.DateTo.Before(*f.DateFrom) {
		return fmt.Errorf("date_to precedes date_from")
	}
	return nil
}

// ProposalFilters narrows proposal searches.
type ProposalFilters struct {
	OrganizationID uuid.UUID        `json:"organization_id"`
	BranchID       *uuid.UUID       `json:"branch_id,omitempty"`
	OpenShiftID    *uuid.UUID       `json:"open_shift_id,omitempty"`
	CaregiverID    *uuid.UUID       `json:"caregiver_id,omitempty"`
	Status         []ProposalStatus `json:"status,omitempty"`
	Method         []ProposalMethod `json:"method,omitempty"`
	DateFrom       *time.Time       `json:"date_from,omitempty"`
	DateTo         *time.Time       `json:"date_to,omitempty"`
}

// Validate rejects filter combinations the store cannot serve.
func (f *ProposalFilters) Validate() error {
	if f.OrganizationID == uuid.Nil {
		return fmt.Errorf("organization_id is required")
	}
	if f.DateFrom != nil && f.DateTo != nil && f.DateTo.Before(*f.DateFrom) {
		return fmt.Errorf("date_to precedes date_from")
	}
	return nil
}

// HistoryFilters narrows match-history reads.
type HistoryFilters struct {
	OrganizationID uuid.UUID      `json:"organization_id"`
	OpenShiftID    *uuid.UUID     `json:"open_shift_id,omitempty"`
	CaregiverID    *uuid.UUID     `json:"caregiver_id,omitempty"`
	Outcome        []MatchOutcome `json:"outcome,omitempty"`
}

// PagedResult wraps paginated query results.
type PagedResult[T any] struct {
	Items []T `json:"items"`
	Total int `json:"total"`
	Page  int `json:"page"`
	Limit int `json:"limit"`
}

package model

import (
	"time"

	"github.com/google/uuid"
)

// TimeRange is a wall-clock window in "HH:MM" strings.
type TimeRange struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// CaregiverPreferenceProfile captures a caregiver's stated working
// preferences. Unique per caregiver. The matcher consults
// AcceptAutoAssignment on self-select claims; the rest informs notification
// routing and coordinator views.
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

	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	DeletedAt *time.Time `json:"-"`
	Version   int        `json:"version"`
}

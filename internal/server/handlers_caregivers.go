package server

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/ashita-ai/musubi/internal/model"
)

// caregiverSelfOrCoordinator authorizes access to a caregiver-scoped
// resource: coordinators and admins see any caregiver in their org,
// caregiver accounts only themselves.
func caregiverSelfOrCoordinator(w http.ResponseWriter, r *http.Request, caregiverID uuid.UUID) bool {
	claims := ClaimsFromContext(r.Context())
	if model.RoleAtLeast(claims.Role, model.RoleCoordinator) {
		return true
	}
	if claims.CaregiverID != nil && *claims.CaregiverID == caregiverID {
		return true
	}
	writeError(w, r, http.StatusForbidden, model.ErrCodeForbidden,
		"no access to this caregiver")
	return false
}

// HandleAvailableShifts handles GET /v1/caregivers/{caregiver_id}/available-shifts.
// Self-select browse: open shifts in the caregiver's branch over the next
// seven days, scored and filtered to what they are eligible for.
func (h *Handlers) HandleAvailableShifts(w http.ResponseWriter, r *http.Request) {
	orgID := OrgIDFromContext(r.Context())
	caregiverID, err := parseCaregiverID(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}
	if !caregiverSelfOrCoordinator(w, r, caregiverID) {
		return
	}

	matches, err := h.matchSvc.AvailableShifts(r.Context(), orgID, caregiverID)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, matches)
}

// HandleGetPreferences handles GET /v1/caregivers/{caregiver_id}/preferences.
func (h *Handlers) HandleGetPreferences(w http.ResponseWriter, r *http.Request) {
	orgID := OrgIDFromContext(r.Context())
	caregiverID, err := parseCaregiverID(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}
	if !caregiverSelfOrCoordinator(w, r, caregiverID) {
		return
	}

	profile, err := h.db.GetPreferenceProfile(r.Context(), orgID, caregiverID)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, profile)
}

// HandleUpsertPreferences handles PUT /v1/caregivers/{caregiver_id}/preferences.
// Replaces the stated preferences wholesale; the store bumps the version.
func (h *Handlers) HandleUpsertPreferences(w http.ResponseWriter, r *http.Request) {
	orgID := OrgIDFromContext(r.Context())
	caregiverID, err := parseCaregiverID(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}
	if !caregiverSelfOrCoordinator(w, r, caregiverID) {
		return
	}

	var req model.UpsertPreferencesRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}
	if err := validatePreferences(&req); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}

	// Resolve the caregiver so cross-tenant or unknown IDs 404 before the write.
	if _, err := h.db.GetCaregiver(r.Context(), orgID, caregiverID); err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	profile, err := h.db.UpsertPreferenceProfile(r.Context(), model.CaregiverPreferenceProfile{
		CaregiverID:           caregiverID,
		OrganizationID:        orgID,
		PreferredDays:         req.PreferredDays,
		PreferredTimeRanges:   req.PreferredTimeRanges,
		MaxHoursPerWeek:       req.MaxHoursPerWeek,
		WillingToWorkWeekends: req.WillingToWorkWeekends,
		WillingToWorkHolidays: req.WillingToWorkHolidays,
		AcceptsUrgentShifts:   req.AcceptsUrgentShifts,
		AcceptAutoAssignment:  req.AcceptAutoAssignment,
		NotificationMethods:   req.NotificationMethods,
		QuietHoursStart:       req.QuietHoursStart,
		QuietHoursEnd:         req.QuietHoursEnd,
	})
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	if auditErr := h.recordMutationAuditBestEffort(
		r,
		orgID,
		"upsert_preferences",
		"preference_profile",
		caregiverID.String(),
		nil,
		profile,
		nil,
	); auditErr != nil {
		h.logger.Error("failed to record mutation audit after committed upsert_preferences",
			"error", auditErr,
			"caregiver_id", caregiverID,
			"org_id", orgID,
			"request_id", RequestIDFromContext(r.Context()))
	}

	writeJSON(w, r, http.StatusOK, profile)
}

var validPreferenceDays = map[string]bool{
	"monday": true, "tuesday": true, "wednesday": true, "thursday": true,
	"friday": true, "saturday": true, "sunday": true,
}

func validatePreferences(req *model.UpsertPreferencesRequest) error {
	for _, d := range req.PreferredDays {
		if !validPreferenceDays[strings.ToLower(d)] {
			return fmt.Errorf("invalid preferred day: %q", d)
		}
	}
	for i, tr := range req.PreferredTimeRanges {
		if err := model.ValidateTimeOfDay(tr.Start); err != nil {
			return fmt.Errorf("preferred_time_ranges[%d].start: %w", i, err)
		}
		if err := model.ValidateTimeOfDay(tr.End); err != nil {
			return fmt.Errorf("preferred_time_ranges[%d].end: %w", i, err)
		}
	}
	if req.MaxHoursPerWeek != nil && (*req.MaxHoursPerWeek <= 0 || *req.MaxHoursPerWeek > 168) {
		return fmt.Errorf("max_hours_per_week must be in (0,168]")
	}
	for _, m := range req.NotificationMethods {
		if len(m) > model.MaxNotificationMethodLen {
			return fmt.Errorf("notification method exceeds %d characters", model.MaxNotificationMethodLen)
		}
	}
	if req.QuietHoursStart != nil {
		if err := model.ValidateTimeOfDay(*req.QuietHoursStart); err != nil {
			return fmt.Errorf("quiet_hours_start: %w", err)
		}
	}
	if req.QuietHoursEnd != nil {
		if err := model.ValidateTimeOfDay(*req.QuietHoursEnd); err != nil {
			return fmt.Errorf("quiet_hours_end: %w", err)
		}
	}
	if (req.QuietHoursStart == nil) != (req.QuietHoursEnd == nil) {
		return fmt.Errorf("quiet hours require both start and end")
	}
	return nil
}

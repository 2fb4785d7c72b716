package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/ashita-ai/musubi/internal/auth"
	"github.com/ashita-ai/musubi/internal/model"
	"github.com/ashita-ai/musubi/internal/storage"
)

// HandleCreateShift handles POST /v1/shifts.
func (h *Handlers) HandleCreateShift(w http.ResponseWriter, r *http.Request) {
	claims := ClaimsFromContext(r.Context())
	orgID := OrgIDFromContext(r.Context())

	var req model.CreateShiftRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}

	if req.VisitID == uuid.Nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "visit_id is required")
		return
	}
	if req.Notes != nil && len(*req.Notes) > model.MaxNotesLen {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "notes exceeds maximum length")
		return
	}

	// Verify the visit belongs to the caller's org before creating anything.
	// Cross-tenant visit IDs read as missing.
	visit, err := h.db.GetVisit(r.Context(), req.VisitID)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	if visit.OrganizationID != orgID {
		writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "visit not found: "+req.VisitID.String())
		return
	}

	span := trace.SpanFromContext(r.Context())
	span.SetAttributes(attribute.String("musubi.visit_id", req.VisitID.String()))

	idem, proceed := h.beginIdempotentWrite(w, r, orgID, claims.AccountID, "POST:/v1/shifts", req)
	if !proceed {
		return
	}

	shift, err := h.db.CreateShiftFromVisit(r.Context(),
		req.VisitID, req.Priority, req.FillByDate, req.Notes, actorID(claims))
	if err != nil {
		h.clearIdempotentWrite(r, orgID, idem)
		h.writeDomainError(w, r, err)
		return
	}
	if auditErr := h.recordMutationAuditBestEffort(
		r,
		orgID,
		"create_shift",
		"open_shift",
		shift.ID.String(),
		nil,
		shift,
		map[string]any{"visit_id": req.VisitID.String()},
	); auditErr != nil {
		// The mutation has already committed. Never clear idempotency here:
		// retries with the same key would create duplicate shifts.
		h.logger.Error("failed to record mutation audit after committed create_shift",
			"error", auditErr,
			"shift_id", shift.ID,
			"org_id", orgID,
			"request_id", RequestIDFromContext(r.Context()))
	}

	h.notifyShiftEvent(r, "shift_created", &shift)
	h.completeIdempotentWriteBestEffort(r, orgID, idem, http.StatusCreated, shift)
	writeJSON(w, r, http.StatusCreated, shift)
}

// HandleListShifts handles GET /v1/shifts.
func (h *Handlers) HandleListShifts(w http.ResponseWriter, r *http.Request) {
	orgID := OrgIDFromContext(r.Context())

	p, err := queryPagination(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}

	f := model.ShiftFilters{OrganizationID: orgID}
	if f.BranchID, err = queryUUID(r, "branch_id"); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}
	if f.ClientID, err = queryUUID(r, "client_id"); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}
	if f.ServiceTypeID, err = queryUUID(r, "service_type_id"); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}
	if f.DateFrom, err = queryTime(r, "date_from"); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}
	if f.DateTo, err = queryTime(r, "date_to"); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}
	if f.IsUrgent, err = queryBool(r, "is_urgent"); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}
	for _, v := range r.URL.Query()["status"] {
		f.MatchingStatus = append(f.MatchingStatus, model.ShiftStatus(strings.ToUpper(v)))
	}
	for _, v := range r.URL.Query()["priority"] {
		f.Priority = append(f.Priority, model.ShiftPriority(strings.ToUpper(v)))
	}
	if err := f.Validate(); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}

	shifts, total, err := h.db.SearchShifts(r.Context(), f, p)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeListJSON(w, r, shifts, total, p)
}

// HandleGetShift handles GET /v1/shifts/{shift_id}.
func (h *Handlers) HandleGetShift(w http.ResponseWriter, r *http.Request) {
	orgID := OrgIDFromContext(r.Context())
	shiftID, err := parseShiftID(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}

	shift, err := h.db.GetShift(r.Context(), orgID, shiftID)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, shift)
}

// HandleMatchShift handles POST /v1/shifts/{shift_id}/match.
// Runs the scoring pipeline against the current roster; with auto_propose it
// also emits proposals to the top candidates.
func (h *Handlers) HandleMatchShift(w http.ResponseWriter, r *http.Request) {
	claims := ClaimsFromContext(r.Context())
	orgID := OrgIDFromContext(r.Context())
	shiftID, err := parseShiftID(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}

	// Body is optional; an empty body runs with resolved-config defaults.
	var req model.MatchShiftRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil && !errors.Is(err, io.EOF) {
		handleDecodeError(w, r, err)
		return
	}
	if req.MaxCandidates != nil && *req.MaxCandidates < 1 {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "max_candidates must be >= 1")
		return
	}

	span := trace.SpanFromContext(r.Context())
	span.SetAttributes(
		attribute.String("musubi.shift_id", shiftID.String()),
		attribute.Bool("musubi.auto_propose", req.AutoPropose),
	)

	idem, proceed := h.beginIdempotentWrite(w, r, orgID, claims.AccountID, matchShiftEndpoint(shiftID), req)
	if !proceed {
		return
	}

	result, err := h.matchSvc.Match(r.Context(), orgID, actorID(claims), shiftID, req)
	if err != nil {
		h.clearIdempotentWrite(r, orgID, idem)
		h.writeDomainError(w, r, err)
		return
	}
	if auditErr := h.recordMutationAuditBestEffort(
		r,
		orgID,
		"match_shift",
		"open_shift",
		shiftID.String(),
		nil,
		nil,
		map[string]any{
			"eligible_count":    result.EligibleCount,
			"ineligible_count":  result.IneligibleCount,
			"proposals_created": len(result.CreatedProposals),
			"auto_propose":      req.AutoPropose,
		},
	); auditErr != nil {
		h.logger.Error("failed to record mutation audit after committed match_shift",
			"error", auditErr,
			"shift_id", shiftID,
			"org_id", orgID,
			"request_id", RequestIDFromContext(r.Context()))
	}

	h.fireProposalCreated(result.CreatedProposals...)
	h.completeIdempotentWriteBestEffort(r, orgID, idem, http.StatusOK, result)
	writeJSON(w, r, http.StatusOK, result)
}

// HandleShiftHistory handles GET /v1/shifts/{shift_id}/history.
func (h *Handlers) HandleShiftHistory(w http.ResponseWriter, r *http.Request) {
	orgID := OrgIDFromContext(r.Context())
	shiftID, err := parseShiftID(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}

	// Resolve the shift first so cross-tenant IDs 404 instead of listing empty.
	if _, err := h.db.GetShift(r.Context(), orgID, shiftID); err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	p, err := queryPagination(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}

	f := model.HistoryFilters{OrganizationID: orgID, OpenShiftID: &shiftID}
	for _, v := range r.URL.Query()["outcome"] {
		f.Outcome = append(f.Outcome, model.MatchOutcome(strings.ToUpper(v)))
	}

	entries, total, err := h.db.ListMatchHistory(r.Context(), f, p)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeListJSON(w, r, entries, total, p)
}

// HandleClaimShift handles POST /v1/shifts/{shift_id}/claim.
// Caregivers take an open shift directly; the claim is scored with the same
// rubric as coordinator-driven matching.
func (h *Handlers) HandleClaimShift(w http.ResponseWriter, r *http.Request) {
	claims := ClaimsFromContext(r.Context())
	orgID := OrgIDFromContext(r.Context())
	shiftID, err := parseShiftID(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}

	if claims.CaregiverID == nil {
		writeError(w, r, http.StatusForbidden, model.ErrCodeForbidden,
			"account has no linked caregiver")
		return
	}
	caregiverID := *claims.CaregiverID

	span := trace.SpanFromContext(r.Context())
	span.SetAttributes(
		attribute.String("musubi.shift_id", shiftID.String()),
		attribute.String("musubi.caregiver_id", caregiverID.String()),
	)

	// Claims carry no body; the idempotency payload binds the key to this
	// shift and caregiver.
	idem, proceed := h.beginIdempotentWrite(w, r, orgID, claims.AccountID, claimShiftEndpoint(shiftID), map[string]string{
		"shift_id":     shiftID.String(),
		"caregiver_id": caregiverID.String(),
	})
	if !proceed {
		return
	}

	proposal, err := h.matchSvc.Claim(r.Context(), orgID, caregiverID, shiftID)
	if err != nil {
		h.clearIdempotentWrite(r, orgID, idem)
		h.writeDomainError(w, r, err)
		return
	}
	if auditErr := h.recordMutationAuditBestEffort(
		r,
		orgID,
		"claim_shift",
		"assignment_proposal",
		proposal.ID.String(),
		nil,
		proposal,
		map[string]any{
			"shift_id":     shiftID.String(),
			"caregiver_id": caregiverID.String(),
			"status":       string(proposal.ProposalStatus),
		},
	); auditErr != nil {
		h.logger.Error("failed to record mutation audit after committed claim_shift",
			"error", auditErr,
			"shift_id", shiftID,
			"org_id", orgID,
			"request_id", RequestIDFromContext(r.Context()))
	}

	h.fireProposalCreated(proposal)
	h.completeIdempotentWriteBestEffort(r, orgID, idem, http.StatusCreated, proposal)
	writeJSON(w, r, http.StatusCreated, proposal)
}

// actorID resolves the caller's account UUID from claims. ValidateToken
// guarantees a UUID subject, so the parse only fails for synthetic claims.
func actorID(claims *auth.Claims) *uuid.UUID {
	if claims == nil {
		return nil
	}
	id, err := uuid.Parse(claims.Subject)
	if err != nil {
		return nil
	}
	return &id
}

// notifyShiftEvent publishes a shift lifecycle event for SSE subscribers.
// Best-effort: a NOTIFY failure never fails the mutation that triggered it.
func (h *Handlers) notifyShiftEvent(r *http.Request, event string, shift *model.OpenShift) {
	payload, err := json.Marshal(map[string]any{
		"event":    event,
		"shift_id": shift.ID,
		"org_id":   shift.OrganizationID,
		"status":   shift.MatchingStatus,
	})
	if err != nil {
		h.logger.Error("marshal shift event payload", "event", event, "error", err)
		return
	}
	if err := h.db.Notify(r.Context(), storage.ChannelShifts, string(payload)); err != nil {
		h.logger.Warn("shift event notify failed", "event", event, "error", err)
	}
}

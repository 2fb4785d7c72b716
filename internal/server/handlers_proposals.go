package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/ashita-ai/musubi/internal/model"
)

// HandleCreateManualProposal handles POST /v1/shifts/{shift_id}/proposals.
// Coordinator picks the caregiver; the scorer still gates eligibility unless
// the active configuration says otherwise.
func (h *Handlers) HandleCreateManualProposal(w http.ResponseWriter, r *http.Request) {
	claims := ClaimsFromContext(r.Context())
	orgID := OrgIDFromContext(r.Context())
	shiftID, err := parseShiftID(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}

	var req model.CreateManualProposalRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}
	if req.CaregiverID == uuid.Nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "caregiver_id is required")
		return
	}
	if req.NotificationMethod != nil && len(*req.NotificationMethod) > model.MaxNotificationMethodLen {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "notification_method exceeds maximum length")
		return
	}

	span := trace.SpanFromContext(r.Context())
	span.SetAttributes(
		attribute.String("musubi.shift_id", shiftID.String()),
		attribute.String("musubi.caregiver_id", req.CaregiverID.String()),
	)

	idem, proceed := h.beginIdempotentWrite(w, r, orgID, claims.AccountID, manualProposalEndpoint(shiftID), req)
	if !proceed {
		return
	}

	proposal, err := h.matchSvc.ProposeManual(r.Context(), orgID, actorID(claims), shiftID, req)
	if err != nil {
		h.clearIdempotentWrite(r, orgID, idem)
		h.writeDomainError(w, r, err)
		return
	}
	if auditErr := h.recordMutationAuditBestEffort(
		r,
		orgID,
		"create_manual_proposal",
		"assignment_proposal",
		proposal.ID.String(),
		nil,
		proposal,
		map[string]any{
			"shift_id":     shiftID.String(),
			"caregiver_id": req.CaregiverID.String(),
			"match_score":  proposal.MatchScore,
		},
	); auditErr != nil {
		h.logger.Error("failed to record mutation audit after committed create_manual_proposal",
			"error", auditErr,
			"proposal_id", proposal.ID,
			"org_id", orgID,
			"request_id", RequestIDFromContext(r.Context()))
	}

	h.fireProposalCreated(proposal)
	h.completeIdempotentWriteBestEffort(r, orgID, idem, http.StatusCreated, proposal)
	writeJSON(w, r, http.StatusCreated, proposal)
}

// HandleListShiftProposals handles GET /v1/shifts/{shift_id}/proposals.
func (h *Handlers) HandleListShiftProposals(w http.ResponseWriter, r *http.Request) {
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

	f := model.ProposalFilters{OrganizationID: orgID, OpenShiftID: &shiftID}
	for _, v := range r.URL.Query()["status"] {
		f.Status = append(f.Status, model.ProposalStatus(strings.ToUpper(v)))
	}

	proposals, total, err := h.db.SearchProposals(r.Context(), f, p)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeListJSON(w, r, proposals, total, p)
}

// HandleSearchProposals handles GET /v1/proposals.
// Caregiver accounts are always scoped to their own proposals regardless of
// the caregiver_id filter they pass.
func (h *Handlers) HandleSearchProposals(w http.ResponseWriter, r *http.Request) {
	claims := ClaimsFromContext(r.Context())
	orgID := OrgIDFromContext(r.Context())

	p, err := queryPagination(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}

	f := model.ProposalFilters{OrganizationID: orgID}
	if f.OpenShiftID, err = queryUUID(r, "shift_id"); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}
	if f.BranchID, err = queryUUID(r, "branch_id"); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}
	if f.CaregiverID, err = queryUUID(r, "caregiver_id"); err != nil {
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
	for _, v := range r.URL.Query()["status"] {
		f.Status = append(f.Status, model.ProposalStatus(strings.ToUpper(v)))
	}
	for _, v := range r.URL.Query()["method"] {
		f.Method = append(f.Method, model.ProposalMethod(strings.ToUpper(v)))
	}

	if !model.RoleAtLeast(claims.Role, model.RoleCoordinator) {
		if claims.CaregiverID == nil {
			writeError(w, r, http.StatusForbidden, model.ErrCodeForbidden,
				"account has no linked caregiver")
			return
		}
		f.CaregiverID = claims.CaregiverID
	}

	if err := f.Validate(); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}

	proposals, total, err := h.db.SearchProposals(r.Context(), f, p)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeListJSON(w, r, proposals, total, p)
}

// HandleRespondProposal handles POST /v1/proposals/{proposal_id}/respond.
// The owning caregiver responds for themselves; coordinators and admins may
// record a response taken over the phone.
func (h *Handlers) HandleRespondProposal(w http.ResponseWriter, r *http.Request) {
	claims := ClaimsFromContext(r.Context())
	orgID := OrgIDFromContext(r.Context())
	proposalID, err := parseProposalID(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}

	var req model.RespondProposalRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}

	proposal, err := h.db.GetProposal(r.Context(), orgID, proposalID)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	if !model.RoleAtLeast(claims.Role, model.RoleCoordinator) {
		if claims.CaregiverID == nil || *claims.CaregiverID != proposal.CaregiverID {
			writeError(w, r, http.StatusForbidden, model.ErrCodeForbidden,
				"only the proposed caregiver or a coordinator can respond to this proposal")
			return
		}
	}

	actor := actorID(claims)
	if actor == nil {
		writeError(w, r, http.StatusUnauthorized, model.ErrCodeUnauthorized, "invalid token subject")
		return
	}

	span := trace.SpanFromContext(r.Context())
	span.SetAttributes(
		attribute.String("musubi.proposal_id", proposalID.String()),
		attribute.Bool("musubi.accept", req.Accept),
	)

	idem, proceed := h.beginIdempotentWrite(w, r, orgID, claims.AccountID, respondProposalEndpoint(proposalID), req)
	if !proceed {
		return
	}

	updated, err := h.matchSvc.Respond(r.Context(), orgID, proposalID, *actor, req)
	if err != nil {
		h.clearIdempotentWrite(r, orgID, idem)
		h.writeDomainError(w, r, err)
		return
	}
	if auditErr := h.recordMutationAuditBestEffort(
		r,
		orgID,
		"respond_proposal",
		"assignment_proposal",
		proposalID.String(),
		map[string]any{"status": string(proposal.ProposalStatus)},
		map[string]any{"status": string(updated.ProposalStatus)},
		map[string]any{
			"accept":          req.Accept,
			"response_method": req.ResponseMethod,
		},
	); auditErr != nil {
		h.logger.Error("failed to record mutation audit after committed respond_proposal",
			"error", auditErr,
			"proposal_id", proposalID,
			"org_id", orgID,
			"request_id", RequestIDFromContext(r.Context()))
	}

	h.fireProposalResponded(updated)
	h.completeIdempotentWriteBestEffort(r, orgID, idem, http.StatusOK, updated)
	writeJSON(w, r, http.StatusOK, updated)
}

// HandleMarkProposalViewed handles POST /v1/proposals/{proposal_id}/viewed.
// Read receipt from the caregiver's device. Coordinators cannot view on a
// caregiver's behalf.
func (h *Handlers) HandleMarkProposalViewed(w http.ResponseWriter, r *http.Request) {
	claims := ClaimsFromContext(r.Context())
	orgID := OrgIDFromContext(r.Context())
	proposalID, err := parseProposalID(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}

	proposal, err := h.db.GetProposal(r.Context(), orgID, proposalID)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	if claims.CaregiverID == nil || *claims.CaregiverID != proposal.CaregiverID {
		writeError(w, r, http.StatusForbidden, model.ErrCodeForbidden,
			"only the proposed caregiver can mark this proposal viewed")
		return
	}

	updated, err := h.db.MarkProposalViewed(r.Context(), orgID, proposalID, time.Now().UTC())
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	if auditErr := h.recordMutationAuditBestEffort(
		r,
		orgID,
		"mark_proposal_viewed",
		"assignment_proposal",
		proposalID.String(),
		map[string]any{"status": string(proposal.ProposalStatus)},
		map[string]any{"status": string(updated.ProposalStatus)},
		nil,
	); auditErr != nil {
		h.logger.Error("failed to record mutation audit after committed mark_proposal_viewed",
			"error", auditErr,
			"proposal_id", proposalID,
			"org_id", orgID,
			"request_id", RequestIDFromContext(r.Context()))
	}

	writeJSON(w, r, http.StatusOK, updated)
}

// HandleExpireStale handles POST /v1/proposals/expire-stale (admin).
// Runs one sweep of the expirer immediately instead of waiting for the next
// interval tick.
func (h *Handlers) HandleExpireStale(w http.ResponseWriter, r *http.Request) {
	orgID := OrgIDFromContext(r.Context())

	if h.expirer == nil {
		writeError(w, r, http.StatusServiceUnavailable, model.ErrCodeInternalError, "expirer not running")
		return
	}

	expired, err := h.expirer.SweepOnce(r.Context())
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	if expired > 0 {
		if auditErr := h.recordMutationAuditBestEffort(
			r,
			orgID,
			"expire_stale_proposals",
			"assignment_proposal",
			"",
			nil,
			nil,
			map[string]any{"expired": expired},
		); auditErr != nil {
			h.logger.Error("failed to record mutation audit after committed expire_stale_proposals",
				"error", auditErr,
				"org_id", orgID,
				"request_id", RequestIDFromContext(r.Context()))
		}
	}

	writeJSON(w, r, http.StatusOK, model.ExpireStaleResponse{Expired: expired})
}

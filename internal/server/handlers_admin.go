package server

import (
	"net/http"

	"github.com/ashita-ai/musubi/internal/auth"
	"github.com/ashita-ai/musubi/internal/model"
)

// HandleCreateAccount handles POST /v1/accounts (admin-only).
func (h *Handlers) HandleCreateAccount(w http.ResponseWriter, r *http.Request) {
	claims := ClaimsFromContext(r.Context())
	orgID := OrgIDFromContext(r.Context())

	var req model.CreateAccountRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}

	if req.AccountID == "" || req.Name == "" || req.APIKey == "" {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "account_id, name, and api_key are required")
		return
	}
	if err := model.ValidateAccountID(req.AccountID); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}
	if len(req.Name) > model.MaxNameLen {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "name exceeds maximum length")
		return
	}

	if req.Role == "" {
		req.Role = model.RoleCaregiver
	}
	if model.RoleRank(req.Role) == 0 {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput,
			"invalid role: must be one of admin, coordinator, caregiver")
		return
	}
	// Callers can create accounts up to their own rank. Admins may provision
	// other admins; nobody provisions above themselves.
	if model.RoleRank(claims.Role) < model.RoleRank(req.Role) {
		writeError(w, r, http.StatusForbidden, model.ErrCodeForbidden,
			"cannot create account with role higher than your own")
		return
	}

	// A caregiver link must point at a real caregiver in this org.
	if req.CaregiverID != nil {
		if _, err := h.db.GetCaregiver(r.Context(), orgID, *req.CaregiverID); err != nil {
			h.writeDomainError(w, r, err)
			return
		}
	}

	hash, err := auth.HashAPIKey(req.APIKey)
	if err != nil {
		h.writeInternalError(w, r, "failed to hash api key", err)
		return
	}

	audit := h.buildAuditEntry(r, orgID, "create_account", "account", "", nil, nil,
		map[string]any{"role": string(req.Role)})
	account, err := h.db.CreateAccountWithAudit(r.Context(), model.Account{
		AccountID:   req.AccountID,
		OrgID:       orgID,
		Name:        req.Name,
		Role:        req.Role,
		CaregiverID: req.CaregiverID,
		APIKeyHash:  &hash,
		Active:      true,
	}, audit)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	writeJSON(w, r, http.StatusCreated, account)
}

// HandleListAccounts handles GET /v1/accounts (admin-only).
func (h *Handlers) HandleListAccounts(w http.ResponseWriter, r *http.Request) {
	orgID := OrgIDFromContext(r.Context())

	p, err := queryPagination(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}

	accounts, err := h.db.ListAccounts(r.Context(), orgID, p.Limit, p.Offset())
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	if accounts == nil {
		accounts = []model.Account{}
	}
	total, err := h.db.CountAccounts(r.Context(), orgID)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeListJSON(w, r, accounts, total, p)
}

// HandleDeactivateAccount handles DELETE /v1/accounts/{account_id} (admin-only).
// Deactivation, not deletion: the row keeps its history references but the
// account can no longer authenticate. Tokens already issued expire naturally.
func (h *Handlers) HandleDeactivateAccount(w http.ResponseWriter, r *http.Request) {
	claims := ClaimsFromContext(r.Context())
	orgID := OrgIDFromContext(r.Context())

	accountID := r.PathValue("account_id")
	if err := model.ValidateAccountID(accountID); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}
	// Protect the seed admin created during server startup.
	if accountID == "admin" {
		writeError(w, r, http.StatusForbidden, model.ErrCodeForbidden, "cannot deactivate the admin account")
		return
	}
	if accountID == claims.AccountID {
		writeError(w, r, http.StatusForbidden, model.ErrCodeForbidden, "cannot deactivate your own account")
		return
	}

	before, err := h.db.GetAccountByAccountID(r.Context(), orgID, accountID)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	account, err := h.db.SetAccountActive(r.Context(), orgID, accountID, false)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	if auditErr := h.recordMutationAuditBestEffort(
		r,
		orgID,
		"deactivate_account",
		"account",
		accountID,
		before,
		account,
		nil,
	); auditErr != nil {
		h.logger.Error("failed to record mutation audit after committed deactivate_account",
			"error", auditErr,
			"account_id", accountID,
			"org_id", orgID,
			"request_id", RequestIDFromContext(r.Context()))
	}

	writeJSON(w, r, http.StatusOK, account)
}

// HandleRotateAccountKey handles PUT /v1/accounts/{account_id}/key (admin-only).
// The old key stops working immediately; tokens already issued stay valid
// until they expire.
func (h *Handlers) HandleRotateAccountKey(w http.ResponseWriter, r *http.Request) {
	claims := ClaimsFromContext(r.Context())
	orgID := OrgIDFromContext(r.Context())

	accountID := r.PathValue("account_id")
	if err := model.ValidateAccountID(accountID); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}

	var req model.RotateAccountKeyRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}
	if req.APIKey == "" {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "api_key is required")
		return
	}

	hash, err := auth.HashAPIKey(req.APIKey)
	if err != nil {
		h.writeInternalError(w, r, "failed to hash api key", err)
		return
	}

	if err := h.db.UpdateAccountKeyHash(r.Context(), orgID, accountID, hash); err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	// Key material never goes into the audit trail, only the fact of rotation.
	if auditErr := h.recordMutationAuditBestEffort(
		r,
		orgID,
		"rotate_account_key",
		"account",
		accountID,
		nil,
		nil,
		map[string]any{"rotated_by": claims.AccountID},
	); auditErr != nil {
		h.logger.Error("failed to record mutation audit after committed rotate_account_key",
			"error", auditErr,
			"account_id", accountID,
			"org_id", orgID,
			"request_id", RequestIDFromContext(r.Context()))
	}

	w.WriteHeader(http.StatusNoContent)
}

// HandleCreateConfiguration handles POST /v1/configurations.
// Omitted policy fields fall back to the env-configured match defaults.
func (h *Handlers) HandleCreateConfiguration(w http.ResponseWriter, r *http.Request) {
	claims := ClaimsFromContext(r.Context())
	orgID := OrgIDFromContext(r.Context())

	var req model.CreateConfigurationRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}
	if req.Name == "" {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "name is required")
		return
	}
	if len(req.Name) > model.MaxNameLen {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "name exceeds maximum length")
		return
	}

	cfg := model.MatchingConfiguration{
		OrganizationID:                  orgID,
		BranchID:                        req.BranchID,
		Name:                            req.Name,
		IsDefault:                       req.IsDefault,
		IsActive:                        true,
		Weights:                         req.Weights,
		RequireExactSkillMatch:          req.RequireExactSkillMatch,
		RequireActiveCertifications:     req.RequireActiveCertifications,
		RespectGenderPreference:         req.RespectGenderPreference,
		RespectLanguagePreference:       req.RespectLanguagePreference,
		MaxTravelDistance:               req.MaxTravelDistance,
		MaxTravelTime:                   req.MaxTravelTime,
		MinScoreForProposal:             h.configDefaults.MinScore,
		AutoAssignThreshold:             req.AutoAssignThreshold,
		MaxProposalsPerShift:            h.configDefaults.MaxProposals,
		ProposalExpirationMinutes:       h.configDefaults.ProposalTTLMinutes,
		OptimizeFor:                     req.OptimizeFor,
		PrioritizeContinuityOfCare:      req.PrioritizeContinuityOfCare,
		PreferSameCaregiverForRecurring: req.PreferSameCaregiverForRecurring,
		PenalizeFrequentRejections:      req.PenalizeFrequentRejections,
		BoostReliablePerformers:         req.BoostReliablePerformers,
		ScoreManualProposals:            req.ScoreManualProposals,
		MLWeight:                        req.MLWeight,
		CreatedBy:                       actorID(claims),
		UpdatedBy:                       actorID(claims),
	}
	if len(cfg.Weights) == 0 {
		cfg.Weights = model.DefaultWeights()
	}
	if req.MinScoreForProposal != nil {
		cfg.MinScoreForProposal = *req.MinScoreForProposal
	}
	if req.MaxProposalsPerShift != nil {
		cfg.MaxProposalsPerShift = *req.MaxProposalsPerShift
	}
	if req.ProposalExpirationMinutes != nil {
		cfg.ProposalExpirationMinutes = *req.ProposalExpirationMinutes
	}
	if cfg.OptimizeFor == "" {
		cfg.OptimizeFor = model.OptimizeBestMatch
	}
	if err := cfg.Validate(); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}

	created, err := h.db.CreateConfiguration(r.Context(), cfg)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	// Drop any cached configuration so the next match resolves the new policy.
	if h.matchSvc != nil {
		h.matchSvc.InvalidateConfig(orgID)
	}

	if auditErr := h.recordMutationAuditBestEffort(
		r,
		orgID,
		"create_configuration",
		"matching_configuration",
		created.ID.String(),
		nil,
		created,
		map[string]any{"is_default": created.IsDefault},
	); auditErr != nil {
		h.logger.Error("failed to record mutation audit after committed create_configuration",
			"error", auditErr,
			"configuration_id", created.ID,
			"org_id", orgID,
			"request_id", RequestIDFromContext(r.Context()))
	}

	writeJSON(w, r, http.StatusCreated, created)
}

// HandleUpdateConfiguration handles PUT /v1/configurations/{config_id}.
// Full replacement under optimistic locking: the body carries the version
// the caller last read, and a stale version is rejected with
// CONCURRENT_UPDATE. The branch scope is fixed at creation. Omitted policy
// fields fall back to the env-configured match defaults, as on create.
func (h *Handlers) HandleUpdateConfiguration(w http.ResponseWriter, r *http.Request) {
	claims := ClaimsFromContext(r.Context())
	orgID := OrgIDFromContext(r.Context())
	configID, err := parseConfigID(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}

	var req model.UpdateConfigurationRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}
	if req.Name == "" {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "name is required")
		return
	}
	if len(req.Name) > model.MaxNameLen {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "name exceeds maximum length")
		return
	}
	if req.Version < 1 {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "version is required")
		return
	}

	before, err := h.db.GetConfiguration(r.Context(), orgID, configID)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	cfg := before
	cfg.Name = req.Name
	cfg.IsDefault = req.IsDefault
	cfg.IsActive = req.IsActive
	cfg.Weights = req.Weights
	cfg.RequireExactSkillMatch = req.RequireExactSkillMatch
	cfg.RequireActiveCertifications = req.RequireActiveCertifications
	cfg.RespectGenderPreference = req.RespectGenderPreference
	cfg.RespectLanguagePreference = req.RespectLanguagePreference
	cfg.MaxTravelDistance = req.MaxTravelDistance
	cfg.MaxTravelTime = req.MaxTravelTime
	cfg.MinScoreForProposal = h.configDefaults.MinScore
	cfg.AutoAssignThreshold = req.AutoAssignThreshold
	cfg.MaxProposalsPerShift = h.configDefaults.MaxProposals
	cfg.ProposalExpirationMinutes = h.configDefaults.ProposalTTLMinutes
	cfg.OptimizeFor = req.OptimizeFor
	cfg.PrioritizeContinuityOfCare = req.PrioritizeContinuityOfCare
	cfg.PreferSameCaregiverForRecurring = req.PreferSameCaregiverForRecurring
	cfg.PenalizeFrequentRejections = req.PenalizeFrequentRejections
	cfg.BoostReliablePerformers = req.BoostReliablePerformers
	cfg.ScoreManualProposals = req.ScoreManualProposals
	cfg.MLWeight = req.MLWeight
	cfg.Version = req.Version
	cfg.UpdatedBy = actorID(claims)
	if len(cfg.Weights) == 0 {
		cfg.Weights = model.DefaultWeights()
	}
	if req.MinScoreForProposal != nil {
		cfg.MinScoreForProposal = *req.MinScoreForProposal
	}
	if req.MaxProposalsPerShift != nil {
		cfg.MaxProposalsPerShift = *req.MaxProposalsPerShift
	}
	if req.ProposalExpirationMinutes != nil {
		cfg.ProposalExpirationMinutes = *req.ProposalExpirationMinutes
	}
	if cfg.OptimizeFor == "" {
		cfg.OptimizeFor = model.OptimizeBestMatch
	}
	if err := cfg.Validate(); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}

	updated, err := h.db.UpdateConfiguration(r.Context(), cfg)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	if h.matchSvc != nil {
		h.matchSvc.InvalidateConfig(orgID)
	}

	if auditErr := h.recordMutationAuditBestEffort(
		r,
		orgID,
		"update_configuration",
		"matching_configuration",
		updated.ID.String(),
		before,
		updated,
		map[string]any{"is_default": updated.IsDefault},
	); auditErr != nil {
		h.logger.Error("failed to record mutation audit after committed update_configuration",
			"error", auditErr,
			"configuration_id", updated.ID,
			"org_id", orgID,
			"request_id", RequestIDFromContext(r.Context()))
	}

	writeJSON(w, r, http.StatusOK, updated)
}

// HandleDeleteConfiguration handles DELETE /v1/configurations/{config_id}.
// Soft delete: the configuration drops out of listings and resolution;
// proposals already emitted keep their snapshotted policy values.
func (h *Handlers) HandleDeleteConfiguration(w http.ResponseWriter, r *http.Request) {
	claims := ClaimsFromContext(r.Context())
	orgID := OrgIDFromContext(r.Context())
	configID, err := parseConfigID(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}

	before, err := h.db.GetConfiguration(r.Context(), orgID, configID)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	if err := h.db.SoftDeleteConfiguration(r.Context(), orgID, configID, actorID(claims)); err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	if h.matchSvc != nil {
		h.matchSvc.InvalidateConfig(orgID)
	}

	if auditErr := h.recordMutationAuditBestEffort(
		r,
		orgID,
		"delete_configuration",
		"matching_configuration",
		configID.String(),
		before,
		nil,
		nil,
	); auditErr != nil {
		h.logger.Error("failed to record mutation audit after committed delete_configuration",
			"error", auditErr,
			"configuration_id", configID,
			"org_id", orgID,
			"request_id", RequestIDFromContext(r.Context()))
	}

	w.WriteHeader(http.StatusNoContent)
}

// HandleListConfigurations handles GET /v1/configurations.
func (h *Handlers) HandleListConfigurations(w http.ResponseWriter, r *http.Request) {
	orgID := OrgIDFromContext(r.Context())

	configs, err := h.db.ListConfigurations(r.Context(), orgID)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	if configs == nil {
		configs = []model.MatchingConfiguration{}
	}
	writeJSON(w, r, http.StatusOK, configs)
}

// HandleGetConfiguration handles GET /v1/configurations/{config_id}.
func (h *Handlers) HandleGetConfiguration(w http.ResponseWriter, r *http.Request) {
	orgID := OrgIDFromContext(r.Context())
	configID, err := parseConfigID(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}

	cfg, err := h.db.GetConfiguration(r.Context(), orgID, configID)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, cfg)
}

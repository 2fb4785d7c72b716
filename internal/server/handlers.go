package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/ashita-ai/musubi/internal/auth"
	"github.com/ashita-ai/musubi/internal/model"
	"github.com/ashita-ai/musubi/internal/notify"
	"github.com/ashita-ai/musubi/internal/service/expiry"
	"github.com/ashita-ai/musubi/internal/service/history"
	"github.com/ashita-ai/musubi/internal/service/matching"
	"github.com/ashita-ai/musubi/internal/storage"
)

// Handlers holds HTTP handler dependencies.
type Handlers struct {
	db                  *storage.DB
	jwtMgr              *auth.JWTManager
	matchSvc            *matching.Service
	expirer             *expiry.Expirer
	recorder            *history.Recorder
	outbox              *notify.OutboxWorker
	broker              *Broker
	logger              *slog.Logger
	startedAt           time.Time
	version             string
	maxRequestBodyBytes int64
	openapiSpec         []byte
	configDefaults      ConfigDefaults
	// matchHooks are fired asynchronously after proposal lifecycle events.
	// Nil or empty slice means no hooks registered.
	matchHooks []MatchEventHook
}

// ConfigDefaults seeds the fields a CreateConfigurationRequest omits.
// Values come from the MATCH_DEFAULT_* and PROPOSAL_DEFAULT_TTL_MINUTES env
// settings.
type ConfigDefaults struct {
	MinScore           int
	MaxProposals       int
	ProposalTTLMinutes int
}

func (d ConfigDefaults) withFallbacks() ConfigDefaults {
	if d.MaxProposals < 1 {
		d.MaxProposals = 5
	}
	if d.ProposalTTLMinutes < 1 {
		d.ProposalTTLMinutes = 120
	}
	if d.MinScore < 0 || d.MinScore > 100 {
		d.MinScore = 50
	}
	return d
}

// HandlersDeps holds all dependencies for constructing Handlers.
// Optional (nil-safe): Broker, Expirer, Recorder, OutboxWorker, OpenAPISpec, MatchHooks.
type HandlersDeps struct {
	DB                  *storage.DB
	JWTMgr              *auth.JWTManager
	MatchSvc            *matching.Service
	Expirer             *expiry.Expirer
	Recorder            *history.Recorder
	OutboxWorker        *notify.OutboxWorker
	Broker              *Broker
	Logger              *slog.Logger
	Version             string
	MaxRequestBodyBytes int64
	OpenAPISpec         []byte
	ConfigDefaults      ConfigDefaults
	MatchHooks          []MatchEventHook
}

// NewHandlers creates a new Handlers with all dependencies.
func NewHandlers(d HandlersDeps) *Handlers {
	return &Handlers{
		db:                  d.DB,
		jwtMgr:              d.JWTMgr,
		matchSvc:            d.MatchSvc,
		expirer:             d.Expirer,
		recorder:            d.Recorder,
		outbox:              d.OutboxWorker,
		broker:              d.Broker,
		logger:              d.Logger,
		startedAt:           time.Now(),
		version:             d.Version,
		maxRequestBodyBytes: d.MaxRequestBodyBytes,
		openapiSpec:         d.OpenAPISpec,
		configDefaults:      d.ConfigDefaults.withFallbacks(),
		matchHooks:          d.MatchHooks,
	}
}

// HandleAuthToken handles POST /auth/token.
// Verifies the API key against accounts.api_key_hash. Without an org_slug
// the lookup is global because the org isn't known until the account is
// identified; with one it is scoped to that organization.
func (h *Handlers) HandleAuthToken(w http.ResponseWriter, r *http.Request) {
	var req model.AuthTokenRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}

	accounts, err := h.lookupAuthAccounts(r.Context(), req)
	if err != nil {
		auth.DummyVerify()
		writeError(w, r, http.StatusUnauthorized, model.ErrCodeUnauthorized, "invalid credentials")
		return
	}

	var matched *model.Account
	verified := false
	for i := range accounts {
		a := &accounts[i]
		if a.APIKeyHash == nil {
			continue
		}
		valid, verr := auth.VerifyAPIKey(req.APIKey, *a.APIKeyHash)
		verified = true
		if verr != nil || !valid {
			continue
		}
		matched = a
		break
	}
	if !verified {
		auth.DummyVerify()
	}

	if matched == nil {
		writeError(w, r, http.StatusUnauthorized, model.ErrCodeUnauthorized, "invalid credentials")
		return
	}

	token, expiresAt, err := h.jwtMgr.IssueToken(*matched)
	if err != nil {
		h.writeInternalError(w, r, "failed to issue token", err)
		return
	}

	// Audit: record successful token issuance. Best-effort — failure to
	// audit must not block the token response.
	if auditErr := h.recordMutationAuditBestEffort(r, matched.OrgID,
		"token_issued", "auth_token", matched.AccountID, nil, nil,
		map[string]any{
			"ip":         r.RemoteAddr,
			"user_agent": r.UserAgent(),
			"token_exp":  expiresAt,
		},
	); auditErr != nil {
		slog.Error("failed to audit token issuance",
			"account_id", matched.AccountID, "org_id", matched.OrgID, "error", auditErr)
	}

	writeJSON(w, r, http.StatusOK, model.AuthTokenResponse{
		Token:     token,
		ExpiresAt: expiresAt,
	})
}

// lookupAuthAccounts resolves the candidate accounts for credential
// verification. Inactive accounts never reach the verify loop.
func (h *Handlers) lookupAuthAccounts(ctx context.Context, req model.AuthTokenRequest) ([]model.Account, error) {
	if req.OrgSlug == "" {
		return h.db.GetAccountsByAccountIDGlobal(ctx, req.AccountID)
	}
	org, err := h.db.GetOrganizationBySlug(ctx, req.OrgSlug)
	if err != nil {
		return nil, err
	}
	account, err := h.db.GetAccountByAccountID(ctx, org.ID, req.AccountID)
	if err != nil {
		return nil, err
	}
	if !account.Active {
		return nil, model.NewNotFound("account", req.AccountID)
	}
	return []model.Account{account}, nil
}

// HandleScopedToken handles POST /auth/scoped-token (admin-only).
// Issues a short-lived JWT that acts as the target account, with the issuing
// admin's account_id recorded in the ScopedBy claim. Useful for verifying what
// a coordinator or caregiver can see without needing their key.
func (h *Handlers) HandleScopedToken(w http.ResponseWriter, r *http.Request) {
	claims := ClaimsFromContext(r.Context())
	orgID := OrgIDFromContext(r.Context())

	// Scoped tokens cannot issue further scoped tokens. No delegation chains.
	if claims.ScopedBy != "" {
		writeError(w, r, http.StatusForbidden, model.ErrCodeForbidden,
			"scoped tokens cannot issue further scoped tokens")
		return
	}

	var req model.ScopedTokenRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}
	if req.AsAccountID == "" {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "as_account_id is required")
		return
	}
	if err := model.ValidateAccountID(req.AsAccountID); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}

	ttl := 5 * time.Minute
	if req.ExpiresIn > 0 {
		ttl = time.Duration(req.ExpiresIn) * time.Second
	}
	// Cap is enforced inside IssueScopedToken, but clamp the value used for
	// the audit log so it reflects what was actually issued.
	if ttl > auth.MaxScopedTokenTTL {
		ttl = auth.MaxScopedTokenTTL
	}

	target, err := h.db.GetAccountByAccountID(r.Context(), orgID, req.AsAccountID)
	if err != nil {
		writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound,
			"account not found: "+req.AsAccountID)
		return
	}

	// Privilege escalation guard: callers can only act as accounts whose role
	// is strictly below their own.
	if model.RoleRank(claims.Role) <= model.RoleRank(target.Role) {
		writeError(w, r, http.StatusForbidden, model.ErrCodeForbidden,
			"cannot issue scoped token for account with role equal to or higher than your own")
		return
	}

	token, expiresAt, err := h.jwtMgr.IssueScopedToken(claims.AccountID, target, ttl)
	if err != nil {
		h.writeInternalError(w, r, "failed to issue scoped token", err)
		return
	}

	slog.Info("scoped token issued",
		"issuer", claims.AccountID,
		"as_account_id", target.AccountID,
		"as_role", target.Role,
		"ttl_seconds", int(ttl.Seconds()),
		"request_id", RequestIDFromContext(r.Context()),
	)

	if auditErr := h.recordMutationAuditBestEffort(r, orgID,
		"scoped_token_issued", "auth_token", target.AccountID, nil, nil,
		map[string]any{
			"issuer":      claims.AccountID,
			"as_role":     string(target.Role),
			"ttl_seconds": int(ttl.Seconds()),
			"token_exp":   expiresAt,
		},
	); auditErr != nil {
		slog.Error("failed to audit scoped token issuance",
			"issuer", claims.AccountID, "as_account_id", target.AccountID, "error", auditErr)
	}

	writeJSON(w, r, http.StatusOK, model.ScopedTokenResponse{
		Token:       token,
		ExpiresAt:   expiresAt,
		AsAccountID: target.AccountID,
		ScopedBy:    claims.AccountID,
	})
}

// HandleSubscribe handles GET /v1/subscribe (SSE).
// Streams proposal and shift events for the caller's organization.
func (h *Handlers) HandleSubscribe(w http.ResponseWriter, r *http.Request) {
	if h.broker == nil {
		writeError(w, r, http.StatusServiceUnavailable, model.ErrCodeInternalError,
			"SSE not available (LISTEN/NOTIFY not configured)")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	// Disable the server's WriteTimeout for this long-lived connection.
	// Without this, idle SSE connections are killed after WriteTimeout (default 30s).
	rc := http.NewResponseController(w)
	_ = rc.SetWriteDeadline(time.Time{})

	orgID := OrgIDFromContext(r.Context())
	ch := h.broker.Subscribe(orgID)
	defer h.broker.Unsubscribe(ch)

	keepalive := time.NewTicker(15 * time.Second)
	defer keepalive.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-keepalive.C:
			if _, err := w.Write([]byte(":keepalive\n\n")); err != nil {
				return
			}
			flusher.Flush()
		case event, ok := <-ch:
			if !ok {
				return
			}
			if _, err := w.Write(event); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// HandleHealth handles GET /health.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	pgStatus := "connected"
	status := "healthy"
	httpStatus := http.StatusOK

	if err := h.db.Ping(r.Context()); err != nil {
		pgStatus = "disconnected"
		status = "unhealthy"
		httpStatus = http.StatusServiceUnavailable
	}

	// Recorder health: >50% capacity = high, >75% capacity = critical.
	recDepth := 0
	recStatus := "ok"
	if h.recorder != nil {
		recDepth = h.recorder.Len()
		capacity := h.recorder.Capacity()
		if recDepth > capacity*3/4 {
			recStatus = "critical"
			if status == "healthy" {
				status = "degraded"
			}
		} else if recDepth > capacity/2 {
			recStatus = "high"
		}
	}

	resp := model.HealthResponse{
		Status:         status,
		Version:        h.version,
		Postgres:       pgStatus,
		RecorderDepth:  recDepth,
		RecorderStatus: recStatus,
		Uptime:         int64(time.Since(h.startedAt).Seconds()),
	}

	if h.outbox != nil {
		if depth, err := h.outbox.Depth(r.Context()); err == nil {
			resp.OutboxDepth = int(depth)
		} else {
			h.logger.Warn("outbox depth query failed", "error", err)
		}
	}

	if h.broker != nil {
		resp.SSEBroker = "running"
	}

	writeJSON(w, r, httpStatus, resp)
}

// HandleOpenAPISpec serves the embedded OpenAPI specification.
func (h *Handlers) HandleOpenAPISpec(w http.ResponseWriter, r *http.Request) {
	if len(h.openapiSpec) == 0 {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "application/yaml")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(h.openapiSpec)
}

// SeedAdmin creates the initial admin account if the accounts table is empty.
func (h *Handlers) SeedAdmin(ctx context.Context, adminAPIKey string) error {
	if adminAPIKey == "" {
		totalAccounts, err := h.db.CountAccountsGlobal(ctx)
		if err != nil {
			return fmt.Errorf("seed admin: count global accounts: %w", err)
		}
		if totalAccounts == 0 {
			return fmt.Errorf("seed admin: MUSUBI_ADMIN_API_KEY is empty and no accounts exist; set MUSUBI_ADMIN_API_KEY to bootstrap initial admin access")
		}
		h.logger.Info("no admin API key configured, skipping admin seed", "existing_accounts", totalAccounts)
		return nil
	}

	// Default org UUID for the pre-migration seed admin.
	defaultOrgID := uuid.Nil

	// Ensure the default org exists so the accounts FK is satisfied on fresh DBs.
	if err := h.db.EnsureDefaultOrg(ctx); err != nil {
		return fmt.Errorf("seed admin: ensure default org: %w", err)
	}

	count, err := h.db.CountAccounts(ctx, defaultOrgID)
	if err != nil {
		return fmt.Errorf("seed admin: count accounts: %w", err)
	}
	if count > 0 {
		h.logger.Info("accounts table not empty, skipping admin seed")
		return nil
	}

	hash, err := auth.HashAPIKey(adminAPIKey)
	if err != nil {
		return fmt.Errorf("seed admin: hash key: %w", err)
	}

	_, err = h.db.CreateAccount(ctx, model.Account{
		AccountID:  "admin",
		OrgID:      defaultOrgID,
		Name:       "System Admin",
		Role:       model.RoleAdmin,
		APIKeyHash: &hash,
		Active:     true,
	})
	if err != nil {
		return fmt.Errorf("seed admin: create account: %w", err)
	}

	h.logger.Info("seeded initial admin account")
	return nil
}

// --- Shared helpers ---

func parseShiftID(r *http.Request) (uuid.UUID, error) {
	return parsePathUUID(r, "shift_id")
}

func parseProposalID(r *http.Request) (uuid.UUID, error) {
	return parsePathUUID(r, "proposal_id")
}

func parseCaregiverID(r *http.Request) (uuid.UUID, error) {
	return parsePathUUID(r, "caregiver_id")
}

func parseConfigID(r *http.Request) (uuid.UUID, error) {
	return parsePathUUID(r, "config_id")
}

func parsePathUUID(r *http.Request, name string) (uuid.UUID, error) {
	raw := r.PathValue(name)
	if raw == "" {
		return uuid.Nil, fmt.Errorf("%s is required", name)
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid %s: %s", name, raw)
	}
	return id, nil
}

// maxQueryLimit is the maximum allowed value for limit query parameters.
const maxQueryLimit = 1000

func queryInt(r *http.Request, key string, defaultVal int) int {
	if v := r.URL.Query().Get(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultVal
}

// queryLimit returns a bounded limit value from query params.
// Values are clamped to [1, maxQueryLimit].
func queryLimit(r *http.Request, defaultVal int) int {
	limit := queryInt(r, "limit", defaultVal)
	if limit < 1 {
		return 1
	}
	if limit > maxQueryLimit {
		return maxQueryLimit
	}
	return limit
}

func queryTime(r *http.Request, key string) (*time.Time, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return nil, fmt.Errorf("invalid %s: expected RFC3339 format (e.g. 2024-01-01T00:00:00Z)", key)
	}
	return &t, nil
}

// queryUUID parses an optional UUID query parameter. Missing keys return nil.
func queryUUID(r *http.Request, key string) (*uuid.UUID, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return nil, nil
	}
	id, err := uuid.Parse(v)
	if err != nil {
		return nil, fmt.Errorf("invalid %s: %s", key, v)
	}
	return &id, nil
}

// queryBool parses an optional boolean query parameter. Missing keys return nil.
func queryBool(r *http.Request, key string) (*bool, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return nil, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return nil, fmt.Errorf("invalid %s: expected true or false", key)
	}
	return &b, nil
}

// queryPagination builds page-based pagination from query params.
func queryPagination(r *http.Request) (model.Pagination, error) {
	p := model.Pagination{
		Page:      queryInt(r, "page", 0),
		Limit:     queryInt(r, "limit", 0),
		SortBy:    r.URL.Query().Get("sort_by"),
		SortOrder: model.SortOrder(r.URL.Query().Get("sort_order")),
	}
	if err := p.Normalize(); err != nil {
		return model.Pagination{}, err
	}
	return p, nil
}

package musubi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Config holds the settings needed to construct a Client.
type Config struct {
	// BaseURL is the root URL of the Musubi server (e.g. "http://localhost:8080").
	BaseURL string

	// AccountID identifies this account for authentication.
	AccountID string

	// APIKey is the secret used to obtain a JWT token.
	APIKey string

	// HTTPClient is an optional custom HTTP client. If nil, a default client
	// with a 30-second timeout is used.
	HTTPClient *http.Client

	// Timeout applies to individual API requests. Defaults to 30 seconds.
	Timeout time.Duration
}

// Client is an HTTP client for the Musubi shift-matching API.
// All methods are safe for concurrent use.
type Client struct {
	baseURL  string
	client   *http.Client
	tokenMgr *tokenManager
}

// NewClient creates a Client from the given configuration.
// Returns an error if BaseURL, AccountID, or APIKey is empty.
func NewClient(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("musubi: BaseURL is required")
	}
	if cfg.AccountID == "" {
		return nil, fmt.Errorf("musubi: AccountID is required")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("musubi: APIKey is required")
	}

	baseURL := strings.TrimRight(cfg.BaseURL, "/")

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout == 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	return &Client{
		baseURL:  baseURL,
		client:   httpClient,
		tokenMgr: newTokenManager(baseURL, cfg.AccountID, cfg.APIKey, httpClient),
	}, nil
}

// RequestOption customizes a single API request.
type RequestOption func(*http.Request)

// WithIdempotencyKey sets the Idempotency-Key header on a mutating request.
// Replays with the same key return the recorded response instead of acting
// twice.
func WithIdempotencyKey(key string) RequestOption {
	return func(req *http.Request) {
		req.Header.Set("Idempotency-Key", key)
	}
}

// ---------------------------------------------------------------------------
// Shifts
// ---------------------------------------------------------------------------

// CreateShift opens a shift for the given visit so matching can begin.
func (c *Client) CreateShift(ctx context.Context, req CreateShiftRequest, opts ...RequestOption) (*OpenShift, error) {
	var resp OpenShift
	if err := c.post(ctx, "/v1/shifts", req, &resp, opts...); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetShift retrieves one shift by ID.
func (c *Client) GetShift(ctx context.Context, shiftID uuid.UUID) (*OpenShift, error) {
	var resp OpenShift
	if err := c.get(ctx, "/v1/shifts/"+shiftID.String(), &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// PageOptions are the common pagination controls for list endpoints.
// Zero values take server defaults (page 1, limit 20).
type PageOptions struct {
	Page      int
	Limit     int
	SortBy    string
	SortOrder string // "asc" or "desc"
}

func (p PageOptions) encode(params url.Values) {
	if p.Page > 0 {
		params.Set("page", strconv.Itoa(p.Page))
	}
	if p.Limit > 0 {
		params.Set("limit", strconv.Itoa(p.Limit))
	}
	if p.SortBy != "" {
		params.Set("sort_by", p.SortBy)
	}
	if p.SortOrder != "" {
		params.Set("sort_order", p.SortOrder)
	}
}

// ListShiftsOptions are optional filters for the ListShifts method.
type ListShiftsOptions struct {
	Status        []ShiftStatus
	Priority      []ShiftPriority
	BranchID      *uuid.UUID
	ClientID      *uuid.UUID
	ServiceTypeID *uuid.UUID
	DateFrom      *time.Time
	DateTo        *time.Time
	IsUrgent      *bool

	PageOptions
}

// ListShifts retrieves shifts matching the given filters, newest first by
// default.
func (c *Client) ListShifts(ctx context.Context, opts *ListShiftsOptions) (*ShiftPage, error) {
	params := url.Values{}
	if opts != nil {
		for _, s := range opts.Status {
			params.Add("status", string(s))
		}
		for _, p := range opts.Priority {
			params.Add("priority", string(p))
		}
		setUUID(params, "branch_id", opts.BranchID)
		setUUID(params, "client_id", opts.ClientID)
		setUUID(params, "service_type_id", opts.ServiceTypeID)
		setTime(params, "date_from", opts.DateFrom)
		setTime(params, "date_to", opts.DateTo)
		if opts.IsUrgent != nil {
			params.Set("is_urgent", strconv.FormatBool(*opts.IsUrgent))
		}
		opts.PageOptions.encode(params)
	}

	env, err := c.getList(ctx, withQuery("/v1/shifts", params))
	if err != nil {
		return nil, err
	}
	page := &ShiftPage{Total: env.Total, HasMore: env.HasMore, Page: env.Page, Limit: env.Limit}
	if err := json.Unmarshal(env.Data, &page.Shifts); err != nil {
		return nil, fmt.Errorf("musubi: decode shift list: %w", err)
	}
	return page, nil
}

// MatchShift runs the scoring pipeline for a shift. With AutoPropose set,
// the server also emits proposals to the top candidates.
func (c *Client) MatchShift(ctx context.Context, shiftID uuid.UUID, req MatchShiftRequest, opts ...RequestOption) (*MatchResult, error) {
	var resp MatchResult
	if err := c.post(ctx, "/v1/shifts/"+shiftID.String()+"/match", req, &resp, opts...); err != nil {
		return nil, err
	}
	return &resp, nil
}

// HistoryOptions are optional filters for the ShiftHistory method.
type HistoryOptions struct {
	Outcome []MatchOutcome

	PageOptions
}

// ShiftHistory retrieves the append-only matching record for a shift.
func (c *Client) ShiftHistory(ctx context.Context, shiftID uuid.UUID, opts *HistoryOptions) (*HistoryPage, error) {
	params := url.Values{}
	if opts != nil {
		for _, o := range opts.Outcome {
			params.Add("outcome", string(o))
		}
		opts.PageOptions.encode(params)
	}

	env, err := c.getList(ctx, withQuery("/v1/shifts/"+shiftID.String()+"/history", params))
	if err != nil {
		return nil, err
	}
	page := &HistoryPage{Total: env.Total, HasMore: env.HasMore, Page: env.Page, Limit: env.Limit}
	if err := json.Unmarshal(env.Data, &page.Entries); err != nil {
		return nil, fmt.Errorf("musubi: decode history list: %w", err)
	}
	return page, nil
}

// ClaimShift takes an open shift for the caregiver linked to this account.
// The claim is scored with the same rubric as coordinator-driven matching
// and returns the accepted proposal.
func (c *Client) ClaimShift(ctx context.Context, shiftID uuid.UUID, opts ...RequestOption) (*AssignmentProposal, error) {
	var resp AssignmentProposal
	if err := c.post(ctx, "/v1/shifts/"+shiftID.String()+"/claim", struct{}{}, &resp, opts...); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ---------------------------------------------------------------------------
// Proposals
// ---------------------------------------------------------------------------

// CreateProposal sends a shift to a specific caregiver, bypassing automatic
// candidate selection. Requires coordinator role.
func (c *Client) CreateProposal(ctx context.Context, shiftID uuid.UUID, req CreateProposalRequest, opts ...RequestOption) (*AssignmentProposal, error) {
	var resp AssignmentProposal
	if err := c.post(ctx, "/v1/shifts/"+shiftID.String()+"/proposals", req, &resp, opts...); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ShiftProposalsOptions are optional filters for the ShiftProposals method.
type ShiftProposalsOptions struct {
	Status []ProposalStatus

	PageOptions
}

// ShiftProposals retrieves the proposals for one shift.
func (c *Client) ShiftProposals(ctx context.Context, shiftID uuid.UUID, opts *ShiftProposalsOptions) (*ProposalPage, error) {
	params := url.Values{}
	if opts != nil {
		for _, s := range opts.Status {
			params.Add("status", string(s))
		}
		opts.PageOptions.encode(params)
	}

	env, err := c.getList(ctx, withQuery("/v1/shifts/"+shiftID.String()+"/proposals", params))
	if err != nil {
		return nil, err
	}
	page := &ProposalPage{Total: env.Total, HasMore: env.HasMore, Page: env.Page, Limit: env.Limit}
	if err := json.Unmarshal(env.Data, &page.Proposals); err != nil {
		return nil, fmt.Errorf("musubi: decode proposal list: %w", err)
	}
	return page, nil
}

// SearchProposalsOptions are optional filters for the SearchProposals
// method. Caregiver accounts are always scoped to their own proposals
// regardless of CaregiverID.
type SearchProposalsOptions struct {
	ShiftID     *uuid.UUID
	BranchID    *uuid.UUID
	CaregiverID *uuid.UUID
	Status      []ProposalStatus
	Method      []ProposalMethod
	DateFrom    *time.Time
	DateTo      *time.Time

	PageOptions
}

// SearchProposals retrieves proposals across shifts with structured filters.
func (c *Client) SearchProposals(ctx context.Context, opts *SearchProposalsOptions) (*ProposalPage, error) {
	params := url.Values{}
	if opts != nil {
		setUUID(params, "shift_id", opts.ShiftID)
		setUUID(params, "branch_id", opts.BranchID)
		setUUID(params, "caregiver_id", opts.CaregiverID)
		for _, s := range opts.Status {
			params.Add("status", string(s))
		}
		for _, m := range opts.Method {
			params.Add("method", string(m))
		}
		setTime(params, "date_from", opts.DateFrom)
		setTime(params, "date_to", opts.DateTo)
		opts.PageOptions.encode(params)
	}

	env, err := c.getList(ctx, withQuery("/v1/proposals", params))
	if err != nil {
		return nil, err
	}
	page := &ProposalPage{Total: env.Total, HasMore: env.HasMore, Page: env.Page, Limit: env.Limit}
	if err := json.Unmarshal(env.Data, &page.Proposals); err != nil {
		return nil, fmt.Errorf("musubi: decode proposal list: %w", err)
	}
	return page, nil
}

// RespondProposal accepts or rejects a pending proposal on behalf of the
// proposed caregiver. Accepting assigns the shift and supersedes its other
// live proposals.
func (c *Client) RespondProposal(ctx context.Context, proposalID uuid.UUID, req RespondProposalRequest, opts ...RequestOption) (*AssignmentProposal, error) {
	var resp AssignmentProposal
	if err := c.post(ctx, "/v1/proposals/"+proposalID.String()+"/respond", req, &resp, opts...); err != nil {
		return nil, err
	}
	return &resp, nil
}

// MarkProposalViewed records a read receipt. Only the proposed caregiver's
// account may call this.
func (c *Client) MarkProposalViewed(ctx context.Context, proposalID uuid.UUID) (*AssignmentProposal, error) {
	var resp AssignmentProposal
	if err := c.post(ctx, "/v1/proposals/"+proposalID.String()+"/viewed", struct{}{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ExpireStaleProposals runs one expiry sweep immediately instead of waiting
// for the server's next interval tick. Requires admin role. Returns the
// number of proposals expired.
func (c *Client) ExpireStaleProposals(ctx context.Context) (int, error) {
	var resp struct {
		Expired int `json:"expired"`
	}
	if err := c.post(ctx, "/v1/proposals/expire-stale", struct{}{}, &resp); err != nil {
		return 0, err
	}
	return resp.Expired, nil
}

// ---------------------------------------------------------------------------
// Caregivers
// ---------------------------------------------------------------------------

// AvailableShifts retrieves the open shifts a caregiver is eligible to
// claim over the next seven days, scored and sorted.
func (c *Client) AvailableShifts(ctx context.Context, caregiverID uuid.UUID) ([]MatchCandidate, error) {
	var resp []MatchCandidate
	if err := c.get(ctx, "/v1/caregivers/"+caregiverID.String()+"/available-shifts", &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// Preferences retrieves a caregiver's stated working preferences.
func (c *Client) Preferences(ctx context.Context, caregiverID uuid.UUID) (*CaregiverPreferenceProfile, error) {
	var resp CaregiverPreferenceProfile
	if err := c.get(ctx, "/v1/caregivers/"+caregiverID.String()+"/preferences", &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// UpsertPreferences replaces a caregiver's preference profile.
func (c *Client) UpsertPreferences(ctx context.Context, caregiverID uuid.UUID, req UpsertPreferencesRequest) (*CaregiverPreferenceProfile, error) {
	var resp CaregiverPreferenceProfile
	if err := c.put(ctx, "/v1/caregivers/"+caregiverID.String()+"/preferences", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ---------------------------------------------------------------------------
// Configurations
// ---------------------------------------------------------------------------

// CreateConfiguration creates a matching configuration. Requires
// coordinator role.
func (c *Client) CreateConfiguration(ctx context.Context, req CreateConfigurationRequest, opts ...RequestOption) (*MatchingConfiguration, error) {
	var resp MatchingConfiguration
	if err := c.post(ctx, "/v1/configurations", req, &resp, opts...); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Configurations lists the organization's active matching configurations.
func (c *Client) Configurations(ctx context.Context) ([]MatchingConfiguration, error) {
	var resp []MatchingConfiguration
	if err := c.get(ctx, "/v1/configurations", &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// GetConfiguration retrieves one matching configuration by ID.
func (c *Client) GetConfiguration(ctx context.Context, configID uuid.UUID) (*MatchingConfiguration, error) {
	var resp MatchingConfiguration
	if err := c.get(ctx, "/v1/configurations/"+configID.String(), &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// UpdateConfiguration replaces a matching configuration. req.Version must
// carry the version last read; a stale version fails with a CONCURRENT_UPDATE
// error (check IsConcurrentUpdate and retry from a fresh read). Requires
// coordinator role.
func (c *Client) UpdateConfiguration(ctx context.Context, configID uuid.UUID, req UpdateConfigurationRequest) (*MatchingConfiguration, error) {
	var resp MatchingConfiguration
	if err := c.put(ctx, "/v1/configurations/"+configID.String(), req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// DeleteConfiguration soft-deletes a matching configuration. Requires
// coordinator role.
func (c *Client) DeleteConfiguration(ctx context.Context, configID uuid.UUID) error {
	return c.del(ctx, "/v1/configurations/"+configID.String())
}

// ---------------------------------------------------------------------------
// Admin and health
// ---------------------------------------------------------------------------

// CreateAccount creates a new API account. Requires admin role.
func (c *Client) CreateAccount(ctx context.Context, req CreateAccountRequest) (*Account, error) {
	var resp Account
	if err := c.post(ctx, "/v1/accounts", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ScopedToken issues a short-lived JWT that acts as the target account,
// recording this admin account in the token's ScopedBy claim. expiresIn is
// in seconds; zero takes the server default.
func (c *Client) ScopedToken(ctx context.Context, asAccountID string, expiresIn int) (*ScopedToken, error) {
	body := map[string]any{"as_account_id": asAccountID}
	if expiresIn > 0 {
		body["expires_in"] = expiresIn
	}
	var resp ScopedToken
	if err := c.post(ctx, "/auth/scoped-token", body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Health checks the server's health status. This endpoint does not require
// authentication and will work even if the client has invalid credentials.
func (c *Client) Health(ctx context.Context) (*HealthResponse, error) {
	var resp HealthResponse
	if err := c.getNoAuth(ctx, "/health", &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ---------------------------------------------------------------------------
// Query encoding helpers
// ---------------------------------------------------------------------------

func setUUID(params url.Values, key string, id *uuid.UUID) {
	if id != nil {
		params.Set(key, id.String())
	}
}

func setTime(params url.Values, key string, t *time.Time) {
	if t != nil {
		params.Set(key, t.Format(time.RFC3339))
	}
}

func withQuery(path string, params url.Values) string {
	if len(params) == 0 {
		return path
	}
	return path + "?" + params.Encode()
}

// ---------------------------------------------------------------------------
// HTTP transport
// ---------------------------------------------------------------------------

// apiEnvelope is the server's standard response wrapper.
type apiEnvelope struct {
	Data json.RawMessage `json:"data"`
}

// apiErrorEnvelope is the server's standard error response wrapper.
type apiErrorEnvelope struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// listEnvelope is the server's paginated list wrapper.
type listEnvelope struct {
	Data    json.RawMessage `json:"data"`
	Total   int             `json:"total"`
	HasMore bool            `json:"has_more"`
	Page    int             `json:"page"`
	Limit   int             `json:"limit"`
}

func (c *Client) post(ctx context.Context, path string, body any, dest any, opts ...RequestOption) error {
	encoded, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("musubi: marshal request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(encoded))
	if err != nil {
		return fmt.Errorf("musubi: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for _, opt := range opts {
		opt(req)
	}

	return c.doRequest(ctx, req, dest)
}

func (c *Client) put(ctx context.Context, path string, body any, dest any, opts ...RequestOption) error {
	encoded, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("musubi: marshal request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.baseURL+path, bytes.NewReader(encoded))
	if err != nil {
		return fmt.Errorf("musubi: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for _, opt := range opts {
		opt(req)
	}

	return c.doRequest(ctx, req, dest)
}

func (c *Client) get(ctx context.Context, path string, dest any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("musubi: create request: %w", err)
	}

	return c.doRequest(ctx, req, dest)
}

func (c *Client) del(ctx context.Context, path string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("musubi: create request: %w", err)
	}

	return c.doRequest(ctx, req, nil)
}

// getList is like get but preserves the pagination fields alongside the
// data payload.
func (c *Client) getList(ctx context.Context, path string) (*listEnvelope, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("musubi: create request: %w", err)
	}

	token, err := c.tokenMgr.getToken(ctx)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("musubi: %s %s: %w", req.Method, req.URL.Path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("musubi: read response body: %w", err)
	}
	if resp.StatusCode >= 400 {
		return nil, parseErrorResponse(resp.StatusCode, bodyBytes)
	}

	var envelope listEnvelope
	if err := json.Unmarshal(bodyBytes, &envelope); err != nil {
		return nil, fmt.Errorf("musubi: decode list envelope: %w", err)
	}
	return &envelope, nil
}

func (c *Client) getNoAuth(ctx context.Context, path string, dest any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("musubi: create request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("musubi: %s %s: %w", req.Method, req.URL.Path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	return handleResponse(resp, dest)
}

func (c *Client) doRequest(ctx context.Context, req *http.Request, dest any) error {
	token, err := c.tokenMgr.getToken(ctx)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("musubi: %s %s: %w", req.Method, req.URL.Path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	return handleResponse(resp, dest)
}

func handleResponse(resp *http.Response, dest any) error {
	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("musubi: read response body: %w", err)
	}

	if resp.StatusCode >= 400 {
		return parseErrorResponse(resp.StatusCode, bodyBytes)
	}

	// 204 No Content: nothing to decode.
	if resp.StatusCode == http.StatusNoContent || dest == nil {
		return nil
	}

	// Unwrap the server's { "data": ... } envelope.
	var envelope apiEnvelope
	if err := json.Unmarshal(bodyBytes, &envelope); err != nil {
		return fmt.Errorf("musubi: decode response envelope: %w", err)
	}

	if envelope.Data == nil {
		// Fallback: some endpoints may not wrap in "data".
		return json.Unmarshal(bodyBytes, dest)
	}

	return json.Unmarshal(envelope.Data, dest)
}

func parseErrorResponse(statusCode int, body []byte) *Error {
	apiErr := &Error{StatusCode: statusCode}

	var envelope apiErrorEnvelope
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Error.Message != "" {
		apiErr.Code = envelope.Error.Code
		apiErr.Message = envelope.Error.Message
	} else {
		apiErr.Code = http.StatusText(statusCode)
		apiErr.Message = string(body)
	}

	return apiErr
}

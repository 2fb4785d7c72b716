package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	mcplib "github.com/mark3labs/mcp-go/mcp"

	"github.com/ashita-ai/musubi/internal/auth"
	"github.com/ashita-ai/musubi/internal/ctxutil"
	"github.com/ashita-ai/musubi/internal/model"
	"github.com/ashita-ai/musubi/internal/service/history"
	"github.com/ashita-ai/musubi/internal/service/matching"
	"github.com/ashita-ai/musubi/internal/storage"
	"github.com/ashita-ai/musubi/internal/testutil"
)

var (
	testDB     *storage.DB
	testSvc    *matching.Service
	testServer *Server
)

func TestMain(m *testing.M) {
	tc := testutil.MustStartPostgres()
	code := setupAndRun(m, tc)
	tc.Terminate()
	os.Exit(code)
}

func setupAndRun(m *testing.M, tc *testutil.TestContainer) int {
	ctx := context.Background()
	logger := testutil.TestLogger()

	var err error
	testDB, err = tc.NewTestDB(ctx, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "mcp test: create DB: %v\n", err)
		return 1
	}
	defer testDB.Close(ctx)

	if err := testDB.EnsureDefaultOrg(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "mcp test: ensure default org: %v\n", err)
		return 1
	}

	// The recorder is never started: rows buffer in memory, which is all
	// these tests need.
	recorder := history.NewRecorder(testDB, logger, 64, time.Second)
	testSvc = matching.New(testDB, recorder, nil, nil, logger, matching.Options{})
	testServer = New(testDB, testSvc, logger, "test")

	return m.Run()
}

// orgFixture is a fresh organization with an active default configuration.
// Each test seeds its own so runs never interfere through shared data.
type orgFixture struct {
	orgID    uuid.UUID
	branchID uuid.UUID
	clientID uuid.UUID
}

func seedOrg(t *testing.T) orgFixture {
	t.Helper()
	ctx := context.Background()

	org, err := testDB.CreateOrganization(ctx, model.Organization{
		Name: "Test Agency",
		Slug: "agency-" + uuid.New().String()[:8],
	})
	require.NoError(t, err)

	f := orgFixture{orgID: org.ID, branchID: uuid.New(), clientID: uuid.New()}

	_, err = testDB.CreateConfiguration(ctx, model.MatchingConfiguration{
		OrganizationID:              f.orgID,
		Name:                        "default",
		IsDefault:                   true,
		IsActive:                    true,
		Weights:                     model.DefaultWeights(),
		RequireActiveCertifications: true,
		RespectGenderPreference:     true,
		RespectLanguagePreference:   true,
		MinScoreForProposal:         50,
		MaxProposalsPerShift:        5,
		ProposalExpirationMinutes:   120,
	})
	require.NoError(t, err)
	return f
}

// coordCtx returns a context carrying coordinator claims for the fixture's
// org, the way the HTTP auth middleware populates it for /mcp requests.
func (f orgFixture) coordCtx() context.Context {
	return ctxutil.WithClaims(context.Background(), &auth.Claims{
		AccountID: "test-coordinator",
		OrgID:     f.orgID,
		Role:      model.RoleCoordinator,
	})
}

// seedCaregiver inserts an active, compliant caregiver at (lat, 0) with the
// given skills and an unexpired ACTIVE certification of each given type.
func (f orgFixture) seedCaregiver(t *testing.T, firstName string, skills, certs []string, lat float64) uuid.UUID {
	t.Helper()
	ctx := context.Background()
	id := uuid.New()

	_, err := testDB.Pool().Exec(ctx,
		`INSERT INTO caregivers (id, organization_id, branch_id, first_name, last_name,
		 employment_type, active, languages, skills, compliance_status,
		 max_hours_per_week, latitude, longitude, reliability_score)
		 VALUES ($1, $2, $3, $4, 'Tester', 'FULL_TIME', TRUE, $5, $6, 'COMPLIANT', 40, $7, 0, 90)`,
		id, f.orgID, f.branchID, firstName, []string{"en"}, skills, lat)
	require.NoError(t, err)

	for _, c := range certs {
		_, err := testDB.Pool().Exec(ctx,
			`INSERT INTO caregiver_certifications (caregiver_id, certification_type, status, expires_at)
			 VALUES ($1, $2, 'ACTIVE', now() + interval '1 year')`,
			id, c)
		require.NoError(t, err)
	}
	return id
}

// seedShift creates an unassigned visit a week out requiring personal_care
// and an HHA certification, then opens a shift for it.
func (f orgFixture) seedShift(t *testing.T, mutate ...func(*model.Visit)) model.OpenShift {
	t.Helper()
	ctx := context.Background()

	lat, lon := 0.0, 0.0
	v := model.Visit{
		OrganizationID:         f.orgID,
		BranchID:               f.branchID,
		ClientID:               f.clientID,
		ScheduledDate:          time.Now().UTC().AddDate(0, 0, 7).Truncate(24 * time.Hour),
		StartTime:              "09:00",
		EndTime:                "13:00",
		DurationMinutes:        240,
		Timezone:               "UTC",
		RequiredSkills:         []string{"personal_care"},
		RequiredCertifications: []string{"HHA"},
		Latitude:               &lat,
		Longitude:              &lon,
	}
	for _, m := range mutate {
		m(&v)
	}

	created, err := testDB.CreateVisit(ctx, v)
	require.NoError(t, err)
	shift, err := testDB.CreateShiftFromVisit(ctx, created.ID, nil, nil, nil, nil)
	require.NoError(t, err)
	return shift
}

// seedProposal inserts a PENDING proposal for the shift without enqueueing a
// notification.
func (f orgFixture) seedProposal(t *testing.T, shift model.OpenShift, caregiverID uuid.UUID) model.AssignmentProposal {
	t.Helper()
	p, err := testDB.CreateProposal(context.Background(), model.AssignmentProposal{
		OpenShiftID:    shift.ID,
		VisitID:        shift.VisitID,
		CaregiverID:    caregiverID,
		OrganizationID: f.orgID,
		BranchID:       f.branchID,
		MatchScore:     80,
		MatchQuality:   model.QualityGood,
		ProposalMethod: model.ProposalMethodAutomatic,
	}, false)
	require.NoError(t, err)
	return p
}

func toolRequest(name string, args map[string]any) mcplib.CallToolRequest {
	return mcplib.CallToolRequest{
		Params: mcplib.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	}
}

// parseToolText extracts the first TextContent text from a CallToolResult.
func parseToolText(t *testing.T, result *mcplib.CallToolResult) string {
	t.Helper()
	for _, c := range result.Content {
		if tc, ok := c.(mcplib.TextContent); ok {
			return tc.Text
		}
	}
	t.Fatal("no TextContent found in tool result")
	return ""
}

type candidatesResponse struct {
	ShiftID    uuid.UUID        `json:"shift_id"`
	Candidates []map[string]any `json:"candidates"`
	Total      int              `json:"total"`
}

type shiftResponse struct {
	Shift         map[string]any   `json:"shift"`
	LiveProposals []map[string]any `json:"live_proposals"`
}

type proposalsResponse struct {
	Proposals []map[string]any `json:"proposals"`
	Total     int              `json:"total"`
}

// ---------- handleFindCandidates tests ----------

func TestHandleFindCandidates(t *testing.T) {
	f := seedOrg(t)
	ctx := f.coordCtx()

	// Near and qualified beats far and qualified on proximity.
	near := f.seedCaregiver(t, "Near", []string{"personal_care"}, []string{"HHA"}, 0.0)
	far := f.seedCaregiver(t, "Far", []string{"personal_care"}, []string{"HHA"}, 0.3)
	shift := f.seedShift(t)

	result, err := testServer.handleFindCandidates(ctx, toolRequest("musubi_find_candidates", map[string]any{
		"shift_id": shift.ID.String(),
	}))
	require.NoError(t, err)
	require.False(t, result.IsError, "expected success: %s", parseToolText(t, result))

	var resp candidatesResponse
	require.NoError(t, json.Unmarshal([]byte(parseToolText(t, result)), &resp))
	assert.Equal(t, shift.ID, resp.ShiftID)
	require.Len(t, resp.Candidates, 2)
	assert.Equal(t, 2, resp.Total)

	// Ranked best first.
	assert.Equal(t, near.String(), resp.Candidates[0]["caregiver_id"])
	assert.Equal(t, far.String(), resp.Candidates[1]["caregiver_id"])
	first := resp.Candidates[0]["overall_score"].(float64)
	second := resp.Candidates[1]["overall_score"].(float64)
	assert.GreaterOrEqual(t, first, second)

	for _, c := range resp.Candidates {
		assert.Equal(t, true, c["is_eligible"])
		assert.NotEmpty(t, c["scores"], "per-dimension scores should be present")
	}
}

func TestHandleFindCandidates_ExcludesIneligible(t *testing.T) {
	f := seedOrg(t)
	ctx := f.coordCtx()

	qualified := f.seedCaregiver(t, "Qualified", []string{"personal_care"}, []string{"HHA"}, 0.0)
	f.seedCaregiver(t, "Uncertified", []string{"personal_care"}, nil, 0.0)
	shift := f.seedShift(t)

	result, err := testServer.handleFindCandidates(ctx, toolRequest("musubi_find_candidates", map[string]any{
		"shift_id": shift.ID.String(),
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	var resp candidatesResponse
	require.NoError(t, json.Unmarshal([]byte(parseToolText(t, result)), &resp))
	require.Len(t, resp.Candidates, 1, "uncertified caregiver should be filtered out")
	assert.Equal(t, qualified.String(), resp.Candidates[0]["caregiver_id"])
}

func TestHandleFindCandidates_IncludeIneligible(t *testing.T) {
	f := seedOrg(t)
	ctx := f.coordCtx()

	// The uncertified caregiver sits farther out so the ranking between the
	// two is strict.
	f.seedCaregiver(t, "Qualified", []string{"personal_care"}, []string{"HHA"}, 0.0)
	uncertified := f.seedCaregiver(t, "Uncertified", []string{"personal_care"}, nil, 0.2)
	shift := f.seedShift(t)

	result, err := testServer.handleFindCandidates(ctx, toolRequest("musubi_find_candidates", map[string]any{
		"shift_id":           shift.ID.String(),
		"include_ineligible": true,
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	var resp candidatesResponse
	require.NoError(t, json.Unmarshal([]byte(parseToolText(t, result)), &resp))
	require.Len(t, resp.Candidates, 2)

	// Eligible ranks above ineligible; the ineligible one carries its
	// gate failures.
	last := resp.Candidates[1]
	assert.Equal(t, uncertified.String(), last["caregiver_id"])
	assert.Equal(t, false, last["is_eligible"])
	issues, ok := last["eligibility_issues"].([]any)
	require.True(t, ok, "ineligible candidate should carry eligibility_issues")
	require.NotEmpty(t, issues)
	assert.Contains(t, issues[0].(string), "MISSING_CERTIFICATION")
}

func TestHandleFindCandidates_InvalidShiftID(t *testing.T) {
	f := seedOrg(t)

	result, err := testServer.handleFindCandidates(f.coordCtx(), toolRequest("musubi_find_candidates", map[string]any{
		"shift_id": "not-a-uuid",
	}))
	require.NoError(t, err, "handler returns tool errors, not go errors")
	require.True(t, result.IsError)
	assert.Contains(t, parseToolText(t, result), "shift_id must be a valid UUID")
}

func TestHandleFindCandidates_ShiftNotFound(t *testing.T) {
	f := seedOrg(t)

	result, err := testServer.handleFindCandidates(f.coordCtx(), toolRequest("musubi_find_candidates", map[string]any{
		"shift_id": uuid.New().String(),
	}))
	require.NoError(t, err)
	require.True(t, result.IsError)
	assert.Contains(t, parseToolText(t, result), "shift lookup failed")
}

func TestHandleFindCandidates_OrgScoping(t *testing.T) {
	owner := seedOrg(t)
	other := seedOrg(t)

	owner.seedCaregiver(t, "Hidden", []string{"personal_care"}, []string{"HHA"}, 0.0)
	shift := owner.seedShift(t)

	// A coordinator from another org cannot see the shift at all.
	result, err := testServer.handleFindCandidates(other.coordCtx(), toolRequest("musubi_find_candidates", map[string]any{
		"shift_id": shift.ID.String(),
	}))
	require.NoError(t, err)
	require.True(t, result.IsError)
	assert.Contains(t, parseToolText(t, result), "shift lookup failed")
}

func TestHandleFindCandidates_LimitClamped(t *testing.T) {
	f := seedOrg(t)
	ctx := f.coordCtx()

	for i := 0; i < 3; i++ {
		f.seedCaregiver(t, fmt.Sprintf("CG%d", i), []string{"personal_care"}, []string{"HHA"}, float64(i)*0.1)
	}
	shift := f.seedShift(t)

	result, err := testServer.handleFindCandidates(ctx, toolRequest("musubi_find_candidates", map[string]any{
		"shift_id": shift.ID.String(),
		"limit":    1,
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	var resp candidatesResponse
	require.NoError(t, json.Unmarshal([]byte(parseToolText(t, result)), &resp))
	assert.Len(t, resp.Candidates, 1, "limit should cap the candidate list")
}

// ---------- handleGetShift tests ----------

func TestHandleGetShift(t *testing.T) {
	f := seedOrg(t)
	shift := f.seedShift(t)

	result, err := testServer.handleGetShift(f.coordCtx(), toolRequest("musubi_get_shift", map[string]any{
		"shift_id": shift.ID.String(),
	}))
	require.NoError(t, err)
	require.False(t, result.IsError, "expected success: %s", parseToolText(t, result))

	var resp shiftResponse
	require.NoError(t, json.Unmarshal([]byte(parseToolText(t, result)), &resp))
	assert.Equal(t, shift.ID.String(), resp.Shift["id"])
	assert.Equal(t, string(model.ShiftStatusNew), resp.Shift["status"])
	assert.Equal(t, "09:00", resp.Shift["start_time"])
	assert.Empty(t, resp.LiveProposals)

	// Audit bookkeeping stays out of the compact view.
	_, hasVersion := resp.Shift["version"]
	assert.False(t, hasVersion)
}

func TestHandleGetShift_IncludesLiveProposals(t *testing.T) {
	f := seedOrg(t)
	cg := f.seedCaregiver(t, "Proposed", []string{"personal_care"}, []string{"HHA"}, 0.0)
	shift := f.seedShift(t)
	p := f.seedProposal(t, shift, cg)

	result, err := testServer.handleGetShift(f.coordCtx(), toolRequest("musubi_get_shift", map[string]any{
		"shift_id": shift.ID.String(),
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	var resp shiftResponse
	require.NoError(t, json.Unmarshal([]byte(parseToolText(t, result)), &resp))
	require.Len(t, resp.LiveProposals, 1)
	assert.Equal(t, p.ID.String(), resp.LiveProposals[0]["id"])
	assert.Equal(t, cg.String(), resp.LiveProposals[0]["caregiver_id"])
	assert.Equal(t, string(model.ProposalStatusPending), resp.LiveProposals[0]["status"])
}

func TestHandleGetShift_InvalidID(t *testing.T) {
	f := seedOrg(t)

	result, err := testServer.handleGetShift(f.coordCtx(), toolRequest("musubi_get_shift", map[string]any{
		"shift_id": "garbage",
	}))
	require.NoError(t, err)
	require.True(t, result.IsError)
	assert.Contains(t, parseToolText(t, result), "shift_id must be a valid UUID")
}

// ---------- handleListProposals tests ----------

func TestHandleListProposals_FilterByShift(t *testing.T) {
	f := seedOrg(t)
	cg := f.seedCaregiver(t, "Busy", []string{"personal_care"}, []string{"HHA"}, 0.0)
	shiftA := f.seedShift(t)
	shiftB := f.seedShift(t)
	pA := f.seedProposal(t, shiftA, cg)
	f.seedProposal(t, shiftB, cg)

	result, err := testServer.handleListProposals(f.coordCtx(), toolRequest("musubi_list_proposals", map[string]any{
		"shift_id": shiftA.ID.String(),
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	var resp proposalsResponse
	require.NoError(t, json.Unmarshal([]byte(parseToolText(t, result)), &resp))
	assert.Equal(t, 1, resp.Total)
	require.Len(t, resp.Proposals, 1)
	assert.Equal(t, pA.ID.String(), resp.Proposals[0]["id"])
}

func TestHandleListProposals_FilterByStatus(t *testing.T) {
	f := seedOrg(t)
	cg := f.seedCaregiver(t, "Responder", []string{"personal_care"}, []string{"HHA"}, 0.0)
	shift := f.seedShift(t)
	p := f.seedProposal(t, shift, cg)

	_, err := testDB.MarkProposalSent(context.Background(), p.ID, nil, time.Now().UTC())
	require.NoError(t, err)

	// Status matching is case-insensitive.
	result, err := testServer.handleListProposals(f.coordCtx(), toolRequest("musubi_list_proposals", map[string]any{
		"status": "sent",
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	var resp proposalsResponse
	require.NoError(t, json.Unmarshal([]byte(parseToolText(t, result)), &resp))
	assert.Equal(t, 1, resp.Total)

	// No proposal has been accepted in this org.
	result, err = testServer.handleListProposals(f.coordCtx(), toolRequest("musubi_list_proposals", map[string]any{
		"status": "ACCEPTED",
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	resp = proposalsResponse{}
	require.NoError(t, json.Unmarshal([]byte(parseToolText(t, result)), &resp))
	assert.Equal(t, 0, resp.Total)
}

func TestHandleListProposals_FilterByCaregiver(t *testing.T) {
	f := seedOrg(t)
	cgA := f.seedCaregiver(t, "First", []string{"personal_care"}, []string{"HHA"}, 0.0)
	cgB := f.seedCaregiver(t, "Second", []string{"personal_care"}, []string{"HHA"}, 0.0)
	shiftA := f.seedShift(t)
	shiftB := f.seedShift(t)
	f.seedProposal(t, shiftA, cgA)
	pB := f.seedProposal(t, shiftB, cgB)

	result, err := testServer.handleListProposals(f.coordCtx(), toolRequest("musubi_list_proposals", map[string]any{
		"caregiver_id": cgB.String(),
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	var resp proposalsResponse
	require.NoError(t, json.Unmarshal([]byte(parseToolText(t, result)), &resp))
	assert.Equal(t, 1, resp.Total)
	require.Len(t, resp.Proposals, 1)
	assert.Equal(t, pB.ID.String(), resp.Proposals[0]["id"])
}

func TestHandleListProposals_InvalidIDs(t *testing.T) {
	f := seedOrg(t)

	result, err := testServer.handleListProposals(f.coordCtx(), toolRequest("musubi_list_proposals", map[string]any{
		"shift_id": "nope",
	}))
	require.NoError(t, err)
	require.True(t, result.IsError)
	assert.Contains(t, parseToolText(t, result), "shift_id must be a valid UUID")

	result, err = testServer.handleListProposals(f.coordCtx(), toolRequest("musubi_list_proposals", map[string]any{
		"caregiver_id": "also nope",
	}))
	require.NoError(t, err)
	require.True(t, result.IsError)
	assert.Contains(t, parseToolText(t, result), "caregiver_id must be a valid UUID")
}

func TestClampLimit(t *testing.T) {
	assert.Equal(t, 1, clampLimit(0, 50))
	assert.Equal(t, 1, clampLimit(-3, 50))
	assert.Equal(t, 10, clampLimit(10, 50))
	assert.Equal(t, 50, clampLimit(200, 50))
}

// ---------- Resource handler tests ----------

func TestHandleOpenShiftsResource(t *testing.T) {
	f := seedOrg(t)
	shift := f.seedShift(t)

	contents, err := testServer.handleOpenShifts(f.coordCtx(), mcplib.ReadResourceRequest{
		Params: mcplib.ReadResourceParams{
			URI: "musubi://shifts/open",
		},
	})
	require.NoError(t, err)
	require.Len(t, contents, 1)

	trc, ok := contents[0].(mcplib.TextResourceContents)
	require.True(t, ok, "expected TextResourceContents")
	assert.Equal(t, "musubi://shifts/open", trc.URI)
	assert.Equal(t, "application/json", trc.MIMEType)

	var resp struct {
		Shifts []map[string]any `json:"shifts"`
		Total  int              `json:"total"`
	}
	require.NoError(t, json.Unmarshal([]byte(trc.Text), &resp))
	require.Equal(t, 1, resp.Total, "only this org's shift should be visible")
	assert.Equal(t, shift.ID.String(), resp.Shifts[0]["id"])
}

func TestHandlePendingProposalsResource(t *testing.T) {
	f := seedOrg(t)
	cg := f.seedCaregiver(t, "Pending", []string{"personal_care"}, []string{"HHA"}, 0.0)
	shift := f.seedShift(t)
	p := f.seedProposal(t, shift, cg)

	// PENDING proposals have not reached the caregiver; only SENT and
	// VIEWED count as awaiting a response.
	contents, err := testServer.handlePendingProposals(f.coordCtx(), mcplib.ReadResourceRequest{
		Params: mcplib.ReadResourceParams{
			URI: "musubi://proposals/pending",
		},
	})
	require.NoError(t, err)
	require.Len(t, contents, 1)

	trc := contents[0].(mcplib.TextResourceContents)
	var resp struct {
		Proposals []map[string]any `json:"proposals"`
		Total     int              `json:"total"`
	}
	require.NoError(t, json.Unmarshal([]byte(trc.Text), &resp))
	assert.Equal(t, 0, resp.Total)

	_, err = testDB.MarkProposalSent(context.Background(), p.ID, nil, time.Now().UTC())
	require.NoError(t, err)

	contents, err = testServer.handlePendingProposals(f.coordCtx(), mcplib.ReadResourceRequest{
		Params: mcplib.ReadResourceParams{
			URI: "musubi://proposals/pending",
		},
	})
	require.NoError(t, err)
	trc = contents[0].(mcplib.TextResourceContents)
	resp.Proposals = nil
	require.NoError(t, json.Unmarshal([]byte(trc.Text), &resp))
	require.Equal(t, 1, resp.Total)
	assert.Equal(t, p.ID.String(), resp.Proposals[0]["id"])
}

func TestHandleShiftProposalsResource(t *testing.T) {
	f := seedOrg(t)
	cg := f.seedCaregiver(t, "Historied", []string{"personal_care"}, []string{"HHA"}, 0.0)
	shift := f.seedShift(t)
	p := f.seedProposal(t, shift, cg)

	uri := "musubi://shift/" + shift.ID.String() + "/proposals"
	contents, err := testServer.handleShiftProposals(f.coordCtx(), mcplib.ReadResourceRequest{
		Params: mcplib.ReadResourceParams{
			URI: uri,
		},
	})
	require.NoError(t, err)
	require.Len(t, contents, 1)

	trc, ok := contents[0].(mcplib.TextResourceContents)
	require.True(t, ok)
	assert.Equal(t, uri, trc.URI)

	var resp struct {
		ShiftID   uuid.UUID        `json:"shift_id"`
		Proposals []map[string]any `json:"proposals"`
		Total     int              `json:"total"`
	}
	require.NoError(t, json.Unmarshal([]byte(trc.Text), &resp))
	assert.Equal(t, shift.ID, resp.ShiftID)
	require.Equal(t, 1, resp.Total)
	assert.Equal(t, p.ID.String(), resp.Proposals[0]["id"])
}

func TestHandleShiftProposalsResource_BadURI(t *testing.T) {
	f := seedOrg(t)

	_, err := testServer.handleShiftProposals(f.coordCtx(), mcplib.ReadResourceRequest{
		Params: mcplib.ReadResourceParams{
			URI: "musubi://shift/not-a-uuid/proposals",
		},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid shift id")
}

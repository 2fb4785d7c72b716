package matching_test

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"os"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/musubi/internal/model"
	"github.com/ashita-ai/musubi/internal/service/matching"
	"github.com/ashita-ai/musubi/internal/storage"
)

// testDistance reads miles straight off the latitude delta so fixtures can
// place caregivers at exact distances without haversine arithmetic.
func testDistance(lat1, _, lat2, _ float64) float64 {
	return math.Abs(lat1-lat2) * 100
}

type fixture struct {
	store    *fakeStore
	recorder *fakeRecorder
	notifier *fakeNotifier
	clk      *clock.Mock
	svc      *matching.Service

	orgID    uuid.UUID
	branchID uuid.UUID
	clientID uuid.UUID
}

func newFixture(t *testing.T, opts ...matching.Options) *fixture {
	t.Helper()
	clk := clock.NewMock()
	// A Monday morning; shift fixtures land midweek.
	clk.Set(time.Date(2025, 6, 2, 8, 0, 0, 0, time.UTC))

	o := matching.Options{Distance: testDistance}
	if len(opts) > 0 {
		o = opts[0]
		if o.Distance == nil {
			o.Distance = testDistance
		}
	}

	f := &fixture{
		store:    newFakeStore(),
		recorder: &fakeRecorder{},
		notifier: &fakeNotifier{},
		clk:      clk,
		orgID:    uuid.New(),
		branchID: uuid.New(),
		clientID: uuid.New(),
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	f.svc = matching.New(f.store, f.recorder, f.notifier, clk, logger, o)
	return f
}

// addConfig installs an active org-wide default with balanced weights and
// the stock thresholds.
func (f *fixture) addConfig(mutate ...func(*model.MatchingConfiguration)) model.MatchingConfiguration {
	cfg := model.MatchingConfiguration{
		ID:                          uuid.New(),
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
		Version:                     1,
	}
	for _, m := range mutate {
		m(&cfg)
	}
	f.store.configs[cfg.ID] = cfg
	return cfg
}

// addShift creates a Wednesday 09:00-13:00 personal-care shift plus its
// backing visit.
func (f *fixture) addShift(mutate ...func(*model.OpenShift)) model.OpenShift {
	lat, lon := 0.0, 0.0
	s := model.OpenShift{
		ID:                     uuid.New(),
		VisitID:                uuid.New(),
		OrganizationID:         f.orgID,
		BranchID:               f.branchID,
		ClientID:               f.clientID,
		ScheduledDate:          time.Date(2025, 6, 4, 0, 0, 0, 0, time.UTC),
		StartTime:              "09:00",
		EndTime:                "13:00",
		DurationMinutes:        240,
		Timezone:               "UTC",
		RequiredSkills:         []string{"personal_care"},
		RequiredCertifications: []string{"HHA"},
		Latitude:               &lat,
		Longitude:              &lon,
		MatchingStatus:         model.ShiftStatusNew,
	}
	for _, m := range mutate {
		m(&s)
	}
	f.store.shifts[s.ID] = s
	f.store.visits[s.VisitID] = model.Visit{
		ID:             s.VisitID,
		OrganizationID: f.orgID,
		BranchID:       f.branchID,
		ClientID:       f.clientID,
		ScheduledDate:  s.ScheduledDate,
		StartTime:      s.StartTime,
		EndTime:        s.EndTime,
		Status:         model.VisitStatusUnassigned,
	}
	return s
}

// addCaregiver creates a compliant caregiver at the given latitude with an
// active HHA certification and the personal_care skill.
func (f *fixture) addCaregiver(firstName string, lat float64, mutate ...func(*model.Caregiver)) model.Caregiver {
	lon := 0.0
	c := model.Caregiver{
		ID:               uuid.New(),
		OrganizationID:   f.orgID,
		BranchID:         f.branchID,
		FirstName:        firstName,
		LastName:         "Tester",
		EmploymentType:   model.EmploymentFullTime,
		Active:           true,
		Languages:        []string{"en"},
		Skills:           []string{"personal_care"},
		ComplianceStatus: model.ComplianceCompliant,
		MaxHoursPerWeek:  40,
		Latitude:         &lat,
		Longitude:        &lon,
		ReliabilityScore: 80,
	}
	for _, m := range mutate {
		m(&c)
	}
	f.store.caregivers[c.ID] = c
	f.store.certs[c.ID] = []model.Certification{{Type: "HHA", Status: model.CertificationActive}}
	return c
}

// strongAndFairPair seeds the canonical two-candidate roster: c1 close with
// client history and high reliability (scores 88), c2 farther and unproven
// (scores 79).
func (f *fixture) strongAndFairPair() (model.Caregiver, model.Caregiver) {
	c1 := f.addCaregiver("Aiko", 0.05, func(c *model.Caregiver) { c.ReliabilityScore = 95 })
	f.store.weekHours[c1.ID] = 10
	f.store.clientHistory[c1.ID] = storage.ClientHistory{Visits: 3}
	c2 := f.addCaregiver("Ben", 0.30)
	return c1, c2
}

func TestMatchCreatesRankedProposals(t *testing.T) {
	f := newFixture(t)
	f.addConfig()
	shift := f.addShift()
	c1, c2 := f.strongAndFairPair()

	result, err := f.svc.Match(context.Background(), f.orgID, nil, shift.ID,
		model.MatchShiftRequest{AutoPropose: true})
	require.NoError(t, err)

	require.Len(t, result.CreatedProposals, 2)
	assert.Equal(t, c1.ID, result.CreatedProposals[0].CaregiverID, "stronger candidate first")
	assert.Equal(t, c2.ID, result.CreatedProposals[1].CaregiverID)
	assert.Equal(t, 88, result.CreatedProposals[0].MatchScore)
	assert.Equal(t, 79, result.CreatedProposals[1].MatchScore)
	assert.Equal(t, model.QualityExcellent, result.CreatedProposals[0].MatchQuality)

	// Inline delivery succeeded, so both proposals advanced to SENT.
	for _, p := range result.CreatedProposals {
		got := f.store.proposalByID(p.ID)
		assert.Equal(t, model.ProposalStatusSent, got.ProposalStatus)
		assert.True(t, got.SentToCaregiver)
		require.NotNil(t, got.NotificationMethod)
		assert.Equal(t, "SMS", *got.NotificationMethod)
	}

	assert.Equal(t, model.ShiftStatusProposed, f.store.shiftStatus(shift.ID))
	assert.Equal(t, 2, result.EligibleCount)
	assert.Equal(t, 0, result.IneligibleCount)

	rows := f.recorder.byOutcome(model.OutcomeProposed)
	require.Len(t, rows, 1)
	assert.Equal(t, 1, rows[0].AttemptNumber)
	require.NotNil(t, rows[0].MatchScore)
	assert.Equal(t, 88, *rows[0].MatchScore)
	require.NotNil(t, rows[0].ConfigurationID)
}

func TestMatchExcludesBlockedCaregivers(t *testing.T) {
	f := newFixture(t)
	f.addConfig()
	c1, c2 := f.strongAndFairPair()
	shift := f.addShift(func(s *model.OpenShift) {
		s.BlockedCaregivers = []uuid.UUID{c1.ID}
	})

	result, err := f.svc.Match(context.Background(), f.orgID, nil, shift.ID,
		model.MatchShiftRequest{AutoPropose: true})
	require.NoError(t, err)

	// The blocked caregiver never reaches scoring: the roster query excludes
	// them, so they appear in neither candidates nor proposals.
	require.Len(t, result.Candidates, 1)
	assert.Equal(t, c2.ID, result.Candidates[0].CaregiverID)
	require.Len(t, result.CreatedProposals, 1)
	assert.Equal(t, c2.ID, result.CreatedProposals[0].CaregiverID)
}

func TestMatchNoEligibleCandidates(t *testing.T) {
	f := newFixture(t)
	f.addConfig()
	shift := f.addShift()
	f.addCaregiver("Chika", 0.05, func(c *model.Caregiver) {
		c.ComplianceStatus = model.ComplianceExpired
	})

	result, err := f.svc.Match(context.Background(), f.orgID, nil, shift.ID,
		model.MatchShiftRequest{AutoPropose: true})
	require.NoError(t, err)

	assert.Empty(t, result.CreatedProposals)
	assert.Equal(t, 0, result.EligibleCount)
	assert.Equal(t, 1, result.IneligibleCount)
	assert.Equal(t, model.ShiftStatusNoMatch, f.store.shiftStatus(shift.ID))

	rows := f.recorder.byOutcome(model.OutcomeNoCandidates)
	require.Len(t, rows, 1)
	require.NotNil(t, rows[0].Notes)
	assert.Contains(t, *rows[0].Notes, "0 eligible of 1")
}

func TestMatchWithoutAutoPropose(t *testing.T) {
	f := newFixture(t)
	f.addConfig()
	shift := f.addShift()
	f.strongAndFairPair()

	result, err := f.svc.Match(context.Background(), f.orgID, nil, shift.ID,
		model.MatchShiftRequest{AutoPropose: false})
	require.NoError(t, err)

	assert.Empty(t, result.CreatedProposals)
	assert.Len(t, result.Candidates, 2)
	assert.Equal(t, model.ShiftStatusMatched, f.store.shiftStatus(shift.ID))
	assert.Empty(t, f.store.proposalsForShift(shift.ID))
}

func TestMatchMaxCandidatesCapsProposals(t *testing.T) {
	f := newFixture(t)
	f.addConfig()
	shift := f.addShift()
	c1, _ := f.strongAndFairPair()

	one := 1
	result, err := f.svc.Match(context.Background(), f.orgID, nil, shift.ID,
		model.MatchShiftRequest{AutoPropose: true, MaxCandidates: &one})
	require.NoError(t, err)

	require.Len(t, result.CreatedProposals, 1)
	assert.Equal(t, c1.ID, result.CreatedProposals[0].CaregiverID)
	// Ranked candidates are still reported in full.
	assert.Len(t, result.Candidates, 2)
	assert.Equal(t, 2, result.EligibleCount)
}

func TestMatchRejectsInvalidMaxCandidates(t *testing.T) {
	f := newFixture(t)
	f.addConfig()
	shift := f.addShift()

	zero := 0
	_, err := f.svc.Match(context.Background(), f.orgID, nil, shift.ID,
		model.MatchShiftRequest{MaxCandidates: &zero})
	var verr *model.ValidationError
	require.ErrorAs(t, err, &verr)
	// The request failed validation before the claim, so the shift is untouched.
	assert.Equal(t, model.ShiftStatusNew, f.store.shiftStatus(shift.ID))
}

func TestMatchWithoutConfigurationFails(t *testing.T) {
	f := newFixture(t)
	shift := f.addShift()
	f.strongAndFairPair()

	_, err := f.svc.Match(context.Background(), f.orgID, nil, shift.ID,
		model.MatchShiftRequest{AutoPropose: true})
	var verr *model.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Message, "no active matching configuration")
	// Configuration resolution failed mid-attempt; the shift lands in NO_MATCH.
	assert.Equal(t, model.ShiftStatusNoMatch, f.store.shiftStatus(shift.ID))
}

func TestMatchConcurrentClaimRefused(t *testing.T) {
	f := newFixture(t)
	f.addConfig()
	shift := f.addShift(func(s *model.OpenShift) {
		s.MatchingStatus = model.ShiftStatusMatching
	})

	_, err := f.svc.Match(context.Background(), f.orgID, nil, shift.ID, model.MatchShiftRequest{})
	var cerr *model.ConcurrencyError
	require.ErrorAs(t, err, &cerr)
}

func TestMatchOnAssignedShiftRefused(t *testing.T) {
	f := newFixture(t)
	f.addConfig()
	shift := f.addShift(func(s *model.OpenShift) {
		s.MatchingStatus = model.ShiftStatusAssigned
	})

	_, err := f.svc.Match(context.Background(), f.orgID, nil, shift.ID, model.MatchShiftRequest{})
	var serr *model.StateError
	require.ErrorAs(t, err, &serr)
}

func TestMatchCancellationRevertsClaim(t *testing.T) {
	f := newFixture(t)
	f.addConfig()
	shift := f.addShift()
	f.strongAndFairPair()

	ctx, cancel := context.WithCancel(context.Background())
	f.store.onListRoster = func(context.Context) { cancel() }

	_, err := f.svc.Match(ctx, f.orgID, nil, shift.ID, model.MatchShiftRequest{AutoPropose: true})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)

	// The claim was rolled back to the pre-claim status; the attempt counter
	// keeps the consumed attempt.
	assert.Equal(t, model.ShiftStatusNew, f.store.shiftStatus(shift.ID))
	f.store.mu.Lock()
	attempts := f.store.shifts[shift.ID].MatchAttempts
	f.store.mu.Unlock()
	assert.Equal(t, 1, attempts)
}

func TestMatchBudgetOverrunLandsNoMatch(t *testing.T) {
	f := newFixture(t, matching.Options{ShiftBudget: 20 * time.Millisecond, Distance: testDistance})
	f.addConfig()
	shift := f.addShift()
	f.strongAndFairPair()

	// Stall the roster query until the per-shift budget expires.
	f.store.onListRoster = func(ctx context.Context) { <-ctx.Done() }

	_, err := f.svc.Match(context.Background(), f.orgID, nil, shift.ID,
		model.MatchShiftRequest{AutoPropose: true})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, model.ShiftStatusNoMatch, f.store.shiftStatus(shift.ID))

	rows := f.recorder.byOutcome(model.OutcomeNoCandidates)
	require.Len(t, rows, 1)
	require.NotNil(t, rows[0].Notes)
	assert.Contains(t, *rows[0].Notes, "budget")
}

func TestMatchIsDeterministic(t *testing.T) {
	f := newFixture(t)
	f.addConfig()
	shift := f.addShift()
	f.strongAndFairPair()
	// Two identical candidates force the caregiver-ID tiebreak.
	twinA := f.addCaregiver("Dai", 0.30)
	twinB := f.addCaregiver("Emi", 0.30)

	first, err := f.svc.Match(context.Background(), f.orgID, nil, shift.ID,
		model.MatchShiftRequest{AutoPropose: false})
	require.NoError(t, err)
	second, err := f.svc.Match(context.Background(), f.orgID, nil, shift.ID,
		model.MatchShiftRequest{AutoPropose: false})
	require.NoError(t, err)

	require.Len(t, first.Candidates, 4)
	require.Len(t, second.Candidates, 4)
	for i := range first.Candidates {
		assert.Equal(t, first.Candidates[i].CaregiverID, second.Candidates[i].CaregiverID,
			"candidate order must not change between identical runs")
		assert.Equal(t, first.Candidates[i].OverallScore, second.Candidates[i].OverallScore)
	}

	// Equal-scored twins order by caregiver ID.
	var twins []uuid.UUID
	for _, c := range first.Candidates {
		if c.CaregiverID == twinA.ID || c.CaregiverID == twinB.ID {
			twins = append(twins, c.CaregiverID)
		}
	}
	require.Len(t, twins, 2)
	assert.Less(t, twins[0].String(), twins[1].String())
}

func TestMatchNotifierFailureKeepsProposalsPending(t *testing.T) {
	f := newFixture(t)
	f.addConfig()
	shift := f.addShift()
	f.strongAndFairPair()
	f.notifier.failWith = errors.New("sms gateway down")

	result, err := f.svc.Match(context.Background(), f.orgID, nil, shift.ID,
		model.MatchShiftRequest{AutoPropose: true})
	require.NoError(t, err, "delivery failure must not fail the match")

	require.Len(t, result.CreatedProposals, 2)
	for _, p := range result.CreatedProposals {
		got := f.store.proposalByID(p.ID)
		assert.Equal(t, model.ProposalStatusPending, got.ProposalStatus)
		assert.False(t, got.SentToCaregiver)
	}
	// The shift still advanced: the proposals exist even if undelivered.
	assert.Equal(t, model.ShiftStatusProposed, f.store.shiftStatus(shift.ID))
}

func TestAcceptSupersedesSiblings(t *testing.T) {
	f := newFixture(t)
	f.addConfig()
	shift := f.addShift()
	c1, c2 := f.strongAndFairPair()

	result, err := f.svc.Match(context.Background(), f.orgID, nil, shift.ID,
		model.MatchShiftRequest{AutoPropose: true})
	require.NoError(t, err)
	require.Len(t, result.CreatedProposals, 2)

	var c2Proposal, c1Proposal model.AssignmentProposal
	for _, p := range result.CreatedProposals {
		switch p.CaregiverID {
		case c1.ID:
			c1Proposal = p
		case c2.ID:
			c2Proposal = p
		}
	}

	f.clk.Add(30 * time.Minute)
	accepted, err := f.svc.Respond(context.Background(), f.orgID, c2Proposal.ID, c2.ID,
		model.RespondProposalRequest{Accept: true, ResponseMethod: "MOBILE_APP"})
	require.NoError(t, err)

	assert.Equal(t, model.ProposalStatusAccepted, accepted.ProposalStatus)
	require.NotNil(t, accepted.AcceptedBy)
	assert.Equal(t, c2.ID, *accepted.AcceptedBy)

	assert.Equal(t, model.ProposalStatusSuperseded, f.store.proposalByID(c1Proposal.ID).ProposalStatus)
	assert.Equal(t, model.ShiftStatusAssigned, f.store.shiftStatus(shift.ID))

	f.store.mu.Lock()
	visit := f.store.visits[shift.VisitID]
	f.store.mu.Unlock()
	require.NotNil(t, visit.AssignedCaregiverID)
	assert.Equal(t, c2.ID, *visit.AssignedCaregiverID)
	assert.Equal(t, model.VisitStatusScheduled, visit.Status)

	rows := f.recorder.byOutcome(model.OutcomeAccepted)
	require.Len(t, rows, 1, "exactly one ACCEPTED history row")
	assert.True(t, rows[0].AssignedSuccessfully)
	require.NotNil(t, rows[0].ResponseTimeMinutes)
	assert.Equal(t, 30, *rows[0].ResponseTimeMinutes)
}

func TestRejectLastLiveProposalRevertsShift(t *testing.T) {
	f := newFixture(t)
	f.addConfig()
	shift := f.addShift()
	c1, c2 := f.strongAndFairPair()

	result, err := f.svc.Match(context.Background(), f.orgID, nil, shift.ID,
		model.MatchShiftRequest{AutoPropose: true})
	require.NoError(t, err)
	require.Len(t, result.CreatedProposals, 2)

	var c1Proposal, c2Proposal model.AssignmentProposal
	for _, p := range result.CreatedProposals {
		switch p.CaregiverID {
		case c1.ID:
			c1Proposal = p
		case c2.ID:
			c2Proposal = p
		}
	}

	tooFar := model.RejectionTooFar
	rejected, err := f.svc.Respond(context.Background(), f.orgID, c2Proposal.ID, c2.ID,
		model.RespondProposalRequest{Accept: false, ResponseMethod: "SMS", RejectionCategory: &tooFar})
	require.NoError(t, err)
	assert.Equal(t, model.ProposalStatusRejected, rejected.ProposalStatus)
	require.NotNil(t, rejected.RejectionCategory)
	assert.Equal(t, model.RejectionTooFar, *rejected.RejectionCategory)

	// One live proposal remains, so the shift stays PROPOSED.
	assert.Equal(t, model.ShiftStatusProposed, f.store.shiftStatus(shift.ID))

	reason := "schedule changed"
	_, err = f.svc.Respond(context.Background(), f.orgID, c1Proposal.ID, c1.ID,
		model.RespondProposalRequest{Accept: false, ResponseMethod: "SMS", RejectionReason: &reason})
	require.NoError(t, err)

	// The last live proposal is gone; the shift reverts for re-matching.
	assert.Equal(t, model.ShiftStatusMatched, f.store.shiftStatus(shift.ID))

	rows := f.recorder.byOutcome(model.OutcomeRejected)
	require.Len(t, rows, 2)
}

func TestRespondValidatesRequest(t *testing.T) {
	f := newFixture(t)
	f.addConfig()

	var verr *model.ValidationError

	// Missing response method.
	_, err := f.svc.Respond(context.Background(), f.orgID, uuid.New(), uuid.New(),
		model.RespondProposalRequest{Accept: true})
	require.ErrorAs(t, err, &verr)

	// Rejection without reason or category.
	_, err = f.svc.Respond(context.Background(), f.orgID, uuid.New(), uuid.New(),
		model.RespondProposalRequest{Accept: false, ResponseMethod: "SMS"})
	require.ErrorAs(t, err, &verr)
}

func TestRespondToTerminalProposalRefused(t *testing.T) {
	f := newFixture(t)
	f.addConfig()
	shift := f.addShift()
	c1, _ := f.strongAndFairPair()

	result, err := f.svc.Match(context.Background(), f.orgID, nil, shift.ID,
		model.MatchShiftRequest{AutoPropose: true})
	require.NoError(t, err)

	var c1Proposal model.AssignmentProposal
	for _, p := range result.CreatedProposals {
		if p.CaregiverID == c1.ID {
			c1Proposal = p
		}
	}

	_, err = f.svc.Respond(context.Background(), f.orgID, c1Proposal.ID, c1.ID,
		model.RespondProposalRequest{Accept: true, ResponseMethod: "SMS"})
	require.NoError(t, err)

	// A second response hits a terminal proposal.
	reason := "changed my mind"
	_, err = f.svc.Respond(context.Background(), f.orgID, c1Proposal.ID, c1.ID,
		model.RespondProposalRequest{Accept: false, ResponseMethod: "SMS", RejectionReason: &reason})
	var serr *model.StateError
	require.ErrorAs(t, err, &serr)
}

func TestProposeManualBypassesGates(t *testing.T) {
	f := newFixture(t)
	f.addConfig()
	blocked := f.addCaregiver("Fumi", 0.05)
	shift := f.addShift(func(s *model.OpenShift) {
		s.BlockedCaregivers = []uuid.UUID{blocked.ID}
	})

	p, err := f.svc.ProposeManual(context.Background(), f.orgID, nil, shift.ID,
		model.CreateManualProposalRequest{CaregiverID: blocked.ID})
	require.NoError(t, err, "manual proposals skip eligibility gates")

	assert.Equal(t, model.ProposalMethodManual, p.ProposalMethod)
	assert.Equal(t, model.ProposalStatusPending, p.ProposalStatus)
	assert.Equal(t, 100, p.MatchScore)
	require.Len(t, p.MatchReasons, 1)
	assert.Equal(t, model.ReasonSystemOptimized, p.MatchReasons[0].Category)
	// The shift was never claimed for matching.
	assert.Equal(t, model.ShiftStatusNew, f.store.shiftStatus(shift.ID))
}

func TestProposeManualScoresWhenConfigured(t *testing.T) {
	f := newFixture(t)
	f.addConfig(func(cfg *model.MatchingConfiguration) {
		cfg.ScoreManualProposals = true
	})
	shift := f.addShift()
	_, c2 := f.strongAndFairPair()

	p, err := f.svc.ProposeManual(context.Background(), f.orgID, nil, shift.ID,
		model.CreateManualProposalRequest{CaregiverID: c2.ID})
	require.NoError(t, err)
	assert.Equal(t, 79, p.MatchScore, "scoring toggle snapshots the real rubric verdict")
	assert.Equal(t, model.QualityGood, p.MatchQuality)
}

func TestProposeManualOnAssignedShiftRefused(t *testing.T) {
	f := newFixture(t)
	f.addConfig()
	c := f.addCaregiver("Goro", 0.05)
	shift := f.addShift(func(s *model.OpenShift) {
		s.MatchingStatus = model.ShiftStatusAssigned
	})

	_, err := f.svc.ProposeManual(context.Background(), f.orgID, nil, shift.ID,
		model.CreateManualProposalRequest{CaregiverID: c.ID})
	var cerr *model.ConflictError
	require.ErrorAs(t, err, &cerr)
}

func TestDuplicateLiveProposalRefused(t *testing.T) {
	f := newFixture(t)
	f.addConfig()
	c := f.addCaregiver("Hana", 0.05)
	shift := f.addShift()

	_, err := f.svc.ProposeManual(context.Background(), f.orgID, nil, shift.ID,
		model.CreateManualProposalRequest{CaregiverID: c.ID})
	require.NoError(t, err)

	_, err = f.svc.ProposeManual(context.Background(), f.orgID, nil, shift.ID,
		model.CreateManualProposalRequest{CaregiverID: c.ID})
	var cerr *model.ConflictError
	require.ErrorAs(t, err, &cerr, "one live proposal per (shift, caregiver)")
}

type fixedVariant struct{ score int }

func (v fixedVariant) ScoreCandidate(context.Context, *model.OpenShift, *model.MatchCandidate) (int, error) {
	return v.score, nil
}

func TestMatchBlendsVariantScore(t *testing.T) {
	f := newFixture(t, matching.Options{Distance: testDistance, Variant: fixedVariant{score: 50}})
	f.addConfig(func(cfg *model.MatchingConfiguration) {
		cfg.MLWeight = 0.5
	})
	shift := f.addShift()
	f.strongAndFairPair()

	result, err := f.svc.Match(context.Background(), f.orgID, nil, shift.ID,
		model.MatchShiftRequest{AutoPropose: false})
	require.NoError(t, err)

	require.Len(t, result.Candidates, 2)
	// Rubric scores 88 and 79 blended half-and-half with the variant's 50.
	assert.Equal(t, 69, result.Candidates[0].OverallScore)
	assert.Equal(t, 65, result.Candidates[1].OverallScore)
	assert.Equal(t, model.QualityFair, result.Candidates[0].MatchQuality)
}

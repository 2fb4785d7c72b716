package matching_test

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/musubi/internal/model"
)

func TestAvailableShiftsScoredAndOrdered(t *testing.T) {
	f := newFixture(t)
	f.addConfig()
	c1, _ := f.strongAndFairPair()

	near := f.addShift()
	far := f.addShift(func(s *model.OpenShift) {
		farLat := 0.50
		s.Latitude = &farLat
		s.ScheduledDate = near.ScheduledDate.AddDate(0, 0, 1)
	})

	matches, err := f.svc.AvailableShifts(context.Background(), f.orgID, c1.ID)
	require.NoError(t, err)

	require.Len(t, matches, 2)
	assert.Equal(t, near.ID, matches[0].OpenShiftID, "closer shift scores higher")
	assert.Equal(t, far.ID, matches[1].OpenShiftID)
	assert.Equal(t, 88, matches[0].OverallScore)
	assert.Equal(t, 76, matches[1].OverallScore)
}

func TestAvailableShiftsFiltersBlockedAndIneligible(t *testing.T) {
	f := newFixture(t)
	f.addConfig()
	c1, _ := f.strongAndFairPair()

	visible := f.addShift()
	f.addShift(func(s *model.OpenShift) {
		s.BlockedCaregivers = []uuid.UUID{c1.ID}
	})
	f.addShift(func(s *model.OpenShift) {
		s.RequiredCertifications = []string{"RN"}
	})

	matches, err := f.svc.AvailableShifts(context.Background(), f.orgID, c1.ID)
	require.NoError(t, err)

	require.Len(t, matches, 1)
	assert.Equal(t, visible.ID, matches[0].OpenShiftID)
}

func TestAvailableShiftsInactiveCaregiverRefused(t *testing.T) {
	f := newFixture(t)
	f.addConfig()
	c := f.addCaregiver("Ichiro", 0.05, func(c *model.Caregiver) { c.Active = false })
	f.addShift()

	_, err := f.svc.AvailableShifts(context.Background(), f.orgID, c.ID)
	var verr *model.ValidationError
	require.ErrorAs(t, err, &verr)
}

func TestClaimCreatesSelfSelectProposal(t *testing.T) {
	f := newFixture(t)
	f.addConfig()
	shift := f.addShift()
	_, c2 := f.strongAndFairPair()

	p, err := f.svc.Claim(context.Background(), f.orgID, c2.ID, shift.ID)
	require.NoError(t, err)

	assert.Equal(t, model.ProposalMethodSelfSelect, p.ProposalMethod)
	assert.Equal(t, model.ProposalStatusPending, p.ProposalStatus)
	assert.Equal(t, 79, p.MatchScore)
	require.NotNil(t, p.CreatedBy)
	assert.Equal(t, c2.ID, *p.CreatedBy)

	// Below the auto-assign threshold: the claim waits for coordinator
	// confirmation and the shift keeps its status.
	assert.Equal(t, model.ShiftStatusNew, f.store.shiftStatus(shift.ID))

	rows := f.recorder.byOutcome(model.OutcomeProposed)
	require.Len(t, rows, 1)
	require.NotNil(t, rows[0].Notes)
	assert.Contains(t, *rows[0].Notes, "self-select")
}

func TestClaimBelowMinimumScoreRefused(t *testing.T) {
	f := newFixture(t)
	f.addConfig()
	shift := f.addShift(func(s *model.OpenShift) {
		s.RequiredSkills = []string{"wound_care", "medication_management"}
		s.RequiredCertifications = nil
	})
	weak := f.addCaregiver("Jun", 0.45, func(c *model.Caregiver) {
		c.Skills = nil
		c.ReliabilityScore = 20
	})

	_, err := f.svc.Claim(context.Background(), f.orgID, weak.ID, shift.ID)
	var verr *model.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, 43, verr.Details["score"])
	assert.Equal(t, 50, verr.Details["minimum_required"])

	// No proposal was created and the shift is untouched.
	assert.Empty(t, f.store.proposalsForShift(shift.ID))
	assert.Equal(t, model.ShiftStatusNew, f.store.shiftStatus(shift.ID))
}

func TestClaimIneligibleCaregiverRefused(t *testing.T) {
	f := newFixture(t)
	f.addConfig()
	c := f.addCaregiver("Kei", 0.05)
	shift := f.addShift(func(s *model.OpenShift) {
		s.BlockedCaregivers = []uuid.UUID{c.ID}
	})

	_, err := f.svc.Claim(context.Background(), f.orgID, c.ID, shift.ID)
	var verr *model.ValidationError
	require.ErrorAs(t, err, &verr)
	issues, ok := verr.Details["issues"].([]string)
	require.True(t, ok)
	require.NotEmpty(t, issues)
	assert.Contains(t, issues[0], string(model.IssueBlockedByClient))
	assert.Empty(t, f.store.proposalsForShift(shift.ID))
}

func TestClaimAssignedShiftRefused(t *testing.T) {
	f := newFixture(t)
	f.addConfig()
	c := f.addCaregiver("Leo", 0.05)
	shift := f.addShift(func(s *model.OpenShift) {
		s.MatchingStatus = model.ShiftStatusAssigned
	})

	_, err := f.svc.Claim(context.Background(), f.orgID, c.ID, shift.ID)
	var cerr *model.ConflictError
	require.ErrorAs(t, err, &cerr)
}

func TestClaimAutoAcceptsWhenOptedIn(t *testing.T) {
	f := newFixture(t)
	f.addConfig()
	shift := f.addShift()
	c1, _ := f.strongAndFairPair()
	f.store.profiles[c1.ID] = model.CaregiverPreferenceProfile{
		ID:                   uuid.New(),
		CaregiverID:          c1.ID,
		OrganizationID:       f.orgID,
		AcceptAutoAssignment: true,
	}

	p, err := f.svc.Claim(context.Background(), f.orgID, c1.ID, shift.ID)
	require.NoError(t, err)

	// Score 88 clears the auto-assign floor of 85 and the caregiver opted
	// in, so the claim completes the assignment in one step.
	assert.Equal(t, model.ProposalStatusAccepted, p.ProposalStatus)
	require.NotNil(t, p.ResponseMethod)
	assert.Equal(t, "AUTO_ASSIGN", *p.ResponseMethod)
	assert.Equal(t, model.ShiftStatusAssigned, f.store.shiftStatus(shift.ID))

	f.store.mu.Lock()
	visit := f.store.visits[shift.VisitID]
	f.store.mu.Unlock()
	require.NotNil(t, visit.AssignedCaregiverID)
	assert.Equal(t, c1.ID, *visit.AssignedCaregiverID)
}

func TestClaimStaysPendingWithoutOptIn(t *testing.T) {
	f := newFixture(t)
	f.addConfig()
	shift := f.addShift()
	c1, _ := f.strongAndFairPair()

	p, err := f.svc.Claim(context.Background(), f.orgID, c1.ID, shift.ID)
	require.NoError(t, err)

	// Strong score, but no preference profile: coordinator confirms.
	assert.Equal(t, 88, p.MatchScore)
	assert.Equal(t, model.ProposalStatusPending, p.ProposalStatus)
	assert.NotEqual(t, model.ShiftStatusAssigned, f.store.shiftStatus(shift.ID))
}

func TestClaimHonorsConfiguredThreshold(t *testing.T) {
	f := newFixture(t)
	f.addConfig(func(cfg *model.MatchingConfiguration) {
		threshold := 75
		cfg.AutoAssignThreshold = &threshold
	})
	shift := f.addShift()
	_, c2 := f.strongAndFairPair()
	f.store.profiles[c2.ID] = model.CaregiverPreferenceProfile{
		ID:                   uuid.New(),
		CaregiverID:          c2.ID,
		OrganizationID:       f.orgID,
		AcceptAutoAssignment: true,
	}

	p, err := f.svc.Claim(context.Background(), f.orgID, c2.ID, shift.ID)
	require.NoError(t, err)

	// 79 clears the configured floor of 75 even though it misses the
	// default of 85.
	assert.Equal(t, model.ProposalStatusAccepted, p.ProposalStatus)
}

package matching

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/ashita-ai/musubi/internal/match"
	"github.com/ashita-ai/musubi/internal/model"
	"github.com/ashita-ai/musubi/internal/storage"
)

// browseWindowDays bounds how far ahead the self-select browse looks.
const browseWindowDays = 7

// AvailableShifts scores one caregiver against every open shift in their
// branch over the next week and returns the ones they could claim, best
// score first. Shifts where the caregiver is ineligible or under the
// proposal threshold are filtered out, not surfaced with reasons.
func (s *Service) AvailableShifts(ctx context.Context, orgID, caregiverID uuid.UUID) ([]model.MatchCandidate, error) {
	caregiver, err := s.store.GetCaregiver(ctx, orgID, caregiverID)
	if err != nil {
		return nil, err
	}
	if !caregiver.Active {
		return nil, model.NewValidation("caregiver %s is not active", caregiverID)
	}

	now := s.clock.Now().UTC()
	from := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	to := from.AddDate(0, 0, browseWindowDays)

	shifts, err := s.store.BrowseShiftsForCaregiver(ctx, orgID, caregiver.BranchID, caregiverID, from, to)
	if err != nil {
		return nil, err
	}
	if len(shifts) == 0 {
		return []model.MatchCandidate{}, nil
	}

	cfg, err := s.configuration(ctx, orgID, caregiver.BranchID, nil)
	if err != nil {
		return nil, err
	}

	matches := make([]model.MatchCandidate, 0, len(shifts))
	for i := range shifts {
		cand, err := s.scoreOne(ctx, &shifts[i], &caregiver, &cfg, now)
		if err != nil {
			return nil, err
		}
		if !cand.IsEligible || cand.OverallScore < cfg.MinScoreForProposal {
			continue
		}
		matches = append(matches, cand)
	}
	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].OverallScore > matches[j].OverallScore
	})
	return matches, nil
}

// Claim lets a caregiver take an open shift directly. The claim is scored
// with the same rubric as coordinator-driven matching; an ineligible or
// under-threshold caregiver is refused with the reasons. A sufficiently
// strong claim auto-accepts when the caregiver's preference profile opts
// in, otherwise the proposal waits for coordinator confirmation.
func (s *Service) Claim(ctx context.Context, orgID, caregiverID, shiftID uuid.UUID) (model.AssignmentProposal, error) {
	shift, err := s.store.GetShift(ctx, orgID, shiftID)
	if err != nil {
		return model.AssignmentProposal{}, err
	}
	if shift.MatchingStatus == model.ShiftStatusAssigned {
		return model.AssignmentProposal{}, model.NewConflict("shift %s is already assigned", shiftID)
	}
	caregiver, err := s.store.GetCaregiver(ctx, orgID, caregiverID)
	if err != nil {
		return model.AssignmentProposal{}, err
	}
	if !caregiver.Active {
		return model.AssignmentProposal{}, model.NewValidation("caregiver %s is not active", caregiverID)
	}

	cfg, err := s.configuration(ctx, orgID, shift.BranchID, nil)
	if err != nil {
		return model.AssignmentProposal{}, err
	}

	now := s.clock.Now().UTC()
	cand, err := s.scoreOne(ctx, &shift, &caregiver, &cfg, now)
	if err != nil {
		return model.AssignmentProposal{}, err
	}
	if !cand.IsEligible {
		verr := model.NewValidation("caregiver %s is not eligible for shift %s", caregiverID, shiftID)
		issues := make([]string, len(cand.EligibilityIssues))
		for i, issue := range cand.EligibilityIssues {
			issues[i] = fmt.Sprintf("%s: %s", issue.Type, issue.Message)
		}
		return model.AssignmentProposal{}, verr.WithDetail("issues", issues)
	}
	if cand.OverallScore < cfg.MinScoreForProposal {
		return model.AssignmentProposal{}, model.NewValidation(
			"match score %d is below the minimum %d required to claim this shift",
			cand.OverallScore, cfg.MinScoreForProposal).
			WithDetail("score", cand.OverallScore).
			WithDetail("minimum_required", cfg.MinScoreForProposal)
	}

	p := s.proposalFromCandidate(&shift, &cand, model.ProposalMethodSelfSelect, nil, &caregiverID, now)
	created, err := s.store.CreateProposals(ctx, []model.AssignmentProposal{p}, false)
	if err != nil {
		return model.AssignmentProposal{}, err
	}
	proposal := created[0]

	s.advanceToProposed(ctx, &shift)
	s.history.Record(ctx, model.MatchHistory{
		OpenShiftID:    shift.ID,
		VisitID:        shift.VisitID,
		OrganizationID: shift.OrganizationID,
		CaregiverID:    &proposal.CaregiverID,
		ProposalID:     &proposal.ID,
		Outcome:        model.OutcomeProposed,
		MatchScore:     &proposal.MatchScore,
		MatchQuality:   &proposal.MatchQuality,
		AttemptNumber:  shift.MatchAttempts,
		Notes:          strPtr("caregiver self-select claim"),
		CreatedAt:      now,
		CreatedBy:      &caregiverID,
	})
	s.proposalsCreated.Add(ctx, 1, metric.WithAttributes(
		attribute.String("method", string(model.ProposalMethodSelfSelect))))
	s.notifyEvent(ctx, storage.ChannelProposals, "proposals_created", map[string]any{
		"shift_id": shift.ID, "org_id": orgID, "count": 1,
	})

	if accepted, ok := s.tryAutoAccept(ctx, orgID, &cfg, &proposal); ok {
		return accepted, nil
	}
	return proposal, nil
}

// tryAutoAccept immediately accepts a self-select claim when the score
// clears the auto-assign threshold and the caregiver has opted in. Any
// failure leaves the proposal pending for manual confirmation.
func (s *Service) tryAutoAccept(ctx context.Context, orgID uuid.UUID, cfg *model.MatchingConfiguration, p *model.AssignmentProposal) (model.AssignmentProposal, bool) {
	threshold := match.AutoAssignScore
	if cfg.AutoAssignThreshold != nil {
		threshold = *cfg.AutoAssignThreshold
	}
	if p.MatchScore < threshold {
		return model.AssignmentProposal{}, false
	}

	profile, err := s.store.GetPreferenceProfile(ctx, orgID, p.CaregiverID)
	if err != nil {
		if !isNotFound(err) {
			s.logger.Warn("matching: preference profile lookup failed, skipping auto-accept",
				"caregiver_id", p.CaregiverID, "error", err)
		}
		return model.AssignmentProposal{}, false
	}
	if !profile.AcceptAutoAssignment {
		return model.AssignmentProposal{}, false
	}

	accepted, err := s.Respond(ctx, orgID, p.ID, p.CaregiverID, model.RespondProposalRequest{
		Accept:         true,
		ResponseMethod: "AUTO_ASSIGN",
	})
	if err != nil {
		s.logger.Warn("matching: auto-accept failed, proposal stays pending",
			"proposal_id", p.ID, "error", err)
		return model.AssignmentProposal{}, false
	}
	return accepted, true
}

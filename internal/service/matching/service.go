// Package matching provides the shared business logic for the shift
// matcher.
//
// Both the HTTP API and MCP server delegate to this service, eliminating
// duplicated logic and ensuring consistent behavior (candidate loading,
// scoring, proposal emission, transactional responses, history recording)
// across all interfaces.
package matching

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/ashita-ai/musubi/internal/match"
	"github.com/ashita-ai/musubi/internal/model"
	"github.com/ashita-ai/musubi/internal/notify"
	"github.com/ashita-ai/musubi/internal/storage"
	"github.com/ashita-ai/musubi/internal/telemetry"
)

// rollbackTimeout bounds the cleanup writes that run after the caller's
// context is already dead.
const rollbackTimeout = 5 * time.Second

// Store is the persistence surface the matcher drives. *storage.DB
// satisfies it; tests substitute an in-memory implementation.
type Store interface {
	CandidateSource

	GetShift(ctx context.Context, orgID, id uuid.UUID) (model.OpenShift, error)
	BeginMatching(ctx context.Context, orgID, id uuid.UUID) (model.OpenShift, model.ShiftStatus, error)
	RevertMatching(ctx context.Context, id uuid.UUID, prior model.ShiftStatus) error
	CompleteMatching(ctx context.Context, id uuid.UUID, to model.ShiftStatus, at time.Time) (model.OpenShift, error)
	MarkShiftProposed(ctx context.Context, id uuid.UUID) (model.OpenShift, error)
	BrowseShiftsForCaregiver(ctx context.Context, orgID, branchID, caregiverID uuid.UUID, from, to time.Time) ([]model.OpenShift, error)

	CreateProposals(ctx context.Context, ps []model.AssignmentProposal, notify bool) ([]model.AssignmentProposal, error)
	GetProposal(ctx context.Context, orgID, id uuid.UUID) (model.AssignmentProposal, error)
	MarkProposalSent(ctx context.Context, id uuid.UUID, method *string, at time.Time) (model.AssignmentProposal, error)
	AcceptProposal(ctx context.Context, orgID, id, acceptedBy uuid.UUID, responseMethod, notes *string, at time.Time) (model.AssignmentProposal, []uuid.UUID, error)
	RejectProposal(ctx context.Context, orgID, id, respondedBy uuid.UUID, reason *string, category *model.RejectionCategory, responseMethod, notes *string, at time.Time) (model.AssignmentProposal, bool, error)

	GetConfiguration(ctx context.Context, orgID, id uuid.UUID) (model.MatchingConfiguration, error)
	ResolveConfiguration(ctx context.Context, orgID uuid.UUID, branchID uuid.UUID) (model.MatchingConfiguration, error)

	GetPreferenceProfile(ctx context.Context, orgID, caregiverID uuid.UUID) (model.CaregiverPreferenceProfile, error)

	Notify(ctx context.Context, channel, payload string) error
}

// HistoryRecorder receives append-only match history rows. Record must not
// block on the database; the production recorder buffers and flushes in
// batches, so a failed write never fails the operation it describes.
type HistoryRecorder interface {
	Record(ctx context.Context, h model.MatchHistory)
}

// VariantScorer produces an alternative overall score for a candidate.
// When a configuration sets MLWeight > 0 the matcher blends the rubric
// score with the variant's; a variant failure keeps the rubric score.
type VariantScorer interface {
	ScoreCandidate(ctx context.Context, shift *model.OpenShift, cand *model.MatchCandidate) (int, error)
}

// Options tunes matcher behavior beyond what per-organization
// configurations cover. Zero values fall back to package defaults.
type Options struct {
	// ShiftBudget caps candidate-load + score + persist for one shift.
	ShiftBudget time.Duration
	// ConfigCacheTTL bounds staleness of resolved configurations. Zero
	// disables caching.
	ConfigCacheTTL time.Duration
	// Distance overrides the haversine distance function.
	Distance DistanceFunc
	// Variant is the optional blended scorer (nil disables blending).
	Variant VariantScorer
}

// Service encapsulates match business logic shared by HTTP and MCP
// handlers.
type Service struct {
	store    Store
	loader   *CandidateLoader
	configs  *configCache
	history  HistoryRecorder
	notifier notify.Notifier
	variant  VariantScorer
	clock    clock.Clock
	logger   *slog.Logger

	budget time.Duration

	matchDuration    metric.Float64Histogram
	matchOutcomes    metric.Int64Counter
	proposalsCreated metric.Int64Counter
}

// New creates a matching Service. recorder may be a no-op in tools that do
// not persist history; notifier nil falls back to the log sink.
func New(store Store, recorder HistoryRecorder, notifier notify.Notifier, clk clock.Clock, logger *slog.Logger, opts Options) *Service {
	if clk == nil {
		clk = clock.New()
	}
	if notifier == nil {
		notifier = notify.NewLogNotifier(logger)
	}
	if opts.ShiftBudget <= 0 {
		opts.ShiftBudget = 5 * time.Second
	}
	if opts.Distance == nil {
		opts.Distance = match.Haversine
	}

	meter := telemetry.Meter("musubi/matching")
	dur, _ := meter.Float64Histogram("musubi.match.duration",
		metric.WithDescription("Time to complete one matching attempt (ms)"),
		metric.WithUnit("ms"),
	)
	outcomes, _ := meter.Int64Counter("musubi.match.outcomes",
		metric.WithDescription("Matching attempts by outcome"),
	)
	created, _ := meter.Int64Counter("musubi.proposals.created",
		metric.WithDescription("Assignment proposals created"),
	)

	return &Service{
		store:            store,
		loader:           NewCandidateLoader(store, opts.Distance, logger),
		configs:          newConfigCache(store, clk, opts.ConfigCacheTTL),
		history:          recorder,
		notifier:         notifier,
		variant:          opts.Variant,
		clock:            clk,
		logger:           logger,
		budget:           opts.ShiftBudget,
		matchDuration:    dur,
		matchOutcomes:    outcomes,
		proposalsCreated: created,
	}
}

// Loader exposes the candidate loader for callers that only need contexts
// (the MCP find-candidates tool scores without mutating shift state).
func (s *Service) Loader() *CandidateLoader { return s.loader }

// InvalidateConfig drops cached configuration resolutions for an
// organization. Configuration writes call this so the next match sees the
// new policy.
func (s *Service) InvalidateConfig(orgID uuid.UUID) {
	s.configs.invalidate(orgID)
}

// Match drives one shift through a full matching attempt: claim, load,
// score, rank, select, emit, record. actor is the account performing the
// match (nil for scheduler-initiated runs).
//
// The shift is claimed with a status CAS; on caller cancellation before any
// state-changing write the claim is rolled back to the prior status, on any
// other failure the shift lands in NO_MATCH and the error propagates.
func (s *Service) Match(ctx context.Context, orgID uuid.UUID, actor *uuid.UUID, shiftID uuid.UUID, req model.MatchShiftRequest) (model.MatchResult, error) {
	if req.MaxCandidates != nil && *req.MaxCandidates < 1 {
		return model.MatchResult{}, model.NewValidation("max_candidates must be at least 1, got %d", *req.MaxCandidates)
	}

	span := trace.SpanFromContext(ctx)
	span.SetAttributes(
		attribute.String("musubi.shift_id", shiftID.String()),
		attribute.Bool("musubi.auto_propose", req.AutoPropose),
	)

	start := s.clock.Now()
	shift, prior, err := s.store.BeginMatching(ctx, orgID, shiftID)
	if err != nil {
		return model.MatchResult{}, err
	}
	span.SetAttributes(attribute.Int("musubi.match_attempt", shift.MatchAttempts))

	budgetCtx, cancel := context.WithTimeout(ctx, s.budget)
	defer cancel()

	result, err := s.attempt(budgetCtx, orgID, actor, &shift, req)
	elapsed := s.clock.Since(start)
	s.matchDuration.Record(ctx, float64(elapsed.Milliseconds()))

	if err != nil {
		return model.MatchResult{}, s.resolveFailure(ctx, &shift, prior, elapsed, err)
	}

	s.matchOutcomes.Add(ctx, 1, metric.WithAttributes(
		attribute.String("outcome", string(result.Shift.MatchingStatus))))
	if n := len(result.CreatedProposals); n > 0 {
		s.proposalsCreated.Add(ctx, int64(n), metric.WithAttributes(
			attribute.String("method", string(model.ProposalMethodAutomatic))))
	}
	return result, nil
}

// attempt runs steps 3-10 of the match flow under the per-shift budget.
// The shift pointer is updated in place as its status advances.
func (s *Service) attempt(ctx context.Context, orgID uuid.UUID, actor *uuid.UUID, shift *model.OpenShift, req model.MatchShiftRequest) (model.MatchResult, error) {
	cfg, err := s.configuration(ctx, orgID, shift.BranchID, req.ConfigurationID)
	if err != nil {
		return model.MatchResult{}, err
	}

	now := s.clock.Now().UTC()
	contexts, err := s.loader.Load(ctx, shift, now)
	if err != nil {
		return model.MatchResult{}, err
	}

	candidates := make([]model.MatchCandidate, 0, len(contexts))
	for i := range contexts {
		cand := match.Score(shift, &contexts[i], &cfg, now)
		s.applyVariant(ctx, shift, &cand, cfg.MLWeight)
		candidates = append(candidates, cand)
	}
	match.Rank(candidates)

	limit := cfg.MaxProposalsPerShift
	if req.MaxCandidates != nil {
		limit = *req.MaxCandidates
	}

	// Partition: eligible and above threshold vs. everything else. The
	// ranked order makes the first `limit` of the partition the selection.
	var selected []model.MatchCandidate
	eligible := 0
	for _, c := range candidates {
		if !c.IsEligible || c.OverallScore < cfg.MinScoreForProposal {
			continue
		}
		eligible++
		if len(selected) < limit {
			selected = append(selected, c)
		}
	}
	ineligible := len(candidates) - eligible

	result := model.MatchResult{
		Candidates:      candidates,
		EligibleCount:   eligible,
		IneligibleCount: ineligible,
	}

	if len(selected) == 0 {
		updated, err := s.store.CompleteMatching(ctx, shift.ID, model.ShiftStatusNoMatch, now)
		if err != nil {
			return model.MatchResult{}, err
		}
		*shift = updated
		result.Shift = shift
		s.recordAttempt(ctx, shift, &cfg, nil, model.OutcomeNoCandidates,
			fmt.Sprintf("%d eligible of %d candidates", eligible, len(candidates)))
		s.notifyEvent(ctx, storage.ChannelShifts, "shift_no_match", map[string]any{
			"shift_id": shift.ID, "org_id": orgID,
		})
		return result, nil
	}

	updated, err := s.store.CompleteMatching(ctx, shift.ID, model.ShiftStatusMatched, now)
	if err != nil {
		return model.MatchResult{}, err
	}
	*shift = updated

	if req.AutoPropose {
		proposals := make([]model.AssignmentProposal, len(selected))
		for i, c := range selected {
			proposals[i] = s.proposalFromCandidate(shift, &c, model.ProposalMethodAutomatic, nil, actor, now)
		}
		created, err := s.store.CreateProposals(ctx, proposals, true)
		if err != nil {
			return model.MatchResult{}, err
		}
		updated, err := s.store.MarkShiftProposed(ctx, shift.ID)
		if err != nil {
			return model.MatchResult{}, err
		}
		*shift = updated
		result.CreatedProposals = s.deliver(ctx, created)
		s.notifyEvent(ctx, storage.ChannelProposals, "proposals_created", map[string]any{
			"shift_id": shift.ID, "org_id": orgID, "count": len(created),
		})
	}

	result.Shift = shift
	top := selected[0]
	s.recordAttempt(ctx, shift, &cfg, &top, model.OutcomeProposed,
		fmt.Sprintf("%d eligible of %d candidates; %d proposals created",
			eligible, len(candidates), len(result.CreatedProposals)))
	s.notifyEvent(ctx, storage.ChannelShifts, "shift_matched", map[string]any{
		"shift_id": shift.ID, "org_id": orgID, "status": shift.MatchingStatus,
	})
	return result, nil
}

// resolveFailure lands a failed attempt in the right terminal state:
// caller cancellation restores the pre-claim status, a blown budget or any
// other mid-attempt failure moves the shift to NO_MATCH.
func (s *Service) resolveFailure(ctx context.Context, shift *model.OpenShift, prior model.ShiftStatus, elapsed time.Duration, cause error) error {
	cleanupCtx, cancel := context.WithTimeout(context.Background(), rollbackTimeout)
	defer cancel()

	if ctx.Err() != nil {
		if err := s.store.RevertMatching(cleanupCtx, shift.ID, prior); err != nil {
			s.logger.Error("matching: revert after cancellation failed",
				"shift_id", shift.ID, "prior", prior, "error", err)
		}
		s.matchOutcomes.Add(cleanupCtx, 1, metric.WithAttributes(attribute.String("outcome", "cancelled")))
		return fmt.Errorf("matching: attempt cancelled: %w", ctx.Err())
	}

	if _, err := s.store.CompleteMatching(cleanupCtx, shift.ID, model.ShiftStatusNoMatch, s.clock.Now().UTC()); err != nil {
		s.logger.Error("matching: complete NO_MATCH after failure failed",
			"shift_id", shift.ID, "error", err)
	}
	s.matchOutcomes.Add(cleanupCtx, 1, metric.WithAttributes(attribute.String("outcome", "failed")))

	if errors.Is(cause, context.DeadlineExceeded) {
		s.recordAttempt(cleanupCtx, shift, nil, nil, model.OutcomeNoCandidates,
			fmt.Sprintf("per-shift budget %s exceeded after %dms", s.budget, elapsed.Milliseconds()))
		return fmt.Errorf("matching: shift %s exceeded per-shift budget %s: %w", shift.ID, s.budget, cause)
	}
	return cause
}

// Respond applies a caregiver's accept or reject to a proposal. The accept
// path is transactional across the proposal, its siblings, the visit, and
// the shift; the reject path reverts the shift to MATCHED when no live
// siblings remain.
func (s *Service) Respond(ctx context.Context, orgID, proposalID, respondedBy uuid.UUID, req model.RespondProposalRequest) (model.AssignmentProposal, error) {
	if err := req.Validate(); err != nil {
		return model.AssignmentProposal{}, model.NewValidation("%s", err.Error())
	}
	now := s.clock.Now().UTC()

	if req.Accept {
		accepted, superseded, err := s.store.AcceptProposal(ctx, orgID, proposalID, respondedBy, &req.ResponseMethod, req.Notes, now)
		if err != nil {
			return model.AssignmentProposal{}, err
		}
		s.recordResponse(ctx, &accepted, model.OutcomeAccepted)
		s.notifyEvent(ctx, storage.ChannelProposals, "proposal_accepted", map[string]any{
			"proposal_id": accepted.ID, "shift_id": accepted.OpenShiftID,
			"org_id": orgID, "caregiver_id": accepted.CaregiverID,
			"superseded": len(superseded),
		})
		s.notifyEvent(ctx, storage.ChannelShifts, "shift_assigned", map[string]any{
			"shift_id": accepted.OpenShiftID, "org_id": orgID, "caregiver_id": accepted.CaregiverID,
		})
		return accepted, nil
	}

	rejected, shiftReverted, err := s.store.RejectProposal(ctx, orgID, proposalID, respondedBy,
		req.RejectionReason, req.RejectionCategory, &req.ResponseMethod, req.Notes, now)
	if err != nil {
		return model.AssignmentProposal{}, err
	}
	s.recordResponse(ctx, &rejected, model.OutcomeRejected)
	s.notifyEvent(ctx, storage.ChannelProposals, "proposal_rejected", map[string]any{
		"proposal_id": rejected.ID, "shift_id": rejected.OpenShiftID,
		"org_id": orgID, "caregiver_id": rejected.CaregiverID,
	})
	if shiftReverted {
		s.notifyEvent(ctx, storage.ChannelShifts, "shift_reverted", map[string]any{
			"shift_id": rejected.OpenShiftID, "org_id": orgID,
			"status": model.ShiftStatusMatched,
		})
	}
	return rejected, nil
}

// ProposeManual emits a coordinator-selected proposal, bypassing
// eligibility gates. Unless the configuration opts into scoring manual
// proposals, the snapshot is the conventional perfect score.
func (s *Service) ProposeManual(ctx context.Context, orgID uuid.UUID, actor *uuid.UUID, shiftID uuid.UUID, req model.CreateManualProposalRequest) (model.AssignmentProposal, error) {
	shift, err := s.store.GetShift(ctx, orgID, shiftID)
	if err != nil {
		return model.AssignmentProposal{}, err
	}
	if shift.MatchingStatus == model.ShiftStatusAssigned {
		return model.AssignmentProposal{}, model.NewConflict("shift %s is already assigned", shiftID)
	}
	caregiver, err := s.store.GetCaregiver(ctx, orgID, req.CaregiverID)
	if err != nil {
		return model.AssignmentProposal{}, err
	}
	if !caregiver.Active {
		return model.AssignmentProposal{}, model.NewValidation("caregiver %s is not active", caregiver.ID)
	}

	now := s.clock.Now().UTC()
	p := model.AssignmentProposal{
		OpenShiftID:        shift.ID,
		VisitID:            shift.VisitID,
		CaregiverID:        caregiver.ID,
		OrganizationID:     shift.OrganizationID,
		BranchID:           shift.BranchID,
		MatchScore:         100,
		MatchQuality:       model.QualityExcellent,
		MatchReasons:       []model.MatchReason{manualReason()},
		ProposalStatus:     model.ProposalStatusPending,
		ProposedAt:         now,
		ProposalMethod:     model.ProposalMethodManual,
		NotificationMethod: req.NotificationMethod,
		UrgencyFlag:        req.UrgencyFlag || shift.IsUrgent,
		CreatedAt:          now,
		CreatedBy:          actor,
		UpdatedAt:          now,
		UpdatedBy:          actor,
	}

	// The scoring toggle snapshots the real rubric verdict for audit; the
	// proposal is created either way. Manual emission never re-checks gates.
	cfg, cfgErr := s.configs.resolve(ctx, orgID, shift.BranchID)
	if cfgErr == nil && cfg.ScoreManualProposals {
		cand, err := s.scoreOne(ctx, &shift, &caregiver, &cfg, now)
		if err != nil {
			return model.AssignmentProposal{}, err
		}
		p.MatchScore = cand.OverallScore
		p.MatchQuality = cand.MatchQuality
		p.MatchReasons = cand.MatchReasons
	} else if cfgErr != nil && !isNotFound(cfgErr) {
		return model.AssignmentProposal{}, cfgErr
	}

	created, err := s.store.CreateProposals(ctx, []model.AssignmentProposal{p}, req.SendNotification)
	if err != nil {
		return model.AssignmentProposal{}, err
	}
	proposal := created[0]

	s.advanceToProposed(ctx, &shift)
	if req.SendNotification {
		proposal = s.deliver(ctx, created)[0]
	}

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
		Notes:          strPtr("manual proposal"),
		CreatedAt:      now,
		CreatedBy:      actor,
	})
	s.proposalsCreated.Add(ctx, 1, metric.WithAttributes(
		attribute.String("method", string(model.ProposalMethodManual))))
	s.notifyEvent(ctx, storage.ChannelProposals, "proposals_created", map[string]any{
		"shift_id": shift.ID, "org_id": orgID, "count": 1,
	})
	return proposal, nil
}

// configuration resolves the policy for an attempt: an explicit ID wins,
// otherwise the cached (org, branch) default. A missing default is a
// validation failure, not a lookup failure; matching cannot proceed
// without policy.
func (s *Service) configuration(ctx context.Context, orgID, branchID uuid.UUID, explicit *uuid.UUID) (model.MatchingConfiguration, error) {
	if explicit != nil {
		cfg, err := s.store.GetConfiguration(ctx, orgID, *explicit)
		if err != nil {
			return model.MatchingConfiguration{}, err
		}
		if !cfg.IsActive {
			return model.MatchingConfiguration{}, model.NewValidation("configuration %s is not active", cfg.ID)
		}
		return cfg, nil
	}
	cfg, err := s.configs.resolve(ctx, orgID, branchID)
	if err != nil {
		if isNotFound(err) {
			return model.MatchingConfiguration{}, model.NewValidation(
				"no active matching configuration for organization %s", orgID)
		}
		return model.MatchingConfiguration{}, err
	}
	return cfg, nil
}

// deliver invokes the notification sink for each proposal and advances the
// delivered ones PENDING → SENT. Sink failures are logged; the proposal
// stays PENDING and the durable outbox retries delivery later.
func (s *Service) deliver(ctx context.Context, proposals []model.AssignmentProposal) []model.AssignmentProposal {
	out := make([]model.AssignmentProposal, 0, len(proposals))
	for _, p := range proposals {
		method, err := s.notifier.SendProposalOffer(ctx, p)
		if err != nil {
			s.logger.Warn("matching: proposal notification failed, staying PENDING",
				"proposal_id", p.ID, "caregiver_id", p.CaregiverID, "error", err)
			out = append(out, p)
			continue
		}
		sent, err := s.store.MarkProposalSent(ctx, p.ID, &method, s.clock.Now().UTC())
		if err != nil {
			s.logger.Warn("matching: mark proposal sent failed",
				"proposal_id", p.ID, "error", err)
			out = append(out, p)
			continue
		}
		out = append(out, sent)
	}
	return out
}

// advanceToProposed moves a MATCHED shift to PROPOSED after an
// out-of-attempt emission (manual or self-select). Shifts in other open
// states keep their status; the proposal exists regardless.
func (s *Service) advanceToProposed(ctx context.Context, shift *model.OpenShift) {
	if shift.MatchingStatus != model.ShiftStatusMatched {
		return
	}
	updated, err := s.store.MarkShiftProposed(ctx, shift.ID)
	if err != nil {
		s.logger.Warn("matching: advance shift to PROPOSED failed",
			"shift_id", shift.ID, "error", err)
		return
	}
	*shift = updated
}

// scoreOne loads a single caregiver's context and scores them against the
// shift.
func (s *Service) scoreOne(ctx context.Context, shift *model.OpenShift, caregiver *model.Caregiver, cfg *model.MatchingConfiguration, now time.Time) (model.MatchCandidate, error) {
	contexts, err := s.loader.Contexts(ctx, shift, []model.Caregiver{*caregiver}, now)
	if err != nil {
		return model.MatchCandidate{}, err
	}
	cand := match.Score(shift, &contexts[0], cfg, now)
	s.applyVariant(ctx, shift, &cand, cfg.MLWeight)
	return cand, nil
}

// applyVariant blends the rubric score with the optional variant scorer.
func (s *Service) applyVariant(ctx context.Context, shift *model.OpenShift, cand *model.MatchCandidate, w float64) {
	if s.variant == nil || w <= 0 {
		return
	}
	score, err := s.variant.ScoreCandidate(ctx, shift, cand)
	if err != nil {
		s.logger.Warn("matching: variant scorer failed, keeping rubric score",
			"caregiver_id", cand.CaregiverID, "error", err)
		return
	}
	blended := match.Blend(cand.OverallScore, score, w)
	cand.OverallScore = blended
	cand.MatchQuality = match.QualityFor(blended)
}

// proposalFromCandidate freezes a candidate's verdict into a proposal row.
func (s *Service) proposalFromCandidate(shift *model.OpenShift, c *model.MatchCandidate, method model.ProposalMethod, notificationMethod *string, actor *uuid.UUID, now time.Time) model.AssignmentProposal {
	return model.AssignmentProposal{
		OpenShiftID:        shift.ID,
		VisitID:            shift.VisitID,
		CaregiverID:        c.CaregiverID,
		OrganizationID:     shift.OrganizationID,
		BranchID:           shift.BranchID,
		MatchScore:         c.OverallScore,
		MatchQuality:       c.MatchQuality,
		MatchReasons:       c.MatchReasons,
		ProposalStatus:     model.ProposalStatusPending,
		ProposedAt:         now,
		ProposalMethod:     method,
		NotificationMethod: notificationMethod,
		UrgencyFlag:        shift.IsUrgent,
		CreatedAt:          now,
		CreatedBy:          actor,
		UpdatedAt:          now,
		UpdatedBy:          actor,
	}
}

// recordAttempt writes the attempt-level history row. cfg and top may be
// nil when the attempt failed before resolving them.
func (s *Service) recordAttempt(ctx context.Context, shift *model.OpenShift, cfg *model.MatchingConfiguration, top *model.MatchCandidate, outcome model.MatchOutcome, note string) {
	h := model.MatchHistory{
		OpenShiftID:    shift.ID,
		VisitID:        shift.VisitID,
		OrganizationID: shift.OrganizationID,
		Outcome:        outcome,
		AttemptNumber:  shift.MatchAttempts,
		Notes:          &note,
		CreatedAt:      s.clock.Now().UTC(),
	}
	if cfg != nil {
		h.ConfigurationID = &cfg.ID
		h.ConfigurationSnapshot = configSnapshot(cfg)
	}
	if top != nil {
		h.MatchScore = &top.OverallScore
		h.MatchQuality = &top.MatchQuality
	}
	s.history.Record(ctx, h)
}

// recordResponse writes the proposal-outcome history row for a response.
func (s *Service) recordResponse(ctx context.Context, p *model.AssignmentProposal, outcome model.MatchOutcome) {
	h := model.MatchHistory{
		OpenShiftID:          p.OpenShiftID,
		VisitID:              p.VisitID,
		OrganizationID:       p.OrganizationID,
		CaregiverID:          &p.CaregiverID,
		ProposalID:           &p.ID,
		Outcome:              outcome,
		MatchScore:           &p.MatchScore,
		MatchQuality:         &p.MatchQuality,
		AssignedSuccessfully: outcome == model.OutcomeAccepted,
		CreatedAt:            s.clock.Now().UTC(),
	}
	if p.RespondedAt != nil {
		mins := int(p.RespondedAt.Sub(p.ProposedAt).Minutes())
		h.ResponseTimeMinutes = &mins
	}
	if p.RejectionCategory != nil {
		note := string(*p.RejectionCategory)
		h.Notes = &note
	}
	if shift, err := s.store.GetShift(ctx, p.OrganizationID, p.OpenShiftID); err == nil {
		h.AttemptNumber = shift.MatchAttempts
	}
	s.history.Record(ctx, h)
}

// notifyEvent publishes a post-commit event on a LISTEN/NOTIFY channel.
// Failures are logged, never propagated.
func (s *Service) notifyEvent(ctx context.Context, channel, event string, fields map[string]any) {
	fields["event"] = event
	payload, err := json.Marshal(fields)
	if err != nil {
		s.logger.Error("matching: marshal notify payload", "event", event, "error", err)
		return
	}
	if err := s.store.Notify(ctx, channel, string(payload)); err != nil {
		s.logger.Error("matching: notify subscribers", "channel", channel, "error", err)
	}
}

// configSnapshot captures the policy fields that explain an attempt's
// outcome. Stored alongside the history row for audit.
func configSnapshot(cfg *model.MatchingConfiguration) map[string]any {
	weights := make(map[string]int, len(cfg.Weights))
	for dim, w := range cfg.Weights {
		weights[string(dim)] = w
	}
	return map[string]any{
		"configuration_id":       cfg.ID.String(),
		"name":                   cfg.Name,
		"min_score_for_proposal": cfg.MinScoreForProposal,
		"max_proposals_per_shift": cfg.MaxProposalsPerShift,
		"optimize_for":           string(cfg.OptimizeFor),
		"weights":                weights,
	}
}

func manualReason() model.MatchReason {
	return model.MatchReason{
		Category:    model.ReasonSystemOptimized,
		Description: "Manually selected by coordinator",
		Impact:      model.ImpactNeutral,
		Weight:      0,
	}
}

func isNotFound(err error) bool {
	var nf *model.NotFoundError
	return errors.As(err, &nf)
}

func strPtr(s string) *string { return &s }

// Package expiry times out proposals whose caregiver never responded.
//
// A single UPDATE moves every overdue live proposal to EXPIRED, so
// concurrent or repeated sweeps are harmless: a proposal already expired
// by one sweep no longer matches the next one's predicate.
package expiry

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/benbjohnson/clock"
	"go.opentelemetry.io/otel/metric"

	"github.com/ashita-ai/musubi/internal/model"
	"github.com/ashita-ai/musubi/internal/storage"
	"github.com/ashita-ai/musubi/internal/telemetry"
)

// Store is the persistence surface the expirer drives.
type Store interface {
	ExpireStaleProposals(ctx context.Context, defaultTTLMinutes int, now time.Time) ([]model.AssignmentProposal, error)
	Notify(ctx context.Context, channel, payload string) error
}

// HistoryRecorder receives the audit rows for expired proposals.
type HistoryRecorder interface {
	Record(ctx context.Context, h model.MatchHistory)
}

// Expirer periodically sweeps overdue proposals to EXPIRED.
type Expirer struct {
	store      Store
	history    HistoryRecorder
	clock      clock.Clock
	logger     *slog.Logger
	interval   time.Duration
	defaultTTL int // minutes, used when no configuration covers a proposal

	expired metric.Int64Counter
}

// New creates an Expirer. defaultTTL is in minutes and applies to
// proposals whose organization has no active configuration.
func New(store Store, history HistoryRecorder, clk clock.Clock, logger *slog.Logger, interval time.Duration, defaultTTL time.Duration) *Expirer {
	if clk == nil {
		clk = clock.New()
	}
	meter := telemetry.Meter("musubi/expiry")
	expired, _ := meter.Int64Counter("musubi.proposals.expired",
		metric.WithDescription("Proposals moved to EXPIRED by the sweeper"),
	)
	return &Expirer{
		store:      store,
		history:    history,
		clock:      clk,
		logger:     logger,
		interval:   interval,
		defaultTTL: int(defaultTTL.Minutes()),
		expired:    expired,
	}
}

// Run sweeps on the configured interval until ctx is cancelled. One sweep
// runs immediately so a restart does not leave overdue proposals waiting a
// full interval.
func (e *Expirer) Run(ctx context.Context) {
	if _, err := e.SweepOnce(ctx); err != nil {
		e.logger.Error("expiry: initial sweep failed", "error", err)
	}

	ticker := e.clock.Ticker(e.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := e.SweepOnce(ctx); err != nil {
				e.logger.Error("expiry: sweep failed", "error", err)
			}
		}
	}
}

// SweepOnce expires every overdue live proposal and returns how many were
// expired. Each expired proposal gets a history row and an event on the
// proposals channel. Already-expired proposals are never touched again.
func (e *Expirer) SweepOnce(ctx context.Context) (int, error) {
	now := e.clock.Now().UTC()
	proposals, err := e.store.ExpireStaleProposals(ctx, e.defaultTTL, now)
	if err != nil {
		return 0, err
	}
	if len(proposals) == 0 {
		return 0, nil
	}

	for i := range proposals {
		p := &proposals[i]
		e.history.Record(ctx, model.MatchHistory{
			OpenShiftID:    p.OpenShiftID,
			VisitID:        p.VisitID,
			OrganizationID: p.OrganizationID,
			CaregiverID:    &p.CaregiverID,
			ProposalID:     &p.ID,
			Outcome:        model.OutcomeExpired,
			MatchScore:     &p.MatchScore,
			MatchQuality:   &p.MatchQuality,
			CreatedAt:      now,
		})
		e.notifyExpired(ctx, p)
	}

	e.expired.Add(ctx, int64(len(proposals)))
	e.logger.Info("expiry: swept overdue proposals", "expired", len(proposals))
	return len(proposals), nil
}

func (e *Expirer) notifyExpired(ctx context.Context, p *model.AssignmentProposal) {
	payload, err := json.Marshal(map[string]any{
		"event":        "proposal_expired",
		"proposal_id":  p.ID,
		"shift_id":     p.OpenShiftID,
		"org_id":       p.OrganizationID,
		"caregiver_id": p.CaregiverID,
	})
	if err != nil {
		e.logger.Error("expiry: marshal notify payload", "error", err)
		return
	}
	if err := e.store.Notify(ctx, storage.ChannelProposals, string(payload)); err != nil {
		e.logger.Error("expiry: notify subscribers", "error", err)
	}
}

// Package notify delivers proposal offers to caregivers and retries the
// ones that slip through.
//
// Delivery is two-layered: the matcher calls the sink inline right after
// proposals commit (the happy path), and a durable outbox worker retries
// proposals still PENDING later. The Notifier interface is the pluggable
// sink; embedders wire SMS or push providers through it.
package notify

import (
	"context"
	"log/slog"

	"github.com/ashita-ai/musubi/internal/model"
)

// MethodLog is the delivery method recorded by the log sink.
const MethodLog = "LOG"

// Notifier delivers a proposal offer to its caregiver. It returns the
// delivery method used ("SMS", "PUSH", ...) which is recorded on the
// proposal. A returned error leaves the proposal PENDING for the outbox
// worker to retry.
type Notifier interface {
	SendProposalOffer(ctx context.Context, p model.AssignmentProposal) (string, error)
}

// NotifierFunc adapts a function to the Notifier interface.
type NotifierFunc func(ctx context.Context, p model.AssignmentProposal) (string, error)

func (f NotifierFunc) SendProposalOffer(ctx context.Context, p model.AssignmentProposal) (string, error) {
	return f(ctx, p)
}

// LogNotifier writes offers to the log. It is the default sink for
// deployments without a messaging provider and never fails.
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier creates a log-based sink.
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) SendProposalOffer(ctx context.Context, p model.AssignmentProposal) (string, error) {
	n.logger.InfoContext(ctx, "proposal offer",
		"proposal_id", p.ID,
		"shift_id", p.OpenShiftID,
		"caregiver_id", p.CaregiverID,
		"match_score", p.MatchScore,
		"urgent", p.UrgencyFlag,
	)
	return MethodLog, nil
}

package server

import (
	"context"
	"time"

	"github.com/ashita-ai/musubi/internal/model"
)

// MatchEventHook receives proposal lifecycle events within the server layer.
// Defined here (not in the root musubi package) to avoid a circular import:
// internal/server → musubi → internal/server would be a cycle.
// The root musubi package wraps musubi.EventHook into MatchEventHook via an adapter.
//
// Hook methods are called asynchronously in goroutines. Implementations must not
// block indefinitely. Failures are logged and do not fail the originating request.
type MatchEventHook interface {
	OnProposalCreated(ctx context.Context, proposal model.AssignmentProposal) error
	OnProposalResponded(ctx context.Context, proposal model.AssignmentProposal) error
}

// fireProposalCreated invokes OnProposalCreated on all registered hooks for
// each proposal, in one background goroutine.
func (h *Handlers) fireProposalCreated(proposals ...model.AssignmentProposal) {
	if len(h.matchHooks) == 0 || len(proposals) == 0 {
		return
	}
	hooks := h.matchHooks
	logger := h.logger
	go func() {
		hookCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		for _, p := range proposals {
			for _, hook := range hooks {
				if err := hook.OnProposalCreated(hookCtx, p); err != nil {
					logger.Warn("event hook OnProposalCreated failed",
						"error", err, "proposal_id", p.ID)
				}
			}
		}
	}()
}

// fireProposalResponded invokes OnProposalResponded on all registered hooks.
func (h *Handlers) fireProposalResponded(proposal model.AssignmentProposal) {
	if len(h.matchHooks) == 0 {
		return
	}
	hooks := h.matchHooks
	logger := h.logger
	go func() {
		hookCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		for _, hook := range hooks {
			if err := hook.OnProposalResponded(hookCtx, proposal); err != nil {
				logger.Warn("event hook OnProposalResponded failed",
					"error", err, "proposal_id", proposal.ID)
			}
		}
	}()
}

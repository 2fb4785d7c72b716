package mcp

import (
	"context"
	"fmt"

	mcplib "github.com/mark3labs/mcp-go/mcp"
)

func (s *Server) registerPrompts() {
	// fill-shift — walks the assistant through evaluating and filling one shift.
	s.mcpServer.AddPrompt(
		mcplib.NewPrompt("fill-shift",
			mcplib.WithPromptDescription("Evaluate candidates for an open shift and recommend who to propose"),
			mcplib.WithArgument("shift_id",
				mcplib.ArgumentDescription("UUID of the open shift to fill"),
				mcplib.RequiredArgument(),
			),
		),
		s.handleFillShiftPrompt,
	)

	// coordinator-setup — full system prompt snippet for scheduling assistants.
	s.mcpServer.AddPrompt(
		mcplib.NewPrompt("coordinator-setup",
			mcplib.WithPromptDescription("System prompt snippet explaining the shift-matching workflow and available tools"),
		),
		s.handleCoordinatorSetupPrompt,
	)
}

func (s *Server) handleFillShiftPrompt(ctx context.Context, request mcplib.GetPromptRequest) (*mcplib.GetPromptResult, error) {
	shiftID := request.Params.Arguments["shift_id"]
	if shiftID == "" {
		return nil, fmt.Errorf("shift_id argument is required")
	}

	return &mcplib.GetPromptResult{
		Description: fmt.Sprintf("Evaluate candidates for shift %s", shiftID),
		Messages: []mcplib.PromptMessage{
			{
				Role: mcplib.RoleUser,
				Content: mcplib.TextContent{
					Type: "text",
					Text: fmt.Sprintf(`Help fill shift %s. Follow these steps:

1. CALL musubi_get_shift with shift_id="%s" to see the shift's requirements,
   schedule, and any live proposals. Read the context_note if present --
   it flags deadlines and repeated match failures.

2. If live proposals already exist in SENT or VIEWED status, STOP and report
   them. A caregiver may be about to respond; issuing more proposals now
   creates competing offers.

3. CALL musubi_find_candidates with the same shift_id. Review the ranked list:
   - Prefer EXCELLENT and GOOD quality candidates.
   - Read the match_reasons on each candidate. NEGATIVE reasons (overtime
     risk, long travel) deserve a human look even on a high score.
   - Check warnings. A candidate near their weekly hour cap may accept
     and then burn out or trigger overtime pay.

4. If no candidate is eligible, call musubi_find_candidates again with
   include_ineligible=true and summarize the gate failures. That tells the
   coordinator whether to relax requirements or widen the pool.

5. RECOMMEND up to 3 candidates, best first, with a one-line justification
   each. The coordinator issues the actual proposals through the dashboard;
   you only advise.`, shiftID, shiftID),
				},
			},
		},
	}, nil
}

func (s *Server) handleCoordinatorSetupPrompt(ctx context.Context, request mcplib.GetPromptRequest) (*mcplib.GetPromptResult, error) {
	return &mcplib.GetPromptResult{
		Description: "Shift-matching workflow for scheduling assistants",
		Messages: []mcplib.PromptMessage{
			{
				Role: mcplib.RoleUser,
				Content: mcplib.TextContent{
					Type: "text",
					Text: `You have read-only access to Musubi, a shift-matching engine for home
care. It scores caregivers against open shifts -- skills, availability,
distance, continuity, overtime risk -- and tracks every proposal from sent
to accepted, rejected, or expired. You advise coordinators; all writes
(proposing, assigning, cancelling) happen in their dashboard.

## The Pattern: Inspect, Evaluate, Recommend

### Inspect
Read musubi://shifts/open to see what needs filling, soonest first.
Urgent shifts and shifts past their fill-by date carry a context_note.
Call musubi_get_shift for full requirements and live proposals on one shift.

### Evaluate
Call musubi_find_candidates to rank the caregiver pool for a shift.
This runs the real eligibility gates and scoring, so what you see is
exactly what the matcher would produce. Eligible candidates carry
per-dimension scores and plain-language match reasons; ineligible ones
(with include_ineligible=true) carry the gates they failed.

### Recommend
Summarize the top candidates with their trade-offs. Never present a
POOR-quality match without saying why it is poor. If nothing is eligible,
say which gates are blocking the pool.

## Available Tools

- musubi_find_candidates: Rank caregivers for a shift (use before recommending anyone)
- musubi_get_shift: One shift's full details plus live proposals
- musubi_list_proposals: Search proposal history by shift, caregiver, or status

## Available Resources

- musubi://shifts/open: Shifts awaiting a confirmed caregiver
- musubi://proposals/pending: Proposals out with caregivers, undecided
- musubi://shift/{id}/proposals: Full proposal history for one shift

## Reading Match Quality

- EXCELLENT (85+): Safe recommendation, lead with these
- GOOD (70-84): Solid, mention any NEGATIVE reasons
- FAIR (55-69): Workable, flag the weak dimensions explicitly
- POOR (<55): Last resort, always explain the gaps`,
				},
			},
		},
	}, nil
}

package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	mcplib "github.com/mark3labs/mcp-go/mcp"

	"github.com/ashita-ai/musubi/internal/ctxutil"
	"github.com/ashita-ai/musubi/internal/match"
	"github.com/ashita-ai/musubi/internal/model"
)

// The /mcp transport is mounted behind coordinator RBAC, so every handler
// here can assume a staff caller. Org scoping still comes from the token.

func (s *Server) registerTools() {
	// musubi_find_candidates — score the caregiver pool for a shift.
	s.mcpServer.AddTool(
		mcplib.NewTool("musubi_find_candidates",
			mcplib.WithDescription(`Score the caregiver pool for an open shift and return ranked candidates.

WHEN TO USE: BEFORE proposing anyone for a shift. This runs the same
eligibility gates and scoring the matcher uses, without creating proposals
or changing shift state.

WHAT YOU GET BACK:
- candidates: ranked by overall score (best first), each with per-dimension
  scores, match quality, distance, and human-readable match reasons
- ineligible candidates are excluded unless include_ineligible is set;
  when included, each carries the gates it failed

EXAMPLE: Before suggesting a caregiver for Tuesday's 9am shift, call
musubi_find_candidates with the shift_id and review the top scores.`),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(false),
			mcplib.WithString("shift_id",
				mcplib.Description("UUID of the open shift to evaluate"),
				mcplib.Required(),
			),
			mcplib.WithNumber("limit",
				mcplib.Description("Maximum candidates to return"),
				mcplib.Min(1),
				mcplib.Max(50),
				mcplib.DefaultNumber(10),
			),
			mcplib.WithBoolean("include_ineligible",
				mcplib.Description("Include candidates that failed eligibility gates, with the reasons they failed"),
			),
		),
		s.handleFindCandidates,
	)

	// musubi_get_shift — inspect one shift and its live proposals.
	s.mcpServer.AddTool(
		mcplib.NewTool("musubi_get_shift",
			mcplib.WithDescription(`Look up an open shift: schedule, requirements, matching status, and any
live proposals.

WHEN TO USE: To understand a shift before evaluating candidates, or to
check whether proposals are already out and what state they're in.

WHAT YOU GET BACK:
- the shift's schedule, requirements, priority, and matching status
- live_proposals: proposals still awaiting a response (PENDING/SENT/VIEWED)`),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(false),
			mcplib.WithString("shift_id",
				mcplib.Description("UUID of the open shift"),
				mcplib.Required(),
			),
		),
		s.handleGetShift,
	)

	// musubi_list_proposals — filter assignment proposals.
	s.mcpServer.AddTool(
		mcplib.NewTool("musubi_list_proposals",
			mcplib.WithDescription(`List assignment proposals with structured filters.

WHEN TO USE: To review what offers are outstanding, who accepted or
rejected, or the proposal history for one shift or one caregiver.

FILTER EXAMPLES:
- Everything awaiting response: status="SENT"
- One shift's offers: shift_id="<uuid>"
- One caregiver's history: caregiver_id="<uuid>"`),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(false),
			mcplib.WithString("shift_id",
				mcplib.Description("Filter by open shift UUID"),
			),
			mcplib.WithString("caregiver_id",
				mcplib.Description("Filter by caregiver UUID"),
			),
			mcplib.WithString("status",
				mcplib.Description("Filter by proposal status: PENDING, SENT, VIEWED, ACCEPTED, REJECTED, EXPIRED, SUPERSEDED"),
			),
			mcplib.WithNumber("limit",
				mcplib.Description("Maximum results to return"),
				mcplib.Min(1),
				mcplib.Max(100),
				mcplib.DefaultNumber(10),
			),
		),
		s.handleListProposals,
	)
}

func (s *Server) handleFindCandidates(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	orgID := ctxutil.OrgIDFromContext(ctx)

	shiftID, err := uuid.Parse(request.GetString("shift_id", ""))
	if err != nil {
		return errorResult("shift_id must be a valid UUID"), nil
	}
	limit := clampLimit(request.GetInt("limit", 10), 50)
	includeIneligible := request.GetBool("include_ineligible", false)

	shift, err := s.db.GetShift(ctx, orgID, shiftID)
	if err != nil {
		return errorResult(fmt.Sprintf("shift lookup failed: %v", err)), nil
	}

	now := time.Now().UTC()
	contexts, err := s.matchSvc.Loader().Load(ctx, &shift, now)
	if err != nil {
		return errorResult(fmt.Sprintf("candidate load failed: %v", err)), nil
	}

	cfg, err := s.db.ResolveConfiguration(ctx, orgID, shift.BranchID)
	if err != nil {
		return errorResult(fmt.Sprintf("configuration lookup failed: %v", err)), nil
	}

	candidates := make([]model.MatchCandidate, 0, len(contexts))
	for i := range contexts {
		cand := match.Score(&shift, &contexts[i], &cfg, now)
		if !cand.IsEligible && !includeIneligible {
			continue
		}
		candidates = append(candidates, cand)
	}
	match.Rank(candidates)
	if len(candidates) > limit {
		candidates = candidates[:limit]
	}

	views := make([]map[string]any, len(candidates))
	for i := range candidates {
		views[i] = compactCandidate(candidates[i])
	}

	resultData, _ := json.MarshalIndent(map[string]any{
		"shift_id":   shift.ID,
		"candidates": views,
		"total":      len(views),
	}, "", "  ")

	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: string(resultData)},
		},
	}, nil
}

func (s *Server) handleGetShift(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	orgID := ctxutil.OrgIDFromContext(ctx)

	shiftID, err := uuid.Parse(request.GetString("shift_id", ""))
	if err != nil {
		return errorResult("shift_id must be a valid UUID"), nil
	}

	shift, err := s.db.GetShift(ctx, orgID, shiftID)
	if err != nil {
		return errorResult(fmt.Sprintf("shift lookup failed: %v", err)), nil
	}

	live, err := s.db.LiveProposalsForShift(ctx, shift.ID)
	if err != nil {
		return errorResult(fmt.Sprintf("proposal lookup failed: %v", err)), nil
	}

	liveViews := make([]map[string]any, len(live))
	for i := range live {
		liveViews[i] = compactProposal(live[i])
	}

	resultData, _ := json.MarshalIndent(map[string]any{
		"shift":          compactShift(shift, time.Now().UTC()),
		"live_proposals": liveViews,
	}, "", "  ")

	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: string(resultData)},
		},
	}, nil
}

func (s *Server) handleListProposals(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	orgID := ctxutil.OrgIDFromContext(ctx)

	f := model.ProposalFilters{OrganizationID: orgID}
	if raw := request.GetString("shift_id", ""); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return errorResult("shift_id must be a valid UUID"), nil
		}
		f.OpenShiftID = &id
	}
	if raw := request.GetString("caregiver_id", ""); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return errorResult("caregiver_id must be a valid UUID"), nil
		}
		f.CaregiverID = &id
	}
	if raw := request.GetString("status", ""); raw != "" {
		f.Status = []model.ProposalStatus{model.ProposalStatus(strings.ToUpper(raw))}
	}

	p := model.Pagination{Page: 1, Limit: clampLimit(request.GetInt("limit", 10), model.MaxPageLimit)}
	if err := p.Normalize(); err != nil {
		return errorResult(err.Error()), nil
	}

	proposals, total, err := s.db.SearchProposals(ctx, f, p)
	if err != nil {
		return errorResult(fmt.Sprintf("proposal search failed: %v", err)), nil
	}

	views := make([]map[string]any, len(proposals))
	for i := range proposals {
		views[i] = compactProposal(proposals[i])
	}

	resultData, _ := json.MarshalIndent(map[string]any{
		"proposals": views,
		"total":     total,
	}, "", "  ")

	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: string(resultData)},
		},
	}, nil
}

// clampLimit bounds a client-supplied limit. Tool schemas declare min/max,
// but clients are not obliged to honor them.
func clampLimit(n, max int) int {
	if n < 1 {
		return 1
	}
	if n > max {
		return max
	}
	return n
}

func errorResult(msg string) *mcplib.CallToolResult {
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}

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
	"github.com/ashita-ai/musubi/internal/model"
)

func (s *Server) registerResources() {
	// musubi://shifts/open — shifts still awaiting a confirmed caregiver.
	s.mcpServer.AddResource(
		mcplib.NewResource(
			"musubi://shifts/open",
			"Open Shifts",
			mcplib.WithResourceDescription("Shifts awaiting a confirmed caregiver, soonest first"),
			mcplib.WithMIMEType("application/json"),
		),
		s.handleOpenShifts,
	)

	// musubi://proposals/pending — proposals out with caregivers, undecided.
	s.mcpServer.AddResource(
		mcplib.NewResource(
			"musubi://proposals/pending",
			"Pending Proposals",
			mcplib.WithResourceDescription("Proposals sent to caregivers and still awaiting a response"),
			mcplib.WithMIMEType("application/json"),
		),
		s.handlePendingProposals,
	)

	// musubi://shift/{id}/proposals — full proposal history for one shift.
	s.mcpServer.AddResourceTemplate(
		mcplib.NewResourceTemplate(
			"musubi://shift/{id}/proposals",
			"Shift Proposals",
			mcplib.WithTemplateDescription("All proposals ever issued for a specific shift"),
			mcplib.WithTemplateMIMEType("application/json"),
		),
		s.handleShiftProposals,
	)
}

func (s *Server) handleOpenShifts(ctx context.Context, request mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) {
	orgID := ctxutil.OrgIDFromContext(ctx)

	f := model.ShiftFilters{
		OrganizationID: orgID,
		MatchingStatus: []model.ShiftStatus{
			model.ShiftStatusNew,
			model.ShiftStatusMatching,
			model.ShiftStatusMatched,
			model.ShiftStatusProposed,
			model.ShiftStatusNoMatch,
		},
	}
	p := model.Pagination{Limit: 20, SortBy: "scheduled_date", SortOrder: model.SortAsc}
	if err := p.Normalize(); err != nil {
		return nil, fmt.Errorf("mcp: open shifts: %w", err)
	}

	shifts, total, err := s.db.SearchShifts(ctx, f, p)
	if err != nil {
		return nil, fmt.Errorf("mcp: open shifts: %w", err)
	}

	now := time.Now().UTC()
	views := make([]map[string]any, len(shifts))
	for i := range shifts {
		views[i] = compactShift(shifts[i], now)
	}

	data, err := json.MarshalIndent(map[string]any{
		"shifts": views,
		"total":  total,
	}, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("mcp: marshal open shifts: %w", err)
	}

	return []mcplib.ResourceContents{
		mcplib.TextResourceContents{
			URI:      "musubi://shifts/open",
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}

func (s *Server) handlePendingProposals(ctx context.Context, request mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) {
	orgID := ctxutil.OrgIDFromContext(ctx)

	f := model.ProposalFilters{
		OrganizationID: orgID,
		Status:         []model.ProposalStatus{model.ProposalStatusSent, model.ProposalStatusViewed},
	}
	p := model.Pagination{Limit: 20, SortBy: "proposed_at"}
	if err := p.Normalize(); err != nil {
		return nil, fmt.Errorf("mcp: pending proposals: %w", err)
	}

	proposals, total, err := s.db.SearchProposals(ctx, f, p)
	if err != nil {
		return nil, fmt.Errorf("mcp: pending proposals: %w", err)
	}

	views := make([]map[string]any, len(proposals))
	for i := range proposals {
		views[i] = compactProposal(proposals[i])
	}

	data, err := json.MarshalIndent(map[string]any{
		"proposals": views,
		"total":     total,
	}, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("mcp: marshal pending proposals: %w", err)
	}

	return []mcplib.ResourceContents{
		mcplib.TextResourceContents{
			URI:      "musubi://proposals/pending",
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}

func (s *Server) handleShiftProposals(ctx context.Context, request mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) {
	orgID := ctxutil.OrgIDFromContext(ctx)
	uri := request.Params.URI

	shiftID, err := parseShiftProposalsURI(uri)
	if err != nil {
		return nil, fmt.Errorf("mcp: %w", err)
	}

	f := model.ProposalFilters{OrganizationID: orgID, OpenShiftID: &shiftID}
	p := model.Pagination{Limit: model.MaxPageLimit, SortBy: "proposed_at"}
	if err := p.Normalize(); err != nil {
		return nil, fmt.Errorf("mcp: shift proposals: %w", err)
	}

	proposals, total, err := s.db.SearchProposals(ctx, f, p)
	if err != nil {
		return nil, fmt.Errorf("mcp: shift proposals: %w", err)
	}

	views := make([]map[string]any, len(proposals))
	for i := range proposals {
		views[i] = compactProposal(proposals[i])
	}

	data, err := json.MarshalIndent(map[string]any{
		"shift_id":  shiftID,
		"proposals": views,
		"total":     total,
	}, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("mcp: marshal shift proposals: %w", err)
	}

	return []mcplib.ResourceContents{
		mcplib.TextResourceContents{
			URI:      uri,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}

// parseShiftProposalsURI extracts the shift ID from a
// musubi://shift/{id}/proposals URI.
func parseShiftProposalsURI(uri string) (uuid.UUID, error) {
	const (
		prefix = "musubi://shift/"
		suffix = "/proposals"
	)
	if !strings.HasPrefix(uri, prefix) || !strings.HasSuffix(uri, suffix) {
		return uuid.Nil, fmt.Errorf("invalid shift proposals URI: %s", uri)
	}
	raw := strings.TrimSuffix(strings.TrimPrefix(uri, prefix), suffix)
	if raw == "" {
		return uuid.Nil, fmt.Errorf("empty shift id in URI: %s", uri)
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid shift id in URI %s: %w", uri, err)
	}
	return id, nil
}

package mcp

import (
	"fmt"
	"time"

	"github.com/ashita-ai/musubi/internal/model"
)

const (
	maxCompactNotes   = 200
	maxCompactReasons = 5
)

// compactShift returns a minimal representation of a shift for MCP responses.
// Drops audit bookkeeping (created_by, updated_by, version) and empty optional
// fields that assistants don't act on. now feeds the context note.
func compactShift(s model.OpenShift, now time.Time) map[string]any {
	m := map[string]any{
		"id":             s.ID,
		"visit_id":       s.VisitID,
		"client_id":      s.ClientID,
		"branch_id":      s.BranchID,
		"scheduled_date": s.ScheduledDate.Format("2006-01-02"),
		"start_time":     s.StartTime,
		"end_time":       s.EndTime,
		"duration_min":   s.DurationMinutes,
		"timezone":       s.Timezone,
		"status":         s.MatchingStatus,
		"priority":       s.Priority,
		"is_urgent":      s.IsUrgent,
		"match_attempts": s.MatchAttempts,
	}
	if len(s.RequiredSkills) > 0 {
		m["required_skills"] = s.RequiredSkills
	}
	if len(s.RequiredCertifications) > 0 {
		m["required_certifications"] = s.RequiredCertifications
	}
	if s.GenderPreference != nil {
		m["gender_preference"] = *s.GenderPreference
	}
	if s.LanguagePreference != nil {
		m["language_preference"] = *s.LanguagePreference
	}
	if s.Address != nil {
		m["address"] = *s.Address
	}
	if s.FillByDate != nil {
		m["fill_by_date"] = *s.FillByDate
	}
	if s.Notes != nil && *s.Notes != "" {
		m["notes"] = truncate(*s.Notes, maxCompactNotes)
	}

	// Urgency context note (rule-based, not LLM).
	if note := shiftContextNote(s, now); note != "" {
		m["context_note"] = note
	}

	return m
}

// shiftContextNote produces a human-readable urgency signal for a shift.
// Rules are evaluated in priority order; first match wins. Returns "" when
// no rule fires.
func shiftContextNote(s model.OpenShift, now time.Time) string {
	switch {
	case s.FillByDate != nil && s.FillByDate.Before(now):
		return "Fill-by date has passed. Escalate or assign manually."

	case s.FillByDate != nil && s.FillByDate.Sub(now) < 24*time.Hour:
		hours := int(s.FillByDate.Sub(now).Hours())
		return fmt.Sprintf("Fill-by deadline in %dh.", hours)

	case s.MatchingStatus == model.ShiftStatusNoMatch:
		return "Last match run found no eligible caregivers. Review requirements or widen the pool."

	case s.MatchAttempts >= 3 && s.MatchingStatus != model.ShiftStatusAssigned:
		return fmt.Sprintf("%d match attempts without an assignment.", s.MatchAttempts)
	}
	return ""
}

// compactProposal returns a minimal representation of a proposal for MCP
// responses. Match reasons collapse to their descriptions.
func compactProposal(p model.AssignmentProposal) map[string]any {
	m := map[string]any{
		"id":            p.ID,
		"open_shift_id": p.OpenShiftID,
		"caregiver_id":  p.CaregiverID,
		"status":        p.ProposalStatus,
		"match_score":   p.MatchScore,
		"match_quality": p.MatchQuality,
		"method":        p.ProposalMethod,
		"proposed_at":   p.ProposedAt,
	}
	if p.UrgencyFlag {
		m["urgent"] = true
	}
	if p.SentAt != nil {
		m["sent_at"] = *p.SentAt
	}
	if p.ViewedAt != nil {
		m["viewed_at"] = *p.ViewedAt
	}
	if p.RespondedAt != nil {
		m["responded_at"] = *p.RespondedAt
	}
	if p.ExpiredAt != nil {
		m["expired_at"] = *p.ExpiredAt
	}
	if p.RejectionReason != nil && *p.RejectionReason != "" {
		m["rejection_reason"] = truncate(*p.RejectionReason, maxCompactNotes)
	}
	if p.RejectionCategory != nil {
		m["rejection_category"] = *p.RejectionCategory
	}
	if reasons := reasonLines(p.MatchReasons); len(reasons) > 0 {
		m["match_reasons"] = reasons
	}
	return m
}

// compactCandidate returns a minimal representation of a scored candidate.
// Ineligible candidates carry the gate failures instead of match reasons.
func compactCandidate(c model.MatchCandidate) map[string]any {
	m := map[string]any{
		"caregiver_id":    c.CaregiverID,
		"caregiver_name":  c.CaregiverName,
		"employment_type": c.EmploymentType,
		"overall_score":   c.OverallScore,
		"match_quality":   c.MatchQuality,
		"is_eligible":     c.IsEligible,
		"scores":          c.Scores,
		"available_hours": c.AvailableHours,
	}
	if c.DistanceFromShift != nil {
		m["distance_miles"] = *c.DistanceFromShift
	}
	if c.EstimatedTravelTime != nil {
		m["travel_minutes"] = *c.EstimatedTravelTime
	}
	if c.HasConflict {
		m["has_conflict"] = true
	}
	if len(c.Warnings) > 0 {
		m["warnings"] = c.Warnings
	}
	if !c.IsEligible {
		issues := make([]string, 0, len(c.EligibilityIssues))
		for _, iss := range c.EligibilityIssues {
			issues = append(issues, fmt.Sprintf("%s: %s", iss.Type, iss.Message))
		}
		m["eligibility_issues"] = issues
		return m
	}
	if reasons := reasonLines(c.MatchReasons); len(reasons) > 0 {
		m["match_reasons"] = reasons
	}
	return m
}

// reasonLines flattens match reasons into short strings, strongest first,
// capped at maxCompactReasons.
func reasonLines(reasons []model.MatchReason) []string {
	if len(reasons) == 0 {
		return nil
	}
	n := len(reasons)
	if n > maxCompactReasons {
		n = maxCompactReasons
	}
	lines := make([]string, 0, n)
	for _, r := range reasons[:n] {
		lines = append(lines, fmt.Sprintf("[%s] %s", r.Impact, r.Description))
	}
	return lines
}

func truncate(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen]) + "..."
}

// Package match implements the caregiver-shift scoring rubric: eligibility
// gates, per-dimension scores, weighted aggregation, and deterministic
// ranking. Scoring is pure; all inputs arrive pre-materialized on the
// caregiver context.
package match

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/ashita-ai/musubi/internal/model"
)

// DefaultMaxTravelDistance is the proximity decay horizon in miles when a
// configuration does not set one.
const DefaultMaxTravelDistance = 50.0

// Quality thresholds on the overall score.
const (
	thresholdExcellent = 85
	thresholdGood      = 70
	thresholdFair      = 55
)

// AutoAssignScore is the floor a self-select claim must reach before a
// caregiver with auto-assignment enabled is assigned without coordinator
// review.
const AutoAssignScore = 85

// QualityFor discretizes an overall score into a match quality tier.
func QualityFor(score int) model.MatchQuality {
	switch {
	case score >= thresholdExcellent:
		return model.QualityExcellent
	case score >= thresholdGood:
		return model.QualityGood
	case score >= thresholdFair:
		return model.QualityFair
	default:
		return model.QualityPoor
	}
}

// Blend combines the rubric score with an optional variant score using the
// configuration's blend fraction. w=0 returns the rubric score unchanged.
func Blend(rule, variant int, w float64) int {
	if w <= 0 {
		return rule
	}
	if w > 1 {
		w = 1
	}
	return int(math.Round((1-w)*float64(rule) + w*float64(variant)))
}

// Score evaluates one caregiver against one open shift under a
// configuration. It always returns a fully populated candidate: a failed
// gate sets IsEligible=false and records the issue, it never aborts the
// evaluation. now stamps ComputedAt so callers control the clock.
func Score(shift *model.OpenShift, ctx *model.CaregiverContext, cfg *model.MatchingConfiguration, now time.Time) model.MatchCandidate {
	cand := model.MatchCandidate{
		CaregiverID:    ctx.CaregiverID,
		OpenShiftID:    shift.ID,
		CaregiverName:  ctx.FullName(),
		EmploymentType: ctx.EmploymentType,
		Scores:         make(map[model.Dimension]float64, len(model.Dimensions)),
		ComputedAt:     now,
	}

	shiftHours := shift.ShiftHours()
	availableHours := ctx.MaxHoursPerWeek - ctx.CurrentWeekHours
	if availableHours < 0 {
		availableHours = 0
	}
	cand.AvailableHours = availableHours
	cand.HasConflict = len(ctx.ConflictingVisits) > 0

	distanceKnown := shift.Latitude != nil && shift.Longitude != nil &&
		ctx.Latitude != nil && ctx.Longitude != nil
	if distanceKnown {
		d := ctx.DistanceFromShift
		cand.DistanceFromShift = &d
		t := TravelTimeMinutes(d)
		cand.EstimatedTravelTime = &t
	}

	maxDistance := DefaultMaxTravelDistance
	if cfg.MaxTravelDistance != nil {
		maxDistance = *cfg.MaxTravelDistance
	}

	// Eligibility gates, in order. Every gate runs so the issue list is
	// complete even after the first blocking finding.

	// Gate 1: client block list.
	if shift.IsBlocked(ctx.CaregiverID) {
		cand.EligibilityIssues = append(cand.EligibilityIssues, model.EligibilityIssue{
			Type:     model.IssueBlockedByClient,
			Severity: model.SeverityBlocking,
			Message:  "caregiver is blocked by this client",
		})
	}

	// Gate 2: required certifications must be active.
	if cfg.RequireActiveCertifications {
		for _, cert := range shift.RequiredCertifications {
			if !ctx.HasActiveCertification(cert) {
				cand.EligibilityIssues = append(cand.EligibilityIssues, model.EligibilityIssue{
					Type:     model.IssueMissingCertification,
					Severity: model.SeverityBlocking,
					Message:  fmt.Sprintf("required certification %s is not active", cert),
				})
			}
		}
	}

	// Gate 3: required skills. Blocking under exact-match policy, a
	// warning otherwise (the skill dimension absorbs the gap either way).
	missingSkills := 0
	for _, skill := range shift.RequiredSkills {
		if ctx.HasSkill(skill) {
			continue
		}
		missingSkills++
		severity := model.SeverityWarning
		if cfg.RequireExactSkillMatch {
			severity = model.SeverityBlocking
		}
		issue := model.EligibilityIssue{
			Type:     model.IssueMissingSkill,
			Severity: severity,
			Message:  fmt.Sprintf("missing required skill %s", skill),
		}
		cand.EligibilityIssues = append(cand.EligibilityIssues, issue)
		if severity == model.SeverityWarning {
			cand.Warnings = append(cand.Warnings, issue.Message)
		}
	}

	// Gate 4: scheduling conflicts on the shift's day.
	if cand.HasConflict {
		cand.EligibilityIssues = append(cand.EligibilityIssues, model.EligibilityIssue{
			Type:     model.IssueTimeConflict,
			Severity: model.SeverityBlocking,
			Message:  fmt.Sprintf("%d conflicting visit(s) on the shift date", len(ctx.ConflictingVisits)),
		})
	}

	// Gate 5: weekly hour capacity.
	if ctx.CurrentWeekHours+shiftHours > ctx.MaxHoursPerWeek {
		cand.EligibilityIssues = append(cand.EligibilityIssues, model.EligibilityIssue{
			Type:     model.IssueOverCapacity,
			Severity: model.SeverityBlocking,
			Message: fmt.Sprintf("shift would exceed weekly cap (%.1f + %.1f > %.1f hours)",
				ctx.CurrentWeekHours, shiftHours, ctx.MaxHoursPerWeek),
		})
	}

	// Gate 6: compliance standing.
	if ctx.ComplianceStatus != model.ComplianceCompliant {
		cand.EligibilityIssues = append(cand.EligibilityIssues, model.EligibilityIssue{
			Type:     model.IssueNonCompliant,
			Severity: model.SeverityBlocking,
			Message:  fmt.Sprintf("compliance status is %s", ctx.ComplianceStatus),
		})
	}

	// Gate 7: stated client preferences. Mismatches warn, never block.
	genderMatch, genderMismatch := preferenceMatch(cfg.RespectGenderPreference, shift.GenderPreference, ctx.Gender)
	if genderMismatch {
		issue := model.EligibilityIssue{
			Type:     model.IssueGenderMismatch,
			Severity: model.SeverityWarning,
			Message:  "client gender preference not met",
		}
		cand.EligibilityIssues = append(cand.EligibilityIssues, issue)
		cand.Warnings = append(cand.Warnings, issue.Message)
	}
	languageMatch := false
	languageMismatch := false
	if cfg.RespectLanguagePreference && shift.LanguagePreference != nil {
		languageMatch = ctx.SpeaksLanguage(*shift.LanguagePreference)
		languageMismatch = !languageMatch
	}
	if languageMismatch {
		issue := model.EligibilityIssue{
			Type:     model.IssueLanguageMismatch,
			Severity: model.SeverityWarning,
			Message:  fmt.Sprintf("caregiver does not speak %s", *shift.LanguagePreference),
		}
		cand.EligibilityIssues = append(cand.EligibilityIssues, issue)
		cand.Warnings = append(cand.Warnings, issue.Message)
	}

	// Gate 8: travel distance. Unknown coordinates warn instead of block.
	if distanceKnown {
		if ctx.DistanceFromShift > maxDistance {
			cand.EligibilityIssues = append(cand.EligibilityIssues, model.EligibilityIssue{
				Type:     model.IssueTooFar,
				Severity: model.SeverityBlocking,
				Message:  fmt.Sprintf("%.1f miles exceeds the %.0f mile travel limit", ctx.DistanceFromShift, maxDistance),
			})
		}
	} else {
		issue := model.EligibilityIssue{
			Type:     model.IssueDistanceUnknown,
			Severity: model.SeverityWarning,
			Message:  "distance unknown: missing coordinates",
		}
		cand.EligibilityIssues = append(cand.EligibilityIssues, issue)
		cand.Warnings = append(cand.Warnings, issue.Message)
	}

	cand.IsEligible = !cand.HasBlockingIssue()

	// Dimension scores, each clipped to [0,100].

	// skill: fraction of required skills covered; vacuously perfect.
	if n := len(shift.RequiredSkills); n == 0 {
		cand.Scores[model.DimensionSkill] = 100
	} else {
		cand.Scores[model.DimensionSkill] = float64(n-missingSkills) / float64(n) * 100
	}

	// availability: any conflict zeroes it; otherwise scale by how much of
	// the shift fits in the remaining weekly hours.
	switch {
	case cand.HasConflict:
		cand.Scores[model.DimensionAvailability] = 0
	case shiftHours <= 0 || availableHours >= shiftHours:
		cand.Scores[model.DimensionAvailability] = 100
	default:
		cand.Scores[model.DimensionAvailability] = clip(availableHours / shiftHours * 100)
	}

	// proximity: linear decay from 100 at the door to 0 at the travel
	// limit; neutral 60 when distance is unknown.
	if !distanceKnown {
		cand.Scores[model.DimensionProximity] = 60
	} else {
		cand.Scores[model.DimensionProximity] = clip((1 - ctx.DistanceFromShift/maxDistance) * 100)
	}

	// preference: neutral 50 baseline, 100 for explicitly preferred
	// caregivers, shaped by gender/language alignment when those gates
	// are on.
	pref := 50.0
	if shift.IsPreferred(ctx.CaregiverID) {
		pref = 100
	}
	if genderMatch {
		pref += 20
	}
	if genderMismatch {
		pref -= 30
	}
	if languageMatch {
		pref += 20
	}
	if languageMismatch {
		pref -= 30
	}
	cand.Scores[model.DimensionPreference] = clip(pref)

	// experience: 50 for a new pairing, +5 per prior visit with this
	// client saturating at 10 visits, nudged by the client's own rating.
	exp := 50 + 5*float64(minInt(ctx.PreviousVisitsWithClient, 10))
	if ctx.ClientRating != nil {
		exp += (*ctx.ClientRating - 3.0) * 5
	}
	cand.Scores[model.DimensionExperience] = clip(exp)

	// reliability: the trailing-90-day score, penalized for recent
	// rejections and boosted for consistently strong performers.
	rel := ctx.ReliabilityScore
	if cfg.PenalizeFrequentRejections {
		rel -= 5 * float64(ctx.RecentRejectionCount)
	}
	if cfg.BoostReliablePerformers && ctx.ReliabilityScore >= 90 {
		rel += 5
	}
	cand.Scores[model.DimensionReliability] = clip(rel)

	// compliance: binary.
	if ctx.ComplianceStatus == model.ComplianceCompliant {
		cand.Scores[model.DimensionCompliance] = 100
	} else {
		cand.Scores[model.DimensionCompliance] = 0
	}

	// capacity: headroom left in the week after taking this shift.
	if ctx.MaxHoursPerWeek > 0 {
		cand.Scores[model.DimensionCapacity] = clip(
			(ctx.MaxHoursPerWeek - ctx.CurrentWeekHours - shiftHours) / ctx.MaxHoursPerWeek * 100)
	} else {
		cand.Scores[model.DimensionCapacity] = 0
	}

	// Weighted aggregation. Stored configurations are validated at write
	// time; the balanced preset covers anything that slipped through.
	normalized, err := cfg.Weights.Normalize()
	if err != nil {
		normalized, _ = model.DefaultWeights().Normalize()
	}
	total := 0.0
	for _, dim := range model.Dimensions {
		total += normalized[dim] * cand.Scores[dim]
	}
	cand.OverallScore = int(math.Round(total))
	cand.MatchQuality = QualityFor(cand.OverallScore)

	cand.MatchReasons = buildReasons(cand.Scores, normalized)

	return cand
}

// preferenceMatch evaluates one stated client preference against a
// caregiver attribute. Returns (matched, mismatched); both false when the
// gate is off or the client stated nothing.
func preferenceMatch(enabled bool, want, have *string) (bool, bool) {
	if !enabled || want == nil {
		return false, false
	}
	if have != nil && *have == *want {
		return true, false
	}
	return false, true
}

// reasonPhrases maps each dimension to the stem used in match reasons.
var reasonPhrases = map[model.Dimension]string{
	model.DimensionSkill:        "required skill coverage",
	model.DimensionAvailability: "schedule availability",
	model.DimensionProximity:    "travel distance",
	model.DimensionPreference:   "client preference alignment",
	model.DimensionExperience:   "history with this client",
	model.DimensionReliability:  "reliability track record",
	model.DimensionCompliance:   "compliance standing",
	model.DimensionCapacity:     "remaining weekly capacity",
}

// buildReasons derives match reasons deterministically: the three
// highest-scoring dimensions read as positives, every dimension under 50
// reads as a negative. Ties resolve in canonical dimension order.
func buildReasons(scores map[model.Dimension]float64, weights map[model.Dimension]float64) []model.MatchReason {
	ordered := make([]model.Dimension, len(model.Dimensions))
	copy(ordered, model.Dimensions)
	sort.SliceStable(ordered, func(i, j int) bool {
		return scores[ordered[i]] > scores[ordered[j]]
	})

	reasons := make([]model.MatchReason, 0, 4)
	top := make(map[model.Dimension]bool, 3)
	for _, dim := range ordered[:3] {
		top[dim] = true
		reasons = append(reasons, model.MatchReason{
			Category:    string(dim),
			Description: fmt.Sprintf("%s: %.0f/100", reasonPhrases[dim], scores[dim]),
			Impact:      model.ImpactPositive,
			Weight:      weights[dim],
		})
	}
	for _, dim := range model.Dimensions {
		if top[dim] || scores[dim] >= 50 {
			continue
		}
		reasons = append(reasons, model.MatchReason{
			Category:    string(dim),
			Description: fmt.Sprintf("%s: %.0f/100", reasonPhrases[dim], scores[dim]),
			Impact:      model.ImpactNegative,
			Weight:      weights[dim],
		})
	}
	return reasons
}

func clip(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

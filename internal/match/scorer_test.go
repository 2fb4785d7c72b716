package match_test

import (
	"math"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/musubi/internal/match"
	"github.com/ashita-ai/musubi/internal/model"
)

var scoreTime = time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)

func floatPtr(v float64) *float64 { return &v }
func strPtr(s string) *string     { return &s }

// baseShift is a 4-hour personal care shift with coordinates.
func baseShift() *model.OpenShift {
	return &model.OpenShift{
		ID:                     uuid.New(),
		VisitID:                uuid.New(),
		OrganizationID:         uuid.New(),
		BranchID:               uuid.New(),
		ClientID:               uuid.New(),
		ScheduledDate:          time.Date(2025, 6, 3, 0, 0, 0, 0, time.UTC),
		StartTime:              "09:00",
		EndTime:                "13:00",
		DurationMinutes:        240,
		Timezone:               "America/New_York",
		RequiredSkills:         []string{"Personal Care"},
		RequiredCertifications: []string{"CNA"},
		Latitude:               floatPtr(40.0),
		Longitude:              floatPtr(-74.0),
		MatchingStatus:         model.ShiftStatusNew,
		Priority:               model.PriorityMedium,
	}
}

// baseContext is an eligible caregiver 10 miles out with half a week free.
func baseContext() *model.CaregiverContext {
	return &model.CaregiverContext{
		CaregiverID:      uuid.New(),
		FirstName:        "Dana",
		LastName:         "Reyes",
		EmploymentType:   model.EmploymentFullTime,
		BranchID:         uuid.New(),
		Languages:        []string{"English"},
		Skills:           []string{"Personal Care"},
		Certifications:   []model.Certification{{Type: "CNA", Status: model.CertificationActive}},
		ComplianceStatus: model.ComplianceCompliant,
		MaxHoursPerWeek:  40,
		Latitude:         floatPtr(40.1),
		Longitude:        floatPtr(-74.1),
		CurrentWeekHours: 20,
		ReliabilityScore: 90,

		DistanceFromShift: 10,
	}
}

func baseConfig() *model.MatchingConfiguration {
	return &model.MatchingConfiguration{
		ID:                          uuid.New(),
		OrganizationID:              uuid.New(),
		Name:                        "default",
		Weights:                     model.DefaultWeights(),
		RequireExactSkillMatch:      true,
		RequireActiveCertifications: true,
		RespectGenderPreference:     true,
		RespectLanguagePreference:   true,
		MinScoreForProposal:         50,
		MaxProposalsPerShift:        5,
		ProposalExpirationMinutes:   120,
		OptimizeFor:                 model.OptimizeBestMatch,
	}
}

func TestScoreEligibleCandidate(t *testing.T) {
	cand := match.Score(baseShift(), baseContext(), baseConfig(), scoreTime)

	require.True(t, cand.IsEligible)
	assert.Empty(t, cand.Warnings)
	assert.Equal(t, scoreTime, cand.ComputedAt)

	assert.InDelta(t, 100, cand.Scores[model.DimensionSkill], 1e-9)
	assert.InDelta(t, 100, cand.Scores[model.DimensionAvailability], 1e-9)
	assert.InDelta(t, 80, cand.Scores[model.DimensionProximity], 1e-9)
	assert.InDelta(t, 50, cand.Scores[model.DimensionPreference], 1e-9)
	assert.InDelta(t, 50, cand.Scores[model.DimensionExperience], 1e-9)
	assert.InDelta(t, 90, cand.Scores[model.DimensionReliability], 1e-9)
	assert.InDelta(t, 100, cand.Scores[model.DimensionCompliance], 1e-9)
	assert.InDelta(t, 40, cand.Scores[model.DimensionCapacity], 1e-9)

	// 25+20+12+5+5+9+5+2 under the balanced preset.
	assert.Equal(t, 83, cand.OverallScore)
	assert.Equal(t, model.QualityGood, cand.MatchQuality)

	require.NotNil(t, cand.DistanceFromShift)
	assert.InDelta(t, 10, *cand.DistanceFromShift, 1e-9)
	require.NotNil(t, cand.EstimatedTravelTime)
	assert.Equal(t, 24, *cand.EstimatedTravelTime)
	assert.InDelta(t, 20, cand.AvailableHours, 1e-9)
}

func TestScoreEligibilityGates(t *testing.T) {
	tests := []struct {
		name     string
		mutate   func(*model.OpenShift, *model.CaregiverContext, *model.MatchingConfiguration)
		issue    model.IssueType
		severity model.IssueSeverity
	}{
		{
			"blocked by client",
			func(s *model.OpenShift, c *model.CaregiverContext, _ *model.MatchingConfiguration) {
				s.BlockedCaregivers = []uuid.UUID{c.CaregiverID}
			},
			model.IssueBlockedByClient, model.SeverityBlocking,
		},
		{
			"expired certification",
			func(_ *model.OpenShift, c *model.CaregiverContext, _ *model.MatchingConfiguration) {
				c.Certifications = []model.Certification{{Type: "CNA", Status: model.CertificationExpired}}
			},
			model.IssueMissingCertification, model.SeverityBlocking,
		},
		{
			"missing skill under exact match",
			func(_ *model.OpenShift, c *model.CaregiverContext, _ *model.MatchingConfiguration) {
				c.Skills = nil
			},
			model.IssueMissingSkill, model.SeverityBlocking,
		},
		{
			"time conflict",
			func(_ *model.OpenShift, c *model.CaregiverContext, _ *model.MatchingConfiguration) {
				c.ConflictingVisits = []model.VisitInterval{{VisitID: uuid.New(), StartTime: "10:00", EndTime: "12:00"}}
			},
			model.IssueTimeConflict, model.SeverityBlocking,
		},
		{
			"over weekly cap",
			func(_ *model.OpenShift, c *model.CaregiverContext, _ *model.MatchingConfiguration) {
				c.CurrentWeekHours = 38
			},
			model.IssueOverCapacity, model.SeverityBlocking,
		},
		{
			"non-compliant",
			func(_ *model.OpenShift, c *model.CaregiverContext, _ *model.MatchingConfiguration) {
				c.ComplianceStatus = model.CompliancePendingReview
			},
			model.IssueNonCompliant, model.SeverityBlocking,
		},
		{
			"too far",
			func(_ *model.OpenShift, c *model.CaregiverContext, _ *model.MatchingConfiguration) {
				c.DistanceFromShift = 60
			},
			model.IssueTooFar, model.SeverityBlocking,
		},
		{
			"gender preference mismatch warns",
			func(s *model.OpenShift, c *model.CaregiverContext, _ *model.MatchingConfiguration) {
				s.GenderPreference = strPtr("female")
				c.Gender = strPtr("male")
			},
			model.IssueGenderMismatch, model.SeverityWarning,
		},
		{
			"language preference mismatch warns",
			func(s *model.OpenShift, _ *model.CaregiverContext, _ *model.MatchingConfiguration) {
				s.LanguagePreference = strPtr("Spanish")
			},
			model.IssueLanguageMismatch, model.SeverityWarning,
		},
		{
			"unknown distance warns",
			func(_ *model.OpenShift, c *model.CaregiverContext, _ *model.MatchingConfiguration) {
				c.Latitude = nil
				c.Longitude = nil
			},
			model.IssueDistanceUnknown, model.SeverityWarning,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			shift, ctx, cfg := baseShift(), baseContext(), baseConfig()
			tt.mutate(shift, ctx, cfg)
			cand := match.Score(shift, ctx, cfg, scoreTime)

			var found *model.EligibilityIssue
			for i := range cand.EligibilityIssues {
				if cand.EligibilityIssues[i].Type == tt.issue {
					found = &cand.EligibilityIssues[i]
					break
				}
			}
			require.NotNil(t, found, "expected issue %s, got %+v", tt.issue, cand.EligibilityIssues)
			assert.Equal(t, tt.severity, found.Severity)

			if tt.severity == model.SeverityBlocking {
				assert.False(t, cand.IsEligible)
			} else {
				assert.True(t, cand.IsEligible, "warnings must not block")
				assert.Contains(t, cand.Warnings, found.Message)
			}
		})
	}
}

func TestScoreCollectsAllIssues(t *testing.T) {
	// Gates never short-circuit: a blocked, non-compliant caregiver with a
	// conflict reports all three findings.
	shift, ctx, cfg := baseShift(), baseContext(), baseConfig()
	shift.BlockedCaregivers = []uuid.UUID{ctx.CaregiverID}
	ctx.ComplianceStatus = model.ComplianceNonCompliant
	ctx.ConflictingVisits = []model.VisitInterval{{VisitID: uuid.New(), StartTime: "09:00", EndTime: "10:00"}}

	cand := match.Score(shift, ctx, cfg, scoreTime)
	require.False(t, cand.IsEligible)

	types := make([]model.IssueType, 0, len(cand.EligibilityIssues))
	for _, issue := range cand.EligibilityIssues {
		types = append(types, issue.Type)
	}
	assert.Contains(t, types, model.IssueBlockedByClient)
	assert.Contains(t, types, model.IssueNonCompliant)
	assert.Contains(t, types, model.IssueTimeConflict)

	// Scores are still fully populated for the ineligible candidate.
	assert.Len(t, cand.Scores, len(model.Dimensions))
}

func TestScoreSkillDimension(t *testing.T) {
	t.Run("no requirements is vacuously perfect", func(t *testing.T) {
		shift := baseShift()
		shift.RequiredSkills = nil
		cand := match.Score(shift, baseContext(), baseConfig(), scoreTime)
		assert.InDelta(t, 100, cand.Scores[model.DimensionSkill], 1e-9)
	})

	t.Run("partial coverage scales", func(t *testing.T) {
		shift := baseShift()
		shift.RequiredSkills = []string{"Personal Care", "Wound Care", "Hoyer Lift", "Dementia Care"}
		cfg := baseConfig()
		cfg.RequireExactSkillMatch = false
		cand := match.Score(shift, baseContext(), cfg, scoreTime)
		assert.InDelta(t, 25, cand.Scores[model.DimensionSkill], 1e-9)
		assert.True(t, cand.IsEligible)
		assert.Len(t, cand.Warnings, 3)
	})
}

func TestScoreAvailabilityDimension(t *testing.T) {
	t.Run("conflict zeroes availability", func(t *testing.T) {
		ctx := baseContext()
		ctx.ConflictingVisits = []model.VisitInterval{{VisitID: uuid.New(), StartTime: "12:00", EndTime: "14:00"}}
		cand := match.Score(baseShift(), ctx, baseConfig(), scoreTime)
		assert.Zero(t, cand.Scores[model.DimensionAvailability])
		assert.True(t, cand.HasConflict)
	})

	t.Run("tight week scales down", func(t *testing.T) {
		ctx := baseContext()
		ctx.CurrentWeekHours = 38 // 2h left for a 4h shift
		cand := match.Score(baseShift(), ctx, baseConfig(), scoreTime)
		assert.InDelta(t, 50, cand.Scores[model.DimensionAvailability], 1e-9)
	})
}

func TestScoreProximityDimension(t *testing.T) {
	tests := []struct {
		name     string
		distance float64
		maxDist  *float64
		want     float64
	}{
		{"at the door", 0, nil, 100},
		{"halfway to the default limit", 25, nil, 50},
		{"at the default limit", 50, nil, 0},
		{"custom limit", 10, floatPtr(20), 50},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := baseContext()
			ctx.DistanceFromShift = tt.distance
			cfg := baseConfig()
			cfg.MaxTravelDistance = tt.maxDist
			cand := match.Score(baseShift(), ctx, cfg, scoreTime)
			assert.InDelta(t, tt.want, cand.Scores[model.DimensionProximity], 1e-9)
		})
	}

	t.Run("unknown distance is neutral", func(t *testing.T) {
		ctx := baseContext()
		ctx.Latitude, ctx.Longitude = nil, nil
		cand := match.Score(baseShift(), ctx, baseConfig(), scoreTime)
		assert.InDelta(t, 60, cand.Scores[model.DimensionProximity], 1e-9)
		assert.Nil(t, cand.DistanceFromShift)
		assert.Nil(t, cand.EstimatedTravelTime)
	})
}

func TestScorePreferenceDimension(t *testing.T) {
	t.Run("preferred caregiver scores 100", func(t *testing.T) {
		shift, ctx := baseShift(), baseContext()
		shift.PreferredCaregivers = []uuid.UUID{ctx.CaregiverID}
		cand := match.Score(shift, ctx, baseConfig(), scoreTime)
		assert.InDelta(t, 100, cand.Scores[model.DimensionPreference], 1e-9)
	})

	t.Run("gender and language matches add up", func(t *testing.T) {
		shift, ctx := baseShift(), baseContext()
		shift.GenderPreference = strPtr("female")
		shift.LanguagePreference = strPtr("Spanish")
		ctx.Gender = strPtr("female")
		ctx.Languages = []string{"English", "Spanish"}
		cand := match.Score(shift, ctx, baseConfig(), scoreTime)
		assert.InDelta(t, 90, cand.Scores[model.DimensionPreference], 1e-9)
	})

	t.Run("mismatches subtract", func(t *testing.T) {
		shift, ctx := baseShift(), baseContext()
		shift.GenderPreference = strPtr("female")
		shift.LanguagePreference = strPtr("Spanish")
		ctx.Gender = strPtr("male")
		cand := match.Score(shift, ctx, baseConfig(), scoreTime)
		// 50 - 30 - 30, clipped at 0.
		assert.Zero(t, cand.Scores[model.DimensionPreference])
	})

	t.Run("disabled gates ignore preferences", func(t *testing.T) {
		shift, ctx, cfg := baseShift(), baseContext(), baseConfig()
		shift.GenderPreference = strPtr("female")
		ctx.Gender = strPtr("male")
		cfg.RespectGenderPreference = false
		cand := match.Score(shift, ctx, cfg, scoreTime)
		assert.InDelta(t, 50, cand.Scores[model.DimensionPreference], 1e-9)
		assert.True(t, cand.IsEligible)
	})
}

func TestScoreExperienceDimension(t *testing.T) {
	tests := []struct {
		name   string
		visits int
		rating *float64
		want   float64
	}{
		{"new pairing", 0, nil, 50},
		{"saturates at ten visits", 15, nil, 100},
		{"mid history", 3, nil, 65},
		{"five-star client lifts", 3, floatPtr(5.0), 75},
		{"poor rating drags", 3, floatPtr(1.0), 55},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := baseContext()
			ctx.PreviousVisitsWithClient = tt.visits
			ctx.ClientRating = tt.rating
			cand := match.Score(baseShift(), ctx, baseConfig(), scoreTime)
			assert.InDelta(t, tt.want, cand.Scores[model.DimensionExperience], 1e-9)
		})
	}
}

func TestScoreReliabilityDimension(t *testing.T) {
	t.Run("rejection penalty", func(t *testing.T) {
		ctx, cfg := baseContext(), baseConfig()
		ctx.ReliabilityScore = 80
		ctx.RecentRejectionCount = 3
		cfg.PenalizeFrequentRejections = true
		cand := match.Score(baseShift(), ctx, cfg, scoreTime)
		assert.InDelta(t, 65, cand.Scores[model.DimensionReliability], 1e-9)
	})

	t.Run("penalty off by default", func(t *testing.T) {
		ctx := baseContext()
		ctx.ReliabilityScore = 80
		ctx.RecentRejectionCount = 3
		cand := match.Score(baseShift(), ctx, baseConfig(), scoreTime)
		assert.InDelta(t, 80, cand.Scores[model.DimensionReliability], 1e-9)
	})

	t.Run("performer boost caps at 100", func(t *testing.T) {
		ctx, cfg := baseContext(), baseConfig()
		ctx.ReliabilityScore = 97
		cfg.BoostReliablePerformers = true
		cand := match.Score(baseShift(), ctx, cfg, scoreTime)
		assert.InDelta(t, 100, cand.Scores[model.DimensionReliability], 1e-9)
	})

	t.Run("boost needs 90", func(t *testing.T) {
		ctx, cfg := baseContext(), baseConfig()
		ctx.ReliabilityScore = 89
		cfg.BoostReliablePerformers = true
		cand := match.Score(baseShift(), ctx, cfg, scoreTime)
		assert.InDelta(t, 89, cand.Scores[model.DimensionReliability], 1e-9)
	})
}

func TestScoreCapacityFloor(t *testing.T) {
	ctx := baseContext()
	ctx.CurrentWeekHours = 39 // 4h shift would overshoot
	cand := match.Score(baseShift(), ctx, baseConfig(), scoreTime)
	assert.Zero(t, cand.Scores[model.DimensionCapacity])
}

func TestScoreWeightedAggregation(t *testing.T) {
	// The overall score must equal round(sum of normalized weight x score)
	// for any weight profile.
	profiles := []model.ScoringWeights{
		model.DefaultWeights(),
		{model.DimensionSkill: 1},
		{model.DimensionProximity: 3, model.DimensionReliability: 1},
		{
			model.DimensionSkill: 7, model.DimensionAvailability: 13,
			model.DimensionProximity: 1, model.DimensionPreference: 2,
			model.DimensionExperience: 5, model.DimensionReliability: 11,
			model.DimensionCompliance: 3, model.DimensionCapacity: 17,
		},
	}
	for _, weights := range profiles {
		cfg := baseConfig()
		cfg.Weights = weights
		cand := match.Score(baseShift(), baseContext(), cfg, scoreTime)

		normalized, err := weights.Normalize()
		require.NoError(t, err)
		want := 0.0
		for _, dim := range model.Dimensions {
			want += normalized[dim] * cand.Scores[dim]
		}
		assert.Equal(t, int(math.Round(want)), cand.OverallScore)
		assert.GreaterOrEqual(t, cand.OverallScore, 0)
		assert.LessOrEqual(t, cand.OverallScore, 100)
	}
}

func TestQualityForMonotone(t *testing.T) {
	assert.Equal(t, model.QualityExcellent, match.QualityFor(85))
	assert.Equal(t, model.QualityGood, match.QualityFor(84))
	assert.Equal(t, model.QualityGood, match.QualityFor(70))
	assert.Equal(t, model.QualityFair, match.QualityFor(69))
	assert.Equal(t, model.QualityFair, match.QualityFor(55))
	assert.Equal(t, model.QualityPoor, match.QualityFor(54))
	assert.Equal(t, model.QualityPoor, match.QualityFor(0))
	assert.Equal(t, model.QualityExcellent, match.QualityFor(100))
}

func TestScoreMatchReasons(t *testing.T) {
	cand := match.Score(baseShift(), baseContext(), baseConfig(), scoreTime)

	var positives, negatives []model.MatchReason
	for _, r := range cand.MatchReasons {
		switch r.Impact {
		case model.ImpactPositive:
			positives = append(positives, r)
		case model.ImpactNegative:
			negatives = append(negatives, r)
		}
	}
	require.Len(t, positives, 3)

	// Three dimensions tie at 100; canonical order keeps the output stable.
	assert.Equal(t, string(model.DimensionSkill), positives[0].Category)
	assert.Equal(t, string(model.DimensionAvailability), positives[1].Category)
	assert.Equal(t, string(model.DimensionCompliance), positives[2].Category)

	// Capacity scored 40 in the base fixture.
	require.Len(t, negatives, 1)
	assert.Equal(t, string(model.DimensionCapacity), negatives[0].Category)

	// Weights are the normalized fractions.
	assert.InDelta(t, 0.25, positives[0].Weight, 1e-9)
	assert.InDelta(t, 0.05, negatives[0].Weight, 1e-9)
}

func TestBlend(t *testing.T) {
	assert.Equal(t, 80, match.Blend(80, 40, 0))
	assert.Equal(t, 40, match.Blend(80, 40, 1))
	assert.Equal(t, 70, match.Blend(80, 40, 0.25))
	assert.Equal(t, 80, match.Blend(80, 40, -0.5))
}

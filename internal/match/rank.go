package match

import (
	"sort"

	"github.com/ashita-ai/musubi/internal/model"
)

// Rank orders candidates in place: overall score descending, then the
// reliability dimension descending, then distance ascending (unknown
// distance ranks last), then caregiver id ascending. The final key makes
// the order total, so identical inputs always rank identically.
func Rank(candidates []model.MatchCandidate) {
	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.OverallScore != b.OverallScore {
			return a.OverallScore > b.OverallScore
		}
		ra, rb := a.Scores[model.DimensionReliability], b.Scores[model.DimensionReliability]
		if ra != rb {
			return ra > rb
		}
		da, db := rankDistance(a), rankDistance(b)
		if da != db {
			return da < db
		}
		return a.CaregiverID.String() < b.CaregiverID.String()
	})
}

// rankDistance treats unknown distance as beyond any known one.
func rankDistance(c model.MatchCandidate) float64 {
	if c.DistanceFromShift == nil {
		return 1e9
	}
	return *c.DistanceFromShift
}

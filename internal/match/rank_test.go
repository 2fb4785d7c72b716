package match_test

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/musubi/internal/match"
	"github.com/ashita-ai/musubi/internal/model"
)

func candidate(score int, reliability float64, distance *float64, id uuid.UUID) model.MatchCandidate {
	return model.MatchCandidate{
		CaregiverID:       id,
		OverallScore:      score,
		Scores:            map[model.Dimension]float64{model.DimensionReliability: reliability},
		DistanceFromShift: distance,
	}
}

func TestRankOrdering(t *testing.T) {
	idA := uuid.MustParse("00000000-0000-0000-0000-00000000000a")
	idB := uuid.MustParse("00000000-0000-0000-0000-00000000000b")

	tests := []struct {
		name  string
		input []model.MatchCandidate
		want  []uuid.UUID
	}{
		{
			"higher score first",
			[]model.MatchCandidate{
				candidate(80, 99, floatPtr(1), idB),
				candidate(90, 10, floatPtr(40), idA),
			},
			[]uuid.UUID{idA, idB},
		},
		{
			"score tie falls to reliability",
			[]model.MatchCandidate{
				candidate(85, 70, floatPtr(1), idB),
				candidate(85, 90, floatPtr(40), idA),
			},
			[]uuid.UUID{idA, idB},
		},
		{
			"reliability tie falls to distance",
			[]model.MatchCandidate{
				candidate(85, 90, floatPtr(15), idB),
				candidate(85, 90, floatPtr(5), idA),
			},
			[]uuid.UUID{idA, idB},
		},
		{
			"unknown distance sorts last",
			[]model.MatchCandidate{
				candidate(85, 90, nil, idB),
				candidate(85, 90, floatPtr(45), idA),
			},
			[]uuid.UUID{idA, idB},
		},
		{
			"full tie falls to caregiver id",
			[]model.MatchCandidate{
				candidate(85, 90, floatPtr(5), idB),
				candidate(85, 90, floatPtr(5), idA),
			},
			[]uuid.UUID{idA, idB},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			match.Rank(tt.input)
			got := make([]uuid.UUID, len(tt.input))
			for i, c := range tt.input {
				got[i] = c.CaregiverID
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRankDeterministic(t *testing.T) {
	ids := make([]uuid.UUID, 6)
	for i := range ids {
		ids[i] = uuid.New()
	}
	build := func(order []int) []model.MatchCandidate {
		out := make([]model.MatchCandidate, 0, len(order))
		for _, i := range order {
			out = append(out, candidate(85, 90, floatPtr(5), ids[i]))
		}
		return out
	}

	forward := build([]int{0, 1, 2, 3, 4, 5})
	reversed := build([]int{5, 4, 3, 2, 1, 0})
	match.Rank(forward)
	match.Rank(reversed)

	require.Len(t, reversed, len(forward))
	for i := range forward {
		assert.Equal(t, forward[i].CaregiverID, reversed[i].CaregiverID,
			"identical candidate pools must rank identically regardless of input order")
	}
}

package orchestrator

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestScore(t *testing.T) {
	cases := []struct {
		name string
		in   Metrics
		want int
	}{
		{"green run under the wire", Metrics{TotalTimeMs: 100_000}, 110},
		{"slow green run", Metrics{TotalTimeMs: 400_000}, 100},
		{"fix bonus caps at twenty", Metrics{TotalTimeMs: 400_000, FixCount: 50}, 140},
		{"commit cap", Metrics{TotalTimeMs: 200_000, CommitCount: 25, FixCount: 10, IterationCount: 3}, 120},
		{"iteration penalty", Metrics{TotalTimeMs: 400_000, IterationCount: 5}, 90},
		{"floor at zero", Metrics{TotalTimeMs: 400_000, CommitCount: 200}, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Score(tc.in).Total)
		})
	}
}

func TestScoreBreakdownSumsToTotal(t *testing.T) {
	b := Score(Metrics{TotalTimeMs: 200_000, CommitCount: 25, FixCount: 10, IterationCount: 6})
	assert.Equal(t, b.Total, b.Base+b.SpeedBonus+b.FixBonus+b.CommitPenalty+b.IterationPenalty)
	assert.LessOrEqual(t, b.CommitPenalty, 0)
	assert.LessOrEqual(t, b.IterationPenalty, 0)
}

func TestScoreBounds(t *testing.T) {
	inputs := []Metrics{
		{},
		{TotalTimeMs: 1, FixCount: 100, CommitCount: 100, IterationCount: 100},
		{TotalTimeMs: 1 << 40, CommitCount: 1000},
	}
	for _, in := range inputs {
		b := Score(in)
		assert.GreaterOrEqual(t, b.Total, 0)
		assert.LessOrEqual(t, b.Total, b.Base+b.SpeedBonus+b.FixBonus)
	}
}

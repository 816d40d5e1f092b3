package orchestrator

import "github.com/healbot/healbot/model"

// Score bounds and weights.
const (
	scoreBase       = 100
	speedBonusMs    = 300_000
	speedBonus      = 10
	fixBonusCap     = 20
	fixBonusWeight  = 2
	commitFreeCount = 20
	commitWeight    = 2
	iterFreeCount   = 3
	iterWeight      = 5
)

// Metrics are the inputs to scoring. IterationCount excludes the initial
// analysis pass.
type Metrics struct {
	TotalTimeMs    int64
	CommitCount    int
	FixCount       int
	IterationCount int
}

// Score maps run metrics to a score breakdown. Penalties are recorded as
// non-positive values so the serialized breakdown sums to the total, which
// is clamped at zero.
func Score(m Metrics) model.ScoreBreakdown {
	b := model.ScoreBreakdown{Base: scoreBase}

	if m.TotalTimeMs < speedBonusMs {
		b.SpeedBonus = speedBonus
	}

	fixes := m.FixCount
	if fixes > fixBonusCap {
		fixes = fixBonusCap
	}
	b.FixBonus = fixes * fixBonusWeight

	if m.CommitCount > commitFreeCount {
		b.CommitPenalty = -(m.CommitCount - commitFreeCount) * commitWeight
	}
	if m.IterationCount > iterFreeCount {
		b.IterationPenalty = -(m.IterationCount - iterFreeCount) * iterWeight
	}

	b.Total = b.Base + b.SpeedBonus + b.FixBonus + b.CommitPenalty + b.IterationPenalty
	if b.Total < 0 {
		b.Total = 0
	}
	return b
}

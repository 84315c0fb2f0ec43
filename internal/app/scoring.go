package app

import (
	"math"
	"time"
)

// ScoringConfig holds the point constants for both contest formats. Scoring
// is a pure function of its inputs; nothing here reads contest state.
type ScoringConfig struct {
	BasePoints        int
	MaxPoints         int
	FirstCorrectBonus int
	ClickAward        int
}

// DefaultScoring matches the constants the bot ships with.
var DefaultScoring = ScoringConfig{
	BasePoints:        30,
	MaxPoints:         100,
	FirstCorrectBonus: 25,
	ClickAward:        50,
}

func (c ScoringConfig) withDefaults() ScoringConfig {
	if c.MaxPoints <= 0 {
		c.MaxPoints = DefaultScoring.MaxPoints
	}
	if c.BasePoints <= 0 {
		c.BasePoints = DefaultScoring.BasePoints
	}
	if c.FirstCorrectBonus <= 0 {
		c.FirstCorrectBonus = DefaultScoring.FirstCorrectBonus
	}
	if c.ClickAward <= 0 {
		c.ClickAward = DefaultScoring.ClickAward
	}
	return c
}

// QuizScore decays linearly from MaxPoints at the start of the window to
// BasePoints at the deadline. The first-correct bonus depends on arrival
// order only, never on elapsed time, so a slow but genuinely first correct
// answer still earns it.
func (c ScoringConfig) QuizScore(elapsed time.Duration, durationSeconds int, first bool) int {
	window := float64(durationSeconds) * 1000
	ratio := 0.0
	if window > 0 {
		ratio = 1 - float64(elapsed.Milliseconds())/window
	}
	if ratio < 0 {
		ratio = 0
	}
	score := int(math.Round(float64(c.BasePoints) + ratio*float64(c.MaxPoints-c.BasePoints)))
	if first {
		score += c.FirstCorrectBonus
	}
	return score
}

// DefaultLevelThresholds maps cumulative points to levels 0..8.
var DefaultLevelThresholds = []int{0, 100, 250, 500, 1000, 2000, 4000, 8000, 16000}

// LevelFor returns the highest level whose threshold is at or below points.
// It is monotonic non-decreasing in points for any sorted threshold table.
func LevelFor(thresholds []int, points int) int {
	if len(thresholds) == 0 {
		thresholds = DefaultLevelThresholds
	}
	level := 0
	for i, threshold := range thresholds {
		if points < threshold {
			break
		}
		level = i
	}
	return level
}

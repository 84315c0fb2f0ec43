package app

import (
	"testing"
	"time"
)

func TestQuizScoreDecay(t *testing.T) {
	cfg := ScoringConfig{BasePoints: 30, MaxPoints: 100, FirstCorrectBonus: 25, ClickAward: 50}

	cases := []struct {
		name    string
		elapsed time.Duration
		first   bool
		want    int
	}{
		{"instant first", 0, true, 125},
		{"instant non-first", 0, false, 100},
		{"half window", 15 * time.Second, false, 65},
		{"half window first", 15 * time.Second, true, 90},
		{"at deadline first", 30 * time.Second, true, 55},
		{"at deadline non-first", 30 * time.Second, false, 30},
		{"past deadline clamps", 45 * time.Second, false, 30},
	}
	for _, tc := range cases {
		if got := cfg.QuizScore(tc.elapsed, 30, tc.first); got != tc.want {
			t.Errorf("%s: QuizScore(%v, 30, %v) = %d, want %d", tc.name, tc.elapsed, tc.first, got, tc.want)
		}
	}
}

func TestQuizScoreZeroWindow(t *testing.T) {
	cfg := ScoringConfig{BasePoints: 30, MaxPoints: 100, FirstCorrectBonus: 25}
	if got := cfg.QuizScore(0, 0, false); got != 30 {
		t.Fatalf("zero-duration window should score base points, got %d", got)
	}
}

func TestLevelForMonotonic(t *testing.T) {
	prev := 0
	for points := 0; points <= 20000; points++ {
		level := LevelFor(DefaultLevelThresholds, points)
		if level < prev {
			t.Fatalf("level decreased at %d points: %d -> %d", points, prev, level)
		}
		prev = level
	}
	if prev != len(DefaultLevelThresholds)-1 {
		t.Fatalf("expected top level %d at 20000 points, got %d", len(DefaultLevelThresholds)-1, prev)
	}
}

func TestLevelForThresholdEdges(t *testing.T) {
	cases := []struct {
		points int
		want   int
	}{
		{0, 0}, {99, 0}, {100, 1}, {249, 1}, {250, 2}, {16000, 8},
	}
	for _, tc := range cases {
		if got := LevelFor(DefaultLevelThresholds, tc.points); got != tc.want {
			t.Errorf("LevelFor(%d) = %d, want %d", tc.points, got, tc.want)
		}
	}
}

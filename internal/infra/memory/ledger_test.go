package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"arena-service/internal/domain"
)

func TestAwardAccumulatesAtomically(t *testing.T) {
	ctx := context.Background()
	ledger := NewLedger(nil)

	const workers = 50
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := ledger.Award(ctx, "g1", "u1", 10, domain.ReasonQuizCorrect, "s1"); err != nil {
				t.Errorf("award: %v", err)
			}
		}()
	}
	wg.Wait()

	profile, err := ledger.GetProfile(ctx, "g1", "u1")
	if err != nil {
		t.Fatalf("profile: %v", err)
	}
	if profile.Points != workers*10 {
		t.Fatalf("expected %d points, got %d", workers*10, profile.Points)
	}
	if len(profile.History) != workers {
		t.Fatalf("expected %d history entries, got %d", workers, len(profile.History))
	}
}

func TestAwardReportsLevelUp(t *testing.T) {
	ctx := context.Background()
	ledger := NewLedger([]int{0, 100, 250})

	outcome, err := ledger.Award(ctx, "g1", "u1", 60, domain.ReasonQuizCorrect, "s1")
	if err != nil {
		t.Fatalf("award: %v", err)
	}
	if outcome.LeveledUp || outcome.Profile.Level != 0 {
		t.Fatalf("expected no level-up at 60 points, got %+v", outcome)
	}

	outcome, err = ledger.Award(ctx, "g1", "u1", 60, domain.ReasonQuizCorrect, "s2")
	if err != nil {
		t.Fatalf("award: %v", err)
	}
	if !outcome.LeveledUp || outcome.Profile.Level != 1 {
		t.Fatalf("expected level-up to 1 at 120 points, got %+v", outcome)
	}
}

func TestWinningAwardsAdvanceStreak(t *testing.T) {
	ctx := context.Background()
	current := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	ledger := NewLedgerWithClock(nil, func() time.Time { return current })

	outcome, _ := ledger.Award(ctx, "g1", "u1", 50, domain.ReasonClickWin, "s1")
	if outcome.Profile.Streak != 1 {
		t.Fatalf("expected streak 1, got %d", outcome.Profile.Streak)
	}

	// A win within 24h continues the streak.
	current = current.Add(12 * time.Hour)
	outcome, _ = ledger.Award(ctx, "g1", "u1", 90, domain.ReasonQuizFirst, "s2")
	if outcome.Profile.Streak != 2 {
		t.Fatalf("expected streak 2, got %d", outcome.Profile.Streak)
	}

	// Non-winning awards leave the streak alone.
	outcome, _ = ledger.Award(ctx, "g1", "u1", 30, domain.ReasonQuizCorrect, "s3")
	if outcome.Profile.Streak != 2 {
		t.Fatalf("expected streak unchanged, got %d", outcome.Profile.Streak)
	}

	// A win after the window resets to 1.
	current = current.Add(48 * time.Hour)
	outcome, _ = ledger.Award(ctx, "g1", "u1", 50, domain.ReasonClickWin, "s4")
	if outcome.Profile.Streak != 1 {
		t.Fatalf("expected streak reset to 1, got %d", outcome.Profile.Streak)
	}
}

func TestStreakWindowBoundaryIsStrict(t *testing.T) {
	ctx := context.Background()
	current := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	ledger := NewLedgerWithClock(nil, func() time.Time { return current })

	_, _ = ledger.Award(ctx, "g1", "u1", 50, domain.ReasonClickWin, "s1")

	// Just inside the window continues the streak.
	current = current.Add(24*time.Hour - time.Second)
	outcome, _ := ledger.Award(ctx, "g1", "u1", 50, domain.ReasonClickWin, "s2")
	if outcome.Profile.Streak != 2 {
		t.Fatalf("expected streak 2 just inside the window, got %d", outcome.Profile.Streak)
	}

	// Exactly 24h after the last win resets, same as the SQL comparison.
	current = current.Add(24 * time.Hour)
	outcome, _ = ledger.Award(ctx, "g1", "u1", 50, domain.ReasonClickWin, "s3")
	if outcome.Profile.Streak != 1 {
		t.Fatalf("expected streak reset at the exact boundary, got %d", outcome.Profile.Streak)
	}
}

func TestGetProfileRank(t *testing.T) {
	ctx := context.Background()
	ledger := NewLedger(nil)
	_, _ = ledger.Award(ctx, "g1", "u1", 100, domain.ReasonQuizCorrect, "s")
	_, _ = ledger.Award(ctx, "g1", "u2", 300, domain.ReasonQuizCorrect, "s")
	_, _ = ledger.Award(ctx, "g1", "u3", 200, domain.ReasonQuizCorrect, "s")

	profile, err := ledger.GetProfile(ctx, "g1", "u3")
	if err != nil {
		t.Fatalf("profile: %v", err)
	}
	if profile.Rank != 2 {
		t.Fatalf("expected rank 2, got %d", profile.Rank)
	}

	if _, err := ledger.GetProfile(ctx, "g1", "nobody"); !errors.Is(err, domain.ErrProfileNotFound) {
		t.Fatalf("expected ErrProfileNotFound, got %v", err)
	}
}

func TestLeaderboardOrderingAndRanks(t *testing.T) {
	ctx := context.Background()
	ledger := NewLedger(nil)
	_, _ = ledger.Award(ctx, "g1", "u1", 100, domain.ReasonQuizCorrect, "s")
	_, _ = ledger.Award(ctx, "g1", "u2", 300, domain.ReasonQuizCorrect, "s")
	_, _ = ledger.Award(ctx, "g1", "u3", 200, domain.ReasonQuizCorrect, "s")
	_, _ = ledger.Award(ctx, "g2", "other", 999, domain.ReasonQuizCorrect, "s")

	board, err := ledger.Leaderboard(ctx, "g1", 10)
	if err != nil {
		t.Fatalf("leaderboard: %v", err)
	}
	if len(board) != 3 {
		t.Fatalf("expected 3 profiles, got %d", len(board))
	}
	for i, wantUser := range []string{"u2", "u3", "u1"} {
		if board[i].UserID != wantUser || board[i].Rank != i+1 {
			t.Fatalf("position %d: got %s rank %d", i, board[i].UserID, board[i].Rank)
		}
	}
	for i := 1; i < len(board); i++ {
		if board[i].Points > board[i-1].Points {
			t.Fatalf("leaderboard not descending at %d", i)
		}
	}

	board, _ = ledger.Leaderboard(ctx, "g1", 2)
	if len(board) != 2 {
		t.Fatalf("expected limit applied, got %d", len(board))
	}
}

func TestLeaderboardTiesKeepInsertionOrder(t *testing.T) {
	ctx := context.Background()
	ledger := NewLedger(nil)
	_, _ = ledger.Award(ctx, "g1", "first", 100, domain.ReasonQuizCorrect, "s")
	_, _ = ledger.Award(ctx, "g1", "second", 100, domain.ReasonQuizCorrect, "s")

	board, err := ledger.Leaderboard(ctx, "g1", 10)
	if err != nil {
		t.Fatalf("leaderboard: %v", err)
	}
	if board[0].UserID != "first" || board[1].UserID != "second" {
		t.Fatalf("expected insertion order on ties, got %s then %s", board[0].UserID, board[1].UserID)
	}
}

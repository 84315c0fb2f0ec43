package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"arena-service/internal/app"
	"arena-service/internal/domain"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
)

const historyLimit = 10

// Ledger is the Postgres implementation of app.Ledger. Points only ever
// move through the atomic increment inside awardSQL; nothing here reads a
// balance and writes it back.
type Ledger struct {
	pool       *pgxpool.Pool
	thresholds []int
}

func NewLedger(pool *pgxpool.Pool, thresholds []int) *Ledger {
	return &Ledger{pool: pool, thresholds: thresholds}
}

const awardSQL = `
INSERT INTO profiles (guild_id, user_id, points, streak, last_win_at)
VALUES ($1, $2, $3,
        CASE WHEN $4 THEN 1 ELSE 0 END,
        CASE WHEN $4 THEN now() END)
ON CONFLICT (guild_id, user_id) DO UPDATE SET
  points = profiles.points + EXCLUDED.points,
  streak = CASE
    WHEN NOT $4 THEN profiles.streak
    WHEN profiles.last_win_at IS NOT NULL
         AND profiles.last_win_at > now() - interval '24 hours' THEN profiles.streak + 1
    ELSE 1
  END,
  last_win_at = CASE WHEN $4 THEN now() ELSE profiles.last_win_at END,
  updated_at = now()
RETURNING points, streak, last_win_at`

func (l *Ledger) Award(ctx context.Context, guildID, userID string, amount int, reason, sourceRef string) (domain.AwardOutcome, error) {
	winning := reason == domain.ReasonClickWin || reason == domain.ReasonQuizFirst

	tx, err := l.pool.Begin(ctx)
	if err != nil {
		return domain.AwardOutcome{}, fmt.Errorf("begin award: %w", err)
	}
	defer tx.Rollback(ctx)

	var (
		points, streak int
		lastWinAt      *time.Time
	)
	if err := tx.QueryRow(ctx, awardSQL, guildID, userID, amount, winning).Scan(&points, &streak, &lastWinAt); err != nil {
		return domain.AwardOutcome{}, fmt.Errorf("award points: %w", err)
	}
	if _, err := tx.Exec(ctx,
		`INSERT INTO profile_history (guild_id, user_id, amount, reason, source_ref) VALUES ($1, $2, $3, $4, $5)`,
		guildID, userID, amount, reason, sourceRef); err != nil {
		return domain.AwardOutcome{}, fmt.Errorf("append history: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return domain.AwardOutcome{}, fmt.Errorf("commit award: %w", err)
	}

	profile := domain.Profile{
		GuildID: guildID,
		UserID:  userID,
		Points:  points,
		Level:   app.LevelFor(l.thresholds, points),
		Streak:  streak,
	}
	if lastWinAt != nil {
		profile.LastWinAt = *lastWinAt
	}
	return domain.AwardOutcome{
		Profile:   profile,
		LeveledUp: profile.Level > app.LevelFor(l.thresholds, points-amount),
	}, nil
}

const profileSQL = `
SELECT p.points, p.streak, p.last_win_at,
       1 + (SELECT count(*) FROM profiles q
            WHERE q.guild_id = p.guild_id AND q.points > p.points) AS rank
FROM profiles p
WHERE p.guild_id = $1 AND p.user_id = $2`

func (l *Ledger) GetProfile(ctx context.Context, guildID, userID string) (domain.Profile, error) {
	profile := domain.Profile{GuildID: guildID, UserID: userID}
	var lastWinAt *time.Time
	err := l.pool.QueryRow(ctx, profileSQL, guildID, userID).
		Scan(&profile.Points, &profile.Streak, &lastWinAt, &profile.Rank)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Profile{}, domain.ErrProfileNotFound
	}
	if err != nil {
		return domain.Profile{}, fmt.Errorf("load profile: %w", err)
	}
	profile.Level = app.LevelFor(l.thresholds, profile.Points)
	if lastWinAt != nil {
		profile.LastWinAt = *lastWinAt
	}

	rows, err := l.pool.Query(ctx,
		`SELECT amount, reason, source_ref, at FROM profile_history
		 WHERE guild_id = $1 AND user_id = $2 ORDER BY at DESC, id DESC LIMIT $3`,
		guildID, userID, historyLimit)
	if err != nil {
		return domain.Profile{}, fmt.Errorf("load history: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var entry domain.HistoryEntry
		if err := rows.Scan(&entry.Amount, &entry.Reason, &entry.SourceRef, &entry.At); err != nil {
			return domain.Profile{}, fmt.Errorf("scan history: %w", err)
		}
		profile.History = append(profile.History, entry)
	}
	return profile, rows.Err()
}

func (l *Ledger) Leaderboard(ctx context.Context, guildID string, limit int) ([]domain.Profile, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := l.pool.Query(ctx,
		`SELECT user_id, points, streak, last_win_at FROM profiles
		 WHERE guild_id = $1 ORDER BY points DESC, id ASC LIMIT $2`,
		guildID, limit)
	if err != nil {
		return nil, fmt.Errorf("load leaderboard: %w", err)
	}
	defer rows.Close()

	var out []domain.Profile
	for rows.Next() {
		profile := domain.Profile{GuildID: guildID}
		var lastWinAt *time.Time
		if err := rows.Scan(&profile.UserID, &profile.Points, &profile.Streak, &lastWinAt); err != nil {
			return nil, fmt.Errorf("scan leaderboard: %w", err)
		}
		profile.Level = app.LevelFor(l.thresholds, profile.Points)
		if lastWinAt != nil {
			profile.LastWinAt = *lastWinAt
		}
		profile.Rank = len(out) + 1
		out = append(out, profile)
	}
	return out, rows.Err()
}

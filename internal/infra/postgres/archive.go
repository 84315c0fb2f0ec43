package postgres

import (
	"context"
	"fmt"
	"time"

	"arena-service/internal/domain"

	"github.com/uptrace/bun"
)

// SessionRow is the audit copy of a finished session.
type SessionRow struct {
	bun.BaseModel `bun:"table:sessions,alias:s"`

	ID              string    `bun:"id,pk"`
	GuildID         string    `bun:"guild_id,notnull"`
	ChannelID       string    `bun:"channel_id,notnull"`
	Kind            string    `bun:"kind,notnull"`
	Prompt          string    `bun:"prompt"`
	Options         []string  `bun:"options,type:jsonb"`
	CorrectIndex    int       `bun:"correct_index"`
	CreatedAt       time.Time `bun:"created_at,notnull"`
	StartedAt       time.Time `bun:"started_at,notnull"`
	DurationSeconds int       `bun:"duration_seconds,notnull"`
	ExpiresAt       time.Time `bun:"expires_at,notnull"`
	Status          string    `bun:"status,notnull"`
	CloseReason     string    `bun:"close_reason"`
	WinnerUserID    string    `bun:"winner_user_id"`
	FirstCorrectID  string    `bun:"first_correct_user_id"`
	RevealedAt      time.Time `bun:"revealed_at,nullzero"`
}

// ResponseRow is the audit copy of one recorded response.
type ResponseRow struct {
	bun.BaseModel `bun:"table:responses,alias:r"`

	SessionID   string    `bun:"session_id,pk"`
	UserID      string    `bun:"user_id,pk"`
	SubmittedAt time.Time `bun:"submitted_at,notnull"`
	ChosenIndex int       `bun:"chosen_index"`
	Text        string    `bun:"text"`
	Correct     bool      `bun:"correct,notnull"`
}

// Archive persists finished sessions and their responses for audit. Rows
// are written once a session is final, so re-archiving after a crash just
// overwrites the session row with identical data.
type Archive struct {
	db *bun.DB
}

func NewArchive(db *bun.DB) *Archive {
	return &Archive{db: db}
}

func (a *Archive) ArchiveSession(ctx context.Context, session domain.Session, responses []domain.Response) error {
	row := &SessionRow{
		ID:              session.ID,
		GuildID:         session.GuildID,
		ChannelID:       session.ChannelID,
		Kind:            string(session.Kind),
		Prompt:          session.Prompt,
		Options:         session.Options,
		CorrectIndex:    session.CorrectIndex,
		CreatedAt:       session.CreatedAt,
		StartedAt:       session.StartedAt,
		DurationSeconds: session.DurationSeconds,
		ExpiresAt:       session.ExpiresAt,
		Status:          string(session.Status),
		CloseReason:     string(session.CloseReason),
		WinnerUserID:    session.WinnerUserID,
		FirstCorrectID:  session.FirstCorrectID,
		RevealedAt:      session.RevealedAt,
	}

	return a.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewInsert().
			Model(row).
			On("CONFLICT (id) DO UPDATE").
			Set("status = EXCLUDED.status").
			Set("close_reason = EXCLUDED.close_reason").
			Set("winner_user_id = EXCLUDED.winner_user_id").
			Set("first_correct_user_id = EXCLUDED.first_correct_user_id").
			Set("revealed_at = EXCLUDED.revealed_at").
			Exec(ctx); err != nil {
			return fmt.Errorf("archive session: %w", err)
		}

		if len(responses) == 0 {
			return nil
		}
		rows := make([]ResponseRow, 0, len(responses))
		for _, r := range responses {
			rows = append(rows, ResponseRow{
				SessionID:   r.SessionID,
				UserID:      r.UserID,
				SubmittedAt: r.SubmittedAt,
				ChosenIndex: r.ChosenIndex,
				Text:        r.Text,
				Correct:     r.Correct,
			})
		}
		if _, err := tx.NewInsert().
			Model(&rows).
			On("CONFLICT (session_id, user_id) DO NOTHING").
			Exec(ctx); err != nil {
			return fmt.Errorf("archive responses: %w", err)
		}
		return nil
	})
}

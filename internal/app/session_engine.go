package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"arena-service/internal/domain"

	"github.com/google/uuid"
)

// SessionStore abstracts how contest sessions are persisted (in-memory,
// Redis, etc). All mutation beyond Create/AddResponse goes through Apply.
type SessionStore interface {
	// Create persists a new open session; it fails with
	// domain.ErrSessionActive when the channel already has an open one.
	Create(ctx context.Context, session domain.Session) error
	Get(ctx context.Context, sessionID string) (domain.Session, error)
	// AddResponse records a response; a second response for the same
	// (session, user) pair fails with domain.ErrAlreadyAnswered.
	AddResponse(ctx context.Context, response domain.Response) error
	// Apply runs a guarded transition and reports whether this caller won it.
	Apply(ctx context.Context, sessionID string, tr Transition) (bool, error)
	Responses(ctx context.Context, sessionID string) ([]domain.Response, error)
	OpenSessions(ctx context.Context) ([]domain.Session, error)
	SaveSummary(ctx context.Context, sessionID string, summary domain.Summary) error
	LoadSummary(ctx context.Context, sessionID string) (domain.Summary, bool, error)
}

// Ledger is the durable points/leveling store.
type Ledger interface {
	Award(ctx context.Context, guildID, userID string, amount int, reason, sourceRef string) (domain.AwardOutcome, error)
	GetProfile(ctx context.Context, guildID, userID string) (domain.Profile, error)
	Leaderboard(ctx context.Context, guildID string, limit int) ([]domain.Profile, error)
}

// Archiver copies finished sessions into long-term audit storage.
type Archiver interface {
	ArchiveSession(ctx context.Context, session domain.Session, responses []domain.Response) error
}

// SessionEngine orchestrates the contest lifecycle. It holds no contest
// state of its own; every race is resolved by the store's guarded
// transitions, so any number of engine instances can share one store.
type SessionEngine struct {
	store    SessionStore
	ledger   Ledger
	events   *Broadcaster
	archiver Archiver
	scoring  ScoringConfig
	logger   *slog.Logger

	defaultDuration time.Duration
	now             func() time.Time
}

// EngineOption configures optional engine collaborators.
type EngineOption func(*SessionEngine)

// WithArchiver wires best-effort audit archival of finished sessions.
func WithArchiver(a Archiver) EngineOption {
	return func(e *SessionEngine) { e.archiver = a }
}

// WithDefaultDuration sets the fallback contest duration.
func WithDefaultDuration(d time.Duration) EngineOption {
	return func(e *SessionEngine) { e.defaultDuration = d }
}

// WithClock is test-only for deterministic timestamps.
func WithClock(now func() time.Time) EngineOption {
	return func(e *SessionEngine) { e.now = now }
}

func NewSessionEngine(store SessionStore, ledger Ledger, events *Broadcaster, scoring ScoringConfig, logger *slog.Logger, opts ...EngineOption) *SessionEngine {
	e := &SessionEngine{
		store:           store,
		ledger:          ledger,
		events:          events,
		scoring:         scoring.withDefaults(),
		logger:          logger,
		defaultDuration: 30 * time.Second,
		now:             time.Now,
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Start opens a new contest in a channel. At most one session per channel
// can be open; a second Start fails with domain.ErrSessionActive and leaves
// the existing session untouched.
func (e *SessionEngine) Start(ctx context.Context, guildID, channelID string, kind domain.Kind, content domain.Content, durationSeconds int) (domain.Session, error) {
	if guildID == "" || channelID == "" {
		return domain.Session{}, fmt.Errorf("%w: guild and channel are required", domain.ErrInvalidContent)
	}
	switch kind {
	case domain.KindClick:
	case domain.KindQuiz:
		if len(content.Options) < 2 {
			return domain.Session{}, fmt.Errorf("%w: quiz needs at least 2 options", domain.ErrInvalidContent)
		}
		if content.CorrectIndex < 0 || content.CorrectIndex >= len(content.Options) {
			return domain.Session{}, fmt.Errorf("%w: correct index %d out of range", domain.ErrInvalidContent, content.CorrectIndex)
		}
	default:
		return domain.Session{}, fmt.Errorf("%w: unknown kind %q", domain.ErrInvalidContent, kind)
	}

	if durationSeconds <= 0 {
		durationSeconds = int(e.defaultDuration / time.Second)
	}

	now := e.now()
	session := domain.Session{
		ID:              uuid.NewString(),
		GuildID:         guildID,
		ChannelID:       channelID,
		Kind:            kind,
		Prompt:          content.Prompt,
		Options:         content.Options,
		CorrectIndex:    content.CorrectIndex,
		CreatedAt:       now,
		StartedAt:       now,
		DurationSeconds: durationSeconds,
		ExpiresAt:       now.Add(time.Duration(durationSeconds) * time.Second),
		Status:          domain.StatusOpen,
	}
	if err := e.store.Create(ctx, session); err != nil {
		return domain.Session{}, err
	}

	e.logger.Info("session started",
		slog.String("session_id", session.ID),
		slog.String("guild_id", guildID),
		slog.String("channel_id", channelID),
		slog.String("kind", string(kind)),
		slog.Int("duration_s", durationSeconds))
	e.events.Publish(Event{
		Type:      EventSessionStarted,
		GuildID:   guildID,
		ChannelID: channelID,
		SessionID: session.ID,
		Kind:      kind,
	})
	return session, nil
}

// Submit records one participant's response and resolves any race it takes
// part in. Ordering between concurrent submits is decided entirely by which
// guarded transition the store accepts first.
func (e *SessionEngine) Submit(ctx context.Context, sessionID, userID string, sub domain.Submission) (domain.SubmitResult, error) {
	if userID == "" {
		return domain.SubmitResult{}, fmt.Errorf("%w: user is required", domain.ErrInvalidContent)
	}

	session, err := e.store.Get(ctx, sessionID)
	if err != nil {
		return domain.SubmitResult{}, err
	}
	switch session.Status {
	case domain.StatusOpen:
	case domain.StatusRevealed:
		return domain.SubmitResult{}, domain.ErrSessionRevealed
	default:
		if session.CloseReason == domain.CloseReasonExpired {
			return domain.SubmitResult{}, domain.ErrSessionExpired
		}
		return domain.SubmitResult{}, domain.ErrSessionClosed
	}

	now := e.now()
	if now.After(session.ExpiresAt) {
		e.lazyClose(ctx, session)
		return domain.SubmitResult{}, domain.ErrSessionExpired
	}

	correct := session.Kind == domain.KindClick || sub.ChosenIndex == session.CorrectIndex
	response := domain.Response{
		SessionID:   sessionID,
		UserID:      userID,
		SubmittedAt: now,
		ChosenIndex: sub.ChosenIndex,
		Text:        sub.Text,
		Correct:     correct,
	}
	if err := e.store.AddResponse(ctx, response); err != nil {
		return domain.SubmitResult{}, err
	}

	if session.Kind == domain.KindClick {
		return e.resolveClick(ctx, session, userID)
	}
	return e.resolveQuiz(ctx, session, userID, now, correct)
}

func (e *SessionEngine) resolveClick(ctx context.Context, session domain.Session, userID string) (domain.SubmitResult, error) {
	won, err := e.store.Apply(ctx, session.ID, closeSession(domain.CloseReasonWinner, userID))
	if err != nil {
		return domain.SubmitResult{}, fmt.Errorf("winner guard: %w", err)
	}
	if !won {
		// Response stays recorded for the audit trail; only the race is lost.
		return domain.SubmitResult{}, domain.ErrTooLate
	}

	outcome, err := e.ledger.Award(ctx, session.GuildID, userID, e.scoring.ClickAward, domain.ReasonClickWin, session.ID)
	if err != nil {
		return domain.SubmitResult{}, fmt.Errorf("award click win: %w", err)
	}
	e.logger.Info("click session won",
		slog.String("session_id", session.ID),
		slog.String("user_id", userID),
		slog.Int("score", e.scoring.ClickAward))
	e.publishClosed(session, domain.CloseReasonWinner)
	e.publishLevelUp(session, outcome)
	return domain.SubmitResult{Accepted: true, Correct: true, Score: e.scoring.ClickAward}, nil
}

func (e *SessionEngine) resolveQuiz(ctx context.Context, session domain.Session, userID string, submittedAt time.Time, correct bool) (domain.SubmitResult, error) {
	if !correct {
		return domain.SubmitResult{Accepted: true}, nil
	}

	first, err := e.store.Apply(ctx, session.ID, markFirstCorrect(userID))
	if err != nil {
		return domain.SubmitResult{}, fmt.Errorf("first-correct guard: %w", err)
	}

	elapsed := submittedAt.Sub(session.StartedAt)
	score := e.scoring.QuizScore(elapsed, session.DurationSeconds, first)
	reason := domain.ReasonQuizCorrect
	if first {
		reason = domain.ReasonQuizFirst
	}
	outcome, err := e.ledger.Award(ctx, session.GuildID, userID, score, reason, session.ID)
	if err != nil {
		return domain.SubmitResult{}, fmt.Errorf("award quiz answer: %w", err)
	}
	e.publishLevelUp(session, outcome)
	return domain.SubmitResult{Accepted: true, Correct: true, Score: score, First: first}, nil
}

// Reveal finalizes a session and returns its aggregate summary. It is
// idempotent: once a summary exists it is returned verbatim, with no
// re-scoring and no further ledger writes.
func (e *SessionEngine) Reveal(ctx context.Context, sessionID string) (domain.Summary, error) {
	for attempt := 0; attempt < 3; attempt++ {
		session, err := e.store.Get(ctx, sessionID)
		if err != nil {
			return domain.Summary{}, err
		}
		if session.Status == domain.StatusRevealed {
			if summary, ok, err := e.store.LoadSummary(ctx, sessionID); err != nil {
				return domain.Summary{}, err
			} else if ok {
				return summary, nil
			}
			// Revealed but summary missing (interrupted earlier reveal):
			// rebuild from the recorded responses.
			return e.buildAndSaveSummary(ctx, session)
		}
		if session.Status == domain.StatusCancelled {
			return domain.Summary{}, domain.ErrSessionClosed
		}

		won, err := e.store.Apply(ctx, sessionID, revealSession(session.Status, e.now()))
		if err != nil {
			return domain.Summary{}, fmt.Errorf("reveal guard: %w", err)
		}
		if !won {
			// Raced with a concurrent reveal, cancel or close; reload and retry.
			continue
		}

		// Re-read so the summary sees a winner or first-correct mark set
		// while the reveal was in flight. New submissions are rejected now.
		session, err = e.store.Get(ctx, sessionID)
		if err != nil {
			return domain.Summary{}, err
		}
		summary, err := e.buildAndSaveSummary(ctx, session)
		if err != nil {
			return domain.Summary{}, err
		}
		e.archive(ctx, session)
		e.logger.Info("session revealed",
			slog.String("session_id", sessionID),
			slog.Int("total_answers", summary.TotalAnswers),
			slog.Int("correct_count", summary.CorrectCount))
		e.events.Publish(Event{
			Type:      EventSessionRevealed,
			GuildID:   session.GuildID,
			ChannelID: session.ChannelID,
			SessionID: sessionID,
			Kind:      session.Kind,
			Summary:   &summary,
		})
		return summary, nil
	}
	return domain.Summary{}, fmt.Errorf("reveal %s: %w", sessionID, domain.ErrSessionClosed)
}

func (e *SessionEngine) buildAndSaveSummary(ctx context.Context, session domain.Session) (domain.Summary, error) {
	responses, err := e.store.Responses(ctx, session.ID)
	if err != nil {
		return domain.Summary{}, err
	}
	revealedAt := session.RevealedAt
	if revealedAt.IsZero() {
		revealedAt = e.now()
	}
	summary := domain.Summary{
		SessionID:      session.ID,
		Kind:           session.Kind,
		TotalAnswers:   len(responses),
		WinnerUserID:   session.WinnerUserID,
		FirstCorrectID: session.FirstCorrectID,
		RevealedAt:     revealedAt,
	}
	if session.Kind == domain.KindQuiz {
		summary.Distribution = make(map[int]int, len(session.Options))
	}
	for _, r := range responses {
		if r.Correct {
			summary.CorrectCount++
		}
		if summary.Distribution != nil {
			summary.Distribution[r.ChosenIndex]++
		}
	}
	if err := e.store.SaveSummary(ctx, session.ID, summary); err != nil {
		return domain.Summary{}, err
	}
	return summary, nil
}

// Cancel force-closes an open session. Cancelling an already closed or
// cancelled session is a no-op success; a revealed session is final and
// reports a conflict.
func (e *SessionEngine) Cancel(ctx context.Context, sessionID string) error {
	session, err := e.store.Get(ctx, sessionID)
	if err != nil {
		return err
	}
	switch session.Status {
	case domain.StatusRevealed:
		return domain.ErrSessionRevealed
	case domain.StatusClosed, domain.StatusCancelled:
		return nil
	}

	won, err := e.store.Apply(ctx, sessionID, cancelSession())
	if err != nil {
		return fmt.Errorf("cancel guard: %w", err)
	}
	if !won {
		// Lost to a concurrent close/reveal; re-read for the final verdict.
		session, err = e.store.Get(ctx, sessionID)
		if err != nil {
			return err
		}
		if session.Status == domain.StatusRevealed {
			return domain.ErrSessionRevealed
		}
		return nil
	}

	session.Status = domain.StatusCancelled
	session.CloseReason = domain.CloseReasonCancelled
	e.archive(ctx, session)
	e.logger.Info("session cancelled", slog.String("session_id", sessionID))
	e.publishClosed(session, domain.CloseReasonCancelled)
	return nil
}

// SweepExpired closes every open session whose deadline has passed and
// returns how many this sweeper actually closed. Concurrent sweepers and
// in-flight submits race through the same guard, so each expiry is applied
// exactly once.
func (e *SessionEngine) SweepExpired(ctx context.Context) (int, error) {
	sessions, err := e.store.OpenSessions(ctx)
	if err != nil {
		return 0, err
	}
	now := e.now()
	closed := 0
	for _, session := range sessions {
		if !now.After(session.ExpiresAt) {
			continue
		}
		won, err := e.store.Apply(ctx, session.ID, closeSession(domain.CloseReasonExpired, ""))
		if err != nil {
			return closed, fmt.Errorf("sweep %s: %w", session.ID, err)
		}
		if won {
			closed++
			e.publishClosed(session, domain.CloseReasonExpired)
		}
	}
	if closed > 0 {
		e.logger.Info("expired sessions closed", slog.Int("count", closed))
	}
	return closed, nil
}

// Leaderboard returns the guild standings, best first.
func (e *SessionEngine) Leaderboard(ctx context.Context, guildID string, limit int) ([]domain.Profile, error) {
	return e.ledger.Leaderboard(ctx, guildID, limit)
}

// GetProfile returns one participant's standing including their guild rank.
func (e *SessionEngine) GetProfile(ctx context.Context, guildID, userID string) (domain.Profile, error) {
	return e.ledger.GetProfile(ctx, guildID, userID)
}

// GetSession returns the current state of a session.
func (e *SessionEngine) GetSession(ctx context.Context, sessionID string) (domain.Session, error) {
	return e.store.Get(ctx, sessionID)
}

func (e *SessionEngine) lazyClose(ctx context.Context, session domain.Session) {
	won, err := e.store.Apply(ctx, session.ID, closeSession(domain.CloseReasonExpired, ""))
	if err != nil {
		e.logger.Warn("lazy close failed",
			slog.String("session_id", session.ID),
			slog.String("error", err.Error()))
		return
	}
	if won {
		e.publishClosed(session, domain.CloseReasonExpired)
	}
}

func (e *SessionEngine) publishClosed(session domain.Session, reason domain.CloseReason) {
	e.events.Publish(Event{
		Type:      EventSessionClosed,
		GuildID:   session.GuildID,
		ChannelID: session.ChannelID,
		SessionID: session.ID,
		Kind:      session.Kind,
		Reason:    reason,
	})
}

func (e *SessionEngine) publishLevelUp(session domain.Session, outcome domain.AwardOutcome) {
	if !outcome.LeveledUp {
		return
	}
	e.events.Publish(Event{
		Type:      EventLevelUp,
		GuildID:   session.GuildID,
		ChannelID: session.ChannelID,
		SessionID: session.ID,
		UserID:    outcome.Profile.UserID,
		Level:     outcome.Profile.Level,
	})
}

func (e *SessionEngine) archive(ctx context.Context, session domain.Session) {
	if e.archiver == nil {
		return
	}
	responses, err := e.store.Responses(ctx, session.ID)
	if err == nil {
		err = e.archiver.ArchiveSession(ctx, session, responses)
	}
	if err != nil {
		// Audit copy is best effort; the outcome is already durable.
		e.logger.Warn("session archive failed",
			slog.String("session_id", session.ID),
			slog.String("error", err.Error()))
	}
}

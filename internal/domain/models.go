package domain

import "time"

// Kind distinguishes the two contest formats.
type Kind string

const (
	// KindClick is a first-responder-wins race: any response counts, the
	// fastest accepted one closes the session.
	KindClick Kind = "click"
	// KindQuiz is a multiple-choice round scored by correctness and speed.
	KindQuiz Kind = "quiz"
)

// Status is the lifecycle state of a session.
type Status string

const (
	StatusOpen      Status = "open"
	StatusClosed    Status = "closed"
	StatusRevealed  Status = "revealed"
	StatusCancelled Status = "cancelled"
)

// CloseReason records why an open session stopped accepting responses.
type CloseReason string

const (
	CloseReasonWinner    CloseReason = "winner"
	CloseReasonExpired   CloseReason = "expired"
	CloseReasonCancelled CloseReason = "cancelled"
)

// Content is the already-selected contest material supplied by the caller.
// The engine only checks its shape, never its meaning.
type Content struct {
	Prompt       string   `json:"prompt"`
	Options      []string `json:"options,omitempty"`
	CorrectIndex int      `json:"correctIndex,omitempty"`
}

// Session is one time-boxed contest instance. It is the single source of
// truth for the contest and is only ever mutated through the store's
// guarded transitions.
type Session struct {
	ID              string      `json:"id"`
	GuildID         string      `json:"guildId"`
	ChannelID       string      `json:"channelId"`
	Kind            Kind        `json:"kind"`
	Prompt          string      `json:"prompt"`
	Options         []string    `json:"options,omitempty"`
	CorrectIndex    int         `json:"correctIndex,omitempty"`
	CreatedAt       time.Time   `json:"createdAt"`
	StartedAt       time.Time   `json:"startedAt"`
	DurationSeconds int         `json:"durationSeconds"`
	ExpiresAt       time.Time   `json:"expiresAt"`
	Status          Status      `json:"status"`
	CloseReason     CloseReason `json:"closeReason,omitempty"`
	WinnerUserID    string      `json:"winnerUserId,omitempty"`
	FirstCorrectID  string      `json:"firstCorrectUserId,omitempty"`
	RevealedAt      time.Time   `json:"revealedAt,omitempty"`
}

// Open reports whether the session still accepts responses at the given time.
func (s Session) Open(now time.Time) bool {
	return s.Status == StatusOpen && !now.After(s.ExpiresAt)
}

// Response is a single participant's submission to a session.
type Response struct {
	SessionID   string    `json:"sessionId"`
	UserID      string    `json:"userId"`
	SubmittedAt time.Time `json:"submittedAt"`
	ChosenIndex int       `json:"chosenIndex"`
	Text        string    `json:"text,omitempty"`
	Correct     bool      `json:"correct"`
}

// Submission is the raw payload a participant sends for a session.
type Submission struct {
	ChosenIndex int    `json:"chosenIndex"`
	Text        string `json:"text,omitempty"`
}

// SubmitResult summarizes the outcome of one Submit call for its caller.
// Accepted is true only for the click-mode winner; Correct and Score apply
// to quiz mode; First marks the first correct quiz answer.
type SubmitResult struct {
	Accepted bool `json:"accepted"`
	Correct  bool `json:"correct"`
	Score    int  `json:"score"`
	First    bool `json:"first"`
}

// Summary is the aggregate outcome of a finished session. It is computed
// once at reveal time and stored so repeated reveals return the same data.
type Summary struct {
	SessionID      string      `json:"sessionId"`
	Kind           Kind        `json:"kind"`
	TotalAnswers   int         `json:"totalAnswers"`
	CorrectCount   int         `json:"correctCount"`
	Distribution   map[int]int `json:"distribution,omitempty"`
	WinnerUserID   string      `json:"winnerUserId,omitempty"`
	FirstCorrectID string      `json:"firstCorrectUserId,omitempty"`
	RevealedAt     time.Time   `json:"revealedAt"`
}

// HistoryEntry is one append-only ledger line on a profile.
type HistoryEntry struct {
	Amount    int       `json:"amount"`
	Reason    string    `json:"reason"`
	SourceRef string    `json:"sourceRef"`
	At        time.Time `json:"at"`
}

// Profile is a participant's cumulative standing in a guild.
type Profile struct {
	GuildID   string         `json:"guildId"`
	UserID    string         `json:"userId"`
	Points    int            `json:"points"`
	Level     int            `json:"level"`
	Streak    int            `json:"streak"`
	LastWinAt time.Time      `json:"lastWinAt,omitempty"`
	Rank      int            `json:"rank,omitempty"`
	History   []HistoryEntry `json:"history,omitempty"`
}

// AwardOutcome reports the effect of one ledger award.
type AwardOutcome struct {
	Profile   Profile `json:"profile"`
	LeveledUp bool    `json:"leveledUp"`
}

// Award reasons written into profile history. ReasonClickWin and
// ReasonQuizFirst are winning reasons and advance the streak.
const (
	ReasonClickWin    = "click_win"
	ReasonQuizCorrect = "quiz_correct"
	ReasonQuizFirst   = "quiz_first"
)

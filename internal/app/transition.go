package app

import (
	"time"

	"arena-service/internal/domain"
)

// Session fields addressable by guarded transitions. Stores persist these
// as individual mutable fields next to the immutable session body.
const (
	FieldStatus       = "status"
	FieldCloseReason  = "close_reason"
	FieldWinner       = "winner"
	FieldFirstCorrect = "first_correct"
	FieldRevealedAt   = "revealed_at"
)

// Transition is one guarded state change: apply Set only if every field in
// If still holds its expected value (empty string means unset). The store
// must evaluate it atomically; a failed precondition has no side effect.
// This single primitive backs the winner race, the first-correct race,
// expiry closes, reveals and cancels.
type Transition struct {
	If  map[string]string
	Set map[string]string
}

func closeSession(reason domain.CloseReason, winnerUserID string) Transition {
	tr := Transition{
		If: map[string]string{FieldStatus: string(domain.StatusOpen)},
		Set: map[string]string{
			FieldStatus:      string(domain.StatusClosed),
			FieldCloseReason: string(reason),
		},
	}
	if winnerUserID != "" {
		tr.If[FieldWinner] = ""
		tr.Set[FieldWinner] = winnerUserID
	}
	return tr
}

func cancelSession() Transition {
	return Transition{
		If: map[string]string{FieldStatus: string(domain.StatusOpen)},
		Set: map[string]string{
			FieldStatus:      string(domain.StatusCancelled),
			FieldCloseReason: string(domain.CloseReasonCancelled),
		},
	}
}

func markFirstCorrect(userID string) Transition {
	return Transition{
		If:  map[string]string{FieldFirstCorrect: ""},
		Set: map[string]string{FieldFirstCorrect: userID},
	}
}

func revealSession(from domain.Status, at time.Time) Transition {
	return Transition{
		If: map[string]string{FieldStatus: string(from)},
		Set: map[string]string{
			FieldStatus:     string(domain.StatusRevealed),
			FieldRevealedAt: at.UTC().Format(time.RFC3339Nano),
		},
	}
}

// FieldOf reads a transition field from a session in its wire encoding.
func FieldOf(s domain.Session, field string) string {
	switch field {
	case FieldStatus:
		return string(s.Status)
	case FieldCloseReason:
		return string(s.CloseReason)
	case FieldWinner:
		return s.WinnerUserID
	case FieldFirstCorrect:
		return s.FirstCorrectID
	case FieldRevealedAt:
		if s.RevealedAt.IsZero() {
			return ""
		}
		return s.RevealedAt.UTC().Format(time.RFC3339Nano)
	}
	return ""
}

// SetField writes a transition field onto a session, decoding from the wire
// encoding used by FieldOf.
func SetField(s *domain.Session, field, value string) {
	switch field {
	case FieldStatus:
		s.Status = domain.Status(value)
	case FieldCloseReason:
		s.CloseReason = domain.CloseReason(value)
	case FieldWinner:
		s.WinnerUserID = value
	case FieldFirstCorrect:
		s.FirstCorrectID = value
	case FieldRevealedAt:
		if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
			s.RevealedAt = t
		}
	}
}

// ApplyTransition evaluates a transition against an in-memory session and
// mutates it on success. Callers provide the atomicity (a store mutex).
func ApplyTransition(s *domain.Session, tr Transition) bool {
	for field, expected := range tr.If {
		if FieldOf(*s, field) != expected {
			return false
		}
	}
	for field, value := range tr.Set {
		SetField(s, field, value)
	}
	return true
}

package domain

import "errors"

var (
	// ErrSessionNotFound is returned when no session exists for the given ID.
	ErrSessionNotFound = errors.New("session not found")
	// ErrSessionActive is returned by Start when the channel already has an open session.
	ErrSessionActive = errors.New("channel already has an active session")
	// ErrSessionExpired is returned when a submission arrives after the deadline.
	ErrSessionExpired = errors.New("session expired")
	// ErrSessionClosed is returned when a submission arrives after the session closed.
	ErrSessionClosed = errors.New("session already closed")
	// ErrSessionRevealed is returned when cancelling a session whose results are final.
	ErrSessionRevealed = errors.New("session already revealed")
	// ErrAlreadyAnswered is returned when a user submits twice to the same session.
	ErrAlreadyAnswered = errors.New("already answered")
	// ErrTooLate is returned to click-mode callers who lost the winner race.
	ErrTooLate = errors.New("too late, someone was faster")
	// ErrInvalidContent is returned when contest content fails shape validation.
	ErrInvalidContent = errors.New("invalid contest content")
	// ErrProfileNotFound is returned when a guild/user pair has no ledger entry.
	ErrProfileNotFound = errors.New("profile not found")
)

// Code is the coarse error class reported to the presentation layer.
type Code string

const (
	CodeValidation   Code = "VALIDATION"
	CodeConflict     Code = "CONFLICT"
	CodeNotFound     Code = "NOT_FOUND"
	CodeExpired      Code = "EXPIRED"
	CodeStorageError Code = "STORAGE_ERROR"
)

// CodeOf classifies an error into the taxonomy callers present to users.
// Anything that is not an expected contention outcome is a storage error.
func CodeOf(err error) Code {
	switch {
	case errors.Is(err, ErrInvalidContent):
		return CodeValidation
	case errors.Is(err, ErrSessionActive),
		errors.Is(err, ErrSessionClosed),
		errors.Is(err, ErrSessionRevealed),
		errors.Is(err, ErrAlreadyAnswered),
		errors.Is(err, ErrTooLate):
		return CodeConflict
	case errors.Is(err, ErrSessionNotFound), errors.Is(err, ErrProfileNotFound):
		return CodeNotFound
	case errors.Is(err, ErrSessionExpired):
		return CodeExpired
	default:
		return CodeStorageError
	}
}

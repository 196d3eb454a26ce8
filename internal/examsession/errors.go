package examsession

import "errors"

// Errors reported by the backend, surfaced unchanged to the caller.
var (
	ErrInvalidAccessCode = errors.New("invalid access code")
	ErrExamNotActive     = errors.New("exam is not active")
	ErrAlreadyCompleted  = errors.New("exam already completed")
	ErrSessionExpired    = errors.New("exam session expired")
	ErrSessionNotFound   = errors.New("no attempt started for this exam")
)

// Errors raised by the session itself.
var (
	ErrRecordNotFound  = errors.New("session record not found")
	ErrNotStarted      = errors.New("session not started")
	ErrAlreadyStarted  = errors.New("session already started for another exam")
	ErrNotInProgress   = errors.New("session is not in progress")
	ErrNoQuestions     = errors.New("exam has no questions")
	ErrUnknownQuestion = errors.New("unknown question")
	ErrUnknownOption   = errors.New("unknown option")
)

package examsession

import (
	"context"
	"time"
)

// AnswerSaver persists a single selection incrementally. Implementations may fail;
// the session treats every failure as non-fatal.
type AnswerSaver interface {
	SaveAnswer(ctx context.Context, examID, questionID, optionID string) error
}

// Backend is the remote exam service a session talks to.
type Backend interface {
	AnswerSaver

	// Start opens (or resumes server-side) an attempt and returns its time box.
	Start(ctx context.Context, examID, accessCode string) (Window, error)

	// FetchQuestions returns the ordered questions of an active attempt together
	// with the selections the backend already holds.
	FetchQuestions(ctx context.Context, examID string) (*QuestionSet, error)

	// Submit sends the full answer map and returns the graded result.
	Submit(ctx context.Context, examID string, answers map[string]string, auto bool) (Result, error)
}

// SessionStore is the durable local key-value store that keeps an attempt's
// identifiers across reloads. A store instance is scoped to one participant.
type SessionStore interface {
	// Get returns ErrRecordNotFound when nothing is stored for examID.
	Get(ctx context.Context, examID string) (*Record, error)
	Set(ctx context.Context, rec Record) error
	Clear(ctx context.Context, examID string) error
}

// Clock supplies wall-clock time.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the real wall clock.
type SystemClock struct{}

// Now returns time.Now().
func (SystemClock) Now() time.Time { return time.Now() }

package examclient

import (
	"errors"
	"fmt"

	"github.com/stemsi/ujian/internal/examsession"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUnauthorized       = errors.New("not authorized")
	ErrNotLoggedIn        = errors.New("not logged in")
	ErrRateLimited        = errors.New("rate limit exceeded")
)

// codeErrors maps API error codes onto the errors callers match with errors.Is.
var codeErrors = map[string]error{
	"INVALID_CREDENTIALS":     ErrInvalidCredentials,
	"TOKEN_REQUIRED":          ErrUnauthorized,
	"TOKEN_INVALID":           ErrUnauthorized,
	"TOKEN_EXPIRED":           ErrUnauthorized,
	"PARTICIPANT_ACCESS_ONLY": ErrUnauthorized,
	"RATE_LIMIT_EXCEEDED":     ErrRateLimited,
	"SESSION_NOT_FOUND":       examsession.ErrSessionNotFound,
	"INVALID_ACCESS_CODE":     examsession.ErrInvalidAccessCode,
	"EXAM_NOT_ACTIVE":         examsession.ErrExamNotActive,
	"ALREADY_COMPLETED":       examsession.ErrAlreadyCompleted,
	"SESSION_EXPIRED":         examsession.ErrSessionExpired,
	"UNKNOWN_QUESTION":        examsession.ErrUnknownQuestion,
}

// APIError is an error envelope returned by the exam API.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("api %d %s: %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("api %d %s", e.Status, e.Code)
}

// Unwrap exposes the sentinel error for the code, if one is known.
func (e *APIError) Unwrap() error {
	return codeErrors[e.Code]
}

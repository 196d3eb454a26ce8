package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/stemsi/ujian/internal/model"
	"github.com/stemsi/ujian/internal/response"
	"github.com/stemsi/ujian/internal/service"
)

// Authenticator logs participants in. *service.AuthService implements it.
type Authenticator interface {
	Login(ctx context.Context, nisn, password string) (*model.LoginResponse, error)
}

// SessionService is the exam session API behind the participant routes.
// *service.ExamSessionService implements it.
type SessionService interface {
	GetExamSummary(ctx context.Context, examID uuid.UUID) (*model.ExamSummary, error)
	Start(ctx context.Context, examID uuid.UUID, participantID int, accessCode string) (*model.SessionWindow, error)
	GetQuestions(ctx context.Context, examID uuid.UUID, participantID int) (*model.ExamQuestions, error)
	SaveAnswer(ctx context.Context, examID uuid.UUID, participantID int, questionID uuid.UUID, optionID string) error
	Submit(ctx context.Context, examID uuid.UUID, participantID int, answers map[string]string, auto bool) (*model.SubmitResult, error)
}

// sessionError maps service errors onto an HTTP status and API error code.
func sessionError(err error) (int, response.ErrCode) {
	switch {
	case errors.Is(err, service.ErrInvalidAccessCode):
		return http.StatusBadRequest, response.ErrInvalidAccessCode
	case errors.Is(err, service.ErrExamNotActive):
		return http.StatusForbidden, response.ErrExamNotActive
	case errors.Is(err, service.ErrAlreadyCompleted):
		return http.StatusConflict, response.ErrAlreadyCompleted
	case errors.Is(err, service.ErrSessionExpired):
		return http.StatusGone, response.ErrSessionExpired
	case errors.Is(err, service.ErrSessionNotFound):
		return http.StatusNotFound, response.ErrSessionNotFound
	case errors.Is(err, service.ErrExamNotFound):
		return http.StatusNotFound, response.ErrNotFound
	case errors.Is(err, service.ErrUnknownQuestion), errors.Is(err, service.ErrUnknownOption):
		return http.StatusBadRequest, response.ErrUnknownQuestion
	default:
		return http.StatusInternalServerError, response.ErrInternal
	}
}

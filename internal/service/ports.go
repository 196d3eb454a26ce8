package service

import (
	"context"

	"github.com/google/uuid"
	"github.com/stemsi/ujian/internal/model"
	"github.com/stemsi/ujian/internal/repository"
)

// The stores below are satisfied by the pgx repositories. Lookups report a
// missing row as pgx.ErrNoRows.

// ExamStore persists exams.
type ExamStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*model.Exam, error)
	Create(ctx context.Context, e *model.Exam) error
	UpdateStatus(ctx context.Context, id uuid.UUID, status model.ExamStatus) error
	ListPublished(ctx context.Context) ([]model.Exam, error)
}

// QuestionStore persists the ordered questions of an exam.
type QuestionStore interface {
	ListByExam(ctx context.Context, examID uuid.UUID) ([]model.Question, error)
	CountByExam(ctx context.Context, examID uuid.UUID) (int, error)
	Create(ctx context.Context, q *model.Question) error
}

// AttemptStore persists the one exam_sessions row per exam and participant.
type AttemptStore interface {
	GetByExamAndParticipant(ctx context.Context, examID uuid.UUID, participantID int) (*model.ExamSession, error)
	Create(ctx context.Context, s *model.ExamSession) error
	Reopen(ctx context.Context, s *model.ExamSession) error
	Complete(ctx context.Context, u repository.ScoreUpdate) (bool, error)
}

// AnswerStore reads the durable copy of autosaved answers.
type AnswerStore interface {
	ListByParticipant(ctx context.Context, examID uuid.UUID, participantID int) (map[string]string, error)
}

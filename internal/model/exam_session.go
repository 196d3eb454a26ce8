package model

import (
	"time"

	"github.com/google/uuid"
)

// SessionStatus enumerates exam session states.
type SessionStatus string

const (
	SessionStatusInProgress SessionStatus = "IN_PROGRESS"
	SessionStatusCompleted  SessionStatus = "COMPLETED"
)

// ExamSession represents a participant's exam attempt. There is at most one
// row per (exam, participant); a retry reopens it with Attempt incremented.
type ExamSession struct {
	ID            uuid.UUID     `json:"id"`
	ExamID        uuid.UUID     `json:"exam_id"`
	ParticipantID int           `json:"participant_id"`
	Attempt       int           `json:"attempt"`
	StartedAt     time.Time     `json:"started_at"`
	EndAt         time.Time     `json:"end_at"`
	FinishedAt    *time.Time    `json:"finished_at,omitempty"`
	Status        SessionStatus `json:"status"`
	FinalScore    *float64      `json:"final_score,omitempty"`
	RetryAllowed  bool          `json:"retry_allowed"`
}

// StartExamRequest is the payload for starting or resuming an exam.
type StartExamRequest struct {
	AccessCode string `json:"access_code" binding:"required,min=4,max=20"`
}

// SaveAnswerRequest is the payload for a single incremental save.
type SaveAnswerRequest struct {
	QuestionID string `json:"question_id" binding:"required,uuid"`
	OptionID   string `json:"option_id" binding:"required,max=36"`
}

// SubmitExamRequest carries question_id -> option_id for answered questions.
type SubmitExamRequest struct {
	Answers map[string]string `json:"answers" binding:"omitempty,dive,keys,uuid,endkeys,required,max=36"`
	Auto    bool              `json:"auto"`
}

// SessionWindow is the server-issued time window of an attempt.
type SessionWindow struct {
	StartedAt time.Time `json:"started_at"`
	EndAt     time.Time `json:"end_at"`
	Attempt   int       `json:"attempt"`
}

// ExamQuestions is the questions response: the fixed ordered set plus the
// selections saved so far.
type ExamQuestions struct {
	ExamID    uuid.UUID                `json:"exam_id"`
	Title     string                   `json:"title"`
	EndAt     time.Time                `json:"end_at"`
	Questions []QuestionForParticipant `json:"questions"`
	Answers   map[string]string        `json:"answers"`
}

// SubmitResult is the graded outcome of an attempt.
type SubmitResult struct {
	Score        float64 `json:"score"`
	RetryAllowed bool    `json:"retry_allowed"`
	Attempt      int     `json:"attempt"`
}

// AnswerTask is pushed onto the answers queue for the autosave worker.
type AnswerTask struct {
	ParticipantID int    `json:"participant_id"`
	ExamID        string `json:"exam_id"`
	QuestionID    string `json:"question_id"`
	OptionID      string `json:"option_id"`
	Attempt       int    `json:"attempt"`
}

// ScoreTask is pushed onto the scores queue for the scoring worker.
type ScoreTask struct {
	ParticipantID int       `json:"participant_id"`
	ExamID        uuid.UUID `json:"exam_id"`
	Attempt       int       `json:"attempt"`
	Score         float64   `json:"score"`
	RetryAllowed  bool      `json:"retry_allowed"`
	FinishedAt    time.Time `json:"finished_at"`
}

package model

import (
	"time"

	"github.com/google/uuid"
)

// ExamStatus enumerates the possible states of an exam.
type ExamStatus string

const (
	ExamStatusDraft     ExamStatus = "DRAFT"
	ExamStatusPublished ExamStatus = "PUBLISHED"
	ExamStatusArchived  ExamStatus = "ARCHIVED"
)

// Exam represents an exam entity.
type Exam struct {
	ID              uuid.UUID  `json:"id"`
	Title           string     `json:"title"`
	ScheduledStart  *time.Time `json:"scheduled_start,omitempty"`
	ScheduledEnd    *time.Time `json:"scheduled_end,omitempty"`
	DurationMinutes int        `json:"duration_minutes"`
	AccessCode      string     `json:"-"`
	PassingScore    float64    `json:"passing_score"`
	AllowRetry      bool       `json:"allow_retry"`
	Status          ExamStatus `json:"status"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// IsOpenAt reports whether new attempts may be started at t. A nil bound is
// unbounded on that side.
func (e *Exam) IsOpenAt(t time.Time) bool {
	if e.Status != ExamStatusPublished {
		return false
	}
	if e.ScheduledStart != nil && t.Before(*e.ScheduledStart) {
		return false
	}
	if e.ScheduledEnd != nil && !t.Before(*e.ScheduledEnd) {
		return false
	}
	return true
}

// Deadline returns end_at for an attempt started at startedAt: the exam
// duration, cut short by the scheduled end.
func (e *Exam) Deadline(startedAt time.Time) time.Time {
	end := startedAt.Add(time.Duration(e.DurationMinutes) * time.Minute)
	if e.ScheduledEnd != nil && e.ScheduledEnd.Before(end) {
		end = *e.ScheduledEnd
	}
	return end
}

// ExamSummary is what a participant sees before entering the access code.
type ExamSummary struct {
	ID              uuid.UUID  `json:"id"`
	Title           string     `json:"title"`
	DurationMinutes int        `json:"duration_minutes"`
	ScheduledStart  *time.Time `json:"scheduled_start,omitempty"`
	ScheduledEnd    *time.Time `json:"scheduled_end,omitempty"`
	QuestionCount   int        `json:"question_count"`
}

// ExamPayload is the Redis-cached payload sent to participants (no correct answers).
type ExamPayload struct {
	ExamID    uuid.UUID                `json:"exam_id"`
	Title     string                   `json:"title"`
	Duration  int                      `json:"duration_minutes"`
	Questions []QuestionForParticipant `json:"questions"`
}

// SeedExam is the JSON document loaded by cmd/seed.
type SeedExam struct {
	Title           string         `json:"title" binding:"required,min=3,max=255"`
	ScheduledStart  *time.Time     `json:"scheduled_start"`
	ScheduledEnd    *time.Time     `json:"scheduled_end" binding:"omitempty,gtfield=ScheduledStart"`
	DurationMinutes int            `json:"duration_minutes" binding:"required,min=1,max=480"`
	AccessCode      string         `json:"access_code" binding:"required,min=4,max=20"`
	PassingScore    float64        `json:"passing_score" binding:"min=0,max=100"`
	AllowRetry      bool           `json:"allow_retry"`
	Questions       []SeedQuestion `json:"questions" binding:"required,min=1,dive"`
}

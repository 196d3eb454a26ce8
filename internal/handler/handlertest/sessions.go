// Package handlertest provides in-memory implementations of the handler
// ports for HTTP-level tests of the router and its clients.
package handlertest

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/stemsi/ujian/internal/model"
	"github.com/stemsi/ujian/internal/service"
)

// Exam is a published exam held in memory.
type Exam struct {
	ID           uuid.UUID
	Title        string
	AccessCode   string
	Duration     time.Duration
	PassingScore float64
	AllowRetry   bool
	Closed       bool
	Questions    []model.QuestionForParticipant
	// Key maps question ID to the correct option ID.
	Key map[string]string
}

type attemptKey struct {
	exam        uuid.UUID
	participant int
}

type attempt struct {
	window  model.SessionWindow
	answers map[string]string
	result  *model.SubmitResult
}

// Sessions is an in-memory handler.SessionService with the same error
// contract as the Redis/PostgreSQL service.
type Sessions struct {
	mu       sync.Mutex
	now      func() time.Time
	exams    map[uuid.UUID]*Exam
	attempts map[attemptKey]*attempt

	SaveErr error
	saves   int
	submits int
}

// NewSessions creates a Sessions using now as its clock.
func NewSessions(now func() time.Time, exams ...*Exam) *Sessions {
	s := &Sessions{
		now:      now,
		exams:    make(map[uuid.UUID]*Exam),
		attempts: make(map[attemptKey]*attempt),
	}
	for _, e := range exams {
		s.exams[e.ID] = e
	}
	return s
}

// SampleExam builds a three-question exam whose correct answers are the
// first option of each question.
func SampleExam() *Exam {
	e := &Exam{
		ID:           uuid.New(),
		Title:        "Ujian Matematika",
		AccessCode:   "MTK-2026",
		Duration:     30 * time.Minute,
		PassingScore: 75,
		AllowRetry:   true,
		Key:          make(map[string]string),
	}
	prompts := []string{"2 + 2 = ?", "5 x 3 = ?", "10 / 2 = ?"}
	for i, p := range prompts {
		qid := uuid.New()
		kind := model.MediaNone
		url := ""
		if i == 1 {
			kind, url = model.MediaImage, "/media/perkalian.png"
		}
		e.Questions = append(e.Questions, model.QuestionForParticipant{
			ID:        qid,
			Prompt:    p,
			MediaURL:  url,
			MediaKind: kind,
			Options: []model.Option{
				{ID: "a", Text: "benar"},
				{ID: "b", Text: "salah"},
				{ID: "c", Text: "ragu"},
			},
			OrderNum: i + 1,
		})
		e.Key[qid.String()] = "a"
	}
	return e
}

func (s *Sessions) GetExamSummary(_ context.Context, examID uuid.UUID) (*model.ExamSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.exams[examID]
	if !ok {
		return nil, service.ErrExamNotFound
	}
	return &model.ExamSummary{
		ID:              e.ID,
		Title:           e.Title,
		DurationMinutes: int(e.Duration / time.Minute),
		QuestionCount:   len(e.Questions),
	}, nil
}

func (s *Sessions) Start(_ context.Context, examID uuid.UUID, participantID int, accessCode string) (*model.SessionWindow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.exams[examID]
	if !ok {
		return nil, service.ErrExamNotFound
	}
	if accessCode != e.AccessCode {
		return nil, service.ErrInvalidAccessCode
	}

	key := attemptKey{examID, participantID}
	a, exists := s.attempts[key]
	if exists && a.result == nil {
		w := a.window
		return &w, nil
	}
	if exists && !a.result.RetryAllowed {
		return nil, service.ErrAlreadyCompleted
	}
	if e.Closed {
		return nil, service.ErrExamNotActive
	}

	now := s.now().Truncate(time.Second)
	next := &attempt{
		window:  model.SessionWindow{StartedAt: now, EndAt: now.Add(e.Duration), Attempt: 1},
		answers: make(map[string]string),
	}
	if exists {
		next.window.Attempt = a.window.Attempt + 1
	}
	s.attempts[key] = next
	w := next.window
	return &w, nil
}

func (s *Sessions) GetQuestions(_ context.Context, examID uuid.UUID, participantID int) (*model.ExamQuestions, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, err := s.active(examID, participantID)
	if err != nil {
		return nil, err
	}
	e := s.exams[examID]

	answers := make(map[string]string, len(a.answers))
	for k, v := range a.answers {
		answers[k] = v
	}
	return &model.ExamQuestions{
		ExamID:    examID,
		Title:     e.Title,
		EndAt:     a.window.EndAt,
		Questions: e.Questions,
		Answers:   answers,
	}, nil
}

func (s *Sessions) SaveAnswer(_ context.Context, examID uuid.UUID, participantID int, questionID uuid.UUID, optionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saves++

	if s.SaveErr != nil {
		return s.SaveErr
	}
	a, err := s.active(examID, participantID)
	if err != nil {
		return err
	}
	if _, ok := s.exams[examID].Key[questionID.String()]; !ok {
		return service.ErrUnknownQuestion
	}
	a.answers[questionID.String()] = optionID
	return nil
}

func (s *Sessions) Submit(_ context.Context, examID uuid.UUID, participantID int, answers map[string]string, _ bool) (*model.SubmitResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.attempts[attemptKey{examID, participantID}]
	if !ok {
		return nil, service.ErrSessionNotFound
	}
	if a.result != nil {
		r := *a.result
		return &r, nil
	}
	s.submits++

	e := s.exams[examID]
	graded := answers
	if s.now().After(a.window.EndAt) {
		graded = a.answers
	}
	score := service.Grade(e.Key, graded)
	exam := &model.Exam{PassingScore: e.PassingScore, AllowRetry: e.AllowRetry}
	a.result = &model.SubmitResult{
		Score:        score,
		RetryAllowed: service.RetryAllowed(exam, score),
		Attempt:      a.window.Attempt,
	}
	r := *a.result
	return &r, nil
}

// Saved returns the answers stored for an attempt.
func (s *Sessions) Saved(examID uuid.UUID, participantID int) map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]string)
	if a, ok := s.attempts[attemptKey{examID, participantID}]; ok {
		for k, v := range a.answers {
			out[k] = v
		}
	}
	return out
}

// SaveCount returns how many SaveAnswer calls reached the service.
func (s *Sessions) SaveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saves
}

// SubmitCount returns how many submissions were graded.
func (s *Sessions) SubmitCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.submits
}

func (s *Sessions) active(examID uuid.UUID, participantID int) (*attempt, error) {
	a, ok := s.attempts[attemptKey{examID, participantID}]
	if !ok {
		return nil, service.ErrSessionNotFound
	}
	if a.result != nil {
		return nil, service.ErrAlreadyCompleted
	}
	if !s.now().Before(a.window.EndAt) {
		return nil, service.ErrSessionExpired
	}
	return a, nil
}

package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/ujian/internal/config"
	"github.com/stemsi/ujian/internal/model"
	"github.com/stemsi/ujian/internal/repository"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type memExams struct {
	mu    sync.Mutex
	exams map[uuid.UUID]model.Exam
}

func (m *memExams) GetByID(_ context.Context, id uuid.UUID) (*model.Exam, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.exams[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return &e, nil
}

func (m *memExams) Create(_ context.Context, e *model.Exam) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	m.exams[e.ID] = *e
	return nil
}

func (m *memExams) UpdateStatus(_ context.Context, id uuid.UUID, status model.ExamStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.exams[id]
	if !ok {
		return pgx.ErrNoRows
	}
	e.Status = status
	m.exams[id] = e
	return nil
}

func (m *memExams) ListPublished(context.Context) ([]model.Exam, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Exam
	for _, e := range m.exams {
		if e.Status == model.ExamStatusPublished {
			out = append(out, e)
		}
	}
	return out, nil
}

type memQuestions struct {
	mu        sync.Mutex
	questions map[uuid.UUID][]model.Question
}

func (m *memQuestions) ListByExam(_ context.Context, examID uuid.UUID) ([]model.Question, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]model.Question(nil), m.questions[examID]...), nil
}

func (m *memQuestions) CountByExam(_ context.Context, examID uuid.UUID) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.questions[examID]), nil
}

func (m *memQuestions) Create(_ context.Context, q *model.Question) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if q.ID == uuid.Nil {
		q.ID = uuid.New()
	}
	m.questions[q.ExamID] = append(m.questions[q.ExamID], *q)
	return nil
}

// memAttempts mirrors the guarded updates of ExamSessionRepository.
type memAttempts struct {
	mu        sync.Mutex
	rows      map[repository.SessionKey]model.ExamSession
	completes int
}

func (m *memAttempts) GetByExamAndParticipant(_ context.Context, examID uuid.UUID, participantID int) (*model.ExamSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[repository.SessionKey{ExamID: examID, ParticipantID: participantID}]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return &row, nil
}

func (m *memAttempts) Create(_ context.Context, s *model.ExamSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := repository.SessionKey{ExamID: s.ExamID, ParticipantID: s.ParticipantID}
	if _, ok := m.rows[key]; ok {
		return pgx.ErrNoRows
	}
	s.ID = uuid.New()
	s.Attempt = 1
	s.Status = model.SessionStatusInProgress
	m.rows[key] = *s
	return nil
}

func (m *memAttempts) Reopen(_ context.Context, s *model.ExamSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := repository.SessionKey{ExamID: s.ExamID, ParticipantID: s.ParticipantID}
	row, ok := m.rows[key]
	if !ok || row.Status != model.SessionStatusCompleted || !row.RetryAllowed {
		return pgx.ErrNoRows
	}
	row.Attempt++
	row.StartedAt = s.StartedAt
	row.EndAt = s.EndAt
	row.Status = model.SessionStatusInProgress
	row.FinishedAt = nil
	row.FinalScore = nil
	row.RetryAllowed = false
	m.rows[key] = row
	*s = row
	return nil
}

func (m *memAttempts) Complete(_ context.Context, u repository.ScoreUpdate) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[u.SessionKey]
	if !ok || row.Attempt != u.Attempt || row.Status != model.SessionStatusInProgress {
		return false, nil
	}
	score, finished := u.Score, u.FinishedAt
	row.Status = model.SessionStatusCompleted
	row.FinalScore = &score
	row.RetryAllowed = u.RetryAllowed
	row.FinishedAt = &finished
	m.rows[u.SessionKey] = row
	m.completes++
	return true, nil
}

func (m *memAttempts) row(examID uuid.UUID, participantID int) model.ExamSession {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rows[repository.SessionKey{ExamID: examID, ParticipantID: participantID}]
}

type memAnswers struct {
	mu      sync.Mutex
	answers map[repository.SessionKey]map[string]string
}

func (m *memAnswers) ListByParticipant(_ context.Context, examID uuid.UUID, participantID int) (map[string]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := map[string]string{}
	for k, v := range m.answers[repository.SessionKey{ExamID: examID, ParticipantID: participantID}] {
		out[k] = v
	}
	return out, nil
}

// sessionFixture wires ExamSessionService to in-memory stores and a
// miniredis server.
type sessionFixture struct {
	svc       *ExamSessionService
	exams     *ExamService
	examRows  *memExams
	attempts  *memAttempts
	answers   *memAnswers
	redis     *miniredis.Miniredis
	rdb       *redis.Client
	clock     *testClock
	exam      model.Exam
	questions []model.Question
}

var fixtureNow = time.Date(2026, 10, 16, 7, 30, 0, 0, time.UTC)

func newSessionFixture(t *testing.T) *sessionFixture {
	t.Helper()

	mr := miniredis.RunT(t)
	mr.SetTime(fixtureNow)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	opens, closes := fixtureNow.Add(-time.Hour), fixtureNow.Add(2*time.Hour)
	exam := model.Exam{
		ID:              uuid.New(),
		Title:           "Matematika",
		ScheduledStart:  &opens,
		ScheduledEnd:    &closes,
		DurationMinutes: 30,
		AccessCode:      "MTK2026",
		PassingScore:    75,
		AllowRetry:      true,
		Status:          model.ExamStatusPublished,
	}
	questions := make([]model.Question, 4)
	for i := range questions {
		questions[i] = model.Question{
			ID:            uuid.New(),
			ExamID:        exam.ID,
			Prompt:        "Soal",
			MediaKind:     model.MediaNone,
			Options:       []model.Option{{ID: "a"}, {ID: "b"}, {ID: "c"}, {ID: "d"}},
			CorrectOption: "a",
			OrderNum:      i + 1,
		}
	}

	cfg := &config.Config{SubmitGrace: 30 * time.Second}
	clock := &testClock{now: fixtureNow}
	f := &sessionFixture{
		attempts:  &memAttempts{rows: map[repository.SessionKey]model.ExamSession{}},
		answers:   &memAnswers{answers: map[repository.SessionKey]map[string]string{}},
		redis:     mr,
		rdb:       rdb,
		clock:     clock,
		exam:      exam,
		questions: questions,
	}
	f.examRows = &memExams{exams: map[uuid.UUID]model.Exam{exam.ID: exam}}
	f.exams = NewExamService(
		f.examRows,
		&memQuestions{questions: map[uuid.UUID][]model.Question{exam.ID: questions}},
		rdb,
		zerolog.Nop(),
	)
	f.svc = NewExamSessionService(f.attempts, f.answers, f.exams, rdb, cfg, zerolog.Nop())
	f.svc.now = clock.Now
	return f
}

func (f *sessionFixture) qid(i int) string {
	return f.questions[i].ID.String()
}

// answersWith returns a payload answering the first n questions correctly
// and the rest wrongly.
func (f *sessionFixture) answersWith(n int) map[string]string {
	out := make(map[string]string, len(f.questions))
	for i := range f.questions {
		if i < n {
			out[f.qid(i)] = "a"
		} else {
			out[f.qid(i)] = "b"
		}
	}
	return out
}

func (f *sessionFixture) queueLen(t *testing.T, queue string) int64 {
	t.Helper()
	n, err := f.rdb.LLen(context.Background(), queue).Result()
	if err != nil {
		t.Fatalf("llen %s: %v", queue, err)
	}
	return n
}

package service

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stemsi/ujian/internal/config"
	"github.com/stemsi/ujian/internal/model"
)

const participant = 7

func TestStartCreatesThenResumes(t *testing.T) {
	f := newSessionFixture(t)
	ctx := context.Background()

	if _, err := f.svc.Start(ctx, f.exam.ID, participant, "SALAH"); !errors.Is(err, ErrInvalidAccessCode) {
		t.Fatalf("Start(wrong code) err = %v, want ErrInvalidAccessCode", err)
	}

	w1, err := f.svc.Start(ctx, f.exam.ID, participant, "MTK2026")
	if err != nil {
		t.Fatalf("Start() err = %v", err)
	}
	if !w1.StartedAt.Equal(fixtureNow) || !w1.EndAt.Equal(fixtureNow.Add(30*time.Minute)) || w1.Attempt != 1 {
		t.Fatalf("window = %+v, want 30m from %v on attempt 1", w1, fixtureNow)
	}

	key := config.CacheKey.ParticipantWindowKey(f.exam.ID.String(), participant)
	if got := f.redis.HGet(key, "attempt"); got != "1" {
		t.Errorf("cached attempt = %q, want 1", got)
	}

	f.clock.Advance(5 * time.Minute)
	w2, err := f.svc.Start(ctx, f.exam.ID, participant, "MTK2026")
	if err != nil {
		t.Fatalf("resume err = %v", err)
	}
	if !w2.EndAt.Equal(w1.EndAt) || w2.Attempt != 1 {
		t.Errorf("resumed window = %+v, want %+v", w2, w1)
	}
}

func TestStartRejectsUnavailableExam(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(e *model.Exam)
		examID  func(f *sessionFixture) uuid.UUID
		wantErr error
	}{
		{
			name:    "draft",
			mutate:  func(e *model.Exam) { e.Status = model.ExamStatusDraft },
			wantErr: ErrExamNotActive,
		},
		{
			name: "window closed",
			mutate: func(e *model.Exam) {
				closed := fixtureNow.Add(-time.Minute)
				e.ScheduledEnd = &closed
			},
			wantErr: ErrExamNotActive,
		},
		{
			name:    "unknown exam",
			examID:  func(*sessionFixture) uuid.UUID { return uuid.New() },
			wantErr: ErrExamNotFound,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newSessionFixture(t)
			if tt.mutate != nil {
				e := f.exam
				tt.mutate(&e)
				f.examRows.exams[e.ID] = e
			}
			examID := f.exam.ID
			if tt.examID != nil {
				examID = tt.examID(f)
			}
			if _, err := f.svc.Start(context.Background(), examID, participant, "MTK2026"); !errors.Is(err, tt.wantErr) {
				t.Errorf("Start() err = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestSaveAnswer(t *testing.T) {
	f := newSessionFixture(t)
	ctx := context.Background()
	qid := f.questions[0].ID

	if err := f.svc.SaveAnswer(ctx, f.exam.ID, participant, qid, "a"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("SaveAnswer() before start err = %v, want ErrSessionNotFound", err)
	}
	if _, err := f.svc.Start(ctx, f.exam.ID, participant, "MTK2026"); err != nil {
		t.Fatal(err)
	}

	if err := f.svc.SaveAnswer(ctx, f.exam.ID, participant, uuid.New(), "a"); !errors.Is(err, ErrUnknownQuestion) {
		t.Errorf("unknown question err = %v, want ErrUnknownQuestion", err)
	}
	if err := f.svc.SaveAnswer(ctx, f.exam.ID, participant, qid, "z"); !errors.Is(err, ErrUnknownOption) {
		t.Errorf("unknown option err = %v, want ErrUnknownOption", err)
	}
	if err := f.svc.SaveAnswer(ctx, f.exam.ID, participant, qid, "c"); err != nil {
		t.Fatalf("SaveAnswer() err = %v", err)
	}

	answersKey := config.CacheKey.ParticipantAnswersKey(f.exam.ID.String(), participant)
	if got := f.redis.HGet(answersKey, qid.String()); got != "c" {
		t.Errorf("answers hash = %q, want c", got)
	}
	queued, err := f.rdb.LRange(ctx, config.WorkerKey.PersistAnswersQueue, 0, -1).Result()
	if err != nil || len(queued) != 1 {
		t.Fatalf("answers queue = %v, %v; want one task", queued, err)
	}
	var task model.AnswerTask
	if err := json.Unmarshal([]byte(queued[0]), &task); err != nil {
		t.Fatal(err)
	}
	if task.Attempt != 1 || task.QuestionID != qid.String() || task.OptionID != "c" {
		t.Errorf("queued task = %+v", task)
	}

	f.clock.Advance(30 * time.Minute)
	if err := f.svc.SaveAnswer(ctx, f.exam.ID, participant, qid, "a"); !errors.Is(err, ErrSessionExpired) {
		t.Errorf("SaveAnswer() at deadline err = %v, want ErrSessionExpired", err)
	}
}

func TestGetQuestionsRestoresSavedAnswers(t *testing.T) {
	f := newSessionFixture(t)
	ctx := context.Background()

	if _, err := f.svc.Start(ctx, f.exam.ID, participant, "MTK2026"); err != nil {
		t.Fatal(err)
	}
	if err := f.svc.SaveAnswer(ctx, f.exam.ID, participant, f.questions[2].ID, "d"); err != nil {
		t.Fatal(err)
	}

	got, err := f.svc.GetQuestions(ctx, f.exam.ID, participant)
	if err != nil {
		t.Fatalf("GetQuestions() err = %v", err)
	}
	if len(got.Questions) != len(f.questions) {
		t.Fatalf("got %d questions, want %d", len(got.Questions), len(f.questions))
	}
	for i, q := range got.Questions {
		if q.ID != f.questions[i].ID {
			t.Errorf("question %d = %v, want %v", i, q.ID, f.questions[i].ID)
		}
	}
	if got.Answers[f.qid(2)] != "d" || len(got.Answers) != 1 {
		t.Errorf("answers = %v, want only %s=d", got.Answers, f.qid(2))
	}
	if !got.EndAt.Equal(fixtureNow.Add(30 * time.Minute)) {
		t.Errorf("end_at = %v", got.EndAt)
	}

	f.clock.Advance(31 * time.Minute)
	if _, err := f.svc.GetQuestions(ctx, f.exam.ID, participant); !errors.Is(err, ErrSessionExpired) {
		t.Errorf("GetQuestions() after deadline err = %v, want ErrSessionExpired", err)
	}
}

func TestSubmitGradesOnce(t *testing.T) {
	f := newSessionFixture(t)
	ctx := context.Background()

	if _, err := f.svc.Submit(ctx, f.exam.ID, participant, nil, false); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("Submit() before start err = %v, want ErrSessionNotFound", err)
	}
	if _, err := f.svc.Start(ctx, f.exam.ID, participant, "MTK2026"); err != nil {
		t.Fatal(err)
	}

	res, err := f.svc.Submit(ctx, f.exam.ID, participant, f.answersWith(2), false)
	if err != nil {
		t.Fatalf("Submit() err = %v", err)
	}
	if res.Score != 50 || !res.RetryAllowed || res.Attempt != 1 {
		t.Fatalf("result = %+v, want 50 with retry on attempt 1", res)
	}

	again, err := f.svc.Submit(ctx, f.exam.ID, participant, f.answersWith(4), true)
	if err != nil {
		t.Fatalf("second Submit() err = %v", err)
	}
	if *again != *res {
		t.Errorf("second result = %+v, want stored %+v", again, res)
	}
	if n := f.queueLen(t, config.WorkerKey.PersistScoresQueue); n != 1 {
		t.Errorf("scores queue length = %d, want 1", n)
	}
	if f.redis.Exists(config.CacheKey.ParticipantWindowKey(f.exam.ID.String(), participant)) {
		t.Error("window key should be deleted on submit")
	}

	if _, err := f.svc.GetQuestions(ctx, f.exam.ID, participant); !errors.Is(err, ErrAlreadyCompleted) {
		t.Errorf("GetQuestions() after submit err = %v, want ErrAlreadyCompleted", err)
	}
	if err := f.svc.SaveAnswer(ctx, f.exam.ID, participant, f.questions[0].ID, "a"); !errors.Is(err, ErrAlreadyCompleted) {
		t.Errorf("SaveAnswer() after submit err = %v, want ErrAlreadyCompleted", err)
	}
}

func TestConcurrentSubmitsShareOneResult(t *testing.T) {
	f := newSessionFixture(t)
	ctx := context.Background()
	if _, err := f.svc.Start(ctx, f.exam.ID, participant, "MTK2026"); err != nil {
		t.Fatal(err)
	}

	const callers = 8
	results := make([]*model.SubmitResult, callers)
	errs := make([]error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = f.svc.Submit(ctx, f.exam.ID, participant, f.answersWith(i%5), i%2 == 0)
		}(i)
	}
	wg.Wait()

	for i := 0; i < callers; i++ {
		if errs[i] != nil {
			t.Fatalf("caller %d err = %v", i, errs[i])
		}
		if *results[i] != *results[0] {
			t.Errorf("caller %d result = %+v, want %+v", i, results[i], results[0])
		}
	}
	if n := f.queueLen(t, config.WorkerKey.PersistScoresQueue); n != 1 {
		t.Errorf("scores queue length = %d, want 1", n)
	}
}

func TestSubmitGracePeriod(t *testing.T) {
	tests := []struct {
		name    string
		elapsed time.Duration
		want    float64
	}{
		{"inside grace uses payload", 30*time.Minute + 30*time.Second, 100},
		{"after grace uses autosaved answers", 30*time.Minute + 31*time.Second, 50},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newSessionFixture(t)
			ctx := context.Background()
			if _, err := f.svc.Start(ctx, f.exam.ID, participant, "MTK2026"); err != nil {
				t.Fatal(err)
			}
			for i := 0; i < 2; i++ {
				if err := f.svc.SaveAnswer(ctx, f.exam.ID, participant, f.questions[i].ID, "a"); err != nil {
					t.Fatal(err)
				}
			}

			f.clock.Advance(tt.elapsed)
			res, err := f.svc.Submit(ctx, f.exam.ID, participant, f.answersWith(4), true)
			if err != nil {
				t.Fatalf("Submit() err = %v", err)
			}
			if res.Score != tt.want {
				t.Errorf("score = %v, want %v", res.Score, tt.want)
			}
		})
	}
}

func TestStartAfterSubmitSettlesAndRetries(t *testing.T) {
	f := newSessionFixture(t)
	ctx := context.Background()
	if _, err := f.svc.Start(ctx, f.exam.ID, participant, "MTK2026"); err != nil {
		t.Fatal(err)
	}
	if err := f.svc.SaveAnswer(ctx, f.exam.ID, participant, f.questions[0].ID, "a"); err != nil {
		t.Fatal(err)
	}
	first, err := f.svc.Submit(ctx, f.exam.ID, participant, f.answersWith(1), false)
	if err != nil {
		t.Fatal(err)
	}
	if first.Score != 25 || !first.RetryAllowed {
		t.Fatalf("first result = %+v, want 25 with retry", first)
	}

	// The scoring worker has not run, so Start must settle the claimed result.
	if row := f.attempts.row(f.exam.ID, participant); row.Status != model.SessionStatusInProgress {
		t.Fatalf("row status before restart = %s", row.Status)
	}

	f.clock.Advance(10 * time.Minute)
	w, err := f.svc.Start(ctx, f.exam.ID, participant, "MTK2026")
	if err != nil {
		t.Fatalf("retry Start() err = %v", err)
	}
	if w.Attempt != 2 || !w.StartedAt.Equal(fixtureNow.Add(10*time.Minute)) {
		t.Errorf("retry window = %+v, want attempt 2 started now", w)
	}
	if f.attempts.completes != 1 {
		t.Errorf("settled %d results, want 1", f.attempts.completes)
	}
	examKey := f.exam.ID.String()
	if f.redis.Exists(config.CacheKey.ParticipantResultKey(examKey, participant)) ||
		f.redis.Exists(config.CacheKey.ParticipantAnswersKey(examKey, participant)) {
		t.Error("previous attempt's result and answers should be cleared")
	}

	second, err := f.svc.Submit(ctx, f.exam.ID, participant, f.answersWith(4), false)
	if err != nil {
		t.Fatal(err)
	}
	if second.Score != 100 || second.RetryAllowed || second.Attempt != 2 {
		t.Fatalf("second result = %+v, want 100 without retry on attempt 2", second)
	}

	if _, err := f.svc.Start(ctx, f.exam.ID, participant, "MTK2026"); !errors.Is(err, ErrAlreadyCompleted) {
		t.Errorf("Start() after passing err = %v, want ErrAlreadyCompleted", err)
	}
}

func TestDecideStart(t *testing.T) {
	now := time.Date(2026, 10, 16, 8, 0, 0, 0, time.UTC)
	opens := now.Add(-time.Hour)
	closes := now.Add(time.Hour)
	closed := now.Add(-time.Minute)

	open := &model.Exam{Status: model.ExamStatusPublished, ScheduledStart: &opens, ScheduledEnd: &closes}
	over := &model.Exam{Status: model.ExamStatusPublished, ScheduledStart: &opens, ScheduledEnd: &closed}

	inProgress := &model.ExamSession{Status: model.SessionStatusInProgress}
	passed := &model.ExamSession{Status: model.SessionStatusCompleted}
	failedRetry := &model.ExamSession{Status: model.SessionStatusCompleted, RetryAllowed: true}

	tests := []struct {
		name     string
		exam     *model.Exam
		existing *model.ExamSession
		want     startAction
		wantErr  error
	}{
		{"first start inside window", open, nil, startCreate, nil},
		{"first start after window", over, nil, 0, ErrExamNotActive},
		{"resume in progress", open, inProgress, startResume, nil},
		{"resume in progress after window closed", over, inProgress, startResume, nil},
		{"completed without retry", open, passed, 0, ErrAlreadyCompleted},
		{"completed with retry", open, failedRetry, startRetry, nil},
		{"retry after window closed", over, failedRetry, 0, ErrExamNotActive},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := decideStart(tt.exam, tt.existing, now)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}
			if err == nil && got != tt.want {
				t.Errorf("action = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestPayloadTrusted(t *testing.T) {
	end := time.Date(2026, 10, 16, 9, 0, 0, 0, time.UTC)
	sess := &model.ExamSession{EndAt: end}
	grace := 30 * time.Second

	if !payloadTrusted(sess, grace, end.Add(-time.Minute)) {
		t.Error("payload before end_at should be trusted")
	}
	if !payloadTrusted(sess, grace, end.Add(grace)) {
		t.Error("payload at end_at + grace should be trusted")
	}
	if payloadTrusted(sess, grace, end.Add(grace+time.Second)) {
		t.Error("payload after grace should not be trusted")
	}
}

func TestParseWindow(t *testing.T) {
	w, ok := parseWindow(map[string]string{"started_at": "1792135800", "end_at": "1792139400", "attempt": "2"})
	if !ok {
		t.Fatal("parseWindow rejected a complete hash")
	}
	if got := w.EndAt.Sub(w.StartedAt); got != time.Hour {
		t.Errorf("window length = %v, want 1h", got)
	}
	if w.Attempt != 2 {
		t.Errorf("attempt = %d, want 2", w.Attempt)
	}

	if _, ok := parseWindow(map[string]string{}); ok {
		t.Error("empty hash should be a cache miss")
	}
	if _, ok := parseWindow(map[string]string{"started_at": "1", "end_at": "x", "attempt": "1"}); ok {
		t.Error("corrupt hash should be a cache miss")
	}
}


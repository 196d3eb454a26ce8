package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/ujian/internal/repository"
)

type upsertCall struct {
	examID, questionID uuid.UUID
	participantID      int
	optionID           string
	attempt            int
}

type fakeAnswers struct {
	calls []upsertCall
	err   error
}

func (f *fakeAnswers) Upsert(_ context.Context, examID uuid.UUID, participantID int, questionID uuid.UUID, optionID string, attempt int) error {
	f.calls = append(f.calls, upsertCall{examID, questionID, participantID, optionID, attempt})
	return f.err
}

func TestAutosavePersist(t *testing.T) {
	examID, qid := uuid.New(), uuid.New()
	valid := `{"participant_id":4,"exam_id":"` + examID.String() + `","question_id":"` + qid.String() + `","option_id":"b","attempt":2}`

	tests := []struct {
		name      string
		raw       string
		writerErr error
		malformed bool
		upserts   int
	}{
		{name: "valid", raw: valid, upserts: 1},
		{name: "writer failure is retryable", raw: valid, writerErr: errors.New("conn reset"), upserts: 1},
		{name: "not json", raw: "{", malformed: true},
		{name: "bad exam id", raw: `{"participant_id":4,"exam_id":"x","question_id":"` + qid.String() + `","attempt":1}`, malformed: true},
		{name: "missing attempt", raw: `{"participant_id":4,"exam_id":"` + examID.String() + `","question_id":"` + qid.String() + `"}`, malformed: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := &fakeAnswers{err: tt.writerErr}
			w := NewAutosaveWorker(fake, nil, zerolog.Nop())

			err := w.persist(context.Background(), tt.raw)
			if got := errors.Is(err, errMalformed); got != tt.malformed {
				t.Errorf("malformed = %v, want %v (err %v)", got, tt.malformed, err)
			}
			if tt.writerErr != nil && !errors.Is(err, tt.writerErr) {
				t.Errorf("err = %v, want writer error", err)
			}
			if len(fake.calls) != tt.upserts {
				t.Fatalf("upserts = %d, want %d", len(fake.calls), tt.upserts)
			}
			if tt.upserts == 1 {
				c := fake.calls[0]
				if c.examID != examID || c.questionID != qid || c.participantID != 4 || c.optionID != "b" || c.attempt != 2 {
					t.Errorf("upsert = %+v", c)
				}
			}
		})
	}
}

type fakeScores struct {
	batchErr    error
	batchResult []repository.SessionKey
	rowErr      map[int]error
	unchanged   map[int]bool
	rows        []repository.ScoreUpdate
}

func (f *fakeScores) CompleteBatch(_ context.Context, batch []repository.ScoreUpdate) ([]repository.SessionKey, error) {
	if f.batchErr != nil {
		return nil, f.batchErr
	}
	return f.batchResult, nil
}

func (f *fakeScores) Complete(_ context.Context, u repository.ScoreUpdate) (bool, error) {
	f.rows = append(f.rows, u)
	if err := f.rowErr[u.ParticipantID]; err != nil {
		return false, err
	}
	return !f.unchanged[u.ParticipantID], nil
}

func scoreBatch(examID uuid.UUID, participants ...int) []repository.ScoreUpdate {
	var out []repository.ScoreUpdate
	for _, p := range participants {
		out = append(out, repository.ScoreUpdate{
			SessionKey: repository.SessionKey{ExamID: examID, ParticipantID: p},
			Attempt:    1,
			Score:      50,
			FinishedAt: time.Now(),
		})
	}
	return out
}

func TestScoringFlushBatch(t *testing.T) {
	examID := uuid.New()
	fake := &fakeScores{batchResult: []repository.SessionKey{{ExamID: examID, ParticipantID: 1}}}
	w := NewScoringWorker(fake, nil, zerolog.Nop())

	updated, failed := w.flush(context.Background(), scoreBatch(examID, 1, 2))
	if len(failed) != 0 || len(fake.rows) != 0 {
		t.Errorf("failed = %v, fallback rows = %d", failed, len(fake.rows))
	}
	if len(updated) != 1 || updated[0].ParticipantID != 1 {
		t.Errorf("updated = %v, want only participant 1", updated)
	}
}

func TestScoringFlushFallsBackPerRow(t *testing.T) {
	examID := uuid.New()
	fake := &fakeScores{
		batchErr:  errors.New("deadlock detected"),
		rowErr:    map[int]error{2: errors.New("timeout")},
		unchanged: map[int]bool{3: true},
	}
	w := NewScoringWorker(fake, nil, zerolog.Nop())

	updated, failed := w.flush(context.Background(), scoreBatch(examID, 1, 2, 3))
	if len(fake.rows) != 3 {
		t.Fatalf("fallback rows = %d, want 3", len(fake.rows))
	}
	if len(updated) != 1 || updated[0].ParticipantID != 1 {
		t.Errorf("updated = %v, want only participant 1", updated)
	}
	if len(failed) != 1 || failed[0].ParticipantID != 2 {
		t.Errorf("failed = %v, want participant 2", failed)
	}
}

func TestScoreTaskRoundTrip(t *testing.T) {
	u := scoreBatch(uuid.New(), 9)[0]
	u.Attempt = 3
	u.RetryAllowed = true
	u.FinishedAt = u.FinishedAt.Truncate(time.Second)

	raw, err := encodeScoreTask(u)
	if err != nil {
		t.Fatal(err)
	}
	got, err := decodeScoreTask(string(raw))
	if err != nil {
		t.Fatal(err)
	}
	if got.SessionKey != u.SessionKey || got.Attempt != 3 || !got.RetryAllowed || !got.FinishedAt.Equal(u.FinishedAt) {
		t.Errorf("decoded = %+v, want %+v", got, u)
	}

	for _, raw := range []string{`{"exam_id":"nope"}`, `{"participant_id":9}`} {
		if _, err := decodeScoreTask(raw); !errors.Is(err, errMalformed) {
			t.Errorf("decodeScoreTask(%s) err = %v, want errMalformed", raw, err)
		}
	}
}

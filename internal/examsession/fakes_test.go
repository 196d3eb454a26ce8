package examsession_test

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/stemsi/ujian/internal/examsession"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(now time.Time) *fakeClock {
	return &fakeClock{now: now}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type savedAnswer struct {
	questionID string
	optionID   string
}

type fakeBackend struct {
	mu sync.Mutex

	window     examsession.Window
	startErr   error
	startCalls int

	set      *examsession.QuestionSet
	fetchErr error

	saveErr   error
	saveCalls int
	saved     []savedAnswer

	submitGate  chan struct{}
	submitCalls int
	submitted   map[string]string
	submitAuto  bool
	result      examsession.Result
	submitErr   error
}

func (b *fakeBackend) Start(_ context.Context, _, accessCode string) (examsession.Window, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.startCalls++
	if b.startErr != nil {
		return examsession.Window{}, b.startErr
	}
	if accessCode == "" {
		return examsession.Window{}, examsession.ErrInvalidAccessCode
	}
	return b.window, nil
}

func (b *fakeBackend) FetchQuestions(_ context.Context, _ string) (*examsession.QuestionSet, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.fetchErr != nil {
		return nil, b.fetchErr
	}
	return b.set, nil
}

func (b *fakeBackend) SaveAnswer(_ context.Context, _, questionID, optionID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.saveCalls++
	if b.saveErr != nil {
		return b.saveErr
	}
	b.saved = append(b.saved, savedAnswer{questionID: questionID, optionID: optionID})
	return nil
}

func (b *fakeBackend) Submit(ctx context.Context, _ string, answers map[string]string, auto bool) (examsession.Result, error) {
	b.mu.Lock()
	b.submitCalls++
	b.submitted = answers
	b.submitAuto = auto
	gate := b.submitGate
	b.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return examsession.Result{}, ctx.Err()
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	return b.result, b.submitErr
}

func (b *fakeBackend) submitCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.submitCalls
}

func (b *fakeBackend) saveCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.saveCalls
}

// failingStore simulates a store whose reads break, e.g. a corrupted file.
type failingStore struct{}

var errStoreBroken = errors.New("store broken")

func (failingStore) Get(context.Context, string) (*examsession.Record, error) {
	return nil, errStoreBroken
}
func (failingStore) Set(context.Context, examsession.Record) error { return errStoreBroken }
func (failingStore) Clear(context.Context, string) error { return errStoreBroken }

func threeQuestions() *examsession.QuestionSet {
	opts := func(prefix string) []examsession.Option {
		return []examsession.Option{
			{ID: prefix + "a", Text: "A"},
			{ID: prefix + "b", Text: "B"},
			{ID: prefix + "c", Text: "C"},
			{ID: prefix + "d", Text: "D"},
		}
	}
	return &examsession.QuestionSet{
		Questions: []examsession.Question{
			{ID: "q1", Prompt: "2 + 2 = ?", Options: opts("q1")},
			{ID: "q2", Prompt: "Ibu kota Indonesia?", MediaURL: "/uploads/peta.png", MediaKind: examsession.MediaImage, Options: opts("q2")},
			{ID: "q3", Prompt: "Rumus luas lingkaran?", Options: opts("q3")},
		},
		Answers: map[string]string{},
	}
}

package examsession

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Config tunes a Session. Zero values fall back to the defaults below.
type Config struct {
	// Saver receives incremental selections. Defaults to the Backend.
	Saver             AnswerSaver
	Clock             Clock
	TickInterval      time.Duration
	AutosaveQueueSize int
	AutosaveRetries   int
	AutosaveBackoff   time.Duration
	// OnTick is called from the timer goroutine with the recomputed remaining time.
	OnTick func(remaining time.Duration)
}

const (
	defaultTickInterval      = time.Second
	defaultAutosaveQueueSize = 64
	defaultAutosaveRetries   = 2
	defaultAutosaveBackoff   = 500 * time.Millisecond
)

// Session drives one exam attempt from access-code verification to a final
// result. All methods are safe for concurrent use; submission happens at most
// once regardless of how many callers race to Submit.
type Session struct {
	backend Backend
	store   SessionStore
	saver   AnswerSaver
	clock   Clock
	cfg     Config
	log     zerolog.Logger

	mu        sync.Mutex
	started   bool
	examID    string
	window    Window
	questions []Question
	index     map[string]int
	current   int
	status    Status
	result    Result
	submitErr error
	done      chan struct{}

	autosave *autosaveQueue
	timer    *Timer
}

// New creates a Session bound to a backend and a participant-scoped store.
func New(backend Backend, store SessionStore, log zerolog.Logger, cfg Config) *Session {
	if cfg.Clock == nil {
		cfg.Clock = SystemClock{}
	}
	if cfg.Saver == nil {
		cfg.Saver = backend
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = defaultTickInterval
	}
	if cfg.AutosaveQueueSize <= 0 {
		cfg.AutosaveQueueSize = defaultAutosaveQueueSize
	}
	if cfg.AutosaveRetries < 0 {
		cfg.AutosaveRetries = 0
	}
	if cfg.AutosaveBackoff <= 0 {
		cfg.AutosaveBackoff = defaultAutosaveBackoff
	}

	return &Session{
		backend: backend,
		store:   store,
		saver:   cfg.Saver,
		clock:   cfg.Clock,
		cfg:     cfg,
		log:     log.With().Str("component", "exam_session").Logger(),
		done:    make(chan struct{}),
	}
}

// Start opens the attempt. A record left in the local store by an earlier run
// is resumed as-is, so a reload never extends the deadline.
func (s *Session) Start(ctx context.Context, examID, accessCode string) (Window, error) {
	s.mu.Lock()
	if s.started {
		defer s.mu.Unlock()
		if s.examID != examID {
			return Window{}, ErrAlreadyStarted
		}
		return s.window, nil
	}
	s.mu.Unlock()

	rec, err := s.store.Get(ctx, examID)
	if err != nil && !errors.Is(err, ErrRecordNotFound) {
		return Window{}, fmt.Errorf("read session store: %w", err)
	}

	if rec != nil {
		s.log.Info().
			Str("exam_id", examID).
			Time("end_at", rec.EndAt).
			Msg("Resuming exam session")
	} else {
		window, err := s.backend.Start(ctx, examID, accessCode)
		if err != nil {
			return Window{}, err
		}
		rec = &Record{
			ExamID:     examID,
			AccessCode: accessCode,
			StartedAt:  window.StartedAt,
			EndAt:      window.EndAt,
		}
		// The backend resumes the same window on its side, so a failed local
		// write costs nothing but a round trip after a reload.
		if err := s.store.Set(ctx, *rec); err != nil {
			s.log.Warn().Err(err).Str("exam_id", examID).Msg("Failed to persist session record")
		}
		s.log.Info().
			Str("exam_id", examID).
			Time("end_at", rec.EndAt).
			Msg("Exam session started")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		if s.examID != examID {
			return Window{}, ErrAlreadyStarted
		}
		return s.window, nil
	}

	s.started = true
	s.examID = examID
	s.window = rec.Window()
	s.status = StatusInProgress
	s.autosave = newAutosaveQueue(
		s.saver,
		s.cfg.AutosaveQueueSize,
		s.cfg.AutosaveRetries,
		s.cfg.AutosaveBackoff,
		func() bool { return s.Status() == StatusInProgress },
		s.log,
	)
	s.autosave.start()

	return s.window, nil
}

// LoadQuestions fetches the ordered question set and restores saved selections.
// It returns ErrSessionExpired without touching question state once the
// deadline has passed; the caller must then Submit with auto set.
func (s *Session) LoadQuestions(ctx context.Context) ([]Question, error) {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return nil, ErrNotStarted
	}
	if s.status != StatusInProgress {
		s.mu.Unlock()
		return nil, ErrNotInProgress
	}
	examID := s.examID
	endAt := s.window.EndAt
	s.mu.Unlock()

	if remainingUntil(s.clock, endAt) <= 0 {
		return nil, ErrSessionExpired
	}

	set, err := s.backend.FetchQuestions(ctx, examID)
	if err != nil {
		if errors.Is(err, ErrAlreadyCompleted) || errors.Is(err, ErrSessionNotFound) {
			s.forget(ctx, examID)
		}
		return nil, err
	}
	if set == nil || len(set.Questions) == 0 {
		return nil, ErrNoQuestions
	}

	questions := make([]Question, len(set.Questions))
	index := make(map[string]int, len(set.Questions))
	for i, q := range set.Questions {
		questions[i] = q.clone()
		questions[i].SelectedOptionID = nil
		if q.MediaKind == "" {
			questions[i].MediaKind = MediaNone
		}
		if optID, ok := set.Answers[q.ID]; ok && q.hasOption(optID) {
			sel := optID
			questions[i].SelectedOptionID = &sel
		}
		index[q.ID] = i
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != StatusInProgress {
		return nil, ErrNotInProgress
	}
	s.questions = questions
	s.index = index
	s.current = 0

	return s.snapshotLocked(), nil
}

// SelectAnswer records a selection in memory and queues it for best-effort
// persistence. It never waits on the network.
func (s *Session) SelectAnswer(questionID, optionID string) error {
	s.mu.Lock()
	if s.status != StatusInProgress || !s.started {
		s.mu.Unlock()
		return ErrNotInProgress
	}
	i, ok := s.index[questionID]
	if !ok {
		s.mu.Unlock()
		return ErrUnknownQuestion
	}
	if !s.questions[i].hasOption(optionID) {
		s.mu.Unlock()
		return ErrUnknownOption
	}
	sel := optionID
	s.questions[i].SelectedOptionID = &sel
	examID := s.examID
	queue := s.autosave
	s.mu.Unlock()

	queue.enqueue(pendingAnswer{examID: examID, questionID: questionID, optionID: optionID})
	return nil
}

// Submit sends the in-memory answers exactly once. Callers arriving while a
// submission is in flight wait for it and receive the same outcome; callers
// arriving afterwards get the stored outcome. A failed submission still ends
// the attempt in StatusFailed.
func (s *Session) Submit(ctx context.Context, auto bool) (Result, error) {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return Result{}, ErrNotStarted
	}

	switch {
	case s.status == StatusSubmitting:
		done := s.done
		s.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
			return Result{}, ctx.Err()
		}
		return s.outcome()
	case s.status.Terminal():
		defer s.mu.Unlock()
		return s.result, s.submitErr
	}

	s.status = StatusSubmitting
	answers := s.answerMapLocked()
	examID := s.examID
	timer := s.timer
	queue := s.autosave
	s.mu.Unlock()

	if timer != nil {
		timer.Stop()
	}
	queue.stop()

	s.log.Info().
		Str("exam_id", examID).
		Bool("auto", auto).
		Int("answered", len(answers)).
		Msg("Submitting exam")

	result, err := s.backend.Submit(ctx, examID, answers, auto)

	if clearErr := s.store.Clear(context.WithoutCancel(ctx), examID); clearErr != nil {
		s.log.Warn().Err(clearErr).Str("exam_id", examID).Msg("Failed to clear session record")
	}

	s.mu.Lock()
	if err != nil {
		s.status = StatusFailed
		s.result = Result{}
		s.submitErr = fmt.Errorf("submit exam: %w", err)
		s.log.Error().Err(err).Str("exam_id", examID).Msg("Exam submission failed")
	} else {
		s.status = StatusCompleted
		s.result = result
		s.log.Info().
			Str("exam_id", examID).
			Float64("score", result.Score).
			Bool("retry_allowed", result.RetryAllowed).
			Msg("Exam submitted")
	}
	close(s.done)
	s.mu.Unlock()

	return s.outcome()
}

// StartTimer begins the countdown to the deadline. When it reaches zero the
// session submits itself with auto set. Calling it again is a no-op.
func (s *Session) StartTimer(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return ErrNotStarted
	}
	if s.status != StatusInProgress {
		return ErrNotInProgress
	}
	if s.timer != nil {
		return nil
	}

	examID := s.examID
	submitCtx := context.WithoutCancel(ctx)
	s.timer = newTimer(s.clock, s.window.EndAt, s.cfg.TickInterval, s.cfg.OnTick, func() {
		if _, err := s.Submit(submitCtx, true); err != nil {
			s.log.Warn().Err(err).Str("exam_id", examID).Msg("Auto-submit ended in failure")
		}
	})
	go s.timer.run(ctx)
	return nil
}

// Close releases the timer and the autosave queue without submitting. The
// local record is kept so the attempt can be resumed.
func (s *Session) Close() {
	s.mu.Lock()
	timer := s.timer
	queue := s.autosave
	s.mu.Unlock()

	if timer != nil {
		timer.Stop()
		timer.Wait()
	}
	if queue != nil {
		queue.stop()
		queue.wait()
	}
}

// forget drops a local attempt the backend no longer knows as in progress:
// the record is cleared and the session returns to its unstarted state, so
// the next Start goes to the backend.
func (s *Session) forget(ctx context.Context, examID string) {
	if err := s.store.Clear(context.WithoutCancel(ctx), examID); err != nil {
		s.log.Warn().Err(err).Str("exam_id", examID).Msg("Failed to clear session record")
	}

	s.mu.Lock()
	if s.status != StatusInProgress || s.examID != examID {
		s.mu.Unlock()
		return
	}
	timer := s.timer
	queue := s.autosave
	s.started = false
	s.examID = ""
	s.window = Window{}
	s.questions = nil
	s.index = nil
	s.current = 0
	s.status = ""
	s.timer = nil
	s.autosave = nil
	s.mu.Unlock()

	if timer != nil {
		timer.Stop()
		timer.Wait()
	}
	if queue != nil {
		queue.stop()
		queue.wait()
	}

	s.log.Info().Str("exam_id", examID).Msg("Dropped stale session record")
}

// Done is closed once the attempt reaches a terminal state.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Status returns the current state.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// ExamID returns the exam the session was started for.
func (s *Session) ExamID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.examID
}

// Window returns the server-issued time box.
func (s *Session) Window() Window {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.window
}

// Remaining is recomputed from the deadline on every call.
func (s *Session) Remaining() time.Duration {
	s.mu.Lock()
	endAt := s.window.EndAt
	s.mu.Unlock()
	return remainingUntil(s.clock, endAt)
}

// Result returns the stored outcome and whether the attempt has completed.
func (s *Session) Result() (Result, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.result, s.status == StatusCompleted
}

// Questions returns a copy of the loaded questions.
func (s *Session) Questions() []Question {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// Answered counts questions with a selection.
func (s *Session) Answered() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, q := range s.questions {
		if q.SelectedOptionID != nil {
			n++
		}
	}
	return n
}

// Current returns the question under the cursor and its position.
func (s *Session) Current() (Question, int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.questions) == 0 {
		return Question{}, 0, false
	}
	return s.questions[s.current].clone(), s.current, true
}

// Goto moves the cursor, clamping to the valid range.
func (s *Session) Goto(i int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.questions) == 0 {
		return 0
	}
	switch {
	case i < 0:
		i = 0
	case i >= len(s.questions):
		i = len(s.questions) - 1
	}
	s.current = i
	return s.current
}

// Next advances the cursor by one.
func (s *Session) Next() int {
	s.mu.Lock()
	i := s.current + 1
	s.mu.Unlock()
	return s.Goto(i)
}

// Prev moves the cursor back by one.
func (s *Session) Prev() int {
	s.mu.Lock()
	i := s.current - 1
	s.mu.Unlock()
	return s.Goto(i)
}

func (s *Session) outcome() (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.result, s.submitErr
}

func (s *Session) snapshotLocked() []Question {
	out := make([]Question, len(s.questions))
	for i, q := range s.questions {
		out[i] = q.clone()
	}
	return out
}

// answerMapLocked omits unanswered questions.
func (s *Session) answerMapLocked() map[string]string {
	answers := make(map[string]string, len(s.questions))
	for _, q := range s.questions {
		if q.SelectedOptionID != nil {
			answers[q.ID] = *q.SelectedOptionID
		}
	}
	return answers
}

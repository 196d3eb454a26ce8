package examsession

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

type pendingAnswer struct {
	examID     string
	questionID string
	optionID   string
}

// autosaveQueue sends selections to the backend in the background. Enqueueing
// never blocks: when the buffer is full the selection is dropped, since the
// final submit payload carries every selection anyway.
type autosaveQueue struct {
	saver   AnswerSaver
	items   chan pendingAnswer
	retries int
	backoff time.Duration
	active  func() bool
	log     zerolog.Logger

	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopOnce sync.Once
}

func newAutosaveQueue(saver AnswerSaver, size, retries int, backoff time.Duration, active func() bool, log zerolog.Logger) *autosaveQueue {
	ctx, cancel := context.WithCancel(context.Background())
	return &autosaveQueue{
		saver:   saver,
		items:   make(chan pendingAnswer, size),
		retries: retries,
		backoff: backoff,
		active:  active,
		log:     log,
		ctx:     ctx,
		cancel:  cancel,
	}
}

func (q *autosaveQueue) start() {
	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		for {
			select {
			case <-q.ctx.Done():
				return
			case a := <-q.items:
				q.send(a)
			}
		}
	}()
}

func (q *autosaveQueue) enqueue(a pendingAnswer) bool {
	if q.ctx.Err() != nil {
		return false
	}
	select {
	case q.items <- a:
		return true
	default:
		q.log.Warn().
			Str("question_id", a.questionID).
			Msg("Autosave queue full, dropping selection")
		return false
	}
}

func (q *autosaveQueue) send(a pendingAnswer) {
	for attempt := 0; attempt <= q.retries; attempt++ {
		if !q.active() {
			return
		}

		err := q.saver.SaveAnswer(q.ctx, a.examID, a.questionID, a.optionID)
		if err == nil {
			return
		}
		if q.ctx.Err() != nil {
			return
		}

		q.log.Warn().Err(err).
			Str("exam_id", a.examID).
			Str("question_id", a.questionID).
			Int("attempt", attempt+1).
			Msg("Autosave failed")

		select {
		case <-q.ctx.Done():
			return
		case <-time.After(q.backoff * time.Duration(attempt+1)):
		}
	}
}

// stop cancels in-flight and pending saves without waiting for them.
func (q *autosaveQueue) stop() {
	q.stopOnce.Do(q.cancel)
}

func (q *autosaveQueue) wait() {
	q.wg.Wait()
}

package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/ujian/internal/config"
	"github.com/stemsi/ujian/internal/metrics"
	"github.com/stemsi/ujian/internal/model"
)

const (
	pollTimeout  = time.Second
	retryBackoff = 5 * time.Second
)

// errMalformed marks queue items that can never be persisted.
var errMalformed = errors.New("malformed task")

// AnswerWriter stores autosaved answers durably.
type AnswerWriter interface {
	Upsert(ctx context.Context, examID uuid.UUID, participantID int, questionID uuid.UUID, optionID string, attempt int) error
}

// AutosaveWorker consumes persist_answers_queue and UPSERTs answers to PostgreSQL.
type AutosaveWorker struct {
	answers AnswerWriter
	rdb     *redis.Client
	log     zerolog.Logger
}

// NewAutosaveWorker creates a new AutosaveWorker.
func NewAutosaveWorker(answers AnswerWriter, rdb *redis.Client, log zerolog.Logger) *AutosaveWorker {
	return &AutosaveWorker{
		answers: answers,
		rdb:     rdb,
		log:     log.With().Str("component", "autosave_worker").Logger(),
	}
}

// Start runs the worker loop until ctx is cancelled, then drains the queue.
// Call in a goroutine.
func (w *AutosaveWorker) Start(ctx context.Context) {
	w.log.Info().Msg("Worker started")

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("Worker stopping...")
			w.drain(context.Background())
			w.log.Info().Msg("Worker stopped")
			return
		default:
			w.processNext(ctx)
		}
	}
}

func (w *AutosaveWorker) processNext(ctx context.Context) {
	result, err := w.rdb.BLPop(ctx, pollTimeout, config.WorkerKey.PersistAnswersQueue).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) && ctx.Err() == nil {
			w.log.Error().Err(err).Msg("BLPop error")
		}
		return
	}
	if len(result) < 2 {
		return
	}

	err = w.persist(ctx, result[1])
	switch {
	case err == nil:
		metrics.WorkerItems.WithLabelValues("autosave", "ok").Inc()
	case errors.Is(err, errMalformed):
		metrics.WorkerItems.WithLabelValues("autosave", "dropped").Inc()
		w.log.Error().Err(err).Str("payload", result[1]).Msg("Dropping task")
	default:
		metrics.WorkerItems.WithLabelValues("autosave", "requeued").Inc()
		w.log.Error().Err(err).Msg("Persist error, retrying in 5s")
		// Push back to queue for retry.
		w.rdb.RPush(context.WithoutCancel(ctx), config.WorkerKey.PersistAnswersQueue, result[1])
		select {
		case <-time.After(retryBackoff):
		case <-ctx.Done():
		}
	}
}

// persist decodes one queue item and upserts it.
func (w *AutosaveWorker) persist(ctx context.Context, raw string) error {
	var task model.AnswerTask
	if err := json.Unmarshal([]byte(raw), &task); err != nil {
		return fmt.Errorf("%w: %v", errMalformed, err)
	}

	examID, err := uuid.Parse(task.ExamID)
	if err != nil {
		return fmt.Errorf("%w: exam_id: %v", errMalformed, err)
	}
	questionID, err := uuid.Parse(task.QuestionID)
	if err != nil {
		return fmt.Errorf("%w: question_id: %v", errMalformed, err)
	}
	if task.ParticipantID <= 0 || task.Attempt <= 0 {
		return fmt.Errorf("%w: participant %d attempt %d", errMalformed, task.ParticipantID, task.Attempt)
	}

	return w.answers.Upsert(ctx, examID, task.ParticipantID, questionID, task.OptionID, task.Attempt)
}

// drain processes all remaining items in the queue before shutdown.
func (w *AutosaveWorker) drain(ctx context.Context) {
	drained := 0
	for {
		raw, err := w.rdb.LPop(ctx, config.WorkerKey.PersistAnswersQueue).Result()
		if err != nil {
			break
		}

		if err := w.persist(ctx, raw); err != nil {
			if errors.Is(err, errMalformed) {
				w.log.Error().Err(err).Msg("Drain dropped task")
				continue
			}
			w.log.Error().Err(err).Msg("Drain persist error")
			w.rdb.RPush(ctx, config.WorkerKey.PersistAnswersQueue, raw)
			break
		}
		drained++
	}

	if drained > 0 {
		w.log.Info().Int("count", drained).Msg("Drained remaining items")
	}
}

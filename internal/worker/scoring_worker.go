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
	"github.com/stemsi/ujian/internal/repository"
)

const (
	ScoreBatchSize    = 50
	ScoreBatchTimeout = 2 * time.Second
)

// ScoreWriter completes graded attempts in PostgreSQL.
type ScoreWriter interface {
	CompleteBatch(ctx context.Context, batch []repository.ScoreUpdate) ([]repository.SessionKey, error)
	Complete(ctx context.Context, u repository.ScoreUpdate) (bool, error)
}

// ScoringWorker consumes persist_scores_queue in batches.
type ScoringWorker struct {
	sessions ScoreWriter
	rdb      *redis.Client
	log      zerolog.Logger
}

// NewScoringWorker creates a new ScoringWorker.
func NewScoringWorker(sessions ScoreWriter, rdb *redis.Client, log zerolog.Logger) *ScoringWorker {
	return &ScoringWorker{
		sessions: sessions,
		rdb:      rdb,
		log:      log.With().Str("component", "scoring_worker").Logger(),
	}
}

// ----------------------------------------------------------------
// Worker loop with batching
// ----------------------------------------------------------------

func (w *ScoringWorker) Start(ctx context.Context) {
	w.log.Info().Msg("ScoringWorker started")

	batch := make([]repository.ScoreUpdate, 0, ScoreBatchSize)
	lastFlush := time.Now()

	for {
		if len(batch) > 0 &&
			(len(batch) >= ScoreBatchSize || time.Since(lastFlush) >= ScoreBatchTimeout) {

			w.flushSafe(ctx, batch)
			batch = batch[:0]
			lastFlush = time.Now()
		}

		select {
		case <-ctx.Done():
			w.log.Info().Msg("Shutdown requested. Flushing remaining batch...")
			w.flushSafe(context.Background(), batch)
			return

		default:
			item, err := w.rdb.BLPop(ctx, pollTimeout, config.WorkerKey.PersistScoresQueue).Result()
			if err != nil {
				if !errors.Is(err, redis.Nil) && ctx.Err() == nil {
					w.log.Error().Err(err).Msg("BLPop error")
				}
				continue
			}
			if len(item) < 2 {
				continue
			}

			u, err := decodeScoreTask(item[1])
			if err != nil {
				metrics.WorkerItems.WithLabelValues("scoring", "dropped").Inc()
				w.log.Error().Err(err).Str("payload", item[1]).Msg("Invalid score task")
				continue
			}
			batch = append(batch, u)
		}
	}
}

func decodeScoreTask(raw string) (repository.ScoreUpdate, error) {
	var t model.ScoreTask
	if err := json.Unmarshal([]byte(raw), &t); err != nil {
		return repository.ScoreUpdate{}, fmt.Errorf("%w: %v", errMalformed, err)
	}
	if t.ExamID == uuid.Nil {
		return repository.ScoreUpdate{}, fmt.Errorf("%w: missing exam_id", errMalformed)
	}
	if t.FinishedAt.IsZero() {
		t.FinishedAt = time.Now()
	}
	return repository.ScoreUpdate{
		SessionKey:   repository.SessionKey{ExamID: t.ExamID, ParticipantID: t.ParticipantID},
		Attempt:      t.Attempt,
		Score:        t.Score,
		RetryAllowed: t.RetryAllowed,
		FinishedAt:   t.FinishedAt,
	}, nil
}

func encodeScoreTask(u repository.ScoreUpdate) ([]byte, error) {
	return json.Marshal(model.ScoreTask{
		ParticipantID: u.ParticipantID,
		ExamID:        u.ExamID,
		Attempt:       u.Attempt,
		Score:         u.Score,
		RetryAllowed:  u.RetryAllowed,
		FinishedAt:    u.FinishedAt,
	})
}

// ----------------------------------------------------------------
// Batch update with per-row fallback
// ----------------------------------------------------------------

func (w *ScoringWorker) flushSafe(ctx context.Context, batch []repository.ScoreUpdate) {
	if len(batch) == 0 {
		return
	}

	updated, failed := w.flush(ctx, batch)

	for _, u := range failed {
		raw, err := encodeScoreTask(u)
		if err != nil {
			continue
		}
		w.rdb.RPush(ctx, config.WorkerKey.PersistScoresQueue, raw)
	}

	metrics.WorkerItems.WithLabelValues("scoring", "ok").Add(float64(len(batch) - len(failed)))
	metrics.WorkerItems.WithLabelValues("scoring", "requeued").Add(float64(len(failed)))

	w.clearAutosavedAnswers(ctx, updated)
}

// flush completes the batch and returns the sessions that changed plus the
// updates that must be retried.
func (w *ScoringWorker) flush(ctx context.Context, batch []repository.ScoreUpdate) (updated []repository.SessionKey, failed []repository.ScoreUpdate) {
	updated, err := w.sessions.CompleteBatch(ctx, batch)
	if err == nil {
		return updated, nil
	}

	w.log.Warn().Err(err).Int("size", len(batch)).Msg("Bulk score update failed, using fallback")
	updated = updated[:0]
	for _, u := range batch {
		changed, err := w.sessions.Complete(ctx, u)
		if err != nil {
			w.log.Error().Err(err).
				Int("participant_id", u.ParticipantID).
				Str("exam_id", u.ExamID.String()).
				Msg("Score update failed, requeueing")
			failed = append(failed, u)
			continue
		}
		if changed {
			updated = append(updated, u.SessionKey)
		}
	}
	return updated, failed
}

// clearAutosavedAnswers drops the Redis answer buffers of completed attempts.
// Rows that did not change (stale attempt, already completed) keep theirs.
func (w *ScoringWorker) clearAutosavedAnswers(ctx context.Context, keys []repository.SessionKey) {
	if len(keys) == 0 {
		return
	}
	pipe := w.rdb.Pipeline()
	for _, k := range keys {
		pipe.Del(ctx, config.CacheKey.ParticipantAnswersKey(k.ExamID.String(), k.ParticipantID))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		w.log.Warn().Err(err).Msg("Failed to clear autosaved answers")
	}
}

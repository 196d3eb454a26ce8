package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/ujian/internal/model"
)

// SessionKey identifies one attempt of one participant.
type SessionKey struct {
	ExamID        uuid.UUID
	ParticipantID int
}

// ScoreUpdate is one row of a batched completion.
type ScoreUpdate struct {
	SessionKey
	Attempt      int
	Score        float64
	RetryAllowed bool
	FinishedAt   time.Time
}

// ExamSessionRepository handles exam session data access.
type ExamSessionRepository struct {
	pool *pgxpool.Pool
}

// NewExamSessionRepository creates a new ExamSessionRepository.
func NewExamSessionRepository(pool *pgxpool.Pool) *ExamSessionRepository {
	return &ExamSessionRepository{pool: pool}
}

// GetByExamAndParticipant retrieves the session row for an exam-participant pair.
func (r *ExamSessionRepository) GetByExamAndParticipant(ctx context.Context, examID uuid.UUID, participantID int) (*model.ExamSession, error) {
	s := &model.ExamSession{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, exam_id, participant_id, attempt, started_at, end_at, finished_at,
		        status, final_score, retry_allowed
		 FROM exam_sessions
		 WHERE exam_id = $1 AND participant_id = $2`, examID, participantID,
	).Scan(&s.ID, &s.ExamID, &s.ParticipantID, &s.Attempt, &s.StartedAt, &s.EndAt, &s.FinishedAt,
		&s.Status, &s.FinalScore, &s.RetryAllowed)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// Create inserts the first attempt. It returns pgx.ErrNoRows when a
// concurrent request already created the row.
func (r *ExamSessionRepository) Create(ctx context.Context, s *model.ExamSession) error {
	return r.pool.QueryRow(ctx,
		`INSERT INTO exam_sessions (exam_id, participant_id, attempt, started_at, end_at, status)
		 VALUES ($1, $2, 1, $3, $4, $5)
		 ON CONFLICT (exam_id, participant_id) DO NOTHING
		 RETURNING id, attempt`,
		s.ExamID, s.ParticipantID, s.StartedAt, s.EndAt, model.SessionStatusInProgress,
	).Scan(&s.ID, &s.Attempt)
}

// Reopen starts a new attempt on a completed session whose retry is allowed,
// clearing the previous attempt's answers in the same transaction. It returns
// pgx.ErrNoRows when the session is not eligible.
func (r *ExamSessionRepository) Reopen(ctx context.Context, s *model.ExamSession) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	err = tx.QueryRow(ctx,
		`UPDATE exam_sessions
		 SET attempt = attempt + 1, started_at = $1, end_at = $2, status = $3,
		     finished_at = NULL, final_score = NULL, retry_allowed = FALSE
		 WHERE exam_id = $4 AND participant_id = $5
		   AND status = $6 AND retry_allowed
		 RETURNING id, attempt`,
		s.StartedAt, s.EndAt, model.SessionStatusInProgress,
		s.ExamID, s.ParticipantID, model.SessionStatusCompleted,
	).Scan(&s.ID, &s.Attempt)
	if err != nil {
		return err
	}

	if _, err := tx.Exec(ctx,
		`DELETE FROM participant_answers WHERE exam_id = $1 AND participant_id = $2`,
		s.ExamID, s.ParticipantID); err != nil {
		return err
	}

	s.Status = model.SessionStatusInProgress
	s.FinishedAt = nil
	s.FinalScore = nil
	s.RetryAllowed = false
	return tx.Commit(ctx)
}

// Complete marks one attempt as completed. Rows already completed or on a
// different attempt are left untouched; the bool reports whether a row changed.
func (r *ExamSessionRepository) Complete(ctx context.Context, u ScoreUpdate) (bool, error) {
	tag, err := r.pool.Exec(ctx,
		`UPDATE exam_sessions
		 SET status = $1, final_score = $2, retry_allowed = $3, finished_at = $4
		 WHERE exam_id = $5 AND participant_id = $6 AND attempt = $7 AND status = $8`,
		model.SessionStatusCompleted, u.Score, u.RetryAllowed, u.FinishedAt,
		u.ExamID, u.ParticipantID, u.Attempt, model.SessionStatusInProgress)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// CompleteBatch is Complete for many attempts in one statement (UNNEST).
// It returns the keys of the rows that changed.
func (r *ExamSessionRepository) CompleteBatch(ctx context.Context, batch []ScoreUpdate) ([]SessionKey, error) {
	n := len(batch)
	examIDs := make([]uuid.UUID, 0, n)
	participants := make([]int, 0, n)
	attempts := make([]int, 0, n)
	scores := make([]float64, 0, n)
	retries := make([]bool, 0, n)
	finishedAts := make([]time.Time, 0, n)

	for _, u := range batch {
		examIDs = append(examIDs, u.ExamID)
		participants = append(participants, u.ParticipantID)
		attempts = append(attempts, u.Attempt)
		scores = append(scores, u.Score)
		retries = append(retries, u.RetryAllowed)
		finishedAts = append(finishedAts, u.FinishedAt)
	}

	rows, err := r.pool.Query(ctx, `
		UPDATE exam_sessions AS s
		SET status = 'COMPLETED',
		    final_score = t.score,
		    retry_allowed = t.retry_allowed,
		    finished_at = t.finished_at
		FROM UNNEST(
			$1::uuid[],
			$2::int[],
			$3::int[],
			$4::float8[],
			$5::bool[],
			$6::timestamptz[]
		) AS t (exam_id, participant_id, attempt, score, retry_allowed, finished_at)
		WHERE s.exam_id = t.exam_id
		  AND s.participant_id = t.participant_id
		  AND s.attempt = t.attempt
		  AND s.status = 'IN_PROGRESS'
		RETURNING s.exam_id, s.participant_id`,
		examIDs, participants, attempts, scores, retries, finishedAts)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var updated []SessionKey
	for rows.Next() {
		var k SessionKey
		if err := rows.Scan(&k.ExamID, &k.ParticipantID); err != nil {
			return nil, err
		}
		updated = append(updated, k)
	}
	return updated, rows.Err()
}

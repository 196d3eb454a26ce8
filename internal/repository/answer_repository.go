package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// AnswerRepository handles the durable copy of autosaved answers.
type AnswerRepository struct {
	pool *pgxpool.Pool
}

// NewAnswerRepository creates a new AnswerRepository.
func NewAnswerRepository(pool *pgxpool.Pool) *AnswerRepository {
	return &AnswerRepository{pool: pool}
}

// Upsert stores one selection. It is a no-op when the session row is on a
// different attempt, so a late task from a previous attempt cannot leak into
// a retry.
func (r *AnswerRepository) Upsert(ctx context.Context, examID uuid.UUID, participantID int, questionID uuid.UUID, optionID string, attempt int) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO participant_answers (exam_id, participant_id, question_id, option_id)
		 SELECT $1, $2, $3, $4
		 WHERE EXISTS (
		     SELECT 1 FROM exam_sessions
		     WHERE exam_id = $1 AND participant_id = $2 AND attempt = $5
		 )
		 ON CONFLICT (exam_id, participant_id, question_id) DO UPDATE
		 SET option_id = EXCLUDED.option_id, updated_at = NOW()`,
		examID, participantID, questionID, optionID, attempt,
	)
	return err
}

// ListByParticipant returns question_id -> option_id for one participant's exam.
func (r *AnswerRepository) ListByParticipant(ctx context.Context, examID uuid.UUID, participantID int) (map[string]string, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT question_id, option_id FROM participant_answers
		 WHERE exam_id = $1 AND participant_id = $2`, examID, participantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	answers := make(map[string]string)
	for rows.Next() {
		var qid uuid.UUID
		var oid string
		if err := rows.Scan(&qid, &oid); err != nil {
			return nil, err
		}
		answers[qid.String()] = oid
	}
	return answers, rows.Err()
}

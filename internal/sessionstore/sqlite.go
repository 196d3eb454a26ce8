package sessionstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/stemsi/ujian/internal/examsession"
)

// SQLite persists session records in a local SQLite file, scoped to one
// participant. Open the database with database.NewSQLite.
type SQLite struct {
	db          *sql.DB
	participant string
}

// NewSQLite creates a store for the given participant (usually the NISN).
func NewSQLite(db *sql.DB, participant string) *SQLite {
	return &SQLite{db: db, participant: participant}
}

// Get returns the record for examID.
func (s *SQLite) Get(ctx context.Context, examID string) (*examsession.Record, error) {
	var (
		rec       examsession.Record
		startedAt int64
		endAt     int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT exam_id, access_code, started_at, end_at
		 FROM session_records
		 WHERE participant = ? AND exam_id = ?`,
		s.participant, examID,
	).Scan(&rec.ExamID, &rec.AccessCode, &startedAt, &endAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, examsession.ErrRecordNotFound
		}
		return nil, fmt.Errorf("query session record: %w", err)
	}

	rec.StartedAt = time.UnixMilli(startedAt)
	rec.EndAt = time.UnixMilli(endAt)
	return &rec, nil
}

// Set upserts rec.
func (s *SQLite) Set(ctx context.Context, rec examsession.Record) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO session_records (participant, exam_id, access_code, started_at, end_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (participant, exam_id) DO UPDATE
		 SET access_code = excluded.access_code,
		     started_at = excluded.started_at,
		     end_at = excluded.end_at`,
		s.participant, rec.ExamID, rec.AccessCode, rec.StartedAt.UnixMilli(), rec.EndAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("upsert session record: %w", err)
	}
	return nil
}

// Clear deletes the record for examID.
func (s *SQLite) Clear(ctx context.Context, examID string) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM session_records WHERE participant = ? AND exam_id = ?`,
		s.participant, examID,
	); err != nil {
		return fmt.Errorf("delete session record: %w", err)
	}
	return nil
}

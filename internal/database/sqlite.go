package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite" // driver: sqlite
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS session_records (
  participant TEXT NOT NULL,
  exam_id     TEXT NOT NULL,
  access_code TEXT NOT NULL,
  started_at  INTEGER NOT NULL,
  end_at      INTEGER NOT NULL,
  PRIMARY KEY (participant, exam_id)
);
`

// NewSQLite opens the participant's local session database and ensures its schema.
// path may be ":memory:" for an ephemeral database.
func NewSQLite(ctx context.Context, path string, log zerolog.Logger) (*sql.DB, error) {
	dsn := path
	if path != ":memory:" {
		dsn = fmt.Sprintf("file:%s?mode=rwc&_pragma=busy_timeout(5000)", path)
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One connection keeps ":memory:" databases shared and serializes writers.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("ensure sqlite schema: %w", err)
	}

	log.Debug().Str("path", path).Msg("SQLite session store ready")
	return db, nil
}

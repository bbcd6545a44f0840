// Package requestlog keeps a SQLite trail of dispatch attempts for
// debugging. It is only opened when the debug sink is enabled, and every
// write is best-effort: dispatch never fails because logging did.
package requestlog

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS dispatch_attempt (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	email       TEXT NOT NULL,
	endpoint    TEXT NOT NULL,
	model       TEXT NOT NULL DEFAULT '',
	status      INTEGER NOT NULL DEFAULT 0,
	outcome     TEXT NOT NULL,
	duration_ms INTEGER NOT NULL DEFAULT 0,
	created_at  INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_attempt_created ON dispatch_attempt(created_at);
`

// Attempt is one endpoint try within a dispatch.
type Attempt struct {
	ID         int64
	Email      string
	Endpoint   string
	Model      string
	Status     int
	Outcome    string // return, fallback, cooldown, error
	DurationMs int64
	CreatedAt  time.Time
}

type Log struct {
	db *sql.DB
}

func Open(path string) (*Log, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &Log{db: db}, nil
}

func (l *Log) Close() error { return l.db.Close() }

func (l *Log) Insert(ctx context.Context, a *Attempt) error {
	created := a.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO dispatch_attempt (email, endpoint, model, status, outcome, duration_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		a.Email, a.Endpoint, a.Model, a.Status, a.Outcome, a.DurationMs, created.Unix())
	return err
}

// Recent returns the newest attempts, most recent first.
func (l *Log) Recent(ctx context.Context, limit int) ([]*Attempt, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := l.db.QueryContext(ctx,
		`SELECT id, email, endpoint, model, status, outcome, duration_ms, created_at
		FROM dispatch_attempt ORDER BY created_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Attempt
	for rows.Next() {
		a := &Attempt{}
		var ts int64
		if err := rows.Scan(&a.ID, &a.Email, &a.Endpoint, &a.Model, &a.Status, &a.Outcome, &a.DurationMs, &ts); err != nil {
			return nil, err
		}
		a.CreatedAt = time.Unix(ts, 0).UTC()
		out = append(out, a)
	}
	return out, rows.Err()
}

func (l *Log) Purge(ctx context.Context, before time.Time) (int64, error) {
	res, err := l.db.ExecContext(ctx, "DELETE FROM dispatch_attempt WHERE created_at < ?", before.Unix())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/loykin/launchpad/internal/history"
)

// Sink writes history events to a SQLite table launch_history.
type Sink struct {
	db *sql.DB
}

// New creates a new SQLite history sink.
// DSN format:
//   - "sqlite:///path/to/file.db"
//   - "sqlite://:memory:"
//   - "/path/to/file.db" (without prefix)
//   - ":memory:" (in-memory database)
func New(dsn string) (*Sink, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, errors.New("empty SQLite DSN")
	}
	if strings.HasPrefix(strings.ToLower(dsn), "sqlite://") {
		dsn = dsn[len("sqlite://"):]
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	// a single connection keeps :memory: databases shared across calls
	db.SetMaxOpenConns(1)

	sink := &Sink{db: db}
	if err := sink.ensureSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return sink, nil
}

func (s *Sink) ensureSchema(ctx context.Context) error {
	stmts := []string{
		`PRAGMA busy_timeout=3000;`,
		`CREATE TABLE IF NOT EXISTS launch_history(
			occurred_at TIMESTAMP NOT NULL DEFAULT (CURRENT_TIMESTAMP),
			event TEXT NOT NULL,
			entry_id TEXT NOT NULL,
			pid INTEGER NOT NULL,
			exit_code INTEGER NOT NULL DEFAULT 0,
			signal TEXT,
			error TEXT,
			run_seconds REAL NOT NULL DEFAULT 0
		);`,
		`CREATE INDEX IF NOT EXISTS idx_launch_history_entry ON launch_history(entry_id, occurred_at);`,
	}
	for _, q := range stmts {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("history schema: %w", err)
		}
	}
	return nil
}

func (s *Sink) Send(ctx context.Context, e history.Event) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO launch_history(occurred_at, event, entry_id, pid, exit_code, signal, error, run_seconds)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?);`,
		e.OccurredAt.UTC(), string(e.Type), e.EntryID, e.PID, e.ExitCode,
		nullString(e.Signal), nullString(e.Error), e.RunSeconds)
	return err
}

func (s *Sink) Recent(ctx context.Context, entryID string, limit int) ([]history.Event, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT occurred_at, event, entry_id, pid, exit_code, signal, error, run_seconds
		FROM launch_history WHERE entry_id = ?
		ORDER BY occurred_at DESC, rowid DESC LIMIT ?;`, entryID, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []history.Event
	for rows.Next() {
		var (
			e       history.Event
			typ     string
			sig, er sql.NullString
		)
		if err := rows.Scan(&e.OccurredAt, &typ, &e.EntryID, &e.PID, &e.ExitCode, &sig, &er, &e.RunSeconds); err != nil {
			return nil, err
		}
		e.Type = history.EventType(typ)
		e.Signal = sig.String
		e.Error = er.String
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Sink) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

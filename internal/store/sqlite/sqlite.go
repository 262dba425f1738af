package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/loykin/launchpad/internal/store"
)

// DB implements store.Store for SQLite (modernc.org/sqlite driver, CGO-free).
// DSN is a filesystem path to the SQLite database file. Use ":memory:" for in-memory.
type DB struct {
	db  *sql.DB
	now func() time.Time
}

// New opens a SQLite database at path.
func New(path string) (*DB, error) {
	p := strings.TrimSpace(path)
	if p == "" {
		return nil, errors.New("empty sqlite path")
	}
	d, err := sql.Open("sqlite", p)
	if err != nil {
		return nil, err
	}
	// one connection: keeps :memory: databases coherent and serializes writers
	d.SetMaxOpenConns(1)
	// busy timeout helps with short concurrent locks
	_, _ = d.Exec("PRAGMA busy_timeout=3000;")
	return &DB{db: d, now: time.Now}, nil
}

// SetNow overrides the clock used for CreatedAt.
func (s *DB) SetNow(now func() time.Time) { s.now = now }

func (s *DB) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS entries(
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			executable_path TEXT NOT NULL,
			arguments TEXT NOT NULL DEFAULT '',
			working_directory TEXT NULL,
			icon_path TEXT NOT NULL DEFAULT '',
			category TEXT NOT NULL DEFAULT 'general',
			created_at TIMESTAMP NOT NULL,
			last_launched_at TIMESTAMP NULL,
			launch_count INTEGER NOT NULL DEFAULT 0 CHECK (launch_count >= 0)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_entries_category ON entries(category, name);`,
	}
	for _, q := range stmts {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return err
		}
	}
	return nil
}

func (s *DB) Close() error { return s.db.Close() }

func (s *DB) Create(ctx context.Context, e store.Entry) (store.Entry, error) {
	e, err := store.PrepareNew(e, s.now())
	if err != nil {
		return store.Entry{}, err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO entries(id, name, description, executable_path, arguments, working_directory,
			icon_path, category, created_at, last_launched_at, launch_count)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, NULL, 0);`,
		e.ID, e.Name, e.Description, e.ExecutablePath, e.Arguments, nullable(e.WorkingDirectory),
		e.IconPath, e.Category, e.CreatedAt)
	if err != nil {
		return store.Entry{}, fmt.Errorf("insert entry: %w", err)
	}
	return e, nil
}

func (s *DB) Get(ctx context.Context, id string) (store.Entry, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+columns+` FROM entries WHERE id=?;`, id)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Entry{}, store.ErrNotFound
	}
	return e, err
}

func (s *DB) List(ctx context.Context) ([]store.Entry, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+columns+` FROM entries ORDER BY category, name, id;`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	out := make([]store.Entry, 0)
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *DB) Update(ctx context.Context, e store.Entry) (store.Entry, error) {
	e, err := store.PrepareUpdate(e)
	if err != nil {
		return store.Entry{}, err
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE entries SET name=?, description=?, executable_path=?, arguments=?,
			working_directory=?, icon_path=?, category=?
		WHERE id=?;`,
		e.Name, e.Description, e.ExecutablePath, e.Arguments, nullable(e.WorkingDirectory),
		e.IconPath, e.Category, e.ID)
	if err != nil {
		return store.Entry{}, fmt.Errorf("update entry: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.Entry{}, store.ErrNotFound
	}
	return s.Get(ctx, e.ID)
}

func (s *DB) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM entries WHERE id=?;`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *DB) RecordLaunch(ctx context.Context, id string, at time.Time) (store.Entry, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE entries SET launch_count = launch_count + 1, last_launched_at=?
		WHERE id=?;`, at.UTC(), id)
	if err != nil {
		return store.Entry{}, fmt.Errorf("record launch: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.Entry{}, store.ErrNotFound
	}
	return s.Get(ctx, id)
}

const columns = `id, name, description, executable_path, arguments, working_directory,
	icon_path, category, created_at, last_launched_at, launch_count`

type scanner interface{ Scan(dest ...any) error }

func scanEntry(sc scanner) (store.Entry, error) {
	var (
		e    store.Entry
		wd   sql.NullString
		last sql.NullTime
	)
	if err := sc.Scan(&e.ID, &e.Name, &e.Description, &e.ExecutablePath, &e.Arguments, &wd,
		&e.IconPath, &e.Category, &e.CreatedAt, &last, &e.LaunchCount); err != nil {
		return store.Entry{}, err
	}
	if wd.Valid {
		e.WorkingDirectory = &wd.String
	}
	if last.Valid {
		t := last.Time
		e.LastLaunchedAt = &t
	}
	return e, nil
}

func nullable(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

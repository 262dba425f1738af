package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/loykin/launchpad/internal/store"
)

// DB implements store.Store on PostgreSQL through the pgx stdlib driver.
type DB struct {
	db  *sql.DB
	now func() time.Time
}

func New(dsn string) (*DB, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, errors.New("empty postgres DSN")
	}
	d, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	return &DB{db: d, now: time.Now}, nil
}

// SetNow overrides the clock used for CreatedAt.
func (p *DB) SetNow(now func() time.Time) { p.now = now }

func (p *DB) EnsureSchema(ctx context.Context) error {
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
			created_at TIMESTAMPTZ NOT NULL,
			last_launched_at TIMESTAMPTZ NULL,
			launch_count BIGINT NOT NULL DEFAULT 0 CHECK (launch_count >= 0)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_entries_category ON entries(category, name);`,
	}
	for _, q := range stmts {
		if _, err := p.db.ExecContext(ctx, q); err != nil {
			return err
		}
	}
	return nil
}

func (p *DB) Close() error { return p.db.Close() }

func (p *DB) Create(ctx context.Context, e store.Entry) (store.Entry, error) {
	e, err := store.PrepareNew(e, p.now())
	if err != nil {
		return store.Entry{}, err
	}
	_, err = p.db.ExecContext(ctx, `
		INSERT INTO entries(id, name, description, executable_path, arguments, working_directory,
			icon_path, category, created_at, last_launched_at, launch_count)
		VALUES($1, $2, $3, $4, $5, $6, $7, $8, $9, NULL, 0);`,
		e.ID, e.Name, e.Description, e.ExecutablePath, e.Arguments, nullable(e.WorkingDirectory),
		e.IconPath, e.Category, e.CreatedAt)
	if err != nil {
		return store.Entry{}, fmt.Errorf("insert entry: %w", err)
	}
	return e, nil
}

func (p *DB) Get(ctx context.Context, id string) (store.Entry, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+columns+` FROM entries WHERE id=$1;`, id)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Entry{}, store.ErrNotFound
	}
	return e, err
}

func (p *DB) List(ctx context.Context) ([]store.Entry, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT `+columns+` FROM entries ORDER BY category, name, id;`)
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

func (p *DB) Update(ctx context.Context, e store.Entry) (store.Entry, error) {
	e, err := store.PrepareUpdate(e)
	if err != nil {
		return store.Entry{}, err
	}
	res, err := p.db.ExecContext(ctx, `
		UPDATE entries SET name=$1, description=$2, executable_path=$3, arguments=$4,
			working_directory=$5, icon_path=$6, category=$7
		WHERE id=$8;`,
		e.Name, e.Description, e.ExecutablePath, e.Arguments, nullable(e.WorkingDirectory),
		e.IconPath, e.Category, e.ID)
	if err != nil {
		return store.Entry{}, fmt.Errorf("update entry: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.Entry{}, store.ErrNotFound
	}
	return p.Get(ctx, e.ID)
}

func (p *DB) Delete(ctx context.Context, id string) error {
	res, err := p.db.ExecContext(ctx, `DELETE FROM entries WHERE id=$1;`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (p *DB) RecordLaunch(ctx context.Context, id string, at time.Time) (store.Entry, error) {
	res, err := p.db.ExecContext(ctx, `
		UPDATE entries SET launch_count = launch_count + 1, last_launched_at=$1
		WHERE id=$2;`, at.UTC(), id)
	if err != nil {
		return store.Entry{}, fmt.Errorf("record launch: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.Entry{}, store.ErrNotFound
	}
	return p.Get(ctx, id)
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

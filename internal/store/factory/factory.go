// Package factory opens the entry store named by a DSN.
package factory

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/loykin/launchpad/internal/store"
	pg "github.com/loykin/launchpad/internal/store/postgres"
	sq "github.com/loykin/launchpad/internal/store/sqlite"
)

type Kind string

const (
	KindSQLite   Kind = "sqlite"
	KindPostgres Kind = "postgres"
)

// Parse splits dsn into the backend and the source handed to its driver.
//   - "postgres://..." and "postgresql://..." select PostgreSQL unchanged.
//   - "sqlite://<path>", "sqlite://:memory:" or a bare path select SQLite.
//     A leading "~/" in the path is expanded to the home directory.
func Parse(dsn string) (Kind, string, error) {
	d := strings.TrimSpace(dsn)
	ld := strings.ToLower(d)
	switch {
	case d == "":
		return "", "", errors.New("empty store DSN")
	case strings.HasPrefix(ld, "postgres://"), strings.HasPrefix(ld, "postgresql://"):
		return KindPostgres, d, nil
	case strings.HasPrefix(ld, "sqlite://"):
		d = d[len("sqlite://"):]
	case strings.Contains(d, "://"):
		return "", "", fmt.Errorf("unsupported store DSN scheme: %s", d[:strings.Index(d, "://")])
	}
	if d == "" {
		return "", "", errors.New("sqlite DSN has no path")
	}
	if strings.HasPrefix(d, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", "", fmt.Errorf("expand %s: %w", d, err)
		}
		d = filepath.Join(home, d[2:])
	}
	return KindSQLite, d, nil
}

// NewFromDSN opens the store named by dsn. The parent directory of a SQLite
// file is created when missing so the default location works on first run.
func NewFromDSN(dsn string) (store.Store, error) {
	kind, src, err := Parse(dsn)
	if err != nil {
		return nil, err
	}
	if kind == KindPostgres {
		return pg.New(src)
	}
	if isFile(src) {
		if err := os.MkdirAll(filepath.Dir(src), 0o755); err != nil {
			return nil, fmt.Errorf("create store directory: %w", err)
		}
	}
	return sq.New(src)
}

func isFile(src string) bool {
	return src != ":memory:" && !strings.HasPrefix(src, "file:")
}

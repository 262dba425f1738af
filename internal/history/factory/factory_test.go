package factory

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/launchpad/internal/history"
	"github.com/loykin/launchpad/internal/history/opensearch"
	"github.com/loykin/launchpad/internal/history/sqlite"
)

func TestFactoryDSNTypes(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name        string
		dsn         string
		expectError bool
	}{
		{"Empty DSN", "", true},
		{"Invalid scheme", "invalid://test", true},
		{"OpenSearch DSN", "opensearch://localhost:9200/launch-logs", false},
		{"OpenSearch with credentials", "opensearch://admin:pw@localhost:9200/launch-logs?tls=true", false},
		{"OpenSearch bad index", "opensearch://localhost:9200/Launch Logs", true},
		{"SQLite file DSN", "sqlite://" + filepath.Join(dir, "a.db"), false},
		{"SQLite bare path", filepath.Join(dir, "b.db"), false},
		{"SQLite memory DSN", "sqlite://:memory:", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sink, err := NewSinkFromDSN(tt.dsn)
			if tt.expectError {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.NotNil(t, sink)
			Close([]history.Sink{sink})
		})
	}
}

func TestFactorySelectsImplementation(t *testing.T) {
	s, err := NewSinkFromDSN("sqlite://:memory:")
	require.NoError(t, err)
	_, isSQLite := s.(*sqlite.Sink)
	assert.True(t, isSQLite)
	_, isReader := s.(history.Reader)
	assert.True(t, isReader)
	Close([]history.Sink{s})

	s, err = NewSinkFromDSN("elasticsearch://search:9200")
	require.NoError(t, err)
	_, isOS := s.(*opensearch.Sink)
	assert.True(t, isOS)
}

func TestNewSinksStopsOnError(t *testing.T) {
	_, err := NewSinks([]string{"sqlite://:memory:", "bogus://x"})
	assert.Error(t, err)

	sinks, err := NewSinks([]string{"sqlite://:memory:", "opensearch://localhost:9200/i"})
	require.NoError(t, err)
	assert.Len(t, sinks, 2)
	Close(sinks)
}

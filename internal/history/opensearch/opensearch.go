// Package opensearch indexes launch history into OpenSearch (or
// Elasticsearch) through the document REST API. Events land in one index
// per month, <Index>-YYYY.MM, so old history can be dropped by index.
package opensearch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/loykin/launchpad/internal/history"
)

const DefaultIndex = "launch-history"

type Options struct {
	URL      string // http(s)://host:port
	Index    string
	Username string
	Password string
	Timeout  time.Duration
}

type Sink struct {
	client *http.Client
	opts   Options
}

// document adds the @timestamp field dashboards sort on.
type document struct {
	Timestamp time.Time `json:"@timestamp"`
	history.Event
}

func New(opts Options) (*Sink, error) {
	u, err := url.Parse(opts.URL)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, fmt.Errorf("opensearch url %q must be http(s)://host[:port]", opts.URL)
	}
	opts.URL = strings.TrimRight(opts.URL, "/")
	if opts.Index == "" {
		opts.Index = DefaultIndex
	}
	if strings.ContainsAny(opts.Index, `/\*?"<>| ,#`) || opts.Index != strings.ToLower(opts.Index) {
		return nil, fmt.Errorf("invalid opensearch index %q", opts.Index)
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	return &Sink{client: &http.Client{Timeout: opts.Timeout}, opts: opts}, nil
}

// IndexFor returns the monthly index an event at t is written to.
func (s *Sink) IndexFor(t time.Time) string {
	return s.opts.Index + "-" + t.UTC().Format("2006.01")
}

// Send writes e under a deterministic id with op_type=create, so a retried
// event is rejected as a conflict instead of indexed twice.
func (s *Sink) Send(ctx context.Context, e history.Event) error {
	if e.OccurredAt.IsZero() {
		return errors.New("opensearch: event has no timestamp")
	}
	b, err := json.Marshal(document{Timestamp: e.OccurredAt.UTC(), Event: e})
	if err != nil {
		return err
	}
	index := s.IndexFor(e.OccurredAt)
	u := fmt.Sprintf("%s/%s/_doc/%s?op_type=create", s.opts.URL, index, url.PathEscape(docID(e)))
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, u, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if s.opts.Username != "" {
		req.SetBasicAuth(s.opts.Username, s.opts.Password)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	switch {
	case resp.StatusCode == http.StatusConflict:
		return nil
	case resp.StatusCode >= 300:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("opensearch index %s: status %d: %s", index, resp.StatusCode, bytes.TrimSpace(msg))
	}
	return nil
}

func docID(e history.Event) string {
	return fmt.Sprintf("%s-%d-%s-%d", e.EntryID, e.PID, e.Type, e.OccurredAt.UnixNano())
}

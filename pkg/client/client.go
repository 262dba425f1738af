// Package client is a Go client for the launchpad HTTP API.
package client

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

// Client talks to a launchpad server.
type Client struct {
	baseURL string
	client  *http.Client
	dialer  *websocket.Dialer
	logger  *slog.Logger
	token   string
}

// Config holds client configuration
type Config struct {
	BaseURL  string
	Timeout  time.Duration
	Logger   *slog.Logger // Optional logger for client operations
	TLS      *TLSClientConfig
	Insecure bool   // Skip TLS verification
	Token    string // Sent as a bearer token when set
}

// TLSClientConfig holds TLS configuration for client
type TLSClientConfig struct {
	Enabled    bool   // Enable TLS
	CACert     string // CA certificate file path
	ClientCert string // Client certificate file
	ClientKey  string // Client private key file
	ServerName string // Server name for verification
	SkipVerify bool   // Skip certificate verification
}

// DefaultConfig returns default client configuration
func DefaultConfig() Config {
	return Config{
		BaseURL: "http://localhost:8080/api",
		Timeout: 10 * time.Second,
	}
}

// APIError is a non-success response that is not a launch outcome.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string { return fmt.Sprintf("API error (%d): %s", e.StatusCode, e.Message) }

// IsNotFound reports whether err is a 404 from the API.
func IsNotFound(err error) bool {
	var ae *APIError
	return errors.As(err, &ae) && ae.StatusCode == http.StatusNotFound
}

// New creates a new launchpad API client.
func New(config Config) *Client {
	if config.BaseURL == "" {
		config.BaseURL = DefaultConfig().BaseURL
	}
	if config.Timeout == 0 {
		config.Timeout = 10 * time.Second
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	transport := &http.Transport{}
	dialer := &websocket.Dialer{HandshakeTimeout: config.Timeout}
	if config.TLS != nil && config.TLS.Enabled || config.Insecure {
		tlsConfig, err := setupClientTLS(config)
		if err != nil {
			config.Logger.Error("TLS setup failed", "error", err)
		} else {
			transport.TLSClientConfig = tlsConfig
			dialer.TLSClientConfig = tlsConfig
		}
	}

	return &Client{
		baseURL: strings.TrimRight(config.BaseURL, "/"),
		logger:  config.Logger,
		dialer:  dialer,
		token:   config.Token,
		client: &http.Client{
			Timeout:   config.Timeout,
			Transport: transport,
		},
	}
}

// IsReachable checks if the server is running and reachable
func (c *Client) IsReachable(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/running", nil)
	if err != nil {
		return false
	}
	c.authorize(req.Header)
	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Debug("server unreachable", "error", err)
		return false
	}
	defer func() { _ = resp.Body.Close() }()
	return resp.StatusCode == http.StatusOK
}

func (c *Client) ListEntries(ctx context.Context) ([]Entry, error) {
	var out []Entry
	return out, c.do(ctx, http.MethodGet, "/entries", nil, &out)
}

func (c *Client) GetEntry(ctx context.Context, id string) (Entry, error) {
	var out Entry
	return out, c.do(ctx, http.MethodGet, "/entries/"+url.PathEscape(id), nil, &out)
}

func (c *Client) CreateEntry(ctx context.Context, in EntryInput) (Entry, error) {
	var out Entry
	return out, c.do(ctx, http.MethodPost, "/entries", in, &out)
}

func (c *Client) UpdateEntry(ctx context.Context, id string, in EntryInput) (Entry, error) {
	var out Entry
	return out, c.do(ctx, http.MethodPut, "/entries/"+url.PathEscape(id), in, &out)
}

func (c *Client) DeleteEntry(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/entries/"+url.PathEscape(id), nil, nil)
}

// Launch launches entry id. A rejected or failed launch is returned as a
// LaunchResult with Success false; the error is reserved for transport
// problems and unknown entries.
func (c *Client) Launch(ctx context.Context, id string) (LaunchResult, error) {
	resp, err := c.send(ctx, http.MethodPost, "/entries/"+url.PathEscape(id)+"/launch", nil)
	if err != nil {
		return LaunchResult{}, err
	}
	defer func() { _ = resp.Body.Close() }()

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return LaunchResult{}, fmt.Errorf("read response: %w", err)
	}
	var res LaunchResult
	if err := json.Unmarshal(b, &res); err == nil && res.Outcome != "" {
		return res, nil
	}
	return LaunchResult{}, apiError(resp.StatusCode, b)
}

func (c *Client) Running(ctx context.Context) ([]RunningEntry, error) {
	var out []RunningEntry
	return out, c.do(ctx, http.MethodGet, "/running", nil, &out)
}

// RunningEntry returns the live state of id; IsNotFound(err) when it is not running.
func (c *Client) RunningEntry(ctx context.Context, id string, withHistory bool) (RunningEntry, error) {
	p := "/running/" + url.PathEscape(id)
	if withHistory {
		p += "?history=true"
	}
	var out RunningEntry
	return out, c.do(ctx, http.MethodGet, p, nil, &out)
}

func (c *Client) History(ctx context.Context, id string, limit int) ([]HistoryEvent, error) {
	p := "/entries/" + url.PathEscape(id) + "/history"
	if limit > 0 {
		p += "?limit=" + strconv.Itoa(limit)
	}
	var out []HistoryEvent
	return out, c.do(ctx, http.MethodGet, p, nil, &out)
}

// WatchExits streams exit events to fn until ctx is done or the connection
// drops. It returns nil when ctx ends the stream.
func (c *Client) WatchExits(ctx context.Context, fn func(ExitEvent)) error {
	u, err := url.Parse(c.baseURL + "/events")
	if err != nil {
		return fmt.Errorf("parse base url: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	h := http.Header{}
	c.authorize(h)
	conn, _, err := c.dialer.DialContext(ctx, u.String(), h)
	if err != nil {
		return fmt.Errorf("dial events: %w", err)
	}
	defer func() { _ = conn.Close() }()

	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()
	for {
		var ev ExitEvent
		if err := conn.ReadJSON(&ev); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("read event: %w", err)
		}
		fn(ev)
	}
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	resp, err := c.send(ctx, method, path, in)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(resp.Body)
		return apiError(resp.StatusCode, b)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *Client) send(ctx context.Context, method, path string, in any) (*http.Response, error) {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if method == http.MethodPost || method == http.MethodPut {
		req.Header.Set("Content-Type", "application/json")
	}
	c.authorize(req.Header)
	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Debug("HTTP request failed", "error", err, "method", method, "path", path)
		return nil, fmt.Errorf("do request: %w", err)
	}
	return resp, nil
}

func (c *Client) authorize(h http.Header) {
	if c.token != "" {
		h.Set("Authorization", "Bearer "+c.token)
	}
}

func apiError(status int, body []byte) error {
	var er ErrorResponse
	if err := json.Unmarshal(body, &er); err == nil && er.Error != "" {
		return &APIError{StatusCode: status, Message: er.Error}
	}
	return &APIError{StatusCode: status, Message: http.StatusText(status)}
}

// setupClientTLS configures TLS settings for HTTP client
func setupClientTLS(config Config) (*tls.Config, error) {
	tlsConfig := &tls.Config{MinVersion: tls.VersionTLS12}

	if config.Insecure {
		tlsConfig.InsecureSkipVerify = true // #nosec G402 -- explicit opt-in
		return tlsConfig, nil
	}

	if config.TLS != nil {
		if config.TLS.SkipVerify {
			tlsConfig.InsecureSkipVerify = true // #nosec G402 -- explicit opt-in
		}
		if config.TLS.ServerName != "" {
			tlsConfig.ServerName = config.TLS.ServerName
		}
		if config.TLS.CACert != "" {
			if err := loadCACert(tlsConfig, config.TLS.CACert); err != nil {
				return nil, fmt.Errorf("failed to load CA certificate: %w", err)
			}
		}
		if config.TLS.ClientCert != "" && config.TLS.ClientKey != "" {
			cert, err := tls.LoadX509KeyPair(config.TLS.ClientCert, config.TLS.ClientKey)
			if err != nil {
				return nil, fmt.Errorf("failed to load client certificate: %w", err)
			}
			tlsConfig.Certificates = []tls.Certificate{cert}
		}
	}
	return tlsConfig, nil
}

// loadCACert loads CA certificate from file and adds it to TLS config
func loadCACert(tlsConfig *tls.Config, caCertPath string) error {
	caCert, err := os.ReadFile(caCertPath) // #nosec G304 -- operator supplied path
	if err != nil {
		return fmt.Errorf("failed to read CA certificate file: %w", err)
	}
	caCertPool := x509.NewCertPool()
	if !caCertPool.AppendCertsFromPEM(caCert) {
		return fmt.Errorf("failed to parse CA certificate")
	}
	tlsConfig.RootCAs = caCertPool
	return nil
}

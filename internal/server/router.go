package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/olahol/melody"

	"github.com/loykin/launchpad/internal/auth"
	"github.com/loykin/launchpad/internal/launcher"
	"github.com/loykin/launchpad/internal/metrics"
	"github.com/loykin/launchpad/internal/pathguard"
	"github.com/loykin/launchpad/internal/registry"
	"github.com/loykin/launchpad/internal/service"
	"github.com/loykin/launchpad/internal/store"
)

// Router provides embeddable HTTP handlers for entries and launches.
// Endpoints (relative to basePath):
//
//	GET    /entries               list entries with running state
//	POST   /entries               create an entry
//	GET    /entries/:id           one entry
//	PUT    /entries/:id           replace the editable fields of an entry
//	DELETE /entries/:id           delete a stopped entry
//	POST   /entries/:id/launch    launch an entry
//	GET    /entries/:id/history   recent launch and exit events (?limit=N)
//	GET    /running               running entries
//	GET    /running/:id           one running entry with resource samples
//	GET    /events                websocket; one JSON exit event per message
//	GET    /metrics               Prometheus, when a metrics handler is set
type Router struct {
	svc       *service.Service
	basePath  string
	resources *metrics.ResourceCollector
	metrics   http.Handler
	log       *slog.Logger
	guard     *auth.Middleware

	events      *melody.Melody
	unsubscribe func()
}

type RouterOption func(*Router)

// WithResources exposes resource samples on /running/:id.
func WithResources(c *metrics.ResourceCollector) RouterOption {
	return func(r *Router) { r.resources = c }
}

// WithMetricsHandler mounts h on /metrics.
func WithMetricsHandler(h http.Handler) RouterOption { return func(r *Router) { r.metrics = h } }

func WithLogger(l *slog.Logger) RouterOption { return func(r *Router) { r.log = l } }

// WithAuth sets the token and allowed origins. Without it cross-origin
// writes and websocket upgrades are refused and no token is required.
func WithAuth(cfg auth.Config) RouterOption { return func(r *Router) { r.guard = auth.New(cfg) } }

// NewRouter constructs a Router and subscribes it to exit events.
// Example basePath: "/api" results in /api/entries, /api/running and so on.
func NewRouter(svc *service.Service, basePath string, opts ...RouterOption) *Router {
	r := &Router{
		svc:      svc,
		basePath: sanitizeBase(basePath),
		log:      slog.Default(),
		guard:    auth.New(auth.Config{}),
		events:   melody.New(),
	}
	for _, o := range opts {
		o(r)
	}
	r.events.Upgrader.CheckOrigin = r.guard.CheckOrigin
	r.unsubscribe = svc.Subscribe(launcher.ObserverFunc(r.broadcastExit))
	return r
}

// Close disconnects websocket clients and stops listening for exits.
func (r *Router) Close() error {
	r.unsubscribe()
	return r.events.Close()
}

// Handler returns an http.Handler powered by gin that can be mounted in any server/mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery())
	r.Mount(g.Group(r.basePath))
	return g
}

// Mount registers the routes on an existing gin group.
func (r *Router) Mount(group *gin.RouterGroup) {
	group.Use(r.guard.GinOriginGuard(), auth.GinRequireJSON(), r.guard.GinAuth())
	group.GET("/entries", r.handleListEntries)
	group.POST("/entries", r.handleCreateEntry)
	group.GET("/entries/:id", r.handleGetEntry)
	group.PUT("/entries/:id", r.handleUpdateEntry)
	group.DELETE("/entries/:id", r.handleDeleteEntry)
	group.POST("/entries/:id/launch", r.handleLaunch)
	group.GET("/entries/:id/history", r.handleHistory)
	group.GET("/running", r.handleRunning)
	group.GET("/running/:id", r.handleRunningOne)
	group.GET("/events", r.handleEvents)
	if r.metrics != nil {
		group.GET("/metrics", gin.WrapH(r.metrics))
	}
}

// NewServer starts a standalone HTTP server on addr using this router.
func NewServer(addr string, r *Router) (*http.Server, error) {
	server := &http.Server{
		Addr:              addr,
		Handler:           r.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			r.log.Error("http server stopped", "addr", addr, "error", err)
		}
	}()
	return server, nil
}

// --- Handlers ---

type errorResp struct {
	Error string `json:"error"`
}

type okResp struct {
	OK bool `json:"ok"`
}

// entryBody is the writable part of an entry.
type entryBody struct {
	Name             string  `json:"name"`
	Description      string  `json:"description"`
	ExecutablePath   string  `json:"executable_path"`
	Arguments        string  `json:"arguments"`
	WorkingDirectory *string `json:"working_directory"`
	IconPath         string  `json:"icon_path"`
	Category         string  `json:"category"`
}

func (b entryBody) entry(id string) store.Entry {
	return store.Entry{
		ID:               id,
		Name:             b.Name,
		Description:      b.Description,
		ExecutablePath:   b.ExecutablePath,
		Arguments:        b.Arguments,
		WorkingDirectory: b.WorkingDirectory,
		IconPath:         b.IconPath,
		Category:         b.Category,
	}
}

type launchResp struct {
	Success        bool             `json:"success"`
	Outcome        launcher.Outcome `json:"outcome"`
	EntryID        string           `json:"entry_id"`
	PID            int              `json:"pid,omitempty"`
	AlreadyRunning bool             `json:"already_running"`
	Reason         pathguard.Reason `json:"reason,omitempty"`
	Error          string           `json:"error,omitempty"`
	Message        string           `json:"message"`
}

type runningResp struct {
	EntryID   string                   `json:"entry_id"`
	PID       int                      `json:"pid"`
	StartedAt time.Time                `json:"started_at"`
	Resources *metrics.ResourceSample  `json:"resources,omitempty"`
	History   []metrics.ResourceSample `json:"history,omitempty"`
}

func (r *Router) entryID(c *gin.Context) (string, bool) {
	id := c.Param("id")
	if !isSafeID(id) {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid entry id"})
		return "", false
	}
	return id, true
}

func (r *Router) handleListEntries(c *gin.Context) {
	views, err := r.svc.ListEntries(c.Request.Context())
	if err != nil {
		r.writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, views)
}

func (r *Router) handleCreateEntry(c *gin.Context) {
	var body entryBody
	if err := c.ShouldBindJSON(&body); err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid JSON: " + err.Error()})
		return
	}
	e, err := r.svc.CreateEntry(c.Request.Context(), body.entry(""))
	if err != nil {
		r.writeError(c, err)
		return
	}
	writeJSON(c, http.StatusCreated, e)
}

func (r *Router) handleGetEntry(c *gin.Context) {
	id, ok := r.entryID(c)
	if !ok {
		return
	}
	v, err := r.svc.GetEntry(c.Request.Context(), id)
	if err != nil {
		r.writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, v)
}

func (r *Router) handleUpdateEntry(c *gin.Context) {
	id, ok := r.entryID(c)
	if !ok {
		return
	}
	var body entryBody
	if err := c.ShouldBindJSON(&body); err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid JSON: " + err.Error()})
		return
	}
	e, err := r.svc.UpdateEntry(c.Request.Context(), body.entry(id))
	if err != nil {
		r.writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, e)
}

func (r *Router) handleDeleteEntry(c *gin.Context) {
	id, ok := r.entryID(c)
	if !ok {
		return
	}
	if err := r.svc.DeleteEntry(c.Request.Context(), id); err != nil {
		r.writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

func (r *Router) handleLaunch(c *gin.Context) {
	id, ok := r.entryID(c)
	if !ok {
		return
	}
	res, err := r.svc.LaunchEntry(c.Request.Context(), id)
	if err != nil {
		r.writeError(c, err)
		return
	}
	writeJSON(c, launchStatus(res.Outcome), launchResp{
		Success:        res.Success(),
		Outcome:        res.Outcome,
		EntryID:        res.EntryID,
		PID:            res.PID,
		AlreadyRunning: res.AlreadyRunning(),
		Reason:         res.Reason,
		Error:          res.Error,
		Message:        res.Message(),
	})
}

func launchStatus(o launcher.Outcome) int {
	switch o {
	case launcher.OutcomeSuccess:
		return http.StatusOK
	case launcher.OutcomeAlreadyRunning:
		return http.StatusConflict
	case launcher.OutcomeValidationFailed:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func (r *Router) handleHistory(c *gin.Context) {
	id, ok := r.entryID(c)
	if !ok {
		return
	}
	events, err := r.svc.EntryHistory(c.Request.Context(), id, parseLimit(c.Query("limit"), 20, 500))
	if err != nil {
		r.writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, events)
}

func (r *Router) handleRunning(c *gin.Context) {
	tracked := r.svc.Running()
	out := make([]runningResp, 0, len(tracked))
	for _, t := range tracked {
		out = append(out, r.running(t, false))
	}
	writeJSON(c, http.StatusOK, out)
}

func (r *Router) handleRunningOne(c *gin.Context) {
	id, ok := r.entryID(c)
	if !ok {
		return
	}
	t, ok := r.svc.IsRunning(id)
	if !ok {
		writeJSON(c, http.StatusNotFound, errorResp{Error: "entry is not running"})
		return
	}
	writeJSON(c, http.StatusOK, r.running(t, c.Query("history") == "true"))
}

func (r *Router) running(t registry.Tracked, withHistory bool) runningResp {
	out := runningResp{EntryID: t.EntryID, PID: t.PID, StartedAt: t.StartedAt}
	if r.resources.Enabled() {
		if s, ok := r.resources.Latest(t.EntryID); ok {
			out.Resources = &s
		}
		if withHistory {
			out.History = r.resources.History(t.EntryID)
		}
	}
	return out
}

func (r *Router) handleEvents(c *gin.Context) {
	if err := r.events.HandleRequest(c.Writer, c.Request); err != nil {
		r.log.Warn("websocket request failed", "error", err)
	}
}

func (r *Router) broadcastExit(e launcher.ExitEvent) {
	if r.events.Len() == 0 {
		return
	}
	b, err := json.Marshal(e)
	if err != nil {
		return
	}
	if err := r.events.Broadcast(b); err != nil && !errors.Is(err, melody.ErrClosed) {
		r.log.Warn("broadcast exit event failed", "entry", e.EntryID, "error", err)
	}
}

func (r *Router) writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeJSON(c, http.StatusNotFound, errorResp{Error: err.Error()})
	case errors.Is(err, store.ErrInvalidEntry):
		writeJSON(c, http.StatusBadRequest, errorResp{Error: err.Error()})
	case errors.Is(err, service.ErrEntryRunning):
		writeJSON(c, http.StatusConflict, errorResp{Error: err.Error()})
	case errors.Is(err, service.ErrNoHistory):
		writeJSON(c, http.StatusNotImplemented, errorResp{Error: err.Error()})
	case errors.Is(err, context.Canceled):
		writeJSON(c, http.StatusServiceUnavailable, errorResp{Error: err.Error()})
	default:
		r.log.Error("request failed", "path", c.FullPath(), "error", err)
		writeJSON(c, http.StatusInternalServerError, errorResp{Error: err.Error()})
	}
}

package auth

import (
	"crypto/subtle"
	"mime"
	"net/http"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"
)

// Config controls who may call the HTTP API.
// Requests carrying an Origin header are accepted only from the server's own
// host or from AllowedOrigins ("*" allows any). When Token is set every
// request must present it as "Authorization: Bearer <token>"; websocket
// clients that cannot set headers may pass ?access_token=<token> instead.
type Config struct {
	Token          string   `toml:"token" mapstructure:"token"`
	AllowedOrigins []string `toml:"allowed_origins" mapstructure:"allowed_origins"`
}

// TokenQueryParam is the query parameter accepted in place of the
// Authorization header.
const TokenQueryParam = "access_token"

// Middleware provides request guards for the gin router.
type Middleware struct {
	token    []byte
	anyOrig  bool
	origins  map[string]struct{}
	required bool
}

func New(cfg Config) *Middleware {
	m := &Middleware{origins: make(map[string]struct{})}
	if cfg.Token != "" {
		m.token = []byte(cfg.Token)
		m.required = true
	}
	for _, o := range cfg.AllowedOrigins {
		o = strings.TrimRight(strings.ToLower(strings.TrimSpace(o)), "/")
		if o == "*" {
			m.anyOrig = true
			continue
		}
		if o != "" {
			m.origins[o] = struct{}{}
		}
	}
	return m
}

// GinAuth rejects requests without the configured token.
func (m *Middleware) GinAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !m.required {
			c.Next()
			return
		}
		tok := bearerToken(c.Request)
		if tok == "" {
			abort(c, http.StatusUnauthorized, "authentication_failed", "Authentication required")
			return
		}
		if subtle.ConstantTimeCompare([]byte(tok), m.token) != 1 {
			abort(c, http.StatusUnauthorized, "authentication_failed", "Invalid credentials")
			return
		}
		c.Next()
	}
}

// GinOriginGuard rejects state-changing requests sent by pages of another origin.
func (m *Middleware) GinOriginGuard() gin.HandlerFunc {
	return func(c *gin.Context) {
		switch c.Request.Method {
		case http.MethodGet, http.MethodHead, http.MethodOptions:
			c.Next()
			return
		}
		if !m.CheckOrigin(c.Request) {
			abort(c, http.StatusForbidden, "origin_not_allowed", "Cross-origin request rejected")
			return
		}
		c.Next()
	}
}

// GinRequireJSON rejects POST and PUT requests not declared as application/json.
// Browsers cannot send that content type cross-origin without a preflight.
func GinRequireJSON() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Method != http.MethodPost && c.Request.Method != http.MethodPut {
			c.Next()
			return
		}
		mt, _, err := mime.ParseMediaType(c.Request.Header.Get("Content-Type"))
		if err != nil || mt != "application/json" {
			abort(c, http.StatusUnsupportedMediaType, "unsupported_media_type", "Content-Type must be application/json")
			return
		}
		c.Next()
	}
}

// CheckOrigin reports whether r may be served given its Origin header.
// It also serves as the websocket upgrader's origin check.
func (m *Middleware) CheckOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || m.anyOrig {
		return true
	}
	norm := strings.TrimRight(strings.ToLower(origin), "/")
	if _, ok := m.origins[norm]; ok {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil || u.Host == "" {
		return false
	}
	return strings.EqualFold(u.Host, r.Host)
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return r.URL.Query().Get(TokenQueryParam)
}

func abort(c *gin.Context, status int, code, msg string) {
	c.AbortWithStatusJSON(status, gin.H{"error": code, "message": msg})
}

package server

import (
	"encoding/json"
	"errors"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"

	"lumosai/internal/ratelimit"
	"lumosai/internal/util"
	"lumosai/services/assistant/internal/app"
)

const maxBodyBytes = 32 << 20

// Config wires required dependencies for the HTTP server. The limiters and
// Trusted are optional.
type Config struct {
	App          *app.App
	SendLimiter  *ratelimit.FixedWindowLimiter
	LoginLimiter *ratelimit.FixedWindowLimiter
	Trusted      *util.TrustedProxies
	AuthRequired bool
	CORSOrigins  []string
}

// Server exposes the assistant HTTP API.
type Server struct {
	app          *app.App
	sendLimiter  *ratelimit.FixedWindowLimiter
	loginLimiter *ratelimit.FixedWindowLimiter
	trusted      *util.TrustedProxies
	authRequired bool
	corsOrigins  []string
	mux          *http.ServeMux
	patterns     []string
}

// New constructs the server with routes configured.
func New(cfg Config) *Server {
	s := &Server{
		app:          cfg.App,
		sendLimiter:  cfg.SendLimiter,
		loginLimiter: cfg.LoginLimiter,
		trusted:      cfg.Trusted,
		authRequired: cfg.AuthRequired,
		corsOrigins:  cfg.CORSOrigins,
		mux:          http.NewServeMux(),
	}
	s.routes()
	return s
}

// Router returns the configured handler.
func (s *Server) Router() http.Handler {
	cors := util.WithCORS(s.corsOrigins)
	return util.WithRequestID(util.WithRequestLog(cors(util.WithSecurityHeaders(s.mux))))
}

type route struct {
	pattern string
	handler http.Handler
	public  bool
}

func (s *Server) routeTable() []route {
	h := func(f http.HandlerFunc) http.Handler { return f }
	return []route{
		{pattern: "GET /healthz", handler: h(s.handleHealth), public: true},
		{pattern: "POST /auth/login", handler: s.limited(s.loginLimiter, "login", h(s.handleLogin)), public: true},
		{pattern: "POST /auth/logout", handler: h(s.handleLogout), public: true},

		{pattern: "POST /chat/{id}/send", handler: s.limited(s.sendLimiter, "send", h(s.handleSend))},
		{pattern: "GET /chat/{id}/history", handler: h(s.handleHistory)},
		{pattern: "DELETE /chat/{id}/history", handler: h(s.handleClearHistory)},

		{pattern: "GET /assistants", handler: h(s.handleListAssistants)},
		{pattern: "POST /assistants", handler: h(s.handleCreateAssistant)},
		{pattern: "GET /assistants/{id}", handler: h(s.handleGetAssistant)},
		{pattern: "PUT /assistants/{id}", handler: h(s.handleUpdateAssistant)},
		{pattern: "DELETE /assistants/{id}", handler: h(s.handleDeleteAssistant)},

		{pattern: "GET /usage/summary", handler: h(s.handleUsageSummary)},
		{pattern: "GET /monitoring/stats", handler: h(s.handleMonitoringStats)},
		{pattern: "GET /monitoring/hourly", handler: h(s.handleMonitoringHourly)},
		{pattern: "GET /monitoring/recent", handler: h(s.handleMonitoringRecent)},

		{pattern: "GET /users/me", handler: h(s.handleProfile)},
		{pattern: "PATCH /users/me", handler: h(s.handleUpdateProfile)},
	}
}

func (s *Server) routes() {
	for _, rt := range s.routeTable() {
		handler := rt.handler
		if !rt.public {
			handler = s.withAuth(handler)
		}
		s.mux.Handle(rt.pattern, handler)
		s.patterns = append(s.patterns, rt.pattern)
	}
}

// Patterns lists the registered "METHOD /path" patterns in registration
// order.
func (s *Server) Patterns() []string {
	return append([]string(nil), s.patterns...)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// withAuth requires a valid session token when auth is enabled.
func (s *Server) withAuth(next http.Handler) http.Handler {
	if !s.authRequired {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearerToken(r)
		if !ok {
			writeError(w, r, http.StatusUnauthorized, "unauthorized")
			return
		}
		if _, err := s.app.Authenticate(r.Context(), token); err != nil {
			writeError(w, r, http.StatusUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// limited applies a per client IP limit. A nil limiter disables it.
func (s *Server) limited(limiter *ratelimit.FixedWindowLimiter, scope string, next http.Handler) http.Handler {
	if limiter == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := scope + ":" + util.ClientIP(r, s.trusted)
		decision := limiter.Allow(r.Context(), key)
		if !decision.Allowed {
			seconds := int(math.Ceil(decision.RetryAfter.Seconds()))
			if seconds < 1 {
				seconds = 1
			}
			w.Header().Set("Retry-After", strconv.Itoa(seconds))
			writeError(w, r, http.StatusTooManyRequests, "too many requests")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// writeAppError maps core errors onto status codes. Anything unclassified is a
// 500 with a generic body; the cause stays in the logs.
func writeAppError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, app.ErrInvalidInput), errors.Is(err, app.ErrInvalidWindow):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, app.ErrAssistantNotFound):
		writeError(w, r, http.StatusNotFound, app.ErrAssistantNotFound.Error())
	case errors.Is(err, app.ErrUnauthorized):
		writeError(w, r, http.StatusUnauthorized, "unauthorized")
	default:
		util.LoggerFromContext(r.Context()).Error("request failed", "path", r.URL.Path, "err", err)
		writeError(w, r, http.StatusInternalServerError, app.ErrProcessing.Error())
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

type errorBody struct {
	Error     string `json:"error"`
	RequestID string `json:"requestId,omitempty"`
}

func writeError(w http.ResponseWriter, r *http.Request, status int, msg string) {
	writeJSON(w, status, errorBody{Error: msg, RequestID: util.RequestIDFromRequest(r)})
}

// decodeJSON reads a bounded JSON body into dst.
func decodeJSON(r *http.Request, dst any) error {
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(dst); err != nil {
		return errors.New("invalid JSON body")
	}
	return nil
}

func pathID(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

func queryInt(r *http.Request, name string) (int, bool) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false
	}
	return n, true
}

func bearerToken(r *http.Request) (string, bool) {
	authHeader := r.Header.Get("Authorization")
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	if token == "" {
		return "", false
	}
	return token, true
}

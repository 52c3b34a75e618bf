package httpx

import (
	"bufio"
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"log/slog"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/CarlosSalas01/SistemaDeReplicas/internal/lifecycle"
	"github.com/CarlosSalas01/SistemaDeReplicas/internal/notify"
	"github.com/CarlosSalas01/SistemaDeReplicas/internal/service/activity"
	"github.com/CarlosSalas01/SistemaDeReplicas/internal/service/auth"
	"github.com/CarlosSalas01/SistemaDeReplicas/internal/service/requests"
	"github.com/CarlosSalas01/SistemaDeReplicas/internal/service/watchdog"
	"github.com/CarlosSalas01/SistemaDeReplicas/internal/ws"
)

// Services bundles the collaborators the router dispatches to.
type Services struct {
	Auth       auth.Service
	Requests   requests.Service
	Activity   activity.Service
	Lifecycle  *lifecycle.Service
	Watchdog   *watchdog.Controller
	Registry   *ws.Registry
	Dispatcher *notify.Dispatcher
}

// Options tunes transport limits.
type Options struct {
	MaxUploadBytes      int64
	WSSendBuffer        int
	WSMessagesPerSecond int
	CORSOrigin          string
	DBHealth            func(context.Context) error
}

// Router wires HTTP endpoints to services.
type Router struct {
	mux        *http.ServeMux
	handler    http.Handler
	logger     *slog.Logger
	auth       auth.Service
	requests   requests.Service
	activity   activity.Service
	lifecycle  *lifecycle.Service
	watchdog   *watchdog.Controller
	registry   *ws.Registry
	dispatcher *notify.Dispatcher
	upgrader   websocket.Upgrader
	limiter    RateLimiter
	opts       Options
	sessions   ws.SessionConfig
}

const (
	rateWindowDefault  = time.Minute
	rateWindowRealtime = 30 * time.Second
	rateLimitRegister  = 5
	rateLimitLogin     = 12
	rateLimitUpload    = 20
	rateLimitUserWrite = 60
	rateLimitUserRead  = 120
	rateLimitAdmin     = 240
	rateLimitRealtime  = 30
	healthCheckTimeout = 2 * time.Second
	sseHeartbeat       = 25 * time.Second
	multipartMemory    = 32 << 20
)

// NewRouter assembles routes with dependencies.
func NewRouter(logger *slog.Logger, svc Services, limiter RateLimiter, opts Options) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Router{
		mux:        http.NewServeMux(),
		logger:     logger,
		auth:       svc.Auth,
		requests:   svc.Requests,
		activity:   svc.Activity,
		lifecycle:  svc.Lifecycle,
		watchdog:   svc.Watchdog,
		registry:   svc.Registry,
		dispatcher: svc.Dispatcher,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		limiter: limiter,
		opts:    opts,
	}
	if r.limiter == nil {
		r.limiter = NewMemoryRateLimiter()
	}
	r.sessions = ws.SessionConfig{
		Registry:          r.registry,
		Auth:              r.auth,
		Logger:            logger,
		MessagesPerSecond: opts.WSMessagesPerSecond,
	}
	if r.dispatcher != nil {
		r.sessions.OnAuthenticated = r.dispatcher.Welcome
	}
	r.register()
	r.handler = r.cors(r.mux)
	return r
}

// ServeHTTP delegates to underlying mux.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.handler.ServeHTTP(w, req)
}

// Close releases background resources.
func (r *Router) Close() {
	if r.limiter != nil {
		r.limiter.Close()
	}
}

func (r *Router) register() {
	r.mux.HandleFunc("GET /healthz", r.audit(r.handleHealthz))
	r.mux.HandleFunc("GET /api/health", r.audit(r.handleHealthz))
	r.mux.Handle("GET /metrics", promhttp.Handler())

	r.mux.HandleFunc("POST /api/auth/register", r.audit(r.withRateLimit("register", rateLimitRegister, rateWindowDefault, rateLimitKeyIP, r.handleRegister)))
	r.mux.HandleFunc("POST /api/auth/login", r.audit(r.withRateLimit("login", rateLimitLogin, rateWindowDefault, rateLimitKeyIP, r.handleLogin)))
	r.mux.HandleFunc("POST /api/auth/logout", r.audit(r.handlerAuthRate("logout", rateLimitUserWrite, rateWindowDefault, r.handleLogout)))
	r.mux.HandleFunc("GET /api/auth/profile", r.audit(r.handlerAuthRate("profile", rateLimitUserRead, rateWindowDefault, r.handleProfile)))
	r.mux.HandleFunc("GET /api/auth/validate-token", r.audit(r.handlerAuthRate("validate-token", rateLimitUserRead, rateWindowDefault, r.handleValidateToken)))
	r.mux.HandleFunc("PUT /api/auth/change-password", r.audit(r.handlerAuthRate("change-password", rateLimitRegister, rateWindowDefault, r.handleChangePassword)))

	r.mux.HandleFunc("POST /api/deployment/upload", r.audit(r.handlerAuthRate("upload", rateLimitUpload, rateWindowDefault, r.handleUpload)))
	r.mux.HandleFunc("GET /api/deployment/my-requests", r.audit(r.handlerAuthRate("my-requests", rateLimitUserRead, rateWindowDefault, r.handleMyRequests)))
	r.mux.HandleFunc("GET /api/deployment/{id}", r.audit(r.handlerAuthRate("request", rateLimitUserRead, rateWindowDefault, r.handleGetRequest)))

	r.mux.HandleFunc("GET /api/deployment/admin/requests", r.audit(r.handlerAdminRate("admin-requests", rateLimitAdmin, rateWindowDefault, r.handleAllRequests)))
	r.mux.HandleFunc("PUT /api/deployment/admin/{id}/review", r.audit(r.handlerAdminRate("review", rateLimitUserWrite, rateWindowDefault, r.handleReview)))
	r.mux.HandleFunc("POST /api/deployment/admin/{id}/deploy", r.audit(r.handlerAdminRate("deploy", rateLimitUserWrite, rateWindowDefault, r.handleDeploy)))
	r.mux.HandleFunc("GET /api/deployment/admin/{id}/download", r.audit(r.handlerAdminRate("download", rateLimitUserWrite, rateWindowDefault, r.handleDownload)))
	r.mux.HandleFunc("GET /api/deployment/admin/stats", r.audit(r.handlerAdminRate("stats", rateLimitAdmin, rateWindowDefault, r.handleRequestStats)))
	r.mux.HandleFunc("GET /api/deployment/admin/stuck", r.audit(r.handlerAdminRate("stuck", rateLimitAdmin, rateWindowDefault, r.handleStuck)))
	r.mux.HandleFunc("GET /api/deployment/admin/activity-logs", r.audit(r.handlerAdminRate("activity-logs", rateLimitAdmin, rateWindowDefault, r.handleActivityLogs)))
	r.mux.HandleFunc("GET /api/deployment/admin/activity-stats", r.audit(r.handlerAdminRate("activity-stats", rateLimitAdmin, rateWindowDefault, r.handleActivityStats)))

	r.mux.HandleFunc("GET /api/realtime/connections", r.audit(r.handlerAdminRate("connections", rateLimitAdmin, rateWindowDefault, r.handleConnections)))
	r.mux.HandleFunc("GET /api/realtime/events", r.audit(r.withRateLimit("events", rateLimitRealtime, rateWindowRealtime, rateLimitKeyIP, r.handleEvents)))
	r.mux.HandleFunc("GET /socket", r.audit(r.withRateLimit("socket", rateLimitRealtime, rateWindowRealtime, rateLimitKeyIP, r.handleSocket)))
}

func (r *Router) handleHealthz(w http.ResponseWriter, req *http.Request) {
	components := make(map[string]any)
	status := "ok"
	if r.opts.DBHealth != nil {
		ctx, cancel := context.WithTimeout(req.Context(), healthCheckTimeout)
		defer cancel()
		if err := r.opts.DBHealth(ctx); err != nil {
			status = "degraded"
			components["database"] = map[string]any{
				"status": "down",
				"error":  err.Error(),
			}
		} else {
			components["database"] = map[string]any{"status": "up"}
		}
	}
	if r.registry != nil {
		stats := r.registry.Stats()
		components["realtime"] = map[string]any{"status": "up", "connections": stats.Total}
	}
	payload := map[string]any{
		"status":     status,
		"components": components,
		"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
	}
	code := http.StatusOK
	if status != "ok" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, payload)
}

func (r *Router) cors(next http.Handler) http.Handler {
	origin := strings.TrimSpace(r.opts.CORSOrigin)
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if origin != "" {
			h := w.Header()
			h.Set("Access-Control-Allow-Origin", origin)
			h.Set("Access-Control-Allow-Credentials", "true")
			h.Set("Access-Control-Allow-Headers", "Authorization, Content-Type, X-Request-ID")
			h.Set("Access-Control-Allow-Methods", "GET, POST, PUT, OPTIONS")
			h.Add("Vary", "Origin")
		}
		if req.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, req)
	})
}

func (r *Router) audit(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		recorder := &statusRecorder{ResponseWriter: w}
		start := time.Now()
		req = req.WithContext(activity.WithProvenance(req.Context(), activity.Provenance{
			IP:        clientIP(req),
			UserAgent: req.UserAgent(),
		}))
		next(recorder, req)

		status := recorder.status
		if status == 0 {
			status = http.StatusOK
		}
		ctx := recorder.ctx
		if ctx == nil {
			ctx = req.Context()
		}
		duration := time.Since(start)
		route := req.Pattern
		if route == "" {
			route = req.URL.Path
		}
		recordRequestMetrics(req.Method, route, status, duration)

		actor := "anonymous"
		fields := []any{
			"method", req.Method,
			"path", req.URL.Path,
			"status", status,
			"bytes", recorder.bytes,
			"duration_ms", duration.Milliseconds(),
		}
		if ip := clientIP(req); ip != "" {
			fields = append(fields, "ip", ip)
		}
		if reqID := strings.TrimSpace(req.Header.Get("X-Request-ID")); reqID != "" {
			fields = append(fields, "request_id", reqID)
		}
		if id, ok := identityFromContext(ctx); ok {
			actor = string(id.Role)
			fields = append(fields, "user_id", id.UserID)
		}
		fields = append(fields, "actor", actor)

		switch {
		case status >= http.StatusInternalServerError:
			r.logger.Error("http_request", fields...)
		case status >= http.StatusBadRequest:
			r.logger.Warn("http_request", fields...)
		default:
			r.logger.Info("http_request", fields...)
		}
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
	ctx    context.Context
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

func (sr *statusRecorder) Write(b []byte) (int, error) {
	if sr.status == 0 {
		sr.status = http.StatusOK
	}
	n, err := sr.ResponseWriter.Write(b)
	sr.bytes += n
	return n, err
}

func (sr *statusRecorder) SetContext(ctx context.Context) {
	sr.ctx = ctx
}

func (sr *statusRecorder) Flush() {
	if f, ok := sr.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (sr *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := sr.ResponseWriter.(http.Hijacker); ok {
		return h.Hijack()
	}
	return nil, nil, errors.New("hijacker not supported")
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (sr *statusRecorder) Unwrap() http.ResponseWriter {
	return sr.ResponseWriter
}

func clientIP(req *http.Request) string {
	if forwarded := strings.TrimSpace(req.Header.Get("X-Forwarded-For")); forwarded != "" {
		parts := strings.Split(forwarded, ",")
		if len(parts) > 0 {
			ip := strings.TrimSpace(parts[0])
			if ip != "" {
				return ip
			}
		}
	}
	host, _, err := net.SplitHostPort(strings.TrimSpace(req.RemoteAddr))
	if err != nil {
		return strings.TrimSpace(req.RemoteAddr)
	}
	return host
}

func (r *Router) applyRateHeaders(w http.ResponseWriter, limit int, decision rateDecision) {
	if limit <= 0 {
		return
	}
	remaining := limit - decision.count
	if remaining < 0 {
		remaining = 0
	}
	headers := w.Header()
	headers.Set("X-RateLimit-Limit", strconv.Itoa(limit))
	headers.Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
	if !decision.windowEnd.IsZero() {
		headers.Set("X-RateLimit-Reset", strconv.FormatInt(decision.windowEnd.Unix(), 10))
	}
}

// pathID parses the {id} wildcard.
func pathID(req *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(req.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

// queryInt reads a non-negative integer query parameter.
func queryInt(req *http.Request, name string) int {
	n, err := strconv.Atoi(req.URL.Query().Get(name))
	if err != nil || n < 0 {
		return 0
	}
	return n
}

// queryInt64 reads a positive int64 query parameter.
func queryInt64(req *http.Request, name string) int64 {
	n, err := strconv.ParseInt(req.URL.Query().Get(name), 10, 64)
	if err != nil || n < 0 {
		return 0
	}
	return n
}

package httpx

import (
	"bufio"
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"log/slog"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"k8s.io/utils/clock"

	"github.com/AbhishekMashetty/axon/internal/cluster"
	"github.com/AbhishekMashetty/axon/internal/domain"
	"github.com/AbhishekMashetty/axon/internal/manifest"
	"github.com/AbhishekMashetty/axon/internal/pipeline"
	"github.com/AbhishekMashetty/axon/internal/service/rollout"
	"github.com/AbhishekMashetty/axon/internal/ws"
)

// Orchestrator is the batch surface the API drives.
type Orchestrator interface {
	Submit(ctx context.Context, filename string, requests []domain.DeploymentRequest, mode domain.ProcessingMode) (*domain.Batch, error)
	ProcessAsync(ctx context.Context, batchID string, mode domain.ProcessingMode)
	Status(ctx context.Context, batchID string) (rollout.Summary, error)
	List(ctx context.Context, limit int) ([]domain.Batch, error)
	Rollback(ctx context.Context, batchID string) (rollout.RollbackResult, error)
}

// ManifestParser turns an uploaded document into deployment requests.
type ManifestParser interface {
	Parse(data []byte) (*manifest.Manifest, error)
}

// ClusterInspector answers one-off readiness and log queries.
type ClusterInspector interface {
	Validate(ctx context.Context, pillar domain.Pillar, service, namespace string) (cluster.ValidationResult, error)
	DeploymentLogs(ctx context.Context, pillar domain.Pillar, service, namespace string, tailLines int64) (cluster.PodLogs, error)
}

// ConnectivityChecker reports whether the pipeline webhooks answer.
type ConnectivityChecker interface {
	CheckConnectivity(ctx context.Context) []pipeline.EndpointHealth
}

// Archiver keeps a copy of every accepted manifest.
type Archiver interface {
	Save(ctx context.Context, batchID, filename string, content []byte) (string, error)
}

// Options carries router dependencies. Archive, Cluster, Pipeline and DBHealth are optional.
type Options struct {
	Logger           *slog.Logger
	Orchestrator     Orchestrator
	Manifests        ManifestParser
	Cluster          ClusterInspector
	Pipeline         ConnectivityChecker
	Archive          Archiver
	Hub              *ws.Hub
	Limiter          RateLimiter
	JWTSecret        string
	MaxManifestBytes int64
	DBHealth         func(context.Context) error
	// Registry receives the HTTP metrics and backs /metrics. Defaults to the global registry.
	Registry *prometheus.Registry
	// BaseContext outlives requests and bounds asynchronous batch processing.
	BaseContext context.Context
}

// Router wires HTTP endpoints to services.
type Router struct {
	mux              *http.ServeMux
	logger           *slog.Logger
	orch             Orchestrator
	manifests        ManifestParser
	cluster          ClusterInspector
	pipeline         ConnectivityChecker
	archive          Archiver
	hub              *ws.Hub
	upgrader         websocket.Upgrader
	limiter          RateLimiter
	jwtSecret        string
	maxManifestBytes int64
	dbHealth         func(context.Context) error
	baseCtx          context.Context

	registerer  prometheus.Registerer
	gatherer    prometheus.Gatherer
	metricsOnce sync.Once
	metrics     *apiMetrics
}

const (
	healthCheckTimeout    = 2 * time.Second
	defaultMaxManifest    = 1 << 20
	defaultListLimit      = 50
	sseHeartbeatInterval  = 15 * time.Second
	manifestFormField     = "manifest"
	legacyManifestField   = "yaml_file"
	defaultManifestName   = "manifest.yaml"
	manifestFilenameParam = "filename"
)

// NewRouter assembles routes with dependencies.
func NewRouter(opts Options) *Router {
	r := &Router{
		mux:       http.NewServeMux(),
		logger:    opts.Logger,
		orch:      opts.Orchestrator,
		manifests: opts.Manifests,
		cluster:   opts.Cluster,
		pipeline:  opts.Pipeline,
		archive:   opts.Archive,
		hub:       opts.Hub,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		limiter:          opts.Limiter,
		jwtSecret:        strings.TrimSpace(opts.JWTSecret),
		maxManifestBytes: opts.MaxManifestBytes,
		dbHealth:         opts.DBHealth,
		baseCtx:          opts.BaseContext,
		registerer:       prometheus.DefaultRegisterer,
		gatherer:         prometheus.DefaultGatherer,
	}
	if opts.Registry != nil {
		r.registerer = opts.Registry
		r.gatherer = opts.Registry
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	if r.limiter == nil {
		r.limiter = NewMemoryRateLimiter(clock.RealClock{})
	}
	if r.maxManifestBytes <= 0 {
		r.maxManifestBytes = defaultMaxManifest
	}
	if r.baseCtx == nil {
		r.baseCtx = context.Background()
	}
	r.initMetrics()
	r.register()
	return r
}

// ServeHTTP delegates to underlying mux.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

// Close releases background resources.
func (r *Router) Close() {
	if r.limiter != nil {
		r.limiter.Close()
	}
}

func (r *Router) register() {
	r.mux.HandleFunc("/healthz", r.audit("/healthz", r.handleHealthz))
	r.mux.Handle("/metrics", promhttp.HandlerFor(r.gatherer, promhttp.HandlerOpts{}))
	r.mux.HandleFunc("/manifests/validate", r.audit("/manifests/validate", r.withQuota(quotaRead, r.handleValidateManifest)))
	r.mux.HandleFunc("/batches", r.audit("/batches", r.withQuota(quotaRead, r.handleBatches)))
	r.mux.HandleFunc("/batches/", r.audit("/batches/{id}", r.withQuota(quotaRead, r.handleBatchSubroutes)))
	r.mux.HandleFunc("/pillars/connectivity", r.audit("/pillars/connectivity", r.withQuota(quotaRead, r.handleConnectivity)))
	r.mux.HandleFunc("/services/", r.audit("/services/{pillar}/{service}", r.withQuota(quotaRead, r.handleServiceSubroutes)))
	r.mux.HandleFunc("/ws/batches", r.audit("/ws/batches", r.withQuota(quotaStream, r.handleBatchesWS)))
}

func (r *Router) handleHealthz(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	components := make(map[string]any)
	status := "ok"
	if r.dbHealth != nil {
		ctx, cancel := context.WithTimeout(req.Context(), healthCheckTimeout)
		defer cancel()
		if err := r.dbHealth(ctx); err != nil {
			status = "degraded"
			components["database"] = map[string]any{
				"status": "down",
				"error":  err.Error(),
			}
		} else {
			components["database"] = map[string]any{"status": "up"}
		}
	}
	if r.hub != nil {
		components["subscribers"] = r.hub.Subscribers(ws.AllBatches)
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

// writeServiceError maps orchestration errors onto HTTP statuses.
func (r *Router) writeServiceError(w http.ResponseWriter, req *http.Request, err error) {
	var verr *manifest.ValidationError
	switch {
	case errors.As(err, &verr):
		writeValidationError(w, verr)
	case errors.Is(err, domain.ErrBatchNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrBatchInProgress), errors.Is(err, domain.ErrNoSuccessfulDeployments):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, rollout.ErrEmptyBatch):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusServiceUnavailable, "request cancelled")
	default:
		r.logger.Error("request failed", "path", req.URL.Path, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func (r *Router) audit(route string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		recorder := &statusRecorder{ResponseWriter: w}
		start := time.Now()
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
		r.recordRequestMetrics(req.Method, route, status, duration)
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
		if info, ok := authInfoFromContext(ctx); ok {
			actor = info.Subject
			fields = append(fields, "role", string(info.Role))
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

func (r *Router) methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func (r *Router) notFound(w http.ResponseWriter) {
	writeError(w, http.StatusNotFound, "not found")
}

// Package api exposes the engine over HTTP: manual execution, webhook
// ingestion, execution inspection, the node catalog and operational
// endpoints.
package api

import (
	"encoding/json"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/user/flowd"
	"github.com/user/flowd/internal/engine"
	"github.com/user/flowd/internal/storage"
	"github.com/user/flowd/internal/trigger"
	"github.com/user/flowd/pkg/node"
	"golang.org/x/time/rate"
)

// Rate limit defaults: 100 requests per rolling minute per client IP.
const (
	defaultRateLimit = rate.Limit(100.0 / 60.0)
	defaultRateBurst = 100
)

type Server struct {
	store     storage.Storage
	engine    *engine.Engine
	webhooks  *trigger.WebhookService
	registry  *node.Registry
	log       flowd.Logger
	limiter   *ipLimiter
	jwtSecret []byte
}

type ServerOptions struct {
	JWTSecret []byte
	RateLimit rate.Limit
	RateBurst int
}

func NewServer(store storage.Storage, eng *engine.Engine, webhooks *trigger.WebhookService, registry *node.Registry, log flowd.Logger, opts ServerOptions) *Server {
	if opts.RateLimit <= 0 {
		opts.RateLimit = defaultRateLimit
	}
	if opts.RateBurst <= 0 {
		opts.RateBurst = defaultRateBurst
	}
	if log == nil {
		log = engine.NewDefaultLogger()
	}
	return &Server{
		store:     store,
		engine:    eng,
		webhooks:  webhooks,
		registry:  registry,
		log:       log,
		limiter:   newIPLimiter(opts.RateLimit, opts.RateBurst),
		jwtSecret: opts.JWTSecret,
	}
}

func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/workflows/{id}/execute", s.executeWorkflow)
	// webhook ingestion accepts any method; POST is canonical
	mux.HandleFunc("/api/webhook/{publicId}", s.handleWebhook)

	mux.HandleFunc("GET /api/executions", s.listExecutions)
	mux.HandleFunc("GET /api/executions/{id}", s.getExecution)
	mux.HandleFunc("GET /api/executions/{id}/logs", s.getExecutionLogs)

	mux.HandleFunc("GET /api/nodes/types", s.listNodeTypes)
	mux.HandleFunc("GET /api/nodes/types/{type}/defaults", s.getNodeDefaults)

	mux.HandleFunc("GET /api/health", s.health)
	mux.Handle("GET /metrics", promhttp.Handler())

	return s.corsMiddleware(s.rateLimitMiddleware(s.userMiddleware(mux)))
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]any{"success": true, "data": data})
}

func (s *Server) jsonError(w http.ResponseWriter, msg string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]any{"success": false, "error": msg})
}

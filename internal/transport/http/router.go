package httptransport

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"hireloop/internal/platform/health"
	"hireloop/pkg/platform/middleware/admin"
	request "hireloop/pkg/platform/middleware/request"
)

const maxBodyBytes = 1 << 20

// RouteRegistrar mounts a module's routes.
type RouteRegistrar interface {
	Register(r chi.Router)
	RegisterAdmin(r chi.Router)
}

// RouterConfig collects everything the router mounts.
type RouterConfig struct {
	Logger         *slog.Logger
	RequestTimeout time.Duration
	AdminToken     string
	Health         *health.Handler
	Metrics        *request.Metrics
	Gatherer       prometheus.Gatherer
	Modules        []RouteRegistrar
}

// NewRouter wires the middleware chain and mounts module routes under /api
// next to health and metrics. Admin routes are only mounted when an admin
// token is set.
func NewRouter(cfg RouterConfig) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	r := chi.NewRouter()
	r.Use(request.Recovery(logger))
	r.Use(request.RequestID)
	r.Use(request.Logger(logger))
	r.Use(request.CORS)
	r.Use(request.LatencyMiddleware(cfg.Metrics, routePattern))

	if cfg.Health != nil {
		cfg.Health.Register(r)
	}
	if cfg.Gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/api", func(api chi.Router) {
		api.Use(request.Timeout(timeout))
		api.Use(request.BodyLimit(maxBodyBytes))
		api.Use(request.ContentTypeJSON)
		for _, m := range cfg.Modules {
			m.Register(api)
		}
		if cfg.AdminToken == "" {
			return
		}
		api.Group(func(adm chi.Router) {
			adm.Use(admin.RequireAdminToken(cfg.AdminToken, logger))
			for _, m := range cfg.Modules {
				m.RegisterAdmin(adm)
			}
		})
	})

	return r
}

// routePattern keeps latency labels bounded to the registered patterns.
func routePattern(r *http.Request) string {
	if rc := chi.RouteContext(r.Context()); rc != nil {
		return rc.RoutePattern()
	}
	return ""
}

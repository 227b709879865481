package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/pawmart/api/internal/platform/httpx"
)

// RouteRegistrar adds a resource's routes to the group it is mounted on.
type RouteRegistrar func(r chi.Router)

type routerSettings struct {
	prefix  string
	chain   []func(http.Handler) http.Handler
	health  *HealthHandlers
	metrics http.Handler
	groups  []routeGroup
}

type routeGroup struct {
	path     string
	register RouteRegistrar
}

type Option func(*routerSettings)

const (
	apiPrefix      = "/api/v1"
	requestTimeout = time.Minute
)

// NewRouter serves the probes and /metrics at the root and the resource groups under the API prefix.
// Groups without a registrar are not mounted.
func NewRouter(opts ...Option) chi.Router {
	s := routerSettings{prefix: apiPrefix}
	for _, opt := range opts {
		opt(&s)
	}
	if s.health == nil {
		s.health = NewHealthHandlers()
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Timeout(requestTimeout))
	for _, mw := range s.chain {
		if mw != nil {
			r.Use(mw)
		}
	}
	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		httpx.WriteError(req.Context(), w, httpx.NewError("route_not_found", "no route for "+req.URL.Path, http.StatusNotFound))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		httpx.WriteError(req.Context(), w, httpx.NewError("method_not_allowed", req.Method+" is not supported on "+req.URL.Path, http.StatusMethodNotAllowed))
	})

	r.Get("/healthz", s.health.Healthz)
	r.Get("/readyz", s.health.Readyz)
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics)
	}

	r.Route(s.prefix, func(api chi.Router) {
		for _, g := range s.groups {
			if g.register != nil {
				api.Route(g.path, func(group chi.Router) { g.register(group) })
			}
		}
	})
	return r
}

func WithBasePath(path string) Option {
	return func(s *routerSettings) {
		if path != "" {
			s.prefix = path
		}
	}
}

// WithMiddlewares runs after request id, real ip and timeout handling.
func WithMiddlewares(mw ...func(http.Handler) http.Handler) Option {
	return func(s *routerSettings) { s.chain = append(s.chain, mw...) }
}

func WithHealthHandlers(h *HealthHandlers) Option {
	return func(s *routerSettings) { s.health = h }
}

func WithMetricsHandler(h http.Handler) Option {
	return func(s *routerSettings) { s.metrics = h }
}

// WithOrderRoutes mounts reg at <prefix>/orders.
func WithOrderRoutes(reg RouteRegistrar) Option {
	return withGroup("/orders", reg)
}

// WithPaymentRoutes mounts reg at <prefix>/payment.
func WithPaymentRoutes(reg RouteRegistrar) Option {
	return withGroup("/payment", reg)
}

func withGroup(path string, reg RouteRegistrar) Option {
	return func(s *routerSettings) {
		s.groups = append(s.groups, routeGroup{path: path, register: reg})
	}
}

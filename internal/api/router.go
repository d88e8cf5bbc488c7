package api

import (
	"context"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/JakeFAU/remotehive-autoscraper/internal/metrics"
)

const checkTimeout = 3 * time.Second

// Check probes one downstream dependency.
type Check func(ctx context.Context) error

// Options configure the middleware and probes shared by both services.
type Options struct {
	Service        string
	CORSOrigins    []string
	RequestTimeout time.Duration
	// Checks run on /readyz and the detailed health endpoint.
	Checks map[string]Check
	Now    func() time.Time
}

func (o Options) withDefaults() Options {
	if o.RequestTimeout <= 0 {
		o.RequestTimeout = 60 * time.Second
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// newRouter installs middleware, JSON 404/405 handlers and the probe routes.
func newRouter(opts Options, logger *zap.Logger) chi.Router {
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(middleware.RealIP)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(metrics.Middleware)
	if len(opts.CORSOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   opts.CORSOrigins,
			AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", requestIDHeader},
			ExposedHeaders:   []string{requestIDHeader},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}
	r.NotFound(notFound)
	r.MethodNotAllowed(methodNotAllowed)

	probes := &probes{opts: opts, logger: logger}
	r.Get("/health", probes.health)
	r.Get("/healthz", probes.healthz)
	r.Get("/readyz", probes.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())
	return r
}

type probes struct {
	opts   Options
	logger *zap.Logger
}

func (p *probes) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "healthy",
		"service":   p.opts.Service,
		"timestamp": p.opts.Now().UTC(),
	})
}

func (p *probes) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (p *probes) readyz(w http.ResponseWriter, r *http.Request) {
	results, ok := p.run(r.Context())
	if !ok {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "not ready", "checks": results})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ready", "checks": results})
}

// run executes every check and reports "ok" or the error text per check.
func (p *probes) run(ctx context.Context) (map[string]string, bool) {
	ctx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()

	names := make([]string, 0, len(p.opts.Checks))
	for name := range p.opts.Checks {
		names = append(names, name)
	}
	sort.Strings(names)

	results := make(map[string]string, len(names))
	healthy := true
	for _, name := range names {
		if err := p.opts.Checks[name](ctx); err != nil {
			p.logger.Warn("readiness check failed", zap.String("check", name), zap.Error(err))
			results[name] = err.Error()
			healthy = false
			continue
		}
		results[name] = "ok"
	}
	return results, healthy
}

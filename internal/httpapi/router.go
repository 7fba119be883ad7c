package httpapi

import (
	"net/http"
	"sync/atomic"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/hoppy/ingest/internal/config"
	"github.com/hoppy/ingest/internal/costcontrol"
	"github.com/hoppy/ingest/internal/jobqueue"
	"github.com/hoppy/ingest/internal/metrics"
	"github.com/hoppy/ingest/internal/rawcollector"
	"github.com/hoppy/ingest/internal/repository"
)

// ShutdownGate lets the composition root flip the server into
// "stop accepting new requests" mode during graceful shutdown.
type ShutdownGate struct {
	draining int32
}

// Drain marks the server as shutting down; subsequent requests get 503.
func (g *ShutdownGate) Drain() { atomic.StoreInt32(&g.draining, 1) }

func (g *ShutdownGate) isDraining() bool { return atomic.LoadInt32(&g.draining) == 1 }

func shutdownMiddleware(gate *ShutdownGate) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if gate.isDraining() {
				writeError(w, http.StatusServiceUnavailable, "shutting_down", "server is shutting down")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// NewRouter builds the ingestion-control HTTP surface: chi router with
// the gateway's middleware ordering (CORS -> security headers ->
// request id -> recoverer -> logger -> body limit -> rate limit),
// then the data-collection and businesses route groups.
func NewRouter(
	cfg *config.Config,
	logger zerolog.Logger,
	repo repository.Repository,
	queue *jobqueue.Queue,
	collector *rawcollector.Collector,
	registry *rawcollector.Registry,
	cost *costcontrol.Controller,
	reg *metrics.Registry,
	gate *ShutdownGate,
) http.Handler {
	r := chi.NewRouter()

	r.Use(corsMiddleware(cfg.FrontendURL))
	r.Use(securityHeadersMiddleware)
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(requestLoggerMiddleware(logger))
	r.Use(maxBodySizeMiddleware(cfg.MaxBodyBytes))
	r.Use(shutdownMiddleware(gate))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]interface{}{"status": "ok", "service": "hoppy-ingest"})
	})
	r.Get("/ready", func(w http.ResponseWriter, r *http.Request) {
		statuses := registry.HealthCheckAll(r.Context())
		healthy := true
		for _, s := range statuses {
			if !s.Healthy {
				healthy = false
			}
		}
		status := http.StatusOK
		if !healthy {
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, map[string]interface{}{"status": "ready", "sources": statuses})
	})
	r.Get("/metrics", reg.Handler())

	limiter := newRateLimiter(logger, cfg.RateLimitEnabled, cfg.RateLimitRPM, cfg.RateLimitPerHour, cfg.RateLimitPerDay)
	limited := r.With(limiter.Handler)

	collectionH := &collectionHandler{logger: logger, queue: queue, collector: collector}
	limited.Route("/data-collection/google", func(r chi.Router) {
		r.Post("/search", collectionH.Search)
		r.Post("/search/bulk", collectionH.SearchBulk)
		r.Post("/search/city", collectionH.SearchCity)
		r.Get("/queue/stats", collectionH.QueueStats)
	})

	costH := &costControllerHandler{logger: logger, cost: cost}
	limited.Get("/cost-controller/report", costH.Report)

	businessH := &businessHandler{logger: logger, repo: repo}
	limited.Route("/businesses", func(r chi.Router) {
		r.Get("/", businessH.List)
		r.Get("/search/location", businessH.SearchLocation)
		r.Get("/search/category/{category}", businessH.SearchCategory)
		r.Get("/{id}", businessH.Get)
	})

	return r
}

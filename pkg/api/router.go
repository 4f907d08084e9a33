package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/marmos91/zerocopy/internal/logger"
	"github.com/marmos91/zerocopy/pkg/api/handlers"
	"github.com/marmos91/zerocopy/pkg/metrics"
)

// NewRouter returns the API routes:
//
//	GET /health        liveness
//	GET /health/ready  readiness: the endpoint can exchange slots
//	GET /status        producer or consumer state
//	GET /metrics       Prometheus metrics, 404 when metrics are disabled
//
// source may be nil before the endpoint exists.
func NewRouter(service string, source handlers.Source) http.Handler {
	h := handlers.NewHealthHandler(service, source)

	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, requestLogger, middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/health", h.Liveness)
	r.Get("/health/ready", h.Readiness)
	r.Get("/status", h.Status)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())
	r.Handle("/", http.RedirectHandler("/status", http.StatusTemporaryRedirect))
	return r
}

// requestLogger logs every request at debug level: probes and scrapes
// arrive continuously.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		logger.Debug("API request",
			"request_id", middleware.GetReqID(r.Context()),
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start).String())
	})
}

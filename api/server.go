package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	frond "github.com/frondhq/frond"
	"github.com/frondhq/frond/metrics"
	"github.com/frondhq/frond/middleware"
	"github.com/frondhq/frond/proxy"
)

// Server holds everything the HTTP surface needs. Build one with the
// collaborators wired, then mount Routes on an http.Server.
type Server struct {
	Engine *frond.Engine
	// Redis backs the restricted string-lookup endpoint.
	Redis redis.UniversalClient

	// Lookup guards /api/redis/getString.
	LookupAllowedHosts []string
	LookupKeyPrefix    string

	Screenshotter *proxy.Screenshotter
	// Forwarders are mounted under /api/<name>/ behind the auth guard.
	Forwarders []*proxy.Forwarder

	Metrics  *metrics.Metrics
	Gatherer prometheus.Gatherer
	Log      *slog.Logger
}

func (s *Server) logger() *slog.Logger {
	if s.Log != nil {
		return s.Log
	}
	return slog.Default()
}

// Routes builds the chi router.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(s.requestLogger)
	r.Use(chimw.Recoverer)

	r.Get("/health", s.handleHealth)
	if s.Gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.Gatherer, promhttp.HandlerOpts{}))
	}

	require := middleware.Require(s.Engine, middleware.Options{
		OnError: WriteAdmissionError,
		Metrics: s.Metrics,
	})
	optional := middleware.Optional(s.Engine)

	r.Route("/api", func(r chi.Router) {
		r.Post("/getAccess", s.handleGetAccess)
		r.Get("/redis/getString", s.handleGetString)

		r.Route("/test", func(r chi.Router) {
			r.Get("/test", s.handleTestOpen)
			r.With(require).Get("/testToken", s.handleTestToken)
			r.With(optional).Get("/testOptional", s.handleTestOptional)
		})

		if s.Screenshotter != nil {
			r.With(require).Post("/browserless/screenshot", s.handleScreenshot)
		}

		for _, fwd := range s.Forwarders {
			fwd.OnError = writeUpstreamError
			mount := "/" + fwd.Name
			r.With(require).Handle(mount, fwd)
			r.With(require).Handle(mount+"/*", fwd)
		}
	})

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, CodeNotFound, "Route not found")
	})

	return r
}

// requestLogger emits one structured line per request after it completes.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		s.logger().Info("request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", ww.Status()),
			slog.Int("bytes", ww.BytesWritten()),
			slog.Duration("duration", time.Since(start)),
			slog.String("request_id", chimw.GetReqID(r.Context())),
			slog.String("remote", r.RemoteAddr),
		)
	})
}

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

func (s *Server) setupRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealthCheck)
	r.Method(http.MethodGet, "/metrics", s.metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		// a scrape blocks for pages * (latency + delay); only the server write timeout applies
		r.Post("/scrapes", s.handleScrape)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(30 * time.Second))

			r.Get("/categories", s.handleCategories)

			r.Get("/cache", s.handleCacheStatus)
			r.Delete("/cache", s.handleCacheReset)

			r.Get("/ads/raw", s.handleRawAds)
			r.Get("/ads/raw.csv", s.handleRawAdsCSV)
			r.Get("/ads/cleaned", s.handleCleanedAds)
			r.Get("/ads/cleaned.csv", s.handleCleanedAdsCSV)
			r.Get("/stats", s.handleStats)

			r.Post("/evaluations", s.handleCreateEvaluation)
			r.Get("/evaluations", s.handleEvaluations)
		})
	})

	return r
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()

		next.ServeHTTP(ww, r)

		s.logger.Info("HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start).String(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

package api

import (
	"context"
	"net/http"
	"time"

	"coinafrique-scraper/internal/app"
	"coinafrique-scraper/internal/config"
	"coinafrique-scraper/internal/observability"
	"coinafrique-scraper/internal/storage"
)

// PageCache is the inspectable fetch cache of the running process.
type PageCache interface {
	CacheLen() int
	CachedURLs() []string
	ResetCache()
}

// Server holds the dependencies for the HTTP server.
type Server struct {
	config     *config.Config
	router     http.Handler
	httpServer *http.Server
	pipeline   *app.Pipeline
	store      storage.Repository
	cache      PageCache
	metrics    *observability.Metrics
	logger     *observability.Logger
}

func NewServer(
	cfg *config.Config,
	p *app.Pipeline,
	store storage.Repository,
	cache PageCache,
	m *observability.Metrics,
	l *observability.Logger,
) *Server {
	if l == nil {
		l = observability.NewNop()
	}
	s := &Server{
		config:   cfg,
		pipeline: p,
		store:    store,
		cache:    cache,
		metrics:  m,
		logger:   l,
	}
	s.router = s.setupRouter()
	s.httpServer = &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      cfg.GetWriteTimeout(),
	}
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// Start blocks until the server stops. After Shutdown, including a Shutdown
// that ran before Start, it returns http.ErrServerClosed.
func (s *Server) Start() error {
	s.logger.Info("HTTP server listening", "addr", s.config.Server.Addr)
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

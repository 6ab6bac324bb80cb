package health

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/foxzi/serverbot/internal/ipfilter"
	"github.com/foxzi/serverbot/internal/metrics"
)

// DefaultStaleAfter is how long without a cycle before the bot is reported unhealthy
const DefaultStaleAfter = 5 * time.Minute

// Config contains health endpoint settings
type Config struct {
	ListenAddr string
	StaleAfter time.Duration
	AllowedIPs []string
	TrustProxy bool
}

// Server answers every path with the minutes since the last cycle
type Server struct {
	router     *chi.Mux
	httpServer *http.Server
	liveness   *Liveness
	config     Config
	logger     *slog.Logger
	now        func() time.Time
}

// NewServer creates a new health server
func NewServer(l *Liveness, cfg Config, logger *slog.Logger) *Server {
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = ":3030"
	}
	if cfg.StaleAfter == 0 {
		cfg.StaleAfter = DefaultStaleAfter
	}

	s := &Server{
		router:   chi.NewRouter(),
		liveness: l,
		config:   cfg,
		logger:   logger,
		now:      time.Now,
	}

	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

func (s *Server) setupRoutes() {
	filter := ipfilter.New(s.config.AllowedIPs, s.logger, ipfilter.WithTrustProxy(s.config.TrustProxy))

	s.router.Use(middleware.Recoverer)
	s.router.Use(metrics.HTTPMiddleware)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(filter.HTTPMiddleware)

	s.router.HandleFunc("/*", s.handleHealth)
}

// Handler returns the router
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	minutes := s.liveness.MinutesSince(s.now())

	code := http.StatusOK
	if time.Duration(minutes)*time.Minute > s.config.StaleAfter {
		code = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(code)
	w.Write([]byte(strconv.FormatInt(minutes, 10)))
}

// loggingMiddleware logs requests at debug level; probes hit this every few seconds
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"remote_addr", r.RemoteAddr,
		)
	})
}

// ListenAndServe starts the HTTP server
func (s *Server) ListenAndServe() error {
	s.logger.Info("starting health server", "addr", s.config.ListenAddr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down health server")
	return s.httpServer.Shutdown(ctx)
}

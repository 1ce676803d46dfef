package api

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"imgshift/internal/logging"
	"imgshift/internal/pipeline"
)

// UserHeader identifies the caller for admin-only routes.
const UserHeader = "X-User-ID"

const defaultMaxBodyBytes = 64 << 20

// Options configures a Server.
type Options struct {
	Token        string
	MaxBodyBytes int64
	Logger       *slog.Logger
}

// Server routes HTTP requests onto a pipeline.Service.
type Server struct {
	svc     *pipeline.Service
	opts    Options
	logger  *slog.Logger
	router  *chi.Mux
	started time.Time
}

// NewServer builds the router.
func NewServer(svc *pipeline.Service, opts Options) *Server {
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = defaultMaxBodyBytes
	}
	s := &Server{
		svc:     svc,
		opts:    opts,
		logger:  logging.NewComponentLogger(opts.Logger, "api"),
		router:  chi.NewRouter(),
		started: time.Now(),
	}
	s.setupMiddleware()
	s.setupRoutes()
	return s
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.requestLogger)
	s.router.Use(middleware.Recoverer)
}

func (s *Server) setupRoutes() {
	s.router.Get("/api/health", s.handleHealth)

	s.router.Group(func(r chi.Router) {
		r.Use(s.authMiddleware)

		r.Get("/api/formats", s.handleFormats)
		r.Get("/api/stats", s.handleStats)
		r.Get("/api/downloads/{downloadID}", s.handleDownload)
		r.Delete("/api/downloads/{downloadID}", s.handleDiscardDownload)

		r.Route("/api/sessions/{sessionID}", func(r chi.Router) {
			r.Post("/uploads", s.handleUpload)
			r.Get("/batch", s.handleBatch)
			r.Post("/format", s.handleFormat)
			r.Post("/convert", s.handleConvert)
			r.Post("/cancel", s.handleCancel)
		})
	})

	s.router.NotFound(func(w http.ResponseWriter, r *http.Request) {
		s.writeError(w, r, http.StatusNotFound, "not_found", "route not found")
	})
	s.router.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		s.writeError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
	})
}

// authMiddleware validates bearer tokens. With no token configured every
// request passes.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	if s.opts.Token == "" {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(auth, "Bearer ")
		if !ok || token != s.opts.Token {
			s.writeError(w, r, http.StatusUnauthorized, "unauthorized", "unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("http request",
			logging.String("method", r.Method),
			logging.String("path", r.URL.Path),
			logging.Int("status", ww.Status()),
			logging.Int("bytes", ww.BytesWritten()),
			logging.Duration("duration", time.Since(start)),
			logging.String(logging.FieldCorrelationID, middleware.GetReqID(r.Context())),
		)
	})
}

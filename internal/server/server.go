package server

import (
	"context"
	"errors"
	"net"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/docrewrite/docrewrite/internal/auth"
	"github.com/docrewrite/docrewrite/internal/config"
	apperrors "github.com/docrewrite/docrewrite/internal/errors"
	"github.com/docrewrite/docrewrite/internal/observability"
	"github.com/docrewrite/docrewrite/internal/server/handlers"
	servermw "github.com/docrewrite/docrewrite/internal/server/middleware"
	"github.com/docrewrite/docrewrite/internal/service"
)

// Options wires a Server to its collaborators. Health and Auth may be nil.
type Options struct {
	Config  *config.Config
	Service *service.Service
	Auth    *auth.Authenticator
	Health  *handlers.HealthManager
}

// Server is the docrewrite HTTP API.
type Server struct {
	router *chi.Mux
	server *http.Server
	cfg    *config.Config
	svc    *service.Service
	auth   *auth.Authenticator
	health *handlers.HealthManager
}

// New builds the router. Nothing listens until Start or Serve.
func New(opts Options) *Server {
	cfg := opts.Config
	if cfg == nil {
		cfg = &config.Config{}
	}
	health := opts.Health
	if health == nil {
		health = handlers.NewHealthManager(handlers.AppVersion)
	}

	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(servermw.RequestID)
	r.Use(servermw.RequestMetrics)
	r.Use(servermw.Recovery)
	r.Use(cors.Handler(corsOptions(cfg.CORS)))

	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		HandleError(w, req, apperrors.NewNotFoundError("The requested resource was not found"))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		HandleError(w, req, apperrors.NewMethodNotAllowedError("The requested method is not allowed for this resource"))
	})

	s := &Server{
		router: r,
		cfg:    cfg,
		svc:    opts.Service,
		auth:   opts.Auth,
		health: health,
	}

	handlers.SetHTTPErrorResponder(HandleError)
	s.registerRoutes()
	return s
}

func corsOptions(cfg config.CORSConfig) cors.Options {
	origins := cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	return cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", auth.HeaderAPIKey, servermw.RequestIDHeader},
		ExposedHeaders: []string{"Retry-After", "X-RateLimit-Limit", "X-RateLimit-Remaining", servermw.RequestIDHeader},
		MaxAge:         300,
	}
}

// Start listens on the configured address until Shutdown.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.cfg.Server.Addr())
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

// Serve accepts connections on ln until Shutdown.
func (s *Server) Serve(ln net.Listener) error {
	sc := s.cfg.Server
	s.server = &http.Server{
		Handler:      s.router,
		ReadTimeout:  sc.ReadTimeout,
		WriteTimeout: sc.WriteTimeout,
		IdleTimeout:  sc.IdleTimeout,
	}

	if observability.ServerLogger != nil {
		observability.ServerLogger.Info("Starting HTTP server",
			zap.String("addr", ln.Addr().String()),
			zap.Bool("auth", s.auth.Enabled()))
	}

	err := s.server.Serve(ln)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops accepting requests and waits for in-flight ones.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	if observability.ServerLogger != nil {
		observability.ServerLogger.Info("Shutting down HTTP server")
	}
	return s.server.Shutdown(ctx)
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Health returns the manager backing the probe endpoints.
func (s *Server) Health() *handlers.HealthManager {
	return s.health
}

package server

import (
	"context"
	"os"

	"github.com/fulmenhq/gofulmen/signals"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/docrewrite/docrewrite/internal/appid"
	"github.com/docrewrite/docrewrite/internal/observability"
	"github.com/docrewrite/docrewrite/internal/server/handlers"
)

func (s *Server) registerRoutes() {
	s.router.Get("/health", s.health.HealthHandler)
	s.router.Get("/health/live", s.health.LivenessHandler)
	s.router.Get("/health/ready", s.health.ReadinessHandler)
	s.router.Get("/health/startup", s.health.StartupHandler)
	s.router.Get("/version", handlers.VersionHandler)
	s.router.Get("/metrics", s.metricsHandler)

	if s.svc != nil {
		docs := handlers.NewDocuments(s.svc, s.cfg.Server.MaxUploadBytes)
		s.router.Route("/api/v1", func(r chi.Router) {
			r.Use(authenticate(s.auth))
			r.Get("/rate-limit", docs.RateLimit)
			r.Route("/documents", func(r chi.Router) {
				r.Use(admit(s.svc))
				docs.Routes(r)
			})
		})
	}

	s.registerAdminEndpoint()
}

// registerAdminEndpoint mounts POST /admin/signal when <PREFIX>ADMIN_TOKEN is
// set. Sending SIGTERM through it drains the job runner like a local signal.
func (s *Server) registerAdminEndpoint() {
	identity, _ := appid.Get(context.Background())
	envPrefix := appid.EnvPrefix(identity)

	adminToken := os.Getenv(envPrefix + "ADMIN_TOKEN")
	logger := observability.ServerLogger
	if adminToken == "" {
		if logger != nil {
			logger.Debug("Admin signal endpoint disabled (no " + envPrefix + "ADMIN_TOKEN set)")
		}
		return
	}

	handler := signals.NewHTTPHandler(signals.HTTPConfig{
		TokenAuth: adminToken,
		RateLimit: 10,
		RateBurst: 5,
	})
	s.router.Post("/admin/signal", handler.ServeHTTP)

	if logger != nil {
		logger.Info("Admin signal endpoint enabled",
			zap.String("path", "/admin/signal"),
			zap.String("rate_limit", "10/min, burst 5"))
	}
}

package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/faucetdb/keygate/internal/connector"
	"github.com/faucetdb/keygate/internal/handler"
	"github.com/faucetdb/keygate/internal/monitor"
	"github.com/faucetdb/keygate/internal/ratelimit"
	"github.com/faucetdb/keygate/internal/server/middleware"
	"github.com/faucetdb/keygate/internal/service"
	"github.com/faucetdb/keygate/internal/telemetry"
)

// Config holds the HTTP server configuration.
type Config struct {
	Host               string
	Port               int
	ShutdownTimeout    time.Duration
	CORSOrigins        []string
	LoginRatePerMinute int
	PublicURL          string // server URL advertised in /openapi.json
	Version            string
}

// DefaultConfig returns a Config with production defaults.
func DefaultConfig() Config {
	return Config{
		Host:               "0.0.0.0",
		Port:               8080,
		ShutdownTimeout:    30 * time.Second,
		CORSOrigins:        []string{"*"},
		LoginRatePerMinute: 20,
		Version:            "dev",
	}
}

// Deps are the services the router dispatches to.
type Deps struct {
	Accounts    *service.AccountService
	Credentials *service.CredentialService
	Ledger      *service.Ledger
	Limiter     *ratelimit.Limiter
	Connector   *connector.Connector
	Monitor     *monitor.Service
	Metrics     *telemetry.Metrics
	Logger      *slog.Logger
}

// Server is keygate's HTTP front end: management API, monitoring and the
// credential-brokered proxy, all behind the request interceptor.
type Server struct {
	cfg        Config
	deps       Deps
	router     chi.Router
	httpServer *http.Server
	logger     *slog.Logger
}

// New creates a Server with every route wired.
func New(cfg Config, deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if cfg.LoginRatePerMinute <= 0 {
		cfg.LoginRatePerMinute = DefaultConfig().LoginRatePerMinute
	}
	s := &Server{
		cfg:    cfg,
		deps:   deps,
		logger: deps.Logger,
	}
	s.setupRouter()
	return s
}

func (s *Server) setupRouter() {
	r := chi.NewRouter()

	interceptor := middleware.NewInterceptor(middleware.InterceptorConfig{
		KnownService: func(name string) bool {
			_, ok := s.deps.Connector.Registry().Lookup(name)
			return ok
		},
		Logger:  s.logger,
		Metrics: s.deps.Metrics,
	}, s.deps.Credentials, s.deps.Limiter, s.deps.Ledger)

	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(s.logger))
	r.Use(chimw.Recoverer)
	r.Use(chimw.RealIP)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", middleware.DefaultAPIKeyHeader, "X-Requested-With"},
		ExposedHeaders:   []string{"X-Request-ID", "X-RateLimit-Limit", "X-RateLimit-Remaining", "Retry-After"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(chimw.Compress(5))
	r.Use(interceptor.Handler)

	monitorHandler := handler.NewMonitorHandler(s.deps.Monitor)
	accountHandler := handler.NewAccountHandler(s.deps.Accounts)
	keyHandler := handler.NewKeyHandler(s.deps.Credentials)
	proxyHandler := handler.NewProxyHandler(s.deps.Credentials, s.deps.Connector, s.logger)
	registry := s.deps.Connector.Registry()

	r.Get("/healthz", handleHealthz)
	r.Get("/health", monitorHandler.Health)
	if s.deps.Metrics != nil {
		r.Handle("/metrics", s.deps.Metrics.Handler())
	}
	r.Get("/openapi.json", handler.NewOpenAPIHandler(registry, s.cfg.PublicURL, s.cfg.Version).ServeSpec)

	r.Route("/api", func(r chi.Router) {
		r.With(middleware.LoginThrottle(s.cfg.LoginRatePerMinute)).Post("/token", accountHandler.Token)
		r.Post("/users", accountHandler.Register)
		r.Get("/catalog", handler.Catalog(registry))

		// Bearer-token management routes.
		r.Group(func(r chi.Router) {
			r.Use(middleware.Authenticate(s.deps.Accounts))

			r.Get("/users/me", accountHandler.Me)
			r.Put("/users/me", accountHandler.UpdateMe)
			r.With(middleware.RequireSuperuser).Get("/users", accountHandler.ListUsers)
			r.With(middleware.RequireSuperuser).Get("/users/{userId}", accountHandler.GetUser)

			r.Post("/keys", keyHandler.Create)
			r.Get("/keys", keyHandler.List)
			r.Get("/keys/{keyId}", keyHandler.Get)
			r.Put("/keys/{keyId}", keyHandler.Update)
			r.Delete("/keys/{keyId}", keyHandler.Delete)
			r.Get("/keys/{keyId}/usage", keyHandler.Usage)

			r.Route("/monitor", func(r chi.Router) {
				r.With(middleware.RequireSuperuser).Get("/usage", monitorHandler.Usage)
				r.With(middleware.RequireSuperuser).Get("/errors", monitorHandler.Errors)
				r.Get("/rate-limits/{credentialId}", monitorHandler.RateLimit)
			})
		})

		// Access-key routes; the interceptor has already admitted the
		// credential.
		r.HandleFunc("/{service}/*", proxyHandler.Forward)
	})

	s.router = r
}

// handleHealthz is a liveness check. See /health for readiness.
func handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ok"}`))
}

// ListenAndServe serves until ctx is cancelled, then drains in-flight
// requests within the shutdown timeout.
func (s *Server) ListenAndServe(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server starting", "addr", addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server listen: %w", err)
	case <-ctx.Done():
		s.logger.Info("shutdown signal received, draining connections...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	s.logger.Info("server stopped")
	return nil
}

// Router returns the underlying chi router.
func (s *Server) Router() chi.Router {
	return s.router
}

// ServeHTTP implements http.Handler, delegating to the router.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

package api

import (
	"context"
	"crypto/tls"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/org/keyproxy/internal/audit"
	"github.com/org/keyproxy/internal/rotation"
	"github.com/org/keyproxy/internal/router"
	"github.com/org/keyproxy/internal/session"
	"github.com/org/keyproxy/internal/storage"
	"github.com/org/keyproxy/internal/vault"
	"github.com/org/keyproxy/pkg/models"
	"github.com/rs/zerolog/log"
)

// Config holds server configuration.
type Config struct {
	ListenAddr     string
	TLSCertFile    string
	TLSKeyFile     string
	DBUrl          string
	MigrationsDir  string
	SessionTTL     time.Duration
	WebhookTimeout time.Duration
}

// AuditLogger is the interface the server needs from an audit logger.
type AuditLogger interface {
	LogRequest(ctx context.Context, entry *models.AuditEntry)
}

// Server is the API server.
type Server struct {
	store    storage.StorageBackend
	sessions *session.Manager
	vault    *vault.Service
	engine   *rotation.Engine
	proxy    *router.Router
	auditor  AuditLogger
	cfg      Config
	httpSrv  *http.Server
}

// NewServer creates a fully wired Server.
func NewServer(store storage.StorageBackend, cfg Config) *Server {
	sessions := session.NewManager(cfg.SessionTTL)
	vaultSvc := vault.NewService(store, sessions)
	notifier := rotation.NewWebhookNotifier(cfg.WebhookTimeout)
	engine := rotation.NewEngine(store, vaultSvc.Chain(), notifier)
	vaultSvc.SetRotator(engine)

	return &Server{
		store:    store,
		sessions: sessions,
		vault:    vaultSvc,
		engine:   engine,
		proxy:    router.New(vaultSvc, router.DefaultProviders()),
		auditor:  audit.NewLogger(store),
		cfg:      cfg,
	}
}

// Sessions exposes the session manager (for the scheduler's expiry sweep).
func (s *Server) Sessions() *session.Manager { return s.sessions }

// Engine exposes the rotation engine (for the in-process scheduler).
func (s *Server) Engine() *rotation.Engine { return s.engine }

// BuildRouter wires up all routes and returns a chi router.
func (s *Server) BuildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.Recoverer)
	r.Use(requestIDMiddleware)
	r.Use(ownerMiddleware)
	r.Use(metricsMiddleware)
	r.Use(newRateLimiter(100, 200).middleware)
	r.Use(auditMiddleware(s.auditor))

	// Prometheus metrics (unauthenticated)
	r.Handle("/metrics", MetricsHandler())

	r.Get("/v1/sys/health", s.HealthHandler)

	r.Post("/v1/session/unlock", s.UnlockHandler)
	r.Post("/v1/session/logout", s.LogoutHandler)

	r.Post("/v1/vault/keys", s.ProvisionHandler)
	r.Get("/v1/vault/keys", s.ListKeysHandler)
	r.Get("/v1/vault/keys/{proxyID}/status", s.StatusHandler)
	r.Post("/v1/vault/keys/{proxyID}/resolve", s.ResolveHandler)
	r.Delete("/v1/vault/keys/{proxyID}", s.RevokeHandler)

	r.Post("/v1/rotation/sweep", s.SweepHandler)

	// Forwarding path: any method, any subpath.
	r.Handle("/proxy/*", s.proxy)

	return r
}

// Start begins listening on the configured address.
func (s *Server) Start() error {
	handler := s.BuildRouter()

	s.httpSrv = &http.Server{
		Addr:         s.cfg.ListenAddr,
		Handler:      handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	if s.cfg.TLSCertFile != "" && s.cfg.TLSKeyFile != "" {
		tlsCfg := &tls.Config{
			MinVersion: tls.VersionTLS12,
			CurvePreferences: []tls.CurveID{
				tls.CurveP256,
				tls.X25519,
			},
		}
		s.httpSrv.TLSConfig = tlsCfg
		log.Info().Str("addr", s.cfg.ListenAddr).Msg("starting HTTPS server")
		return s.httpSrv.ListenAndServeTLS(s.cfg.TLSCertFile, s.cfg.TLSKeyFile)
	}

	log.Info().Str("addr", s.cfg.ListenAddr).Msg("starting HTTP server")
	return s.httpSrv.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}

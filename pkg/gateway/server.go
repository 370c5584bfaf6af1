// Package gateway hosts the wharf control plane: an authenticated
// HTTP+WebSocket API for creating jobs and shells in registered projects
// and streaming their output.
package gateway

import (
	"context"
	stdliberrors "errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/wharfdev/wharf/pkg/config"
	"github.com/wharfdev/wharf/pkg/jobs"
	"github.com/wharfdev/wharf/pkg/project"
	"github.com/wharfdev/wharf/pkg/shells"
	"github.com/wharfdev/wharf/pkg/storage"
)

// Server hosts the gateway HTTP+WebSocket API.
type Server struct {
	cfg      config.GatewayConfig
	version  string
	store    *storage.Store
	registry *project.Registry
	jobs     *jobs.Manager
	shells   *shells.Manager
	logger   *log.Logger

	jobStreamLimiter *connLimiter
	shellConnLimiter *connLimiter
	createLimiter    *rateLimiter

	httpServer *http.Server
	listenAddr chan string
}

// NewServer constructs a gateway bound to the provided stores and
// managers.
func NewServer(cfg config.GatewayConfig, version string, store *storage.Store, registry *project.Registry, jobMgr *jobs.Manager, shellMgr *shells.Manager) *Server {
	if cfg.Bind == "" {
		cfg.Bind = config.DefaultGatewayBind
	}
	if len(cfg.AllowedOrigins) == 0 {
		cfg.AllowedOrigins = []string{"http://localhost", "http://127.0.0.1"}
	}
	return &Server{
		cfg:              cfg,
		version:          version,
		store:            store,
		registry:         registry,
		jobs:             jobMgr,
		shells:           shellMgr,
		logger:           log.New(os.Stdout, "[gateway] ", log.LstdFlags),
		jobStreamLimiter: newConnLimiter(maxJobStreamClients),
		shellConnLimiter: newConnLimiter(maxShellClients),
		createLimiter:    newRateLimiter(100 * time.Millisecond),
		listenAddr:       make(chan string, 1),
	}
}

// Start runs the HTTP server until the context is cancelled.
func (s *Server) Start(ctx context.Context) error {
	if err := s.validateStartupConfig(); err != nil {
		return err
	}

	s.httpServer = &http.Server{
		Handler:           s.handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       2 * time.Minute,
		MaxHeaderBytes:    1 << 20,
	}

	ln, err := net.Listen("tcp", s.cfg.Bind)
	if err != nil {
		return fmt.Errorf("gateway bind %s: %w", s.cfg.Bind, err)
	}
	s.listenAddr <- ln.Addr().String()

	serverErr := make(chan error, 1)
	go func() {
		s.logger.Printf("serving gateway on %s", ln.Addr())
		if err := s.httpServer.Serve(ln); err != nil && !stdliberrors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	case err := <-serverErr:
		return err
	}
}

// Addr reports the bound listen address once Start has bound its socket.
func (s *Server) Addr(ctx context.Context) (string, error) {
	select {
	case addr := <-s.listenAddr:
		s.listenAddr <- addr
		return addr, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// handler builds the route tree wrapped for cleartext HTTP/2, so
// WebSocket upgrades survive proxies that speak H2C (RFC 8441).
func (s *Server) handler() http.Handler {
	router := chi.NewRouter()
	router.Use(s.corsMiddleware)
	router.Use(s.securityHeadersMiddleware)

	// Pre-auth endpoints.
	router.Get("/status", s.handleStatus)
	router.Get("/metrics", s.handleMetrics)

	api := chi.NewRouter()
	api.Get("/projects", s.handleListProjects)
	api.Route("/projects/{project}", func(r chi.Router) {
		r.Post("/jobs", s.handleCreateJob)
		r.Get("/jobs/{jobID}", s.handleGetJob)
		r.Get("/jobs/{jobID}/stream", s.handleJobStream)
		r.Post("/shells", s.handleCreateShell)
		r.Get("/shells/{shellID}/stream", s.handleShellStream)
	})
	api.Route("/config", func(r chi.Router) {
		r.Get("/tokens", s.handleListTokens)
		r.Post("/tokens", s.handleCreateToken)
		r.Delete("/tokens/{tokenID}", s.handleRevokeToken)
		r.Get("/settings", s.handleGetSettings)
		r.Put("/settings/allow-writes", s.handleSetAllowWrites)
		r.Get("/audit-logs", s.handleListAuditLogs)
	})
	router.Group(func(r chi.Router) {
		r.Use(s.authMiddleware)
		r.Mount("/", api)
	})

	return h2c.NewHandler(router, &http2.Server{})
}

func (s *Server) validateStartupConfig() error {
	if s.store == nil {
		return fmt.Errorf("gateway requires a token store")
	}
	if !isLoopbackBindAddress(s.cfg.Bind) && !s.cfg.RequireToken {
		return fmt.Errorf("refusing to bind gateway to %q without authentication (set gateway.require_token: true)", s.cfg.Bind)
	}
	return nil
}

// allowWrites reads the global write gate. A persisted setting overrides
// the configured default.
func (s *Server) allowWrites() (bool, error) {
	raw, err := s.store.GetSetting(storage.SettingAllowWrites)
	if err != nil {
		return false, err
	}
	if raw == "" {
		return s.cfg.AllowWrites, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, nil
	}
	return v, nil
}

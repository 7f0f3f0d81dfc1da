package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/jackzampolin/guideshelf/internal/api"
	"github.com/jackzampolin/guideshelf/internal/config"
	"github.com/jackzampolin/guideshelf/internal/home"
	"github.com/jackzampolin/guideshelf/internal/providers"
	"github.com/jackzampolin/guideshelf/internal/server/endpoints"
	"github.com/jackzampolin/guideshelf/internal/svcctx"
)

// Server is the guideshelf HTTP server. It opens the database and blob
// store on start, runs the job coordinator, and closes them on shutdown.
type Server struct {
	httpServer *http.Server
	home       *home.Dir
	configMgr  *config.Manager
	registry   *providers.Registry
	llmClient  providers.LLMClient
	logger     *slog.Logger

	// services holds all core services for context enrichment
	services *svcctx.Services
	closers  []closer

	// endpoints registry for HTTP routes
	endpointRegistry *api.Registry

	mu      sync.RWMutex
	running bool
}

type closer struct {
	name string
	fn   func() error
}

// Config holds server configuration.
type Config struct {
	// Host is the address to bind to (default: server.host from config)
	Host string
	// Port is the port to listen on (default: server.port from config)
	Port string
	// Home locates the database, blobs and config file.
	Home *home.Dir
	// ConfigManager provides configuration with hot-reload support.
	// Defaults apply when nil.
	ConfigManager *config.Manager
	// LLMClient replaces the configured providers when set.
	LLMClient providers.LLMClient
	// Logger is the structured logger to use
	Logger *slog.Logger
}

// New creates a new Server with the given configuration.
func New(cfg Config) (*Server, error) {
	if cfg.Home == nil {
		return nil, errors.New("server: home directory is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	s := &Server{
		home:      cfg.Home,
		configMgr: cfg.ConfigManager,
		llmClient: cfg.LLMClient,
		registry:  providers.NewRegistry(),
		logger:    cfg.Logger,
	}
	s.registry.SetLogger(cfg.Logger)

	settings := s.config()
	if cfg.Host == "" {
		cfg.Host = settings.Server.Host
	}
	if cfg.Port == "" {
		cfg.Port = settings.Server.Port
	}

	s.endpointRegistry = endpoints.Registry()

	s.httpServer = &http.Server{
		Addr:         net.JoinHostPort(cfg.Host, cfg.Port),
		Handler:      s.routes(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return s, nil
}

// Start opens storage, starts the job coordinator and serves HTTP.
// It blocks until the context is cancelled or an error occurs.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return errors.New("server already running")
	}
	s.running = true
	s.mu.Unlock()

	if err := s.home.EnsureExists(); err != nil {
		s.setNotRunning()
		return err
	}

	if s.configMgr != nil {
		s.registry.Reload(ctx, s.configMgr.Get().ToProviderRegistryConfig())
		s.configMgr.OnChange(func(c *config.Config) {
			s.registry.Reload(context.Background(), c.ToProviderRegistryConfig())
			s.logger.Info("provider registry reloaded from config")
		})
	}

	services, err := s.initServices(ctx)
	if err != nil {
		s.closeAll()
		s.setNotRunning()
		return fmt.Errorf("failed to initialize services: %w", err)
	}
	s.mu.Lock()
	s.services = services
	s.mu.Unlock()

	// Start HTTP server in goroutine
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting HTTP server", "addr", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for context cancellation or error
	select {
	case <-ctx.Done():
		s.logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			_ = s.shutdown()
			return fmt.Errorf("HTTP server error: %w", err)
		}
	}

	return s.shutdown()
}

// shutdown stops HTTP first so no new jobs arrive, then the coordinator,
// then storage.
func (s *Server) shutdown() error {
	s.logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("HTTP server shutdown error", "error", err)
	}

	s.closeAll()
	s.setNotRunning()
	s.logger.Info("server stopped")
	return nil
}

// closeAll runs closers in reverse registration order.
func (s *Server) closeAll() {
	s.mu.Lock()
	closers := s.closers
	s.closers = nil
	s.services = nil
	s.mu.Unlock()

	for i := len(closers) - 1; i >= 0; i-- {
		if err := closers[i].fn(); err != nil {
			s.logger.Error("close error", "component", closers[i].name, "error", err)
		}
	}
}

func (s *Server) onClose(name string, fn func() error) {
	s.closers = append(s.closers, closer{name: name, fn: fn})
}

func (s *Server) setNotRunning() {
	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
}

// IsRunning returns whether the server is currently running.
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// Services returns the live services, or nil before Start completes.
func (s *Server) Services() *svcctx.Services {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.services
}

// Addr returns the server's listen address.
func (s *Server) Addr() string {
	return s.httpServer.Addr
}

// Registry returns the provider registry.
func (s *Server) Registry() *providers.Registry {
	return s.registry
}

func (s *Server) config() *config.Config {
	if s.configMgr != nil {
		return s.configMgr.Get()
	}
	return config.DefaultConfig()
}

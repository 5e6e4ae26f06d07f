package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"pkt.systems/pslog"
)

// HealthService is the gRPC health service name reported next to the
// overall ("") status.
const HealthService = "meshbroker.Node"

// ErrMissingSecret is returned when no signing secret is configured.
var ErrMissingSecret = errors.New("httpapi: secret key is required")

// Config holds server configuration
type Config struct {
	// Address is the admin HTTP listen address, e.g. ":8081".
	Address string

	// GRPCAddress is the gRPC health listen address. Empty disables it.
	GRPCAddress string

	// SecretKey signs and verifies admin tokens.
	SecretKey string

	// Gatherer backs /metrics. Nil uses the default registry.
	Gatherer prometheus.Gatherer

	// HealthInterval is how often the gRPC health status is refreshed.
	HealthInterval time.Duration

	Logger pslog.Logger
}

// SetDefaults sets reasonable default values for Config
func (c *Config) SetDefaults() {
	if c.Gatherer == nil {
		c.Gatherer = prometheus.DefaultGatherer
	}
	if c.HealthInterval == 0 {
		c.HealthInterval = 5 * time.Second
	}
	if c.Logger == nil {
		c.Logger = pslog.NoopLogger()
	}
}

// Server represents the admin HTTP API server and the gRPC health service
type Server struct {
	node       NodeView
	config     Config
	jwtAuth    *JWTAuth
	handlers   *Handlers
	middleware *Middleware
	logger     pslog.Logger

	http   *http.Server
	grpc   *grpc.Server
	health *health.Server

	mu      sync.Mutex
	httpLn  net.Listener
	grpcLn  net.Listener
	group   *errgroup.Group
	cancel  context.CancelFunc
	started bool
	stopped bool
}

// NewServer creates a new admin API server for node
func NewServer(node NodeView, config Config) (*Server, error) {
	config.SetDefaults()
	if config.SecretKey == "" {
		return nil, ErrMissingSecret
	}

	logger := config.Logger.With("sys", "httpapi")
	jwtAuth := NewJWTAuth(config.SecretKey)
	s := &Server{
		node:       node,
		config:     config,
		jwtAuth:    jwtAuth,
		handlers:   NewHandlers(node),
		middleware: NewMiddleware(jwtAuth, logger),
		logger:     logger,
		health:     health.NewServer(),
	}

	s.http = &http.Server{
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}
	s.grpc = grpc.NewServer()
	healthpb.RegisterHealthServer(s.grpc, s.health)
	return s, nil
}

// Routes returns the admin router
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.middleware.Logging)
	r.Use(s.middleware.Recovery)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, "Not found", http.StatusNotFound)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, "Method not allowed", http.StatusMethodNotAllowed)
	})

	r.Get("/", s.handleRoot)
	r.Handle("/metrics", promhttp.HandlerFor(s.config.Gatherer, promhttp.HandlerOpts{}))

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(s.middleware.ContentType)
		r.Get("/health", s.handlers.Health)

		r.Route("/admin", func(r chi.Router) {
			r.Use(s.middleware.AdminRequired)
			r.Get("/sessions", s.handlers.AdminListSessions)
			r.Get("/clients", s.handlers.AdminListClients)
			r.Get("/subscriptions", s.handlers.AdminListSubscriptions)
			r.Get("/stats", s.handlers.AdminGetStats)
			r.Get("/dump", s.handlers.AdminDump)
		})
	})
	return r
}

// Start binds the HTTP listener and, if configured, the gRPC health
// listener, then serves both until Stop.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return fmt.Errorf("cannot restart a stopped server")
	}
	if s.started {
		return nil
	}

	httpLn, err := net.Listen("tcp", s.config.Address)
	if err != nil {
		return fmt.Errorf("admin listener: %w", err)
	}
	var grpcLn net.Listener
	if s.config.GRPCAddress != "" {
		grpcLn, err = net.Listen("tcp", s.config.GRPCAddress)
		if err != nil {
			_ = httpLn.Close()
			return fmt.Errorf("grpc listener: %w", err)
		}
	}
	s.httpLn, s.grpcLn = httpLn, grpcLn

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.cancel = cancel
	s.refreshHealth(runCtx)

	group, _ := errgroup.WithContext(runCtx)
	group.Go(func() error {
		if err := s.http.Serve(httpLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("admin server: %w", err)
		}
		return nil
	})
	if grpcLn != nil {
		group.Go(func() error {
			if err := s.grpc.Serve(grpcLn); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
				return fmt.Errorf("grpc server: %w", err)
			}
			return nil
		})
	}
	group.Go(func() error {
		s.watchHealth(runCtx)
		return nil
	})
	s.group = group
	s.started = true

	s.logger.Info("httpapi.started", "address", httpLn.Addr().String(), "grpc_address", s.GRPCAddr())
	return nil
}

// Stop gracefully stops both servers. A stopped server cannot be restarted.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = false
	s.stopped = true
	s.mu.Unlock()

	s.health.Shutdown()
	err := s.http.Shutdown(ctx)
	if s.grpcLn != nil {
		s.grpc.GracefulStop()
	}
	s.cancel()
	if waitErr := s.group.Wait(); waitErr != nil && err == nil {
		err = waitErr
	}
	s.logger.Info("httpapi.stopped")
	return err
}

// Addr returns the bound admin HTTP address
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.httpLn == nil {
		return ""
	}
	return s.httpLn.Addr().String()
}

// GRPCAddr returns the bound gRPC health address, if any
func (s *Server) GRPCAddr() string {
	if s.grpcLn == nil {
		return ""
	}
	return s.grpcLn.Addr().String()
}

// Auth exposes the token signer, e.g. to mint tokens in tests
func (s *Server) Auth() *JWTAuth {
	return s.jwtAuth
}

func (s *Server) watchHealth(ctx context.Context) {
	ticker := time.NewTicker(s.config.HealthInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.refreshHealth(ctx)
		}
	}
}

// refreshHealth maps the node health onto the gRPC health service.
func (s *Server) refreshHealth(ctx context.Context) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if h, err := s.node.GetHealth(ctx); err == nil && h.Healthy {
		status = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(HealthService, status)
}

// handleRoot provides API information
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	info := map[string]interface{}{
		"service": "meshbroker admin API",
		"node":    s.node.ID(),
		"endpoints": map[string]interface{}{
			"admin": map[string]string{
				"sessions":      "GET /api/v1/admin/sessions",
				"clients":       "GET /api/v1/admin/clients",
				"subscriptions": "GET /api/v1/admin/subscriptions",
				"stats":         "GET /api/v1/admin/stats",
				"dump":          "GET /api/v1/admin/dump",
			},
			"health":  "GET /api/v1/health",
			"metrics": "GET /metrics",
		},
		"authentication": "Bearer JWT token with the admin claim required for /api/v1/admin",
	}
	writeJSON(w, info, http.StatusOK)
}

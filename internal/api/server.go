package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/nerrad567/gray-logic-mbus/internal/audit"
	"github.com/nerrad567/gray-logic-mbus/internal/auth"
	"github.com/nerrad567/gray-logic-mbus/internal/bridges/mbus"
	"github.com/nerrad567/gray-logic-mbus/internal/datasource"
	"github.com/nerrad567/gray-logic-mbus/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-mbus/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-mbus/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-mbus/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-mbus/internal/resource"
	"github.com/nerrad567/gray-logic-mbus/internal/workpool"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// PoolStats reports worker pool counters for the metrics endpoint.
type PoolStats interface {
	Stats() workpool.Stats
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config   config.APIConfig
	WS       config.WebSocketConfig
	Security config.SecurityConfig
	Logger   *logging.Logger

	Scans       *resource.Registry[mbus.ScanResult]
	Runner      *resource.Runner[mbus.ScanResult]
	Scanner     *mbus.Scanner
	DataSources *datasource.Registry
	Users       auth.UserRepository

	// Optional.
	DB        *database.DB
	MQTT      *mqtt.Client
	Audit     *audit.Writer
	AuditRepo audit.Repository
	Pool      PoolStats
	Gatherer  prometheus.Gatherer
	Hub       *Hub // If set, the server uses this hub instead of creating its own
	Version   string
}

// Server is the HTTP API server.
//
// It manages the HTTP listener, routes, middleware, and WebSocket hub.
// The server is created with New() and started with Start().
type Server struct {
	cfg         config.APIConfig
	wsCfg       config.WebSocketConfig
	secCfg      config.SecurityConfig
	logger      *logging.Logger
	scans       *resource.Registry[mbus.ScanResult]
	runner      *resource.Runner[mbus.ScanResult]
	scanner     *mbus.Scanner
	dataSources *datasource.Registry
	users       auth.UserRepository
	db          *database.DB
	mqtt        *mqtt.Client
	audit       *audit.Writer
	auditRepo   audit.Repository
	pool        PoolStats
	gatherer    prometheus.Gatherer
	version     string
	startTime   time.Time
	tickets     *ticketStore
	server      *http.Server
	hub         *Hub
	externalHub bool               // true if hub was injected externally
	cancel      context.CancelFunc // cancels background goroutines on Close()
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
//
// Parameters:
//   - deps: Required dependencies (logger, scan registry, runner, scanner,
//     data sources, users) and optional ones (database, MQTT, audit, pool)
//
// Returns:
//   - *Server: Configured server ready to start
//   - error: If required dependencies are missing
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Scans == nil || deps.Runner == nil || deps.Scanner == nil {
		return nil, fmt.Errorf("scan registry, runner and scanner are required")
	}
	if deps.DataSources == nil {
		return nil, fmt.Errorf("data source registry is required")
	}
	if deps.Users == nil {
		return nil, fmt.Errorf("user repository is required")
	}

	s := &Server{
		cfg:         deps.Config,
		wsCfg:       deps.WS,
		secCfg:      deps.Security,
		logger:      deps.Logger,
		scans:       deps.Scans,
		runner:      deps.Runner,
		scanner:     deps.Scanner,
		dataSources: deps.DataSources,
		users:       deps.Users,
		db:          deps.DB,
		mqtt:        deps.MQTT,
		audit:       deps.Audit,
		auditRepo:   deps.AuditRepo,
		pool:        deps.Pool,
		gatherer:    deps.Gatherer,
		version:     deps.Version,
		startTime:   time.Now(),
		tickets:     newTicketStore(),
	}

	// The hub is usually injected because the scan registry needs it as a
	// notifier before the server exists.
	if deps.Hub != nil {
		s.hub = deps.Hub
		s.externalHub = true
	} else {
		s.hub = NewHub(s.wsCfg, s.logger)
	}

	return s, nil
}

// Hub returns the WebSocket hub.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Start begins listening for HTTP connections.
//
// It starts the hub (unless injected), the ticket cleanup loop, and the
// HTTP listener in a background goroutine. The server can be stopped with
// Close().
//
// Parameters:
//   - ctx: Parent of the background goroutines' context
//
// Returns:
//   - error: If the server fails to start
func (s *Server) Start(ctx context.Context) error {
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	if !s.externalHub {
		go s.hub.Run(srvCtx)
	}

	go s.cleanTicketsLoop(srvCtx)

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	go func() {
		var err error
		if s.cfg.TLS.Enabled {
			s.logger.Info("API server starting with TLS",
				"address", s.server.Addr,
				"cert", s.cfg.TLS.CertFile,
			)
			err = s.server.ListenAndServeTLS(s.cfg.TLS.CertFile, s.cfg.TLS.KeyFile)
		} else {
			s.logger.Info("API server starting", "address", s.server.Addr)
			err = s.server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Close gracefully shuts down the API server.
//
// It waits up to 10 seconds for in-flight requests to complete,
// then forcefully closes remaining connections.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	if s.cancel != nil {
		s.cancel()
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck verifies the API server is running and responsive.
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}

	if s.server == nil {
		return fmt.Errorf("api server not started")
	}

	return nil
}

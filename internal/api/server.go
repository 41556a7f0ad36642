package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-resgraph/internal/audit"
	"github.com/nerrad567/gray-logic-resgraph/internal/auth"
	"github.com/nerrad567/gray-logic-resgraph/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-resgraph/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-resgraph/internal/infrastructure/metrics"
	"github.com/nerrad567/gray-logic-resgraph/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-resgraph/internal/pattern"
	"github.com/nerrad567/gray-logic-resgraph/internal/resource"
	"github.com/nerrad567/gray-logic-resgraph/internal/schema"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// SchemaReloader re-reads the type and pattern definition files.
// *schema.Watcher satisfies it.
type SchemaReloader interface {
	Reload() (schema.Result, error)
}

// HealthChecker reports whether a backing store is reachable.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config     config.APIConfig
	WS         config.WebSocketConfig
	Security   config.SecurityConfig
	MetricsCfg config.MetricsConfig
	Logger     *logging.Logger
	Graph      *resource.Graph
	Patterns   *pattern.Manager
	Gate       *auth.Gate       // optional: token roles are still enforced per route
	Audit      audit.Repository // optional
	Schema     SchemaReloader   // optional: POST /schema/reload is disabled without it
	Metrics    *metrics.Metrics // optional
	DB         HealthChecker    // optional
	MQTT       *mqtt.Client     // optional
	Version    string
}

// Server is the HTTP API server for the resource graph.
//
// It manages the HTTP listener, routes, middleware, and WebSocket hub.
// The server is created with New() and started with Start().
type Server struct {
	cfg        config.APIConfig
	wsCfg      config.WebSocketConfig
	secCfg     config.SecurityConfig
	metricsCfg config.MetricsConfig
	logger     *logging.Logger
	graph      *resource.Graph
	patterns   *pattern.Manager
	gate       *auth.Gate
	auditRepo  audit.Repository
	schema     SchemaReloader
	metrics    *metrics.Metrics
	db         HealthChecker
	mqtt       *mqtt.Client
	version    string
	startTime  time.Time

	server  *http.Server
	hub     *Hub
	tickets *ticketStore
	auditCh chan *audit.Entry
	cancel  context.CancelFunc // cancels background goroutines on Close()
	wg      sync.WaitGroup
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Graph == nil {
		return nil, fmt.Errorf("resource graph is required")
	}
	if deps.Patterns == nil {
		return nil, fmt.Errorf("pattern manager is required")
	}
	if deps.Security.JWT.Secret == "" {
		return nil, fmt.Errorf("jwt secret is required")
	}

	s := &Server{
		cfg:        deps.Config,
		wsCfg:      deps.WS,
		secCfg:     deps.Security,
		metricsCfg: deps.MetricsCfg,
		logger:     deps.Logger,
		graph:      deps.Graph,
		patterns:   deps.Patterns,
		gate:       deps.Gate,
		auditRepo:  deps.Audit,
		schema:     deps.Schema,
		metrics:    deps.Metrics,
		db:         deps.DB,
		mqtt:       deps.MQTT,
		version:    deps.Version,
		startTime:  time.Now(),
		tickets:    newTicketStore(),
	}
	s.hub = NewHub(s.wsCfg, s.logger, s.patterns)
	if s.auditRepo != nil {
		s.auditCh = make(chan *audit.Entry, auditChanSize)
	}
	return s, nil
}

// Start begins listening for HTTP connections.
//
// It starts the WebSocket hub, attaches the graph observer that feeds the
// hub, and launches the HTTP listener in a background goroutine. The
// server can be stopped with Close().
func (s *Server) Start(ctx context.Context) error {
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	s.startBackground(srvCtx)

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

// startBackground runs the hub, the ticket sweeper and the audit writer
// until ctx is cancelled.
func (s *Server) startBackground(ctx context.Context) {
	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		s.hub.Run(ctx, s.graph)
	}()
	go func() {
		defer s.wg.Done()
		s.cleanTicketsLoop(ctx)
	}()
	if s.auditCh != nil {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.drainAuditLog(ctx)
		}()
	}
}

// Close gracefully shuts down the API server.
//
// It waits up to 10 seconds for in-flight requests to complete,
// then forcefully closes remaining connections.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	err := s.server.Shutdown(ctx)

	// Stop the hub and flush pending audit entries after the last request.
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()

	if err != nil {
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

package api

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/nerrad567/benchline/internal/audit"
	"github.com/nerrad567/benchline/internal/board"
	"github.com/nerrad567/benchline/internal/history"
	"github.com/nerrad567/benchline/internal/infrastructure/config"
	"github.com/nerrad567/benchline/internal/infrastructure/logging"
	"github.com/nerrad567/benchline/internal/panel"
	"github.com/nerrad567/benchline/internal/sequence"
	"github.com/nerrad567/benchline/internal/telemetry"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// CycleController is the slice of the orchestrator the API drives.
// Satisfied by *sequence.Orchestrator.
type CycleController interface {
	StartCycle() (string, error)
	CancelCycle() error
	RetryBoard(row, col int) (string, error)
	Active() bool
	CurrentCycleID() string
	Stats() sequence.Stats
}

// BrokerStatus reports MQTT connectivity for the metrics endpoint.
// Satisfied by *mqtt.Client.
type BrokerStatus interface {
	IsConnected() bool
}

// TelemetryStats exposes the retained-status publisher's counters for
// the metrics endpoint. Satisfied by *telemetry.Publisher.
type TelemetryStats interface {
	Stats() telemetry.PublisherStats
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config  config.APIConfig
	WS      config.WebSocketConfig
	Logger  *logging.Logger
	Grid    *board.Grid
	Panels  *panel.Store
	Control CycleController
	History history.Repository

	// Optional dependencies. The server degrades gracefully when any
	// of these are nil.
	AuditRepo audit.Repository
	DB        *sql.DB
	Broker    BrokerStatus
	Telemetry TelemetryStats

	// OnPanelReload runs after a successful panel reload, outside the
	// grid lock. The station uses it to republish retained MQTT status.
	OnPanelReload func()

	Version string
}

// Server is the HTTP API server for the benchline station.
//
// It manages the HTTP listener, routes, middleware, and WebSocket hub.
// The server is created with New() and started with Start().
type Server struct {
	cfg           config.APIConfig
	wsCfg         config.WebSocketConfig
	logger        *logging.Logger
	grid          *board.Grid
	panels        *panel.Store
	control       CycleController
	history       history.Repository
	auditRepo     audit.Repository
	db            *sql.DB
	broker        BrokerStatus
	telemetry     TelemetryStats
	onPanelReload func()
	version       string
	startTime     time.Time
	server        *http.Server
	hub           *Hub
	auditCh       chan *audit.Entry  // nil when no audit repository is configured
	cancel        context.CancelFunc // cancels background goroutines on Close()
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Grid == nil {
		return nil, fmt.Errorf("board grid is required")
	}
	if deps.Panels == nil {
		return nil, fmt.Errorf("panel store is required")
	}
	if deps.Control == nil {
		return nil, fmt.Errorf("cycle controller is required")
	}
	if deps.History == nil {
		return nil, fmt.Errorf("history repository is required")
	}

	s := &Server{
		cfg:           deps.Config,
		wsCfg:         deps.WS,
		logger:        deps.Logger,
		grid:          deps.Grid,
		panels:        deps.Panels,
		control:       deps.Control,
		history:       deps.History,
		auditRepo:     deps.AuditRepo,
		db:            deps.DB,
		broker:        deps.Broker,
		telemetry:     deps.Telemetry,
		onPanelReload: deps.OnPanelReload,
		version:       deps.Version,
		startTime:     time.Now(),
	}

	if s.auditRepo != nil {
		s.auditCh = make(chan *audit.Entry, auditChanSize)
	}

	return s, nil
}

// Hub returns the server's WebSocket hub, creating it on first use.
// Callers that register the hub as an orchestrator notifier should do
// so before Start().
func (s *Server) Hub() *Hub {
	if s.hub == nil {
		s.hub = NewHub(s.wsCfg, s.logger)
	}
	return s.hub
}

// Start begins listening for HTTP connections.
//
// It starts the WebSocket hub and the audit drain goroutine, then
// launches the HTTP listener in the background. The server is stopped
// with Close().
func (s *Server) Start(ctx context.Context) error {
	// Create an internal context so Close() can stop background
	// goroutines independently of the parent context.
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	if s.hub == nil {
		s.hub = NewHub(s.wsCfg, s.logger)
	}
	go s.hub.Run(srvCtx)

	// Serialise audit writes onto one goroutine; SQLite prefers a
	// single writer.
	if s.auditCh != nil {
		go s.drainAuditLog(srvCtx)
	}

	router := s.buildRouter()

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           router,
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	go func() {
		s.logger.Info("API server starting", "address", s.server.Addr)
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
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

	// Cancel background goroutines (hub, audit drain)
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

package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/nerrad567/heatpump-link/internal/bridges/heatpump"
	"github.com/nerrad567/heatpump-link/internal/infrastructure/config"
	"github.com/nerrad567/heatpump-link/internal/infrastructure/logging"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// CycleSource provides the most recent poll cycle.
// *heatpump.Poller satisfies it.
type CycleSource interface {
	LastCycle() (heatpump.PollCycle, bool)
	CycleCount() int
}

// SessionStatser provides serial line statistics.
// *heatpump.Session satisfies it.
type SessionStatser interface {
	Stats() heatpump.SessionStats
}

// CycleNotifier delivers completed poll cycles as they happen.
// *heatpump.Poller satisfies it.
type CycleNotifier interface {
	OnCycle(fn func(heatpump.PollCycle))
}

// BrokerHealth reports MQTT connectivity.
// *mqtt.Client satisfies it.
type BrokerHealth interface {
	HealthCheck(ctx context.Context) error
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config  config.APIConfig
	Logger  *logging.Logger
	Poller  CycleSource
	Session SessionStatser
	MQTT    BrokerHealth // optional
	Metrics http.Handler // optional, served on /metrics
	Version string
}

// Server is the HTTP API server for heatpump-link.
//
// It manages the HTTP listener, routes, middleware, and websocket cycle stream.
// The server is created with New() and started with Start().
type Server struct {
	cfg       config.APIConfig
	logger    *logging.Logger
	poller    CycleSource
	session   SessionStatser
	mqtt      BrokerHealth
	metrics   http.Handler
	version   string
	startTime time.Time
	server    *http.Server
	stream    *cycleStream
	cancel    context.CancelFunc
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
//
// Returns:
//   - *Server: Configured server ready to start
//   - error: If required dependencies are missing
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Poller == nil {
		return nil, fmt.Errorf("poller is required")
	}
	if deps.Session == nil {
		return nil, fmt.Errorf("session is required")
	}

	return &Server{
		cfg:       deps.Config,
		logger:    deps.Logger,
		poller:    deps.Poller,
		session:   deps.Session,
		mqtt:      deps.MQTT,
		metrics:   deps.Metrics,
		version:   deps.Version,
		startTime: time.Now(),
		stream:    newCycleStream(deps.Config.WebSocket, deps.Logger),
	}, nil
}

// Start begins listening for HTTP connections in a background goroutine.
// If the poller reports completed cycles, they are relayed to WebSocket
// clients. The server can be stopped with Close().
func (s *Server) Start(ctx context.Context) error {
	streamCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	go s.stream.run(streamCtx)

	if n, ok := s.poller.(CycleNotifier); ok {
		n.OnCycle(s.broadcastCycle)
	}

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.buildRouter(),
		ReadTimeout:       s.cfg.ReadTimeout(),
		ReadHeaderTimeout: s.cfg.ReadTimeout(),
		WriteTimeout:      s.cfg.WriteTimeout(),
		IdleTimeout:       s.cfg.IdleTimeout(),
	}

	s.logger.Info("API server starting", "address", s.server.Addr)
	go func() {
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
	if s.cancel != nil {
		s.cancel()
	}
	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

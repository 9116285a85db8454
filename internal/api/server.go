package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/nerrad567/prism-core/internal/infrastructure/config"
	"github.com/nerrad567/prism-core/internal/infrastructure/logging"
	"github.com/nerrad567/prism-core/internal/realtime"
	"github.com/nerrad567/prism-core/internal/relay"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// ClientStats reports event client counters. *realtime.Client satisfies it.
type ClientStats interface {
	Stats() realtime.Stats
}

// SupervisorStats reports reconnect loop counters. *realtime.Supervisor
// satisfies it.
type SupervisorStats interface {
	Stats() realtime.SupervisorStats
}

// RelayStats reports MQTT relay counters. *relay.MQTTRelay satisfies it.
type RelayStats interface {
	Stats() relay.Stats
}

// BrokerStatus reports MQTT broker connectivity. *mqtt.Client satisfies it.
type BrokerStatus interface {
	IsConnected() bool
}

// Deps holds the dependencies required by the status server.
type Deps struct {
	Config        config.StatusConfig
	Logger        *logging.Logger
	Tracker       *realtime.StatusTracker
	Subscriptions *realtime.Subscriptions
	Client        ClientStats
	Supervisor    SupervisorStats
	Relay         RelayStats   // optional
	MQTT          BrokerStatus // optional
	Hub           *Hub         // optional; created by New when nil
	Version       string
}

// Server is the local status HTTP server.
//
// The server is created with New() and started with Start().
type Server struct {
	cfg        config.StatusConfig
	logger     *logging.Logger
	tracker    *realtime.StatusTracker
	subs       *realtime.Subscriptions
	client     ClientStats
	supervisor SupervisorStats
	relay      RelayStats
	mqtt       BrokerStatus
	hub        *Hub
	version    string
	startTime  time.Time
	server     *http.Server
	cancel     context.CancelFunc // cancels the hub on Close()
}

// New creates a new status server with the given dependencies.
//
// The server is not started until Start() is called.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if deps.Tracker == nil {
		return nil, errors.New("status tracker is required")
	}
	if deps.Subscriptions == nil {
		return nil, errors.New("subscriptions are required")
	}

	hub := deps.Hub
	if hub == nil {
		hub = NewHub(deps.Config.WebSocket, deps.Logger)
	}

	return &Server{
		cfg:        deps.Config,
		logger:     deps.Logger,
		tracker:    deps.Tracker,
		subs:       deps.Subscriptions,
		client:     deps.Client,
		supervisor: deps.Supervisor,
		relay:      deps.Relay,
		mqtt:       deps.MQTT,
		hub:        hub,
		version:    deps.Version,
		startTime:  time.Now(),
	}, nil
}

// Hub returns the WebSocket hub. Register it as an observer to stream
// hub events to local clients.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Handler returns the HTTP handler with all routes and middleware.
func (s *Server) Handler() http.Handler {
	return s.buildRouter()
}

// Start begins listening for HTTP connections in a background goroutine.
// The server can be stopped with Close().
func (s *Server) Start(ctx context.Context) error {
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)
	go s.hub.Run(srvCtx)

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.buildRouter(),
		ReadTimeout:       s.cfg.GetReadTimeout(),
		ReadHeaderTimeout: s.cfg.GetReadTimeout(),
		WriteTimeout:      s.cfg.GetWriteTimeout(),
		IdleTimeout:       s.cfg.GetIdleTimeout(),
	}

	go func() {
		s.logger.Info("status server starting", "address", s.server.Addr)
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("status server error", "error", err)
		}
	}()

	return nil
}

// Close gracefully shuts down the status server.
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

	s.logger.Info("status server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down status server: %w", err)
	}
	return nil
}

// HealthCheck verifies the status server is running.
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("status server health check: %w", ctx.Err())
	default:
	}

	if s.server == nil {
		return errors.New("status server not started")
	}

	return nil
}

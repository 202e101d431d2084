// Package web provides a monitoring dashboard for the speech handler
package web

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/websocket/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/teslashibe/go-robospeech/pkg/bus"
	"github.com/teslashibe/go-robospeech/pkg/hub"
	"github.com/teslashibe/go-robospeech/pkg/robot"
	"github.com/teslashibe/go-robospeech/pkg/speech"
	"github.com/teslashibe/go-robospeech/pkg/store"
)

// Event types sent on /ws/events.
const (
	EventState  = "state"
	EventResult = "result"
)

// DefaultModeTimeout bounds a /api/mode query.
const DefaultModeTimeout = 3 * time.Second

// StatusProvider reports speech handler statistics. *speech.Handler
// implements it.
type StatusProvider interface {
	Stats() speech.HandlerStats
}

// HistoryReader reads the speech history. *store.Store implements it.
type HistoryReader interface {
	Recent(ctx context.Context, limit int) ([]store.Utterance, error)
	Count(ctx context.Context) (int64, error)
}

// Option configures the server.
type Option func(*Server)

// WithStatus serves handler statistics on /api/status.
func WithStatus(p StatusProvider) Option {
	return func(s *Server) { s.status = p }
}

// WithModeChecker serves the robot mode on /api/mode.
func WithModeChecker(m robot.ModeChecker) Option {
	return func(s *Server) { s.mode = m }
}

// WithHistory serves /api/history.
func WithHistory(h HistoryReader) Option {
	return func(s *Server) { s.history = h }
}

// WithGatherer sets the metrics source for /metrics.
// The default is prometheus.DefaultGatherer.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(s *Server) { s.gatherer = g }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// Server is the web dashboard server
type Server struct {
	app      *fiber.App
	port     string
	logger   *slog.Logger
	started  time.Time
	gatherer prometheus.Gatherer

	status  StatusProvider
	mode    robot.ModeChecker
	history HistoryReader

	// Hub for websocket broadcast of bus events
	events *hub.Hub

	// Last state message, sent to new websocket clients
	stateMu   sync.RWMutex
	lastState []byte

	subsMu sync.Mutex
	subs   []bus.Subscription
}

// NewServer creates a new web dashboard server
func NewServer(port string, opts ...Option) *Server {
	s := &Server{
		port:     port,
		logger:   slog.Default(),
		started:  time.Now(),
		gatherer: prometheus.DefaultGatherer,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "web")
	s.events = hub.New("events", s.logger)

	app := fiber.New(fiber.Config{
		AppName:               "robospeech",
		DisableStartupMessage: true,
	})

	// CORS for local development
	app.Use(cors.New())

	// API routes
	api := app.Group("/api")
	api.Get("/status", s.handleStatus)
	api.Get("/mode", s.handleMode)
	api.Get("/history", s.handleHistory)

	app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))

	// WebSocket upgrade middleware
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/events", websocket.New(s.handleEventsWS))

	s.app = app
	return s
}

// AttachBus forwards speech state and result messages from client to
// websocket clients.
func (s *Server) AttachBus(client *bus.Client) error {
	topics := client.Topics()
	forward := map[string]string{
		topics.SpeechState():  EventState,
		topics.SpeechResult(): EventResult,
	}

	for topic, eventType := range forward {
		eventType := eventType // per-iteration copy (pre-Go 1.22 loop semantics)
		sub, err := client.Subscribe(topic, func(_ string, payload []byte) {
			if eventType == EventState {
				s.stateMu.Lock()
				s.lastState = payload
				s.stateMu.Unlock()
			}
			if err := s.events.BroadcastEvent(eventType, payload); err != nil {
				s.logger.Debug("dropping undecodable bus event", "type", eventType, "error", err)
			}
		})
		if err != nil {
			return fmt.Errorf("subscribe %s: %w", topic, err)
		}

		s.subsMu.Lock()
		s.subs = append(s.subs, sub)
		s.subsMu.Unlock()
	}
	return nil
}

// Start starts the web server and blocks until it stops
func (s *Server) Start() error {
	s.logger.Info("web dashboard", "url", "http://localhost:"+s.port)
	go s.events.Run()
	return s.app.Listen(":" + s.port)
}

// Serve is Start on an existing listener.
func (s *Server) Serve(ln net.Listener) error {
	s.logger.Info("web dashboard", "addr", ln.Addr().String())
	go s.events.Run()
	return s.app.Listener(ln)
}

// Run starts the server and shuts it down when ctx is done.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() { errCh <- s.Start() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return s.Shutdown()
	}
}

// Events returns the event hub for external use
func (s *Server) Events() *hub.Hub {
	return s.events
}

// Shutdown gracefully stops the web server
func (s *Server) Shutdown() error {
	s.subsMu.Lock()
	subs := s.subs
	s.subs = nil
	s.subsMu.Unlock()

	var errs []error
	for _, sub := range subs {
		if err := sub.Unsubscribe(); err != nil {
			errs = append(errs, err)
		}
	}
	s.events.Stop()
	errs = append(errs, s.app.Shutdown())
	return errors.Join(errs...)
}

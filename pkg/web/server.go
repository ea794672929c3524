// Package web serves the control surface for the voice companion: a JSON
// API over the orchestrator, live state over a websocket, and a websocket
// through which a browser performs speech recognition.
package web

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"sync"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/websocket/v2"

	"github.com/teslashibe/go-ruvo/internal/metrics"
	"github.com/teslashibe/go-ruvo/pkg/hub"
	"github.com/teslashibe/go-ruvo/pkg/keypool"
	"github.com/teslashibe/go-ruvo/pkg/speech"
	"github.com/teslashibe/go-ruvo/pkg/transcript"
	"github.com/teslashibe/go-ruvo/pkg/tts"
	"github.com/teslashibe/go-ruvo/pkg/voice"
)

// Config wires the server to the rest of the application. Only
// Orchestrator is required; routes for missing parts answer 404.
type Config struct {
	// Addr is the listen address, e.g. ":8080".
	Addr string

	// Static is an optional directory served at "/".
	Static string

	Orchestrator *voice.Orchestrator
	Keys         *keypool.Manager
	Voices       *tts.VoiceStore
	Transcripts  *transcript.Store
	Bridge       *speech.BridgeEngine
	Metrics      *metrics.Metrics

	// Preview speaks a voice sample. Optional.
	Preview func(ctx context.Context, text string) error

	Logger *slog.Logger
}

// Server is the web control server
type Server struct {
	app    *fiber.App
	cfg    Config
	logger *slog.Logger

	// stateHub fans orchestrator events out to /ws/state clients
	stateHub *hub.Hub

	// ctx bounds sessions started over the API
	ctx    context.Context
	cancel context.CancelFunc

	once sync.Once
}

// NewServer creates a new server
func NewServer(cfg Config) (*Server, error) {
	if cfg.Orchestrator == nil {
		return nil, errors.New("web: orchestrator required")
	}
	if cfg.Addr == "" {
		cfg.Addr = ":8080"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		cfg:      cfg,
		logger:   cfg.Logger.With("component", "web.server"),
		stateHub: hub.New("state", cfg.Logger),
		ctx:      ctx,
		cancel:   cancel,
	}

	app := fiber.New(fiber.Config{
		AppName:               "RUVO",
		DisableStartupMessage: true,
		ErrorHandler:          errorHandler,
	})

	// CORS for local development
	app.Use(cors.New())

	if cfg.Static != "" {
		app.Static("/", cfg.Static)
	}

	api := app.Group("/api")
	api.Get("/state", s.handleState)
	api.Get("/history", s.handleHistory)
	api.Post("/session/start", s.handleStart)
	api.Post("/session/stop", s.handleStop)
	api.Post("/session/finish", s.handleFinish)
	api.Post("/session/retry", s.handleRetry)
	api.Post("/session/mute", s.handleMute)
	api.Post("/input", s.handleInput)
	api.Get("/keys", s.handleKeys)
	api.Post("/keys/reset", s.handleKeysReset)
	api.Get("/voices", s.handleVoices)
	api.Put("/voice", s.handleSelectVoice)
	api.Get("/transcripts", s.handleListTranscripts)
	api.Get("/transcripts/:id", s.handleGetTranscript)
	api.Delete("/transcripts/:id", s.handleDeleteTranscript)

	if cfg.Metrics != nil {
		app.Get("/metrics", adaptor.HTTPHandler(cfg.Metrics.Handler()))
	}

	// WebSocket upgrade middleware
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})

	app.Get("/ws/state", websocket.New(s.handleStateWS))
	app.Get("/ws/recognition", websocket.New(s.handleRecognitionWS))

	s.app = app
	return s, nil
}

// App exposes the fiber app, mainly for tests.
func (s *Server) App() *fiber.App {
	return s.app
}

// Start listens on the configured address and blocks.
func (s *Server) Start() error {
	s.startBackground()
	s.logger.Info("web server listening", "addr", s.cfg.Addr)
	return s.app.Listen(s.cfg.Addr)
}

// Serve accepts connections on ln and blocks.
func (s *Server) Serve(ln net.Listener) error {
	s.startBackground()
	s.logger.Info("web server listening", "addr", ln.Addr().String())
	return s.app.Listener(ln)
}

// startBackground runs the state hub and relays orchestrator events to it.
func (s *Server) startBackground() {
	s.once.Do(func() {
		go s.stateHub.Run(s.ctx)

		events, unsubscribe := s.cfg.Orchestrator.Subscribe()
		go func() {
			defer unsubscribe()
			for {
				select {
				case <-s.ctx.Done():
					return
				case ev, ok := <-events:
					if !ok {
						return
					}
					if err := s.stateHub.BroadcastJSON(ev); err != nil {
						s.logger.Warn("event not encoded", "error", err)
					}
				}
			}
		}()
	})
}

// Shutdown stops sessions started over the API and the server.
func (s *Server) Shutdown() error {
	s.cancel()
	return s.app.Shutdown()
}

func errorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	var fe *fiber.Error
	if errors.As(err, &fe) {
		code = fe.Code
	}
	return c.Status(code).JSON(fiber.Map{"error": err.Error()})
}

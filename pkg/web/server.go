// Package web serves the generation endpoints and per-session pipelines over
// HTTP and WebSocket.
package web

import (
	"log/slog"

	"github.com/andrejsstepanovs/fairytale/pkg/ai"
	"github.com/andrejsstepanovs/fairytale/pkg/config"
	"github.com/andrejsstepanovs/fairytale/pkg/fallback"
	"github.com/andrejsstepanovs/fairytale/pkg/image"
	"github.com/andrejsstepanovs/fairytale/pkg/logging"
	"github.com/andrejsstepanovs/fairytale/pkg/pipeline"
	"github.com/andrejsstepanovs/fairytale/pkg/playback"
	"github.com/andrejsstepanovs/fairytale/pkg/story"
	"github.com/andrejsstepanovs/fairytale/pkg/tts"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"
	"github.com/gorilla/schema"
)

// Gateways are the provider gateways shared by every request and session.
type Gateways struct {
	Story  *ai.Gateway
	Images *image.Gateway
	Speech *tts.Gateway
}

type Server struct {
	app      *fiber.App
	cfg      config.Config
	gw       Gateways
	policy   fallback.Policy
	health   *fallback.HealthCache
	runner   *fallback.Runner
	audio    *pipeline.AudioStore
	sessions *Sessions
	decoder  *schema.Decoder
	clock    playback.Clock
	base     *slog.Logger
	logger   *slog.Logger
	access   bool
}

type Option func(*Server)

// WithPolicy overrides the fallback policy derived from the config.
func WithPolicy(p fallback.Policy) Option {
	return func(s *Server) { s.policy = p }
}

// WithClock sets the clock reading mode is scheduled on.
func WithClock(c playback.Clock) Option {
	return func(s *Server) { s.clock = c }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.base = l }
}

// WithoutAccessLog disables the per-request log line.
func WithoutAccessLog() Option {
	return func(s *Server) { s.access = false }
}

func NewServer(cfg config.Config, gw Gateways, opts ...Option) *Server {
	s := &Server{
		cfg:     cfg,
		gw:      gw,
		policy:  fallback.PolicyFromConfig(cfg),
		health:  fallback.NewHealthCache(cfg.HealthFailures),
		audio:   pipeline.NewAudioStore(),
		decoder: schema.NewDecoder(),
		clock:   playback.RealClock{},
		access:  true,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = logging.Or(s.base, "web.Server")
	s.decoder.IgnoreUnknownKeys(true)
	s.runner = fallback.NewRunner(s.policy, s.health, s.base)
	s.sessions = NewSessions(s.newOrchestrator)

	app := fiber.New(fiber.Config{
		AppName:               "Fairy Tale Generator",
		DisableStartupMessage: true,
	})
	app.Use(recover.New())
	app.Use(cors.New())
	if s.access {
		app.Use(logger.New())
	}

	api := app.Group("/api")
	api.Post("/story", s.handleStory)
	api.Post("/image", s.handleImage)
	api.Post("/speech", s.handleSpeech)
	api.Get("/status", s.handleStatus)
	api.Get("/schema", s.handleSchema)
	api.Get("/audio/:handle", s.handleAudio)

	api.Post("/sessions", s.handleCreateSession)
	sessions := api.Group("/sessions")
	sessions.Get("/:id", s.handleGetSession)
	sessions.Delete("/:id", s.handleDeleteSession)
	sessions.Post("/:id/submit", s.handleSubmit)
	sessions.Post("/:id/retry", s.sessionAction((*pipeline.Orchestrator).Retry))
	sessions.Post("/:id/reset", s.sessionAction((*pipeline.Orchestrator).Reset))
	sessions.Post("/:id/reading/start", s.sessionAction((*pipeline.Orchestrator).StartReading))
	sessions.Post("/:id/reading/stop", s.sessionAction((*pipeline.Orchestrator).StopReading))
	sessions.Post("/:id/reading/ended", s.sessionAction((*pipeline.Orchestrator).AudioEnded))
	sessions.Post("/:id/notices/dismiss", s.handleDismissNotice)

	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/sessions/:id", s.requireSession, websocket.New(s.handleSessionWS))

	if cfg.StaticDir != "" {
		app.Static("/", cfg.StaticDir)
	}

	s.app = app
	return s
}

func (s *Server) App() *fiber.App {
	return s.app
}

// Sessions exposes the session registry.
func (s *Server) Sessions() *Sessions {
	return s.sessions
}

func (s *Server) Listen() error {
	s.logger.Info("listening", "port", s.cfg.HTTPPort)
	return s.app.Listen(":" + s.cfg.HTTPPort)
}

// Shutdown closes every session and stops the HTTP server.
func (s *Server) Shutdown() error {
	s.sessions.CloseAll()
	return s.app.Shutdown()
}

func (s *Server) newOrchestrator() *pipeline.Orchestrator {
	voice, err := story.ParseVoice(s.cfg.TTSVoice)
	if err != nil {
		s.logger.Warn("invalid TTS_VOICE, using default", "voice", s.cfg.TTSVoice)
		voice = story.DefaultVoice
	}
	return pipeline.New(pipeline.Deps{
		Story:  s.gw.Story,
		Images: s.gw.Images,
		Speech: s.gw.Speech,
		Runner: fallback.NewRunner(s.policy, fallback.NewHealthCache(s.cfg.HealthFailures), s.base),
		Audio:  s.audio,
		Clock:  s.clock,
		Logger: s.base,
	}, pipeline.Options{
		Voice:             voice,
		ImageStageTimeout: s.cfg.ImageStageTimeout,
		RotationInterval:  s.cfg.RotationInterval,
		WordDuration:      s.cfg.WordDuration,
	})
}

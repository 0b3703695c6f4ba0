// Package web is the HTTP boundary: the viewer feeds, video upload,
// companion messages, settings and the live event websocket.
package web

import (
	"context"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"

	"github.com/teslashibe/go-pathguide/pkg/hub"
	"github.com/teslashibe/go-pathguide/pkg/narration"
	"github.com/teslashibe/go-pathguide/pkg/settings"
	"github.com/teslashibe/go-pathguide/pkg/speech"
	"github.com/teslashibe/go-pathguide/pkg/stream"
)

// AllowedExtensions lists accepted upload file extensions.
var AllowedExtensions = []string{"mp4", "avi", "mov", "mkv", "webm"}

// Runner replaces the active video session. *pipeline.Runner satisfies it.
type Runner interface {
	Start(path string, temporary bool)
	Current() string
}

// Prober checks that an uploaded file decodes. *video.Source satisfies it.
type Prober interface {
	Probe(path string) error
}

// Narrator speaks companion messages and voice tests.
// *narration.Dispatcher satisfies it.
type Narrator interface {
	SendManual(message string) (string, error)
	SpeakTest(rate speech.Rate, volume speech.Volume) error
	Live() *narration.LiveText
}

// Config configures the server.
type Config struct {
	Addr           string
	UploadDir      string
	MaxUploadBytes int64
	StaticDir      string
	TextInterval   time.Duration
	Logger         *slog.Logger
}

// Deps are the collaborators behind the routes.
type Deps struct {
	Runner   Runner
	Prober   Prober
	Narrator Narrator
	Settings *settings.Manager
	Frames   *stream.Multiplexer
	Events   *hub.Hub
}

// Server serves the guidance UI and API.
type Server struct {
	app    *fiber.App
	cfg    Config
	deps   Deps
	logger *slog.Logger

	// ctx ends every open stream on shutdown.
	ctx    context.Context
	cancel context.CancelFunc
}

// NewServer builds the fiber app and its routes.
func NewServer(cfg Config, deps Deps) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.TextInterval <= 0 {
		cfg.TextInterval = stream.TextPollInterval
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		cfg:    cfg,
		deps:   deps,
		logger: cfg.Logger.With("component", "web.server"),
		ctx:    ctx,
		cancel: cancel,
	}

	bodyLimit := fiber.DefaultBodyLimit
	if cfg.MaxUploadBytes > 0 {
		// Room for the multipart envelope around the file.
		bodyLimit = int(cfg.MaxUploadBytes) + 1<<20
	}

	app := fiber.New(fiber.Config{
		AppName:               "pathguide",
		DisableStartupMessage: true,
		BodyLimit:             bodyLimit,
	})
	app.Use(recover.New())
	app.Use(cors.New())

	// Viewer feeds
	app.Get("/video_feed", s.handleVideoFeed)
	app.Get("/stream_speech_text", s.handleSpeechText)

	// API
	app.Post("/upload_video", s.handleUpload)
	app.Post("/send_message", s.handleSendMessage)
	app.Get("/get_settings", s.handleGetSettings)
	app.Post("/update_settings", s.handleUpdateSettings)
	app.Post("/test_voice", s.handleTestVoice)
	app.Get("/health", s.handleHealth)

	// WebSocket upgrade middleware
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/events", websocket.New(s.handleEventsWS))

	if cfg.StaticDir != "" {
		app.Static("/", cfg.StaticDir)
	}

	s.app = app
	return s
}

// App exposes the fiber app, mainly for tests.
func (s *Server) App() *fiber.App {
	return s.app
}

// Start listens on the configured address. It blocks until Shutdown.
func (s *Server) Start() error {
	s.logger.Info("web server listening", "addr", s.cfg.Addr)
	return s.app.Listen(s.cfg.Addr)
}

// Shutdown ends open streams and stops the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	s.cancel()
	return s.app.ShutdownWithContext(ctx)
}

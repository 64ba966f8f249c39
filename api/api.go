package api

import (
	"errors"
	"log/slog"

	"github.com/gofiber/adaptor/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server is the API server for keepsake conversations.
type Server struct {
	config Config
	logger *slog.Logger
	app    *fiber.App
}

// NewServer creates a new API server. Collaborators are injected so they
// can be shared with other components in the same process.
func NewServer(c Config) (*Server, error) {
	if c.Orchestrator == nil {
		return nil, errors.New("orchestrator is required")
	}
	if c.Logger == nil {
		c.Logger = slog.New(slog.DiscardHandler)
	}

	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
	})

	s := &Server{
		config: c,
		logger: c.Logger,
		app:    app,
	}

	app.Get("/ping", s.handlePing)

	sessions := app.Group("/sessions")
	sessions.Get("/", s.handleListSessions)
	sessions.Get("/:user/:chat", s.handleLoad)
	sessions.Delete("/:user/:chat", s.handleDelete)
	sessions.Post("/:user/:chat/save", s.handleSave)
	sessions.Post("/:user/:chat/end", s.handleEnd)
	sessions.Post("/:user/:chat/retry", s.handleRetry)
	sessions.Get("/:user/:chat/jobs", s.handleJobs)
	if c.Exchange != nil {
		sessions.Post("/:user/:chat/messages", s.handleMessage)
	}

	app.Get("/recall", s.handleRecall)

	if c.Resolver != nil {
		app.Get("/attachments/:user", s.handleAttachment)
	}
	if c.Gatherer != nil {
		app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(c.Gatherer, promhttp.HandlerOpts{})))
	}
	if c.MCP != nil {
		app.All("/mcp", adaptor.HTTPHandler(c.MCP))
	}

	return s, nil
}

// Run starts the API server on the configured address.
func (s *Server) Run() error {
	s.logger.Info("starting API server",
		"listen", s.config.ListenAddr,
	)
	return s.app.Listen(s.config.ListenAddr)
}

// Shutdown gracefully shuts down the API server.
func (s *Server) Shutdown() error {
	return s.app.Shutdown()
}

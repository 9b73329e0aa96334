// Package web serves the palm scanner's command surface: start/stop
// endpoints, operational APIs, and the live status websocket.
package web

import (
	"context"
	"net"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"

	"github.com/teslashibe/go-palm/internal/log"
	"github.com/teslashibe/go-palm/pkg/capture"
	"github.com/teslashibe/go-palm/pkg/history"
	"github.com/teslashibe/go-palm/pkg/hub"
	"github.com/teslashibe/go-palm/pkg/probe"
)

// Sessions starts and stops scan sessions.
type Sessions interface {
	Start(mode capture.Mode, subjectID string) (capture.Session, error)
	Stop() bool
	Active() (capture.Session, bool)
	Last() (capture.Result, bool)
}

// Subjects lists and removes enrolled references.
type Subjects interface {
	List() ([]string, error)
	Delete(subjectID string) error
}

// History reads and prunes finished sessions.
type History interface {
	Recent(ctx context.Context, f history.Filter) ([]history.Entry, error)
	Counts(ctx context.Context) (map[string]int, error)
	DeleteSubject(ctx context.Context, subjectID string) (int64, error)
}

// CameraSettings exposes the runtime camera configuration.
type CameraSettings interface {
	GetConfigJSON() (map[string]any, error)
	UpdateConfig(params map[string]any) error
}

// Options wires the server to the rest of the daemon. Sessions and Status
// are required; the rest disable their routes when nil.
type Options struct {
	Sessions Sessions
	Status   *hub.Hub
	Subjects Subjects
	History  History
	Camera   CameraSettings
	Probe    *probe.Remote // Mounts /ws/probe and reports nodes in /health when set
	Debug    bool          // Access logging
}

// Server is the HTTP and websocket front end of palmd.
type Server struct {
	app  *fiber.App
	addr string
	opts Options
}

// NewServer creates a server listening on addr (":5000" style).
func NewServer(addr string, opts Options) *Server {
	s := &Server{addr: addr, opts: opts}

	app := fiber.New(fiber.Config{
		AppName:               "palmd",
		DisableStartupMessage: true,
		ErrorHandler:          errorHandler,
	})

	app.Use(recover.New())
	app.Use(cors.New())
	if opts.Debug {
		app.Use(logger.New())
	}

	// Command routes keep the paths existing clients post to
	app.Post("/start_register", s.handleStart(capture.Enroll))
	app.Post("/start_match", s.handleStart(capture.Verify))
	app.Post("/stop", s.handleStop)

	app.Get("/health", s.handleHealth)

	api := app.Group("/api")
	api.Get("/status", s.handleStatus)
	if opts.Subjects != nil {
		api.Get("/subjects", s.handleListSubjects)
		api.Delete("/subjects/:id", s.handleDeleteSubject)
	}
	if opts.History != nil {
		api.Get("/history", s.handleHistory)
	}
	if opts.Camera != nil {
		api.Get("/camera", s.handleGetCamera)
		api.Put("/camera", s.handleUpdateCamera)
	}

	// WebSocket upgrade middleware
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})

	app.Get("/ws/status", websocket.New(s.handleStatusWS))

	if opts.Probe != nil {
		opts.Probe.RegisterRoutes(app)
	}

	s.app = app
	return s
}

// App returns the underlying Fiber app.
func (s *Server) App() *fiber.App {
	return s.app
}

// Start listens on the configured address and blocks until shutdown.
func (s *Server) Start() error {
	log.Info("http server listening", "addr", s.addr)
	return s.app.Listen(s.addr)
}

// Listener serves on an existing listener and blocks until shutdown.
func (s *Server) Listener(ln net.Listener) error {
	log.Info("http server listening", "addr", ln.Addr().String())
	return s.app.Listener(ln)
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown() error {
	return s.app.Shutdown()
}

func errorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
	}
	if code >= fiber.StatusInternalServerError {
		log.Error("request failed", "method", c.Method(), "path", c.Path(), log.Err(err))
	}
	return c.Status(code).JSON(fiber.Map{"error": err.Error()})
}

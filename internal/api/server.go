// Package api exposes the reminder engine over HTTP: next-dose queries,
// taken/snooze acknowledgements, adherence stats, schedule management, and
// a WebSocket feed of doseDue/doseMissed events.
package api

import (
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/mpineda/dosewatch/internal/adherence"
	"github.com/mpineda/dosewatch/internal/config"
	"github.com/mpineda/dosewatch/internal/scheduler"
	"github.com/mpineda/dosewatch/internal/store"
)

// Server handles HTTP API and WebSocket
type Server struct {
	app        *fiber.App
	config     *config.Config
	store      *store.Store
	scheduler  *scheduler.Scheduler
	aggregator *adherence.Aggregator
	logger     *zap.Logger
	version    string
}

// New creates a new API server
func New(cfg *config.Config, st *store.Store, sched *scheduler.Scheduler, agg *adherence.Aggregator, logger *zap.Logger, version string) *Server {
	app := fiber.New(fiber.Config{
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		IdleTimeout:  120 * time.Second,
	})

	s := &Server{
		app:        app,
		config:     cfg,
		store:      st,
		scheduler:  sched,
		aggregator: agg,
		logger:     logger,
		version:    version,
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.app.Use(recover.New())
	s.app.Use(logger.New(logger.Config{
		Format: "[${time}] ${status} - ${latency} ${method} ${path}\n",
	}))
	s.app.Use(cors.New(cors.Config{
		AllowOrigins: strings.Join(s.config.Security.AllowOrigins, ","),
		AllowHeaders: "Origin, Content-Type, Accept, Authorization",
		AllowMethods: "GET, POST, PUT, DELETE, OPTIONS",
	}))

	s.app.Get("/api/health", s.handleHealth)
	s.app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	api := s.app.Group("/api")

	api.Post("/auth/login", s.handleLogin)

	protected := api.Use(s.authMiddleware())

	protected.Get("/medications", s.handleListMedications)
	protected.Post("/medications", s.handleCreateMedication)
	protected.Get("/medications/:id", s.handleGetMedication)
	protected.Delete("/medications/:id", s.handleDeleteMedication)

	protected.Get("/medications/:id/schedules", s.handleListSchedules)
	protected.Post("/medications/:id/schedules", s.handleCreateSchedule)
	protected.Delete("/schedules/:id", s.handleDeleteSchedule)

	protected.Get("/medications/:id/next-dose", s.handleNextDose)
	protected.Post("/medications/:id/taken", s.handleMarkTaken)
	protected.Post("/medications/:id/snooze", s.handleSnooze)
	protected.Post("/medications/:id/skip", s.handleSkip)
	protected.Get("/medications/:id/adherence", s.handleAdherence)

	s.app.Get("/ws/events", s.authMiddleware(), websocket.New(s.handleEventStream))
}

// Start begins listening
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Server.Address, s.config.Server.Port)
	s.logger.Info("Starting API server", zap.String("addr", addr))
	return s.app.Listen(addr)
}

// Shutdown gracefully stops the server
func (s *Server) Shutdown() error {
	return s.app.Shutdown()
}

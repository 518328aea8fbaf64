package api

import (
	"context"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/gmsas95/careclock-cli/internal/dose"
)

func (s *Server) setupRoutes() {
	s.app.Use(recover.New())
	s.app.Use(logger.New(logger.Config{
		Format: "[${time}] ${status} - ${latency} ${method} ${path}\n",
		Next: func(c *fiber.Ctx) bool {
			return c.Path() == "/metrics"
		},
	}))
	s.app.Use(cors.New(cors.Config{
		AllowOrigins: strings.Join(s.config.Server.AllowOrigins, ","),
		AllowHeaders: "Origin, Content-Type, Accept, Authorization",
		AllowMethods: "GET, POST, PATCH, OPTIONS",
	}))

	s.app.Get("/api/health", s.handleHealth)
	s.app.Get("/metrics", adaptor.HTTPHandler(s.metrics.Handler()))

	api := s.app.Group("/api", s.authMiddleware())

	api.Get("/metrics", s.handleMetricsJSON)

	api.Get("/doses", s.handleListDoses)
	api.Get("/doses/:doseId", s.handleGetDose)
	api.Post("/doses/:doseId/taken", s.handleMarkTaken)

	api.Post("/medications", s.handleCreateMedication)
	api.Patch("/medications/:id", s.handleUpdateMedication)

	api.Get("/alerts", s.handleListAlerts)
	api.Get("/history", s.handleTakenHistory)

	s.app.Use("/ws", s.authMiddleware(), func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	s.app.Get("/ws", websocket.New(s.handleWebSocket))

	s.app.Get("/", func(c *fiber.Ctx) error {
		c.Type("html", "utf-8")
		return c.SendString(`<!DOCTYPE html>
<html>
<head><title>careclock</title></head>
<body style="font-family: sans-serif; max-width: 800px; margin: 50px auto; padding: 20px;">
<h1>⏰ careclock</h1>
<p>The dashboard API is available under <code>/api</code>.</p>
<p>Classified doses: <code>GET /api/doses</code>. Live updates: <code>/ws</code>.</p>
</body>
</html>`)
	})
}

func (s *Server) Start() error {
	return s.app.Listen(s.config.ListenAddr())
}

func (s *Server) Shutdown() error {
	s.hub.closeAll()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.app.ShutdownWithContext(ctx)
}

// RunRefresh re-classifies the dose list for websocket clients every interval until ctx
// is done. Nothing is fetched while no client is connected.
func (s *Server) RunRefresh(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if s.hub.count() == 0 {
				continue
			}
			doses, _, err := s.loadDoses(ctx)
			if err != nil {
				s.logger.Warn("Dashboard refresh failed", zap.Error(err))
				continue
			}
			s.hub.broadcast(s.classify(doses))
		}
	}
}

// Broadcast pushes groups to every connected websocket client
func (s *Server) Broadcast(groups []dose.GroupView) int {
	return s.hub.broadcast(groups)
}

package server

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"facilitator/internal/capture"
	"facilitator/internal/chainadapter"
	"facilitator/internal/config"
	"facilitator/internal/db"
	"facilitator/internal/handlers"
	"facilitator/internal/middleware"
	"facilitator/internal/reclaim"
	"facilitator/internal/router"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/logger"
	"github.com/gofiber/fiber/v3/middleware/recover"
)

// Server wires the facilitator's HTTP surface (§6): /verify and /settle
// for resource servers, /supported for capability discovery, /capture for
// the batch capture scheduler, and /payer/* for payer-initiated session
// management and reclaim.
type Server struct {
	app       *fiber.App
	config    *config.Config
	db        *db.DB
	scheduler *capture.Scheduler
}

// Deps bundles the wiring cmd/facilitator/main.go assembles (chain clients,
// escrow/token clients, the session engine and everything built on top of
// it) so Server itself stays a thin HTTP layer over them.
type Deps struct {
	DB           *db.DB
	Router       *router.Router
	Scheduler    *capture.Scheduler
	Orchestrator *reclaim.Orchestrator
	Wallet       chainadapter.OperatorWallet
}

// New creates a new server instance.
func New(cfg *config.Config, deps Deps) (*Server, error) {
	if deps.DB == nil {
		return nil, fmt.Errorf("server: db is required")
	}

	app := fiber.New(fiber.Config{
		AppName:      "x402 Facilitator",
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		ErrorHandler: errorHandler,
	})

	s := &Server{
		app:       app,
		config:    cfg,
		db:        deps.DB,
		scheduler: deps.Scheduler,
	}

	s.setupMiddleware()
	s.setupRoutes(deps)

	return s, nil
}

// setupMiddleware configures all middleware applied ahead of routing.
func (s *Server) setupMiddleware() {
	s.app.Use(recover.New())
	s.app.Use(middleware.RequestID())
	s.app.Use(middleware.SecurityHeaders())

	s.app.Use(logger.New(logger.Config{
		Format: "[${time}] ${status} - ${method} ${path} ${latency}\n",
	}))

	s.app.Use(cors.New(cors.Config{
		AllowOrigins:     s.config.Dashboard.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", "X-Request-ID"},
		ExposeHeaders:    []string{"X-Payer-Token", "X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	rateLimit := middleware.NewRateLimitMiddleware(&s.config.RateLimit)
	s.app.Use(rateLimit.Middleware())
}

// setupRoutes mounts every handler, each with the middleware chain its
// operation requires.
func (s *Server) setupRoutes(deps Deps) {
	apiKeyAuth := middleware.NewAPIKeyMiddleware(s.db)
	payerAuth := middleware.NewPayerAuthMiddleware(&s.config.Auth)
	rateLimit := middleware.NewRateLimitMiddleware(&s.config.RateLimit)
	cronAuth := middleware.CronAuth(s.config.CronSecret)

	handlers.NewHealthHandler(s.db, s.config).RegisterRoutes(s.app)
	handlers.NewDocsHandler().RegisterRoutes(s.app)
	handlers.NewSupportedHandler(s.config).RegisterRoutes(s.app)

	handlers.NewVerifyHandler(deps.Router).RegisterRoutes(s.app, apiKeyAuth.Authenticate())
	handlers.NewSettleHandler(deps.Router, payerAuth).RegisterRoutes(s.app, apiKeyAuth.Authenticate())

	if deps.Scheduler != nil {
		handlers.NewCaptureHandler(deps.Scheduler).RegisterRoutes(s.app, cronAuth)
	}

	if deps.Orchestrator != nil {
		handlers.NewPayerHandler(s.db, deps.Orchestrator, s.config).
			RegisterRoutes(s.app, payerAuth.Authenticate(), rateLimit.ReclaimLimiter())
	}

	s.app.Use(func(c fiber.Ctx) error {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error":   "not_found",
			"message": "the requested endpoint does not exist",
			"path":    c.Path(),
		})
	})
}

// Start starts the HTTP server and, if a scheduler is wired, a background
// capture sweep ticker. Start blocks until the listener stops or ctx is
// cancelled.
func (s *Server) Start(ctx context.Context) error {
	if s.scheduler != nil {
		go s.runCaptureLoop(ctx)
	}

	addr := fmt.Sprintf(":%s", s.config.Server.Port)
	slog.Info("starting facilitator server", "addr", addr)
	return s.app.Listen(addr)
}

// runCaptureLoop sweeps every configured network for tier-1/tier-2 capture
// candidates on a fixed interval, independent of any external cron caller
// hitting POST /capture.
func (s *Server) runCaptureLoop(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			report, err := s.scheduler.Run(ctx)
			if err != nil {
				slog.Error("capture sweep failed", "error", err)
				continue
			}
			for _, n := range report.Networks {
				if n.Candidates == 0 {
					continue
				}
				slog.Info("capture sweep", "network", n.NetworkID, "tier", n.Tier,
					"candidates", n.Candidates, "captured", n.Captured, "failed", n.Failed)
			}
		}
	}
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	slog.Info("shutting down server")
	s.db.Close()
	return s.app.ShutdownWithContext(ctx)
}

// errorHandler handles errors that escape every handler's own
// apierrors.Respond call (panics recovered by recover.New, fiber routing
// errors, and the like).
func errorHandler(c fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "internal server error"

	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
		message = e.Message
	}

	slog.Error("unhandled request error", "error", err, "path", c.Path())

	return c.Status(code).JSON(fiber.Map{
		"error":      message,
		"status":     code,
		"timestamp":  time.Now().Unix(),
		"request_id": c.Locals("request_id"),
	})
}

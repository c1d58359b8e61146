package handlers

import (
	"context"
	"time"

	"facilitator/internal/config"
	"facilitator/internal/db"

	"github.com/gofiber/fiber/v3"
)

// Version is the application version, set at build time via ldflags.
var Version = "dev"

// HealthHandler handles health check endpoints
type HealthHandler struct {
	db     *db.DB
	config *config.Config
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(database *db.DB, cfg *config.Config) *HealthHandler {
	return &HealthHandler{
		db:     database,
		config: cfg,
	}
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string            `json:"status"`
	Version   string            `json:"version"`
	Services  map[string]string `json:"services"`
	Timestamp int64             `json:"timestamp"`
}

// RegisterRoutes registers health check routes
func (h *HealthHandler) RegisterRoutes(app *fiber.App) {
	app.Get("/health", h.Health)
	app.Get("/health/live", h.Liveness)
	app.Get("/health/ready", h.Readiness)
}

// Health returns the full health status
// @Summary Health check
// @Description Returns the health status of the API and its dependencies
// @Tags health
// @Produce json
// @Success 200 {object} HealthResponse
// @Router /health [get]
func (h *HealthHandler) Health(c fiber.Ctx) error {
	services := make(map[string]string)
	overallStatus := "healthy"

	dbStatus := h.checkDatabase()
	services["database"] = dbStatus
	if dbStatus != "up" {
		overallStatus = "degraded"
	}

	if networksStatus := h.checkNetworks(); networksStatus != "up" {
		overallStatus = "degraded"
		services["networks"] = networksStatus
	} else {
		services["networks"] = "up"
	}

	services["api"] = "up"

	return c.JSON(HealthResponse{
		Status:    overallStatus,
		Version:   Version,
		Services:  services,
		Timestamp: time.Now().Unix(),
	})
}

// Liveness returns liveness probe status
// @Summary Liveness probe
// @Description Kubernetes liveness probe endpoint
// @Tags health
// @Produce json
// @Success 200 {object} map[string]string
// @Router /health/live [get]
func (h *HealthHandler) Liveness(c fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status": "alive",
	})
}

// Readiness returns readiness probe status
// @Summary Readiness probe
// @Description Kubernetes readiness probe endpoint
// @Tags health
// @Produce json
// @Success 200 {object} map[string]string
// @Success 503 {object} map[string]string
// @Router /health/ready [get]
func (h *HealthHandler) Readiness(c fiber.Ctx) error {
	if dbStatus := h.checkDatabase(); dbStatus != "up" {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"status":   "not_ready",
			"reason":   "database_unavailable",
			"database": dbStatus,
		})
	}

	// In production, readiness requires at least one active network (§4.1);
	// without one, /verify and /settle cannot serve any payload. The
	// operator wallet is not checked here.
	if h.config != nil && h.config.IsProduction() {
		if networksStatus := h.checkNetworks(); networksStatus != "up" {
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
				"status":   "not_ready",
				"reason":   "no_active_networks",
				"networks": networksStatus,
			})
		}
	}

	return c.JSON(fiber.Map{
		"status": "ready",
	})
}

// checkDatabase verifies database connectivity
func (h *HealthHandler) checkDatabase() string {
	if h.db == nil {
		return "not_configured"
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	if err := h.db.Ping(ctx); err != nil {
		return "down"
	}
	return "up"
}

// checkNetworks reports whether at least one active network is configured.
// Unlike the teacher's external facilitator reachability probe, this is a
// pure config check: the facilitator IS the chain's entry point here, so
// there is no upstream facilitator to poll.
func (h *HealthHandler) checkNetworks() string {
	if h.config == nil {
		return "not_configured"
	}
	for _, n := range h.config.Networks {
		if n.Active {
			return "up"
		}
	}
	return "not_configured"
}

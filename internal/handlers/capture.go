package handlers

import (
	"github.com/gofiber/fiber/v3"

	"facilitator/internal/apierrors"
	"facilitator/internal/capture"
)

// CaptureHandler triggers the tier-1/tier-2 batch capture scheduler
// on-demand (§4.6), for operators who prefer an external cron caller over
// the background ticker internal/server also runs.
type CaptureHandler struct {
	scheduler *capture.Scheduler
}

// NewCaptureHandler creates a new capture handler.
func NewCaptureHandler(scheduler *capture.Scheduler) *CaptureHandler {
	return &CaptureHandler{scheduler: scheduler}
}

// RegisterRoutes registers the /capture route, guarded by cronAuth since
// this triggers on-chain writes without payer involvement.
func (h *CaptureHandler) RegisterRoutes(app *fiber.App, cronAuth fiber.Handler) {
	app.Post("/capture", cronAuth, h.Capture)
}

// Capture handles POST /capture.
// @Summary Trigger the batch capture scheduler
// @Description Runs a tier-1 and tier-2 capture sweep across every configured network
// @Tags capture
// @Produce json
// @Success 200 {object} capture.Report
// @Router /capture [post]
func (h *CaptureHandler) Capture(c fiber.Ctx) error {
	report, err := h.scheduler.Run(c.Context())
	if err != nil {
		return apierrors.Respond(c, apierrors.New(apierrors.CodeInternalError, err.Error()))
	}
	return c.JSON(report)
}

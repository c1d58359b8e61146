package handlers

import (
	"github.com/gofiber/fiber/v3"

	"facilitator/internal/config"
)

// SupportedHandler advertises the payment kinds this facilitator can verify
// and settle, so a resource server can build paymentRequirements without
// hard-coding which networks and schemes an operator has provisioned.
type SupportedHandler struct {
	cfg *config.Config
}

// NewSupportedHandler creates a new supported handler.
func NewSupportedHandler(cfg *config.Config) *SupportedHandler {
	return &SupportedHandler{cfg: cfg}
}

// RegisterRoutes registers the /supported route. Unauthenticated: it is
// read-only operator-provisioned metadata, not a payment operation.
func (h *SupportedHandler) RegisterRoutes(app *fiber.App) {
	app.Get("/supported", h.Supported)
}

// Kind is one supported (scheme, network) pair plus the asset it settles.
type Kind struct {
	X402Version int    `json:"x402Version"`
	Scheme      string `json:"scheme"`
	Network     string `json:"network"`
	Asset       string `json:"asset"`
}

// SupportedResponse is /supported's response body.
type SupportedResponse struct {
	Kinds []Kind `json:"kinds"`
}

// Supported handles GET /supported.
// @Summary List supported payment kinds
// @Description Lists the scheme/network/asset combinations this facilitator can verify and settle
// @Tags payments
// @Produce json
// @Success 200 {object} SupportedResponse
// @Router /supported [get]
func (h *SupportedHandler) Supported(c fiber.Ctx) error {
	resp := SupportedResponse{}
	for _, n := range h.cfg.Networks {
		if !n.Active {
			continue
		}
		resp.Kinds = append(resp.Kinds,
			Kind{X402Version: 1, Scheme: "exact", Network: n.ID, Asset: n.TokenAddress},
			Kind{X402Version: 1, Scheme: "escrow", Network: n.ID, Asset: n.TokenAddress},
		)
	}
	return c.JSON(resp)
}

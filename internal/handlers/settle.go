package handlers

import (
	"github.com/gofiber/fiber/v3"

	"facilitator/internal/apierrors"
	"facilitator/internal/middleware"
	"facilitator/internal/router"
)

// SettleHandler exposes the Scheme Router's Settle path over HTTP (§6): a
// resource server calls /settle once a payload has been verified, to submit
// the on-chain transaction and, for escrow payloads, open or debit a
// session.
type SettleHandler struct {
	router    *router.Router
	payerAuth *middleware.PayerAuthMiddleware
}

// NewSettleHandler creates a new settle handler. payerAuth mints the bearer
// token a payer uses on /payer/* routes once settle confirms their address
// against a signed authorization.
func NewSettleHandler(r *router.Router, payerAuth *middleware.PayerAuthMiddleware) *SettleHandler {
	return &SettleHandler{router: r, payerAuth: payerAuth}
}

// RegisterRoutes registers the /settle route.
func (h *SettleHandler) RegisterRoutes(app *fiber.App, auth fiber.Handler) {
	app.Post("/settle", auth, h.Settle)
}

// Settle handles POST /settle.
// @Summary Settle a payment payload
// @Description Submits the on-chain transaction for a verified x402 payment payload
// @Tags payments
// @Accept json
// @Produce json
// @Success 200 {object} router.SettleResult
// @Header 200 {string} X-Payer-Token "Bearer token scoping /payer/* calls to this payer"
// @Router /settle [post]
func (h *SettleHandler) Settle(c fiber.Ctx) error {
	var req router.Request
	if err := c.Bind().Body(&req); err != nil {
		return apierrors.Respond(c, apierrors.New(apierrors.CodeInvalidRequest, "malformed request body"))
	}

	caller, err := callerFromLocals(c)
	if err != nil {
		return apierrors.Respond(c, err)
	}

	result, err := h.router.Settle(c.Context(), req, caller)
	if err != nil {
		return apierrors.Respond(c, err)
	}

	if result.Success && result.Payer != "" && h.payerAuth != nil {
		if token, _, tokenErr := h.payerAuth.IssueToken(result.Payer); tokenErr == nil {
			c.Set("X-Payer-Token", token)
		}
	}

	return c.JSON(result)
}

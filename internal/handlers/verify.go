package handlers

import (
	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"

	"facilitator/internal/apierrors"
	"facilitator/internal/router"
)

// VerifyHandler exposes the Scheme Router's Verify path over HTTP (§6): a
// resource server calls /verify before serving a resource, to check a
// payload without writing a session or submitting a transaction.
type VerifyHandler struct {
	router *router.Router
}

// NewVerifyHandler creates a new verify handler.
func NewVerifyHandler(r *router.Router) *VerifyHandler {
	return &VerifyHandler{router: r}
}

// RegisterRoutes registers the /verify route. auth is the API-key
// middleware; every call must be attributed to an authenticated user_id,
// since escrow-creation payloads need a UserID to stamp onto the session.
func (h *VerifyHandler) RegisterRoutes(app *fiber.App, auth fiber.Handler) {
	app.Post("/verify", auth, h.Verify)
}

// Verify handles POST /verify.
// @Summary Verify a payment payload
// @Description Checks an x402 payment payload against its requirements without submitting a transaction
// @Tags payments
// @Accept json
// @Produce json
// @Success 200 {object} router.VerifyResult
// @Router /verify [post]
func (h *VerifyHandler) Verify(c fiber.Ctx) error {
	var req router.Request
	if err := c.Bind().Body(&req); err != nil {
		return apierrors.Respond(c, apierrors.New(apierrors.CodeInvalidRequest, "malformed request body"))
	}

	caller, err := callerFromLocals(c)
	if err != nil {
		return apierrors.Respond(c, err)
	}

	result, err := h.router.Verify(c.Context(), req, caller)
	if err != nil {
		return apierrors.Respond(c, err)
	}
	return c.JSON(result)
}

// callerFromLocals builds a router.CallerContext from the API-key
// middleware's c.Locals("user_id").
func callerFromLocals(c fiber.Ctx) (router.CallerContext, error) {
	raw, ok := c.Locals("user_id").(string)
	if !ok || raw == "" {
		return router.CallerContext{}, apierrors.New(apierrors.CodeUnauthorized, "missing authenticated user")
	}
	userID, err := uuid.Parse(raw)
	if err != nil {
		return router.CallerContext{}, apierrors.New(apierrors.CodeUnauthorized, "invalid authenticated user")
	}
	return router.CallerContext{UserID: userID}, nil
}

package handlers

import (
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"

	"facilitator/internal/apierrors"
	"facilitator/internal/atomicunits"
	"facilitator/internal/config"
	"facilitator/internal/db"
	"facilitator/internal/reclaim"
)

// PayerHandler exposes the payer-facing session-management surface (§4.7):
// listing a payer's own sessions, inspecting one, and reclaiming balance
// back either one session at a time or across every network at once.
// Every route is guarded by PayerAuthMiddleware, so payerAddress always
// comes from a bearer token minted by a prior /settle call, never a
// request body field a caller could spoof.
type PayerHandler struct {
	store        db.Database
	orchestrator *reclaim.Orchestrator
	cfg          *config.Config
}

// NewPayerHandler creates a new payer handler.
func NewPayerHandler(store db.Database, orchestrator *reclaim.Orchestrator, cfg *config.Config) *PayerHandler {
	return &PayerHandler{store: store, orchestrator: orchestrator, cfg: cfg}
}

// RegisterRoutes registers the /payer/* routes. auth sets c.Locals
// ("payer_address"); reclaimLimit further restricts the two reclaim routes.
func (h *PayerHandler) RegisterRoutes(app *fiber.App, auth, reclaimLimit fiber.Handler) {
	group := app.Group("/payer", auth)
	group.Get("/sessions", h.ListSessions)
	group.Get("/sessions/:id", h.GetSession)
	group.Post("/sessions/:id/reclaim", reclaimLimit, h.ReclaimSession)
	group.Post("/sessions/reclaim-all", reclaimLimit, h.ReclaimAll)
	group.Get("/stats", h.Stats)
}

func payerAddress(c fiber.Ctx) (string, error) {
	addr, ok := c.Locals("payer_address").(string)
	if !ok || addr == "" {
		return "", apierrors.New(apierrors.CodeUnauthorized, "missing authenticated payer")
	}
	return addr, nil
}

// SessionView is the payer-facing projection of a db.Session.
type SessionView struct {
	ID                  string     `json:"id"`
	NetworkID           string     `json:"network_id"`
	ReceiverAddress     string     `json:"receiver_address"`
	Status              string     `json:"status"`
	Balance             db.Balance `json:"balance"`
	AuthorizationExpiry string     `json:"authorization_expiry"`
	RefundExpiry        string     `json:"refund_expiry"`
}

func toSessionView(s *db.Session) SessionView {
	return SessionView{
		ID:                  s.SessionID,
		NetworkID:           s.NetworkID,
		ReceiverAddress:     s.ReceiverAddress,
		Status:              string(s.Status),
		Balance:             s.Balance(),
		AuthorizationExpiry: s.AuthorizationExpiry.Format("2006-01-02T15:04:05Z07:00"),
		RefundExpiry:        s.RefundExpiry.Format("2006-01-02T15:04:05Z07:00"),
	}
}

// ListSessions handles GET /payer/sessions.
// @Summary List the authenticated payer's sessions
// @Description Lists escrow sessions opened by the authenticated payer, optionally scoped to one network
// @Tags payer
// @Produce json
// @Success 200 {array} SessionView
// @Router /payer/sessions [get]
func (h *PayerHandler) ListSessions(c fiber.Ctx) error {
	payer, err := payerAddress(c)
	if err != nil {
		return apierrors.Respond(c, err)
	}

	limit := queryInt(c, "limit", 50)
	offset := queryInt(c, "offset", 0)
	networkID := c.Query("network")

	var sessions []*db.Session
	if networkID != "" {
		sessions, err = h.store.ListSessionsByPayer(c.Context(), payer, networkID, limit, offset)
		if err != nil {
			return apierrors.Respond(c, apierrors.New(apierrors.CodeDBError, err.Error()))
		}
	} else {
		for _, n := range h.cfg.Networks {
			if !n.Active {
				continue
			}
			networkSessions, err := h.store.ListSessionsByPayer(c.Context(), payer, n.ID, limit, offset)
			if err != nil {
				return apierrors.Respond(c, apierrors.New(apierrors.CodeDBError, err.Error()))
			}
			sessions = append(sessions, networkSessions...)
		}
	}

	views := make([]SessionView, len(sessions))
	for i, s := range sessions {
		views[i] = toSessionView(s)
	}
	return c.JSON(views)
}

// GetSession handles GET /payer/sessions/:id.
// @Summary Get one of the authenticated payer's sessions
// @Description Returns a session's ledger balance; usage logs and capture tx hashes are not included
// @Tags payer
// @Produce json
// @Success 200 {object} SessionView
// @Router /payer/sessions/{id} [get]
func (h *PayerHandler) GetSession(c fiber.Ctx) error {
	payer, err := payerAddress(c)
	if err != nil {
		return apierrors.Respond(c, err)
	}

	s, err := h.loadOwnedSession(c, payer)
	if err != nil {
		return apierrors.Respond(c, err)
	}
	return c.JSON(toSessionView(s))
}

// loadOwnedSession resolves the :id path param and checks it belongs to payer.
func (h *PayerHandler) loadOwnedSession(c fiber.Ctx, payer string) (*db.Session, error) {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return nil, apierrors.New(apierrors.CodeInvalidRequest, "invalid session id")
	}
	s, err := h.store.GetSessionByID(c.Context(), id)
	if err != nil {
		if err == db.ErrSessionNotFound {
			return nil, apierrors.New(apierrors.CodeSessionNotFound, "session not found")
		}
		return nil, apierrors.New(apierrors.CodeDBError, err.Error())
	}
	if !strings.EqualFold(s.PayerAddress, payer) {
		return nil, apierrors.New(apierrors.CodeUnauthorized, "session does not belong to the authenticated payer")
	}
	return s, nil
}

// ReclaimSession handles POST /payer/sessions/:id/reclaim.
// @Summary Reclaim a single session
// @Description Captures any pending usage and voids the session, releasing the remaining balance back to the payer
// @Tags payer
// @Produce json
// @Success 200 {object} SessionView
// @Router /payer/sessions/{id}/reclaim [post]
func (h *PayerHandler) ReclaimSession(c fiber.Ctx) error {
	payer, err := payerAddress(c)
	if err != nil {
		return apierrors.Respond(c, err)
	}
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return apierrors.Respond(c, apierrors.New(apierrors.CodeInvalidRequest, "invalid session id"))
	}

	result, err := h.orchestrator.Reclaim(c.Context(), id, payer)
	if err != nil {
		return apierrors.Respond(c, err)
	}
	return c.JSON(fiber.Map{
		"session":         toSessionView(result.Session),
		"captured":        result.Captured,
		"capture_tx_hash": result.CaptureTxHash,
		"void_tx_hash":    result.VoidTxHash,
	})
}

// ReclaimAll handles POST /payer/sessions/reclaim-all.
// @Summary Reclaim every active session
// @Description Reclaims every active session the payer holds, batched per network; one network's failure does not block another's
// @Tags payer
// @Produce json
// @Success 200 {object} reclaim.AllResult
// @Router /payer/sessions/reclaim-all [post]
func (h *PayerHandler) ReclaimAll(c fiber.Ctx) error {
	payer, err := payerAddress(c)
	if err != nil {
		return apierrors.Respond(c, err)
	}

	result, err := h.orchestrator.ReclaimAll(c.Context(), payer)
	if err != nil {
		return apierrors.Respond(c, apierrors.New(apierrors.CodeInternalError, err.Error()))
	}
	return c.JSON(result)
}

// StatsResponse summarizes a payer's position across every configured
// network.
type StatsResponse struct {
	Networks []NetworkStats `json:"networks"`
}

// NetworkStats is one network's share of a payer's aggregate balances.
type NetworkStats struct {
	NetworkID      string `json:"network_id"`
	ActiveSessions int    `json:"active_sessions"`
	Captured       string `json:"captured"`
	Pending        string `json:"pending"`
	Available      string `json:"available"`
}

// Stats handles GET /payer/stats.
// @Summary Summarize the payer's balances across every network
// @Tags payer
// @Produce json
// @Success 200 {object} StatsResponse
// @Router /payer/stats [get]
func (h *PayerHandler) Stats(c fiber.Ctx) error {
	payer, err := payerAddress(c)
	if err != nil {
		return apierrors.Respond(c, err)
	}

	resp := StatsResponse{}
	for _, n := range h.cfg.Networks {
		if !n.Active {
			continue
		}
		sessions, err := h.store.ListSessionsByPayer(c.Context(), payer, n.ID, 500, 0)
		if err != nil {
			return apierrors.Respond(c, apierrors.New(apierrors.CodeDBError, err.Error()))
		}
		if len(sessions) == 0 {
			continue
		}

		stats := NetworkStats{NetworkID: n.ID}
		captured, pending, available := atomicunits.Zero, atomicunits.Zero, atomicunits.Zero
		for _, s := range sessions {
			if s.Status == db.SessionStatusActive {
				stats.ActiveSessions++
			}
			bal := s.Balance()
			captured = atomicunits.Add(captured, bal.Captured)
			pending = atomicunits.Add(pending, bal.Pending)
			available = atomicunits.Add(available, bal.Available)
		}
		stats.Captured = captured.String()
		stats.Pending = pending.String()
		stats.Available = available.String()
		resp.Networks = append(resp.Networks, stats)
	}
	return c.JSON(resp)
}

func queryInt(c fiber.Ctx, key string, def int) int {
	v := c.Query(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

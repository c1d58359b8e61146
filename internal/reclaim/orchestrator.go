// Package reclaim implements the reclaim orchestrator (§4.7): letting a
// payer void a single session, or every active session they hold across
// every network, back before its authorizationExpiry forfeits whatever
// balance remains unclaimed. Single-session reclaim delegates straight to
// the session engine's Void, which already knows how to capture pending
// usage before releasing the rest. Reclaim-all additionally batches that
// work per network via Multicall3 so reclaiming many sessions costs one
// transaction per network rather than one per session.
package reclaim

import (
	"context"
	"fmt"
	"time"

	"facilitator/internal/chainadapter"
	"facilitator/internal/config"
	"facilitator/internal/db"
	"facilitator/internal/session"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

// SingleTimeout bounds a single-session reclaim end to end.
const SingleTimeout = 90 * time.Second

// BatchTimeout bounds a reclaim-all run across every network.
const BatchTimeout = 180 * time.Second

// NetworkOutcome reports one network's share of a reclaim-all run.
type NetworkOutcome struct {
	NetworkID  string            `json:"network_id"`
	TxHash     string            `json:"tx_hash,omitempty"`
	Reclaimed  []string          `json:"reclaimed_session_ids"`
	Failed     map[string]string `json:"failed_sessions,omitempty"`
}

// AllResult is the outcome of a reclaim-all run: every network is attempted
// independently, so one network's failure never blocks another's (§4.7
// partial-failure policy).
type AllResult struct {
	Networks []NetworkOutcome `json:"networks"`
}

// Orchestrator drives both reclaim paths.
type Orchestrator struct {
	store  db.Database
	escrow *chainadapter.EscrowClient
	wallet chainadapter.OperatorWallet
	engine *session.Engine
	cfg    *config.Config
}

// New constructs an Orchestrator. engine is reused for the single-session
// path (it already implements capture-then-void); escrow/wallet back the
// batched multicall path reclaim-all uses.
func New(store db.Database, escrow *chainadapter.EscrowClient, wallet chainadapter.OperatorWallet, engine *session.Engine, cfg *config.Config) *Orchestrator {
	return &Orchestrator{store: store, escrow: escrow, wallet: wallet, engine: engine, cfg: cfg}
}

// Reclaim voids a single session on the authenticated payer's behalf.
func (o *Orchestrator) Reclaim(ctx context.Context, sessionID uuid.UUID, payerAddress string) (*session.VoidResult, error) {
	ctx, cancel := context.WithTimeout(ctx, SingleTimeout)
	defer cancel()
	return o.engine.Void(ctx, sessionID, payerAddress)
}

// ReclaimAll voids every active session the payer holds, grouped and
// batched per network. A network with no sessions to reclaim is omitted
// from the result entirely.
func (o *Orchestrator) ReclaimAll(ctx context.Context, payerAddress string) (*AllResult, error) {
	ctx, cancel := context.WithTimeout(ctx, BatchTimeout)
	defer cancel()

	result := &AllResult{}
	for _, n := range o.cfg.Networks {
		if !n.Active {
			continue
		}
		sessions, err := o.store.ListSessionsByPayer(ctx, payerAddress, n.ID, 500, 0)
		if err != nil {
			return nil, fmt.Errorf("reclaim: failed to list sessions on %s: %w", n.ID, err)
		}
		active := make([]*db.Session, 0, len(sessions))
		for _, s := range sessions {
			if s.Status == db.SessionStatusActive {
				active = append(active, s)
			}
		}
		if len(active) == 0 {
			continue
		}
		result.Networks = append(result.Networks, o.reclaimNetwork(ctx, n, active, payerAddress))
	}
	return result, nil
}

// sessionCalls indexes the aggregated calls built for one session, so
// per-call Multicall3 results can be mapped back after submission.
type sessionCalls struct {
	session        *db.Session
	captureCallIdx int
	voidCallIdx    int
}

func (o *Orchestrator) reclaimNetwork(ctx context.Context, n config.NetworkConfig, sessions []*db.Session, payerAddress string) NetworkOutcome {
	out := NetworkOutcome{NetworkID: n.ID, Failed: map[string]string{}}

	multicall3 := common.Address{}
	if n.Multicall3Address != "" {
		multicall3 = common.HexToAddress(n.Multicall3Address)
	}

	if multicall3 == (common.Address{}) || len(sessions) == 1 {
		for _, s := range sessions {
			if _, err := o.engine.Void(ctx, s.ID, payerAddress); err != nil {
				out.Failed[s.SessionID] = err.Error()
				continue
			}
			out.Reclaimed = append(out.Reclaimed, s.SessionID)
		}
		return out
	}

	escrowAddress := common.HexToAddress(n.EscrowAddress)
	network := chainadapter.Network{ID: n.ID, ChainID: n.ChainID, RPCURL: n.RPCURL, EscrowAddress: escrowAddress, Confirmations: 1}

	var calls []chainadapter.MulticallCall
	meta := make([]sessionCalls, 0, len(sessions))
	for _, s := range sessions {
		info := session.PaymentInfoFromSession(s)
		sc := sessionCalls{session: s, captureCallIdx: -1}

		if s.PendingAmount.Sign() > 0 {
			data, err := o.escrow.CaptureCallData(info, s.PendingAmount.BigInt(), 0)
			if err == nil {
				sc.captureCallIdx = len(calls)
				calls = append(calls, chainadapter.MulticallCall{Target: escrowAddress, AllowFailure: true, CallData: data})
			}
		}

		voidData, err := o.escrow.VoidCallData(info)
		if err != nil {
			out.Failed[s.SessionID] = err.Error()
			continue
		}
		sc.voidCallIdx = len(calls)
		calls = append(calls, chainadapter.MulticallCall{Target: escrowAddress, AllowFailure: true, CallData: voidData})
		meta = append(meta, sc)
	}

	if len(calls) == 0 {
		return out
	}

	result, perCall := o.wallet.SendMulticall(ctx, network, calls)
	out.TxHash = result.TxHash.Hex()
	if result.Err != nil || result.Reverted || !result.Success {
		reason := "reclaim batch transaction failed"
		if result.Err != nil {
			reason = result.Err.Error()
		} else if result.Reverted {
			reason = "reclaim batch transaction reverted"
		}
		for _, m := range meta {
			out.Failed[m.session.SessionID] = reason
		}
		return out
	}

	for _, m := range meta {
		voidOK := m.voidCallIdx < len(perCall) && perCall[m.voidCallIdx].Success
		if !voidOK {
			out.Failed[m.session.SessionID] = "void call reverted inside aggregated batch"
			continue
		}

		if m.captureCallIdx >= 0 && m.captureCallIdx < len(perCall) && perCall[m.captureCallIdx].Success {
			o.settleCapturedPending(ctx, n.ID, m.session, result.TxHash.Hex())
		}

		if err := o.store.VoidSession(ctx, m.session.ID, result.TxHash.Hex()); err != nil {
			out.Failed[m.session.SessionID] = err.Error()
			continue
		}
		out.Reclaimed = append(out.Reclaimed, m.session.SessionID)
	}
	return out
}

// settleCapturedPending records the usage a reclaim-all batch's capture call
// settled, mirroring the bookkeeping session.Engine.capturePending does for
// the inline tier-3 path. Best-effort: a failure here leaves the usage log
// pending for the next scheduler tick to reconcile rather than blocking the
// void that already succeeded on-chain.
func (o *Orchestrator) settleCapturedPending(ctx context.Context, networkID string, s *db.Session, txHash string) {
	pending, err := o.store.ListPendingUsageLogs(ctx, s.ID)
	if err != nil || len(pending) == 0 {
		return
	}
	ids := make([]uuid.UUID, 0, len(pending))
	for _, l := range pending {
		ids = append(ids, l.ID)
	}
	tx, err := o.store.BeginTx(ctx)
	if err != nil {
		return
	}
	captureLog, err := o.store.CreateCaptureLog(ctx, tx, networkID, db.CaptureTierThree, ids)
	if err != nil {
		tx.Rollback(ctx) //nolint:errcheck
		return
	}
	if err := tx.Commit(ctx); err != nil {
		return
	}
	o.store.SyncCapture(ctx, captureLog.ID, txHash, map[uuid.UUID]string{s.ID: s.PendingAmount.String()}) //nolint:errcheck
}

// Package session owns the escrow session state machine (§4.4): creating
// sessions from a signed ERC-3009 authorization, debiting usage against an
// open session, and the capture/void paths that close one out.
package session

import (
	"context"
	"fmt"
	"time"

	"facilitator/internal/apierrors"
	"facilitator/internal/atomicunits"
	"facilitator/internal/chainadapter"
	"facilitator/internal/config"
	"facilitator/internal/db"
	"facilitator/internal/paymentinfo"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

// NetworkInfo is the subset of an operator-provisioned network's
// configuration the engine needs to verify signatures and drive the escrow
// contract for it.
type NetworkInfo struct {
	chainadapter.Network
	TokenAddress          common.Address
	TokenCollectorAddress common.Address
	TokenEIP712Name       string
	TokenEIP712Version    string
	Tier3Threshold        time.Duration
}

// Engine implements the Session Engine (C4): it owns no state of its own
// beyond the operator wallet and chain clients, delegating the ledger to
// the Store and transaction submission to the Chain Adapter.
type Engine struct {
	store    db.Database
	escrow   *chainadapter.EscrowClient
	tokens   *chainadapter.TokenClient
	networks map[string]NetworkInfo
}

// New constructs an Engine bound to store for persistence, escrow/tokens for
// on-chain calls, and networks describing every network it may serve.
func New(store db.Database, escrow *chainadapter.EscrowClient, tokens *chainadapter.TokenClient, networks map[string]NetworkInfo) *Engine {
	return &Engine{store: store, escrow: escrow, tokens: tokens, networks: networks}
}

// NetworksFromConfig builds the engine's NetworkInfo map from a loaded
// config.Config, the way cmd/facilitator wires the Engine at startup.
func NetworksFromConfig(cfg *config.Config) map[string]NetworkInfo {
	out := make(map[string]NetworkInfo, len(cfg.Networks))
	for _, n := range cfg.Networks {
		out[n.ID] = NetworkInfo{
			Network: chainadapter.Network{
				ID:            n.ID,
				ChainID:       n.ChainID,
				RPCURL:        n.RPCURL,
				EscrowAddress: common.HexToAddress(n.EscrowAddress),
				Confirmations: 1,
			},
			TokenAddress:          common.HexToAddress(n.TokenAddress),
			TokenCollectorAddress: common.HexToAddress(n.TokenCollectorAddress),
			TokenEIP712Name:       n.TokenEIP712Name,
			TokenEIP712Version:    n.TokenEIP712Version,
			Tier3Threshold:        cfg.Capture.Tier3Threshold,
		}
	}
	return out
}

// Network looks up a configured network by id, for callers outside the
// package (the Scheme Router's `exact` scheme path) that need its EIP-712
// domain and token address directly.
func (e *Engine) Network(networkID string) (NetworkInfo, error) {
	return e.network(networkID)
}

// SessionBySessionID resolves an escrow-usage payload's `session.id` handle
// to its stored row, translating a not-found lookup into the stable
// session_not_found code.
func (e *Engine) SessionBySessionID(ctx context.Context, sessionID string) (*db.Session, error) {
	s, err := e.store.GetSessionBySessionID(ctx, sessionID)
	if err != nil {
		if err == db.ErrSessionNotFound {
			return nil, apierrors.New(apierrors.CodeSessionNotFound, "session not found")
		}
		return nil, fmt.Errorf("session: failed to load session: %w", err)
	}
	return s, nil
}

func (e *Engine) network(networkID string) (NetworkInfo, error) {
	n, ok := e.networks[networkID]
	if !ok {
		return NetworkInfo{}, apierrors.New(apierrors.CodeInvalidNetwork, fmt.Sprintf("network %q is not configured", networkID))
	}
	return n, nil
}

// PaymentInfoFromSession reconstructs the PaymentInfo tuple a Session row
// was created from, needed to call capture/void (the escrow contract
// addresses operations by the full tuple, not just the session id).
// Exported so the capture scheduler and reclaim orchestrator can pack their
// own escrow calldata without duplicating the field mapping.
func PaymentInfoFromSession(s *db.Session) paymentinfo.PaymentInfo {
	return paymentinfo.PaymentInfo{
		Operator:            common.HexToAddress(s.OperatorAddress),
		Payer:               common.HexToAddress(s.PayerAddress),
		Receiver:            common.HexToAddress(s.ReceiverAddress),
		Token:                common.HexToAddress(s.TokenAddress),
		MaxAmount:            s.MaxAmount,
		PreApprovalExpiry:    s.PreApprovalExpiry,
		AuthorizationExpiry:  s.AuthorizationExpiry,
		RefundExpiry:         s.RefundExpiry,
		MinFeeBps:            s.MinFeeBps,
		MaxFeeBps:            s.MaxFeeBps,
		FeeReceiver:          common.HexToAddress(s.FeeReceiverAddress),
		Salt:                 s.Salt,
	}
}

// capturePending submits an on-chain capture for every pending usage log of
// s and, on success, settles them via SyncCapture. Used by both the tier-3
// inline trigger (§4.4) and the void/reclaim sub-protocol.
func (e *Engine) capturePending(ctx context.Context, network NetworkInfo, s *db.Session, tier db.CaptureTier) (string, atomicunits.Amount, error) {
	pendingLogs, err := e.store.ListPendingUsageLogs(ctx, s.ID)
	if err != nil {
		return "", atomicunits.Zero, fmt.Errorf("session: failed to list pending usage: %w", err)
	}
	if len(pendingLogs) == 0 {
		return "", atomicunits.Zero, nil
	}

	total := atomicunits.Zero
	ids := make([]uuid.UUID, 0, len(pendingLogs))
	for _, l := range pendingLogs {
		total = atomicunits.Add(total, l.Amount)
		ids = append(ids, l.ID)
	}

	tx, err := e.store.BeginTx(ctx)
	if err != nil {
		return "", atomicunits.Zero, fmt.Errorf("session: failed to begin capture claim: %w", err)
	}
	captureLog, err := e.store.CreateCaptureLog(ctx, tx, s.NetworkID, tier, ids)
	if err != nil {
		tx.Rollback(ctx) //nolint:errcheck
		return "", atomicunits.Zero, fmt.Errorf("session: failed to create capture log: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return "", atomicunits.Zero, fmt.Errorf("session: failed to commit capture claim: %w", err)
	}

	result := e.escrow.Capture(ctx, network.Network, PaymentInfoFromSession(s), total.BigInt(), 0)
	if result.Err != nil || result.Reverted || !result.Success {
		reason := "on-chain capture failed"
		if result.Err != nil {
			reason = result.Err.Error()
		} else if result.Reverted {
			reason = "capture transaction reverted"
		}
		if failErr := e.store.FailCapture(ctx, captureLog.ID, reason); failErr != nil {
			return "", atomicunits.Zero, fmt.Errorf("session: failed to record failed capture: %w", failErr)
		}
		return "", atomicunits.Zero, apierrors.New(apierrors.CodeTier3CaptureFailed, reason)
	}

	txHash := result.TxHash.Hex()
	if err := e.store.SyncCapture(ctx, captureLog.ID, txHash, map[uuid.UUID]string{s.ID: total.String()}); err != nil {
		return "", atomicunits.Zero, fmt.Errorf("session: failed to sync confirmed capture: %w", err)
	}
	return txHash, total, nil
}

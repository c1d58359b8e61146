package session

import (
	"context"
	"fmt"
	"strings"
	"time"

	"facilitator/internal/apierrors"
	"facilitator/internal/db"

	"github.com/google/uuid"
)

// VoidResult reports the on-chain and ledger outcome of the void/reclaim
// sub-protocol (§4.4 "Void / reclaim").
type VoidResult struct {
	Session     *db.Session
	CaptureTxHash string
	VoidTxHash    string
	Captured      bool
}

// Void runs the void/reclaim sub-protocol for a single session: if there is
// a pending balance and the authorization has not expired, it is captured
// first so it isn't forfeit; then the escrow's void call releases whatever
// remains to the payer, and the session transitions to voided.
func (e *Engine) Void(ctx context.Context, sessionID uuid.UUID, callerPayer string) (*VoidResult, error) {
	s, err := e.store.GetSessionByID(ctx, sessionID)
	if err != nil {
		if err == db.ErrSessionNotFound {
			return nil, apierrors.New(apierrors.CodeSessionNotFound, "session not found")
		}
		return nil, fmt.Errorf("session: failed to load session: %w", err)
	}
	if !strings.EqualFold(s.PayerAddress, callerPayer) {
		return nil, apierrors.New(apierrors.CodeUnauthorized, "session does not belong to the authenticated payer")
	}
	if s.Status != db.SessionStatusActive {
		return nil, apierrors.New(apierrors.CodeSessionInactive, "session is not active")
	}

	network, err := e.network(s.NetworkID)
	if err != nil {
		return nil, err
	}

	out := &VoidResult{Session: s}
	expired := !s.AuthorizationExpiry.After(time.Now().UTC())
	if !expired && s.PendingAmount.Sign() > 0 {
		txHash, _, err := e.capturePending(ctx, network, s, db.CaptureTierThree)
		if err != nil {
			return nil, err
		}
		if txHash != "" {
			out.CaptureTxHash = txHash
			out.Captured = true
		}
	}

	result := e.escrow.Void(ctx, network.Network, PaymentInfoFromSession(s))
	if result.Err != nil || result.Reverted || !result.Success {
		reason := "void transaction failed"
		if result.Err != nil {
			reason = result.Err.Error()
		} else if result.Reverted {
			reason = "void transaction reverted"
		}
		return nil, apierrors.New(apierrors.CodeTransferFailed, reason)
	}
	out.VoidTxHash = result.TxHash.Hex()

	if err := e.store.VoidSession(ctx, s.ID, out.VoidTxHash); err != nil {
		if err == db.ErrSessionNotActive {
			return nil, apierrors.New(apierrors.CodeSessionInactive, "session is not active")
		}
		return nil, fmt.Errorf("session: failed to record void: %w", err)
	}

	return out, nil
}

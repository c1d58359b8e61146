package session

import (
	"context"
	"crypto/subtle"
	"fmt"
	"time"

	"facilitator/internal/apierrors"
	"facilitator/internal/atomicunits"
	"facilitator/internal/db"

	"github.com/google/uuid"
)

// DebitInput is a single usage request against an open session (§4.4 "Usage
// (debit)").
type DebitInput struct {
	SessionID    uuid.UUID
	UserID       uuid.UUID // the caller's API-key owner; must match the session's owner
	SessionToken string
	RequestID    string
	Amount       atomicunits.Amount
	Description  *string

	// DryRun checks ownership, token, status, expiry and available balance
	// without applying the debit or triggering a tier-3 capture — the
	// Scheme Router's /verify path for escrow-usage payloads (§4.5).
	DryRun bool
}

// DebitResult reports the outcome of Debit, including any tier-3 inline
// capture the engine had to perform first.
type DebitResult struct {
	Result         *db.DebitResult
	Tier3TxHash    string
	Tier3Triggered bool
}

// Debit applies a usage charge against an open session. If the session's
// authorization is close enough to expiring, it first forces a tier-3
// capture of whatever is pending so that balance isn't forfeit past expiry,
// then applies the new debit (§4.4).
func (e *Engine) Debit(ctx context.Context, in DebitInput) (*DebitResult, error) {
	s, err := e.store.GetSessionByID(ctx, in.SessionID)
	if err != nil {
		if err == db.ErrSessionNotFound {
			return nil, apierrors.New(apierrors.CodeSessionNotFound, "session not found")
		}
		return nil, fmt.Errorf("session: failed to load session: %w", err)
	}

	if s.UserID != in.UserID {
		return nil, apierrors.New(apierrors.CodeUnauthorized, "session does not belong to the authenticated caller")
	}
	if !constantTimeTokenMatch(in.SessionToken, s.SessionTokenHash) {
		return nil, apierrors.New(apierrors.CodeInvalidSessionToken, "session token does not match")
	}
	if s.Status != db.SessionStatusActive {
		return nil, apierrors.New(apierrors.CodeSessionInactive, "session is not active")
	}
	now := time.Now().UTC()
	if !s.AuthorizationExpiry.After(now) {
		return nil, apierrors.New(apierrors.CodeSessionExpired, "session authorization has expired")
	}

	network, err := e.network(s.NetworkID)
	if err != nil {
		return nil, err
	}

	if in.DryRun {
		if in.Amount.Cmp(s.Balance().Available) > 0 {
			return nil, apierrors.New(apierrors.CodeInsufficientBalance, "debit exceeds the session's available balance")
		}
		return &DebitResult{Result: &db.DebitResult{Balance: s.Balance()}}, nil
	}

	out := &DebitResult{}
	if s.AuthorizationExpiry.Sub(now) < network.Tier3Threshold && s.PendingAmount.Sign() > 0 {
		txHash, _, err := e.capturePending(ctx, network, s, db.CaptureTierThree)
		if err != nil {
			return nil, err
		}
		if txHash != "" {
			out.Tier3Triggered = true
			out.Tier3TxHash = txHash
		}
	}

	result, err := e.store.DebitSession(ctx, in.SessionID, in.RequestID, in.Amount, in.Description)
	if err != nil {
		return nil, mapDebitError(err)
	}
	out.Result = result
	return out, nil
}

// constantTimeTokenMatch hashes the supplied cleartext token and compares it
// against the stored hash in constant time (§4.4), so a timing side channel
// can't be used to guess a valid session token byte by byte.
func constantTimeTokenMatch(token, storedHash string) bool {
	if token == "" || storedHash == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(db.HashToken(token)), []byte(storedHash)) == 1
}

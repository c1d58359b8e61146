package session

import (
	"context"
	"fmt"
	"time"

	"facilitator/internal/apierrors"
	"facilitator/internal/atomicunits"
	"facilitator/internal/db"
	"facilitator/internal/paymentinfo"
	"facilitator/internal/verifier"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

// CreateInput is everything the engine needs to open (or idempotently
// replay the opening of) an escrow session from a signed ERC-3009
// authorization (§4.4 "Create session").
type CreateInput struct {
	UserID    uuid.UUID
	NetworkID string
	Info      paymentinfo.PaymentInfo
	Signature string
	Nonce     [32]byte
	// ValidAfter/ValidBefore are the ERC-3009 authorization's own validity
	// window, as signed by the payer — distinct from PaymentInfo's
	// pre-approval/authorization/refund expiries (§4.4 g/h).
	ValidAfter  int64
	ValidBefore int64

	// RequiredReceiver/RequiredAsset are the resource server's advertised
	// paymentRequirements, checked against Info.Receiver/Info.Token (§4.4 d).
	RequiredReceiver common.Address
	RequiredAsset    common.Address

	MinDeposit   atomicunits.Amount
	MaxDeposit   atomicunits.Amount
	ResourceCost atomicunits.Amount
	RequestID    string

	// DryRun runs every precondition check but stops short of submitting the
	// on-chain authorize or writing a Session row — the Scheme Router's
	// /verify path (§4.5) reuses the exact same checks /settle runs.
	DryRun bool
}

// CreateResult reports the outcome of CreateSession.
type CreateResult struct {
	Session        *db.Session
	SessionToken   string // only set when this call actually created the row
	AuthorizeTxHash string
	Debit          *db.DebitResult
}

// CreateSession runs the §4.4 preconditions (a)-(j), submits the on-chain
// authorize, records the Session, and debits the initial resource cost —
// or, if a session with the same id already exists and is active, skips
// straight to the idempotent debit.
func (e *Engine) CreateSession(ctx context.Context, in CreateInput) (*CreateResult, error) {
	network, err := e.network(in.NetworkID)
	if err != nil {
		return nil, err
	}

	// The operator is the facilitator's own custodial address, never
	// caller-supplied: every authorize/capture/void call is signed by it.
	in.Info.Operator = e.escrow.OperatorAddress()

	if err := in.Info.Validate(); err != nil {
		return nil, apierrors.New(apierrors.CodeInvalidPayload, err.Error())
	}

	now := time.Now().UTC()

	// (b) signature recovers to payer, over ReceiveWithAuthorization (escrow
	// pulls funds via the token collector rather than receiving them directly).
	domain := verifier.Domain{
		Name:              network.TokenEIP712Name,
		Version:           network.TokenEIP712Version,
		ChainID:           network.ChainID,
		VerifyingContract: network.TokenAddress,
	}
	auth := verifier.Authorization{
		From:        in.Info.Payer,
		To:          network.TokenCollectorAddress,
		Value:       in.Info.MaxAmount.BigInt(),
		ValidAfter:  in.ValidAfter,
		ValidBefore: in.ValidBefore,
		Nonce:       in.Nonce,
	}
	valid, err := verifier.Verify(domain, verifier.ReceiveWithAuthorization, auth, in.Signature)
	if err != nil {
		return nil, apierrors.New(apierrors.CodeInvalidSignature, err.Error())
	}
	if !valid {
		return nil, apierrors.New(apierrors.CodeInvalidSignature, "signature does not recover to the claimed payer")
	}

	// (d) recipient and asset match advertised requirements.
	if !addressEqual(in.Info.Receiver, in.RequiredReceiver) {
		return nil, apierrors.New(apierrors.CodeInvalidRecipient, "receiver does not match advertised requirements")
	}
	if !addressEqual(in.Info.Token, in.RequiredAsset) {
		return nil, apierrors.New(apierrors.CodeInvalidAsset, "token does not match advertised requirements")
	}

	// (e) deposit bounds, (f) deposit covers resource cost.
	deposit := in.Info.MaxAmount
	if deposit.Cmp(in.MinDeposit) < 0 || deposit.Cmp(in.MaxDeposit) > 0 {
		return nil, apierrors.New(apierrors.CodeDepositOutOfBounds, "deposit amount is outside the configured bounds")
	}
	if deposit.Cmp(in.ResourceCost) < 0 {
		return nil, apierrors.New(apierrors.CodeDepositLessThanCost, "deposit is less than the resource cost")
	}

	// (g)/(h) time bounds.
	if in.ValidAfter > now.Unix() || now.Unix() >= in.ValidBefore {
		return nil, apierrors.New(apierrors.CodeAuthorizationExpired, "authorization is not within its validAfter/validBefore window")
	}
	if in.Info.AuthorizationExpiry.Unix() > in.ValidBefore {
		return nil, apierrors.New(apierrors.CodeSessionExpiryExceedsAuthorization, "authorizationExpiry exceeds the signed authorization's validBefore")
	}

	// (i) nonce not already used on-chain.
	used, err := e.tokens.IsAuthorizationUsed(ctx, network.Network, network.TokenAddress, in.Info.Payer, in.Nonce)
	if err != nil {
		return nil, fmt.Errorf("session: failed to check authorization nonce: %w", err)
	}
	if used {
		return nil, apierrors.New(apierrors.CodeNonceAlreadyUsed, "authorization nonce has already been consumed")
	}

	// (j) payer token balance covers the deposit.
	balance, err := e.tokens.BalanceOf(ctx, network.Network, network.TokenAddress, in.Info.Payer)
	if err != nil {
		return nil, fmt.Errorf("session: failed to check payer balance: %w", err)
	}
	if balance.Cmp(deposit.BigInt()) < 0 {
		return nil, apierrors.New(apierrors.CodeInsufficientFunds, "payer token balance is less than the deposit")
	}

	sessionID, err := e.escrow.GetHash(ctx, network.Network, in.Info)
	if err != nil {
		return nil, fmt.Errorf("session: failed to compute session id: %w", err)
	}
	sessionIDHex := paymentinfo.SessionIDHex(sessionID)

	if in.DryRun {
		return &CreateResult{Session: &db.Session{SessionID: sessionIDHex, PayerAddress: in.Info.Payer.Hex()}}, nil
	}

	// Idempotent on sessionId: a prior active session for the same
	// PaymentInfo just needs the requested debit applied, not a second
	// on-chain authorize.
	existing, err := e.store.GetSessionBySessionID(ctx, sessionIDHex)
	if err == nil && existing.Status == db.SessionStatusActive {
		debit, err := e.store.DebitSession(ctx, existing.ID, in.RequestID, in.ResourceCost, nil)
		if err != nil {
			return nil, mapDebitError(err)
		}
		return &CreateResult{Session: existing, AuthorizeTxHash: derefOr(existing.AuthorizeTxHash), Debit: debit}, nil
	}

	result := e.escrow.Authorize(ctx, network.Network, in.Info, decodeSig(in.Signature))
	if result.Err != nil || result.Reverted || !result.Success {
		reason := "authorize transaction failed"
		if result.Err != nil {
			reason = result.Err.Error()
		} else if result.Reverted {
			reason = "authorize transaction reverted"
		}
		return nil, apierrors.New(apierrors.CodeEscrowAuthorizationFailed, reason)
	}

	token, tokenHash, err := newSessionToken()
	if err != nil {
		return nil, fmt.Errorf("session: failed to generate session token: %w", err)
	}

	txHash := result.TxHash.Hex()
	s := &db.Session{
		ID:                  uuid.New(),
		SessionID:           sessionIDHex,
		UserID:              in.UserID,
		NetworkID:           in.NetworkID,
		OperatorAddress:     in.Info.Operator.Hex(),
		PayerAddress:        in.Info.Payer.Hex(),
		ReceiverAddress:     in.Info.Receiver.Hex(),
		TokenAddress:        in.Info.Token.Hex(),
		MaxAmount:           in.Info.MaxAmount,
		MinFeeBps:           in.Info.MinFeeBps,
		MaxFeeBps:           in.Info.MaxFeeBps,
		FeeReceiverAddress:  in.Info.FeeReceiver.Hex(),
		Salt:                in.Info.Salt,
		PreApprovalExpiry:   in.Info.PreApprovalExpiry,
		AuthorizationExpiry: in.Info.AuthorizationExpiry,
		RefundExpiry:        in.Info.RefundExpiry,
		Status:              db.SessionStatusActive,
		SessionTokenHash:    tokenHash,
		AuthorizeTxHash:     &txHash,
	}
	if err := e.store.CreateSession(ctx, s); err != nil {
		return nil, fmt.Errorf("session: failed to persist session: %w", err)
	}

	debit, err := e.store.DebitSession(ctx, s.ID, in.RequestID, in.ResourceCost, nil)
	if err != nil {
		return nil, mapDebitError(err)
	}

	return &CreateResult{Session: s, SessionToken: token, AuthorizeTxHash: txHash, Debit: debit}, nil
}

func addressEqual(a, b common.Address) bool {
	return a == b
}

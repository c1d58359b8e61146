package router

import (
	"context"
	"time"

	"facilitator/internal/apierrors"

	"github.com/ethereum/go-ethereum/common/hexutil"
)

// Settle runs the matching shape's full precondition set and, unlike
// Verify, submits the on-chain transaction and is authoritative over
// whatever state it writes (§4.5).
func (r *Router) Settle(ctx context.Context, req Request, caller CallerContext) (*SettleResult, error) {
	s, err := classify(req)
	if err != nil {
		return errorResult(err), nil
	}

	switch s {
	case shapeExact:
		return r.settleExact(ctx, req)
	case shapeEscrowCreation:
		return r.settleEscrowCreation(ctx, req, caller)
	case shapeEscrowUsage:
		return r.settleEscrowUsage(ctx, req, caller)
	default:
		return errorResult(invalidPayload("unrecognized payload shape")), nil
	}
}

// errorResult folds a typed apierrors.Error into /settle's
// {success:false, errorReason} shape (§7).
func errorResult(err error) *SettleResult {
	if apiErr, ok := err.(*apierrors.Error); ok {
		return &SettleResult{Success: false, ErrorReason: string(apiErr.Code)}
	}
	return &SettleResult{Success: false, ErrorReason: string(apierrors.CodeInternalError)}
}

func (r *Router) settleExact(ctx context.Context, req Request) (*SettleResult, error) {
	verifyResult, err := r.verifyExact(ctx, req)
	if err != nil {
		return nil, err
	}
	if !verifyResult.IsValid {
		return &SettleResult{Success: false, ErrorReason: verifyResult.InvalidReason}, nil
	}

	auth := req.PaymentPayload.Payload.Authorization
	sig := req.PaymentPayload.Payload.Signature
	reqs := req.PaymentRequirements

	network, err := r.engine.Network(req.PaymentPayload.Accepted.Network)
	if err != nil {
		return errorResult(err), nil
	}
	nonce, err := parseNonce(auth.Nonce)
	if err != nil {
		return errorResult(invalidPayload(err.Error())), nil
	}
	value, err := parseAmount(auth.Value)
	if err != nil {
		return errorResult(invalidPayload(err.Error())), nil
	}

	result := r.tokens.TransferWithAuthorization(
		ctx, network.Network, network.TokenAddress,
		parseAddress(auth.From), parseAddress(auth.To),
		value.BigInt(), auth.ValidAfter, auth.ValidBefore, nonce,
		decodeHexSignature(sig),
	)
	if result.Err != nil || result.Reverted || !result.Success {
		reason := "transfer transaction failed"
		if result.Err != nil {
			reason = result.Err.Error()
		} else if result.Reverted {
			reason = "transfer transaction reverted"
		}
		return errorResult(apierrors.New(apierrors.CodeTransferFailed, reason)), nil
	}

	return &SettleResult{
		Success:     true,
		Payer:       verifyResult.Payer,
		Transaction: result.TxHash.Hex(),
		Network:     req.PaymentPayload.Accepted.Network,
	}, nil
}

func (r *Router) settleEscrowCreation(ctx context.Context, req Request, caller CallerContext) (*SettleResult, error) {
	in, err := buildCreateInput(req, caller)
	if err != nil {
		return errorResult(err), nil
	}

	out, err := r.engine.CreateSession(ctx, in)
	if err != nil {
		return errorResult(err), nil
	}

	expiresAt := out.Session.AuthorizationExpiry.UTC().Format(time.RFC3339)
	return &SettleResult{
		Success:     true,
		Payer:       out.Session.PayerAddress,
		Transaction: out.AuthorizeTxHash,
		Network:     req.PaymentPayload.Accepted.Network,
		Session: &SettleSession{
			ID:        out.Session.SessionID,
			Token:     out.SessionToken,
			Balance:   out.Debit.Balance.Available.String(),
			ExpiresAt: &expiresAt,
		},
	}, nil
}

func (r *Router) settleEscrowUsage(ctx context.Context, req Request, caller CallerContext) (*SettleResult, error) {
	ref := req.PaymentPayload.Payload.Session
	s, err := r.engine.SessionBySessionID(ctx, ref.ID)
	if err != nil {
		return errorResult(err), nil
	}

	in, err := buildDebitInput(req, s.ID)
	if err != nil {
		return errorResult(err), nil
	}
	in.UserID = caller.UserID

	out, err := r.engine.Debit(ctx, in)
	if err != nil {
		return errorResult(err), nil
	}

	result := &SettleResult{
		Success: true,
		Payer:   s.PayerAddress,
		Network: s.NetworkID,
		Session: &SettleSession{
			ID:      ref.ID,
			Balance: out.Result.Balance.Available.String(),
		},
	}
	if out.Tier3Triggered {
		result.Transaction = out.Tier3TxHash
	}
	return result, nil
}

func decodeHexSignature(sigHex string) []byte {
	sig, err := hexutil.Decode(ensure0xLocal(sigHex))
	if err != nil {
		return nil
	}
	return sig
}

package router

import (
	"context"
	"time"

	"facilitator/internal/apierrors"
	"facilitator/internal/verifier"

	"github.com/ethereum/go-ethereum/common"
)

// Verify runs every precondition the matching shape requires without
// writing a Session or submitting a transaction (§4.5).
func (r *Router) Verify(ctx context.Context, req Request, caller CallerContext) (*VerifyResult, error) {
	s, err := classify(req)
	if err != nil {
		return invalidResult(err), nil
	}

	switch s {
	case shapeExact:
		return r.verifyExact(ctx, req)
	case shapeEscrowCreation:
		return r.verifyEscrowCreation(ctx, req, caller)
	case shapeEscrowUsage:
		return r.verifyEscrowUsage(ctx, req, caller)
	default:
		return invalidResult(invalidPayload("unrecognized payload shape")), nil
	}
}

// invalidResult folds a typed apierrors.Error into /verify's always-200
// {isValid:false, invalidReason} shape (§7).
func invalidResult(err error) *VerifyResult {
	if apiErr, ok := err.(*apierrors.Error); ok {
		return &VerifyResult{IsValid: false, InvalidReason: string(apiErr.Code)}
	}
	return &VerifyResult{IsValid: false, InvalidReason: string(apierrors.CodeInternalError)}
}

func addressEqual(a, b common.Address) bool {
	return a == b
}

func (r *Router) verifyExact(ctx context.Context, req Request) (*VerifyResult, error) {
	auth := req.PaymentPayload.Payload.Authorization
	sig := req.PaymentPayload.Payload.Signature
	reqs := req.PaymentRequirements

	network, err := r.engine.Network(req.PaymentPayload.Accepted.Network)
	if err != nil {
		return invalidResult(err), nil
	}
	if req.PaymentPayload.Accepted.Network != reqs.Network {
		return invalidResult(apierrors.New(apierrors.CodeNetworkMismatch, "accepted network does not match paymentRequirements")), nil
	}

	nonce, err := parseNonce(auth.Nonce)
	if err != nil {
		return invalidResult(invalidPayload(err.Error())), nil
	}
	value, err := parseAmount(auth.Value)
	if err != nil {
		return invalidResult(invalidPayload(err.Error())), nil
	}

	domain := verifier.Domain{
		Name:              network.TokenEIP712Name,
		Version:           network.TokenEIP712Version,
		ChainID:           network.ChainID,
		VerifyingContract: network.TokenAddress,
	}
	vAuth := verifier.Authorization{
		From:        parseAddress(auth.From),
		To:          parseAddress(auth.To),
		Value:       value.BigInt(),
		ValidAfter:  auth.ValidAfter,
		ValidBefore: auth.ValidBefore,
		Nonce:       nonce,
	}
	valid, err := verifier.Verify(domain, verifier.TransferWithAuthorization, vAuth, sig)
	if err != nil {
		return invalidResult(apierrors.New(apierrors.CodeInvalidSignature, err.Error())), nil
	}
	if !valid {
		return invalidResult(apierrors.New(apierrors.CodeInvalidSignature, "signature does not recover to the claimed payer")), nil
	}

	if !addressEqual(vAuth.To, parseAddress(reqs.PayTo)) {
		return invalidResult(apierrors.New(apierrors.CodeInvalidRecipient, "recipient does not match advertised requirements")), nil
	}

	required, err := parseAmount(reqs.MaxAmountRequired)
	if err != nil {
		return invalidResult(invalidPayload(err.Error())), nil
	}
	if value.Cmp(required) < 0 {
		return invalidResult(apierrors.New(apierrors.CodeInsufficientAmount, "authorized amount is less than required")), nil
	}

	now := time.Now().UTC().Unix()
	if auth.ValidAfter > now {
		return invalidResult(apierrors.New(apierrors.CodeAuthorizationNotYetValid, "authorization is not yet valid")), nil
	}
	if now >= auth.ValidBefore {
		return invalidResult(apierrors.New(apierrors.CodeAuthorizationExpired, "authorization has expired")), nil
	}

	used, err := r.tokens.IsAuthorizationUsed(ctx, network.Network, network.TokenAddress, vAuth.From, nonce)
	if err != nil {
		return nil, err
	}
	if used {
		return invalidResult(apierrors.New(apierrors.CodeNonceAlreadyUsed, "authorization nonce has already been consumed")), nil
	}

	balance, err := r.tokens.BalanceOf(ctx, network.Network, network.TokenAddress, vAuth.From)
	if err != nil {
		return nil, err
	}
	if balance.Cmp(value.BigInt()) < 0 {
		return invalidResult(apierrors.New(apierrors.CodeInsufficientFunds, "payer token balance is less than the authorized amount")), nil
	}

	return &VerifyResult{IsValid: true, Payer: vAuth.From.Hex()}, nil
}

func (r *Router) verifyEscrowCreation(ctx context.Context, req Request, caller CallerContext) (*VerifyResult, error) {
	in, err := buildCreateInput(req, caller)
	if err != nil {
		return invalidResult(err), nil
	}
	in.DryRun = true

	_, err = r.engine.CreateSession(ctx, in)
	if err != nil {
		return invalidResult(err), nil
	}
	return &VerifyResult{IsValid: true, Payer: in.Info.Payer.Hex()}, nil
}

func (r *Router) verifyEscrowUsage(ctx context.Context, req Request, caller CallerContext) (*VerifyResult, error) {
	ref := req.PaymentPayload.Payload.Session
	s, err := r.engine.SessionBySessionID(ctx, ref.ID)
	if err != nil {
		return invalidResult(err), nil
	}

	in, err := buildDebitInput(req, s.ID)
	if err != nil {
		return invalidResult(err), nil
	}
	in.UserID = caller.UserID
	in.DryRun = true

	if _, err := r.engine.Debit(ctx, in); err != nil {
		return invalidResult(err), nil
	}
	return &VerifyResult{IsValid: true, Payer: s.PayerAddress}, nil
}

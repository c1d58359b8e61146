package router

import (
	"time"

	"facilitator/internal/apierrors"
	"facilitator/internal/paymentinfo"
	"facilitator/internal/session"

	"github.com/google/uuid"
)

// buildCreateInput translates an escrow-creation Request into the Session
// Engine's CreateInput, leaving the operator address for the engine to fill
// in from its own wallet (§4.4).
func buildCreateInput(req Request, caller CallerContext) (session.CreateInput, error) {
	payload := req.PaymentPayload.Payload
	reqs := req.PaymentRequirements
	auth := payload.Authorization
	params := payload.SessionParams

	if req.PaymentPayload.Accepted.Network != reqs.Network {
		return session.CreateInput{}, apierrors.New(apierrors.CodeNetworkMismatch, "accepted network does not match paymentRequirements")
	}

	nonce, err := parseNonce(auth.Nonce)
	if err != nil {
		return session.CreateInput{}, invalidPayload(err.Error())
	}
	salt, err := parseSalt(params.Salt)
	if err != nil {
		return session.CreateInput{}, invalidPayload(err.Error())
	}
	maxAmount, err := parseAmount(auth.Value)
	if err != nil {
		return session.CreateInput{}, invalidPayload(err.Error())
	}
	minDeposit, err := parseAmount(reqs.MinAmountRequired)
	if err != nil {
		return session.CreateInput{}, invalidPayload(err.Error())
	}
	maxDeposit, err := parseAmount(reqs.MaxAmountRequired)
	if err != nil {
		return session.CreateInput{}, invalidPayload(err.Error())
	}
	resourceCost, err := parseAmount(reqs.ResourceCost)
	if err != nil {
		return session.CreateInput{}, invalidPayload(err.Error())
	}

	var minFeeBps, maxFeeBps uint16
	var feeReceiver string
	if reqs.Extra != nil {
		minFeeBps = reqs.Extra.MinFeeBps
		maxFeeBps = reqs.Extra.MaxFeeBps
		feeReceiver = reqs.Extra.FeeReceiver
	}

	info := paymentinfo.PaymentInfo{
		Payer:               parseAddress(auth.From),
		Receiver:            parseAddress(reqs.PayTo),
		Token:               parseAddress(reqs.Asset),
		MaxAmount:           maxAmount,
		PreApprovalExpiry:   time.Unix(auth.ValidBefore, 0).UTC(),
		AuthorizationExpiry: time.Unix(params.AuthorizationExpiry, 0).UTC(),
		RefundExpiry:        time.Unix(params.RefundExpiry, 0).UTC(),
		MinFeeBps:           minFeeBps,
		MaxFeeBps:           maxFeeBps,
		FeeReceiver:         parseAddress(feeReceiver),
		Salt:                salt,
	}

	return session.CreateInput{
		UserID:           caller.UserID,
		NetworkID:        req.PaymentPayload.Accepted.Network,
		Info:             info,
		Signature:        payload.Signature,
		Nonce:            nonce,
		ValidAfter:       auth.ValidAfter,
		ValidBefore:      auth.ValidBefore,
		RequiredReceiver: parseAddress(reqs.PayTo),
		RequiredAsset:    parseAddress(reqs.Asset),
		MinDeposit:       minDeposit,
		MaxDeposit:       maxDeposit,
		ResourceCost:     resourceCost,
		RequestID:        payload.RequestID,
	}, nil
}

// buildDebitInput translates an escrow-usage Request into the Session
// Engine's DebitInput against the already-resolved internal session id.
func buildDebitInput(req Request, sessionID uuid.UUID) (session.DebitInput, error) {
	payload := req.PaymentPayload.Payload
	amount, err := parseAmount(payload.Amount)
	if err != nil {
		return session.DebitInput{}, invalidPayload(err.Error())
	}
	return session.DebitInput{
		SessionID:    sessionID,
		SessionToken: payload.Session.Token,
		RequestID:    payload.RequestID,
		Amount:       amount,
	}, nil
}

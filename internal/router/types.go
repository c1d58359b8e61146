// Package router implements the Scheme Router (C5): it discriminates the
// three x402 payload shapes a resource server may present, orchestrates the
// precondition checks each one requires, and — for /settle — the on-chain
// submission that follows. /verify and /settle share the same dispatch, with
// /verify stopping short of writing a Session or sending a transaction.
package router

import (
	"facilitator/internal/atomicunits"
	"facilitator/internal/chainadapter"
	"facilitator/internal/session"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

// Scheme is the discriminant x402 payments are routed by.
type Scheme string

const (
	SchemeExact  Scheme = "exact"
	SchemeEscrow Scheme = "escrow"
	// SchemeSession is a deprecated alias of "escrow" usage payloads, kept
	// for resource servers that haven't migrated off the earlier name.
	SchemeSession Scheme = "session"
)

// ERC3009Authorization is the wire shape of a signed transfer/receive
// authorization, common to the exact and escrow-creation payloads (§6).
type ERC3009Authorization struct {
	From        string `json:"from"`
	To          string `json:"to"`
	Value       string `json:"value"`
	ValidAfter  int64  `json:"validAfter"`
	ValidBefore int64  `json:"validBefore"`
	Nonce       string `json:"nonce"`
}

// SessionParams is the escrow-creation payload's session-specific fields,
// layered on top of the shared ERC-3009 authorization (§6).
type SessionParams struct {
	Salt                string `json:"salt"`
	AuthorizationExpiry int64  `json:"authorizationExpiry"`
	RefundExpiry        int64  `json:"refundExpiry"`
}

// SessionRef is the escrow-usage payload's session handle (§6).
type SessionRef struct {
	ID    string `json:"id"`
	Token string `json:"token"`
}

// Payload is the union of every shape paymentPayload.payload may take; only
// the fields relevant to the discriminated scheme are populated.
type Payload struct {
	Signature     string                `json:"signature,omitempty"`
	Authorization *ERC3009Authorization `json:"authorization,omitempty"`
	SessionParams *SessionParams        `json:"sessionParams,omitempty"`
	Session       *SessionRef           `json:"session,omitempty"`
	Amount        string                `json:"amount,omitempty"`
	RequestID     string                `json:"requestId,omitempty"`
}

// Accepted mirrors the single paymentRequirements entry the client selected
// out of a prior /supported negotiation.
type Accepted struct {
	Scheme  Scheme `json:"scheme"`
	Network string `json:"network"`
}

// PaymentPayload is the `paymentPayload` half of a /verify or /settle body.
type PaymentPayload struct {
	X402Version int      `json:"x402Version"`
	Accepted    Accepted `json:"accepted"`
	Payload     Payload  `json:"payload"`
}

// PaymentRequirements is the `paymentRequirements` half of a /verify or
// /settle body — the advertised terms the payload is checked against.
type PaymentRequirements struct {
	Scheme            Scheme `json:"scheme"`
	Network           string `json:"network"`
	Asset             string `json:"asset"`
	PayTo             string `json:"payTo"`
	MaxAmountRequired string `json:"maxAmountRequired"`
	MinAmountRequired string `json:"minAmountRequired,omitempty"`
	ResourceCost      string `json:"resourceCost,omitempty"`

	// Extra carries scheme-specific terms the core x402 envelope has no
	// dedicated field for — for escrow, the fee split the operator is
	// willing to charge (§3 PaymentInfo).
	Extra *EscrowExtra `json:"extra,omitempty"`
}

// EscrowExtra is the escrow scheme's `paymentRequirements.extra` payload:
// the fee bounds and receiver that become part of the session's PaymentInfo.
type EscrowExtra struct {
	MinFeeBps   uint16 `json:"minFeeBps"`
	MaxFeeBps   uint16 `json:"maxFeeBps"`
	FeeReceiver string `json:"feeReceiver"`
}

// Request is the shared body shape for /verify and /settle (§6).
type Request struct {
	PaymentPayload      PaymentPayload      `json:"paymentPayload"`
	PaymentRequirements PaymentRequirements `json:"paymentRequirements"`
}

// VerifyResult is /verify's response shape (§6): always HTTP 200, with
// IsValid discriminating success from a typed rejection reason.
type VerifyResult struct {
	IsValid       bool   `json:"isValid"`
	InvalidReason string `json:"invalidReason,omitempty"`
	Payer         string `json:"payer,omitempty"`
}

// SettleSession is the nested session view /settle returns for escrow
// payloads only (§6).
type SettleSession struct {
	ID        string  `json:"id"`
	Token     string  `json:"token,omitempty"`
	Balance   string  `json:"balance"`
	ExpiresAt *string `json:"expiresAt,omitempty"`
}

// SettleResult is /settle's response shape (§6).
type SettleResult struct {
	Success     bool           `json:"success"`
	ErrorReason string         `json:"errorReason,omitempty"`
	Payer       string         `json:"payer,omitempty"`
	Transaction string         `json:"transaction,omitempty"`
	Network     string         `json:"network,omitempty"`
	Session     *SettleSession `json:"session,omitempty"`
}

// CallerContext is the authenticated API-key owner a /verify or /settle
// call is made on behalf of, threaded through to escrow-usage debits so the
// Session Engine can check session ownership (§4.4).
type CallerContext struct {
	UserID uuid.UUID
}

// Router wires the Session Engine and a direct token client together to
// implement the three payload shapes' dispatch.
type Router struct {
	engine *session.Engine
	tokens *chainadapter.TokenClient
}

// New constructs a Router bound to engine for escrow payloads and tokens for
// the exact scheme's direct on-chain transfer.
func New(engine *session.Engine, tokens *chainadapter.TokenClient) *Router {
	return &Router{engine: engine, tokens: tokens}
}

func parseAmount(s string) (atomicunits.Amount, error) {
	if s == "" {
		return atomicunits.Zero, nil
	}
	return atomicunits.Parse(s)
}

func parseAddress(s string) common.Address {
	return common.HexToAddress(s)
}

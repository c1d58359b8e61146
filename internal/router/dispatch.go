package router

import (
	"log/slog"

	"facilitator/internal/apierrors"
)

// shape is the concrete payload kind a Request resolves to once its scheme
// and payload fields have been inspected (§4.5).
type shape int

const (
	shapeExact shape = iota
	shapeEscrowCreation
	shapeEscrowUsage
)

// classify discriminates a Request into one of the three payload shapes, or
// returns invalid_payload for anything that doesn't match one of them.
func classify(req Request) (shape, error) {
	scheme := req.PaymentPayload.Accepted.Scheme
	payload := req.PaymentPayload.Payload

	if scheme == SchemeSession {
		// Deprecated alias: routed and logged as escrow-usage (§4.5).
		slog.Warn("deprecated payment scheme alias", "scheme", string(SchemeSession))
		scheme = SchemeEscrow
	}

	switch scheme {
	case SchemeExact:
		if payload.Authorization == nil || payload.Signature == "" {
			return 0, invalidPayload("exact payload requires signature and authorization")
		}
		return shapeExact, nil
	case SchemeEscrow:
		switch {
		case payload.Session != nil:
			if payload.Session.ID == "" || payload.Session.Token == "" {
				return 0, invalidPayload("escrow-usage payload requires session.id and session.token")
			}
			return shapeEscrowUsage, nil
		case payload.Authorization != nil && payload.Signature != "" && payload.SessionParams != nil:
			return shapeEscrowCreation, nil
		default:
			return 0, invalidPayload("escrow payload matched neither creation nor usage shape")
		}
	default:
		return 0, apierrors.New(apierrors.CodeUnsupportedScheme, "unsupported payment scheme")
	}
}

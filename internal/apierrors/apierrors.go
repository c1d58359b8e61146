// Package apierrors holds the facilitator's stable error-code taxonomy and
// the HTTP status each code maps to. Handlers return a *Error instead of
// building ad hoc fiber.Map payloads, so every endpoint reports failures
// under the same code a resource-server integration can branch on.
package apierrors

import "github.com/gofiber/fiber/v3"

// Code is one of the facilitator's stable error codes, returned verbatim in
// the "error" (or "invalidReason"/"errorReason") field of a response.
type Code string

const (
	// Authentication
	CodeUnauthorized Code = "unauthorized"
	CodeRateLimited  Code = "rate_limited"

	// Request shape
	CodeInvalidRequest    Code = "invalid_request"
	CodeInvalidPayload    Code = "invalid_payload"
	CodeUnsupportedScheme Code = "unsupported_scheme"

	// Signature / authorization
	CodeInvalidSignature         Code = "invalid_signature"
	CodeInvalidRecipient         Code = "invalid_recipient"
	CodeInvalidAsset             Code = "invalid_asset"
	CodeInvalidTokenCollector    Code = "invalid_token_collector"
	CodeAuthorizationNotYetValid Code = "authorization_not_yet_valid"
	CodeAuthorizationExpired     Code = "authorization_expired"
	CodeNonceAlreadyUsed         Code = "nonce_already_used"

	// Economic
	CodeInsufficientAmount   Code = "insufficient_amount"
	CodeInsufficientFunds    Code = "insufficient_funds"
	CodeDepositOutOfBounds   Code = "deposit_out_of_bounds"
	CodeDepositLessThanCost  Code = "deposit_less_than_cost"
	CodeInsufficientBalance  Code = "insufficient_balance"

	// Session
	CodeSessionNotFound                  Code = "session_not_found"
	CodeSessionInactive                  Code = "session_inactive"
	CodeSessionExpired                   Code = "session_expired"
	CodeSessionTokenNotConfigured        Code = "session_token_not_configured"
	CodeInvalidSessionToken              Code = "invalid_session_token"
	CodeNetworkMismatch                  Code = "network_mismatch"
	CodeSessionExpiryInvalid             Code = "session_expiry_invalid"
	CodeSessionExpiryExceedsAuthorization Code = "session_expiry_exceeds_authorization"
	CodeTier3CaptureFailed               Code = "tier3_capture_failed"

	// On-chain operation failures, bubbled per §7's propagation policy
	CodeEscrowAuthorizationFailed Code = "escrow_authorization_failed"
	CodeTransferFailed            Code = "transfer_failed"

	// Infrastructure
	CodeInvalidNetwork   Code = "invalid_network"
	CodeDBError          Code = "db_error"
	CodeRequestTimeout   Code = "request_timeout"
	CodeInternalError    Code = "internal_error"
)

// statusByCode is the HTTP status taxonomy from §7: 400 for request-shape
// errors, 401/403 for auth, 404 for not-found, 429 for rate-limit, 504 for
// timeout, 500 for everything else that isn't one of those buckets.
var statusByCode = map[Code]int{
	CodeUnauthorized: fiber.StatusUnauthorized,
	CodeRateLimited:  fiber.StatusTooManyRequests,

	CodeInvalidRequest:    fiber.StatusBadRequest,
	CodeInvalidPayload:    fiber.StatusBadRequest,
	CodeUnsupportedScheme: fiber.StatusBadRequest,

	CodeInvalidSignature:         fiber.StatusBadRequest,
	CodeInvalidRecipient:         fiber.StatusBadRequest,
	CodeInvalidAsset:             fiber.StatusBadRequest,
	CodeInvalidTokenCollector:    fiber.StatusBadRequest,
	CodeAuthorizationNotYetValid: fiber.StatusBadRequest,
	CodeAuthorizationExpired:     fiber.StatusBadRequest,
	CodeNonceAlreadyUsed:         fiber.StatusBadRequest,

	CodeInsufficientAmount:  fiber.StatusBadRequest,
	CodeInsufficientFunds:   fiber.StatusBadRequest,
	CodeDepositOutOfBounds:  fiber.StatusBadRequest,
	CodeDepositLessThanCost: fiber.StatusBadRequest,
	CodeInsufficientBalance: fiber.StatusBadRequest,

	CodeSessionNotFound:                   fiber.StatusNotFound,
	CodeSessionInactive:                   fiber.StatusBadRequest,
	CodeSessionExpired:                    fiber.StatusBadRequest,
	CodeSessionTokenNotConfigured:         fiber.StatusBadRequest,
	CodeInvalidSessionToken:               fiber.StatusUnauthorized,
	CodeNetworkMismatch:                   fiber.StatusBadRequest,
	CodeSessionExpiryInvalid:              fiber.StatusBadRequest,
	CodeSessionExpiryExceedsAuthorization: fiber.StatusBadRequest,
	CodeTier3CaptureFailed:                fiber.StatusInternalServerError,

	CodeEscrowAuthorizationFailed: fiber.StatusInternalServerError,
	CodeTransferFailed:            fiber.StatusInternalServerError,

	CodeInvalidNetwork: fiber.StatusBadRequest,
	CodeDBError:        fiber.StatusInternalServerError,
	CodeRequestTimeout: fiber.StatusGatewayTimeout,
	CodeInternalError:  fiber.StatusInternalServerError,
}

// Status returns the HTTP status code a given Code maps to, defaulting to
// 500 for anything not in the taxonomy (should not happen for a Code
// constructed via New below).
func Status(code Code) int {
	if status, ok := statusByCode[code]; ok {
		return status
	}
	return fiber.StatusInternalServerError
}

// Error is a typed facilitator error: a stable Code plus an optional
// human-readable message and detail list. It implements error so it can
// flow through normal Go error handling until a handler writes it out.
type Error struct {
	Code    Code
	Message string
	Details []string
}

func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return string(e.Code)
}

// New builds an *Error for code with an optional message.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WithDetails attaches free-form detail strings (e.g. field-level validation
// failures) to an existing *Error.
func (e *Error) WithDetails(details ...string) *Error {
	e.Details = append(e.Details, details...)
	return e
}

// envelope is the `{ "error": "<code>", "details"?: [...] }` wire shape §6
// specifies for every endpoint except /verify and /settle, which use their
// own {isValid/success, ...Reason} shapes instead of calling Respond.
type envelope struct {
	Error   Code     `json:"error"`
	Details []string `json:"details,omitempty"`
}

// Respond writes err as the standard error envelope with the status its
// Code maps to. Non-*Error values (unexpected infrastructure faults) are
// folded into internal_error, per §7's "only unexpected exceptions map to
// internal_error" propagation policy.
func Respond(c fiber.Ctx, err error) error {
	apiErr, ok := err.(*Error)
	if !ok {
		apiErr = New(CodeInternalError, err.Error())
	}
	return c.Status(Status(apiErr.Code)).JSON(envelope{
		Error:   apiErr.Code,
		Details: apiErr.Details,
	})
}

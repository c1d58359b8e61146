package session

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"

	"facilitator/internal/apierrors"
	"facilitator/internal/db"

	"github.com/ethereum/go-ethereum/common/hexutil"
)

// newSessionToken generates the 32 random bytes handed to the payer once at
// session creation, and the sha-256 hash stored alongside the session.
// Lost tokens cannot be reissued (§4.4): the payer creates a new session.
func newSessionToken() (token string, hash string, err error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", "", fmt.Errorf("session: failed to generate session token: %w", err)
	}
	token = hex.EncodeToString(buf)
	hash = db.HashToken(token)
	return token, hash, nil
}

func decodeSig(sigHex string) []byte {
	sig, err := hexutil.Decode(ensure0x(sigHex))
	if err != nil {
		return nil
	}
	return sig
}

func ensure0x(s string) string {
	if len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		return s
	}
	return "0x" + s
}

func derefOr(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// mapDebitError translates db.DebitSession's sentinel errors into the
// facilitator's stable error-code taxonomy (§7), leaving anything else to
// bubble as an unexpected infrastructure fault.
func mapDebitError(err error) error {
	switch {
	case errors.Is(err, db.ErrSessionNotFound):
		return apierrors.New(apierrors.CodeSessionNotFound, "session not found")
	case errors.Is(err, db.ErrSessionNotActive):
		return apierrors.New(apierrors.CodeSessionInactive, "session is not active")
	case errors.Is(err, db.ErrSessionExpired):
		return apierrors.New(apierrors.CodeSessionExpired, "session authorization has expired")
	case errors.Is(err, db.ErrInsufficientBalance):
		return apierrors.New(apierrors.CodeInsufficientBalance, "debit exceeds the session's available balance")
	default:
		return fmt.Errorf("session: debit failed: %w", err)
	}
}

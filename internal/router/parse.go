package router

import (
	"fmt"
	"math/big"

	"facilitator/internal/apierrors"

	"github.com/ethereum/go-ethereum/common/hexutil"
)

func parseNonce(s string) ([32]byte, error) {
	var nonce [32]byte
	raw, err := hexutil.Decode(ensure0xLocal(s))
	if err != nil {
		return nonce, fmt.Errorf("invalid nonce encoding: %w", err)
	}
	if len(raw) != 32 {
		return nonce, fmt.Errorf("nonce must be 32 bytes, got %d", len(raw))
	}
	copy(nonce[:], raw)
	return nonce, nil
}

func parseSalt(s string) (*big.Int, error) {
	if s == "" {
		return big.NewInt(0), nil
	}
	salt, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("invalid salt %q", s)
	}
	return salt, nil
}

func ensure0xLocal(s string) string {
	if len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		return s
	}
	return "0x" + s
}

// invalidPayload builds the apierrors.Error every malformed-shape rejection
// shares, so /verify and /settle report the same code for the same mistake.
func invalidPayload(msg string) *apierrors.Error {
	return apierrors.New(apierrors.CodeInvalidPayload, msg)
}

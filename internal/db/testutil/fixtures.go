package testutil

import (
	"fmt"
	"math/rand"
)

// RandomWalletAddress generates a random Ethereum-style address for testing.
func RandomWalletAddress() string {
	b := make([]byte, 20)
	rand.Read(b) //nolint:errcheck
	return fmt.Sprintf("0x%040x", b)
}

// RandomHash32 generates a random 32-byte hex string, e.g. for a session id
// or ERC-3009 nonce.
func RandomHash32() string {
	b := make([]byte, 32)
	rand.Read(b) //nolint:errcheck
	return fmt.Sprintf("0x%064x", b)
}

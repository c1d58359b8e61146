// Package verifier recovers the EIP-712 signer of an ERC-3009 authorization
// and checks it against the claimed payer (§4.2).
package verifier

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

// PrimaryType selects which ERC-3009 method the authorization signs.
// Both share the same field layout; only the struct name differs.
type PrimaryType string

const (
	// TransferWithAuthorization is used by the `exact` scheme: value moves
	// directly to the advertised receiver.
	TransferWithAuthorization PrimaryType = "TransferWithAuthorization"
	// ReceiveWithAuthorization is used by the `escrow` scheme: value is
	// pulled by the network's token collector on the escrow's behalf.
	ReceiveWithAuthorization PrimaryType = "ReceiveWithAuthorization"
)

// Domain is the EIP-712 domain separator input for the signing token.
type Domain struct {
	Name              string
	Version           string
	ChainID           int64
	VerifyingContract common.Address
}

// Authorization is the ERC-3009 authorization payload, shared by both
// primary types.
type Authorization struct {
	From        common.Address
	To          common.Address
	Value       *big.Int
	ValidAfter  int64
	ValidBefore int64
	Nonce       [32]byte
}

// erc3009Types declares the EIP-712 field layout shared by both
// TransferWithAuthorization and ReceiveWithAuthorization.
var erc3009Types = []apitypes.Type{
	{Name: "from", Type: "address"},
	{Name: "to", Type: "address"},
	{Name: "value", Type: "uint256"},
	{Name: "validAfter", Type: "uint256"},
	{Name: "validBefore", Type: "uint256"},
	{Name: "nonce", Type: "bytes32"},
}

// Recover recovers the address that produced sigHex over the ERC-712 typed
// data built from domain/primaryType/auth. sigHex is the 65-byte
// (r,s,v) signature, hex-encoded, optionally 0x-prefixed.
func Recover(domain Domain, primaryType PrimaryType, auth Authorization, sigHex string) (common.Address, error) {
	sig, err := decodeSignature(sigHex)
	if err != nil {
		return common.Address{}, err
	}

	hash, err := messageHash(domain, primaryType, auth)
	if err != nil {
		return common.Address{}, err
	}

	pub, err := crypto.SigToPub(hash, sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("verifier: failed to recover public key: %w", err)
	}

	return crypto.PubkeyToAddress(*pub), nil
}

// Verify reports whether sigHex is a valid signature by auth.From over the
// given typed data. valid iff the recovered address equals the lowercased
// From address (§4.2).
func Verify(domain Domain, primaryType PrimaryType, auth Authorization, sigHex string) (bool, error) {
	recovered, err := Recover(domain, primaryType, auth, sigHex)
	if err != nil {
		return false, err
	}
	return strings.EqualFold(recovered.Hex(), auth.From.Hex()), nil
}

func decodeSignature(sigHex string) ([]byte, error) {
	if !strings.HasPrefix(sigHex, "0x") {
		sigHex = "0x" + sigHex
	}
	sig, err := hexutil.Decode(sigHex)
	if err != nil {
		return nil, fmt.Errorf("verifier: invalid signature encoding: %w", err)
	}
	if len(sig) != 65 {
		return nil, fmt.Errorf("verifier: invalid signature length: expected 65, got %d", len(sig))
	}
	// crypto.SigToPub expects a recovery id of 0/1; wallets commonly emit
	// the Ethereum-style 27/28.
	sig = append([]byte(nil), sig...)
	if sig[64] == 27 || sig[64] == 28 {
		sig[64] -= 27
	}
	return sig, nil
}

func messageHash(domain Domain, primaryType PrimaryType, auth Authorization) ([]byte, error) {
	if primaryType != TransferWithAuthorization && primaryType != ReceiveWithAuthorization {
		return nil, errors.New("verifier: unsupported primary type")
	}

	typedData := apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": []apitypes.Type{
				{Name: "name", Type: "string"},
				{Name: "version", Type: "string"},
				{Name: "chainId", Type: "uint256"},
				{Name: "verifyingContract", Type: "address"},
			},
			string(primaryType): erc3009Types,
		},
		PrimaryType: string(primaryType),
		Domain: apitypes.TypedDataDomain{
			Name:              domain.Name,
			Version:           domain.Version,
			ChainId:           (*math.HexOrDecimal256)(big.NewInt(domain.ChainID)),
			VerifyingContract: domain.VerifyingContract.Hex(),
		},
		Message: apitypes.TypedDataMessage{
			"from":        auth.From.Hex(),
			"to":          auth.To.Hex(),
			"value":       auth.Value.String(),
			"validAfter":  fmt.Sprintf("%d", auth.ValidAfter),
			"validBefore": fmt.Sprintf("%d", auth.ValidBefore),
			"nonce":       hexutil.Encode(auth.Nonce[:]),
		},
	}

	domainSeparator, err := typedData.HashStruct("EIP712Domain", typedData.Domain.Map())
	if err != nil {
		return nil, fmt.Errorf("verifier: failed to hash domain: %w", err)
	}
	structHash, err := typedData.HashStruct(typedData.PrimaryType, typedData.Message)
	if err != nil {
		return nil, fmt.Errorf("verifier: failed to hash message: %w", err)
	}

	rawData := append([]byte("\x19\x01"), domainSeparator...)
	rawData = append(rawData, structHash...)
	return crypto.Keccak256(rawData), nil
}

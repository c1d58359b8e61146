// Package chainadapter exposes the operator-wallet abstraction and typed
// calls to the escrow and ERC-20/ERC-3009 contracts (§4.1). It replaces the
// teacher's client-side OS-keychain wallet with a server-side credential:
// the facilitator signs transactions as a single custodial operator, either
// from a process-local private key or through AWS KMS.
package chainadapter

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

// TxResult is the outcome of a submitted transaction.
type TxResult struct {
	Success bool
	TxHash  common.Hash
	// Reverted is true when the receipt landed but status indicates failure.
	Reverted bool
	Err      error
}

// MulticallResult is the outcome of a single inner call within an aggregated
// Multicall3 transaction.
type MulticallResult struct {
	Success    bool
	ReturnData []byte
}

// MulticallCall describes one inner call to submit via Multicall3.
type MulticallCall struct {
	Target       common.Address
	AllowFailure bool
	CallData     []byte
}

// OperatorWallet is the common contract both wallet variants satisfy: a
// single, process-lifetime operator identity capable of signing and
// submitting transactions against a configured network.
type OperatorWallet interface {
	// Address returns the operator's identity; stable for a process lifetime.
	Address() common.Address

	// SendContractTx submits a transaction calling fn on the `to` contract
	// with callData, waits for a receipt with the network's configured
	// confirmation count, and reports failure when the receipt status is
	// reverted.
	SendContractTx(ctx context.Context, network Network, to common.Address, callData []byte) TxResult

	// SendMulticall submits an aggregated Multicall3 transaction and reports
	// per-call results alongside the outer transaction outcome.
	SendMulticall(ctx context.Context, network Network, calls []MulticallCall) (TxResult, []MulticallResult)

	// SignMessage produces an ECDSA signature over the keccak256 of data.
	// Custodial variants may return ErrSigningUnsupported.
	SignMessage(ctx context.Context, data []byte) ([]byte, error)
}

// ErrSigningUnsupported is returned by OperatorWallet variants that cannot
// produce raw message signatures (only contract transactions).
var ErrSigningUnsupported = fmt.Errorf("chainadapter: raw message signing is not supported by this wallet variant")

// LocalKey is an OperatorWallet backed by a private key held in process
// memory. Intended for development and for environments where KMS custody
// is unnecessary; see CustodialProvider for the production variant.
type LocalKey struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
	clients    *ClientSet
	nonces     *nonceManager
}

// NewLocalKey constructs a LocalKey operator wallet from a hex-encoded
// private key (no 0x prefix required).
func NewLocalKey(hexKey string, clients *ClientSet) (*LocalKey, error) {
	privateKey, err := crypto.HexToECDSA(hexKey)
	if err != nil {
		return nil, fmt.Errorf("chainadapter: invalid private key: %w", err)
	}
	return &LocalKey{
		privateKey: privateKey,
		address:    crypto.PubkeyToAddress(privateKey.PublicKey),
		clients:    clients,
		nonces:     newNonceManager(),
	}, nil
}

// Address implements OperatorWallet.
func (w *LocalKey) Address() common.Address {
	return w.address
}

// SignMessage implements OperatorWallet.
func (w *LocalKey) SignMessage(_ context.Context, data []byte) ([]byte, error) {
	sig, err := crypto.Sign(crypto.Keccak256(data), w.privateKey)
	if err != nil {
		return nil, fmt.Errorf("chainadapter: failed to sign: %w", err)
	}
	return sig, nil
}

// SendContractTx implements OperatorWallet by serializing submission per
// (wallet, network) via withNetworkLock (§5): only one transaction
// per network may be in flight at a time, avoiding nonce collisions.
func (w *LocalKey) SendContractTx(ctx context.Context, network Network, to common.Address, callData []byte) TxResult {
	return withNetworkLock(network.ID, func() TxResult {
		return sendAndWait(ctx, w.clients, network, w.signerFor(network), w.address, w.nonces, to, big.NewInt(0), callData)
	})
}

// SendMulticall implements OperatorWallet.
func (w *LocalKey) SendMulticall(ctx context.Context, network Network, calls []MulticallCall) (TxResult, []MulticallResult) {
	var result TxResult
	var perCall []MulticallResult
	withNetworkLock(network.ID, func() TxResult {
		result, perCall = sendMulticall3(ctx, w.clients, network, w.signerFor(network), w.address, w.nonces, calls)
		return result
	})
	return result, perCall
}

// signerFor returns a txSigner that signs with this wallet's private key
// under the network's chain id, for tx.go's assembly code.
func (w *LocalKey) signerFor(network Network) txSigner {
	return func(tx *types.Transaction) (*types.Transaction, error) {
		signer := types.LatestSignerForChainID(big.NewInt(network.ChainID))
		return types.SignTx(tx, signer, w.privateKey)
	}
}

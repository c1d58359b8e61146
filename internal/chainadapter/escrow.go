package chainadapter

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"facilitator/internal/paymentinfo"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// escrowABI declares the subset of the escrow contract's interface the
// facilitator calls: authorize, capture, void, charge, and the read-only
// getHash used as the canonical session id source (§4.1).
const escrowABI = `[
	{
		"name": "authorize",
		"type": "function",
		"stateMutability": "nonpayable",
		"inputs": [
			{"name": "paymentInfo", "type": "tuple", "components": [
				{"name": "operator", "type": "address"},
				{"name": "payer", "type": "address"},
				{"name": "receiver", "type": "address"},
				{"name": "token", "type": "address"},
				{"name": "maxAmount", "type": "uint120"},
				{"name": "preApprovalExpiry", "type": "uint48"},
				{"name": "authorizationExpiry", "type": "uint48"},
				{"name": "refundExpiry", "type": "uint48"},
				{"name": "minFeeBps", "type": "uint16"},
				{"name": "maxFeeBps", "type": "uint16"},
				{"name": "feeReceiver", "type": "address"},
				{"name": "salt", "type": "uint256"}
			]},
			{"name": "signature", "type": "bytes"}
		],
		"outputs": []
	},
	{
		"name": "capture",
		"type": "function",
		"stateMutability": "nonpayable",
		"inputs": [
			{"name": "paymentInfo", "type": "tuple", "components": [
				{"name": "operator", "type": "address"},
				{"name": "payer", "type": "address"},
				{"name": "receiver", "type": "address"},
				{"name": "token", "type": "address"},
				{"name": "maxAmount", "type": "uint120"},
				{"name": "preApprovalExpiry", "type": "uint48"},
				{"name": "authorizationExpiry", "type": "uint48"},
				{"name": "refundExpiry", "type": "uint48"},
				{"name": "minFeeBps", "type": "uint16"},
				{"name": "maxFeeBps", "type": "uint16"},
				{"name": "feeReceiver", "type": "address"},
				{"name": "salt", "type": "uint256"}
			]},
			{"name": "amount", "type": "uint256"},
			{"name": "feeBps", "type": "uint16"}
		],
		"outputs": []
	},
	{
		"name": "void",
		"type": "function",
		"stateMutability": "nonpayable",
		"inputs": [
			{"name": "paymentInfo", "type": "tuple", "components": [
				{"name": "operator", "type": "address"},
				{"name": "payer", "type": "address"},
				{"name": "receiver", "type": "address"},
				{"name": "token", "type": "address"},
				{"name": "maxAmount", "type": "uint120"},
				{"name": "preApprovalExpiry", "type": "uint48"},
				{"name": "authorizationExpiry", "type": "uint48"},
				{"name": "refundExpiry", "type": "uint48"},
				{"name": "minFeeBps", "type": "uint16"},
				{"name": "maxFeeBps", "type": "uint16"},
				{"name": "feeReceiver", "type": "address"},
				{"name": "salt", "type": "uint256"}
			]}
		],
		"outputs": []
	},
	{
		"name": "charge",
		"type": "function",
		"stateMutability": "nonpayable",
		"inputs": [
			{"name": "paymentInfo", "type": "tuple", "components": [
				{"name": "operator", "type": "address"},
				{"name": "payer", "type": "address"},
				{"name": "receiver", "type": "address"},
				{"name": "token", "type": "address"},
				{"name": "maxAmount", "type": "uint120"},
				{"name": "preApprovalExpiry", "type": "uint48"},
				{"name": "authorizationExpiry", "type": "uint48"},
				{"name": "refundExpiry", "type": "uint48"},
				{"name": "minFeeBps", "type": "uint16"},
				{"name": "maxFeeBps", "type": "uint16"},
				{"name": "feeReceiver", "type": "address"},
				{"name": "salt", "type": "uint256"}
			]},
			{"name": "signature", "type": "bytes"},
			{"name": "amount", "type": "uint256"},
			{"name": "feeBps", "type": "uint16"}
		],
		"outputs": []
	},
	{
		"name": "getHash",
		"type": "function",
		"stateMutability": "view",
		"inputs": [
			{"name": "paymentInfo", "type": "tuple", "components": [
				{"name": "operator", "type": "address"},
				{"name": "payer", "type": "address"},
				{"name": "receiver", "type": "address"},
				{"name": "token", "type": "address"},
				{"name": "maxAmount", "type": "uint120"},
				{"name": "preApprovalExpiry", "type": "uint48"},
				{"name": "authorizationExpiry", "type": "uint48"},
				{"name": "refundExpiry", "type": "uint48"},
				{"name": "minFeeBps", "type": "uint16"},
				{"name": "maxFeeBps", "type": "uint16"},
				{"name": "feeReceiver", "type": "address"},
				{"name": "salt", "type": "uint256"}
			]}
		],
		"outputs": [{"name": "", "type": "bytes32"}]
	}
]`

var parsedEscrowABI = mustParseEscrowABI()

func mustParseEscrowABI() abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(escrowABI))
	if err != nil {
		panic(fmt.Sprintf("chainadapter: invalid embedded escrow ABI: %v", err))
	}
	return parsed
}

// escrowPaymentInfo mirrors the Solidity PaymentInfo tuple for ABI
// packing/unpacking; field order and types must match escrowABI exactly.
type escrowPaymentInfo struct {
	Operator            common.Address
	Payer               common.Address
	Receiver            common.Address
	Token               common.Address
	MaxAmount           *big.Int
	PreApprovalExpiry   uint64
	AuthorizationExpiry uint64
	RefundExpiry        uint64
	MinFeeBps           uint16
	MaxFeeBps           uint16
	FeeReceiver         common.Address
	Salt                *big.Int
}

func toEscrowPaymentInfo(p paymentinfo.PaymentInfo) escrowPaymentInfo {
	return escrowPaymentInfo{
		Operator:            p.Operator,
		Payer:               p.Payer,
		Receiver:            p.Receiver,
		Token:               p.Token,
		MaxAmount:           p.MaxAmount.BigInt(),
		PreApprovalExpiry:   uint64(p.PreApprovalExpiry.Unix()),
		AuthorizationExpiry: uint64(p.AuthorizationExpiry.Unix()),
		RefundExpiry:        uint64(p.RefundExpiry.Unix()),
		MinFeeBps:           p.MinFeeBps,
		MaxFeeBps:           p.MaxFeeBps,
		FeeReceiver:         p.FeeReceiver,
		Salt:                p.Salt,
	}
}

// EscrowClient issues calls against a network's escrow contract.
type EscrowClient struct {
	wallet  OperatorWallet
	clients *ClientSet
}

// NewEscrowClient constructs an EscrowClient bound to wallet for signing and
// clients for read-only calls.
func NewEscrowClient(wallet OperatorWallet, clients *ClientSet) *EscrowClient {
	return &EscrowClient{wallet: wallet, clients: clients}
}

// OperatorAddress returns the custodial address every authorize/capture/void
// call is signed and submitted from. A PaymentInfo's `operator` field is
// always this address, never caller-supplied.
func (e *EscrowClient) OperatorAddress() common.Address {
	return e.wallet.Address()
}

// Authorize submits the signed PaymentInfo authorization to open a session.
func (e *EscrowClient) Authorize(ctx context.Context, network Network, info paymentinfo.PaymentInfo, signature []byte) TxResult {
	data, err := parsedEscrowABI.Pack("authorize", toEscrowPaymentInfo(info), signature)
	if err != nil {
		return TxResult{Err: fmt.Errorf("chainadapter: failed to pack authorize: %w", err)}
	}
	return e.wallet.SendContractTx(ctx, network, network.EscrowAddress, data)
}

// Capture submits a capture against an already-authorized session.
func (e *EscrowClient) Capture(ctx context.Context, network Network, info paymentinfo.PaymentInfo, amount *big.Int, feeBps uint16) TxResult {
	data, err := parsedEscrowABI.Pack("capture", toEscrowPaymentInfo(info), amount, feeBps)
	if err != nil {
		return TxResult{Err: fmt.Errorf("chainadapter: failed to pack capture: %w", err)}
	}
	return e.wallet.SendContractTx(ctx, network, network.EscrowAddress, data)
}

// Void releases an authorized session's remaining balance back to the payer.
func (e *EscrowClient) Void(ctx context.Context, network Network, info paymentinfo.PaymentInfo) TxResult {
	data, err := parsedEscrowABI.Pack("void", toEscrowPaymentInfo(info))
	if err != nil {
		return TxResult{Err: fmt.Errorf("chainadapter: failed to pack void: %w", err)}
	}
	return e.wallet.SendContractTx(ctx, network, network.EscrowAddress, data)
}

// Charge combines authorize and an immediate capture in one call. The
// `exact` scheme does not use it: it settles through
// TokenClient.TransferWithAuthorization.
func (e *EscrowClient) Charge(ctx context.Context, network Network, info paymentinfo.PaymentInfo, signature []byte, amount *big.Int, feeBps uint16) TxResult {
	data, err := parsedEscrowABI.Pack("charge", toEscrowPaymentInfo(info), signature, amount, feeBps)
	if err != nil {
		return TxResult{Err: fmt.Errorf("chainadapter: failed to pack charge: %w", err)}
	}
	return e.wallet.SendContractTx(ctx, network, network.EscrowAddress, data)
}

// CaptureCallData packs a capture call without submitting it, for use as one
// inner call of an aggregated Multicall3 batch (§4.6).
func (e *EscrowClient) CaptureCallData(info paymentinfo.PaymentInfo, amount *big.Int, feeBps uint16) ([]byte, error) {
	data, err := parsedEscrowABI.Pack("capture", toEscrowPaymentInfo(info), amount, feeBps)
	if err != nil {
		return nil, fmt.Errorf("chainadapter: failed to pack capture: %w", err)
	}
	return data, nil
}

// VoidCallData packs a void call without submitting it, for use as one inner
// call of an aggregated Multicall3 batch (§4.7 reclaim-all).
func (e *EscrowClient) VoidCallData(info paymentinfo.PaymentInfo) ([]byte, error) {
	data, err := parsedEscrowABI.Pack("void", toEscrowPaymentInfo(info))
	if err != nil {
		return nil, fmt.Errorf("chainadapter: failed to pack void: %w", err)
	}
	return data, nil
}

// GetHash reads the escrow contract's canonical session id for info, the
// source of truth paymentinfo.Hash locally approximates (§4.2).
func (e *EscrowClient) GetHash(ctx context.Context, network Network, info paymentinfo.PaymentInfo) ([32]byte, error) {
	client, err := e.clients.Dial(ctx, network)
	if err != nil {
		return [32]byte{}, err
	}

	data, err := parsedEscrowABI.Pack("getHash", toEscrowPaymentInfo(info))
	if err != nil {
		return [32]byte{}, fmt.Errorf("chainadapter: failed to pack getHash: %w", err)
	}

	output, err := client.CallContract(ctx, callMsg(e.wallet.Address(), network.EscrowAddress, big.NewInt(0), data), nil)
	if err != nil {
		return [32]byte{}, fmt.Errorf("chainadapter: getHash call failed: %w", err)
	}

	values, err := parsedEscrowABI.Unpack("getHash", output)
	if err != nil || len(values) != 1 {
		return [32]byte{}, fmt.Errorf("chainadapter: failed to unpack getHash result: %w", err)
	}
	hash, ok := values[0].([32]byte)
	if !ok {
		return [32]byte{}, fmt.Errorf("chainadapter: unexpected getHash return type")
	}
	return hash, nil
}

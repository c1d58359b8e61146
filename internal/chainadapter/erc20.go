package chainadapter

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// erc20ABI declares the read-only surface used to sanity-check a payer's
// balance and nonce usage before submitting an authorization on-chain
// (§4.2 verifyBalance), grounded in the ERC-20/ERC-3009 call shapes used by
// other_examples/a84235d3_vorpalengineering-x402-go__facilitator-verify.go.go.
const erc20ABI = `[
	{
		"name": "balanceOf",
		"type": "function",
		"stateMutability": "view",
		"inputs": [{"name": "account", "type": "address"}],
		"outputs": [{"name": "", "type": "uint256"}]
	},
	{
		"name": "authorizationState",
		"type": "function",
		"stateMutability": "view",
		"inputs": [
			{"name": "authorizer", "type": "address"},
			{"name": "nonce", "type": "bytes32"}
		],
		"outputs": [{"name": "", "type": "bool"}]
	},
	{
		"name": "transferWithAuthorization",
		"type": "function",
		"stateMutability": "nonpayable",
		"inputs": [
			{"name": "from", "type": "address"},
			{"name": "to", "type": "address"},
			{"name": "value", "type": "uint256"},
			{"name": "validAfter", "type": "uint256"},
			{"name": "validBefore", "type": "uint256"},
			{"name": "nonce", "type": "bytes32"},
			{"name": "signature", "type": "bytes"}
		],
		"outputs": []
	}
]`

var parsedERC20ABI = mustParseERC20ABI()

func mustParseERC20ABI() abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(erc20ABI))
	if err != nil {
		panic(fmt.Sprintf("chainadapter: invalid embedded erc20 ABI: %v", err))
	}
	return parsed
}

// TokenClient issues read-only calls and, for the `exact` scheme's one-shot
// settlement, direct writes against an ERC-20/ERC-3009 token.
type TokenClient struct {
	clients *ClientSet
	caller  common.Address
	wallet  OperatorWallet
}

// NewTokenClient constructs a TokenClient; caller is the address eth_call
// requests are made "from" (irrelevant for the view functions, but kept
// consistent with EscrowClient's call shape); wallet signs and submits
// transferWithAuthorization for the `exact` scheme.
func NewTokenClient(clients *ClientSet, caller common.Address, wallet OperatorWallet) *TokenClient {
	return &TokenClient{clients: clients, caller: caller, wallet: wallet}
}

// BalanceOf returns the token balance of account in atomic units.
func (t *TokenClient) BalanceOf(ctx context.Context, network Network, token, account common.Address) (*big.Int, error) {
	client, err := t.clients.Dial(ctx, network)
	if err != nil {
		return nil, err
	}
	data, err := parsedERC20ABI.Pack("balanceOf", account)
	if err != nil {
		return nil, fmt.Errorf("chainadapter: failed to pack balanceOf: %w", err)
	}
	output, err := client.CallContract(ctx, callMsg(t.caller, token, big.NewInt(0), data), nil)
	if err != nil {
		return nil, fmt.Errorf("chainadapter: balanceOf call failed: %w", err)
	}
	values, err := parsedERC20ABI.Unpack("balanceOf", output)
	if err != nil || len(values) != 1 {
		return nil, fmt.Errorf("chainadapter: failed to unpack balanceOf result: %w", err)
	}
	balance, ok := values[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("chainadapter: unexpected balanceOf return type")
	}
	return balance, nil
}

// IsAuthorizationUsed reports whether authorizer has already consumed nonce
// via a prior transferWithAuthorization/receiveWithAuthorization call,
// guarding against replay before the facilitator submits one on-chain.
func (t *TokenClient) IsAuthorizationUsed(ctx context.Context, network Network, token, authorizer common.Address, nonce [32]byte) (bool, error) {
	client, err := t.clients.Dial(ctx, network)
	if err != nil {
		return false, err
	}
	data, err := parsedERC20ABI.Pack("authorizationState", authorizer, nonce)
	if err != nil {
		return false, fmt.Errorf("chainadapter: failed to pack authorizationState: %w", err)
	}
	output, err := client.CallContract(ctx, callMsg(t.caller, token, big.NewInt(0), data), nil)
	if err != nil {
		return false, fmt.Errorf("chainadapter: authorizationState call failed: %w", err)
	}
	values, err := parsedERC20ABI.Unpack("authorizationState", output)
	if err != nil || len(values) != 1 {
		return false, fmt.Errorf("chainadapter: failed to unpack authorizationState result: %w", err)
	}
	used, ok := values[0].(bool)
	if !ok {
		return false, fmt.Errorf("chainadapter: unexpected authorizationState return type")
	}
	return used, nil
}

// TransferWithAuthorization submits a one-shot ERC-3009 transfer directly to
// the token, bypassing the escrow contract entirely. This is the `exact`
// scheme's settlement path (§4.5): no Session row is ever opened for it.
func (t *TokenClient) TransferWithAuthorization(ctx context.Context, network Network, token, from, to common.Address, value *big.Int, validAfter, validBefore int64, nonce [32]byte, signature []byte) TxResult {
	data, err := parsedERC20ABI.Pack("transferWithAuthorization", from, to, value, big.NewInt(validAfter), big.NewInt(validBefore), nonce, signature)
	if err != nil {
		return TxResult{Err: fmt.Errorf("chainadapter: failed to pack transferWithAuthorization: %w", err)}
	}
	return t.wallet.SendContractTx(ctx, network, token, data)
}

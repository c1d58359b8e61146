package chainadapter

import (
	"context"
	"fmt"
	"strings"

	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// Multicall3Address is the canonical Multicall3 deployment address, identical
// across every EVM chain it has been deployed to. It is a fixed public
// standard (not part of any example repo's own contracts), so its ABI below
// is hand-declared rather than grounded in a pack file; see DESIGN.md.
var Multicall3Address = common.HexToAddress("0xcA11bde05977b3631167028862bE2a173976CA11")

const multicall3ABI = `[
	{
		"name": "aggregate3",
		"type": "function",
		"stateMutability": "payable",
		"inputs": [
			{
				"name": "calls",
				"type": "tuple[]",
				"components": [
					{"name": "target", "type": "address"},
					{"name": "allowFailure", "type": "bool"},
					{"name": "callData", "type": "bytes"}
				]
			}
		],
		"outputs": [
			{
				"name": "returnData",
				"type": "tuple[]",
				"components": [
					{"name": "success", "type": "bool"},
					{"name": "returnData", "type": "bytes"}
				]
			}
		]
	}
]`

var parsedMulticall3ABI = mustParseMulticall3ABI()

func mustParseMulticall3ABI() abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(multicall3ABI))
	if err != nil {
		panic(fmt.Sprintf("chainadapter: invalid embedded multicall3 ABI: %v", err))
	}
	return parsed
}

// multicall3Call mirrors the Multicall3Call3 Solidity tuple for ABI packing.
type multicall3Call struct {
	Target       common.Address
	AllowFailure bool
	CallData     []byte
}

// multicall3Result mirrors the Multicall3Result Solidity tuple for ABI
// unpacking.
type multicall3Result struct {
	Success    bool
	ReturnData []byte
}

func packAggregate3(calls []MulticallCall) ([]byte, error) {
	packedCalls := make([]multicall3Call, len(calls))
	for i, c := range calls {
		packedCalls[i] = multicall3Call{Target: c.Target, AllowFailure: c.AllowFailure, CallData: c.CallData}
	}
	data, err := parsedMulticall3ABI.Pack("aggregate3", packedCalls)
	if err != nil {
		return nil, fmt.Errorf("chainadapter: failed to pack aggregate3: %w", err)
	}
	return data, nil
}

// aggregate3Output mirrors aggregate3's single named output; its field name
// must match the ABI's output name ("returnData") case-insensitively for
// UnpackIntoInterface to populate it.
type aggregate3Output struct {
	ReturnData []multicall3Result
}

func unpackAggregate3(output []byte) ([]MulticallResult, error) {
	var decoded aggregate3Output
	if err := parsedMulticall3ABI.UnpackIntoInterface(&decoded, "aggregate3", output); err != nil {
		return nil, fmt.Errorf("chainadapter: failed to unpack aggregate3 result: %w", err)
	}
	out := make([]MulticallResult, len(decoded.ReturnData))
	for i, r := range decoded.ReturnData {
		out[i] = MulticallResult{Success: r.Success, ReturnData: r.ReturnData}
	}
	return out, nil
}

// sendMulticall3 aggregates calls into a single aggregate3 transaction,
// decodes each inner call's success/return data from an eth_call simulation,
// then submits the transaction and waits for its receipt.
//
// Because a mined transaction's return data isn't directly retrievable from
// a receipt, the aggregate3 result is recovered by eth_call-simulating the
// same call immediately before submission; the real transaction is then sent
// so the on-chain effects persist. This mirrors how the teacher's settlement
// worker (internal/settlement/worker.go) separates dry-run estimation from
// submission.
func sendMulticall3(
	ctx context.Context,
	clients *ClientSet,
	network Network,
	sign txSigner,
	from common.Address,
	nonces *nonceManager,
	calls []MulticallCall,
) (TxResult, []MulticallResult) {
	packed, err := packAggregate3(calls)
	if err != nil {
		return TxResult{Err: err}, nil
	}

	client, dialErr := clients.Dial(ctx, network)
	if dialErr != nil {
		return TxResult{Err: dialErr}, nil
	}

	simOutput, simErr := client.CallContract(ctx, callMsg(from, Multicall3Address, big.NewInt(0), packed), nil)
	var perCall []MulticallResult
	if simErr == nil {
		perCall, _ = unpackAggregate3(simOutput)
	}

	result := sendAndWait(ctx, clients, network, sign, from, nonces, Multicall3Address, big.NewInt(0), packed)
	return result, perCall
}

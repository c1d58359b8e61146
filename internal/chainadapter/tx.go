package chainadapter

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
)

// txSigner signs tx and returns the signed transaction, binding whichever
// operator-wallet variant produced it without tx.go needing to know which.
type txSigner func(tx *types.Transaction) (*types.Transaction, error)

// nonceManager serializes nonce allocation for a single operator address
// across concurrent submissions, grounded in the teacher's settlement
// worker's single-flight submission pattern (internal/settlement/worker.go).
type nonceManager struct {
	mu   sync.Mutex
	next map[string]uint64 // keyed by network id
	have map[string]bool   // whether next holds a known nonce for the network
}

func newNonceManager() *nonceManager {
	return &nonceManager{next: make(map[string]uint64), have: make(map[string]bool)}
}

func (n *nonceManager) next_(ctx context.Context, client interface {
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
}, networkID string, account common.Address) (uint64, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.have[networkID] {
		nonce := n.next[networkID]
		n.next[networkID] = nonce + 1
		return nonce, nil
	}

	nonce, err := client.PendingNonceAt(ctx, account)
	if err != nil {
		return 0, fmt.Errorf("chainadapter: failed to fetch nonce: %w", err)
	}
	n.next[networkID] = nonce + 1
	n.have[networkID] = true
	return nonce, nil
}

// reset clears the cached nonce for a network after a submission error, so
// the next attempt re-reads the chain's pending nonce instead of drifting.
func (n *nonceManager) reset(networkID string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.have, networkID)
}

var networkLocks sync.Map // map[string]*sync.Mutex, keyed by network id

// withNetworkLock serializes transaction submission per network id across
// every caller in the process, mirroring the teacher's per-resource mutex
// pattern in internal/settlement/worker.go so two goroutines never submit
// with the same nonce.
func withNetworkLock(networkID string, fn func() TxResult) TxResult {
	lockIface, _ := networkLocks.LoadOrStore(networkID, &sync.Mutex{})
	lock := lockIface.(*sync.Mutex)
	lock.Lock()
	defer lock.Unlock()
	return fn()
}

func sendAndWait(
	ctx context.Context,
	clients *ClientSet,
	network Network,
	sign txSigner,
	from common.Address,
	nonces *nonceManager,
	to common.Address,
	value *big.Int,
	callData []byte,
) TxResult {
	client, err := clients.Dial(ctx, network)
	if err != nil {
		return TxResult{Err: err}
	}

	nonce, err := nonces.next_(ctx, client, network.ID, from)
	if err != nil {
		return TxResult{Err: err}
	}

	gasTipCap, err := client.SuggestGasTipCap(ctx)
	if err != nil {
		nonces.reset(network.ID)
		return TxResult{Err: fmt.Errorf("chainadapter: failed to suggest gas tip: %w", err)}
	}
	head, err := client.HeaderByNumber(ctx, nil)
	if err != nil {
		nonces.reset(network.ID)
		return TxResult{Err: fmt.Errorf("chainadapter: failed to fetch head: %w", err)}
	}
	baseFee := head.BaseFee
	if baseFee == nil {
		baseFee = big.NewInt(0)
	}
	gasFeeCap := new(big.Int).Add(new(big.Int).Mul(baseFee, big.NewInt(2)), gasTipCap)

	gasLimit, err := client.EstimateGas(ctx, callMsg(from, to, value, callData))
	if err != nil {
		nonces.reset(network.ID)
		return TxResult{Err: fmt.Errorf("chainadapter: failed to estimate gas: %w", err)}
	}
	gasLimit = gasLimit + gasLimit/5 // headroom against estimation drift

	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   big.NewInt(network.ChainID),
		Nonce:     nonce,
		GasTipCap: gasTipCap,
		GasFeeCap: gasFeeCap,
		Gas:       gasLimit,
		To:        &to,
		Value:     value,
		Data:      callData,
	})

	signed, err := sign(tx)
	if err != nil {
		nonces.reset(network.ID)
		return TxResult{Err: fmt.Errorf("chainadapter: failed to sign transaction: %w", err)}
	}

	if err := client.SendTransaction(ctx, signed); err != nil {
		nonces.reset(network.ID)
		return TxResult{Err: fmt.Errorf("chainadapter: failed to submit transaction: %w", err)}
	}

	return waitForReceipt(ctx, client, signed.Hash(), network.Confirmations)
}

func waitForReceipt(ctx context.Context, client *ethclient.Client, txHash common.Hash, confirmations uint64) TxResult {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return TxResult{TxHash: txHash, Err: ctx.Err()}
		case <-ticker.C:
			receipt, err := client.TransactionReceipt(ctx, txHash)
			if err != nil {
				continue // not yet mined
			}
			head, err := client.HeaderByNumber(ctx, nil)
			if err != nil {
				continue
			}
			if head.Number.Uint64() < receipt.BlockNumber.Uint64()+confirmations {
				continue // mined, awaiting confirmations
			}
			return TxResult{
				Success:  receipt.Status == types.ReceiptStatusSuccessful,
				TxHash:   txHash,
				Reverted: receipt.Status != types.ReceiptStatusSuccessful,
			}
		}
	}
}

func callMsg(from, to common.Address, value *big.Int, data []byte) ethereum.CallMsg {
	return ethereum.CallMsg{From: from, To: &to, Value: value, Data: data}
}

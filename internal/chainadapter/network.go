package chainadapter

import (
	"context"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
)

// Network is the subset of network configuration the adapter needs to reach
// a chain and submit transactions against it.
type Network struct {
	ID            string
	ChainID       int64
	RPCURL        string
	EscrowAddress common.Address
	Confirmations uint64
}

// ClientSet lazily dials and caches an *ethclient.Client per network id, so
// repeated calls against the same network reuse one connection.
type ClientSet struct {
	mu      sync.Mutex
	clients map[string]*ethclient.Client
}

// NewClientSet constructs an empty, ready-to-use ClientSet.
func NewClientSet() *ClientSet {
	return &ClientSet{clients: make(map[string]*ethclient.Client)}
}

// Dial returns the cached client for network, dialing it on first use.
func (c *ClientSet) Dial(ctx context.Context, network Network) (*ethclient.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if client, ok := c.clients[network.ID]; ok {
		return client, nil
	}

	client, err := ethclient.DialContext(ctx, network.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("chainadapter: failed to dial %s: %w", network.ID, err)
	}
	c.clients[network.ID] = client
	return client, nil
}

// Close disconnects every cached client.
func (c *ClientSet) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, client := range c.clients {
		client.Close()
	}
	c.clients = make(map[string]*ethclient.Client)
}

package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

var ErrNetworkNotFound = errors.New("network not found")

// Network is an operator-provisioned EVM network the facilitator can
// service, registered via facilitatorctl rather than the HTTP surface.
type Network struct {
	ID                    string    `json:"id"`
	ChainID               int64     `json:"chain_id"`
	RPCURL                string    `json:"rpc_url"`
	EscrowAddress         string    `json:"escrow_address"`
	TokenAddress          string    `json:"token_address"`
	TokenCollectorAddress string    `json:"token_collector_address"`
	Multicall3Address     string    `json:"multicall3_address,omitempty"`
	TokenEIP712Name       string    `json:"token_eip712_name"`
	TokenEIP712Version    string    `json:"token_eip712_version"`
	Enabled               bool      `json:"enabled"`
	CreatedAt             time.Time `json:"created_at"`
	UpdatedAt             time.Time `json:"updated_at"`
}

const networkSelectColumns = `
	id, chain_id, rpc_url, escrow_address, token_address, token_collector_address,
	multicall3_address, token_eip712_name, token_eip712_version, enabled, created_at, updated_at`

func scanNetwork(row interface{ Scan(dest ...any) error }) (*Network, error) {
	n := &Network{}
	err := row.Scan(
		&n.ID, &n.ChainID, &n.RPCURL, &n.EscrowAddress, &n.TokenAddress, &n.TokenCollectorAddress,
		&n.Multicall3Address, &n.TokenEIP712Name, &n.TokenEIP712Version, &n.Enabled, &n.CreatedAt, &n.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNetworkNotFound
		}
		return nil, fmt.Errorf("failed to scan network: %w", err)
	}
	return n, nil
}

// CreateNetwork registers a new network. Called by `facilitatorctl network add`.
func (db *DB) CreateNetwork(ctx context.Context, n *Network) error {
	n.CreatedAt = time.Now().UTC()
	n.UpdatedAt = n.CreatedAt

	_, err := db.pool.Exec(ctx, `
		INSERT INTO networks (
			id, chain_id, rpc_url, escrow_address, token_address, token_collector_address,
			multicall3_address, token_eip712_name, token_eip712_version, enabled, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
	`, n.ID, n.ChainID, n.RPCURL, n.EscrowAddress, n.TokenAddress, n.TokenCollectorAddress,
		n.Multicall3Address, n.TokenEIP712Name, n.TokenEIP712Version, n.Enabled, n.CreatedAt, n.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create network: %w", err)
	}
	return nil
}

// GetNetwork retrieves a network by its CAIP-2 id.
func (db *DB) GetNetwork(ctx context.Context, id string) (*Network, error) {
	return scanNetwork(db.QueryRow(ctx, `SELECT `+networkSelectColumns+` FROM networks WHERE id = $1`, id))
}

// ListNetworks lists registered networks, optionally restricted to enabled ones.
func (db *DB) ListNetworks(ctx context.Context, enabledOnly bool) ([]*Network, error) {
	query := `SELECT ` + networkSelectColumns + ` FROM networks`
	if enabledOnly {
		query += ` WHERE enabled = true`
	}
	query += ` ORDER BY id`

	rows, err := db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list networks: %w", err)
	}
	defer rows.Close()

	var networks []*Network
	for rows.Next() {
		n, err := scanNetwork(rows)
		if err != nil {
			return nil, err
		}
		networks = append(networks, n)
	}
	return networks, rows.Err()
}

// SetNetworkEnabled toggles the enabled flag of a network's registry row.
// The server takes its networks from configuration, so the flag does not
// change what /verify or /settle accept; facilitatorctl reads it.
func (db *DB) SetNetworkEnabled(ctx context.Context, id string, enabled bool) error {
	result, err := db.ExecResult(ctx, `
		UPDATE networks SET enabled = $1, updated_at = NOW() WHERE id = $2
	`, enabled, id)
	if err != nil {
		return fmt.Errorf("failed to update network: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNetworkNotFound
	}
	return nil
}

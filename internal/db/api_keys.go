package db

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// ErrAPIKeyNotFound is returned when an API key is not found or already revoked.
var ErrAPIKeyNotFound = errors.New("api key not found or already revoked")

// apiKeyPrefix labels every raw key so callers and log scrubbers can
// recognize one on sight; "x402" ties it to the protocol this facilitator
// speaks rather than to any one deployment.
const apiKeyPrefix = "x402_"

// APIKey represents an API key used to authenticate /verify and /settle
// calls.
type APIKey struct {
	ID         uuid.UUID  `json:"id"`
	UserID     uuid.UUID  `json:"user_id"`
	Name       string     `json:"name"`
	KeyPrefix  string     `json:"key_prefix"`
	CreatedAt  time.Time  `json:"created_at"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
	RevokedAt  *time.Time `json:"revoked_at,omitempty"`
}

// CreateAPIKey generates a new API key for the given user.
// Returns the APIKey metadata and the raw key string (shown once to the user).
func (db *DB) CreateAPIKey(ctx context.Context, userID uuid.UUID, name string) (*APIKey, string, error) {
	randomBytes := make([]byte, 32)
	if _, err := rand.Read(randomBytes); err != nil {
		return nil, "", fmt.Errorf("failed to generate random key: %w", err)
	}

	rawKey := apiKeyPrefix + hex.EncodeToString(randomBytes)
	keyHash := HashToken(rawKey)
	keyPrefix := rawKey[:len(apiKeyPrefix)+4]

	apiKey := &APIKey{
		ID:        uuid.New(),
		UserID:    userID,
		KeyPrefix: keyPrefix,
		Name:      name,
		CreatedAt: time.Now().UTC(),
	}

	_, err := db.pool.Exec(ctx, `
		INSERT INTO api_keys (id, user_id, key_hash, key_prefix, name, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, apiKey.ID, apiKey.UserID, keyHash, apiKey.KeyPrefix, apiKey.Name, apiKey.CreatedAt)

	if err != nil {
		return nil, "", fmt.Errorf("failed to create API key: %w", err)
	}

	return apiKey, rawKey, nil
}

// GetAPIKeyByHash looks up an active (non-revoked) API key by its hash and
// updates last_used_at.
func (db *DB) GetAPIKeyByHash(ctx context.Context, keyHash string) (*APIKey, error) {
	apiKey := &APIKey{}
	err := db.QueryRow(ctx, `
		UPDATE api_keys
		SET last_used_at = NOW()
		WHERE key_hash = $1 AND revoked_at IS NULL
		RETURNING id, user_id, key_prefix, name, created_at, last_used_at, revoked_at
	`, keyHash).Scan(
		&apiKey.ID, &apiKey.UserID, &apiKey.KeyPrefix, &apiKey.Name,
		&apiKey.CreatedAt, &apiKey.LastUsedAt, &apiKey.RevokedAt,
	)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAPIKeyNotFound
		}
		return nil, fmt.Errorf("failed to get API key: %w", err)
	}

	return apiKey, nil
}

// ListAPIKeys returns all API keys for a user, including revoked ones.
func (db *DB) ListAPIKeys(ctx context.Context, userID uuid.UUID) ([]*APIKey, error) {
	rows, err := db.Query(ctx, `
		SELECT id, user_id, key_prefix, name, created_at, last_used_at, revoked_at
		FROM api_keys
		WHERE user_id = $1
		ORDER BY created_at DESC
	`, userID)

	if err != nil {
		return nil, fmt.Errorf("failed to list API keys: %w", err)
	}
	defer rows.Close()

	var keys []*APIKey
	for rows.Next() {
		key := &APIKey{}
		err := rows.Scan(
			&key.ID, &key.UserID, &key.KeyPrefix, &key.Name,
			&key.CreatedAt, &key.LastUsedAt, &key.RevokedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan API key: %w", err)
		}
		keys = append(keys, key)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating API keys: %w", err)
	}

	return keys, nil
}

// RevokeAPIKey soft-deletes an API key by setting revoked_at. Validates that
// the key belongs to the specified user.
func (db *DB) RevokeAPIKey(ctx context.Context, userID uuid.UUID, keyID uuid.UUID) error {
	result, err := db.ExecResult(ctx, `
		UPDATE api_keys
		SET revoked_at = NOW()
		WHERE id = $1 AND user_id = $2 AND revoked_at IS NULL
	`, keyID, userID)

	if err != nil {
		return fmt.Errorf("failed to revoke API key: %w", err)
	}

	if result.RowsAffected() == 0 {
		return ErrAPIKeyNotFound
	}

	return nil
}

// HasActiveAPIKeys checks if a user has any non-revoked API keys.
func (db *DB) HasActiveAPIKeys(ctx context.Context, userID uuid.UUID) (bool, error) {
	var hasKeys bool
	err := db.QueryRow(ctx, `
		SELECT EXISTS(SELECT 1 FROM api_keys WHERE user_id = $1 AND revoked_at IS NULL)
	`, userID).Scan(&hasKeys)

	if err != nil {
		return false, fmt.Errorf("failed to check API keys: %w", err)
	}

	return hasKeys, nil
}

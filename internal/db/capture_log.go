package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// CaptureTier identifies which batch policy produced a capture attempt (§4.6).
type CaptureTier string

const (
	CaptureTierOne   CaptureTier = "tier1" // pending balance crossed the threshold
	CaptureTierTwo   CaptureTier = "tier2" // authorizationExpiry approaching
	CaptureTierThree CaptureTier = "tier3" // inline capture requested synchronously
)

// CaptureLogStatus tracks an on-chain capture transaction's lifecycle.
type CaptureLogStatus string

const (
	CaptureLogStatusPending   CaptureLogStatus = "pending"
	CaptureLogStatusConfirmed CaptureLogStatus = "confirmed"
	CaptureLogStatusFailed    CaptureLogStatus = "failed"
)

var ErrCaptureLogNotFound = errors.New("capture log not found")

// CaptureLog records one batch capture transaction, which may cover several
// sessions' pending usage at once via a Multicall3 aggregation.
type CaptureLog struct {
	ID           uuid.UUID        `json:"id"`
	NetworkID    string           `json:"network_id"`
	Tier         CaptureTier      `json:"tier"`
	TxHash       *string          `json:"tx_hash,omitempty"`
	Status       CaptureLogStatus `json:"status"`
	ErrorMessage *string          `json:"error_message,omitempty"`
	CreatedAt    time.Time        `json:"created_at"`
	ConfirmedAt  *time.Time       `json:"confirmed_at,omitempty"`
}

// CreateCaptureLog begins a capture attempt and atomically claims the given
// pending usage logs for it, so a retried or overlapping scheduler tick
// cannot double-submit the same usage. Runs within the transaction
// returned by Tier1Candidates/Tier2Candidates, which the caller commits
// once its claims are recorded, before the on-chain submission.
func (db *DB) CreateCaptureLog(ctx context.Context, tx pgx.Tx, networkID string, tier CaptureTier, usageLogIDs []uuid.UUID) (*CaptureLog, error) {
	log := &CaptureLog{
		ID:        uuid.New(),
		NetworkID: networkID,
		Tier:      tier,
		Status:    CaptureLogStatusPending,
		CreatedAt: time.Now().UTC(),
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO capture_logs (id, network_id, tier, status, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, log.ID, log.NetworkID, log.Tier, log.Status, log.CreatedAt); err != nil {
		return nil, fmt.Errorf("failed to create capture log: %w", err)
	}

	if len(usageLogIDs) > 0 {
		if _, err := tx.Exec(ctx, `
			UPDATE usage_logs SET capture_log_id = $1 WHERE id = ANY($2)
		`, log.ID, usageLogIDs); err != nil {
			return nil, fmt.Errorf("failed to claim usage logs for capture: %w", err)
		}
	}

	return log, nil
}

// SyncCapture finalizes a confirmed on-chain capture: every usage log
// claimed by captureLogID is marked settled, and each named session's
// ledger moves the captured amounts from pending to captured. Runs inside
// a fresh transaction (the Tier*Candidates row locks have typically already
// been released by the time a receipt confirms).
func (db *DB) SyncCapture(ctx context.Context, captureLogID uuid.UUID, txHash string, sessionCaptured map[uuid.UUID]string) error {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin sync: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	now := time.Now().UTC()

	if _, err := tx.Exec(ctx, `
		UPDATE capture_logs SET status = $1, tx_hash = $2, confirmed_at = $3 WHERE id = $4
	`, CaptureLogStatusConfirmed, txHash, now, captureLogID); err != nil {
		return fmt.Errorf("failed to update capture log: %w", err)
	}

	if _, err := tx.Exec(ctx, `
		UPDATE usage_logs SET status = $1, settled_at = $2 WHERE capture_log_id = $3
	`, UsageLogStatusSettled, now, captureLogID); err != nil {
		return fmt.Errorf("failed to settle usage logs: %w", err)
	}

	for sessionID, amount := range sessionCaptured {
		if _, err := tx.Exec(ctx, `
			UPDATE sessions
			SET captured_amount = captured_amount + $1, pending_amount = pending_amount - $1, updated_at = $2
			WHERE id = $3
		`, amount, now, sessionID); err != nil {
			return fmt.Errorf("failed to update session %s ledger: %w", sessionID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit sync: %w", err)
	}
	return nil
}

// FailCapture marks a capture attempt failed and releases its claimed usage
// logs back to pending (capture_log_id cleared) so the next scheduler tick
// retries them.
func (db *DB) FailCapture(ctx context.Context, captureLogID uuid.UUID, reason string) error {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin fail-capture: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx, `
		UPDATE capture_logs SET status = $1, error_message = $2 WHERE id = $3
	`, CaptureLogStatusFailed, reason, captureLogID); err != nil {
		return fmt.Errorf("failed to mark capture log failed: %w", err)
	}

	if _, err := tx.Exec(ctx, `
		UPDATE usage_logs SET capture_log_id = NULL WHERE capture_log_id = $1
	`, captureLogID); err != nil {
		return fmt.Errorf("failed to release usage logs: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit fail-capture: %w", err)
	}
	return nil
}

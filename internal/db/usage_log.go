package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"facilitator/internal/atomicunits"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// UsageLogStatus tracks whether a debit has been settled by an on-chain capture.
type UsageLogStatus string

const (
	UsageLogStatusPending UsageLogStatus = "pending"
	UsageLogStatusSettled UsageLogStatus = "settled"
)

var ErrUsageLogNotFound = errors.New("usage log not found")

// UsageLog records one debit against a session's authorized balance.
// RequestID scopes (session_id, request_id) to a unique key, so replaying
// the same debit returns the original result instead of debiting twice.
type UsageLog struct {
	ID           uuid.UUID          `json:"id"`
	SessionID    uuid.UUID          `json:"session_id"`
	RequestID    string             `json:"request_id"`
	Amount       atomicunits.Amount `json:"amount"`
	Description  *string            `json:"description,omitempty"`
	Status       UsageLogStatus     `json:"status"`
	CaptureLogID *uuid.UUID         `json:"capture_log_id,omitempty"`
	CreatedAt    time.Time          `json:"created_at"`
	SettledAt    *time.Time         `json:"settled_at,omitempty"`
}

func scanUsageLog(row interface{ Scan(dest ...any) error }) (*UsageLog, error) {
	log := &UsageLog{}
	err := row.Scan(&log.ID, &log.SessionID, &log.RequestID, &log.Amount, &log.Description, &log.Status, &log.CaptureLogID, &log.CreatedAt, &log.SettledAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUsageLogNotFound
		}
		return nil, fmt.Errorf("failed to scan usage log: %w", err)
	}
	return log, nil
}

const usageLogSelectColumns = `id, session_id, request_id, amount, description, status, capture_log_id, created_at, settled_at`

// ListPendingUsageLogs returns a session's unsettled debits, the amount a
// capture against that session must cover.
func (db *DB) ListPendingUsageLogs(ctx context.Context, sessionID uuid.UUID) ([]*UsageLog, error) {
	rows, err := db.Query(ctx, `
		SELECT `+usageLogSelectColumns+`
		FROM usage_logs
		WHERE session_id = $1 AND status = $2
		ORDER BY created_at ASC
	`, sessionID, UsageLogStatusPending)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending usage logs: %w", err)
	}
	defer rows.Close()

	var logs []*UsageLog
	for rows.Next() {
		log, err := scanUsageLog(rows)
		if err != nil {
			return nil, err
		}
		logs = append(logs, log)
	}
	return logs, rows.Err()
}

// ListUsageLogsBySession returns every usage log for a session, newest first.
func (db *DB) ListUsageLogsBySession(ctx context.Context, sessionID uuid.UUID, limit, offset int) ([]*UsageLog, error) {
	rows, err := db.Query(ctx, `
		SELECT `+usageLogSelectColumns+`
		FROM usage_logs
		WHERE session_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`, sessionID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list usage logs: %w", err)
	}
	defer rows.Close()

	var logs []*UsageLog
	for rows.Next() {
		log, err := scanUsageLog(rows)
		if err != nil {
			return nil, err
		}
		logs = append(logs, log)
	}
	return logs, rows.Err()
}

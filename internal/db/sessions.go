package db

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"facilitator/internal/atomicunits"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// SessionStatus is the lifecycle state of an escrow session.
type SessionStatus string

const (
	SessionStatusActive   SessionStatus = "active"
	SessionStatusVoided   SessionStatus = "voided"
	SessionStatusExpired  SessionStatus = "expired"
	SessionStatusCaptured SessionStatus = "captured"
)

var (
	ErrSessionNotFound       = errors.New("session not found")
	ErrSessionNotActive      = errors.New("session is not active")
	ErrSessionExpired        = errors.New("session authorization has expired")
	ErrInsufficientBalance   = errors.New("debit would exceed the session's authorized amount")
	ErrSessionAlreadyTracked = errors.New("session already recorded")
)

// Session mirrors an on-chain escrow authorization (§4.2/§4.3): the
// PaymentInfo tuple plus the mutable ledger fields the facilitator tracks
// locally between captures.
type Session struct {
	ID                  uuid.UUID          `json:"id"`
	SessionID           string             `json:"session_id"`
	UserID              uuid.UUID          `json:"user_id"`
	NetworkID           string             `json:"network_id"`
	OperatorAddress     string             `json:"operator_address"`
	PayerAddress        string             `json:"payer_address"`
	ReceiverAddress     string             `json:"receiver_address"`
	TokenAddress        string             `json:"token_address"`
	MaxAmount           atomicunits.Amount `json:"max_amount"`
	CapturedAmount      atomicunits.Amount `json:"captured_amount"`
	PendingAmount       atomicunits.Amount `json:"pending_amount"`
	MinFeeBps           uint16             `json:"min_fee_bps"`
	MaxFeeBps           uint16             `json:"max_fee_bps"`
	FeeReceiverAddress  string             `json:"fee_receiver_address"`
	Salt                *big.Int           `json:"salt"`
	PreApprovalExpiry   time.Time          `json:"pre_approval_expiry"`
	AuthorizationExpiry time.Time          `json:"authorization_expiry"`
	RefundExpiry        time.Time          `json:"refund_expiry"`
	Status              SessionStatus      `json:"status"`
	// SessionTokenHash is the sha-256 hash of the 32-byte session-access
	// token handed to the payer once at creation. Never the cleartext token.
	SessionTokenHash string    `json:"-"`
	AuthorizeTxHash  *string   `json:"authorize_tx_hash,omitempty"`
	VoidTxHash       *string   `json:"void_tx_hash,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// Balance is the computed view over a session's ledger fields: captured +
// pending + available always equals the authorized maxAmount (§4.3).
type Balance struct {
	Authorized atomicunits.Amount `json:"authorized"`
	Captured   atomicunits.Amount `json:"captured"`
	Pending    atomicunits.Amount `json:"pending"`
	Available  atomicunits.Amount `json:"available"`
}

// Balance computes s's current Balance view.
func (s *Session) Balance() Balance {
	spent := atomicunits.FromBigInt(new(big.Int).Add(s.CapturedAmount.BigInt(), s.PendingAmount.BigInt()))
	available := atomicunits.FromBigInt(new(big.Int).Sub(s.MaxAmount.BigInt(), spent.BigInt()))
	return Balance{
		Authorized: s.MaxAmount,
		Captured:   s.CapturedAmount,
		Pending:    s.PendingAmount,
		Available:  available,
	}
}

// pgxPool is the subset of *pgxpool.Pool lockedSessionCandidates needs,
// kept narrow so it can be driven by db.pool directly.
type pgxPool interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

const sessionSelectColumns = `
	id, session_id, user_id, network_id, operator_address, payer_address, receiver_address,
	token_address, max_amount, captured_amount, pending_amount, min_fee_bps, max_fee_bps,
	fee_receiver_address, salt, pre_approval_expiry, authorization_expiry, refund_expiry,
	status, session_token_hash, authorize_tx_hash, void_tx_hash, created_at, updated_at`

func scanSession(row interface{ Scan(dest ...any) error }) (*Session, error) {
	s := &Session{}
	var salt string
	err := row.Scan(
		&s.ID, &s.SessionID, &s.UserID, &s.NetworkID, &s.OperatorAddress, &s.PayerAddress, &s.ReceiverAddress,
		&s.TokenAddress, &s.MaxAmount, &s.CapturedAmount, &s.PendingAmount, &s.MinFeeBps, &s.MaxFeeBps,
		&s.FeeReceiverAddress, &salt, &s.PreApprovalExpiry, &s.AuthorizationExpiry, &s.RefundExpiry,
		&s.Status, &s.SessionTokenHash, &s.AuthorizeTxHash, &s.VoidTxHash, &s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to scan session: %w", err)
	}
	parsedSalt, ok := new(big.Int).SetString(salt, 10)
	if !ok {
		return nil, fmt.Errorf("failed to parse session salt %q", salt)
	}
	s.Salt = parsedSalt
	return s, nil
}

// CreateSession records a newly authorized escrow session. Called after the
// facilitator's authorize transaction has been confirmed on-chain.
func (db *DB) CreateSession(ctx context.Context, s *Session) error {
	s.CreatedAt = time.Now().UTC()
	s.UpdatedAt = s.CreatedAt
	if s.Status == "" {
		s.Status = SessionStatusActive
	}

	_, err := db.pool.Exec(ctx, `
		INSERT INTO sessions (
			id, session_id, user_id, network_id, operator_address, payer_address, receiver_address,
			token_address, max_amount, captured_amount, pending_amount, min_fee_bps, max_fee_bps,
			fee_receiver_address, salt, pre_approval_expiry, authorization_expiry, refund_expiry,
			status, session_token_hash, authorize_tx_hash, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23)
	`,
		s.ID, s.SessionID, s.UserID, s.NetworkID, s.OperatorAddress, s.PayerAddress, s.ReceiverAddress,
		s.TokenAddress, s.MaxAmount, s.CapturedAmount, s.PendingAmount, s.MinFeeBps, s.MaxFeeBps,
		s.FeeReceiverAddress, s.Salt.String(), s.PreApprovalExpiry, s.AuthorizationExpiry, s.RefundExpiry,
		s.Status, s.SessionTokenHash, s.AuthorizeTxHash, s.CreatedAt, s.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

// GetSessionBySessionID retrieves a session by its on-chain session id (the
// escrow contract's getHash), the natural key callers address sessions by.
func (db *DB) GetSessionBySessionID(ctx context.Context, sessionID string) (*Session, error) {
	return scanSession(db.QueryRow(ctx, `SELECT `+sessionSelectColumns+` FROM sessions WHERE session_id = $1`, sessionID))
}

// GetSessionByID retrieves a session by its internal UUID.
func (db *DB) GetSessionByID(ctx context.Context, id uuid.UUID) (*Session, error) {
	return scanSession(db.QueryRow(ctx, `SELECT `+sessionSelectColumns+` FROM sessions WHERE id = $1`, id))
}

// ListSessionsByPayer lists sessions for a payer address on a network,
// newest first, backing the /payer/sessions surface.
func (db *DB) ListSessionsByPayer(ctx context.Context, payerAddress, networkID string, limit, offset int) ([]*Session, error) {
	rows, err := db.Query(ctx, `
		SELECT `+sessionSelectColumns+`
		FROM sessions
		WHERE payer_address = $1 AND network_id = $2
		ORDER BY created_at DESC
		LIMIT $3 OFFSET $4
	`, payerAddress, networkID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()
	return collectSessions(rows)
}

// ListSessionsByUser lists sessions created under a dashboard user's API
// keys, newest first.
func (db *DB) ListSessionsByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*Session, error) {
	rows, err := db.Query(ctx, `
		SELECT `+sessionSelectColumns+`
		FROM sessions
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()
	return collectSessions(rows)
}

func collectSessions(rows pgx.Rows) ([]*Session, error) {
	var sessions []*Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

// DebitResult is the outcome of DebitSession: the written (or replayed)
// UsageLog plus whether it replayed a prior request rather than writing.
type DebitResult struct {
	Log        *UsageLog
	Idempotent bool
	Balance    Balance
}

// DebitSession atomically reserves amount against a session's available
// balance, recording a pending UsageLog entry in the same transaction. It
// is the facilitator's equivalent of the debit_session stored procedure
// (§4.3): the balance check and the ledger write happen under one row lock
// so concurrent debits on the same session cannot overdraw it, and a replay
// of the same (session_id, request_id) returns the original result instead
// of debiting twice.
func (db *DB) DebitSession(ctx context.Context, sessionID uuid.UUID, requestID string, amount atomicunits.Amount, description *string) (*DebitResult, error) {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	var status SessionStatus
	var maxAmount, captured, pending string
	var authExpiry time.Time
	err = tx.QueryRow(ctx, `
		SELECT status, max_amount, captured_amount, pending_amount, authorization_expiry
		FROM sessions
		WHERE id = $1
		FOR UPDATE
	`, sessionID).Scan(&status, &maxAmount, &captured, &pending, &authExpiry)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to lock session: %w", err)
	}
	if status != SessionStatusActive {
		return nil, ErrSessionNotActive
	}
	if authExpiry.Before(time.Now().UTC()) {
		return nil, ErrSessionExpired
	}

	// Lock the session's usage_logs too (serialization guard per §4.3 step 3)
	// before checking for a prior identical request.
	if _, err := tx.Exec(ctx, `
		SELECT 1 FROM usage_logs WHERE session_id = $1 FOR UPDATE
	`, sessionID); err != nil {
		return nil, fmt.Errorf("failed to lock usage logs: %w", err)
	}

	if existing, err := scanUsageLog(tx.QueryRow(ctx, `
		SELECT `+usageLogSelectColumns+` FROM usage_logs WHERE session_id = $1 AND request_id = $2
	`, sessionID, requestID)); err == nil {
		max, _ := new(big.Int).SetString(maxAmount, 10)
		capturedAmt, _ := new(big.Int).SetString(captured, 10)
		pendingAmt, _ := new(big.Int).SetString(pending, 10)
		return &DebitResult{
			Log:        existing,
			Idempotent: true,
			Balance:    balanceFromParts(max, capturedAmt, pendingAmt),
		}, nil
	} else if !errors.Is(err, ErrUsageLogNotFound) {
		return nil, fmt.Errorf("failed to check for existing usage log: %w", err)
	}

	max, _ := new(big.Int).SetString(maxAmount, 10)
	capturedAmt, _ := new(big.Int).SetString(captured, 10)
	pendingAmt, _ := new(big.Int).SetString(pending, 10)
	spent := new(big.Int).Add(capturedAmt, pendingAmt)
	available := new(big.Int).Sub(max, spent)
	if available.Cmp(amount.BigInt()) < 0 {
		return nil, ErrInsufficientBalance
	}

	newPending := new(big.Int).Add(pendingAmt, amount.BigInt())
	if _, err := tx.Exec(ctx, `
		UPDATE sessions SET pending_amount = $1, updated_at = NOW() WHERE id = $2
	`, newPending.String(), sessionID); err != nil {
		return nil, fmt.Errorf("failed to update session balance: %w", err)
	}

	log := &UsageLog{
		ID:          uuid.New(),
		SessionID:   sessionID,
		RequestID:   requestID,
		Amount:      amount,
		Description: description,
		Status:      UsageLogStatusPending,
		CreatedAt:   time.Now().UTC(),
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO usage_logs (id, session_id, request_id, amount, description, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, log.ID, log.SessionID, log.RequestID, log.Amount, log.Description, log.Status, log.CreatedAt); err != nil {
		return nil, fmt.Errorf("failed to create usage log: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit debit: %w", err)
	}
	return &DebitResult{
		Log:     log,
		Balance: balanceFromParts(max, capturedAmt, new(big.Int).Add(pendingAmt, amount.BigInt())),
	}, nil
}

func balanceFromParts(maxAmount, captured, pending *big.Int) Balance {
	available := new(big.Int).Sub(maxAmount, new(big.Int).Add(captured, pending))
	return Balance{
		Authorized: atomicunits.FromBigInt(maxAmount),
		Captured:   atomicunits.FromBigInt(captured),
		Pending:    atomicunits.FromBigInt(pending),
		Available:  atomicunits.FromBigInt(available),
	}
}

// VoidSession marks a session voided after its on-chain void transaction
// confirms, releasing any unspent balance back to the payer.
func (db *DB) VoidSession(ctx context.Context, id uuid.UUID, txHash string) error {
	result, err := db.ExecResult(ctx, `
		UPDATE sessions
		SET status = $1, void_tx_hash = $2, updated_at = NOW()
		WHERE id = $3 AND status = $4
	`, SessionStatusVoided, txHash, id, SessionStatusActive)
	if err != nil {
		return fmt.Errorf("failed to void session: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrSessionNotActive
	}
	return nil
}

// ExpireStaleSessions marks every active session whose authorizationExpiry
// has passed and whose pending_amount is zero as expired, returning the
// number of sessions transitioned.
func (db *DB) ExpireStaleSessions(ctx context.Context) (int64, error) {
	result, err := db.ExecResult(ctx, `
		UPDATE sessions
		SET status = $1, updated_at = NOW()
		WHERE status = $2 AND authorization_expiry < NOW() AND pending_amount = 0
	`, SessionStatusExpired, SessionStatusActive)
	if err != nil {
		return 0, fmt.Errorf("failed to expire stale sessions: %w", err)
	}
	return result.RowsAffected(), nil
}

// Tier1Candidates selects active sessions on networkID whose pending
// balance has crossed threshold, locking each row (SKIP LOCKED) so two
// concurrent scheduler ticks never capture the same session twice (§4.6).
//
// The returned transaction holds those row locks; the caller MUST Commit
// (once its claims are recorded, before the on-chain submission) or
// Rollback it, or the locks leak for the life of the connection.
func (db *DB) Tier1Candidates(ctx context.Context, networkID string, threshold atomicunits.Amount, limit int) ([]*Session, pgx.Tx, error) {
	return lockedSessionCandidates(ctx, db.pool, `
		SELECT `+sessionSelectColumns+`
		FROM sessions
		WHERE network_id = $1 AND status = $2 AND pending_amount >= $3
		ORDER BY pending_amount DESC
		LIMIT $4
		FOR UPDATE SKIP LOCKED
	`, networkID, SessionStatusActive, threshold, limit)
}

// Tier2Candidates selects active sessions with any pending balance whose
// authorizationExpiry falls before `before`, so they capture ahead of
// expiry rather than losing unclaimed usage (§4.6). Same locking contract
// as Tier1Candidates.
func (db *DB) Tier2Candidates(ctx context.Context, networkID string, before time.Time, limit int) ([]*Session, pgx.Tx, error) {
	return lockedSessionCandidates(ctx, db.pool, `
		SELECT `+sessionSelectColumns+`
		FROM sessions
		WHERE network_id = $1 AND status = $2 AND pending_amount > 0 AND authorization_expiry < $3
		ORDER BY authorization_expiry ASC
		LIMIT $4
		FOR UPDATE SKIP LOCKED
	`, networkID, SessionStatusActive, before, limit)
}

func lockedSessionCandidates(ctx context.Context, pool pgxPool, query string, args ...interface{}) ([]*Session, pgx.Tx, error) {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to begin candidate selection: %w", err)
	}

	rows, err := tx.Query(ctx, query, args...)
	if err != nil {
		tx.Rollback(ctx) //nolint:errcheck
		return nil, nil, fmt.Errorf("failed to select candidates: %w", err)
	}
	sessions, err := collectSessions(rows)
	rows.Close()
	if err != nil {
		tx.Rollback(ctx) //nolint:errcheck
		return nil, nil, err
	}
	return sessions, tx, nil
}

package db

import (
	"context"
	"time"

	"facilitator/internal/atomicunits"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// Database defines the interface for all database operations.
// This interface enables mocking in handler unit tests.
type Database interface {
	// Connection management
	Ping(ctx context.Context) error
	Close()
	Migrate(ctx context.Context) error

	// User operations
	CreateUser(ctx context.Context, email, passwordHash string) (*User, error)
	GetUserByID(ctx context.Context, id uuid.UUID) (*User, error)
	GetUserByEmail(ctx context.Context, email string) (*User, error)
	UpdatePassword(ctx context.Context, userID uuid.UUID, passwordHash string) error

	// API key operations
	CreateAPIKey(ctx context.Context, userID uuid.UUID, name string) (*APIKey, string, error)
	GetAPIKeyByHash(ctx context.Context, keyHash string) (*APIKey, error)
	ListAPIKeys(ctx context.Context, userID uuid.UUID) ([]*APIKey, error)
	RevokeAPIKey(ctx context.Context, userID, keyID uuid.UUID) error
	HasActiveAPIKeys(ctx context.Context, userID uuid.UUID) (bool, error)

	// Session operations (escrow sessions, not login sessions)
	CreateSession(ctx context.Context, s *Session) error
	GetSessionBySessionID(ctx context.Context, sessionID string) (*Session, error)
	GetSessionByID(ctx context.Context, id uuid.UUID) (*Session, error)
	ListSessionsByPayer(ctx context.Context, payerAddress, networkID string, limit, offset int) ([]*Session, error)
	ListSessionsByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*Session, error)
	DebitSession(ctx context.Context, sessionID uuid.UUID, requestID string, amount atomicunits.Amount, description *string) (*DebitResult, error)
	VoidSession(ctx context.Context, id uuid.UUID, txHash string) error
	ExpireStaleSessions(ctx context.Context) (int64, error)
	Tier1Candidates(ctx context.Context, networkID string, threshold atomicunits.Amount, limit int) ([]*Session, pgx.Tx, error)
	Tier2Candidates(ctx context.Context, networkID string, before time.Time, limit int) ([]*Session, pgx.Tx, error)

	// Usage log operations
	ListPendingUsageLogs(ctx context.Context, sessionID uuid.UUID) ([]*UsageLog, error)
	ListUsageLogsBySession(ctx context.Context, sessionID uuid.UUID, limit, offset int) ([]*UsageLog, error)

	// Capture log operations
	CreateCaptureLog(ctx context.Context, tx pgx.Tx, networkID string, tier CaptureTier, usageLogIDs []uuid.UUID) (*CaptureLog, error)
	SyncCapture(ctx context.Context, captureLogID uuid.UUID, txHash string, sessionCaptured map[uuid.UUID]string) error
	FailCapture(ctx context.Context, captureLogID uuid.UUID, reason string) error

	// Network registry (operator-provisioned, managed via facilitatorctl)
	CreateNetwork(ctx context.Context, n *Network) error
	GetNetwork(ctx context.Context, id string) (*Network, error)
	ListNetworks(ctx context.Context, enabledOnly bool) ([]*Network, error)
	SetNetworkEnabled(ctx context.Context, id string, enabled bool) error

	// Transaction support
	BeginTx(ctx context.Context) (pgx.Tx, error)
}

// Ensure DB implements Database interface.
var _ Database = (*DB)(nil)

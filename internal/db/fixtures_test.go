package db

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"testing"
	"time"

	"facilitator/internal/atomicunits"
	"facilitator/internal/db/testutil"

	"github.com/google/uuid"
)

// Fixtures provides test data factories for the escrow domain.
type Fixtures struct {
	t  *testing.T
	db *DB
}

// NewFixtures creates a new Fixtures instance.
func NewFixtures(t *testing.T, database *DB) *Fixtures {
	return &Fixtures{
		t:  t,
		db: database,
	}
}

// CreateTestUser creates a dashboard account for testing.
func (f *Fixtures) CreateTestUser() *User {
	f.t.Helper()

	ctx := context.Background()
	email := fmt.Sprintf("test-%s@example.com", uuid.New().String())
	user, err := f.db.CreateUser(ctx, email, "$2a$10$testhashtesthashtesthash")
	if err != nil {
		f.t.Fatalf("Failed to create test user: %v", err)
	}
	return user
}

// CreateTestAPIKey creates an API key for userID, returning the metadata and
// the raw key string (as shown to the caller once at creation time).
func (f *Fixtures) CreateTestAPIKey(userID uuid.UUID) (*APIKey, string) {
	f.t.Helper()

	ctx := context.Background()
	key, raw, err := f.db.CreateAPIKey(ctx, userID, "test key")
	if err != nil {
		f.t.Fatalf("Failed to create test API key: %v", err)
	}
	return key, raw
}

// SessionOpt customizes a fixture session before it is inserted.
type SessionOpt func(*Session)

// WithMaxAmount overrides the session's authorized amount.
func WithMaxAmount(amount atomicunits.Amount) SessionOpt {
	return func(s *Session) { s.MaxAmount = amount }
}

// WithPendingAmount overrides the session's pending (uncaptured) amount.
func WithPendingAmount(amount atomicunits.Amount) SessionOpt {
	return func(s *Session) { s.PendingAmount = amount }
}

// WithCapturedAmount overrides the session's already-captured amount.
func WithCapturedAmount(amount atomicunits.Amount) SessionOpt {
	return func(s *Session) { s.CapturedAmount = amount }
}

// WithStatus overrides the session's lifecycle status.
func WithStatus(status SessionStatus) SessionOpt {
	return func(s *Session) { s.Status = status }
}

// WithAuthorizationExpiry overrides the session's authorizationExpiry.
func WithAuthorizationExpiry(t time.Time) SessionOpt {
	return func(s *Session) { s.AuthorizationExpiry = t }
}

// WithNetworkID overrides the network the session was authorized on.
func WithNetworkID(networkID string) SessionOpt {
	return func(s *Session) { s.NetworkID = networkID }
}

// CreateTestSession creates an active escrow session for userID, with a
// freshly derived session id and 1 USDC (atomic units, 6 decimals) of
// authorized balance by default.
func (f *Fixtures) CreateTestSession(userID uuid.UUID, opts ...SessionOpt) *Session {
	f.t.Helper()

	now := time.Now().UTC()
	s := &Session{
		ID:                  uuid.New(),
		SessionID:           testutil.RandomHash32(),
		UserID:              userID,
		NetworkID:           "eip155:84532",
		OperatorAddress:     testutil.RandomWalletAddress(),
		PayerAddress:        testutil.RandomWalletAddress(),
		ReceiverAddress:     testutil.RandomWalletAddress(),
		TokenAddress:        testutil.RandomWalletAddress(),
		MaxAmount:           atomicunits.New(1_000_000),
		CapturedAmount:      atomicunits.Zero,
		PendingAmount:       atomicunits.Zero,
		MinFeeBps:           0,
		MaxFeeBps:           100,
		FeeReceiverAddress:  testutil.RandomWalletAddress(),
		Salt:                randomSalt(f.t),
		PreApprovalExpiry:   now.Add(5 * time.Minute),
		AuthorizationExpiry: now.Add(24 * time.Hour),
		RefundExpiry:        now.Add(48 * time.Hour),
		Status:              SessionStatusActive,
		SessionTokenHash:    HashToken(testutil.RandomHash32()),
	}

	for _, opt := range opts {
		opt(s)
	}

	ctx := context.Background()
	if err := f.db.CreateSession(ctx, s); err != nil {
		f.t.Fatalf("Failed to create test session: %v", err)
	}

	created, err := f.db.GetSessionByID(ctx, s.ID)
	if err != nil {
		f.t.Fatalf("Failed to reload test session: %v", err)
	}
	return created
}

// CreateExpiredSession creates a session whose authorizationExpiry has
// already passed, for exercising expiry and reclaim paths.
func (f *Fixtures) CreateExpiredSession(userID uuid.UUID, opts ...SessionOpt) *Session {
	f.t.Helper()
	opts = append([]SessionOpt{WithAuthorizationExpiry(time.Now().UTC().Add(-1 * time.Hour))}, opts...)
	return f.CreateTestSession(userID, opts...)
}

// CreateTestUsageLog debits amount against sessionID under a freshly
// generated request id, returning the resulting pending usage log.
func (f *Fixtures) CreateTestUsageLog(sessionID uuid.UUID, amount atomicunits.Amount) *UsageLog {
	f.t.Helper()

	ctx := context.Background()
	result, err := f.db.DebitSession(ctx, sessionID, uuid.New().String(), amount, nil)
	if err != nil {
		f.t.Fatalf("Failed to create test usage log: %v", err)
	}
	return result.Log
}

// CreateTestNetwork registers a network for testing with a random CAIP-2 id
// unless overridden via opts.
func (f *Fixtures) CreateTestNetwork(opts ...func(*Network)) *Network {
	f.t.Helper()

	id := uuid.New()
	n := &Network{
		ID:                    fmt.Sprintf("eip155:%d", 900000+int(id[0])*1000+int(id[1])),
		ChainID:               84532,
		RPCURL:                "https://sepolia.base.org",
		EscrowAddress:         testutil.RandomWalletAddress(),
		TokenAddress:          testutil.RandomWalletAddress(),
		TokenCollectorAddress: testutil.RandomWalletAddress(),
		TokenEIP712Name:       "USDC",
		TokenEIP712Version:    "2",
		Enabled:               true,
	}
	for _, opt := range opts {
		opt(n)
	}

	ctx := context.Background()
	if err := f.db.CreateNetwork(ctx, n); err != nil {
		f.t.Fatalf("Failed to create test network: %v", err)
	}
	return n
}

func randomSalt(t *testing.T) *big.Int {
	t.Helper()
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		t.Fatalf("Failed to generate random salt: %v", err)
	}
	return new(big.Int).SetBytes(b)
}

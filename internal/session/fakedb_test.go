package session_test

import (
	"context"
	"time"

	"facilitator/internal/atomicunits"
	"facilitator/internal/db"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// fakeDatabase is a minimal hand-rolled stand-in for db.Database, enough to
// drive the Session Engine's validation paths without a live Postgres
// instance. Only the methods the engine actually calls are meaningful; the
// rest panic if ever reached, which is itself a useful assertion that a test
// isn't exercising more of the engine than it intends to.
type fakeDatabase struct {
	db.Database

	sessions     map[uuid.UUID]*db.Session
	byID         map[string]uuid.UUID
	debitErr     error
	debitResult  *db.DebitResult
	voidErr      error
	voidedTxHash string
}

func newFakeDatabase() *fakeDatabase {
	return &fakeDatabase{
		sessions: make(map[uuid.UUID]*db.Session),
		byID:     make(map[string]uuid.UUID),
	}
}

func (f *fakeDatabase) withSession(s *db.Session) *fakeDatabase {
	f.sessions[s.ID] = s
	f.byID[s.SessionID] = s.ID
	return f
}

func (f *fakeDatabase) GetSessionByID(ctx context.Context, id uuid.UUID) (*db.Session, error) {
	s, ok := f.sessions[id]
	if !ok {
		return nil, db.ErrSessionNotFound
	}
	return s, nil
}

func (f *fakeDatabase) GetSessionBySessionID(ctx context.Context, sessionID string) (*db.Session, error) {
	id, ok := f.byID[sessionID]
	if !ok {
		return nil, db.ErrSessionNotFound
	}
	return f.sessions[id], nil
}

func (f *fakeDatabase) DebitSession(ctx context.Context, sessionID uuid.UUID, requestID string, amount atomicunits.Amount, description *string) (*db.DebitResult, error) {
	if f.debitErr != nil {
		return nil, f.debitErr
	}
	if f.debitResult != nil {
		return f.debitResult, nil
	}
	return &db.DebitResult{}, nil
}

func (f *fakeDatabase) VoidSession(ctx context.Context, id uuid.UUID, txHash string) error {
	if f.voidErr != nil {
		return f.voidErr
	}
	f.voidedTxHash = txHash
	if s, ok := f.sessions[id]; ok {
		s.Status = db.SessionStatusVoided
	}
	return nil
}

func (f *fakeDatabase) ListPendingUsageLogs(ctx context.Context, sessionID uuid.UUID) ([]*db.UsageLog, error) {
	return nil, nil
}

func (f *fakeDatabase) BeginTx(ctx context.Context) (pgx.Tx, error) {
	panic("fakeDatabase: BeginTx not implemented; test should not reach a capture path")
}

func testSession(opts ...func(*db.Session)) *db.Session {
	now := time.Now().UTC()
	s := &db.Session{
		ID:                  uuid.New(),
		SessionID:           "0x" + uuid.NewString(),
		UserID:              uuid.New(),
		NetworkID:           "base-sepolia",
		PayerAddress:        "0x1111111111111111111111111111111111111111",
		Status:              db.SessionStatusActive,
		SessionTokenHash:    db.HashToken("test-token"),
		AuthorizationExpiry: now.Add(time.Hour),
		MaxAmount:           atomicunits.New(1000),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

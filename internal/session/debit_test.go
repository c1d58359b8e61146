package session_test

import (
	"context"
	"testing"
	"time"

	"facilitator/internal/apierrors"
	"facilitator/internal/atomicunits"
	"facilitator/internal/db"
	"facilitator/internal/session"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func engineWithNetworks(store db.Database) *session.Engine {
	return session.New(store, nil, nil, map[string]session.NetworkInfo{
		"base-sepolia": {Tier3Threshold: time.Minute},
	})
}

func TestDebit_RejectsWrongOwner(t *testing.T) {
	s := testSession()
	store := newFakeDatabase().withSession(s)
	e := engineWithNetworks(store)

	_, err := e.Debit(context.Background(), session.DebitInput{
		SessionID:    s.ID,
		UserID:       uuid.New(), // not s.UserID
		SessionToken: "test-token",
		RequestID:    "req-1",
		Amount:       atomicunits.New(1),
	})

	require.Error(t, err)
	apiErr, ok := err.(*apierrors.Error)
	require.True(t, ok)
	assert.Equal(t, apierrors.CodeUnauthorized, apiErr.Code)
}

func TestDebit_RejectsWrongSessionToken(t *testing.T) {
	s := testSession()
	store := newFakeDatabase().withSession(s)
	e := engineWithNetworks(store)

	_, err := e.Debit(context.Background(), session.DebitInput{
		SessionID:    s.ID,
		UserID:       s.UserID,
		SessionToken: "not-the-right-token",
		RequestID:    "req-1",
		Amount:       atomicunits.New(1),
	})

	require.Error(t, err)
	apiErr, ok := err.(*apierrors.Error)
	require.True(t, ok)
	assert.Equal(t, apierrors.CodeInvalidSessionToken, apiErr.Code)
}

func TestDebit_RejectsInactiveSession(t *testing.T) {
	s := testSession(func(s *db.Session) { s.Status = db.SessionStatusVoided })
	store := newFakeDatabase().withSession(s)
	e := engineWithNetworks(store)

	_, err := e.Debit(context.Background(), session.DebitInput{
		SessionID:    s.ID,
		UserID:       s.UserID,
		SessionToken: "test-token",
		RequestID:    "req-1",
		Amount:       atomicunits.New(1),
	})

	require.Error(t, err)
	apiErr, ok := err.(*apierrors.Error)
	require.True(t, ok)
	assert.Equal(t, apierrors.CodeSessionInactive, apiErr.Code)
}

func TestDebit_RejectsExpiredAuthorization(t *testing.T) {
	s := testSession(func(s *db.Session) {
		s.AuthorizationExpiry = time.Now().UTC().Add(-time.Minute)
	})
	store := newFakeDatabase().withSession(s)
	e := engineWithNetworks(store)

	_, err := e.Debit(context.Background(), session.DebitInput{
		SessionID:    s.ID,
		UserID:       s.UserID,
		SessionToken: "test-token",
		RequestID:    "req-1",
		Amount:       atomicunits.New(1),
	})

	require.Error(t, err)
	apiErr, ok := err.(*apierrors.Error)
	require.True(t, ok)
	assert.Equal(t, apierrors.CodeSessionExpired, apiErr.Code)
}

func TestDebit_RejectsUnconfiguredNetwork(t *testing.T) {
	s := testSession(func(s *db.Session) { s.NetworkID = "unknown-net" })
	store := newFakeDatabase().withSession(s)
	e := engineWithNetworks(store)

	_, err := e.Debit(context.Background(), session.DebitInput{
		SessionID:    s.ID,
		UserID:       s.UserID,
		SessionToken: "test-token",
		RequestID:    "req-1",
		Amount:       atomicunits.New(1),
	})

	require.Error(t, err)
	apiErr, ok := err.(*apierrors.Error)
	require.True(t, ok)
	assert.Equal(t, apierrors.CodeInvalidNetwork, apiErr.Code)
}

func TestDebit_AppliesDebitWhenFarFromExpiry(t *testing.T) {
	s := testSession()
	result := &db.DebitResult{Balance: db.Balance{Authorized: atomicunits.New(1000)}}
	store := newFakeDatabase().withSession(s)
	store.debitResult = result
	e := engineWithNetworks(store)

	out, err := e.Debit(context.Background(), session.DebitInput{
		SessionID:    s.ID,
		UserID:       s.UserID,
		SessionToken: "test-token",
		RequestID:    "req-1",
		Amount:       atomicunits.New(5),
	})

	require.NoError(t, err)
	assert.False(t, out.Tier3Triggered)
	assert.Same(t, result, out.Result)
}

func TestDebit_MapsInsufficientBalanceError(t *testing.T) {
	s := testSession()
	store := newFakeDatabase().withSession(s)
	store.debitErr = db.ErrInsufficientBalance
	e := engineWithNetworks(store)

	_, err := e.Debit(context.Background(), session.DebitInput{
		SessionID:    s.ID,
		UserID:       s.UserID,
		SessionToken: "test-token",
		RequestID:    "req-1",
		Amount:       atomicunits.New(5000),
	})

	require.Error(t, err)
	apiErr, ok := err.(*apierrors.Error)
	require.True(t, ok)
	assert.Equal(t, apierrors.CodeInsufficientBalance, apiErr.Code)
}

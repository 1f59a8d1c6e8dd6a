package ledger

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cesardomingos/imagenius/internal/models"
)

type fakeStore struct {
	balances   map[string]int
	deductErr  error
	balanceErr error
	deducts    int
}

func newFakeStore() *fakeStore {
	return &fakeStore{balances: make(map[string]int)}
}

func (s *fakeStore) Balance(_ context.Context, ownerID string) (int, error) {
	if s.balanceErr != nil {
		return 0, s.balanceErr
	}
	balance, ok := s.balances[ownerID]
	if !ok {
		return 0, ErrNotFound
	}
	return balance, nil
}

func (s *fakeStore) Initialize(_ context.Context, ownerID string, credits int) error {
	s.balances[ownerID] = credits
	return nil
}

func (s *fakeStore) Deduct(_ context.Context, ownerID string, amount int) (bool, error) {
	s.deducts++
	if s.deductErr != nil {
		return false, s.deductErr
	}
	balance := s.balances[ownerID]
	if amount > balance {
		return false, nil
	}
	s.balances[ownerID] = balance - amount
	return true, nil
}

func (s *fakeStore) Credit(_ context.Context, ownerID string, amount int) error {
	s.balances[ownerID] += amount
	return nil
}

func authed(id string) models.Actor {
	return models.Actor{ID: id}
}

func guest(id string) models.Actor {
	return models.Actor{ID: id, Anonymous: true}
}

func TestBalanceInitializesNewUser(t *testing.T) {
	store := newFakeStore()
	accessor := NewAccessor(store, NewGuestWallet(2), 15, nil)

	balance, err := accessor.Balance(context.Background(), authed("u1"))
	require.NoError(t, err)
	assert.Equal(t, 15, balance)

	// Second read comes from the store, not re-initialization.
	store.balances["u1"] = 7
	balance, err = accessor.Balance(context.Background(), authed("u1"))
	require.NoError(t, err)
	assert.Equal(t, 7, balance)
}

func TestGuestBalanceSeedsTestDrive(t *testing.T) {
	accessor := NewAccessor(newFakeStore(), NewGuestWallet(2), 15, nil)

	balance, err := accessor.Balance(context.Background(), guest("g1"))
	require.NoError(t, err)
	assert.Equal(t, 2, balance)
}

func TestDeductNeverGoesNegative(t *testing.T) {
	store := newFakeStore()
	store.balances["u1"] = 3
	accessor := NewAccessor(store, NewGuestWallet(2), 15, nil)
	ctx := context.Background()

	ok, err := accessor.Deduct(ctx, authed("u1"), 2)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 1, store.balances["u1"])

	// More than remains: refused, no mutation.
	ok, err = accessor.Deduct(ctx, authed("u1"), 2)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 1, store.balances["u1"])

	ok, err = accessor.Deduct(ctx, authed("u1"), 1)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 0, store.balances["u1"])

	ok, err = accessor.Deduct(ctx, authed("u1"), 1)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 0, store.balances["u1"])
}

func TestDeductSkipsStoreWriteWhenBalanceTooLow(t *testing.T) {
	store := newFakeStore()
	store.balances["u1"] = 1
	accessor := NewAccessor(store, NewGuestWallet(2), 15, nil)

	ok, err := accessor.Deduct(context.Background(), authed("u1"), 5)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Zero(t, store.deducts, "insufficient balance is decided on the fresh read")
}

func TestDeductRemoteFailureLeavesBalance(t *testing.T) {
	store := newFakeStore()
	store.balances["u1"] = 5
	accessor := NewAccessor(store, NewGuestWallet(2), 15, nil)

	store.deductErr = errors.New("connection reset")
	ok, err := accessor.Deduct(context.Background(), authed("u1"), 1)
	require.Error(t, err)
	assert.False(t, ok)
	assert.Equal(t, 5, store.balances["u1"])
}

func TestDeductRejectsNonPositiveAmount(t *testing.T) {
	accessor := NewAccessor(newFakeStore(), NewGuestWallet(2), 15, nil)

	_, err := accessor.Deduct(context.Background(), authed("u1"), 0)
	require.Error(t, err)
	_, err = accessor.Deduct(context.Background(), authed("u1"), -3)
	require.Error(t, err)
}

func TestGuestDeductAndCredit(t *testing.T) {
	accessor := NewAccessor(newFakeStore(), NewGuestWallet(2), 15, nil)
	ctx := context.Background()

	ok, err := accessor.Deduct(ctx, guest("g1"), 1)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = accessor.Deduct(ctx, guest("g1"), 2)
	require.NoError(t, err)
	assert.False(t, ok, "only one test-drive credit left")

	require.NoError(t, accessor.Credit(ctx, guest("g1"), 3, "bonus"))
	balance, err := accessor.Balance(ctx, guest("g1"))
	require.NoError(t, err)
	assert.Equal(t, 4, balance)
}

func TestCreditUpdatesStoreAndCache(t *testing.T) {
	store := newFakeStore()
	store.balances["u1"] = 5
	accessor := NewAccessor(store, NewGuestWallet(2), 15, nil)
	ctx := context.Background()

	_, err := accessor.Balance(ctx, authed("u1"))
	require.NoError(t, err)

	require.NoError(t, accessor.Credit(ctx, authed("u1"), 50, "purchase"))
	assert.Equal(t, 55, store.balances["u1"])

	cached, ok := accessor.CachedBalance(authed("u1"))
	require.True(t, ok)
	assert.Equal(t, 55, cached)
}

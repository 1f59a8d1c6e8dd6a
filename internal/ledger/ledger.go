// Package ledger is the single source of truth for how many generation
// credits an actor has and for spending them.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/cesardomingos/imagenius/internal/models"
)

// ErrNotFound is returned by a Store when the owner has no balance row yet.
var ErrNotFound = errors.New("balance not found")

// Store is the remote balance store for authenticated actors. Deduct must be
// conditional on sufficient credits so that a concurrent session can never
// drive the balance negative.
type Store interface {
	Balance(ctx context.Context, ownerID string) (int, error)
	Initialize(ctx context.Context, ownerID string, credits int) error
	Deduct(ctx context.Context, ownerID string, amount int) (bool, error)
	Credit(ctx context.Context, ownerID string, amount int) error
}

// Accessor reads and spends credits, against the remote store for
// authenticated actors and against the in-process guest wallet otherwise.
// It keeps a last-known cache for display; the cache is never consulted for
// a deduct decision.
type Accessor struct {
	store          Store
	guests         *GuestWallet
	newUserCredits int
	log            *slog.Logger

	mu    sync.RWMutex
	cache map[string]int
}

func NewAccessor(store Store, guests *GuestWallet, newUserCredits int, log *slog.Logger) *Accessor {
	return &Accessor{
		store:          store,
		guests:         guests,
		newUserCredits: newUserCredits,
		log:            log,
		cache:          make(map[string]int),
	}
}

// Balance returns a fresh balance for the actor. A new authenticated actor
// is initialized with the signup allowance on first access.
func (a *Accessor) Balance(ctx context.Context, actor models.Actor) (int, error) {
	if actor.Anonymous {
		return a.guests.Balance(actor.ID), nil
	}

	balance, err := a.store.Balance(ctx, actor.ID)
	if errors.Is(err, ErrNotFound) {
		if initErr := a.store.Initialize(ctx, actor.ID, a.newUserCredits); initErr != nil {
			return 0, fmt.Errorf("initialize balance: %w", initErr)
		}
		balance, err = a.newUserCredits, nil
	}
	if err != nil {
		return 0, fmt.Errorf("fetch balance: %w", err)
	}

	a.setCached(actor.ID, balance)
	return balance, nil
}

// CachedBalance returns the last-known balance without touching the store.
// It may be stale and must only be used for display.
func (a *Accessor) CachedBalance(actor models.Actor) (int, bool) {
	if actor.Anonymous {
		return a.guests.Balance(actor.ID), true
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	balance, ok := a.cache[actor.ID]
	return balance, ok
}

// Deduct atomically spends amount credits. It re-reads the balance in the
// same call before mutating; there is no partial deduction. A false return
// with nil error means insufficient credits.
func (a *Accessor) Deduct(ctx context.Context, actor models.Actor, amount int) (bool, error) {
	if amount <= 0 {
		return false, fmt.Errorf("deduct amount must be positive, got %d", amount)
	}

	if actor.Anonymous {
		return a.guests.Deduct(actor.ID, amount), nil
	}

	balance, err := a.Balance(ctx, actor)
	if err != nil {
		return false, err
	}
	if amount > balance {
		return false, nil
	}

	ok, err := a.store.Deduct(ctx, actor.ID, amount)
	if err != nil {
		return false, fmt.Errorf("deduct credits: %w", err)
	}
	if ok {
		a.setCached(actor.ID, balance-amount)
	}
	return ok, nil
}

// Credit grants amount credits (purchase, referral, bonus).
func (a *Accessor) Credit(ctx context.Context, actor models.Actor, amount int, reason string) error {
	if amount <= 0 {
		return fmt.Errorf("credit amount must be positive, got %d", amount)
	}

	if actor.Anonymous {
		a.guests.Credit(actor.ID, amount)
		return nil
	}

	// Make sure the row exists before crediting a brand-new account.
	if _, err := a.Balance(ctx, actor); err != nil {
		return err
	}
	if err := a.store.Credit(ctx, actor.ID, amount); err != nil {
		return fmt.Errorf("credit %s: %w", reason, err)
	}

	a.mu.Lock()
	if balance, ok := a.cache[actor.ID]; ok {
		a.cache[actor.ID] = balance + amount
	}
	a.mu.Unlock()

	if a.log != nil {
		a.log.Info("credits granted", "owner", actor.ID, "amount", amount, "reason", reason)
	}
	return nil
}

func (a *Accessor) setCached(ownerID string, balance int) {
	a.mu.Lock()
	a.cache[ownerID] = balance
	a.mu.Unlock()
}

package ledger

import "sync"

// GuestWallet tracks test-drive credits for anonymous actors. Guests have no
// row in the remote store; their counter lives in process memory and is
// seeded on first access.
type GuestWallet struct {
	mu       sync.Mutex
	balances map[string]int
	initial  int
}

func NewGuestWallet(initial int) *GuestWallet {
	return &GuestWallet{
		balances: make(map[string]int),
		initial:  initial,
	}
}

func (w *GuestWallet) Balance(guestID string) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.balance(guestID)
}

func (w *GuestWallet) Deduct(guestID string, amount int) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	balance := w.balance(guestID)
	if amount > balance {
		return false
	}
	w.balances[guestID] = balance - amount
	return true
}

func (w *GuestWallet) Credit(guestID string, amount int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.balances[guestID] = w.balance(guestID) + amount
}

func (w *GuestWallet) balance(guestID string) int {
	if balance, ok := w.balances[guestID]; ok {
		return balance
	}
	w.balances[guestID] = w.initial
	return w.initial
}

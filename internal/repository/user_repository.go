package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/cesardomingos/imagenius/internal/ledger"
	"github.com/cesardomingos/imagenius/internal/models"
)

// UserRepository persists accounts and their credit balances. It is the
// remote side of the credit ledger.
type UserRepository struct {
	db *sql.DB
}

func NewUserRepository(db *sql.DB) *UserRepository {
	return &UserRepository{db: db}
}

func (r *UserRepository) DB() *sql.DB {
	return r.db
}

func (r *UserRepository) FindByAPIToken(ctx context.Context, token string) (*models.User, error) {
	const query = `
SELECT id, COALESCE(email, ''), COALESCE(api_token, ''), credits, created_at, updated_at
FROM users WHERE api_token = ?`
	row := r.db.QueryRowContext(ctx, query, token)
	var u models.User
	if err := row.Scan(&u.ID, &u.Email, &u.APIToken, &u.Credits, &u.CreatedAt, &u.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan user: %w", err)
	}
	return &u, nil
}

// EnsureByToken finds the account holding the given API token, creating it
// with the signup credit allowance on first sight.
func (r *UserRepository) EnsureByToken(ctx context.Context, token, email string, signupCredits int) (*models.User, bool, error) {
	user, err := r.FindByAPIToken(ctx, token)
	if err != nil {
		return nil, false, err
	}
	if user != nil {
		return user, false, nil
	}

	id := uuid.NewString()
	const query = `
INSERT INTO users (id, email, api_token, credits)
VALUES (?, NULLIF(?, ''), ?, ?)`
	if _, err := r.db.ExecContext(ctx, query, id, email, token, signupCredits); err != nil {
		return nil, false, fmt.Errorf("insert user: %w", err)
	}

	created, err := r.FindByAPIToken(ctx, token)
	if err != nil {
		return nil, false, err
	}
	if created == nil {
		return nil, false, fmt.Errorf("user %s missing after insert", id)
	}
	return created, true, nil
}

// Balance implements ledger.Store.
func (r *UserRepository) Balance(ctx context.Context, ownerID string) (int, error) {
	const query = `SELECT credits FROM users WHERE id = ?`
	row := r.db.QueryRowContext(ctx, query, ownerID)
	var credits int
	if err := row.Scan(&credits); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, ledger.ErrNotFound
		}
		return 0, fmt.Errorf("scan credits: %w", err)
	}
	return credits, nil
}

// Initialize implements ledger.Store. It provisions a balance row for an
// owner whose account was created by the external auth provider.
func (r *UserRepository) Initialize(ctx context.Context, ownerID string, credits int) error {
	const query = `INSERT IGNORE INTO users (id, credits) VALUES (?, ?)`
	if _, err := r.db.ExecContext(ctx, query, ownerID, credits); err != nil {
		return fmt.Errorf("initialize balance: %w", err)
	}
	return nil
}

// Deduct implements ledger.Store. The WHERE clause keys the write to the
// owner and requires sufficient credits, so the balance can never go
// negative even under concurrent sessions.
func (r *UserRepository) Deduct(ctx context.Context, ownerID string, amount int) (bool, error) {
	const query = `
UPDATE users SET credits = credits - ?, updated_at = NOW()
WHERE id = ? AND credits >= ?`
	res, err := r.db.ExecContext(ctx, query, amount, ownerID, amount)
	if err != nil {
		return false, fmt.Errorf("deduct credits: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("deduct rows affected: %w", err)
	}
	return affected > 0, nil
}

// Credit implements ledger.Store.
func (r *UserRepository) Credit(ctx context.Context, ownerID string, amount int) error {
	const query = `UPDATE users SET credits = credits + ?, updated_at = NOW() WHERE id = ?`
	if _, err := r.db.ExecContext(ctx, query, amount, ownerID); err != nil {
		return fmt.Errorf("credit credits: %w", err)
	}
	return nil
}

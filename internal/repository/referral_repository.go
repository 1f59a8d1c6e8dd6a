package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/cesardomingos/imagenius/internal/models"
)

type ReferralRepository struct {
	db *sql.DB
}

func NewReferralRepository(db *sql.DB) *ReferralRepository {
	return &ReferralRepository{db: db}
}

func (r *ReferralRepository) DB() *sql.DB {
	return r.db
}

func (r *ReferralRepository) GetByCode(ctx context.Context, code string) (*models.ReferralCode, error) {
	const query = `SELECT id, code, max_uses, uses, credits, created_at FROM referral_codes WHERE code = ?`
	row := r.db.QueryRowContext(ctx, query, code)
	var ref models.ReferralCode
	if err := row.Scan(&ref.ID, &ref.Code, &ref.MaxUses, &ref.Uses, &ref.Credits, &ref.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan referral code: %w", err)
	}
	return &ref, nil
}

func (r *ReferralRepository) Create(ctx context.Context, ref *models.ReferralCode) (*models.ReferralCode, error) {
	const query = `
INSERT INTO referral_codes (code, max_uses, uses, credits)
VALUES (?, ?, 0, ?)`
	res, err := r.db.ExecContext(ctx, query, ref.Code, ref.MaxUses, ref.Credits)
	if err != nil {
		return nil, fmt.Errorf("create referral code: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("referral last insert id: %w", err)
	}
	ref.ID = id
	return ref, nil
}

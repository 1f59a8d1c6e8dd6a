package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/cesardomingos/imagenius/internal/ledger"
	"github.com/cesardomingos/imagenius/internal/models"
	"github.com/cesardomingos/imagenius/internal/repository"
)

var ErrReferralInvalid = errors.New("referral code invalid")
var ErrReferralAlreadyRedeemed = errors.New("referral code already redeemed")

// ReferralService redeems referral codes for bonus credits, once per user.
type ReferralService struct {
	referrals *repository.ReferralRepository
	credits   *ledger.Accessor
}

func NewReferralService(referrals *repository.ReferralRepository, credits *ledger.Accessor) *ReferralService {
	return &ReferralService{referrals: referrals, credits: credits}
}

// Redeem grants the code's bonus credits to the user. The code row is locked
// for the duration so two sessions cannot burn the same remaining use.
func (s *ReferralService) Redeem(ctx context.Context, userID, code string) (int, error) {
	ref, err := s.referrals.GetByCode(ctx, code)
	if err != nil {
		return 0, fmt.Errorf("get referral code: %w", err)
	}
	if ref == nil {
		return 0, ErrReferralInvalid
	}

	tx, err := s.referrals.DB().BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var uses, maxUses int
	row := tx.QueryRowContext(ctx, `SELECT uses, max_uses FROM referral_codes WHERE id = ? FOR UPDATE`, ref.ID)
	if err := row.Scan(&uses, &maxUses); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, ErrReferralInvalid
		}
		return 0, fmt.Errorf("lock referral code: %w", err)
	}
	if uses >= maxUses {
		return 0, fmt.Errorf("referral code exhausted")
	}

	row = tx.QueryRowContext(ctx, `SELECT 1 FROM referral_redemptions WHERE user_id = ? AND referral_code_id = ?`, userID, ref.ID)
	var dummy int
	if err := row.Scan(&dummy); err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			return 0, fmt.Errorf("check redemption: %w", err)
		}
	} else {
		return 0, ErrReferralAlreadyRedeemed
	}

	if _, err := tx.ExecContext(ctx, `INSERT INTO referral_redemptions (user_id, referral_code_id) VALUES (?, ?)`, userID, ref.ID); err != nil {
		return 0, fmt.Errorf("insert redemption: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `UPDATE referral_codes SET uses = uses + 1 WHERE id = ?`, ref.ID); err != nil {
		return 0, fmt.Errorf("increment referral uses: %w", err)
	}

	// The grant rides the same transaction: if it cannot land, the
	// redemption rolls back with it and the user keeps their one use.
	if _, err := tx.ExecContext(ctx, `UPDATE users SET credits = credits + ? WHERE id = ?`, ref.Credits, userID); err != nil {
		return 0, fmt.Errorf("grant referral credits: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit referral tx: %w", err)
	}

	// Refresh the last-known display balance with the committed grant.
	_, _ = s.credits.Balance(ctx, models.Actor{ID: userID})

	return ref.Credits, nil
}

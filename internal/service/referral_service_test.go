package service

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cesardomingos/imagenius/internal/ledger"
	"github.com/cesardomingos/imagenius/internal/repository"
)

func newReferralFixture(t *testing.T) (*ReferralService, sqlmock.Sqlmock, *fakeLedgerStore) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	store := newFakeLedgerStore()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	credits := ledger.NewAccessor(store, ledger.NewGuestWallet(2), 15, log)
	svc := NewReferralService(repository.NewReferralRepository(db), credits)
	return svc, mock, store
}

func expectCodeLookup(mock sqlmock.Sqlmock) {
	rows := sqlmock.NewRows([]string{"id", "code", "max_uses", "uses", "credits", "created_at"}).
		AddRow(int64(7), "FRIEND5", 10, 3, 5, time.Now())
	mock.ExpectQuery("SELECT id, code, max_uses, uses, credits, created_at FROM referral_codes").
		WithArgs("FRIEND5").
		WillReturnRows(rows)
}

func TestRedeemGrantsInsideTransaction(t *testing.T) {
	svc, mock, store := newReferralFixture(t)
	store.balances["u1"] = 9

	expectCodeLookup(mock)
	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT uses, max_uses FROM referral_codes WHERE id = \? FOR UPDATE`).
		WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"uses", "max_uses"}).AddRow(3, 10))
	mock.ExpectQuery("SELECT 1 FROM referral_redemptions").
		WithArgs("u1", int64(7)).
		WillReturnError(sql.ErrNoRows)
	mock.ExpectExec("INSERT INTO referral_redemptions").
		WithArgs("u1", int64(7)).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(`UPDATE referral_codes SET uses = uses \+ 1`).
		WithArgs(int64(7)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE users SET credits = credits \+ \?`).
		WithArgs(5, "u1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	granted, err := svc.Redeem(context.Background(), "u1", "FRIEND5")
	require.NoError(t, err)
	assert.Equal(t, 5, granted)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRedeemFailedGrantRollsBackRedemption(t *testing.T) {
	svc, mock, _ := newReferralFixture(t)

	expectCodeLookup(mock)
	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT uses, max_uses FROM referral_codes WHERE id = \? FOR UPDATE`).
		WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"uses", "max_uses"}).AddRow(3, 10))
	mock.ExpectQuery("SELECT 1 FROM referral_redemptions").
		WithArgs("u1", int64(7)).
		WillReturnError(sql.ErrNoRows)
	mock.ExpectExec("INSERT INTO referral_redemptions").
		WithArgs("u1", int64(7)).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(`UPDATE referral_codes SET uses = uses \+ 1`).
		WithArgs(int64(7)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE users SET credits = credits \+ \?`).
		WithArgs(5, "u1").
		WillReturnError(errors.New("users table unavailable"))
	mock.ExpectRollback()

	// The redemption must not survive a grant that could not land.
	_, err := svc.Redeem(context.Background(), "u1", "FRIEND5")
	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRedeemOncePerUser(t *testing.T) {
	svc, mock, _ := newReferralFixture(t)

	expectCodeLookup(mock)
	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT uses, max_uses FROM referral_codes WHERE id = \? FOR UPDATE`).
		WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"uses", "max_uses"}).AddRow(3, 10))
	mock.ExpectQuery("SELECT 1 FROM referral_redemptions").
		WithArgs("u1", int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"1"}).AddRow(1))
	mock.ExpectRollback()

	_, err := svc.Redeem(context.Background(), "u1", "FRIEND5")
	require.ErrorIs(t, err, ErrReferralAlreadyRedeemed)
	require.NoError(t, mock.ExpectationsWereMet())
}

package services

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/transitgo/backend/internal/models"
)

func TestWalletService_TopUp(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewWalletService(db)
	ctx := context.Background()

	t.Run("successful top-up", func(t *testing.T) {
		userID := "user1"
		walletID := "wallet1"
		amount := int64(10000)

		// Fast-path external ref check
		mock.ExpectQuery("SELECT (.+) FROM wallet_transactions WHERE user_id = \\$1 AND external_transaction_id = \\$2").
			WithArgs(userID, "ext-1").
			WillReturnError(sql.ErrNoRows)

		mock.ExpectBegin()

		// Lazy wallet creation
		mock.ExpectExec("INSERT INTO wallets").
			WithArgs(sqlmock.AnyArg(), userID, sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(1, 1))

		// Lock wallet row
		mock.ExpectQuery("SELECT id, user_id, balance, version FROM wallets WHERE user_id = \\$1 FOR UPDATE").
			WithArgs(userID).
			WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "balance", "version"}).
				AddRow(walletID, userID, 5000, 1))

		// Post-lock external ref re-check
		mock.ExpectQuery("SELECT (.+) FROM wallet_transactions WHERE user_id = \\$1 AND external_transaction_id = \\$2").
			WithArgs(userID, "ext-1").
			WillReturnError(sql.ErrNoRows)

		mock.ExpectExec("UPDATE wallets SET balance = \\$1, version = version \\+ 1, updated_at = \\$2 WHERE id = \\$3 AND version = \\$4").
			WithArgs(int64(15000), sqlmock.AnyArg(), walletID, 1).
			WillReturnResult(sqlmock.NewResult(1, 1))

		mock.ExpectExec("INSERT INTO wallet_transactions").
			WithArgs(sqlmock.AnyArg(), userID, walletID, models.TransactionTopUp, amount,
				int64(5000), int64(15000), sqlmock.AnyArg(), nil, nil,
				"bank_transfer", "ext-1", nil, models.TransactionCompleted, sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(1, 1))

		mock.ExpectCommit()

		tx, err := service.TopUp(ctx, userID, amount, "bank_transfer", "ext-1", nil)
		assert.NoError(t, err)
		assert.Equal(t, int64(5000), tx.BalanceBefore)
		assert.Equal(t, int64(15000), tx.BalanceAfter)
		assert.Equal(t, models.TransactionTopUp, tx.Type)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("idempotent replay returns existing transaction", func(t *testing.T) {
		userID := "user1"

		mock.ExpectQuery("SELECT (.+) FROM wallet_transactions WHERE user_id = \\$1 AND external_transaction_id = \\$2").
			WithArgs(userID, "ext-1").
			WillReturnRows(sqlmock.NewRows([]string{
				"id", "user_id", "wallet_id", "type", "amount", "balance_before",
				"balance_after", "description", "payment_method", "external_transaction_id", "status", "created_at"}).
				AddRow("tx-prior", userID, "wallet1", "top_up", 10000, 5000, 15000,
					"Top up via bank_transfer", "bank_transfer", "ext-1", "completed", time.Now()))

		tx, err := service.TopUp(ctx, userID, 10000, "bank_transfer", "ext-1", nil)
		assert.NoError(t, err)
		assert.Equal(t, "tx-prior", tx.ID)
		assert.Equal(t, int64(15000), tx.BalanceAfter)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("invalid amount rejected before store", func(t *testing.T) {
		_, err := service.TopUp(ctx, "user1", 0, "bank_transfer", "", nil)
		assert.ErrorIs(t, err, ErrInvalidAmount)

		_, err = service.TopUp(ctx, "user1", -500, "bank_transfer", "", nil)
		assert.ErrorIs(t, err, ErrInvalidAmount)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestWalletService_Charge(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewWalletService(db)
	ctx := context.Background()

	t.Run("successful charge", func(t *testing.T) {
		userID := "user1"
		walletID := "wallet1"

		mock.ExpectBegin()

		mock.ExpectQuery("SELECT id, user_id, balance, version FROM wallets WHERE user_id = \\$1 FOR UPDATE").
			WithArgs(userID).
			WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "balance", "version"}).
				AddRow(walletID, userID, 10000, 3))

		mock.ExpectExec("UPDATE wallets SET balance = \\$1, version = version \\+ 1, updated_at = \\$2 WHERE id = \\$3 AND version = \\$4").
			WithArgs(int64(4000), sqlmock.AnyArg(), walletID, 3).
			WillReturnResult(sqlmock.NewResult(1, 1))

		mock.ExpectExec("INSERT INTO wallet_transactions").
			WithArgs(sqlmock.AnyArg(), userID, walletID, models.TransactionCharge, int64(6000),
				int64(10000), int64(4000), "Ticket A1: X - Z", "ticket-1", "ticket",
				nil, nil, nil, models.TransactionCompleted, sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(1, 1))

		mock.ExpectCommit()

		tx, err := service.Charge(ctx, userID, 6000, "Ticket A1: X - Z", "ticket-1", "ticket")
		assert.NoError(t, err)
		assert.Equal(t, int64(10000), tx.BalanceBefore)
		assert.Equal(t, int64(4000), tx.BalanceAfter)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("insufficient funds writes nothing", func(t *testing.T) {
		userID := "user1"

		mock.ExpectBegin()

		mock.ExpectQuery("SELECT id, user_id, balance, version FROM wallets WHERE user_id = \\$1 FOR UPDATE").
			WithArgs(userID).
			WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "balance", "version"}).
				AddRow("wallet1", userID, 5000, 1))

		mock.ExpectRollback()

		_, err := service.Charge(ctx, userID, 6000, "Ticket A1: X - Z", "ticket-1", "ticket")
		assert.ErrorIs(t, err, ErrInsufficientFunds)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("missing wallet", func(t *testing.T) {
		mock.ExpectBegin()

		mock.ExpectQuery("SELECT id, user_id, balance, version FROM wallets WHERE user_id = \\$1 FOR UPDATE").
			WithArgs("ghost").
			WillReturnError(sql.ErrNoRows)

		mock.ExpectRollback()

		_, err := service.Charge(ctx, "ghost", 1000, "test", "", "")
		assert.ErrorIs(t, err, ErrWalletNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("optimistic lock failure", func(t *testing.T) {
		userID := "user1"

		mock.ExpectBegin()

		mock.ExpectQuery("SELECT id, user_id, balance, version FROM wallets WHERE user_id = \\$1 FOR UPDATE").
			WithArgs(userID).
			WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "balance", "version"}).
				AddRow("wallet1", userID, 10000, 3))

		mock.ExpectExec("UPDATE wallets SET balance = \\$1, version = version \\+ 1, updated_at = \\$2 WHERE id = \\$3 AND version = \\$4").
			WithArgs(int64(9000), sqlmock.AnyArg(), "wallet1", 3).
			WillReturnResult(sqlmock.NewResult(1, 0)) // no rows affected

		mock.ExpectRollback()

		_, err := service.Charge(ctx, userID, 1000, "test", "", "")
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "optimistic lock failed")
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestWalletService_Refund(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewWalletService(db)
	ctx := context.Background()

	t.Run("successful refund", func(t *testing.T) {
		userID := "user1"
		walletID := "wallet1"

		mock.ExpectBegin()

		mock.ExpectQuery("SELECT id, user_id, balance, version FROM wallets WHERE user_id = \\$1 FOR UPDATE").
			WithArgs(userID).
			WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "balance", "version"}).
				AddRow(walletID, userID, 0, 5))

		mock.ExpectExec("UPDATE wallets SET balance = \\$1, version = version \\+ 1, updated_at = \\$2 WHERE id = \\$3 AND version = \\$4").
			WithArgs(int64(10000), sqlmock.AnyArg(), walletID, 5).
			WillReturnResult(sqlmock.NewResult(1, 1))

		mock.ExpectExec("INSERT INTO wallet_transactions").
			WithArgs(sqlmock.AnyArg(), userID, walletID, models.TransactionRefund, int64(10000),
				int64(0), int64(10000), "Refund for cancelled ticket t1", "t1", nil,
				nil, nil, nil, models.TransactionCompleted, sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(1, 1))

		mock.ExpectCommit()

		tx, err := service.Refund(ctx, userID, 10000, "Refund for cancelled ticket t1", "t1")
		assert.NoError(t, err)
		assert.Equal(t, models.TransactionRefund, tx.Type)
		assert.Equal(t, int64(10000), tx.BalanceAfter)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("refund of zero rejected", func(t *testing.T) {
		_, err := service.Refund(ctx, "user1", 0, "nothing", "")
		assert.ErrorIs(t, err, ErrInvalidAmount)
	})
}

func TestWalletService_Balance(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewWalletService(db)
	ctx := context.Background()

	t.Run("existing wallet", func(t *testing.T) {
		now := time.Now()
		mock.ExpectQuery("SELECT id, user_id, balance, version, created_at, updated_at FROM wallets WHERE user_id = \\$1").
			WithArgs("user1").
			WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "balance", "version", "created_at", "updated_at"}).
				AddRow("wallet1", "user1", 2500, 2, now, now))

		wallet, err := service.Balance(ctx, "user1")
		assert.NoError(t, err)
		assert.Equal(t, int64(2500), wallet.Balance)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("wallet created lazily on first read", func(t *testing.T) {
		now := time.Now()
		mock.ExpectQuery("SELECT id, user_id, balance, version, created_at, updated_at FROM wallets WHERE user_id = \\$1").
			WithArgs("fresh").
			WillReturnError(sql.ErrNoRows)

		mock.ExpectExec("INSERT INTO wallets").
			WithArgs(sqlmock.AnyArg(), "fresh", sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(1, 1))

		mock.ExpectQuery("SELECT id, user_id, balance, version, created_at, updated_at FROM wallets WHERE user_id = \\$1").
			WithArgs("fresh").
			WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "balance", "version", "created_at", "updated_at"}).
				AddRow("wallet2", "fresh", 0, 0, now, now))

		wallet, err := service.Balance(ctx, "fresh")
		assert.NoError(t, err)
		assert.Equal(t, int64(0), wallet.Balance)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestWrapStoreErr(t *testing.T) {
	t.Run("unique violation maps to constraint error", func(t *testing.T) {
		err := wrapStoreErr("insert ticket", uniqueViolation())
		assert.ErrorIs(t, err, ErrConstraintViolation)
	})

	t.Run("other errors map to store unavailable", func(t *testing.T) {
		err := wrapStoreErr("insert ticket", errors.New("connection reset"))
		assert.ErrorIs(t, err, ErrStoreUnavailable)
	})
}

package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/transitgo/backend/internal/models"
)

// WalletService is the only writer of wallet balances. Every mutation locks
// the wallet row, updates the balance and inserts the audit transaction in
// one database transaction, so operations on the same user serialize on the
// row lock while different users proceed in parallel.
type WalletService struct {
	db *sql.DB
}

func NewWalletService(db *sql.DB) *WalletService {
	return &WalletService{db: db}
}

// TopUp credits a wallet, creating it lazily on first use. When externalRef
// is set and a completed top-up with the same reference already exists for
// the user, the call is an idempotent replay and returns the prior
// transaction without crediting again.
func (s *WalletService) TopUp(ctx context.Context, userID string, amount int64, paymentMethod, externalRef string, metadata json.RawMessage) (*models.WalletTransaction, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}

	if externalRef != "" {
		if existing, err := s.findTopUpByExternalRef(ctx, s.db, userID, externalRef); err != nil {
			return nil, err
		} else if existing != nil {
			log.Printf("[WALLET] Duplicate top-up replay: user=%s ref=%s tx=%s", userID, externalRef, existing.ID)
			return existing, nil
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: begin top-up: %v", ErrStoreUnavailable, err)
	}
	defer tx.Rollback()

	wallet, err := s.lockWallet(ctx, tx, userID, true)
	if err != nil {
		return nil, err
	}

	// Re-check the external reference after acquiring the lock: a concurrent
	// replay may have committed between the fast-path check and here.
	if externalRef != "" {
		if existing, err := s.findTopUpByExternalRef(ctx, tx, userID, externalRef); err != nil {
			return nil, err
		} else if existing != nil {
			return existing, nil
		}
	}

	record := &models.WalletTransaction{
		ID:            uuid.NewString(),
		UserID:        userID,
		WalletID:      wallet.ID,
		Type:          models.TransactionTopUp,
		Amount:        amount,
		BalanceBefore: wallet.Balance,
		BalanceAfter:  wallet.Balance + amount,
		Description:   fmt.Sprintf("Top up via %s", paymentMethod),
		PaymentMethod: paymentMethod,
		ExternalRef:   externalRef,
		Metadata:      metadata,
		Status:        models.TransactionCompleted,
	}

	if err := s.applyMutation(ctx, tx, wallet, record); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("%w: commit top-up: %v", ErrStoreUnavailable, err)
	}

	log.Printf("[WALLET] Top-up completed: user=%s amount=%d balance=%d tx=%s", userID, amount, record.BalanceAfter, record.ID)
	return record, nil
}

// Charge debits a wallet for a purchase. The balance check happens under the
// row lock; if funds are short nothing is written and ErrInsufficientFunds
// is returned. Charges are not deduplicated here: callers invoke Charge at
// most once per logical purchase.
func (s *WalletService) Charge(ctx context.Context, userID string, amount int64, description, referenceID, referenceType string) (*models.WalletTransaction, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: begin charge: %v", ErrStoreUnavailable, err)
	}
	defer tx.Rollback()

	wallet, err := s.lockWallet(ctx, tx, userID, false)
	if err != nil {
		return nil, err
	}

	if wallet.Balance < amount {
		return nil, ErrInsufficientFunds
	}

	record := &models.WalletTransaction{
		ID:            uuid.NewString(),
		UserID:        userID,
		WalletID:      wallet.ID,
		Type:          models.TransactionCharge,
		Amount:        amount,
		BalanceBefore: wallet.Balance,
		BalanceAfter:  wallet.Balance - amount,
		Description:   description,
		ReferenceID:   referenceID,
		ReferenceType: referenceType,
		Status:        models.TransactionCompleted,
	}

	if err := s.applyMutation(ctx, tx, wallet, record); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("%w: commit charge: %v", ErrStoreUnavailable, err)
	}

	log.Printf("[WALLET] Charge completed: user=%s amount=%d balance=%d tx=%s", userID, amount, record.BalanceAfter, record.ID)
	return record, nil
}

// Refund credits a wallet to reverse a prior charge, e.g. on ticket
// cancellation or when a booking fails after its charge committed.
func (s *WalletService) Refund(ctx context.Context, userID string, amount int64, description, referenceID string) (*models.WalletTransaction, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: begin refund: %v", ErrStoreUnavailable, err)
	}
	defer tx.Rollback()

	wallet, err := s.lockWallet(ctx, tx, userID, false)
	if err != nil {
		return nil, err
	}

	record := &models.WalletTransaction{
		ID:            uuid.NewString(),
		UserID:        userID,
		WalletID:      wallet.ID,
		Type:          models.TransactionRefund,
		Amount:        amount,
		BalanceBefore: wallet.Balance,
		BalanceAfter:  wallet.Balance + amount,
		Description:   description,
		ReferenceID:   referenceID,
		Status:        models.TransactionCompleted,
	}

	if err := s.applyMutation(ctx, tx, wallet, record); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("%w: commit refund: %v", ErrStoreUnavailable, err)
	}

	log.Printf("[WALLET] Refund completed: user=%s amount=%d balance=%d tx=%s", userID, amount, record.BalanceAfter, record.ID)
	return record, nil
}

// Balance returns the user's wallet, creating it lazily so a fresh account
// sees a zero balance instead of an error.
func (s *WalletService) Balance(ctx context.Context, userID string) (*models.Wallet, error) {
	var w models.Wallet
	err := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, balance, version, created_at, updated_at
		FROM wallets
		WHERE user_id = $1`, userID).
		Scan(&w.ID, &w.UserID, &w.Balance, &w.Version, &w.CreatedAt, &w.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		if err := s.createWallet(ctx, s.db, userID); err != nil {
			return nil, err
		}
		err = s.db.QueryRowContext(ctx, `
			SELECT id, user_id, balance, version, created_at, updated_at
			FROM wallets
			WHERE user_id = $1`, userID).
			Scan(&w.ID, &w.UserID, &w.Balance, &w.Version, &w.CreatedAt, &w.UpdatedAt)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: read wallet: %v", ErrStoreUnavailable, err)
	}
	return &w, nil
}

// Transactions returns the user's ledger history, newest first.
func (s *WalletService) Transactions(ctx context.Context, userID string, limit int) ([]models.WalletTransaction, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, wallet_id, type, amount, balance_before, balance_after,
		       COALESCE(description, ''), COALESCE(reference_id, ''), COALESCE(reference_type, ''),
		       COALESCE(payment_method, ''), COALESCE(external_transaction_id, ''), status, created_at
		FROM wallet_transactions
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: list transactions: %v", ErrStoreUnavailable, err)
	}
	defer rows.Close()

	var txs []models.WalletTransaction
	for rows.Next() {
		var t models.WalletTransaction
		if err := rows.Scan(&t.ID, &t.UserID, &t.WalletID, &t.Type, &t.Amount,
			&t.BalanceBefore, &t.BalanceAfter, &t.Description, &t.ReferenceID,
			&t.ReferenceType, &t.PaymentMethod, &t.ExternalRef, &t.Status, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("%w: scan transaction: %v", ErrStoreUnavailable, err)
		}
		txs = append(txs, t)
	}
	return txs, rows.Err()
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *WalletService) findTopUpByExternalRef(ctx context.Context, q queryer, userID, externalRef string) (*models.WalletTransaction, error) {
	var t models.WalletTransaction
	err := q.QueryRowContext(ctx, `
		SELECT id, user_id, wallet_id, type, amount, balance_before, balance_after,
		       COALESCE(description, ''), COALESCE(payment_method, ''), external_transaction_id, status, created_at
		FROM wallet_transactions
		WHERE user_id = $1 AND external_transaction_id = $2 AND type = 'top_up' AND status = 'completed'`,
		userID, externalRef).
		Scan(&t.ID, &t.UserID, &t.WalletID, &t.Type, &t.Amount, &t.BalanceBefore,
			&t.BalanceAfter, &t.Description, &t.PaymentMethod, &t.ExternalRef, &t.Status, &t.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: check external ref: %v", ErrStoreUnavailable, err)
	}
	return &t, nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *WalletService) createWallet(ctx context.Context, e execer, userID string) error {
	now := time.Now()
	_, err := e.ExecContext(ctx, `
		INSERT INTO wallets (id, user_id, balance, version, created_at, updated_at)
		VALUES ($1, $2, 0, 0, $3, $3)
		ON CONFLICT (user_id) DO NOTHING`,
		uuid.NewString(), userID, now)
	if err != nil {
		return wrapStoreErr("create wallet", err)
	}
	return nil
}

// lockWallet reads the wallet row FOR UPDATE, serializing all mutations for
// one user. With create set, a missing wallet is inserted first so the lock
// always lands on a real row.
func (s *WalletService) lockWallet(ctx context.Context, tx *sql.Tx, userID string, create bool) (*models.Wallet, error) {
	if create {
		if err := s.createWallet(ctx, tx, userID); err != nil {
			return nil, err
		}
	}

	var w models.Wallet
	err := tx.QueryRowContext(ctx, `
		SELECT id, user_id, balance, version
		FROM wallets
		WHERE user_id = $1
		FOR UPDATE`, userID).
		Scan(&w.ID, &w.UserID, &w.Balance, &w.Version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrWalletNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: lock wallet: %v", ErrStoreUnavailable, err)
	}
	return &w, nil
}

// applyMutation writes the new balance and its audit row. The version guard
// is redundant under FOR UPDATE but kept as a cheap tripwire for any writer
// bypassing the lock.
func (s *WalletService) applyMutation(ctx context.Context, tx *sql.Tx, wallet *models.Wallet, record *models.WalletTransaction) error {
	now := time.Now()

	result, err := tx.ExecContext(ctx, `
		UPDATE wallets
		SET balance = $1, version = version + 1, updated_at = $2
		WHERE id = $3 AND version = $4`,
		record.BalanceAfter, now, wallet.ID, wallet.Version)
	if err != nil {
		return wrapStoreErr("update balance", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: update balance: %v", ErrStoreUnavailable, err)
	}
	if affected == 0 {
		return fmt.Errorf("optimistic lock failed for wallet %s", wallet.ID)
	}

	record.CreatedAt = now
	_, err = tx.ExecContext(ctx, `
		INSERT INTO wallet_transactions
			(id, user_id, wallet_id, type, amount, balance_before, balance_after,
			 description, reference_id, reference_type, payment_method,
			 external_transaction_id, metadata, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		record.ID, record.UserID, record.WalletID, record.Type, record.Amount,
		record.BalanceBefore, record.BalanceAfter,
		nullable(record.Description), nullable(record.ReferenceID), nullable(record.ReferenceType),
		nullable(record.PaymentMethod), nullable(record.ExternalRef),
		nullableJSON(record.Metadata), record.Status, now)
	if err != nil {
		return wrapStoreErr("insert transaction", err)
	}
	return nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullableJSON(m json.RawMessage) any {
	if len(m) == 0 {
		return nil
	}
	return []byte(m)
}

// wrapStoreErr classifies driver failures: unique-constraint hits become
// ErrConstraintViolation, everything else ErrStoreUnavailable.
func wrapStoreErr(op string, err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation" {
		return fmt.Errorf("%w: %s: %v", ErrConstraintViolation, op, err)
	}
	return fmt.Errorf("%w: %s: %v", ErrStoreUnavailable, op, err)
}

package models

import (
	"encoding/json"
	"time"
)

// TransactionType classifies a wallet transaction. Every balance change is
// recorded as exactly one of these.
type TransactionType string

const (
	TransactionTopUp  TransactionType = "top_up"
	TransactionCharge TransactionType = "charge"
	TransactionRefund TransactionType = "refund"
)

// TransactionStatus is the lifecycle state of a wallet transaction. Rows are
// written as completed; the other states exist for externally-settled top-ups.
type TransactionStatus string

const (
	TransactionPending   TransactionStatus = "pending"
	TransactionCompleted TransactionStatus = "completed"
	TransactionFailed    TransactionStatus = "failed"
	TransactionCancelled TransactionStatus = "cancelled"
)

// Wallet holds the current balance for one user. Balance is in the smallest
// currency unit and never goes negative. The version column backs the
// optimistic guard on balance updates.
type Wallet struct {
	ID        string    `json:"id" db:"id"`
	UserID    string    `json:"user_id" db:"user_id"`
	Balance   int64     `json:"balance" db:"balance"`
	Version   int       `json:"-" db:"version"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// WalletTransaction is an immutable audit record of one balance mutation.
// It is inserted in the same database transaction as the wallet update, so
// BalanceBefore/BalanceAfter are exact snapshots.
type WalletTransaction struct {
	ID            string            `json:"id" db:"id"`
	UserID        string            `json:"user_id" db:"user_id"`
	WalletID      string            `json:"wallet_id" db:"wallet_id"`
	Type          TransactionType   `json:"type" db:"type"`
	Amount        int64             `json:"amount" db:"amount"`
	BalanceBefore int64             `json:"balance_before" db:"balance_before"`
	BalanceAfter  int64             `json:"balance_after" db:"balance_after"`
	Description   string            `json:"description,omitempty" db:"description"`
	ReferenceID   string            `json:"reference_id,omitempty" db:"reference_id"`
	ReferenceType string            `json:"reference_type,omitempty" db:"reference_type"`
	PaymentMethod string            `json:"payment_method,omitempty" db:"payment_method"`
	ExternalRef   string            `json:"external_transaction_id,omitempty" db:"external_transaction_id"`
	Metadata      json.RawMessage   `json:"metadata,omitempty" db:"metadata"`
	Status        TransactionStatus `json:"status" db:"status"`
	CreatedAt     time.Time         `json:"created_at" db:"created_at"`
}

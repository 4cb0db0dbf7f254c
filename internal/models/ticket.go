package models

import "time"

// TicketStatus is a ticket state. The store persists active, used, cancelled
// and expired; expired is normally derived lazily from the travel date and
// written back in batches, so readers must not trust the stored value alone.
type TicketStatus string

const (
	TicketActive    TicketStatus = "active"
	TicketUsed      TicketStatus = "used"
	TicketCancelled TicketStatus = "cancelled"
	TicketExpired   TicketStatus = "expired"
)

// Ticket is one purchased trip. Tickets are never hard-deleted; cancellation
// is a status transition paired with a compensating refund.
type Ticket struct {
	ID                  string       `json:"id" db:"id"`
	UserID              string       `json:"user_id" db:"user_id"`
	RouteID             string       `json:"route_id" db:"route_id"`
	StartPoint          string       `json:"start_point" db:"start_point"`
	EndPoint            string       `json:"end_point" db:"end_point"`
	PassengerCount      int          `json:"passenger_count" db:"passenger_count"`
	TotalFare           int64        `json:"total_fare" db:"total_fare"`
	QRCode              string       `json:"qr_code" db:"qr_code"`
	Status              TicketStatus `json:"status" db:"status"`
	TravelDate          time.Time    `json:"travel_date" db:"travel_date"`
	WalletTransactionID string       `json:"wallet_transaction_id,omitempty" db:"wallet_transaction_id"`
	CreatedAt           time.Time    `json:"created_at" db:"created_at"`
}

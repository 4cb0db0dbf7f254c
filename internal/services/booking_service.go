package services

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/base64"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/transitgo/backend/internal/models"
)

// refundAttempts bounds the compensating-refund retry loop in Book.
const refundAttempts = 3

// BookingService turns a route selection into a paid, persisted ticket. It
// charges first and inserts the ticket second, so an active ticket always has
// funds behind it; the cost is an explicit compensating refund when the
// insert fails after the charge committed.
type BookingService struct {
	db      *sql.DB
	wallets *WalletService
	routes  *RouteService
	tickets *TicketService
	loc     *time.Location
}

func NewBookingService(db *sql.DB, wallets *WalletService, routes *RouteService, tickets *TicketService, loc *time.Location) *BookingService {
	if loc == nil {
		loc = time.UTC
	}
	return &BookingService{db: db, wallets: wallets, routes: routes, tickets: tickets, loc: loc}
}

// Book validates the request, charges the wallet and persists the ticket.
// ErrInsufficientFunds propagates with no state change; a ticket-insert
// failure after the charge triggers a refund of the same amount, and only if
// that refund also fails does the caller see ErrReconciliationRequired.
func (s *BookingService) Book(ctx context.Context, userID, routeID, startPoint, endPoint string, passengerCount int, travelDate time.Time) (*models.Ticket, error) {
	if passengerCount < 1 {
		return nil, fmt.Errorf("%w: passenger count must be at least 1", ErrInvalidBooking)
	}
	if startPoint == "" || endPoint == "" || startPoint == endPoint {
		return nil, fmt.Errorf("%w: start and end points must differ", ErrInvalidBooking)
	}
	if s.dayStart(travelDate).Before(s.dayStart(time.Now())) {
		return nil, fmt.Errorf("%w: travel date cannot be in the past", ErrInvalidBooking)
	}

	route, err := s.routes.RouteByID(ctx, routeID)
	if err != nil {
		return nil, err
	}

	totalFare := route.Fare * int64(passengerCount)
	description := fmt.Sprintf("Ticket %s: %s - %s", route.RouteCode, startPoint, endPoint)

	ticketID := uuid.NewString()
	charge, err := s.wallets.Charge(ctx, userID, totalFare, description, ticketID, "ticket")
	if err != nil {
		return nil, err
	}

	ticket := &models.Ticket{
		ID:                  ticketID,
		UserID:              userID,
		RouteID:             route.ID,
		StartPoint:          startPoint,
		EndPoint:            endPoint,
		PassengerCount:      passengerCount,
		TotalFare:           totalFare,
		QRCode:              generateQRPayload(),
		Status:              models.TicketActive,
		TravelDate:          travelDate,
		WalletTransactionID: charge.ID,
	}

	if err := s.insertTicket(ctx, ticket); err != nil {
		// A QR collision is the one failure worth a second shot before
		// giving the money back.
		if errors.Is(err, ErrConstraintViolation) {
			ticket.QRCode = generateQRPayload()
			err = s.insertTicket(ctx, ticket)
		}
		if err != nil {
			return nil, s.compensate(ctx, userID, totalFare, charge.ID, err)
		}
	}

	log.Printf("[BOOKING] Ticket issued: user=%s route=%s fare=%d ticket=%s charge=%s",
		userID, route.RouteCode, totalFare, ticket.ID, charge.ID)
	return ticket, nil
}

// Cancel reverses an active booking: the ticket flips to cancelled, then the
// fare is refunded. A refund failure after the status change is escalated the
// same way as a failed booking compensation.
func (s *BookingService) Cancel(ctx context.Context, userID, ticketID string) (*models.WalletTransaction, error) {
	ticket, err := s.tickets.GetTicket(ctx, userID, ticketID)
	if err != nil {
		return nil, err
	}
	if ticket.Status != models.TicketActive {
		return nil, ErrTicketNotActive
	}

	if err := s.tickets.MarkCancelled(ctx, userID, ticketID); err != nil {
		return nil, err
	}

	description := fmt.Sprintf("Refund for cancelled ticket %s", ticketID)
	refund, err := s.refundWithRetry(ctx, userID, ticket.TotalFare, description, ticketID)
	if err != nil {
		log.Printf("[BOOKING] RECONCILIATION: cancelled ticket %s but refund of %d failed: %v", ticketID, ticket.TotalFare, err)
		return nil, fmt.Errorf("%w: ticket %s cancelled, refund failed: %v", ErrReconciliationRequired, ticketID, err)
	}

	log.Printf("[BOOKING] Ticket cancelled: user=%s ticket=%s refund=%s", userID, ticketID, refund.ID)
	return refund, nil
}

func (s *BookingService) insertTicket(ctx context.Context, t *models.Ticket) error {
	now := time.Now()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tickets
			(id, user_id, route_id, start_point, end_point, passenger_count,
			 total_fare, qr_code, status, travel_date, wallet_transaction_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		t.ID, t.UserID, t.RouteID, t.StartPoint, t.EndPoint, t.PassengerCount,
		t.TotalFare, t.QRCode, t.Status, t.TravelDate, t.WalletTransactionID, now)
	if err != nil {
		return wrapStoreErr("insert ticket", err)
	}
	t.CreatedAt = now
	return nil
}

// compensate refunds a committed charge whose ticket never materialized. The
// original insert failure is always part of the returned error; if the
// refund itself cannot be completed the error escalates to
// ErrReconciliationRequired so the money is never lost silently.
func (s *BookingService) compensate(ctx context.Context, userID string, amount int64, chargeID string, insertErr error) error {
	description := fmt.Sprintf("Refund for failed booking (charge %s)", chargeID)

	refund, err := s.refundWithRetry(ctx, userID, amount, description, chargeID)
	if err != nil {
		log.Printf("[BOOKING] RECONCILIATION: charge %s committed but ticket insert and refund both failed: insert=%v refund=%v", chargeID, insertErr, err)
		return fmt.Errorf("%w: charge %s needs manual refund of %d: %v", ErrReconciliationRequired, chargeID, amount, err)
	}

	log.Printf("[BOOKING] Booking failed after charge, refunded: user=%s charge=%s refund=%s", userID, chargeID, refund.ID)
	return fmt.Errorf("booking failed, charge refunded: %w", insertErr)
}

func (s *BookingService) refundWithRetry(ctx context.Context, userID string, amount int64, description, referenceID string) (*models.WalletTransaction, error) {
	var lastErr error
	for attempt := 1; attempt <= refundAttempts; attempt++ {
		refund, err := s.wallets.Refund(ctx, userID, amount, description, referenceID)
		if err == nil {
			return refund, nil
		}
		lastErr = err
		log.Printf("[BOOKING] Refund attempt %d/%d failed: user=%s amount=%d: %v", attempt, refundAttempts, userID, amount, err)
		if attempt == refundAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Duration(attempt) * 100 * time.Millisecond):
		}
	}
	return nil, lastErr
}

// generateQRPayload builds the opaque ticket QR string. The millisecond
// timestamp keeps payloads sortable for support staff; the random suffix
// makes them unguessable. The store's unique index is the real collision
// guard.
func generateQRPayload() string {
	b := make([]byte, 9)
	rand.Read(b)
	return fmt.Sprintf("TGO-%d-%s", time.Now().UnixMilli(), base64.RawURLEncoding.EncodeToString(b))
}

func (s *BookingService) dayStart(t time.Time) time.Time {
	year, month, day := t.In(s.loc).Date()
	return time.Date(year, month, day, 0, 0, 0, 0, s.loc)
}

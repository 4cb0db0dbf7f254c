package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/lib/pq"
	"github.com/transitgo/backend/internal/models"
)

// TicketService owns ticket reads and the lazy expiry rule: a stored-active
// ticket whose travel date has passed is expired, whether or not the store
// has been told yet. All read paths derive the status defensively; the batch
// write-back is an optimization, never the source of truth.
type TicketService struct {
	db  *sql.DB
	loc *time.Location
}

func NewTicketService(db *sql.DB, loc *time.Location) *TicketService {
	if loc == nil {
		loc = time.UTC
	}
	return &TicketService{db: db, loc: loc}
}

// EffectiveStatus computes the status a caller should see at the given
// instant. Comparison is by calendar date in the service timezone: a ticket
// is valid for the whole of its travel date, regardless of the hour. Used
// and cancelled are terminal and never overridden.
func (s *TicketService) EffectiveStatus(t *models.Ticket, now time.Time) models.TicketStatus {
	if t.Status != models.TicketActive {
		return t.Status
	}
	if s.dayStart(t.TravelDate).Before(s.dayStart(now)) {
		return models.TicketExpired
	}
	return models.TicketActive
}

// ListTickets returns the user's tickets newest first with effective
// statuses. Tickets observed active-but-passed are batch-updated to expired
// afterwards; a failed write-back only logs, since the returned statuses are
// already correct.
func (s *TicketService) ListTickets(ctx context.Context, userID string) ([]models.Ticket, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, route_id, start_point, end_point, passenger_count,
		       total_fare, qr_code, status, travel_date, COALESCE(wallet_transaction_id, ''), created_at
		FROM tickets
		WHERE user_id = $1
		ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("%w: list tickets: %v", ErrStoreUnavailable, err)
	}
	defer rows.Close()

	now := time.Now()
	var tickets []models.Ticket
	var lapsed []string
	for rows.Next() {
		var t models.Ticket
		if err := rows.Scan(&t.ID, &t.UserID, &t.RouteID, &t.StartPoint, &t.EndPoint,
			&t.PassengerCount, &t.TotalFare, &t.QRCode, &t.Status, &t.TravelDate,
			&t.WalletTransactionID, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("%w: scan ticket: %v", ErrStoreUnavailable, err)
		}
		if effective := s.EffectiveStatus(&t, now); effective != t.Status {
			lapsed = append(lapsed, t.ID)
			t.Status = effective
		}
		tickets = append(tickets, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: list tickets: %v", ErrStoreUnavailable, err)
	}

	if len(lapsed) > 0 {
		if _, err := s.db.ExecContext(ctx, `
			UPDATE tickets
			SET status = 'expired'
			WHERE id = ANY($1) AND status = 'active'`, pq.Array(lapsed)); err != nil {
			log.Printf("[TICKETS] Expiry write-back failed for %d tickets: %v", len(lapsed), err)
		}
	}
	return tickets, nil
}

// GetTicket returns one of the user's tickets with its effective status.
func (s *TicketService) GetTicket(ctx context.Context, userID, ticketID string) (*models.Ticket, error) {
	var t models.Ticket
	err := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, route_id, start_point, end_point, passenger_count,
		       total_fare, qr_code, status, travel_date, COALESCE(wallet_transaction_id, ''), created_at
		FROM tickets
		WHERE id = $1 AND user_id = $2`, ticketID, userID).
		Scan(&t.ID, &t.UserID, &t.RouteID, &t.StartPoint, &t.EndPoint,
			&t.PassengerCount, &t.TotalFare, &t.QRCode, &t.Status, &t.TravelDate,
			&t.WalletTransactionID, &t.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTicketNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: read ticket: %v", ErrStoreUnavailable, err)
	}
	t.Status = s.EffectiveStatus(&t, time.Now())
	return &t, nil
}

// TicketByQR resolves a boarding scan. Unlike GetTicket it is not scoped to
// a user: the scanner is the driver, not the passenger.
func (s *TicketService) TicketByQR(ctx context.Context, qrCode string) (*models.Ticket, error) {
	var t models.Ticket
	err := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, route_id, start_point, end_point, passenger_count,
		       total_fare, qr_code, status, travel_date, COALESCE(wallet_transaction_id, ''), created_at
		FROM tickets
		WHERE qr_code = $1`, qrCode).
		Scan(&t.ID, &t.UserID, &t.RouteID, &t.StartPoint, &t.EndPoint,
			&t.PassengerCount, &t.TotalFare, &t.QRCode, &t.Status, &t.TravelDate,
			&t.WalletTransactionID, &t.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTicketNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: read ticket: %v", ErrStoreUnavailable, err)
	}
	t.Status = s.EffectiveStatus(&t, time.Now())
	return &t, nil
}

// MarkUsed transitions an active ticket to used. The travel-date predicate
// keeps a concurrently-expiring ticket from being boarded: a ticket whose
// date has passed can never flip to used even if the stored status still
// says active.
func (s *TicketService) MarkUsed(ctx context.Context, ticketID string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE tickets
		SET status = 'used'
		WHERE id = $1 AND status = 'active' AND travel_date >= $2`,
		ticketID, s.dayStart(time.Now()))
	if err != nil {
		return fmt.Errorf("%w: mark used: %v", ErrStoreUnavailable, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: mark used: %v", ErrStoreUnavailable, err)
	}
	if affected == 0 {
		return ErrTicketNotActive
	}
	return nil
}

// MarkCancelled transitions an active ticket to cancelled on behalf of its
// owner. The same travel-date predicate applies: lapsed tickets are expired,
// not cancellable.
func (s *TicketService) MarkCancelled(ctx context.Context, userID, ticketID string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE tickets
		SET status = 'cancelled'
		WHERE id = $1 AND user_id = $2 AND status = 'active' AND travel_date >= $3`,
		ticketID, userID, s.dayStart(time.Now()))
	if err != nil {
		return fmt.Errorf("%w: cancel ticket: %v", ErrStoreUnavailable, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: cancel ticket: %v", ErrStoreUnavailable, err)
	}
	if affected == 0 {
		return ErrTicketNotActive
	}
	return nil
}

// Sweep persists the expiry transition for every lapsed active ticket.
// Correctness never depends on it running; it just keeps the stored
// statuses from drifting too far behind the derived ones.
func (s *TicketService) Sweep(ctx context.Context) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE tickets
		SET status = 'expired'
		WHERE status = 'active' AND travel_date < $1`, s.dayStart(time.Now()))
	if err != nil {
		return 0, fmt.Errorf("%w: expiry sweep: %v", ErrStoreUnavailable, err)
	}
	return result.RowsAffected()
}

// RunSweeper runs Sweep on a fixed interval until the context is cancelled.
func (s *TicketService) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := s.Sweep(ctx); err != nil {
				log.Printf("[TICKETS] Expiry sweep failed: %v", err)
			} else if n > 0 {
				log.Printf("[TICKETS] Expiry sweep marked %d tickets expired", n)
			}
		}
	}
}

// dayStart truncates an instant to midnight of its calendar date in the
// service timezone.
func (s *TicketService) dayStart(t time.Time) time.Time {
	year, month, day := t.In(s.loc).Date()
	return time.Date(year, month, day, 0, 0, 0, 0, s.loc)
}

package services

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/transitgo/backend/internal/models"
)

func uniqueViolation() error {
	return &pq.Error{Code: "23505"}
}

func newBookingFixture(t *testing.T) (*BookingService, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)

	wallets := NewWalletService(db)
	routes := NewRouteService(db, nil)
	tickets := NewTicketService(db, time.UTC)
	bookings := NewBookingService(db, wallets, routes, tickets, time.UTC)
	return bookings, mock, func() { db.Close() }
}

func expectRouteFetch(mock sqlmock.Sqlmock, routeID string, fare int64) {
	mock.ExpectQuery("SELECT (.+) FROM routes WHERE id = \\$1").
		WithArgs(routeID).
		WillReturnRows(sqlmock.NewRows([]string{"id", "route_code", "name", "start_point", "end_point", "fare", "estimated_time", "color", "created_at"}).
			AddRow(routeID, "A1", "Terminal Loop", "X", "Z", fare, 35, "#7B2CBF", time.Now()))
}

func expectCharge(mock sqlmock.Sqlmock, userID string, balance, amount int64) {
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT id, user_id, balance, version FROM wallets WHERE user_id = \\$1 FOR UPDATE").
		WithArgs(userID).
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "balance", "version"}).
			AddRow("wallet1", userID, balance, 1))
	mock.ExpectExec("UPDATE wallets SET balance = \\$1, version = version \\+ 1").
		WithArgs(balance-amount, sqlmock.AnyArg(), "wallet1", 1).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO wallet_transactions").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()
}

func expectRefund(mock sqlmock.Sqlmock, userID string, balance, amount int64) {
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT id, user_id, balance, version FROM wallets WHERE user_id = \\$1 FOR UPDATE").
		WithArgs(userID).
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "balance", "version"}).
			AddRow("wallet1", userID, balance, 2))
	mock.ExpectExec("UPDATE wallets SET balance = \\$1, version = version \\+ 1").
		WithArgs(balance+amount, sqlmock.AnyArg(), "wallet1", 2).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO wallet_transactions").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()
}

func TestBookingService_Book(t *testing.T) {
	ctx := context.Background()
	tomorrow := time.Now().AddDate(0, 0, 1)

	t.Run("successful booking charges fare times passenger count", func(t *testing.T) {
		service, mock, done := newBookingFixture(t)
		defer done()

		expectRouteFetch(mock, "route-a", 5000)
		expectCharge(mock, "user1", 10000, 10000)

		mock.ExpectExec("INSERT INTO tickets").
			WillReturnResult(sqlmock.NewResult(1, 1))

		ticket, err := service.Book(ctx, "user1", "route-a", "X", "Z", 2, tomorrow)
		assert.NoError(t, err)
		assert.Equal(t, int64(10000), ticket.TotalFare)
		assert.Equal(t, 2, ticket.PassengerCount)
		assert.Equal(t, models.TicketActive, ticket.Status)
		assert.NotEmpty(t, ticket.QRCode)
		assert.NotEmpty(t, ticket.WalletTransactionID)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("insufficient funds propagates with no ticket", func(t *testing.T) {
		service, mock, done := newBookingFixture(t)
		defer done()

		expectRouteFetch(mock, "route-a", 6000)
		mock.ExpectBegin()
		mock.ExpectQuery("SELECT id, user_id, balance, version FROM wallets WHERE user_id = \\$1 FOR UPDATE").
			WithArgs("user1").
			WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "balance", "version"}).
				AddRow("wallet1", "user1", 5000, 1))
		mock.ExpectRollback()

		_, err := service.Book(ctx, "user1", "route-a", "X", "Z", 1, tomorrow)
		assert.ErrorIs(t, err, ErrInsufficientFunds)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("validation failures never reach the store", func(t *testing.T) {
		service, mock, done := newBookingFixture(t)
		defer done()

		_, err := service.Book(ctx, "user1", "route-a", "X", "Z", 0, tomorrow)
		assert.ErrorIs(t, err, ErrInvalidBooking)

		_, err = service.Book(ctx, "user1", "route-a", "X", "X", 1, tomorrow)
		assert.ErrorIs(t, err, ErrInvalidBooking)

		_, err = service.Book(ctx, "user1", "route-a", "X", "Z", 1, time.Now().AddDate(0, 0, -1))
		assert.ErrorIs(t, err, ErrInvalidBooking)

		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unknown route", func(t *testing.T) {
		service, mock, done := newBookingFixture(t)
		defer done()

		mock.ExpectQuery("SELECT (.+) FROM routes WHERE id = \\$1").
			WithArgs("ghost").
			WillReturnError(sql.ErrNoRows)

		_, err := service.Book(ctx, "user1", "ghost", "X", "Z", 1, tomorrow)
		assert.ErrorIs(t, err, ErrRouteNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("qr collision retries once with a fresh payload", func(t *testing.T) {
		service, mock, done := newBookingFixture(t)
		defer done()

		expectRouteFetch(mock, "route-a", 5000)
		expectCharge(mock, "user1", 10000, 5000)

		mock.ExpectExec("INSERT INTO tickets").
			WillReturnError(uniqueViolation())
		mock.ExpectExec("INSERT INTO tickets").
			WillReturnResult(sqlmock.NewResult(1, 1))

		ticket, err := service.Book(ctx, "user1", "route-a", "X", "Z", 1, tomorrow)
		assert.NoError(t, err)
		assert.NotEmpty(t, ticket.QRCode)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("ticket insert failure is compensated with a refund", func(t *testing.T) {
		service, mock, done := newBookingFixture(t)
		defer done()

		expectRouteFetch(mock, "route-a", 5000)
		expectCharge(mock, "user1", 10000, 5000)

		mock.ExpectExec("INSERT INTO tickets").
			WillReturnError(errors.New("tickets table unavailable"))

		expectRefund(mock, "user1", 5000, 5000)

		_, err := service.Book(ctx, "user1", "route-a", "X", "Z", 1, tomorrow)
		assert.Error(t, err)
		assert.NotErrorIs(t, err, ErrReconciliationRequired)
		assert.Contains(t, err.Error(), "charge refunded")
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("failed compensation escalates to reconciliation error", func(t *testing.T) {
		service, mock, done := newBookingFixture(t)
		defer done()

		expectRouteFetch(mock, "route-a", 5000)
		expectCharge(mock, "user1", 10000, 5000)

		mock.ExpectExec("INSERT INTO tickets").
			WillReturnError(errors.New("tickets table unavailable"))

		for i := 0; i < refundAttempts; i++ {
			mock.ExpectBegin().WillReturnError(errors.New("store down"))
		}

		_, err := service.Book(ctx, "user1", "route-a", "X", "Z", 1, tomorrow)
		assert.ErrorIs(t, err, ErrReconciliationRequired)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestBookingService_Cancel(t *testing.T) {
	ctx := context.Background()

	ticketCols := []string{"id", "user_id", "route_id", "start_point", "end_point",
		"passenger_count", "total_fare", "qr_code", "status", "travel_date",
		"wallet_transaction_id", "created_at"}

	t.Run("active ticket is cancelled and refunded", func(t *testing.T) {
		service, mock, done := newBookingFixture(t)
		defer done()

		tomorrow := time.Now().AddDate(0, 0, 1)

		mock.ExpectQuery("SELECT (.+) FROM tickets WHERE id = \\$1 AND user_id = \\$2").
			WithArgs("t1", "user1").
			WillReturnRows(sqlmock.NewRows(ticketCols).
				AddRow("t1", "user1", "route-a", "X", "Z", 1, 5000, "TGO-1", "active", tomorrow, "wt1", time.Now()))

		mock.ExpectExec("UPDATE tickets SET status = 'cancelled' WHERE id = \\$1 AND user_id = \\$2 AND status = 'active'").
			WithArgs("t1", "user1", sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 1))

		expectRefund(mock, "user1", 0, 5000)

		refund, err := service.Cancel(ctx, "user1", "t1")
		assert.NoError(t, err)
		assert.Equal(t, models.TransactionRefund, refund.Type)
		assert.Equal(t, int64(5000), refund.Amount)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("used ticket cannot be cancelled", func(t *testing.T) {
		service, mock, done := newBookingFixture(t)
		defer done()

		mock.ExpectQuery("SELECT (.+) FROM tickets WHERE id = \\$1 AND user_id = \\$2").
			WithArgs("t1", "user1").
			WillReturnRows(sqlmock.NewRows(ticketCols).
				AddRow("t1", "user1", "route-a", "X", "Z", 1, 5000, "TGO-1", "used", time.Now(), "wt1", time.Now()))

		_, err := service.Cancel(ctx, "user1", "t1")
		assert.ErrorIs(t, err, ErrTicketNotActive)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("lapsed ticket reads as expired and cannot be cancelled", func(t *testing.T) {
		service, mock, done := newBookingFixture(t)
		defer done()

		yesterday := time.Now().AddDate(0, 0, -1)

		mock.ExpectQuery("SELECT (.+) FROM tickets WHERE id = \\$1 AND user_id = \\$2").
			WithArgs("t1", "user1").
			WillReturnRows(sqlmock.NewRows(ticketCols).
				AddRow("t1", "user1", "route-a", "X", "Z", 1, 5000, "TGO-1", "active", yesterday, "wt1", time.Now()))

		_, err := service.Cancel(ctx, "user1", "t1")
		assert.ErrorIs(t, err, ErrTicketNotActive)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

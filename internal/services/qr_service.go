package services

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"image/png"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/skip2/go-qrcode"
	"github.com/transitgo/backend/internal/models"
)

const scanGuardTTL = 30 * time.Second

// QRService renders ticket QR images and handles boarding scans. The redis
// guard is a short single-use lock around a scan so two readers pointed at
// the same ticket within the window cannot both board it; the database
// status transition remains the authoritative check.
type QRService struct {
	tickets *TicketService
	redis   *redis.Client
}

func NewQRService(tickets *TicketService, redis *redis.Client) *QRService {
	return &QRService{tickets: tickets, redis: redis}
}

// TicketImage renders the ticket's stored QR payload as a base64 PNG.
func (s *QRService) TicketImage(ticket *models.Ticket) (string, error) {
	qr, err := qrcode.New(ticket.QRCode, qrcode.Medium)
	if err != nil {
		return "", fmt.Errorf("encode qr: %w", err)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, qr.Image(256)); err != nil {
		return "", fmt.Errorf("render qr: %w", err)
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// ValidateScan processes a boarding scan: resolve the payload to a ticket,
// require an effectively active status, and mark the ticket used. The
// returned ticket carries status used on success.
func (s *QRService) ValidateScan(ctx context.Context, qrData string) (*models.Ticket, error) {
	if s.redis != nil {
		key := fmt.Sprintf("ticket_scan:%s", qrData)
		acquired, err := s.redis.SetNX(ctx, key, 1, scanGuardTTL).Result()
		if err == nil && !acquired {
			return nil, ErrTicketNotActive
		}
	}

	ticket, err := s.tickets.TicketByQR(ctx, qrData)
	if err != nil {
		return nil, err
	}
	if ticket.Status != models.TicketActive {
		return nil, fmt.Errorf("%w: status is %s", ErrTicketNotActive, ticket.Status)
	}

	if err := s.tickets.MarkUsed(ctx, ticket.ID); err != nil {
		return nil, err
	}
	ticket.Status = models.TicketUsed
	return ticket, nil
}

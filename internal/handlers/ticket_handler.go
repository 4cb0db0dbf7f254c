package handlers

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/transitgo/backend/internal/services"
)

type TicketHandler struct {
	tickets   *services.TicketService
	qr        *services.QRService
	validator *services.ValidationHelper
}

func NewTicketHandler(tickets *services.TicketService, qr *services.QRService) *TicketHandler {
	return &TicketHandler{
		tickets:   tickets,
		qr:        qr,
		validator: services.NewValidationHelper(),
	}
}

// ListTickets returns the caller's tickets with derived statuses
// @Summary List tickets
// @Description Tickets are returned newest first; statuses reflect the travel date even before the expiry write-back has run.
// @Tags tickets
// @Produce json
// @Security BearerAuth
// @Success 200 {array} models.Ticket
// @Router /tickets [get]
func (h *TicketHandler) ListTickets(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value("userID").(string)
	if !ok || userID == "" {
		services.SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	tickets, err := h.tickets.ListTickets(r.Context(), userID)
	if err != nil {
		services.SendErrorResponse(w, err.Error(), statusForError(err), nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"tickets": tickets,
		"count":   len(tickets),
	})
}

// GetTicket returns one ticket
// @Summary Get ticket
// @Tags tickets
// @Produce json
// @Security BearerAuth
// @Param ticketId path string true "Ticket id"
// @Success 200 {object} models.Ticket
// @Failure 404 {object} services.ErrorResponse
// @Router /tickets/{ticketId} [get]
func (h *TicketHandler) GetTicket(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value("userID").(string)
	if !ok || userID == "" {
		services.SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	ticket, err := h.tickets.GetTicket(r.Context(), userID, chi.URLParam(r, "ticketId"))
	if err != nil {
		services.SendErrorResponse(w, err.Error(), statusForError(err), nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(ticket)
}

// TicketQR renders the ticket QR as a PNG
// @Summary Get ticket QR image
// @Tags tickets
// @Produce json
// @Security BearerAuth
// @Param ticketId path string true "Ticket id"
// @Success 200 {object} object{qrCode=string,qrImage=string}
// @Failure 404 {object} services.ErrorResponse
// @Router /tickets/{ticketId}/qr [get]
func (h *TicketHandler) TicketQR(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value("userID").(string)
	if !ok || userID == "" {
		services.SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	ticket, err := h.tickets.GetTicket(r.Context(), userID, chi.URLParam(r, "ticketId"))
	if err != nil {
		services.SendErrorResponse(w, err.Error(), statusForError(err), nil)
		return
	}

	image, err := h.qr.TicketImage(ticket)
	if err != nil {
		services.SendErrorResponse(w, err.Error(), http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"success": true,
		"qrCode":  ticket.QRCode,
		"qrImage": image,
	})
}

// ValidateTicket processes a boarding scan
// @Summary Validate a scanned ticket
// @Description Resolve a scanned QR payload, require an active ticket, and mark it used.
// @Tags tickets
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body object{qrData=string} true "Scan payload"
// @Success 200 {object} models.Ticket
// @Failure 404 {object} services.ErrorResponse
// @Failure 409 {object} services.ErrorResponse
// @Router /tickets/validate [post]
func (h *TicketHandler) ValidateTicket(w http.ResponseWriter, r *http.Request) {
	var req struct {
		QRData string `json:"qrData" validate:"required"`
	}

	r.Body = http.MaxBytesReader(w, r.Body, 1_048_576)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(&req); err != nil {
		services.SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		services.SendErrorResponse(w, "Request body must only contain a single JSON object", http.StatusBadRequest, nil)
		return
	}
	if err := h.validator.ValidateStruct(&req); err != nil {
		services.SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	ticket, err := h.qr.ValidateScan(r.Context(), req.QRData)
	if err != nil {
		services.SendErrorResponse(w, err.Error(), statusForError(err), nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"success": true,
		"ticket":  ticket,
	})
}

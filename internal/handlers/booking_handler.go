package handlers

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/transitgo/backend/internal/services"
)

type BookingHandler struct {
	bookings  *services.BookingService
	validator *services.ValidationHelper
	loc       *time.Location
}

func NewBookingHandler(bookings *services.BookingService, loc *time.Location) *BookingHandler {
	if loc == nil {
		loc = time.UTC
	}
	return &BookingHandler{
		bookings:  bookings,
		validator: services.NewValidationHelper(),
		loc:       loc,
	}
}

// Book creates a paid ticket
// @Summary Book a trip
// @Description Charge the wallet for the selected route and issue a ticket. Insufficient balance returns 402 with no state change.
// @Tags bookings
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body object{routeId=string,startPoint=string,endPoint=string,passengerCount=int,travelDate=string} true "Booking request"
// @Success 201 {object} models.Ticket
// @Failure 400 {object} services.ErrorResponse
// @Failure 402 {object} services.ErrorResponse
// @Router /bookings [post]
func (h *BookingHandler) Book(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value("userID").(string)
	if !ok || userID == "" {
		services.SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	var req struct {
		RouteID        string `json:"routeId" validate:"required"`
		StartPoint     string `json:"startPoint" validate:"required"`
		EndPoint       string `json:"endPoint" validate:"required"`
		PassengerCount int    `json:"passengerCount" validate:"required,gte=1"`
		TravelDate     string `json:"travelDate" validate:"required"`
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
	if req.StartPoint == req.EndPoint {
		services.SendErrorResponse(w, "Start and end points must differ", http.StatusBadRequest, nil)
		return
	}

	travelDate, err := time.ParseInLocation("2006-01-02", req.TravelDate, h.loc)
	if err != nil {
		services.SendErrorResponse(w, "Invalid travel date, expected YYYY-MM-DD", http.StatusBadRequest, nil)
		return
	}

	ticket, err := h.bookings.Book(r.Context(), userID, req.RouteID, req.StartPoint, req.EndPoint, req.PassengerCount, travelDate)
	if err != nil {
		services.SendErrorResponse(w, err.Error(), statusForError(err), nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(map[string]any{
		"success": true,
		"ticket":  ticket,
	})
}

// Cancel cancels an active ticket and refunds its fare
// @Summary Cancel a ticket
// @Tags bookings
// @Produce json
// @Security BearerAuth
// @Param ticketId path string true "Ticket id"
// @Success 200 {object} models.WalletTransaction
// @Failure 404 {object} services.ErrorResponse
// @Failure 409 {object} services.ErrorResponse
// @Router /tickets/{ticketId}/cancel [post]
func (h *BookingHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value("userID").(string)
	if !ok || userID == "" {
		services.SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	ticketID := chi.URLParam(r, "ticketId")
	if ticketID == "" {
		services.SendErrorResponse(w, "Ticket id required", http.StatusBadRequest, nil)
		return
	}

	refund, err := h.bookings.Cancel(r.Context(), userID, ticketID)
	if err != nil {
		services.SendErrorResponse(w, err.Error(), statusForError(err), nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"success": true,
		"refund":  refund,
	})
}

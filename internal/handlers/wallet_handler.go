package handlers

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"github.com/transitgo/backend/internal/services"
)

type WalletHandler struct {
	wallets   *services.WalletService
	channels  *services.PaymentChannelService
	validator *services.ValidationHelper
}

func NewWalletHandler(wallets *services.WalletService, channels *services.PaymentChannelService) *WalletHandler {
	return &WalletHandler{
		wallets:   wallets,
		channels:  channels,
		validator: services.NewValidationHelper(),
	}
}

// TopUp credits the caller's wallet
// @Summary Top up wallet
// @Description Credit the wallet via an external payment channel. Replays with the same externalTransactionId return the original transaction without double-crediting.
// @Tags wallet
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body object{amount=int64,paymentMethod=string,externalTransactionId=string} true "Top-up request"
// @Success 200 {object} models.WalletTransaction
// @Failure 400 {object} services.ErrorResponse
// @Failure 401 {object} services.ErrorResponse
// @Router /wallet/topup [post]
func (h *WalletHandler) TopUp(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value("userID").(string)
	if !ok || userID == "" {
		services.SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	var req struct {
		Amount        int64           `json:"amount" validate:"required,gt=0"`
		PaymentMethod string          `json:"paymentMethod" validate:"required"`
		ExternalRef   string          `json:"externalTransactionId"`
		Metadata      json.RawMessage `json:"metadata"`
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
	if !h.channels.IsKnownChannel(req.PaymentMethod) {
		services.SendErrorResponse(w, "Unknown payment method", http.StatusBadRequest, nil)
		return
	}

	tx, err := h.wallets.TopUp(r.Context(), userID, req.Amount, req.PaymentMethod, req.ExternalRef, req.Metadata)
	if err != nil {
		services.SendErrorResponse(w, err.Error(), statusForError(err), nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"success":        true,
		"transaction_id": tx.ID,
		"balance_before": tx.BalanceBefore,
		"balance_after":  tx.BalanceAfter,
		"amount":         tx.Amount,
	})
}

// GetWallet returns the caller's wallet
// @Summary Get wallet
// @Tags wallet
// @Produce json
// @Security BearerAuth
// @Success 200 {object} models.Wallet
// @Router /wallet [get]
func (h *WalletHandler) GetWallet(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value("userID").(string)
	if !ok || userID == "" {
		services.SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	wallet, err := h.wallets.Balance(r.Context(), userID)
	if err != nil {
		services.SendErrorResponse(w, err.Error(), statusForError(err), nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(wallet)
}

// ListTransactions returns the caller's ledger history
// @Summary List wallet transactions
// @Tags wallet
// @Produce json
// @Security BearerAuth
// @Param limit query int false "Maximum rows (default 50)"
// @Success 200 {array} models.WalletTransaction
// @Router /wallet/transactions [get]
func (h *WalletHandler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value("userID").(string)
	if !ok || userID == "" {
		services.SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 && parsed <= 200 {
			limit = parsed
		}
	}

	txs, err := h.wallets.Transactions(r.Context(), userID, limit)
	if err != nil {
		services.SendErrorResponse(w, err.Error(), statusForError(err), nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"transactions": txs,
		"count":        len(txs),
	})
}

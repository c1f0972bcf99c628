package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"ms-settlement/internal/auth"
	"ms-settlement/internal/logger"
	"ms-settlement/internal/settlement"
	"ms-settlement/internal/ticketcode"
	"ms-settlement/internal/utils"

	"github.com/go-chi/chi/v5"
)

type Handler struct {
	Service *settlement.Service
	Logger  *logger.Logger
}

// StripeWebhook receives payment notifications. Anything that passed signature
// verification is acknowledged with a generic marker; the provider's retries
// are for delivery failures, not for application outcomes.
func (h *Handler) StripeWebhook(w http.ResponseWriter, r *http.Request) {
	if err := h.Service.HandleStripeWebhook(r); err != nil {
		var webhookErr *settlement.WebhookError
		if errors.As(err, &webhookErr) {
			h.Logger.Info("API", fmt.Sprintf("StripeWebhook: rejecting, category=%s status=%d",
				webhookErr.Category, webhookErr.StatusCode))
			http.Error(w, webhookErr.PublicError, webhookErr.StatusCode)
			return
		}
		http.Error(w, "Webhook processing error", http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]bool{"received": true})
}

type verifyTicketRequest struct {
	QRPayload string `json:"qr_payload"`
}

// VerifyTicket lets a scanner challenge-verify a scanned payload. The
// signature check happens before any lookup, so forged payloads never reach
// the database.
func (h *Handler) VerifyTicket(w http.ResponseWriter, r *http.Request) {
	var req verifyTicketRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, utils.ErrorResponse("Invalid request payload", err.Error()))
		return
	}
	if req.QRPayload == "" {
		writeJSON(w, http.StatusBadRequest, utils.ErrorResponse("Invalid request payload", "qr_payload is required"))
		return
	}

	ticket, err := h.Service.VerifyTicket(r.Context(), req.QRPayload)
	if err != nil {
		if errors.Is(err, ticketcode.ErrInvalidPayload) {
			h.Logger.Warn("API", "VerifyTicket: payload failed signature check")
			writeJSON(w, http.StatusUnprocessableEntity, utils.ErrorResponse("Ticket verification failed", "invalid payload"))
			return
		}
		h.Logger.Warn("API", fmt.Sprintf("VerifyTicket: lookup failed: %v", err))
		writeJSON(w, http.StatusNotFound, utils.ErrorResponse("Ticket verification failed", "unknown ticket"))
		return
	}

	scanner := auth.Subject(r.Context())
	if scanner == "" {
		scanner = "unknown"
	}
	h.Logger.Info("API", fmt.Sprintf("VerifyTicket: ticket %s verified by %s", ticket.TicketID, scanner))
	writeJSON(w, http.StatusOK, utils.SuccessResponse("Ticket verified", ticket))
}

// OrderTickets lists the tickets issued for a settled order.
func (h *Handler) OrderTickets(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderID")
	if orderID == "" {
		writeJSON(w, http.StatusBadRequest, utils.ErrorResponse("Invalid request", "order ID is required"))
		return
	}

	tickets, err := h.Service.OrderTickets(r.Context(), orderID)
	if err != nil {
		h.Logger.Warn("API", fmt.Sprintf("OrderTickets: %v", err))
		writeJSON(w, http.StatusInternalServerError, utils.ErrorResponse("Failed to load tickets", orderID))
		return
	}

	writeJSON(w, http.StatusOK, utils.SuccessResponse("Tickets retrieved", tickets))
}

// TicketQR renders the signed payload of an issued ticket as a PNG.
func (h *Handler) TicketQR(w http.ResponseWriter, r *http.Request) {
	ticketID := chi.URLParam(r, "ticketID")
	if ticketID == "" {
		writeJSON(w, http.StatusBadRequest, utils.ErrorResponse("Invalid request", "ticket ID is required"))
		return
	}

	png, err := h.Service.TicketQR(r.Context(), ticketID)
	if err != nil {
		h.Logger.Warn("API", fmt.Sprintf("TicketQR: %v", err))
		writeJSON(w, http.StatusNotFound, utils.ErrorResponse("Ticket not found", ticketID))
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Write(png)
}

func writeJSON(w http.ResponseWriter, status int, body utils.APIResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

package http

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/KryssNa/sugandha-api/internal/checkout"
	"github.com/KryssNa/sugandha-api/internal/payment"
	"github.com/KryssNa/sugandha-api/internal/repository"
)

type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Printf("failed to encode response: %v", err)
	}
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, ErrorResponse{
		Error: message,
		Code:  code,
	})
}

// handleServiceError translates domain sentinels into HTTP statuses.
// Unknown errors become an opaque 500; internals never leak to clients.
func handleServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, checkout.ErrInvalidInput):
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
	case errors.Is(err, payment.ErrUnsupportedMethod):
		respondError(w, http.StatusBadRequest, "unsupported_method", err.Error())
	case errors.Is(err, repository.ErrInsufficientStock):
		respondError(w, http.StatusConflict, "insufficient_stock", "one or more items are out of stock")
	case errors.Is(err, repository.ErrProductNotFound):
		respondError(w, http.StatusNotFound, "product_not_found", "unknown product in order")
	case errors.Is(err, repository.ErrOrderNotFound):
		respondError(w, http.StatusNotFound, "order_not_found", "order not found")
	case errors.Is(err, repository.ErrPaymentNotFound):
		respondError(w, http.StatusNotFound, "payment_not_found", "payment not found")
	case errors.Is(err, checkout.ErrRetryNotAllowed):
		respondError(w, http.StatusConflict, "retry_not_allowed", err.Error())
	case errors.Is(err, repository.ErrIllegalTransition):
		respondError(w, http.StatusConflict, "illegal_transition", err.Error())
	default:
		log.Printf("internal error: %v", err)
		respondError(w, http.StatusInternalServerError, "internal_error", "internal server error")
	}
}

package http

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/KryssNa/sugandha-api/internal/domain"
	"github.com/KryssNa/sugandha-api/internal/payment"
)

// PaymentService is the slice of the payment ledger the callback
// endpoints use.
type PaymentService interface {
	ProcessPayment(ctx context.Context, order *domain.Order, input domain.PaymentInput) (*payment.Result, error)
	VerifyWalletPayment(ctx context.Context, method domain.PaymentMethodType, token string) (*payment.VerifyResult, error)
}

// OrderReader loads orders scoped to the requesting identity.
type OrderReader interface {
	GetOrderForIdentity(ctx context.Context, id uuid.UUID, userID, guestEmail string) (*domain.Order, error)
}

type PaymentsHandler struct {
	payments PaymentService
	orders   OrderReader
	timeout  time.Duration
}

func NewPaymentsHandler(payments PaymentService, orders OrderReader, timeout time.Duration) *PaymentsHandler {
	return &PaymentsHandler{payments: payments, orders: orders, timeout: timeout}
}

type InitiatePaymentDTO struct {
	OrderID    string     `json:"order_id"`
	Method     string     `json:"method"`
	GuestEmail string     `json:"guest_email"`
	Wallet     *WalletDTO `json:"wallet,omitempty"`
}

type InitiatePaymentResponseDTO struct {
	PaymentID     string            `json:"payment_id"`
	RedirectURL   string            `json:"redirect_url,omitempty"`
	FormData      map[string]string `json:"form_data,omitempty"`
	Pidx          string            `json:"pidx,omitempty"`
	FailureReason string            `json:"failure_reason,omitempty"`
}

// POST /api/v1/payments/initiate
//
// Re-opens a wallet redirect for an order whose shopper dropped off
// before completing the provider flow. Creates a fresh attempt; the
// abandoned one stays behind as history.
func (h *PaymentsHandler) Initiate(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	var dto InitiatePaymentDTO
	if err := json.NewDecoder(r.Body).Decode(&dto); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}

	orderID, err := uuid.Parse(dto.OrderID)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_order_id", "order_id must be a UUID")
		return
	}

	method := domain.PaymentMethodType(dto.Method)
	if method != domain.MethodEsewa && method != domain.MethodKhalti {
		respondError(w, http.StatusBadRequest, "unsupported_method", "initiate only applies to wallet methods")
		return
	}

	userID := getUserIDFromContext(r.Context())
	if userID == "" && dto.GuestEmail == "" {
		respondError(w, http.StatusUnauthorized, "unauthorized", "sign in or supply the guest email")
		return
	}

	order, err := h.orders.GetOrderForIdentity(ctx, orderID, userID, dto.GuestEmail)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	if order.Status.IsTerminal() || order.Status == domain.OrderStatusPaid {
		respondError(w, http.StatusConflict, "already_settled", "order is not awaiting payment")
		return
	}

	input := domain.PaymentInput{Type: method}
	if dto.Wallet != nil {
		input.Wallet = &domain.WalletDetails{
			PhoneNumber: dto.Wallet.PhoneNumber,
			Email:       dto.Wallet.Email,
		}
	}

	result, err := h.payments.ProcessPayment(ctx, order, input)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	resp := InitiatePaymentResponseDTO{
		PaymentID:     result.Payment.ID.String(),
		RedirectURL:   result.RedirectURL,
		FormData:      result.FormData,
		Pidx:          result.Pidx,
		FailureReason: result.FailureReason,
	}
	if !result.Pending {
		respondJSON(w, http.StatusBadGateway, resp)
		return
	}
	respondJSON(w, http.StatusOK, resp)
}

type VerifyPaymentDTO struct {
	Method string `json:"method"`
	Token  string `json:"token"`
}

type VerifyPaymentResponseDTO struct {
	Verified     bool   `json:"verified"`
	Inconclusive bool   `json:"inconclusive,omitempty"`
	OrderID      string `json:"order_id,omitempty"`
	PaymentID    string `json:"payment_id,omitempty"`
	Message      string `json:"message,omitempty"`
}

// POST /api/v1/payments/verify
//
// Token is the provider's callback artifact: the base64 field set for
// eSewa, the pidx for Khalti. An inconclusive answer is a 202 so the
// client knows to try again, not a failure.
func (h *PaymentsHandler) Verify(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	var dto VerifyPaymentDTO
	if err := json.NewDecoder(r.Body).Decode(&dto); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	if dto.Token == "" {
		respondError(w, http.StatusBadRequest, "missing_token", "token is required")
		return
	}

	method := domain.PaymentMethodType(dto.Method)
	if method != domain.MethodEsewa && method != domain.MethodKhalti {
		respondError(w, http.StatusBadRequest, "unsupported_method", "verify only applies to wallet methods")
		return
	}

	result, err := h.payments.VerifyWalletPayment(ctx, method, dto.Token)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	resp := VerifyPaymentResponseDTO{
		Verified:     result.Verified,
		Inconclusive: result.Inconclusive,
		Message:      result.Message,
	}
	if result.Payment != nil {
		resp.OrderID = result.Payment.OrderID.String()
		resp.PaymentID = result.Payment.ID.String()
	}

	switch {
	case result.Verified:
		respondJSON(w, http.StatusOK, resp)
	case result.Inconclusive:
		respondJSON(w, http.StatusAccepted, resp)
	default:
		respondJSON(w, http.StatusPaymentRequired, resp)
	}
}

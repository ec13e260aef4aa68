package http

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/KryssNa/sugandha-api/internal/checkout"
	"github.com/KryssNa/sugandha-api/internal/domain"
)

// CheckoutService is the orchestrator surface the handler drives.
type CheckoutService interface {
	Checkout(ctx context.Context, req checkout.Request) (*checkout.Result, error)
	RetryPayment(ctx context.Context, orderID uuid.UUID, userID, guestEmail string, input domain.PaymentInput) (*checkout.Result, error)
}

type CheckoutHandler struct {
	service CheckoutService
	timeout time.Duration
}

func NewCheckoutHandler(service CheckoutService, timeout time.Duration) *CheckoutHandler {
	return &CheckoutHandler{service: service, timeout: timeout}
}

type OrderItemDTO struct {
	ProductID string  `json:"product_id"`
	Name      string  `json:"name"`
	Image     string  `json:"image"`
	UnitPrice float64 `json:"unit_price"`
	Quantity  int32   `json:"quantity"`
}

type ShippingAddressDTO struct {
	FirstName  string `json:"first_name"`
	LastName   string `json:"last_name"`
	Email      string `json:"email"`
	Phone      string `json:"phone"`
	Street     string `json:"street"`
	City       string `json:"city"`
	State      string `json:"state"`
	Country    string `json:"country"`
	PostalCode string `json:"postal_code"`
}

type CardDTO struct {
	HolderName  string `json:"holder_name"`
	Number      string `json:"number"`
	ExpiryMonth int    `json:"expiry_month"`
	ExpiryYear  int    `json:"expiry_year"`
	CVV         string `json:"cvv"`
	CardType    string `json:"card_type"`
}

type WalletDTO struct {
	PhoneNumber string `json:"phone_number"`
	Email       string `json:"email"`
}

type PaymentInputDTO struct {
	Method string     `json:"method"`
	Card   *CardDTO   `json:"card,omitempty"`
	Wallet *WalletDTO `json:"wallet,omitempty"`
}

type CheckoutRequestDTO struct {
	IsGuest         bool               `json:"is_guest"`
	GuestEmail      string             `json:"guest_email"`
	GuestFirstName  string             `json:"guest_first_name"`
	GuestLastName   string             `json:"guest_last_name"`
	Items           []OrderItemDTO     `json:"items"`
	ShippingAddress ShippingAddressDTO `json:"shipping_address"`
	Subtotal        float64            `json:"subtotal"`
	Tax             float64            `json:"tax"`
	ShippingCost    float64            `json:"shipping_cost"`
	TotalAmount     float64            `json:"total_amount"`
	Payment         PaymentInputDTO    `json:"payment"`
}

type CheckoutResponseDTO struct {
	OrderID       string            `json:"order_id"`
	OrderNumber   string            `json:"order_number"`
	PaymentStatus string            `json:"payment_status"`
	Success       bool              `json:"success"`
	Pending       bool              `json:"pending,omitempty"`
	Duplicate     bool              `json:"duplicate,omitempty"`
	RedirectURL   string            `json:"redirect_url,omitempty"`
	FormData      map[string]string `json:"form_data,omitempty"`
	Pidx          string            `json:"pidx,omitempty"`
	FailureReason string            `json:"failure_reason,omitempty"`
}

// POST /api/v1/checkout
func (h *CheckoutHandler) Checkout(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	var dto CheckoutRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&dto); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}

	userID := getUserIDFromContext(r.Context())
	if userID == "" && !dto.IsGuest {
		respondError(w, http.StatusUnauthorized, "unauthorized", "sign in or check out as guest")
		return
	}

	req, err := dto.toRequest(userID)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	req.IdempotencyKey = r.Header.Get("Idempotency-Key")

	result, err := h.service.Checkout(ctx, req)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	respondJSON(w, checkoutStatusCode(result), toCheckoutResponse(result))
}

// POST /api/v1/checkout/{order_id}/retry-payment
func (h *CheckoutHandler) RetryPayment(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	orderID, err := uuid.Parse(chi.URLParam(r, "order_id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_order_id", "order_id must be a UUID")
		return
	}

	var dto struct {
		GuestEmail string          `json:"guest_email"`
		Payment    PaymentInputDTO `json:"payment"`
	}
	if err := json.NewDecoder(r.Body).Decode(&dto); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}

	userID := getUserIDFromContext(r.Context())
	if userID == "" && dto.GuestEmail == "" {
		respondError(w, http.StatusUnauthorized, "unauthorized", "sign in or supply the guest email")
		return
	}

	result, err := h.service.RetryPayment(ctx, orderID, userID, dto.GuestEmail, dto.Payment.toInput())
	if err != nil {
		handleServiceError(w, err)
		return
	}

	respondJSON(w, checkoutStatusCode(result), toCheckoutResponse(result))
}

func (dto CheckoutRequestDTO) toRequest(userID string) (checkout.Request, error) {
	items := make([]domain.OrderItem, 0, len(dto.Items))
	for _, item := range dto.Items {
		productID, err := uuid.Parse(item.ProductID)
		if err != nil {
			return checkout.Request{}, err
		}
		items = append(items, domain.OrderItem{
			ProductID: productID,
			Name:      item.Name,
			Image:     item.Image,
			UnitPrice: item.UnitPrice,
			Quantity:  item.Quantity,
		})
	}

	return checkout.Request{
		UserID:         userID,
		IsGuest:        dto.IsGuest,
		GuestEmail:     dto.GuestEmail,
		GuestFirstName: dto.GuestFirstName,
		GuestLastName:  dto.GuestLastName,
		Items:          items,
		ShippingAddress: domain.ShippingAddress{
			FirstName:  dto.ShippingAddress.FirstName,
			LastName:   dto.ShippingAddress.LastName,
			Email:      dto.ShippingAddress.Email,
			Phone:      dto.ShippingAddress.Phone,
			Street:     dto.ShippingAddress.Street,
			City:       dto.ShippingAddress.City,
			State:      dto.ShippingAddress.State,
			Country:    dto.ShippingAddress.Country,
			PostalCode: dto.ShippingAddress.PostalCode,
		},
		Subtotal:     dto.Subtotal,
		Tax:          dto.Tax,
		ShippingCost: dto.ShippingCost,
		TotalAmount:  dto.TotalAmount,
		Payment:      dto.Payment.toInput(),
	}, nil
}

func (dto PaymentInputDTO) toInput() domain.PaymentInput {
	input := domain.PaymentInput{Type: domain.PaymentMethodType(dto.Method)}
	if dto.Card != nil {
		input.Card = &domain.CardDetails{
			HolderName:  dto.Card.HolderName,
			Number:      dto.Card.Number,
			ExpiryMonth: dto.Card.ExpiryMonth,
			ExpiryYear:  dto.Card.ExpiryYear,
			CVV:         dto.Card.CVV,
			CardType:    dto.Card.CardType,
		}
	}
	if dto.Wallet != nil {
		input.Wallet = &domain.WalletDetails{
			PhoneNumber: dto.Wallet.PhoneNumber,
			Email:       dto.Wallet.Email,
		}
	}
	return input
}

func toCheckoutResponse(result *checkout.Result) CheckoutResponseDTO {
	return CheckoutResponseDTO{
		OrderID:       result.OrderID.String(),
		OrderNumber:   result.OrderNumber,
		PaymentStatus: result.PaymentStatus.String(),
		Success:       result.Success,
		Pending:       result.Pending,
		Duplicate:     result.Duplicate,
		RedirectURL:   result.RedirectURL,
		FormData:      result.FormData,
		Pidx:          result.Pidx,
		FailureReason: result.FailureReason,
	}
}

// checkoutStatusCode keeps the order-created vs payment-failed
// distinction visible at the HTTP layer: the order exists either way,
// but 402 tells the client the retry path is open.
func checkoutStatusCode(result *checkout.Result) int {
	switch {
	case result.Duplicate:
		return http.StatusOK
	case result.Success, result.Pending:
		return http.StatusCreated
	default:
		return http.StatusPaymentRequired
	}
}

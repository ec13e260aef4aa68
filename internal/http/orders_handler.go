package http

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/KryssNa/sugandha-api/internal/domain"
)

// OrderLister pages through an account's order history.
type OrderLister interface {
	OrderReader
	ListUserOrders(ctx context.Context, userID string, page, pageSize int) ([]*domain.Order, int, error)
}

type OrdersHandler struct {
	orders  OrderLister
	timeout time.Duration
}

func NewOrdersHandler(orders OrderLister, timeout time.Duration) *OrdersHandler {
	return &OrdersHandler{orders: orders, timeout: timeout}
}

type OrderResponseDTO struct {
	ID                string             `json:"id"`
	OrderNumber       string             `json:"order_number"`
	Status            string             `json:"status"`
	Items             []OrderItemDTO     `json:"items"`
	ShippingAddress   ShippingAddressDTO `json:"shipping_address"`
	PaymentMethod     string             `json:"payment_method"`
	Subtotal          float64            `json:"subtotal"`
	Tax               float64            `json:"tax"`
	ShippingCost      float64            `json:"shipping_cost"`
	TotalAmount       float64            `json:"total_amount"`
	EstimatedDelivery string             `json:"estimated_delivery"`
	CreatedAt         string             `json:"created_at"`
}

type OrderListResponseDTO struct {
	Orders   []OrderResponseDTO `json:"orders"`
	Total    int                `json:"total"`
	Page     int                `json:"page"`
	PageSize int                `json:"page_size"`
}

// GET /api/v1/orders/{order_id}
func (h *OrdersHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	orderID, err := uuid.Parse(chi.URLParam(r, "order_id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_order_id", "order_id must be a UUID")
		return
	}

	userID := getUserIDFromContext(r.Context())
	guestEmail := r.URL.Query().Get("guest_email")
	if userID == "" && guestEmail == "" {
		respondError(w, http.StatusUnauthorized, "unauthorized", "sign in or supply the guest email")
		return
	}

	order, err := h.orders.GetOrderForIdentity(ctx, orderID, userID, guestEmail)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, convertOrder(order))
}

// GET /api/v1/orders
func (h *OrdersHandler) ListOrders(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	userID := getUserIDFromContext(r.Context())
	if userID == "" {
		respondError(w, http.StatusUnauthorized, "unauthorized", "missing user authentication")
		return
	}

	page := queryInt(r, "page", 1)
	pageSize := queryInt(r, "page_size", 20)
	if pageSize > 100 {
		pageSize = 100
	}

	orders, total, err := h.orders.ListUserOrders(ctx, userID, page, pageSize)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	dtos := make([]OrderResponseDTO, 0, len(orders))
	for _, order := range orders {
		dtos = append(dtos, convertOrder(order))
	}

	respondJSON(w, http.StatusOK, OrderListResponseDTO{
		Orders:   dtos,
		Total:    total,
		Page:     page,
		PageSize: pageSize,
	})
}

func convertOrder(order *domain.Order) OrderResponseDTO {
	items := make([]OrderItemDTO, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, OrderItemDTO{
			ProductID: item.ProductID.String(),
			Name:      item.Name,
			Image:     item.Image,
			UnitPrice: item.UnitPrice,
			Quantity:  item.Quantity,
		})
	}

	return OrderResponseDTO{
		ID:          order.ID.String(),
		OrderNumber: order.OrderNumber,
		Status:      order.Status.String(),
		Items:       items,
		ShippingAddress: ShippingAddressDTO{
			FirstName:  order.ShippingAddress.FirstName,
			LastName:   order.ShippingAddress.LastName,
			Email:      order.ShippingAddress.Email,
			Phone:      order.ShippingAddress.Phone,
			Street:     order.ShippingAddress.Street,
			City:       order.ShippingAddress.City,
			State:      order.ShippingAddress.State,
			Country:    order.ShippingAddress.Country,
			PostalCode: order.ShippingAddress.PostalCode,
		},
		PaymentMethod:     string(order.PaymentMethod),
		Subtotal:          order.Subtotal,
		Tax:               order.Tax,
		ShippingCost:      order.ShippingCost,
		TotalAmount:       order.TotalAmount,
		EstimatedDelivery: order.EstimatedDelivery.Format(time.RFC3339),
		CreatedAt:         order.CreatedAt.Format(time.RFC3339),
	}
}

func queryInt(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value < 1 {
		return fallback
	}
	return value
}

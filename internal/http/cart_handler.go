package http

import (
	"context"
	"net/http"
	"time"

	"github.com/KryssNa/sugandha-api/internal/cart"
)

// CartReader serves the storefront's cart display.
type CartReader interface {
	GetCart(ctx context.Context, userID string) (*cart.Cart, error)
}

type CartHandler struct {
	carts   CartReader
	timeout time.Duration
}

func NewCartHandler(carts CartReader, timeout time.Duration) *CartHandler {
	return &CartHandler{carts: carts, timeout: timeout}
}

type CartItemDTO struct {
	ProductID string `json:"product_id"`
	Quantity  int32  `json:"quantity"`
	AddedAt   string `json:"added_at"`
}

type CartResponseDTO struct {
	UserID      string        `json:"user_id"`
	Items       []CartItemDTO `json:"items"`
	TotalAmount float64       `json:"total_amount"`
	UpdatedAt   string        `json:"updated_at"`
}

// GET /api/v1/cart
func (h *CartHandler) GetCart(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	userID := getUserIDFromContext(r.Context())
	if userID == "" {
		respondError(w, http.StatusUnauthorized, "unauthorized", "missing user authentication")
		return
	}

	c, err := h.carts.GetCart(ctx, userID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	items := make([]CartItemDTO, 0, len(c.Items))
	for _, item := range c.Items {
		items = append(items, CartItemDTO{
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			AddedAt:   item.AddedAt.Format(time.RFC3339),
		})
	}

	respondJSON(w, http.StatusOK, CartResponseDTO{
		UserID:      c.UserID,
		Items:       items,
		TotalAmount: c.TotalAmount,
		UpdatedAt:   c.UpdatedAt.Format(time.RFC3339),
	})
}

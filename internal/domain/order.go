package domain

import (
	"math/rand"
	"time"

	"github.com/google/uuid"
)

// PaymentMethodType selects which payment flow settles an order.
type PaymentMethodType string

const (
	MethodCreditCard     PaymentMethodType = "credit-card"
	MethodKhalti         PaymentMethodType = "khalti"
	MethodEsewa          PaymentMethodType = "esewa"
	MethodCashOnDelivery PaymentMethodType = "cash-on-delivery"
)

func (m PaymentMethodType) Valid() bool {
	switch m {
	case MethodCreditCard, MethodKhalti, MethodEsewa, MethodCashOnDelivery:
		return true
	}
	return false
}

type OrderStatus string

const (
	OrderStatusPending       OrderStatus = "pending"
	OrderStatusProcessing    OrderStatus = "processing"
	OrderStatusPaid          OrderStatus = "paid"
	OrderStatusShipped       OrderStatus = "shipped"
	OrderStatusDelivered     OrderStatus = "delivered"
	OrderStatusCancelled     OrderStatus = "cancelled"
	OrderStatusRefunded      OrderStatus = "refunded"
	OrderStatusPaymentFailed OrderStatus = "payment-failed"
)

// orderTransitions lists every legal status change. An order starts as
// pending, moves to processing once a payment attempt is recorded, and
// payment-failed can return to processing through a retry. Pending may
// drop straight to payment-failed when an attempt could not even be
// recorded, so the retry path stays open.
var orderTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusPending:       {OrderStatusProcessing, OrderStatusPaymentFailed},
	OrderStatusProcessing:    {OrderStatusPaid, OrderStatusPaymentFailed},
	OrderStatusPaid:          {OrderStatusShipped, OrderStatusPaymentFailed, OrderStatusCancelled, OrderStatusRefunded},
	OrderStatusPaymentFailed: {OrderStatusProcessing},
	OrderStatusShipped:       {OrderStatusDelivered, OrderStatusCancelled, OrderStatusRefunded},
}

func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	for _, allowed := range orderTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

func (s OrderStatus) IsTerminal() bool {
	return s == OrderStatusDelivered || s == OrderStatusCancelled || s == OrderStatusRefunded
}

// String representation (for logging)
func (s OrderStatus) String() string {
	return string(s)
}

// OrderItem is a snapshot of a product at order-creation time. Catalog
// changes after creation never alter a placed order.
type OrderItem struct {
	ProductID uuid.UUID `json:"product_id"`
	Name      string    `json:"name"`
	Image     string    `json:"image"`
	UnitPrice float64   `json:"unit_price"`
	Quantity  int32     `json:"quantity"`
}

type ShippingAddress struct {
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

// Order is the durable record of a purchase and its payment state. Orders
// are never deleted; they only move through the status machine.
type Order struct {
	ID                uuid.UUID
	OrderNumber       string
	UserID            *string
	IsGuest           bool
	GuestEmail        string
	Items             []OrderItem
	ShippingAddress   ShippingAddress
	PaymentMethod     PaymentMethodType
	PaymentID         *uuid.UUID
	Subtotal          float64
	Tax               float64
	ShippingCost      float64
	TotalAmount       float64
	Status            OrderStatus
	IdempotencyKey    *string
	EstimatedDelivery time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// DefaultDeliveryOffset is added to the creation time when no estimated
// delivery date is supplied.
const DefaultDeliveryOffset = 72 * time.Hour

const orderNumberAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// NewOrderNumber returns a human-readable order code like ORD-7KQ2M9XA.
// Uniqueness is enforced by the store; callers retry on collision.
func NewOrderNumber() string {
	code := make([]byte, 8)
	for i := range code {
		code[i] = orderNumberAlphabet[rand.Intn(len(orderNumberAlphabet))]
	}
	return "ORD-" + string(code)
}

package checkout

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"strings"

	"github.com/google/uuid"

	"github.com/KryssNa/sugandha-api/internal/domain"
	"github.com/KryssNa/sugandha-api/internal/identity"
	"github.com/KryssNa/sugandha-api/internal/payment"
	"github.com/KryssNa/sugandha-api/internal/repository"
)

var (
	ErrInvalidInput    = errors.New("invalid checkout input")
	ErrRetryNotAllowed = errors.New("order is not awaiting a payment retry")
)

// Request is a checkout submission: the cart snapshot, where to ship it,
// how to pay, and who is buying.
type Request struct {
	UserID          string
	IsGuest         bool
	GuestEmail      string
	GuestFirstName  string
	GuestLastName   string
	Items           []domain.OrderItem
	ShippingAddress domain.ShippingAddress
	Subtotal        float64
	Tax             float64
	ShippingCost    float64
	TotalAmount     float64
	Payment         domain.PaymentInput
	IdempotencyKey  string
}

// Result is the uniform checkout outcome. Success reports whether the
// payment settled; the order itself exists whenever OrderID is set, even
// when payment failed. Pending carries wallet redirect data.
type Result struct {
	OrderID       uuid.UUID
	OrderNumber   string
	PaymentStatus domain.PaymentStatus
	Success       bool
	Pending       bool
	Duplicate     bool
	RedirectURL   string
	FormData      map[string]string
	Pidx          string
	FailureReason string
}

// PaymentProcessor is the slice of the payment ledger the orchestrator
// drives.
type PaymentProcessor interface {
	ProcessPayment(ctx context.Context, order *domain.Order, input domain.PaymentInput) (*payment.Result, error)
}

// FailureRecorder captures failed attempts for support visibility.
type FailureRecorder interface {
	Record(ctx context.Context, order *domain.Order, input domain.PaymentInput, errorType, errorMessage string) (*domain.PaymentFailure, error)
}

// CartClearer empties a shopper's cart once their order is placed.
type CartClearer interface {
	Clear(ctx context.Context, userID string) error
}

// Service is the checkout orchestrator: it resolves the buying identity,
// reserves inventory and persists the order, drives the payment attempt,
// and reconciles the outcome into one uniform result. It also owns the
// retry path for orders whose payment failed.
type Service struct {
	orders   repository.OrderStore
	payments PaymentProcessor
	identity identity.Service
	carts    CartClearer
	failures FailureRecorder
}

func NewService(
	orders repository.OrderStore,
	payments PaymentProcessor,
	identitySvc identity.Service,
	carts CartClearer,
	failures FailureRecorder,
) *Service {
	return &Service{
		orders:   orders,
		payments: payments,
		identity: identitySvc,
		carts:    carts,
		failures: failures,
	}
}

// Checkout turns a cart submission into a durable order and drives the
// payment attempt. Inventory reservation and order creation commit
// together; a failed reservation aborts before any payment attempt. A
// failed payment still leaves the order behind, in payment-failed, with
// the retry path open.
func (s *Service) Checkout(ctx context.Context, req Request) (*Result, error) {
	if err := validate(req); err != nil {
		return nil, err
	}

	if req.IdempotencyKey != "" {
		existing, err := s.orders.GetOrderByIdempotencyKey(ctx, req.IdempotencyKey)
		if err == nil {
			return replayedResult(existing), nil
		}
		if !errors.Is(err, repository.ErrOrderNotFound) {
			return nil, err
		}
	}

	order, err := s.buildOrder(ctx, req)
	if err != nil {
		return nil, err
	}

	if err := s.orders.CreateOrder(ctx, order); err != nil {
		// A duplicate key means a concurrent submission with the same
		// idempotency key won the race; hand back its order.
		if errors.Is(err, repository.ErrDuplicateCheckout) && req.IdempotencyKey != "" {
			existing, lookupErr := s.orders.GetOrderByIdempotencyKey(ctx, req.IdempotencyKey)
			if lookupErr != nil {
				return nil, lookupErr
			}
			return replayedResult(existing), nil
		}
		return nil, err
	}

	if !req.IsGuest && req.UserID != "" {
		if clearErr := s.carts.Clear(ctx, req.UserID); clearErr != nil {
			log.Printf("failed to clear cart for user %s after order %s: %v", req.UserID, order.ID, clearErr)
		}
	}

	return s.attemptPayment(ctx, order, req.Payment)
}

// RetryPayment opens a fresh settlement attempt against an existing
// order. Inventory stays reserved from the original checkout; only
// orders sitting in payment-failed are eligible.
func (s *Service) RetryPayment(ctx context.Context, orderID uuid.UUID, userID, guestEmail string, input domain.PaymentInput) (*Result, error) {
	order, err := s.orders.GetOrderForIdentity(ctx, orderID, userID, guestEmail)
	if err != nil {
		return nil, err
	}

	if order.Status != domain.OrderStatusPaymentFailed {
		return nil, fmt.Errorf("order %s is %s: %w", order.OrderNumber, order.Status, ErrRetryNotAllowed)
	}

	return s.attemptPayment(ctx, order, input)
}

func (s *Service) attemptPayment(ctx context.Context, order *domain.Order, input domain.PaymentInput) (*Result, error) {
	result := &Result{
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
	}

	payResult, err := s.payments.ProcessPayment(ctx, order, input)
	if err != nil {
		// The order exists; the attempt could not be processed. Surface a
		// payment failure, not a lost checkout, and move the order to
		// payment-failed so the retry path stays open.
		s.recordFailure(ctx, order, input, "internal", err.Error())
		s.markPaymentFailed(ctx, order)
		result.PaymentStatus = domain.PaymentStatusFailed
		result.FailureReason = "payment could not be processed"
		return result, nil
	}

	switch {
	case payResult.Success:
		result.Success = true
		result.PaymentStatus = domain.PaymentStatusCompleted
	case payResult.Pending:
		result.Pending = true
		result.PaymentStatus = domain.PaymentStatusPending
		result.RedirectURL = payResult.RedirectURL
		result.FormData = payResult.FormData
		result.Pidx = payResult.Pidx
	default:
		result.PaymentStatus = domain.PaymentStatusFailed
		result.FailureReason = payResult.FailureReason
		s.recordFailure(ctx, order, input, classifyFailure(payResult.FailureReason), payResult.FailureReason)
	}
	return result, nil
}

// markPaymentFailed compensates for a payment attempt that errored after
// the order committed. Without it the order would sit in pending or
// processing while the client was told the payment failed, and retry
// would reject it.
func (s *Service) markPaymentFailed(ctx context.Context, order *domain.Order) {
	updated, err := s.orders.UpdateOrderStatus(ctx, order.ID, domain.OrderStatusPaymentFailed)
	if err != nil {
		// An illegal transition means the order already sits in
		// payment-failed; anything else is worth a log line.
		if !errors.Is(err, repository.ErrIllegalTransition) {
			log.Printf("failed to mark order %s payment-failed: %v", order.ID, err)
		}
		return
	}
	order.Status = updated.Status
}

func (s *Service) recordFailure(ctx context.Context, order *domain.Order, input domain.PaymentInput, errorType, message string) {
	if _, err := s.failures.Record(ctx, order, input, errorType, message); err != nil {
		log.Printf("failed to record payment failure for order %s: %v", order.ID, err)
	}
}

func (s *Service) buildOrder(ctx context.Context, req Request) (*domain.Order, error) {
	order := &domain.Order{
		ID:              uuid.New(),
		Items:           req.Items,
		ShippingAddress: req.ShippingAddress,
		PaymentMethod:   req.Payment.Type,
		Subtotal:        req.Subtotal,
		Tax:             req.Tax,
		ShippingCost:    req.ShippingCost,
		TotalAmount:     req.TotalAmount,
		Status:          domain.OrderStatusPending,
	}
	if req.IdempotencyKey != "" {
		key := req.IdempotencyKey
		order.IdempotencyKey = &key
	}

	if req.IsGuest {
		email := req.GuestEmail
		if email == "" {
			email = req.ShippingAddress.Email
		}
		firstName := req.GuestFirstName
		if firstName == "" {
			firstName = req.ShippingAddress.FirstName
		}
		lastName := req.GuestLastName
		if lastName == "" {
			lastName = req.ShippingAddress.LastName
		}

		userID, err := s.identity.FindOrCreateGuest(ctx, email, firstName, lastName)
		if err != nil {
			return nil, fmt.Errorf("resolve guest identity: %w", err)
		}
		order.UserID = &userID
		order.IsGuest = true
		order.GuestEmail = email
		return order, nil
	}

	userID := req.UserID
	order.UserID = &userID
	return order, nil
}

func validate(req Request) error {
	if len(req.Items) == 0 {
		return fmt.Errorf("%w: order has no items", ErrInvalidInput)
	}
	for _, item := range req.Items {
		if item.Quantity < 1 {
			return fmt.Errorf("%w: item %s has quantity %d", ErrInvalidInput, item.ProductID, item.Quantity)
		}
	}
	if !req.Payment.Type.Valid() {
		return fmt.Errorf("%w: unknown payment method %q", ErrInvalidInput, req.Payment.Type)
	}
	if req.Subtotal < 0 || req.Tax < 0 || req.ShippingCost < 0 || req.TotalAmount < 0 {
		return fmt.Errorf("%w: negative amount", ErrInvalidInput)
	}
	if math.Abs(req.TotalAmount-(req.Subtotal+req.Tax+req.ShippingCost)) > 0.01 {
		return fmt.Errorf("%w: total %.2f does not match subtotal %.2f + tax %.2f + shipping %.2f",
			ErrInvalidInput, req.TotalAmount, req.Subtotal, req.Tax, req.ShippingCost)
	}
	if req.IsGuest {
		if req.GuestEmail == "" && req.ShippingAddress.Email == "" {
			return fmt.Errorf("%w: guest checkout requires an email", ErrInvalidInput)
		}
	} else if req.UserID == "" {
		return fmt.Errorf("%w: missing user id", ErrInvalidInput)
	}
	if req.ShippingAddress.Street == "" || req.ShippingAddress.City == "" {
		return fmt.Errorf("%w: incomplete shipping address", ErrInvalidInput)
	}
	return nil
}

// replayedResult reports an already-created order back to a client that
// resubmitted the same idempotency key.
func replayedResult(order *domain.Order) *Result {
	result := &Result{
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		Duplicate:   true,
	}
	switch order.Status {
	case domain.OrderStatusPaymentFailed:
		result.PaymentStatus = domain.PaymentStatusFailed
	case domain.OrderStatusPending, domain.OrderStatusProcessing:
		result.PaymentStatus = domain.PaymentStatusPending
	default:
		result.PaymentStatus = domain.PaymentStatusCompleted
		result.Success = true
	}
	return result
}

func classifyFailure(reason string) string {
	if strings.Contains(reason, "could not reach") {
		return "gateway_unreachable"
	}
	return "payment_rejected"
}

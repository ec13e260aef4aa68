package failure

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/KryssNa/sugandha-api/internal/domain"
	"github.com/KryssNa/sugandha-api/internal/repository"
)

// Notifier queues support notifications. Delivery is best effort; a
// notification that cannot be queued never rolls back the failure record.
type Notifier interface {
	EnqueueEvent(ctx context.Context, aggregateID, eventType string, payload []byte) error
}

// Recorder captures failed settlement attempts for support follow-up.
// Whatever payment details it stores are masked first: full card numbers
// and CVVs never reach the database.
type Recorder struct {
	failures repository.FailureStore
	notifier Notifier
}

func NewRecorder(failures repository.FailureStore, notifier Notifier) *Recorder {
	return &Recorder{failures: failures, notifier: notifier}
}

// Record persists a failure entry and queues a support notification.
func (r *Recorder) Record(ctx context.Context, order *domain.Order, input domain.PaymentInput, errorType, errorMessage string) (*domain.PaymentFailure, error) {
	failure := &domain.PaymentFailure{
		OrderID:       order.ID,
		UserID:        order.UserID,
		PaymentMethod: input.Type,
		Amount:        order.TotalAmount,
		ErrorType:     errorType,
		ErrorMessage:  errorMessage,
		MaskedDetails: maskDetails(input),
	}

	if err := r.failures.CreateFailure(ctx, failure); err != nil {
		return nil, fmt.Errorf("record payment failure: %w", err)
	}

	payload, err := json.Marshal(map[string]interface{}{
		"failure_id":   failure.ID,
		"order_id":     order.ID,
		"order_number": order.OrderNumber,
		"method":       input.Type,
		"amount":       order.TotalAmount,
		"error_type":   errorType,
		"occurred_at":  time.Now(),
	})
	if err != nil {
		return failure, nil
	}
	if err := r.notifier.EnqueueEvent(ctx, order.ID.String(), "payment.failure.recorded", payload); err != nil {
		log.Printf("failed to queue payment failure notification for order %s: %v", order.ID, err)
	}

	return failure, nil
}

func (r *Recorder) Resolve(ctx context.Context, failureID uuid.UUID, status domain.ResolutionStatus) error {
	return r.failures.ResolveFailure(ctx, failureID, status)
}

func (r *Recorder) ListByOrder(ctx context.Context, orderID uuid.UUID) ([]*domain.PaymentFailure, error) {
	return r.failures.ListFailuresByOrder(ctx, orderID)
}

// maskDetails reduces payment input to fields safe for support eyes.
func maskDetails(input domain.PaymentInput) map[string]string {
	masked := map[string]string{"method": string(input.Type)}

	if input.Card != nil {
		masked["holder_name"] = input.Card.HolderName
		masked["card_number"] = maskPAN(input.Card.Number)
		if input.Card.CardType != "" {
			masked["card_type"] = input.Card.CardType
		}
		masked["expiry"] = fmt.Sprintf("%02d/%d", input.Card.ExpiryMonth, input.Card.ExpiryYear)
	}

	if input.Wallet != nil {
		if input.Wallet.TransactionID != "" {
			masked["transaction_id"] = truncateToken(input.Wallet.TransactionID)
		}
		if input.Wallet.Pidx != "" {
			masked["pidx"] = truncateToken(input.Wallet.Pidx)
		}
		if input.Wallet.PhoneNumber != "" {
			masked["phone_number"] = maskPhone(input.Wallet.PhoneNumber)
		}
	}

	return masked
}

func maskPAN(number string) string {
	if len(number) < 4 {
		return strings.Repeat("*", len(number))
	}
	return strings.Repeat("*", len(number)-4) + number[len(number)-4:]
}

func maskPhone(phone string) string {
	if len(phone) < 4 {
		return strings.Repeat("*", len(phone))
	}
	return strings.Repeat("*", len(phone)-4) + phone[len(phone)-4:]
}

func truncateToken(token string) string {
	const keep = 12
	if len(token) <= keep {
		return token
	}
	return token[:keep] + "..."
}

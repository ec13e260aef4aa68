package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/KryssNa/sugandha-api/internal/domain"
)

const paymentColumns = `id, order_id, user_id, amount, currency, method, details, card_last4,
	status, transaction_reference, created_at, updated_at`

// CreatePaymentAttempt records a new pending payment and attaches it to
// the order, moving the order to processing. Both writes commit together
// so the order can never reference a payment that was not persisted.
func (r *Repository) CreatePaymentAttempt(ctx context.Context, payment *domain.Payment) error {
	if payment.ID == uuid.Nil {
		payment.ID = uuid.New()
	}
	if payment.Currency == "" {
		payment.Currency = "USD"
	}
	payment.Status = domain.PaymentStatusPending

	detailsJSON, err := json.Marshal(payment.Details)
	if err != nil {
		return fmt.Errorf("failed to marshal payment details: %w", err)
	}

	return r.withTx(ctx, func(tx *sql.Tx) error {
		var orderStatus domain.OrderStatus
		scanErr := tx.QueryRowContext(ctx,
			`SELECT status FROM orders WHERE id = $1 FOR UPDATE`,
			payment.OrderID).Scan(&orderStatus)
		if errors.Is(scanErr, sql.ErrNoRows) {
			return ErrOrderNotFound
		}
		if scanErr != nil {
			return fmt.Errorf("lock order row: %w", scanErr)
		}

		if orderStatus != domain.OrderStatusProcessing && !orderStatus.CanTransitionTo(domain.OrderStatusProcessing) {
			return fmt.Errorf("%s -> %s: %w", orderStatus, domain.OrderStatusProcessing, ErrIllegalTransition)
		}

		_, insertErr := tx.ExecContext(ctx,
			`INSERT INTO payments (id, order_id, user_id, amount, currency, method, details,
			    card_last4, status, created_at, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW(), NOW())`,
			payment.ID,
			payment.OrderID,
			payment.UserID,
			payment.Amount,
			payment.Currency,
			payment.Method,
			detailsJSON,
			payment.CardLast4,
			payment.Status)
		if insertErr != nil {
			return fmt.Errorf("insert payment: %w", insertErr)
		}

		_, updErr := tx.ExecContext(ctx,
			`UPDATE orders SET payment_id = $2, status = $3, updated_at = NOW() WHERE id = $1`,
			payment.OrderID, payment.ID, domain.OrderStatusProcessing)
		if updErr != nil {
			return fmt.Errorf("attach payment to order: %w", updErr)
		}
		return nil
	})
}

// ResolvePaymentAttempt finishes an in-flight attempt. The payment, the
// order status and the outbox event change in one transaction, so an
// order can never be left in processing with a resolved payment.
func (r *Repository) ResolvePaymentAttempt(ctx context.Context, paymentID uuid.UUID, success bool, transactionRef string) error {
	return r.withTx(ctx, func(tx *sql.Tx) error {
		payment, err := lockPayment(ctx, tx, paymentID)
		if err != nil {
			return err
		}

		paymentStatus := domain.PaymentStatusFailed
		orderStatus := domain.OrderStatusPaymentFailed
		eventType := "payment.failed"
		if success {
			paymentStatus = domain.PaymentStatusCompleted
			orderStatus = domain.OrderStatusPaid
			eventType = "order.paid"
		}

		if !payment.Status.CanTransitionTo(paymentStatus) {
			return fmt.Errorf("payment %s -> %s: %w", payment.Status, paymentStatus, ErrIllegalTransition)
		}

		if err := finishAttempt(ctx, tx, payment, paymentStatus, orderStatus, transactionRef, eventType); err != nil {
			return err
		}
		return nil
	})
}

// SettleWalletPayment marks a provider-verified wallet payment completed
// and the linked order paid, recording the provider's settlement
// reference.
func (r *Repository) SettleWalletPayment(ctx context.Context, paymentID uuid.UUID, settlementRef string) error {
	return r.withTx(ctx, func(tx *sql.Tx) error {
		payment, err := lockPayment(ctx, tx, paymentID)
		if err != nil {
			return err
		}

		if !payment.Status.CanTransitionTo(domain.PaymentStatusCompleted) {
			return fmt.Errorf("payment %s -> %s: %w", payment.Status, domain.PaymentStatusCompleted, ErrIllegalTransition)
		}

		return finishAttempt(ctx, tx, payment, domain.PaymentStatusCompleted,
			domain.OrderStatusPaid, settlementRef, "order.paid")
	})
}

func lockPayment(ctx context.Context, tx *sql.Tx, paymentID uuid.UUID) (*domain.Payment, error) {
	row := tx.QueryRowContext(ctx,
		`SELECT `+paymentColumns+` FROM payments WHERE id = $1 FOR UPDATE`, paymentID)
	return scanPayment(row)
}

func finishAttempt(
	ctx context.Context,
	tx *sql.Tx,
	payment *domain.Payment,
	paymentStatus domain.PaymentStatus,
	orderStatus domain.OrderStatus,
	transactionRef string,
	eventType string,
) error {
	_, err := tx.ExecContext(ctx,
		`UPDATE payments SET status = $2, transaction_reference = $3, updated_at = NOW()
		 WHERE id = $1`,
		payment.ID, paymentStatus, nullIfEmpty(transactionRef))
	if err != nil {
		return fmt.Errorf("update payment status: %w", err)
	}

	var currentOrderStatus domain.OrderStatus
	scanErr := tx.QueryRowContext(ctx,
		`SELECT status FROM orders WHERE id = $1 FOR UPDATE`,
		payment.OrderID).Scan(&currentOrderStatus)
	if errors.Is(scanErr, sql.ErrNoRows) {
		return ErrOrderNotFound
	}
	if scanErr != nil {
		return fmt.Errorf("lock order row: %w", scanErr)
	}

	if !currentOrderStatus.CanTransitionTo(orderStatus) {
		return fmt.Errorf("order %s -> %s: %w", currentOrderStatus, orderStatus, ErrIllegalTransition)
	}

	_, updErr := tx.ExecContext(ctx,
		`UPDATE orders SET status = $2, updated_at = NOW() WHERE id = $1`,
		payment.OrderID, orderStatus)
	if updErr != nil {
		return fmt.Errorf("update order status: %w", updErr)
	}

	payload, err := json.Marshal(map[string]interface{}{
		"order_id":       payment.OrderID,
		"payment_id":     payment.ID,
		"user_id":        payment.UserID,
		"amount":         payment.Amount,
		"currency":       payment.Currency,
		"method":         payment.Method,
		"payment_status": paymentStatus,
		"occurred_at":    time.Now(),
	})
	if err != nil {
		return fmt.Errorf("marshal outbox payload: %w", err)
	}
	return insertOutboxEvent(ctx, tx, payment.OrderID.String(), eventType, payload)
}

func (r *Repository) GetPaymentByID(ctx context.Context, id uuid.UUID) (*domain.Payment, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+paymentColumns+` FROM payments WHERE id = $1`, id)
	return scanPayment(row)
}

func (r *Repository) GetPaymentByTransactionID(ctx context.Context, transactionID string) (*domain.Payment, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+paymentColumns+` FROM payments WHERE details->>'transaction_id' = $1`,
		transactionID)
	return scanPayment(row)
}

func (r *Repository) GetPaymentByPidx(ctx context.Context, pidx string) (*domain.Payment, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+paymentColumns+` FROM payments WHERE details->>'pidx' = $1`, pidx)
	return scanPayment(row)
}

func (r *Repository) ListPaymentsByOrder(ctx context.Context, orderID uuid.UUID) ([]*domain.Payment, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+paymentColumns+` FROM payments WHERE order_id = $1 ORDER BY created_at ASC`,
		orderID)
	if err != nil {
		return nil, fmt.Errorf("query payments by order: %w", err)
	}
	defer rows.Close()

	var payments []*domain.Payment
	for rows.Next() {
		payment, scanErr := scanPayment(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		payments = append(payments, payment)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return payments, nil
}

func (r *Repository) UpdateWalletDetails(ctx context.Context, paymentID uuid.UUID, details domain.WalletDetails) error {
	detailsJSON, err := json.Marshal(details)
	if err != nil {
		return fmt.Errorf("failed to marshal payment details: %w", err)
	}
	res, err := r.db.ExecContext(ctx,
		`UPDATE payments SET details = $2, updated_at = NOW() WHERE id = $1`,
		paymentID, detailsJSON)
	if err != nil {
		return fmt.Errorf("update payment details: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update payment details: %w", err)
	}
	if affected == 0 {
		return ErrPaymentNotFound
	}
	return nil
}

func scanPayment(row rowScanner) (*domain.Payment, error) {
	var payment domain.Payment
	var detailsJSON []byte
	var cardLast4, transactionRef sql.NullString

	err := row.Scan(
		&payment.ID,
		&payment.OrderID,
		&payment.UserID,
		&payment.Amount,
		&payment.Currency,
		&payment.Method,
		&detailsJSON,
		&cardLast4,
		&payment.Status,
		&transactionRef,
		&payment.CreatedAt,
		&payment.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrPaymentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan payment row: %w", err)
	}

	payment.CardLast4 = cardLast4.String
	payment.TransactionReference = transactionRef.String

	if len(detailsJSON) > 0 {
		if err := json.Unmarshal(detailsJSON, &payment.Details); err != nil {
			return nil, fmt.Errorf("unmarshal payment details: %w", err)
		}
	}
	return &payment, nil
}

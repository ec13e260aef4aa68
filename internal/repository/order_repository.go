package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/KryssNa/sugandha-api/internal/domain"
)

const orderColumns = `id, order_number, user_id, is_guest, guest_email, items, shipping_address,
	payment_method, payment_id, subtotal, tax, shipping_cost, total_amount, status,
	idempotency_key, estimated_delivery, created_at, updated_at`

// CreateOrder reserves inventory and persists the order as one atomic
// unit. Each line item is decremented with a conditional update, so
// concurrent checkouts for the same product cannot oversell it. Any
// failure rolls back every decrement already applied.
func (r *Repository) CreateOrder(ctx context.Context, order *domain.Order) error {
	if order.ID == uuid.Nil {
		order.ID = uuid.New()
	}
	if order.Status == "" {
		order.Status = domain.OrderStatusPending
	}
	if order.EstimatedDelivery.IsZero() {
		order.EstimatedDelivery = time.Now().Add(domain.DefaultDeliveryOffset)
	}

	itemsJSON, err := json.Marshal(order.Items)
	if err != nil {
		return fmt.Errorf("failed to marshal order items: %w", err)
	}
	addressJSON, err := json.Marshal(order.ShippingAddress)
	if err != nil {
		return fmt.Errorf("failed to marshal shipping address: %w", err)
	}

	return r.withTx(ctx, func(tx *sql.Tx) error {
		for _, item := range order.Items {
			res, decErr := tx.ExecContext(ctx,
				`UPDATE products SET quantity = quantity - $2, updated_at = NOW()
				 WHERE id = $1 AND quantity >= $2`,
				item.ProductID, item.Quantity)
			if decErr != nil {
				return fmt.Errorf("reserve stock for product %s: %w", item.ProductID, decErr)
			}
			affected, affErr := res.RowsAffected()
			if affErr != nil {
				return fmt.Errorf("reserve stock for product %s: %w", item.ProductID, affErr)
			}
			if affected == 0 {
				var exists bool
				if e := tx.QueryRowContext(ctx,
					`SELECT EXISTS(SELECT 1 FROM products WHERE id = $1)`,
					item.ProductID).Scan(&exists); e != nil {
					return fmt.Errorf("check product %s: %w", item.ProductID, e)
				}
				if !exists {
					return fmt.Errorf("product %s: %w", item.ProductID, ErrProductNotFound)
				}
				return fmt.Errorf("product %s: %w", item.ProductID, ErrInsufficientStock)
			}
		}

		if order.OrderNumber == "" {
			number, numErr := nextFreeOrderNumber(ctx, tx)
			if numErr != nil {
				return numErr
			}
			order.OrderNumber = number
		}

		_, insertErr := tx.ExecContext(ctx,
			`INSERT INTO orders (id, order_number, user_id, is_guest, guest_email, items,
			    shipping_address, payment_method, subtotal, tax, shipping_cost, total_amount,
			    status, idempotency_key, estimated_delivery, created_at, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, NOW(), NOW())`,
			order.ID,
			order.OrderNumber,
			order.UserID,
			order.IsGuest,
			nullIfEmpty(order.GuestEmail),
			itemsJSON,
			addressJSON,
			order.PaymentMethod,
			order.Subtotal,
			order.Tax,
			order.ShippingCost,
			order.TotalAmount,
			order.Status,
			order.IdempotencyKey,
			order.EstimatedDelivery)
		if insertErr != nil {
			var pqErr *pq.Error
			if errors.As(insertErr, &pqErr) && pqErr.Code == "23505" {
				if pqErr.Constraint == "orders_idempotency_key_key" {
					return ErrDuplicateCheckout
				}
			}
			return fmt.Errorf("insert order: %w", insertErr)
		}
		return nil
	})
}

// nextFreeOrderNumber generates codes until one is unused. The unique
// index on order_number is the backstop for the race between check and
// insert.
func nextFreeOrderNumber(ctx context.Context, tx *sql.Tx) (string, error) {
	for attempt := 0; attempt < 5; attempt++ {
		candidate := domain.NewOrderNumber()
		var taken bool
		if err := tx.QueryRowContext(ctx,
			`SELECT EXISTS(SELECT 1 FROM orders WHERE order_number = $1)`,
			candidate).Scan(&taken); err != nil {
			return "", fmt.Errorf("check order number: %w", err)
		}
		if !taken {
			return candidate, nil
		}
	}
	return "", errors.New("could not generate a free order number")
}

func (r *Repository) GetOrderByID(ctx context.Context, id uuid.UUID) (*domain.Order, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE id = $1`, id)
	return scanOrder(row)
}

// GetOrderForIdentity returns the order only when it belongs to the
// caller, by user id or guest email. Unowned orders read as not-found so
// existence never leaks.
func (r *Repository) GetOrderForIdentity(ctx context.Context, id uuid.UUID, userID, guestEmail string) (*domain.Order, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+orderColumns+` FROM orders
		 WHERE id = $1 AND (user_id = $2 OR guest_email = $3)`,
		id, userID, guestEmail)
	return scanOrder(row)
}

func (r *Repository) GetOrderByIdempotencyKey(ctx context.Context, key string) (*domain.Order, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE idempotency_key = $1`, key)
	return scanOrder(row)
}

func (r *Repository) ListUserOrders(ctx context.Context, userID string, page, pageSize int) ([]*domain.Order, int, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 10
	}
	offset := (page - 1) * pageSize

	var total int
	if err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM orders WHERE user_id = $1 OR guest_email = $1`,
		userID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count orders: %w", err)
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT `+orderColumns+` FROM orders
		 WHERE user_id = $1 OR guest_email = $1
		 ORDER BY created_at DESC LIMIT $2 OFFSET $3`,
		userID, pageSize, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("query orders by user id: %w", err)
	}
	defer rows.Close()

	var orders []*domain.Order
	for rows.Next() {
		order, scanErr := scanOrder(rows)
		if scanErr != nil {
			return nil, 0, scanErr
		}
		orders = append(orders, order)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("row iteration error: %w", err)
	}

	return orders, total, nil
}

// UpdateOrderStatus applies a status change only when the transition is
// legal. The current status is read under a row lock so concurrent
// updates serialize instead of racing past the check.
func (r *Repository) UpdateOrderStatus(ctx context.Context, id uuid.UUID, status domain.OrderStatus) (*domain.Order, error) {
	var updated *domain.Order
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		var current domain.OrderStatus
		scanErr := tx.QueryRowContext(ctx,
			`SELECT status FROM orders WHERE id = $1 FOR UPDATE`, id).Scan(&current)
		if errors.Is(scanErr, sql.ErrNoRows) {
			return ErrOrderNotFound
		}
		if scanErr != nil {
			return fmt.Errorf("lock order row: %w", scanErr)
		}

		if !current.CanTransitionTo(status) {
			return fmt.Errorf("%s -> %s: %w", current, status, ErrIllegalTransition)
		}

		row := tx.QueryRowContext(ctx,
			`UPDATE orders SET status = $2, updated_at = NOW() WHERE id = $1
			 RETURNING `+orderColumns, id, status)
		order, updErr := scanOrder(row)
		if updErr != nil {
			return updErr
		}
		updated = order
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (*domain.Order, error) {
	var order domain.Order
	var itemsJSON, addressJSON []byte
	var userID, guestEmail, idempotencyKey sql.NullString
	var paymentID uuid.NullUUID

	err := row.Scan(
		&order.ID,
		&order.OrderNumber,
		&userID,
		&order.IsGuest,
		&guestEmail,
		&itemsJSON,
		&addressJSON,
		&order.PaymentMethod,
		&paymentID,
		&order.Subtotal,
		&order.Tax,
		&order.ShippingCost,
		&order.TotalAmount,
		&order.Status,
		&idempotencyKey,
		&order.EstimatedDelivery,
		&order.CreatedAt,
		&order.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan order row: %w", err)
	}

	if userID.Valid {
		order.UserID = &userID.String
	}
	order.GuestEmail = guestEmail.String
	if idempotencyKey.Valid {
		order.IdempotencyKey = &idempotencyKey.String
	}
	if paymentID.Valid {
		order.PaymentID = &paymentID.UUID
	}

	if err := json.Unmarshal(itemsJSON, &order.Items); err != nil {
		return nil, fmt.Errorf("unmarshal order items: %w", err)
	}
	if err := json.Unmarshal(addressJSON, &order.ShippingAddress); err != nil {
		return nil, fmt.Errorf("unmarshal shipping address: %w", err)
	}

	return &order, nil
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

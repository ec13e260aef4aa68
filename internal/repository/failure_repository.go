package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/KryssNa/sugandha-api/internal/domain"
)

func (r *Repository) CreateFailure(ctx context.Context, failure *domain.PaymentFailure) error {
	if failure.ID == uuid.Nil {
		failure.ID = uuid.New()
	}
	if failure.ResolutionStatus == "" {
		failure.ResolutionStatus = domain.ResolutionPending
	}

	maskedJSON, err := json.Marshal(failure.MaskedDetails)
	if err != nil {
		return fmt.Errorf("failed to marshal masked details: %w", err)
	}

	_, insertErr := r.db.ExecContext(ctx,
		`INSERT INTO payment_failures (id, order_id, user_id, payment_method, amount,
		    error_type, error_message, masked_details, resolution_status, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW())`,
		failure.ID,
		failure.OrderID,
		failure.UserID,
		failure.PaymentMethod,
		failure.Amount,
		failure.ErrorType,
		failure.ErrorMessage,
		maskedJSON,
		failure.ResolutionStatus)
	if insertErr != nil {
		return fmt.Errorf("insert payment failure: %w", insertErr)
	}
	return nil
}

// ResolveFailure is driven by support tooling; the failure record itself
// stays immutable apart from the resolution fields.
func (r *Repository) ResolveFailure(ctx context.Context, id uuid.UUID, status domain.ResolutionStatus) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE payment_failures SET resolution_status = $2, resolved_at = NOW() WHERE id = $1`,
		id, status)
	if err != nil {
		return fmt.Errorf("resolve payment failure: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("resolve payment failure: %w", err)
	}
	if affected == 0 {
		return ErrFailureNotFound
	}
	return nil
}

func (r *Repository) ListFailuresByOrder(ctx context.Context, orderID uuid.UUID) ([]*domain.PaymentFailure, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, order_id, user_id, payment_method, amount, error_type, error_message,
		    masked_details, resolution_status, resolved_at, created_at
		 FROM payment_failures WHERE order_id = $1 ORDER BY created_at ASC`,
		orderID)
	if err != nil {
		return nil, fmt.Errorf("query payment failures: %w", err)
	}
	defer rows.Close()

	var failures []*domain.PaymentFailure
	for rows.Next() {
		var failure domain.PaymentFailure
		var maskedJSON []byte
		var userID sql.NullString
		if scanErr := rows.Scan(
			&failure.ID,
			&failure.OrderID,
			&userID,
			&failure.PaymentMethod,
			&failure.Amount,
			&failure.ErrorType,
			&failure.ErrorMessage,
			&maskedJSON,
			&failure.ResolutionStatus,
			&failure.ResolvedAt,
			&failure.CreatedAt,
		); scanErr != nil {
			return nil, fmt.Errorf("scan payment failure row: %w", scanErr)
		}
		if userID.Valid {
			failure.UserID = &userID.String
		}
		if len(maskedJSON) > 0 {
			if err := json.Unmarshal(maskedJSON, &failure.MaskedDetails); err != nil {
				return nil, fmt.Errorf("unmarshal masked details: %w", err)
			}
		}
		failures = append(failures, &failure)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return failures, nil
}

package domain

import (
	"time"

	"github.com/google/uuid"
)

type ResolutionStatus string

const (
	ResolutionPending   ResolutionStatus = "pending"
	ResolutionResolved  ResolutionStatus = "resolved"
	ResolutionCancelled ResolutionStatus = "cancelled"
)

// PaymentFailure records one failed settlement attempt for support
// visibility. MaskedDetails never contains raw card numbers, CVVs or
// wallet credentials. Written once; only the resolution fields change.
type PaymentFailure struct {
	ID               uuid.UUID
	OrderID          uuid.UUID
	UserID           *string
	PaymentMethod    PaymentMethodType
	Amount           float64
	ErrorType        string
	ErrorMessage     string
	MaskedDetails    map[string]string
	ResolutionStatus ResolutionStatus
	ResolvedAt       *time.Time
	CreatedAt        time.Time
}

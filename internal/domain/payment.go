package domain

import (
	"time"

	"github.com/google/uuid"
)

type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "pending"
	PaymentStatusCompleted PaymentStatus = "completed"
	PaymentStatusFailed    PaymentStatus = "failed"
	PaymentStatusRefunded  PaymentStatus = "refunded"
)

// paymentTransitions keeps payment status monotonic: pending resolves
// once, completed can only be refunded, failed and refunded are final.
var paymentTransitions = map[PaymentStatus][]PaymentStatus{
	PaymentStatusPending:   {PaymentStatusCompleted, PaymentStatusFailed, PaymentStatusRefunded},
	PaymentStatusCompleted: {PaymentStatusRefunded},
}

func (s PaymentStatus) CanTransitionTo(next PaymentStatus) bool {
	for _, allowed := range paymentTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

func (s PaymentStatus) IsTerminal() bool {
	return s == PaymentStatusCompleted || s == PaymentStatusFailed || s == PaymentStatusRefunded
}

func (s PaymentStatus) String() string {
	return string(s)
}

// CardDetails carries credit card input. The full number and CVV are
// accepted for validation only and must never be persisted in clear form.
type CardDetails struct {
	HolderName  string `json:"holder_name"`
	Number      string `json:"number"`
	ExpiryMonth int    `json:"expiry_month"`
	ExpiryYear  int    `json:"expiry_year"`
	CVV         string `json:"cvv"`
	CardType    string `json:"card_type"`
}

// WalletDetails carries the correlation identifiers for the redirect
// wallets. TransactionID is ours; Pidx and RefID are provider-assigned.
type WalletDetails struct {
	TransactionID string `json:"transaction_id,omitempty"`
	Pidx          string `json:"pidx,omitempty"`
	RefID         string `json:"ref_id,omitempty"`
	MerchantCode  string `json:"merchant_code,omitempty"`
	PhoneNumber   string `json:"phone_number,omitempty"`
	Email         string `json:"email,omitempty"`
}

// PaymentInput is one variant per method type rather than a shared
// free-form blob, so card fields can never leak into a wallet attempt.
type PaymentInput struct {
	Type   PaymentMethodType `json:"type"`
	Card   *CardDetails      `json:"card,omitempty"`
	Wallet *WalletDetails    `json:"wallet,omitempty"`
}

// Payment is one settlement attempt for an order. Retries create a new
// Payment row; the order's payment reference tracks the latest attempt.
type Payment struct {
	ID                   uuid.UUID
	OrderID              uuid.UUID
	UserID               string
	Amount               float64
	Currency             string
	Method               PaymentMethodType
	Details              WalletDetails
	CardLast4            string
	Status               PaymentStatus
	TransactionReference string
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

package gateway

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// ErrGatewayUnreachable marks transport-level failures (timeout, refused
// connection, provider 5xx). Callers treat these as inconclusive, not as
// a settled failure.
var ErrGatewayUnreachable = errors.New("payment provider unreachable")

// InitiateRequest carries everything an adapter needs to open a redirect
// flow with its provider.
type InitiateRequest struct {
	OrderID uuid.UUID
	UserID  string
	Amount  float64
}

// InitiateResponse is what the client needs to send the shopper to the
// provider: where to go and, for form-post providers, the signed field
// set to submit.
type InitiateResponse struct {
	TransactionID string
	Pidx          string
	RedirectURL   string
	FormData      map[string]string
}

// VerifyResponse reports the provider's view of one transaction.
// Complete means the provider settled the payment. Inconclusive means we
// could not reach a definitive answer (network failure, timeout) and the
// caller should retry verification rather than fail the payment.
type VerifyResponse struct {
	Complete      bool
	Inconclusive  bool
	TransactionID string
	SettlementRef string
	Message       string
}

// Gateway is the capability every external payment provider maps onto.
// New providers are added by implementing these two operations; the
// payment ledger and orchestrator never see provider wire formats.
type Gateway interface {
	InitiatePayment(ctx context.Context, req InitiateRequest) (*InitiateResponse, error)
	VerifyPayment(ctx context.Context, token string) (*VerifyResponse, error)
}

// newTransactionID derives an identifier unique per attempt so retries
// never collide at the provider.
func newTransactionID(orderID uuid.UUID, userID string) string {
	return fmt.Sprintf("ORDER_%s_%s_%d", orderID, userID, time.Now().UnixMilli())
}

func formatAmount(amount float64) string {
	return strconv.FormatFloat(amount, 'f', -1, 64)
}

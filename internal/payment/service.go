package payment

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/KryssNa/sugandha-api/internal/domain"
	"github.com/KryssNa/sugandha-api/internal/gateway"
	"github.com/KryssNa/sugandha-api/internal/repository"
)

var (
	ErrUnsupportedMethod = errors.New("unsupported payment method")
	ErrMissingDetails    = errors.New("missing payment details")
)

// Result is the outcome of one settlement attempt. Success means the
// payment settled synchronously. Pending means a wallet redirect flow
// was opened and settlement waits on verification.
type Result struct {
	Payment       *domain.Payment
	Success       bool
	Pending       bool
	RedirectURL   string
	FormData      map[string]string
	Pidx          string
	FailureReason string
}

// VerifyResult reports what a wallet verification concluded. Inconclusive
// means the provider could not be reached and nothing was changed.
type VerifyResult struct {
	Verified     bool
	Inconclusive bool
	Payment      *domain.Payment
	Message      string
}

// Service is the payment ledger. Every settlement attempt is recorded
// before its method-specific flow runs and resolves it to exactly one of
// completed or failed. Orders and payments change together through the
// store's transactional methods.
type Service struct {
	payments repository.PaymentStore
	gateways map[domain.PaymentMethodType]gateway.Gateway
	sfg      singleflight.Group
	now      func() time.Time
}

func NewService(payments repository.PaymentStore, gateways map[domain.PaymentMethodType]gateway.Gateway) *Service {
	return &Service{
		payments: payments,
		gateways: gateways,
		now:      time.Now,
	}
}

// ProcessPayment records a pending attempt against the order and runs
// the flow for the chosen method. Card and cash attempts resolve
// synchronously; wallet attempts stay pending with the provider's
// redirect handed back to the caller. Validator rejections resolve the
// attempt to failed so no order is left stuck in processing.
func (s *Service) ProcessPayment(ctx context.Context, order *domain.Order, input domain.PaymentInput) (*Result, error) {
	if !input.Type.Valid() {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedMethod, input.Type)
	}

	userID := order.GuestEmail
	if order.UserID != nil {
		userID = *order.UserID
	}

	payment := &domain.Payment{
		OrderID: order.ID,
		UserID:  userID,
		Amount:  order.TotalAmount,
		Method:  input.Type,
	}
	if input.Type == domain.MethodCreditCard && input.Card != nil {
		payment.CardLast4 = lastFour(input.Card.Number)
	}

	if err := s.payments.CreatePaymentAttempt(ctx, payment); err != nil {
		return nil, err
	}

	switch input.Type {
	case domain.MethodCreditCard:
		return s.processCard(ctx, payment, input.Card)
	case domain.MethodCashOnDelivery:
		return s.processCashOnDelivery(ctx, payment)
	case domain.MethodEsewa, domain.MethodKhalti:
		return s.processWallet(ctx, order, payment, input)
	}
	return nil, fmt.Errorf("%w: %s", ErrUnsupportedMethod, input.Type)
}

func (s *Service) processCard(ctx context.Context, payment *domain.Payment, card *domain.CardDetails) (*Result, error) {
	if reason := s.validateCard(card); reason != "" {
		if err := s.payments.ResolvePaymentAttempt(ctx, payment.ID, false, ""); err != nil {
			return nil, err
		}
		return &Result{Payment: payment, FailureReason: reason}, nil
	}

	ref := fmt.Sprintf("CARD-%d", s.now().UnixMilli())
	if err := s.payments.ResolvePaymentAttempt(ctx, payment.ID, true, ref); err != nil {
		return nil, err
	}
	payment.TransactionReference = ref
	return &Result{Payment: payment, Success: true}, nil
}

func (s *Service) processCashOnDelivery(ctx context.Context, payment *domain.Payment) (*Result, error) {
	// Cash on delivery settles at the door; the attempt always succeeds
	// with a synthetic reference.
	ref := fmt.Sprintf("COD-%d", s.now().UnixMilli())
	if err := s.payments.ResolvePaymentAttempt(ctx, payment.ID, true, ref); err != nil {
		return nil, err
	}
	payment.TransactionReference = ref
	return &Result{Payment: payment, Success: true}, nil
}

func (s *Service) processWallet(ctx context.Context, order *domain.Order, payment *domain.Payment, input domain.PaymentInput) (*Result, error) {
	gw, ok := s.gateways[input.Type]
	if !ok {
		return nil, fmt.Errorf("%w: no gateway configured for %s", ErrUnsupportedMethod, input.Type)
	}

	initResp, err := gw.InitiatePayment(ctx, gateway.InitiateRequest{
		OrderID: order.ID,
		UserID:  payment.UserID,
		Amount:  order.TotalAmount,
	})
	if err != nil {
		if resolveErr := s.payments.ResolvePaymentAttempt(ctx, payment.ID, false, ""); resolveErr != nil {
			return nil, resolveErr
		}
		return &Result{
			Payment:       payment,
			FailureReason: fmt.Sprintf("could not reach %s: %v", input.Type, err),
		}, nil
	}

	details := domain.WalletDetails{
		TransactionID: initResp.TransactionID,
		Pidx:          initResp.Pidx,
	}
	if input.Wallet != nil {
		details.PhoneNumber = input.Wallet.PhoneNumber
		details.Email = input.Wallet.Email
	}
	if err := s.payments.UpdateWalletDetails(ctx, payment.ID, details); err != nil {
		return nil, err
	}
	payment.Details = details

	return &Result{
		Payment:     payment,
		Pending:     true,
		RedirectURL: initResp.RedirectURL,
		FormData:    initResp.FormData,
		Pidx:        initResp.Pidx,
	}, nil
}

// VerifyWalletPayment confirms a redirect wallet attempt against its
// provider and settles the payment when the provider reports it
// complete. Concurrent verifications of the same token collapse into one
// provider call, and an attempt that already settled is reported as
// verified rather than failed.
func (s *Service) VerifyWalletPayment(ctx context.Context, method domain.PaymentMethodType, token string) (*VerifyResult, error) {
	gw, ok := s.gateways[method]
	if !ok {
		return nil, fmt.Errorf("%w: no gateway configured for %s", ErrUnsupportedMethod, method)
	}

	v, err, _ := s.sfg.Do(string(method)+":"+token, func() (interface{}, error) {
		return s.verifyOnce(ctx, method, gw, token)
	})
	if err != nil {
		return nil, err
	}
	return v.(*VerifyResult), nil
}

func (s *Service) verifyOnce(ctx context.Context, method domain.PaymentMethodType, gw gateway.Gateway, token string) (*VerifyResult, error) {
	resp, err := gw.VerifyPayment(ctx, token)
	if err != nil {
		return nil, err
	}

	if resp.Inconclusive {
		return &VerifyResult{Inconclusive: true, Message: resp.Message}, nil
	}
	if !resp.Complete {
		return &VerifyResult{Message: resp.Message}, nil
	}

	payment, err := s.lookupWalletPayment(ctx, method, resp, token)
	if err != nil {
		// A provider-complete callback that matches no recorded attempt is
		// a verification failure, not a server error.
		if errors.Is(err, repository.ErrPaymentNotFound) {
			return &VerifyResult{Message: "no payment attempt matches this verification"}, nil
		}
		return nil, err
	}

	details := payment.Details
	details.RefID = resp.SettlementRef
	if err := s.payments.UpdateWalletDetails(ctx, payment.ID, details); err != nil {
		log.Printf("failed to record settlement ref for payment %s: %v", payment.ID, err)
	}

	if err := s.payments.SettleWalletPayment(ctx, payment.ID, resp.SettlementRef); err != nil {
		// A verification that raced another one finds the payment already
		// completed. The earlier read may predate that settle, so check
		// the current row before deciding.
		if errors.Is(err, repository.ErrIllegalTransition) {
			current, readErr := s.payments.GetPaymentByID(ctx, payment.ID)
			if readErr == nil && current.Status == domain.PaymentStatusCompleted {
				return &VerifyResult{Verified: true, Payment: current}, nil
			}
		}
		return nil, err
	}
	payment.Status = domain.PaymentStatusCompleted
	payment.TransactionReference = resp.SettlementRef

	return &VerifyResult{Verified: true, Payment: payment}, nil
}

func (s *Service) lookupWalletPayment(ctx context.Context, method domain.PaymentMethodType, resp *gateway.VerifyResponse, token string) (*domain.Payment, error) {
	if method == domain.MethodKhalti {
		return s.payments.GetPaymentByPidx(ctx, token)
	}
	transactionID := resp.TransactionID
	if transactionID == "" {
		return nil, repository.ErrPaymentNotFound
	}
	return s.payments.GetPaymentByTransactionID(ctx, transactionID)
}

// validateCard returns an empty string when the card is acceptable, or a
// shopper-facing rejection reason.
func (s *Service) validateCard(card *domain.CardDetails) string {
	if card == nil {
		return "card details are required"
	}
	if card.Number == "" || card.HolderName == "" || card.CVV == "" {
		return "card number, holder name and cvv are required"
	}
	if card.ExpiryMonth < 1 || card.ExpiryMonth > 12 {
		return "invalid expiry month"
	}
	now := s.now()
	if card.ExpiryYear < now.Year() ||
		(card.ExpiryYear == now.Year() && card.ExpiryMonth < int(now.Month())) {
		return "card has expired"
	}
	return ""
}

func lastFour(number string) string {
	if len(number) < 4 {
		return number
	}
	return number[len(number)-4:]
}

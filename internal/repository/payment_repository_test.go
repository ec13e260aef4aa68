package repository

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KryssNa/sugandha-api/internal/domain"
)

func createPendingOrder(t *testing.T, repo *Repository) *domain.Order {
	t.Helper()
	product := seedProduct(t, repo, 10)
	order := newTestOrder(product, 1)
	require.NoError(t, repo.CreateOrder(context.Background(), order))
	return order
}

func TestCreatePaymentAttempt_AttachesToOrder(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	order := createPendingOrder(t, repo)
	payment := &domain.Payment{
		OrderID: order.ID,
		UserID:  "user-123",
		Amount:  order.TotalAmount,
		Method:  domain.MethodCreditCard,
	}

	require.NoError(t, repo.CreatePaymentAttempt(ctx, payment))
	assert.Equal(t, domain.PaymentStatusPending, payment.Status)
	assert.Equal(t, "USD", payment.Currency)

	got, err := repo.GetOrderByID(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusProcessing, got.Status)
	require.NotNil(t, got.PaymentID)
	assert.Equal(t, payment.ID, *got.PaymentID)
}

func TestCreatePaymentAttempt_OrderNotFound(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()

	payment := &domain.Payment{
		OrderID: uuid.New(),
		UserID:  "user-123",
		Amount:  10,
		Method:  domain.MethodCashOnDelivery,
	}
	err := repo.CreatePaymentAttempt(context.Background(), payment)
	assert.ErrorIs(t, err, ErrOrderNotFound)
}

func TestResolvePaymentAttempt_Success(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	order := createPendingOrder(t, repo)
	payment := &domain.Payment{
		OrderID: order.ID,
		UserID:  "user-123",
		Amount:  order.TotalAmount,
		Method:  domain.MethodCreditCard,
	}
	require.NoError(t, repo.CreatePaymentAttempt(ctx, payment))
	require.NoError(t, repo.ResolvePaymentAttempt(ctx, payment.ID, true, "CC-12345"))

	settled, err := repo.GetPaymentByID(ctx, payment.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusCompleted, settled.Status)
	assert.Equal(t, "CC-12345", settled.TransactionReference)

	got, err := repo.GetOrderByID(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusPaid, got.Status)

	// A paid order leaves an order.paid event in the outbox.
	events, err := repo.GetUnprocessedEvents(ctx, 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "order.paid", events[0].EventType)
	assert.Equal(t, order.ID.String(), events[0].AggregateID)
}

func TestResolvePaymentAttempt_Failure(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	order := createPendingOrder(t, repo)
	payment := &domain.Payment{
		OrderID: order.ID,
		UserID:  "user-123",
		Amount:  order.TotalAmount,
		Method:  domain.MethodCreditCard,
	}
	require.NoError(t, repo.CreatePaymentAttempt(ctx, payment))
	require.NoError(t, repo.ResolvePaymentAttempt(ctx, payment.ID, false, ""))

	failed, err := repo.GetPaymentByID(ctx, payment.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusFailed, failed.Status)

	got, err := repo.GetOrderByID(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusPaymentFailed, got.Status)
}

func TestResolvePaymentAttempt_AlreadyResolved(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	order := createPendingOrder(t, repo)
	payment := &domain.Payment{
		OrderID: order.ID,
		UserID:  "user-123",
		Amount:  order.TotalAmount,
		Method:  domain.MethodCreditCard,
	}
	require.NoError(t, repo.CreatePaymentAttempt(ctx, payment))
	require.NoError(t, repo.ResolvePaymentAttempt(ctx, payment.ID, true, "CC-1"))

	// A second resolution would violate payment monotonicity.
	err := repo.ResolvePaymentAttempt(ctx, payment.ID, false, "")
	assert.ErrorIs(t, err, ErrIllegalTransition)
}

func TestRetry_CreatesSecondAttempt(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	order := createPendingOrder(t, repo)
	first := &domain.Payment{
		OrderID: order.ID,
		UserID:  "user-123",
		Amount:  order.TotalAmount,
		Method:  domain.MethodCreditCard,
	}
	require.NoError(t, repo.CreatePaymentAttempt(ctx, first))
	require.NoError(t, repo.ResolvePaymentAttempt(ctx, first.ID, false, ""))

	second := &domain.Payment{
		OrderID: order.ID,
		UserID:  "user-123",
		Amount:  order.TotalAmount,
		Method:  domain.MethodCashOnDelivery,
	}
	require.NoError(t, repo.CreatePaymentAttempt(ctx, second))
	require.NoError(t, repo.ResolvePaymentAttempt(ctx, second.ID, true, "COD-99"))

	attempts, err := repo.ListPaymentsByOrder(ctx, order.ID)
	require.NoError(t, err)
	require.Len(t, attempts, 2)

	// The failed attempt survives untouched as history.
	assert.Equal(t, domain.PaymentStatusFailed, attempts[0].Status)
	assert.Equal(t, domain.PaymentStatusCompleted, attempts[1].Status)

	got, err := repo.GetOrderByID(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusPaid, got.Status)
	assert.Equal(t, second.ID, *got.PaymentID)
}

func TestSettleWalletPayment(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	order := createPendingOrder(t, repo)
	payment := &domain.Payment{
		OrderID: order.ID,
		UserID:  "user-123",
		Amount:  order.TotalAmount,
		Method:  domain.MethodEsewa,
		Details: domain.WalletDetails{
			TransactionID: "ORDER_abc_user-123_1700000000",
			MerchantCode:  "EPAYTEST",
		},
	}
	require.NoError(t, repo.CreatePaymentAttempt(ctx, payment))

	found, err := repo.GetPaymentByTransactionID(ctx, "ORDER_abc_user-123_1700000000")
	require.NoError(t, err)
	assert.Equal(t, payment.ID, found.ID)

	require.NoError(t, repo.SettleWalletPayment(ctx, payment.ID, "REF-778"))

	settled, err := repo.GetPaymentByID(ctx, payment.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusCompleted, settled.Status)
	assert.Equal(t, "REF-778", settled.TransactionReference)

	got, err := repo.GetOrderByID(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusPaid, got.Status)
}

func TestGetPaymentByPidx(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	order := createPendingOrder(t, repo)
	payment := &domain.Payment{
		OrderID: order.ID,
		UserID:  "user-123",
		Amount:  order.TotalAmount,
		Method:  domain.MethodKhalti,
		Details: domain.WalletDetails{TransactionID: "ORDER_x_y_1", Pidx: "pidx-42"},
	}
	require.NoError(t, repo.CreatePaymentAttempt(ctx, payment))

	found, err := repo.GetPaymentByPidx(ctx, "pidx-42")
	require.NoError(t, err)
	assert.Equal(t, payment.ID, found.ID)

	_, err = repo.GetPaymentByPidx(ctx, "no-such-pidx")
	assert.ErrorIs(t, err, ErrPaymentNotFound)
}

func TestCreateFailure_AndResolve(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	order := createPendingOrder(t, repo)
	userID := "user-123"
	failure := &domain.PaymentFailure{
		OrderID:       order.ID,
		UserID:        &userID,
		PaymentMethod: domain.MethodCreditCard,
		Amount:        order.TotalAmount,
		ErrorType:     "payment-failed",
		ErrorMessage:  "card expired",
		MaskedDetails: map[string]string{"card_number": "**** **** **** 4242"},
	}
	require.NoError(t, repo.CreateFailure(ctx, failure))

	failures, err := repo.ListFailuresByOrder(ctx, order.ID)
	require.NoError(t, err)
	require.Len(t, failures, 1)
	assert.Equal(t, domain.ResolutionPending, failures[0].ResolutionStatus)
	assert.Equal(t, "**** **** **** 4242", failures[0].MaskedDetails["card_number"])

	require.NoError(t, repo.ResolveFailure(ctx, failure.ID, domain.ResolutionResolved))
	failures, err = repo.ListFailuresByOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ResolutionResolved, failures[0].ResolutionStatus)
	assert.NotNil(t, failures[0].ResolvedAt)
}

func TestOutbox_MarkProcessed(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	require.NoError(t, repo.EnqueueEvent(ctx, "agg-1", "payment.failure.recorded", []byte(`{"k":"v"}`)))

	events, err := repo.GetUnprocessedEvents(ctx, 10)
	require.NoError(t, err)
	require.Len(t, events, 1)

	require.NoError(t, repo.MarkEventAsProcessed(ctx, events[0].ID))

	events, err = repo.GetUnprocessedEvents(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, events)
}

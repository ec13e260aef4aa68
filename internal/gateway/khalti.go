package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"time"

	"github.com/sony/gobreaker/v2"
)

type KhaltiConfig struct {
	SecretKey   string
	InitiateURL string
	VerifyURL   string
	FrontendURL string
	Timeout     time.Duration
}

// Khalti speaks Khalti's JSON protocol: both legs are server-to-server
// calls authenticated with a bearer-style merchant key, amounts in
// paisa. The provider hands back a pidx that correlates the later
// verification.
type Khalti struct {
	cfg     KhaltiConfig
	client  *http.Client
	breaker *gobreaker.CircuitBreaker[[]byte]
}

type khaltiInitiateResponse struct {
	Pidx       string `json:"pidx"`
	PaymentURL string `json:"payment_url"`
}

type khaltiVerifyResponse struct {
	Status        string `json:"status"`
	TransactionID string `json:"transaction_id"`
}

func NewKhalti(cfg KhaltiConfig) *Khalti {
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	breaker := gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:    "khalti",
		Timeout: 30 * time.Second,
	})
	return &Khalti{
		cfg:     cfg,
		client:  &http.Client{Timeout: cfg.Timeout},
		breaker: breaker,
	}
}

func (k *Khalti) InitiatePayment(ctx context.Context, req InitiateRequest) (*InitiateResponse, error) {
	transactionID := newTransactionID(req.OrderID, req.UserID)

	payload := map[string]interface{}{
		"amount":            toPaisa(req.Amount),
		"purchase_order_id": transactionID,
		"return_url":        k.cfg.FrontendURL + "/checkout/payment/khalti/success",
		"website_url":       k.cfg.FrontendURL,
	}

	body, err := k.post(ctx, k.cfg.InitiateURL, payload)
	if err != nil {
		return nil, err
	}

	var initResp khaltiInitiateResponse
	if err := json.Unmarshal(body, &initResp); err != nil {
		return nil, fmt.Errorf("unmarshal khalti initiate response: %w", err)
	}
	if initResp.Pidx == "" {
		return nil, fmt.Errorf("khalti initiate response missing pidx")
	}

	return &InitiateResponse{
		TransactionID: transactionID,
		Pidx:          initResp.Pidx,
		RedirectURL:   initResp.PaymentURL,
	}, nil
}

// VerifyPayment asks Khalti for the state of a pidx. Only the provider's
// "Completed" counts as settled; transport failures are reported as
// inconclusive so the caller can verify again later.
func (k *Khalti) VerifyPayment(ctx context.Context, pidx string) (*VerifyResponse, error) {
	body, err := k.post(ctx, k.cfg.VerifyURL, map[string]interface{}{"pidx": pidx})
	if err != nil {
		return &VerifyResponse{
			Inconclusive: true,
			Message:      fmt.Sprintf("khalti verification failed: %v", err),
		}, nil
	}

	var verifyResp khaltiVerifyResponse
	if err := json.Unmarshal(body, &verifyResp); err != nil {
		return &VerifyResponse{
			Inconclusive: true,
			Message:      fmt.Sprintf("khalti verification failed: %v", err),
		}, nil
	}

	if verifyResp.Status != "Completed" {
		return &VerifyResponse{
			Message: fmt.Sprintf("khalti reports status %q", verifyResp.Status),
		}, nil
	}

	return &VerifyResponse{
		Complete:      true,
		SettlementRef: verifyResp.TransactionID,
	}, nil
}

// toPaisa converts rupees to paisa. Rounding, not truncation: float
// representation error would otherwise shave a paisa off amounts like 1.15.
func toPaisa(amount float64) int64 {
	return int64(math.Round(amount * 100))
}

func (k *Khalti) post(ctx context.Context, endpoint string, payload map[string]interface{}) ([]byte, error) {
	return k.breaker.Execute(func() ([]byte, error) {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal khalti payload: %w", err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(raw))
		if err != nil {
			return nil, fmt.Errorf("build khalti request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Key "+k.cfg.SecretKey)

		resp, err := k.client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrGatewayUnreachable, err)
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("read khalti response: %w", err)
		}
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("%w: khalti returned %d: %s", ErrGatewayUnreachable, resp.StatusCode, body)
		}
		return body, nil
	})
}

package gateway

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/sony/gobreaker/v2"
)

const esewaSignedFieldNames = "total_amount,transaction_uuid,product_code"

type EsewaConfig struct {
	MerchantCode string
	SecretKey    string
	PaymentURL   string
	StatusURL    string
	FrontendURL  string
	Timeout      time.Duration
}

// Esewa speaks eSewa's form-post protocol: the initiate leg is a signed
// field set the shopper's browser submits to the provider, and the
// verify leg decodes the base64 callback and re-checks the transaction
// against the provider's status endpoint.
type Esewa struct {
	cfg     EsewaConfig
	client  *http.Client
	breaker *gobreaker.CircuitBreaker[*esewaStatusResponse]
}

type esewaCallback struct {
	TransactionUUID string `json:"transaction_uuid"`
	ProductCode     string `json:"product_code"`
	TotalAmount     any    `json:"total_amount"`
	Status          string `json:"status"`
}

type esewaStatusResponse struct {
	Status string `json:"status"`
	RefID  string `json:"ref_id"`
}

func NewEsewa(cfg EsewaConfig) *Esewa {
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	breaker := gobreaker.NewCircuitBreaker[*esewaStatusResponse](gobreaker.Settings{
		Name:    "esewa-status",
		Timeout: 30 * time.Second,
	})
	return &Esewa{
		cfg:     cfg,
		client:  &http.Client{Timeout: cfg.Timeout},
		breaker: breaker,
	}
}

// InitiatePayment builds the signed form field set. eSewa requires an
// HMAC-SHA256 signature, base64 encoded, over the canonical
// comma-separated field list.
func (e *Esewa) InitiatePayment(_ context.Context, req InitiateRequest) (*InitiateResponse, error) {
	transactionID := newTransactionID(req.OrderID, req.UserID)
	totalAmount := formatAmount(req.Amount)

	dataToSign := fmt.Sprintf("total_amount=%s,transaction_uuid=%s,product_code=%s",
		totalAmount, transactionID, e.cfg.MerchantCode)

	formData := map[string]string{
		"amount":             formatAmount(req.Amount),
		"tax_amount":         "0",
		"total_amount":       totalAmount,
		"transaction_uuid":   transactionID,
		"product_code":       e.cfg.MerchantCode,
		"success_url":        e.cfg.FrontendURL + "/checkout/payment/esewa/success",
		"failure_url":        e.cfg.FrontendURL + "/checkout/payment/esewa/failure",
		"signed_field_names": esewaSignedFieldNames,
		"signature":          e.sign(dataToSign),
	}

	return &InitiateResponse{
		TransactionID: transactionID,
		RedirectURL:   e.cfg.PaymentURL,
		FormData:      formData,
	}, nil
}

// VerifyPayment decodes the base64 field set eSewa appends to the
// success redirect and confirms the transaction with the provider's
// status endpoint. Anything short of a definitive COMPLETE leaves the
// payment untouched.
func (e *Esewa) VerifyPayment(ctx context.Context, token string) (*VerifyResponse, error) {
	callback, err := decodeEsewaToken(token)
	if err != nil {
		return &VerifyResponse{
			Message: fmt.Sprintf("invalid esewa callback token: %v", err),
		}, nil
	}

	status, err := e.breaker.Execute(func() (*esewaStatusResponse, error) {
		return e.fetchStatus(ctx, callback)
	})
	if err != nil {
		return &VerifyResponse{
			Inconclusive:  true,
			TransactionID: callback.TransactionUUID,
			Message:       fmt.Sprintf("esewa status check failed: %v", err),
		}, nil
	}

	if status.Status != "COMPLETE" {
		return &VerifyResponse{
			TransactionID: callback.TransactionUUID,
			Message:       fmt.Sprintf("esewa reports status %q", status.Status),
		}, nil
	}

	return &VerifyResponse{
		Complete:      true,
		TransactionID: callback.TransactionUUID,
		SettlementRef: status.RefID,
	}, nil
}

func decodeEsewaToken(token string) (*esewaCallback, error) {
	raw, err := base64.StdEncoding.DecodeString(token)
	if err != nil {
		return nil, fmt.Errorf("base64 decode: %w", err)
	}
	var callback esewaCallback
	if err := json.Unmarshal(raw, &callback); err != nil {
		return nil, fmt.Errorf("unmarshal callback: %w", err)
	}
	if callback.TransactionUUID == "" {
		return nil, errors.New("missing transaction_uuid")
	}
	return &callback, nil
}

func (e *Esewa) fetchStatus(ctx context.Context, callback *esewaCallback) (*esewaStatusResponse, error) {
	params := url.Values{}
	params.Set("product_code", e.cfg.MerchantCode)
	params.Set("transaction_uuid", callback.TransactionUUID)
	params.Set("total_amount", fmt.Sprint(callback.TotalAmount))
	params.Set("signed_field_names", esewaSignedFieldNames)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		e.cfg.StatusURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("build status request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGatewayUnreachable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusInternalServerError {
		return nil, fmt.Errorf("%w: status endpoint returned %d", ErrGatewayUnreachable, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read status response: %w", err)
	}

	var status esewaStatusResponse
	if err := json.Unmarshal(body, &status); err != nil {
		return nil, fmt.Errorf("unmarshal status response: %w", err)
	}
	return &status, nil
}

func (e *Esewa) sign(data string) string {
	mac := hmac.New(sha256.New, []byte(e.cfg.SecretKey))
	mac.Write([]byte(data))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

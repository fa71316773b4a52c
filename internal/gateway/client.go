package gateway

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/IJaes/jeogiyo-server-sub000/internal/domain"
)

const (
	defaultTimeout = 5 * time.Second

	pathIssueBillingKey = "/v1/billing/authorizations/issue"
	pathChargeBilling   = "/v1/billing/%s"
	pathConfirmCharge   = "/v1/payments/confirm"
	pathCancelCharge    = "/v1/payments/%s/cancel"
)

// Config задаёт параметры подключения к платёжному шлюзу.
type Config struct {
	BaseURL   string
	SecretKey string
	// Timeout ограничивает connect+read каждого вызова. Таймаут для вызывающего
	// эквивалентен неуспеху, никогда не трактуется как успех.
	Timeout time.Duration
}

// HTTPClient — REST-адаптер платёжного шлюза (billing key / charge / confirm / cancel).
type HTTPClient struct {
	cfg    Config
	client *http.Client
	logger *log.Entry
}

// NewHTTPClient создаёт адаптер шлюза с таймаутом на каждый вызов.
func NewHTTPClient(cfg Config, logger *log.Entry) *HTTPClient {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if logger == nil {
		logger = log.WithField("component", "gateway-client")
	}
	return &HTTPClient{
		cfg: cfg,
		client: &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 100,
			},
		},
		logger: logger,
	}
}

type issueBillingKeyRequest struct {
	CustomerKey string `json:"customerKey"`
	Instrument  string `json:"authKey"`
}

type issueBillingKeyResponse struct {
	BillingKey string `json:"billingKey"`
	Message    string `json:"message,omitempty"`
}

type chargeRequest struct {
	CustomerKey string `json:"customerKey,omitempty"`
	OrderID     string `json:"orderId"`
	Amount      int64  `json:"amount"`
	PaymentKey  string `json:"paymentKey,omitempty"`
}

type chargeResponse struct {
	Status     string     `json:"status"`
	PaymentKey string     `json:"paymentKey"`
	ApprovedAt *time.Time `json:"approvedAt,omitempty"`
	Message    string     `json:"message,omitempty"`
}

type cancelRequest struct {
	CancelReason string `json:"cancelReason"`
}

type cancelResponse struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// IssueBillingAuthorization выпускает billing key под customer key вызывающего.
func (c *HTTPClient) IssueBillingAuthorization(ctx context.Context, customerKey, instrument string) (string, error) {
	var resp issueBillingKeyResponse
	err := c.post(ctx, pathIssueBillingKey, issueBillingKeyRequest{
		CustomerKey: customerKey,
		Instrument:  instrument,
	}, &resp)
	if err != nil {
		return "", fmt.Errorf("issue billing authorization: %w", err)
	}
	if resp.BillingKey == "" {
		return "", fmt.Errorf("issue billing authorization: empty billing key (%s)", resp.Message)
	}
	return resp.BillingKey, nil
}

// ChargeBilling списывает средства по ранее выпущенному billing key.
func (c *HTTPClient) ChargeBilling(ctx context.Context, billingKey string, amountMinor int64, orderID, customerKey string) (domain.ChargeResult, error) {
	var resp chargeResponse
	err := c.post(ctx, fmt.Sprintf(pathChargeBilling, billingKey), chargeRequest{
		CustomerKey: customerKey,
		OrderID:     orderID,
		Amount:      amountMinor,
	}, &resp)
	if err != nil {
		return domain.ChargeResult{}, fmt.Errorf("charge billing: %w", err)
	}
	return toChargeResult(resp), nil
}

// ConfirmCharge подтверждает платёж, инициированный на клиенте.
func (c *HTTPClient) ConfirmCharge(ctx context.Context, paymentKey, orderID string, amountMinor int64) (domain.ChargeResult, error) {
	var resp chargeResponse
	err := c.post(ctx, pathConfirmCharge, chargeRequest{
		PaymentKey: paymentKey,
		OrderID:    orderID,
		Amount:     amountMinor,
	}, &resp)
	if err != nil {
		return domain.ChargeResult{}, fmt.Errorf("confirm charge: %w", err)
	}
	return toChargeResult(resp), nil
}

// CancelCharge отменяет списание/инициирует возврат.
func (c *HTTPClient) CancelCharge(ctx context.Context, paymentKey, reason string) (domain.CancelResult, error) {
	var resp cancelResponse
	err := c.post(ctx, fmt.Sprintf(pathCancelCharge, paymentKey), cancelRequest{CancelReason: reason}, &resp)
	if err != nil {
		return domain.CancelResult{}, fmt.Errorf("cancel charge: %w", err)
	}
	return domain.CancelResult{Status: domain.GatewayChargeStatus(resp.Status)}, nil
}

func (c *HTTPClient) post(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Basic "+basicAuth(c.cfg.SecretKey))

	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.WithError(err).WithField("path", path).Warn("gateway call failed")
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("gateway returned status %s", resp.Status)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// basicAuth кодирует secret key по схеме "key:" как требует шлюз.
func basicAuth(secretKey string) string {
	return base64.StdEncoding.EncodeToString([]byte(secretKey + ":"))
}

func toChargeResult(resp chargeResponse) domain.ChargeResult {
	return domain.ChargeResult{
		Status:          domain.GatewayChargeStatus(resp.Status),
		PaymentKey:      resp.PaymentKey,
		ApprovedAt:      resp.ApprovedAt,
		ProviderMessage: resp.Message,
	}
}

var _ domain.GatewayClient = (*HTTPClient)(nil)

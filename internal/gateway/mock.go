package gateway

import (
	"context"
	"sync"
	"time"

	"github.com/IJaes/jeogiyo-server-sub000/internal/domain"
)

// MockClient — конфигурируемая заглушка GatewayClient для тестов и локальной разработки.
type MockClient struct {
	mu sync.Mutex

	BillingKey string
	IssueErr   error

	ChargeStatus domain.GatewayChargeStatus
	ChargeErr    error
	// FailChargesBefore: первые N списаний завершаются ChargeErr/ABORTED,
	// последующие — успехом. Нужен для сценариев с retry.
	FailChargesBefore int

	ConfirmStatus domain.GatewayChargeStatus
	ConfirmErr    error

	CancelStatus domain.GatewayChargeStatus
	CancelErr    error

	IssueCalls   int
	ChargeCalls  int
	ConfirmCalls int
	CancelCalls  int

	// LastAuthKey запоминает auth key последнего выпуска billing key.
	LastAuthKey string
}

// NewMockClient возвращает mock с успешным сценарием по умолчанию.
func NewMockClient() *MockClient {
	return &MockClient{
		BillingKey:    "billing-key-mock",
		ChargeStatus:  domain.GatewayStatusDone,
		ConfirmStatus: domain.GatewayStatusDone,
		CancelStatus:  domain.GatewayStatusCanceled,
	}
}

func (m *MockClient) IssueBillingAuthorization(_ context.Context, customerKey, authKey string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.IssueCalls++
	m.LastAuthKey = authKey
	if m.IssueErr != nil {
		return "", m.IssueErr
	}
	return m.BillingKey + ":" + customerKey, nil
}

func (m *MockClient) ChargeBilling(_ context.Context, _ string, _ int64, orderID, _ string) (domain.ChargeResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ChargeCalls++

	if m.FailChargesBefore >= m.ChargeCalls {
		if m.ChargeErr != nil {
			return domain.ChargeResult{}, m.ChargeErr
		}
		return domain.ChargeResult{Status: domain.GatewayStatusAborted, ProviderMessage: "simulated decline"}, nil
	}
	if m.ChargeErr != nil {
		return domain.ChargeResult{}, m.ChargeErr
	}

	approved := time.Now().UTC()
	return domain.ChargeResult{
		Status:     m.ChargeStatus,
		PaymentKey: "pay-key-" + orderID,
		ApprovedAt: &approved,
	}, nil
}

func (m *MockClient) ConfirmCharge(_ context.Context, paymentKey, _ string, _ int64) (domain.ChargeResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ConfirmCalls++
	if m.ConfirmErr != nil {
		return domain.ChargeResult{}, m.ConfirmErr
	}
	approved := time.Now().UTC()
	return domain.ChargeResult{
		Status:     m.ConfirmStatus,
		PaymentKey: paymentKey,
		ApprovedAt: &approved,
	}, nil
}

func (m *MockClient) CancelCharge(_ context.Context, _, _ string) (domain.CancelResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CancelCalls++
	if m.CancelErr != nil {
		return domain.CancelResult{}, m.CancelErr
	}
	return domain.CancelResult{Status: m.CancelStatus}, nil
}

var _ domain.GatewayClient = (*MockClient)(nil)

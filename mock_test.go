package checkout

import (
	"context"
	"sync"
	"testing"
	"time"
)

// mockPaymentAPI is the hand-rolled PaymentAPI used across the package
// tests. Unset functions succeed with zero-value responses.
type mockPaymentAPI struct {
	mu sync.Mutex

	createFn func(ctx context.Context, req CreatePaymentRequest, key string) (*PaymentAttempt, error)
	resumeFn func(ctx context.Context, paymentID string, req ResumePaymentRequest) (*PaymentAttempt, error)
	updateFn func(ctx context.Context, actions []FieldUpdateAction) error
	selectFn func(ctx context.Context, methodType string) error
	startFn  func(ctx context.Context, req ExternalPaymentRequest) (*ExternalPaymentOutcome, error)
	pollFn   func(ctx context.Context, statusURL string, onComplete func(CompletionResult)) (PollHandle, error)

	createKeys  []string
	resumeCalls []string
	updateCalls [][]FieldUpdateAction
	selectCalls []string
	startCalls  []ExternalPaymentRequest
	pollCalls   int
}

func (m *mockPaymentAPI) CreatePayment(ctx context.Context, req CreatePaymentRequest, key string) (*PaymentAttempt, error) {
	m.mu.Lock()
	m.createKeys = append(m.createKeys, key)
	m.mu.Unlock()
	if m.createFn != nil {
		return m.createFn(ctx, req, key)
	}
	return &PaymentAttempt{PaymentID: "pay_1", Status: PaymentStatusSuccess}, nil
}

func (m *mockPaymentAPI) ResumePayment(ctx context.Context, paymentID string, req ResumePaymentRequest) (*PaymentAttempt, error) {
	m.mu.Lock()
	m.resumeCalls = append(m.resumeCalls, req.ResumeToken)
	m.mu.Unlock()
	if m.resumeFn != nil {
		return m.resumeFn(ctx, paymentID, req)
	}
	return &PaymentAttempt{PaymentID: paymentID, Status: PaymentStatusSuccess}, nil
}

func (m *mockPaymentAPI) UpdateSession(ctx context.Context, actions []FieldUpdateAction) error {
	m.mu.Lock()
	m.updateCalls = append(m.updateCalls, actions)
	m.mu.Unlock()
	if m.updateFn != nil {
		return m.updateFn(ctx, actions)
	}
	return nil
}

func (m *mockPaymentAPI) SelectPaymentMethod(ctx context.Context, methodType string) error {
	m.mu.Lock()
	m.selectCalls = append(m.selectCalls, methodType)
	m.mu.Unlock()
	if m.selectFn != nil {
		return m.selectFn(ctx, methodType)
	}
	return nil
}

func (m *mockPaymentAPI) StartExternalPayment(ctx context.Context, req ExternalPaymentRequest) (*ExternalPaymentOutcome, error) {
	m.mu.Lock()
	m.startCalls = append(m.startCalls, req)
	m.mu.Unlock()
	if m.startFn != nil {
		return m.startFn(ctx, req)
	}
	return &ExternalPaymentOutcome{Status: CompletionStatusSucceeded}, nil
}

func (m *mockPaymentAPI) PollPaymentStatus(ctx context.Context, statusURL string, onComplete func(CompletionResult)) (PollHandle, error) {
	m.mu.Lock()
	m.pollCalls++
	m.mu.Unlock()
	if m.pollFn != nil {
		return m.pollFn(ctx, statusURL, onComplete)
	}
	return &mockPollHandle{}, nil
}

// mockPollHandle counts cancellations.
type mockPollHandle struct {
	mu      sync.Mutex
	cancels int
}

func (h *mockPollHandle) Cancel() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.cancels++
}

func (h *mockPollHandle) Cancels() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.cancels
}

// validTokenStore returns a store holding a freshly minted, unexpired token.
func validTokenStore(t *testing.T) *TokenStore {
	t.Helper()
	store := NewTokenStore()
	raw := makeClientToken(t, map[string]interface{}{
		"accessToken": "test-access-token",
		"exp":         time.Now().Add(time.Hour).Unix(),
		"env":         "SANDBOX",
		"coreUrl":     "https://core.example.com",
	})
	if _, err := store.Store(raw); err != nil {
		t.Fatalf("store token: %v", err)
	}
	return store
}

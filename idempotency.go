package checkout

import (
	"sync"

	"github.com/google/uuid"
)

// IdempotencyKeyStore is a single-slot store for the key that must decorate
// the next create-payment request only. The key is set once per attempt by
// the continue-payment-creation decision, read (without clearing) while
// building the create request headers, and cleared unconditionally after the
// request settles, whatever the outcome. Only the create path may read it;
// the resume path never consults the store.
type IdempotencyKeyStore struct {
	mu  sync.Mutex
	key string
}

// NewIdempotencyKeyStore creates an empty store.
func NewIdempotencyKeyStore() *IdempotencyKeyStore {
	return &IdempotencyKeyStore{}
}

// Set overwrites the current slot. An empty key leaves the slot absent.
func (s *IdempotencyKeyStore) Set(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.key = key
}

// PeekForCreate returns the current key for attaching to a create-payment
// request. It does not clear the slot; clearing is tied to request
// completion, not to read.
func (s *IdempotencyKeyStore) PeekForCreate() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.key, s.key != ""
}

// Clear unconditionally empties the slot. Must run after the create request
// settles on every path, including when the request was never sent, so a
// stale key can never leak into a later attempt.
func (s *IdempotencyKeyStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.key = ""
}

// NewIdempotencyKey generates a fresh key for one logical payment attempt.
func NewIdempotencyKey() string {
	return uuid.NewString()
}

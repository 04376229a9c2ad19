package checkout

import (
	"sort"
	"sync"
)

// Registry maps payment method type strings to the strategy factory that
// should handle them. Several method types may share one factory (many
// bank-redirect brands share a single implementation), so registration is
// many-to-one. Lookup misses are explicit errors, never panics.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]StrategyFactory
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]StrategyFactory),
	}
}

// Register binds the factory to each of the given payment method types,
// overwriting any previous binding for those types.
func (r *Registry) Register(factory StrategyFactory, methodTypes ...string) *Registry {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, t := range methodTypes {
		r.factories[t] = factory
	}
	return r
}

// Resolve returns the factory registered for the payment method type.
func (r *Registry) Resolve(methodType string) (StrategyFactory, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	factory, ok := r.factories[methodType]
	if !ok {
		return nil, NewCheckoutError(ErrCodeUnsupportedPaymentMethod, "no handler registered for payment method", map[string]interface{}{
			"paymentMethodType": methodType,
		})
	}
	return factory, nil
}

// Types returns the registered payment method types, sorted for stable output.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]string, 0, len(r.factories))
	for t := range r.factories {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

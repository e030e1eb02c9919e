package ldap

import (
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"
)

// Registry maps a provider type name to the Dialer implementing it.
// A Strategy resolves its provider from the Registry once, when it is created.
type Registry struct {
	mu      sync.RWMutex
	dialers map[string]Dialer
}

// NewRegistry returns a registry holding the go-ldap provider under DefaultProviderType.
func NewRegistry() *Registry {
	return &Registry{
		dialers: map[string]Dialer{
			DefaultProviderType: DefaultDialer,
		},
	}
}

// Register adds or replaces a provider. Type names are case-insensitive.
func (r *Registry) Register(providerType string, dialer Dialer) error {
	key := strings.ToLower(strings.TrimSpace(providerType))
	if key == "" {
		return fmt.Errorf("provider type cannot be empty")
	}
	if dialer == nil {
		return fmt.Errorf("provider %q has no dialer", providerType)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.dialers[key] = dialer
	return nil
}

// Resolve returns the provider registered under providerType.
// An empty type resolves to DefaultProviderType.
func (r *Registry) Resolve(providerType string) (Dialer, error) {
	key := strings.ToLower(strings.TrimSpace(providerType))
	if key == "" {
		key = DefaultProviderType
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	dialer, ok := r.dialers[key]
	if !ok {
		return nil, fmt.Errorf("unknown provider type %q (registered: %s)",
			providerType, strings.Join(slices.Sorted(maps.Keys(r.dialers)), ", "))
	}
	return dialer, nil
}

// Types returns the registered provider type names in order.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Sorted(maps.Keys(r.dialers))
}

// Package providers maps event names to the functions that build their
// trigger context.
package providers

import (
	"context"
	"fmt"
	"sync"

	"emarsync/internal/schema"
)

// Provider builds the context values for one trigger of eventName from the
// caller supplied data.
type Provider func(ctx context.Context, eventName string, data map[string]any) (map[string]any, error)

// NoContextProviderError means neither an event specific nor a general
// provider is registered.
type NoContextProviderError struct {
	EventName string
}

func (e *NoContextProviderError) Error() string {
	return fmt.Sprintf("no context provider registered for event '%s' and no general context provider registered either", e.EventName)
}

// Registry holds the providers. It is filled during startup and only read afterwards.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
	general   Provider
}

func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]Provider)}
}

// Register adds the provider for eventName.
func (r *Registry) Register(eventName string, p Provider) error {
	if eventName == "" {
		return r.RegisterGeneral(p)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.providers[eventName]; exists {
		return &schema.ConfigurationError{
			Message: fmt.Sprintf("attempted to register second context provider for event '%s'", eventName),
		}
	}
	r.providers[eventName] = p
	return nil
}

// RegisterGeneral adds the fallback provider used for events without their own.
func (r *Registry) RegisterGeneral(p Provider) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.general != nil {
		return &schema.ConfigurationError{Message: "attempted to register second general context provider"}
	}
	r.general = p
	return nil
}

// Resolve returns the provider for eventName, falling back to the general one.
func (r *Registry) Resolve(eventName string) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if p, ok := r.providers[eventName]; ok {
		return p, nil
	}
	if r.general != nil {
		return r.general, nil
	}
	return nil, &NoContextProviderError{EventName: eventName}
}

// Null returns an empty context for every event.
func Null(ctx context.Context, eventName string, data map[string]any) (map[string]any, error) {
	return map[string]any{}, nil
}

// Passthrough copies string data into the context unchanged and skips
// everything else.
func Passthrough(ctx context.Context, eventName string, data map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(data))
	for key, value := range data {
		if s, ok := value.(string); ok {
			out[key] = s
		}
	}
	return out, nil
}

// Package provider renders unified calls into the upstream SDK wire format,
// invokes the provider, and surfaces neutral responses or event streams.
package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/mcowger/plexus/internal/config"
	"github.com/mcowger/plexus/internal/unified"
)

// Call is one upstream invocation: the unified request bound to a concrete
// provider and upstream model name.
type Call struct {
	Request  *unified.Request
	Model    string
	Provider *config.Provider
}

// Emit receives neutral stream events as the adapter parses the upstream
// stream. It must not block for long; the dispatcher forwards directly to
// the egress transducer.
type Emit func(unified.StreamEvent)

// Adapter is the per-provider-type egress contract.
type Adapter interface {
	Type() config.ProviderType
	Complete(ctx context.Context, call Call) (*unified.Response, error)
	Stream(ctx context.Context, call Call, emit Emit) error
}

// Registry maps provider types to adapters.
type Registry struct {
	adapters map[config.ProviderType]Adapter
}

// NewRegistry builds a registry over the given adapters.
func NewRegistry(adapters ...Adapter) *Registry {
	r := &Registry{adapters: make(map[config.ProviderType]Adapter, len(adapters))}
	for _, a := range adapters {
		r.adapters[a.Type()] = a
	}
	return r
}

// DefaultRegistry wires the four built-in adapter types.
func DefaultRegistry() *Registry {
	return NewRegistry(
		NewOpenAIAdapter(config.ProviderOpenAI),
		NewOpenAIAdapter(config.ProviderOpenRouter),
		NewAnthropicAdapter(),
		NewGeminiAdapter(),
	)
}

// For returns the adapter for a provider type.
func (r *Registry) For(t config.ProviderType) (Adapter, error) {
	a, ok := r.adapters[t]
	if !ok {
		return nil, unified.NewError(unified.ErrConfig, "no adapter for provider type %q", t)
	}
	return a, nil
}

// classifyStatus maps an upstream HTTP status to the gateway error taxonomy.
func classifyStatus(provider string, status int, retryAfter time.Duration, cause error) *unified.GatewayError {
	var class unified.ErrorClass
	switch {
	case status == http.StatusTooManyRequests:
		class = unified.ErrUpstreamRateLimited
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		class = unified.ErrUpstreamAuth
	case status == http.StatusBadRequest || status == http.StatusNotFound ||
		status == http.StatusRequestEntityTooLarge || status == http.StatusUnprocessableEntity:
		class = unified.ErrUpstreamInvalid
	case status >= 500:
		class = unified.ErrUpstreamTransient
	default:
		class = unified.ErrUpstreamTransient
	}
	ge := unified.WrapError(class, cause, "provider %s returned status %d", provider, status)
	ge.RetryAfter = retryAfter
	return ge
}

// classifyTransport maps a non-HTTP failure (dial, TLS, timeout, cancel).
func classifyTransport(provider string, err error) *unified.GatewayError {
	if errors.Is(err, context.Canceled) {
		return unified.WrapError(unified.ErrCancelled, err, "request cancelled")
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return unified.WrapError(unified.ErrUpstreamTransient, err, "provider %s timed out", provider)
	}
	return unified.WrapError(unified.ErrUpstreamTransient, err, "provider %s unreachable", provider)
}

// retryAfterHeader parses a Retry-After header, seconds form only.
func retryAfterHeader(h http.Header) time.Duration {
	if h == nil {
		return 0
	}
	v := h.Get("Retry-After")
	if v == "" {
		return 0
	}
	secs, err := strconv.Atoi(v)
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

// responseID builds a provider-neutral response id when the upstream did
// not supply one.
func responseID(prefix string) string {
	return fmt.Sprintf("%s_%d", prefix, time.Now().UnixNano())
}

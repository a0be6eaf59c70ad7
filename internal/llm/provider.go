// Package llm adapts hosted model APIs to a single streaming capability: a
// system prompt and message history go in, ordered text fragments come out.
package llm

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"strings"

	"agentcanvas/backend/pkg/models"
)

// ErrNoProvider is yielded when no provider is configured for a model.
var ErrNoProvider = errors.New("no provider configured for model")

// Request is one streamed completion.
type Request struct {
	Model        string
	SystemPrompt string
	Messages     []models.Message
}

// Provider streams a model response as text fragments in arrival order. The
// sequence ends after the last fragment or after a single non-nil error.
// Stopping iteration early cancels the underlying request.
type Provider interface {
	Stream(ctx context.Context, req Request) iter.Seq2[string, error]
}

// ProviderFunc adapts a function to the Provider interface.
type ProviderFunc func(ctx context.Context, req Request) iter.Seq2[string, error]

func (f ProviderFunc) Stream(ctx context.Context, req Request) iter.Seq2[string, error] {
	return f(ctx, req)
}

type route struct {
	prefix   string
	provider Provider
}

// Router picks a provider by model prefix and falls back to a default.
type Router struct {
	fallback Provider
	routes   []route
}

// NewRouter creates a Router. fallback may be nil, in which case models that
// match no route fail with ErrNoProvider.
func NewRouter(fallback Provider) *Router {
	return &Router{fallback: fallback}
}

// Handle sends models starting with any of prefixes to p.
func (r *Router) Handle(p Provider, prefixes ...string) *Router {
	for _, prefix := range prefixes {
		r.routes = append(r.routes, route{prefix: prefix, provider: p})
	}
	return r
}

func (r *Router) pick(model string) Provider {
	for _, rt := range r.routes {
		if strings.HasPrefix(model, rt.prefix) {
			return rt.provider
		}
	}
	return r.fallback
}

// Stream implements Provider.
func (r *Router) Stream(ctx context.Context, req Request) iter.Seq2[string, error] {
	p := r.pick(req.Model)
	if p == nil {
		return func(yield func(string, error) bool) {
			yield("", fmt.Errorf("%w: %s", ErrNoProvider, req.Model))
		}
	}
	return p.Stream(ctx, req)
}

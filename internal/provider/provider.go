// Package provider turns ordered chat context into model completions.
package provider

import (
	"context"
	"fmt"
	"log/slog"

	"chathub/internal/domain"
)

// Provider executes one completion call against a model backend. A call
// is one shot: retry policy belongs to the caller, not the provider.
type Provider interface {
	Name() string
	Complete(ctx context.Context, req domain.CompletionRequest) (*domain.CompletionResult, error)
}

// Registry maps provider names from agent configuration to backends.
// Registration happens once at process start; Resolve is read-only
// afterwards and safe for concurrent use.
type Registry struct {
	providers map[string]Provider
	logger    *slog.Logger
}

func NewRegistry(logger *slog.Logger, providers ...Provider) *Registry {
	r := &Registry{
		providers: make(map[string]Provider, len(providers)),
		logger:    logger,
	}
	for _, p := range providers {
		r.providers[p.Name()] = p
		logger.Debug("registered completion provider", "name", p.Name())
	}
	return r
}

// Resolve returns the provider an agent names, or
// domain.ErrUnsupportedProvider when none is registered.
func (r *Registry) Resolve(name string) (Provider, error) {
	p, ok := r.providers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrUnsupportedProvider, name)
	}
	return p, nil
}

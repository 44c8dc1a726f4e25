package channel

import (
	"fmt"
	"log/slog"

	"chathub/internal/domain"
)

// Registry maps a channel type to exactly one adapter instance.
// Registration happens once at process start; Resolve is read-only
// afterwards and safe for concurrent use.
type Registry struct {
	adapters map[domain.ChannelType]Adapter
	logger   *slog.Logger
}

func NewRegistry(logger *slog.Logger, adapters ...Adapter) *Registry {
	r := &Registry{
		adapters: make(map[domain.ChannelType]Adapter, len(adapters)),
		logger:   logger,
	}
	for _, a := range adapters {
		r.adapters[a.Type()] = a
		logger.Debug("registered channel adapter", "type", a.Type())
	}
	return r
}

// Resolve returns the adapter for a channel type, or
// domain.ErrUnsupportedChannel when none is registered.
func (r *Registry) Resolve(t domain.ChannelType) (Adapter, error) {
	a, ok := r.adapters[t]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrUnsupportedChannel, t)
	}
	return a, nil
}

// SupportedTypes lists the registered channel types.
func (r *Registry) SupportedTypes() []domain.ChannelType {
	types := make([]domain.ChannelType, 0, len(r.adapters))
	for t := range r.adapters {
		types = append(types, t)
	}
	return types
}

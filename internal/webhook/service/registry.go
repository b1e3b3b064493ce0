package service

import (
	"strings"

	"github.com/smallbiznis/siteledger/internal/webhook/domain"
	"go.uber.org/fx"
)

// Registry maps event types to handlers.
type Registry struct {
	handlers map[string]domain.Handler
}

type RegistryParams struct {
	fx.In

	Handlers []domain.Handler `group:"webhook_handlers"`
}

func NewRegistry(p RegistryParams) *Registry {
	return NewRegistryWith(p.Handlers...)
}

func NewRegistryWith(handlers ...domain.Handler) *Registry {
	registry := &Registry{handlers: map[string]domain.Handler{}}
	for _, handler := range handlers {
		if handler == nil {
			continue
		}
		eventType := strings.TrimSpace(handler.EventType())
		if eventType == "" {
			continue
		}
		registry.handlers[eventType] = handler
	}
	return registry
}

func (r *Registry) Lookup(eventType string) (domain.Handler, bool) {
	if r == nil {
		return nil, false
	}
	handler, ok := r.handlers[strings.TrimSpace(eventType)]
	return handler, ok
}

// Package context carries request-scoped correlation values.
package context

import (
	"context"
	"strings"
)

type ctxKey int

const (
	requestIDKey ctxKey = iota
	orgIDKey
	actorKey
)

type actor struct {
	kind string
	id   string
}

func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, strings.TrimSpace(requestID))
}

func RequestIDFromContext(ctx context.Context) string {
	value, _ := ctx.Value(requestIDKey).(string)
	return value
}

func WithOrgID(ctx context.Context, orgID string) context.Context {
	return context.WithValue(ctx, orgIDKey, strings.TrimSpace(orgID))
}

func OrgIDFromContext(ctx context.Context) string {
	value, _ := ctx.Value(orgIDKey).(string)
	return value
}

// WithActor stores an actor string of the form "user:<id>" or "system".
func WithActor(ctx context.Context, raw string) context.Context {
	raw = strings.TrimSpace(raw)
	kind, id, found := strings.Cut(raw, ":")
	if !found {
		kind, id = raw, ""
	}
	return context.WithValue(ctx, actorKey, actor{kind: kind, id: id})
}

// ActorFromContext returns the actor type and id.
func ActorFromContext(ctx context.Context) (string, string) {
	value, _ := ctx.Value(actorKey).(actor)
	return value.kind, value.id
}

// ActorString reverses WithActor.
func ActorString(ctx context.Context) string {
	kind, id := ActorFromContext(ctx)
	if id == "" {
		return kind
	}
	return kind + ":" + id
}

// Package context carries request-scoped correlation fields for logs and
// spans.
package context

import (
	"context"
	"strings"

	"github.com/oklog/ulid/v2"
)

type (
	requestIDKey   struct{}
	registrarIDKey struct{}
	actorKey       struct{}
)

type actor struct {
	kind string
	id   string
}

func WithRequestID(ctx context.Context, requestID string) context.Context {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey{}, requestID)
}

func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	v, _ := ctx.Value(requestIDKey{}).(string)
	return v
}

// EnsureRequestID returns ctx with a request id, generating a ULID when
// none is set.
func EnsureRequestID(ctx context.Context) (context.Context, string) {
	if id := RequestIDFromContext(ctx); id != "" {
		return ctx, id
	}
	id := NewRequestID()
	return context.WithValue(ctx, requestIDKey{}, id), id
}

func NewRequestID() string {
	return ulid.Make().String()
}

func WithRegistrarID(ctx context.Context, registrarID string) context.Context {
	registrarID = strings.TrimSpace(registrarID)
	if registrarID == "" {
		return ctx
	}
	return context.WithValue(ctx, registrarIDKey{}, registrarID)
}

func RegistrarIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	v, _ := ctx.Value(registrarIDKey{}).(string)
	return v
}

// WithActor records who is acting: a registrar, a superuser or the
// scheduler.
func WithActor(ctx context.Context, actorType, actorID string) context.Context {
	return context.WithValue(ctx, actorKey{}, actor{
		kind: strings.TrimSpace(actorType),
		id:   strings.TrimSpace(actorID),
	})
}

func ActorFromContext(ctx context.Context) (string, string) {
	if ctx == nil {
		return "", ""
	}
	a, _ := ctx.Value(actorKey{}).(actor)
	return a.kind, a.id
}

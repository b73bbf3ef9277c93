package context

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEnsureRequestIDKeepsExisting(t *testing.T) {
	ctx := WithRequestID(context.Background(), " req-1 ")
	ctx, id := EnsureRequestID(ctx)
	assert.Equal(t, "req-1", id)
	assert.Equal(t, "req-1", RequestIDFromContext(ctx))
}

func TestEnsureRequestIDGenerates(t *testing.T) {
	ctx, id := EnsureRequestID(context.Background())
	assert.Len(t, id, 26)
	assert.Equal(t, id, RequestIDFromContext(ctx))
}

func TestActorAndRegistrar(t *testing.T) {
	ctx := WithActor(context.Background(), "registrar", "losing")
	ctx = WithRegistrarID(ctx, "losing")
	kind, id := ActorFromContext(ctx)
	assert.Equal(t, "registrar", kind)
	assert.Equal(t, "losing", id)
	assert.Equal(t, "losing", RegistrarIDFromContext(ctx))

	kind, id = ActorFromContext(context.Background())
	assert.Empty(t, kind)
	assert.Empty(t, id)
}

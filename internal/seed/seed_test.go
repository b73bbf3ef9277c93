package seed

import (
	"context"
	"testing"
	"time"

	"github.com/smallbiznis/registry/internal/registrytest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestEnsureRegistrarsIsIdempotent(t *testing.T) {
	env := registrytest.New(t, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC))
	ctx := context.Background()
	ids := []string{"ops:Registry Operations", "losing", " ", "ops"}

	created, err := EnsureRegistrars(ctx, env.Registrars, env.Tlds, zap.NewNop(), ids)
	require.NoError(t, err)
	assert.Equal(t, 1, created)

	ops, err := env.Registrars.Get(ctx, nil, "ops")
	require.NoError(t, err)
	assert.Equal(t, "Registry Operations", ops.Name)
	assert.True(t, ops.AllowsTld(env.Tld.Name))

	created, err = EnsureRegistrars(ctx, env.Registrars, env.Tlds, zap.NewNop(), ids)
	require.NoError(t, err)
	assert.Zero(t, created)
}

func TestSplitSeed(t *testing.T) {
	id, name := splitSeed(" acme : Acme Registrar ")
	assert.Equal(t, "acme", id)
	assert.Equal(t, "Acme Registrar", name)

	id, name = splitSeed("solo")
	assert.Equal(t, "solo", id)
	assert.Equal(t, "solo", name)
}

package service

import (
	"context"
	"testing"
	"time"

	"github.com/smallbiznis/registry/internal/clock"
	"github.com/smallbiznis/registry/internal/registrar/domain"
	"github.com/smallbiznis/registry/internal/registrar/repository"
	"github.com/smallbiznis/registry/pkg/db"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestService(t *testing.T) domain.Service {
	t.Helper()
	conn, err := db.NewTest(&domain.Registrar{})
	require.NoError(t, err)
	return NewService(ServiceParam{
		DB:    conn,
		Log:   zap.NewNop(),
		Clock: clock.NewFakeClock(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)),
		Repo:  repository.Provide(),
	})
}

func TestRequireTld(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	_, err := svc.Create(ctx, domain.CreateRequest{ID: "registrar-a", Name: "Registrar A", AllowedTlds: []string{"Example"}})
	require.NoError(t, err)

	r, err := svc.RequireTld(ctx, nil, "registrar-a", "example")
	require.NoError(t, err)
	assert.Equal(t, "Registrar A", r.Name)

	_, err = svc.RequireTld(ctx, nil, "registrar-a", "other")
	assert.ErrorIs(t, err, domain.ErrNotAuthorizedForTld)

	_, err = svc.RequireActive(ctx, nil, "ghost")
	assert.ErrorIs(t, err, domain.ErrRegistrarNotFound)

	require.NoError(t, svc.SetState(ctx, "registrar-a", domain.StateSuspended))
	_, err = svc.RequireTld(ctx, nil, "registrar-a", "example")
	assert.ErrorIs(t, err, domain.ErrRegistrarNotActive)
}

func TestCreateRegistrarValidation(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	_, err := svc.Create(ctx, domain.CreateRequest{ID: "", Name: "x"})
	assert.ErrorIs(t, err, domain.ErrInvalidRegistrar)

	_, err = svc.Create(ctx, domain.CreateRequest{ID: "r", Name: "R"})
	require.NoError(t, err)
	_, err = svc.Create(ctx, domain.CreateRequest{ID: "r", Name: "R"})
	assert.ErrorIs(t, err, domain.ErrRegistrarAlreadyExists)

	assert.ErrorIs(t, svc.SetState(ctx, "r", "LIMBO"), domain.ErrInvalidRegistrar)
}

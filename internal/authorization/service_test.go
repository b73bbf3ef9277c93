package authorization

import (
	"context"
	"testing"

	"github.com/smallbiznis/registry/internal/config"
	"github.com/smallbiznis/registry/internal/registryerr"
	"github.com/smallbiznis/registry/pkg/db"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestService(t *testing.T, superusers ...string) Service {
	t.Helper()
	enforcer, err := buildEnforcer(nil, superusers)
	require.NoError(t, err)
	return NewService(Params{Log: zap.NewNop(), Enforcer: enforcer})
}

func TestRegistrarsMayIssueClientCommands(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	for _, action := range []string{ActionCheck, ActionCreate, ActionRenew, ActionDelete, ActionRestore, ActionTransfer} {
		assert.NoError(t, svc.Authorize(ctx, "losing", action), action)
	}
	err := svc.Authorize(ctx, "losing", ActionUpdate)
	assert.ErrorIs(t, err, ErrForbidden)
	assert.Equal(t, registryerr.KindForbidden, registryerr.KindOf(err))

	super, err := svc.IsSuperuser(ctx, "losing")
	require.NoError(t, err)
	assert.False(t, super)
}

func TestConfiguredSuperuser(t *testing.T) {
	svc := newTestService(t, "root")
	ctx := context.Background()

	super, err := svc.IsSuperuser(ctx, "root")
	require.NoError(t, err)
	assert.True(t, super)
	assert.NoError(t, svc.Authorize(ctx, "root", ActionUpdate))
	assert.NoError(t, svc.Authorize(ctx, "root", ActionCreate))
}

func TestGrantAndRevokeSuperuser(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	require.NoError(t, svc.GrantSuperuser(ctx, "gaining"))
	super, err := svc.IsSuperuser(ctx, "gaining")
	require.NoError(t, err)
	assert.True(t, super)

	require.NoError(t, svc.RevokeSuperuser(ctx, "gaining"))
	super, err = svc.IsSuperuser(ctx, "gaining")
	require.NoError(t, err)
	assert.False(t, super)
	assert.NoError(t, svc.Authorize(ctx, "gaining", ActionRenew), "revoking keeps the registrar role")
}

func TestAuthorizeRejectsBlankInput(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	assert.ErrorIs(t, svc.Authorize(ctx, " ", ActionCheck), ErrInvalidActor)
	assert.ErrorIs(t, svc.Authorize(ctx, "losing", ""), ErrInvalidAction)
}

func TestEnforcerPersistsGrantsThroughAdapter(t *testing.T) {
	conn, err := db.NewTest()
	require.NoError(t, err)
	ctx := context.Background()

	enforcer, err := NewEnforcer(conn, config.Config{})
	require.NoError(t, err)
	svc := NewService(Params{Log: zap.NewNop(), Enforcer: enforcer})
	require.NoError(t, svc.GrantSuperuser(ctx, "gaining"))

	reloaded, err := NewEnforcer(conn, config.Config{})
	require.NoError(t, err)
	super, err := NewService(Params{Log: zap.NewNop(), Enforcer: reloaded}).IsSuperuser(ctx, "gaining")
	require.NoError(t, err)
	assert.True(t, super)
}

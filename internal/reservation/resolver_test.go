package reservation

import (
	"context"
	"testing"
	"time"

	"github.com/smallbiznis/registry/internal/command"
	"github.com/smallbiznis/registry/internal/timeline"
	tlddomain "github.com/smallbiznis/registry/internal/tld/domain"
	"github.com/smallbiznis/registry/internal/tld/tldtest"
	tokendomain "github.com/smallbiznis/registry/internal/token/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type tokenStub struct {
	tokendomain.Service
	token *tokendomain.AllocationToken
	err   error
}

func (s *tokenStub) Validate(ctx context.Context, tx *gorm.DB, token string, op tokendomain.OperationContext) (*tokendomain.AllocationToken, error) {
	return s.token, s.err
}

var now = time.Date(2024, time.May, 1, 0, 0, 0, 0, time.UTC)

func op(name string) tokendomain.OperationContext {
	return tokendomain.OperationContext{Command: command.Create, DomainName: name, Tld: "example", RegistrarID: "registrar-a", Now: now}
}

func TestResolveSeverityInGA(t *testing.T) {
	r := NewResolver(Param{Tokens: &tokenStub{}})
	tld := tldtest.Example()
	ctx := context.Background()

	cases := map[string]Status{
		"plain":     StatusAvailable,
		"sunrise":   StatusAvailable,
		"collision": StatusAvailable,
		"reserved":  StatusReserved,
		"anchor":    StatusReserved,
		"blocked":   StatusBlocked,
	}
	for label, want := range cases {
		v, err := r.Resolve(ctx, nil, label, tld, "", op(label+".example"))
		require.NoError(t, err)
		assert.Equal(t, want, v.Status, label)
	}

	v, err := r.Resolve(ctx, nil, "collision", tld, "", op("collision.example"))
	require.NoError(t, err)
	assert.True(t, v.ServerHold)

	v, err = r.Resolve(ctx, nil, "reserved", tld, "", op("reserved.example"))
	require.NoError(t, err)
	assert.Equal(t, "registry use", v.Reason)
	assert.ErrorIs(t, v.Err(), ErrDomainReserved)
}

func TestMostSevereListWins(t *testing.T) {
	tld := tldtest.Example()
	tld.ReservedLists = append(tld.ReservedLists, tlddomain.ReservedList{
		Name:    "extra",
		Entries: map[string]tlddomain.ReservedEntry{"sunrise": {Type: tlddomain.ReservationFullyBlocked}},
	})
	r := NewResolver(Param{Tokens: &tokenStub{}})

	v, err := r.Resolve(context.Background(), nil, "sunrise", tld, "", op("sunrise.example"))
	require.NoError(t, err)
	assert.Equal(t, StatusBlocked, v.Status)
	assert.Equal(t, tlddomain.ReservationFullyBlocked, v.Type)
}

func TestNameCollisionOutsideGA(t *testing.T) {
	tld := tldtest.Example()
	tld.Phases = timeline.Constant(tlddomain.PhaseStartDateSunrise)
	r := NewResolver(Param{Tokens: &tokenStub{}})

	v, err := r.Resolve(context.Background(), nil, "collision", tld, "", op("collision.example"))
	require.NoError(t, err)
	assert.Equal(t, StatusReserved, v.Status)
}

func TestMatchingTokenOverridesReservation(t *testing.T) {
	name := "anchor.example"
	token := &tokendomain.AllocationToken{Token: "t", Type: tokendomain.TypeSingleUse, DomainName: &name, RegistrationBehavior: tokendomain.RegistrationDefault}
	r := NewResolver(Param{Tokens: &tokenStub{token: token}})
	tld := tldtest.Example()

	v, err := r.Resolve(context.Background(), nil, "anchor", tld, "t", op(name))
	require.NoError(t, err)
	assert.True(t, v.Available())
	assert.True(t, v.AnchorTenant)
	assert.Same(t, token, v.Token)

	blockedName := "blocked.example"
	token.DomainName = &blockedName
	v, err = r.Resolve(context.Background(), nil, "blocked", tld, "t", op(blockedName))
	require.NoError(t, err)
	assert.True(t, v.Available())
	assert.False(t, v.AnchorTenant)
}

func TestUnscopedTokenDoesNotOverride(t *testing.T) {
	token := &tokendomain.AllocationToken{Token: "t", Type: tokendomain.TypeUnlimitedUse, RegistrationBehavior: tokendomain.RegistrationDefault}
	r := NewResolver(Param{Tokens: &tokenStub{token: token}})

	v, err := r.Resolve(context.Background(), nil, "reserved", tldtest.Example(), "t", op("reserved.example"))
	require.NoError(t, err)
	assert.Equal(t, StatusReserved, v.Status)
}

func TestTokenErrorReplacesReservation(t *testing.T) {
	r := NewResolver(Param{Tokens: &tokenStub{err: tokendomain.ErrTokenAlreadyRedeemed}})

	_, err := r.Resolve(context.Background(), nil, "reserved", tldtest.Example(), "t", op("reserved.example"))
	assert.ErrorIs(t, err, tokendomain.ErrTokenAlreadyRedeemed)
}

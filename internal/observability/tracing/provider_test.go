package tracing

import (
	"errors"
	"fmt"
	"testing"

	"github.com/smallbiznis/registry/internal/registryerr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

func TestSafeAttributesDropsSecrets(t *testing.T) {
	out := SafeAttributes(
		attribute.String("http.method", "POST"),
		attribute.String("auth_info", "2fooBAR"),
		attribute.String("token", "abc"),
		attribute.String("http.route", "/v1/domains/create"),
	)
	require.Len(t, out, 2)
	assert.Equal(t, attribute.Key("http.method"), out[0].Key)
	assert.Equal(t, attribute.Key("http.route"), out[1].Key)
}

func TestSafeError(t *testing.T) {
	assert.Nil(t, SafeError(nil))

	classified := registryerr.Conflict("domain_already_exists", "The domain is already registered")
	assert.EqualError(t, SafeError(fmt.Errorf("create foo.example: %w", classified)), "domain_already_exists")
	assert.EqualError(t, SafeError(errors.New("pq: password=hunter2")), "internal_error")
}

func TestNewProviderDisabled(t *testing.T) {
	tp, err := NewProvider(nil, Config{ServiceName: "registry-test"}, zap.NewNop())
	require.NoError(t, err)
	require.NotNil(t, tp)
	assert.NoError(t, tp.Shutdown(t.Context()))
}

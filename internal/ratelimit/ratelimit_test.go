package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/smallbiznis/registry/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDisabledLimiterAllows(t *testing.T) {
	var l *CommandLimiter
	assert.False(t, l.Enabled())

	res, err := l.Allow(context.Background(), "losing", ClassMutate)
	require.NoError(t, err)
	assert.True(t, res.Allowed)

	assert.Nil(t, NewCommandLimiter(config.Config{RateLimit: config.RateLimitConfig{Enabled: true}}, nil))
}

func TestUnconfiguredClassIsUnlimited(t *testing.T) {
	l := newCommandLimiter(&TokenBucket{}, config.RateLimitConfig{MutateRate: 1, MutateBurst: 1})
	require.True(t, l.Enabled())

	res, err := l.Allow(context.Background(), "losing", ClassCheck)
	require.NoError(t, err)
	assert.True(t, res.Allowed)
	assert.Contains(t, l.limits, ClassMutate)
}

func TestTokenBucketRejectsBadInput(t *testing.T) {
	var empty *TokenBucket
	_, err := empty.Allow(context.Background(), "k", 1, 1)
	assert.Error(t, err)
}

func TestDefaultBucketTTL(t *testing.T) {
	assert.Equal(t, time.Second, defaultBucketTTL(0, 10))
	assert.Equal(t, 20*time.Second, defaultBucketTTL(1, 10))
	assert.Equal(t, time.Second, defaultBucketTTL(100, 1))
}

func TestCastScriptValues(t *testing.T) {
	assert.Equal(t, int64(3), castToInt(int64(3)))
	assert.Equal(t, int64(0), castToInt("3"))
	assert.Equal(t, 2.5, castToFloat("2.5"))
	assert.Equal(t, float64(4), castToFloat(int64(4)))
}

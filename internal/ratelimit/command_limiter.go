package ratelimit

import (
	"context"
	"fmt"
	"strings"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/registry/internal/config"
)

type Class string

const (
	// ClassCheck covers availability checks, which registrars poll heavily.
	ClassCheck Class = "check"
	// ClassMutate covers every command that writes registry state.
	ClassMutate Class = "mutate"
)

const keyRegistrarCommands = "registry:ratelimit:%s:%s"

type bucketLimit struct {
	rate  float64
	burst int
}

// CommandLimiter bounds the command rate of each registrar. A nil or
// disabled limiter allows everything.
type CommandLimiter struct {
	bucket *TokenBucket
	limits map[Class]bucketLimit
}

func NewCommandLimiter(cfg config.Config, client *redis.Client) *CommandLimiter {
	limitCfg := cfg.RateLimit
	if !limitCfg.Enabled || client == nil {
		return nil
	}
	return newCommandLimiter(NewTokenBucket(client), limitCfg)
}

func newCommandLimiter(bucket *TokenBucket, cfg config.RateLimitConfig) *CommandLimiter {
	limits := map[Class]bucketLimit{}
	if cfg.CheckRate > 0 && cfg.CheckBurst > 0 {
		limits[ClassCheck] = bucketLimit{rate: cfg.CheckRate, burst: cfg.CheckBurst}
	}
	if cfg.MutateRate > 0 && cfg.MutateBurst > 0 {
		limits[ClassMutate] = bucketLimit{rate: cfg.MutateRate, burst: cfg.MutateBurst}
	}
	return &CommandLimiter{bucket: bucket, limits: limits}
}

func (l *CommandLimiter) Enabled() bool {
	return l != nil && l.bucket != nil
}

// Allow takes one token from the registrar's bucket for class.
func (l *CommandLimiter) Allow(ctx context.Context, registrarID string, class Class) (*RateLimitResult, error) {
	if !l.Enabled() {
		return &RateLimitResult{Allowed: true}, nil
	}
	limit, ok := l.limits[class]
	if !ok {
		return &RateLimitResult{Allowed: true}, nil
	}
	key := fmt.Sprintf(keyRegistrarCommands, class, strings.TrimSpace(registrarID))
	return l.bucket.Allow(ctx, key, limit.rate, limit.burst)
}

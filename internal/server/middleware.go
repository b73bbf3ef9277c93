package server

import (
	"context"
	"math"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	obscontext "github.com/smallbiznis/registry/internal/observability/context"
	"github.com/smallbiznis/registry/internal/ratelimit"
	"go.uber.org/zap"
)

const (
	HeaderRegistrar       = "X-Registrar-Id"
	contextRegistrarIDKey = "registrar_id"
)

// RegistrarRequired resolves the calling registrar. Credentials are checked
// by the gateway in front of the registry, which forwards the registrar id.
func (s *Server) RegistrarRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		registrarID := strings.TrimSpace(c.GetHeader(HeaderRegistrar))
		if registrarID == "" {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		c.Set(contextRegistrarIDKey, registrarID)
		c.Request = c.Request.WithContext(obscontext.WithRegistrarID(c.Request.Context(), registrarID))
		c.Next()
	}
}

func registrarIDFrom(c *gin.Context) string {
	return c.GetString(contextRegistrarIDKey)
}

type commandLimiter interface {
	Allow(ctx context.Context, registrarID string, class ratelimit.Class) (*ratelimit.RateLimitResult, error)
}

// RateLimited spends one token of the registrar's bucket for class. Limiter
// failures let the request through.
func (s *Server) RateLimited(class ratelimit.Class) gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.limiter == nil {
			c.Next()
			return
		}

		res, err := s.limiter.Allow(c.Request.Context(), registrarIDFrom(c), class)
		if err != nil {
			s.log.Warn("rate limiter unavailable", zap.String("class", string(class)), zap.Error(err))
			c.Next()
			return
		}
		if !res.Allowed {
			retryAfter := max(int(math.Ceil(res.RetryAfter.Seconds())), 1)
			c.Header("Retry-After", strconv.Itoa(retryAfter))
			AbortWithError(c, ErrRateLimited)
			return
		}
		c.Next()
	}
}

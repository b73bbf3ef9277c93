package cache

import (
	"strings"
	"time"

	tokendomain "github.com/smallbiznis/registry/internal/token/domain"
)

const defaultPromoTokenTTL = 30 * time.Second

// PromoTokenCache holds hot default-promotion tokens read on every create.
type PromoTokenCache interface {
	Get(token string) (*tokendomain.AllocationToken, bool)
	Set(token *tokendomain.AllocationToken)
	Invalidate(token string)
}

type promoTokenCache struct {
	tokens Cache[string, tokendomain.AllocationToken]
	ttl    time.Duration
}

func NewPromoTokenCache() PromoTokenCache {
	return &promoTokenCache{
		tokens: NewTTLCache[string, tokendomain.AllocationToken](),
		ttl:    defaultPromoTokenTTL,
	}
}

// Get returns a copy so callers cannot mutate the cached entry.
func (c *promoTokenCache) Get(token string) (*tokendomain.AllocationToken, bool) {
	t, ok := c.tokens.Get(cacheKey(token))
	if !ok {
		return nil, false
	}
	return &t, true
}

func (c *promoTokenCache) Set(token *tokendomain.AllocationToken) {
	if token == nil || token.Type != tokendomain.TypeDefaultPromo {
		return
	}
	c.tokens.Set(cacheKey(token.Token), *token, c.ttl)
	c.tokens.Wait()
}

func (c *promoTokenCache) Invalidate(token string) {
	c.tokens.Delete(cacheKey(token))
}

func cacheKey(token string) string {
	return strings.TrimSpace(token)
}

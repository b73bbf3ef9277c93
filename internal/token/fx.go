package token

import (
	"github.com/smallbiznis/registry/internal/cache"
	"github.com/smallbiznis/registry/internal/token/repository"
	"github.com/smallbiznis/registry/internal/token/service"
	"go.uber.org/fx"
)

var Module = fx.Module("token.service",
	fx.Provide(repository.Provide),
	fx.Provide(cache.NewPromoTokenCache),
	fx.Provide(service.NewService),
)

package billing

import (
	"github.com/smallbiznis/registry/internal/billing/repository"
	"github.com/smallbiznis/registry/internal/billing/service"
	"go.uber.org/fx"
)

var Module = fx.Module("billing.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewExpander),
	fx.Provide(service.NewService),
)

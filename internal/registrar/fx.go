package registrar

import (
	"github.com/smallbiznis/registry/internal/registrar/repository"
	"github.com/smallbiznis/registry/internal/registrar/service"
	"go.uber.org/fx"
)

var Module = fx.Module("registrar.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)

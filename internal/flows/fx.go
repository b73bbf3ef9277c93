package flows

import (
	"github.com/smallbiznis/registry/internal/flows/service"
	"go.uber.org/fx"
)

var Module = fx.Module("flows.service",
	fx.Provide(service.NewService),
)

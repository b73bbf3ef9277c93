package tld

import (
	"github.com/smallbiznis/registry/internal/tld/domain"
	"github.com/smallbiznis/registry/internal/tld/service"
	"go.uber.org/fx"
)

var Module = fx.Module("tld.service",
	fx.Provide(service.NewHolder),
	fx.Provide(func(h *service.Holder) domain.Store { return h }),
)

package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/registry/internal/authorization"
	"github.com/smallbiznis/registry/internal/billing"
	"github.com/smallbiznis/registry/internal/clock"
	"github.com/smallbiznis/registry/internal/config"
	"github.com/smallbiznis/registry/internal/events"
	"github.com/smallbiznis/registry/internal/flows"
	"github.com/smallbiznis/registry/internal/migration"
	"github.com/smallbiznis/registry/internal/observability"
	"github.com/smallbiznis/registry/internal/pricing"
	"github.com/smallbiznis/registry/internal/ratelimit"
	"github.com/smallbiznis/registry/internal/registrar"
	"github.com/smallbiznis/registry/internal/registration"
	"github.com/smallbiznis/registry/internal/reservation"
	"github.com/smallbiznis/registry/internal/scheduler"
	"github.com/smallbiznis/registry/internal/seed"
	"github.com/smallbiznis/registry/internal/server"
	"github.com/smallbiznis/registry/internal/task"
	"github.com/smallbiznis/registry/internal/tld"
	"github.com/smallbiznis/registry/internal/token"
	"github.com/smallbiznis/registry/internal/transfer"
	"github.com/smallbiznis/registry/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		// Core Infrastructure
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		migration.Module,
		clock.Module,
		ratelimit.Module,

		// Registry
		tld.Module,
		registrar.Module,
		token.Module,
		reservation.Module,
		pricing.Module,
		billing.Module,
		events.Module,
		registration.Module,
		task.Module,
		transfer.Module,
		flows.Module,
		authorization.Module,
		seed.Module,

		server.Module,
		scheduler.Module,
	)
	app.Run()
}

func RegisterSnowflake(cfg config.Config) (*snowflake.Node, error) {
	return snowflake.NewNode(cfg.NodeID)
}

package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/contentgate/internal/audit"
	"github.com/smallbiznis/contentgate/internal/authorization"
	"github.com/smallbiznis/contentgate/internal/capability"
	"github.com/smallbiznis/contentgate/internal/clock"
	"github.com/smallbiznis/contentgate/internal/config"
	"github.com/smallbiznis/contentgate/internal/gate"
	"github.com/smallbiznis/contentgate/internal/identity"
	"github.com/smallbiznis/contentgate/internal/migration"
	"github.com/smallbiznis/contentgate/internal/moderation"
	"github.com/smallbiznis/contentgate/internal/observability"
	"github.com/smallbiznis/contentgate/internal/quota"
	"github.com/smallbiznis/contentgate/internal/ratelimit"
	"github.com/smallbiznis/contentgate/internal/scheduler"
	"github.com/smallbiznis/contentgate/internal/server"
	"github.com/smallbiznis/contentgate/internal/submission"
	"github.com/smallbiznis/contentgate/internal/tier"
	"github.com/smallbiznis/contentgate/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		// Core infrastructure
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		migration.Module,
		clock.Module,

		// Domains
		tier.Module,
		identity.Module,
		capability.Module,
		audit.Module,
		authorization.Module,
		quota.Module,
		submission.Module,
		moderation.Module,
		gate.Module,
		ratelimit.Module,
		scheduler.Module,

		server.Module,
	)
	app.Run()
}

func RegisterSnowflake(cfg config.Config) (*snowflake.Node, error) {
	return snowflake.NewNode(cfg.NodeID)
}

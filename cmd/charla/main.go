package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/charla/internal/automation"
	"github.com/smallbiznis/charla/internal/classifier"
	"github.com/smallbiznis/charla/internal/clock"
	"github.com/smallbiznis/charla/internal/config"
	"github.com/smallbiznis/charla/internal/conversation"
	"github.com/smallbiznis/charla/internal/logger"
	"github.com/smallbiznis/charla/internal/migration"
	"github.com/smallbiznis/charla/internal/notification"
	"github.com/smallbiznis/charla/internal/observability"
	"github.com/smallbiznis/charla/internal/organization"
	"github.com/smallbiznis/charla/internal/providers/ai"
	"github.com/smallbiznis/charla/internal/providers/email"
	"github.com/smallbiznis/charla/internal/providers/slack"
	"github.com/smallbiznis/charla/internal/ratelimit"
	"github.com/smallbiznis/charla/internal/server"
	"github.com/smallbiznis/charla/internal/wallet"
	"github.com/smallbiznis/charla/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		// Core infrastructure
		config.Module,
		logger.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		migration.Module,
		ratelimit.Module,

		// Providers
		ai.Module,
		email.Module,
		slack.Module,

		// Functional domains
		organization.Module,
		wallet.Module,
		notification.Module,
		conversation.Module,
		classifier.Module,
		automation.Module,

		server.Module,
	)
	app.Run()
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(1)
	if err != nil {
		panic(err)
	}
	return node
}

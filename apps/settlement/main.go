// Worker-only entrypoint: runs the settlement sweeps against an already
// migrated database.
package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/craftora/payline/internal/audit"
	"github.com/craftora/payline/internal/balance"
	"github.com/craftora/payline/internal/clock"
	"github.com/craftora/payline/internal/config"
	"github.com/craftora/payline/internal/gateway"
	"github.com/craftora/payline/internal/ledger"
	"github.com/craftora/payline/internal/logger"
	"github.com/craftora/payline/internal/payout"
	"github.com/craftora/payline/internal/settlement"
	"github.com/craftora/payline/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		config.Module,
		logger.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,

		// Domain services required by the settler
		audit.Module,
		balance.Module,
		ledger.Module,
		payout.Module,
		gateway.Module,
		settlement.Module,
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

package migration

import (
	auditdomain "github.com/craftora/payline/internal/audit/domain"
	balancedomain "github.com/craftora/payline/internal/balance/domain"
	"github.com/craftora/payline/internal/config"
	ledgerdomain "github.com/craftora/payline/internal/ledger/domain"
	payoutdomain "github.com/craftora/payline/internal/payout/domain"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB, cfg config.Config) error {
		if cfg.DBType != "postgres" {
			// Non-postgres deployments (dev sqlite, tests) build the schema
			// from the models instead.
			return conn.AutoMigrate(
				&balancedomain.SellerBalance{},
				&ledgerdomain.BalanceTransaction{},
				&payoutdomain.PayoutRequest{},
				&payoutdomain.PayoutStatusHistory{},
				&auditdomain.AuditLog{},
			)
		}

		sqlDB, err := conn.DB()
		if err != nil {
			return err
		}
		return RunMigrations(sqlDB)
	}),
)

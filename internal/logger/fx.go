package logger

import (
	"context"

	"github.com/craftora/payline/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// NewFromConfig builds the logger from app config. The service name and
// version ride along on every line so aggregated logs can be split per
// deployment.
func NewFromConfig(appCfg config.Config) (*zap.Logger, error) {
	return New(appCfg.LogLevel,
		zap.String("service", appCfg.AppName),
		zap.String("version", appCfg.AppVersion),
	)
}

func flushOnStop(lc fx.Lifecycle, log *zap.Logger) {
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			_ = log.Sync()
			return nil
		},
	})
}

// Module wires the global zap logger for the application.
var Module = fx.Module("logger",
	fx.Provide(
		NewFromConfig,
	),
	fx.Invoke(flushOnStop),
)

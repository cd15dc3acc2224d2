package gateway

import (
	"fmt"

	"github.com/craftora/payline/internal/config"
	"github.com/craftora/payline/internal/gateway/domain"
	"github.com/craftora/payline/internal/gateway/rest"
	"github.com/craftora/payline/internal/gateway/sandbox"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Params struct {
	fx.In

	Config config.Config
	Log    *zap.Logger
}

// Provide selects the gateway implementation by configuration.
func Provide(p Params) (domain.Gateway, error) {
	switch p.Config.GatewayProvider {
	case "", "sandbox":
		return sandbox.New(p.Log), nil
	case "rest":
		return rest.New(rest.Config{
			BaseURL: p.Config.GatewayBaseURL,
			Secret:  p.Config.GatewaySecret,
			Timeout: p.Config.GatewayTimeout,
		}, p.Log)
	default:
		return nil, fmt.Errorf("unknown gateway provider %q: %w", p.Config.GatewayProvider, domain.ErrInvalidConfig)
	}
}

var Module = fx.Module("gateway",
	fx.Provide(Provide),
)

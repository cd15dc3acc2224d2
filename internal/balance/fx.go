package balance

import (
	"github.com/craftora/payline/internal/balance/repository"
	"github.com/craftora/payline/internal/balance/service"
	"go.uber.org/fx"
)

var Module = fx.Module("balance.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)

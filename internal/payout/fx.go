package payout

import (
	"github.com/craftora/payline/internal/payout/repository"
	"github.com/craftora/payline/internal/payout/service"
	"go.uber.org/fx"
)

var Module = fx.Module("payout.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)

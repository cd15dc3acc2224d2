package ledger

import (
	"github.com/craftora/payline/internal/ledger/repository"
	"github.com/craftora/payline/internal/ledger/service"
	"go.uber.org/fx"
)

var Module = fx.Module("ledger.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)

package audit

import (
	"github.com/craftora/payline/internal/audit/repository"
	"github.com/craftora/payline/internal/audit/service"
	"go.uber.org/fx"
)

var Module = fx.Module("audit.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)

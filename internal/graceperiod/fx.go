package graceperiod

import (
	"github.com/smallbiznis/siteledger/internal/graceperiod/repository"
	"github.com/smallbiznis/siteledger/internal/graceperiod/service"
	"go.uber.org/fx"
)

var Module = fx.Module("graceperiod.service",
	fx.Provide(repository.NewRepository),
	fx.Provide(service.NewService),
)

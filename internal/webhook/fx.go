package webhook

import (
	"github.com/smallbiznis/siteledger/internal/webhook/repository"
	"github.com/smallbiznis/siteledger/internal/webhook/service"
	"go.uber.org/fx"
)

var Module = fx.Module("webhook.service",
	fx.Provide(repository.NewRepository),
	fx.Provide(service.NewRegistry),
	fx.Provide(service.NewService),
)

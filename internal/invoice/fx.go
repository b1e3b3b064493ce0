package invoice

import (
	"github.com/smallbiznis/siteledger/internal/document"
	"github.com/smallbiznis/siteledger/internal/invoice/handler"
	"github.com/smallbiznis/siteledger/internal/invoice/repository"
	"github.com/smallbiznis/siteledger/internal/notification"
	webhookdomain "github.com/smallbiznis/siteledger/internal/webhook/domain"
	"go.uber.org/fx"
)

var Module = fx.Module("invoice.handler",
	fx.Provide(repository.NewRepository),
	fx.Provide(
		func(p *document.Publisher) handler.Publisher { return p },
		func(d *notification.Dispatcher) handler.Dispatcher { return d },
	),
	fx.Provide(handler.New),
	fx.Provide(
		fx.Annotate(
			func(h *handler.Handlers) []webhookdomain.Handler { return h.WebhookHandlers() },
			fx.ResultTags(`group:"webhook_handlers,flatten"`),
		),
	),
)

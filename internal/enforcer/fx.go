package enforcer

import (
	"github.com/robfig/cron/v3"
	"github.com/smallbiznis/siteledger/internal/notification"
	"go.uber.org/fx"
)

// Module provides the enforcer without a trigger; add CronModule to run it
// on a schedule.
var Module = fx.Module("enforcer",
	fx.Provide(
		NewRedisClient,
		NewLocker,
		func(d *notification.Dispatcher) Dispatcher { return d },
		New,
	),
)

var CronModule = fx.Module("enforcer.cron",
	fx.Provide(NewCron),
	fx.Invoke(func(*cron.Cron) {}),
)

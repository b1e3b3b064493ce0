package enforcer

import (
	"context"
	"errors"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/smallbiznis/siteledger/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// cronLogger routes cron's own messages through zap.
type cronLogger struct {
	log *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Errorw(msg, append(keysAndValues, "error", err)...)
}

type CronParams struct {
	fx.In

	Lifecycle  fx.Lifecycle
	Log        *zap.Logger
	BillingCfg *config.BillingConfigHolder
	Enforcer   *Enforcer
}

// NewCron schedules RunOnce on the configured cron spec. The spec is read at
// startup; a reload takes effect on the next process start.
func NewCron(p CronParams) (*cron.Cron, error) {
	log := p.Log.Named("enforcer.cron")
	cfg := p.BillingCfg.Get().Enforcer
	logger := cronLogger{log: log.Sugar()}
	c := cron.New(
		cron.WithLocation(time.UTC),
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)

	runCtx, cancel := context.WithCancel(context.Background())
	if _, err := c.AddFunc(cfg.Schedule, func() {
		report, err := p.Enforcer.run(runCtx, TriggerCron)
		switch {
		case errors.Is(err, ErrRunInProgress):
		case err != nil:
			log.Warn("enforcer run failed", zap.String("run_id", report.RunID), zap.Error(err))
		default:
			log.Info("enforcer run finished",
				zap.String("run_id", report.RunID),
				zap.Int("outcomes", len(report.Outcomes)),
				zap.Int("failed", len(report.Failed())),
			)
		}
	}); err != nil {
		cancel()
		return nil, err
	}

	p.Lifecycle.Append(fx.Hook{
		OnStart: func(context.Context) error {
			if !p.BillingCfg.Get().Enforcer.Enabled {
				log.Info("enforcer cron disabled")
				return nil
			}
			c.Start()
			log.Info("enforcer cron started", zap.String("schedule", cfg.Schedule))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			cancel()
			select {
			case <-c.Stop().Done():
			case <-ctx.Done():
			}
			return nil
		},
	})
	return c, nil
}

// Package enforcer applies due plan changes and runs seat-overage grace
// periods. Every step is a conditional write, so overlapping or repeated runs
// converge on the same state.
package enforcer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/oklog/ulid/v2"
	"github.com/smallbiznis/siteledger/internal/clock"
	"github.com/smallbiznis/siteledger/internal/config"
	contractdomain "github.com/smallbiznis/siteledger/internal/contract/domain"
	gracedomain "github.com/smallbiznis/siteledger/internal/graceperiod/domain"
	"github.com/smallbiznis/siteledger/internal/integrity"
	"github.com/smallbiznis/siteledger/internal/notification"
	obscontext "github.com/smallbiznis/siteledger/internal/observability/context"
	obsmetrics "github.com/smallbiznis/siteledger/internal/observability/metrics"
	orgdomain "github.com/smallbiznis/siteledger/internal/organization/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	JobApplyPlanChanges    = "apply_plan_changes"
	JobPreEffectiveNotices = "pre_effective_notices"
	JobGracePeriods        = "grace_periods"

	TriggerCron   = "cron"
	TriggerManual = "manual"

	runLockKey = "siteledger:enforcer:run"
)

var (
	ErrRunInProgress            = errors.New("enforcer_run_in_progress")
	ErrMultipleOpenGracePeriods = errors.New("multiple_open_grace_periods")
	ErrOrganizationMissing      = errors.New("organization_missing")
)

// Dispatcher is the notification entry point used by the jobs.
type Dispatcher interface {
	Deliver(ctx context.Context, delivery notification.Delivery) notification.Result
}

type Params struct {
	fx.In

	DB           *gorm.DB
	Log          *zap.Logger
	Clock        clock.Clock
	GenID        *snowflake.Node
	BillingCfg   *config.BillingConfigHolder
	Contracts    contractdomain.Repository
	Orgs         orgdomain.Repository
	GracePeriods gracedomain.Repository
	Integrity    integrity.Recorder
	Dispatcher   Dispatcher
	Locker       *Locker                     `optional:"true"`
	Metrics      *obsmetrics.EnforcerMetrics `optional:"true"`
}

type Enforcer struct {
	db           *gorm.DB
	log          *zap.Logger
	clock        clock.Clock
	genID        *snowflake.Node
	billingCfg   *config.BillingConfigHolder
	contracts    contractdomain.Repository
	orgs         orgdomain.Repository
	gracePeriods gracedomain.Repository
	integrity    integrity.Recorder
	dispatcher   Dispatcher
	locker       *Locker
	metrics      *obsmetrics.EnforcerMetrics
}

func New(p Params) *Enforcer {
	return &Enforcer{
		db:           p.DB,
		log:          p.Log.Named("enforcer"),
		clock:        p.Clock,
		genID:        p.GenID,
		billingCfg:   p.BillingCfg,
		contracts:    p.Contracts,
		orgs:         p.Orgs,
		gracePeriods: p.GracePeriods,
		integrity:    p.Integrity,
		dispatcher:   p.Dispatcher,
		locker:       p.Locker,
		metrics:      p.Metrics,
	}
}

// RunOnce executes every job once. Per-item failures are reported in the
// returned Report; the error only carries job-level failures.
func (e *Enforcer) RunOnce(ctx context.Context) (Report, error) {
	return e.run(ctx, TriggerManual)
}

func (e *Enforcer) run(parent context.Context, trigger string) (Report, error) {
	report := Report{
		RunID:     ulid.Make().String(),
		StartedAt: e.clock.Now().UTC(),
		Trigger:   trigger,
	}
	ctx := obscontext.WithActor(parent, "system")

	var lease string
	ttl := e.billingCfg.Get().Enforcer.LockTTL
	if e.locker != nil {
		token, ok, err := e.locker.TryLock(ctx, runLockKey, ttl)
		switch {
		case err != nil:
			// the lock only avoids duplicate work, runs stay safe without it
			e.log.Warn("enforcer lock unavailable, running unlocked", zap.String("run_id", report.RunID), zap.Error(err))
		case !ok:
			e.log.Info("enforcer run skipped, another run holds the lock", zap.String("run_id", report.RunID))
			e.metrics.IncRun(trigger, "locked")
			return report, ErrRunInProgress
		default:
			lease = token
			defer func() {
				if err := e.locker.Release(context.WithoutCancel(ctx), runLockKey, token); err != nil {
					e.log.Warn("enforcer lock release failed", zap.Error(err))
				}
			}()
		}
	}

	today := clock.TruncateDay(report.StartedAt)
	jobs := []struct {
		name string
		fn   func(context.Context, time.Time, *jobRun, *Report) error
	}{
		{JobApplyPlanChanges, e.applyPlanChanges},
		{JobPreEffectiveNotices, e.sendPreEffectiveNotices},
		{JobGracePeriods, e.enforceGracePeriods},
	}

	var err error
	for _, job := range jobs {
		err = errors.Join(err, e.runJob(ctx, report.RunID, job.name, func(ctx context.Context, run *jobRun) error {
			return job.fn(ctx, today, run, &report)
		}))
		e.extendLease(ctx, lease, ttl)
	}

	result := "ok"
	if err != nil || len(report.Failed()) > 0 {
		result = "failed"
	}
	e.metrics.IncRun(trigger, result)
	return report, err
}

func (e *Enforcer) runJob(parent context.Context, runID, name string, fn func(context.Context, *jobRun) error) error {
	cfg := e.billingCfg.Get().Enforcer
	timeout := cfg.JobTimeout
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	start := time.Now()
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	run := &jobRun{job: name, runID: runID, batchSize: e.batchSize(), startedAt: start}
	e.logJobStart(ctx, run)
	e.metrics.IncJobRun(name)

	err := fn(ctx, run)
	e.metrics.ObserveJobDuration(name, time.Since(start))
	if err != nil && run.errorCount == 0 {
		run.IncError()
	}
	e.logJobFinish(ctx, run)
	if err == nil {
		return nil
	}

	e.metrics.IncJobError(name, err)
	if errors.Is(err, context.DeadlineExceeded) {
		e.metrics.IncJobTimeout(name)
		e.logger(ctx).Warn("enforcer job timed out",
			zap.String("job", name),
			zap.String("run_id", runID),
			zap.Duration("timeout", timeout),
		)
		return nil
	}
	return fmt.Errorf("%s: %w", name, err)
}

// extendLease keeps the run lock alive between jobs. Losing it is only
// logged since every job is safe to repeat.
func (e *Enforcer) extendLease(ctx context.Context, token string, ttl time.Duration) {
	if e.locker == nil || token == "" {
		return
	}
	held, err := e.locker.Extend(ctx, runLockKey, token, ttl)
	switch {
	case err != nil:
		e.log.Warn("enforcer lock extend failed", zap.Error(err))
	case !held:
		e.log.Warn("enforcer lock lost during run", zap.String("key", runLockKey))
	}
}

func (e *Enforcer) batchSize() int {
	size := e.billingCfg.Get().Enforcer.BatchSize
	if size <= 0 {
		return 100
	}
	return size
}

// record appends the outcome and feeds the job counters.
func (e *Enforcer) record(ctx context.Context, run *jobRun, report *Report, outcome Outcome) {
	outcome.Job = run.job
	if outcome.Err != nil {
		outcome.Error = outcome.Err.Error()
	}
	report.Outcomes = append(report.Outcomes, outcome)
	e.metrics.IncOutcome(run.job, string(outcome.Status))
	run.AddProcessed(1)
	if outcome.Status == StatusFailed {
		e.logItemError(ctx, run, outcome)
	}
}

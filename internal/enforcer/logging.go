package enforcer

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	obscontext "github.com/smallbiznis/siteledger/internal/observability/context"
	obslogger "github.com/smallbiznis/siteledger/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/siteledger/internal/observability/metrics"
	"go.uber.org/zap"
)

type jobRun struct {
	job            string
	runID          string
	batchSize      int
	startedAt      time.Time
	processedCount int
	errorCount     int
}

func (r *jobRun) AddProcessed(count int) {
	if r == nil || count <= 0 {
		return
	}
	r.processedCount += count
}

func (r *jobRun) IncError() {
	if r == nil {
		return
	}
	r.errorCount++
}

func (e *Enforcer) logger(ctx context.Context) *zap.Logger {
	return obslogger.WithContext(ctx, e.log)
}

func (e *Enforcer) logJobStart(ctx context.Context, run *jobRun) {
	e.logger(ctx).Info("enforcer.job.start",
		zap.String("job", run.job),
		zap.String("run_id", run.runID),
		zap.Int("batch_size", run.batchSize),
	)
}

func (e *Enforcer) logJobFinish(ctx context.Context, run *jobRun) {
	fields := []zap.Field{
		zap.String("job", run.job),
		zap.String("run_id", run.runID),
		zap.Int64("duration_ms", time.Since(run.startedAt).Milliseconds()),
		zap.Int("processed_count", run.processedCount),
		zap.Int("error_count", run.errorCount),
	}
	log := e.logger(ctx)
	if run.errorCount > 0 {
		log.Warn("enforcer.job.finish", fields...)
		return
	}
	log.Info("enforcer.job.finish", fields...)
}

func (e *Enforcer) logItemError(ctx context.Context, run *jobRun, outcome Outcome) {
	run.IncError()
	if outcome.OrgID != 0 {
		ctx = obscontext.WithOrgID(ctx, outcome.OrgID.String())
	}
	fields := []zap.Field{
		zap.String("job", run.job),
		zap.String("run_id", run.runID),
		zap.String("contract_id", idString(outcome.ContractID)),
		zap.String("org_id", idString(outcome.OrgID)),
	}
	if outcome.GracePeriodID != 0 {
		fields = append(fields, zap.String("grace_period_id", outcome.GracePeriodID.String()))
	}
	if outcome.Err != nil {
		fields = append(fields,
			zap.String("error_type", obsmetrics.ClassifyJobReason(outcome.Err)),
			zap.Error(outcome.Err),
		)
	}
	e.logger(ctx).Error("enforcer.item.failed", fields...)
}

func idString(id snowflake.ID) string {
	if id == 0 {
		return ""
	}
	return id.String()
}

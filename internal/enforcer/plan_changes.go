package enforcer

import (
	"context"
	"fmt"
	"time"

	"github.com/smallbiznis/siteledger/internal/clock"
	contractdomain "github.com/smallbiznis/siteledger/internal/contract/domain"
	gracedomain "github.com/smallbiznis/siteledger/internal/graceperiod/domain"
	"github.com/smallbiznis/siteledger/internal/notification"
	"github.com/smallbiznis/siteledger/pkg/db/pagination"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const dateLayout = "2006-01-02"

func (e *Enforcer) applyPlanChanges(ctx context.Context, today time.Time, run *jobRun, report *Report) error {
	fetch := func(ctx context.Context, after pagination.Keyset, limit int) ([]contractdomain.Contract, error) {
		return e.contracts.ListDuePlanChanges(ctx, today, after, limit)
	}
	return pagination.Walk(ctx, run.batchSize, planChangeKey, fetch, func(contract contractdomain.Contract) {
		e.record(ctx, run, report, e.applyPlanChange(ctx, contract, today))
	})
}

func planChangeKey(contract contractdomain.Contract) pagination.Keyset {
	key := pagination.Keyset{ID: contract.ID}
	if contract.PlanChangeEffectiveDate != nil {
		key.At = *contract.PlanChangeEffectiveDate
	}
	return key
}

// applyPlanChange promotes the pending change onto the live contract and opens
// a grace period when the organization is left over its new seat limit. The
// contract update is a compare-and-set on the request timestamp, so a second
// run finds nothing to apply.
func (e *Enforcer) applyPlanChange(ctx context.Context, contract contractdomain.Contract, today time.Time) Outcome {
	outcome := Outcome{ContractID: contract.ID, OrgID: contract.OrgID, Status: StatusSkipped}
	if !contract.PendingPlanChange.Valid {
		return outcome
	}
	change := contract.PendingPlanChange.Change
	graceDays := e.billingCfg.Get().GracePeriodDays
	now := e.clock.Now().UTC()

	var opened, merged *gracedomain.GracePeriod
	err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		applied, err := e.contracts.WithTx(tx).ApplyPendingPlanChange(ctx, contract, today, now)
		if err != nil {
			return fmt.Errorf("apply pending change: %w", err)
		}
		if !applied {
			return nil
		}
		outcome.Status = StatusApplied

		if err := e.contracts.WithTx(tx).ReplacePackages(ctx, contract.ID, change.PackageIDs(), now); err != nil {
			return fmt.Errorf("replace packages: %w", err)
		}
		orgs := e.orgs.WithTx(tx)
		if _, err := orgs.MirrorSeatLimit(ctx, contract.OrgID, change.NewSeatLimit, now); err != nil {
			return fmt.Errorf("mirror seat limit: %w", err)
		}
		active, err := orgs.CountActiveUsers(ctx, contract.OrgID)
		if err != nil {
			return fmt.Errorf("count active users: %w", err)
		}
		if active <= change.NewSeatLimit {
			return nil
		}

		effective := clock.TruncateDay(change.EffectiveDate)
		deadline := effective.AddDate(0, 0, graceDays)
		periods := e.gracePeriods.WithTx(tx)
		existing, err := periods.FindOpenByOrg(ctx, contract.OrgID)
		if err != nil {
			return fmt.Errorf("find open grace period: %w", err)
		}
		if existing != nil {
			merged = mergeEpisode(*existing, change.NewSeatLimit, deadline)
			if _, err := periods.MergeEpisode(ctx, merged.ID, merged.Status, merged.SeatLimit, merged.Deadline, now); err != nil {
				return fmt.Errorf("merge grace period: %w", err)
			}
			return nil
		}

		period := gracedomain.GracePeriod{
			ID:            e.genID.Generate(),
			OrgID:         contract.OrgID,
			ContractID:    contract.ID,
			EffectiveDate: effective,
			Deadline:      deadline,
			SeatLimit:     change.NewSeatLimit,
			Status:        gracedomain.StatusPending,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		created, err := periods.CreateIfAbsent(ctx, period)
		if err != nil {
			return fmt.Errorf("open grace period: %w", err)
		}
		if created {
			opened = &period
		}
		return nil
	})
	if err != nil {
		return Outcome{ContractID: contract.ID, OrgID: contract.OrgID, Status: StatusFailed, Err: err}
	}

	if outcome.Status == StatusApplied {
		e.logger(ctx).Info("plan change applied",
			zap.String("contract_id", contract.ID.String()),
			zap.String("org_id", contract.OrgID.String()),
			zap.String("plan_id", change.NewPlanID),
			zap.Int("seat_limit", change.NewSeatLimit),
			zap.String("effective_date", change.EffectiveDate.Format(dateLayout)),
		)
	}
	if opened != nil {
		outcome.GracePeriodID = opened.ID
		e.metrics.IncGracePeriodOpened()
		e.logger(ctx).Info("grace period opened",
			zap.String("grace_period_id", opened.ID.String()),
			zap.String("org_id", opened.OrgID.String()),
			zap.String("deadline", opened.Deadline.Format(dateLayout)),
		)
	}
	if merged != nil {
		outcome.GracePeriodID = merged.ID
		e.logger(ctx).Info("grace period already open",
			zap.String("grace_period_id", merged.ID.String()),
			zap.String("org_id", merged.OrgID.String()),
			zap.String("status", string(merged.Status)),
			zap.Int("seat_limit", merged.SeatLimit),
			zap.String("deadline", merged.Deadline.Format(dateLayout)),
		)
	}
	return outcome
}

// mergeEpisode folds a newer downgrade into the organization's open period.
// The lower seat limit wins. A pending period also takes the later deadline
// and an expired one keeps its own.
func mergeEpisode(open gracedomain.GracePeriod, seatLimit int, deadline time.Time) *gracedomain.GracePeriod {
	if seatLimit < open.SeatLimit {
		open.SeatLimit = seatLimit
	}
	if open.Status == gracedomain.StatusPending && deadline.After(open.Deadline) {
		open.Deadline = deadline
	}
	return &open
}

func (e *Enforcer) sendPreEffectiveNotices(ctx context.Context, today time.Time, run *jobRun, report *Report) error {
	fetch := func(ctx context.Context, after pagination.Keyset, limit int) ([]contractdomain.Contract, error) {
		return e.contracts.ListUpcomingOverages(ctx, today, after, limit)
	}
	return pagination.Walk(ctx, run.batchSize, planChangeKey, fetch, func(contract contractdomain.Contract) {
		if !contract.PendingPlanChange.Valid || contract.PendingPlanChange.Change.Overage == nil {
			return
		}
		e.record(ctx, run, report, e.sendPreEffectiveNotice(ctx, contract, today))
	})
}

// sendPreEffectiveNotice warns the admin once when an overage is scheduled and
// again on the final-warning day. The user count is taken fresh so an
// organization that already fixed its overage hears nothing more.
func (e *Enforcer) sendPreEffectiveNotice(ctx context.Context, contract contractdomain.Contract, today time.Time) Outcome {
	outcome := Outcome{ContractID: contract.ID, OrgID: contract.OrgID, Status: StatusSkipped}
	change := contract.PendingPlanChange.Change
	fail := func(err error) Outcome {
		outcome.Status, outcome.Err = StatusFailed, err
		return outcome
	}

	org, err := e.orgs.FindByID(ctx, contract.OrgID)
	if err != nil {
		return fail(err)
	}
	if org == nil {
		return fail(ErrOrganizationMissing)
	}
	active, err := e.orgs.CountActiveUsers(ctx, contract.OrgID)
	if err != nil {
		return fail(err)
	}
	if active <= change.NewSeatLimit {
		return outcome
	}

	effective := clock.TruncateDay(change.EffectiveDate)
	requested := change.RequestedAt.UTC().Format(time.RFC3339Nano)
	fields := notification.Fields{
		"org_name":       org.Name,
		"effective_date": effective.Format(dateLayout),
		"new_limit":      change.NewSeatLimit,
		"current_count":  active,
		"excess_count":   active - change.NewSeatLimit,
	}

	sent := e.notify(ctx, notification.Delivery{
		DedupeKey: fmt.Sprintf("overage_initial:%s:%s", contract.ID, requested),
		OrgID:     org.ID,
		Message:   notification.Message{To: org.AdminEmail, Template: notification.TemplateOverageInitial, Fields: fields},
	})

	lead := e.billingCfg.Get().FinalWarningLeadDays
	if lead > 0 && today.Equal(effective.AddDate(0, 0, -lead)) {
		final := notification.Fields{"days_until": lead}
		for k, v := range fields {
			final[k] = v
		}
		sent = e.notify(ctx, notification.Delivery{
			DedupeKey: fmt.Sprintf("overage_final:%s:%s", contract.ID, requested),
			OrgID:     org.ID,
			Message:   notification.Message{To: org.AdminEmail, Template: notification.TemplateOverageFinal, Fields: final},
		}) || sent
	}
	if sent {
		outcome.Status = StatusWarned
	}
	return outcome
}

// notify reports whether the message went out now. Failed sends are logged by
// the dispatcher and never fail the job.
func (e *Enforcer) notify(ctx context.Context, delivery notification.Delivery) bool {
	return e.dispatcher.Deliver(ctx, delivery) == notification.ResultSent
}

package enforcer

import (
	"context"
	"fmt"
	"time"

	gracedomain "github.com/smallbiznis/siteledger/internal/graceperiod/domain"
	"github.com/smallbiznis/siteledger/internal/integrity"
	"github.com/smallbiznis/siteledger/internal/notification"
	orgdomain "github.com/smallbiznis/siteledger/internal/organization/domain"
	"github.com/smallbiznis/siteledger/pkg/db/pagination"
	"go.uber.org/zap"
)

func (e *Enforcer) enforceGracePeriods(ctx context.Context, today time.Time, run *jobRun, report *Report) error {
	statuses := []gracedomain.Status{gracedomain.StatusPending, gracedomain.StatusExpired}
	fetch := func(ctx context.Context, after pagination.Keyset, limit int) ([]gracedomain.GracePeriod, error) {
		return e.gracePeriods.ListByStatus(ctx, statuses, after, limit)
	}
	key := func(period gracedomain.GracePeriod) pagination.Keyset {
		return pagination.Keyset{At: period.EffectiveDate, ID: period.ID}
	}
	return pagination.Walk(ctx, run.batchSize, key, fetch, func(period gracedomain.GracePeriod) {
		e.record(ctx, run, report, e.enforceGracePeriod(ctx, period, today))
	})
}

func (e *Enforcer) enforceGracePeriod(ctx context.Context, period gracedomain.GracePeriod, today time.Time) Outcome {
	outcome := Outcome{ContractID: period.ContractID, OrgID: period.OrgID, GracePeriodID: period.ID, Status: StatusSkipped}
	fail := func(err error) Outcome {
		outcome.Status, outcome.Err = StatusFailed, err
		return outcome
	}

	open, err := e.gracePeriods.CountOpen(ctx, period.OrgID)
	if err != nil {
		return fail(err)
	}
	if open > 1 {
		if err := e.integrity.Record(ctx, integrity.Alert{
			Kind:        integrity.KindMultiplePendingGracePeriods,
			SubjectType: "organization",
			SubjectID:   period.OrgID.String(),
			Details:     map[string]any{"open_count": open, "grace_period_id": period.ID.String()},
		}); err != nil {
			return fail(err)
		}
		outcome.Err = ErrMultipleOpenGracePeriods
		outcome.Error = ErrMultipleOpenGracePeriods.Error()
		return outcome
	}

	org, err := e.orgs.FindByID(ctx, period.OrgID)
	if err != nil {
		return fail(err)
	}
	if org == nil {
		return fail(ErrOrganizationMissing)
	}
	active, err := e.orgs.CountActiveUsers(ctx, period.OrgID)
	if err != nil {
		return fail(err)
	}
	excess := active - period.SeatLimit
	now := e.clock.Now().UTC()

	if excess <= 0 {
		resolution := gracedomain.ResolutionCompliant
		if period.Status == gracedomain.StatusExpired {
			resolution = gracedomain.ResolutionDeactivated
		}
		ok, err := e.gracePeriods.Transition(ctx, period.ID, period.Status, gracedomain.StatusResolved, resolution, nil, now)
		if err != nil {
			return fail(err)
		}
		if ok {
			outcome.Status = StatusResolved
		}
		return outcome
	}

	if period.Status == gracedomain.StatusPending && !period.Expired(today) {
		remaining := period.RemainingDays(today)
		sent := e.notify(ctx, notification.Delivery{
			DedupeKey: fmt.Sprintf("grace_daily:%s:%s", period.ID, today.Format(dateLayout)),
			OrgID:     org.ID,
			Message: notification.Message{
				To:       org.AdminEmail,
				Template: notification.TemplateGraceDaily,
				Fields: notification.Fields{
					"org_name":       org.Name,
					"excess_count":   excess,
					"seat_limit":     period.SeatLimit,
					"remaining_days": remaining,
					"deadline":       period.Deadline.Format(dateLayout),
				},
			},
		})
		if sent {
			outcome.Status = StatusWarned
		}
		return outcome
	}

	resumed := period.Status == gracedomain.StatusExpired
	if period.Status == gracedomain.StatusPending {
		ok, err := e.gracePeriods.Transition(ctx, period.ID, gracedomain.StatusPending, gracedomain.StatusExpired, "", nil, now)
		if err != nil {
			return fail(err)
		}
		if !ok {
			// exempted or handled by a concurrent run
			return outcome
		}
		period.Status = gracedomain.StatusExpired
	}

	deactivated, err := e.deactivateExcess(ctx, period, excess, now)
	if len(deactivated) > 0 {
		outcome.Deactivated = len(deactivated)
		e.metrics.AddDeactivatedUsers(len(deactivated))
		e.announceDeactivation(ctx, *org, period, deactivated, resumed)
	}
	if err != nil {
		// the period stays expired and the next run resumes it
		return fail(err)
	}

	ok, err := e.gracePeriods.Transition(ctx, period.ID, gracedomain.StatusExpired, gracedomain.StatusResolved, gracedomain.ResolutionDeactivated, nil, now)
	if err != nil {
		return fail(err)
	}
	if ok {
		outcome.Status = StatusDeactivated
	}
	return outcome
}

// deactivateExcess removes the newest active users first. Each update only
// hits users that are still active, so the set never grows past excess even
// when runs overlap.
func (e *Enforcer) deactivateExcess(ctx context.Context, period gracedomain.GracePeriod, excess int, now time.Time) ([]orgdomain.User, error) {
	users, err := e.orgs.ListActiveNewestFirst(ctx, period.OrgID, excess)
	if err != nil {
		return nil, err
	}
	deactivated := make([]orgdomain.User, 0, len(users))
	for _, user := range users {
		ok, err := e.orgs.DeactivateUser(ctx, user.ID, now)
		if err != nil {
			return deactivated, fmt.Errorf("deactivate user %s: %w", user.ID, err)
		}
		if !ok {
			continue
		}
		deactivated = append(deactivated, user)
		e.logger(ctx).Info("user deactivated",
			zap.String("user_id", user.ID.String()),
			zap.String("org_id", period.OrgID.String()),
			zap.String("grace_period_id", period.ID.String()),
		)
	}
	return deactivated, nil
}

// announceDeactivation sends one summary for the first pass over an expired
// period and at most one more for the pass that resumes it after a failure.
func (e *Enforcer) announceDeactivation(ctx context.Context, org orgdomain.Organization, period gracedomain.GracePeriod, users []orgdomain.User, resumed bool) {
	names := make([]string, 0, len(users))
	for _, user := range users {
		name := user.DisplayName
		if name == "" {
			name = user.Email
		}
		names = append(names, name)
		e.notify(ctx, notification.Delivery{
			DedupeKey: fmt.Sprintf("user_deactivated:%s:%s", period.ID, user.ID),
			OrgID:     org.ID,
			Message: notification.Message{
				To:       user.Email,
				Template: notification.TemplateUserDeactivated,
				Fields:   notification.Fields{"display_name": name, "org_name": org.Name},
			},
		})
	}
	summaryKey := fmt.Sprintf("deactivation_summary:%s", period.ID)
	if resumed {
		summaryKey += ":resumed"
	}
	e.notify(ctx, notification.Delivery{
		DedupeKey: summaryKey,
		OrgID:     org.ID,
		Message: notification.Message{
			To:       org.AdminEmail,
			Template: notification.TemplateDeactivationSummary,
			Fields: notification.Fields{
				"org_name":    org.Name,
				"deadline":    period.Deadline.Format(dateLayout),
				"count":       len(users),
				"seat_limit":  period.SeatLimit,
				"deactivated": names,
			},
		},
	})
}

package notification

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/siteledger/internal/clock"
	"github.com/smallbiznis/siteledger/internal/config"
	"github.com/smallbiznis/siteledger/internal/observability/metrics"
	"github.com/sony/gobreaker/v2"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Result string

const (
	ResultSent      Result = "sent"
	ResultDuplicate Result = "duplicate"
	ResultFailed    Result = "failed"
)

// Delivery is one message with the key that makes it at-most-once.
type Delivery struct {
	DedupeKey string
	OrgID     snowflake.ID
	Message   Message
}

type DispatcherParams struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	Clock      clock.Clock
	GenID      *snowflake.Node
	BillingCfg *config.BillingConfigHolder
	Notifier   Notifier
	Metrics    *metrics.Metrics `optional:"true"`
}

// Dispatcher sends deduplicated notifications with a timeout and a circuit
// breaker around the transport.
type Dispatcher struct {
	store      *deliveryStore
	log        *zap.Logger
	clock      clock.Clock
	genID      *snowflake.Node
	billingCfg *config.BillingConfigHolder
	notifier   Notifier
	breaker    *gobreaker.CircuitBreaker[any]
	metrics    *metrics.Metrics
}

func NewDispatcher(p DispatcherParams) *Dispatcher {
	log := p.Log.Named("notification.dispatcher")
	policy := p.BillingCfg.Get().Notification
	settings := gobreaker.Settings{
		Name:        "notification",
		MaxRequests: 1,
		Timeout:     policy.BreakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= policy.BreakerFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	}
	return &Dispatcher{
		store:      &deliveryStore{db: p.DB},
		log:        log,
		clock:      p.Clock,
		genID:      p.GenID,
		billingCfg: p.BillingCfg,
		notifier:   p.Notifier,
		breaker:    gobreaker.NewCircuitBreaker[any](settings),
		metrics:    p.Metrics,
	}
}

// Deliver records the dedupe key and then sends. A key that was already
// recorded is never sent again, even if the earlier attempt failed.
func (d *Dispatcher) Deliver(ctx context.Context, delivery Delivery) Result {
	msg := delivery.Message
	log := d.log.With(
		zap.String("dedupe_key", delivery.DedupeKey),
		zap.String("template", msg.Template),
		zap.String("org_id", delivery.OrgID.String()),
	)
	if err := msg.Validate(); err != nil {
		log.Warn("notification rejected", zap.Error(err))
		d.metrics.RecordNotification(ctx, msg.Template, string(ResultFailed))
		return ResultFailed
	}

	now := d.clock.Now().UTC()
	rec := DeliveryRecord{
		ID:        d.genID.Generate(),
		DedupeKey: delivery.DedupeKey,
		Template:  msg.Template,
		Recipient: msg.To,
		Fields:    encodeFields(msg.Fields),
		Status:    DeliveryPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if delivery.OrgID != 0 {
		orgID := delivery.OrgID
		rec.OrgID = &orgID
	}
	claimed, err := d.store.claim(ctx, rec)
	if err != nil {
		log.Error("notification dedupe insert failed", zap.Error(err))
		d.metrics.RecordNotification(ctx, msg.Template, string(ResultFailed))
		return ResultFailed
	}
	if !claimed {
		log.Debug("notification already sent")
		return ResultDuplicate
	}

	sendErr := d.send(ctx, msg)
	status, result := DeliverySent, ResultSent
	var errMsg *string
	if sendErr != nil {
		status, result = DeliveryFailed, ResultFailed
		text := sendErr.Error()
		errMsg = &text
		log.Warn("notification send failed", zap.Error(sendErr))
	}
	if err := d.store.finish(context.WithoutCancel(ctx), rec.ID, status, errMsg, d.clock.Now().UTC()); err != nil {
		log.Error("notification status update failed", zap.Error(err))
	}
	d.metrics.RecordNotification(ctx, msg.Template, string(result))
	return result
}

func (d *Dispatcher) send(ctx context.Context, msg Message) error {
	timeout := d.billingCfg.Get().Enforcer.NotifyTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	sendCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	_, err := d.breaker.Execute(func() (any, error) {
		errCh := make(chan error, 1)
		go func() { errCh <- d.notifier.Send(sendCtx, msg) }()
		select {
		case err := <-errCh:
			return nil, err
		case <-sendCtx.Done():
			return nil, sendCtx.Err()
		}
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return errors.Join(ErrSendFailed, err)
	}
	return err
}

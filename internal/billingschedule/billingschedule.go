// Package billingschedule mirrors the gateway subscription that bills a
// contract: its next billing date and whether it is still active.
package billingschedule

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/siteledger/internal/clock"
	webhookdomain "github.com/smallbiznis/siteledger/internal/webhook/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var ErrInvalidSubscription = errors.New("invalid_subscription")

type Schedule struct {
	ID                    snowflake.ID `gorm:"primaryKey" json:"id"`
	ContractID            snowflake.ID `gorm:"not null;uniqueIndex" json:"contract_id"`
	GatewaySubscriptionID *string      `json:"gateway_subscription_id,omitempty"`
	NextBillingDate       *time.Time   `json:"next_billing_date,omitempty"`
	Active                bool         `gorm:"not null" json:"active"`
	CanceledAt            *time.Time   `json:"canceled_at,omitempty"`

	// CanceledSubscriptionID is the deleted subscription that ended the
	// schedule. Late updates for it are ignored.
	CanceledSubscriptionID *string `json:"canceled_subscription_id,omitempty"`

	CreatedAt time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null" json:"updated_at"`
}

// TableName sets the database table name.
func (Schedule) TableName() string { return "billing_schedules" }

// Cancellation ends the schedule of a deleted gateway subscription.
type Cancellation struct {
	// ID is used for the tombstone row when the deletion arrives before any
	// update for the contract.
	ID             snowflake.ID
	ContractID     *snowflake.ID
	SubscriptionID string
	At             time.Time
}

type Repository interface {
	// Upsert keeps the newest next billing date; an older period end never
	// replaces a newer one. A canceled schedule only comes back for a
	// different subscription.
	Upsert(ctx context.Context, s Schedule) (bool, error)
	Cancel(ctx context.Context, c Cancellation) (bool, error)
	FindByContract(ctx context.Context, contractID snowflake.ID) (*Schedule, error)
}

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) Upsert(ctx context.Context, s Schedule) (bool, error) {
	res := r.db.WithContext(ctx).Exec(
		`INSERT INTO billing_schedules (id, contract_id, gateway_subscription_id, next_billing_date, active, canceled_at, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, NULL, ?, ?)
		 ON CONFLICT (contract_id) DO UPDATE
		 SET gateway_subscription_id = excluded.gateway_subscription_id,
			next_billing_date = excluded.next_billing_date,
			active = excluded.active,
			canceled_at = NULL,
			canceled_subscription_id = NULL,
			updated_at = excluded.updated_at
		 WHERE (billing_schedules.canceled_at IS NULL
				AND (billing_schedules.next_billing_date IS NULL
					OR billing_schedules.next_billing_date <= excluded.next_billing_date))
			OR (billing_schedules.canceled_at IS NOT NULL
				AND COALESCE(billing_schedules.canceled_subscription_id, '') <> excluded.gateway_subscription_id)`,
		s.ID,
		s.ContractID,
		s.GatewaySubscriptionID,
		s.NextBillingDate,
		s.Active,
		s.CreatedAt,
		s.UpdatedAt,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// Cancel deactivates the schedule that bills c.SubscriptionID. When nothing
// is stored for the contract yet it leaves a canceled row behind, so an
// update delivered after the deletion cannot activate it.
func (r *repository) Cancel(ctx context.Context, c Cancellation) (bool, error) {
	var changed bool
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Exec(
			`UPDATE billing_schedules
			 SET gateway_subscription_id = NULL, active = ?, canceled_at = COALESCE(canceled_at, ?),
				canceled_subscription_id = ?, updated_at = ?
			 WHERE (contract_id = ? OR gateway_subscription_id = ?)
				AND COALESCE(gateway_subscription_id, ?) = ?
				AND active = ?`,
			false,
			c.At,
			c.SubscriptionID,
			c.At,
			c.ContractID,
			c.SubscriptionID,
			c.SubscriptionID,
			c.SubscriptionID,
			true,
		)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected > 0 || c.ContractID == nil {
			changed = res.RowsAffected > 0
			return nil
		}

		var contracts int64
		if err := tx.Raw(`SELECT COUNT(*) FROM contracts WHERE id = ?`, *c.ContractID).Scan(&contracts).Error; err != nil {
			return err
		}
		if contracts == 0 {
			return nil
		}
		res = tx.Exec(
			`INSERT INTO billing_schedules (id, contract_id, active, canceled_at, canceled_subscription_id, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT (contract_id) DO NOTHING`,
			c.ID,
			*c.ContractID,
			false,
			c.At,
			c.SubscriptionID,
			c.At,
			c.At,
		)
		if res.Error != nil {
			return res.Error
		}
		changed = res.RowsAffected > 0
		return nil
	})
	if err != nil {
		return false, err
	}
	return changed, nil
}

func (r *repository) FindByContract(ctx context.Context, contractID snowflake.ID) (*Schedule, error) {
	var item Schedule
	err := r.db.WithContext(ctx).Raw(
		`SELECT id, contract_id, gateway_subscription_id, next_billing_date, active, canceled_at,
			canceled_subscription_id, created_at, updated_at
		 FROM billing_schedules WHERE contract_id = ? LIMIT 1`,
		contractID,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

type Params struct {
	fx.In

	Log   *zap.Logger
	Clock clock.Clock
	GenID *snowflake.Node
	Repo  Repository
}

// Handlers apply subscription.* events.
type Handlers struct {
	log   *zap.Logger
	clock clock.Clock
	genID *snowflake.Node
	repo  Repository
}

func NewHandlers(p Params) *Handlers {
	return &Handlers{
		log:   p.Log.Named("billingschedule.handler"),
		clock: p.Clock,
		genID: p.GenID,
		repo:  p.Repo,
	}
}

type subscriptionObject struct {
	ID               string            `json:"id"`
	Status           string            `json:"status"`
	CurrentPeriodEnd int64             `json:"current_period_end"`
	Metadata         map[string]string `json:"metadata"`
}

func decodeSubscription(event webhookdomain.Event) (subscriptionObject, *snowflake.ID, error) {
	var sub subscriptionObject
	if err := json.Unmarshal(event.Object, &sub); err != nil {
		return sub, nil, fmt.Errorf("%w: %v", ErrInvalidSubscription, err)
	}
	sub.ID = strings.TrimSpace(sub.ID)
	if sub.ID == "" {
		return sub, nil, fmt.Errorf("%w: subscription id is required", ErrInvalidSubscription)
	}
	raw := strings.TrimSpace(sub.Metadata["contract_id"])
	if raw == "" {
		return sub, nil, nil
	}
	id, err := snowflake.ParseString(raw)
	if err != nil || id <= 0 {
		return sub, nil, fmt.Errorf("%w: contract_id=%q", ErrInvalidSubscription, raw)
	}
	return sub, &id, nil
}

func (h *Handlers) SubscriptionUpdated(ctx context.Context, event webhookdomain.Event) error {
	sub, contractID, err := decodeSubscription(event)
	if err != nil {
		return err
	}
	if contractID == nil {
		return fmt.Errorf("%w: contract_id metadata is required", ErrInvalidSubscription)
	}
	if sub.CurrentPeriodEnd <= 0 {
		return fmt.Errorf("%w: current_period_end is required", ErrInvalidSubscription)
	}

	now := h.clock.Now().UTC()
	next := clock.TruncateDay(time.Unix(sub.CurrentPeriodEnd, 0))
	subID := sub.ID
	changed, err := h.repo.Upsert(ctx, Schedule{
		ID:                    h.genID.Generate(),
		ContractID:            *contractID,
		GatewaySubscriptionID: &subID,
		NextBillingDate:       &next,
		Active:                true,
		CreatedAt:             now,
		UpdatedAt:             now,
	})
	if err != nil {
		return err
	}
	h.log.Info("billing schedule updated",
		zap.String("contract_id", contractID.String()),
		zap.Time("next_billing_date", next),
		zap.Bool("changed", changed),
	)
	return nil
}

func (h *Handlers) SubscriptionDeleted(ctx context.Context, event webhookdomain.Event) error {
	sub, contractID, err := decodeSubscription(event)
	if err != nil {
		return err
	}
	changed, err := h.repo.Cancel(ctx, Cancellation{
		ID:             h.genID.Generate(),
		ContractID:     contractID,
		SubscriptionID: sub.ID,
		At:             h.clock.Now().UTC(),
	})
	if err != nil {
		return err
	}
	h.log.Info("billing schedule canceled", zap.String("subscription_id", sub.ID), zap.Bool("changed", changed))
	return nil
}

type eventHandler struct {
	eventType string
	handle    func(ctx context.Context, event webhookdomain.Event) error
}

func (h eventHandler) EventType() string { return h.eventType }

func (h eventHandler) Handle(ctx context.Context, event webhookdomain.Event) error {
	return h.handle(ctx, event)
}

func (h *Handlers) WebhookHandlers() []webhookdomain.Handler {
	return []webhookdomain.Handler{
		eventHandler{eventType: webhookdomain.EventSubscriptionUpdated, handle: h.SubscriptionUpdated},
		eventHandler{eventType: webhookdomain.EventSubscriptionDeleted, handle: h.SubscriptionDeleted},
	}
}

var Module = fx.Module("billingschedule",
	fx.Provide(NewRepository),
	fx.Provide(NewHandlers),
	fx.Provide(
		fx.Annotate(
			func(h *Handlers) []webhookdomain.Handler { return h.WebhookHandlers() },
			fx.ResultTags(`group:"webhook_handlers,flatten"`),
		),
	),
)

package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/siteledger/internal/webhook/domain"
	"gorm.io/gorm"
)

const eventColumns = `id, gateway_event_id, event_type, payload, processed, processed_at,
	error_message, retry_count, claimed_at, received_at`

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) domain.Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) domain.Repository {
	return &repository{db: tx}
}

func (r *repository) Insert(ctx context.Context, e domain.InboundEvent) error {
	return r.db.WithContext(ctx).Exec(
		`INSERT INTO inbound_events (`+eventColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID,
		e.GatewayEventID,
		e.EventType,
		e.Payload,
		e.Processed,
		e.ProcessedAt,
		e.ErrorMessage,
		e.RetryCount,
		e.ClaimedAt,
		e.ReceivedAt,
	).Error
}

func (r *repository) FindByGatewayID(ctx context.Context, gatewayEventID string) (*domain.InboundEvent, error) {
	var item domain.InboundEvent
	err := r.db.WithContext(ctx).Raw(
		`SELECT `+eventColumns+` FROM inbound_events WHERE gateway_event_id = ? LIMIT 1`,
		gatewayEventID,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repository) Claim(ctx context.Context, id snowflake.ID, now, staleBefore time.Time) (bool, error) {
	res := r.db.WithContext(ctx).Exec(
		`UPDATE inbound_events
		 SET claimed_at = ?
		 WHERE id = ? AND processed = ? AND (claimed_at IS NULL OR claimed_at < ?)`,
		now,
		id,
		false,
		staleBefore,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repository) MarkProcessed(ctx context.Context, id snowflake.ID, at time.Time) error {
	return r.db.WithContext(ctx).Exec(
		`UPDATE inbound_events
		 SET processed = ?, processed_at = ?, claimed_at = NULL, error_message = NULL
		 WHERE id = ?`,
		true,
		at,
		id,
	).Error
}

func (r *repository) MarkFailed(ctx context.Context, id snowflake.ID, message string) error {
	return r.db.WithContext(ctx).Exec(
		`UPDATE inbound_events
		 SET error_message = ?, retry_count = retry_count + 1, claimed_at = NULL
		 WHERE id = ? AND processed = ?`,
		message,
		id,
		false,
	).Error
}

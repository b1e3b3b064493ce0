package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	WithTx(tx *gorm.DB) Repository
	// Insert returns a duplicate key error when the gateway event id is known.
	Insert(ctx context.Context, event InboundEvent) error
	FindByGatewayID(ctx context.Context, gatewayEventID string) (*InboundEvent, error)
	// Claim takes over an unprocessed event whose claim is absent or older than staleBefore.
	Claim(ctx context.Context, id snowflake.ID, now, staleBefore time.Time) (bool, error)
	MarkProcessed(ctx context.Context, id snowflake.ID, at time.Time) error
	MarkFailed(ctx context.Context, id snowflake.ID, message string) error
}

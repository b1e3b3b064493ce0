// Package domain holds the inbound payment gateway event model.
package domain

import (
	"context"
	"encoding/json"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

const (
	EventInvoiceCreated          = "invoice.created"
	EventInvoicePaymentSucceeded = "invoice.payment_succeeded"
	EventInvoicePaymentFailed    = "invoice.payment_failed"
	EventSubscriptionUpdated     = "subscription.updated"
	EventSubscriptionDeleted     = "subscription.deleted"
)

// InboundEvent is the dedupe and retry record of one gateway event.
type InboundEvent struct {
	ID             snowflake.ID   `gorm:"primaryKey" json:"id"`
	GatewayEventID string         `gorm:"type:text;not null;uniqueIndex" json:"gateway_event_id"`
	EventType      string         `gorm:"type:text;not null" json:"event_type"`
	Payload        datatypes.JSON `gorm:"type:jsonb;not null" json:"payload"`
	Processed      bool           `gorm:"not null" json:"processed"`
	ProcessedAt    *time.Time     `json:"processed_at,omitempty"`
	ErrorMessage   *string        `json:"error_message,omitempty"`
	RetryCount     int            `gorm:"not null" json:"retry_count"`
	ClaimedAt      *time.Time     `json:"claimed_at,omitempty"`
	ReceivedAt     time.Time      `gorm:"not null" json:"received_at"`
}

// TableName sets the database table name.
func (InboundEvent) TableName() string { return "inbound_events" }

// Event is the parsed gateway envelope handed to handlers.
type Event struct {
	ID      string
	Type    string
	Created time.Time
	Object  json.RawMessage
}

// Handler processes one event type. Handle must be idempotent: a failed
// event is redelivered and handled again.
type Handler interface {
	EventType() string
	Handle(ctx context.Context, event Event) error
}

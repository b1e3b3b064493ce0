package notification

import (
	"context"
	"encoding/json"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type DeliveryStatus string

const (
	DeliveryPending DeliveryStatus = "pending"
	DeliverySent    DeliveryStatus = "sent"
	DeliveryFailed  DeliveryStatus = "failed"
)

// DeliveryRecord is the dedupe row written before a message is sent.
type DeliveryRecord struct {
	ID           snowflake.ID   `gorm:"primaryKey" json:"id"`
	DedupeKey    string         `gorm:"type:text;not null;uniqueIndex" json:"dedupe_key"`
	OrgID        *snowflake.ID  `json:"org_id,omitempty"`
	Template     string         `gorm:"type:text;not null" json:"template"`
	Recipient    string         `gorm:"type:text;not null" json:"recipient"`
	Fields       datatypes.JSON `gorm:"type:jsonb" json:"fields"`
	Status       DeliveryStatus `gorm:"type:text;not null" json:"status"`
	ErrorMessage *string        `json:"error_message,omitempty"`
	CreatedAt    time.Time      `gorm:"not null" json:"created_at"`
	UpdatedAt    time.Time      `gorm:"not null" json:"updated_at"`
}

// TableName sets the database table name.
func (DeliveryRecord) TableName() string { return "notification_deliveries" }

type deliveryStore struct {
	db *gorm.DB
}

// claim inserts the dedupe row and reports false when the key was already used.
func (s *deliveryStore) claim(ctx context.Context, rec DeliveryRecord) (bool, error) {
	res := s.db.WithContext(ctx).Exec(
		`INSERT INTO notification_deliveries (id, dedupe_key, org_id, template, recipient, fields, status, error_message, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, NULL, ?, ?)
		 ON CONFLICT (dedupe_key) DO NOTHING`,
		rec.ID,
		rec.DedupeKey,
		rec.OrgID,
		rec.Template,
		rec.Recipient,
		rec.Fields,
		rec.Status,
		rec.CreatedAt,
		rec.UpdatedAt,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (s *deliveryStore) finish(ctx context.Context, id snowflake.ID, status DeliveryStatus, errMsg *string, at time.Time) error {
	return s.db.WithContext(ctx).Exec(
		`UPDATE notification_deliveries SET status = ?, error_message = ?, updated_at = ? WHERE id = ?`,
		status,
		errMsg,
		at,
		id,
	).Error
}

func encodeFields(fields Fields) datatypes.JSON {
	raw, err := json.Marshal(fields)
	if err != nil {
		return datatypes.JSON("{}")
	}
	return datatypes.JSON(raw)
}

// Package integrity records data inconsistencies for humans to resolve.
// Nothing recorded here is ever corrected automatically.
package integrity

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/siteledger/internal/clock"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Kind string

const (
	KindMultiplePendingGracePeriods Kind = "multiple_pending_grace_periods"
	KindPaymentExceedsTotal         Kind = "payment_exceeds_total"
	KindOrphanPayment               Kind = "orphan_payment"
)

type Alert struct {
	Kind        Kind
	SubjectType string
	SubjectID   string
	Details     map[string]any
	// DedupeKey defaults to kind:subject_type:subject_id.
	DedupeKey string
}

// Record is a stored alert.
type Record struct {
	ID          snowflake.ID   `gorm:"primaryKey" json:"id"`
	Kind        Kind           `gorm:"type:text;not null" json:"kind"`
	SubjectType string         `gorm:"type:text;not null" json:"subject_type"`
	SubjectID   string         `gorm:"type:text;not null" json:"subject_id"`
	Details     datatypes.JSON `gorm:"type:jsonb" json:"details"`
	DedupeKey   string         `gorm:"type:text;not null;uniqueIndex" json:"dedupe_key"`
	CreatedAt   time.Time      `gorm:"not null" json:"created_at"`
}

// TableName sets the database table name.
func (Record) TableName() string { return "integrity_alerts" }

type Recorder interface {
	Record(ctx context.Context, alert Alert) error
}

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
}

type recorder struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock
}

func NewRecorder(p Params) Recorder {
	return &recorder{
		db:    p.DB,
		log:   p.Log.Named("integrity"),
		genID: p.GenID,
		clock: p.Clock,
	}
}

var Module = fx.Module("integrity",
	fx.Provide(NewRecorder),
)

func (r *recorder) Record(ctx context.Context, alert Alert) error {
	key := alert.DedupeKey
	if key == "" {
		key = fmt.Sprintf("%s:%s:%s", alert.Kind, alert.SubjectType, alert.SubjectID)
	}
	details, err := json.Marshal(alert.Details)
	if err != nil {
		return fmt.Errorf("encode alert details: %w", err)
	}

	r.log.Error("integrity violation",
		zap.String("kind", string(alert.Kind)),
		zap.String("subject_type", alert.SubjectType),
		zap.String("subject_id", alert.SubjectID),
		zap.Any("details", alert.Details),
	)

	return r.db.WithContext(ctx).Exec(
		`INSERT INTO integrity_alerts (id, kind, subject_type, subject_id, details, dedupe_key, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (dedupe_key) DO NOTHING`,
		r.genID.Generate(),
		alert.Kind,
		alert.SubjectType,
		alert.SubjectID,
		datatypes.JSON(details),
		key,
		r.clock.Now().UTC(),
	).Error
}

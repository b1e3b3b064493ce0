package domain

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"slices"
	"time"

	"github.com/bwmarrin/snowflake"
)

// SeatOverage describes how far an organization's active users exceed a limit.
type SeatOverage struct {
	CurrentCount int `json:"current_count"`
	NewLimit     int `json:"new_limit"`
	ExcessCount  int `json:"excess_count"`
}

// NewSeatOverage returns nil when activeUsers fits inside limit.
func NewSeatOverage(activeUsers, limit int) *SeatOverage {
	if activeUsers <= limit {
		return nil
	}
	return &SeatOverage{
		CurrentCount: activeUsers,
		NewLimit:     limit,
		ExcessCount:  activeUsers - limit,
	}
}

// PendingPlanChange is a scheduled plan transition. Values are copied, never
// mutated in place.
type PendingPlanChange struct {
	NewPlanID     string         `json:"new_plan_id"`
	NewSeatLimit  int            `json:"new_seat_limit"`
	NewBaseFee    int64          `json:"new_base_fee"`
	InitialFee    int64          `json:"initial_fee"`
	NewPackageIDs []snowflake.ID `json:"new_package_ids"`
	EffectiveDate time.Time      `json:"effective_date"`
	IsDowngrade   bool           `json:"is_downgrade"`
	RequestedAt   time.Time      `json:"requested_at"`
	Overage       *SeatOverage   `json:"overage,omitempty"`
}

// PackageIDs returns a copy of the requested package ids.
func (p PendingPlanChange) PackageIDs() []snowflake.ID {
	return slices.Clone(p.NewPackageIDs)
}

// DueOn reports whether the change takes effect on or before day.
func (p PendingPlanChange) DueOn(day time.Time) bool {
	return !p.EffectiveDate.After(day)
}

func (p PendingPlanChange) Equal(other PendingPlanChange) bool {
	if p.NewPlanID != other.NewPlanID ||
		p.NewSeatLimit != other.NewSeatLimit ||
		p.NewBaseFee != other.NewBaseFee ||
		p.InitialFee != other.InitialFee ||
		p.IsDowngrade != other.IsDowngrade ||
		!p.EffectiveDate.Equal(other.EffectiveDate) ||
		!p.RequestedAt.Equal(other.RequestedAt) ||
		!slices.Equal(p.NewPackageIDs, other.NewPackageIDs) {
		return false
	}
	switch {
	case p.Overage == nil && other.Overage == nil:
		return true
	case p.Overage == nil || other.Overage == nil:
		return false
	default:
		return *p.Overage == *other.Overage
	}
}

// NullPlanChange is the nullable column holding a PendingPlanChange.
type NullPlanChange struct {
	Change PendingPlanChange
	Valid  bool
}

func SomePlanChange(change PendingPlanChange) NullPlanChange {
	return NullPlanChange{Change: change, Valid: true}
}

// Scan implements sql.Scanner.
func (n *NullPlanChange) Scan(value any) error {
	var raw []byte
	switch v := value.(type) {
	case nil:
		*n = NullPlanChange{}
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("pending_plan_change: unsupported type %T", value)
	}
	if len(raw) == 0 || string(raw) == "null" {
		*n = NullPlanChange{}
		return nil
	}

	var change PendingPlanChange
	if err := json.Unmarshal(raw, &change); err != nil {
		return fmt.Errorf("pending_plan_change: %w", err)
	}
	*n = NullPlanChange{Change: change, Valid: true}
	return nil
}

// Value implements driver.Valuer.
func (n NullPlanChange) Value() (driver.Value, error) {
	if !n.Valid {
		return nil, nil
	}
	raw, err := json.Marshal(n.Change)
	if err != nil {
		return nil, err
	}
	return string(raw), nil
}

func (n NullPlanChange) MarshalJSON() ([]byte, error) {
	if !n.Valid {
		return []byte("null"), nil
	}
	return json.Marshal(n.Change)
}

func (n *NullPlanChange) UnmarshalJSON(data []byte) error {
	return n.Scan(data)
}

// Package domain contains the seat-overage grace period model.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

type Status string

const (
	StatusPending  Status = "pending"
	StatusExpired  Status = "expired"
	StatusExempted Status = "exempted"
	StatusResolved Status = "resolved"
)

type Resolution string

const (
	ResolutionCompliant   Resolution = "compliant"
	ResolutionDeactivated Resolution = "deactivated"
	ResolutionExempted    Resolution = "exempted"
)

// GracePeriod is one enforcement episode for an organization whose active
// users exceed the seat limit of a newly applied plan.
type GracePeriod struct {
	ID            snowflake.ID `gorm:"primaryKey" json:"id"`
	OrgID         snowflake.ID `gorm:"not null" json:"org_id"`
	ContractID    snowflake.ID `gorm:"not null" json:"contract_id"`
	EffectiveDate time.Time    `gorm:"not null" json:"effective_date"`
	Deadline      time.Time    `gorm:"not null" json:"deadline"`
	SeatLimit     int          `gorm:"not null" json:"seat_limit"`
	Status        Status       `gorm:"type:text;not null" json:"status"`
	Resolution    Resolution   `gorm:"type:text" json:"resolution,omitempty"`
	ExemptedBy    *string      `gorm:"type:text" json:"exempted_by,omitempty"`
	ResolvedAt    *time.Time   `json:"resolved_at,omitempty"`
	CreatedAt     time.Time    `gorm:"not null" json:"created_at"`
	UpdatedAt     time.Time    `gorm:"not null" json:"updated_at"`
}

// TableName sets the database table name.
func (GracePeriod) TableName() string { return "grace_periods" }

// Open reports whether the period still needs enforcement.
func (g GracePeriod) Open() bool {
	return g.Status == StatusPending || g.Status == StatusExpired
}

// RemainingDays is the whole number of days from today until the deadline,
// never negative.
func (g GracePeriod) RemainingDays(today time.Time) int {
	day := time.Date(today.Year(), today.Month(), today.Day(), 0, 0, 0, 0, time.UTC)
	days := int(g.Deadline.Sub(day).Hours() / 24)
	if days < 0 {
		return 0
	}
	return days
}

// Expired reports whether today is past the deadline.
func (g GracePeriod) Expired(today time.Time) bool {
	day := time.Date(today.Year(), today.Month(), today.Day(), 0, 0, 0, 0, time.UTC)
	return day.After(g.Deadline)
}

// View is the read model served over the API.
type View struct {
	GracePeriod
	RemainingDays int `json:"remaining_days"`
}

// Package domain contains persistence models for contracts and their packages.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/siteledger/internal/billingdate"
)

type ContractStatus string

const (
	ContractStatusDraft     ContractStatus = "draft"
	ContractStatusActive    ContractStatus = "active"
	ContractStatusSuspended ContractStatus = "suspended"
	ContractStatusCancelled ContractStatus = "cancelled"
)

// Contract is the billing record governing one organization's plan.
type Contract struct {
	ID                      snowflake.ID      `gorm:"primaryKey" json:"id"`
	OrgID                   snowflake.ID      `gorm:"not null;uniqueIndex" json:"org_id"`
	PlanID                  string            `gorm:"type:text;not null" json:"plan_id"`
	BaseFee                 int64             `gorm:"not null" json:"base_fee"`
	SeatLimit               int               `gorm:"not null" json:"seat_limit"`
	BillingDay              int               `gorm:"not null" json:"billing_day"`
	BillingCycle            billingdate.Cycle `gorm:"type:text;not null" json:"billing_cycle"`
	BillingAnchorMonth      int               `gorm:"not null" json:"billing_anchor_month"`
	SetupFee                int64             `gorm:"not null" json:"setup_fee"`
	FirstMonthDiscount      int64             `gorm:"not null" json:"first_month_discount"`
	ProrateFirstInvoice     bool              `gorm:"not null" json:"prorate_first_invoice"`
	Status                  ContractStatus    `gorm:"type:text;not null" json:"status"`
	PendingPlanChange       NullPlanChange    `gorm:"type:jsonb" json:"pending_plan_change"`
	PlanChangeRequestedAt   *time.Time        `json:"plan_change_requested_at,omitempty"`
	PlanChangeEffectiveDate *time.Time        `json:"plan_change_effective_date,omitempty"`
	CurrentPeriodStart      *time.Time        `json:"current_period_start,omitempty"`
	ActivatedAt             *time.Time        `json:"activated_at,omitempty"`
	CreatedAt               time.Time         `gorm:"not null" json:"created_at"`
	UpdatedAt               time.Time         `gorm:"not null" json:"updated_at"`
}

// TableName sets the database table name.
func (Contract) TableName() string { return "contracts" }

// Schedule returns the billing calendar of the contract.
func (c Contract) Schedule() billingdate.Schedule {
	cycle := c.BillingCycle
	if cycle == "" {
		cycle = billingdate.CycleMonthly
	}
	return billingdate.Schedule{
		Day:         c.BillingDay,
		Cycle:       cycle,
		AnchorMonth: time.Month(c.BillingAnchorMonth),
	}
}

// Changeable reports whether a plan change may be scheduled.
func (c Contract) Changeable() bool {
	return c.Status == ContractStatusDraft || c.Status == ContractStatusActive
}

// ContractPackage links a contract to an active service package.
type ContractPackage struct {
	ContractID snowflake.ID `gorm:"primaryKey" json:"contract_id"`
	PackageID  snowflake.ID `gorm:"primaryKey" json:"package_id"`
	CreatedAt  time.Time    `json:"created_at"`
}

// TableName sets the database table name.
func (ContractPackage) TableName() string { return "contract_packages" }

// ServicePackage is an add-on sold on top of a plan.
type ServicePackage struct {
	ID         snowflake.ID `gorm:"primaryKey" json:"id"`
	Code       string       `gorm:"type:text;not null;uniqueIndex" json:"code"`
	Name       string       `gorm:"type:text;not null" json:"name"`
	MonthlyFee int64        `gorm:"not null" json:"monthly_fee"`
	Active     bool         `gorm:"not null" json:"active"`
	CreatedAt  time.Time    `json:"created_at"`
	UpdatedAt  time.Time    `json:"updated_at"`
}

// TableName sets the database table name.
func (ServicePackage) TableName() string { return "service_packages" }

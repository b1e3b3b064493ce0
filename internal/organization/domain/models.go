// Package domain contains persistence models for organizations and their users.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// Organization represents a tenant. SeatLimit mirrors the live contract limit
// and is only written when a plan change is enforced.
type Organization struct {
	ID         snowflake.ID `gorm:"primaryKey" json:"id"`
	Name       string       `gorm:"type:text;not null" json:"name"`
	AdminEmail string       `gorm:"type:text;not null;column:admin_email" json:"admin_email"`
	SeatLimit  int          `gorm:"not null;column:seat_limit" json:"seat_limit"`
	CreatedAt  time.Time    `gorm:"not null" json:"created_at"`
	UpdatedAt  time.Time    `gorm:"not null" json:"updated_at"`
}

// TableName sets the database table name.
func (Organization) TableName() string { return "organizations" }

const (
	RoleOwner  = "owner"
	RoleAdmin  = "admin"
	RoleMember = "member"
)

// User is a seat holder inside an organization.
type User struct {
	ID            snowflake.ID `gorm:"primaryKey" json:"id"`
	OrgID         snowflake.ID `gorm:"not null;index" json:"org_id"`
	Email         string       `gorm:"type:text;not null" json:"email"`
	DisplayName   string       `gorm:"type:text;not null;column:display_name" json:"display_name"`
	Role          string       `gorm:"type:text;not null" json:"role"`
	Active        bool         `gorm:"not null" json:"active"`
	CreatedAt     time.Time    `gorm:"not null" json:"created_at"`
	UpdatedAt     time.Time    `gorm:"not null" json:"updated_at"`
	DeactivatedAt *time.Time   `gorm:"column:deactivated_at" json:"deactivated_at,omitempty"`
}

// TableName sets the database table name.
func (User) TableName() string { return "users" }

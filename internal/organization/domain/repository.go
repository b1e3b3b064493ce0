package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

var (
	ErrOrganizationNotFound = errors.New("organization_not_found")
	ErrUserNotFound         = errors.New("user_not_found")
)

type Repository interface {
	WithTx(tx *gorm.DB) Repository
	CreateOrganization(ctx context.Context, org Organization) error
	CreateUser(ctx context.Context, user User) error
	FindByID(ctx context.Context, orgID snowflake.ID) (*Organization, error)
	FindUser(ctx context.Context, userID snowflake.ID) (*User, error)
	CountActiveUsers(ctx context.Context, orgID snowflake.ID) (int, error)
	// ListActiveNewestFirst orders by created_at DESC with id DESC as tiebreak.
	ListActiveNewestFirst(ctx context.Context, orgID snowflake.ID, limit int) ([]User, error)
	// DeactivateUser reports false when the user was already inactive.
	DeactivateUser(ctx context.Context, userID snowflake.ID, at time.Time) (bool, error)
	// MirrorSeatLimit reports false when the stored limit already matches.
	MirrorSeatLimit(ctx context.Context, orgID snowflake.ID, seatLimit int, at time.Time) (bool, error)
}

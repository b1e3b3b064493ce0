package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/siteledger/pkg/db/pagination"
	"gorm.io/gorm"
)

type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, contract Contract) error
	FindByID(ctx context.Context, id snowflake.ID) (*Contract, error)
	FindByOrgID(ctx context.Context, orgID snowflake.ID) (*Contract, error)

	// SetPendingPlanChange overwrites any pending change (last write wins).
	SetPendingPlanChange(ctx context.Context, id snowflake.ID, change PendingPlanChange, at time.Time) (bool, error)
	// ClearPendingPlanChange drops the change requested at requestedAt, if still pending.
	ClearPendingPlanChange(ctx context.Context, id snowflake.ID, requestedAt time.Time, at time.Time) (bool, error)
	// ApplyPendingPlanChange copies the pending change onto the live fields.
	// It only succeeds while the same request is still pending and due.
	ApplyPendingPlanChange(ctx context.Context, contract Contract, asOf time.Time, at time.Time) (bool, error)
	ActivateDraft(ctx context.Context, id snowflake.ID, at time.Time) (bool, error)

	// ListDuePlanChanges and ListUpcomingOverages walk in
	// (plan_change_effective_date, id) order starting after the keyset.
	ListDuePlanChanges(ctx context.Context, asOf time.Time, after pagination.Keyset, limit int) ([]Contract, error)
	// ListUpcomingOverages returns pending changes effective after today
	// that were scheduled with a seat overage.
	ListUpcomingOverages(ctx context.Context, today time.Time, after pagination.Keyset, limit int) ([]Contract, error)

	ListPackages(ctx context.Context, contractID snowflake.ID) ([]ServicePackage, error)
	ReplacePackages(ctx context.Context, contractID snowflake.ID, packageIDs []snowflake.ID, at time.Time) error
}

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
	// CreateIfAbsent inserts the period unless one already exists for the
	// same organization and effective date, or the organization already has
	// an open (pending or expired) period.
	CreateIfAbsent(ctx context.Context, period GracePeriod) (bool, error)
	FindByID(ctx context.Context, id snowflake.ID) (*GracePeriod, error)
	FindByEpisode(ctx context.Context, orgID snowflake.ID, effectiveDate time.Time) (*GracePeriod, error)
	FindOpenByOrg(ctx context.Context, orgID snowflake.ID) (*GracePeriod, error)
	// MergeEpisode rewrites the limit and deadline of a period that is still
	// in status.
	MergeEpisode(ctx context.Context, id snowflake.ID, status Status, seatLimit int, deadline time.Time, at time.Time) (bool, error)
	ListByStatus(ctx context.Context, statuses []Status, after pagination.Keyset, limit int) ([]GracePeriod, error)
	CountOpen(ctx context.Context, orgID snowflake.ID) (int, error)
	// Transition moves a period from one status to another and reports false
	// when the stored status no longer matches from.
	Transition(ctx context.Context, id snowflake.ID, from, to Status, resolution Resolution, actor *string, at time.Time) (bool, error)
}

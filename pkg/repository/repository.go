package repository

import (
	"context"

	"github.com/smallbiznis/siteledger/pkg/db/option"
	"gorm.io/gorm"
)

// Repository is a thin generic accessor for rows that need no bespoke SQL.
type Repository[T any] interface {
	WithTrx(tx *gorm.DB) Repository[T]
	Find(ctx context.Context, query *T, opts ...option.QueryOption) ([]*T, error)
	FindOne(ctx context.Context, query *T, opts ...option.QueryOption) (*T, error)
	Create(ctx context.Context, resource *T) error
	Count(ctx context.Context, query *T, opts ...option.QueryOption) (int64, error)
}

package domain

import (
	"context"
	"errors"
)

type Service interface {
	Get(ctx context.Context, id string) (View, error)
	Exempt(ctx context.Context, id string, actor string) (View, error)
}

var (
	ErrInvalidGracePeriod    = errors.New("invalid_grace_period")
	ErrGracePeriodNotFound   = errors.New("grace_period_not_found")
	ErrGracePeriodNotPending = errors.New("grace_period_not_pending")
	ErrInvalidActor          = errors.New("invalid_actor")
)

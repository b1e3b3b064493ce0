package service

import (
	"context"
	"testing"
	"time"

	"github.com/smallbiznis/siteledger/internal/clock"
	"github.com/smallbiznis/siteledger/internal/graceperiod/domain"
	"github.com/smallbiznis/siteledger/internal/graceperiod/repository"
	"github.com/smallbiznis/siteledger/pkg/db/dbtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestExemptAndRemainingDays(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewRepository(dbtest.Open(t))
	effective := time.Date(2025, time.February, 28, 0, 0, 0, 0, time.UTC)
	fc := clock.NewFakeClock(effective.Add(26 * time.Hour))

	_, err := repo.CreateIfAbsent(ctx, domain.GracePeriod{
		ID: 42, OrgID: 1, ContractID: 2, EffectiveDate: effective, Deadline: effective.AddDate(0, 0, 3),
		SeatLimit: 10, Status: domain.StatusPending, CreatedAt: effective, UpdatedAt: effective,
	})
	require.NoError(t, err)

	svc := NewService(Params{Log: zap.NewNop(), Clock: fc, Repo: repo})

	view, err := svc.Get(ctx, "42")
	require.NoError(t, err)
	assert.Equal(t, 2, view.RemainingDays)

	_, err = svc.Exempt(ctx, "42", " ")
	require.ErrorIs(t, err, domain.ErrInvalidActor)

	view, err = svc.Exempt(ctx, "42", "user:7")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusExempted, view.Status)
	assert.Equal(t, domain.ResolutionExempted, view.Resolution)
	require.NotNil(t, view.ExemptedBy)
	assert.Equal(t, "user:7", *view.ExemptedBy)
	assert.Zero(t, view.RemainingDays)

	_, err = svc.Exempt(ctx, "42", "user:7")
	require.ErrorIs(t, err, domain.ErrGracePeriodNotPending)

	_, err = svc.Get(ctx, "43")
	require.ErrorIs(t, err, domain.ErrGracePeriodNotFound)
	_, err = svc.Get(ctx, "abc")
	require.ErrorIs(t, err, domain.ErrInvalidGracePeriod)
}

func TestRemainingDaysNeverNegative(t *testing.T) {
	deadline := time.Date(2025, time.March, 3, 0, 0, 0, 0, time.UTC)
	period := domain.GracePeriod{Deadline: deadline}

	assert.Equal(t, 3, period.RemainingDays(deadline.AddDate(0, 0, -3).Add(23*time.Hour)))
	assert.Equal(t, 0, period.RemainingDays(deadline))
	assert.False(t, period.Expired(deadline.Add(12*time.Hour)))
	assert.Equal(t, 0, period.RemainingDays(deadline.AddDate(0, 0, 5)))
	assert.True(t, period.Expired(deadline.AddDate(0, 0, 1)))
}

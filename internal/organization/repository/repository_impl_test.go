package repository

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/siteledger/internal/organization/domain"
	"github.com/smallbiznis/siteledger/pkg/db/dbtest"
	"github.com/stretchr/testify/require"
)

func TestListActiveNewestFirstBreaksTiesByID(t *testing.T) {
	ctx := context.Background()
	db := dbtest.Open(t)
	repo := NewRepository(db)

	now := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	orgID := snowflake.ID(10)
	require.NoError(t, repo.CreateOrganization(ctx, domain.Organization{ID: orgID, Name: "Acme", AdminEmail: "admin@acme.test", SeatLimit: 5, CreatedAt: now, UpdatedAt: now}))

	sameInstant := now.Add(time.Hour)
	users := []domain.User{
		{ID: 101, CreatedAt: now},
		{ID: 102, CreatedAt: sameInstant},
		{ID: 103, CreatedAt: sameInstant},
		{ID: 104, CreatedAt: now.Add(30 * time.Minute)},
		{ID: 105, CreatedAt: now.Add(2 * time.Hour), Active: false},
	}
	for i, u := range users {
		u.OrgID = orgID
		u.Email = "u@acme.test"
		u.Role = domain.RoleMember
		u.UpdatedAt = u.CreatedAt
		if i < 4 {
			u.Active = true
		}
		require.NoError(t, repo.CreateUser(ctx, u))
	}

	count, err := repo.CountActiveUsers(ctx, orgID)
	require.NoError(t, err)
	require.Equal(t, 4, count)

	got, err := repo.ListActiveNewestFirst(ctx, orgID, 3)
	require.NoError(t, err)
	require.Len(t, got, 3)
	require.Equal(t, []snowflake.ID{103, 102, 104}, []snowflake.ID{got[0].ID, got[1].ID, got[2].ID})
}

func TestDeactivateUserIsConditional(t *testing.T) {
	ctx := context.Background()
	db := dbtest.Open(t)
	repo := NewRepository(db)

	now := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, repo.CreateOrganization(ctx, domain.Organization{ID: 1, Name: "Acme", AdminEmail: "a@acme.test", CreatedAt: now, UpdatedAt: now}))
	require.NoError(t, repo.CreateUser(ctx, domain.User{ID: 7, OrgID: 1, Email: "x@acme.test", Role: domain.RoleMember, Active: true, CreatedAt: now, UpdatedAt: now}))

	changed, err := repo.DeactivateUser(ctx, 7, now)
	require.NoError(t, err)
	require.True(t, changed)

	changed, err = repo.DeactivateUser(ctx, 7, now.Add(time.Hour))
	require.NoError(t, err)
	require.False(t, changed)

	user, err := repo.FindUser(ctx, 7)
	require.NoError(t, err)
	require.NotNil(t, user)
	require.False(t, user.Active)
	require.NotNil(t, user.DeactivatedAt)
	require.True(t, user.DeactivatedAt.Equal(now))
}

func TestMirrorSeatLimitEqualityGuard(t *testing.T) {
	ctx := context.Background()
	db := dbtest.Open(t)
	repo := NewRepository(db)

	now := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, repo.CreateOrganization(ctx, domain.Organization{ID: 1, Name: "Acme", AdminEmail: "a@acme.test", SeatLimit: 10, CreatedAt: now, UpdatedAt: now}))

	changed, err := repo.MirrorSeatLimit(ctx, 1, 10, now)
	require.NoError(t, err)
	require.False(t, changed)

	changed, err = repo.MirrorSeatLimit(ctx, 1, 8, now)
	require.NoError(t, err)
	require.True(t, changed)

	org, err := repo.FindByID(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, 8, org.SeatLimit)
}

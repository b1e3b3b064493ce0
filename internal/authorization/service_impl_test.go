package authorization

import (
	"context"
	"testing"
	"time"

	"github.com/smallbiznis/siteledger/pkg/db/dbtest"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestAuthorizeRoles(t *testing.T) {
	db := dbtest.Open(t)
	now := time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, db.Exec(
		`INSERT INTO users (id, org_id, email, display_name, role, active, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?), (?, ?, ?, ?, ?, ?, ?, ?), (?, ?, ?, ?, ?, ?, ?, ?)`,
		11, 1, "owner@a.test", "", "owner", true, now, now,
		12, 1, "member@a.test", "", "member", true, now, now,
		13, 1, "gone@a.test", "", "admin", false, now, now,
	).Error)

	enforcer, err := NewEnforcer(db)
	require.NoError(t, err)
	svc := NewService(Params{DB: db, Log: zap.NewNop(), Enforcer: enforcer})
	ctx := context.Background()

	require.NoError(t, svc.Authorize(ctx, "user:11", "1", ObjectContract, ActionContractPlanChange))
	require.NoError(t, svc.Authorize(ctx, "user:11", "1", ObjectGracePeriod, ActionGracePeriodExempt))
	require.NoError(t, svc.Authorize(ctx, "user:12", "1", ObjectContract, ActionContractView))
	require.ErrorIs(t, svc.Authorize(ctx, "user:12", "1", ObjectContract, ActionContractPlanChange), ErrForbidden)
	require.ErrorIs(t, svc.Authorize(ctx, "user:13", "1", ObjectContract, ActionContractView), ErrForbidden)
	require.ErrorIs(t, svc.Authorize(ctx, "user:11", "2", ObjectContract, ActionContractView), ErrForbidden)

	require.NoError(t, svc.Authorize(ctx, "system", SystemOrg, ObjectEnforcer, ActionEnforcerRun))
	require.ErrorIs(t, svc.Authorize(ctx, "user:11", SystemOrg, ObjectEnforcer, ActionEnforcerRun), ErrForbidden)
	require.ErrorIs(t, svc.Authorize(ctx, "robot", "1", ObjectContract, ActionContractView), ErrInvalidActor)
	require.ErrorIs(t, svc.Authorize(ctx, "", "1", ObjectContract, ActionContractView), ErrInvalidActor)
}

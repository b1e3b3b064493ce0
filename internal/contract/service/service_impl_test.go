package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/siteledger/internal/billingdate"
	"github.com/smallbiznis/siteledger/internal/clock"
	"github.com/smallbiznis/siteledger/internal/config"
	contractdomain "github.com/smallbiznis/siteledger/internal/contract/domain"
	contractrepo "github.com/smallbiznis/siteledger/internal/contract/repository"
	"github.com/smallbiznis/siteledger/internal/fee"
	orgdomain "github.com/smallbiznis/siteledger/internal/organization/domain"
	orgrepo "github.com/smallbiznis/siteledger/internal/organization/repository"
	"github.com/smallbiznis/siteledger/pkg/db/dbtest"
	"github.com/smallbiznis/siteledger/pkg/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	testOrgID      = snowflake.ID(1)
	testContractID = snowflake.ID(100)
)

type fixture struct {
	db       *gorm.DB
	clock    *clock.FakeClock
	svc      contractdomain.Service
	contract contractdomain.Repository
	orgs     orgdomain.Repository
}

func newFixture(t *testing.T, activeUsers int) *fixture {
	t.Helper()
	ctx := context.Background()
	db := dbtest.Open(t)
	fc := clock.NewFakeClock(time.Date(2025, time.January, 15, 10, 0, 0, 0, time.UTC))

	orgs := orgrepo.NewRepository(db)
	contracts := contractrepo.NewRepository(db)
	created := time.Date(2024, time.June, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, orgs.CreateOrganization(ctx, orgdomain.Organization{
		ID: testOrgID, Name: "Kensetsu", AdminEmail: "admin@kensetsu.test", SeatLimit: 10, CreatedAt: created, UpdatedAt: created,
	}))
	for i := 0; i < activeUsers; i++ {
		at := created.Add(time.Duration(i) * time.Hour)
		require.NoError(t, orgs.CreateUser(ctx, orgdomain.User{
			ID: snowflake.ID(1000 + i), OrgID: testOrgID, Email: fmt.Sprintf("u%d@kensetsu.test", i),
			Role: orgdomain.RoleMember, Active: true, CreatedAt: at, UpdatedAt: at,
		}))
	}
	require.NoError(t, contracts.Create(ctx, contractdomain.Contract{
		ID: testContractID, OrgID: testOrgID, PlanID: "standard", BaseFee: 30000, SeatLimit: 10,
		BillingDay: billingdate.LastDay, BillingCycle: billingdate.CycleMonthly, BillingAnchorMonth: 1,
		SetupFee: 50000, FirstMonthDiscount: 10000, Status: contractdomain.ContractStatusActive,
		CreatedAt: created, UpdatedAt: created,
	}))
	require.NoError(t, db.Exec(
		`INSERT INTO service_packages (id, code, name, monthly_fee, active, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?), (?, ?, ?, ?, ?, ?, ?)`,
		501, "inventory", "Inventory", 5000, true, created, created,
		502, "legacy", "Legacy", 1000, false, created, created,
	).Error)

	svc := NewService(Params{
		Log:        zap.NewNop(),
		Clock:      fc,
		BillingCfg: config.NewStaticBillingConfig(config.DefaultBillingConfig()),
		Repo:       contracts,
		OrgRepo:    orgs,
		Packages:   repository.ProvideStore[contractdomain.ServicePackage](db),
	})
	return &fixture{db: db, clock: fc, svc: svc, contract: contracts, orgs: orgs}
}

func (f *fixture) request(seatLimit int, baseFee int64, effective *time.Time) (contractdomain.PlanChangeResult, error) {
	return f.svc.RequestPlanChange(context.Background(), contractdomain.RequestPlanChangeRequest{
		ContractID:    testContractID.String(),
		NewPlanID:     "premium",
		NewSeatLimit:  seatLimit,
		NewBaseFee:    baseFee,
		InitialFee:    0,
		EffectiveDate: effective,
	})
}

func TestRequestPlanChangeComputedDateHonoursNotice(t *testing.T) {
	f := newFixture(t, 3)

	res, err := f.request(20, 40000, nil)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, time.February, 28, 0, 0, 0, 0, time.UTC), res.EffectiveDate)
	assert.False(t, res.IsDowngrade)
	assert.Nil(t, res.UserWarning)
}

func TestRequestPlanChangeComputedDateAlwaysThirtyDaysOut(t *testing.T) {
	f := newFixture(t, 3)
	start := time.Date(2024, time.January, 1, 13, 45, 0, 0, time.UTC)
	schedule := billingdate.Schedule{Day: billingdate.LastDay, Cycle: billingdate.CycleMonthly}

	for offset := 0; offset < 400; offset += 3 {
		now := start.AddDate(0, 0, offset)
		f.clock.Set(now)

		res, err := f.request(10, 30000, nil)
		require.NoError(t, err)
		require.GreaterOrEqual(t, res.EffectiveDate.Sub(now), 30*24*time.Hour, "now=%s", now)
		require.True(t, schedule.IsBillingDate(res.EffectiveDate))
		// earliest such date: the billing date before it is inside the notice window
		require.Less(t, schedule.Previous(res.EffectiveDate).Sub(now), 30*24*time.Hour, "now=%s", now)
	}
}

func TestRequestPlanChangeExplicitDateInsideNoticeFails(t *testing.T) {
	f := newFixture(t, 3)
	explicit := time.Date(2025, time.January, 31, 0, 0, 0, 0, time.UTC)

	_, err := f.request(20, 40000, &explicit)
	require.ErrorIs(t, err, contractdomain.ErrNoticePeriodViolation)

	stored, err := f.contract.FindByID(context.Background(), testContractID)
	require.NoError(t, err)
	assert.False(t, stored.PendingPlanChange.Valid)
	assert.Nil(t, stored.PlanChangeRequestedAt)
}

func TestRequestPlanChangeExplicitDateMustBeBillingDate(t *testing.T) {
	f := newFixture(t, 3)
	explicit := time.Date(2025, time.March, 15, 0, 0, 0, 0, time.UTC)

	_, err := f.request(20, 40000, &explicit)
	require.ErrorIs(t, err, contractdomain.ErrInvalidEffectiveDate)

	later := time.Date(2025, time.March, 31, 0, 0, 0, 0, time.UTC)
	res, err := f.request(20, 40000, &later)
	require.NoError(t, err)
	assert.Equal(t, later, res.EffectiveDate)
}

func TestRequestPlanChangeWarnsWithoutTouchingSeats(t *testing.T) {
	f := newFixture(t, 12)
	ctx := context.Background()

	res, err := f.request(10, 30000, nil)
	require.NoError(t, err)
	require.NotNil(t, res.UserWarning)
	assert.Equal(t, 2, res.UserWarning.ExcessCount)
	assert.Equal(t, 12, res.UserWarning.CurrentCount)
	assert.Equal(t, 10, res.UserWarning.NewLimit)

	org, err := f.orgs.FindByID(ctx, testOrgID)
	require.NoError(t, err)
	assert.Equal(t, 10, org.SeatLimit)
	active, err := f.orgs.CountActiveUsers(ctx, testOrgID)
	require.NoError(t, err)
	assert.Equal(t, 12, active)

	stored, err := f.contract.FindByID(ctx, testContractID)
	require.NoError(t, err)
	assert.Equal(t, "standard", stored.PlanID)
	assert.Equal(t, 10, stored.SeatLimit)
	require.True(t, stored.PendingPlanChange.Valid)
	assert.Equal(t, "premium", stored.PendingPlanChange.Change.NewPlanID)
	require.NotNil(t, stored.PendingPlanChange.Change.Overage)
	assert.Equal(t, 2, stored.PendingPlanChange.Change.Overage.ExcessCount)
	require.NotNil(t, stored.PlanChangeEffectiveDate)
	assert.True(t, stored.PlanChangeEffectiveDate.Equal(res.EffectiveDate))
}

func TestRequestPlanChangeDowngradeFlag(t *testing.T) {
	f := newFixture(t, 1)

	res, err := f.request(8, 40000, nil)
	require.NoError(t, err)
	assert.True(t, res.IsDowngrade)

	res, err = f.request(20, 20000, nil)
	require.NoError(t, err)
	assert.True(t, res.IsDowngrade)

	res, err = f.request(10, 30000, nil)
	require.NoError(t, err)
	assert.False(t, res.IsDowngrade)
}

func TestRequestPlanChangeLastWriteWins(t *testing.T) {
	f := newFixture(t, 1)
	ctx := context.Background()

	_, err := f.request(20, 40000, nil)
	require.NoError(t, err)
	f.clock.Advance(time.Hour)
	_, err = f.svc.RequestPlanChange(ctx, contractdomain.RequestPlanChangeRequest{
		ContractID:    testContractID.String(),
		NewPlanID:     "lite",
		NewSeatLimit:  5,
		NewBaseFee:    10000,
		NewPackageIDs: []string{"501", "501"},
	})
	require.NoError(t, err)

	stored, err := f.contract.FindByID(ctx, testContractID)
	require.NoError(t, err)
	require.True(t, stored.PendingPlanChange.Valid)
	assert.Equal(t, "lite", stored.PendingPlanChange.Change.NewPlanID)
	assert.Equal(t, []snowflake.ID{501}, stored.PendingPlanChange.Change.NewPackageIDs)
	assert.True(t, stored.PlanChangeRequestedAt.Equal(f.clock.Now()))
}

func TestRequestPlanChangeRejectsInvalidInput(t *testing.T) {
	f := newFixture(t, 1)
	ctx := context.Background()

	_, err := f.request(0, 30000, nil)
	assert.ErrorIs(t, err, contractdomain.ErrInvalidSeatLimit)

	_, err = f.request(5, -1, nil)
	assert.ErrorIs(t, err, contractdomain.ErrInvalidFee)

	_, err = f.svc.RequestPlanChange(ctx, contractdomain.RequestPlanChangeRequest{
		ContractID: testContractID.String(), NewPlanID: "x", NewSeatLimit: 5, NewPackageIDs: []string{"502"},
	})
	assert.ErrorIs(t, err, contractdomain.ErrUnknownPackage)

	_, err = f.svc.RequestPlanChange(ctx, contractdomain.RequestPlanChangeRequest{
		ContractID: "999", NewPlanID: "x", NewSeatLimit: 5,
	})
	assert.ErrorIs(t, err, contractdomain.ErrContractNotFound)

	require.NoError(t, f.db.Exec(`UPDATE contracts SET status = ? WHERE id = ?`, contractdomain.ContractStatusCancelled, testContractID).Error)
	_, err = f.request(5, 30000, nil)
	assert.ErrorIs(t, err, contractdomain.ErrContractNotChangeable)
}

func TestCancelPlanChange(t *testing.T) {
	f := newFixture(t, 1)
	ctx := context.Background()

	require.ErrorIs(t, f.svc.CancelPlanChange(ctx, testContractID.String()), contractdomain.ErrNoPendingPlanChange)

	_, err := f.request(20, 40000, nil)
	require.NoError(t, err)
	require.NoError(t, f.svc.CancelPlanChange(ctx, testContractID.String()))

	stored, err := f.contract.FindByID(ctx, testContractID)
	require.NoError(t, err)
	assert.False(t, stored.PendingPlanChange.Valid)
	assert.Nil(t, stored.PlanChangeEffectiveDate)
}

func TestPreviewFees(t *testing.T) {
	f := newFixture(t, 4)
	ctx := context.Background()
	require.NoError(t, f.contract.ReplacePackages(ctx, testContractID, []snowflake.ID{501}, f.clock.Now()))

	got, err := f.svc.PreviewFees(ctx, contractdomain.FeePreviewRequest{ContractID: testContractID.String()})
	require.NoError(t, err)
	assert.Equal(t, int64(35000), got.Subtotal)
	assert.Equal(t, int64(3500), got.Tax)

	got, err = f.svc.PreviewFees(ctx, contractdomain.FeePreviewRequest{ContractID: testContractID.String(), FirstInvoice: true})
	require.NoError(t, err)
	// base + package + setup - discount
	assert.Equal(t, int64(75000), got.Subtotal)
	assert.Equal(t, fee.LineDiscount, got.Lines[len(got.Lines)-1].Kind)
}

func TestFirstPeriodProration(t *testing.T) {
	schedule := billingdate.Schedule{Day: 10, Cycle: billingdate.CycleMonthly}
	got := FirstPeriodProration(schedule, time.Date(2025, time.January, 20, 0, 0, 0, 0, time.UTC))
	assert.Equal(t, fee.Proration{BilledDays: 21, PeriodDays: 31}, got)

	assert.Equal(t, fee.Proration{}, FirstPeriodProration(schedule, time.Date(2025, time.January, 10, 0, 0, 0, 0, time.UTC)))
}

package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/siteledger/internal/contract/domain"
	"github.com/smallbiznis/siteledger/pkg/db/pagination"
	"gorm.io/gorm"
)

const contractColumns = `id, org_id, plan_id, base_fee, seat_limit, billing_day, billing_cycle,
	billing_anchor_month, setup_fee, first_month_discount, prorate_first_invoice, status,
	pending_plan_change, plan_change_requested_at, plan_change_effective_date,
	current_period_start, activated_at, created_at, updated_at`

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) domain.Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) domain.Repository {
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, c domain.Contract) error {
	return r.db.WithContext(ctx).Exec(
		`INSERT INTO contracts (`+contractColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID,
		c.OrgID,
		c.PlanID,
		c.BaseFee,
		c.SeatLimit,
		c.BillingDay,
		c.BillingCycle,
		c.BillingAnchorMonth,
		c.SetupFee,
		c.FirstMonthDiscount,
		c.ProrateFirstInvoice,
		c.Status,
		c.PendingPlanChange,
		c.PlanChangeRequestedAt,
		c.PlanChangeEffectiveDate,
		c.CurrentPeriodStart,
		c.ActivatedAt,
		c.CreatedAt,
		c.UpdatedAt,
	).Error
}

func (r *repository) FindByID(ctx context.Context, id snowflake.ID) (*domain.Contract, error) {
	return r.findOne(ctx, `SELECT `+contractColumns+` FROM contracts WHERE id = ? LIMIT 1`, id)
}

func (r *repository) FindByOrgID(ctx context.Context, orgID snowflake.ID) (*domain.Contract, error) {
	return r.findOne(ctx, `SELECT `+contractColumns+` FROM contracts WHERE org_id = ? LIMIT 1`, orgID)
}

func (r *repository) findOne(ctx context.Context, query string, args ...any) (*domain.Contract, error) {
	var item domain.Contract
	if err := r.db.WithContext(ctx).Raw(query, args...).Scan(&item).Error; err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repository) SetPendingPlanChange(ctx context.Context, id snowflake.ID, change domain.PendingPlanChange, at time.Time) (bool, error) {
	res := r.db.WithContext(ctx).Exec(
		`UPDATE contracts
		 SET pending_plan_change = ?, plan_change_requested_at = ?, plan_change_effective_date = ?, updated_at = ?
		 WHERE id = ?`,
		domain.SomePlanChange(change),
		change.RequestedAt,
		change.EffectiveDate,
		at,
		id,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repository) ClearPendingPlanChange(ctx context.Context, id snowflake.ID, requestedAt time.Time, at time.Time) (bool, error) {
	res := r.db.WithContext(ctx).Exec(
		`UPDATE contracts
		 SET pending_plan_change = NULL, plan_change_requested_at = NULL, plan_change_effective_date = NULL, updated_at = ?
		 WHERE id = ? AND pending_plan_change IS NOT NULL AND plan_change_requested_at = ?`,
		at,
		id,
		requestedAt,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repository) ApplyPendingPlanChange(ctx context.Context, c domain.Contract, asOf time.Time, at time.Time) (bool, error) {
	if !c.PendingPlanChange.Valid || c.PlanChangeRequestedAt == nil {
		return false, nil
	}
	change := c.PendingPlanChange.Change
	res := r.db.WithContext(ctx).Exec(
		`UPDATE contracts
		 SET plan_id = ?, seat_limit = ?, base_fee = ?,
			pending_plan_change = NULL, plan_change_requested_at = NULL, plan_change_effective_date = NULL,
			updated_at = ?
		 WHERE id = ?
			AND status = ?
			AND pending_plan_change IS NOT NULL
			AND plan_change_effective_date <= ?
			AND plan_change_requested_at = ?`,
		change.NewPlanID,
		change.NewSeatLimit,
		change.NewBaseFee,
		at,
		c.ID,
		domain.ContractStatusActive,
		asOf,
		*c.PlanChangeRequestedAt,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repository) ActivateDraft(ctx context.Context, id snowflake.ID, at time.Time) (bool, error) {
	res := r.db.WithContext(ctx).Exec(
		`UPDATE contracts
		 SET status = ?, activated_at = ?, current_period_start = COALESCE(current_period_start, ?), updated_at = ?
		 WHERE id = ? AND status = ?`,
		domain.ContractStatusActive,
		at,
		at,
		at,
		id,
		domain.ContractStatusDraft,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repository) ListDuePlanChanges(ctx context.Context, asOf time.Time, after pagination.Keyset, limit int) ([]domain.Contract, error) {
	keyset, keysetArgs := after.After("plan_change_effective_date", "id")
	args := append([]any{domain.ContractStatusActive, asOf}, keysetArgs...)
	args = append(args, limit)

	var items []domain.Contract
	err := r.db.WithContext(ctx).Raw(
		`SELECT `+contractColumns+`
		 FROM contracts
		 WHERE status = ?
			AND pending_plan_change IS NOT NULL
			AND plan_change_effective_date <= ?
			AND `+keyset+`
		 ORDER BY plan_change_effective_date ASC, id ASC
		 LIMIT ?`,
		args...,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repository) ListUpcomingOverages(ctx context.Context, today time.Time, after pagination.Keyset, limit int) ([]domain.Contract, error) {
	keyset, keysetArgs := after.After("plan_change_effective_date", "id")
	args := append([]any{domain.ContractStatusDraft, domain.ContractStatusActive, today}, keysetArgs...)
	args = append(args, limit)

	var items []domain.Contract
	err := r.db.WithContext(ctx).Raw(
		`SELECT `+contractColumns+`
		 FROM contracts
		 WHERE status IN (?, ?)
			AND pending_plan_change IS NOT NULL
			AND pending_plan_change -> 'overage' IS NOT NULL
			AND plan_change_effective_date > ?
			AND `+keyset+`
		 ORDER BY plan_change_effective_date ASC, id ASC
		 LIMIT ?`,
		args...,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repository) ListPackages(ctx context.Context, contractID snowflake.ID) ([]domain.ServicePackage, error) {
	var items []domain.ServicePackage
	err := r.db.WithContext(ctx).Raw(
		`SELECT sp.id, sp.code, sp.name, sp.monthly_fee, sp.active, sp.created_at, sp.updated_at
		 FROM contract_packages cp
		 JOIN service_packages sp ON sp.id = cp.package_id
		 WHERE cp.contract_id = ?
		 ORDER BY sp.id ASC`,
		contractID,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repository) ReplacePackages(ctx context.Context, contractID snowflake.ID, packageIDs []snowflake.ID, at time.Time) error {
	if err := r.db.WithContext(ctx).Exec(
		`DELETE FROM contract_packages WHERE contract_id = ?`,
		contractID,
	).Error; err != nil {
		return err
	}
	for _, id := range packageIDs {
		if err := r.db.WithContext(ctx).Exec(
			`INSERT INTO contract_packages (contract_id, package_id, created_at) VALUES (?, ?, ?)`,
			contractID,
			id,
			at,
		).Error; err != nil {
			return err
		}
	}
	return nil
}

package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/siteledger/internal/graceperiod/domain"
	"github.com/smallbiznis/siteledger/pkg/db/pagination"
	"gorm.io/gorm"
)

const gracePeriodColumns = `id, org_id, contract_id, effective_date, deadline, seat_limit, status,
	resolution, exempted_by, resolved_at, created_at, updated_at`

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) domain.Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) domain.Repository {
	return &repository{db: tx}
}

func (r *repository) CreateIfAbsent(ctx context.Context, p domain.GracePeriod) (bool, error) {
	res := r.db.WithContext(ctx).Exec(
		`INSERT INTO grace_periods (id, org_id, contract_id, effective_date, deadline, seat_limit, status,
			resolution, exempted_by, resolved_at, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, NULL, NULL, NULL, ?, ?)
		 ON CONFLICT DO NOTHING`,
		p.ID,
		p.OrgID,
		p.ContractID,
		p.EffectiveDate,
		p.Deadline,
		p.SeatLimit,
		p.Status,
		p.CreatedAt,
		p.UpdatedAt,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repository) FindByID(ctx context.Context, id snowflake.ID) (*domain.GracePeriod, error) {
	return r.findOne(ctx, `SELECT `+gracePeriodColumns+` FROM grace_periods WHERE id = ? LIMIT 1`, id)
}

func (r *repository) FindByEpisode(ctx context.Context, orgID snowflake.ID, effectiveDate time.Time) (*domain.GracePeriod, error) {
	return r.findOne(ctx,
		`SELECT `+gracePeriodColumns+` FROM grace_periods WHERE org_id = ? AND effective_date = ? LIMIT 1`,
		orgID, effectiveDate,
	)
}

func (r *repository) findOne(ctx context.Context, query string, args ...any) (*domain.GracePeriod, error) {
	var item domain.GracePeriod
	if err := r.db.WithContext(ctx).Raw(query, args...).Scan(&item).Error; err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repository) ListByStatus(ctx context.Context, statuses []domain.Status, after pagination.Keyset, limit int) ([]domain.GracePeriod, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	values := make([]string, 0, len(statuses))
	for _, status := range statuses {
		values = append(values, string(status))
	}
	keyset, keysetArgs := after.After("effective_date", "id")
	args := append([]any{values}, keysetArgs...)
	args = append(args, limit)

	var items []domain.GracePeriod
	err := r.db.WithContext(ctx).Raw(
		`SELECT `+gracePeriodColumns+`
		 FROM grace_periods
		 WHERE status IN ? AND `+keyset+`
		 ORDER BY effective_date ASC, id ASC
		 LIMIT ?`,
		args...,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repository) FindOpenByOrg(ctx context.Context, orgID snowflake.ID) (*domain.GracePeriod, error) {
	return r.findOne(ctx,
		`SELECT `+gracePeriodColumns+`
		 FROM grace_periods
		 WHERE org_id = ? AND status IN ?
		 ORDER BY effective_date ASC, id ASC
		 LIMIT 1`,
		orgID,
		[]string{string(domain.StatusPending), string(domain.StatusExpired)},
	)
}

func (r *repository) MergeEpisode(ctx context.Context, id snowflake.ID, status domain.Status, seatLimit int, deadline time.Time, at time.Time) (bool, error) {
	res := r.db.WithContext(ctx).Exec(
		`UPDATE grace_periods
		 SET seat_limit = ?, deadline = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		seatLimit,
		deadline,
		at,
		id,
		status,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repository) CountOpen(ctx context.Context, orgID snowflake.ID) (int, error) {
	var count int64
	err := r.db.WithContext(ctx).Raw(
		`SELECT COUNT(1) FROM grace_periods WHERE org_id = ? AND status IN ?`,
		orgID,
		[]string{string(domain.StatusPending), string(domain.StatusExpired)},
	).Scan(&count).Error
	if err != nil {
		return 0, err
	}
	return int(count), nil
}

func (r *repository) Transition(ctx context.Context, id snowflake.ID, from, to domain.Status, resolution domain.Resolution, actor *string, at time.Time) (bool, error) {
	var resolvedAt *time.Time
	var resolutionValue *string
	if resolution != "" {
		value := string(resolution)
		resolutionValue = &value
		resolvedAt = &at
	}
	res := r.db.WithContext(ctx).Exec(
		`UPDATE grace_periods
		 SET status = ?,
			resolution = COALESCE(?, resolution),
			exempted_by = COALESCE(?, exempted_by),
			resolved_at = COALESCE(?, resolved_at),
			updated_at = ?
		 WHERE id = ? AND status = ?`,
		to,
		resolutionValue,
		actor,
		resolvedAt,
		at,
		id,
		from,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

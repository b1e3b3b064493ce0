package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/siteledger/internal/organization/domain"
	"gorm.io/gorm"
)

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) domain.Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) domain.Repository {
	return &repository{db: tx}
}

func (r *repository) CreateOrganization(ctx context.Context, org domain.Organization) error {
	return r.db.WithContext(ctx).Exec(
		`INSERT INTO organizations (id, name, admin_email, seat_limit, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		org.ID,
		org.Name,
		org.AdminEmail,
		org.SeatLimit,
		org.CreatedAt,
		org.UpdatedAt,
	).Error
}

func (r *repository) CreateUser(ctx context.Context, user domain.User) error {
	return r.db.WithContext(ctx).Exec(
		`INSERT INTO users (id, org_id, email, display_name, role, active, created_at, updated_at, deactivated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		user.ID,
		user.OrgID,
		user.Email,
		user.DisplayName,
		user.Role,
		user.Active,
		user.CreatedAt,
		user.UpdatedAt,
		user.DeactivatedAt,
	).Error
}

func (r *repository) FindByID(ctx context.Context, orgID snowflake.ID) (*domain.Organization, error) {
	var org domain.Organization
	err := r.db.WithContext(ctx).Raw(
		`SELECT id, name, admin_email, seat_limit, created_at, updated_at
		 FROM organizations
		 WHERE id = ?
		 LIMIT 1`,
		orgID,
	).Scan(&org).Error
	if err != nil {
		return nil, err
	}
	if org.ID == 0 {
		return nil, nil
	}
	return &org, nil
}

func (r *repository) FindUser(ctx context.Context, userID snowflake.ID) (*domain.User, error) {
	var user domain.User
	err := r.db.WithContext(ctx).Raw(
		`SELECT id, org_id, email, display_name, role, active, created_at, updated_at, deactivated_at
		 FROM users
		 WHERE id = ?
		 LIMIT 1`,
		userID,
	).Scan(&user).Error
	if err != nil {
		return nil, err
	}
	if user.ID == 0 {
		return nil, nil
	}
	return &user, nil
}

func (r *repository) CountActiveUsers(ctx context.Context, orgID snowflake.ID) (int, error) {
	var count int64
	err := r.db.WithContext(ctx).Raw(
		`SELECT COUNT(1) FROM users WHERE org_id = ? AND active = ?`,
		orgID,
		true,
	).Scan(&count).Error
	if err != nil {
		return 0, err
	}
	return int(count), nil
}

func (r *repository) ListActiveNewestFirst(ctx context.Context, orgID snowflake.ID, limit int) ([]domain.User, error) {
	if limit <= 0 {
		return nil, nil
	}
	var users []domain.User
	err := r.db.WithContext(ctx).Raw(
		`SELECT id, org_id, email, display_name, role, active, created_at, updated_at, deactivated_at
		 FROM users
		 WHERE org_id = ? AND active = ?
		 ORDER BY created_at DESC, id DESC
		 LIMIT ?`,
		orgID,
		true,
		limit,
	).Scan(&users).Error
	if err != nil {
		return nil, err
	}
	return users, nil
}

func (r *repository) DeactivateUser(ctx context.Context, userID snowflake.ID, at time.Time) (bool, error) {
	res := r.db.WithContext(ctx).Exec(
		`UPDATE users
		 SET active = ?, deactivated_at = ?, updated_at = ?
		 WHERE id = ? AND active = ?`,
		false,
		at,
		at,
		userID,
		true,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repository) MirrorSeatLimit(ctx context.Context, orgID snowflake.ID, seatLimit int, at time.Time) (bool, error) {
	res := r.db.WithContext(ctx).Exec(
		`UPDATE organizations
		 SET seat_limit = ?, updated_at = ?
		 WHERE id = ? AND seat_limit <> ?`,
		seatLimit,
		at,
		orgID,
		seatLimit,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

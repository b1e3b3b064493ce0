package domain

import (
	"context"
	"errors"
	"time"

	"github.com/smallbiznis/siteledger/internal/fee"
)

type RequestPlanChangeRequest struct {
	ContractID    string     `json:"-"`
	NewPlanID     string     `json:"new_plan_id"`
	NewSeatLimit  int        `json:"new_seat_limit"`
	NewBaseFee    int64      `json:"new_base_fee"`
	NewPackageIDs []string   `json:"new_package_ids"`
	InitialFee    int64      `json:"initial_fee"`
	EffectiveDate *time.Time `json:"effective_date,omitempty"`
}

type PlanChangeResult struct {
	EffectiveDate time.Time    `json:"effective_date"`
	IsDowngrade   bool         `json:"is_downgrade"`
	UserWarning   *SeatOverage `json:"user_warning,omitempty"`
}

type FeePreviewRequest struct {
	ContractID   string
	FirstInvoice bool
}

type Service interface {
	GetByID(ctx context.Context, id string) (Contract, error)
	RequestPlanChange(ctx context.Context, req RequestPlanChangeRequest) (PlanChangeResult, error)
	CancelPlanChange(ctx context.Context, id string) error
	PreviewFees(ctx context.Context, req FeePreviewRequest) (fee.Breakdown, error)
}

var (
	ErrInvalidContract            = errors.New("invalid_contract")
	ErrContractNotFound           = errors.New("contract_not_found")
	ErrContractNotChangeable      = errors.New("contract_not_changeable")
	ErrInvalidPlan                = errors.New("invalid_plan")
	ErrInvalidSeatLimit           = errors.New("invalid_seat_limit")
	ErrInvalidFee                 = errors.New("invalid_fee")
	ErrUnknownPackage             = errors.New("unknown_package")
	ErrNoticePeriodViolation      = errors.New("notice_period_violation")
	ErrInvalidEffectiveDate       = errors.New("invalid_effective_date")
	ErrNoPendingPlanChange        = errors.New("no_pending_plan_change")
	ErrPlanChangeAlreadyEffective = errors.New("plan_change_already_effective")
)

package service

import (
	"context"
	"slices"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/siteledger/internal/billingdate"
	"github.com/smallbiznis/siteledger/internal/clock"
	"github.com/smallbiznis/siteledger/internal/config"
	contractdomain "github.com/smallbiznis/siteledger/internal/contract/domain"
	"github.com/smallbiznis/siteledger/internal/fee"
	orgdomain "github.com/smallbiznis/siteledger/internal/organization/domain"
	"github.com/smallbiznis/siteledger/pkg/db/option"
	"github.com/smallbiznis/siteledger/pkg/repository"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Params struct {
	fx.In

	Log        *zap.Logger
	Clock      clock.Clock
	BillingCfg *config.BillingConfigHolder
	Repo       contractdomain.Repository
	OrgRepo    orgdomain.Repository
	Packages   repository.Repository[contractdomain.ServicePackage]
}

type Service struct {
	log        *zap.Logger
	clock      clock.Clock
	billingCfg *config.BillingConfigHolder
	repo       contractdomain.Repository
	orgRepo    orgdomain.Repository
	packages   repository.Repository[contractdomain.ServicePackage]
}

func NewService(p Params) contractdomain.Service {
	return &Service{
		log:        p.Log.Named("contract.service"),
		clock:      p.Clock,
		billingCfg: p.BillingCfg,
		repo:       p.Repo,
		orgRepo:    p.OrgRepo,
		packages:   p.Packages,
	}
}

func (s *Service) GetByID(ctx context.Context, id string) (contractdomain.Contract, error) {
	contract, err := s.load(ctx, id)
	if err != nil {
		return contractdomain.Contract{}, err
	}
	return *contract, nil
}

// RequestPlanChange stores a pending plan change on the contract. Nothing but
// the contract's pending columns is written; the live plan, the organization
// and its users stay untouched until the enforcer applies the change.
func (s *Service) RequestPlanChange(ctx context.Context, req contractdomain.RequestPlanChangeRequest) (contractdomain.PlanChangeResult, error) {
	if err := validatePlanChange(req); err != nil {
		return contractdomain.PlanChangeResult{}, err
	}
	packageIDs, err := parseIDs(req.NewPackageIDs)
	if err != nil {
		return contractdomain.PlanChangeResult{}, err
	}

	contract, err := s.load(ctx, req.ContractID)
	if err != nil {
		return contractdomain.PlanChangeResult{}, err
	}
	if !contract.Changeable() {
		return contractdomain.PlanChangeResult{}, contractdomain.ErrContractNotChangeable
	}
	if err := s.ensurePackages(ctx, packageIDs); err != nil {
		return contractdomain.PlanChangeResult{}, err
	}

	policy := s.billingCfg.Get()
	now := s.clock.Now().UTC().Truncate(time.Microsecond)
	schedule := contract.Schedule()

	effective := EarliestEffectiveDate(schedule, now, policy.NoticePeriodDays)
	if req.EffectiveDate != nil {
		explicit := clock.TruncateDay(*req.EffectiveDate)
		if explicit.Before(effective) {
			return contractdomain.PlanChangeResult{}, contractdomain.ErrNoticePeriodViolation
		}
		if !schedule.IsBillingDate(explicit) {
			return contractdomain.PlanChangeResult{}, contractdomain.ErrInvalidEffectiveDate
		}
		effective = explicit
	}

	activeUsers, err := s.orgRepo.CountActiveUsers(ctx, contract.OrgID)
	if err != nil {
		return contractdomain.PlanChangeResult{}, err
	}
	overage := contractdomain.NewSeatOverage(activeUsers, req.NewSeatLimit)

	change := contractdomain.PendingPlanChange{
		NewPlanID:     strings.TrimSpace(req.NewPlanID),
		NewSeatLimit:  req.NewSeatLimit,
		NewBaseFee:    req.NewBaseFee,
		InitialFee:    req.InitialFee,
		NewPackageIDs: packageIDs,
		EffectiveDate: effective,
		IsDowngrade:   req.NewSeatLimit < contract.SeatLimit || req.NewBaseFee < contract.BaseFee,
		RequestedAt:   now,
		Overage:       overage,
	}

	updated, err := s.repo.SetPendingPlanChange(ctx, contract.ID, change, now)
	if err != nil {
		return contractdomain.PlanChangeResult{}, err
	}
	if !updated {
		return contractdomain.PlanChangeResult{}, contractdomain.ErrContractNotFound
	}

	fields := []zap.Field{
		zap.String("contract_id", contract.ID.String()),
		zap.String("org_id", contract.OrgID.String()),
		zap.String("new_plan_id", change.NewPlanID),
		zap.Time("effective_date", effective),
		zap.Bool("is_downgrade", change.IsDowngrade),
	}
	if contract.PendingPlanChange.Valid {
		fields = append(fields, zap.Time("replaced_requested_at", contract.PendingPlanChange.Change.RequestedAt))
	}
	if overage != nil {
		fields = append(fields, zap.Int("excess_count", overage.ExcessCount))
	}
	s.log.Info("plan change scheduled", fields...)

	return contractdomain.PlanChangeResult{
		EffectiveDate: effective,
		IsDowngrade:   change.IsDowngrade,
		UserWarning:   overage,
	}, nil
}

func (s *Service) CancelPlanChange(ctx context.Context, id string) error {
	contract, err := s.load(ctx, id)
	if err != nil {
		return err
	}
	if !contract.PendingPlanChange.Valid || contract.PlanChangeRequestedAt == nil {
		return contractdomain.ErrNoPendingPlanChange
	}
	now := s.clock.Now().UTC()
	if contract.PendingPlanChange.Change.DueOn(clock.TruncateDay(now)) {
		return contractdomain.ErrPlanChangeAlreadyEffective
	}

	cleared, err := s.repo.ClearPendingPlanChange(ctx, contract.ID, *contract.PlanChangeRequestedAt, now)
	if err != nil {
		return err
	}
	if !cleared {
		return contractdomain.ErrNoPendingPlanChange
	}
	s.log.Info("plan change cancelled", zap.String("contract_id", contract.ID.String()))
	return nil
}

func (s *Service) PreviewFees(ctx context.Context, req contractdomain.FeePreviewRequest) (fee.Breakdown, error) {
	contract, err := s.load(ctx, req.ContractID)
	if err != nil {
		return fee.Breakdown{}, err
	}
	packages, err := s.repo.ListPackages(ctx, contract.ID)
	if err != nil {
		return fee.Breakdown{}, err
	}
	seats, err := s.orgRepo.CountActiveUsers(ctx, contract.OrgID)
	if err != nil {
		return fee.Breakdown{}, err
	}

	return fee.Calculate(Snapshot(*contract, packages, seats), req.FirstInvoice, s.billingCfg.Get().TaxRateBps)
}

// Snapshot builds the fee calculator input for a contract.
func Snapshot(contract contractdomain.Contract, packages []contractdomain.ServicePackage, seats int) fee.Snapshot {
	snap := fee.Snapshot{
		PlanID:             contract.PlanID,
		BaseFee:            contract.BaseFee,
		SeatCount:          seats,
		SetupFee:           contract.SetupFee,
		FirstMonthDiscount: contract.FirstMonthDiscount,
	}
	for _, pkg := range packages {
		if !pkg.Active {
			continue
		}
		snap.Packages = append(snap.Packages, fee.Package{ID: int64(pkg.ID), Name: pkg.Name, Fee: pkg.MonthlyFee})
	}
	if contract.ProrateFirstInvoice && contract.CurrentPeriodStart != nil {
		snap.Proration = FirstPeriodProration(contract.Schedule(), *contract.CurrentPeriodStart)
	}
	return snap
}

// FirstPeriodProration bills the days from start up to the next billing date.
func FirstPeriodProration(schedule billingdate.Schedule, start time.Time) fee.Proration {
	start = clock.TruncateDay(start)
	if schedule.IsBillingDate(start) {
		return fee.Proration{}
	}
	next := schedule.Next(start)
	prev := schedule.Previous(start)
	return fee.Proration{
		BilledDays: daysBetween(start, next),
		PeriodDays: daysBetween(prev, next),
	}
}

// EarliestEffectiveDate is the first billing date at least noticeDays after now.
func EarliestEffectiveDate(schedule billingdate.Schedule, now time.Time, noticeDays int) time.Time {
	threshold := now.UTC().AddDate(0, 0, noticeDays)
	day := clock.TruncateDay(threshold)
	if day.Before(threshold) {
		day = day.AddDate(0, 0, 1)
	}
	return schedule.OnOrAfter(day)
}

func (s *Service) load(ctx context.Context, id string) (*contractdomain.Contract, error) {
	contractID, err := snowflake.ParseString(strings.TrimSpace(id))
	if err != nil || contractID == 0 {
		return nil, contractdomain.ErrInvalidContract
	}
	contract, err := s.repo.FindByID(ctx, contractID)
	if err != nil {
		return nil, err
	}
	if contract == nil {
		return nil, contractdomain.ErrContractNotFound
	}
	return contract, nil
}

func (s *Service) ensurePackages(ctx context.Context, ids []snowflake.ID) error {
	if len(ids) == 0 {
		return nil
	}
	raw := make([]int64, 0, len(ids))
	for _, id := range ids {
		raw = append(raw, int64(id))
	}
	found, err := s.packages.Find(ctx, nil, option.WithIDs("id", raw))
	if err != nil {
		return err
	}
	active := make(map[snowflake.ID]bool, len(found))
	for _, pkg := range found {
		active[pkg.ID] = pkg.Active
	}
	for _, id := range ids {
		if !active[id] {
			return contractdomain.ErrUnknownPackage
		}
	}
	return nil
}

func validatePlanChange(req contractdomain.RequestPlanChangeRequest) error {
	switch {
	case strings.TrimSpace(req.NewPlanID) == "":
		return contractdomain.ErrInvalidPlan
	case req.NewSeatLimit < 1:
		return contractdomain.ErrInvalidSeatLimit
	case req.NewBaseFee < 0 || req.InitialFee < 0:
		return contractdomain.ErrInvalidFee
	}
	return nil
}

func parseIDs(raw []string) ([]snowflake.ID, error) {
	ids := make([]snowflake.ID, 0, len(raw))
	for _, value := range raw {
		id, err := snowflake.ParseString(strings.TrimSpace(value))
		if err != nil || id == 0 {
			return nil, contractdomain.ErrUnknownPackage
		}
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return slices.Compact(ids), nil
}

func daysBetween(from, to time.Time) int {
	return int(to.Sub(from).Hours() / 24)
}

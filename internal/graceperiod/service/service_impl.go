package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/siteledger/internal/clock"
	"github.com/smallbiznis/siteledger/internal/graceperiod/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Params struct {
	fx.In

	Log   *zap.Logger
	Clock clock.Clock
	Repo  domain.Repository
}

type Service struct {
	log   *zap.Logger
	clock clock.Clock
	repo  domain.Repository
}

func NewService(p Params) domain.Service {
	return &Service{
		log:   p.Log.Named("graceperiod.service"),
		clock: p.Clock,
		repo:  p.Repo,
	}
}

func (s *Service) Get(ctx context.Context, id string) (domain.View, error) {
	period, err := s.load(ctx, id)
	if err != nil {
		return domain.View{}, err
	}
	return s.view(*period), nil
}

// Exempt stops enforcement of a pending period. Users are never deactivated
// for an exempted period.
func (s *Service) Exempt(ctx context.Context, id string, actor string) (domain.View, error) {
	actor = strings.TrimSpace(actor)
	if actor == "" {
		return domain.View{}, domain.ErrInvalidActor
	}
	period, err := s.load(ctx, id)
	if err != nil {
		return domain.View{}, err
	}
	if period.Status != domain.StatusPending {
		return domain.View{}, domain.ErrGracePeriodNotPending
	}

	now := s.clock.Now().UTC()
	ok, err := s.repo.Transition(ctx, period.ID, domain.StatusPending, domain.StatusExempted, domain.ResolutionExempted, &actor, now)
	if err != nil {
		return domain.View{}, err
	}
	if !ok {
		return domain.View{}, domain.ErrGracePeriodNotPending
	}

	s.log.Info("grace period exempted",
		zap.String("grace_period_id", period.ID.String()),
		zap.String("org_id", period.OrgID.String()),
		zap.String("actor", actor),
	)

	updated, err := s.repo.FindByID(ctx, period.ID)
	if err != nil {
		return domain.View{}, err
	}
	if updated == nil {
		return domain.View{}, domain.ErrGracePeriodNotFound
	}
	return s.view(*updated), nil
}

func (s *Service) view(period domain.GracePeriod) domain.View {
	view := domain.View{GracePeriod: period}
	if period.Status == domain.StatusPending {
		view.RemainingDays = period.RemainingDays(s.clock.Now())
	}
	return view
}

func (s *Service) load(ctx context.Context, id string) (*domain.GracePeriod, error) {
	periodID, err := snowflake.ParseString(strings.TrimSpace(id))
	if err != nil || periodID == 0 {
		return nil, domain.ErrInvalidGracePeriod
	}
	period, err := s.repo.FindByID(ctx, periodID)
	if err != nil {
		return nil, err
	}
	if period == nil {
		return nil, domain.ErrGracePeriodNotFound
	}
	return period, nil
}

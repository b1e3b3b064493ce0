package contract

import (
	"github.com/smallbiznis/siteledger/internal/contract/domain"
	"github.com/smallbiznis/siteledger/internal/contract/repository"
	"github.com/smallbiznis/siteledger/internal/contract/service"
	pkgrepository "github.com/smallbiznis/siteledger/pkg/repository"
	"go.uber.org/fx"
)

var Module = fx.Module("contract.service",
	fx.Provide(repository.NewRepository),
	fx.Provide(pkgrepository.ProvideStore[domain.ServicePackage]),
	fx.Provide(service.NewService),
)

package main

import (
	"github.com/smallbiznis/siteledger/internal/authorization"
	"github.com/smallbiznis/siteledger/internal/billingschedule"
	"github.com/smallbiznis/siteledger/internal/clock"
	"github.com/smallbiznis/siteledger/internal/config"
	"github.com/smallbiznis/siteledger/internal/contract"
	"github.com/smallbiznis/siteledger/internal/document"
	"github.com/smallbiznis/siteledger/internal/enforcer"
	"github.com/smallbiznis/siteledger/internal/graceperiod"
	"github.com/smallbiznis/siteledger/internal/idgen"
	"github.com/smallbiznis/siteledger/internal/integrity"
	"github.com/smallbiznis/siteledger/internal/invoice"
	"github.com/smallbiznis/siteledger/internal/migration"
	"github.com/smallbiznis/siteledger/internal/notification"
	"github.com/smallbiznis/siteledger/internal/observability"
	"github.com/smallbiznis/siteledger/internal/organization"
	"github.com/smallbiznis/siteledger/internal/server"
	"github.com/smallbiznis/siteledger/internal/webhook"
	"github.com/smallbiznis/siteledger/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		// Core Infrastructure
		config.Module,
		observability.Module,
		idgen.Module,
		db.Module,
		migration.Module,
		clock.Module,

		// Functional Domains
		integrity.Module,
		authorization.Module,
		organization.Module,
		contract.Module,
		graceperiod.Module,
		notification.Module,
		document.Module,
		invoice.Module,
		billingschedule.Module,
		webhook.Module,

		// Enforcement runs in-process on the configured schedule.
		enforcer.Module,
		enforcer.CronModule,

		server.Module,
	)
	app.Run()
}

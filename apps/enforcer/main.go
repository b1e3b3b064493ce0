package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/smallbiznis/siteledger/internal/clock"
	"github.com/smallbiznis/siteledger/internal/config"
	"github.com/smallbiznis/siteledger/internal/contract"
	"github.com/smallbiznis/siteledger/internal/enforcer"
	"github.com/smallbiznis/siteledger/internal/graceperiod"
	"github.com/smallbiznis/siteledger/internal/idgen"
	"github.com/smallbiznis/siteledger/internal/integrity"
	"github.com/smallbiznis/siteledger/internal/notification"
	"github.com/smallbiznis/siteledger/internal/observability"
	"github.com/smallbiznis/siteledger/internal/organization"
	"github.com/smallbiznis/siteledger/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

func main() {
	once := flag.Bool("once", false, "run every enforcement job once and exit")
	flag.Parse()

	modules := fx.Options(
		config.Module,
		observability.Module,
		idgen.Module,
		db.Module,
		clock.Module,

		// Domain services required by the enforcer
		integrity.Module,
		organization.Module,
		contract.Module,
		graceperiod.Module,
		notification.Module,
		enforcer.Module,
	)

	if !*once {
		// No server module!
		fx.New(modules, enforcer.CronModule).Run()
		return
	}

	if err := runOnce(modules); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runOnce(modules fx.Option) error {
	var (
		e   *enforcer.Enforcer
		log *zap.Logger
	)
	app := fx.New(modules, fx.Populate(&e, &log), fx.NopLogger)

	startCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := app.Start(startCtx); err != nil {
		return err
	}
	defer func() {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer stopCancel()
		_ = app.Stop(stopCtx)
	}()

	report, err := e.RunOnce(context.Background())
	log.Info("enforcer run finished",
		zap.String("run_id", report.RunID),
		zap.Int("outcomes", len(report.Outcomes)),
		zap.Int("failed", len(report.Failed())),
		zap.Error(err),
	)
	return err
}

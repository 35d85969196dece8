package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/trezcool/bursar/core"
	"github.com/trezcool/bursar/core/billing"
	logsvc "github.com/trezcool/bursar/services/logger"
	"github.com/trezcool/bursar/storage"
)

func main() {
	// =========================================================================
	// Set up Dependencies

	conf := core.NewConfig()
	logger := logsvc.NewRollbarLogger(log.New(os.Stdout, "SWEEPER : ", log.LstdFlags|log.Lmicroseconds|log.Lshortfile), conf)

	store, err := storage.Open(context.Background(), conf.Database)
	if err != nil {
		logger.Fatal(fmt.Sprintf("opening %s store: %v", conf.Database.Engine, err), err)
	}
	defer func() {
		if err = store.Close(context.Background()); err != nil {
			logger.Error(fmt.Sprintf("closing store: %v", err), err)
		}
	}()

	opts, err := billing.NewOptions(conf.Billing)
	if err != nil {
		logger.Fatal(fmt.Sprintf("loading billing options: %v", err), err)
	}
	validate, translator := core.NewValidator()
	billing.InitValidators(validate, translator)
	billingSvc := billing.NewService(billing.Deps{
		Repo:       store.Repo,
		Validate:   validate,
		Translator: translator,
		Logger:     logger,
		Options:    opts,
	})

	// =========================================================================
	// Start Sweeper

	scheduler, err := newScheduler(conf.Sweeper.Schedule, newSweeper(billingSvc, logger, conf.Sweeper), logger)
	if err != nil {
		logger.Fatal(err.Error(), err)
	}
	logger.Info(fmt.Sprintf("Sweeper started : version %q, schedule %q, timeout %s, %s store", conf.Build, conf.Sweeper.Schedule, conf.Sweeper.Timeout, store.Engine))
	scheduler.Start()

	// =========================================================================
	// Shutdown

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)
	sig := <-shutdown
	logger.Info(fmt.Sprintf("%v: Start shutdown...", sig))

	// wait for a running sweep to finish
	<-scheduler.Stop().Done()
	logger.Info("Sweeper stopped")
}

package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/trezcool/bursar/core"
	"github.com/trezcool/bursar/core/billing"
	emailsvc "github.com/trezcool/bursar/services/email"
	logsvc "github.com/trezcool/bursar/services/logger"
	"github.com/trezcool/bursar/storage"
	"github.com/trezcool/bursar/storage/database"
)

// mailer is an EmailService whose pending sends can be awaited before exiting.
type mailer interface {
	core.EmailService
	Wait()
}

func main() {
	conf := core.NewConfig()
	logger := logsvc.NewRollbarLogger(log.New(os.Stdout, "ADMIN : ", log.LstdFlags|log.Lmicroseconds|log.Lshortfile), conf)
	ctx := context.Background()

	if conf.Database.Engine == storage.EnginePostgres {
		if err := database.CreateIfNotExist(ctx, conf.Database); err != nil {
			logger.Fatal(fmt.Sprintf("setting up database: %v", err), err)
		}
	}

	store, err := storage.Open(ctx, conf.Database)
	if err != nil {
		logger.Fatal(fmt.Sprintf("opening %s store: %v", conf.Database.Engine, err), err)
	}

	opts, err := billing.NewOptions(conf.Billing)
	if err != nil {
		logger.Fatal(fmt.Sprintf("loading billing options: %v", err), err)
	}
	var mailSvc mailer
	if conf.Debug {
		mailSvc = emailsvc.NewConsoleService(log.New(os.Stdout, "EMAIL : ", log.LstdFlags), logger, conf)
	} else {
		mailSvc = emailsvc.NewSendgridService(logger, conf)
	}

	validate, translator := core.NewValidator()
	billing.InitValidators(validate, translator)

	cli := commandLine{
		store: store,
		opts:  opts,
		out:   os.Stdout,
		in:    os.Stdin,
		billingSvc: billing.NewService(billing.Deps{
			Repo:       store.Repo,
			Validate:   validate,
			Translator: translator,
			Logger:     logger,
			MailSvc:    mailSvc,
			Options:    opts,
		}),
	}
	err = cli.run(ctx, os.Args)
	mailSvc.Wait()
	if cerr := store.Close(ctx); cerr != nil {
		logger.Error(fmt.Sprintf("closing store: %v", cerr), cerr)
	}
	if err != nil {
		if err != errHelp {
			logger.Error(fmt.Sprintf("\nerror: %s\n", err), err)
		}
		os.Exit(1)
	}
}

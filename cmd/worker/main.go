package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/clubledger/clubledger/internal/app"
	"github.com/clubledger/clubledger/internal/audit"
	"github.com/clubledger/clubledger/internal/billing"
	"github.com/clubledger/clubledger/internal/methods"
	"github.com/clubledger/clubledger/internal/notify"
	"github.com/clubledger/clubledger/internal/observability"
	"github.com/clubledger/clubledger/internal/platform/cache"
	"github.com/clubledger/clubledger/internal/platform/db"
	"github.com/clubledger/clubledger/internal/reporting"
	"github.com/clubledger/clubledger/jobs"
)

func main() {
	if err := run(); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("worker exited", slog.Any("error", err))
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		return err
	}
	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		return err
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		return err
	}
	defer redisClient.Close()

	redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr}
	asynqClient := asynq.NewClient(redisOpts)
	defer asynqClient.Close()

	billingRepo := billing.NewRepository(pool)
	methodsService := methods.NewService(methods.NewRepository(pool))
	billingService := billing.NewService(
		billingRepo,
		methodsService,
		notify.NewAsynqDispatcher(asynqClient),
		audit.NewLogger(pool),
		observability.NewMetrics(),
		logger,
	)

	// Cron-driven dues runs change revenue totals just like API writes do,
	// so the worker bumps the same reporting cache the server reads.
	reportCache := reporting.NewCache(redisClient, cfg.ReportCacheTTL)
	billingService.WithReportInvalidator(reporting.NewService(billingRepo, reportCache, logger))

	reminderTask, err := jobs.NewReminderRunTask(jobs.TenantTaskPayload{})
	if err != nil {
		return err
	}
	duesTask, err := jobs.NewDuesRunTask(jobs.TenantTaskPayload{})
	if err != nil {
		return err
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: redisOpts,
		Logger:    logger,
		Handlers: &jobs.BillingTaskHandlers{
			Service: billingService,
			Tenants: billingRepo,
			Logger:  logger,
		},
		Cron: []jobs.CronRegistration{
			{Spec: cfg.ReminderCron, Task: reminderTask},
			{Spec: cfg.DuesCron, Task: duesTask},
		},
	})
	if err != nil {
		return err
	}

	logger.Info("worker starting")
	return worker.Run(ctx)
}

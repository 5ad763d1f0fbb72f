package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"
	"golang.org/x/sync/errgroup"

	"github.com/clubledger/clubledger/internal/app"
	"github.com/clubledger/clubledger/internal/audit"
	"github.com/clubledger/clubledger/internal/billing"
	"github.com/clubledger/clubledger/internal/methods"
	"github.com/clubledger/clubledger/internal/notify"
	"github.com/clubledger/clubledger/internal/observability"
	"github.com/clubledger/clubledger/internal/platform/cache"
	"github.com/clubledger/clubledger/internal/platform/db"
	"github.com/clubledger/clubledger/internal/reporting"
	"github.com/clubledger/clubledger/migrations"
)

func main() {
	if err := run(); err != nil {
		slog.Error("server exited", slog.Any("error", err))
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

	if err := db.Migrate(migrations.FS, ".", cfg.PGDSN); err != nil {
		return err
	}

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

	asynqClient := asynq.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer asynqClient.Close()

	metrics := observability.NewMetrics()
	auditor := audit.NewLogger(pool)
	dispatcher := notify.NewAsynqDispatcher(asynqClient)

	billingRepo := billing.NewRepository(pool)
	methodsRepo := methods.NewRepository(pool)
	methodsService := methods.NewService(methodsRepo)
	billingService := billing.NewService(billingRepo, methodsService, dispatcher, auditor, metrics, logger)

	reportCache := reporting.NewCache(redisClient, cfg.ReportCacheTTL)
	reportingService := reporting.NewService(billingRepo, reportCache, logger)
	billingService.WithReportInvalidator(reportingService)

	router := app.NewRouter(app.RouterParams{
		Logger:           logger,
		Config:           cfg,
		BillingHandler:   billing.NewHandler(logger, billingService),
		MethodsHandler:   methods.NewHandler(logger, methodsService),
		ReportingHandler: reporting.NewHandler(logger, reportingService),
		Metrics:          metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("http server listening", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		return server.Shutdown(context.Background())
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

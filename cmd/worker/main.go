package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/helmdesk/helmdesk/internal/accounts"
	"github.com/helmdesk/helmdesk/internal/app"
	"github.com/helmdesk/helmdesk/internal/notify"
	"github.com/helmdesk/helmdesk/internal/platform/cache"
	"github.com/helmdesk/helmdesk/internal/platform/db"
	"github.com/helmdesk/helmdesk/internal/rbac"
	"github.com/helmdesk/helmdesk/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	var publisher notify.Publisher
	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Warn("redis unavailable, change notifications disabled", slog.Any("error", err))
	} else {
		defer func() {
			if err := redisClient.Close(); err != nil {
				logger.Warn("redis close", slog.Any("error", err))
			}
		}()
		publisher = notify.NewRedisPublisher(redisClient)
	}

	accountsRepo := accounts.NewRepository(pool)
	accountsService := accounts.NewService(logger, accountsRepo, accounts.LockoutConfig{
		Threshold:    cfg.LoginMaxAttempts,
		LockDuration: cfg.LockoutDuration,
	}, publisher)

	// The worker provisions synchronously inside the task handler, so the rbac
	// service here carries no enqueuer.
	rbacRepo := rbac.NewRepository(pool)
	rbacService := rbac.NewService(logger, rbacRepo, rbac.Policy{
		DenyList:       cfg.RBACDenyList,
		SuperadminRole: cfg.RBACSuperadminRole,
	}, nil, publisher)

	sender := notify.NewSMTPSender(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPFrom)

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskProvisionRoleGrants, Handler: jobs.NewProvisionRoleGrantsHandler(rbacService, logger)},
			{Type: jobs.TaskSendVerificationCode, Handler: jobs.NewSendCodeHandler(sender, logger)},
			{Type: jobs.TaskUnlockAccounts, Handler: jobs.NewUnlockAccountsHandler(accountsService, logger)},
		},
		Cron: []jobs.CronRegistration{
			{Spec: "@every 5m", Task: jobs.NewUnlockAccountsTask()},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("worker started")
	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker exited", slog.Any("error", err))
		os.Exit(1)
	}
}

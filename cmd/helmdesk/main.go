package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"golang.org/x/sync/errgroup"

	"github.com/helmdesk/helmdesk/internal/accounts"
	"github.com/helmdesk/helmdesk/internal/app"
	"github.com/helmdesk/helmdesk/internal/notify"
	"github.com/helmdesk/helmdesk/internal/platform/cache"
	"github.com/helmdesk/helmdesk/internal/platform/db"
	"github.com/helmdesk/helmdesk/internal/rbac"
	"github.com/helmdesk/helmdesk/internal/session"
	"github.com/helmdesk/helmdesk/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
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

	queue := jobs.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := queue.Close(); err != nil {
			logger.Warn("queue close", slog.Any("error", err))
		}
	}()

	accountsRepo := accounts.NewRepository(pool)
	accountsService := accounts.NewService(logger, accountsRepo, accounts.LockoutConfig{
		Threshold:    cfg.LoginMaxAttempts,
		LockDuration: cfg.LockoutDuration,
	}, publisher)

	rbacRepo := rbac.NewRepository(pool)
	rbacService := rbac.NewService(logger, rbacRepo, rbac.Policy{
		DenyList:       cfg.RBACDenyList,
		SuperadminRole: cfg.RBACSuperadminRole,
	}, queue, publisher)

	issuer := session.NewTokenIssuer(cfg.TokenSecret, cfg.TokenTTL, cfg.TokenRememberTTL)
	var captcha session.CaptchaVerifier
	if cfg.CaptchaEnabled() {
		captcha = session.NewHTTPCaptchaVerifier(cfg.CaptchaEndpoint, cfg.CaptchaSecret, cfg.CaptchaMinScore)
	}
	tokenRepo := session.NewTokenRepository(pool)
	sessionService := session.NewService(logger, accountsService, tokenRepo, issuer, captcha, queue, cfg.TwoFactorTTL)

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	router := app.NewRouter(app.RouterParams{
		Logger:         logger,
		Config:         cfg,
		SessionHandler: session.NewHandler(logger, sessionService, accountsService),
		SessionService: sessionService,
		RBACHandler:    rbac.NewHandler(logger, rbacService),
		RBACMiddleware: rbac.Middleware{Checker: rbacService, Logger: logger},
		JobsHandler:    jobs.NewHandler(inspector, logger),
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("http server listening", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("server exited", slog.Any("error", err))
		os.Exit(1)
	}
}

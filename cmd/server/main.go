package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"tempmail/lease/internal/app"
	jwtpkg "tempmail/lease/internal/auth/jwt"
	"tempmail/lease/internal/bot"
	"tempmail/lease/internal/config"
	"tempmail/lease/internal/domain"
	"tempmail/lease/internal/health"
	"tempmail/lease/internal/logger"
	"tempmail/lease/internal/monitoring"
	"tempmail/lease/internal/smtp"
	httptransport "tempmail/lease/internal/transport/http"
	"tempmail/lease/internal/websocket"
)

// main 启动同时包含 HTTP API、Telegram webhook 与 SMTP 的综合服务。
func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}

	// 设置 Gin 模式（基于开发环境标志）
	if !cfg.Log.Development {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	log, err := logger.NewLogger(logger.FromConfig(cfg.Log))
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	defer func() { _ = log.Sync() }()

	log.Info("starting tempmail lease server",
		zap.Strings("domains", cfg.Mailbox.Domains),
		zap.String("log_level", cfg.Log.Level),
		zap.Bool("development", cfg.Log.Development),
	)

	store, err := app.OpenStore(cfg.Database, log)
	if err != nil {
		log.Fatal("storage init failed", zap.Error(err))
	}
	defer store.Close()

	limiter, redisClient, err := app.OpenLimiter(cfg, log)
	if err != nil {
		log.Fatal("redis init failed", zap.Error(err))
	}
	if redisClient != nil {
		defer redisClient.Close()
	}

	metrics := monitoring.NewMetrics()

	services, err := app.NewServices(cfg, store, metrics, log)
	if err != nil {
		log.Fatal("service init failed", zap.Error(err))
	}

	location, _ := time.LoadLocation(cfg.Mailbox.DisplayTimezone)
	sinks, closers, err := app.Notifiers(cfg, location, log)
	if err != nil {
		log.Fatal("notifier init failed", zap.Error(err))
	}
	inboxHub := websocket.NewHub(cfg.CORS.AllowedOrigins, log)
	inboxHub.SetAccessChecker(services.Leases)
	sinks = append(sinks, inboxHub)
	dispatcher, workers := app.NewDispatcher(cfg.Notify, sinks, metrics, log)
	services.SetPublisher(dispatcher)
	log.Info("notification sinks configured", zap.Strings("sinks", dispatcher.Sinks()))

	var healthChecker *health.HealthChecker
	if redisClient != nil {
		healthChecker = health.NewHealthChecker(store, redisClient, log)
	} else {
		healthChecker = health.NewHealthChecker(store, nil, log)
	}

	var telegramBot *bot.Bot
	if cfg.Telegram.BotToken != "" {
		telegramBot = bot.New(services.Leases, services.Messages, services.Roles, cfg.Telegram.AdminChatID, limiter, log)
		telegramBot.SetMetrics(metrics)
	}

	jwtManager := jwtpkg.NewManager(cfg.JWT.Secret, cfg.JWT.Issuer, cfg.JWT.AccessExpiry)

	// 创建 HTTP 服务器
	httpAddr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	router := httptransport.NewRouter(httptransport.RouterDependencies{
		Config:         cfg,
		LeaseService:   services.Leases,
		MessageService: services.Messages,
		RoleService:    services.Roles,
		CleanupService: services.Cleanup,
		Bot:            telegramBot,
		JWTManager:     jwtManager,
		Limiter:        limiter,
		InboxHub:       inboxHub,
		Health:         healthChecker,
		Metrics:        metrics,
		Logger:         log,
	})

	httpServer := &http.Server{
		Addr:              httpAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	// 创建 SMTP 服务器
	validator := domain.NewAddressValidator(cfg.Mailbox.Domains, cfg.Mailbox.ReservedNames)
	smtpBackend := smtp.NewBackend(
		validator,
		services.Messages,
		smtp.NewConnectionLimiter(cfg.SMTP.MaxConns, cfg.SMTP.ConnRate),
		log,
	)
	smtpServer := smtp.NewServer(cfg.SMTP, smtpBackend)

	// 信号处理
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	group, groupCtx := errgroup.WithContext(ctx)

	// 协程池不跟随 groupCtx，关闭时由 Stop 排空队列
	workers.OnPanic(func(any) { metrics.RecordPanic() })
	workers.Start(context.Background())

	// HTTP 服务器 goroutine
	group.Go(func() error {
		log.Info("starting HTTP server", zap.String("address", httpAddr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("HTTP server error", zap.Error(err))
			return err
		}
		return nil
	})

	group.Go(func() error {
		inboxHub.Run(groupCtx)
		return nil
	})

	// SMTP 服务器 goroutine
	group.Go(func() error {
		log.Info("starting SMTP server",
			zap.String("address", cfg.SMTP.BindAddr),
			zap.String("domain", cfg.SMTP.Domain),
		)
		if err := smtpServer.ListenAndServe(); err != nil && groupCtx.Err() == nil {
			log.Error("SMTP server error", zap.Error(err))
			return err
		}
		return nil
	})

	// 定时清理 goroutine，间隔为 0 时交给外部调度器执行 leasectl sweep
	if cfg.Mailbox.SweepInterval > 0 {
		group.Go(func() error {
			ticker := time.NewTicker(cfg.Mailbox.SweepInterval)
			defer ticker.Stop()

			log.Info("starting sweep task", zap.Duration("interval", cfg.Mailbox.SweepInterval))

			for {
				select {
				case <-groupCtx.Done():
					log.Info("sweep task stopped")
					return nil
				case <-ticker.C:
					result, err := services.Cleanup.Run(groupCtx)
					if err != nil {
						log.Error("sweep finished with errors", zap.Error(err))
					}
					if result != nil {
						log.Info("sweep completed",
							zap.Int64("messages_purged", result.MessagesPurged),
							zap.Int64("leases_expired", result.LeasesExpired),
							zap.Int("leases_deleted", result.LeasesDeleted),
						)
					}
				}
			}
		})
	}

	// 优雅关闭 goroutine
	group.Go(func() error {
		<-groupCtx.Done()
		log.Info("shutdown signal received, gracefully shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Error("HTTP server shutdown error", zap.Error(err))
		}
		if err := smtpServer.Close(); err != nil {
			log.Warn("SMTP server close warning", zap.Error(err))
		}

		// 先停服务再排空通知队列
		workers.Stop()
		for _, closeFn := range closers {
			if err := closeFn(); err != nil {
				log.Warn("notifier close warning", zap.Error(err))
			}
		}

		log.Info("servers stopped")
		return nil
	})

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatal("server error", zap.Error(err))
	}

	log.Info("server exited cleanly")
}

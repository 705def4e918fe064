// Package httptransport 提供租约服务的 HTTP 接口和 Telegram webhook。
package httptransport

import (
	"net/http"
	"time"

	gincors "github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	jwtpkg "tempmail/lease/internal/auth/jwt"
	"tempmail/lease/internal/bot"
	"tempmail/lease/internal/config"
	"tempmail/lease/internal/health"
	"tempmail/lease/internal/middleware"
	"tempmail/lease/internal/monitoring"
	"tempmail/lease/internal/ratelimit"
	"tempmail/lease/internal/service"
	"tempmail/lease/internal/websocket"
)

// RouterDependencies 路由器依赖项
type RouterDependencies struct {
	Config         *config.Config
	LeaseService   *service.LeaseService
	MessageService *service.MessageService
	RoleService    *service.RoleService
	CleanupService *service.CleanupService
	Bot            *bot.Bot // 为 nil 时不注册 webhook
	JWTManager     *jwtpkg.Manager
	Limiter        ratelimit.Limiter // 为 nil 时不限流
	InboxHub       *websocket.Hub    // 为 nil 时不提供实时推送
	Health         *health.HealthChecker
	Metrics        *monitoring.Metrics
	Logger         *zap.Logger
}

// NewRouter 创建并返回 Gin 路由实例。
func NewRouter(deps RouterDependencies) *gin.Engine {
	log := deps.Logger
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("http")

	router := gin.New()

	monitor := middleware.NewMonitoringMiddleware(deps.Metrics, log)
	router.Use(monitor.PanicRecovery())
	router.Use(monitor.HTTPMetrics())
	router.Use(middleware.RequestLogger(log))
	router.Use(middleware.SecurityHeaders())

	// CORS 配置
	corsConfig := gincors.Config{
		AllowOrigins:     deps.Config.CORS.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}

	// 如果允许所有来源，则需清空凭证支持。
	for _, origin := range corsConfig.AllowOrigins {
		if origin == "*" {
			corsConfig.AllowCredentials = false
			break
		}
	}
	router.Use(gincors.New(corsConfig))

	// 健康检查与指标
	router.GET("/health", func(c *gin.Context) {
		if deps.Health == nil {
			c.JSON(http.StatusOK, gin.H{"status": "ok"})
			return
		}
		results := deps.Health.CheckHealth(c.Request.Context())
		status := http.StatusOK
		if !health.Healthy(results) {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, results)
	})
	if deps.Health != nil {
		probe := gin.WrapH(deps.Health.Handler())
		router.GET("/health/live", func(c *gin.Context) {
			c.Request.URL.Path = "/live"
			probe(c)
		})
		router.GET("/health/ready", func(c *gin.Context) {
			c.Request.URL.Path = "/ready"
			probe(c)
		})
	}
	if deps.Metrics != nil {
		router.GET("/metrics", gin.WrapH(deps.Metrics.HTTPHandler()))
	}

	jwtAuth := middleware.NewJWTAuth(deps.JWTManager, log)
	adminAuth := middleware.NewAdminAuth(deps.RoleService, log)
	leaseGuard := middleware.NewLeaseGuard(deps.LeaseService, log)

	leaseHandler := NewLeaseHandler(deps.LeaseService, log)
	adminHandler := NewAdminHandler(deps.RoleService, deps.CleanupService, log)
	inboxHandler := NewInboxHandler(deps.MessageService, deps.LeaseService, log)

	v1 := router.Group("/v1")
	v1.Use(middleware.BodySizeLimit(middleware.DefaultBodyLimit))
	{
		// ========== Lease Routes ==========
		leaseRoutes := v1.Group("/leases", jwtAuth.RequireAuth())
		if deps.Limiter != nil {
			leaseRoutes.Use(middleware.RateLimit(deps.Limiter, "http", middleware.ByUserOrIP, deps.Metrics, log))
		}
		{
			leaseRoutes.POST("", leaseHandler.Create)
			leaseRoutes.POST("/custom", leaseHandler.CreateCustom)
			leaseRoutes.GET("", leaseHandler.List)
			leaseRoutes.POST("/select", leaseHandler.Select)
			leaseRoutes.GET("/:email/status", leaseHandler.Status)
			leaseRoutes.GET("/:email/exists", leaseHandler.Exists)
			leaseRoutes.DELETE("/:email", leaseHandler.Delete)
		}

		// ========== Inbox Routes ==========
		inboxRoutes := v1.Group("/inbox", jwtAuth.OptionalAuth())
		{
			inboxRoutes.GET("/:address", leaseGuard.RequireAccess("address"), inboxHandler.List)
			inboxRoutes.GET("/:address/count", leaseGuard.RequireAccess("address"), inboxHandler.Count)
			inboxRoutes.DELETE("/:address", leaseGuard.RequireAccess("address"), inboxHandler.Clear)
			if deps.InboxHub != nil {
				inboxRoutes.GET("/:address/ws", leaseGuard.RequireAccess("address"), deps.InboxHub.Handle)
			}
		}
		v1.GET("/messages/:id", jwtAuth.OptionalAuth(), inboxHandler.GetMessage)
		v1.DELETE("/messages/:id", jwtAuth.OptionalAuth(), inboxHandler.DeleteMessage)
		v1.GET("/domains", leaseHandler.Domains)

		// ========== Admin Routes ==========
		adminRoutes := v1.Group("/admin", jwtAuth.RequireAuth(), adminAuth.RequireAdmin())
		{
			adminRoutes.PUT("/users/:userId/role", adminHandler.SetRole)
			adminRoutes.GET("/users/:userId/role", adminHandler.GetRole)
			adminRoutes.POST("/sweep", adminHandler.Sweep)
		}
	}

	// ========== Telegram Webhook ==========
	if deps.Bot != nil {
		telegramHandler := NewTelegramHandler(deps.Bot, log)
		router.POST("/api/telegram",
			middleware.BodySizeLimit(middleware.WebhookBodyLimit),
			middleware.RequireTelegramSecret(deps.Config.Telegram.WebhookSecret),
			telegramHandler.Webhook,
		)
	}

	return router
}

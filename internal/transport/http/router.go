package httptransport

import (
	"net/http"
	"time"

	gincors "github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/heddaaibot-ops/agent-toolbox-temp-email/internal/config"
	"github.com/heddaaibot-ops/agent-toolbox-temp-email/internal/health"
	"github.com/heddaaibot-ops/agent-toolbox-temp-email/internal/middleware"
	"github.com/heddaaibot-ops/agent-toolbox-temp-email/internal/monitoring"
	"github.com/heddaaibot-ops/agent-toolbox-temp-email/internal/service"
	"github.com/heddaaibot-ops/agent-toolbox-temp-email/internal/storage"
)

// RouterDependencies 路由器依赖项
type RouterDependencies struct {
	Config         *config.Config
	MailboxService *service.MailboxService
	MessageService *service.MessageService
	Health         *health.HealthChecker
	Metrics        *monitoring.Metrics
	RateLimits     storage.RateLimitRepository // 为 nil 时不启用限流
	Logger         *zap.Logger
}

// NewRouter 创建并返回 Gin 路由实例。
func NewRouter(deps RouterDependencies) *gin.Engine {
	router := gin.New()

	monitoringMW := middleware.NewMonitoringMiddleware(deps.Metrics, deps.Logger)
	router.Use(monitoringMW.PanicRecovery())
	router.Use(middleware.RequestID())
	router.Use(middleware.RequestLogger(deps.Logger))
	router.Use(middleware.SecurityHeaders())
	router.Use(middleware.BodySizeLimit(middleware.DefaultBodyLimit))
	router.Use(monitoringMW.HTTPMetrics())

	// CORS 配置
	corsConfig := gincors.Config{
		AllowOrigins:     deps.Config.CORS.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	// 允许所有来源时必须关闭凭证支持。
	for _, origin := range corsConfig.AllowOrigins {
		if origin == "*" {
			corsConfig.AllowCredentials = false
			break
		}
	}
	router.Use(gincors.New(corsConfig))

	if deps.RateLimits != nil {
		router.Use(middleware.IPRateLimit(deps.RateLimits, 100, time.Minute, deps.Logger))
	}

	mailboxHandler := NewMailboxHandler(deps.MailboxService, deps.MessageService, deps.Logger)

	// 服务索引
	router.GET("/", func(c *gin.Context) {
		Success(c, gin.H{
			"service": "agent-toolbox-temp-email",
			"endpoints": []string{
				"GET /api/mailbox/:mailboxId",
				"GET /api/mailbox/:mailboxId/messages",
				"POST /api/mailbox/:mailboxId/sync",
				"GET /api/mailbox/:mailboxId/status",
				"GET /api/mailbox/buyer/:address",
				"GET /health",
			},
		})
	})

	// 健康检查
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if deps.Health != nil {
		router.GET("/health/live", gin.WrapF(deps.Health.LiveHandler()))
		router.GET("/health/ready", gin.WrapF(deps.Health.ReadyHandler()))
	}
	router.GET("/metrics", gin.WrapH(deps.Metrics.HTTPHandler()))

	api := router.Group("/api")
	{
		mailbox := api.Group("/mailbox")
		{
			mailbox.GET("/buyer/:address", mailboxHandler.ListByBuyer)
			mailbox.GET("/:mailboxId", mailboxHandler.GetMailbox)
			mailbox.GET("/:mailboxId/messages", mailboxHandler.ListMessages)
			mailbox.POST("/:mailboxId/sync", mailboxHandler.SyncMessages)
			mailbox.GET("/:mailboxId/status", mailboxHandler.GetStatus)
		}
	}

	router.NoRoute(func(c *gin.Context) {
		NotFound(c, "route not found")
	})

	return router
}

package health

import (
	"context"
	"net/http"
	"time"

	"github.com/heptiolabs/healthcheck"
	"go.uber.org/zap"

	"github.com/heddaaibot-ops/agent-toolbox-temp-email/internal/storage"
)

// ChainProbe 定义健康检查需要的链上探测能力。
type ChainProbe interface {
	CurrentBlock(ctx context.Context) (uint64, error)
}

// HealthChecker 健康检查器
//
// 存活检查只看进程自身与数据库，就绪检查额外探测 Redis 与链上 RPC：
// 外部依赖抖动时摘流量，但不触发重启。
type HealthChecker struct {
	health healthcheck.Handler
	store  storage.Store
	logger *zap.Logger
}

// NewHealthChecker 创建健康检查器。rateLimits 与 chain 允许为 nil。
func NewHealthChecker(store storage.Store, rateLimits storage.RateLimitRepository, chain ChainProbe, logger *zap.Logger) *HealthChecker {
	hc := &HealthChecker{
		health: healthcheck.NewHandler(),
		store:  store,
		logger: logger,
	}

	hc.health.AddLivenessCheck("database", func() error {
		return store.Health()
	})

	if rateLimits != nil {
		hc.health.AddReadinessCheck("redis", func() error {
			_, err := rateLimits.GetRateLimit("health_check")
			return err
		})
	}

	if chain != nil {
		hc.health.AddReadinessCheck("chain_rpc", func() error {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_, err := chain.CurrentBlock(ctx)
			return err
		})
	}

	return hc
}

// LiveHandler 返回存活探针处理器
func (hc *HealthChecker) LiveHandler() http.HandlerFunc {
	return hc.health.LiveEndpoint
}

// ReadyHandler 返回就绪探针处理器
func (hc *HealthChecker) ReadyHandler() http.HandlerFunc {
	return hc.health.ReadyEndpoint
}

package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/heddaaibot-ops/agent-toolbox-temp-email/internal/chain"
	"github.com/heddaaibot-ops/agent-toolbox-temp-email/internal/config"
	"github.com/heddaaibot-ops/agent-toolbox-temp-email/internal/health"
	"github.com/heddaaibot-ops/agent-toolbox-temp-email/internal/logger"
	"github.com/heddaaibot-ops/agent-toolbox-temp-email/internal/monitoring"
	"github.com/heddaaibot-ops/agent-toolbox-temp-email/internal/provider"
	"github.com/heddaaibot-ops/agent-toolbox-temp-email/internal/service"
	"github.com/heddaaibot-ops/agent-toolbox-temp-email/internal/storage"
	"github.com/heddaaibot-ops/agent-toolbox-temp-email/internal/storage/memory"
	redisstore "github.com/heddaaibot-ops/agent-toolbox-temp-email/internal/storage/redis"
	sqlstore "github.com/heddaaibot-ops/agent-toolbox-temp-email/internal/storage/sql"
	httptransport "github.com/heddaaibot-ops/agent-toolbox-temp-email/internal/transport/http"
)

// main 启动链上购买事件对账与邮箱读侧 API 服务。
func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}

	if !cfg.Log.Development {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	log, err := logger.New(logger.Config{
		Level:       cfg.Log.Level,
		Development: cfg.Log.Development,
		LogFile:     "",
		MaxSize:     100,
		MaxBackups:  3,
		MaxAge:      28,
		Compress:    true,
	})
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	log.Info("starting agentmail server",
		zap.String("log_level", cfg.Log.Level),
		zap.Bool("development", cfg.Log.Development),
		zap.String("contract", cfg.Chain.ContractAddress),
		zap.Int64("chain_id", cfg.Chain.ChainID),
	)

	// 初始化存储层
	var store storage.Store
	if cfg.Database.Type != "" && cfg.Database.DSN != "" {
		store, err = sqlstore.NewStoreForType(cfg.Database.Type, cfg.Database.DSN)
		if err != nil {
			panic(fmt.Sprintf("failed to initialize database storage: %v", err))
		}
		log.Info("using database storage", zap.String("type", cfg.Database.Type))
	} else {
		store = memory.NewStore()
		log.Info("using memory storage (development mode)")
	}
	defer store.Close()

	// Redis 只承担限流计数，连不上时降级运行
	var rateLimits storage.RateLimitRepository
	if cfg.Redis.Address != "" {
		redisClient, err := redisstore.New(cfg.Redis.Address, cfg.Redis.Password, cfg.Redis.DB, log)
		if err != nil {
			log.Warn("failed to connect redis, rate limiting disabled", zap.Error(err))
		} else {
			rateLimits = redisClient
			defer redisClient.Close()
			log.Info("redis rate limiting enabled", zap.String("address", cfg.Redis.Address))
		}
	}

	metrics := monitoring.NewMetrics()

	providerClient := provider.NewClient(cfg.Provider.BaseURL, cfg.Provider.Timeout, cfg.Provider.RPS, log)
	providerClient.SetMetrics(metrics)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ethClient, err := ethclient.DialContext(ctx, cfg.Chain.RPCURL)
	if err != nil {
		log.Fatal("failed to dial chain rpc", zap.String("rpc_url", cfg.Chain.RPCURL), zap.Error(err))
	}
	defer ethClient.Close()
	gateway := chain.NewGateway(ethClient, cfg.Chain.ContractAddress, log)

	// 初始化服务层
	reconciler := service.NewReconcilerService(store, store, providerClient, gateway, log)
	reconciler.SetMetrics(metrics)
	mailboxService := service.NewMailboxService(store, store, gateway, log)
	messageService := service.NewMessageService(store, store, providerClient, log)
	messageService.SetMetrics(metrics)

	healthChecker := health.NewHealthChecker(store, rateLimits, gateway, log)

	listener := chain.NewListener(gateway, reconciler.HandlePurchaseEvent, log)

	httpAddr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	router := httptransport.NewRouter(httptransport.RouterDependencies{
		Config:         cfg,
		MailboxService: mailboxService,
		MessageService: messageService,
		Health:         healthChecker,
		Metrics:        metrics,
		RateLimits:     rateLimits,
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

	group, groupCtx := errgroup.WithContext(ctx)

	if err := listener.Start(groupCtx); err != nil {
		log.Fatal("failed to start chain listener", zap.Error(err))
	}

	// 启动时回放历史事件（可选）
	if cfg.Chain.BackfillFrom > 0 {
		group.Go(func() error {
			count, err := listener.SyncPastEvents(groupCtx, cfg.Chain.BackfillFrom)
			if err != nil {
				log.Error("failed to backfill past purchase events", zap.Error(err))
				return nil
			}
			metrics.RecordEventsReplayed(count)
			log.Info("backfill completed",
				zap.Uint64("from_block", cfg.Chain.BackfillFrom),
				zap.Int("processed", count),
			)
			return nil
		})
	}

	// HTTP 服务器 goroutine
	group.Go(func() error {
		log.Info("starting HTTP server", zap.String("address", httpAddr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("HTTP server error", zap.Error(err))
			return err
		}
		return nil
	})

	// 定时清扫过期邮箱 goroutine
	group.Go(func() error {
		ticker := time.NewTicker(cfg.Task.SweepInterval)
		defer ticker.Stop()

		log.Info("starting expired mailbox sweep task", zap.Duration("interval", cfg.Task.SweepInterval))

		for {
			select {
			case <-groupCtx.Done():
				log.Info("sweep task stopped")
				return nil
			case <-ticker.C:
				count, err := mailboxService.Sweep()
				if err != nil {
					log.Error("failed to sweep expired mailboxes", zap.Error(err))
					continue
				}
				metrics.RecordMailboxesSwept(count)

				if active, err := store.CountActiveMailboxes(); err == nil {
					metrics.UpdateMailboxesActive(active)
				}
			}
		}
	})

	// 定时回放未处理事件 goroutine
	group.Go(func() error {
		ticker := time.NewTicker(cfg.Task.ReplayInterval)
		defer ticker.Stop()

		log.Info("starting unprocessed event replay task", zap.Duration("interval", cfg.Task.ReplayInterval))

		for {
			select {
			case <-groupCtx.Done():
				log.Info("replay task stopped")
				return nil
			case <-ticker.C:
				count, err := reconciler.ReplayUnprocessed(groupCtx, cfg.Task.ReplayBatch)
				if err != nil {
					log.Error("failed to replay unprocessed events", zap.Error(err))
					continue
				}
				metrics.RecordEventsReplayed(count)
				if count > 0 {
					log.Info("unprocessed events replayed", zap.Int("count", count))
				}
			}
		}
	})

	// 优雅关闭 goroutine
	group.Go(func() error {
		<-groupCtx.Done()
		log.Info("shutdown signal received, gracefully shutting down...")

		listener.Stop()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Error("HTTP server shutdown error", zap.Error(err))
		}

		log.Info("servers stopped")
		return nil
	})

	if err := group.Wait(); err != nil && err != context.Canceled {
		log.Fatal("server error", zap.Error(err))
	}

	log.Info("server exited cleanly")
}

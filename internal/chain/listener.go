package chain

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"github.com/heddaaibot-ops/agent-toolbox-temp-email/internal/domain"
)

// ListenerState 订阅状态
type ListenerState int32

const (
	// StateNotListening 未订阅
	StateNotListening ListenerState = iota
	// StateListening 订阅中
	StateListening
)

// EventHandler 处理一条解码后的购买事件。
type EventHandler func(ctx context.Context, event domain.PurchaseEvent) error

const resubscribeDelay = 5 * time.Second

// Listener 维护对 EmailPurchased 事件的订阅。
//
// 显式的两态状态机：Start 把状态从 NotListening 迁移到 Listening 并
// 挂上日志订阅，重复 Start 只记一条警告不产生第二个订阅；Stop 反向
// 迁移并摘除订阅。每条事件在独立协程里交给 handler，handler 的错误
// 只按事件记日志，绝不拖垮订阅本身。
type Listener struct {
	gateway *Gateway
	handler EventHandler
	log     *zap.Logger

	mu     sync.Mutex
	state  ListenerState
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewListener 创建事件订阅器
func NewListener(gateway *Gateway, handler EventHandler, log *zap.Logger) *Listener {
	return &Listener{
		gateway: gateway,
		handler: handler,
		log:     log,
	}
}

// State 返回当前订阅状态。
func (l *Listener) State() ListenerState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Start 启动事件订阅。重复启动是带警告日志的空操作。
func (l *Listener) Start(ctx context.Context) error {
	l.mu.Lock()
	if l.state == StateListening {
		l.mu.Unlock()
		l.log.Warn("chain listener already running, ignoring duplicate start")
		return nil
	}

	subCtx, cancel := context.WithCancel(ctx)
	l.state = StateListening
	l.cancel = cancel
	l.wg.Add(1)
	l.mu.Unlock()

	go l.run(subCtx)

	l.log.Info("chain listener started",
		zap.String("contract", l.gateway.contract.Hex()),
	)
	return nil
}

// Stop 停止事件订阅并等待在途事件处理完成。
func (l *Listener) Stop() {
	l.mu.Lock()
	if l.state != StateListening {
		l.mu.Unlock()
		return
	}
	l.state = StateNotListening
	cancel := l.cancel
	l.cancel = nil
	l.mu.Unlock()

	cancel()
	l.wg.Wait()
	l.log.Info("chain listener stopped")
}

// run 维护订阅循环，订阅断开后按固定间隔重连。
func (l *Listener) run(ctx context.Context) {
	defer l.wg.Done()

	for {
		if ctx.Err() != nil {
			return
		}

		logs := make(chan types.Log, 16)
		sub, err := l.gateway.backend.SubscribeFilterLogs(ctx, l.gateway.purchaseFilter(nil, nil), logs)
		if err != nil {
			l.log.Error("failed to subscribe to purchase events, retrying",
				zap.Duration("retry_in", resubscribeDelay), zap.Error(err))
			if !sleepCtx(ctx, resubscribeDelay) {
				return
			}
			continue
		}

		if !l.consume(ctx, sub, logs) {
			return
		}
	}
}

// consume 消费订阅通道直到取消或订阅出错；返回 false 表示应整体退出。
func (l *Listener) consume(ctx context.Context, sub ethereum.Subscription, logs <-chan types.Log) bool {
	defer sub.Unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return false
		case err := <-sub.Err():
			l.log.Warn("purchase event subscription dropped, resubscribing", zap.Error(err))
			if !sleepCtx(ctx, resubscribeDelay) {
				return false
			}
			return true
		case lg := <-logs:
			l.dispatch(ctx, lg)
		}
	}
}

// dispatch 解码日志并异步交给 handler，错误按事件记录。
func (l *Listener) dispatch(ctx context.Context, lg types.Log) {
	event, err := decodePurchaseEvent(l.gateway.abi, lg)
	if err != nil {
		l.log.Error("failed to decode purchase event log",
			zap.String("tx_hash", lg.TxHash.Hex()),
			zap.Uint64("block", lg.BlockNumber),
			zap.Error(err),
		)
		return
	}

	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				l.log.Error("panic in purchase event handler",
					zap.String("tx_hash", event.TxHash), zap.Any("panic", r))
			}
		}()

		if err := l.handler(ctx, event); err != nil {
			l.log.Error("failed to handle purchase event",
				zap.String("tx_hash", event.TxHash),
				zap.String("mailbox_id", event.MailboxID),
				zap.Error(err),
			)
		}
	}()
}

// SyncPastEvents 回放 [fromBlock, 最新区块] 的历史购买事件。
//
// 每条事件走与实时订阅完全相同的 handler 路径，靠其幂等保证
// 可以安全地重复跑已处理过的区间；单条失败只记日志并跳过。
func (l *Listener) SyncPastEvents(ctx context.Context, fromBlock uint64) (int, error) {
	current, err := l.gateway.CurrentBlock(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to read current block: %w", err)
	}

	query := l.gateway.purchaseFilter(
		new(big.Int).SetUint64(fromBlock),
		new(big.Int).SetUint64(current),
	)
	logs, err := l.gateway.backend.FilterLogs(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("failed to filter past purchase events: %w", err)
	}

	l.log.Info("replaying past purchase events",
		zap.Uint64("from_block", fromBlock),
		zap.Uint64("to_block", current),
		zap.Int("count", len(logs)),
	)

	processed := 0
	for _, lg := range logs {
		event, err := decodePurchaseEvent(l.gateway.abi, lg)
		if err != nil {
			l.log.Error("skipping undecodable past event",
				zap.String("tx_hash", lg.TxHash.Hex()), zap.Error(err))
			continue
		}
		if err := l.handler(ctx, event); err != nil {
			l.log.Error("failed to replay past event",
				zap.String("tx_hash", event.TxHash), zap.Error(err))
			continue
		}
		processed++
	}

	l.log.Info("past event replay finished",
		zap.Int("processed", processed), zap.Int("total", len(logs)))
	return processed, nil
}

// sleepCtx 等待指定时长，上下文取消时提前返回 false。
func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/heddaaibot-ops/agent-toolbox-temp-email/internal/chain"
	"github.com/heddaaibot-ops/agent-toolbox-temp-email/internal/domain"
	"github.com/heddaaibot-ops/agent-toolbox-temp-email/internal/monitoring"
	"github.com/heddaaibot-ops/agent-toolbox-temp-email/internal/provider"
	"github.com/heddaaibot-ops/agent-toolbox-temp-email/internal/storage"
)

var (
	// ErrEmptyTxHash 事件缺少交易哈希
	ErrEmptyTxHash = errors.New("purchase event has empty transaction hash")
)

// AccountProvisioner 定义开通服务商账号所需的能力。
type AccountProvisioner interface {
	CreateAccount(ctx context.Context) (*provider.Account, error)
}

// ChainReader 定义对合约只读方法的访问能力。
type ChainReader interface {
	GetMailbox(ctx context.Context, mailboxID string) (*chain.OnChainMailbox, error)
	IsMailboxActive(ctx context.Context, mailboxID string) (bool, error)
}

// ReconcilerService 把链上购买事件对账成可用的邮箱记录。
//
// 幂等协议按交易哈希展开：先查事件账本，已处理的直接短路；未见过的
// 先落一条 processed=false 的持久意图，再去服务商开号，最后写邮箱
// 记录并翻转 processed。任何一步失败都让 processed 停在 false，
// 等待回放任务重新走同一条路径。
type ReconcilerService struct {
	events      storage.EventRepository
	mailboxes   storage.MailboxRepository
	provisioner AccountProvisioner
	chain       ChainReader
	log         *zap.Logger
	metrics     *monitoring.Metrics
}

// NewReconcilerService 创建购买事件对账服务。
func NewReconcilerService(
	events storage.EventRepository,
	mailboxes storage.MailboxRepository,
	provisioner AccountProvisioner,
	chainReader ChainReader,
	log *zap.Logger,
) *ReconcilerService {
	return &ReconcilerService{
		events:      events,
		mailboxes:   mailboxes,
		provisioner: provisioner,
		chain:       chainReader,
		log:         log,
	}
}

// SetMetrics 注入监控指标（可选）。
func (s *ReconcilerService) SetMetrics(metrics *monitoring.Metrics) {
	s.metrics = metrics
}

// HandlePurchaseEvent 对账一条购买事件。
//
// 同一交易哈希重复调用是无副作用的成功：不会二次开号，也不会产生
// 第二条邮箱记录。过期时间在过去的事件照常创建（落库即已过期）。
// 错误原样上抛，由订阅分发层记日志后继续，单条坏事件不中断监听。
func (s *ReconcilerService) HandlePurchaseEvent(ctx context.Context, event domain.PurchaseEvent) error {
	if s.metrics != nil {
		s.metrics.RecordEventObserved()
	}
	if event.TxHash == "" {
		if s.metrics != nil {
			s.metrics.RecordEventFailed()
		}
		return ErrEmptyTxHash
	}

	existing, err := s.events.GetEventByTxHash(event.TxHash)
	if err != nil && !errors.Is(err, storage.ErrEventNotFound) {
		if s.metrics != nil {
			s.metrics.RecordEventFailed()
		}
		return fmt.Errorf("failed to look up event %s: %w", event.TxHash, err)
	}
	if existing != nil && existing.Processed {
		s.log.Info("purchase event already processed, skipping",
			zap.String("tx_hash", event.TxHash),
			zap.String("mailbox_id", event.MailboxID),
		)
		if s.metrics != nil {
			s.metrics.RecordEventDuplicate()
		}
		return nil
	}

	now := time.Now().UTC()

	// 在调用服务商之前先落持久意图：如果进程在开号与落邮箱之间
	// 崩溃，回放任务可以从 processed=false 的行恢复。
	record := &domain.BlockchainEvent{
		TxHash:        event.TxHash,
		EventType:     domain.EventTypeEmailPurchased,
		BlockNumber:   event.BlockNumber,
		MailboxID:     event.MailboxID,
		Buyer:         event.Buyer,
		ExpiresAt:     event.ExpiresAt,
		PaymentMethod: event.PaymentMethod,
		Processed:     false,
		CreatedAt:     now,
	}
	if err := s.events.SaveEvent(record); err != nil {
		if s.metrics != nil {
			s.metrics.RecordEventFailed()
		}
		return fmt.Errorf("failed to log purchase intent %s: %w", event.TxHash, err)
	}

	account, err := s.provisioner.CreateAccount(ctx)
	if err != nil {
		if s.metrics != nil {
			s.metrics.RecordEventFailed()
		}
		return fmt.Errorf("failed to provision provider account for %s: %w", event.MailboxID, err)
	}

	durationHours := s.resolveDurationHours(ctx, event, now)

	mailbox := &domain.Mailbox{
		MailboxID:        event.MailboxID,
		Email:            account.Email,
		ProviderPassword: account.Password,
		Buyer:            event.Buyer,
		CreatedAt:        now,
		ExpiresAt:        event.ExpiresAt,
		DurationHours:    durationHours,
		PaymentMethod:    event.PaymentMethod,
		Active:           true,
	}
	// 冲突忽略写入：回放与实时订阅竞争同一事件时只会留下一条记录。
	if err := s.mailboxes.CreateMailbox(mailbox); err != nil {
		if s.metrics != nil {
			s.metrics.RecordEventFailed()
		}
		return fmt.Errorf("failed to persist mailbox %s: %w", event.MailboxID, err)
	}

	if err := s.events.MarkEventProcessed(event.TxHash); err != nil {
		if s.metrics != nil {
			s.metrics.RecordEventFailed()
		}
		return fmt.Errorf("failed to mark event %s processed: %w", event.TxHash, err)
	}

	if s.metrics != nil {
		s.metrics.RecordEventProcessed()
		s.metrics.RecordMailboxProvisioned()
	}

	s.log.Info("purchase event reconciled",
		zap.String("tx_hash", event.TxHash),
		zap.String("mailbox_id", event.MailboxID),
		zap.String("email", account.Email),
		zap.Time("expires_at", event.ExpiresAt),
	)
	return nil
}

// ReplayUnprocessed 把账本里 processed=false 的事件重新走一遍对账路径。
//
// 对账本身不自动重试，崩溃或失败留下的半截事件由这里周期性捞起。
// 返回本轮成功完成的事件数。
func (s *ReconcilerService) ReplayUnprocessed(ctx context.Context, limit int) (int, error) {
	pending, err := s.events.ListUnprocessedEvents(limit)
	if err != nil {
		return 0, fmt.Errorf("failed to list unprocessed events: %w", err)
	}

	replayed := 0
	for _, record := range pending {
		event := domain.PurchaseEvent{
			Buyer:         record.Buyer,
			MailboxID:     record.MailboxID,
			ExpiresAt:     record.ExpiresAt,
			PaymentMethod: record.PaymentMethod,
			TxHash:        record.TxHash,
			BlockNumber:   record.BlockNumber,
		}
		if err := s.HandlePurchaseEvent(ctx, event); err != nil {
			s.log.Error("failed to replay unprocessed event",
				zap.String("tx_hash", record.TxHash), zap.Error(err))
			continue
		}
		replayed++
	}
	return replayed, nil
}

// resolveDurationHours 以链上读数为准解析购买时长。
//
// RPC 失败时降级为按过期时间反推，开通流程不因参考读数失败而中断。
func (s *ReconcilerService) resolveDurationHours(ctx context.Context, event domain.PurchaseEvent, now time.Time) int {
	onChain, err := s.chain.GetMailbox(ctx, event.MailboxID)
	if err == nil {
		return int(onChain.Duration / 3600)
	}

	s.log.Warn("failed to read mailbox duration from chain, deriving from expiry",
		zap.String("mailbox_id", event.MailboxID), zap.Error(err))

	hours := int(event.ExpiresAt.Sub(now).Hours())
	if hours < 0 {
		hours = 0
	}
	return hours
}

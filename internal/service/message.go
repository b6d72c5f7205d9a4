package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/heddaaibot-ops/agent-toolbox-temp-email/internal/domain"
	"github.com/heddaaibot-ops/agent-toolbox-temp-email/internal/monitoring"
	"github.com/heddaaibot-ops/agent-toolbox-temp-email/internal/provider"
	"github.com/heddaaibot-ops/agent-toolbox-temp-email/internal/storage"
)

// MessageFetcher 定义从服务商拉取邮件的能力。
type MessageFetcher interface {
	ListMessages(ctx context.Context, email, password string) ([]provider.Message, error)
}

// MessageService 负责邮件的按需同步与查询。
//
// 服务商是邮件的事实来源，本地库是查询快照。同步按服务商消息 ID
// 幂等落库，已存在的行只允许 seen 标记更新。
type MessageService struct {
	mailboxes storage.MailboxRepository
	messages  storage.MessageRepository
	fetcher   MessageFetcher
	log       *zap.Logger
	metrics   *monitoring.Metrics
}

// NewMessageService 创建邮件服务
func NewMessageService(
	mailboxes storage.MailboxRepository,
	messages storage.MessageRepository,
	fetcher MessageFetcher,
	log *zap.Logger,
) *MessageService {
	return &MessageService{
		mailboxes: mailboxes,
		messages:  messages,
		fetcher:   fetcher,
		log:       log,
	}
}

// SetMetrics 注入监控指标（可选）
func (s *MessageService) SetMetrics(m *monitoring.Metrics) {
	s.metrics = m
}

// Sync 从服务商拉取邮箱的收件箱并落库，返回本轮成功写入的条数。
//
// 单条邮件落库失败只记日志并跳过，不中断整轮同步。过期邮箱照常
// 同步，服务商侧账号还在就能拉到邮件。
func (s *MessageService) Sync(ctx context.Context, mailboxID string) (int, error) {
	mailbox, err := s.mailboxes.GetMailbox(mailboxID)
	if err != nil {
		return 0, err
	}

	fetched, err := s.fetcher.ListMessages(ctx, mailbox.Email, mailbox.ProviderPassword)
	if err != nil {
		return 0, fmt.Errorf("failed to fetch messages for %s: %w", mailboxID, err)
	}

	now := time.Now().UTC()
	synced := 0
	for _, msg := range fetched {
		to := mailbox.Email
		if len(msg.To) > 0 {
			to = msg.To[0].Address
		}
		record := &domain.Message{
			ProviderMessageID: msg.ID,
			MailboxID:         mailboxID,
			From:              msg.From.Address,
			To:                to,
			Subject:           msg.Subject,
			Preview:           msg.Intro,
			HasAttachments:    msg.HasAttachments,
			SizeBytes:         msg.Size,
			Seen:              msg.Seen,
			ReceivedAt:        msg.CreatedAt,
			CreatedAt:         now,
		}
		if err := s.messages.UpsertMessage(record); err != nil {
			s.log.Error("failed to upsert message",
				zap.String("mailbox_id", mailboxID),
				zap.String("provider_message_id", msg.ID),
				zap.Error(err),
			)
			continue
		}
		synced++
	}

	if s.metrics != nil {
		s.metrics.RecordMessagesSynced(synced)
	}
	s.log.Debug("mailbox messages synced",
		zap.String("mailbox_id", mailboxID),
		zap.Int("fetched", len(fetched)),
		zap.Int("synced", synced),
	)
	return synced, nil
}

// List 返回邮箱的本地邮件列表，按接收时间倒序。
//
// refresh 为真时先同步一轮再读；同步失败不阻断读取，记日志后
// 返回现有快照。
func (s *MessageService) List(ctx context.Context, mailboxID string, refresh bool) ([]domain.Message, error) {
	if refresh {
		if _, err := s.Sync(ctx, mailboxID); err != nil {
			if _, lookupErr := s.mailboxes.GetMailbox(mailboxID); lookupErr != nil {
				return nil, lookupErr
			}
			s.log.Warn("message sync before list failed, serving local snapshot",
				zap.String("mailbox_id", mailboxID), zap.Error(err))
		}
	}
	return s.messages.ListMessages(mailboxID, 0)
}

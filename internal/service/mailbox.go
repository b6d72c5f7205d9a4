package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/heddaaibot-ops/agent-toolbox-temp-email/internal/domain"
	"github.com/heddaaibot-ops/agent-toolbox-temp-email/internal/storage"
)

const recentMessageLimit = 10

// MailboxDetail 邮箱详情视图
type MailboxDetail struct {
	MailboxID      string           `json:"mailboxId"`
	Email          string           `json:"email"`
	Buyer          string           `json:"buyer"`
	CreatedAt      time.Time        `json:"createdAt"`
	ExpiresAt      time.Time        `json:"expiresAt"`
	DurationHours  int              `json:"durationHours"`
	PaymentMethod  string           `json:"paymentMethod"`
	Active         bool             `json:"active"`
	IsExpired      bool             `json:"isExpired"`
	MessageCount   int64            `json:"messageCount"`
	RecentMessages []domain.Message `json:"recentMessages"`
}

// MailboxStatus 邮箱状态视图
type MailboxStatus struct {
	MailboxID     string    `json:"mailboxId"`
	Active        bool      `json:"active"`
	IsExpired     bool      `json:"isExpired"`
	OnChainActive bool      `json:"onChainActive"`
	ExpiresAt     time.Time `json:"expiresAt"`
	RemainingTime int64     `json:"remainingTime"` // 剩余毫秒数，已过期为 0
}

// MailboxSummary 买家名下邮箱的列表项
type MailboxSummary struct {
	MailboxID     string    `json:"mailboxId"`
	Email         string    `json:"email"`
	CreatedAt     time.Time `json:"createdAt"`
	ExpiresAt     time.Time `json:"expiresAt"`
	Active        bool      `json:"active"`
	IsExpired     bool      `json:"isExpired"`
	MessageCount  int64     `json:"messageCount"`
	PaymentMethod string    `json:"paymentMethod"`
}

// MailboxService 提供邮箱的读侧查询与过期治理。
type MailboxService struct {
	mailboxes storage.MailboxRepository
	messages  storage.MessageRepository
	chain     ChainReader
	log       *zap.Logger
}

// NewMailboxService 创建邮箱服务
func NewMailboxService(
	mailboxes storage.MailboxRepository,
	messages storage.MessageRepository,
	chainReader ChainReader,
	log *zap.Logger,
) *MailboxService {
	return &MailboxService{
		mailboxes: mailboxes,
		messages:  messages,
		chain:     chainReader,
		log:       log,
	}
}

// Get 返回邮箱详情及最近邮件。
//
// 读取路径上顺带做惰性失活：发现已过期但仍标记 active 的记录就
// 当场翻转，与批量清扫互为补充。
func (s *MailboxService) Get(mailboxID string) (*MailboxDetail, error) {
	mailbox, err := s.mailboxes.GetMailbox(mailboxID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	if mailbox.Active && mailbox.IsExpired(now) {
		if err := s.mailboxes.DeactivateMailbox(mailboxID); err != nil {
			s.log.Warn("failed to lazily deactivate expired mailbox",
				zap.String("mailbox_id", mailboxID), zap.Error(err))
		} else {
			mailbox.Active = false
		}
	}

	recent, err := s.messages.ListMessages(mailboxID, recentMessageLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to list recent messages for %s: %w", mailboxID, err)
	}
	count, err := s.messages.CountMessages(mailboxID)
	if err != nil {
		return nil, fmt.Errorf("failed to count messages for %s: %w", mailboxID, err)
	}

	return &MailboxDetail{
		MailboxID:      mailbox.MailboxID,
		Email:          mailbox.Email,
		Buyer:          mailbox.Buyer,
		CreatedAt:      mailbox.CreatedAt,
		ExpiresAt:      mailbox.ExpiresAt,
		DurationHours:  mailbox.DurationHours,
		PaymentMethod:  mailbox.PaymentMethod,
		Active:         mailbox.Active,
		IsExpired:      mailbox.IsExpired(now),
		MessageCount:   count,
		RecentMessages: recent,
	}, nil
}

// Status 返回邮箱的存活状态。
//
// 链上激活状态是参考读数：RPC 失败时降级为 false，不影响接口可用性。
func (s *MailboxService) Status(ctx context.Context, mailboxID string) (*MailboxStatus, error) {
	mailbox, err := s.mailboxes.GetMailbox(mailboxID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	isExpired := mailbox.IsExpired(now)

	onChainActive, err := s.chain.IsMailboxActive(ctx, mailboxID)
	if err != nil {
		s.log.Debug("failed to read on-chain active flag, degrading to false",
			zap.String("mailbox_id", mailboxID), zap.Error(err))
		onChainActive = false
	}

	remaining := mailbox.ExpiresAt.Sub(now).Milliseconds()
	if remaining < 0 {
		remaining = 0
	}

	return &MailboxStatus{
		MailboxID:     mailbox.MailboxID,
		Active:        mailbox.Active && !isExpired,
		IsExpired:     isExpired,
		OnChainActive: onChainActive,
		ExpiresAt:     mailbox.ExpiresAt,
		RemainingTime: remaining,
	}, nil
}

// ListByBuyer 返回买家地址名下的全部邮箱，地址大小写不敏感。
func (s *MailboxService) ListByBuyer(buyer string) ([]MailboxSummary, error) {
	mailboxes, err := s.mailboxes.ListMailboxesByBuyer(strings.ToLower(buyer))
	if err != nil {
		return nil, fmt.Errorf("failed to list mailboxes for buyer %s: %w", buyer, err)
	}

	now := time.Now().UTC()
	summaries := make([]MailboxSummary, 0, len(mailboxes))
	for _, mailbox := range mailboxes {
		count, err := s.messages.CountMessages(mailbox.MailboxID)
		if err != nil {
			s.log.Warn("failed to count messages for mailbox",
				zap.String("mailbox_id", mailbox.MailboxID), zap.Error(err))
		}
		summaries = append(summaries, MailboxSummary{
			MailboxID:     mailbox.MailboxID,
			Email:         mailbox.Email,
			CreatedAt:     mailbox.CreatedAt,
			ExpiresAt:     mailbox.ExpiresAt,
			Active:        mailbox.Active,
			IsExpired:     mailbox.IsExpired(now),
			MessageCount:  count,
			PaymentMethod: mailbox.PaymentMethod,
		})
	}
	return summaries, nil
}

// Sweep 批量失活所有已过期但仍标记 active 的邮箱，返回本轮翻转数量。
//
// 失活是单向的：清扫只做 active 从 true 到 false 的迁移，重复执行
// 不会产生额外写入。
func (s *MailboxService) Sweep() (int, error) {
	count, err := s.mailboxes.DeactivateExpiredMailboxes(time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to sweep expired mailboxes: %w", err)
	}
	if count > 0 {
		s.log.Info("deactivated expired mailboxes", zap.Int("count", count))
	}
	return count, nil
}

package storage

import (
	"errors"
	"time"

	"github.com/heddaaibot-ops/agent-toolbox-temp-email/internal/domain"
)

var (
	// ErrMailboxNotFound 邮箱未找到错误
	ErrMailboxNotFound = errors.New("mailbox not found")
	// ErrEventNotFound 链上事件未找到错误
	ErrEventNotFound = errors.New("blockchain event not found")
	// ErrMessageNotFound 邮件未找到错误
	ErrMessageNotFound = errors.New("message not found")
)

// EventRepository 定义链上事件账本的存取操作。
//
// SaveEvent 必须按 TxHash 做冲突容忍的 upsert：实时订阅与历史回放
// 可能并发写入同一笔交易，重复写入不能报错，也不能把已处理标记翻回 false。
type EventRepository interface {
	SaveEvent(event *domain.BlockchainEvent) error
	GetEventByTxHash(txHash string) (*domain.BlockchainEvent, error)
	MarkEventProcessed(txHash string) error
	ListUnprocessedEvents(limit int) ([]domain.BlockchainEvent, error)
}

// MailboxRepository 定义邮箱数据存取操作。
//
// CreateMailbox 按 MailboxID 做冲突忽略写入（不是盲插），
// 以容忍同一事件被重放时的重复开通尝试。
type MailboxRepository interface {
	CreateMailbox(mailbox *domain.Mailbox) error
	GetMailbox(mailboxID string) (*domain.Mailbox, error)
	ListMailboxesByBuyer(buyer string) ([]domain.Mailbox, error)
	DeactivateMailbox(mailboxID string) error
	DeactivateExpiredMailboxes(now time.Time) (int, error) // 批量停用过期邮箱，返回停用数量
	CountActiveMailboxes() (int64, error)
}

// MessageRepository 定义邮件数据存取操作。
//
// UpsertMessage 按 ProviderMessageID 冲突时只更新 Seen 标记。
type MessageRepository interface {
	UpsertMessage(message *domain.Message) error
	ListMessages(mailboxID string, limit int) ([]domain.Message, error)
	CountMessages(mailboxID string) (int64, error)
}

// RateLimitRepository 定义限流计数操作。
type RateLimitRepository interface {
	IncrementRateLimit(key string, window time.Duration) (int64, error)
	GetRateLimit(key string) (int64, error)
}

// Store 定义完整的存储接口。
type Store interface {
	EventRepository
	MailboxRepository
	MessageRepository

	// 工具方法
	Close() error
	Health() error
}

package memory

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/heddaaibot-ops/agent-toolbox-temp-email/internal/domain"
	"github.com/heddaaibot-ops/agent-toolbox-temp-email/internal/storage"
)

// Store 使用内存保存事件、邮箱与邮件数据，主要用于开发验证与测试。
//
// 所有写入与 SQL 实现保持相同的冲突语义：事件与邮箱按主键冲突忽略，
// 邮件冲突时只更新 Seen 标记。
type Store struct {
	mu        sync.RWMutex
	events    map[string]*domain.BlockchainEvent // txHash -> event
	mailboxes map[string]*domain.Mailbox         // mailboxID -> mailbox
	messages  map[string]*domain.Message         // providerMessageID -> message

	// 速率限制相关
	rateLimits map[string]*rateLimitEntry
}

// rateLimitEntry 速率限制条目
type rateLimitEntry struct {
	Count     int64
	ExpiresAt time.Time
}

// NewStore 创建一个内存存储实例。
func NewStore() *Store {
	return &Store{
		events:     make(map[string]*domain.BlockchainEvent),
		mailboxes:  make(map[string]*domain.Mailbox),
		messages:   make(map[string]*domain.Message),
		rateLimits: make(map[string]*rateLimitEntry),
	}
}

// ========== Event Repository ==========

// SaveEvent 保存链上事件意图记录，按 TxHash 冲突忽略。
func (s *Store) SaveEvent(event *domain.BlockchainEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.events[event.TxHash]; exists {
		return nil
	}
	cloned := *event
	s.events[event.TxHash] = &cloned
	return nil
}

// GetEventByTxHash 根据交易哈希获取链上事件。
func (s *Store) GetEventByTxHash(txHash string) (*domain.BlockchainEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	event, ok := s.events[txHash]
	if !ok {
		return nil, storage.ErrEventNotFound
	}
	cloned := *event
	return &cloned, nil
}

// MarkEventProcessed 将事件标记为已处理。
func (s *Store) MarkEventProcessed(txHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	event, ok := s.events[txHash]
	if !ok {
		return storage.ErrEventNotFound
	}
	event.Processed = true
	return nil
}

// ListUnprocessedEvents 返回未完成处理的事件，按区块号升序。
func (s *Store) ListUnprocessedEvents(limit int) ([]domain.BlockchainEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	events := make([]domain.BlockchainEvent, 0)
	for _, event := range s.events {
		if !event.Processed {
			events = append(events, *event)
		}
	}
	sort.Slice(events, func(i, j int) bool {
		return events[i].BlockNumber < events[j].BlockNumber
	})
	if limit > 0 && len(events) > limit {
		events = events[:limit]
	}
	return events, nil
}

// ========== Mailbox Repository ==========

// CreateMailbox 写入邮箱记录，按 MailboxID 冲突忽略。
func (s *Store) CreateMailbox(mailbox *domain.Mailbox) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.mailboxes[mailbox.MailboxID]; exists {
		return nil
	}
	cloned := *mailbox
	s.mailboxes[mailbox.MailboxID] = &cloned
	return nil
}

// GetMailbox 根据 MailboxID 获取邮箱。
func (s *Store) GetMailbox(mailboxID string) (*domain.Mailbox, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	mailbox, ok := s.mailboxes[mailboxID]
	if !ok {
		return nil, storage.ErrMailboxNotFound
	}
	cloned := *mailbox
	return &cloned, nil
}

// ListMailboxesByBuyer 返回指定买家地址的全部邮箱，新的在前。
func (s *Store) ListMailboxesByBuyer(buyer string) ([]domain.Mailbox, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	buyer = strings.ToLower(buyer)
	mailboxes := make([]domain.Mailbox, 0)
	for _, mailbox := range s.mailboxes {
		if mailbox.Buyer == buyer {
			mailboxes = append(mailboxes, *mailbox)
		}
	}
	sort.Slice(mailboxes, func(i, j int) bool {
		return mailboxes[i].CreatedAt.After(mailboxes[j].CreatedAt)
	})
	return mailboxes, nil
}

// DeactivateMailbox 停用单个邮箱（幂等单向翻转）。
func (s *Store) DeactivateMailbox(mailboxID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if mailbox, ok := s.mailboxes[mailboxID]; ok {
		mailbox.Active = false
	}
	return nil
}

// DeactivateExpiredMailboxes 批量停用所有过期邮箱，返回停用数量。
func (s *Store) DeactivateExpiredMailboxes(now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for _, mailbox := range s.mailboxes {
		if mailbox.Active && mailbox.ExpiresAt.Before(now) {
			mailbox.Active = false
			count++
		}
	}
	return count, nil
}

// CountActiveMailboxes 统计当前活跃邮箱数量。
func (s *Store) CountActiveMailboxes() (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int64
	for _, mailbox := range s.mailboxes {
		if mailbox.Active {
			count++
		}
	}
	return count, nil
}

// ========== Message Repository ==========

// UpsertMessage 按 ProviderMessageID 写入或更新邮件，冲突时只更新 Seen。
func (s *Store) UpsertMessage(message *domain.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.messages[message.ProviderMessageID]; ok {
		existing.Seen = message.Seen
		return nil
	}
	cloned := *message
	s.messages[message.ProviderMessageID] = &cloned
	return nil
}

// ListMessages 列出指定邮箱的邮件，按接收时间倒序。
func (s *Store) ListMessages(mailboxID string, limit int) ([]domain.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	messages := make([]domain.Message, 0)
	for _, message := range s.messages {
		if message.MailboxID == mailboxID {
			messages = append(messages, *message)
		}
	}
	sort.Slice(messages, func(i, j int) bool {
		return messages[i].ReceivedAt.After(messages[j].ReceivedAt)
	})
	if limit > 0 && len(messages) > limit {
		messages = messages[:limit]
	}
	return messages, nil
}

// CountMessages 统计邮箱内邮件数量。
func (s *Store) CountMessages(mailboxID string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int64
	for _, message := range s.messages {
		if message.MailboxID == mailboxID {
			count++
		}
	}
	return count, nil
}

// ========== Rate Limit Repository ==========

// IncrementRateLimit 自增限流计数，窗口到期后重新计数。
func (s *Store) IncrementRateLimit(key string, window time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	entry, ok := s.rateLimits[key]
	if !ok || now.After(entry.ExpiresAt) {
		entry = &rateLimitEntry{ExpiresAt: now.Add(window)}
		s.rateLimits[key] = entry
	}
	entry.Count++
	return entry.Count, nil
}

// GetRateLimit 获取限流计数。
func (s *Store) GetRateLimit(key string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.rateLimits[key]
	if !ok || time.Now().After(entry.ExpiresAt) {
		return 0, nil
	}
	return entry.Count, nil
}

// ========== 工具方法 ==========

// Close 关闭存储（内存实现为空操作）。
func (s *Store) Close() error { return nil }

// Health 检查存储状态（内存实现恒为健康）。
func (s *Store) Health() error { return nil }

package sql

import (
	"fmt"
	"strings"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/heddaaibot-ops/agent-toolbox-temp-email/internal/domain"
	"github.com/heddaaibot-ops/agent-toolbox-temp-email/internal/storage"
)

// Store 关系型数据库存储实现（PostgreSQL / MySQL）
type Store struct {
	db *gorm.DB
}

// NewStore 创建 PostgreSQL 存储实例
func NewStore(dsn string) (*Store, error) {
	return NewStoreWithDialector(postgres.Open(dsn))
}

// NewMySQLStore 创建 MySQL 存储实例
func NewMySQLStore(dsn string) (*Store, error) {
	return NewStoreWithDialector(mysql.Open(dsn))
}

// NewStoreForType 根据配置的数据库类型创建存储实例
func NewStoreForType(dbType, dsn string) (*Store, error) {
	switch strings.ToLower(dbType) {
	case "postgres", "postgresql":
		return NewStore(dsn)
	case "mysql":
		return NewMySQLStore(dsn)
	default:
		return nil, fmt.Errorf("unsupported database type: %q", dbType)
	}
}

// NewStoreWithDialector 使用指定的 GORM dialector 创建存储实例
func NewStoreWithDialector(dialector gorm.Dialector) (*Store, error) {
	// 配置 GORM
	config := &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent), // 静默模式
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	}

	// 连接数据库
	db, err := gorm.Open(dialector, config)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// 配置连接池
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}

	sqlDB.SetMaxOpenConns(25)
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetConnMaxLifetime(5 * time.Minute)

	store := &Store{db: db}

	// 自动迁移数据库表
	if err := store.migrate(); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// migrate 自动迁移数据库表结构
func (s *Store) migrate() error {
	return s.db.AutoMigrate(
		&domain.BlockchainEvent{},
		&domain.Mailbox{},
		&domain.Message{},
	)
}

// ========== Event Repository ==========

// SaveEvent 保存链上事件意图记录。
//
// 按 TxHash 冲突忽略：实时订阅与回放可能并发写同一笔交易，
// 重复写入不报错，也不会把已有记录的 processed 翻回 false。
func (s *Store) SaveEvent(event *domain.BlockchainEvent) error {
	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "tx_hash"}},
		DoNothing: true,
	}).Create(event).Error
}

// GetEventByTxHash 根据交易哈希获取链上事件
func (s *Store) GetEventByTxHash(txHash string) (*domain.BlockchainEvent, error) {
	var event domain.BlockchainEvent
	err := s.db.Where("tx_hash = ?", txHash).First(&event).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, storage.ErrEventNotFound
		}
		return nil, err
	}
	return &event, nil
}

// MarkEventProcessed 将事件标记为已处理
func (s *Store) MarkEventProcessed(txHash string) error {
	result := s.db.Model(&domain.BlockchainEvent{}).
		Where("tx_hash = ?", txHash).
		Update("processed", true)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return storage.ErrEventNotFound
	}
	return nil
}

// ListUnprocessedEvents 返回未完成处理的事件，供回放任务使用
func (s *Store) ListUnprocessedEvents(limit int) ([]domain.BlockchainEvent, error) {
	var events []domain.BlockchainEvent
	query := s.db.Where("processed = ?", false).Order("block_number asc")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&events).Error; err != nil {
		return nil, err
	}
	return events, nil
}

// ========== Mailbox Repository ==========

// CreateMailbox 写入邮箱记录。
//
// 按 MailboxID 冲突忽略，容忍同一购买事件被重放时的重复开通尝试。
func (s *Store) CreateMailbox(mailbox *domain.Mailbox) error {
	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "mailbox_id"}},
		DoNothing: true,
	}).Create(mailbox).Error
}

// GetMailbox 根据 MailboxID 获取邮箱
func (s *Store) GetMailbox(mailboxID string) (*domain.Mailbox, error) {
	var mailbox domain.Mailbox
	err := s.db.Where("mailbox_id = ?", mailboxID).First(&mailbox).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, storage.ErrMailboxNotFound
		}
		return nil, err
	}
	return &mailbox, nil
}

// ListMailboxesByBuyer 返回指定买家地址的全部邮箱（地址已小写），新的在前
func (s *Store) ListMailboxesByBuyer(buyer string) ([]domain.Mailbox, error) {
	var mailboxes []domain.Mailbox
	err := s.db.Where("buyer = ?", strings.ToLower(buyer)).
		Order("created_at desc").
		Find(&mailboxes).Error
	if err != nil {
		return nil, err
	}
	return mailboxes, nil
}

// DeactivateMailbox 停用单个邮箱。
//
// 条件更新 active=true 的行，与批量清扫并发执行时两边都是
// 单向幂等翻转，互不冲突。
func (s *Store) DeactivateMailbox(mailboxID string) error {
	return s.db.Model(&domain.Mailbox{}).
		Where("mailbox_id = ? AND active = ?", mailboxID, true).
		Update("active", false).Error
}

// DeactivateExpiredMailboxes 批量停用所有过期邮箱，返回停用数量
func (s *Store) DeactivateExpiredMailboxes(now time.Time) (int, error) {
	result := s.db.Model(&domain.Mailbox{}).
		Where("active = ? AND expires_at < ?", true, now).
		Update("active", false)
	if result.Error != nil {
		return 0, result.Error
	}
	return int(result.RowsAffected), nil
}

// CountActiveMailboxes 统计当前活跃邮箱数量
func (s *Store) CountActiveMailboxes() (int64, error) {
	var count int64
	err := s.db.Model(&domain.Mailbox{}).Where("active = ?", true).Count(&count).Error
	return count, err
}

// ========== Message Repository ==========

// UpsertMessage 按 ProviderMessageID 写入或更新邮件。
//
// 冲突时只更新 Seen 标记，其余字段保持首次写入的值。
func (s *Store) UpsertMessage(message *domain.Message) error {
	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "provider_message_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"seen"}),
	}).Create(message).Error
}

// ListMessages 列出指定邮箱的邮件，按接收时间倒序；limit<=0 表示不限制
func (s *Store) ListMessages(mailboxID string, limit int) ([]domain.Message, error) {
	var messages []domain.Message
	query := s.db.Where("mailbox_id = ?", mailboxID).Order("received_at desc")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&messages).Error; err != nil {
		return nil, err
	}
	return messages, nil
}

// CountMessages 统计邮箱内邮件数量
func (s *Store) CountMessages(mailboxID string) (int64, error) {
	var count int64
	err := s.db.Model(&domain.Message{}).Where("mailbox_id = ?", mailboxID).Count(&count).Error
	return count, err
}

// ========== 工具方法 ==========

// Close 关闭数据库连接
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Health 检查数据库连接状态
func (s *Store) Health() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Ping()
}

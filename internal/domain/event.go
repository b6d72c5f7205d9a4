package domain

import "time"

// 链上事件类型。
const EventTypeEmailPurchased = "EmailPurchased"

// BlockchainEvent 表示一条已观测到的链上购买事件，按交易哈希唯一。
//
// 该记录是幂等处理的持久意图日志：首次观测时以 Processed=false 落库，
// 邮箱开通完成后 Processed 翻转为 true，且只翻转一次；记录永不删除。
type BlockchainEvent struct {
	TxHash        string    `json:"txHash" gorm:"primaryKey;type:varchar(66)"`
	EventType     string    `json:"eventType" gorm:"type:varchar(64)"`
	BlockNumber   uint64    `json:"blockNumber"`
	MailboxID     string    `json:"mailboxId" gorm:"type:varchar(64);index"`
	Buyer         string    `json:"buyer" gorm:"type:varchar(42);index"`
	ExpiresAt     time.Time `json:"expiresAt"`
	PaymentMethod string    `json:"paymentMethod" gorm:"type:varchar(32)"`
	Processed     bool      `json:"processed" gorm:"default:false;index"`
	CreatedAt     time.Time `json:"createdAt"`
}

// PurchaseEvent 是从链上日志解码后的购买事件载荷。
type PurchaseEvent struct {
	Buyer         string
	MailboxID     string
	ExpiresAt     time.Time
	PaymentMethod string
	TxHash        string
	BlockNumber   uint64
}

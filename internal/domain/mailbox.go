package domain

import "time"

// Mailbox 表示一次链上购买对应的临时邮箱。
//
// ExpiresAt 来自链上事件，创建后不可变；Active 只允许 true→false 单向翻转，
// 不存在重新激活（重新购买会产生新的 MailboxID）。
type Mailbox struct {
	MailboxID        string    `json:"mailboxId" gorm:"primaryKey;type:varchar(64)"`
	Email            string    `json:"email" gorm:"type:varchar(255);uniqueIndex"`
	ProviderPassword string    `json:"-" gorm:"type:varchar(255)"` // 上游服务商凭据，敏感，不序列化
	Buyer            string    `json:"buyer" gorm:"type:varchar(42);index"` // 统一存小写地址
	CreatedAt        time.Time `json:"createdAt"`
	ExpiresAt        time.Time `json:"expiresAt" gorm:"index"`
	DurationHours    int       `json:"durationHours"`
	PaymentMethod    string    `json:"paymentMethod" gorm:"type:varchar(32)"`
	Active           bool      `json:"active" gorm:"default:true;index"`
}

// IsExpired 判断邮箱在给定时刻是否已过期。
func (m *Mailbox) IsExpired(now time.Time) bool {
	return now.After(m.ExpiresAt)
}

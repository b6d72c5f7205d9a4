package domain

import "time"

// Message 表示从上游服务商镜像下来的一封邮件。
//
// ProviderMessageID 是服务商侧的唯一标识；同步时按该键 upsert，
// 冲突时只允许更新 Seen 标记，其余字段自首次写入后不再变更。
type Message struct {
	ProviderMessageID string    `json:"id" gorm:"primaryKey;type:varchar(64)"`
	MailboxID         string    `json:"mailboxId" gorm:"type:varchar(64);index;not null"`
	From              string    `json:"from" gorm:"type:varchar(255)"`
	To                string    `json:"to" gorm:"type:varchar(255)"`
	Subject           string    `json:"subject" gorm:"type:varchar(500)"`
	Preview           string    `json:"preview" gorm:"type:varchar(1000)"`
	HasAttachments    bool      `json:"hasAttachments"`
	SizeBytes         int64     `json:"sizeBytes"`
	Seen              bool      `json:"seen" gorm:"default:false"`
	ReceivedAt        time.Time `json:"receivedAt" gorm:"index"`
	CreatedAt         time.Time `json:"createdAt"`
}

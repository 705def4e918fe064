package domain

import "time"

// Message 投递到租约邮箱的一封邮件
type Message struct {
	ID              string    `json:"id" gorm:"primaryKey;type:varchar(26)"`
	From            string    `json:"from" gorm:"column:from_address;type:varchar(320)"`
	To              string    `json:"to" gorm:"column:to_address;type:varchar(320);index;not null"`
	Subject         string    `json:"subject" gorm:"type:varchar(998)"`
	Text            string    `json:"text,omitempty" gorm:"column:text_content;type:text"`
	HTML            string    `json:"html,omitempty" gorm:"column:html_content;type:text"`
	ReceivedAt      time.Time `json:"receivedAt" gorm:"index;not null"`
	HasAttachments  bool      `json:"hasAttachments" gorm:"default:false"`
	AttachmentCount int       `json:"attachmentCount" gorm:"default:0"`
}

// TableName 指定表名
func (Message) TableName() string {
	return "messages"
}

// MessageSummary 列表接口返回的邮件摘要
type MessageSummary struct {
	ID             string    `json:"id"`
	From           string    `json:"from"`
	Subject        string    `json:"subject"`
	ReceivedAt     time.Time `json:"receivedAt"`
	HasAttachments bool      `json:"hasAttachments"`
}

// Summary 生成摘要
func (m *Message) Summary() MessageSummary {
	return MessageSummary{
		ID:             m.ID,
		From:           m.From,
		Subject:        m.Subject,
		ReceivedAt:     m.ReceivedAt,
		HasAttachments: m.HasAttachments,
	}
}

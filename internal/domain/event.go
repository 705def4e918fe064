package domain

import "time"

// EventType 租约事件类型
type EventType string

const (
	EventLeaseCreated    EventType = "lease.created"
	EventLeaseReassigned EventType = "lease.reassigned"
	EventLeaseDeleted    EventType = "lease.deleted"
	EventRoleChanged     EventType = "role.changed"
	EventMessageReceived EventType = "message.received"
)

// Event 发往通知通道的事件
type Event struct {
	Type       EventType `json:"type"`
	UserID     string    `json:"userId,omitempty"`
	Email      string    `json:"email,omitempty"`
	Role       Role      `json:"role,omitempty"`
	ExpiresAt  time.Time `json:"expiresAt,omitzero"`
	MessageID  string    `json:"messageId,omitempty"`
	From       string    `json:"from,omitempty"`
	Subject    string    `json:"subject,omitempty"`
	OccurredAt time.Time `json:"occurredAt"`
}

package domain

import "time"

// LeaseStatus 租约状态
type LeaseStatus string

const (
	LeaseActive  LeaseStatus = "active"
	LeaseExpired LeaseStatus = "expired"
)

// Lease 一个邮箱地址的租约。
//
// Email 在整张表内唯一；过期的地址只能通过重新认领回到 active，
// 不会被重复插入。CreatedAt 是当前这一轮租期的开始时间。
type Lease struct {
	ID        int64       `json:"-" gorm:"primaryKey;autoIncrement"`
	Email     string      `json:"email" gorm:"type:varchar(320);uniqueIndex;not null"`
	OwnerID   string      `json:"ownerId" gorm:"type:varchar(64);index:idx_leases_owner_status,priority:1;not null"`
	CreatedAt time.Time   `json:"createdAt"`
	ExpiresAt time.Time   `json:"expiresAt" gorm:"index;not null"`
	Status    LeaseStatus `json:"status" gorm:"type:varchar(16);index:idx_leases_owner_status,priority:2;not null"`
}

// TableName 指定表名
func (Lease) TableName() string {
	return "leases"
}

// IsActive 判断租约是否处于有效状态
func (l *Lease) IsActive() bool {
	return l.Status == LeaseActive
}

// Allocation 创建或认领租约后返回给调用方的结果
type Allocation struct {
	Email              string    `json:"email"`
	ExpiresAt          time.Time `json:"expiresAt"`
	ExpiresAtFormatted string    `json:"expiresAtFormatted"`
}

// LeaseView 列表中展示的租约
type LeaseView struct {
	Email              string      `json:"email"`
	Status             LeaseStatus `json:"status"`
	CreatedAt          time.Time   `json:"createdAt"`
	ExpiresAt          time.Time   `json:"expiresAt"`
	ExpiresAtFormatted string      `json:"expiresAtFormatted,omitempty"`
}

// LeaseListing 用户自己的有效租约以及其他人已过期、可以认领的租约
type LeaseListing struct {
	Own       []LeaseView `json:"own"`
	Available []LeaseView `json:"available"`
}

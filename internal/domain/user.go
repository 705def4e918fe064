package domain

import "time"

// User 租约持有者。UserID 来自外部身份（Telegram chat id 或 JWT 中的 user_id），
// MaxLeases 是按角色计算后的缓存值，角色变化时重新同步。
type User struct {
	UserID    string    `json:"userId" gorm:"primaryKey;type:varchar(64)"`
	Role      Role      `json:"role" gorm:"type:varchar(20);default:'regular';not null"`
	MaxLeases int       `json:"maxLeases" gorm:"not null;default:3"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// TableName 指定表名
func (User) TableName() string {
	return "users"
}

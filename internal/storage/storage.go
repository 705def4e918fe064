package storage

import (
	"context"
	"errors"
	"time"

	"tempmail/lease/internal/domain"
)

var (
	// ErrUserNotFound 用户不存在
	ErrUserNotFound = errors.New("user not found")
	// ErrLeaseNotFound 租约不存在
	ErrLeaseNotFound = errors.New("lease not found")
	// ErrMessageNotFound 邮件不存在
	ErrMessageNotFound = errors.New("message not found")
	// ErrDuplicateAddress 地址已被占用（唯一约束冲突）
	ErrDuplicateAddress = errors.New("address already taken")
	// ErrQuotaReached 插入或认领时有效租约数已达上限
	ErrQuotaReached = errors.New("active lease quota reached")
	// ErrLeaseUnavailable 认领时租约已不处于 expired 状态
	ErrLeaseUnavailable = errors.New("lease is not claimable")
)

// UserRepository 定义用户与角色数据存取操作。
type UserRepository interface {
	// CreateUserIfAbsent 不存在时创建，已存在时不修改任何字段
	CreateUserIfAbsent(ctx context.Context, user *domain.User) error
	GetUser(ctx context.Context, userID string) (*domain.User, error)
	// SetUserRole 写入角色，用户不存在时创建
	SetUserRole(ctx context.Context, userID string, role domain.Role) error
	// UpdateMaxLeases 用户不存在时不做任何修改
	UpdateMaxLeases(ctx context.Context, userID string, maxLeases int) error
}

// LeaseRepository 定义租约数据存取操作。
type LeaseRepository interface {
	CountActiveLeases(ctx context.Context, ownerID string) (int, error)
	// InsertLease 在同一事务内锁定持有者、复核配额并插入。
	// 配额已满返回 ErrQuotaReached，地址冲突返回 ErrDuplicateAddress。
	InsertLease(ctx context.Context, lease *domain.Lease) error
	GetLeaseByEmail(ctx context.Context, email string) (*domain.Lease, error)
	LeaseExists(ctx context.Context, email string) (bool, error)
	// GetLeaseStatus 仅返回 ownerID 名下租约的状态
	GetLeaseStatus(ctx context.Context, email, ownerID string) (domain.LeaseStatus, error)
	// ListActiveLeases 按 created_at 升序
	ListActiveLeases(ctx context.Context, ownerID string) ([]domain.Lease, error)
	// ListExpiredLeases 列出已过期租约，excludeOwner 非空时排除该用户的
	ListExpiredLeases(ctx context.Context, excludeOwner string) ([]domain.Lease, error)
	// ClaimExpiredLease 以 id 和 status='expired' 为条件改写持有者，并在同一事务内复核配额。
	// 条件不成立返回 ErrLeaseUnavailable。
	ClaimExpiredLease(ctx context.Context, id int64, ownerID string, now, expiresAt time.Time) error
	// ExpireLeases 把 expires_at < now 的有效租约标记为 expired，返回变更行数
	ExpireLeases(ctx context.Context, now time.Time) (int64, error)
	DeleteLease(ctx context.Context, email, ownerID string) (int64, error)
	DeleteLeaseByEmail(ctx context.Context, email string) (int64, error)
}

// MessageRepository 定义邮件数据存取操作。
type MessageRepository interface {
	SaveMessage(ctx context.Context, message *domain.Message) error
	GetMessage(ctx context.Context, id string) (*domain.Message, error)
	// DeleteMessage 邮件不存在时返回 ErrMessageNotFound
	DeleteMessage(ctx context.Context, id string) error
	// ListMessagesByRecipient 按接收时间倒序分页
	ListMessagesByRecipient(ctx context.Context, address string, limit, offset int) ([]domain.Message, error)
	CountMessagesByRecipient(ctx context.Context, address string) (int64, error)
	DeleteMessagesByRecipient(ctx context.Context, address string) (int64, error)
	DeleteMessagesOlderThan(ctx context.Context, before time.Time) (int64, error)
}

// Store 聚合全部仓储接口。
type Store interface {
	UserRepository
	LeaseRepository
	MessageRepository
	Close() error
	Health() error
}

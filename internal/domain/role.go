package domain

import (
	"errors"
	"strings"
	"time"
)

// ErrInvalidRole 角色名称不在 regular / vip / admin 之内
var ErrInvalidRole = errors.New("invalid role")

// Role 用户角色，决定租约配额与租期
type Role string

const (
	RoleRegular Role = "regular"
	RoleVIP     Role = "vip"
	RoleAdmin   Role = "admin"
)

// Roles 返回全部合法角色，顺序固定
func Roles() []Role {
	return []Role{RoleRegular, RoleVIP, RoleAdmin}
}

// ParseRole 解析角色名称，大小写不敏感
func ParseRole(value string) (Role, error) {
	role := Role(strings.ToLower(strings.TrimSpace(value)))
	switch role {
	case RoleRegular, RoleVIP, RoleAdmin:
		return role, nil
	default:
		return "", ErrInvalidRole
	}
}

// RolePolicy 单个角色的配额：最多同时持有的有效租约数和每次租约时长
type RolePolicy struct {
	MaxLeases     int           `json:"maxLeases"`
	LeaseDuration time.Duration `json:"leaseDuration"`
}

// PolicyTable 角色到配额的只读映射。
//
// 构造后不可修改，可以在多个 goroutine 之间共享。
type PolicyTable struct {
	policies map[Role]RolePolicy
}

// DefaultPolicies 返回内置配额：regular 3 个 / 1 小时，vip 10 个 / 7 天，admin 1000 个 / 180 天
func DefaultPolicies() PolicyTable {
	return NewPolicyTable(map[Role]RolePolicy{
		RoleRegular: {MaxLeases: 3, LeaseDuration: time.Hour},
		RoleVIP:     {MaxLeases: 10, LeaseDuration: 168 * time.Hour},
		RoleAdmin:   {MaxLeases: 1000, LeaseDuration: 4320 * time.Hour},
	})
}

// NewPolicyTable 复制传入的映射。缺少 regular 时回退到内置的 regular 配额，
// 因为未知角色都要落到 regular 上。
func NewPolicyTable(policies map[Role]RolePolicy) PolicyTable {
	copied := make(map[Role]RolePolicy, len(policies)+1)
	for role, policy := range policies {
		copied[role] = policy
	}
	if _, ok := copied[RoleRegular]; !ok {
		copied[RoleRegular] = RolePolicy{MaxLeases: 3, LeaseDuration: time.Hour}
	}
	return PolicyTable{policies: copied}
}

// Resolve 返回角色的配额，未知角色按 regular 处理，永不失败
func (t PolicyTable) Resolve(role Role) RolePolicy {
	if policy, ok := t.policies[role]; ok {
		return policy
	}
	if policy, ok := t.policies[RoleRegular]; ok {
		return policy
	}
	return RolePolicy{MaxLeases: 3, LeaseDuration: time.Hour}
}

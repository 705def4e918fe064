package service

import (
	"context"
	"errors"

	"tempmail/lease/internal/domain"
	"tempmail/lease/internal/storage"
)

// QuotaService 维护用户记录，并让缓存的 max_leases 与角色配额保持一致。
type QuotaService struct {
	users    storage.UserRepository
	policies domain.PolicyTable
}

// NewQuotaService 创建配额服务。策略表在构造时注入，之后只读。
func NewQuotaService(users storage.UserRepository, policies domain.PolicyTable) *QuotaService {
	return &QuotaService{users: users, policies: policies}
}

// Policies 返回注入的策略表
func (s *QuotaService) Policies() domain.PolicyTable {
	return s.policies
}

// EnsureUser 用户不存在时以 regular 角色创建，已存在时不改动角色，然后同步配额。
func (s *QuotaService) EnsureUser(ctx context.Context, userID string) (domain.RolePolicy, error) {
	err := s.users.CreateUserIfAbsent(ctx, &domain.User{
		UserID:    userID,
		Role:      domain.RoleRegular,
		MaxLeases: s.policies.Resolve(domain.RoleRegular).MaxLeases,
	})
	if err != nil {
		return domain.RolePolicy{}, persistErr("create user", err)
	}
	return s.SyncLimits(ctx, userID)
}

// SyncLimits 按当前角色重新计算并写入 max_leases。没有用户记录时按 regular 计算。
func (s *QuotaService) SyncLimits(ctx context.Context, userID string) (domain.RolePolicy, error) {
	role, err := s.GetRole(ctx, userID)
	if err != nil {
		return domain.RolePolicy{}, err
	}
	policy := s.policies.Resolve(role)
	if err := s.users.UpdateMaxLeases(ctx, userID, policy.MaxLeases); err != nil {
		return domain.RolePolicy{}, persistErr("update max leases", err)
	}
	return policy, nil
}

// SetRole 写入角色并立即同步配额
func (s *QuotaService) SetRole(ctx context.Context, userID string, role domain.Role) error {
	parsed, err := domain.ParseRole(string(role))
	if err != nil {
		return ErrInvalidRole
	}
	if err := s.users.SetUserRole(ctx, userID, parsed); err != nil {
		return persistErr("set role", err)
	}
	_, err = s.SyncLimits(ctx, userID)
	return err
}

// GetRole 返回用户角色，没有记录时返回 regular
func (s *QuotaService) GetRole(ctx context.Context, userID string) (domain.Role, error) {
	user, err := s.users.GetUser(ctx, userID)
	if err != nil {
		if errors.Is(err, storage.ErrUserNotFound) {
			return domain.RoleRegular, nil
		}
		return "", persistErr("get user", err)
	}
	if user.Role == "" {
		return domain.RoleRegular, nil
	}
	return user.Role, nil
}

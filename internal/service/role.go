package service

import (
	"context"
	"time"

	"tempmail/lease/internal/domain"
)

// RoleService 管理员使用的角色管理入口
type RoleService struct {
	quota     *QuotaService
	publisher EventPublisher
}

// NewRoleService 创建角色管理服务
func NewRoleService(quota *QuotaService) *RoleService {
	return &RoleService{quota: quota, publisher: nopPublisher{}}
}

// SetPublisher 设置事件发布器
func (s *RoleService) SetPublisher(publisher EventPublisher) {
	if publisher == nil {
		publisher = nopPublisher{}
	}
	s.publisher = publisher
}

// SetRole 解析并写入角色，返回新角色对应的配额
func (s *RoleService) SetRole(ctx context.Context, userID, role string) (domain.RolePolicy, error) {
	parsed, err := domain.ParseRole(role)
	if err != nil {
		return domain.RolePolicy{}, ErrInvalidRole
	}
	if err := s.quota.SetRole(ctx, userID, parsed); err != nil {
		return domain.RolePolicy{}, err
	}

	s.publisher.Publish(domain.Event{
		Type:       domain.EventRoleChanged,
		UserID:     userID,
		Role:       parsed,
		OccurredAt: time.Now().UTC(),
	})
	return s.quota.Policies().Resolve(parsed), nil
}

// GetRole 返回角色，没有记录时为 regular
func (s *RoleService) GetRole(ctx context.Context, userID string) (domain.Role, error) {
	return s.quota.GetRole(ctx, userID)
}

// IsAdmin 判断用户是否为 admin 角色
func (s *RoleService) IsAdmin(ctx context.Context, userID string) (bool, error) {
	role, err := s.quota.GetRole(ctx, userID)
	if err != nil {
		return false, err
	}
	return role == domain.RoleAdmin, nil
}

package service

import (
	"errors"
	"fmt"

	"tempmail/lease/internal/domain"
)

var (
	// ErrQuotaExceeded 有效租约数已达角色上限
	ErrQuotaExceeded = errors.New("lease quota exceeded")
	// ErrAlreadyExists 自定义地址已存在（不论状态）
	ErrAlreadyExists = errors.New("mailbox already exists")
	// ErrMailboxUnavailable 地址不存在，或不处于可认领的 expired 状态
	ErrMailboxUnavailable = errors.New("mailbox unavailable")
	// ErrInvalidRole 角色名称非法
	ErrInvalidRole = domain.ErrInvalidRole
	// ErrAllocationExhausted 随机地址多次冲突后放弃
	ErrAllocationExhausted = errors.New("address allocation exhausted")
	// ErrPersistence 底层存储失败，原始错误保留在错误链中
	ErrPersistence = errors.New("persistence failure")
	// ErrMessageNotFound 邮件不存在
	ErrMessageNotFound = errors.New("message not found")
)

// errAddressCollision 随机地址撞上已有租约，只在分配循环内部使用
var errAddressCollision = errors.New("address collision")

// persistErr 包装存储错误，调用方既能匹配 ErrPersistence 也能匹配原始错误
func persistErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrPersistence, op, err)
}

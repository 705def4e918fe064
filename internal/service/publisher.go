package service

import "tempmail/lease/internal/domain"

// EventPublisher 接收租约事件。实现必须立即返回，投递在后台完成，
// 投递失败也不会回传到租约操作。
type EventPublisher interface {
	Publish(event domain.Event)
}

type nopPublisher struct{}

func (nopPublisher) Publish(domain.Event) {}

package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"tempmail/lease/internal/domain"
	"tempmail/lease/internal/monitoring"
	"tempmail/lease/internal/storage"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// PageLimit 把请求的分页大小收敛到 [1, 100]，非正数取默认 20
func PageLimit(limit int) int {
	if limit <= 0 {
		return defaultPageSize
	}
	if limit > maxPageSize {
		return maxPageSize
	}
	return limit
}

// MessageService 封装邮件的保存、查询与清理
type MessageService struct {
	messages  storage.MessageRepository
	leases    storage.LeaseRepository
	publisher EventPublisher
	metrics   *monitoring.Metrics
	log       *zap.Logger
}

// NewMessageService 创建邮件服务
func NewMessageService(store storage.Store, log *zap.Logger) *MessageService {
	if log == nil {
		log = zap.NewNop()
	}
	return &MessageService{
		messages:  store,
		leases:    store,
		publisher: nopPublisher{},
		log:       log.Named("message"),
	}
}

// SetPublisher 设置事件发布器
func (s *MessageService) SetPublisher(publisher EventPublisher) {
	if publisher == nil {
		publisher = nopPublisher{}
	}
	s.publisher = publisher
}

// SetMetrics 设置监控指标
func (s *MessageService) SetMetrics(metrics *monitoring.Metrics) {
	s.metrics = metrics
}

// Ingest 保存一封新邮件。收件地址处于有效租约中时通知持有者。
func (s *MessageService) Ingest(ctx context.Context, message *domain.Message) error {
	message.To = normalizeEmail(message.To)
	if message.ID == "" {
		message.ID = ulid.Make().String()
	}
	if message.ReceivedAt.IsZero() {
		message.ReceivedAt = time.Now().UTC()
	}

	if err := s.messages.SaveMessage(ctx, message); err != nil {
		return persistErr("save message", err)
	}
	s.metrics.RecordMessageReceived()

	lease, err := s.leases.GetLeaseByEmail(ctx, message.To)
	switch {
	case err == nil:
		if lease.IsActive() {
			s.publisher.Publish(domain.Event{
				Type:       domain.EventMessageReceived,
				UserID:     lease.OwnerID,
				Email:      message.To,
				MessageID:  message.ID,
				From:       message.From,
				Subject:    message.Subject,
				OccurredAt: message.ReceivedAt,
			})
		}
	case errors.Is(err, storage.ErrLeaseNotFound):
	default:
		// 邮件已经保存，查询持有者失败只影响通知
		s.log.Warn("lookup lease owner failed", zap.String("to", message.To), zap.Error(err))
	}
	return nil
}

// ListByRecipient 分页列出收件人的邮件，limit 超出范围时取默认值或上限
func (s *MessageService) ListByRecipient(ctx context.Context, address string, limit, offset int) ([]domain.Message, error) {
	limit = PageLimit(limit)
	if offset < 0 {
		offset = 0
	}
	messages, err := s.messages.ListMessagesByRecipient(ctx, normalizeEmail(address), limit, offset)
	if err != nil {
		return nil, persistErr("list messages", err)
	}
	return messages, nil
}

// CountByRecipient 统计收件人的邮件数量
func (s *MessageService) CountByRecipient(ctx context.Context, address string) (int64, error) {
	count, err := s.messages.CountMessagesByRecipient(ctx, normalizeEmail(address))
	if err != nil {
		return 0, persistErr("count messages", err)
	}
	return count, nil
}

// DeleteByRecipient 删除收件人的全部邮件
func (s *MessageService) DeleteByRecipient(ctx context.Context, address string) (int64, error) {
	deleted, err := s.messages.DeleteMessagesByRecipient(ctx, normalizeEmail(address))
	if err != nil {
		return 0, persistErr("delete messages", err)
	}
	s.metrics.RecordMessagesPurged(deleted)
	return deleted, nil
}

// DeleteOlderThan 删除接收时间早于 before 的邮件
func (s *MessageService) DeleteOlderThan(ctx context.Context, before time.Time) (int64, error) {
	deleted, err := s.messages.DeleteMessagesOlderThan(ctx, before)
	if err != nil {
		return 0, persistErr("purge messages", err)
	}
	s.metrics.RecordMessagesPurged(deleted)
	return deleted, nil
}

// Delete 删除单封邮件，不存在时返回 ErrMessageNotFound
func (s *MessageService) Delete(ctx context.Context, id string) error {
	err := s.messages.DeleteMessage(ctx, strings.TrimSpace(id))
	if err != nil {
		if errors.Is(err, storage.ErrMessageNotFound) {
			return ErrMessageNotFound
		}
		return persistErr("delete message", err)
	}
	s.metrics.RecordMessagesPurged(1)
	return nil
}

// Get 按 ID 获取邮件
func (s *MessageService) Get(ctx context.Context, id string) (*domain.Message, error) {
	message, err := s.messages.GetMessage(ctx, strings.TrimSpace(id))
	if err != nil {
		if errors.Is(err, storage.ErrMessageNotFound) {
			return nil, ErrMessageNotFound
		}
		return nil, persistErr("get message", err)
	}
	return message, nil
}

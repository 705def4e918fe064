package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"tempmail/lease/internal/monitoring"
)

// CleanupResult 一次清理的统计
type CleanupResult struct {
	MessagesPurged int64         `json:"messagesPurged"`
	LeasesExpired  int64         `json:"leasesExpired"`
	LeasesDeleted  int           `json:"leasesDeleted"`
	Duration       time.Duration `json:"duration"`
}

// CleanupService 定期清理：删除超过保留期的邮件，标记到期租约，
// 然后删除全部已过期租约及其邮件。
type CleanupService struct {
	leases    *LeaseService
	messages  *MessageService
	retention time.Duration
	metrics   *monitoring.Metrics
	log       *zap.Logger
	now       func() time.Time
}

// NewCleanupService 创建清理服务，retention 为邮件保留时长
func NewCleanupService(leases *LeaseService, messages *MessageService, retention time.Duration, log *zap.Logger) *CleanupService {
	if log == nil {
		log = zap.NewNop()
	}
	return &CleanupService{
		leases:    leases,
		messages:  messages,
		retention: retention,
		log:       log.Named("cleanup"),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// SetMetrics 设置监控指标
func (s *CleanupService) SetMetrics(metrics *monitoring.Metrics) {
	s.metrics = metrics
}

// Run 执行一次完整清理。单个租约删除失败会记录下来并继续处理其余租约，
// 所有失败通过 errors.Join 一起返回。
func (s *CleanupService) Run(ctx context.Context) (*CleanupResult, error) {
	started := time.Now()
	result := &CleanupResult{}
	var errs []error

	if s.retention > 0 {
		purged, err := s.messages.DeleteOlderThan(ctx, s.now().Add(-s.retention))
		if err != nil {
			errs = append(errs, err)
		}
		result.MessagesPurged = purged
	}

	expired, err := s.leases.ExpireAll(ctx)
	if err != nil {
		return result, errors.Join(append(errs, err)...)
	}
	result.LeasesExpired = expired

	leases, err := s.leases.ListExpired(ctx)
	if err != nil {
		return result, errors.Join(append(errs, err)...)
	}

	for _, lease := range leases {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}
		if err := s.leases.DeleteLeaseForSweep(ctx, lease.Email); err != nil {
			s.log.Warn("delete expired lease failed", zap.String("email", lease.Email), zap.Error(err))
			errs = append(errs, fmt.Errorf("%s: %w", lease.Email, err))
			continue
		}
		result.LeasesDeleted++
	}

	result.Duration = time.Since(started)
	s.metrics.RecordSweep(result.Duration)
	s.log.Info("cleanup finished",
		zap.Int64("messages_purged", result.MessagesPurged),
		zap.Int64("leases_expired", result.LeasesExpired),
		zap.Int("leases_deleted", result.LeasesDeleted),
		zap.Duration("duration", result.Duration),
	)

	return result, errors.Join(errs...)
}

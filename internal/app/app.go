// Package app 按配置组装存储、服务和通知通道，供 server 与 leasectl 共用。
package app

import (
	"fmt"
	"time"
	_ "time/tzdata" // 容器镜像里可能没有时区数据库

	"go.uber.org/zap"

	"tempmail/lease/internal/config"
	"tempmail/lease/internal/domain"
	"tempmail/lease/internal/monitoring"
	"tempmail/lease/internal/notify"
	"tempmail/lease/internal/pool"
	"tempmail/lease/internal/ratelimit"
	"tempmail/lease/internal/service"
	"tempmail/lease/internal/storage"
	"tempmail/lease/internal/storage/gormstore"
	"tempmail/lease/internal/storage/memory"
	"tempmail/lease/internal/storage/redis"
)

// Policies 把配置中的角色配额转换为策略表
func Policies(cfg config.RolesConfig) domain.PolicyTable {
	return domain.NewPolicyTable(map[domain.Role]domain.RolePolicy{
		domain.RoleRegular: {MaxLeases: cfg.Regular.MaxLeases, LeaseDuration: cfg.Regular.LeaseDuration},
		domain.RoleVIP:     {MaxLeases: cfg.VIP.MaxLeases, LeaseDuration: cfg.VIP.LeaseDuration},
		domain.RoleAdmin:   {MaxLeases: cfg.Admin.MaxLeases, LeaseDuration: cfg.Admin.LeaseDuration},
	})
}

// OpenStore 配置了数据库时使用 GORM 存储，否则使用内存存储
func OpenStore(cfg config.DatabaseConfig, log *zap.Logger) (storage.Store, error) {
	if cfg.Type == "" || cfg.DSN == "" {
		log.Warn("using memory storage, data is lost on restart")
		return memory.NewStore(), nil
	}

	store, err := gormstore.NewStore(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize %s storage: %w", cfg.Type, err)
	}
	log.Info("database storage initialized", zap.String("type", cfg.Type))
	return store, nil
}

// OpenLimiter 配置了 Redis 时使用共享计数，否则使用进程内令牌桶。
// 返回的 client 可能为 nil。
func OpenLimiter(cfg *config.Config, log *zap.Logger) (ratelimit.Limiter, *redis.Client, error) {
	perMinute := cfg.RateLimit.CommandsPerMinute
	if cfg.Redis.Address == "" {
		return ratelimit.NewLocal(perMinute), nil, nil
	}

	client, err := redis.New(cfg.Redis, log)
	if err != nil {
		return nil, nil, err
	}
	return redis.NewRateLimiter(client, "tempmail:rl", perMinute, time.Minute), client, nil
}

// Services 业务服务集合
type Services struct {
	Quota    *service.QuotaService
	Leases   *service.LeaseService
	Messages *service.MessageService
	Roles    *service.RoleService
	Cleanup  *service.CleanupService
}

// NewServices 创建全部业务服务，metrics 可以为 nil
func NewServices(cfg *config.Config, store storage.Store, metrics *monitoring.Metrics, log *zap.Logger) (*Services, error) {
	location, err := time.LoadLocation(cfg.Mailbox.DisplayTimezone)
	if err != nil {
		return nil, fmt.Errorf("invalid display timezone: %w", err)
	}

	validator := domain.NewAddressValidator(cfg.Mailbox.Domains, cfg.Mailbox.ReservedNames)
	quota := service.NewQuotaService(store, Policies(cfg.Roles))

	leases := service.NewLeaseService(store, quota, validator, service.LeaseOptions{
		MaxAllocAttempts: cfg.Mailbox.MaxAllocAttempts,
		Location:         location,
	}, log)
	leases.SetMetrics(metrics)

	messages := service.NewMessageService(store, log)
	messages.SetMetrics(metrics)

	cleanup := service.NewCleanupService(leases, messages, cfg.Mailbox.MessageRetention, log)
	cleanup.SetMetrics(metrics)

	return &Services{
		Quota:    quota,
		Leases:   leases,
		Messages: messages,
		Roles:    service.NewRoleService(quota),
		Cleanup:  cleanup,
	}, nil
}

// SetPublisher 把事件发布器接到会产生事件的服务上
func (s *Services) SetPublisher(publisher service.EventPublisher) {
	s.Leases.SetPublisher(publisher)
	s.Messages.SetPublisher(publisher)
	s.Roles.SetPublisher(publisher)
}

// Notifiers 按配置创建通知通道。返回的 closers 需要在退出时调用。
func Notifiers(cfg *config.Config, location *time.Location, log *zap.Logger) ([]notify.Notifier, []func() error, error) {
	sinks := []notify.Notifier{notify.NewLogNotifier(log)}
	var closers []func() error

	if cfg.Telegram.BotToken != "" {
		client := notify.NewTelegramClient(cfg.Telegram.BotToken, cfg.Telegram.APIURL)
		sinks = append(sinks, notify.NewTelegramNotifier(client, cfg.Telegram.AdminChatID, cfg.Telegram.LogEnabled, location))
	}

	if len(cfg.Kafka.Brokers) > 0 {
		kafkaSink, err := notify.NewKafkaNotifier(cfg.Kafka.Brokers, cfg.Kafka.Topic, log)
		if err != nil {
			return nil, nil, err
		}
		sinks = append(sinks, kafkaSink)
		closers = append(closers, kafkaSink.Close)
	}

	return sinks, closers, nil
}

// NewDispatcher 创建事件分发器和它使用的协程池，协程池需要调用方启动
func NewDispatcher(cfg config.NotifyConfig, sinks []notify.Notifier, metrics *monitoring.Metrics, log *zap.Logger) (*notify.Dispatcher, *pool.WorkerPool) {
	workers := pool.NewWorkerPool(cfg.Workers, cfg.QueueSize, log)
	dispatcher := notify.NewDispatcher(workers, log, sinks...)
	dispatcher.SetMetrics(metrics)
	return dispatcher, workers
}

// Package notify 把租约事件投递到外部通道：Telegram、Kafka 和日志。
package notify

import (
	"context"
	"time"

	"go.uber.org/zap"

	"tempmail/lease/internal/domain"
	"tempmail/lease/internal/monitoring"
	"tempmail/lease/internal/pool"
)

const defaultDeliveryTimeout = 10 * time.Second

// Notifier 单个投递通道
type Notifier interface {
	Name() string
	Notify(ctx context.Context, event domain.Event) error
}

// Dispatcher 把事件交给协程池异步投递到全部通道。
//
// Publish 从不阻塞：队列已满时丢弃事件并计数，通道失败只记录日志。
type Dispatcher struct {
	pool    *pool.WorkerPool
	sinks   []Notifier
	timeout time.Duration
	metrics *monitoring.Metrics
	log     *zap.Logger
}

// NewDispatcher 创建事件分发器，pool 需要由调用方启动和停止
func NewDispatcher(workers *pool.WorkerPool, log *zap.Logger, sinks ...Notifier) *Dispatcher {
	if log == nil {
		log = zap.NewNop()
	}
	return &Dispatcher{
		pool:    workers,
		sinks:   sinks,
		timeout: defaultDeliveryTimeout,
		log:     log.Named("notify"),
	}
}

// SetMetrics 设置监控指标
func (d *Dispatcher) SetMetrics(metrics *monitoring.Metrics) {
	d.metrics = metrics
}

// Sinks 返回已注册通道的名称
func (d *Dispatcher) Sinks() []string {
	names := make([]string, 0, len(d.sinks))
	for _, sink := range d.sinks {
		names = append(names, sink.Name())
	}
	return names
}

// Publish 提交事件，立即返回
func (d *Dispatcher) Publish(event domain.Event) {
	if len(d.sinks) == 0 {
		return
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}

	if !d.pool.TrySubmit(func() { d.deliver(event) }) {
		d.metrics.RecordNotificationDropped()
		d.log.Warn("notification queue full, event dropped",
			zap.String("type", string(event.Type)),
			zap.String("user_id", event.UserID),
			zap.String("email", event.Email),
		)
	}
}

func (d *Dispatcher) deliver(event domain.Event) {
	for _, sink := range d.sinks {
		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		err := sink.Notify(ctx, event)
		cancel()
		if err != nil {
			d.metrics.RecordNotificationFailed(sink.Name())
			d.log.Warn("notification delivery failed",
				zap.String("sink", sink.Name()),
				zap.String("type", string(event.Type)),
				zap.Error(err),
			)
		}
	}
}

// LogNotifier 把事件写入日志
type LogNotifier struct {
	log *zap.Logger
}

// NewLogNotifier 创建日志通道
func NewLogNotifier(log *zap.Logger) *LogNotifier {
	if log == nil {
		log = zap.NewNop()
	}
	return &LogNotifier{log: log.Named("events")}
}

func (n *LogNotifier) Name() string { return "log" }

func (n *LogNotifier) Notify(_ context.Context, event domain.Event) error {
	fields := []zap.Field{
		zap.String("type", string(event.Type)),
		zap.String("user_id", event.UserID),
		zap.Time("occurred_at", event.OccurredAt),
	}
	if event.Email != "" {
		fields = append(fields, zap.String("email", event.Email))
	}
	if event.Role != "" {
		fields = append(fields, zap.String("role", string(event.Role)))
	}
	if !event.ExpiresAt.IsZero() {
		fields = append(fields, zap.Time("expires_at", event.ExpiresAt))
	}
	if event.From != "" {
		fields = append(fields, zap.String("from", event.From))
	}
	n.log.Info("event", fields...)
	return nil
}

package app

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"tempmail/lease/internal/config"
	"tempmail/lease/internal/domain"
	"tempmail/lease/internal/ratelimit"
	"tempmail/lease/internal/storage/memory"
)

func testConfig() *config.Config {
	return &config.Config{
		Mailbox: config.MailboxConfig{
			Domains:          []string{"on11.ru"},
			MaxAllocAttempts: 8,
			MessageRetention: 3 * time.Hour,
			DisplayTimezone:  "Europe/Moscow",
		},
		Roles: config.RolesConfig{
			Regular: config.RolePolicyConfig{MaxLeases: 2, LeaseDuration: time.Hour},
			VIP:     config.RolePolicyConfig{MaxLeases: 5, LeaseDuration: 24 * time.Hour},
			Admin:   config.RolePolicyConfig{MaxLeases: 50, LeaseDuration: 720 * time.Hour},
		},
		Notify:    config.NotifyConfig{Workers: 1, QueueSize: 4},
		RateLimit: config.RateLimitConfig{CommandsPerMinute: 2},
	}
}

func TestPolicies(t *testing.T) {
	policies := Policies(testConfig().Roles)

	assert.Equal(t, 2, policies.Resolve(domain.RoleRegular).MaxLeases)
	assert.Equal(t, 24*time.Hour, policies.Resolve(domain.RoleVIP).LeaseDuration)
	assert.Equal(t, 50, policies.Resolve(domain.RoleAdmin).MaxLeases)
}

func TestOpenStore(t *testing.T) {
	t.Run("未配置数据库使用内存存储", func(t *testing.T) {
		store, err := OpenStore(config.DatabaseConfig{}, zap.NewNop())
		require.NoError(t, err)
		assert.IsType(t, &memory.Store{}, store)
	})

	t.Run("不支持的数据库类型", func(t *testing.T) {
		_, err := OpenStore(config.DatabaseConfig{Type: "sqlite", DSN: "file.db"}, zap.NewNop())
		assert.Error(t, err)
	})
}

func TestOpenLimiter(t *testing.T) {
	t.Run("本地限流", func(t *testing.T) {
		limiter, client, err := OpenLimiter(testConfig(), zap.NewNop())
		require.NoError(t, err)
		assert.Nil(t, client)
		assert.IsType(t, &ratelimit.Local{}, limiter)
	})

	t.Run("Redis限流", func(t *testing.T) {
		mr := miniredis.RunT(t)
		cfg := testConfig()
		cfg.Redis.Address = mr.Addr()

		limiter, client, err := OpenLimiter(cfg, zap.NewNop())
		require.NoError(t, err)
		require.NotNil(t, client)
		defer client.Close()

		ctx := context.Background()
		for i := 0; i < 2; i++ {
			ok, err := limiter.Allow(ctx, "bot:1")
			require.NoError(t, err)
			assert.True(t, ok)
		}
		ok, err := limiter.Allow(ctx, "bot:1")
		require.NoError(t, err)
		assert.False(t, ok)
	})
}

func TestNewServices(t *testing.T) {
	cfg := testConfig()
	services, err := NewServices(cfg, memory.NewStore(), nil, zap.NewNop())
	require.NoError(t, err)

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		_, err := services.Leases.Create(ctx, "u1")
		require.NoError(t, err)
	}
	_, err = services.Leases.Create(ctx, "u1")
	assert.Error(t, err, "配置的 regular 上限为 2")

	cfg.Mailbox.DisplayTimezone = "Mars/Olympus"
	_, err = NewServices(cfg, memory.NewStore(), nil, zap.NewNop())
	assert.Error(t, err)
}

func TestNotifiers(t *testing.T) {
	t.Run("默认只有日志通道", func(t *testing.T) {
		sinks, closers, err := Notifiers(testConfig(), time.UTC, zap.NewNop())
		require.NoError(t, err)
		require.Len(t, sinks, 1)
		assert.Equal(t, "log", sinks[0].Name())
		assert.Empty(t, closers)
	})

	t.Run("Telegram和Kafka", func(t *testing.T) {
		cfg := testConfig()
		cfg.Telegram.BotToken = "123:abc"
		cfg.Kafka = config.KafkaConfig{Brokers: []string{"localhost:9092"}, Topic: "events"}

		sinks, closers, err := Notifiers(cfg, time.UTC, zap.NewNop())
		require.NoError(t, err)

		dispatcher, workers := NewDispatcher(cfg.Notify, sinks, nil, zap.NewNop())
		assert.Equal(t, []string{"log", "telegram", "kafka"}, dispatcher.Sinks())
		assert.NotNil(t, workers)

		require.Len(t, closers, 1)
		assert.NoError(t, closers[0]())
	})
}

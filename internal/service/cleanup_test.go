package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"tempmail/lease/internal/domain"
)

func TestCleanupService_Run(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	active := f.create(t, "u1")
	stale := f.create(t, "u2")

	cleanup := NewCleanupService(f.leases, f.messages, 3*time.Hour, zap.NewNop())
	cleanup.now = func() time.Time { return f.now }

	// stale 到期，active 续成 vip 的长租期
	require.NoError(t, f.quota.SetRole(ctx, "u1", "vip"))
	f.advance(30 * time.Minute)
	require.NoError(t, f.leases.DeleteLease(ctx, "u1", active.Email))
	vipLease := f.create(t, "u1")

	f.saveMessage(t, "old", vipLease.Email, f.now.Add(-4*time.Hour))
	f.saveMessage(t, "fresh", vipLease.Email, f.now)
	f.saveMessage(t, "stale-mail", stale.Email, f.now)

	f.advance(time.Hour)

	result, err := cleanup.Run(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, result.MessagesPurged)
	assert.EqualValues(t, 1, result.LeasesExpired)
	assert.Equal(t, 1, result.LeasesDeleted)

	exists, err := f.leases.Exists(ctx, stale.Email)
	require.NoError(t, err)
	assert.False(t, exists)

	count, err := f.messages.CountByRecipient(ctx, stale.Email)
	require.NoError(t, err)
	assert.Zero(t, count)

	status, found, err := f.leases.GetStatus(ctx, vipLease.Email, "u1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "active", string(status))

	_, err = f.messages.Get(ctx, "old")
	assert.ErrorIs(t, err, ErrMessageNotFound)
	_, err = f.messages.Get(ctx, "fresh")
	assert.NoError(t, err)

	// 清理删除的租约也要让实时推送断开订阅者
	var swept []domain.Event
	for _, event := range f.events.events {
		if event.Type == domain.EventLeaseDeleted && event.Email == stale.Email {
			swept = append(swept, event)
		}
	}
	require.Len(t, swept, 1)
	assert.Empty(t, swept[0].UserID)

	t.Run("重复执行没有变化", func(t *testing.T) {
		result, err := cleanup.Run(ctx)
		require.NoError(t, err)
		assert.Zero(t, result.MessagesPurged)
		assert.Zero(t, result.LeasesExpired)
		assert.Zero(t, result.LeasesDeleted)
	})
}

func TestCleanupService_CancelledContext(t *testing.T) {
	f := newFixture(t)
	f.create(t, "u1")
	f.advance(2 * time.Hour)

	cleanup := NewCleanupService(f.leases, f.messages, 0, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := cleanup.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.EqualValues(t, 1, result.LeasesExpired)
	assert.Zero(t, result.LeasesDeleted)
}

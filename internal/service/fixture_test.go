package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"tempmail/lease/internal/domain"
	"tempmail/lease/internal/storage"
	"tempmail/lease/internal/storage/memory"
)

var moscow = time.FixedZone("MSK", 3*60*60)

// MockPublisher 模拟事件发布器
type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) Publish(event domain.Event) {
	m.Called(event)
}

// recordingPublisher 记录所有事件，并发安全
type recordingPublisher struct {
	mu     sync.Mutex
	events []domain.Event
}

func (p *recordingPublisher) Publish(event domain.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
}

func (p *recordingPublisher) types() []domain.EventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]domain.EventType, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Type)
	}
	return out
}

type fixture struct {
	store    storage.Store
	memory   *memory.Store
	quota    *QuotaService
	leases   *LeaseService
	messages *MessageService
	roles    *RoleService
	events   *recordingPublisher
	now      time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureWithStore(t, memory.NewStore())
}

func newFixtureWithStore(t *testing.T, store storage.Store) *fixture {
	t.Helper()

	f := &fixture{
		store:  store,
		events: &recordingPublisher{},
		now:    time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
	}
	if m, ok := store.(*memory.Store); ok {
		f.memory = m
	}

	validator := domain.NewAddressValidator([]string{"on11.ru"}, nil)
	f.quota = NewQuotaService(store, domain.DefaultPolicies())
	f.leases = NewLeaseService(store, f.quota, validator, LeaseOptions{MaxAllocAttempts: 4, Location: moscow}, zap.NewNop())
	f.leases.now = func() time.Time { return f.now }
	f.leases.SetPublisher(f.events)

	f.messages = NewMessageService(store, zap.NewNop())
	f.messages.SetPublisher(f.events)

	f.roles = NewRoleService(f.quota)
	f.roles.SetPublisher(f.events)
	return f
}

// advance 推进测试时钟
func (f *fixture) advance(d time.Duration) {
	f.now = f.now.Add(d)
}

func (f *fixture) create(t *testing.T, userID string) *domain.Allocation {
	t.Helper()
	alloc, err := f.leases.Create(context.Background(), userID)
	require.NoError(t, err)
	return alloc
}

func (f *fixture) saveMessage(t *testing.T, id, to string, receivedAt time.Time) {
	t.Helper()
	require.NoError(t, f.store.SaveMessage(context.Background(), &domain.Message{
		ID:         id,
		To:         to,
		Subject:    "hello",
		ReceivedAt: receivedAt,
	}))
}

// sequence 依次返回给定的本地名，用完后重复最后一个
func sequence(names ...string) (func() string, *int) {
	var mu sync.Mutex
	calls := 0
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		i := calls
		calls++
		if i >= len(names) {
			i = len(names) - 1
		}
		return names[i]
	}, &calls
}

package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"tempmail/lease/internal/domain"
	"tempmail/lease/internal/storage"
)

// Store 使用内存保存用户、租约与邮件，用于开发环境和测试。
//
// 所有写操作在同一把锁内完成，配额复核与插入天然是原子的。
type Store struct {
	mu       sync.RWMutex
	users    map[string]*domain.User    // userID -> user
	leases   map[int64]*domain.Lease    // id -> lease
	byEmail  map[string]int64           // email -> lease id
	messages map[string]*domain.Message // messageID -> message
	nextID   int64
}

var _ storage.Store = (*Store)(nil)

// NewStore 创建内存存储
func NewStore() *Store {
	return &Store{
		users:    make(map[string]*domain.User),
		leases:   make(map[int64]*domain.Lease),
		byEmail:  make(map[string]int64),
		messages: make(map[string]*domain.Message),
	}
}

// Close 内存存储无需释放资源
func (s *Store) Close() error { return nil }

// Health 内存存储始终可用
func (s *Store) Health() error { return nil }

// ===== 用户 =====

func (s *Store) CreateUserIfAbsent(_ context.Context, user *domain.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[user.UserID]; ok {
		return nil
	}
	now := time.Now().UTC()
	copied := *user
	if copied.Role == "" {
		copied.Role = domain.RoleRegular
	}
	copied.CreatedAt = now
	copied.UpdatedAt = now
	s.users[user.UserID] = &copied
	return nil
}

func (s *Store) GetUser(_ context.Context, userID string) (*domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, ok := s.users[userID]
	if !ok {
		return nil, storage.ErrUserNotFound
	}
	copied := *user
	return &copied, nil
}

func (s *Store) SetUserRole(_ context.Context, userID string, role domain.Role) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	if user, ok := s.users[userID]; ok {
		user.Role = role
		user.UpdatedAt = now
		return nil
	}
	s.users[userID] = &domain.User{UserID: userID, Role: role, CreatedAt: now, UpdatedAt: now}
	return nil
}

func (s *Store) UpdateMaxLeases(_ context.Context, userID string, maxLeases int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.users[userID]
	if !ok {
		return nil
	}
	user.MaxLeases = maxLeases
	user.UpdatedAt = time.Now().UTC()
	return nil
}

// ===== 租约 =====

func (s *Store) CountActiveLeases(_ context.Context, ownerID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.countActiveLocked(ownerID), nil
}

func (s *Store) countActiveLocked(ownerID string) int {
	count := 0
	for _, lease := range s.leases {
		if lease.OwnerID == ownerID && lease.Status == domain.LeaseActive {
			count++
		}
	}
	return count
}

// quotaLocked 复核持有者配额，调用方必须持有写锁
func (s *Store) quotaLocked(ownerID string) error {
	user, ok := s.users[ownerID]
	if !ok {
		return storage.ErrUserNotFound
	}
	if s.countActiveLocked(ownerID) >= user.MaxLeases {
		return storage.ErrQuotaReached
	}
	return nil
}

func (s *Store) InsertLease(_ context.Context, lease *domain.Lease) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.quotaLocked(lease.OwnerID); err != nil {
		return err
	}
	if _, exists := s.byEmail[lease.Email]; exists {
		return storage.ErrDuplicateAddress
	}

	s.nextID++
	lease.ID = s.nextID
	copied := *lease
	s.leases[copied.ID] = &copied
	s.byEmail[copied.Email] = copied.ID
	return nil
}

func (s *Store) GetLeaseByEmail(_ context.Context, email string) (*domain.Lease, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byEmail[email]
	if !ok {
		return nil, storage.ErrLeaseNotFound
	}
	copied := *s.leases[id]
	return &copied, nil
}

func (s *Store) LeaseExists(_ context.Context, email string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.byEmail[email]
	return ok, nil
}

func (s *Store) GetLeaseStatus(_ context.Context, email, ownerID string) (domain.LeaseStatus, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byEmail[email]
	if !ok || s.leases[id].OwnerID != ownerID {
		return "", storage.ErrLeaseNotFound
	}
	return s.leases[id].Status, nil
}

func (s *Store) ListActiveLeases(_ context.Context, ownerID string) ([]domain.Lease, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Lease, 0)
	for _, lease := range s.leases {
		if lease.OwnerID == ownerID && lease.Status == domain.LeaseActive {
			result = append(result, *lease)
		}
	}
	sortLeases(result)
	return result, nil
}

func (s *Store) ListExpiredLeases(_ context.Context, excludeOwner string) ([]domain.Lease, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Lease, 0)
	for _, lease := range s.leases {
		if lease.Status != domain.LeaseExpired {
			continue
		}
		if excludeOwner != "" && lease.OwnerID == excludeOwner {
			continue
		}
		result = append(result, *lease)
	}
	sortLeases(result)
	return result, nil
}

func (s *Store) ClaimExpiredLease(_ context.Context, id int64, ownerID string, now, expiresAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.quotaLocked(ownerID); err != nil {
		return err
	}

	lease, ok := s.leases[id]
	if !ok || lease.Status != domain.LeaseExpired {
		return storage.ErrLeaseUnavailable
	}
	lease.OwnerID = ownerID
	lease.Status = domain.LeaseActive
	lease.CreatedAt = now
	lease.ExpiresAt = expiresAt
	return nil
}

func (s *Store) ExpireLeases(_ context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var changed int64
	for _, lease := range s.leases {
		if lease.Status == domain.LeaseActive && lease.ExpiresAt.Before(now) {
			lease.Status = domain.LeaseExpired
			changed++
		}
	}
	return changed, nil
}

func (s *Store) DeleteLease(_ context.Context, email, ownerID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byEmail[email]
	if !ok || s.leases[id].OwnerID != ownerID {
		return 0, nil
	}
	s.deleteLeaseLocked(id)
	return 1, nil
}

func (s *Store) DeleteLeaseByEmail(_ context.Context, email string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byEmail[email]
	if !ok {
		return 0, nil
	}
	s.deleteLeaseLocked(id)
	return 1, nil
}

func (s *Store) deleteLeaseLocked(id int64) {
	delete(s.byEmail, s.leases[id].Email)
	delete(s.leases, id)
}

func sortLeases(leases []domain.Lease) {
	sort.Slice(leases, func(i, j int) bool {
		if leases[i].CreatedAt.Equal(leases[j].CreatedAt) {
			return leases[i].ID < leases[j].ID
		}
		return leases[i].CreatedAt.Before(leases[j].CreatedAt)
	})
}

// ===== 邮件 =====

func (s *Store) SaveMessage(_ context.Context, message *domain.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	copied := *message
	s.messages[message.ID] = &copied
	return nil
}

func (s *Store) GetMessage(_ context.Context, id string) (*domain.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	message, ok := s.messages[id]
	if !ok {
		return nil, storage.ErrMessageNotFound
	}
	copied := *message
	return &copied, nil
}

func (s *Store) DeleteMessage(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.messages[id]; !ok {
		return storage.ErrMessageNotFound
	}
	delete(s.messages, id)
	return nil
}

func (s *Store) ListMessagesByRecipient(_ context.Context, address string, limit, offset int) ([]domain.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	matched := make([]domain.Message, 0)
	for _, message := range s.messages {
		if message.To == address {
			matched = append(matched, *message)
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		if matched[i].ReceivedAt.Equal(matched[j].ReceivedAt) {
			return matched[i].ID > matched[j].ID
		}
		return matched[i].ReceivedAt.After(matched[j].ReceivedAt)
	})

	if offset >= len(matched) {
		return []domain.Message{}, nil
	}
	matched = matched[offset:]
	if limit > 0 && limit < len(matched) {
		matched = matched[:limit]
	}
	return matched, nil
}

func (s *Store) CountMessagesByRecipient(_ context.Context, address string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int64
	for _, message := range s.messages {
		if message.To == address {
			count++
		}
	}
	return count, nil
}

func (s *Store) DeleteMessagesByRecipient(_ context.Context, address string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var deleted int64
	for id, message := range s.messages {
		if message.To == address {
			delete(s.messages, id)
			deleted++
		}
	}
	return deleted, nil
}

func (s *Store) DeleteMessagesOlderThan(_ context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var deleted int64
	for id, message := range s.messages {
		if message.ReceivedAt.Before(before) {
			delete(s.messages, id)
			deleted++
		}
	}
	return deleted, nil
}

package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"tempmail/lease/internal/domain"
	"tempmail/lease/internal/monitoring"
	"tempmail/lease/internal/storage"
)

const (
	// DefaultMaxAllocAttempts 随机地址的默认尝试次数
	DefaultMaxAllocAttempts = 8
	// ExpiryLayout 到期时间的展示格式
	ExpiryLayout = "02.01.2006, 15:04:05"

	randomLocalPartLength = 10
)

// LeaseOptions 租约服务的可调参数
type LeaseOptions struct {
	MaxAllocAttempts int
	Location         *time.Location // 到期时间的展示时区，nil 时使用 UTC
}

// LeaseService 负责租约的分配、查询、认领、过期与删除。
type LeaseService struct {
	store       storage.Store
	quota       *QuotaService
	validator   *domain.AddressValidator
	maxAttempts int
	location    *time.Location
	publisher   EventPublisher
	metrics     *monitoring.Metrics
	log         *zap.Logger

	now          func() time.Time
	newLocalPart func() string
}

// NewLeaseService 创建租约服务。
func NewLeaseService(store storage.Store, quota *QuotaService, validator *domain.AddressValidator, opts LeaseOptions, log *zap.Logger) *LeaseService {
	if opts.MaxAllocAttempts <= 0 {
		opts.MaxAllocAttempts = DefaultMaxAllocAttempts
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &LeaseService{
		store:        store,
		quota:        quota,
		validator:    validator,
		maxAttempts:  opts.MaxAllocAttempts,
		location:     opts.Location,
		publisher:    nopPublisher{},
		log:          log.Named("lease"),
		now:          func() time.Time { return time.Now().UTC() },
		newLocalPart: randomLocalPart,
	}
}

// SetPublisher 设置事件发布器
func (s *LeaseService) SetPublisher(publisher EventPublisher) {
	if publisher == nil {
		publisher = nopPublisher{}
	}
	s.publisher = publisher
}

// SetMetrics 设置监控指标
func (s *LeaseService) SetMetrics(metrics *monitoring.Metrics) {
	s.metrics = metrics
}

// Validator 返回地址验证器
func (s *LeaseService) Validator() *domain.AddressValidator {
	return s.validator
}

// randomLocalPart 由 UUID 派生 10 位十六进制本地名
func randomLocalPart() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:randomLocalPartLength]
}

// FormatExpiry 按展示时区格式化到期时间
func (s *LeaseService) FormatExpiry(t time.Time) string {
	return t.In(s.location).Format(ExpiryLayout)
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Create 为用户分配一个随机地址。
//
// 地址冲突时换一个名字重试，超过 maxAttempts 次返回 ErrAllocationExhausted。
func (s *LeaseService) Create(ctx context.Context, userID string) (*domain.Allocation, error) {
	policy, err := s.quota.EnsureUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if err := s.checkQuota(ctx, userID, policy, "create"); err != nil {
		return nil, err
	}

	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		email := s.validator.Compose(s.newLocalPart())

		lease, err := s.insert(ctx, userID, email, policy, "create")
		if errors.Is(err, errAddressCollision) {
			s.metrics.RecordAddressCollision()
			s.log.Debug("random address collided, retrying",
				zap.String("email", email),
				zap.Int("attempt", attempt),
			)
			continue
		}
		if err != nil {
			return nil, err
		}

		s.metrics.RecordLeaseCreated("random")
		s.publish(domain.EventLeaseCreated, lease)
		return s.allocation(lease), nil
	}

	s.metrics.RecordAllocationExhausted()
	s.log.Warn("address allocation exhausted",
		zap.String("user_id", userID),
		zap.Int("attempts", s.maxAttempts),
	)
	return nil, ErrAllocationExhausted
}

// CreateCustom 为用户分配指定本地名的地址。
//
// 先校验本地名，再检查配额；地址已存在（含过期）时返回 ErrAlreadyExists，不重试。
func (s *LeaseService) CreateCustom(ctx context.Context, userID, localPart string) (*domain.Allocation, error) {
	name, err := s.validator.ValidateLocalPart(localPart)
	if err != nil {
		return nil, err
	}

	policy, err := s.quota.EnsureUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if err := s.checkQuota(ctx, userID, policy, "create_custom"); err != nil {
		return nil, err
	}

	lease, err := s.insert(ctx, userID, s.validator.Compose(name), policy, "create_custom")
	if errors.Is(err, errAddressCollision) {
		return nil, ErrAlreadyExists
	}
	if err != nil {
		return nil, err
	}

	s.metrics.RecordLeaseCreated("custom")
	s.publish(domain.EventLeaseCreated, lease)
	return s.allocation(lease), nil
}

// checkQuota 快速失败的预检查，真正的约束在存储层的插入事务里
func (s *LeaseService) checkQuota(ctx context.Context, userID string, policy domain.RolePolicy, op string) error {
	count, err := s.store.CountActiveLeases(ctx, userID)
	if err != nil {
		return persistErr("count active leases", err)
	}
	if count >= policy.MaxLeases {
		s.metrics.RecordQuotaRejection(op)
		return ErrQuotaExceeded
	}
	return nil
}

func (s *LeaseService) insert(ctx context.Context, userID, email string, policy domain.RolePolicy, op string) (*domain.Lease, error) {
	now := s.now()
	lease := &domain.Lease{
		Email:     email,
		OwnerID:   userID,
		CreatedAt: now,
		ExpiresAt: now.Add(policy.LeaseDuration),
		Status:    domain.LeaseActive,
	}

	err := s.store.InsertLease(ctx, lease)
	switch {
	case err == nil:
		return lease, nil
	case errors.Is(err, storage.ErrDuplicateAddress):
		return nil, errAddressCollision
	case errors.Is(err, storage.ErrQuotaReached):
		s.metrics.RecordQuotaRejection(op)
		return nil, ErrQuotaExceeded
	default:
		return nil, persistErr("insert lease", err)
	}
}

// Exists 判断地址是否出现在租约表中（不论状态）
func (s *LeaseService) Exists(ctx context.Context, email string) (bool, error) {
	exists, err := s.store.LeaseExists(ctx, normalizeEmail(email))
	if err != nil {
		return false, persistErr("lease exists", err)
	}
	return exists, nil
}

// List 先执行一次过期标记，再返回用户的有效租约和其他人可认领的过期租约
func (s *LeaseService) List(ctx context.Context, userID string) (*domain.LeaseListing, error) {
	if _, err := s.ExpireAll(ctx); err != nil {
		return nil, err
	}

	own, err := s.store.ListActiveLeases(ctx, userID)
	if err != nil {
		return nil, persistErr("list active leases", err)
	}
	available, err := s.store.ListExpiredLeases(ctx, userID)
	if err != nil {
		return nil, persistErr("list expired leases", err)
	}

	listing := &domain.LeaseListing{
		Own:       make([]domain.LeaseView, 0, len(own)),
		Available: make([]domain.LeaseView, 0, len(available)),
	}
	for _, lease := range own {
		listing.Own = append(listing.Own, domain.LeaseView{
			Email:              lease.Email,
			Status:             lease.Status,
			CreatedAt:          lease.CreatedAt,
			ExpiresAt:          lease.ExpiresAt,
			ExpiresAtFormatted: s.FormatExpiry(lease.ExpiresAt),
		})
	}
	for _, lease := range available {
		listing.Available = append(listing.Available, domain.LeaseView{
			Email:  lease.Email,
			Status: lease.Status,
		})
	}
	return listing, nil
}

// Select 认领一个已过期的地址。
//
// 认领更新以 id 和 status='expired' 为条件，并发认领同一地址时只有一个成功，
// 其余返回 ErrMailboxUnavailable。
func (s *LeaseService) Select(ctx context.Context, userID, email string) (*domain.Allocation, error) {
	email = normalizeEmail(email)

	if _, err := s.ExpireAll(ctx); err != nil {
		return nil, err
	}

	policy, err := s.quota.EnsureUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if err := s.checkQuota(ctx, userID, policy, "select"); err != nil {
		return nil, err
	}

	lease, err := s.store.GetLeaseByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, storage.ErrLeaseNotFound) {
			return nil, ErrMailboxUnavailable
		}
		return nil, persistErr("get lease", err)
	}
	if lease.Status != domain.LeaseExpired {
		return nil, ErrMailboxUnavailable
	}

	now := s.now()
	expiresAt := now.Add(policy.LeaseDuration)
	err = s.store.ClaimExpiredLease(ctx, lease.ID, userID, now, expiresAt)
	switch {
	case err == nil:
	case errors.Is(err, storage.ErrLeaseUnavailable):
		return nil, ErrMailboxUnavailable
	case errors.Is(err, storage.ErrQuotaReached):
		s.metrics.RecordQuotaRejection("select")
		return nil, ErrQuotaExceeded
	default:
		return nil, persistErr("claim lease", err)
	}

	lease.OwnerID = userID
	lease.Status = domain.LeaseActive
	lease.CreatedAt = now
	lease.ExpiresAt = expiresAt

	s.metrics.RecordLeaseReassigned()
	s.publish(domain.EventLeaseReassigned, lease)
	return s.allocation(lease), nil
}

// GetStatus 返回用户名下租约的状态，不存在时 found 为 false
func (s *LeaseService) GetStatus(ctx context.Context, email, userID string) (status domain.LeaseStatus, found bool, err error) {
	status, err = s.store.GetLeaseStatus(ctx, normalizeEmail(email), userID)
	if err != nil {
		if errors.Is(err, storage.ErrLeaseNotFound) {
			return "", false, nil
		}
		return "", false, persistErr("get lease status", err)
	}
	return status, true, nil
}

// GetLease 按地址查询租约，不存在返回 storage.ErrLeaseNotFound
func (s *LeaseService) GetLease(ctx context.Context, email string) (*domain.Lease, error) {
	lease, err := s.store.GetLeaseByEmail(ctx, normalizeEmail(email))
	if err != nil {
		if errors.Is(err, storage.ErrLeaseNotFound) {
			return nil, err
		}
		return nil, persistErr("get lease", err)
	}
	return lease, nil
}

// CanAccess 判断用户能否读取邮箱：没有租约的地址对所有人开放，
// 有租约的地址只对其有效持有者开放
func (s *LeaseService) CanAccess(ctx context.Context, userID, email string) (bool, error) {
	lease, err := s.store.GetLeaseByEmail(ctx, normalizeEmail(email))
	if err != nil {
		if errors.Is(err, storage.ErrLeaseNotFound) {
			return true, nil
		}
		return false, persistErr("get lease", err)
	}
	return userID != "" && lease.OwnerID == userID && lease.IsActive() && s.now().Before(lease.ExpiresAt), nil
}

// DeleteLease 删除用户名下的租约及其邮件。
//
// 只有调用者是持有者时才会删除邮件和租约，否则什么都不做，也不报错。
func (s *LeaseService) DeleteLease(ctx context.Context, userID, email string) error {
	email = normalizeEmail(email)

	if _, found, err := s.GetStatus(ctx, email, userID); err != nil || !found {
		return err
	}

	purged, err := s.store.DeleteMessagesByRecipient(ctx, email)
	if err != nil {
		return persistErr("delete messages", err)
	}
	s.metrics.RecordMessagesPurged(purged)

	deleted, err := s.store.DeleteLease(ctx, email, userID)
	if err != nil {
		return persistErr("delete lease", err)
	}
	if deleted > 0 {
		s.metrics.RecordLeaseDeleted("user")
		s.publisher.Publish(domain.Event{
			Type:       domain.EventLeaseDeleted,
			UserID:     userID,
			Email:      email,
			OccurredAt: s.now(),
		})
	}
	return nil
}

// DeleteLeaseForSweep 清理任务使用，不校验持有者。
// 发布的 lease.deleted 不带 UserID，不会通知原持有者。
func (s *LeaseService) DeleteLeaseForSweep(ctx context.Context, email string) error {
	email = normalizeEmail(email)

	purged, err := s.store.DeleteMessagesByRecipient(ctx, email)
	if err != nil {
		return persistErr("delete messages", err)
	}
	s.metrics.RecordMessagesPurged(purged)

	deleted, err := s.store.DeleteLeaseByEmail(ctx, email)
	if err != nil {
		return persistErr("delete lease", err)
	}
	if deleted > 0 {
		s.metrics.RecordLeaseDeleted("sweep")
		s.publisher.Publish(domain.Event{
			Type:       domain.EventLeaseDeleted,
			Email:      email,
			OccurredAt: s.now(),
		})
	}
	return nil
}

// ExpireAll 把所有到期的有效租约标记为 expired，返回变更数量。可重复执行。
func (s *LeaseService) ExpireAll(ctx context.Context) (int64, error) {
	changed, err := s.store.ExpireLeases(ctx, s.now())
	if err != nil {
		return 0, persistErr("expire leases", err)
	}
	s.metrics.RecordLeasesExpired(changed)
	return changed, nil
}

// ListExpired 列出全部已过期租约，清理任务使用
func (s *LeaseService) ListExpired(ctx context.Context) ([]domain.Lease, error) {
	leases, err := s.store.ListExpiredLeases(ctx, "")
	if err != nil {
		return nil, persistErr("list expired leases", err)
	}
	return leases, nil
}

func (s *LeaseService) allocation(lease *domain.Lease) *domain.Allocation {
	return &domain.Allocation{
		Email:              lease.Email,
		ExpiresAt:          lease.ExpiresAt,
		ExpiresAtFormatted: s.FormatExpiry(lease.ExpiresAt),
	}
}

func (s *LeaseService) publish(eventType domain.EventType, lease *domain.Lease) {
	s.publisher.Publish(domain.Event{
		Type:       eventType,
		UserID:     lease.OwnerID,
		Email:      lease.Email,
		ExpiresAt:  lease.ExpiresAt,
		OccurredAt: s.now(),
	})
}

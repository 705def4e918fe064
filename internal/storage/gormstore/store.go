// Package gormstore 基于 GORM 的关系型存储，PostgreSQL 与 MySQL 共用同一套查询。
package gormstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	mysqldriver "github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"tempmail/lease/internal/config"
	"tempmail/lease/internal/domain"
	"tempmail/lease/internal/storage"
)

// Store 基于 GORM 的关系型存储，支持 PostgreSQL 与 MySQL
type Store struct {
	db *gorm.DB
}

var _ storage.Store = (*Store)(nil)

// NewStore 按配置中的数据库类型创建存储实例
func NewStore(cfg config.DatabaseConfig) (*Store, error) {
	var dialector gorm.Dialector
	switch cfg.Type {
	case "postgres", "postgresql":
		dialector = postgres.Open(cfg.DSN)
	case "mysql":
		dialector = mysql.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported database type: %q", cfg.Type)
	}

	store, err := NewStoreWithDialector(dialector)
	if err != nil {
		return nil, err
	}

	sqlDB, err := store.db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	return store, nil
}

// NewStoreWithDialector 使用指定的 GORM dialector 创建存储实例并迁移表结构
func NewStoreWithDialector(dialector gorm.Dialector) (*Store, error) {
	db, err := open(dialector)
	if err != nil {
		return nil, err
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

func open(dialector gorm.Dialector) (*gorm.DB, error) {
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return db, nil
}

// migrate 自动迁移数据库表结构
func (s *Store) migrate() error {
	return s.db.AutoMigrate(
		&domain.User{},
		&domain.Lease{},
		&domain.Message{},
	)
}

// Close 关闭数据库连接
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Health 检查数据库连接
func (s *Store) Health() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return sqlDB.PingContext(ctx)
}

// isDuplicateKey 识别唯一约束冲突。开启 TranslateError 后驱动错误通常会转成
// gorm.ErrDuplicatedKey，原始错误码作为兜底。
func isDuplicateKey(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	var myErr *mysqldriver.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number == 1062
	}
	return false
}

// ========== User Repository ==========

// CreateUserIfAbsent 插入用户，主键冲突时什么都不做
func (s *Store) CreateUserIfAbsent(ctx context.Context, user *domain.User) error {
	if user.Role == "" {
		user.Role = domain.RoleRegular
	}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(user).Error
}

// GetUser 根据 ID 获取用户
func (s *Store) GetUser(ctx context.Context, userID string) (*domain.User, error) {
	var user domain.User
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).First(&user).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, storage.ErrUserNotFound
		}
		return nil, err
	}
	return &user, nil
}

// SetUserRole 写入角色，用户不存在时一并创建
func (s *Store) SetUserRole(ctx context.Context, userID string, role domain.Role) error {
	user := &domain.User{UserID: userID, Role: role}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"role", "updated_at"}),
		}).
		Create(user).Error
}

// UpdateMaxLeases 写入缓存的配额
func (s *Store) UpdateMaxLeases(ctx context.Context, userID string, maxLeases int) error {
	return s.db.WithContext(ctx).
		Model(&domain.User{}).
		Where("user_id = ?", userID).
		Update("max_leases", maxLeases).Error
}

// ========== Lease Repository ==========

// CountActiveLeases 统计用户的有效租约
func (s *Store) CountActiveLeases(ctx context.Context, ownerID string) (int, error) {
	return countActive(s.db.WithContext(ctx), ownerID)
}

func countActive(db *gorm.DB, ownerID string) (int, error) {
	var count int64
	err := db.Model(&domain.Lease{}).
		Where("owner_id = ? AND status = ?", ownerID, domain.LeaseActive).
		Count(&count).Error
	return int(count), err
}

// lockQuota 锁定持有者行并复核配额。同一用户的并发分配在这把行锁上串行化。
func lockQuota(tx *gorm.DB, ownerID string) error {
	var user domain.User
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("user_id = ?", ownerID).
		First(&user).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return storage.ErrUserNotFound
		}
		return err
	}

	active, err := countActive(tx, ownerID)
	if err != nil {
		return err
	}
	if active >= user.MaxLeases {
		return storage.ErrQuotaReached
	}
	return nil
}

// InsertLease 在事务内复核配额后插入新租约
func (s *Store) InsertLease(ctx context.Context, lease *domain.Lease) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := lockQuota(tx, lease.OwnerID); err != nil {
			return err
		}
		if err := tx.Create(lease).Error; err != nil {
			if isDuplicateKey(err) {
				return storage.ErrDuplicateAddress
			}
			return err
		}
		return nil
	})
}

// GetLeaseByEmail 根据地址获取租约
func (s *Store) GetLeaseByEmail(ctx context.Context, email string) (*domain.Lease, error) {
	var lease domain.Lease
	err := s.db.WithContext(ctx).Where("email = ?", email).First(&lease).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, storage.ErrLeaseNotFound
		}
		return nil, err
	}
	return &lease, nil
}

// LeaseExists 判断地址是否存在于租约表（不论状态）
func (s *Store) LeaseExists(ctx context.Context, email string) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&domain.Lease{}).Where("email = ?", email).Count(&count).Error
	return count > 0, err
}

// GetLeaseStatus 返回用户名下租约的状态
func (s *Store) GetLeaseStatus(ctx context.Context, email, ownerID string) (domain.LeaseStatus, error) {
	var lease domain.Lease
	err := s.db.WithContext(ctx).
		Select("status").
		Where("email = ? AND owner_id = ?", email, ownerID).
		First(&lease).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", storage.ErrLeaseNotFound
		}
		return "", err
	}
	return lease.Status, nil
}

// ListActiveLeases 返回用户的有效租约
func (s *Store) ListActiveLeases(ctx context.Context, ownerID string) ([]domain.Lease, error) {
	leases := make([]domain.Lease, 0)
	err := s.db.WithContext(ctx).
		Where("owner_id = ? AND status = ?", ownerID, domain.LeaseActive).
		Order("created_at ASC, id ASC").
		Find(&leases).Error
	return leases, err
}

// ListExpiredLeases 返回已过期租约
func (s *Store) ListExpiredLeases(ctx context.Context, excludeOwner string) ([]domain.Lease, error) {
	leases := make([]domain.Lease, 0)
	query := s.db.WithContext(ctx).Where("status = ?", domain.LeaseExpired)
	if excludeOwner != "" {
		query = query.Where("owner_id <> ?", excludeOwner)
	}
	err := query.Order("created_at ASC, id ASC").Find(&leases).Error
	return leases, err
}

// ClaimExpiredLease 认领过期租约。WHERE 条件同时带上 status，
// 两个并发认领只有一个能匹配到行。
func (s *Store) ClaimExpiredLease(ctx context.Context, id int64, ownerID string, now, expiresAt time.Time) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := lockQuota(tx, ownerID); err != nil {
			return err
		}
		result := tx.Model(&domain.Lease{}).
			Where("id = ? AND status = ?", id, domain.LeaseExpired).
			Updates(map[string]any{
				"owner_id":   ownerID,
				"status":     domain.LeaseActive,
				"created_at": now,
				"expires_at": expiresAt,
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return storage.ErrLeaseUnavailable
		}
		return nil
	})
}

// ExpireLeases 批量把到期的有效租约标记为 expired
func (s *Store) ExpireLeases(ctx context.Context, now time.Time) (int64, error) {
	result := s.db.WithContext(ctx).
		Model(&domain.Lease{}).
		Where("status = ? AND expires_at < ?", domain.LeaseActive, now).
		Update("status", domain.LeaseExpired)
	return result.RowsAffected, result.Error
}

// DeleteLease 删除用户名下的租约
func (s *Store) DeleteLease(ctx context.Context, email, ownerID string) (int64, error) {
	result := s.db.WithContext(ctx).
		Where("email = ? AND owner_id = ?", email, ownerID).
		Delete(&domain.Lease{})
	return result.RowsAffected, result.Error
}

// DeleteLeaseByEmail 不校验持有者，供清理任务使用
func (s *Store) DeleteLeaseByEmail(ctx context.Context, email string) (int64, error) {
	result := s.db.WithContext(ctx).Where("email = ?", email).Delete(&domain.Lease{})
	return result.RowsAffected, result.Error
}

// ========== Message Repository ==========

// SaveMessage 保存邮件
func (s *Store) SaveMessage(ctx context.Context, message *domain.Message) error {
	return s.db.WithContext(ctx).Create(message).Error
}

// GetMessage 根据 ID 获取邮件
func (s *Store) GetMessage(ctx context.Context, id string) (*domain.Message, error) {
	var message domain.Message
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&message).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, storage.ErrMessageNotFound
		}
		return nil, err
	}
	return &message, nil
}

// DeleteMessage 删除单封邮件
func (s *Store) DeleteMessage(ctx context.Context, id string) error {
	result := s.db.WithContext(ctx).Where("id = ?", id).Delete(&domain.Message{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return storage.ErrMessageNotFound
	}
	return nil
}

// ListMessagesByRecipient 分页列出收件人的邮件
func (s *Store) ListMessagesByRecipient(ctx context.Context, address string, limit, offset int) ([]domain.Message, error) {
	messages := make([]domain.Message, 0)
	query := s.db.WithContext(ctx).
		Where("to_address = ?", address).
		Order("received_at DESC, id DESC").
		Offset(offset)
	if limit > 0 {
		query = query.Limit(limit)
	}
	err := query.Find(&messages).Error
	return messages, err
}

// CountMessagesByRecipient 统计收件人的邮件数量
func (s *Store) CountMessagesByRecipient(ctx context.Context, address string) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&domain.Message{}).Where("to_address = ?", address).Count(&count).Error
	return count, err
}

// DeleteMessagesByRecipient 删除收件人的全部邮件
func (s *Store) DeleteMessagesByRecipient(ctx context.Context, address string) (int64, error) {
	result := s.db.WithContext(ctx).Where("to_address = ?", address).Delete(&domain.Message{})
	return result.RowsAffected, result.Error
}

// DeleteMessagesOlderThan 删除接收时间早于 before 的邮件
func (s *Store) DeleteMessagesOlderThan(ctx context.Context, before time.Time) (int64, error) {
	result := s.db.WithContext(ctx).Where("received_at < ?", before).Delete(&domain.Message{})
	return result.RowsAffected, result.Error
}

package gormstore

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"

	"tempmail/lease/internal/domain"
	"tempmail/lease/internal/storage"
)

const (
	lockUserSQL    = `SELECT \* FROM "users" WHERE user_id = \$1 .*FOR UPDATE`
	countActiveSQL = `SELECT count\(\*\) FROM "leases" WHERE owner_id = \$1 AND status = \$2`
)

// newMockStore 用 sqlmock 驱动 PostgreSQL 方言，不执行迁移
func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	db, err := open(postgres.New(postgres.Config{Conn: sqlDB}))
	require.NoError(t, err)

	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
	})
	return &Store{db: db}, mock
}

// expectQuotaLock 锁定持有者行并返回当前有效租约数
func expectQuotaLock(mock sqlmock.Sqlmock, ownerID string, maxLeases, active int) {
	now := time.Now().UTC()
	mock.ExpectQuery(lockUserSQL).
		WillReturnRows(sqlmock.NewRows([]string{"user_id", "role", "max_leases", "created_at", "updated_at"}).
			AddRow(ownerID, "regular", maxLeases, now, now))
	mock.ExpectQuery(countActiveSQL).
		WithArgs(ownerID, "active").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(active))
}

func TestStore_InsertLease(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	newLease := func() *domain.Lease {
		return &domain.Lease{
			Email:     "box@on11.ru",
			OwnerID:   "u1",
			CreatedAt: now,
			ExpiresAt: now.Add(time.Hour),
			Status:    domain.LeaseActive,
		}
	}

	t.Run("事务内复核配额后插入", func(t *testing.T) {
		store, mock := newMockStore(t)
		mock.ExpectBegin()
		expectQuotaLock(mock, "u1", 3, 2)
		mock.ExpectQuery(`INSERT INTO "leases"`).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(7))
		mock.ExpectCommit()

		lease := newLease()
		require.NoError(t, store.InsertLease(ctx, lease))
		assert.Equal(t, int64(7), lease.ID)
	})

	t.Run("锁内计数已满时回滚", func(t *testing.T) {
		store, mock := newMockStore(t)
		mock.ExpectBegin()
		expectQuotaLock(mock, "u1", 3, 3)
		mock.ExpectRollback()

		assert.ErrorIs(t, store.InsertLease(ctx, newLease()), storage.ErrQuotaReached)
	})

	t.Run("持有者不存在", func(t *testing.T) {
		store, mock := newMockStore(t)
		mock.ExpectBegin()
		mock.ExpectQuery(lockUserSQL).
			WillReturnRows(sqlmock.NewRows([]string{"user_id"}))
		mock.ExpectRollback()

		assert.ErrorIs(t, store.InsertLease(ctx, newLease()), storage.ErrUserNotFound)
	})
}

func TestStore_ClaimExpiredLease(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	expiresAt := now.Add(time.Hour)

	claimSQL := regexp.QuoteMeta(`UPDATE "leases" SET "created_at"=$1,"expires_at"=$2,"owner_id"=$3,"status"=$4 WHERE id = $5 AND status = $6`)

	t.Run("只更新仍处于expired的行", func(t *testing.T) {
		store, mock := newMockStore(t)
		mock.ExpectBegin()
		expectQuotaLock(mock, "u2", 3, 0)
		mock.ExpectExec(claimSQL).
			WithArgs(now, expiresAt, "u2", "active", int64(42), "expired").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		require.NoError(t, store.ClaimExpiredLease(ctx, 42, "u2", now, expiresAt))
	})

	t.Run("并发认领落后的一方没有匹配行", func(t *testing.T) {
		store, mock := newMockStore(t)
		mock.ExpectBegin()
		expectQuotaLock(mock, "u3", 3, 0)
		mock.ExpectExec(claimSQL).
			WithArgs(now, expiresAt, "u3", "active", int64(42), "expired").
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectRollback()

		assert.ErrorIs(t, store.ClaimExpiredLease(ctx, 42, "u3", now, expiresAt), storage.ErrLeaseUnavailable)
	})

	t.Run("配额已满时不执行更新", func(t *testing.T) {
		store, mock := newMockStore(t)
		mock.ExpectBegin()
		expectQuotaLock(mock, "u2", 3, 3)
		mock.ExpectRollback()

		assert.ErrorIs(t, store.ClaimExpiredLease(ctx, 42, "u2", now, expiresAt), storage.ErrQuotaReached)
	})
}

func TestStore_ExpireLeases(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE "leases" SET "status"=$1 WHERE status = $2 AND expires_at < $3`)).
		WithArgs("expired", "active", now).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectCommit()

	changed, err := store.ExpireLeases(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, int64(2), changed)
}

func TestStore_DeleteLease(t *testing.T) {
	ctx := context.Background()

	t.Run("按持有者限定删除范围", func(t *testing.T) {
		store, mock := newMockStore(t)
		mock.ExpectBegin()
		mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM "leases" WHERE email = $1 AND owner_id = $2`)).
			WithArgs("box@on11.ru", "intruder").
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectCommit()

		deleted, err := store.DeleteLease(ctx, "box@on11.ru", "intruder")
		require.NoError(t, err)
		assert.Zero(t, deleted)
	})

	t.Run("清理任务不校验持有者", func(t *testing.T) {
		store, mock := newMockStore(t)
		mock.ExpectBegin()
		mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM "leases" WHERE email = $1`)).
			WithArgs("box@on11.ru").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		deleted, err := store.DeleteLeaseByEmail(ctx, "box@on11.ru")
		require.NoError(t, err)
		assert.Equal(t, int64(1), deleted)
	})
}

func TestStore_DeleteMessage(t *testing.T) {
	ctx := context.Background()
	deleteSQL := regexp.QuoteMeta(`DELETE FROM "messages" WHERE id = $1`)

	t.Run("删除存在的邮件", func(t *testing.T) {
		store, mock := newMockStore(t)
		mock.ExpectBegin()
		mock.ExpectExec(deleteSQL).WithArgs("01HX").WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		assert.NoError(t, store.DeleteMessage(ctx, "01HX"))
	})

	t.Run("不存在时返回ErrMessageNotFound", func(t *testing.T) {
		store, mock := newMockStore(t)
		mock.ExpectBegin()
		mock.ExpectExec(deleteSQL).WithArgs("missing").WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectCommit()

		assert.ErrorIs(t, store.DeleteMessage(ctx, "missing"), storage.ErrMessageNotFound)
	})
}

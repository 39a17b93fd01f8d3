package repository

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newMockDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("创建 sqlmock 失败: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	gormDB, err := gorm.Open(mysql.New(mysql.Config{
		Conn:                      db,
		SkipInitializeWithVersion: true,
	}), &gorm.Config{
		SkipDefaultTransaction: true,
		Logger:                 logger.Discard,
	})
	if err != nil {
		t.Fatalf("打开 gorm 连接失败: %v", err)
	}

	return gormDB, mock
}

func accountRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "user_id", "quota_remaining", "connection_status", "role"}).
		AddRow(1, 1001, 0, "active", "consumer")
}

func TestDebitQuota(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewAccountRepository(db)

	// 条件 UPDATE 一条命中：检查和扣减同一条语句完成
	mock.ExpectExec("UPDATE `account` SET .* WHERE user_id = \\? AND quota_remaining > 0").
		WithArgs(sqlmock.AnyArg(), int64(1001)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := repo.DebitQuota(context.Background(), nil, 1001); err != nil {
		t.Fatalf("扣减失败: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("SQL 期望未满足: %v", err)
	}
}

func TestDebitQuotaExhausted(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewAccountRepository(db)

	// 配额为 0 时条件不命中，回查区分账户不存在和配额耗尽
	mock.ExpectExec("UPDATE `account` SET .* WHERE user_id = \\? AND quota_remaining > 0").
		WithArgs(sqlmock.AnyArg(), int64(1001)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT \\* FROM `account` WHERE user_id = \\?").
		WithArgs(int64(1001)).
		WillReturnRows(accountRows())

	err := repo.DebitQuota(context.Background(), nil, 1001)
	if !errors.Is(err, ErrQuotaExhausted) {
		t.Fatalf("期望 ErrQuotaExhausted，实际 %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("SQL 期望未满足: %v", err)
	}
}

func TestDebitQuotaAccountMissing(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewAccountRepository(db)

	mock.ExpectExec("UPDATE `account` SET .* WHERE user_id = \\? AND quota_remaining > 0").
		WithArgs(sqlmock.AnyArg(), int64(9999)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT \\* FROM `account` WHERE user_id = \\?").
		WithArgs(int64(9999)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	err := repo.DebitQuota(context.Background(), nil, 9999)
	if !errors.Is(err, ErrAccountNotFound) {
		t.Fatalf("期望 ErrAccountNotFound，实际 %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("SQL 期望未满足: %v", err)
	}
}

func TestCreditQuota(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewAccountRepository(db)

	mock.ExpectExec("UPDATE `account` SET .* WHERE user_id = \\? AND quota_remaining < \\?").
		WithArgs(sqlmock.AnyArg(), int64(1001), 12).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := repo.CreditQuota(context.Background(), nil, 1001); err != nil {
		t.Fatalf("返还失败: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("SQL 期望未满足: %v", err)
	}
}

func TestCreditQuotaAtCap(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewAccountRepository(db)

	// 配额已满，条件不命中
	mock.ExpectExec("UPDATE `account` SET .* WHERE user_id = \\? AND quota_remaining < \\?").
		WithArgs(sqlmock.AnyArg(), int64(1001), 12).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT \\* FROM `account` WHERE user_id = \\?").
		WithArgs(int64(1001)).
		WillReturnRows(accountRows())

	err := repo.CreditQuota(context.Background(), nil, 1001)
	if !errors.Is(err, ErrQuotaAtCap) {
		t.Fatalf("期望 ErrQuotaAtCap，实际 %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("SQL 期望未满足: %v", err)
	}
}

func TestUpdateConnectionStatusConflict(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewAccountRepository(db)

	// 源状态不匹配时条件更新不生效
	mock.ExpectExec("UPDATE `account` SET .* WHERE user_id = \\? AND connection_status = \\?").
		WithArgs("active", sqlmock.AnyArg(), int64(1001), "pending").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT \\* FROM `account` WHERE user_id = \\?").
		WithArgs(int64(1001)).
		WillReturnRows(accountRows())

	err := repo.UpdateConnectionStatus(context.Background(), 1001, "pending", "active")
	if !errors.Is(err, ErrConnectionTransition) {
		t.Fatalf("期望 ErrConnectionTransition，实际 %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("SQL 期望未满足: %v", err)
	}
}

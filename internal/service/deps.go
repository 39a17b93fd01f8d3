package service

import (
	"context"
	"time"

	"bookmygas/internal/infrastructure/lock"
	"bookmygas/internal/model"
	"bookmygas/internal/repository"

	"github.com/go-redis/redis/v8"
	"gorm.io/gorm"
)

// 预订和审批服务只依赖下面这些窄接口，
// 生产实现是 repository 包里的 GORM 仓储，测试用内存假实现

// AccountStore 账户存储：配额的原子扣减/返还是唯一的串行化点
type AccountStore interface {
	GetByUserID(ctx context.Context, userID int64) (*model.Account, error)
	DebitQuota(ctx context.Context, tx *gorm.DB, userID int64) error
	CreditQuota(ctx context.Context, tx *gorm.DB, userID int64) error
}

// BookingStore 预订单存储
type BookingStore interface {
	Create(ctx context.Context, tx *gorm.DB, booking *model.Booking) error
	GetByBookingNo(ctx context.Context, bookingNo string) (*model.Booking, error)
	GetByRequestID(ctx context.Context, requestID string) (*model.Booking, error)
	UpdateStatus(ctx context.Context, tx *gorm.DB, bookingNo string, fromStatus, toStatus string) error
}

// QuotaJournal 配额流水
type QuotaJournal interface {
	Create(ctx context.Context, tx *gorm.DB, entry *model.QuotaEntry) error
	GetByBookingNoAndType(ctx context.Context, bookingNo, entryType string) (*model.QuotaEntry, error)
}

// OutboxStore 事务性发件箱
type OutboxStore interface {
	Create(ctx context.Context, tx *gorm.DB, msg *model.OutboxMessage) error
}

// PriceSource 当前气瓶价格，建单时读一次并快照进订单
type PriceSource interface {
	GetCylinderPrice(ctx context.Context, defaultPrice int64) (int64, error)
}

// Lock 分布式锁
type Lock interface {
	Lock(ctx context.Context, retryInterval time.Duration, maxRetries int) error
	Unlock(ctx context.Context) error
}

// LockFactory 按维度创建锁
type LockFactory interface {
	BookingLock(userID int64, requestID string) Lock
	DecisionLock(bookingNo, holder string) Lock
}

// TxRunner 数据库事务执行器
type TxRunner interface {
	Transaction(ctx context.Context, fn func(tx *gorm.DB) error) error
}

var (
	_ AccountStore = (*repository.AccountRepository)(nil)
	_ BookingStore = (*repository.BookingRepository)(nil)
	_ QuotaJournal = (*repository.QuotaEntryRepository)(nil)
	_ OutboxStore  = (*repository.OutboxRepository)(nil)
	_ PriceSource  = (*repository.SettingRepository)(nil)
)

type gormTxRunner struct {
	db *gorm.DB
}

func (r gormTxRunner) Transaction(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return r.db.WithContext(ctx).Transaction(fn)
}

type redisLockFactory struct {
	client *redis.Client
}

func (f redisLockFactory) BookingLock(userID int64, requestID string) Lock {
	return lock.NewBookingLock(f.client, userID, requestID)
}

func (f redisLockFactory) DecisionLock(bookingNo, holder string) Lock {
	return lock.NewDecisionLock(f.client, bookingNo, holder)
}

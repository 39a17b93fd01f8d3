package repository

import (
	"context"
	"errors"
	"time"

	"bookmygas/internal/model"

	"gorm.io/gorm"
)

type QuotaEntryRepository struct {
	db *gorm.DB
}

func NewQuotaEntryRepository(db *gorm.DB) *QuotaEntryRepository {
	return &QuotaEntryRepository{db: db}
}

func (r *QuotaEntryRepository) Create(ctx context.Context, tx *gorm.DB, entry *model.QuotaEntry) error {
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx).Create(entry).Error
}

// GetByBookingNoAndType 按单号和流水类型查一笔流水
// 拒单返还的幂等判断靠它：已有 CREDIT 流水说明配额返还过了
func (r *QuotaEntryRepository) GetByBookingNoAndType(ctx context.Context, bookingNo, entryType string) (*model.QuotaEntry, error) {
	var entry model.QuotaEntry
	err := r.db.WithContext(ctx).
		Where("booking_no = ? AND type = ?", bookingNo, entryType).
		First(&entry).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &entry, nil
}

func (r *QuotaEntryRepository) ListByUserID(ctx context.Context, userID int64, page, pageSize int) ([]*model.QuotaEntry, int64, error) {
	var entries []*model.QuotaEntry
	var total int64

	query := r.db.WithContext(ctx).Model(&model.QuotaEntry{}).Where("user_id = ?", userID)

	err := query.Count(&total).Error
	if err != nil {
		return nil, 0, err
	}

	err = query.
		Order("created_at DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&entries).Error

	return entries, total, err
}

// GetDanglingDebits 查询超过宽限期、没有对应返还流水的扣减流水
// 对账任务再逐条检查预订单是否存在，不存在的补偿返还
func (r *QuotaEntryRepository) GetDanglingDebits(ctx context.Context, beforeTime time.Time, limit int) ([]*model.QuotaEntry, error) {
	var entries []*model.QuotaEntry
	err := r.db.WithContext(ctx).
		Where("type = ? AND created_at < ?", model.QuotaEntryTypeDebit, beforeTime).
		Where("booking_no NOT IN (?)",
			r.db.Model(&model.QuotaEntry{}).
				Select("booking_no").
				Where("type = ?", model.QuotaEntryTypeCredit),
		).
		Limit(limit).
		Find(&entries).Error
	return entries, err
}

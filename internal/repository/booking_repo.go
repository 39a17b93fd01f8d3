package repository

import (
	"context"
	"errors"
	"time"

	"bookmygas/internal/model"

	"gorm.io/gorm"
)

var (
	ErrBookingNotFound   = errors.New("预订单不存在")
	ErrInvalidTransition = errors.New("预订状态流转不合法")
)

type BookingRepository struct {
	db *gorm.DB
}

func NewBookingRepository(db *gorm.DB) *BookingRepository {
	return &BookingRepository{db: db}
}

func (r *BookingRepository) Create(ctx context.Context, tx *gorm.DB, booking *model.Booking) error {
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx).Create(booking).Error
}

func (r *BookingRepository) GetByBookingNo(ctx context.Context, bookingNo string) (*model.Booking, error) {
	var booking model.Booking
	err := r.db.WithContext(ctx).Where("booking_no = ?", bookingNo).First(&booking).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrBookingNotFound
		}
		return nil, err
	}
	return &booking, nil
}

func (r *BookingRepository) GetByRequestID(ctx context.Context, requestID string) (*model.Booking, error) {
	var booking model.Booking
	err := r.db.WithContext(ctx).Where("request_id = ?", requestID).First(&booking).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &booking, nil
}

// UpdateStatus 按期望的源状态做条件更新（乐观并发）
//
// 状态机要求所有流转全有或全无：WHERE 带上 fromStatus，
// 并发下状态已经被别人改走时 RowsAffected = 0，本次流转拒绝。
// 批准时写入配送日期，拒绝时清空
func (r *BookingRepository) UpdateStatus(ctx context.Context, tx *gorm.DB, bookingNo string, fromStatus, toStatus string) error {
	if !model.CanTransitionTo(fromStatus, toStatus) {
		return ErrInvalidTransition
	}

	if tx == nil {
		tx = r.db
	}

	updates := map[string]interface{}{
		"status": toStatus,
	}

	switch toStatus {
	case model.BookingStatusApproved:
		now := time.Now()
		updates["delivery_date"] = &now
	case model.BookingStatusRejected:
		updates["delivery_date"] = nil
	}

	result := tx.WithContext(ctx).
		Model(&model.Booking{}).
		Where("booking_no = ? AND status = ?", bookingNo, fromStatus).
		Updates(updates)

	if result.Error != nil {
		return result.Error
	}

	if result.RowsAffected == 0 {
		return ErrInvalidTransition
	}

	return nil
}

func (r *BookingRepository) ListByUserID(ctx context.Context, userID int64, page, pageSize int) ([]*model.Booking, int64, error) {
	var bookings []*model.Booking
	var total int64

	query := r.db.WithContext(ctx).Model(&model.Booking{}).Where("user_id = ?", userID)

	err := query.Count(&total).Error
	if err != nil {
		return nil, 0, err
	}

	err = query.
		Order("created_at DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&bookings).Error

	return bookings, total, err
}

func (r *BookingRepository) ListByStatus(ctx context.Context, status string, page, pageSize int) ([]*model.Booking, int64, error) {
	var bookings []*model.Booking
	var total int64

	query := r.db.WithContext(ctx).Model(&model.Booking{}).Where("status = ?", status)

	err := query.Count(&total).Error
	if err != nil {
		return nil, 0, err
	}

	err = query.
		Order("created_at ASC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&bookings).Error

	return bookings, total, err
}

func (r *BookingRepository) List(ctx context.Context, page, pageSize int) ([]*model.Booking, int64, error) {
	var bookings []*model.Booking
	var total int64

	query := r.db.WithContext(ctx).Model(&model.Booking{})

	err := query.Count(&total).Error
	if err != nil {
		return nil, 0, err
	}

	err = query.
		Order("created_at DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&bookings).Error

	return bookings, total, err
}

// GetStalePending 查询长时间停留在 pending 的预订，供提醒任务使用
func (r *BookingRepository) GetStalePending(ctx context.Context, beforeTime time.Time, limit int) ([]*model.Booking, error) {
	var bookings []*model.Booking
	err := r.db.WithContext(ctx).
		Where("status = ? AND created_at < ?", model.BookingStatusPending, beforeTime).
		Limit(limit).
		Find(&bookings).Error
	return bookings, err
}

// ExistsByBookingNo 对账任务用：判断扣减流水对应的预订单是否落库
func (r *BookingRepository) ExistsByBookingNo(ctx context.Context, bookingNo string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&model.Booking{}).
		Where("booking_no = ?", bookingNo).
		Count(&count).Error
	return count > 0, err
}

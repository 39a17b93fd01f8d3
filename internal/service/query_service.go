package service

import (
	"context"

	"bookmygas/internal/model"
	"bookmygas/internal/repository"

	"gorm.io/gorm"
)

// QueryService 只读投影，给 UI 和导出用，不做任何变更
type QueryService struct {
	bookingRepo *repository.BookingRepository
	entryRepo   *repository.QuotaEntryRepository
}

func NewQueryService(db *gorm.DB) *QueryService {
	return &QueryService{
		bookingRepo: repository.NewBookingRepository(db),
		entryRepo:   repository.NewQuotaEntryRepository(db),
	}
}

// ListUserBookings 消费者的预订历史
func (s *QueryService) ListUserBookings(ctx context.Context, userID int64, page, pageSize int) ([]*model.Booking, int64, error) {
	return s.bookingRepo.ListByUserID(ctx, userID, page, pageSize)
}

// ListPendingRequests 管理员待审批列表
func (s *QueryService) ListPendingRequests(ctx context.Context, page, pageSize int) ([]*model.Booking, int64, error) {
	return s.bookingRepo.ListByStatus(ctx, model.BookingStatusPending, page, pageSize)
}

// ListBookings 管理员全量历史，status 为空时不过滤
func (s *QueryService) ListBookings(ctx context.Context, status string, page, pageSize int) ([]*model.Booking, int64, error) {
	if status == "" {
		return s.bookingRepo.List(ctx, page, pageSize)
	}
	return s.bookingRepo.ListByStatus(ctx, status, page, pageSize)
}

// ListQuotaEntries 消费者的配额流水
func (s *QueryService) ListQuotaEntries(ctx context.Context, userID int64, page, pageSize int) ([]*model.QuotaEntry, int64, error) {
	return s.entryRepo.ListByUserID(ctx, userID, page, pageSize)
}

package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"bookmygas/internal/config"
	"bookmygas/internal/model"
	"bookmygas/internal/repository"
	"bookmygas/pkg/idgen"

	"github.com/go-redis/redis/v8"
	"gorm.io/gorm"
)

// AdminService 管理员审批服务
//
// 审批只是状态机流转的薄封装：approve/deliver 不动配额，
// reject 返还恰好一个配额单位，并且必须幂等
type AdminService struct {
	txRunner TxRunner
	accounts AccountStore
	bookings BookingStore
	journal  QuotaJournal
	outbox   OutboxStore
	locks    LockFactory
	cfg      *config.Config
}

func NewAdminService(db *gorm.DB, redisClient *redis.Client, cfg *config.Config) *AdminService {
	return &AdminService{
		txRunner: gormTxRunner{db: db},
		accounts: repository.NewAccountRepository(db),
		bookings: repository.NewBookingRepository(db),
		journal:  repository.NewQuotaEntryRepository(db),
		outbox:   repository.NewOutboxRepository(db),
		locks:    redisLockFactory{client: redisClient},
		cfg:      cfg,
	}
}

type DecisionResponse struct {
	BookingNo    string     `json:"booking_no"`
	Status       string     `json:"status"`
	DeliveryDate *time.Time `json:"delivery_date,omitempty"`
	Message      string     `json:"message,omitempty"`
}

// Approve 批准预订：pending -> approved，写入配送日期，不动配额
// （单位在建单时已经扣过了）
func (s *AdminService) Approve(ctx context.Context, bookingNo string) (*DecisionResponse, error) {
	booking, err := s.bookings.GetByBookingNo(ctx, bookingNo)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	err = s.txRunner.Transaction(ctx, func(tx *gorm.DB) error {
		if err := s.bookings.UpdateStatus(ctx, tx, bookingNo, model.BookingStatusPending, model.BookingStatusApproved); err != nil {
			return err
		}
		booking.Status = model.BookingStatusApproved
		booking.DeliveryDate = &now
		return s.enqueueDecisionEvent(ctx, tx, model.EventBookingApproved, booking)
	})
	if err != nil {
		if errors.Is(err, repository.ErrInvalidTransition) {
			log.Printf("批准失败，状态流转不合法: bookingNo=%s, status=%s", bookingNo, booking.Status)
		}
		return nil, err
	}

	log.Printf("预订已批准: bookingNo=%s, userID=%d", bookingNo, booking.UserID)

	return &DecisionResponse{
		BookingNo:    booking.BookingNo,
		Status:       booking.Status,
		DeliveryDate: booking.DeliveryDate,
		Message:      "已批准",
	}, nil
}

// Reject 拒绝预订：pending -> rejected，清空配送日期，返还一个配额单位
//
// 【关键点】幂等要求：对已拒绝的单再次拒绝必须是空操作，绝不能返还两次。
// 判重依据是配额流水：该单已有 CREDIT 流水就说明返还过了
func (s *AdminService) Reject(ctx context.Context, bookingNo, operator string) (*DecisionResponse, error) {
	booking, err := s.bookings.GetByBookingNo(ctx, bookingNo)
	if err != nil {
		return nil, err
	}

	if booking.Status == model.BookingStatusRejected {
		return &DecisionResponse{
			BookingNo: booking.BookingNo,
			Status:    booking.Status,
			Message:   "该单已拒绝，请勿重复操作",
		}, nil
	}

	decisionLock := s.locks.DecisionLock(bookingNo, operator)
	if err := decisionLock.Lock(ctx, 100*time.Millisecond, 30); err != nil {
		return nil, fmt.Errorf("系统繁忙，请稍后重试: %w", err)
	}
	defer decisionLock.Unlock(ctx)

	// 获取锁后复查：状态和流水都确认没返还过才继续
	booking, err = s.bookings.GetByBookingNo(ctx, bookingNo)
	if err != nil {
		return nil, err
	}
	if booking.Status == model.BookingStatusRejected {
		return &DecisionResponse{
			BookingNo: booking.BookingNo,
			Status:    booking.Status,
			Message:   "该单已拒绝，请勿重复操作",
		}, nil
	}

	credited, err := s.journal.GetByBookingNoAndType(ctx, bookingNo, model.QuotaEntryTypeCredit)
	if err != nil {
		return nil, fmt.Errorf("查询配额流水失败: %w", err)
	}
	if credited != nil {
		return &DecisionResponse{
			BookingNo: booking.BookingNo,
			Status:    booking.Status,
			Message:   "配额已返还，请勿重复操作",
		}, nil
	}

	account, err := s.accounts.GetByUserID(ctx, booking.UserID)
	if err != nil {
		return nil, err
	}

	err = s.txRunner.Transaction(ctx, func(tx *gorm.DB) error {
		// 条件更新挡住并发：状态已经不是 pending 时这里直接失败
		if err := s.bookings.UpdateStatus(ctx, tx, bookingNo, model.BookingStatusPending, model.BookingStatusRejected); err != nil {
			return err
		}

		if err := s.accounts.CreditQuota(ctx, tx, booking.UserID); err != nil {
			return fmt.Errorf("返还配额失败: %w", err)
		}

		entry := &model.QuotaEntry{
			EntryNo:     idgen.GenerateEntryNo(),
			UserID:      booking.UserID,
			BookingNo:   bookingNo,
			Delta:       1,
			Type:        model.QuotaEntryTypeCredit,
			QuotaBefore: account.QuotaRemaining,
			QuotaAfter:  account.QuotaRemaining + 1,
			Remark:      fmt.Sprintf("拒单返还-%s", operator),
		}
		if err := s.journal.Create(ctx, tx, entry); err != nil {
			return fmt.Errorf("记录配额流水失败: %w", err)
		}

		booking.Status = model.BookingStatusRejected
		booking.DeliveryDate = nil
		return s.enqueueDecisionEvent(ctx, tx, model.EventBookingRejected, booking)
	})
	if err != nil {
		return nil, err
	}

	log.Printf("预订已拒绝，配额已返还: bookingNo=%s, userID=%d", bookingNo, booking.UserID)

	return &DecisionResponse{
		BookingNo: bookingNo,
		Status:    model.BookingStatusRejected,
		Message:   "已拒绝，配额已返还",
	}, nil
}

// MarkDelivered 标记送达：approved -> delivered，不动配额
func (s *AdminService) MarkDelivered(ctx context.Context, bookingNo string) (*DecisionResponse, error) {
	booking, err := s.bookings.GetByBookingNo(ctx, bookingNo)
	if err != nil {
		return nil, err
	}

	err = s.txRunner.Transaction(ctx, func(tx *gorm.DB) error {
		if err := s.bookings.UpdateStatus(ctx, tx, bookingNo, model.BookingStatusApproved, model.BookingStatusDelivered); err != nil {
			return err
		}
		booking.Status = model.BookingStatusDelivered
		return s.enqueueDecisionEvent(ctx, tx, model.EventBookingDelivered, booking)
	})
	if err != nil {
		if errors.Is(err, repository.ErrInvalidTransition) {
			log.Printf("标记送达失败，状态流转不合法: bookingNo=%s, status=%s", bookingNo, booking.Status)
		}
		return nil, err
	}

	log.Printf("预订已送达: bookingNo=%s", bookingNo)

	return &DecisionResponse{
		BookingNo: bookingNo,
		Status:    model.BookingStatusDelivered,
		Message:   "已送达",
	}, nil
}

func (s *AdminService) enqueueDecisionEvent(ctx context.Context, tx *gorm.DB, event string, booking *model.Booking) error {
	payload := map[string]interface{}{
		"event":        event,
		"booking_no":   booking.BookingNo,
		"user_id":      booking.UserID,
		"status":       booking.Status,
		"payment_mode": booking.PaymentMode,
		"amount":       booking.Amount,
		"occurred_at":  time.Now().Format(time.RFC3339),
	}
	payloadBytes, _ := json.Marshal(payload)

	msg := &model.OutboxMessage{
		MessageKey: booking.BookingNo,
		Topic:      s.cfg.Kafka.Topic.BookingEvents,
		Payload:    string(payloadBytes),
		Status:     model.OutboxStatusPending,
	}
	if err := s.outbox.Create(ctx, tx, msg); err != nil {
		return fmt.Errorf("写入事件失败: %w", err)
	}
	return nil
}

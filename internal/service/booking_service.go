package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"bookmygas/internal/config"
	"bookmygas/internal/gateway"
	"bookmygas/internal/model"
	"bookmygas/internal/repository"
	"bookmygas/pkg/idgen"

	"github.com/go-redis/redis/v8"
	"gorm.io/gorm"
)

var (
	ErrNotEligible       = errors.New("账户未开户，请先申请开户")
	ErrProfileIncomplete = errors.New("请先完善手机号和配送地址")
	ErrUnsupportedMode   = errors.New("不支持的支付方式")
	// ErrCompensationFailed 补偿返还最终失败，配额被少记了一个单位，
	// 必须人工对账，绝不能静默吞掉
	ErrCompensationFailed = errors.New("配额补偿返还失败，需要对账")
)

type BookingService struct {
	txRunner TxRunner
	accounts AccountStore
	bookings BookingStore
	journal  QuotaJournal
	outbox   OutboxStore
	price    PriceSource
	locks    LockFactory
	gateway  gateway.PaymentGateway
	cfg      *config.Config
}

func NewBookingService(db *gorm.DB, redisClient *redis.Client, cfg *config.Config, gw gateway.PaymentGateway) *BookingService {
	return &BookingService{
		txRunner: gormTxRunner{db: db},
		accounts: repository.NewAccountRepository(db),
		bookings: repository.NewBookingRepository(db),
		journal:  repository.NewQuotaEntryRepository(db),
		outbox:   repository.NewOutboxRepository(db),
		price:    repository.NewSettingRepository(db),
		locks:    redisLockFactory{client: redisClient},
		gateway:  gw,
		cfg:      cfg,
	}
}

// PrepaidProof 客户端完成收银台后回传的支付凭据
type PrepaidProof struct {
	OrderID   string `json:"order_id" binding:"required"`
	PaymentID string `json:"payment_id" binding:"required"`
	Signature string `json:"signature" binding:"required"`
}

type CreateBookingRequest struct {
	RequestID   string        `json:"request_id" binding:"required"` // 幂等ID，客户端生成
	UserID      int64         `json:"user_id"`
	PaymentMode string        `json:"payment_mode" binding:"required"`
	Payment     *PrepaidProof `json:"payment"` // 仅 PREPAID 需要
}

type BookingResponse struct {
	BookingNo    string     `json:"booking_no"`
	Status       string     `json:"status"`
	PaymentMode  string     `json:"payment_mode"`
	Amount       int64      `json:"amount"`
	DeliveryDate *time.Time `json:"delivery_date,omitempty"`
	Message      string     `json:"message,omitempty"`
}

func bookingToResponse(b *model.Booking, message string) *BookingResponse {
	return &BookingResponse{
		BookingNo:    b.BookingNo,
		Status:       b.Status,
		PaymentMode:  b.PaymentMode,
		Amount:       b.Amount,
		DeliveryDate: b.DeliveryDate,
		Message:      message,
	}
}

// CreateBooking 创建预订
//
// 【关键点】预订是整个系统最核心的操作，需要保证：
// 1. 幂等性：相同的 request_id 只会建一单
// 2. 原子性：配额扣减和建单必须同时成功或同时失败，配额永不超扣
// 3. 预付单：网关调用期间不持有锁、不开事务；授权失败必须把配额补偿回去
func (s *BookingService) CreateBooking(ctx context.Context, req *CreateBookingRequest) (*BookingResponse, error) {
	// 幂等校验
	existing, err := s.bookings.GetByRequestID(ctx, req.RequestID)
	if err != nil {
		return nil, fmt.Errorf("查询预订单失败: %w", err)
	}
	if existing != nil {
		return bookingToResponse(existing, "预订已存在"), nil
	}

	account, err := s.accounts.GetByUserID(ctx, req.UserID)
	if err != nil {
		return nil, err
	}

	// 资格检查：配额耗尽和未开户都在任何外部支付调用之前拦下
	if account.ConnectionStatus != model.ConnectionActive {
		return nil, ErrNotEligible
	}
	if !account.ProfileComplete() {
		return nil, ErrProfileIncomplete
	}

	// 建单时读一次当前价格，快照进订单，之后调价不回溯
	amount, err := s.price.GetCylinderPrice(ctx, s.cfg.Business.DefaultCylinderPrice)
	if err != nil {
		return nil, fmt.Errorf("读取气瓶价格失败: %w", err)
	}

	bookingNo := idgen.GenerateBookingNo()

	switch req.PaymentMode {
	case model.PaymentModeCOD:
		return s.createCOD(ctx, req, account, bookingNo, amount)
	case model.PaymentModePrepaid:
		return s.createPrepaid(ctx, req, account, bookingNo, amount)
	default:
		return nil, ErrUnsupportedMode
	}
}

// createCOD 货到付款：扣配额 + 建单 pending，一个事务完成
func (s *BookingService) createCOD(ctx context.Context, req *CreateBookingRequest, account *model.Account, bookingNo string, amount int64) (*BookingResponse, error) {
	bookingLock := s.locks.BookingLock(req.UserID, req.RequestID)
	if err := bookingLock.Lock(ctx, 100*time.Millisecond, 30); err != nil {
		return nil, fmt.Errorf("系统繁忙，请稍后重试: %w", err)
	}
	defer bookingLock.Unlock(ctx)

	// 获取锁后再次检查幂等
	existing, err := s.bookings.GetByRequestID(ctx, req.RequestID)
	if err != nil {
		return nil, fmt.Errorf("查询预订单失败: %w", err)
	}
	if existing != nil {
		return bookingToResponse(existing, "预订已存在"), nil
	}

	booking := &model.Booking{
		BookingNo:   bookingNo,
		RequestID:   req.RequestID,
		UserID:      req.UserID,
		Status:      model.BookingStatusPending,
		PaymentMode: model.PaymentModeCOD,
		Amount:      amount,
	}

	err = s.txRunner.Transaction(ctx, func(tx *gorm.DB) error {
		if err := s.accounts.DebitQuota(ctx, tx, req.UserID); err != nil {
			return err
		}

		entry := &model.QuotaEntry{
			EntryNo:     idgen.GenerateEntryNo(),
			UserID:      req.UserID,
			BookingNo:   bookingNo,
			Delta:       -1,
			Type:        model.QuotaEntryTypeDebit,
			QuotaBefore: account.QuotaRemaining,
			QuotaAfter:  account.QuotaRemaining - 1,
			Remark:      "货到付款预订",
		}
		if err := s.journal.Create(ctx, tx, entry); err != nil {
			return fmt.Errorf("记录配额流水失败: %w", err)
		}

		if err := s.bookings.Create(ctx, tx, booking); err != nil {
			return fmt.Errorf("创建预订单失败: %w", err)
		}

		return s.enqueueEvent(ctx, tx, model.EventBookingCreated, booking)
	})

	if err != nil {
		// 配额耗尽原样上抛，用户可以直接看到
		return nil, err
	}

	log.Printf("预订成功: bookingNo=%s, userID=%d, mode=COD, amount=%d", bookingNo, req.UserID, amount)

	return bookingToResponse(booking, "预订已提交，等待审批"), nil
}

// createPrepaid 预付：先扣配额占位，再调网关授权，通过后直接建单 approved
func (s *BookingService) createPrepaid(ctx context.Context, req *CreateBookingRequest, account *model.Account, bookingNo string, amount int64) (*BookingResponse, error) {
	if req.Payment == nil {
		return nil, fmt.Errorf("%w: 缺少支付凭据", gateway.ErrPaymentFailed)
	}

	// 第一步：锁内扣配额并记流水。锁在网关调用前释放，
	// 远程调用再慢也不能挡住这个账户的其它操作路径
	existing, err := s.reserveUnit(ctx, req, account, bookingNo)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return bookingToResponse(existing, "预订已存在"), nil
	}

	// 第二步：网关授权。失败时配额已经扣了，必须补偿回去
	token, err := s.gateway.Authorize(ctx, gateway.AuthorizeRequest{
		Amount:    amount,
		OrderID:   req.Payment.OrderID,
		PaymentID: req.Payment.PaymentID,
		Signature: req.Payment.Signature,
	})
	if err != nil {
		if compErr := s.compensateCredit(req.UserID, bookingNo, account.QuotaRemaining); compErr != nil {
			return nil, fmt.Errorf("%w: %v (原授权错误: %s)", ErrCompensationFailed, compErr, err)
		}
		// 支付失败单独上报，让用户知道配额没有被消耗
		return nil, err
	}

	// 第三步：建单 approved，配送日期留空等管理员排期
	booking := &model.Booking{
		BookingNo:   bookingNo,
		RequestID:   req.RequestID,
		UserID:      req.UserID,
		Status:      model.BookingStatusApproved,
		PaymentMode: model.PaymentModePrepaid,
		Amount:      amount,
		PaymentRef:  &token.PaymentRef,
	}

	err = s.txRunner.Transaction(ctx, func(tx *gorm.DB) error {
		if err := s.bookings.Create(ctx, tx, booking); err != nil {
			return fmt.Errorf("创建预订单失败: %w", err)
		}
		return s.enqueueEvent(ctx, tx, model.EventBookingApproved, booking)
	})

	if err != nil {
		// 支付成功但建单失败：配额照样补偿（没有活跃预订就不该占单位），
		// 退款走网关侧人工处理
		if compErr := s.compensateCredit(req.UserID, bookingNo, account.QuotaRemaining); compErr != nil {
			return nil, fmt.Errorf("%w: %v (原错误: %s)", ErrCompensationFailed, compErr, err)
		}
		return nil, fmt.Errorf("支付成功但建单失败，请联系客服: %w", err)
	}

	log.Printf("预订成功: bookingNo=%s, userID=%d, mode=PREPAID, paymentRef=%s", bookingNo, req.UserID, token.PaymentRef)

	return bookingToResponse(booking, "支付成功，预订已自动批准"), nil
}

// reserveUnit 锁内完成幂等复查和配额扣减
// 返回非 nil 的 existing 表示幂等命中，调用方直接返回已有订单
func (s *BookingService) reserveUnit(ctx context.Context, req *CreateBookingRequest, account *model.Account, bookingNo string) (*model.Booking, error) {
	bookingLock := s.locks.BookingLock(req.UserID, req.RequestID)
	if err := bookingLock.Lock(ctx, 100*time.Millisecond, 30); err != nil {
		return nil, fmt.Errorf("系统繁忙，请稍后重试: %w", err)
	}
	defer bookingLock.Unlock(ctx)

	existing, err := s.bookings.GetByRequestID(ctx, req.RequestID)
	if err != nil {
		return nil, fmt.Errorf("查询预订单失败: %w", err)
	}
	if existing != nil {
		return existing, nil
	}

	err = s.txRunner.Transaction(ctx, func(tx *gorm.DB) error {
		if err := s.accounts.DebitQuota(ctx, tx, req.UserID); err != nil {
			return err
		}
		entry := &model.QuotaEntry{
			EntryNo:     idgen.GenerateEntryNo(),
			UserID:      req.UserID,
			BookingNo:   bookingNo,
			Delta:       -1,
			Type:        model.QuotaEntryTypeDebit,
			QuotaBefore: account.QuotaRemaining,
			QuotaAfter:  account.QuotaRemaining - 1,
			Remark:      "预付预订占位",
		}
		return s.journal.Create(ctx, tx, entry)
	})
	if err != nil {
		return nil, err
	}
	return nil, nil
}

// compensateCredit 补偿返还一个配额单位，带重试
//
// 【关键点】故意不用请求的 ctx：客户端断开或网关超时后，
// 补偿仍然必须执行，否则留下"扣了配额却没有订单"的状态。
// 重试全部失败时返回错误，由对账任务兜底
func (s *BookingService) compensateCredit(userID int64, bookingNo string, quotaBefore int) error {
	ctx := context.Background()

	maxRetry := s.cfg.Business.MaxRetryCount
	if maxRetry <= 0 {
		maxRetry = 3
	}

	var lastErr error
	for i := 0; i < maxRetry; i++ {
		err := s.txRunner.Transaction(ctx, func(tx *gorm.DB) error {
			if err := s.accounts.CreditQuota(ctx, tx, userID); err != nil {
				return err
			}
			entry := &model.QuotaEntry{
				EntryNo:     idgen.GenerateEntryNo(),
				UserID:      userID,
				BookingNo:   bookingNo,
				Delta:       1,
				Type:        model.QuotaEntryTypeCredit,
				QuotaBefore: quotaBefore - 1,
				QuotaAfter:  quotaBefore,
				Remark:      "预付授权失败补偿",
			}
			return s.journal.Create(ctx, tx, entry)
		})
		if err == nil {
			return nil
		}
		if errors.Is(err, repository.ErrQuotaAtCap) {
			// 配额已经满了，说明这个单位已被别的路径补回（比如对账任务），按成功处理
			log.Printf("补偿返还时配额已满: userID=%d, bookingNo=%s", userID, bookingNo)
			return nil
		}
		lastErr = err
		log.Printf("补偿返还失败，第 %d 次重试: userID=%d, bookingNo=%s, err=%v", i+1, userID, bookingNo, err)
		time.Sleep(time.Duration(i+1) * 100 * time.Millisecond)
	}

	log.Printf("[FATAL] 补偿返还最终失败: userID=%d, bookingNo=%s, err=%v", userID, bookingNo, lastErr)
	return lastErr
}

// enqueueEvent 在业务事务里写发件箱，由后台任务投递 Kafka
func (s *BookingService) enqueueEvent(ctx context.Context, tx *gorm.DB, event string, booking *model.Booking) error {
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

// GetBooking 查询预订详情
func (s *BookingService) GetBooking(ctx context.Context, bookingNo string) (*model.Booking, error) {
	return s.bookings.GetByBookingNo(ctx, bookingNo)
}

package job

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"bookmygas/internal/config"
	"bookmygas/internal/model"
	"bookmygas/internal/repository"
	"bookmygas/pkg/idgen"

	"gorm.io/gorm"
)

// QuotaReconcileJob 配额对账任务
//
// 预付流程在"扣配额"和"建单"之间要过一次外部网关，
// 进程在中间崩掉（或补偿重试耗尽）会留下扣了配额却没有订单的状态。
// 对账任务定期找出超过宽限期、没有订单也没有返还流水的扣减流水，补偿返还
type QuotaReconcileJob struct {
	db          *gorm.DB
	accountRepo *repository.AccountRepository
	bookingRepo *repository.BookingRepository
	entryRepo   *repository.QuotaEntryRepository
	cfg         *config.Config
	stopCh      chan struct{}
	interval    time.Duration
	batchSize   int
}

func NewQuotaReconcileJob(db *gorm.DB, cfg *config.Config) *QuotaReconcileJob {
	return &QuotaReconcileJob{
		db:          db,
		accountRepo: repository.NewAccountRepository(db),
		bookingRepo: repository.NewBookingRepository(db),
		entryRepo:   repository.NewQuotaEntryRepository(db),
		cfg:         cfg,
		stopCh:      make(chan struct{}),
		interval:    30 * time.Second,
		batchSize:   50,
	}
}

func (j *QuotaReconcileJob) Start(ctx context.Context) {
	log.Println("[QuotaReconcileJob] 配额对账任务启动")

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("[QuotaReconcileJob] 收到停止信号，任务退出")
			return
		case <-j.stopCh:
			log.Println("[QuotaReconcileJob] 任务停止")
			return
		case <-ticker.C:
			j.reconcileDanglingDebits(ctx)
		}
	}
}

func (j *QuotaReconcileJob) Stop() {
	close(j.stopCh)
}

func (j *QuotaReconcileJob) reconcileDanglingDebits(ctx context.Context) {
	graceMin := j.cfg.Business.ReconcileGraceMin
	if graceMin <= 0 {
		graceMin = 5
	}
	beforeTime := time.Now().Add(-time.Duration(graceMin) * time.Minute)

	entries, err := j.entryRepo.GetDanglingDebits(ctx, beforeTime, j.batchSize)
	if err != nil {
		log.Printf("[QuotaReconcileJob] 查询扣减流水失败: %v", err)
		return
	}

	for _, entry := range entries {
		j.reconcileEntry(ctx, entry)
	}
}

func (j *QuotaReconcileJob) reconcileEntry(ctx context.Context, entry *model.QuotaEntry) {
	exists, err := j.bookingRepo.ExistsByBookingNo(ctx, entry.BookingNo)
	if err != nil {
		log.Printf("[QuotaReconcileJob] 查询预订单失败: bookingNo=%s, err=%v", entry.BookingNo, err)
		return
	}
	if exists {
		// 订单在，扣减是正常的
		return
	}

	log.Printf("[QuotaReconcileJob] 发现已扣配额但没有订单的流水: bookingNo=%s, userID=%d", entry.BookingNo, entry.UserID)

	err = j.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := j.accountRepo.CreditQuota(ctx, tx, entry.UserID); err != nil {
			return err
		}
		credit := &model.QuotaEntry{
			EntryNo:     idgen.GenerateEntryNo(),
			UserID:      entry.UserID,
			BookingNo:   entry.BookingNo,
			Delta:       1,
			Type:        model.QuotaEntryTypeCredit,
			QuotaBefore: entry.QuotaAfter,
			QuotaAfter:  entry.QuotaBefore,
			Remark:      "对账补偿返还",
		}
		return j.entryRepo.Create(ctx, tx, credit)
	})
	if err != nil {
		log.Printf("[QuotaReconcileJob] 补偿返还失败: bookingNo=%s, err=%v", entry.BookingNo, err)
		return
	}

	log.Printf("[QuotaReconcileJob] 补偿返还成功: bookingNo=%s, userID=%d", entry.BookingNo, entry.UserID)
}

// StalePendingJob 滞留预订提醒任务
// pending 超过配置时长还没人审批的单，发一条提醒事件给通知侧
type StalePendingJob struct {
	db          *gorm.DB
	bookingRepo *repository.BookingRepository
	outboxRepo  *repository.OutboxRepository
	cfg         *config.Config
	stopCh      chan struct{}
	interval    time.Duration
	batchSize   int
}

func NewStalePendingJob(db *gorm.DB, cfg *config.Config) *StalePendingJob {
	return &StalePendingJob{
		db:          db,
		bookingRepo: repository.NewBookingRepository(db),
		outboxRepo:  repository.NewOutboxRepository(db),
		cfg:         cfg,
		stopCh:      make(chan struct{}),
		interval:    10 * time.Minute,
		batchSize:   100,
	}
}

func (j *StalePendingJob) Start(ctx context.Context) {
	log.Println("[StalePendingJob] 滞留预订提醒任务启动")

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("[StalePendingJob] 收到停止信号，任务退出")
			return
		case <-j.stopCh:
			log.Println("[StalePendingJob] 任务停止")
			return
		case <-ticker.C:
			j.remindStalePending(ctx)
		}
	}
}

func (j *StalePendingJob) Stop() {
	close(j.stopCh)
}

func (j *StalePendingJob) remindStalePending(ctx context.Context) {
	staleHours := j.cfg.Business.StalePendingHours
	if staleHours <= 0 {
		staleHours = 24
	}
	beforeTime := time.Now().Add(-time.Duration(staleHours) * time.Hour)

	bookings, err := j.bookingRepo.GetStalePending(ctx, beforeTime, j.batchSize)
	if err != nil {
		log.Printf("[StalePendingJob] 查询滞留预订失败: %v", err)
		return
	}

	if len(bookings) == 0 {
		return
	}

	log.Printf("[StalePendingJob] 发现 %d 个滞留的待审批预订", len(bookings))

	// 只提醒刚跨过阈值的单，避免每次扫描重复发事件
	windowStart := beforeTime.Add(-j.interval)

	for _, booking := range bookings {
		if booking.CreatedAt.Before(windowStart) {
			continue
		}
		payload := map[string]interface{}{
			"event":      model.EventBookingStale,
			"booking_no": booking.BookingNo,
			"user_id":    booking.UserID,
			"created_at": booking.CreatedAt.Format(time.RFC3339),
		}
		payloadBytes, _ := json.Marshal(payload)

		msg := &model.OutboxMessage{
			MessageKey: booking.BookingNo,
			Topic:      j.cfg.Kafka.Topic.BookingEvents,
			Payload:    string(payloadBytes),
			Status:     model.OutboxStatusPending,
		}
		if err := j.outboxRepo.Create(ctx, nil, msg); err != nil {
			log.Printf("[StalePendingJob] 写入提醒事件失败: bookingNo=%s, err=%v", booking.BookingNo, err)
		}
	}
}

package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"bookmygas/internal/gateway"
	"bookmygas/internal/model"
	"bookmygas/internal/repository"
)

func TestCreateBookingCOD(t *testing.T) {
	env := newTestEnv(activeAccount(1001, 12))

	resp, err := env.svc.CreateBooking(context.Background(), &CreateBookingRequest{
		RequestID:   "req-cod-1",
		UserID:      1001,
		PaymentMode: model.PaymentModeCOD,
	})
	if err != nil {
		t.Fatalf("CreateBooking 失败: %v", err)
	}

	if resp.Status != model.BookingStatusPending {
		t.Errorf("状态期望 pending，实际 %s", resp.Status)
	}
	if resp.DeliveryDate != nil {
		t.Errorf("pending 单不应有配送日期")
	}
	if resp.Amount != 90000 {
		t.Errorf("金额期望 90000，实际 %d", resp.Amount)
	}
	if got := env.accounts.quota(1001); got != 11 {
		t.Errorf("配额期望 11，实际 %d", got)
	}
	if got := env.journal.countByType(model.QuotaEntryTypeDebit); got != 1 {
		t.Errorf("扣减流水期望 1 条，实际 %d", got)
	}
	if env.outbox.count() != 1 {
		t.Errorf("发件箱期望 1 条消息，实际 %d", env.outbox.count())
	}
}

func TestCreateBookingQuotaExhausted(t *testing.T) {
	env := newTestEnv(activeAccount(1001, 0))

	_, err := env.svc.CreateBooking(context.Background(), &CreateBookingRequest{
		RequestID:   "req-exhausted",
		UserID:      1001,
		PaymentMode: model.PaymentModeCOD,
	})
	if !errors.Is(err, repository.ErrQuotaExhausted) {
		t.Fatalf("期望 ErrQuotaExhausted，实际 %v", err)
	}
	if env.bookings.count() != 0 {
		t.Errorf("配额耗尽时不应建单")
	}
	if got := env.accounts.quota(1001); got != 0 {
		t.Errorf("配额不应变化，实际 %d", got)
	}
}

func TestCreateBookingNotEligible(t *testing.T) {
	account := activeAccount(1001, 12)
	account.ConnectionStatus = model.ConnectionPending
	env := newTestEnv(account)

	_, err := env.svc.CreateBooking(context.Background(), &CreateBookingRequest{
		RequestID:   "req-not-eligible",
		UserID:      1001,
		PaymentMode: model.PaymentModeCOD,
	})
	if !errors.Is(err, ErrNotEligible) {
		t.Fatalf("期望 ErrNotEligible，实际 %v", err)
	}
	if got := env.accounts.quota(1001); got != 12 {
		t.Errorf("未开户用户的配额不应变化，实际 %d", got)
	}
}

func TestCreateBookingProfileIncomplete(t *testing.T) {
	account := activeAccount(1001, 12)
	account.Address = nil
	env := newTestEnv(account)

	_, err := env.svc.CreateBooking(context.Background(), &CreateBookingRequest{
		RequestID:   "req-no-profile",
		UserID:      1001,
		PaymentMode: model.PaymentModeCOD,
	})
	if !errors.Is(err, ErrProfileIncomplete) {
		t.Fatalf("期望 ErrProfileIncomplete，实际 %v", err)
	}
}

func TestCreateBookingIdempotent(t *testing.T) {
	env := newTestEnv(activeAccount(1001, 12))

	req := &CreateBookingRequest{
		RequestID:   "req-idem",
		UserID:      1001,
		PaymentMode: model.PaymentModeCOD,
	}

	first, err := env.svc.CreateBooking(context.Background(), req)
	if err != nil {
		t.Fatalf("首次建单失败: %v", err)
	}
	second, err := env.svc.CreateBooking(context.Background(), req)
	if err != nil {
		t.Fatalf("重复请求失败: %v", err)
	}

	if first.BookingNo != second.BookingNo {
		t.Errorf("相同 request_id 应返回同一单: %s vs %s", first.BookingNo, second.BookingNo)
	}
	if env.bookings.count() != 1 {
		t.Errorf("期望只有 1 单，实际 %d", env.bookings.count())
	}
	if got := env.accounts.quota(1001); got != 11 {
		t.Errorf("配额只应扣一次，实际 %d", got)
	}
}

func TestCreateBookingPrepaidApproved(t *testing.T) {
	env := newTestEnv(activeAccount(1001, 12))

	resp, err := env.svc.CreateBooking(context.Background(), &CreateBookingRequest{
		RequestID:   "req-prepaid-1",
		UserID:      1001,
		PaymentMode: model.PaymentModePrepaid,
		Payment: &PrepaidProof{
			OrderID:   "order_abc",
			PaymentID: "pay_xyz",
			Signature: "sig",
		},
	})
	if err != nil {
		t.Fatalf("预付建单失败: %v", err)
	}

	if resp.Status != model.BookingStatusApproved {
		t.Errorf("预付单期望直接 approved，实际 %s", resp.Status)
	}
	if resp.DeliveryDate != nil {
		t.Errorf("自动批准的单配送日期应留空等排期")
	}
	if got := env.accounts.quota(1001); got != 11 {
		t.Errorf("配额期望 11，实际 %d", got)
	}

	booking, err := env.bookings.GetByBookingNo(context.Background(), resp.BookingNo)
	if err != nil {
		t.Fatalf("查询预订失败: %v", err)
	}
	if booking.PaymentRef == nil || *booking.PaymentRef != "pay_xyz" {
		t.Errorf("支付凭证未记录")
	}
}

func TestCreateBookingPrepaidAuthFailure(t *testing.T) {
	env := newTestEnv(activeAccount(1001, 12))
	env.gateway.authorizeErr = fmt.Errorf("%w: 签名校验失败", gateway.ErrPaymentFailed)

	_, err := env.svc.CreateBooking(context.Background(), &CreateBookingRequest{
		RequestID:   "req-prepaid-fail",
		UserID:      1001,
		PaymentMode: model.PaymentModePrepaid,
		Payment: &PrepaidProof{
			OrderID:   "order_abc",
			PaymentID: "pay_bad",
			Signature: "bad-sig",
		},
	})
	if !errors.Is(err, gateway.ErrPaymentFailed) {
		t.Fatalf("期望 ErrPaymentFailed，实际 %v", err)
	}

	// 授权失败后配额必须被补偿回去，流水上有一扣一还
	if got := env.accounts.quota(1001); got != 12 {
		t.Errorf("授权失败后配额应恢复为 12，实际 %d", got)
	}
	if got := env.journal.countByType(model.QuotaEntryTypeDebit); got != 1 {
		t.Errorf("扣减流水期望 1 条，实际 %d", got)
	}
	if got := env.journal.countByType(model.QuotaEntryTypeCredit); got != 1 {
		t.Errorf("补偿流水期望 1 条，实际 %d", got)
	}
	if env.bookings.count() != 0 {
		t.Errorf("授权失败不应建单")
	}
}

func TestCreateBookingPrepaidMissingProof(t *testing.T) {
	env := newTestEnv(activeAccount(1001, 12))

	_, err := env.svc.CreateBooking(context.Background(), &CreateBookingRequest{
		RequestID:   "req-no-proof",
		UserID:      1001,
		PaymentMode: model.PaymentModePrepaid,
	})
	if !errors.Is(err, gateway.ErrPaymentFailed) {
		t.Fatalf("缺少支付凭据期望 ErrPaymentFailed，实际 %v", err)
	}
	if got := env.accounts.quota(1001); got != 12 {
		t.Errorf("配额不应变化，实际 %d", got)
	}
	if env.gateway.authCalls != 0 {
		t.Errorf("不应调用网关")
	}
}

func TestCreateBookingUnsupportedMode(t *testing.T) {
	env := newTestEnv(activeAccount(1001, 12))

	_, err := env.svc.CreateBooking(context.Background(), &CreateBookingRequest{
		RequestID:   "req-bad-mode",
		UserID:      1001,
		PaymentMode: "CHEQUE",
	})
	if !errors.Is(err, ErrUnsupportedMode) {
		t.Fatalf("期望 ErrUnsupportedMode，实际 %v", err)
	}
}

// 配额为 k 时 N 个并发建单请求恰好成功 k 个，配额最终为 0，
// 其余请求全部拿到配额耗尽错误
func TestConcurrentCreateBookingQuotaBound(t *testing.T) {
	const quota = 3
	const attempts = 10

	env := newTestEnv(activeAccount(1001, quota))

	var wg sync.WaitGroup
	results := make([]error, attempts)

	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_, err := env.svc.CreateBooking(context.Background(), &CreateBookingRequest{
				RequestID:   fmt.Sprintf("req-concurrent-%d", n),
				UserID:      1001,
				PaymentMode: model.PaymentModeCOD,
			})
			results[n] = err
		}(i)
	}
	wg.Wait()

	succeeded, exhausted := 0, 0
	for _, err := range results {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, repository.ErrQuotaExhausted):
			exhausted++
		default:
			t.Errorf("意外错误: %v", err)
		}
	}

	if succeeded != quota {
		t.Errorf("期望恰好 %d 个请求成功，实际 %d", quota, succeeded)
	}
	if exhausted != attempts-quota {
		t.Errorf("期望 %d 个请求配额耗尽，实际 %d", attempts-quota, exhausted)
	}
	if got := env.accounts.quota(1001); got != 0 {
		t.Errorf("最终配额期望 0，实际 %d", got)
	}
	if env.bookings.count() != quota {
		t.Errorf("预订单数期望 %d，实际 %d", quota, env.bookings.count())
	}
	if got := env.journal.countByType(model.QuotaEntryTypeDebit); got != quota {
		t.Errorf("扣减流水期望 %d 条，实际 %d", quota, got)
	}
}

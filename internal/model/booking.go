package model

import (
	"time"
)

const (
	BookingStatusPending   = "pending"   // 等待管理员审批（货到付款）
	BookingStatusApproved  = "approved"  // 已批准，等待配送
	BookingStatusRejected  = "rejected"  // 已拒绝（终态），配额已返还
	BookingStatusDelivered = "delivered" // 已送达（终态）
)

// ValidStatusTransitions 预订状态机
// rejected 和 delivered 是终态，没有任何出边
var ValidStatusTransitions = map[string][]string{
	BookingStatusPending:  {BookingStatusApproved, BookingStatusRejected},
	BookingStatusApproved: {BookingStatusDelivered},
}

func CanTransitionTo(currentStatus, targetStatus string) bool {
	allowedStatuses, exists := ValidStatusTransitions[currentStatus]
	if !exists {
		return false
	}
	for _, s := range allowedStatuses {
		if s == targetStatus {
			return true
		}
	}
	return false
}

const (
	PaymentModeCOD     = "COD"     // 货到付款，需要管理员审批
	PaymentModePrepaid = "PREPAID" // 在线预付，网关验证通过后直接 approved
)

// Booking 气瓶预订表
//
// 不变量：每一条处于 pending/approved/delivered 状态的预订，
// 都对应创建时从账户配额中扣减的恰好一个单位；
// rejected 的预订其单位已经返还。扣减和建单必须在同一个事务里完成
type Booking struct {
	ID           int64      `gorm:"primaryKey;autoIncrement" json:"id"`
	BookingNo    string     `gorm:"type:varchar(64);uniqueIndex;not null" json:"booking_no"`
	RequestID    string     `gorm:"type:varchar(64);uniqueIndex;not null" json:"request_id"` // 幂等ID，客户端生成
	UserID       int64      `gorm:"index;not null" json:"user_id"`
	Status       string     `gorm:"type:varchar(20);index;not null" json:"status"`
	PaymentMode  string     `gorm:"type:varchar(20);not null" json:"payment_mode"`
	Amount       int64      `gorm:"not null" json:"amount"`                   // 建单时的气瓶价格（分），不随价格调整回溯
	PaymentRef   *string    `gorm:"type:varchar(64)" json:"payment_ref"`      // 网关支付凭证，仅预付单有值
	DeliveryDate *time.Time `json:"delivery_date"`                            // 批准时写入，拒绝时清空
	CreatedAt    time.Time  `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt    time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Booking) TableName() string {
	return "booking"
}

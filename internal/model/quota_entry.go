package model

import (
	"time"
)

const (
	QuotaEntryTypeDebit  = "DEBIT"  // 建单扣减
	QuotaEntryTypeCredit = "CREDIT" // 拒单返还 / 补偿返还
)

// QuotaEntry 配额流水表
// 记录账户配额的每一次变动，是对账和幂等判断的核心依据
//
// 【重要】流水表设计原则：
// 1. 只追加，不修改，不删除 —— 保证审计可追溯
// 2. 每笔流水必须关联预订单号 —— 拒单返还靠它判重
// 3. 记录变动前后配额 —— 便于校验配额一致性
type QuotaEntry struct {
	ID          int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	EntryNo     string    `gorm:"type:varchar(64);uniqueIndex;not null" json:"entry_no"`
	UserID      int64     `gorm:"index;not null" json:"user_id"`
	BookingNo   string    `gorm:"type:varchar(64);index;not null" json:"booking_no"`
	Delta       int       `gorm:"not null" json:"delta"`                 // -1 扣减，+1 返还
	Type        string    `gorm:"type:varchar(20);not null" json:"type"` // 流水类型
	QuotaBefore int       `gorm:"not null" json:"quota_before"`
	QuotaAfter  int       `gorm:"not null" json:"quota_after"`
	Remark      string    `gorm:"type:varchar(256)" json:"remark"`
	CreatedAt   time.Time `gorm:"autoCreateTime;index" json:"created_at"`
}

func (QuotaEntry) TableName() string {
	return "quota_entry"
}

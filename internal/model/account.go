package model

import (
	"time"
)

// 年度配额上限：每个消费者每年最多可预订的气瓶数
const AnnualAllotment = 12

const (
	ConnectionNotApplied = "not_applied" // 未申请开户
	ConnectionPending    = "pending"     // 开户待审核
	ConnectionActive     = "active"      // 已开户，可以预订
	ConnectionRejected   = "rejected"    // 开户被拒绝
)

const (
	RoleConsumer = "consumer"
	RoleAdmin    = "admin"
)

// Account 消费者账户表
// 记录用户的年度剩余配额和开户状态，是整个预订系统的核心数据
//
// 配额只能通过 AccountRepository 的原子扣减/返还操作修改；
// 开户状态只能通过开户审核流程修改
type Account struct {
	ID               int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID           int64     `gorm:"uniqueIndex;not null" json:"user_id"`                    // 用户ID，身份层传入
	QuotaRemaining   int       `gorm:"not null;default:12" json:"quota_remaining"`             // 年度剩余配额（0-12）
	ConnectionStatus string    `gorm:"type:varchar(20);not null" json:"connection_status"`     // 开户状态
	Role             string    `gorm:"type:varchar(20);not null;default:consumer" json:"role"` // 角色
	Mobile           *string   `gorm:"type:varchar(20)" json:"mobile"`                         // 手机号，下单前必填
	Address          *string   `gorm:"type:varchar(256)" json:"address"`                       // 配送地址，下单前必填
	Version          int       `gorm:"not null;default:0" json:"version"`                      // 每次配额变动递增
	CreatedAt        time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Account) TableName() string {
	return "account"
}

// ProfileComplete 手机号和地址齐全才允许预订
func (a *Account) ProfileComplete() bool {
	return a.Mobile != nil && *a.Mobile != "" && a.Address != nil && *a.Address != ""
}

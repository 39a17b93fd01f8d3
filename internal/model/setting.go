package model

import (
	"time"
)

// 系统配置项的 key
const (
	SettingKeyCylinderPrice = "cylinder_price" // 当前气瓶价格（分），建单时读取并快照进订单
)

// SystemSetting 系统配置表
// 管理员维护的全局配置，目前只有气瓶价格一项
type SystemSetting struct {
	ID        int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	Key       string    `gorm:"type:varchar(64);uniqueIndex;not null" json:"key"`
	Value     string    `gorm:"type:varchar(256);not null" json:"value"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (SystemSetting) TableName() string {
	return "system_setting"
}

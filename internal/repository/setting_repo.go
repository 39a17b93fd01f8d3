package repository

import (
	"context"
	"errors"
	"strconv"

	"bookmygas/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var ErrSettingNotFound = errors.New("配置项不存在")

type SettingRepository struct {
	db *gorm.DB
}

func NewSettingRepository(db *gorm.DB) *SettingRepository {
	return &SettingRepository{db: db}
}

func (r *SettingRepository) GetValue(ctx context.Context, key string) (string, error) {
	var setting model.SystemSetting
	err := r.db.WithContext(ctx).Where("`key` = ?", key).First(&setting).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", ErrSettingNotFound
		}
		return "", err
	}
	return setting.Value, nil
}

func (r *SettingRepository) SetValue(ctx context.Context, key, value string) error {
	setting := &model.SystemSetting{Key: key, Value: value}
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "key"}},
			DoUpdates: clause.AssignmentColumns([]string{"value"}),
		}).
		Create(setting).Error
}

// GetCylinderPrice 读取当前气瓶价格（分），未配置时回退到默认价
func (r *SettingRepository) GetCylinderPrice(ctx context.Context, defaultPrice int64) (int64, error) {
	value, err := r.GetValue(ctx, model.SettingKeyCylinderPrice)
	if err != nil {
		if errors.Is(err, ErrSettingNotFound) {
			return defaultPrice, nil
		}
		return 0, err
	}

	price, err := strconv.ParseInt(value, 10, 64)
	if err != nil || price <= 0 {
		return defaultPrice, nil
	}
	return price, nil
}

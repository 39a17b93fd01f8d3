package service

import (
	"context"
	"errors"
	"log"
	"strconv"

	"bookmygas/internal/config"
	"bookmygas/internal/model"
	"bookmygas/internal/repository"

	"gorm.io/gorm"
)

var ErrInvalidPrice = errors.New("价格必须大于0")

// PriceService 气瓶价格配置
// 价格是外部维护的配置值，Ledger 只在建单时读一次
type PriceService struct {
	settingRepo *repository.SettingRepository
	cfg         *config.Config
}

func NewPriceService(db *gorm.DB, cfg *config.Config) *PriceService {
	return &PriceService{
		settingRepo: repository.NewSettingRepository(db),
		cfg:         cfg,
	}
}

func (s *PriceService) GetPrice(ctx context.Context) (int64, error) {
	return s.settingRepo.GetCylinderPrice(ctx, s.cfg.Business.DefaultCylinderPrice)
}

func (s *PriceService) UpdatePrice(ctx context.Context, price int64) error {
	if price <= 0 {
		return ErrInvalidPrice
	}

	if err := s.settingRepo.SetValue(ctx, model.SettingKeyCylinderPrice, strconv.FormatInt(price, 10)); err != nil {
		return err
	}

	log.Printf("气瓶价格已更新: price=%d", price)
	return nil
}

package repository

import (
	"context"
	"errors"

	"bookmygas/internal/model"

	"gorm.io/gorm"
)

var (
	ErrAccountNotFound      = errors.New("账户不存在")
	ErrQuotaExhausted       = errors.New("年度配额已用完")
	ErrQuotaAtCap           = errors.New("配额已达年度上限")
	ErrConnectionTransition = errors.New("开户状态流转不合法")
)

type AccountRepository struct {
	db *gorm.DB
}

func NewAccountRepository(db *gorm.DB) *AccountRepository {
	return &AccountRepository{db: db}
}

func (r *AccountRepository) Create(ctx context.Context, account *model.Account) error {
	return r.db.WithContext(ctx).Create(account).Error
}

func (r *AccountRepository) GetByUserID(ctx context.Context, userID int64) (*model.Account, error) {
	var account model.Account
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).First(&account).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	return &account, nil
}

// DebitQuota 原子扣减一个配额单位
//
// 【关键点】检查和扣减必须是同一条条件 UPDATE：
// WHERE 带 quota_remaining > 0，由存储层保证两个并发请求
// 不可能都在 quota_remaining = 1 时扣减成功。
// 先读再写的方案在并发下会丢失更新，这里不允许出现
func (r *AccountRepository) DebitQuota(ctx context.Context, tx *gorm.DB, userID int64) error {
	if tx == nil {
		tx = r.db
	}

	result := tx.WithContext(ctx).
		Model(&model.Account{}).
		Where("user_id = ? AND quota_remaining > 0", userID).
		Updates(map[string]interface{}{
			"quota_remaining": gorm.Expr("quota_remaining - 1"),
			"version":         gorm.Expr("version + 1"),
		})

	if result.Error != nil {
		return result.Error
	}

	if result.RowsAffected == 0 {
		// 没有命中行：要么账户不存在，要么配额已经是 0
		if _, err := r.GetByUserID(ctx, userID); err != nil {
			return err
		}
		return ErrQuotaExhausted
	}

	return nil
}

// CreditQuota 原子返还一个配额单位，封顶年度配额
// 只用于拒单返还和预付授权失败后的补偿
func (r *AccountRepository) CreditQuota(ctx context.Context, tx *gorm.DB, userID int64) error {
	if tx == nil {
		tx = r.db
	}

	result := tx.WithContext(ctx).
		Model(&model.Account{}).
		Where("user_id = ? AND quota_remaining < ?", userID, model.AnnualAllotment).
		Updates(map[string]interface{}{
			"quota_remaining": gorm.Expr("quota_remaining + 1"),
			"version":         gorm.Expr("version + 1"),
		})

	if result.Error != nil {
		return result.Error
	}

	if result.RowsAffected == 0 {
		if _, err := r.GetByUserID(ctx, userID); err != nil {
			return err
		}
		return ErrQuotaAtCap
	}

	return nil
}

// GetEligibility 只读开户状态，预订资格由调用方判断
func (r *AccountRepository) GetEligibility(ctx context.Context, userID int64) (string, error) {
	account, err := r.GetByUserID(ctx, userID)
	if err != nil {
		return "", err
	}
	return account.ConnectionStatus, nil
}

// UpdateConnectionStatus 条件更新开户状态，fromStatus 不匹配则不生效
func (r *AccountRepository) UpdateConnectionStatus(ctx context.Context, userID int64, fromStatus, toStatus string) error {
	result := r.db.WithContext(ctx).
		Model(&model.Account{}).
		Where("user_id = ? AND connection_status = ?", userID, fromStatus).
		Update("connection_status", toStatus)

	if result.Error != nil {
		return result.Error
	}

	if result.RowsAffected == 0 {
		if _, err := r.GetByUserID(ctx, userID); err != nil {
			return err
		}
		return ErrConnectionTransition
	}

	return nil
}

func (r *AccountRepository) UpdateProfile(ctx context.Context, userID int64, mobile, address *string) error {
	updates := map[string]interface{}{}
	if mobile != nil {
		updates["mobile"] = *mobile
	}
	if address != nil {
		updates["address"] = *address
	}
	if len(updates) == 0 {
		return nil
	}

	result := r.db.WithContext(ctx).
		Model(&model.Account{}).
		Where("user_id = ?", userID).
		Updates(updates)

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrAccountNotFound
	}
	return nil
}

func (r *AccountRepository) ListByConnectionStatus(ctx context.Context, status string) ([]*model.Account, error) {
	var accounts []*model.Account
	err := r.db.WithContext(ctx).
		Where("connection_status = ?", status).
		Order("created_at ASC").
		Find(&accounts).Error
	return accounts, err
}

func (r *AccountRepository) List(ctx context.Context, page, pageSize int) ([]*model.Account, int64, error) {
	var accounts []*model.Account
	var total int64

	query := r.db.WithContext(ctx).Model(&model.Account{})

	err := query.Count(&total).Error
	if err != nil {
		return nil, 0, err
	}

	err = query.
		Order("created_at DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&accounts).Error

	return accounts, total, err
}

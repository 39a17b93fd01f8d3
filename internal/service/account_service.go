package service

import (
	"context"
	"errors"
	"fmt"
	"log"

	"bookmygas/internal/model"
	"bookmygas/internal/repository"

	"gorm.io/gorm"
)

var ErrAlreadyApplied = errors.New("开户申请已提交或已开通")

// AccountService 账户与开户审核
// 开户审核流程是 connection_status 的唯一写入方，Ledger 只读它
type AccountService struct {
	accountRepo *repository.AccountRepository
	db          *gorm.DB
}

func NewAccountService(db *gorm.DB) *AccountService {
	return &AccountService{
		accountRepo: repository.NewAccountRepository(db),
		db:          db,
	}
}

// Register 注册回调：身份层创建用户后同步建账户
// 配额按年度上限初始化，开户状态为未申请
func (s *AccountService) Register(ctx context.Context, userID int64, role string) (*model.Account, error) {
	existing, err := s.accountRepo.GetByUserID(ctx, userID)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, repository.ErrAccountNotFound) {
		return nil, err
	}

	if role != model.RoleAdmin {
		role = model.RoleConsumer
	}

	account := &model.Account{
		UserID:           userID,
		QuotaRemaining:   model.AnnualAllotment,
		ConnectionStatus: model.ConnectionNotApplied,
		Role:             role,
	}
	if err := s.accountRepo.Create(ctx, account); err != nil {
		return nil, fmt.Errorf("创建账户失败: %w", err)
	}

	log.Printf("账户已创建: userID=%d, role=%s", userID, role)
	return account, nil
}

func (s *AccountService) GetAccount(ctx context.Context, userID int64) (*model.Account, error) {
	return s.accountRepo.GetByUserID(ctx, userID)
}

func (s *AccountService) UpdateProfile(ctx context.Context, userID int64, mobile, address *string) error {
	return s.accountRepo.UpdateProfile(ctx, userID, mobile, address)
}

// ApplyForConnection 申请开户：not_applied/rejected -> pending
func (s *AccountService) ApplyForConnection(ctx context.Context, userID int64) error {
	err := s.accountRepo.UpdateConnectionStatus(ctx, userID, model.ConnectionNotApplied, model.ConnectionPending)
	if err == nil {
		return nil
	}
	if !errors.Is(err, repository.ErrConnectionTransition) {
		return err
	}

	// 被拒绝过的允许重新申请
	err = s.accountRepo.UpdateConnectionStatus(ctx, userID, model.ConnectionRejected, model.ConnectionPending)
	if err == nil {
		return nil
	}
	if errors.Is(err, repository.ErrConnectionTransition) {
		return ErrAlreadyApplied
	}
	return err
}

// ReviewConnection 管理员审核开户：pending -> active / rejected
func (s *AccountService) ReviewConnection(ctx context.Context, userID int64, approve bool) error {
	toStatus := model.ConnectionRejected
	if approve {
		toStatus = model.ConnectionActive
	}

	if err := s.accountRepo.UpdateConnectionStatus(ctx, userID, model.ConnectionPending, toStatus); err != nil {
		return err
	}

	log.Printf("开户审核完成: userID=%d, result=%s", userID, toStatus)
	return nil
}

func (s *AccountService) ListPendingConnections(ctx context.Context) ([]*model.Account, error) {
	return s.accountRepo.ListByConnectionStatus(ctx, model.ConnectionPending)
}

func (s *AccountService) ListAccounts(ctx context.Context, page, pageSize int) ([]*model.Account, int64, error) {
	return s.accountRepo.List(ctx, page, pageSize)
}

package service

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/MorseWayne/ev_dealer/internal/domain"
	"github.com/MorseWayne/ev_dealer/internal/repo"
)

// DealerService 经销商档案管理
type DealerService interface {
	CreateDealer(ctx context.Context, req *domain.CreateDealerRequest) (*domain.Dealer, error)
	GetDealer(ctx context.Context, actor *domain.User, id int64) (*domain.Dealer, error)
	// GetActiveDealer 不存在返回 NotFound，非 active 返回 ValidationError
	GetActiveDealer(ctx context.Context, id int64) (*domain.Dealer, error)
	ListDealers(ctx context.Context, req *domain.DealerListRequest) (*domain.DealerListResponse, error)
	UpdateStatus(ctx context.Context, id int64, status domain.DealerStatus) (*domain.Dealer, error)
	UpdateCreditLimit(ctx context.Context, id int64, creditLimit int64) (*domain.Dealer, error)
}

type dealerService struct {
	dealerRepo repo.DealerRepository
	logger     *zap.Logger
}

// NewDealerService 创建经销商服务
func NewDealerService(dealerRepo repo.DealerRepository, logger *zap.Logger) DealerService {
	return &dealerService{dealerRepo: dealerRepo, logger: logger}
}

func (s *dealerService) CreateDealer(ctx context.Context, req *domain.CreateDealerRequest) (*domain.Dealer, error) {
	code := strings.ToUpper(strings.TrimSpace(req.Code))
	if code == "" || strings.TrimSpace(req.Name) == "" {
		return nil, fmt.Errorf("%w: code and name are required", domain.ErrValidation)
	}
	if req.CreditLimit < 0 {
		return nil, fmt.Errorf("%w: credit limit must not be negative", domain.ErrValidation)
	}
	if req.ContractStart != nil && req.ContractEnd != nil && req.ContractEnd.Before(*req.ContractStart) {
		return nil, fmt.Errorf("%w: contract end is before contract start", domain.ErrValidation)
	}

	existing, err := s.dealerRepo.GetByCode(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("failed to check dealer code: %w", err)
	}
	if existing != nil {
		return nil, fmt.Errorf("%w: dealer code %s already exists", domain.ErrConflict, code)
	}

	dealer := &domain.Dealer{
		Code:           code,
		Name:           strings.TrimSpace(req.Name),
		Address:        req.Address,
		Phone:          req.Phone,
		Email:          req.Email,
		ContractNumber: req.ContractNumber,
		ContractStart:  req.ContractStart,
		ContractEnd:    req.ContractEnd,
		CreditLimit:    req.CreditLimit,
		Status:         domain.DealerStatusActive,
	}
	if err := s.dealerRepo.Create(ctx, dealer); err != nil {
		if repo.IsUniqueViolation(err) {
			return nil, fmt.Errorf("%w: dealer code %s already exists", domain.ErrConflict, code)
		}
		return nil, fmt.Errorf("failed to create dealer: %w", err)
	}

	s.logger.Info("dealer created", zap.Int64("dealer_id", dealer.ID), zap.String("code", dealer.Code))
	return dealer, nil
}

// GetDealer 经销商账号只能查看本经销商
func (s *dealerService) GetDealer(ctx context.Context, actor *domain.User, id int64) (*domain.Dealer, error) {
	if actor != nil && !actor.CanActForDealer(id) {
		return nil, fmt.Errorf("%w: dealer %d", domain.ErrNotFound, id)
	}
	return s.load(ctx, id)
}

func (s *dealerService) GetActiveDealer(ctx context.Context, id int64) (*domain.Dealer, error) {
	return getActiveDealer(ctx, s.dealerRepo, id)
}

func (s *dealerService) ListDealers(ctx context.Context, req *domain.DealerListRequest) (*domain.DealerListResponse, error) {
	if req.Status != nil && !req.Status.IsValid() {
		return nil, fmt.Errorf("%w: unknown dealer status %q", domain.ErrValidation, *req.Status)
	}
	dealers, total, err := s.dealerRepo.List(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("failed to list dealers: %w", err)
	}
	if dealers == nil {
		dealers = []*domain.Dealer{}
	}
	page, pageSize := domain.NormalizePage(req.Page, req.PageSize)
	return &domain.DealerListResponse{Dealers: dealers, Total: total, Page: page, PageSize: pageSize}, nil
}

func (s *dealerService) UpdateStatus(ctx context.Context, id int64, status domain.DealerStatus) (*domain.Dealer, error) {
	if !status.IsValid() {
		return nil, fmt.Errorf("%w: unknown dealer status %q", domain.ErrValidation, status)
	}
	if err := s.dealerRepo.UpdateStatus(ctx, id, status); err != nil {
		return nil, err
	}
	s.logger.Info("dealer status updated", zap.Int64("dealer_id", id), zap.String("status", string(status)))
	return s.load(ctx, id)
}

func (s *dealerService) UpdateCreditLimit(ctx context.Context, id int64, creditLimit int64) (*domain.Dealer, error) {
	if creditLimit < 0 {
		return nil, fmt.Errorf("%w: credit limit must not be negative", domain.ErrValidation)
	}
	if err := s.dealerRepo.UpdateCreditLimit(ctx, id, creditLimit); err != nil {
		return nil, err
	}
	s.logger.Info("dealer credit limit updated", zap.Int64("dealer_id", id), zap.Int64("credit_limit", creditLimit))
	return s.load(ctx, id)
}

func (s *dealerService) load(ctx context.Context, id int64) (*domain.Dealer, error) {
	dealer, err := s.dealerRepo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get dealer: %w", err)
	}
	if dealer == nil {
		return nil, fmt.Errorf("%w: dealer %d", domain.ErrNotFound, id)
	}
	return dealer, nil
}

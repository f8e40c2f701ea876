package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/MorseWayne/ev_dealer/internal/database"
	"github.com/MorseWayne/ev_dealer/internal/domain"
	"github.com/MorseWayne/ev_dealer/internal/repo"
)

// AllocationRequestService 经销商要货申请审批流
type AllocationRequestService interface {
	CreateDraft(ctx context.Context, actor *domain.User, req *domain.CreateAllocationRequestRequest) (*domain.AllocationRequest, error)
	UpdateDraft(ctx context.Context, actor *domain.User, id int64, req *domain.UpdateAllocationRequestRequest) (*domain.AllocationRequest, error)
	DeleteDraft(ctx context.Context, actor *domain.User, id int64) error

	Submit(ctx context.Context, actor *domain.User, id int64) (*domain.AllocationRequest, error)
	// Approve 为每行明细创建分配单，与状态变更处于同一事务
	Approve(ctx context.Context, actor *domain.User, id int64) (*domain.AllocationRequest, error)
	Reject(ctx context.Context, actor *domain.User, id int64, reason string) (*domain.AllocationRequest, error)
	StartProcessing(ctx context.Context, actor *domain.User, id int64) (*domain.AllocationRequest, error)
	Complete(ctx context.Context, actor *domain.User, id int64) (*domain.AllocationRequest, error)
	Cancel(ctx context.Context, actor *domain.User, id int64) (*domain.AllocationRequest, error)

	GetRequest(ctx context.Context, actor *domain.User, id int64) (*domain.AllocationRequest, error)
	ListRequests(ctx context.Context, actor *domain.User, req *domain.AllocationRequestListRequest) (*domain.AllocationRequestListResponse, error)
}

type allocationRequestService struct {
	txm         *database.TxManager
	requestRepo repo.AllocationRequestRepository
	productRepo repo.ProductRepository
	dealerRepo  repo.DealerRepository
	ledger      LedgerService
	events      EventPublisher
	logger      *zap.Logger
}

// NewAllocationRequestService 创建要货申请服务
func NewAllocationRequestService(
	txm *database.TxManager,
	requestRepo repo.AllocationRequestRepository,
	productRepo repo.ProductRepository,
	dealerRepo repo.DealerRepository,
	ledger LedgerService,
	events EventPublisher,
	logger *zap.Logger,
) AllocationRequestService {
	return &allocationRequestService{
		txm:         txm,
		requestRepo: requestRepo,
		productRepo: productRepo,
		dealerRepo:  dealerRepo,
		ledger:      ledger,
		events:      events,
		logger:      logger,
	}
}

func (s *allocationRequestService) CreateDraft(ctx context.Context, actor *domain.User, in *domain.CreateAllocationRequestRequest) (*domain.AllocationRequest, error) {
	if err := checkDealerScope(actor, in.DealerID); err != nil {
		return nil, err
	}
	if _, err := getActiveDealer(ctx, s.dealerRepo, in.DealerID); err != nil {
		return nil, err
	}
	items, err := s.resolveItems(ctx, in.Items)
	if err != nil {
		return nil, err
	}

	req := &domain.AllocationRequest{
		Code:      "REQ-" + strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:16]),
		DealerID:  in.DealerID,
		Items:     items,
		Status:    domain.RequestStatusDraft,
		Notes:     in.Notes,
		CreatedBy: actorID(actor),
	}
	req.RecalculateTotal()

	if err := s.txm.WithinTx(ctx, func(ctx context.Context) error {
		return s.requestRepo.Create(ctx, req)
	}); err != nil {
		return nil, fmt.Errorf("failed to create allocation request: %w", err)
	}

	s.logger.Info("allocation request created",
		zap.Int64("request_id", req.ID),
		zap.String("code", req.Code),
		zap.Int64("dealer_id", req.DealerID),
		zap.Int("total_quantity", req.TotalQuantity),
	)
	return req, nil
}

func (s *allocationRequestService) UpdateDraft(ctx context.Context, actor *domain.User, id int64, in *domain.UpdateAllocationRequestRequest) (*domain.AllocationRequest, error) {
	var result *domain.AllocationRequest
	err := s.txm.WithinTx(ctx, func(ctx context.Context) error {
		req, err := s.load(ctx, actor, id)
		if err != nil {
			return err
		}
		if !req.IsEditable() {
			return fmt.Errorf("%w: only draft requests can be edited", domain.ErrInvalidTransition)
		}
		items, err := s.resolveItems(ctx, in.Items)
		if err != nil {
			return err
		}
		req.Items = items
		req.RecalculateTotal()
		if in.Notes != nil {
			req.Notes = *in.Notes
		}

		if err := s.requestRepo.ReplaceItems(ctx, req); err != nil {
			return err
		}
		if err := s.requestRepo.Update(ctx, req); err != nil {
			return err
		}
		result = req
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *allocationRequestService) DeleteDraft(ctx context.Context, actor *domain.User, id int64) error {
	return s.txm.WithinTx(ctx, func(ctx context.Context) error {
		req, err := s.load(ctx, actor, id)
		if err != nil {
			return err
		}
		if !req.IsEditable() {
			return fmt.Errorf("%w: only draft requests can be deleted", domain.ErrInvalidTransition)
		}
		return s.requestRepo.SoftDelete(ctx, req)
	})
}

func (s *allocationRequestService) Submit(ctx context.Context, actor *domain.User, id int64) (*domain.AllocationRequest, error) {
	return s.transition(ctx, actor, id, domain.RequestStatusPending, func(ctx context.Context, req *domain.AllocationRequest, now time.Time) error {
		if len(req.Items) == 0 {
			return fmt.Errorf("%w: request has no items", domain.ErrValidation)
		}
		req.SubmittedAt = &now
		return nil
	})
}

func (s *allocationRequestService) Approve(ctx context.Context, actor *domain.User, id int64) (*domain.AllocationRequest, error) {
	return s.transition(ctx, actor, id, domain.RequestStatusApproved, func(ctx context.Context, req *domain.AllocationRequest, now time.Time) error {
		ids := make([]int64, 0, len(req.Items))
		for _, it := range req.Items {
			a, err := s.ledger.CreateAllocation(ctx, actor, &domain.CreateAllocationRequest{
				DealerID:     req.DealerID,
				ProductID:    it.ProductID,
				VariantIndex: it.VariantIndex,
				Quantity:     it.Quantity,
				Notes:        "request " + req.Code,
			})
			if err != nil {
				return err
			}
			ids = append(ids, a.ID)
		}
		req.AllocationIDs = ids
		req.DecidedAt = &now

		evt := newLedgerEvent(domain.EventRequestApproved, actor)
		evt.RequestID, evt.DealerID, evt.Quantity = req.ID, req.DealerID, req.TotalQuantity
		publishAfterCommit(ctx, s.events, s.logger, evt)
		return nil
	})
}

func (s *allocationRequestService) Reject(ctx context.Context, actor *domain.User, id int64, reason string) (*domain.AllocationRequest, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, fmt.Errorf("%w: reject reason is required", domain.ErrValidation)
	}
	return s.transition(ctx, actor, id, domain.RequestStatusRejected, func(ctx context.Context, req *domain.AllocationRequest, now time.Time) error {
		req.RejectReason = reason
		req.DecidedAt = &now
		return nil
	})
}

func (s *allocationRequestService) StartProcessing(ctx context.Context, actor *domain.User, id int64) (*domain.AllocationRequest, error) {
	return s.transition(ctx, actor, id, domain.RequestStatusProcessing, nil)
}

func (s *allocationRequestService) Complete(ctx context.Context, actor *domain.User, id int64) (*domain.AllocationRequest, error) {
	return s.transition(ctx, actor, id, domain.RequestStatusCompleted, func(ctx context.Context, req *domain.AllocationRequest, now time.Time) error {
		req.CompletedAt = &now
		return nil
	})
}

func (s *allocationRequestService) Cancel(ctx context.Context, actor *domain.User, id int64) (*domain.AllocationRequest, error) {
	return s.transition(ctx, actor, id, domain.RequestStatusCancelled, nil)
}

func (s *allocationRequestService) transition(ctx context.Context, actor *domain.User, id int64, to domain.RequestStatus,
	effect func(ctx context.Context, req *domain.AllocationRequest, now time.Time) error) (*domain.AllocationRequest, error) {
	var result *domain.AllocationRequest
	var from domain.RequestStatus

	err := s.txm.WithinTx(ctx, func(ctx context.Context) error {
		req, err := s.load(ctx, actor, id)
		if err != nil {
			return err
		}
		if err := domain.CheckRequestTransition(req.Status, to); err != nil {
			return err
		}
		if effect != nil {
			if err := effect(ctx, req, time.Now().UTC()); err != nil {
				return err
			}
		}
		from = req.Status
		req.Status = to
		if err := s.requestRepo.Update(ctx, req); err != nil {
			return err
		}
		result = req
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("allocation request transitioned",
		zap.Int64("request_id", id),
		zap.String("from", string(from)),
		zap.String("to", string(to)),
		zap.Int64s("allocation_ids", result.AllocationIDs),
	)
	return result, nil
}

func (s *allocationRequestService) GetRequest(ctx context.Context, actor *domain.User, id int64) (*domain.AllocationRequest, error) {
	return s.load(ctx, actor, id)
}

func (s *allocationRequestService) ListRequests(ctx context.Context, actor *domain.User, q *domain.AllocationRequestListRequest) (*domain.AllocationRequestListResponse, error) {
	if q.Status != nil && !q.Status.IsValid() {
		return nil, fmt.Errorf("%w: unknown request status %q", domain.ErrValidation, *q.Status)
	}
	if actor != nil && !actor.IsManufacturer() {
		dealerID := actor.DealerID
		q.DealerID = &dealerID
	}
	list, total, err := s.requestRepo.List(ctx, q)
	if err != nil {
		return nil, err
	}
	if list == nil {
		list = []*domain.AllocationRequest{}
	}
	page, pageSize := domain.NormalizePage(q.Page, q.PageSize)
	return &domain.AllocationRequestListResponse{Requests: list, Total: total, Page: page, PageSize: pageSize}, nil
}

func (s *allocationRequestService) load(ctx context.Context, actor *domain.User, id int64) (*domain.AllocationRequest, error) {
	req, err := s.requestRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if req == nil || (actor != nil && !actor.CanActForDealer(req.DealerID)) {
		return nil, fmt.Errorf("%w: allocation request %d", domain.ErrNotFound, id)
	}
	return req, nil
}

func (s *allocationRequestService) resolveItems(ctx context.Context, inputs []domain.RequestItemInput) ([]domain.AllocationRequestItem, error) {
	if len(inputs) == 0 {
		return nil, fmt.Errorf("%w: at least one item is required", domain.ErrValidation)
	}
	items := make([]domain.AllocationRequestItem, 0, len(inputs))
	for _, in := range inputs {
		if in.Quantity <= 0 {
			return nil, fmt.Errorf("%w: quantity must be positive", domain.ErrValidation)
		}
		variant, err := lookupVariant(ctx, s.productRepo, in.ProductID, in.VariantIndex)
		if err != nil {
			return nil, err
		}
		items = append(items, domain.AllocationRequestItem{
			ProductID:    in.ProductID,
			VariantIndex: variant.VariantIndex,
			VariantHash:  variant.VariantHash,
			Quantity:     in.Quantity,
		})
	}
	return items, nil
}

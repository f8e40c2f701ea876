package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/MorseWayne/ev_dealer/internal/database"
	"github.com/MorseWayne/ev_dealer/internal/domain"
	"github.com/MorseWayne/ev_dealer/internal/repo"
)

// OrderService 经销商客户订单。提交时预留门店库存，取消时释放。
type OrderService interface {
	CreateDraft(ctx context.Context, actor *domain.User, req *domain.CreateOrderRequest) (*domain.Order, error)
	UpdateDraft(ctx context.Context, actor *domain.User, id int64, req *domain.UpdateOrderRequest) (*domain.Order, error)
	DeleteDraft(ctx context.Context, actor *domain.User, id int64) error

	Submit(ctx context.Context, actor *domain.User, id int64, notes string) (*domain.Order, error)
	Confirm(ctx context.Context, actor *domain.User, id int64, notes string) (*domain.Order, error)
	StartProcessing(ctx context.Context, actor *domain.User, id int64, notes string) (*domain.Order, error)
	StartDelivering(ctx context.Context, actor *domain.User, id int64, notes string) (*domain.Order, error)
	Complete(ctx context.Context, actor *domain.User, id int64, notes string) (*domain.Order, error)
	Cancel(ctx context.Context, actor *domain.User, id int64, notes string) (*domain.Order, error)
	Refund(ctx context.Context, actor *domain.User, id int64, notes string) (*domain.Order, error)

	GetOrder(ctx context.Context, actor *domain.User, id int64) (*domain.Order, error)
	ListOrders(ctx context.Context, actor *domain.User, req *domain.OrderListRequest) (*domain.OrderListResponse, error)
}

type orderService struct {
	txm         *database.TxManager
	orderRepo   repo.OrderRepository
	productRepo repo.ProductRepository
	dealerRepo  repo.DealerRepository
	inventory   DealerInventoryService
	pricing     PricingService
	events      EventPublisher
	logger      *zap.Logger
}

// NewOrderService 创建订单服务
func NewOrderService(
	txm *database.TxManager,
	orderRepo repo.OrderRepository,
	productRepo repo.ProductRepository,
	dealerRepo repo.DealerRepository,
	inventory DealerInventoryService,
	pricing PricingService,
	events EventPublisher,
	logger *zap.Logger,
) OrderService {
	return &orderService{
		txm:         txm,
		orderRepo:   orderRepo,
		productRepo: productRepo,
		dealerRepo:  dealerRepo,
		inventory:   inventory,
		pricing:     pricing,
		events:      events,
		logger:      logger,
	}
}

// CreateDraft 创建草稿订单，每行按当前报价快照价格
func (s *orderService) CreateDraft(ctx context.Context, actor *domain.User, req *domain.CreateOrderRequest) (*domain.Order, error) {
	if err := checkDealerScope(actor, req.DealerID); err != nil {
		return nil, err
	}
	if strings.TrimSpace(req.CustomerName) == "" {
		return nil, fmt.Errorf("%w: customer name is required", domain.ErrValidation)
	}
	if _, err := getActiveDealer(ctx, s.dealerRepo, req.DealerID); err != nil {
		return nil, err
	}

	items, err := s.buildItems(ctx, req.DealerID, req.Items)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	order := &domain.Order{
		Code:          newOrderCode(),
		DealerID:      req.DealerID,
		CustomerName:  strings.TrimSpace(req.CustomerName),
		CustomerPhone: req.CustomerPhone,
		CustomerEmail: req.CustomerEmail,
		Items:         items,
		Status:        domain.OrderStatusDraft,
		Notes:         req.Notes,
		CreatedBy:     actorID(actor),
		StatusHistory: []domain.OrderStatusHistory{{
			Status:    domain.OrderStatusDraft,
			Actor:     actorID(actor),
			CreatedAt: now,
		}},
	}
	order.RecalculateTotals()

	if err := s.txm.WithinTx(ctx, func(ctx context.Context) error {
		return s.orderRepo.Create(ctx, order)
	}); err != nil {
		return nil, fmt.Errorf("failed to create order: %w", err)
	}

	s.logger.Info("order draft created",
		zap.Int64("order_id", order.ID),
		zap.String("code", order.Code),
		zap.Int64("dealer_id", order.DealerID),
		zap.Int64("total_amount", order.TotalAmount),
	)
	return order, nil
}

// UpdateDraft 修改草稿；给出明细时整体替换并重新报价
func (s *orderService) UpdateDraft(ctx context.Context, actor *domain.User, id int64, req *domain.UpdateOrderRequest) (*domain.Order, error) {
	var result *domain.Order
	err := s.txm.WithinTx(ctx, func(ctx context.Context) error {
		order, err := s.load(ctx, actor, id)
		if err != nil {
			return err
		}
		if !order.IsEditable() {
			return fmt.Errorf("%w: only draft orders can be edited", domain.ErrInvalidTransition)
		}

		if req.CustomerName != nil {
			if strings.TrimSpace(*req.CustomerName) == "" {
				return fmt.Errorf("%w: customer name is required", domain.ErrValidation)
			}
			order.CustomerName = strings.TrimSpace(*req.CustomerName)
		}
		if req.CustomerPhone != nil {
			order.CustomerPhone = *req.CustomerPhone
		}
		if req.CustomerEmail != nil {
			order.CustomerEmail = *req.CustomerEmail
		}
		if req.Notes != nil {
			order.Notes = *req.Notes
		}

		if len(req.Items) > 0 {
			items, err := s.buildItems(ctx, order.DealerID, req.Items)
			if err != nil {
				return err
			}
			order.Items = items
			order.RecalculateTotals()
			if err := s.orderRepo.ReplaceItems(ctx, order); err != nil {
				return err
			}
		}

		if err := s.orderRepo.Update(ctx, order); err != nil {
			return err
		}
		result = order
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// DeleteDraft 软删除草稿订单
func (s *orderService) DeleteDraft(ctx context.Context, actor *domain.User, id int64) error {
	return s.txm.WithinTx(ctx, func(ctx context.Context) error {
		order, err := s.load(ctx, actor, id)
		if err != nil {
			return err
		}
		if !order.IsEditable() {
			return fmt.Errorf("%w: only draft orders can be deleted", domain.ErrInvalidTransition)
		}
		if err := s.orderRepo.SoftDelete(ctx, order); err != nil {
			return err
		}
		s.logger.Info("order draft deleted", zap.Int64("order_id", id))
		return nil
	})
}

// Submit 草稿提交，按变体汇总后逐项预留，任一不足整体回滚
func (s *orderService) Submit(ctx context.Context, actor *domain.User, id int64, notes string) (*domain.Order, error) {
	return s.transition(ctx, actor, id, domain.OrderStatusPending, notes, func(ctx context.Context, order *domain.Order) error {
		return s.inventory.ReserveForOrder(ctx, order)
	})
}

func (s *orderService) Confirm(ctx context.Context, actor *domain.User, id int64, notes string) (*domain.Order, error) {
	return s.transition(ctx, actor, id, domain.OrderStatusConfirmed, notes, nil)
}

func (s *orderService) StartProcessing(ctx context.Context, actor *domain.User, id int64, notes string) (*domain.Order, error) {
	return s.transition(ctx, actor, id, domain.OrderStatusProcessing, notes, nil)
}

func (s *orderService) StartDelivering(ctx context.Context, actor *domain.User, id int64, notes string) (*domain.Order, error) {
	return s.transition(ctx, actor, id, domain.OrderStatusDelivering, notes, nil)
}

func (s *orderService) Complete(ctx context.Context, actor *domain.User, id int64, notes string) (*domain.Order, error) {
	return s.transition(ctx, actor, id, domain.OrderStatusCompleted, notes, nil)
}

// Cancel 取消订单；已预留的库存按行释放
func (s *orderService) Cancel(ctx context.Context, actor *domain.User, id int64, notes string) (*domain.Order, error) {
	return s.transition(ctx, actor, id, domain.OrderStatusCancelled, notes, func(ctx context.Context, order *domain.Order) error {
		if !order.Status.HoldsReservation() {
			return nil
		}
		return s.inventory.ReleaseForOrder(ctx, order)
	})
}

func (s *orderService) Refund(ctx context.Context, actor *domain.User, id int64, notes string) (*domain.Order, error) {
	return s.transition(ctx, actor, id, domain.OrderStatusRefunded, notes, nil)
}

// transition 校验状态边，执行副作用（此时 order.Status 仍为原状态），写表头与流水
func (s *orderService) transition(ctx context.Context, actor *domain.User, id int64, to domain.OrderStatus, notes string,
	effect func(ctx context.Context, order *domain.Order) error) (*domain.Order, error) {
	var result *domain.Order
	var from domain.OrderStatus

	err := s.txm.WithinTx(ctx, func(ctx context.Context) error {
		order, err := s.load(ctx, actor, id)
		if err != nil {
			return err
		}
		if err := domain.CheckOrderTransition(order.Status, to); err != nil {
			return err
		}
		if effect != nil {
			if err := effect(ctx, order); err != nil {
				return err
			}
		}

		from = order.Status
		order.Status = to
		if err := s.orderRepo.Update(ctx, order); err != nil {
			return err
		}
		h := domain.OrderStatusHistory{Status: to, Actor: actorID(actor), Notes: notes, CreatedAt: time.Now().UTC()}
		if err := s.orderRepo.AppendHistory(ctx, order.ID, h); err != nil {
			return err
		}
		order.StatusHistory = append(order.StatusHistory, h)

		var evtType domain.EventType
		switch to {
		case domain.OrderStatusPending:
			evtType = domain.EventOrderSubmitted
		case domain.OrderStatusCancelled:
			evtType = domain.EventOrderCancelled
		}
		if evtType != "" {
			evt := newLedgerEvent(evtType, actor)
			evt.OrderID, evt.DealerID = order.ID, order.DealerID
			evt.FromStatus, evt.ToStatus = string(from), string(to)
			publishAfterCommit(ctx, s.events, s.logger, evt)
		}

		result = order
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("order transitioned",
		zap.Int64("order_id", id),
		zap.String("from", string(from)),
		zap.String("to", string(to)),
	)
	return result, nil
}

// GetOrder 获取订单详情（含明细与状态流水）
func (s *orderService) GetOrder(ctx context.Context, actor *domain.User, id int64) (*domain.Order, error) {
	return s.load(ctx, actor, id)
}

func (s *orderService) ListOrders(ctx context.Context, actor *domain.User, req *domain.OrderListRequest) (*domain.OrderListResponse, error) {
	if req.Status != nil && !req.Status.IsValid() {
		return nil, fmt.Errorf("%w: unknown order status %q", domain.ErrValidation, *req.Status)
	}
	if actor != nil && !actor.IsManufacturer() {
		dealerID := actor.DealerID
		req.DealerID = &dealerID
	}
	orders, total, err := s.orderRepo.List(ctx, req)
	if err != nil {
		return nil, err
	}
	if orders == nil {
		orders = []*domain.Order{}
	}
	page, pageSize := domain.NormalizePage(req.Page, req.PageSize)
	return &domain.OrderListResponse{Orders: orders, Total: total, Page: page, PageSize: pageSize}, nil
}

// load 经销商账号访问其他经销商的订单按不存在处理
func (s *orderService) load(ctx context.Context, actor *domain.User, id int64) (*domain.Order, error) {
	order, err := s.orderRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if order == nil || (actor != nil && !actor.CanActForDealer(order.DealerID)) {
		return nil, fmt.Errorf("%w: order %d", domain.ErrNotFound, id)
	}
	return order, nil
}

func (s *orderService) buildItems(ctx context.Context, dealerID int64, inputs []domain.OrderItemInput) ([]domain.OrderItem, error) {
	if len(inputs) == 0 {
		return nil, fmt.Errorf("%w: at least one item is required", domain.ErrValidation)
	}

	products := make(map[int64]*domain.Product)
	items := make([]domain.OrderItem, 0, len(inputs))
	for _, in := range inputs {
		if in.Quantity <= 0 {
			return nil, fmt.Errorf("%w: quantity must be positive", domain.ErrValidation)
		}
		product, ok := products[in.ProductID]
		if !ok {
			p, err := s.productRepo.GetByID(ctx, in.ProductID)
			if err != nil {
				return nil, fmt.Errorf("failed to get product: %w", err)
			}
			if p == nil {
				return nil, fmt.Errorf("%w: product %d", domain.ErrNotFound, in.ProductID)
			}
			products[in.ProductID] = p
			product = p
		}
		var variant *domain.ProductVariant
		for i := range product.Variants {
			if product.Variants[i].VariantIndex == in.VariantIndex {
				variant = &product.Variants[i]
				break
			}
		}
		if variant == nil {
			return nil, fmt.Errorf("%w: product %d variant %d", domain.ErrNotFound, in.ProductID, in.VariantIndex)
		}

		quote, err := s.pricing.QuoteVariant(ctx, dealerID, variant, in.Quantity)
		if err != nil {
			return nil, err
		}
		snapshot, err := json.Marshal(domain.ProductSnapshot{
			ProductID:      product.ID,
			Name:           product.Name,
			Model:          product.Model,
			VariantIndex:   variant.VariantIndex,
			AttributeValue: variant.AttributeValue,
			ListPrice:      variant.Price,
			CapturedAt:     time.Now().UTC(),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to encode product snapshot: %w", err)
		}

		items = append(items, domain.OrderItem{
			ProductID:       product.ID,
			VariantIndex:    variant.VariantIndex,
			VariantHash:     variant.VariantHash,
			Quantity:        in.Quantity,
			UnitPrice:       quote.UnitPrice,
			Discount:        quote.Discount,
			TotalPrice:      quote.TotalPrice,
			ProductSnapshot: snapshot,
		})
	}
	return items, nil
}

func newOrderCode() string {
	return "ORD-" + strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:16])
}

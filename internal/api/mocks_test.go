package api

import (
	"context"

	"github.com/MorseWayne/ev_dealer/internal/domain"
)

// mockLedgerService 未设置的方法返回零值
type mockLedgerService struct {
	createFunc     func(ctx context.Context, actor *domain.User, req *domain.CreateAllocationRequest) (*domain.DealerAllocation, error)
	transitionFunc func(ctx context.Context, actor *domain.User, id int64, req *domain.TransitionAllocationRequest) (*domain.DealerAllocation, error)
	cancelFunc     func(ctx context.Context, actor *domain.User, id int64) (*domain.DealerAllocation, error)
	deleteFunc     func(ctx context.Context, actor *domain.User, id int64) error
	assignFunc     func(ctx context.Context, actor *domain.User, id int64, req *domain.AssignVinsRequest) (*domain.DealerAllocation, error)
	editVinFunc    func(ctx context.Context, actor *domain.User, id int64, position int, req *domain.EditVinRequest) (*domain.DealerAllocation, error)
	getFunc        func(ctx context.Context, actor *domain.User, id int64) (*domain.DealerAllocation, error)
	listFunc       func(ctx context.Context, actor *domain.User, req *domain.AllocationListRequest) (*domain.AllocationListResponse, error)
}

func (m *mockLedgerService) CreateAllocation(ctx context.Context, actor *domain.User, req *domain.CreateAllocationRequest) (*domain.DealerAllocation, error) {
	if m.createFunc != nil {
		return m.createFunc(ctx, actor, req)
	}
	return &domain.DealerAllocation{}, nil
}

func (m *mockLedgerService) TransitionStatus(ctx context.Context, actor *domain.User, id int64, req *domain.TransitionAllocationRequest) (*domain.DealerAllocation, error) {
	if m.transitionFunc != nil {
		return m.transitionFunc(ctx, actor, id, req)
	}
	return &domain.DealerAllocation{ID: id, Status: req.Status}, nil
}

func (m *mockLedgerService) CancelAllocation(ctx context.Context, actor *domain.User, id int64) (*domain.DealerAllocation, error) {
	if m.cancelFunc != nil {
		return m.cancelFunc(ctx, actor, id)
	}
	return &domain.DealerAllocation{ID: id, Status: domain.AllocationStatusCancelled}, nil
}

func (m *mockLedgerService) DeleteAllocation(ctx context.Context, actor *domain.User, id int64) error {
	if m.deleteFunc != nil {
		return m.deleteFunc(ctx, actor, id)
	}
	return nil
}

func (m *mockLedgerService) AssignVins(ctx context.Context, actor *domain.User, id int64, req *domain.AssignVinsRequest) (*domain.DealerAllocation, error) {
	if m.assignFunc != nil {
		return m.assignFunc(ctx, actor, id, req)
	}
	return &domain.DealerAllocation{ID: id}, nil
}

func (m *mockLedgerService) EditVin(ctx context.Context, actor *domain.User, id int64, position int, req *domain.EditVinRequest) (*domain.DealerAllocation, error) {
	if m.editVinFunc != nil {
		return m.editVinFunc(ctx, actor, id, position, req)
	}
	return &domain.DealerAllocation{ID: id}, nil
}

func (m *mockLedgerService) GetAllocation(ctx context.Context, actor *domain.User, id int64) (*domain.DealerAllocation, error) {
	if m.getFunc != nil {
		return m.getFunc(ctx, actor, id)
	}
	return &domain.DealerAllocation{ID: id}, nil
}

func (m *mockLedgerService) ListAllocations(ctx context.Context, actor *domain.User, req *domain.AllocationListRequest) (*domain.AllocationListResponse, error) {
	if m.listFunc != nil {
		return m.listFunc(ctx, actor, req)
	}
	return &domain.AllocationListResponse{Allocations: []*domain.DealerAllocation{}}, nil
}

// mockOrderService 状态操作统一走 transitionFunc
type mockOrderService struct {
	createFunc     func(ctx context.Context, actor *domain.User, req *domain.CreateOrderRequest) (*domain.Order, error)
	transitionFunc func(op string, id int64, notes string) (*domain.Order, error)
}

func (m *mockOrderService) CreateDraft(ctx context.Context, actor *domain.User, req *domain.CreateOrderRequest) (*domain.Order, error) {
	if m.createFunc != nil {
		return m.createFunc(ctx, actor, req)
	}
	return &domain.Order{Status: domain.OrderStatusDraft}, nil
}

func (m *mockOrderService) UpdateDraft(ctx context.Context, actor *domain.User, id int64, req *domain.UpdateOrderRequest) (*domain.Order, error) {
	return &domain.Order{ID: id}, nil
}

func (m *mockOrderService) DeleteDraft(ctx context.Context, actor *domain.User, id int64) error {
	return nil
}

func (m *mockOrderService) transition(op string, id int64, notes string) (*domain.Order, error) {
	if m.transitionFunc != nil {
		return m.transitionFunc(op, id, notes)
	}
	return &domain.Order{ID: id}, nil
}

func (m *mockOrderService) Submit(ctx context.Context, actor *domain.User, id int64, notes string) (*domain.Order, error) {
	return m.transition("submit", id, notes)
}

func (m *mockOrderService) Confirm(ctx context.Context, actor *domain.User, id int64, notes string) (*domain.Order, error) {
	return m.transition("confirm", id, notes)
}

func (m *mockOrderService) StartProcessing(ctx context.Context, actor *domain.User, id int64, notes string) (*domain.Order, error) {
	return m.transition("process", id, notes)
}

func (m *mockOrderService) StartDelivering(ctx context.Context, actor *domain.User, id int64, notes string) (*domain.Order, error) {
	return m.transition("deliver", id, notes)
}

func (m *mockOrderService) Complete(ctx context.Context, actor *domain.User, id int64, notes string) (*domain.Order, error) {
	return m.transition("complete", id, notes)
}

func (m *mockOrderService) Cancel(ctx context.Context, actor *domain.User, id int64, notes string) (*domain.Order, error) {
	return m.transition("cancel", id, notes)
}

func (m *mockOrderService) Refund(ctx context.Context, actor *domain.User, id int64, notes string) (*domain.Order, error) {
	return m.transition("refund", id, notes)
}

func (m *mockOrderService) GetOrder(ctx context.Context, actor *domain.User, id int64) (*domain.Order, error) {
	return &domain.Order{ID: id}, nil
}

func (m *mockOrderService) ListOrders(ctx context.Context, actor *domain.User, req *domain.OrderListRequest) (*domain.OrderListResponse, error) {
	return &domain.OrderListResponse{Orders: []*domain.Order{}}, nil
}

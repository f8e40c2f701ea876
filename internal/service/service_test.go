package service

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/MorseWayne/ev_dealer/internal/database"
	"github.com/MorseWayne/ev_dealer/internal/domain"
	"github.com/MorseWayne/ev_dealer/internal/repo"
)

// recordingPublisher 记录已发布的事件
type recordingPublisher struct {
	mu     sync.Mutex
	events []*domain.LedgerEvent
}

func (p *recordingPublisher) PublishLedgerEvent(ctx context.Context, evt *domain.LedgerEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, evt)
	return nil
}

func (p *recordingPublisher) count(t domain.EventType) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, e := range p.events {
		if e.Type == t {
			n++
		}
	}
	return n
}

type testEnv struct {
	db  *sql.DB
	txm *database.TxManager

	productRepo   repo.ProductRepository
	dealerRepo    repo.DealerRepository
	allocRepo     repo.AllocationRepository
	inventoryRepo repo.DealerInventoryRepository

	catalog   CatalogService
	dealers   DealerService
	ledger    LedgerService
	inventory DealerInventoryService
	pricing   PricingService
	orders    OrderService
	requests  AllocationRequestService

	events *recordingPublisher
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	db := database.NewTestDB(t)
	logger := zap.NewNop()
	env := &testEnv{
		db:            db,
		txm:           database.NewTxManager(db),
		productRepo:   repo.NewProductRepository(db),
		dealerRepo:    repo.NewDealerRepository(db),
		allocRepo:     repo.NewAllocationRepository(db),
		inventoryRepo: repo.NewDealerInventoryRepository(db),
		events:        &recordingPublisher{},
	}
	locker := NewLocalVariantLocker()

	env.catalog = NewCatalogService(env.txm, env.productRepo, locker, env.events, logger)
	env.dealers = NewDealerService(env.dealerRepo, logger)
	env.ledger = NewLedgerService(env.txm, env.productRepo, env.dealerRepo, env.allocRepo, env.inventoryRepo, locker, env.events, logger)
	env.inventory = NewDealerInventoryService(env.txm, env.productRepo, env.inventoryRepo, logger)
	env.pricing = NewPricingService(env.productRepo, repo.NewPricingRepository(db), logger)
	env.orders = NewOrderService(env.txm, repo.NewOrderRepository(db), env.productRepo, env.dealerRepo, env.inventory, env.pricing, env.events, logger)
	env.requests = NewAllocationRequestService(env.txm, repo.NewAllocationRequestRepository(db), env.productRepo, env.dealerRepo, env.ledger, env.events, logger)
	return env
}

var admin = &domain.User{ID: 1, Username: "admin", Role: domain.UserRoleAdmin, IsActive: true}

func dealerUser(dealerID int64) *domain.User {
	return &domain.User{ID: 100 + dealerID, Username: fmt.Sprintf("dealer-%d", dealerID), Role: domain.UserRoleDealerManager, DealerID: dealerID, IsActive: true}
}

func (e *testEnv) seedDealer(t *testing.T, code string) *domain.Dealer {
	t.Helper()
	d, err := e.dealers.CreateDealer(context.Background(), &domain.CreateDealerRequest{Code: code, Name: "Dealer " + code})
	require.NoError(t, err)
	return d
}

// seedProduct 创建两个变体（白/黑）的车型，库存分别为 stocks[0]、stocks[1]
func (e *testEnv) seedProduct(t *testing.T, stocks ...int) *domain.Product {
	t.Helper()
	colors := []string{"white", "black", "blue"}
	req := &domain.CreateProductRequest{Name: "Model E", Model: "E-2026"}
	for i, s := range stocks {
		req.Variants = append(req.Variants, domain.CreateVariantRequest{
			AttributeValue: []domain.AttributeValue{{Attribute: "color", Option: colors[i]}},
			Price:          3_000_000,
			Stock:          s,
		})
	}
	p, err := e.catalog.CreateProduct(context.Background(), req)
	require.NoError(t, err)
	return p
}

func (e *testEnv) variantStock(t *testing.T, productID int64, variantIndex int) int {
	t.Helper()
	v, err := e.productRepo.GetVariant(context.Background(), productID, variantIndex)
	require.NoError(t, err)
	require.NotNil(t, v)
	return v.Stock
}

func (e *testEnv) dealerStock(t *testing.T, dealerID, productID int64, variantIndex int) *domain.AvailabilityResponse {
	t.Helper()
	out, err := e.inventory.GetAvailable(context.Background(), admin, dealerID, productID, variantIndex)
	require.NoError(t, err)
	return out
}

// deliver 创建并直接送达一张分配单，使经销商门店获得库存
func (e *testEnv) deliver(t *testing.T, dealerID, productID int64, variantIndex, qty int) *domain.DealerAllocation {
	t.Helper()
	ctx := context.Background()
	a, err := e.ledger.CreateAllocation(ctx, admin, &domain.CreateAllocationRequest{
		DealerID: dealerID, ProductID: productID, VariantIndex: variantIndex, Quantity: qty,
	})
	require.NoError(t, err)
	for _, st := range []domain.AllocationStatus{domain.AllocationStatusAllocated, domain.AllocationStatusDelivered} {
		a, err = e.ledger.TransitionStatus(ctx, admin, a.ID, &domain.TransitionAllocationRequest{Status: st})
		require.NoError(t, err)
	}
	return a
}

func vins(prefix string, n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("%s%05d", prefix, i)
	}
	return out
}

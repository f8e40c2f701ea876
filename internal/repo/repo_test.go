package repo

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MorseWayne/ev_dealer/internal/cache"
	"github.com/MorseWayne/ev_dealer/internal/database"
	"github.com/MorseWayne/ev_dealer/internal/domain"
)

func seedDealer(t *testing.T, db *sql.DB, code string) *domain.Dealer {
	t.Helper()
	d := &domain.Dealer{Code: code, Name: "Dealer " + code, Status: domain.DealerStatusActive}
	require.NoError(t, NewDealerRepository(db).Create(context.Background(), d))
	return d
}

func seedProduct(t *testing.T, db *sql.DB, stock int) (*domain.Product, domain.VariantKey) {
	t.Helper()
	attrs := []domain.AttributeValue{{Attribute: "color", Option: "white"}}
	p := &domain.Product{
		Name:   "Model E",
		Model:  "E-2026",
		Status: domain.ProductStatusActive,
		Variants: []domain.ProductVariant{{
			VariantIndex:   0,
			VariantHash:    domain.VariantHash(attrs),
			AttributeValue: attrs,
			Price:          3_000_000,
			Stock:          stock,
		}},
	}
	require.NoError(t, NewProductRepository(db).Create(context.Background(), p))
	return p, domain.VariantKey{ProductID: p.ID, VariantHash: p.Variants[0].VariantHash}
}

func TestProductRepo_CreateAndGet(t *testing.T) {
	db := database.NewTestDB(t)
	ctx := context.Background()
	p, key := seedProduct(t, db, 10)

	repo := NewProductRepository(db)
	got, err := repo.GetByID(ctx, p.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Len(t, got.Variants, 1)
	assert.Equal(t, "white", got.Variants[0].AttributeValue[0].Option)
	assert.Equal(t, 10, got.Variants[0].Stock)

	v, err := repo.GetVariantByHash(ctx, p.ID, key.VariantHash)
	require.NoError(t, err)
	assert.Equal(t, 0, v.VariantIndex)

	missing, err := repo.GetByID(ctx, 9999)
	require.NoError(t, err)
	assert.Nil(t, missing)

	list, total, err := repo.List(ctx, &domain.ProductListRequest{})
	require.NoError(t, err)
	assert.EqualValues(t, 1, total)
	assert.Len(t, list, 1)
}

func TestProductRepo_StockCounters(t *testing.T) {
	db := database.NewTestDB(t)
	ctx := context.Background()
	_, key := seedProduct(t, db, 10)
	repo := NewProductRepository(db)

	require.NoError(t, repo.DebitVariantStock(ctx, key, 6))
	err := repo.DebitVariantStock(ctx, key, 6)
	assert.ErrorIs(t, err, domain.ErrInsufficientStock)

	require.NoError(t, repo.CreditVariantStock(ctx, key, 2))
	v, err := repo.GetVariantByHash(ctx, key.ProductID, key.VariantHash)
	require.NoError(t, err)
	assert.Equal(t, 6, v.Stock)

	stock, err := repo.AdjustVariantStock(ctx, key, -100)
	require.NoError(t, err)
	assert.Equal(t, 0, stock, "decrement clamps at zero")

	stock, err = repo.AdjustVariantStock(ctx, key, 5)
	require.NoError(t, err)
	assert.Equal(t, 5, stock)

	_, err = repo.AdjustVariantStock(ctx, domain.VariantKey{ProductID: key.ProductID, VariantHash: "nope"}, 1)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestCachedProductRepo_InvalidatesAfterCommit(t *testing.T) {
	db := database.NewTestDB(t)
	ctx := context.Background()
	p, key := seedProduct(t, db, 10)

	mem := cache.NewMemoryCache()
	repo := NewCachedProductRepository(NewProductRepository(db), mem, time.Minute)

	first, err := repo.GetByID(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 10, first.Variants[0].Stock)
	exists, _ := mem.Exists(ctx, ProductCacheKey(p.ID))
	require.True(t, exists)

	txm := database.NewTxManager(db)
	require.NoError(t, txm.WithinTx(ctx, func(ctx context.Context) error {
		return repo.DebitVariantStock(ctx, key, 4)
	}))

	exists, _ = mem.Exists(ctx, ProductCacheKey(p.ID))
	assert.False(t, exists)

	fresh, err := repo.GetByID(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 6, fresh.Variants[0].Stock)
}

func TestAllocationRepo_VersionAndVINs(t *testing.T) {
	db := database.NewTestDB(t)
	ctx := context.Background()
	d := seedDealer(t, db, "D001")
	_, key := seedProduct(t, db, 10)
	repo := NewAllocationRepository(db)

	a := &domain.DealerAllocation{
		DealerID: d.ID, ProductID: key.ProductID, VariantHash: key.VariantHash,
		Quantity: 2, Status: domain.AllocationStatusPending,
	}
	require.NoError(t, repo.Create(ctx, a))
	assert.Equal(t, 1, a.Version)

	stale := *a
	a.Status = domain.AllocationStatusAllocated
	require.NoError(t, repo.Update(ctx, a))
	assert.Equal(t, 2, a.Version)

	stale.Status = domain.AllocationStatusCancelled
	assert.ErrorIs(t, repo.Update(ctx, &stale), domain.ErrConflict)

	now := time.Now().UTC()
	require.NoError(t, repo.InsertVINs(ctx, a.ID, []domain.AllocationVIN{
		{Position: 0, VIN: "VIN0001", CreatedAt: now},
		{Position: 1, VIN: "VIN0002", CreatedAt: now},
	}))

	owners, err := repo.FindVINOwners(ctx, []string{"VIN0002", "VIN9999"})
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{"VIN0002": a.ID}, owners)

	other := &domain.DealerAllocation{
		DealerID: d.ID, ProductID: key.ProductID, VariantHash: key.VariantHash,
		Quantity: 1, Status: domain.AllocationStatusPending,
	}
	require.NoError(t, repo.Create(ctx, other))
	err = repo.InsertVINs(ctx, other.ID, []domain.AllocationVIN{{Position: 0, VIN: "VIN0001", CreatedAt: now}})
	assert.ErrorIs(t, err, domain.ErrDuplicateVin)

	require.NoError(t, repo.UpdateVIN(ctx, a.ID, 1, "VIN0003"))
	assert.ErrorIs(t, repo.UpdateVIN(ctx, a.ID, 5, "VIN0004"), domain.ErrNotFound)

	got, err := repo.GetByID(ctx, a.ID)
	require.NoError(t, err)
	require.Len(t, got.VINs, 2)
	assert.Equal(t, "VIN0003", got.VINs[1].VIN)

	require.NoError(t, repo.SoftDelete(ctx, got))
	gone, err := repo.GetByID(ctx, a.ID)
	require.NoError(t, err)
	assert.Nil(t, gone)

	owners, err = repo.FindVINOwners(ctx, []string{"VIN0001"})
	require.NoError(t, err)
	assert.Empty(t, owners, "deleting an allocation frees its VINs")
}

func TestAllocationRepo_ListFilters(t *testing.T) {
	db := database.NewTestDB(t)
	ctx := context.Background()
	d1 := seedDealer(t, db, "D001")
	d2 := seedDealer(t, db, "D002")
	_, key := seedProduct(t, db, 10)
	repo := NewAllocationRepository(db)

	for _, dealerID := range []int64{d1.ID, d1.ID, d2.ID} {
		require.NoError(t, repo.Create(ctx, &domain.DealerAllocation{
			DealerID: dealerID, ProductID: key.ProductID, VariantHash: key.VariantHash,
			Quantity: 1, Status: domain.AllocationStatusPending,
		}))
	}

	list, total, err := repo.List(ctx, &domain.AllocationListRequest{DealerID: &d1.ID, PageSize: 1})
	require.NoError(t, err)
	assert.EqualValues(t, 2, total)
	assert.Len(t, list, 1)
}

func TestDealerInventoryRepo_Counters(t *testing.T) {
	db := database.NewTestDB(t)
	ctx := context.Background()
	d := seedDealer(t, db, "D001")
	_, key := seedProduct(t, db, 10)
	repo := NewDealerInventoryRepository(db)

	require.NoError(t, repo.CreditDelivered(ctx, d.ID, key, 0, 3))
	require.NoError(t, repo.CreditDelivered(ctx, d.ID, key, 0, 2))

	inv, err := repo.Get(ctx, d.ID, key)
	require.NoError(t, err)
	assert.Equal(t, 5, inv.Stock)

	require.NoError(t, repo.ReserveStock(ctx, d.ID, key, 4))
	assert.ErrorIs(t, repo.ReserveStock(ctx, d.ID, key, 2), domain.ErrInsufficientStock)

	// 预留 4 台时不能撤回 3 台到店
	assert.ErrorIs(t, repo.DebitDelivered(ctx, d.ID, key, 3), domain.ErrInsufficientStock)

	require.NoError(t, repo.ReleaseStock(ctx, d.ID, key, 10))
	inv, err = repo.Get(ctx, d.ID, key)
	require.NoError(t, err)
	assert.Equal(t, 0, inv.ReservedStock, "release floors at zero")

	require.NoError(t, repo.ReserveStock(ctx, d.ID, key, 2))
	require.NoError(t, repo.ConsumeStock(ctx, d.ID, key, 2))
	assert.ErrorIs(t, repo.ConsumeStock(ctx, d.ID, key, 1), domain.ErrInsufficientStock)

	require.NoError(t, repo.DebitDelivered(ctx, d.ID, key, 10))
	inv, err = repo.Get(ctx, d.ID, key)
	require.NoError(t, err)
	assert.Equal(t, 0, inv.Stock, "reversal floors at zero")

	list, total, err := repo.List(ctx, &domain.DealerInventoryListRequest{DealerID: &d.ID})
	require.NoError(t, err)
	assert.EqualValues(t, 1, total)
	assert.Len(t, list, 1)
}

func TestOrderRepo_RoundTrip(t *testing.T) {
	db := database.NewTestDB(t)
	ctx := context.Background()
	d := seedDealer(t, db, "D001")
	_, key := seedProduct(t, db, 10)
	repo := NewOrderRepository(db)

	now := time.Now().UTC()
	o := &domain.Order{
		Code: "SO-1", DealerID: d.ID, CustomerName: "Alex", Status: domain.OrderStatusDraft,
		Items: []domain.OrderItem{{
			ProductID: key.ProductID, VariantHash: key.VariantHash, Quantity: 1,
			UnitPrice: 100, TotalPrice: 100, ProductSnapshot: []byte(`{"name":"Model E"}`),
		}},
		StatusHistory: []domain.OrderStatusHistory{{Status: domain.OrderStatusDraft, Actor: 7, CreatedAt: now}},
	}
	o.RecalculateTotals()
	require.NoError(t, repo.Create(ctx, o))

	o.Status = domain.OrderStatusPending
	require.NoError(t, repo.Update(ctx, o))
	require.NoError(t, repo.AppendHistory(ctx, o.ID, domain.OrderStatusHistory{Status: domain.OrderStatusPending, CreatedAt: now}))

	got, err := repo.GetByID(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusPending, got.Status)
	assert.Len(t, got.Items, 1)
	assert.JSONEq(t, `{"name":"Model E"}`, string(got.Items[0].ProductSnapshot))
	require.Len(t, got.StatusHistory, 2)
	assert.Equal(t, int64(7), got.StatusHistory[0].Actor)
}

func TestAllocationRequestRepo_RoundTrip(t *testing.T) {
	db := database.NewTestDB(t)
	ctx := context.Background()
	d := seedDealer(t, db, "D001")
	_, key := seedProduct(t, db, 10)
	repo := NewAllocationRequestRepository(db)

	req := &domain.AllocationRequest{
		Code: "AR-1", DealerID: d.ID, Status: domain.RequestStatusDraft,
		Items: []domain.AllocationRequestItem{{ProductID: key.ProductID, VariantHash: key.VariantHash, Quantity: 3}},
	}
	req.RecalculateTotal()
	require.NoError(t, repo.Create(ctx, req))

	req.AllocationIDs = []int64{11, 12}
	req.Status = domain.RequestStatusApproved
	require.NoError(t, repo.Update(ctx, req))

	got, err := repo.GetByID(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, []int64{11, 12}, got.AllocationIDs)
	assert.Equal(t, 3, got.TotalQuantity)
	require.Len(t, got.Items, 1)
}

func TestPricingRepo(t *testing.T) {
	db := database.NewTestDB(t)
	ctx := context.Background()
	d := seedDealer(t, db, "D001")
	_, key := seedProduct(t, db, 10)
	repo := NewPricingRepository(db)

	require.NoError(t, repo.UpsertDealerPrice(ctx, &domain.DealerPrice{DealerID: d.ID, ProductID: key.ProductID, VariantHash: key.VariantHash, Price: 100}))
	require.NoError(t, repo.UpsertDealerPrice(ctx, &domain.DealerPrice{DealerID: d.ID, ProductID: key.ProductID, VariantHash: key.VariantHash, Price: 90}))
	price, err := repo.GetDealerPrice(ctx, d.ID, key)
	require.NoError(t, err)
	assert.EqualValues(t, 90, price.Price)

	disc := &domain.Discount{DealerID: d.ID, Name: "volume", Type: domain.DiscountTypePercent, Value: decimal.RequireFromString("7.5"), Active: true}
	require.NoError(t, repo.CreateDiscount(ctx, disc))
	require.NoError(t, repo.SetDiscountActive(ctx, disc.ID, false))
	discounts, err := repo.ListDiscounts(ctx, d.ID)
	require.NoError(t, err)
	require.Len(t, discounts, 1)
	assert.True(t, discounts[0].Value.Equal(decimal.RequireFromString("7.5")))
	assert.False(t, discounts[0].Active)

	other := int64(9999)
	require.NoError(t, repo.CreatePromotion(ctx, &domain.Promotion{Name: "all", Type: domain.DiscountTypeFixed, Value: decimal.NewFromInt(5), Status: domain.PromotionStatusActive}))
	require.NoError(t, repo.CreatePromotion(ctx, &domain.Promotion{Name: "other", ProductID: &other, Type: domain.DiscountTypeFixed, Value: decimal.NewFromInt(5), Status: domain.PromotionStatusActive}))
	promos, err := repo.ListPromotions(ctx, key.ProductID)
	require.NoError(t, err)
	require.Len(t, promos, 1)
	assert.Nil(t, promos[0].ProductID)
}

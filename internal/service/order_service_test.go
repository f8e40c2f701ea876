package service

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MorseWayne/ev_dealer/internal/domain"
)

func newDraft(t *testing.T, env *testEnv, actor *domain.User, dealerID int64, items ...domain.OrderItemInput) *domain.Order {
	t.Helper()
	o, err := env.orders.CreateDraft(context.Background(), actor, &domain.CreateOrderRequest{
		DealerID:     dealerID,
		CustomerName: "Alex Customer",
		Items:        items,
	})
	require.NoError(t, err)
	return o
}

func TestOrder_SubmitAndCancelReleasesReservation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	dealer := env.seedDealer(t, "D001")
	product := env.seedProduct(t, 10)
	env.deliver(t, dealer.ID, product.ID, 0, 5)

	user := dealerUser(dealer.ID)
	o := newDraft(t, env, user, dealer.ID, domain.OrderItemInput{ProductID: product.ID, Quantity: 3})
	assert.Equal(t, domain.OrderStatusDraft, o.Status)
	assert.Equal(t, 0, env.dealerStock(t, dealer.ID, product.ID, 0).Reserved, "drafts do not reserve")

	o, err := env.orders.Submit(ctx, user, o.ID, "")
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusPending, o.Status)
	stock := env.dealerStock(t, dealer.ID, product.ID, 0)
	assert.Equal(t, 5, stock.Stock)
	assert.Equal(t, 3, stock.Reserved)
	assert.Equal(t, 2, stock.Available)

	o, err = env.orders.Cancel(ctx, user, o.ID, "customer changed mind")
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusCancelled, o.Status)
	stock = env.dealerStock(t, dealer.ID, product.ID, 0)
	assert.Equal(t, 5, stock.Stock)
	assert.Equal(t, 0, stock.Reserved)

	got, err := env.orders.GetOrder(ctx, user, o.ID)
	require.NoError(t, err)
	require.Len(t, got.StatusHistory, 3)
	assert.Equal(t, domain.OrderStatusCancelled, got.StatusHistory[2].Status)
	assert.Equal(t, "customer changed mind", got.StatusHistory[2].Notes)

	assert.Equal(t, 1, env.events.count(domain.EventOrderSubmitted))
	assert.Equal(t, 1, env.events.count(domain.EventOrderCancelled))
}

func TestOrder_ReservationFollowsOrderOnly(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	dealer := env.seedDealer(t, "D001")
	product := env.seedProduct(t, 10)
	env.deliver(t, dealer.ID, product.ID, 0, 5)

	first := newDraft(t, env, admin, dealer.ID, domain.OrderItemInput{ProductID: product.ID, Quantity: 5})
	first, err := env.orders.Submit(ctx, admin, first.ID, "")
	require.NoError(t, err)

	// 草稿未持有预留，不能借它释放别的订单占用的库存
	second := newDraft(t, env, admin, dealer.ID, domain.OrderItemInput{ProductID: product.ID, Quantity: 5})
	assert.ErrorIs(t, env.inventory.ReleaseForOrder(ctx, second), domain.ErrInvalidTransition)
	// 已提交的订单不能重复预留
	assert.ErrorIs(t, env.inventory.ReserveForOrder(ctx, first), domain.ErrInvalidTransition)
	assert.Equal(t, 5, env.dealerStock(t, dealer.ID, product.ID, 0).Reserved)

	_, err = env.orders.Submit(ctx, admin, second.ID, "")
	assert.ErrorIs(t, err, domain.ErrInsufficientStock)

	_, err = env.orders.Cancel(ctx, admin, first.ID, "")
	require.NoError(t, err)
	_, err = env.orders.Submit(ctx, admin, second.ID, "")
	require.NoError(t, err)

	stock := env.dealerStock(t, dealer.ID, product.ID, 0)
	assert.Equal(t, 5, stock.Stock)
	assert.Equal(t, 5, stock.Reserved)
}

func TestOrder_SubmitIsAllOrNothing(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	dealer := env.seedDealer(t, "D001")
	product := env.seedProduct(t, 10, 10)
	env.deliver(t, dealer.ID, product.ID, 0, 5)
	env.deliver(t, dealer.ID, product.ID, 1, 2)

	tests := []struct {
		name  string
		items []domain.OrderItemInput
	}{
		{
			name: "second variant short",
			items: []domain.OrderItemInput{
				{ProductID: product.ID, VariantIndex: 0, Quantity: 3},
				{ProductID: product.ID, VariantIndex: 1, Quantity: 3},
			},
		},
		{
			name: "same variant aggregated",
			items: []domain.OrderItemInput{
				{ProductID: product.ID, VariantIndex: 0, Quantity: 3},
				{ProductID: product.ID, VariantIndex: 0, Quantity: 3},
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := newDraft(t, env, admin, dealer.ID, tt.items...)
			_, err := env.orders.Submit(ctx, admin, o.ID, "")
			assert.ErrorIs(t, err, domain.ErrInsufficientStock)

			got, err := env.orders.GetOrder(ctx, admin, o.ID)
			require.NoError(t, err)
			assert.Equal(t, domain.OrderStatusDraft, got.Status)
			assert.Equal(t, 0, env.dealerStock(t, dealer.ID, product.ID, 0).Reserved)
			assert.Equal(t, 0, env.dealerStock(t, dealer.ID, product.ID, 1).Reserved)
		})
	}

	o := newDraft(t, env, admin, dealer.ID,
		domain.OrderItemInput{ProductID: product.ID, VariantIndex: 0, Quantity: 2},
		domain.OrderItemInput{ProductID: product.ID, VariantIndex: 0, Quantity: 3},
	)
	_, err := env.orders.Submit(ctx, admin, o.ID, "")
	require.NoError(t, err)
	assert.Equal(t, 5, env.dealerStock(t, dealer.ID, product.ID, 0).Reserved)
}

func TestOrder_FullLifecycle(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	dealer := env.seedDealer(t, "D001")
	product := env.seedProduct(t, 10)
	env.deliver(t, dealer.ID, product.ID, 0, 5)

	o := newDraft(t, env, admin, dealer.ID, domain.OrderItemInput{ProductID: product.ID, Quantity: 3})
	steps := []func(context.Context, *domain.User, int64, string) (*domain.Order, error){
		env.orders.Submit,
		env.orders.Confirm,
		env.orders.StartProcessing,
		env.orders.StartDelivering,
		env.orders.Complete,
	}
	var err error
	for _, step := range steps {
		o, err = step(ctx, admin, o.ID, "")
		require.NoError(t, err)
	}
	assert.Equal(t, domain.OrderStatusCompleted, o.Status)

	_, err = env.orders.Cancel(ctx, admin, o.ID, "")
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	// 订单流转不动 stock，交车由门店单独出库
	stock := env.dealerStock(t, dealer.ID, product.ID, 0)
	assert.Equal(t, 5, stock.Stock)
	assert.Equal(t, 3, stock.Reserved)
	require.NoError(t, env.inventory.Consume(ctx, admin, &domain.DealerStockRequest{DealerID: dealer.ID, ProductID: product.ID, Quantity: 3}))
	stock = env.dealerStock(t, dealer.ID, product.ID, 0)
	assert.Equal(t, 2, stock.Stock)
	assert.Equal(t, 0, stock.Reserved)

	o, err = env.orders.Refund(ctx, admin, o.ID, "")
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusRefunded, o.Status)

	got, err := env.orders.GetOrder(ctx, admin, o.ID)
	require.NoError(t, err)
	assert.Len(t, got.StatusHistory, 7)
}

func TestOrder_DraftEditing(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	dealer := env.seedDealer(t, "D001")
	product := env.seedProduct(t, 10, 10)
	env.deliver(t, dealer.ID, product.ID, 0, 5)

	o := newDraft(t, env, admin, dealer.ID, domain.OrderItemInput{ProductID: product.ID, Quantity: 1})
	assert.EqualValues(t, 3_000_000, o.TotalAmount)

	var snap domain.ProductSnapshot
	require.NoError(t, json.Unmarshal(o.Items[0].ProductSnapshot, &snap))
	assert.Equal(t, "E-2026", snap.Model)

	name := "Sam Buyer"
	o, err := env.orders.UpdateDraft(ctx, admin, o.ID, &domain.UpdateOrderRequest{
		CustomerName: &name,
		Items: []domain.OrderItemInput{
			{ProductID: product.ID, VariantIndex: 0, Quantity: 1},
			{ProductID: product.ID, VariantIndex: 1, Quantity: 1},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "Sam Buyer", o.CustomerName)
	assert.EqualValues(t, 6_000_000, o.Subtotal)

	got, err := env.orders.GetOrder(ctx, admin, o.ID)
	require.NoError(t, err)
	assert.Len(t, got.Items, 2)

	_, err = env.orders.UpdateDraft(ctx, admin, o.ID, &domain.UpdateOrderRequest{
		Items: []domain.OrderItemInput{{ProductID: product.ID, VariantIndex: 7, Quantity: 1}},
	})
	assert.ErrorIs(t, err, domain.ErrNotFound)

	submitted := newDraft(t, env, admin, dealer.ID, domain.OrderItemInput{ProductID: product.ID, Quantity: 1})
	_, err = env.orders.Submit(ctx, admin, submitted.ID, "")
	require.NoError(t, err)
	assert.ErrorIs(t, env.orders.DeleteDraft(ctx, admin, submitted.ID), domain.ErrInvalidTransition)
	_, err = env.orders.UpdateDraft(ctx, admin, submitted.ID, &domain.UpdateOrderRequest{CustomerName: &name})
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	require.NoError(t, env.orders.DeleteDraft(ctx, admin, o.ID))
	_, err = env.orders.GetOrder(ctx, admin, o.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestOrder_QuoteSnapshot(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	dealer := env.seedDealer(t, "D001")
	product := env.seedProduct(t, 10)

	_, err := env.pricing.UpsertDealerPrice(ctx, &domain.UpsertDealerPriceRequest{DealerID: dealer.ID, ProductID: product.ID, Price: 2_800_000})
	require.NoError(t, err)
	_, err = env.pricing.CreateDiscount(ctx, &domain.CreateDiscountRequest{
		DealerID: dealer.ID, Name: "fleet", Type: domain.DiscountTypePercent, Value: decimal.NewFromInt(5),
	})
	require.NoError(t, err)

	o := newDraft(t, env, admin, dealer.ID, domain.OrderItemInput{ProductID: product.ID, Quantity: 2})
	require.Len(t, o.Items, 1)
	assert.EqualValues(t, 2_800_000, o.Items[0].UnitPrice)
	assert.EqualValues(t, 280_000, o.Items[0].Discount)
	assert.EqualValues(t, 5_320_000, o.TotalAmount)
}

func TestOrder_DealerScoping(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	d1 := env.seedDealer(t, "D001")
	d2 := env.seedDealer(t, "D002")
	product := env.seedProduct(t, 10)

	_, err := env.orders.CreateDraft(ctx, dealerUser(d2.ID), &domain.CreateOrderRequest{
		DealerID: d1.ID, CustomerName: "x", Items: []domain.OrderItemInput{{ProductID: product.ID, Quantity: 1}},
	})
	assert.ErrorIs(t, err, domain.ErrForbidden)

	o := newDraft(t, env, dealerUser(d1.ID), d1.ID, domain.OrderItemInput{ProductID: product.ID, Quantity: 1})
	_, err = env.orders.GetOrder(ctx, dealerUser(d2.ID), o.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	list, err := env.orders.ListOrders(ctx, dealerUser(d2.ID), &domain.OrderListRequest{})
	require.NoError(t, err)
	assert.Empty(t, list.Orders)
}

package mq

import (
	"context"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/MorseWayne/ev_dealer/internal/cache"
	"github.com/MorseWayne/ev_dealer/internal/domain"
	"github.com/MorseWayne/ev_dealer/internal/repo"
)

const ledgerEventScope = "ledger-event"

// LedgerEventHandler 消费账本事件：失效车型缓存并写审计日志，按事件 ID 去重
type LedgerEventHandler struct {
	cache  cache.Cache
	seen   *cache.IdempotencyStore
	logger *zap.Logger
}

// NewLedgerEventHandler 创建账本事件处理器
func NewLedgerEventHandler(c cache.Cache, seen *cache.IdempotencyStore, logger *zap.Logger) *LedgerEventHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LedgerEventHandler{cache: c, seen: seen, logger: logger}
}

// Handle 处理单个事件；重复投递直接忽略
func (h *LedgerEventHandler) Handle(ctx context.Context, evt *domain.LedgerEvent) error {
	if evt.ID == "" || evt.Type == "" {
		return &NonRetryableError{Err: fmt.Errorf("ledger event without id or type")}
	}

	first, err := h.seen.Acquire(ctx, ledgerEventScope, evt.ID)
	if err != nil {
		return err
	}
	if !first {
		h.logger.Debug("重复的账本事件", zap.String("event_id", evt.ID))
		return nil
	}

	if evt.ProductID > 0 {
		if err := h.cache.Del(ctx, repo.ProductCacheKey(evt.ProductID)); err != nil {
			// 释放去重键，重试时重新处理
			_ = h.seen.Release(ctx, ledgerEventScope, evt.ID)
			return fmt.Errorf("failed to invalidate product cache: %w", err)
		}
	}

	h.logger.Info("ledger audit",
		zap.String("event_id", evt.ID),
		zap.String("type", string(evt.Type)),
		zap.Time("occurred_at", evt.OccurredAt),
		zap.Int64("actor", evt.Actor),
		zap.Int64("dealer_id", evt.DealerID),
		zap.Int64("product_id", evt.ProductID),
		zap.String("variant_hash", evt.VariantHash),
		zap.Int64("allocation_id", evt.AllocationID),
		zap.Int64("order_id", evt.OrderID),
		zap.Int64("request_id", evt.RequestID),
		zap.String("from_status", evt.FromStatus),
		zap.String("to_status", evt.ToStatus),
		zap.Int("quantity", evt.Quantity),
	)
	return nil
}

// MessageHandler 适配为消费者使用的处理函数
func (h *LedgerEventHandler) MessageHandler() MessageHandler {
	return JSONMessageHandler(func(ctx context.Context, evt domain.LedgerEvent, _ amqp.Delivery) error {
		return h.Handle(ctx, &evt)
	})
}

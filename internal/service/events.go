package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/MorseWayne/ev_dealer/internal/database"
	"github.com/MorseWayne/ev_dealer/internal/domain"
)

// EventPublisher 发布账本事件，由消息队列实现
type EventPublisher interface {
	PublishLedgerEvent(ctx context.Context, evt *domain.LedgerEvent) error
}

type noopEventPublisher struct{}

// NewNoopEventPublisher 未启用消息队列时使用
func NewNoopEventPublisher() EventPublisher {
	return noopEventPublisher{}
}

func (noopEventPublisher) PublishLedgerEvent(ctx context.Context, evt *domain.LedgerEvent) error {
	return nil
}

func newLedgerEvent(t domain.EventType, actor *domain.User) *domain.LedgerEvent {
	evt := &domain.LedgerEvent{
		ID:         uuid.NewString(),
		Type:       t,
		OccurredAt: time.Now().UTC(),
	}
	if actor != nil {
		evt.Actor = actor.ID
	}
	return evt
}

// publishAfterCommit 事务提交后发布事件；发布失败只记录日志，不影响已提交的业务
func publishAfterCommit(ctx context.Context, pub EventPublisher, logger *zap.Logger, evt *domain.LedgerEvent) {
	database.AfterCommit(ctx, func() {
		pubCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := pub.PublishLedgerEvent(pubCtx, evt); err != nil {
			logger.Warn("failed to publish ledger event",
				zap.String("event_id", evt.ID),
				zap.String("type", string(evt.Type)),
				zap.Error(err),
			)
		}
	})
}

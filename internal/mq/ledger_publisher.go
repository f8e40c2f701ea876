package mq

import (
	"context"
	"encoding/json"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/MorseWayne/ev_dealer/internal/domain"
)

const ledgerAppID = "ev-dealer"

// Publisher 发布一条 AMQP 消息，由 Producer 实现
type Publisher interface {
	Publish(ctx context.Context, exchange, routingKey string, msg amqp.Publishing) error
}

// LedgerEventPublisher 把账本事件发布到 topic 交换机，路由键为事件类型
type LedgerEventPublisher struct {
	pub      Publisher
	exchange string
}

// NewLedgerEventPublisher 创建账本事件发布器
func NewLedgerEventPublisher(pub Publisher, exchange string) *LedgerEventPublisher {
	return &LedgerEventPublisher{pub: pub, exchange: exchange}
}

// PublishLedgerEvent 实现 service.EventPublisher
func (p *LedgerEventPublisher) PublishLedgerEvent(ctx context.Context, evt *domain.LedgerEvent) error {
	msg, err := EncodeLedgerEvent(evt)
	if err != nil {
		return err
	}
	return p.pub.Publish(ctx, p.exchange, string(evt.Type), msg)
}

// EncodeLedgerEvent 编码为持久化 JSON 消息，MessageId 取事件 ID 供消费端去重
func EncodeLedgerEvent(evt *domain.LedgerEvent) (amqp.Publishing, error) {
	if evt == nil || evt.ID == "" || evt.Type == "" {
		return amqp.Publishing{}, fmt.Errorf("ledger event requires id and type")
	}
	body, err := json.Marshal(evt)
	if err != nil {
		return amqp.Publishing{}, fmt.Errorf("failed to marshal ledger event: %w", err)
	}
	return amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    evt.ID,
		Type:         string(evt.Type),
		Timestamp:    evt.OccurredAt,
		AppId:        ledgerAppID,
		Body:         body,
	}, nil
}

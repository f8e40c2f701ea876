package mq

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// ErrProducerClosed 生产者已关闭
var ErrProducerClosed = errors.New("producer is closed")

// Producer 带发布确认与重试的生产者
type Producer struct {
	cm     *ConnectionManager
	config ProducerConfig
	logger *zap.Logger

	closed int32

	publishedCount int64
	failedCount    int64
}

// NewProducer 创建生产者
func NewProducer(cm *ConnectionManager, cfg ProducerConfig, logger *zap.Logger) *Producer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Producer{cm: cm, config: cfg, logger: logger}
}

// Publish 发布消息，失败按配置重试
func (p *Producer) Publish(ctx context.Context, exchange, routingKey string, msg amqp.Publishing) error {
	if atomic.LoadInt32(&p.closed) == 1 {
		return ErrProducerClosed
	}

	attempts := p.config.MaxRetryAttempts + 1
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		lastErr = p.publishOnce(ctx, exchange, routingKey, msg)
		if lastErr == nil {
			atomic.AddInt64(&p.publishedCount, 1)
			return nil
		}
		p.logger.Warn("消息发布失败",
			zap.String("exchange", exchange),
			zap.String("routing_key", routingKey),
			zap.String("message_id", msg.MessageId),
			zap.Int("attempt", attempt),
			zap.Error(lastErr))
		if attempt == attempts {
			break
		}
		select {
		case <-time.After(p.config.RetryInterval):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	atomic.AddInt64(&p.failedCount, 1)
	return fmt.Errorf("failed to publish after %d attempts: %w", attempts, lastErr)
}

func (p *Producer) publishOnce(ctx context.Context, exchange, routingKey string, msg amqp.Publishing) error {
	ch, err := p.cm.GetChannel()
	if err != nil {
		return err
	}
	defer p.cm.ReturnChannel(ch)

	publishCtx, cancel := context.WithTimeout(ctx, p.config.PublishTimeout)
	defer cancel()

	if !p.config.EnableConfirm {
		return ch.PublishWithContext(publishCtx, exchange, routingKey, false, false, msg)
	}

	// 通道进入 confirm 模式后可重复调用
	if err := ch.Confirm(false); err != nil {
		return fmt.Errorf("failed to enable confirm mode: %w", err)
	}
	confirmation, err := ch.PublishWithDeferredConfirmWithContext(publishCtx, exchange, routingKey, false, false, msg)
	if err != nil {
		return fmt.Errorf("failed to publish message: %w", err)
	}

	waitCtx, waitCancel := context.WithTimeout(ctx, p.config.ConfirmTimeout)
	defer waitCancel()
	acked, err := confirmation.WaitContext(waitCtx)
	if err != nil {
		return fmt.Errorf("publish confirmation: %w", err)
	}
	if !acked {
		return fmt.Errorf("message was nacked by broker")
	}
	return nil
}

// Close 关闭生产者
func (p *Producer) Close() error {
	atomic.StoreInt32(&p.closed, 1)
	return nil
}

// GetStats 获取统计信息
func (p *Producer) GetStats() ProducerStats {
	return ProducerStats{
		PublishedCount: atomic.LoadInt64(&p.publishedCount),
		FailedCount:    atomic.LoadInt64(&p.failedCount),
		ConfirmMode:    p.config.EnableConfirm,
	}
}

// ProducerStats 生产者统计信息
type ProducerStats struct {
	PublishedCount int64 `json:"published_count"`
	FailedCount    int64 `json:"failed_count"`
	ConfirmMode    bool  `json:"confirm_mode"`
}

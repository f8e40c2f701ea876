package mq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// MessageHandler 消息处理函数
type MessageHandler func(ctx context.Context, delivery amqp.Delivery) error

// Consumer 多 worker 消费者；处理失败重试后 Nack 进入死信队列
type Consumer struct {
	cm      *ConnectionManager
	config  ConsumerConfig
	logger  *zap.Logger
	handler MessageHandler

	running int32
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	processedCount int64
	failedCount    int64
	retriedCount   int64
}

// NewConsumer 创建消费者
func NewConsumer(cm *ConnectionManager, cfg ConsumerConfig, handler MessageHandler, logger *zap.Logger) *Consumer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Consumer{cm: cm, config: cfg, handler: handler, logger: logger}
}

// Start 启动 ConcurrentConsumers 个 worker 消费队列
func (c *Consumer) Start(ctx context.Context, queue string) error {
	if !atomic.CompareAndSwapInt32(&c.running, 0, 1) {
		return fmt.Errorf("consumer is already running")
	}
	if c.handler == nil {
		atomic.StoreInt32(&c.running, 0)
		return fmt.Errorf("message handler is not set")
	}

	workerCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	tag := fmt.Sprintf("ledger-%d", time.Now().Unix())
	for i := 0; i < c.config.ConcurrentConsumers; i++ {
		ch, deliveries, err := c.subscribe(queue, fmt.Sprintf("%s-%d", tag, i))
		if err != nil {
			cancel()
			c.wg.Wait()
			atomic.StoreInt32(&c.running, 0)
			return fmt.Errorf("failed to start worker %d: %w", i, err)
		}
		c.wg.Add(1)
		go c.work(workerCtx, i, ch, deliveries)
	}

	c.logger.Info("开始消费消息",
		zap.String("queue", queue),
		zap.Int("workers", c.config.ConcurrentConsumers))
	return nil
}

func (c *Consumer) subscribe(queue, tag string) (*amqp.Channel, <-chan amqp.Delivery, error) {
	ch, err := c.cm.GetChannel()
	if err != nil {
		return nil, nil, err
	}
	if err := ch.Qos(c.config.PrefetchCount, 0, false); err != nil {
		_ = ch.Close()
		return nil, nil, fmt.Errorf("failed to set qos: %w", err)
	}
	deliveries, err := ch.Consume(queue, tag, false, false, false, false, nil)
	if err != nil {
		_ = ch.Close()
		return nil, nil, fmt.Errorf("failed to consume: %w", err)
	}
	return ch, deliveries, nil
}

func (c *Consumer) work(ctx context.Context, id int, ch *amqp.Channel, deliveries <-chan amqp.Delivery) {
	defer c.wg.Done()
	// 消费通道不放回池中
	defer ch.Close()

	for {
		select {
		case d, ok := <-deliveries:
			if !ok {
				c.logger.Warn("消费通道关闭", zap.Int("worker_id", id))
				return
			}
			c.process(ctx, d)
		case <-ctx.Done():
			return
		}
	}
}

func (c *Consumer) process(ctx context.Context, d amqp.Delivery) {
	err := c.handle(ctx, d)
	if err == nil {
		if ackErr := d.Ack(false); ackErr != nil {
			c.logger.Error("消息确认失败", zap.String("message_id", d.MessageId), zap.Error(ackErr))
		}
		atomic.AddInt64(&c.processedCount, 1)
		return
	}

	atomic.AddInt64(&c.failedCount, 1)
	c.logger.Error("消息处理失败，转入死信队列",
		zap.String("message_id", d.MessageId),
		zap.String("routing_key", d.RoutingKey),
		zap.Error(err))
	if nackErr := d.Nack(false, false); nackErr != nil {
		c.logger.Error("消息拒绝失败", zap.String("message_id", d.MessageId), zap.Error(nackErr))
	}
}

// handle 执行处理函数，可重试错误按配置重试
func (c *Consumer) handle(ctx context.Context, d amqp.Delivery) error {
	var err error
	for attempt := 0; ; attempt++ {
		hctx, cancel := context.WithTimeout(ctx, c.config.ConsumeTimeout)
		err = c.handler(hctx, d)
		cancel()
		if err == nil || IsNonRetryableError(err) || attempt >= c.config.MaxRetryAttempts {
			return err
		}
		atomic.AddInt64(&c.retriedCount, 1)
		select {
		case <-time.After(c.config.RetryInterval):
		case <-ctx.Done():
			return err
		}
	}
}

// Stop 停止所有 worker 并等待退出
func (c *Consumer) Stop() {
	if !atomic.CompareAndSwapInt32(&c.running, 1, 0) {
		return
	}
	c.cancel()
	c.wg.Wait()
	c.logger.Info("停止消费消息")
}

// GetStats 获取统计信息
func (c *Consumer) GetStats() ConsumerStats {
	return ConsumerStats{
		ProcessedCount: atomic.LoadInt64(&c.processedCount),
		FailedCount:    atomic.LoadInt64(&c.failedCount),
		RetriedCount:   atomic.LoadInt64(&c.retriedCount),
		Running:        atomic.LoadInt32(&c.running) == 1,
	}
}

// ConsumerStats 消费者统计信息
type ConsumerStats struct {
	ProcessedCount int64 `json:"processed_count"`
	FailedCount    int64 `json:"failed_count"`
	RetriedCount   int64 `json:"retried_count"`
	Running        bool  `json:"running"`
}

// JSONMessageHandler 解码 JSON 消息体后交给 handler；解码失败不重试
func JSONMessageHandler[T any](handler func(ctx context.Context, data T, delivery amqp.Delivery) error) MessageHandler {
	return func(ctx context.Context, delivery amqp.Delivery) error {
		var data T
		if err := json.Unmarshal(delivery.Body, &data); err != nil {
			return &NonRetryableError{Err: fmt.Errorf("failed to unmarshal message: %w", err)}
		}
		return handler(ctx, data, delivery)
	}
}

// NonRetryableError 不可重试错误
type NonRetryableError struct {
	Err error
}

func (e *NonRetryableError) Error() string {
	return fmt.Sprintf("non-retryable error: %v", e.Err)
}

func (e *NonRetryableError) Unwrap() error {
	return e.Err
}

// IsNonRetryableError 检查是否为不可重试错误
func IsNonRetryableError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return true
	}
	var nonRetryable *NonRetryableError
	return errors.As(err, &nonRetryable)
}

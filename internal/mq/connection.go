package mq

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// ErrNotConnected 连接尚未建立或已关闭
var ErrNotConnected = errors.New("rabbitmq connection is not available")

// ConnectionState 连接状态
type ConnectionState int32

const (
	StateDisconnected ConnectionState = iota
	StateConnected
	StateReconnecting
	StateClosed
)

func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// ConnectionManager 维护单条 AMQP 连接与一个可复用的通道池，断线后自动重连
type ConnectionManager struct {
	config *Config
	logger *zap.Logger

	mu    sync.RWMutex
	conn  *amqp.Connection
	state int32

	channels chan *amqp.Channel
	stopCh   chan struct{}
	stopOnce sync.Once

	// 重连成功后回调，用于重新声明拓扑
	onReconnect func(ch *amqp.Channel) error
}

// NewConnectionManager 创建连接管理器
func NewConnectionManager(cfg *Config, logger *zap.Logger) *ConnectionManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ConnectionManager{
		config:   cfg,
		logger:   logger,
		state:    int32(StateDisconnected),
		channels: make(chan *amqp.Channel, cfg.ChannelPoolSize),
		stopCh:   make(chan struct{}),
	}
}

// OnReconnect 设置重连回调
func (cm *ConnectionManager) OnReconnect(fn func(ch *amqp.Channel) error) {
	cm.mu.Lock()
	cm.onReconnect = fn
	cm.mu.Unlock()
}

// Connect 建立连接并启动断线监控
func (cm *ConnectionManager) Connect(ctx context.Context) error {
	if err := cm.dial(ctx); err != nil {
		return err
	}
	cm.logger.Info("RabbitMQ连接成功",
		zap.String("host", cm.config.Host),
		zap.Int("port", cm.config.Port),
		zap.String("vhost", cm.config.VHost))
	return nil
}

func (cm *ConnectionManager) dial(ctx context.Context) error {
	dialCfg := amqp.Config{
		Heartbeat: cm.config.Heartbeat,
		Locale:    "en_US",
		Dial:      amqp.DefaultDial(cm.config.ConnectionTimeout),
	}

	type result struct {
		conn *amqp.Connection
		err  error
	}
	done := make(chan result, 1)
	go func() {
		conn, err := amqp.DialConfig(cm.config.GetConnectionURL(), dialCfg)
		done <- result{conn, err}
	}()

	var res result
	select {
	case res = <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	if res.err != nil {
		return fmt.Errorf("failed to dial rabbitmq: %w", res.err)
	}

	cm.mu.Lock()
	cm.conn = res.conn
	cm.mu.Unlock()
	atomic.StoreInt32(&cm.state, int32(StateConnected))

	closeCh := res.conn.NotifyClose(make(chan *amqp.Error, 1))
	go cm.monitor(closeCh)
	return nil
}

// monitor 等待连接关闭事件，非主动关闭时触发重连
func (cm *ConnectionManager) monitor(closeCh <-chan *amqp.Error) {
	select {
	case amqpErr, ok := <-closeCh:
		if cm.GetState() == StateClosed {
			return
		}
		if ok && amqpErr != nil {
			cm.logger.Warn("RabbitMQ连接断开", zap.String("reason", amqpErr.Reason), zap.Int("code", amqpErr.Code))
		}
		cm.drainChannels()
		cm.reconnect()
	case <-cm.stopCh:
	}
}

func (cm *ConnectionManager) reconnect() {
	atomic.StoreInt32(&cm.state, int32(StateReconnecting))

	for attempt := 1; cm.config.MaxReconnectAttempts <= 0 || attempt <= cm.config.MaxReconnectAttempts; attempt++ {
		// 指数退避，最长 30s
		delay := cm.config.ReconnectDelay * time.Duration(1<<uint(min(attempt-1, 4)))
		if delay > 30*time.Second {
			delay = 30 * time.Second
		}
		select {
		case <-time.After(delay):
		case <-cm.stopCh:
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), cm.config.ConnectionTimeout)
		err := cm.dial(ctx)
		cancel()
		if err != nil {
			cm.logger.Warn("RabbitMQ重连失败", zap.Int("attempt", attempt), zap.Error(err))
			continue
		}

		cm.logger.Info("RabbitMQ重连成功", zap.Int("attempt", attempt))
		cm.mu.RLock()
		hook := cm.onReconnect
		cm.mu.RUnlock()
		if hook != nil {
			if err := cm.WithChannel(hook); err != nil {
				cm.logger.Error("重连后初始化失败", zap.Error(err))
			}
		}
		return
	}

	atomic.StoreInt32(&cm.state, int32(StateDisconnected))
	cm.logger.Error("RabbitMQ重连次数已用尽", zap.Int("max_attempts", cm.config.MaxReconnectAttempts))
}

// GetChannel 从池中取出通道，池为空时新建
func (cm *ConnectionManager) GetChannel() (*amqp.Channel, error) {
	for {
		select {
		case ch := <-cm.channels:
			if !ch.IsClosed() {
				return ch, nil
			}
			continue
		default:
		}
		break
	}

	cm.mu.RLock()
	conn := cm.conn
	cm.mu.RUnlock()
	if conn == nil || conn.IsClosed() || cm.GetState() != StateConnected {
		return nil, ErrNotConnected
	}
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}
	return ch, nil
}

// ReturnChannel 归还通道；池满或通道已关闭时直接关闭
func (cm *ConnectionManager) ReturnChannel(ch *amqp.Channel) {
	if ch == nil || ch.IsClosed() {
		return
	}
	if cm.GetState() == StateClosed {
		_ = ch.Close()
		return
	}
	select {
	case cm.channels <- ch:
	default:
		_ = ch.Close()
	}
}

// WithChannel 借用一个通道执行 fn
func (cm *ConnectionManager) WithChannel(fn func(ch *amqp.Channel) error) error {
	ch, err := cm.GetChannel()
	if err != nil {
		return err
	}
	defer cm.ReturnChannel(ch)
	return fn(ch)
}

func (cm *ConnectionManager) drainChannels() {
	for {
		select {
		case ch := <-cm.channels:
			_ = ch.Close()
		default:
			return
		}
	}
}

// IsConnected 是否处于已连接状态
func (cm *ConnectionManager) IsConnected() bool {
	return cm.GetState() == StateConnected
}

// GetState 当前连接状态
func (cm *ConnectionManager) GetState() ConnectionState {
	return ConnectionState(atomic.LoadInt32(&cm.state))
}

// Close 关闭所有通道与连接，停止重连
func (cm *ConnectionManager) Close() error {
	var err error
	cm.stopOnce.Do(func() {
		atomic.StoreInt32(&cm.state, int32(StateClosed))
		close(cm.stopCh)
		cm.drainChannels()

		cm.mu.Lock()
		defer cm.mu.Unlock()
		if cm.conn != nil && !cm.conn.IsClosed() {
			err = cm.conn.Close()
		}
		cm.logger.Info("RabbitMQ连接已关闭")
	})
	return err
}

// Package mq 提供账本事件的 RabbitMQ 发布与消费
package mq

import (
	"fmt"
	"net/url"
	"time"

	"github.com/MorseWayne/ev_dealer/internal/config"
)

// Config RabbitMQ 连接与拓扑配置
type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	VHost    string

	// Exchange 为 topic 交换机，路由键即事件类型
	Exchange string
	// Queue 审计队列，绑定 Exchange 上的全部事件
	Queue       string
	DLXExchange string
	DLQueue     string

	ConnectionTimeout    time.Duration
	Heartbeat            time.Duration
	ReconnectDelay       time.Duration
	MaxReconnectAttempts int
	ChannelPoolSize      int

	Producer ProducerConfig
	Consumer ConsumerConfig
}

// ProducerConfig 生产者配置
type ProducerConfig struct {
	EnableConfirm    bool
	ConfirmTimeout   time.Duration
	MaxRetryAttempts int
	RetryInterval    time.Duration
	PublishTimeout   time.Duration
}

// ConsumerConfig 消费者配置
type ConsumerConfig struct {
	PrefetchCount       int
	MaxRetryAttempts    int
	RetryInterval       time.Duration
	ConsumeTimeout      time.Duration
	ConcurrentConsumers int
}

// DefaultConfig 返回本地开发环境的默认配置
func DefaultConfig() *Config {
	return &Config{
		Host:                 "127.0.0.1",
		Port:                 5672,
		Username:             "guest",
		Password:             "guest",
		VHost:                "/",
		Exchange:             "ev_dealer.ledger",
		Queue:                "ev_dealer.ledger.audit",
		DLXExchange:          "ev_dealer.ledger.dlx",
		DLQueue:              "ev_dealer.ledger.dead",
		ConnectionTimeout:    10 * time.Second,
		Heartbeat:            10 * time.Second,
		ReconnectDelay:       2 * time.Second,
		MaxReconnectAttempts: 10,
		ChannelPoolSize:      8,
		Producer: ProducerConfig{
			EnableConfirm:    true,
			ConfirmTimeout:   5 * time.Second,
			MaxRetryAttempts: 2,
			RetryInterval:    500 * time.Millisecond,
			PublishTimeout:   5 * time.Second,
		},
		Consumer: ConsumerConfig{
			PrefetchCount:       16,
			MaxRetryAttempts:    3,
			RetryInterval:       time.Second,
			ConsumeTimeout:      30 * time.Second,
			ConcurrentConsumers: 2,
		},
	}
}

// FromAppConfig 以应用配置覆盖默认值
func FromAppConfig(rc config.RabbitMQConfig) *Config {
	c := DefaultConfig()
	if rc.Host != "" {
		c.Host = rc.Host
	}
	if rc.Port > 0 {
		c.Port = rc.Port
	}
	c.Username = rc.Username
	c.Password = rc.Password
	if rc.VHost != "" {
		c.VHost = rc.VHost
	}
	if rc.Exchange != "" {
		c.Exchange = rc.Exchange
		c.DLXExchange = rc.Exchange + ".dlx"
	}
	if rc.Queue != "" {
		c.Queue = rc.Queue
		c.DLQueue = rc.Queue + ".dead"
	}
	return c
}

// GetConnectionURL 生成 amqp 连接串，vhost "/" 编码为 %2F
func (c *Config) GetConnectionURL() string {
	return fmt.Sprintf("amqp://%s@%s:%d/%s",
		url.UserPassword(c.Username, c.Password).String(),
		c.Host, c.Port, url.PathEscape(c.VHost))
}

// Validate 校验配置
func (c *Config) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("rabbitmq host is required")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid rabbitmq port: %d", c.Port)
	}
	if c.Exchange == "" || c.Queue == "" {
		return fmt.Errorf("rabbitmq exchange and queue are required")
	}
	if c.ChannelPoolSize <= 0 {
		return fmt.Errorf("channel pool size must be positive")
	}
	if c.Consumer.ConcurrentConsumers <= 0 {
		return fmt.Errorf("concurrent consumers must be positive")
	}
	if c.Producer.EnableConfirm && c.Producer.ConfirmTimeout <= 0 {
		return fmt.Errorf("confirm timeout must be positive when confirm is enabled")
	}
	return nil
}

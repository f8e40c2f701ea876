package mq

import (
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

// 审计队列绑定全部账本事件
const ledgerBindingKey = "#"

// DeclareLedgerTopology 声明账本事件交换机、审计队列以及死信队列
func DeclareLedgerTopology(ch *amqp.Channel, cfg *Config) error {
	exchanges := []struct {
		name string
		kind string
	}{
		{cfg.Exchange, amqp.ExchangeTopic},
		{cfg.DLXExchange, amqp.ExchangeFanout},
	}
	for _, ex := range exchanges {
		if err := ch.ExchangeDeclare(ex.name, ex.kind, true, false, false, false, nil); err != nil {
			return fmt.Errorf("failed to declare exchange %s: %w", ex.name, err)
		}
	}

	if _, err := ch.QueueDeclare(cfg.DLQueue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare queue %s: %w", cfg.DLQueue, err)
	}
	if err := ch.QueueBind(cfg.DLQueue, "", cfg.DLXExchange, false, nil); err != nil {
		return fmt.Errorf("failed to bind queue %s: %w", cfg.DLQueue, err)
	}

	args := amqp.Table{"x-dead-letter-exchange": cfg.DLXExchange}
	if _, err := ch.QueueDeclare(cfg.Queue, true, false, false, false, args); err != nil {
		return fmt.Errorf("failed to declare queue %s: %w", cfg.Queue, err)
	}
	if err := ch.QueueBind(cfg.Queue, ledgerBindingKey, cfg.Exchange, false, nil); err != nil {
		return fmt.Errorf("failed to bind queue %s: %w", cfg.Queue, err)
	}
	return nil
}

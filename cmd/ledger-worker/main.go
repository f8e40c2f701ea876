// Package main 消费账本事件：失效商品缓存并写审计日志
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/MorseWayne/ev_dealer/internal/cache"
	"github.com/MorseWayne/ev_dealer/internal/config"
	"github.com/MorseWayne/ev_dealer/internal/logger"
	"github.com/MorseWayne/ev_dealer/internal/mq"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	lg, err := logger.New(cfg.App.Env, cfg.Log.Level, cfg.Log.Encoding, "ledger-worker", cfg.App.Version)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer func() { _ = lg.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	mqCfg := mq.FromAppConfig(cfg.RabbitMQ)
	if err := mqCfg.Validate(); err != nil {
		lg.Fatal("invalid rabbitmq config", zap.Error(err))
	}

	// 缓存失效只对共享的 Redis 缓存有意义；去重同样需要跨进程
	var c cache.Cache = cache.NewMemoryCache()
	if cfg.Cache.Enabled && cfg.Cache.Type == "redis" {
		rc, err := cache.NewRedisCache(cfg.Redis.Addr(), cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			lg.Fatal("connect redis", zap.String("addr", cfg.Redis.Addr()), zap.Error(err))
		}
		defer func() { _ = rc.Close() }()
		c = rc
	} else {
		lg.Warn("redis cache disabled, worker only writes audit log")
	}
	handler := mq.NewLedgerEventHandler(c, cache.NewIdempotencyStore(c, cfg.Idempotency.TTL), lg)

	cm := mq.NewConnectionManager(mqCfg, lg)
	consumer := mq.NewConsumer(cm, mqCfg.Consumer, handler.MessageHandler(), lg)

	// 重连后旧的消费通道已失效，重新声明拓扑并重启消费
	cm.OnReconnect(func(ch *amqp.Channel) error {
		if err := mq.DeclareLedgerTopology(ch, mqCfg); err != nil {
			return err
		}
		go func() {
			consumer.Stop()
			if err := consumer.Start(ctx, mqCfg.Queue); err != nil {
				lg.Error("restart consumer", zap.Error(err))
			}
		}()
		return nil
	})

	dialCtx, cancel := context.WithTimeout(ctx, mqCfg.ConnectionTimeout)
	err = cm.Connect(dialCtx)
	cancel()
	if err != nil {
		lg.Fatal("connect rabbitmq", zap.Error(err))
	}
	defer func() { _ = cm.Close() }()

	if err := cm.WithChannel(func(ch *amqp.Channel) error { return mq.DeclareLedgerTopology(ch, mqCfg) }); err != nil {
		lg.Fatal("declare ledger topology", zap.Error(err))
	}
	if err := consumer.Start(ctx, mqCfg.Queue); err != nil {
		lg.Fatal("start consumer", zap.Error(err))
	}
	lg.Info("ledger worker started", zap.String("queue", mqCfg.Queue), zap.String("exchange", mqCfg.Exchange))

	<-ctx.Done()
	consumer.Stop()
	stats := consumer.GetStats()
	lg.Info("ledger worker stopped",
		zap.Int64("processed", stats.ProcessedCount),
		zap.Int64("failed", stats.FailedCount),
		zap.Int64("retried", stats.RetriedCount))
}

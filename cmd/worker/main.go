package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"schoolattend/internal/config"
	"schoolattend/internal/logging"
	"schoolattend/internal/metrics"
	"schoolattend/internal/notify"
	"schoolattend/internal/queue"
	"schoolattend/internal/store"
)

const sendAttempts = 3

// Worker consumes domain events and forwards them to the notification service.
func main() {
	cfg := config.Load()
	log, err := logging.New(cfg.Production())
	if err != nil {
		panic(err)
	}
	defer func() { _ = log.Sync() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info("shutdown signal received")
		cancel()
	}()

	var q queue.Queue
	if cfg.QueueBackend == "memory" {
		log.Warn("memory queue selected; the worker only sees events published in its own process")
		q = queue.NewInMemory(64)
	} else {
		redisClient := store.NewRedis(cfg.RedisAddr)
		defer func() { _ = redisClient.Close() }()
		q = queue.NewRedisQueue(redisClient.Client, cfg.EventsQueueKey)
	}

	client := notify.New(cfg.NotifyURL, cfg.NotifySkip)

	// Check notification service health on startup
	if !cfg.NotifySkip {
		if err := client.Health(ctx); err != nil {
			log.Warn("notification service not available; events will be retried on arrival", zap.Error(err))
		} else {
			log.Info("notification service connected", zap.String("url", cfg.NotifyURL))
		}
	}

	messages, err := q.Consume(ctx)
	if err != nil {
		log.Fatal("queue consume init failed", zap.Error(err))
	}

	log.Info("worker started, waiting for messages")
	for msg := range messages {
		forward(ctx, log, client, msg)
	}
	log.Info("worker stopped")
}

func forward(ctx context.Context, log *zap.Logger, client *notify.Client, msg queue.Message) {
	switch msg.Type {
	case queue.TypeScheduleGenerated, queue.TypeSessionCompleted:
	default:
		log.Warn("skipping unknown event", zap.String("id", msg.ID), zap.String("type", msg.Type))
		metrics.EventsForwarded.WithLabelValues(msg.Type, "skipped").Inc()
		return
	}

	var err error
	for attempt := 1; attempt <= sendAttempts; attempt++ {
		if err = client.Send(ctx, msg); err == nil {
			break
		}
		log.Warn("event delivery failed",
			zap.String("id", msg.ID),
			zap.String("type", msg.Type),
			zap.Int("attempt", attempt),
			zap.Error(err))
		select {
		case <-ctx.Done():
			metrics.EventsForwarded.WithLabelValues(msg.Type, "failed").Inc()
			return
		case <-time.After(time.Duration(attempt) * 200 * time.Millisecond):
		}
	}
	if err != nil {
		metrics.EventsForwarded.WithLabelValues(msg.Type, "failed").Inc()
		log.Error("event dropped", zap.String("id", msg.ID), zap.String("type", msg.Type), zap.Error(err))
		return
	}
	metrics.EventsForwarded.WithLabelValues(msg.Type, "ok").Inc()
	log.Debug("event forwarded", zap.String("id", msg.ID), zap.String("type", msg.Type))
}

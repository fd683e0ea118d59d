// Worker purges expired OTP records, forwards auth events from Kafka to Loki when both are
// configured, and serves gRPC health on WORKER_HEALTH_ADDR.
package main

import (
	"context"
	"errors"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"

	"leadflow/backend/internal/app"
	"leadflow/backend/internal/config"
	"leadflow/backend/internal/events"
	"leadflow/backend/internal/logging"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger := logging.New(cfg.LogLevel, cfg.Env).With(zap.String("process", "worker"))
	defer func() { _ = logger.Sync() }()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("app", zap.Error(err))
	}
	defer a.Close(context.Background())

	lis, err := net.Listen("tcp", cfg.WorkerHealthAddr)
	if err != nil {
		logger.Fatal("listen", zap.String("addr", cfg.WorkerHealthAddr), zap.Error(err))
	}
	s := grpc.NewServer()
	a.Health.Register(s)

	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		logger.Info("health server listening", zap.String("addr", cfg.WorkerHealthAddr))
		if err := s.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			logger.Error("serve", zap.Error(err))
			cancel()
		}
	}()
	go func() {
		defer wg.Done()
		a.Health.Watch(ctx, 15*time.Second)
	}()
	go func() {
		defer wg.Done()
		purgeLoop(ctx, a, cfg.PurgeInterval, logger)
	}()

	if brokers := cfg.KafkaBrokersList(); len(brokers) > 0 && cfg.LokiURL != "" {
		reader := events.NewKafkaReader(brokers, cfg.AuthEventsTopic, cfg.KafkaGroupID)
		defer reader.Close()
		loki := events.NewLokiClient(cfg.LokiURL, &http.Client{Timeout: 10 * time.Second})
		fwd := events.NewForwarder(reader, loki, logger)
		wg.Add(1)
		go func() {
			defer wg.Done()
			logger.Info("forwarding auth events",
				zap.String("topic", cfg.AuthEventsTopic),
				zap.String("group", cfg.KafkaGroupID),
				zap.String("loki", cfg.LokiURL))
			if err := fwd.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("forwarder stopped", zap.Error(err))
			}
		}()
	} else {
		logger.Info("event forwarding disabled: KAFKA_BROKERS and LOKI_URL are both required")
	}

	<-ctx.Done()
	logger.Info("shutting down...")
	s.GracefulStop()
	wg.Wait()
	logger.Info("worker stopped")
}

// purgeLoop deletes OTP records past their purge time every interval.
func purgeLoop(ctx context.Context, a *app.App, interval time.Duration, logger *zap.Logger) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := a.OTP.Purge(ctx)
			if err != nil {
				if ctx.Err() == nil {
					logger.Warn("purge failed", zap.Error(err))
				}
				continue
			}
			if n > 0 {
				logging.Component(logger, "purge").Info("expired records deleted", zap.Int64("count", n))
			}
		}
	}
}

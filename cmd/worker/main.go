package main

import (
	"context"
	"github.com/ariefcatur/go-marketplace-orders/internal/app"
	"github.com/ariefcatur/go-marketplace-orders/internal/checkout"
	"github.com/ariefcatur/go-marketplace-orders/internal/config"
	kafkax "github.com/ariefcatur/go-marketplace-orders/internal/kafka"
	"github.com/ariefcatur/go-marketplace-orders/internal/logger"
	"github.com/ariefcatur/go-marketplace-orders/internal/observability"
	"github.com/ariefcatur/go-marketplace-orders/internal/orders"
	"github.com/ariefcatur/go-marketplace-orders/internal/redisx"
	"github.com/joho/godotenv"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
	"log"
	"os/signal"
	"sync"
	"syscall"
	"time"
)

func main() {
	_ = godotenv.Load()
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	lg, err := logger.New(cfg.LogLevel)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer lg.Sync()
	lg = logger.Named(lg, cfg.ServiceName, "worker")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := observability.SetupTracing(ctx, cfg.ServiceName+"-worker", cfg.OtelEndpoint)
	if err != nil {
		lg.Fatal("tracing setup", zap.Error(err))
	}

	a, err := app.Build(ctx, cfg, lg)
	if err != nil {
		lg.Fatal("wiring", zap.Error(err))
	}

	var wg sync.WaitGroup

	// Reservation sweeper
	sweeper := a.Sweeper()
	wg.Add(1)
	go func() {
		defer wg.Done()
		sweeper.Run(ctx)
	}()

	// Submission consumer
	if len(cfg.KafkaBrokers) > 0 {
		var dedup checkout.Deduper
		if a.Redis != nil {
			dedup = redisx.NewDedup(a.Redis, cfg.ConsumerGroup)
		}
		h := checkout.NewSubmissionHandler(a.Service, dedup, lg.Named("submissions"))
		cons := kafkax.NewConsumer(cfg.KafkaBrokers, cfg.ConsumerGroup, orders.TopicOrderSubmissions,
			cfg.ConsumerWorkers, lg.Named("consumer"))

		wg.Add(1)
		go func() {
			defer wg.Done()
			lg.Info("submission consumer started",
				zap.String("group", cfg.ConsumerGroup),
				zap.String("topic", orders.TopicOrderSubmissions),
				zap.Int("workers", cfg.ConsumerWorkers))
			err := cons.Start(ctx, func(ctx context.Context, m kafka.Message) error {
				return h.Handle(ctx, m.Value)
			})
			if err != nil {
				lg.Error("consumer exit", zap.Error(err))
				stop()
			}
		}()
	} else {
		lg.Warn("no kafka brokers configured; only the sweeper runs")
	}

	<-ctx.Done()
	lg.Info("shutting down worker")
	wg.Wait()
	a.Close()

	ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel2()
	if err := shutdownTracing(ctx2); err != nil {
		lg.Warn("tracing shutdown", zap.Error(err))
	}
}

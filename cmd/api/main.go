package main

import (
	"context"
	"errors"
	"github.com/ariefcatur/go-marketplace-orders/internal/app"
	"github.com/ariefcatur/go-marketplace-orders/internal/config"
	"github.com/ariefcatur/go-marketplace-orders/internal/httpx"
	"github.com/ariefcatur/go-marketplace-orders/internal/logger"
	"github.com/ariefcatur/go-marketplace-orders/internal/observability"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"log"
	"net/http"
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
	lg = logger.Named(lg, cfg.ServiceName, "api")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := observability.SetupTracing(ctx, cfg.ServiceName, cfg.OtelEndpoint)
	if err != nil {
		lg.Fatal("tracing setup", zap.Error(err))
	}

	a, err := app.Build(ctx, cfg, lg)
	if err != nil {
		lg.Fatal("wiring", zap.Error(err))
	}
	if err := a.Seed(ctx); err != nil {
		lg.Fatal("seed", zap.Error(err))
	}

	router := httpx.NewRouter(lg.Named("http"))
	oh := &httpx.OrdersHandler{
		Svc:     a.Service,
		Catalog: a.Storage,
		Log:     lg.Named("orders"),
	}
	oh.Register(router)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	var wg sync.WaitGroup
	if a.SweepsInProcess() {
		// Nothing else can see in-memory holds, so expired ones are reclaimed here.
		sweeper := a.Sweeper()
		wg.Add(1)
		go func() {
			defer wg.Done()
			sweeper.Run(ctx)
		}()
	}

	go func() {
		lg.Info("HTTP listening", zap.String("addr", cfg.HTTPAddr), zap.String("storage", cfg.Storage))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			lg.Error("listen", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	lg.Info("shutting down")

	ctx2, cancel2 := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel2()
	if err := srv.Shutdown(ctx2); err != nil {
		lg.Warn("http shutdown", zap.Error(err))
	}
	wg.Wait()
	a.Close() // flush producers, then close redis and the pool
	if err := shutdownTracing(ctx2); err != nil {
		lg.Warn("tracing shutdown", zap.Error(err))
	}
}

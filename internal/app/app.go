package app

import (
	"context"
	"fmt"
	"github.com/ariefcatur/go-marketplace-orders/internal/checkout"
	"github.com/ariefcatur/go-marketplace-orders/internal/config"
	"github.com/ariefcatur/go-marketplace-orders/internal/dispatch"
	"github.com/ariefcatur/go-marketplace-orders/internal/fraud"
	"github.com/ariefcatur/go-marketplace-orders/internal/fulfillment"
	"github.com/ariefcatur/go-marketplace-orders/internal/httpx"
	"github.com/ariefcatur/go-marketplace-orders/internal/inventory"
	kafkax "github.com/ariefcatur/go-marketplace-orders/internal/kafka"
	"github.com/ariefcatur/go-marketplace-orders/internal/memstore"
	"github.com/ariefcatur/go-marketplace-orders/internal/orders"
	"github.com/ariefcatur/go-marketplace-orders/internal/payment"
	"github.com/ariefcatur/go-marketplace-orders/internal/postgres"
	"github.com/ariefcatur/go-marketplace-orders/internal/pricing"
	"github.com/ariefcatur/go-marketplace-orders/internal/redisx"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Storage is everything the order core persists, implemented by both
// postgres.Store and memstore.Store.
type Storage interface {
	orders.Store
	orders.Catalog
	inventory.Store
	pricing.CouponBook
	pricing.RateSource
	checkout.CustomerDirectory
	httpx.ProductLister
}

// App holds the wired order core of one process.
type App struct {
	Config    config.Config
	Storage   Storage
	Inventory *inventory.Manager
	Service   *checkout.Service
	Redis     *redis.Client
	Dispatch  *dispatch.Dispatcher

	seeder    seeder
	producers []*kafkax.Producer
	closers   []func()
	log       *zap.Logger
}

// Build wires storage, caches, messaging and the orchestrator from cfg. Redis
// and Kafka are optional: without them step logs, claims and events fall back
// to no-ops.
func Build(ctx context.Context, cfg config.Config, log *zap.Logger) (*App, error) {
	if log == nil {
		log = zap.NewNop()
	}
	a := &App{Config: cfg, log: log}

	if err := a.openStorage(ctx); err != nil {
		a.Close()
		return nil, err
	}
	if err := a.connectRedis(ctx); err != nil {
		a.Close()
		return nil, err
	}
	a.startProducers(ctx)

	registry, err := fraud.NewRegistry(fraud.DefaultRules(cfg.Fraud)...)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("fraud rules: %w", err)
	}

	a.Inventory = inventory.NewManager(a.Storage, log.Named("inventory"), inventory.WithTTL(cfg.ReservationTTL))
	machine := orders.NewMachine(a.Storage, orders.DefaultEffects(orders.EffectPolicy{
		DeliveryEstimate: cfg.DeliveryETA,
		CarrierETA:       cfg.CarrierETA,
		ReturnWindow:     cfg.ReturnWindow,
		DefaultCarrier:   cfg.DefaultCarrier,
		Splitter:         pricing.NewCommission(a.Storage, cfg.CommissionRate),
	}), log.Named("orders"))

	deps := checkout.Deps{
		Orders:    a.Storage,
		Validator: orders.NewValidator(a.Storage),
		Machine:   machine,
		Inventory: a.Inventory,
		Scorer:    fraud.NewScorer(registry, cfg.Fraud, log.Named("fraud")),
		Pricing:   pricing.NewCalculator(cfg.Pricing, a.Storage, log.Named("pricing")),
		Customers: a.Storage,
		Log:       log.Named("checkout"),
	}
	if cfg.PaymentURL != "" {
		deps.Payments = payment.NewClient(cfg.PaymentURL, cfg.PaymentAPIKey)
	}
	if a.Dispatch != nil {
		deps.Notifier = a.Dispatch
		deps.Queue = a.Dispatch
		deps.Scheduler = fulfillment.NewScheduler(a.Dispatch, log.Named("fulfillment"))
	} else {
		deps.Scheduler = fulfillment.NewScheduler(logTasks{log: log.Named("fulfillment")}, log.Named("fulfillment"))
	}
	if a.Redis != nil {
		deps.StepLogs = redisx.NewStepLogs(a.Redis, cfg.StepLogTTL)
		deps.Claims = redisx.NewClaims(a.Redis, 0)
		deps.Statuses = redisx.NewStatusCache(a.Redis, 0)
	}

	a.Service = checkout.NewService(deps, checkout.Options{
		PaymentTimeout: cfg.PaymentTimeout,
		ReviewHold:     cfg.ReviewHold,
	})
	return a, nil
}

func (a *App) openStorage(ctx context.Context) error {
	switch a.Config.Storage {
	case config.StorageMemory:
		s := memstore.New()
		a.Storage = s
		a.seeder = memSeeder{s}
		a.log.Info("using in-memory storage")
		return nil
	case config.StoragePostgres:
		if err := postgres.Migrate(a.Config.PostgresDSN); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
		db, err := postgres.Connect(ctx, a.Config.PostgresDSN)
		if err != nil {
			return fmt.Errorf("db connect: %w", err)
		}
		a.closers = append(a.closers, db.Close)
		s := postgres.New(db)
		a.Storage = s
		a.seeder = s
		return nil
	}
	return fmt.Errorf("unknown storage driver %q", a.Config.Storage)
}

func (a *App) connectRedis(ctx context.Context) error {
	if a.Config.RedisAddr == "" {
		a.log.Warn("redis disabled; step logs, claims and status cache are not shared")
		return nil
	}
	rdb := redisx.New(a.Config.RedisAddr)
	if err := redisx.Ping(ctx, rdb); err != nil {
		_ = rdb.Close()
		return err
	}
	a.Redis = rdb
	a.closers = append(a.closers, func() { _ = rdb.Close() })
	return nil
}

func (a *App) startProducers(ctx context.Context) {
	brokers := a.Config.KafkaBrokers
	if len(brokers) == 0 {
		a.log.Warn("kafka disabled; events are not published")
		return
	}
	newProducer := func(topic string) *kafkax.Producer {
		p := kafkax.NewProducer(brokers, topic, 1024, a.log.Named("producer").With(zap.String("topic", topic)))
		p.Start(ctx)
		a.producers = append(a.producers, p)
		return p
	}
	a.Dispatch = dispatch.New(dispatch.Publishers{
		Events:      newProducer(orders.TopicOrderEvents),
		Tasks:       newProducer(orders.TopicFulfillmentTasks),
		Submissions: newProducer(orders.TopicOrderSubmissions),
	}, a.Config.ServiceName, a.log.Named("dispatch"))
}

// Seed loads the catalog file named by CATALOG_SEED, if any.
func (a *App) Seed(ctx context.Context) error {
	if a.Config.CatalogSeed == "" {
		return nil
	}
	n, err := seedFile(ctx, a.seeder, a.Config.CatalogSeed)
	if err != nil {
		return fmt.Errorf("seed catalog: %w", err)
	}
	a.log.Info("catalog seeded", zap.String("file", a.Config.CatalogSeed), zap.Int("records", n))
	return nil
}

// Sweeper reclaims this app's expired reservations on the configured interval.
func (a *App) Sweeper() *inventory.Sweeper {
	return inventory.NewSweeper(a.Inventory, a.Config.SweepInterval, a.Config.SweepBatch, a.log.Named("sweeper"))
}

// SweepsInProcess reports whether the serving process must run the sweeper
// itself. In-memory reservations are not visible to a separate worker.
func (a *App) SweepsInProcess() bool {
	return a.Config.Storage == config.StorageMemory
}

// Close flushes the producers and releases connections, newest first.
func (a *App) Close() {
	for _, p := range a.producers {
		p.Close()
	}
	for _, p := range a.producers {
		p.WaitClosed()
	}
	a.producers = nil
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

// logTasks stands in for the task topic when Kafka is off.
type logTasks struct{ log *zap.Logger }

func (l logTasks) DispatchTask(_ context.Context, t fulfillment.Task) error {
	l.log.Info("fulfillment task",
		zap.String("task_id", t.TaskID),
		zap.String("order_id", t.OrderID),
		zap.String("seller_id", t.SellerID))
	return nil
}

package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/example/fulfillment-saga/internal/audit"
	"github.com/example/fulfillment-saga/internal/bus"
	"github.com/example/fulfillment-saga/internal/cache"
	"github.com/example/fulfillment-saga/internal/config"
	"github.com/example/fulfillment-saga/internal/domain/cart"
	"github.com/example/fulfillment-saga/internal/domain/customer"
	"github.com/example/fulfillment-saga/internal/domain/order"
	"github.com/example/fulfillment-saga/internal/domain/payment"
	"github.com/example/fulfillment-saga/internal/domain/product"
	"github.com/example/fulfillment-saga/internal/domain/seller"
	"github.com/example/fulfillment-saga/internal/domain/shipment"
	"github.com/example/fulfillment-saga/internal/domain/stock"
	"github.com/example/fulfillment-saga/internal/store"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("[Main] Skipping .env: %v", err)
	}
	cfg := config.Load()

	log.Println("[Main] ========================================")
	log.Println("[Main] Fulfillment saga")
	log.Println("[Main] ========================================")
	log.Printf("[Main] State backend: %s", cfg.StateBackend)
	log.Printf("[Main] Cart strategy: %s", cfg.CartStrategy)
	log.Printf("[Main] Shipment shards: %d, sweep every %s", cfg.ShipmentShards, cfg.SweepInterval)

	stateStore, cleanup := buildStateStore(ctx, cfg)
	defer cleanup()

	auditLog := buildAuditLog(cfg)

	var replicaCache cache.ReplicaCache
	var stream bus.Bus
	switch cfg.CartStrategy {
	case config.StrategyEventual:
		stream = buildBus(ctx, cfg)
	default:
		replicaCache = buildCache(cfg)
	}

	app := wireActors(cfg, stateStore, auditLog, replicaCache, stream)

	ticker := time.NewTicker(cfg.SweepInterval)
	defer ticker.Stop()
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := app.Shipments.RunDeliverySweep(ctx, uuid.New().String()); err != nil {
					log.Printf("[Main] Delivery sweep failed: %v", err)
				}
			}
		}
	}()

	log.Println("[Main] Running; press Ctrl+C to stop")
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Println("[Main] Shutting down")
	cancel()
}

// App groups the wired actors so callers can reach any entry point.
type App struct {
	Stock     *stock.Actor
	Products  *product.Actor
	Customers *customer.Actor
	Sellers   seller.Actor
	Orders    *order.Actor
	Payments  *payment.Actor
	Shipments *shipment.Actor
	Carts     *cart.Actor
}

// wireActors builds the actors leaves first: stock, product and customer
// before cart and seller, before order and payment, before shipment.
func wireActors(cfg config.Config, stateStore store.StateStore, auditLog audit.Logger, replicaCache cache.ReplicaCache, stream bus.Bus) *App {
	stockActor := stock.NewActor(stateStore)
	productActor := product.NewActor(stateStore, stockActor, replicaWriter(replicaCache), stream)
	customerActor := customer.NewActor(stateStore)
	sellerActor := buildSeller(cfg, stateStore, auditLog)

	shipmentActor := shipment.NewActor(stateStore, auditLog, nil, sellerActor, customerActor, cfg.ShipmentShards, cfg.SweepBatchSize)
	paymentActor := payment.NewActor(stateStore, auditLog, stockActor, sellerActor, customerActor, nil, shipmentActor, payment.ApprovingGateway{})
	orderActor := order.NewActor(stateStore, auditLog, stockActor, sellerActor, paymentActor)

	// The payment and shipment actors notify the order actor, which sits
	// above them in construction order; close the loop through setters.
	paymentActor.SetOrderNotifier(orderActor)
	shipmentActor.SetOrderNotifier(orderActor)

	var pricer cart.Pricer
	switch cfg.CartStrategy {
	case config.StrategyEventual:
		pricer = cart.NewEventualPricer(stream)
	default:
		pricer = cart.NewCausalPricer(replicaCache)
	}

	return &App{
		Stock:     stockActor,
		Products:  productActor,
		Customers: customerActor,
		Sellers:   sellerActor,
		Orders:    orderActor,
		Payments:  paymentActor,
		Shipments: shipmentActor,
		Carts:     cart.NewActor(stateStore, orderActor, pricer),
	}
}

func buildStateStore(ctx context.Context, cfg config.Config) (store.StateStore, func()) {
	switch cfg.StateBackend {
	case config.BackendPostgres:
		db, err := store.ConnectPostgres(cfg.PostgresDSN)
		if err != nil {
			log.Fatalf("[Main] Failed to connect to PostgreSQL: %v", err)
		}
		st, err := store.NewPostgresStateStore(db)
		if err != nil {
			log.Fatalf("[Main] Failed to init state store: %v", err)
		}
		return st, func() { db.Close() }
	case config.BackendDynamo:
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			log.Fatalf("[Main] Failed to load AWS config: %v", err)
		}
		client := dynamodb.NewFromConfig(awsCfg)
		return store.NewDynamoStateStore(client, cfg.DynamoTable), func() {}
	default:
		return store.NewMemoryStateStore(), func() {}
	}
}

func buildAuditLog(cfg config.Config) audit.Logger {
	if cfg.AuditBackend == config.BackendKafka {
		return audit.NewKafkaLogger(cfg.KafkaBrokers, cfg.AuditTopic)
	}
	return audit.NewStdLogger()
}

func buildCache(cfg config.Config) cache.ReplicaCache {
	if cfg.CacheBackend == config.BackendRedis {
		return cache.NewRedisCache(cache.NewRedisClient(cfg.RedisAddr))
	}
	return cache.NewMemoryCache()
}

func buildBus(ctx context.Context, cfg config.Config) bus.Bus {
	if cfg.BusBackend == config.BackendKafka {
		kb := bus.NewKafkaBus(cfg.KafkaBrokers, cfg.ProductUpdateTopic, cfg.ConsumerGroup)
		go func() {
			if err := kb.Run(ctx); err != nil && ctx.Err() == nil {
				log.Printf("[Main] Bus consumer stopped: %v", err)
			}
		}()
		return kb
	}
	return bus.NewMemoryBus()
}

func buildSeller(cfg config.Config, stateStore store.StateStore, auditLog audit.Logger) seller.Actor {
	if cfg.StateBackend == config.BackendPostgres {
		db, err := store.ConnectPostgres(cfg.PostgresDSN)
		if err != nil {
			log.Fatalf("[Main] Failed to connect seller view: %v", err)
		}
		view, err := seller.NewView(db, auditLog)
		if err != nil {
			log.Fatalf("[Main] Failed to init seller view: %v", err)
		}
		return view
	}
	return seller.NewTally(stateStore, auditLog)
}

// replicaWriter adapts an optional cache into the product actor's
// replicator; nil stays nil so the causal leg is skipped entirely.
func replicaWriter(c cache.ReplicaCache) product.Replicator {
	if c == nil {
		return nil
	}
	return c
}

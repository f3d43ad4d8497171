// Package app wires the checkout service together: storage, domain
// services, HTTP transport, background workers, and graceful shutdown.
package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/checkout-core/internal/domain/inventory"
	"github.com/xenking/checkout-core/internal/domain/order"
	"github.com/xenking/checkout-core/internal/domain/payment"
	"github.com/xenking/checkout-core/internal/events"
	"github.com/xenking/checkout-core/internal/gateway"
	"github.com/xenking/checkout-core/internal/handler"
	"github.com/xenking/checkout-core/internal/storage/postgres"
	redisstore "github.com/xenking/checkout-core/internal/storage/redis"
	"github.com/xenking/checkout-core/pkg/health"
	"github.com/xenking/checkout-core/pkg/httpmiddleware"
)

// publisher is the union of the per-domain event publisher interfaces, so
// one implementation serves both services.
type publisher interface {
	order.EventPublisher
	payment.EventPublisher
}

// Run creates all dependencies, starts the HTTP server and background
// workers, and handles graceful shutdown. It is the single wiring point for
// the application.
func Run(ctx context.Context, lg *zap.Logger, _ *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing", zap.String("addr", cfg.Addr))

	// PostgreSQL pool + migrations.
	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return errors.Wrap(err, "create db pool")
	}
	defer pool.Close()

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	// Redis cart store.
	rdb := redisstore.New(cfg.RedisAddr)
	defer func() {
		_ = rdb.Close()
	}()

	// Health check service.
	healthSvc := health.New()
	healthSvc.AddReadinessCheck("postgres", 5*time.Second, func(ctx context.Context) error {
		return pool.Ping(ctx)
	})
	healthSvc.AddReadinessCheck("redis", 5*time.Second, func(ctx context.Context) error {
		return rdb.Ping(ctx).Err()
	})
	healthSvc.AddLivenessCheck("goroutines", time.Second, health.GoroutineCountCheck(10000))
	healthSvc.Start(ctx, 10*time.Second)
	healthSvc.SetReady(true)

	// Repositories share one DB so a service-level transaction covers all
	// of them.
	db := postgres.NewDB(pool)
	productRepo := postgres.NewProductRepository(db)
	inventoryRepo := postgres.NewInventoryRepository(db)
	orderRepo := postgres.NewOrderRepository(db)
	paymentRepo := postgres.NewPaymentRepository(db)
	carts := redisstore.NewCartStore(rdb)

	// Lifecycle events go to Kafka when brokers are configured and are
	// dropped otherwise.
	var (
		pub           publisher = events.Nop{}
		kafkaProducer *events.KafkaPublisher
	)
	if len(cfg.KafkaBrokers) > 0 {
		kafkaProducer = events.NewKafkaPublisher(cfg.KafkaBrokers, lg)
		pub = kafkaProducer
	}

	pricing, err := loadPricing(cfg.Pricing)
	if err != nil {
		return err
	}

	// Domain services.
	ledger := inventory.NewLedger(inventoryRepo, db)
	orderService := order.NewService(carts, productRepo, ledger, orderRepo, paymentRepo, db, pub, pricing)

	gatewayClient := gateway.NewClient(cfg.Gateway.BaseURL, cfg.Gateway.KeyID, cfg.Gateway.KeySecret)
	signer := gateway.NewSigner(cfg.Gateway.KeySecret)
	paymentService := payment.NewService(
		paymentRepo, orderRepo, orderService, ledger,
		gatewayClient, signer, db, pub,
		payment.Config{KeyID: cfg.Gateway.KeyID, Currency: cfg.Gateway.Currency},
	)

	sweeper := order.NewSweeper(orderService, cfg.Checkout.PendingTTL, cfg.Checkout.SweepInterval)

	// HTTP transport: health endpoints + API routes on one server.
	h := handler.New(carts, productRepo, orderService, paymentService, ledger)

	mux := http.NewServeMux()
	mux.HandleFunc("/livez", healthSvc.LiveEndpoint)
	mux.HandleFunc("/readyz", healthSvc.ReadyEndpoint)
	mux.Handle("/api/", http.StripPrefix("/api", h.Routes()))

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler: httpmiddleware.Wrap(mux,
			httpmiddleware.Recovery(),
			httpmiddleware.CORS(httpmiddleware.CORSConfig{
				AllowOrigins:     cfg.CORS.Origins,
				AllowHeaders:     []string{"Content-Type", "X-User-ID"},
				AllowCredentials: cfg.CORS.AllowCredentials,
				MaxAge:           86400,
			}),
			httpmiddleware.RateLimitWithCleanup(ctx, httpmiddleware.RateLimitConfig{
				Max:    cfg.RateLimit.Max,
				Window: cfg.RateLimit.Window,
			}),
			httpmiddleware.RequestID(),
			httpmiddleware.InjectLogger(zctx.From(ctx)),
			httpmiddleware.LogRequests(),
		),
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "server")
		}
		return nil
	})
	g.Go(func() error {
		return sweeper.Run(ctx)
	})
	if kafkaProducer != nil {
		g.Go(func() error {
			return kafkaProducer.Run(ctx)
		})
	}

	// Graceful shutdown: wait for context cancellation, drain, then stop.
	g.Go(func() error {
		<-ctx.Done()
		healthSvc.SetReady(false)
		lg.Info("Readiness set to false, draining", zap.Duration("delay", cfg.Graceful.ReadinessDelay))
		time.Sleep(cfg.Graceful.ReadinessDelay)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Graceful.ShutdownTimeout)
		defer cancel()

		lg.Info("Shutting down server", zap.Duration("timeout", cfg.Graceful.ShutdownTimeout))
		if err := server.Shutdown(shutdownCtx); err != nil {
			lg.Error("Server shutdown error", zap.Error(err))
		}
		if kafkaProducer != nil {
			kafkaProducer.WaitClosed()
		}
		healthSvc.Stop()
		return nil
	})

	lg.Info("Server listening", zap.String("addr", cfg.Addr))
	return g.Wait()
}

func loadPricing(cfg PricingConfig) (order.Pricing, error) {
	taxRate, err := decimal.NewFromString(cfg.TaxRate)
	if err != nil {
		return order.Pricing{}, errors.Wrap(err, "parse tax rate")
	}
	discountRate, err := decimal.NewFromString(cfg.DiscountRate)
	if err != nil {
		return order.Pricing{}, errors.Wrap(err, "parse discount rate")
	}
	return order.Pricing{TaxRate: taxRate, DiscountRate: discountRate}, nil
}

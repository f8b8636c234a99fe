package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/vasiliy-maslov/marketplace/internal/auth"
	"github.com/vasiliy-maslov/marketplace/internal/cart"
	"github.com/vasiliy-maslov/marketplace/internal/catalog"
	"github.com/vasiliy-maslov/marketplace/internal/config"
	"github.com/vasiliy-maslov/marketplace/internal/db"
	"github.com/vasiliy-maslov/marketplace/internal/events"
	orderHttp "github.com/vasiliy-maslov/marketplace/internal/handler/http"
	"github.com/vasiliy-maslov/marketplace/internal/idempotency"
	"github.com/vasiliy-maslov/marketplace/internal/logger"
	"github.com/vasiliy-maslov/marketplace/internal/order"
	"github.com/vasiliy-maslov/marketplace/internal/payment"
	"github.com/vasiliy-maslov/marketplace/internal/payment/paystack"
	"github.com/vasiliy-maslov/marketplace/internal/stock"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load config")
	}

	logger.Setup(cfg.Log, "order-service")
	log.Info().Msg("Starting order-service...")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pg, err := db.New(ctx, cfg.Postgres)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer pg.Close()

	if err := pg.ApplyMigrations(); err != nil {
		log.Fatal().Err(err).Msg("Failed to apply migrations")
	}

	tokens, err := auth.NewManager(cfg.Auth.JWTSecret)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create token manager")
	}

	idem, err := idempotency.Open(cfg.Idempotency.Dir)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open idempotency store")
	}
	defer func() {
		if err := idem.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close idempotency store")
		}
	}()

	publisher := newPublisher(cfg.NATS)
	if closer, ok := publisher.(interface{ Close() }); ok {
		defer closer.Close()
	}

	txManager := db.NewTxManager(pg.Pool)
	sqlxDB := pg.SQLX()
	defer sqlxDB.Close()

	orderSvc := order.NewOrderService(order.Deps{
		Repo:      order.NewRepository(pg.Pool),
		Queries:   order.NewQueryRepository(sqlxDB),
		Tx:        txManager,
		Carts:     cart.NewResolver(cart.NewStore(pg.Pool)),
		Catalog:   catalog.NewReader(pg.Pool),
		Stock:     stock.NewLedger(pg.Pool),
		Shipping:  order.ShippingPolicy{FreeThreshold: cfg.Shipping.FreeThreshold, FlatFee: cfg.Shipping.FlatFee},
		Numbers:   order.TimestampNumbers{},
		Publisher: publisher,
	})

	paymentRepo := payment.NewRepository(pg.Pool)
	settler := payment.NewSettler(paymentRepo, orderSvc, txManager, publisher)
	gateway := paystack.NewClient(paystack.Config{
		BaseURL:           cfg.Payment.BaseURL,
		SecretKey:         cfg.Payment.SecretKey,
		Timeout:           cfg.Payment.Timeout,
		RequestsPerSecond: cfg.Payment.RequestsPerSecond,
	})
	paymentSvc := payment.NewPaymentService(paymentRepo, orderSvc, gateway, settler, payment.Config{
		Provider:    cfg.Payment.Provider,
		Currency:    cfg.Payment.Currency,
		CallbackURL: cfg.Payment.CallbackURL,
	})
	reconciler := payment.NewReconciler(cfg.Payment.SecretKey, paymentRepo, settler)

	router := orderHttp.Router{
		Orders:       orderHttp.NewOrderHandler(orderSvc, idem, cfg.Idempotency.TTL),
		Payments:     orderHttp.NewPaymentHandler(paymentSvc),
		Webhook:      orderHttp.NewWebhookHandler(reconciler, cfg.Payment.SignatureHeader, cfg.Payment.WebhookBodyMaxSize),
		Authenticate: tokens.Middleware,
		Ping:         pg.Ping,
		Config: orderHttp.RouterConfig{
			CORSOrigins:      cfg.App.CORSOrigins,
			RateLimitEnabled: cfg.App.RateLimitEnabled,
			RateLimitReqs:    cfg.App.RateLimitReqs,
			RateLimitWindow:  cfg.App.RateLimitWindow,
		},
	}

	server := &http.Server{
		Addr:         ":" + cfg.App.Port,
		Handler:      router.Handler(),
		ReadTimeout:  cfg.App.ReadTimeout,
		WriteTimeout: cfg.App.WriteTimeout,
		IdleTimeout:  cfg.App.IdleTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info().Str("port", cfg.App.Port).Msg("Starting HTTP server")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("Shutting down server...")
	case err := <-serverErr:
		log.Error().Err(err).Str("port", cfg.App.Port).Msg("HTTP server failed")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout(cfg.App.ShutdownTimeout))
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server shutdown failed")
		return
	}

	log.Info().Msg("Order-service stopped gracefully.")
}

func newPublisher(cfg config.NATSConfig) events.Publisher {
	if cfg.URL == "" {
		log.Info().Msg("NATS URL not set, events will only be logged")
		return events.LogPublisher{}
	}

	publisher, err := events.NewNATSPublisher(cfg.URL, cfg.SubjectPrefix)
	if err != nil {
		log.Error().Err(err).Str("url", cfg.URL).Msg("Failed to connect to NATS, events will only be logged")
		return events.LogPublisher{}
	}
	return publisher
}

func shutdownTimeout(d time.Duration) time.Duration {
	if d <= 0 {
		return 15 * time.Second
	}
	return d
}

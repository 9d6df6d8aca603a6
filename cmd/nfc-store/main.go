package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/vasiliy-maslov/nfc-card-store/internal/auth"
	"github.com/vasiliy-maslov/nfc-card-store/internal/catalog"
	"github.com/vasiliy-maslov/nfc-card-store/internal/config"
	"github.com/vasiliy-maslov/nfc-card-store/internal/db"
	handler "github.com/vasiliy-maslov/nfc-card-store/internal/handler/http"
	"github.com/vasiliy-maslov/nfc-card-store/internal/invoice"
	"github.com/vasiliy-maslov/nfc-card-store/internal/order"
	"github.com/vasiliy-maslov/nfc-card-store/internal/payment"
	"github.com/vasiliy-maslov/nfc-card-store/internal/storage"
	"github.com/vasiliy-maslov/nfc-card-store/internal/user"
)

func main() {
	cfg, err := config.NewConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load config")
	}

	if cfg.IsProduction() {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
	log.Logger = log.With().Str("service", cfg.App.Name).Logger()

	log.Info().Str("env", cfg.App.Env).Msg("NFC store starting...")

	startupCtx, cancelStartup := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelStartup()

	postgres, err := db.New(startupCtx, cfg.Postgres)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}

	if err := postgres.ApplyMigrations(cfg.Postgres); err != nil {
		postgres.Close()
		log.Fatal().Err(err).Msg("Failed to apply migrations")
	}

	logos, err := storage.NewLogoStore(cfg.Storage)
	if err != nil {
		postgres.Close()
		log.Fatal().Err(err).Msg("Failed to configure logo storage")
	}
	if err := logos.EnsureBucket(startupCtx); err != nil {
		log.Error().Err(err).Msg("Logo bucket is not ready, uploads may fail")
	}

	shop := catalog.New(cfg.Stripe.PriceIDs)
	for _, p := range shop.Products() {
		if _, err := shop.PriceRef(p); err != nil {
			log.Warn().Str("product_id", p.ID).Msg("No payment price configured, product cannot be sold")
		}
	}
	if cfg.App.BaseURL == "" {
		log.Warn().Msg("APP_BASE_URL is not set, checkout is disabled")
	}

	orderRepo := order.NewRepository(postgres.Pool)
	retryRepo := order.NewRetryRepository(postgres.Pool)
	orderService := order.NewService(order.Deps{
		Repo:     orderRepo,
		Retries:  retryRepo,
		Payments: payment.NewStripeGateway(cfg.Stripe),
		Catalog:  shop,
		BaseURL:  cfg.App.BaseURL,
		Retry:    order.NewRetryPolicy(cfg.Reconcile),
	})

	userService := user.NewService(user.NewRepository(postgres.Pool))
	if cfg.Auth.BootstrapLogin != "" && cfg.Auth.BootstrapPassword != "" {
		err := userService.EnsureSuperAdmin(startupCtx, cfg.Auth.BootstrapLogin, cfg.Auth.BootstrapPassword, cfg.Auth.BootstrapName)
		if err != nil {
			log.Error().Err(err).Str("login", cfg.Auth.BootstrapLogin).Msg("Failed to bootstrap super administrator")
		}
	}

	tokens := auth.NewTokenManager(cfg.Auth)
	tokens.ResolveRolesWith(userService)

	router := handler.NewRouter(handler.RouterDeps{
		Store:       handler.NewStoreHandler(orderService, shop, invoice.NewRenderer(shop, cfg.App.ShopName, cfg.App.SupportEmail)),
		Uploads:     handler.NewUploadHandler(logos),
		Auth:        handler.NewAuthHandler(userService, tokens, cfg.Auth.SecureCookie),
		AdminOrders: handler.NewAdminOrderHandler(orderService),
		Users:       handler.NewUserHandler(userService),
		Tokens:      tokens,
		Ping:        postgres.Pool.Ping,
	})

	workerCtx, stopWorker := context.WithCancel(context.Background())
	workerDone := make(chan struct{})
	go func() {
		defer close(workerDone)
		order.NewRetryWorker(retryRepo, orderService, cfg.Reconcile).Run(workerCtx)
	}()

	server := &http.Server{
		Addr:         ":" + cfg.App.Port,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Info().Str("port", cfg.App.Port).Msg("Starting HTTP server")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Server failed")
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	log.Info().Str("signal", sig.String()).Msg("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server shutdown failed")
	}

	stopWorker()
	select {
	case <-workerDone:
	case <-shutdownCtx.Done():
		log.Warn().Msg("Retry worker did not stop in time")
	}

	postgres.Close()
	log.Info().Msg("Server stopped")
}

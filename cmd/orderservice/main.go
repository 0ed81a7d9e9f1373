package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	trmsql "github.com/avito-tech/go-transaction-manager/drivers/sql/v2"
	trmcontext "github.com/avito-tech/go-transaction-manager/trm/v2/context"
	"github.com/avito-tech/go-transaction-manager/trm/v2/manager"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/mikaelchan95/easiapp-order-service/internal/catalog"
	"github.com/mikaelchan95/easiapp-order-service/internal/config"
	"github.com/mikaelchan95/easiapp-order-service/internal/fulfillment"
	"github.com/mikaelchan95/easiapp-order-service/internal/ledger"
	"github.com/mikaelchan95/easiapp-order-service/internal/middleware"
	"github.com/mikaelchan95/easiapp-order-service/internal/notifier"
	"github.com/mikaelchan95/easiapp-order-service/internal/order"
	"github.com/mikaelchan95/easiapp-order-service/internal/payment"
	"github.com/mikaelchan95/easiapp-order-service/internal/storage/postgres"
	"github.com/mikaelchan95/easiapp-order-service/pkg/accesslog"
	"github.com/mikaelchan95/easiapp-order-service/pkg/logger"
	"github.com/mikaelchan95/easiapp-order-service/pkg/metrics"
	"github.com/mikaelchan95/easiapp-order-service/pkg/unzip"
	"github.com/nanmu42/gzip"
)

// Version indicates the current version of the application.
var Version = "1.0.0"

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	// Server run context.
	serverCtx, serverStopCtx := context.WithCancel(context.Background())
	defer serverStopCtx()

	// Load application configurations.
	cfg := config.MustLoad()

	// Create root logger tagged with server version.
	logger := logger.New(cfg).With(serverCtx, "version", Version)

	// Connect, log every query, migrate.
	db, err := postgres.Connect(serverCtx, cfg, logger)
	if err != nil {
		return err
	}

	// Close connection.
	defer func() {
		if err = db.Close(); err != nil {
			logger.Error(err)
		}
		_ = logger.Sync()
	}()

	// Create default transaction manager for database/sql package.
	trManager := manager.Must(
		trmsql.NewDefaultFactory(db),
		manager.WithCtxManager(trmcontext.DefaultManager),
	)

	// Pipeline metrics.
	pipelineMetrics := metrics.New("orders")

	// Change notifier for order and ledger mutations.
	changes, err := notifier.New(notifier.DefaultQueueSize, logger, pipelineMetrics)
	if err != nil {
		return fmt.Errorf("failed to init change notifier: %w", err)
	}

	// Init repositories.
	orderRepo, err := order.NewRepository(db, trmsql.DefaultCtxGetter, logger)
	if err != nil {
		return fmt.Errorf("failed to init order repository: %w", err)
	}

	ledgerRepo, err := ledger.NewRepository(db, trmsql.DefaultCtxGetter, logger)
	if err != nil {
		return fmt.Errorf("failed to init ledger repository: %w", err)
	}

	catalogRepo, err := catalog.NewRepository(db, trmsql.DefaultCtxGetter, logger)
	if err != nil {
		return fmt.Errorf("failed to init catalog repository: %w", err)
	}

	// Pick the payment adapter: the HTTP gateway when configured,
	// the simulated one otherwise.
	var payments payment.Adapter
	if cfg.Payment.GatewayAddr != "" {
		payments, err = payment.NewGateway(cfg, logger)
		if err != nil {
			return fmt.Errorf("failed to init payment gateway: %w", err)
		}
	} else {
		payments = payment.NewSimulated(logger, 500*time.Millisecond)
	}

	// Init order orchestrator.
	orderService, err := order.NewService(orderRepo, catalogRepo, ledgerRepo,
		payments, changes, trManager, logger, pipelineMetrics, cfg)
	if err != nil {
		return fmt.Errorf("failed to init order service: %w", err)
	}

	// Init and start the fulfillment scheduler.
	scheduler, err := fulfillment.NewScheduler(orderService, orderRepo, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to init fulfillment scheduler: %w", err)
	}
	scheduler.Run()
	defer scheduler.Stop()

	// Create root router.
	router := initRootRouter(logger)

	// Init handlers for order routes.
	order.HandlerWithOptions(orderService, order.ChiServerOptions{
		BaseURL:    "/api",
		BaseRouter: router,
		Middlewares: []order.MiddlewareFunc{
			middleware.Principal(cfg.JWT.SigningKey),
		},
		ErrorHandlerFunc: order.ErrorHandlerFunc,
	})

	router.Handle("/metrics", metrics.Handler())

	// Build HTTP server.
	hs := &http.Server{
		Addr:              cfg.HTTPServer.Address,
		ReadHeaderTimeout: cfg.HTTPServer.Timeout,
		IdleTimeout:       cfg.HTTPServer.IdleTimeout,
		Handler:           router,
	}

	// Graceful shutdown.
	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGHUP, syscall.SIGINT,
			syscall.SIGTERM, syscall.SIGQUIT, os.Interrupt)

		signal := <-sig

		logger.With(serverCtx, "signal", signal.String()).
			Infof("Shutting down server with %s timeout",
				cfg.HTTPServer.ShutdownTimeout)

		if err = hs.Shutdown(serverCtx); err != nil {
			logger.Errorf("graceful shutdown failed: %s", err)
		}
		serverStopCtx()
	}()

	// Start the HTTP server with graceful shutdown.
	logger.Infof("Server %v is running at %v", Version, cfg.HTTPServer.Address)
	if err = hs.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("run server failed: %w", err)
	}

	// Wait for server context to be stopped or force exit if timeout exceeded.
	select {
	case <-serverCtx.Done():
	case <-time.After(cfg.HTTPServer.ShutdownTimeout):
		return errors.New("graceful shutdown timed out.. forcing exit")
	}

	return nil
}

func initRootRouter(logger logger.Logger) *chi.Mux {
	router := chi.NewRouter()
	router.Use(accesslog.Handler(logger))
	router.Use(chimiddleware.Recoverer)
	router.Use(gzip.DefaultHandler().WrapHandler)
	router.Use(unzip.Middleware(logger))

	return router
}

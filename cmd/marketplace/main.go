package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/feral-file/ff-marketplace/internal/adapter"
	"github.com/feral-file/ff-marketplace/internal/api/middleware"
	"github.com/feral-file/ff-marketplace/internal/api/rest"
	"github.com/feral-file/ff-marketplace/internal/api/server"
	"github.com/feral-file/ff-marketplace/internal/config"
	"github.com/feral-file/ff-marketplace/internal/domain"
	"github.com/feral-file/ff-marketplace/internal/ledger"
	"github.com/feral-file/ff-marketplace/internal/logger"
	"github.com/feral-file/ff-marketplace/internal/messaging"
	"github.com/feral-file/ff-marketplace/internal/payment"
	"github.com/feral-file/ff-marketplace/internal/projection"
	"github.com/feral-file/ff-marketplace/internal/providers/jetstream"
	"github.com/feral-file/ff-marketplace/internal/ratelimit"
	"github.com/feral-file/ff-marketplace/internal/refresh"
	"github.com/feral-file/ff-marketplace/internal/resolver"
	"github.com/feral-file/ff-marketplace/internal/store"
	"github.com/feral-file/ff-marketplace/internal/upload"
	"github.com/feral-file/ff-marketplace/internal/view"
)

var (
	configFile = flag.String("config", "", "Path to configuration file")
	envPath    = flag.String("env", "config/", "Path to environment files")
)

func main() {
	flag.Parse()

	// Load configuration
	config.ChdirRepoRoot()
	cfg, err := config.LoadMarketplaceConfig(*configFile, *envPath)
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize logger with sentry integration
	err = logger.Initialize(logger.Config{
		Debug:           cfg.Debug,
		SentryDSN:       cfg.SentryDSN,
		BreadcrumbLevel: zapcore.InfoLevel,
		Tags: map[string]string{
			"service": "marketplace",
		},
	})
	if err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}
	defer logger.Flush(2 * time.Second)
	logger.InfoCtx(ctx, "Starting Feral File Marketplace")

	// Initialize adapters
	clockAdapter := adapter.NewClock()
	jsonAdapter := adapter.NewJSON()

	// The journal is optional; without it the ledger lives in memory only
	var (
		journal ledger.Journal
		events  rest.EventReader
	)
	if cfg.Database.Enabled() {
		db, err := gorm.Open(postgres.Open(cfg.Database.DSN()), &gorm.Config{})
		if err != nil {
			logger.FatalCtx(ctx, "Failed to connect to database", zap.Error(err))
		}
		if err := store.ConfigureConnectionPool(db, cfg.Database.MaxOpenConns, cfg.Database.MaxIdleConns, cfg.Database.ConnMaxLifetime, cfg.Database.ConnMaxIdleTime); err != nil {
			logger.FatalCtx(ctx, "Failed to configure connection pool", zap.Error(err))
		}
		dataStore := store.NewPGStore(db)
		journal = dataStore
		events = dataStore
		logger.InfoCtx(ctx, "Connected to database",
			zap.Int("max_open_conns", cfg.Database.MaxOpenConns),
			zap.Int("max_idle_conns", cfg.Database.MaxIdleConns))
	} else {
		logger.WarnCtx(ctx, "Database not configured, ledger state will not survive a restart")
	}

	// Committed transitions go to the in-process bus and, when configured, to JetStream
	bus := messaging.NewBus(256)
	defer bus.Close()
	publishers := messaging.MultiPublisher{bus}
	if cfg.NATS.Enabled() {
		natsPublisher, err := jetstream.NewPublisher(ctx, jetstream.Config{
			URL:            cfg.NATS.URL,
			StreamName:     cfg.NATS.StreamName,
			MaxReconnects:  cfg.NATS.MaxReconnects,
			ReconnectWait:  cfg.NATS.ReconnectWait,
			ConnectionName: cfg.NATS.ConnectionName,
		}, adapter.NewNatsJetStream(), jsonAdapter)
		if err != nil {
			logger.FatalCtx(ctx, "Failed to create NATS publisher", zap.Error(err), zap.String("url", cfg.NATS.URL))
		}
		defer natsPublisher.Close()
		publishers = append(publishers, natsPublisher)
		logger.InfoCtx(ctx, "Connected to NATS JetStream")
	}

	proceeds := payment.NewBook()
	marketLedger := ledger.NewLedger(ledger.Config{ChainID: domain.ChainLocal}, proceeds, journal, publishers, clockAdapter)
	if journal != nil {
		if err := marketLedger.Restore(ctx); err != nil {
			logger.FatalCtx(ctx, "Failed to restore ledger", zap.Error(err))
		}
	}

	contentResolver := resolver.NewResolver(
		ratelimit.NewHTTPClient(adapter.NewHTTPClient(cfg.URI.FetchTimeout), cfg.URI.RateLimit),
		jsonAdapter,
		adapter.NewBase64(),
		resolver.Config{
			IPFSGateways:    cfg.URI.IPFSGateways,
			ArweaveGateways: cfg.URI.ArweaveGateways,
		})

	materializer := view.NewMaterializer(view.Config{
		PoolSize:     cfg.Materializer.PoolSize,
		QueueSize:    cfg.Materializer.QueueSize,
		TokenTimeout: cfg.Materializer.TokenTimeout,
		PassTimeout:  cfg.Materializer.PassTimeout,
	}, marketLedger, contentResolver, clockAdapter)
	defer materializer.Close()

	coordinator := refresh.NewCoordinator(refresh.Config{AbortStale: cfg.Refresh.AbortStale}, materializer)
	defer coordinator.Close()

	gallery := projection.NewGallery(projection.Filter{})
	gallery.Attach(coordinator)

	// Follow ledger changes, then build the first view
	go func() {
		if err := coordinator.Run(ctx, bus, 0); err != nil {
			logger.ErrorCtx(ctx, err, zap.String("component", "coordinator"))
		}
	}()
	coordinator.Notify(refresh.TriggerStartup)

	services := rest.Services{
		Reader:      marketLedger,
		Ledger:      marketLedger,
		Gallery:     gallery,
		Coordinator: coordinator,
		Events:      events,
		Proceeds:    proceeds,
	}
	if cfg.Pinata.Enabled() {
		services.Uploader = upload.NewPinataUploader(
			adapter.NewHTTPClient(cfg.Pinata.Timeout),
			jsonAdapter,
			adapter.NewJCS(),
			upload.Config{
				APIURL:       cfg.Pinata.APIURL,
				APIKey:       cfg.Pinata.APIKey,
				APISecret:    cfg.Pinata.APISecret,
				MaxImageSize: cfg.Pinata.MaxImageSize,
			})
	} else {
		logger.WarnCtx(ctx, "Pinata credentials not configured, uploads are disabled")
	}

	srv := server.New(server.Config{
		Debug:         cfg.Debug,
		Host:          cfg.Server.Host,
		Port:          cfg.Server.Port,
		ReadTimeout:   time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout:  time.Duration(cfg.Server.WriteTimeout) * time.Second,
		IdleTimeout:   time.Duration(cfg.Server.IdleTimeout) * time.Second,
		MaxUploadSize: cfg.Pinata.MaxImageSize,
		Auth:          middleware.AuthConfig{JWTPublicKey: cfg.Auth.JWTPublicKey},
	}, services)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		logger.InfoCtx(ctx, "Received shutdown signal", zap.String("signal", sig.String()))
		cancel()
	case err := <-errCh:
		logger.ErrorCtx(ctx, err, zap.String("component", "server"))
		cancel()
	}

	// Create shutdown context with timeout (don't use canceled ctx)
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.ErrorCtx(shutdownCtx, err, zap.String("component", "server"))
	}

	// Use non-context logger for final message since ctx is canceled
	logger.Info("Marketplace stopped")
}

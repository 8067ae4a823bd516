package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/feral-file/ff-marketplace/internal/adapter"
	"github.com/feral-file/ff-marketplace/internal/api/middleware"
	"github.com/feral-file/ff-marketplace/internal/api/rest"
	"github.com/feral-file/ff-marketplace/internal/api/server"
	"github.com/feral-file/ff-marketplace/internal/block"
	"github.com/feral-file/ff-marketplace/internal/config"
	"github.com/feral-file/ff-marketplace/internal/logger"
	"github.com/feral-file/ff-marketplace/internal/messaging"
	"github.com/feral-file/ff-marketplace/internal/projection"
	"github.com/feral-file/ff-marketplace/internal/providers/ethereum"
	"github.com/feral-file/ff-marketplace/internal/providers/jetstream"
	"github.com/feral-file/ff-marketplace/internal/ratelimit"
	"github.com/feral-file/ff-marketplace/internal/refresh"
	"github.com/feral-file/ff-marketplace/internal/resolver"
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
	cfg, err := config.LoadSyncerConfig(*configFile, *envPath)
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
			"service": "syncer",
		},
	})
	if err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}
	defer logger.Flush(2 * time.Second)
	logger.InfoCtx(ctx, "Starting Marketplace Syncer",
		zap.String("chain", string(cfg.Ethereum.ChainID)),
		zap.String("contract", cfg.Ethereum.ContractAddress))

	// Initialize adapters
	clockAdapter := adapter.NewClock()
	jsonAdapter := adapter.NewJSON()

	// Contract reads go over RPC; without a NATS stream the websocket also carries the logs
	rpcURL := cfg.Ethereum.RPCURL
	if rpcURL == "" || !cfg.NATS.Enabled() {
		rpcURL = cfg.Ethereum.WebSocketURL
	}
	ethClient, err := adapter.NewEthClientDialer().Dial(ctx, rpcURL)
	if err != nil {
		logger.FatalCtx(ctx, "Failed to dial Ethereum", zap.Error(err))
	}

	blocks := block.NewProvider(ethereum.NewBlockFetcher(ethClient), block.Config{HeadTTL: cfg.Ethereum.BlockHeadTTL}, clockAdapter)
	contract, err := ethereum.NewContract(ethereum.Config{
		ChainID:         cfg.Ethereum.ChainID,
		ContractAddress: cfg.Ethereum.ContractAddress,
	}, ethClient, blocks)
	if err != nil {
		logger.FatalCtx(ctx, "Failed to bind marketplace contract", zap.Error(err))
	}

	// Change notifications come from the emitter's stream when configured, else straight from the chain
	var subscriber messaging.Subscriber
	if cfg.NATS.Enabled() {
		subscriber, err = jetstream.NewSubscriber(ctx, jetstream.Config{
			URL:            cfg.NATS.URL,
			StreamName:     cfg.NATS.StreamName,
			ConsumerName:   cfg.NATS.ConsumerName,
			MaxReconnects:  cfg.NATS.MaxReconnects,
			ReconnectWait:  cfg.NATS.ReconnectWait,
			ConnectionName: cfg.NATS.ConnectionName,
			AckWait:        cfg.NATS.AckWait,
			MaxDeliver:     cfg.NATS.MaxDeliver,
		}, adapter.NewNatsJetStream(), jsonAdapter)
		if err != nil {
			logger.FatalCtx(ctx, "Failed to create NATS subscriber", zap.Error(err), zap.String("url", cfg.NATS.URL))
		}
		defer ethClient.Close()
		logger.InfoCtx(ctx, "Consuming events from NATS JetStream", zap.String("consumer", cfg.NATS.ConsumerName))
	} else {
		subscriber = ethereum.NewSubscriber(ethClient, contract, blocks)
		logger.InfoCtx(ctx, "Subscribing to contract logs over websocket")
	}
	defer subscriber.Close()

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
	}, contract, contentResolver, clockAdapter)
	defer materializer.Close()

	coordinator := refresh.NewCoordinator(refresh.Config{AbortStale: cfg.Refresh.AbortStale}, materializer)
	defer coordinator.Close()

	gallery := projection.NewGallery(projection.Filter{})
	gallery.Attach(coordinator)

	go followChanges(ctx, coordinator, subscriber)
	coordinator.Notify(refresh.TriggerStartup)

	srv := server.New(server.Config{
		Debug:        cfg.Debug,
		Host:         cfg.Server.Host,
		Port:         cfg.Server.Port,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		IdleTimeout:  time.Duration(cfg.Server.IdleTimeout) * time.Second,
		Auth:         middleware.AuthConfig{JWTPublicKey: cfg.Auth.JWTPublicKey},
	}, rest.Services{
		Reader:      contract,
		Gallery:     gallery,
		Coordinator: coordinator,
	})

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

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.ErrorCtx(shutdownCtx, err, zap.String("component", "server"))
	}

	logger.Info("Marketplace Syncer stopped")
}

// followChanges resubscribes with exponential backoff until ctx is done.
// Every resubscription also triggers a pass to cover events missed while down.
func followChanges(ctx context.Context, coordinator refresh.Coordinator, subscriber messaging.Subscriber) {
	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = 0
	b.MaxInterval = time.Minute

	operation := func() error {
		err := coordinator.Run(ctx, subscriber, 0)
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		coordinator.Notify(refresh.TriggerNotification)
		if err == nil {
			err = fmt.Errorf("subscription ended")
		}
		return err
	}

	_ = backoff.RetryNotify(operation, backoff.WithContext(b, ctx), func(err error, next time.Duration) {
		logger.WarnCtx(ctx, "Change subscription failed, retrying",
			zap.Error(err),
			zap.Duration("retryIn", next))
	})
}

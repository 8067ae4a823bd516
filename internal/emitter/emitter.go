package emitter

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/feral-file/ff-marketplace/internal/adapter"
	"github.com/feral-file/ff-marketplace/internal/domain"
	"github.com/feral-file/ff-marketplace/internal/logger"
	"github.com/feral-file/ff-marketplace/internal/messaging"
	"github.com/feral-file/ff-marketplace/internal/store"
)

// Config holds the configuration for the event emitter
type Config struct {
	ChainID         domain.Chain
	StartBlock      uint64
	CursorSaveFreq  uint64        // Save cursor every N blocks
	CursorSaveDelay time.Duration // Or save cursor every N seconds
	RetryInterval   time.Duration // Initial delay before resubscribing
	MaxRetryElapsed time.Duration // Give up resubscribing after this long, 0 retries forever
}

// Emitter forwards contract events to the message broker
type Emitter interface {
	// Run blocks forwarding events until ctx is done or resubscribing is given up
	Run(ctx context.Context) error
	// Close closes the subscriber and the publisher
	Close()
}

type emitter struct {
	subscriber messaging.Subscriber
	publisher  messaging.Publisher
	cursors    store.CursorStore
	config     Config
	clock      adapter.Clock

	// only touched by the subscription goroutine
	lastBlock      uint64
	lastSavedBlock uint64
	lastSaveTime   time.Time
}

// NewEmitter creates a new event emitter
func NewEmitter(
	sub messaging.Subscriber,
	pub messaging.Publisher,
	cursors store.CursorStore,
	cfg Config,
	clock adapter.Clock,
) Emitter {
	if cfg.CursorSaveFreq == 0 {
		cfg.CursorSaveFreq = 100
	}
	if cfg.CursorSaveDelay <= 0 {
		cfg.CursorSaveDelay = 30 * time.Second
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = time.Second
	}
	return &emitter{
		subscriber: sub,
		publisher:  pub,
		cursors:    cursors,
		config:     cfg,
		clock:      clock,
	}
}

func (e *emitter) Run(ctx context.Context) error {
	startBlock, err := e.startBlock(ctx)
	if err != nil {
		return err
	}
	e.lastSaveTime = e.clock.Now()

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = e.config.RetryInterval
	b.MaxInterval = time.Minute
	b.MaxElapsedTime = e.config.MaxRetryElapsed

	operation := func() error {
		from := startBlock
		if e.lastBlock > 0 {
			// events of a partially published block are deduplicated by id downstream
			from = e.lastBlock
		}
		before := e.lastBlock

		err := e.subscribeOnce(ctx, from)
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		if e.lastBlock > before {
			b.Reset()
		}

		logger.WarnCtx(ctx, "Event subscription ended, resubscribing",
			zap.String("chain", string(e.config.ChainID)),
			zap.Uint64("fromBlock", e.lastBlock),
			zap.Error(err))
		return err
	}

	err = backoff.Retry(operation, backoff.WithContext(b, ctx))
	e.flushCursor(context.WithoutCancel(ctx))
	return err
}

// startBlock resolves the first block: configured, then stored cursor, then chain head
func (e *emitter) startBlock(ctx context.Context) (uint64, error) {
	chain := string(e.config.ChainID)

	if e.config.StartBlock > 0 {
		logger.InfoCtx(ctx, "Starting from configured block", zap.String("chain", chain), zap.Uint64("block", e.config.StartBlock))
		return e.config.StartBlock, nil
	}

	lastBlock, err := e.cursors.GetBlockCursor(ctx, chain)
	if err != nil {
		return 0, fmt.Errorf("failed to get block cursor: %w", err)
	}
	if lastBlock > 0 {
		logger.InfoCtx(ctx, "Resuming from last processed block", zap.String("chain", chain), zap.Uint64("block", lastBlock))
		e.lastSavedBlock = lastBlock
		return lastBlock, nil
	}

	latest, err := e.subscriber.GetLatestBlock(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to get latest block number: %w", err)
	}
	logger.InfoCtx(ctx, "Starting from latest block", zap.String("chain", chain), zap.Uint64("block", latest))
	return latest, nil
}

// subscribeOnce runs one subscription; a publish failure cancels it so the
// caller resubscribes from the last published block
func (e *emitter) subscribeOnce(ctx context.Context, fromBlock uint64) error {
	subCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var publishErr error
	handler := func(event *domain.LedgerEvent) error {
		if publishErr != nil {
			return publishErr
		}
		if err := e.publisher.PublishEvent(subCtx, event); err != nil {
			publishErr = fmt.Errorf("failed to publish event %s: %w", event.ID, err)
			cancel()
			return publishErr
		}
		e.advance(subCtx, event.BlockNumber)
		return nil
	}

	err := e.subscriber.SubscribeEvents(subCtx, fromBlock, handler)
	if publishErr != nil {
		return publishErr
	}
	if err == nil {
		err = errors.New("subscription closed")
	}
	return err
}

// advance records a published block and saves the cursor every CursorSaveFreq blocks or CursorSaveDelay
func (e *emitter) advance(ctx context.Context, blockNumber uint64) {
	if blockNumber > e.lastBlock {
		e.lastBlock = blockNumber
	}

	shouldSave := e.lastBlock-e.lastSavedBlock >= e.config.CursorSaveFreq ||
		e.clock.Since(e.lastSaveTime) >= e.config.CursorSaveDelay
	if !shouldSave || e.lastBlock == e.lastSavedBlock {
		return
	}

	if err := e.cursors.SetBlockCursor(ctx, string(e.config.ChainID), e.lastBlock); err != nil {
		logger.ErrorCtx(ctx, err, zap.String("message", "Failed to save block cursor"))
		return
	}
	e.lastSavedBlock = e.lastBlock
	e.lastSaveTime = e.clock.Now()
}

func (e *emitter) flushCursor(ctx context.Context) {
	if e.lastBlock <= e.lastSavedBlock {
		return
	}
	if err := e.cursors.SetBlockCursor(ctx, string(e.config.ChainID), e.lastBlock); err != nil {
		logger.ErrorCtx(ctx, err, zap.String("message", "Failed to flush block cursor"))
		return
	}
	e.lastSavedBlock = e.lastBlock
}

func (e *emitter) Close() {
	e.subscriber.Close()
	e.publisher.Close()
}

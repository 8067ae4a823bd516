package jetstream

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/nats-io/nats.go/jetstream"
	"go.uber.org/zap"

	"github.com/feral-file/ff-marketplace/internal/adapter"
	"github.com/feral-file/ff-marketplace/internal/domain"
	"github.com/feral-file/ff-marketplace/internal/logger"
	"github.com/feral-file/ff-marketplace/internal/messaging"
)

// ErrConsumerClosed is returned when the server side closes the consumer
var ErrConsumerClosed = errors.New("consumer closed")

type subscriber struct {
	nc     adapter.NatsConn
	js     adapter.JetStream
	json   adapter.JSON
	config Config
	latest atomic.Uint64
}

// NewSubscriber creates a durable JetStream consumer of ledger events
func NewSubscriber(ctx context.Context, cfg Config, natsJS adapter.NatsJetStream, jsonAdapter adapter.JSON) (messaging.Subscriber, error) {
	nc, js, err := connect(ctx, cfg, natsJS)
	if err != nil {
		return nil, err
	}

	return &subscriber{
		nc:     nc,
		js:     js,
		json:   jsonAdapter,
		config: cfg,
	}, nil
}

// SubscribeEvents consumes events in stream order. Events below fromBlock are acknowledged without being handled.
func (s *subscriber) SubscribeEvents(ctx context.Context, fromBlock uint64, handler messaging.EventHandler) error {
	consumer, err := s.js.CreateOrUpdateConsumer(ctx, s.config.StreamName, jetstream.ConsumerConfig{
		Durable:       s.config.ConsumerName,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       s.config.AckWait,
		MaxDeliver:    s.config.MaxDeliver,
		FilterSubject: SubjectPrefix + ".>",
	})
	if err != nil {
		return fmt.Errorf("failed to create/update consumer: %w", err)
	}

	info, err := consumer.Info(ctx)
	if err != nil {
		return fmt.Errorf("failed to get consumer info: %w", err)
	}
	logger.InfoCtx(ctx, "Consuming ledger events",
		zap.String("stream", s.config.StreamName),
		zap.String("consumer", info.Name),
		zap.Uint64("pending", info.NumPending))

	msgs := make(chan adapter.Message, 100)
	cc, err := consumer.Consume(func(msg adapter.Message) {
		select {
		case msgs <- msg:
		case <-ctx.Done():
		}
	})
	if err != nil {
		return fmt.Errorf("failed to start consuming: %w", err)
	}
	defer cc.Stop()

	// handled one at a time so the handler observes stream order
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-cc.Closed():
			return ErrConsumerClosed
		case msg := <-msgs:
			s.handleMessage(ctx, msg, fromBlock, handler)
		}
	}
}

func (s *subscriber) handleMessage(ctx context.Context, msg adapter.Message, fromBlock uint64, handler messaging.EventHandler) {
	var event domain.LedgerEvent
	if err := s.json.Unmarshal(msg.Data(), &event); err != nil {
		logger.ErrorCtx(ctx, err, zap.String("message", "Failed to unmarshal event"))
		// unparseable data never becomes parseable
		if err := msg.Term(); err != nil {
			logger.ErrorCtx(ctx, err, zap.String("message", "Failed to terminate message"))
		}
		return
	}

	var delivered uint64
	if metadata, err := msg.Metadata(); err == nil && metadata != nil {
		delivered = metadata.NumDelivered
	}
	logger.DebugCtx(ctx, "Received event",
		zap.String("chain", string(event.Chain)),
		zap.String("eventType", string(event.EventType)),
		zap.Uint64("tokenID", uint64(event.TokenID)),
		zap.Uint64("block", event.BlockNumber),
		zap.Uint64("deliveryCount", delivered))

	if event.BlockNumber >= fromBlock {
		if err := handler(&event); err != nil {
			logger.ErrorCtx(ctx, err, zap.String("message", "Failed to handle event"))
			if err := msg.Nak(); err != nil {
				logger.ErrorCtx(ctx, err, zap.String("message", "Failed to NAK message"))
			}
			return
		}
	}

	for {
		seen := s.latest.Load()
		if event.BlockNumber <= seen || s.latest.CompareAndSwap(seen, event.BlockNumber) {
			break
		}
	}

	if err := msg.Ack(); err != nil {
		logger.ErrorCtx(ctx, err, zap.String("message", "Failed to ACK message"))
	}
}

// GetLatestBlock returns the highest block number consumed so far
func (s *subscriber) GetLatestBlock(_ context.Context) (uint64, error) {
	return s.latest.Load(), nil
}

func (s *subscriber) Close() {
	if s.nc == nil {
		return
	}

	s.nc.Close()
}

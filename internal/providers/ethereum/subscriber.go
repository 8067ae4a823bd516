package ethereum

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"github.com/feral-file/ff-marketplace/internal/adapter"
	"github.com/feral-file/ff-marketplace/internal/block"
	"github.com/feral-file/ff-marketplace/internal/logger"
	"github.com/feral-file/ff-marketplace/internal/messaging"
)

type ethSubscriber struct {
	client   adapter.EthClient
	contract Contract
	blocks   block.Provider
}

// NewSubscriber creates a subscriber for the marketplace contract events
func NewSubscriber(client adapter.EthClient, contract Contract, blocks block.Provider) messaging.Subscriber {
	return &ethSubscriber{
		client:   client,
		contract: contract,
		blocks:   blocks,
	}
}

// SubscribeEvents replays events from fromBlock up to the current head, then
// follows new logs. fromBlock 0 skips the replay.
func (s *ethSubscriber) SubscribeEvents(ctx context.Context, fromBlock uint64, handler messaging.EventHandler) error {
	latest, err := s.blocks.LatestBlock(ctx)
	if err != nil {
		return fmt.Errorf("failed to get latest block: %w", err)
	}

	query := s.contract.FilterQuery(latest + 1)
	if fromBlock == 0 {
		query.FromBlock = nil
	}

	// Subscribe before replaying so no log between the two is missed
	logs := make(chan types.Log)
	sub, err := s.client.SubscribeFilterLogs(ctx, query, logs)
	if err != nil {
		return fmt.Errorf("failed to subscribe to filter logs: %w", err)
	}
	defer func() {
		sub.Unsubscribe()
		logger.InfoCtx(ctx, "Unsubscribed from marketplace logs")
	}()

	if fromBlock > 0 && fromBlock <= latest {
		events, err := s.contract.FetchEvents(ctx, fromBlock, latest)
		if err != nil {
			return fmt.Errorf("failed to replay events: %w", err)
		}
		logger.InfoCtx(ctx, "Replaying marketplace events",
			zap.Uint64("fromBlock", fromBlock),
			zap.Uint64("toBlock", latest),
			zap.Int("count", len(events)))
		for _, event := range events {
			if err := handler(event); err != nil {
				logger.ErrorCtx(ctx, err, zap.String("message", "Error handling replayed event"))
			}
		}
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-sub.Err():
			return fmt.Errorf("subscription error: %w", err)
		case vLog := <-logs:
			event, err := s.contract.ParseLog(ctx, vLog)
			if err != nil {
				if !errors.Is(err, context.Canceled) {
					logger.ErrorCtx(ctx, err, zap.String("message", "Error parsing log"))
				}
				continue
			}
			if event == nil {
				continue
			}

			if err := handler(event); err != nil {
				logger.ErrorCtx(ctx, err, zap.String("message", "Error handling event"))
			}
		}
	}
}

func (s *ethSubscriber) GetLatestBlock(ctx context.Context) (uint64, error) {
	return s.blocks.LatestBlock(ctx)
}

func (s *ethSubscriber) Close() {
	if s.client == nil {
		return
	}

	s.client.Close()
	logger.Info("Ethereum connection closed")
}

package ethereum

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/feral-file/ff-marketplace/internal/adapter"
	"github.com/feral-file/ff-marketplace/internal/block"
)

type headerFetcher struct {
	client adapter.EthClient
}

// NewBlockFetcher reads chain heads and block times from block headers
func NewBlockFetcher(client adapter.EthClient) block.Fetcher {
	return &headerFetcher{client: client}
}

func (f *headerFetcher) FetchLatestBlock(ctx context.Context) (uint64, error) {
	header, err := f.client.HeaderByNumber(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to get latest header: %w", err)
	}
	return header.Number.Uint64(), nil
}

func (f *headerFetcher) FetchBlockTime(ctx context.Context, number uint64) (time.Time, error) {
	header, err := f.client.HeaderByNumber(ctx, new(big.Int).SetUint64(number))
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to get header %d: %w", number, err)
	}
	return time.Unix(int64(header.Time), 0).UTC(), nil //nolint:gosec,G115 // header times fit in int64
}

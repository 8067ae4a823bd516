package block

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/feral-file/ff-marketplace/internal/adapter"
	"github.com/feral-file/ff-marketplace/internal/logger"
)

// maxCachedTimestamps bounds the timestamp cache; it is reset when exceeded
const maxCachedTimestamps = 4096

// Provider answers chain head and block time queries, serving repeated
// lookups from memory.
//
//go:generate mockgen -source=provider.go -destination=../mocks/block_provider.go -package=mocks -mock_names=Provider=MockBlockProvider,Fetcher=MockBlockFetcher
type Provider interface {
	// LatestBlock returns the chain head, possibly from cache
	LatestBlock(ctx context.Context) (uint64, error)

	// BlockTime returns the timestamp of a block, possibly from cache
	BlockTime(ctx context.Context, number uint64) (time.Time, error)
}

// Fetcher reads block information from the chain
type Fetcher interface {
	FetchLatestBlock(ctx context.Context) (uint64, error)
	FetchBlockTime(ctx context.Context, number uint64) (time.Time, error)
}

// Config holds configuration for the Provider
type Config struct {
	// HeadTTL is how long a fetched head is served without refetching
	HeadTTL time.Duration

	// StaleWindow is how long a head may be served when refetching fails
	StaleWindow time.Duration
}

type head struct {
	number    uint64
	fetchedAt time.Time
}

type provider struct {
	fetcher Fetcher
	config  Config
	clock   adapter.Clock

	mu    sync.RWMutex
	head  *head
	times map[uint64]time.Time
}

// NewProvider creates a caching Provider on top of fetcher
func NewProvider(fetcher Fetcher, config Config, clock adapter.Clock) Provider {
	if config.StaleWindow < config.HeadTTL {
		config.StaleWindow = config.HeadTTL
	}
	return &provider{
		fetcher: fetcher,
		config:  config,
		clock:   clock,
		times:   make(map[uint64]time.Time),
	}
}

func (p *provider) LatestBlock(ctx context.Context) (uint64, error) {
	p.mu.RLock()
	cached := p.head
	p.mu.RUnlock()

	now := p.clock.Now()
	if cached != nil && now.Sub(cached.fetchedAt) < p.config.HeadTTL {
		return cached.number, nil
	}

	number, err := p.fetcher.FetchLatestBlock(ctx)
	if err != nil {
		if cached != nil && now.Sub(cached.fetchedAt) < p.config.StaleWindow {
			logger.WarnCtx(ctx, "Serving stale chain head",
				zap.Uint64("block", cached.number),
				zap.Error(err))
			return cached.number, nil
		}
		return 0, fmt.Errorf("failed to fetch latest block: %w", err)
	}

	p.mu.Lock()
	// heads never move backwards within the cache
	if p.head == nil || number >= p.head.number {
		p.head = &head{number: number, fetchedAt: now}
	} else {
		p.head.fetchedAt = now
		number = p.head.number
	}
	p.mu.Unlock()

	return number, nil
}

// BlockTime caches forever: a block's timestamp does not change once mined
func (p *provider) BlockTime(ctx context.Context, number uint64) (time.Time, error) {
	p.mu.RLock()
	ts, ok := p.times[number]
	p.mu.RUnlock()
	if ok {
		return ts, nil
	}

	ts, err := p.fetcher.FetchBlockTime(ctx, number)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to fetch time of block %d: %w", number, err)
	}

	p.mu.Lock()
	if len(p.times) >= maxCachedTimestamps {
		p.times = make(map[uint64]time.Time)
	}
	p.times[number] = ts
	p.mu.Unlock()

	return ts, nil
}

package view

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/alitto/pond/v2"
	"go.uber.org/zap"

	"github.com/feral-file/ff-marketplace/internal/adapter"
	"github.com/feral-file/ff-marketplace/internal/domain"
	"github.com/feral-file/ff-marketplace/internal/ledger"
	"github.com/feral-file/ff-marketplace/internal/logger"
	"github.com/feral-file/ff-marketplace/internal/resolver"
)

// Config holds the materializer limits
type Config struct {
	// PoolSize bounds the number of tokens materialized concurrently
	PoolSize int
	// QueueSize bounds the tasks waiting for a worker; submission blocks when full
	QueueSize int
	// TokenTimeout bounds the reads and resolution of a single token
	TokenTimeout time.Duration
	// PassTimeout bounds a whole pass, zero for no limit
	PassTimeout time.Duration
}

// Result is the outcome of materializing one token
type Result struct {
	TokenID domain.TokenID
	Item    *domain.Item
	Err     error
}

// Materializer rebuilds the view from the ledger and the content resolver
//
//go:generate mockgen -source=materializer.go -destination=../mocks/materializer.go -package=mocks -mock_names=Materializer=MockMaterializer
type Materializer interface {
	// Rebuild runs a full pass. It fails only when totalSupply cannot be read
	// or ctx is cancelled; per-token failures, including tokens cut off by the
	// pass timeout, drop the token from the view.
	Rebuild(ctx context.Context) (*View, error)
	// Close stops the worker pool
	Close()
}

type materializer struct {
	config   Config
	reader   ledger.Reader
	resolver resolver.ContentResolver
	clock    adapter.Clock
	pool     pond.ResultPool[Result]
}

// NewMaterializer creates a materializer with its own bounded worker pool
func NewMaterializer(cfg Config, reader ledger.Reader, resolver resolver.ContentResolver, clock adapter.Clock) Materializer {
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = 16
	}
	if cfg.TokenTimeout <= 0 {
		cfg.TokenTimeout = 20 * time.Second
	}

	opts := []pond.Option{}
	if cfg.QueueSize > 0 {
		opts = append(opts, pond.WithQueueSize(cfg.QueueSize))
	}

	return &materializer{
		config:   cfg,
		reader:   reader,
		resolver: resolver,
		clock:    clock,
		pool:     pond.NewResultPool[Result](cfg.PoolSize, opts...),
	}
}

func (m *materializer) Rebuild(ctx context.Context) (*View, error) {
	// The pass deadline only stops token work; tokens it cuts off are skipped
	// like any other unreachable token. Cancelling ctx aborts the pass.
	passCtx := ctx
	if m.config.PassTimeout > 0 {
		var cancel context.CancelFunc
		passCtx, cancel = context.WithTimeout(ctx, m.config.PassTimeout)
		defer cancel()
	}

	info, _ := logger.PassFromContext(ctx)
	start := m.clock.Now()

	supply, err := m.reader.TotalSupply(passCtx)
	if err != nil {
		return nil, fmt.Errorf("failed to read total supply: %w", err)
	}
	info.Supply = supply

	if supply == 0 {
		return NewView(nil, 0, m.clock.Now()), nil
	}

	group := m.pool.NewGroup()
	for id := uint64(0); id < supply; id++ {
		tokenID := domain.TokenID(id)
		group.Submit(func() Result {
			if err := passCtx.Err(); err != nil {
				return Result{TokenID: tokenID, Err: fmt.Errorf("%w: pass ended before token started: %w", domain.ErrUnreachable, err)}
			}
			return m.materialize(passCtx, tokenID)
		})
	}

	results, err := group.Wait()
	if err != nil {
		return nil, fmt.Errorf("materialization pass aborted: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("materialization pass aborted: %w", err)
	}
	if passCtx.Err() != nil {
		logger.WarnPass(info, "Pass timeout reached, publishing tokens resolved so far",
			zap.Duration("passTimeout", m.config.PassTimeout))
	}

	items := make([]domain.Item, 0, len(results))
	for _, r := range results {
		if r.Err != nil {
			logger.WarnPass(info, "Token skipped",
				zap.Uint64("tokenID", uint64(r.TokenID)),
				zap.Error(r.Err))
			continue
		}
		items = append(items, *r.Item)
	}

	v := NewView(items, supply, m.clock.Now())
	logger.InfoPass(info, "View materialized",
		zap.Int("items", v.Len()),
		zap.Uint64("skipped", v.Skipped()),
		zap.Duration("duration", m.clock.Since(start)))

	return v, nil
}

// materialize reads one token and resolves its content within the per-token timeout
func (m *materializer) materialize(ctx context.Context, id domain.TokenID) Result {
	ctx, cancel := context.WithTimeout(ctx, m.config.TokenTimeout)
	defer cancel()

	fail := func(err error) Result {
		if errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("%w: token timed out: %w", domain.ErrUnreachable, err)
		}
		return Result{TokenID: id, Err: err}
	}

	owner, err := m.reader.OwnerOf(ctx, id)
	if err != nil {
		return fail(fmt.Errorf("failed to read owner: %w", err))
	}
	descriptor, err := m.reader.TokenURI(ctx, id)
	if err != nil {
		return fail(fmt.Errorf("failed to read token URI: %w", err))
	}
	price, err := m.reader.Listings(ctx, id)
	if err != nil {
		return fail(fmt.Errorf("failed to read listing: %w", err))
	}

	content, err := m.resolver.Resolve(ctx, descriptor)
	if err != nil {
		return fail(err)
	}
	// A resolver that ignores ctx may return after the deadline
	if err := ctx.Err(); err != nil {
		return fail(err)
	}

	return Result{
		TokenID: id,
		Item: &domain.Item{
			TokenID:     id,
			Owner:       owner,
			Name:        content.Name,
			Description: content.Description,
			Image:       content.Image,
			Price:       price,
		},
	}
}

func (m *materializer) Close() {
	m.pool.StopAndWait()
}

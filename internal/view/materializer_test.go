package view_test

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feral-file/ff-marketplace/internal/adapter"
	"github.com/feral-file/ff-marketplace/internal/domain"
	"github.com/feral-file/ff-marketplace/internal/logger"
	"github.com/feral-file/ff-marketplace/internal/mocks"
	"github.com/feral-file/ff-marketplace/internal/resolver"
	"github.com/feral-file/ff-marketplace/internal/view"
)

func TestMain(m *testing.M) {
	err := logger.Initialize(logger.Config{
		Debug: false,
	})
	if err != nil {
		panic(err)
	}

	code := m.Run()
	os.Exit(code)
}

const owner = "0x1111111111111111111111111111111111111111"

type testMaterializerMocks struct {
	ctrl     *gomock.Controller
	reader   *mocks.MockLedgerReader
	resolver *mocks.MockContentResolver
}

func setupTestMaterializer(t *testing.T) *testMaterializerMocks {
	ctrl := gomock.NewController(t)
	return &testMaterializerMocks{
		ctrl:     ctrl,
		reader:   mocks.NewMockLedgerReader(ctrl),
		resolver: mocks.NewMockContentResolver(ctrl),
	}
}

func tearDownTestMaterializer(tm *testMaterializerMocks) {
	tm.ctrl.Finish()
}

func (tm *testMaterializerMocks) newMaterializer(t *testing.T, cfg view.Config) view.Materializer {
	m := view.NewMaterializer(cfg, tm.reader, tm.resolver, adapter.NewClock())
	t.Cleanup(m.Close)
	return m
}

// expectToken wires the reads of a healthy token
func (tm *testMaterializerMocks) expectToken(id domain.TokenID, price int64) {
	descriptor := fmt.Sprintf("ipfs://QmToken%d", id)
	tm.reader.EXPECT().OwnerOf(gomock.Any(), id).Return(owner, nil)
	tm.reader.EXPECT().TokenURI(gomock.Any(), id).Return(descriptor, nil)
	tm.reader.EXPECT().Listings(gomock.Any(), id).Return(big.NewInt(price), nil)
	tm.resolver.EXPECT().Resolve(gomock.Any(), descriptor).Return(&resolver.Content{
		Name:  fmt.Sprintf("Token %d", id),
		Image: fmt.Sprintf("https://ipfs.io/ipfs/QmImage%d", id),
	}, nil)
}

func tokenIDs(v *view.View) []domain.TokenID {
	ids := []domain.TokenID{}
	for _, item := range v.Items() {
		ids = append(ids, item.TokenID)
	}
	return ids
}

func TestMaterializer_RebuildOrdersItemsByID(t *testing.T) {
	tm := setupTestMaterializer(t)
	defer tearDownTestMaterializer(tm)

	tm.reader.EXPECT().TotalSupply(gomock.Any()).Return(uint64(5), nil).Times(1)
	for id := domain.TokenID(0); id < 5; id++ {
		tm.expectToken(id, int64(id)*100)
	}

	m := tm.newMaterializer(t, view.Config{PoolSize: 2, TokenTimeout: time.Second})
	v, err := m.Rebuild(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []domain.TokenID{0, 1, 2, 3, 4}, tokenIDs(v))
	assert.Equal(t, uint64(5), v.Supply())
	assert.Equal(t, uint64(0), v.Skipped())
	assert.False(t, v.BuiltAt().IsZero())

	item, ok := v.Get(3)
	require.True(t, ok)
	assert.Equal(t, "Token 3", item.Name)
	assert.Equal(t, owner, item.Owner)
	assert.Equal(t, "300", item.Price.String())
	assert.True(t, item.Listed())

	first, ok := v.Get(0)
	require.True(t, ok)
	assert.False(t, first.Listed())
}

func TestMaterializer_IsolatesTokenFailures(t *testing.T) {
	tm := setupTestMaterializer(t)
	defer tearDownTestMaterializer(tm)

	tm.reader.EXPECT().TotalSupply(gomock.Any()).Return(uint64(5), nil)
	tm.expectToken(0, 0)
	tm.expectToken(2, 0)
	tm.expectToken(4, 0)

	// Token 1: content no longer exists
	tm.reader.EXPECT().OwnerOf(gomock.Any(), domain.TokenID(1)).Return(owner, nil)
	tm.reader.EXPECT().TokenURI(gomock.Any(), domain.TokenID(1)).Return("ipfs://QmGone", nil)
	tm.reader.EXPECT().Listings(gomock.Any(), domain.TokenID(1)).Return(big.NewInt(0), nil)
	tm.resolver.EXPECT().Resolve(gomock.Any(), "ipfs://QmGone").Return(nil, domain.ErrNotFound)

	// Token 3: ledger read fails
	tm.reader.EXPECT().OwnerOf(gomock.Any(), domain.TokenID(3)).Return("", errors.New("rpc unavailable"))

	m := tm.newMaterializer(t, view.Config{PoolSize: 3, TokenTimeout: time.Second})
	v, err := m.Rebuild(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []domain.TokenID{0, 2, 4}, tokenIDs(v))
	assert.Equal(t, uint64(2), v.Skipped())

	_, ok := v.Get(1)
	assert.False(t, ok)
	_, ok = v.Get(3)
	assert.False(t, ok)
	_, ok = v.Get(4)
	assert.True(t, ok)
}

func TestMaterializer_TotalSupplyFailureFailsPass(t *testing.T) {
	tm := setupTestMaterializer(t)
	defer tearDownTestMaterializer(tm)

	supplyErr := errors.New("node down")
	tm.reader.EXPECT().TotalSupply(gomock.Any()).Return(uint64(0), supplyErr)

	m := tm.newMaterializer(t, view.Config{PoolSize: 2})
	v, err := m.Rebuild(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, supplyErr)
	assert.Nil(t, v)
}

func TestMaterializer_EmptyLedger(t *testing.T) {
	tm := setupTestMaterializer(t)
	defer tearDownTestMaterializer(tm)

	tm.reader.EXPECT().TotalSupply(gomock.Any()).Return(uint64(0), nil)

	m := tm.newMaterializer(t, view.Config{PoolSize: 2})
	v, err := m.Rebuild(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, v.Len())
	assert.Empty(t, v.Items())
}

func TestMaterializer_TokenTimeout(t *testing.T) {
	tm := setupTestMaterializer(t)
	defer tearDownTestMaterializer(tm)

	tm.reader.EXPECT().TotalSupply(gomock.Any()).Return(uint64(2), nil)
	tm.expectToken(1, 0)

	tm.reader.EXPECT().OwnerOf(gomock.Any(), domain.TokenID(0)).Return(owner, nil)
	tm.reader.EXPECT().TokenURI(gomock.Any(), domain.TokenID(0)).Return("https://slow.example/0", nil)
	tm.reader.EXPECT().Listings(gomock.Any(), domain.TokenID(0)).Return(big.NewInt(0), nil)
	tm.resolver.EXPECT().Resolve(gomock.Any(), "https://slow.example/0").
		DoAndReturn(func(ctx context.Context, descriptor string) (*resolver.Content, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		})

	m := tm.newMaterializer(t, view.Config{PoolSize: 2, TokenTimeout: 50 * time.Millisecond})
	v, err := m.Rebuild(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []domain.TokenID{1}, tokenIDs(v))
}

func TestMaterializer_CancelledPass(t *testing.T) {
	tm := setupTestMaterializer(t)
	defer tearDownTestMaterializer(tm)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	tm.reader.EXPECT().TotalSupply(gomock.Any()).Return(uint64(3), nil)
	tm.reader.EXPECT().OwnerOf(gomock.Any(), gomock.Any()).Return(owner, nil).AnyTimes()
	tm.reader.EXPECT().TokenURI(gomock.Any(), gomock.Any()).Return("ipfs://QmX", nil).AnyTimes()
	tm.reader.EXPECT().Listings(gomock.Any(), gomock.Any()).Return(big.NewInt(0), nil).AnyTimes()
	tm.resolver.EXPECT().Resolve(gomock.Any(), gomock.Any()).Return(&resolver.Content{Name: "x"}, nil).AnyTimes()

	m := tm.newMaterializer(t, view.Config{PoolSize: 2})
	v, err := m.Rebuild(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, v)
}

func TestMaterializer_BoundedConcurrency(t *testing.T) {
	tm := setupTestMaterializer(t)
	defer tearDownTestMaterializer(tm)

	const supply = 8
	var inFlight, peak atomic.Int32

	tm.reader.EXPECT().TotalSupply(gomock.Any()).Return(uint64(supply), nil)
	tm.reader.EXPECT().OwnerOf(gomock.Any(), gomock.Any()).Return(owner, nil).Times(supply)
	tm.reader.EXPECT().TokenURI(gomock.Any(), gomock.Any()).Return("ipfs://QmSame", nil).Times(supply)
	tm.reader.EXPECT().Listings(gomock.Any(), gomock.Any()).Return(big.NewInt(0), nil).Times(supply)
	tm.resolver.EXPECT().Resolve(gomock.Any(), "ipfs://QmSame").
		DoAndReturn(func(ctx context.Context, descriptor string) (*resolver.Content, error) {
			n := inFlight.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(20 * time.Millisecond)
			inFlight.Add(-1)
			return &resolver.Content{Name: "Same"}, nil
		}).Times(supply)

	m := tm.newMaterializer(t, view.Config{PoolSize: 2, QueueSize: 4, TokenTimeout: time.Second})
	v, err := m.Rebuild(context.Background())
	require.NoError(t, err)
	assert.Equal(t, supply, v.Len())
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestMaterializer_PassTimeoutPublishesResolvedTokens(t *testing.T) {
	tm := setupTestMaterializer(t)
	defer tearDownTestMaterializer(tm)

	tm.reader.EXPECT().TotalSupply(gomock.Any()).Return(uint64(3), nil)
	tm.expectToken(1, 0)
	tm.expectToken(2, 0)

	tm.reader.EXPECT().OwnerOf(gomock.Any(), domain.TokenID(0)).Return(owner, nil)
	tm.reader.EXPECT().TokenURI(gomock.Any(), domain.TokenID(0)).Return("https://hung.example/0", nil)
	tm.reader.EXPECT().Listings(gomock.Any(), domain.TokenID(0)).Return(big.NewInt(0), nil)
	tm.resolver.EXPECT().Resolve(gomock.Any(), "https://hung.example/0").
		DoAndReturn(func(ctx context.Context, descriptor string) (*resolver.Content, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		})

	m := tm.newMaterializer(t, view.Config{
		PoolSize:     3,
		TokenTimeout: time.Second,
		PassTimeout:  100 * time.Millisecond,
	})
	v, err := m.Rebuild(context.Background())
	require.NoError(t, err)
	require.NotNil(t, v)
	assert.Equal(t, []domain.TokenID{1, 2}, tokenIDs(v))
	assert.Equal(t, uint64(1), v.Skipped())
}

func TestMaterializer_PassTimeoutSkipsQueuedTokens(t *testing.T) {
	tm := setupTestMaterializer(t)
	defer tearDownTestMaterializer(tm)

	tm.reader.EXPECT().TotalSupply(gomock.Any()).Return(uint64(3), nil)

	// the only worker is held by token 0 until the pass deadline; 1 and 2 never start
	tm.reader.EXPECT().OwnerOf(gomock.Any(), domain.TokenID(0)).Return(owner, nil)
	tm.reader.EXPECT().TokenURI(gomock.Any(), domain.TokenID(0)).Return("https://hung.example/0", nil)
	tm.reader.EXPECT().Listings(gomock.Any(), domain.TokenID(0)).Return(big.NewInt(0), nil)
	tm.resolver.EXPECT().Resolve(gomock.Any(), "https://hung.example/0").
		DoAndReturn(func(ctx context.Context, descriptor string) (*resolver.Content, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		})

	m := tm.newMaterializer(t, view.Config{
		PoolSize:     1,
		TokenTimeout: time.Second,
		PassTimeout:  100 * time.Millisecond,
	})
	v, err := m.Rebuild(context.Background())
	require.NoError(t, err)
	require.NotNil(t, v)
	assert.Equal(t, 0, v.Len())
	assert.Equal(t, uint64(3), v.Skipped())
}

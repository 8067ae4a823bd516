package emitter_test

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feral-file/ff-marketplace/internal/domain"
	"github.com/feral-file/ff-marketplace/internal/emitter"
	"github.com/feral-file/ff-marketplace/internal/logger"
	"github.com/feral-file/ff-marketplace/internal/messaging"
	"github.com/feral-file/ff-marketplace/internal/mocks"
)

func TestMain(m *testing.M) {
	if err := logger.Initialize(logger.Config{Debug: false}); err != nil {
		panic(err)
	}
	os.Exit(m.Run())
}

const chain = string(domain.ChainEthereumSepolia)

type testEmitterMocks struct {
	ctrl       *gomock.Controller
	subscriber *mocks.MockSubscriber
	publisher  *mocks.MockPublisher
	cursors    *mocks.MockCursorStore
	clock      *mocks.MockClock
	emitter    emitter.Emitter
}

func setupTestEmitter(t *testing.T, startBlock uint64) *testEmitterMocks {
	ctrl := gomock.NewController(t)

	tm := &testEmitterMocks{
		ctrl:       ctrl,
		subscriber: mocks.NewMockSubscriber(ctrl),
		publisher:  mocks.NewMockPublisher(ctrl),
		cursors:    mocks.NewMockCursorStore(ctrl),
		clock:      mocks.NewMockClock(ctrl),
	}

	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	tm.clock.EXPECT().Now().Return(now).AnyTimes()
	tm.clock.EXPECT().Since(gomock.Any()).Return(time.Duration(0)).AnyTimes()

	tm.emitter = emitter.NewEmitter(
		tm.subscriber,
		tm.publisher,
		tm.cursors,
		emitter.Config{
			ChainID:         domain.ChainEthereumSepolia,
			StartBlock:      startBlock,
			CursorSaveFreq:  10,
			CursorSaveDelay: 5 * time.Second,
			RetryInterval:   5 * time.Millisecond,
		},
		tm.clock,
	)
	return tm
}

func tearDownTestEmitter(tm *testEmitterMocks) {
	tm.ctrl.Finish()
}

func blockEvent(block uint64) *domain.LedgerEvent {
	return &domain.LedgerEvent{
		ID:          "evt-" + domain.TokenID(block).String(),
		Chain:       domain.ChainEthereumSepolia,
		EventType:   domain.EventTypeListingCancelled,
		BlockNumber: block,
	}
}

// deliver returns a SubscribeEvents stub that feeds blocks to the handler and
// then cancels the run
func deliver(cancel context.CancelFunc, blocks ...uint64) func(context.Context, uint64, messaging.EventHandler) error {
	return func(ctx context.Context, _ uint64, handler messaging.EventHandler) error {
		for _, b := range blocks {
			if err := handler(blockEvent(b)); err != nil {
				return ctx.Err()
			}
		}
		cancel()
		<-ctx.Done()
		return ctx.Err()
	}
}

func TestEmitter_Run_WithStartBlock(t *testing.T) {
	tm := setupTestEmitter(t, 100)
	defer tearDownTestEmitter(tm)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tm.subscriber.EXPECT().SubscribeEvents(gomock.Any(), uint64(100), gomock.Any()).DoAndReturn(deliver(cancel, 100, 105, 112))
	tm.publisher.EXPECT().PublishEvent(gomock.Any(), gomock.Any()).Return(nil).Times(3)
	gomock.InOrder(
		tm.cursors.EXPECT().SetBlockCursor(gomock.Any(), chain, uint64(100)).Return(nil),
		tm.cursors.EXPECT().SetBlockCursor(gomock.Any(), chain, uint64(112)).Return(nil),
	)

	err := tm.emitter.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestEmitter_Run_ResolvesStartBlock(t *testing.T) {
	t.Run("resumes from cursor", func(t *testing.T) {
		tm := setupTestEmitter(t, 0)
		defer tearDownTestEmitter(tm)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		tm.cursors.EXPECT().GetBlockCursor(gomock.Any(), chain).Return(uint64(50), nil)
		tm.subscriber.EXPECT().SubscribeEvents(gomock.Any(), uint64(50), gomock.Any()).DoAndReturn(deliver(cancel))

		assert.ErrorIs(t, tm.emitter.Run(ctx), context.Canceled)
	})

	t.Run("starts from chain head", func(t *testing.T) {
		tm := setupTestEmitter(t, 0)
		defer tearDownTestEmitter(tm)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		tm.cursors.EXPECT().GetBlockCursor(gomock.Any(), chain).Return(uint64(0), nil)
		tm.subscriber.EXPECT().GetLatestBlock(gomock.Any()).Return(uint64(200), nil)
		tm.subscriber.EXPECT().SubscribeEvents(gomock.Any(), uint64(200), gomock.Any()).DoAndReturn(deliver(cancel))

		assert.ErrorIs(t, tm.emitter.Run(ctx), context.Canceled)
	})

	t.Run("cursor error", func(t *testing.T) {
		tm := setupTestEmitter(t, 0)
		defer tearDownTestEmitter(tm)

		tm.cursors.EXPECT().GetBlockCursor(gomock.Any(), chain).Return(uint64(0), errors.New("db down"))

		err := tm.emitter.Run(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "db down")
	})

	t.Run("head error", func(t *testing.T) {
		tm := setupTestEmitter(t, 0)
		defer tearDownTestEmitter(tm)

		tm.cursors.EXPECT().GetBlockCursor(gomock.Any(), chain).Return(uint64(0), nil)
		tm.subscriber.EXPECT().GetLatestBlock(gomock.Any()).Return(uint64(0), errors.New("rpc down"))

		assert.Error(t, tm.emitter.Run(context.Background()))
	})
}

func TestEmitter_Run_PublishFailureResubscribes(t *testing.T) {
	tm := setupTestEmitter(t, 100)
	defer tearDownTestEmitter(tm)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	gomock.InOrder(
		tm.subscriber.EXPECT().SubscribeEvents(gomock.Any(), uint64(100), gomock.Any()).DoAndReturn(
			func(subCtx context.Context, _ uint64, handler messaging.EventHandler) error {
				require.NoError(t, handler(blockEvent(100)))
				assert.Error(t, handler(blockEvent(101)))
				// the failed publish cancels this subscription
				<-subCtx.Done()
				return subCtx.Err()
			}),
		tm.subscriber.EXPECT().SubscribeEvents(gomock.Any(), uint64(100), gomock.Any()).DoAndReturn(deliver(cancel, 101)),
	)
	gomock.InOrder(
		tm.publisher.EXPECT().PublishEvent(gomock.Any(), blockEvent(100)).Return(nil),
		tm.publisher.EXPECT().PublishEvent(gomock.Any(), blockEvent(101)).Return(errors.New("nats timeout")),
		tm.publisher.EXPECT().PublishEvent(gomock.Any(), blockEvent(101)).Return(nil),
	)
	gomock.InOrder(
		tm.cursors.EXPECT().SetBlockCursor(gomock.Any(), chain, uint64(100)).Return(nil),
		// flushed on shutdown
		tm.cursors.EXPECT().SetBlockCursor(gomock.Any(), chain, uint64(101)).Return(nil),
	)

	assert.ErrorIs(t, tm.emitter.Run(ctx), context.Canceled)
}

func TestEmitter_Run_SubscriptionErrorRetries(t *testing.T) {
	tm := setupTestEmitter(t, 100)
	defer tearDownTestEmitter(tm)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	gomock.InOrder(
		tm.subscriber.EXPECT().SubscribeEvents(gomock.Any(), uint64(100), gomock.Any()).Return(errors.New("websocket closed")),
		tm.subscriber.EXPECT().SubscribeEvents(gomock.Any(), uint64(100), gomock.Any()).Return(nil),
		tm.subscriber.EXPECT().SubscribeEvents(gomock.Any(), uint64(100), gomock.Any()).DoAndReturn(deliver(cancel)),
	)

	assert.ErrorIs(t, tm.emitter.Run(ctx), context.Canceled)
}

func TestEmitter_Close(t *testing.T) {
	tm := setupTestEmitter(t, 0)
	defer tearDownTestEmitter(tm)

	tm.subscriber.EXPECT().Close()
	tm.publisher.EXPECT().Close()
	tm.emitter.Close()
}

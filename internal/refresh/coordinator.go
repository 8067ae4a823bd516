package refresh

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/feral-file/ff-marketplace/internal/domain"
	"github.com/feral-file/ff-marketplace/internal/logger"
	"github.com/feral-file/ff-marketplace/internal/messaging"
	"github.com/feral-file/ff-marketplace/internal/view"
)

// State is the coordinator's scheduling state
type State int

const (
	// Idle means no pass is running
	Idle State = iota
	// Refreshing means exactly one pass is running and nothing is queued
	Refreshing
	// RefreshPending means a pass is running and another one is queued behind it
	RefreshPending
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Refreshing:
		return "refreshing"
	case RefreshPending:
		return "refresh_pending"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Trigger names what caused a pass
type Trigger string

const (
	TriggerStartup      Trigger = "startup"
	TriggerNotification Trigger = "notification"
	TriggerManual       Trigger = "manual"
)

// Listener receives every newly published view
type Listener func(v *view.View)

// Config holds the coordinator options
type Config struct {
	// AbortStale cancels the running pass when a notification arrives.
	// The queued pass still runs; the aborted pass's result is discarded.
	AbortStale bool
}

// Coordinator collapses change notifications into at most one running and one queued pass
//
//go:generate mockgen -source=coordinator.go -destination=../mocks/coordinator.go -package=mocks -mock_names=Coordinator=MockCoordinator
type Coordinator interface {
	// Notify schedules a pass. It never blocks and never drops a request.
	Notify(trigger Trigger)
	// RequestRefresh is a manual Notify
	RequestRefresh()
	// Run turns every event delivered by subscriber into a notification until ctx is done
	Run(ctx context.Context, subscriber messaging.Subscriber, fromBlock uint64) error
	// Current returns the last published view
	Current() *view.View
	// State returns the current scheduling state
	State() State
	// OnPublish registers a listener called after each successful pass
	OnPublish(listener Listener)
	// WaitIdle blocks until no pass is running or queued
	WaitIdle(ctx context.Context) error
	// Close cancels the running pass and waits for it to finish
	Close()
}

type coordinator struct {
	config       Config
	materializer view.Materializer

	mu        sync.Mutex
	state     State
	pending   Trigger
	passes    uint64
	cancel    context.CancelFunc
	idle      chan struct{}
	listeners []Listener
	closed    bool

	baseCtx  context.Context
	shutdown context.CancelFunc
	wg       sync.WaitGroup
	current  atomic.Pointer[view.View]
}

// NewCoordinator creates an idle coordinator publishing the empty view
func NewCoordinator(cfg Config, materializer view.Materializer) Coordinator {
	ctx, cancel := context.WithCancel(context.Background())
	idle := make(chan struct{})
	close(idle)

	c := &coordinator{
		config:       cfg,
		materializer: materializer,
		state:        Idle,
		idle:         idle,
		baseCtx:      ctx,
		shutdown:     cancel,
	}
	c.current.Store(view.Empty())
	return c
}

func (c *coordinator) Notify(trigger Trigger) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}

	switch c.state {
	case Idle:
		c.startPassLocked(trigger)
	case Refreshing, RefreshPending:
		if c.state == Refreshing {
			c.pending = trigger
		}
		c.state = RefreshPending
		if c.config.AbortStale && c.cancel != nil {
			c.cancel()
		}
	}
}

func (c *coordinator) RequestRefresh() {
	c.Notify(TriggerManual)
}

func (c *coordinator) Run(ctx context.Context, subscriber messaging.Subscriber, fromBlock uint64) error {
	err := subscriber.SubscribeEvents(ctx, fromBlock, func(event *domain.LedgerEvent) error {
		logger.DebugCtx(ctx, "Ledger change received",
			zap.String("eventType", string(event.EventType)),
			zap.Uint64("tokenID", uint64(event.TokenID)),
			zap.Uint64("block", event.BlockNumber))
		c.Notify(TriggerNotification)
		return nil
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %v", domain.ErrSubscriptionFailed, err)
	}
	return nil
}

func (c *coordinator) Current() *view.View {
	return c.current.Load()
}

func (c *coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *coordinator) OnPublish(listener Listener) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, listener)
}

func (c *coordinator) WaitIdle(ctx context.Context) error {
	c.mu.Lock()
	idle := c.idle
	c.mu.Unlock()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *coordinator) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()

	c.shutdown()
	c.wg.Wait()
}

// startPassLocked moves to Refreshing and launches a pass; callers hold mu
func (c *coordinator) startPassLocked(trigger Trigger) {
	if c.state == Idle {
		c.idle = make(chan struct{})
	}
	c.state = Refreshing
	c.pending = ""
	c.passes++

	ctx, cancel := context.WithCancel(c.baseCtx)
	c.cancel = cancel
	info := logger.PassInfo{Pass: c.passes, Trigger: string(trigger)}

	c.wg.Add(1)
	go c.runPass(ctx, cancel, info)
}

func (c *coordinator) runPass(ctx context.Context, cancel context.CancelFunc, info logger.PassInfo) {
	defer c.wg.Done()
	defer cancel()

	logger.InfoPass(info, "Refresh pass started")

	v, err := c.materializer.Rebuild(logger.ContextWithPass(ctx, info))
	switch {
	case ctx.Err() != nil:
		logger.InfoPass(info, "Refresh pass aborted, result discarded")
	case err != nil:
		logger.ErrorPass(info, fmt.Errorf("refresh pass failed, keeping previous view: %w", err))
	default:
		c.publish(v)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.cancel = nil
	if c.state == RefreshPending && !c.closed {
		c.startPassLocked(c.pending)
		return
	}
	c.state = Idle
	c.pending = ""
	close(c.idle)
}

// publish swaps in the new view and notifies listeners. Passes never overlap,
// so listeners observe views in publication order.
func (c *coordinator) publish(v *view.View) {
	c.current.Store(v)

	c.mu.Lock()
	listeners := make([]Listener, len(c.listeners))
	copy(listeners, c.listeners)
	c.mu.Unlock()

	for _, l := range listeners {
		l(v)
	}
}

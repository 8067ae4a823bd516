package ledger

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/feral-file/ff-marketplace/internal/domain"
	"github.com/feral-file/ff-marketplace/internal/logger"
	"github.com/feral-file/ff-marketplace/internal/messaging"
)

type outboxBatch struct {
	ctx    context.Context
	events []*domain.LedgerEvent
}

// outbox publishes committed events in commit order without holding the
// ledger lock. Batches are enqueued while the ledger lock is held; the first
// writer to find the outbox idle drains it until empty and later writers
// leave their batches to it.
type outbox struct {
	publisher messaging.Publisher

	mu       sync.Mutex
	batches  []outboxBatch
	draining bool
}

func newOutbox(publisher messaging.Publisher) *outbox {
	return &outbox{publisher: publisher}
}

// enqueue appends a committed batch; callers hold the ledger lock
func (o *outbox) enqueue(ctx context.Context, events []*domain.LedgerEvent) {
	if o.publisher == nil || len(events) == 0 {
		return
	}
	o.mu.Lock()
	o.batches = append(o.batches, outboxBatch{ctx: context.WithoutCancel(ctx), events: events})
	o.mu.Unlock()
}

// drain publishes queued batches unless another writer is already draining.
// Callers must not hold the ledger lock.
func (o *outbox) drain() {
	o.mu.Lock()
	if o.draining {
		o.mu.Unlock()
		return
	}
	o.draining = true
	for len(o.batches) > 0 {
		batch := o.batches[0]
		o.batches[0] = outboxBatch{}
		o.batches = o.batches[1:]
		o.mu.Unlock()
		o.publish(batch)
		o.mu.Lock()
	}
	o.draining = false
	o.mu.Unlock()
}

// publish notifies subscribers of committed events. The transition is already
// durable, so failures are logged rather than returned.
func (o *outbox) publish(batch outboxBatch) {
	ctx, cancel := context.WithTimeout(batch.ctx, publishTimeout)
	defer cancel()

	for _, e := range batch.events {
		if err := o.publisher.PublishEvent(ctx, e); err != nil {
			logger.ErrorCtx(ctx, fmt.Errorf("failed to publish ledger event: %w", err),
				zap.String("eventType", string(e.EventType)),
				zap.Uint64("tokenID", uint64(e.TokenID)))
		}
	}
}

package messaging

import (
	"context"

	"github.com/feral-file/ff-marketplace/internal/domain"
)

// EventHandler is called when a new ledger event is received
type EventHandler func(event *domain.LedgerEvent) error

// Subscriber defines the common interface for subscribing to ledger events.
// The in-process bus, the contract log subscriber and the NATS consumer implement it
//
//go:generate mockgen -source=subscriber.go -destination=../mocks/subscriber.go -package=mocks -mock_names=Subscriber=MockSubscriber
type Subscriber interface {
	// SubscribeEvents blocks delivering ledger events to handler until ctx is done or the source fails.
	// fromBlock: starting point for subscription (0 for latest)
	SubscribeEvents(ctx context.Context, fromBlock uint64, handler EventHandler) error

	// GetLatestBlock returns the latest block number (or sequence for the in-process bus)
	GetLatestBlock(ctx context.Context) (uint64, error)

	// Close closes the connection and cleans up resources
	Close()
}

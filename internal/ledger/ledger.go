package ledger

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"github.com/feral-file/ff-marketplace/internal/adapter"
	"github.com/feral-file/ff-marketplace/internal/domain"
	"github.com/feral-file/ff-marketplace/internal/logger"
	"github.com/feral-file/ff-marketplace/internal/messaging"
)

// publishTimeout bounds how long a committed transition waits on the broker
const publishTimeout = 5 * time.Second

// Reader is the public read surface of a ledger. Reads never require a caller.
//
//go:generate mockgen -source=ledger.go -destination=../mocks/ledger.go -package=mocks -mock_names=Reader=MockLedgerReader,Ledger=MockLedger,PaymentForwarder=MockPaymentForwarder,Journal=MockJournal
type Reader interface {
	// TotalSupply returns the number of minted tokens; ids are [0, TotalSupply)
	TotalSupply(ctx context.Context) (uint64, error)
	// OwnerOf returns the owner of the token
	OwnerOf(ctx context.Context, id domain.TokenID) (string, error)
	// TokenURI returns the content descriptor of the token
	TokenURI(ctx context.Context, id domain.TokenID) (string, error)
	// Listings returns the listing price of the token, zero when not listed
	Listings(ctx context.Context, id domain.TokenID) (*big.Int, error)
}

// Ledger is the authoritative state machine for token ownership and listings
type Ledger interface {
	Reader
	// Mint creates a token owned by caller and returns its id
	Mint(ctx context.Context, caller string, descriptor string) (domain.TokenID, error)
	// List puts the caller's token up for sale at price
	List(ctx context.Context, caller string, id domain.TokenID, price *big.Int) error
	// Cancel withdraws the caller's listing
	Cancel(ctx context.Context, caller string, id domain.TokenID) error
	// Buy pays the listing price and transfers the token to caller
	Buy(ctx context.Context, caller string, id domain.TokenID, payment *big.Int) error
	// Restore reloads the ledger state from the journal
	Restore(ctx context.Context) error
}

// PaymentForwarder moves sale proceeds from the buyer to the seller
type PaymentForwarder interface {
	Forward(ctx context.Context, from string, to string, amount *big.Int) error
}

// Journal persists ledger transitions
type Journal interface {
	// SaveTransition stores the entry snapshot and its events in one transaction.
	// inTx runs inside the transaction; an error from it rolls everything back.
	SaveTransition(ctx context.Context, entry *domain.LedgerEntry, events []*domain.LedgerEvent, inTx func(ctx context.Context) error) error
	// LoadEntries returns all persisted entries ordered by token id
	LoadEntries(ctx context.Context) ([]*domain.LedgerEntry, error)
	// LatestBlock returns the highest block number among persisted events, 0 when none
	LatestBlock(ctx context.Context) (uint64, error)
}

// Config holds the configuration for the ledger
type Config struct {
	ChainID domain.Chain
	// ContractAddress labels emitted events, empty for the in-process ledger
	ContractAddress string
}

type ledger struct {
	mu        sync.RWMutex
	entries   []*domain.LedgerEntry
	sequence  uint64
	pending   uint64
	config    Config
	forwarder PaymentForwarder
	journal   Journal
	outbox    *outbox
	clock     adapter.Clock
}

// NewLedger creates an in-process ledger. journal and publisher may be nil.
func NewLedger(
	cfg Config,
	forwarder PaymentForwarder,
	journal Journal,
	publisher messaging.Publisher,
	clock adapter.Clock,
) Ledger {
	if cfg.ChainID == "" {
		cfg.ChainID = domain.ChainLocal
	}
	return &ledger{
		config:    cfg,
		forwarder: forwarder,
		journal:   journal,
		outbox:    newOutbox(publisher),
		clock:     clock,
	}
}

// TotalSupply returns the number of minted tokens
func (l *ledger) TotalSupply(_ context.Context) (uint64, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return uint64(len(l.entries)), nil
}

// OwnerOf returns the owner of the token
func (l *ledger) OwnerOf(_ context.Context, id domain.TokenID) (string, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	entry, err := l.entry(id)
	if err != nil {
		return "", err
	}
	return entry.Owner, nil
}

// TokenURI returns the content descriptor of the token
func (l *ledger) TokenURI(_ context.Context, id domain.TokenID) (string, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	entry, err := l.entry(id)
	if err != nil {
		return "", err
	}
	return entry.ContentDescriptor, nil
}

// Listings returns a copy of the listing price
func (l *ledger) Listings(_ context.Context, id domain.TokenID) (*big.Int, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	entry, err := l.entry(id)
	if err != nil {
		return nil, err
	}
	return new(big.Int).Set(entry.ListingPrice), nil
}

// Mint creates a token with the next sequential id owned by caller
func (l *ledger) Mint(ctx context.Context, caller string, descriptor string) (domain.TokenID, error) {
	caller, err := requireCaller(caller)
	if err != nil {
		return 0, err
	}
	if strings.TrimSpace(descriptor) == "" {
		return 0, fmt.Errorf("%w: empty content descriptor", domain.ErrInvalidInput)
	}

	// Unlock runs before drain so publishing never holds the ledger lock
	defer l.outbox.drain()
	l.mu.Lock()
	defer l.mu.Unlock()

	next := &domain.LedgerEntry{
		TokenID:           domain.TokenID(len(l.entries)),
		Owner:             caller,
		ContentDescriptor: descriptor,
		ListingPrice:      new(big.Int),
	}
	zero := domain.ETHEREUM_ZERO_ADDRESS
	events := []*domain.LedgerEvent{
		l.newEvent(next.TokenID, domain.EventTypeTransfer, func(e *domain.LedgerEvent) {
			e.FromAddress = &zero
			e.ToAddress = &caller
		}),
	}

	if err := l.commit(ctx, next, events, nil); err != nil {
		return 0, err
	}
	l.entries = append(l.entries, next)

	logger.InfoCtx(ctx, "Token minted",
		zap.Uint64("tokenID", uint64(next.TokenID)),
		zap.String("owner", caller),
		zap.String("descriptor", descriptor))

	l.outbox.enqueue(ctx, events)
	return next.TokenID, nil
}

// List records a listing; relisting overwrites the previous price
func (l *ledger) List(ctx context.Context, caller string, id domain.TokenID, price *big.Int) error {
	caller, err := requireCaller(caller)
	if err != nil {
		return err
	}

	defer l.outbox.drain()
	l.mu.Lock()
	defer l.mu.Unlock()

	entry, err := l.entry(id)
	if err != nil {
		return err
	}
	if !domain.SameAddress(entry.Owner, caller) {
		return fmt.Errorf("%w: token %d", domain.ErrNotOwner, id)
	}
	if price == nil || price.Sign() <= 0 {
		return fmt.Errorf("%w: price must be positive", domain.ErrInvalidInput)
	}

	next := entry.Clone()
	next.ListingPrice.Set(price)
	events := []*domain.LedgerEvent{
		l.newEvent(id, domain.EventTypeListed, func(e *domain.LedgerEvent) {
			e.Price = price.String()
		}),
	}

	if err := l.commit(ctx, next, events, nil); err != nil {
		return err
	}
	l.entries[id] = next

	logger.InfoCtx(ctx, "Token listed", zap.Uint64("tokenID", uint64(id)), zap.String("price", price.String()))

	l.outbox.enqueue(ctx, events)
	return nil
}

// Cancel clears the caller's active listing
func (l *ledger) Cancel(ctx context.Context, caller string, id domain.TokenID) error {
	caller, err := requireCaller(caller)
	if err != nil {
		return err
	}

	defer l.outbox.drain()
	l.mu.Lock()
	defer l.mu.Unlock()

	entry, err := l.entry(id)
	if err != nil {
		return err
	}
	if !domain.SameAddress(entry.Owner, caller) {
		return fmt.Errorf("%w: token %d", domain.ErrNotOwner, id)
	}
	if !entry.Listed() {
		return fmt.Errorf("%w: token %d", domain.ErrNotListed, id)
	}

	next := entry.Clone()
	next.ListingPrice.SetInt64(0)
	events := []*domain.LedgerEvent{
		l.newEvent(id, domain.EventTypeListingCancelled, nil),
	}

	if err := l.commit(ctx, next, events, nil); err != nil {
		return err
	}
	l.entries[id] = next

	logger.InfoCtx(ctx, "Listing cancelled", zap.Uint64("tokenID", uint64(id)))

	l.outbox.enqueue(ctx, events)
	return nil
}

// Buy forwards the payment to the seller, transfers ownership and clears the listing.
// Either all three happen or none.
func (l *ledger) Buy(ctx context.Context, caller string, id domain.TokenID, payment *big.Int) error {
	caller, err := requireCaller(caller)
	if err != nil {
		return err
	}

	defer l.outbox.drain()
	l.mu.Lock()
	defer l.mu.Unlock()

	entry, err := l.entry(id)
	if err != nil {
		return err
	}
	if !entry.Listed() {
		return fmt.Errorf("%w: token %d", domain.ErrNotListed, id)
	}
	if payment == nil || payment.Cmp(entry.ListingPrice) != 0 {
		return fmt.Errorf("%w: token %d is listed at %s wei", domain.ErrWrongValue, id, entry.ListingPrice)
	}

	seller := entry.Owner
	price := new(big.Int).Set(entry.ListingPrice)

	next := entry.Clone()
	next.Owner = caller
	next.ListingPrice.SetInt64(0)
	events := []*domain.LedgerEvent{
		l.newEvent(id, domain.EventTypeBought, func(e *domain.LedgerEvent) {
			e.Buyer = &caller
			e.Price = price.String()
		}),
		l.newEvent(id, domain.EventTypeTransfer, func(e *domain.LedgerEvent) {
			e.FromAddress = &seller
			e.ToAddress = &caller
		}),
	}

	forward := func(ctx context.Context) error {
		if l.forwarder == nil {
			return nil
		}
		if err := l.forwarder.Forward(ctx, caller, seller, price); err != nil {
			return fmt.Errorf("%w: %v", domain.ErrPaymentFailed, err)
		}
		return nil
	}

	if err := l.commit(ctx, next, events, forward); err != nil {
		return err
	}
	l.entries[id] = next

	logger.InfoCtx(ctx, "Token bought",
		zap.Uint64("tokenID", uint64(id)),
		zap.String("seller", seller),
		zap.String("buyer", caller),
		zap.String("price", price.String()))

	l.outbox.enqueue(ctx, events)
	return nil
}

// Restore replaces the in-memory state with the journal contents
func (l *ledger) Restore(ctx context.Context) error {
	if l.journal == nil {
		return nil
	}

	entries, err := l.journal.LoadEntries(ctx)
	if err != nil {
		return fmt.Errorf("failed to load ledger entries: %w", err)
	}
	for i, e := range entries {
		if e.TokenID != domain.TokenID(i) {
			return fmt.Errorf("ledger journal has a gap at token %d (found %d)", i, e.TokenID)
		}
		if e.ListingPrice == nil {
			e.ListingPrice = new(big.Int)
		}
	}

	latest, err := l.journal.LatestBlock(ctx)
	if err != nil {
		return fmt.Errorf("failed to load latest ledger block: %w", err)
	}

	l.mu.Lock()
	l.entries = entries
	l.sequence = latest
	l.mu.Unlock()

	logger.InfoCtx(ctx, "Ledger restored", zap.Int("supply", len(entries)), zap.Uint64("block", latest))
	return nil
}

// entry returns the entry for id; callers must hold the lock
func (l *ledger) entry(id domain.TokenID) (*domain.LedgerEntry, error) {
	if uint64(id) >= uint64(len(l.entries)) {
		return nil, fmt.Errorf("%w: token %d", domain.ErrNotFound, id)
	}
	return l.entries[id], nil
}

// commit persists the transition and runs inTx atomically with it.
// Without a journal inTx runs alone and its failure aborts the transition.
func (l *ledger) commit(ctx context.Context, next *domain.LedgerEntry, events []*domain.LedgerEvent, inTx func(ctx context.Context) error) error {
	l.pending = 0
	if err := l.persist(ctx, next, events, inTx); err != nil {
		return err
	}
	l.sequence++
	return nil
}

func (l *ledger) persist(ctx context.Context, next *domain.LedgerEntry, events []*domain.LedgerEvent, inTx func(ctx context.Context) error) error {
	if l.journal == nil {
		if inTx == nil {
			return nil
		}
		return inTx(ctx)
	}

	if inTx == nil {
		inTx = func(context.Context) error { return nil }
	}
	var txErr error
	err := l.journal.SaveTransition(ctx, next, events, func(ctx context.Context) error {
		txErr = inTx(ctx)
		return txErr
	})
	if txErr != nil {
		return txErr
	}
	if err != nil {
		return fmt.Errorf("failed to save ledger transition: %w", err)
	}
	return nil
}

// newEvent builds an event of the pending transition. All events of one
// transition share a block number and are ordered by TxIndex.
func (l *ledger) newEvent(id domain.TokenID, eventType domain.EventType, fill func(e *domain.LedgerEvent)) *domain.LedgerEvent {
	l.pending++
	e := &domain.LedgerEvent{
		ID:              ulid.Make().String(),
		Chain:           l.config.ChainID,
		ContractAddress: l.config.ContractAddress,
		EventType:       eventType,
		TokenID:         id,
		BlockNumber:     l.sequence + 1,
		TxIndex:         l.pending - 1,
		Timestamp:       l.clock.Now().UTC(),
	}
	if fill != nil {
		fill(e)
	}
	return e
}

// requireCaller rejects writes without a caller identity before any state is examined
func requireCaller(caller string) (string, error) {
	caller = strings.TrimSpace(caller)
	if caller == "" {
		return "", domain.ErrNotAuthorized
	}
	return domain.NormalizeAddress(caller), nil
}

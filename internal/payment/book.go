package payment

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/feral-file/ff-marketplace/internal/domain"
	"github.com/feral-file/ff-marketplace/internal/logger"
)

// Book is an in-memory proceeds ledger. Forwarding a payment credits the
// seller's withdrawable balance.
type Book struct {
	mu       sync.Mutex
	balances map[string]*big.Int
}

// NewBook creates an empty proceeds book
func NewBook() *Book {
	return &Book{balances: make(map[string]*big.Int)}
}

// Forward credits amount to the recipient
func (b *Book) Forward(ctx context.Context, from string, to string, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("%w: invalid amount", domain.ErrPaymentFailed)
	}
	to = strings.TrimSpace(to)
	if to == "" || to == domain.ETHEREUM_ZERO_ADDRESS {
		return fmt.Errorf("%w: invalid recipient %q", domain.ErrPaymentFailed, to)
	}

	key := domain.NormalizeAddress(to)

	b.mu.Lock()
	defer b.mu.Unlock()

	balance, ok := b.balances[key]
	if !ok {
		balance = new(big.Int)
		b.balances[key] = balance
	}
	balance.Add(balance, amount)

	logger.DebugCtx(ctx, "Proceeds credited",
		zap.String("from", from),
		zap.String("to", key),
		zap.String("amount", amount.String()))
	return nil
}

// BalanceOf returns the withdrawable balance of an account
func (b *Book) BalanceOf(account string) *big.Int {
	b.mu.Lock()
	defer b.mu.Unlock()

	if balance, ok := b.balances[domain.NormalizeAddress(account)]; ok {
		return new(big.Int).Set(balance)
	}
	return new(big.Int)
}

// Withdraw drains the account balance and returns the withdrawn amount
func (b *Book) Withdraw(account string) *big.Int {
	b.mu.Lock()
	defer b.mu.Unlock()

	key := domain.NormalizeAddress(account)
	balance, ok := b.balances[key]
	if !ok {
		return new(big.Int)
	}
	delete(b.balances, key)
	return balance
}

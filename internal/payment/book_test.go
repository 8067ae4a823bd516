package payment_test

import (
	"context"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/feral-file/ff-marketplace/internal/domain"
	"github.com/feral-file/ff-marketplace/internal/payment"
)

func TestBook_Forward(t *testing.T) {
	b := payment.NewBook()
	ctx := context.Background()
	seller := "0xd8da6bf26964af9d7eed9e03e53415d37aa96045"

	assert.NoError(t, b.Forward(ctx, "buyer", seller, big.NewInt(3)))
	assert.NoError(t, b.Forward(ctx, "buyer", "0xD8DA6BF26964AF9D7EED9E03E53415D37AA96045", big.NewInt(4)))

	assert.Equal(t, int64(7), b.BalanceOf(seller).Int64())
	assert.Equal(t, int64(0), b.BalanceOf("nobody").Int64())

	assert.Equal(t, int64(7), b.Withdraw(seller).Int64())
	assert.Equal(t, int64(0), b.BalanceOf(seller).Int64())
	assert.Equal(t, int64(0), b.Withdraw(seller).Int64())
}

func TestBook_ForwardRejects(t *testing.T) {
	b := payment.NewBook()
	ctx := context.Background()

	assert.ErrorIs(t, b.Forward(ctx, "buyer", "", big.NewInt(1)), domain.ErrPaymentFailed)
	assert.ErrorIs(t, b.Forward(ctx, "buyer", domain.ETHEREUM_ZERO_ADDRESS, big.NewInt(1)), domain.ErrPaymentFailed)
	assert.ErrorIs(t, b.Forward(ctx, "buyer", "seller", big.NewInt(-1)), domain.ErrPaymentFailed)
	assert.ErrorIs(t, b.Forward(ctx, "buyer", "seller", nil), domain.ErrPaymentFailed)
}

func TestBook_BalanceIsACopy(t *testing.T) {
	b := payment.NewBook()
	assert.NoError(t, b.Forward(context.Background(), "buyer", "seller", big.NewInt(10)))

	got := b.BalanceOf("seller")
	got.SetInt64(0)
	assert.Equal(t, int64(10), b.BalanceOf("seller").Int64())
}

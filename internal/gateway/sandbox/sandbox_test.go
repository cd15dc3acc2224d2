package sandbox

import (
	"context"
	"testing"

	"github.com/craftora/payline/internal/gateway/domain"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestTransfer_DeterministicReference(t *testing.T) {
	g := New(zap.NewNop())
	ctx := context.Background()

	req := domain.TransferRequest{
		IdempotencyKey:    "payout-123",
		Amount:            5000,
		BankName:          "Acme Bank",
		AccountNumber:     "123456789",
		AccountHolderName: "Jo Seller",
	}

	first, err := g.Transfer(ctx, req)
	assert.NoError(t, err)
	assert.Contains(t, first.Reference, "SBX-")

	second, err := g.Transfer(ctx, req)
	assert.NoError(t, err)
	assert.Equal(t, first.Reference, second.Reference)

	req.IdempotencyKey = "payout-456"
	other, err := g.Transfer(ctx, req)
	assert.NoError(t, err)
	assert.NotEqual(t, first.Reference, other.Reference)
}

func TestTransfer_FailAccountRejects(t *testing.T) {
	g := New(zap.NewNop())

	_, err := g.Transfer(context.Background(), domain.TransferRequest{
		IdempotencyKey: "payout-789",
		Amount:         5000,
		AccountNumber:  "FAIL-001",
	})
	assert.ErrorIs(t, err, domain.ErrTransferRejected)

	var gwErr *domain.GatewayError
	assert.ErrorAs(t, err, &gwErr)
	assert.Equal(t, "account_rejected", gwErr.Reason)
}

func TestTransfer_InvalidRequest(t *testing.T) {
	g := New(zap.NewNop())

	_, err := g.Transfer(context.Background(), domain.TransferRequest{
		IdempotencyKey: "payout-1",
		Amount:         0,
		AccountNumber:  "123",
	})
	assert.ErrorIs(t, err, domain.ErrTransferRejected)
}

// Package sandbox is the development gateway: transfers succeed
// deterministically unless the account number opts into failure.
package sandbox

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/craftora/payline/internal/gateway/domain"
	"go.uber.org/zap"
)

type Gateway struct {
	log *zap.Logger
}

func New(log *zap.Logger) *Gateway {
	return &Gateway{log: log.Named("gateway.sandbox")}
}

func (g *Gateway) Transfer(ctx context.Context, req domain.TransferRequest) (*domain.TransferResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if req.AccountNumber == "" || req.Amount <= 0 {
		return nil, &domain.GatewayError{Reason: "invalid_request"}
	}

	// Account numbers starting with FAIL simulate a bank-side rejection.
	if strings.HasPrefix(strings.ToUpper(req.AccountNumber), "FAIL") {
		g.log.Info("sandbox transfer rejected",
			zap.String("idempotency_key", req.IdempotencyKey),
		)
		return nil, &domain.GatewayError{Reason: "account_rejected", Message: "sandbox account configured to fail"}
	}

	// Deterministic reference: the same payout always yields the same one.
	sum := sha256.Sum256([]byte(req.IdempotencyKey))
	ref := "SBX-" + strings.ToUpper(hex.EncodeToString(sum[:8]))

	g.log.Info("sandbox transfer accepted",
		zap.String("idempotency_key", req.IdempotencyKey),
		zap.String("reference", ref),
		zap.Int64("amount", req.Amount),
	)
	return &domain.TransferResult{Reference: ref}, nil
}

package service

import (
	"context"
	"math/rand"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/craftora/payline/internal/audit/domain"
	balancedomain "github.com/craftora/payline/internal/balance/domain"
	balancerepo "github.com/craftora/payline/internal/balance/repository"
	balanceservice "github.com/craftora/payline/internal/balance/service"
	"github.com/craftora/payline/internal/clock"
	"github.com/craftora/payline/internal/config"
	"github.com/craftora/payline/internal/ledger/domain"
	ledgerrepo "github.com/craftora/payline/internal/ledger/repository"
	payoutdomain "github.com/craftora/payline/internal/payout/domain"
	payoutrepo "github.com/craftora/payline/internal/payout/repository"
	payoutservice "github.com/craftora/payline/internal/payout/service"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type auditStub struct{}

func (auditStub) AuditLog(ctx context.Context, sellerID *snowflake.ID, actorType string, actorID *string, action string, targetType string, targetID *string, metadata map[string]any) error {
	return nil
}

func (auditStub) List(ctx context.Context, req auditdomain.ListAuditLogRequest) (auditdomain.ListAuditLogResponse, error) {
	return auditdomain.ListAuditLogResponse{}, nil
}

// Every write path that moves money touches the ledger and the aggregate in
// the same transaction, so an arbitrary interleaving of credits, settlements,
// adjustments and payouts must reconcile after every single step.
func TestReconcile_RandomOperationSequence(t *testing.T) {
	db, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{})
	if err != nil {
		t.Fatal(err)
	}
	if err := db.AutoMigrate(
		&balancedomain.SellerBalance{},
		&domain.BalanceTransaction{},
		&payoutdomain.PayoutRequest{},
		&payoutdomain.PayoutStatusHistory{},
	); err != nil {
		t.Fatal(err)
	}

	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatal(err)
	}
	fakeClock := clock.NewFakeClock(time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC))
	cfg := config.Config{
		MinimumPayoutAmount: 1000,
		MaxBalanceThreshold: 100_000_000,
		MaxHoldDays:         30,
		PayoutMaxRetries:    3,
		PayoutRetryBackoff:  24 * time.Hour,
	}

	ledgerSvc := NewService(Params{
		DB:          db,
		Log:         zap.NewNop(),
		GenID:       node,
		Clock:       fakeClock,
		Repo:        ledgerrepo.Provide(),
		BalanceRepo: balancerepo.Provide(),
	})
	balanceSvc := balanceservice.NewService(balanceservice.Params{
		Config:     cfg,
		DB:         db,
		Log:        zap.NewNop(),
		GenID:      node,
		Clock:      fakeClock,
		Repo:       balancerepo.Provide(),
		LedgerRepo: ledgerrepo.Provide(),
		Audit:      auditStub{},
	})
	payoutSvc := payoutservice.NewService(payoutservice.Params{
		Config:      cfg,
		DB:          db,
		Log:         zap.NewNop(),
		GenID:       node,
		Clock:       fakeClock,
		Repo:        payoutrepo.Provide(),
		BalanceRepo: balancerepo.Provide(),
		LedgerRepo:  ledgerrepo.Provide(),
		Audit:       auditStub{},
	})

	ctx := context.Background()
	const sellerID = snowflake.ID(77)
	if err := db.Create(&balancedomain.SellerBalance{
		ID:                1,
		SellerID:          sellerID,
		Status:            balancedomain.AccountStatusActive,
		BankVerified:      true,
		BankName:          "Acme Bank",
		BankCode:          "ACME",
		AccountNumber:     "123456789",
		AccountHolderName: "Jo Seller",
		PayoutSchedule:    balancedomain.PayoutScheduleWeekly,
	}).Error; err != nil {
		t.Fatal(err)
	}

	ledgerRepo := ledgerrepo.Provide()
	rng := rand.New(rand.NewSource(1))
	available := int64(0)

	type pendingCredit struct {
		entryID snowflake.ID
		amount  int64
	}
	var pending []pendingCredit
	nextOrderID := snowflake.ID(1000)

	check := func(step int) {
		t.Helper()
		result, err := ledgerSvc.Reconcile(ctx, sellerID)
		assert.NoError(t, err)
		assert.True(t, result.Balanced, "step %d: ledger %d vs available %d", step, result.LedgerBalance, result.AvailableBalance)
		assert.Equal(t, available, result.LedgerBalance, "step %d", step)
	}

	for step := 0; step < 60; step++ {
		fakeClock.Advance(time.Minute)
		amount := int64(rng.Intn(9000) + 1000)

		switch rng.Intn(5) {
		case 0: // settled order credit
			nextOrderID++
			_, err := ledgerSvc.RecordOrderPayment(ctx, domain.RecordOrderPaymentRequest{
				SellerID:       sellerID,
				OrderID:        nextOrderID,
				GrossAmount:    amount,
				CurrentBalance: available,
			})
			assert.NoError(t, err)
			_, err = balanceSvc.AddToAvailable(ctx, sellerID, amount, fakeClock.Now())
			assert.NoError(t, err)
			available += amount

		case 1: // order credit still clearing
			nextOrderID++
			entry, err := ledgerSvc.RecordOrderPayment(ctx, domain.RecordOrderPaymentRequest{
				SellerID:       sellerID,
				OrderID:        nextOrderID,
				GrossAmount:    amount,
				CurrentBalance: available,
				IsPending:      true,
			})
			assert.NoError(t, err)
			_, err = balanceSvc.AddToPending(ctx, sellerID, amount)
			assert.NoError(t, err)
			pending = append(pending, pendingCredit{entryID: entry.ID, amount: amount})

		case 2: // settle the oldest clearing credit
			if len(pending) == 0 {
				continue
			}
			head := pending[0]
			pending = pending[1:]
			settled, err := ledgerRepo.MarkSettled(ctx, db, head.entryID, fakeClock.Now())
			assert.NoError(t, err)
			assert.True(t, settled)
			_, err = balanceSvc.SettlePending(ctx, sellerID, head.amount, fakeClock.Now())
			assert.NoError(t, err)
			available += head.amount

		case 3: // admin adjustment, both directions
			if rng.Intn(2) == 1 && available > 0 {
				amount = -(rng.Int63n(available) + 1)
			}
			_, err := balanceSvc.AdminAdjust(ctx, sellerID, amount, "sequence", "admin-1")
			assert.NoError(t, err)
			available += amount

		case 4: // payout round trip, cancelled or completed
			if available < cfg.MinimumPayoutAmount {
				continue
			}
			if amount > available {
				amount = available
			}
			payout, err := payoutSvc.Create(ctx, payoutdomain.CreatePayoutRequest{
				SellerID:    sellerID,
				Amount:      amount,
				RequestType: payoutdomain.RequestTypeManual,
				ActorID:     "seller-77",
			})
			assert.NoError(t, err)
			available -= amount
			check(step)

			if rng.Intn(2) == 0 {
				_, err = payoutSvc.Cancel(ctx, payout.ID, "sequence", "seller-77")
				assert.NoError(t, err)
				available += amount
			} else {
				_, err = payoutSvc.StartProcessing(ctx, payout.ID)
				assert.NoError(t, err)
				_, err = payoutSvc.MarkCompleted(ctx, payout.ID, "TRX-SEQ")
				assert.NoError(t, err)
			}
		}

		check(step)
	}
}

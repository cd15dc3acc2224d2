package service

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/craftora/payline/internal/audit/domain"
	balancedomain "github.com/craftora/payline/internal/balance/domain"
	balancerepo "github.com/craftora/payline/internal/balance/repository"
	"github.com/craftora/payline/internal/clock"
	"github.com/craftora/payline/internal/config"
	ledgerdomain "github.com/craftora/payline/internal/ledger/domain"
	ledgerrepo "github.com/craftora/payline/internal/ledger/repository"
	"github.com/craftora/payline/internal/payout/domain"
	payoutrepo "github.com/craftora/payline/internal/payout/repository"
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

func newTestService(t *testing.T) (domain.Service, *gorm.DB, *clock.FakeClock) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{})
	if err != nil {
		t.Fatal(err)
	}
	if err := db.AutoMigrate(
		&balancedomain.SellerBalance{},
		&ledgerdomain.BalanceTransaction{},
		&domain.PayoutRequest{},
		&domain.PayoutStatusHistory{},
	); err != nil {
		t.Fatal(err)
	}

	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatal(err)
	}
	fakeClock := clock.NewFakeClock(time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC))

	svc := NewService(Params{
		Config: config.Config{
			MinimumPayoutAmount: 1000,
			MaxBalanceThreshold: 50000,
			MaxHoldDays:         30,
			PayoutMaxRetries:    2,
			PayoutRetryBackoff:  24 * time.Hour,
		},
		DB:          db,
		Log:         zap.NewNop(),
		GenID:       node,
		Clock:       fakeClock,
		Repo:        payoutrepo.Provide(),
		BalanceRepo: balancerepo.Provide(),
		LedgerRepo:  ledgerrepo.Provide(),
		Audit:       auditStub{},
	})
	return svc, db, fakeClock
}

func seedBalance(t *testing.T, db *gorm.DB, sellerID snowflake.ID, available int64) {
	t.Helper()
	err := db.Create(&balancedomain.SellerBalance{
		ID:                sellerID + 1000000,
		SellerID:          sellerID,
		AvailableBalance:  available,
		Status:            balancedomain.AccountStatusActive,
		BankVerified:      true,
		BankName:          "Acme Bank",
		BankCode:          "ACME",
		AccountNumber:     "123456789",
		AccountHolderName: "Jo Seller",
		PayoutSchedule:    balancedomain.PayoutScheduleWeekly,
	}).Error
	if err != nil {
		t.Fatal(err)
	}
}

func TestCreate_CommitsDeductionAndLedgerEntry(t *testing.T) {
	svc, db, _ := newTestService(t)
	ctx := context.Background()
	seedBalance(t, db, 1, 10000)

	payout, err := svc.Create(ctx, domain.CreatePayoutRequest{
		SellerID:    1,
		Amount:      8000,
		RequestType: domain.RequestTypeManual,
		ActorID:     "seller-1",
	})
	assert.NoError(t, err)
	assert.Equal(t, domain.PayoutStatusPending, payout.Status)
	assert.Equal(t, int64(8000), payout.Amount)
	assert.Equal(t, int64(8000), payout.NetAmount)
	assert.Equal(t, "Acme Bank", payout.BankName)
	assert.Equal(t, "123456789", payout.AccountNumber)

	var balance balancedomain.SellerBalance
	assert.NoError(t, db.Where("seller_id = ?", 1).First(&balance).Error)
	assert.Equal(t, int64(2000), balance.AvailableBalance)
	assert.Equal(t, int64(8000), balance.TotalPaidOut)

	var entry ledgerdomain.BalanceTransaction
	assert.NoError(t, db.Where("seller_id = ? AND ref_type = ?", 1, "payout_request").First(&entry).Error)
	assert.Equal(t, int64(-8000), entry.Amount)
	assert.Equal(t, int64(2000), entry.BalanceAfter)

	history, err := svc.History(ctx, payout.ID)
	assert.NoError(t, err)
	assert.Len(t, history, 1)
	assert.Equal(t, domain.PayoutStatusPending, history[0].ToStatus)
	assert.Equal(t, "seller-1", history[0].ActorID)
}

func TestCreate_OnlyOneOpenPayout(t *testing.T) {
	svc, db, _ := newTestService(t)
	ctx := context.Background()
	seedBalance(t, db, 2, 10000)

	_, err := svc.Create(ctx, domain.CreatePayoutRequest{
		SellerID: 2, Amount: 3000, RequestType: domain.RequestTypeManual,
	})
	assert.NoError(t, err)

	_, err = svc.Create(ctx, domain.CreatePayoutRequest{
		SellerID: 2, Amount: 2000, RequestType: domain.RequestTypeManual,
	})
	assert.ErrorIs(t, err, domain.ErrOpenPayoutExists)
}

func TestCreate_Validation(t *testing.T) {
	svc, db, _ := newTestService(t)
	ctx := context.Background()
	seedBalance(t, db, 3, 10000)

	_, err := svc.Create(ctx, domain.CreatePayoutRequest{SellerID: 3, Amount: 0, RequestType: domain.RequestTypeManual})
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)

	_, err = svc.Create(ctx, domain.CreatePayoutRequest{SellerID: 3, Amount: 1000, RequestType: "urgent"})
	assert.ErrorIs(t, err, domain.ErrInvalidRequestType)

	// Below the platform floor.
	_, err = svc.Create(ctx, domain.CreatePayoutRequest{SellerID: 3, Amount: 500, RequestType: domain.RequestTypeManual})
	assert.ErrorIs(t, err, balancedomain.ErrInvalidAmount)

	_, err = svc.Create(ctx, domain.CreatePayoutRequest{SellerID: 3, Amount: 20000, RequestType: domain.RequestTypeManual})
	assert.ErrorIs(t, err, balancedomain.ErrInsufficientBalance)

	assert.NoError(t, db.Model(&balancedomain.SellerBalance{}).Where("seller_id = ?", 3).
		Update("bank_verified", false).Error)
	_, err = svc.Create(ctx, domain.CreatePayoutRequest{SellerID: 3, Amount: 2000, RequestType: domain.RequestTypeManual})
	assert.ErrorIs(t, err, balancedomain.ErrInvalidBankDetails)
}

func TestCreate_CountsSettledEntriesInPeriod(t *testing.T) {
	svc, db, _ := newTestService(t)
	ctx := context.Background()
	seedBalance(t, db, 13, 10000)

	lastPayout := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	assert.NoError(t, db.Model(&balancedomain.SellerBalance{}).Where("seller_id = ?", 13).
		Update("last_payout_at", lastPayout).Error)

	entry := func(id snowflake.ID, status ledgerdomain.TransactionStatus, createdAt time.Time) *ledgerdomain.BalanceTransaction {
		return &ledgerdomain.BalanceTransaction{
			ID:           id,
			SellerID:     13,
			Type:         ledgerdomain.TransactionTypeOrderPayment,
			Amount:       1000,
			BalanceAfter: 1000,
			Status:       status,
			RefType:      "order",
			RefID:        id,
			CreatedAt:    createdAt,
		}
	}
	// Before the last payout: outside the period.
	assert.NoError(t, db.Create(entry(101, ledgerdomain.TransactionStatusSettled, lastPayout.AddDate(0, 0, -5))).Error)
	// Inside the period and settled: counted.
	assert.NoError(t, db.Create(entry(102, ledgerdomain.TransactionStatusSettled, lastPayout.AddDate(0, 0, 2))).Error)
	assert.NoError(t, db.Create(entry(103, ledgerdomain.TransactionStatusSettled, lastPayout.AddDate(0, 0, 4))).Error)
	// Inside the period but still pending: not counted.
	assert.NoError(t, db.Create(entry(104, ledgerdomain.TransactionStatusPending, lastPayout.AddDate(0, 0, 6))).Error)

	payout, err := svc.Create(ctx, domain.CreatePayoutRequest{
		SellerID: 13, Amount: 2000, RequestType: domain.RequestTypeManual,
	})
	assert.NoError(t, err)
	assert.NotNil(t, payout.PeriodStart)
	assert.Equal(t, lastPayout, payout.PeriodStart.UTC())
	assert.Equal(t, int64(2), payout.PeriodTransactionCount)
}

func TestCancel_RestoresBalance(t *testing.T) {
	svc, db, _ := newTestService(t)
	ctx := context.Background()
	seedBalance(t, db, 4, 10000)

	payout, err := svc.Create(ctx, domain.CreatePayoutRequest{
		SellerID: 4, Amount: 8000, RequestType: domain.RequestTypeManual,
	})
	assert.NoError(t, err)

	cancelled, err := svc.Cancel(ctx, payout.ID, "changed my mind", "seller-4")
	assert.NoError(t, err)
	assert.Equal(t, domain.PayoutStatusCancelled, cancelled.Status)
	assert.NotNil(t, cancelled.CancelledAt)

	var balance balancedomain.SellerBalance
	assert.NoError(t, db.Where("seller_id = ?", 4).First(&balance).Error)
	assert.Equal(t, int64(10000), balance.AvailableBalance)
	assert.Equal(t, int64(0), balance.TotalPaidOut)

	// The deduction stays in the ledger; a compensating credit joins it.
	var entry ledgerdomain.BalanceTransaction
	assert.NoError(t, db.Where("seller_id = ? AND ref_type = ?", 4, "payout_cancel").First(&entry).Error)
	assert.Equal(t, int64(8000), entry.Amount)
	assert.Equal(t, int64(10000), entry.BalanceAfter)

	_, err = svc.Cancel(ctx, payout.ID, "again", "seller-4")
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
}

func TestStartProcessing_ClaimsOnce(t *testing.T) {
	svc, db, _ := newTestService(t)
	ctx := context.Background()
	seedBalance(t, db, 5, 10000)

	payout, err := svc.Create(ctx, domain.CreatePayoutRequest{
		SellerID: 5, Amount: 5000, RequestType: domain.RequestTypeManual,
	})
	assert.NoError(t, err)

	claimed, err := svc.StartProcessing(ctx, payout.ID)
	assert.NoError(t, err)
	assert.Equal(t, domain.PayoutStatusProcessing, claimed.Status)
	assert.NotNil(t, claimed.ProcessedAt)

	_, err = svc.StartProcessing(ctx, payout.ID)
	assert.ErrorIs(t, err, domain.ErrAlreadyClaimed)
}

func TestMarkCompleted(t *testing.T) {
	svc, db, _ := newTestService(t)
	ctx := context.Background()
	seedBalance(t, db, 6, 10000)

	payout, err := svc.Create(ctx, domain.CreatePayoutRequest{
		SellerID: 6, Amount: 5000, RequestType: domain.RequestTypeManual,
	})
	assert.NoError(t, err)

	// Completing straight from pending is not allowed.
	_, err = svc.MarkCompleted(ctx, payout.ID, "TRX-1")
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	_, err = svc.StartProcessing(ctx, payout.ID)
	assert.NoError(t, err)

	done, err := svc.MarkCompleted(ctx, payout.ID, "TRX-1")
	assert.NoError(t, err)
	assert.Equal(t, domain.PayoutStatusCompleted, done.Status)
	assert.Equal(t, "TRX-1", done.BankReference)
	assert.NotNil(t, done.CompletedAt)

	var balance balancedomain.SellerBalance
	assert.NoError(t, db.Where("seller_id = ?", 6).First(&balance).Error)
	assert.NotNil(t, balance.NextScheduledPayout)
}

func TestMarkFailed_RetryBackoffThenExhaustion(t *testing.T) {
	svc, db, fakeClock := newTestService(t)
	ctx := context.Background()
	seedBalance(t, db, 7, 10000)

	payout, err := svc.Create(ctx, domain.CreatePayoutRequest{
		SellerID: 7, Amount: 5000, RequestType: domain.RequestTypeManual,
	})
	assert.NoError(t, err)

	_, err = svc.StartProcessing(ctx, payout.ID)
	assert.NoError(t, err)

	failed, err := svc.MarkFailed(ctx, payout.ID, "bank rejected transfer")
	assert.NoError(t, err)
	assert.Equal(t, 1, failed.RetryCount)
	assert.NotNil(t, failed.NextRetryAt)
	assert.Equal(t, fakeClock.Now().Add(24*time.Hour), *failed.NextRetryAt)
	assert.True(t, failed.CanRetry())

	requeued, err := svc.Requeue(ctx, payout.ID)
	assert.NoError(t, err)
	assert.Equal(t, domain.PayoutStatusPending, requeued.Status)
	assert.Nil(t, requeued.NextRetryAt)

	_, err = svc.StartProcessing(ctx, payout.ID)
	assert.NoError(t, err)

	failed, err = svc.MarkFailed(ctx, payout.ID, "bank rejected transfer")
	assert.NoError(t, err)
	assert.Equal(t, 2, failed.RetryCount)
	assert.Nil(t, failed.NextRetryAt)
	assert.False(t, failed.CanRetry())
	assert.True(t, failed.IsTerminal())

	_, err = svc.Requeue(ctx, payout.ID)
	assert.ErrorIs(t, err, domain.ErrRetriesExhausted)
}

func TestMarkFailed_BeforeClaim(t *testing.T) {
	svc, db, _ := newTestService(t)
	ctx := context.Background()
	seedBalance(t, db, 11, 10000)

	payout, err := svc.Create(ctx, domain.CreatePayoutRequest{
		SellerID: 11, Amount: 5000, RequestType: domain.RequestTypeManual,
	})
	assert.NoError(t, err)

	// A payout can fail straight from pending, before any worker claims it.
	failed, err := svc.MarkFailed(ctx, payout.ID, "bank details rejected up front")
	assert.NoError(t, err)
	assert.Equal(t, domain.PayoutStatusFailed, failed.Status)
	assert.Equal(t, 1, failed.RetryCount)
	assert.NotNil(t, failed.NextRetryAt)
}

func TestPutOnHold_WhileProcessing(t *testing.T) {
	svc, db, _ := newTestService(t)
	ctx := context.Background()
	seedBalance(t, db, 12, 10000)

	payout, err := svc.Create(ctx, domain.CreatePayoutRequest{
		SellerID: 12, Amount: 5000, RequestType: domain.RequestTypeManual,
	})
	assert.NoError(t, err)

	_, err = svc.StartProcessing(ctx, payout.ID)
	assert.NoError(t, err)

	held, err := svc.PutOnHold(ctx, payout.ID, "suspicious destination", "admin-1")
	assert.NoError(t, err)
	assert.Equal(t, domain.PayoutStatusOnHold, held.Status)

	// Release re-queues it; the gateway attempt restarts from scratch.
	released, err := svc.ReleaseHold(ctx, payout.ID, "admin-1")
	assert.NoError(t, err)
	assert.Equal(t, domain.PayoutStatusPending, released.Status)
}

func TestHoldAndRelease(t *testing.T) {
	svc, db, _ := newTestService(t)
	ctx := context.Background()
	seedBalance(t, db, 8, 10000)

	payout, err := svc.Create(ctx, domain.CreatePayoutRequest{
		SellerID: 8, Amount: 5000, RequestType: domain.RequestTypeManual,
	})
	assert.NoError(t, err)

	held, err := svc.PutOnHold(ctx, payout.ID, "manual review", "admin-1")
	assert.NoError(t, err)
	assert.Equal(t, domain.PayoutStatusOnHold, held.Status)
	assert.Equal(t, "manual review", held.HoldReason)

	// Held payouts cannot be picked up for processing.
	_, err = svc.StartProcessing(ctx, payout.ID)
	assert.ErrorIs(t, err, domain.ErrAlreadyClaimed)

	released, err := svc.ReleaseHold(ctx, payout.ID, "admin-1")
	assert.NoError(t, err)
	assert.Equal(t, domain.PayoutStatusPending, released.Status)
	assert.Empty(t, released.HoldReason)
}

func TestForceRetry_ResetsBudget(t *testing.T) {
	svc, db, _ := newTestService(t)
	ctx := context.Background()
	seedBalance(t, db, 9, 10000)

	payout, err := svc.Create(ctx, domain.CreatePayoutRequest{
		SellerID: 9, Amount: 5000, RequestType: domain.RequestTypeManual,
	})
	assert.NoError(t, err)

	_, err = svc.StartProcessing(ctx, payout.ID)
	assert.NoError(t, err)
	_, err = svc.MarkFailed(ctx, payout.ID, "rejected")
	assert.NoError(t, err)
	_, err = svc.Requeue(ctx, payout.ID)
	assert.NoError(t, err)
	_, err = svc.StartProcessing(ctx, payout.ID)
	assert.NoError(t, err)
	_, err = svc.MarkFailed(ctx, payout.ID, "rejected")
	assert.NoError(t, err)

	reset, err := svc.ForceRetry(ctx, payout.ID, "admin-1")
	assert.NoError(t, err)
	assert.Equal(t, 0, reset.RetryCount)
	assert.NotNil(t, reset.NextRetryAt)
	assert.True(t, reset.CanRetry())
}

func TestFindProcessableAndRetryable(t *testing.T) {
	svc, db, fakeClock := newTestService(t)
	ctx := context.Background()
	seedBalance(t, db, 10, 10000)

	payout, err := svc.Create(ctx, domain.CreatePayoutRequest{
		SellerID: 10, Amount: 5000, RequestType: domain.RequestTypeManual,
	})
	assert.NoError(t, err)

	processable, err := svc.FindProcessable(ctx, 10)
	assert.NoError(t, err)
	assert.Len(t, processable, 1)
	assert.Equal(t, payout.ID, processable[0].ID)

	_, err = svc.StartProcessing(ctx, payout.ID)
	assert.NoError(t, err)
	_, err = svc.MarkFailed(ctx, payout.ID, "rejected")
	assert.NoError(t, err)

	// Not retryable until the backoff elapses.
	retryable, err := svc.FindRetryable(ctx, 10)
	assert.NoError(t, err)
	assert.Empty(t, retryable)

	fakeClock.Advance(25 * time.Hour)
	retryable, err = svc.FindRetryable(ctx, 10)
	assert.NoError(t, err)
	assert.Len(t, retryable, 1)
}

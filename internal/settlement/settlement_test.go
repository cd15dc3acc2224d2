package settlement

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
	"github.com/craftora/payline/internal/gateway/sandbox"
	ledgerdomain "github.com/craftora/payline/internal/ledger/domain"
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

func newTestSettler(t *testing.T) (*Settler, payoutdomain.Service, *gorm.DB, *clock.FakeClock) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{})
	if err != nil {
		t.Fatal(err)
	}
	if err := db.AutoMigrate(
		&balancedomain.SellerBalance{},
		&ledgerdomain.BalanceTransaction{},
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
	log := zap.NewNop()

	appCfg := config.Config{
		MinimumPayoutAmount: 1000,
		MaxBalanceThreshold: 50000,
		MaxHoldDays:         30,
		PayoutMaxRetries:    3,
		PayoutRetryBackoff:  24 * time.Hour,
	}

	payoutSvc := payoutservice.NewService(payoutservice.Params{
		Config:      appCfg,
		DB:          db,
		Log:         log,
		GenID:       node,
		Clock:       fakeClock,
		Repo:        payoutrepo.Provide(),
		BalanceRepo: balancerepo.Provide(),
		LedgerRepo:  ledgerrepo.Provide(),
		Audit:       auditStub{},
	})

	settler, err := New(Params{
		DB:          db,
		Log:         log,
		AppConfig:   appCfg,
		GenID:       node,
		Clock:       fakeClock,
		BalanceRepo: balancerepo.Provide(),
		LedgerRepo:  ledgerrepo.Provide(),
		PayoutSvc:   payoutSvc,
		Gateway:     sandbox.New(log),
		Config:      Config{BatchSize: 10, DelayHours: 72, JobTimeout: 30 * time.Second},
	})
	if err != nil {
		t.Fatal(err)
	}
	return settler, payoutSvc, db, fakeClock
}

func seedBalance(t *testing.T, db *gorm.DB, b balancedomain.SellerBalance) {
	t.Helper()
	if b.ID == 0 {
		b.ID = b.SellerID + 1000000
	}
	if b.Status == "" {
		b.Status = balancedomain.AccountStatusActive
	}
	if b.BankName == "" {
		b.BankName = "Acme Bank"
		b.BankCode = "ACME"
		b.AccountNumber = "123456789"
		b.AccountHolderName = "Jo Seller"
		b.BankVerified = true
	}
	if b.PayoutSchedule == "" {
		b.PayoutSchedule = balancedomain.PayoutScheduleWeekly
	}
	if err := db.Create(&b).Error; err != nil {
		t.Fatal(err)
	}
}

func TestSettlePendingJob_PromotesAndCredits(t *testing.T) {
	settler, _, db, fakeClock := newTestSettler(t)
	ctx := context.Background()

	seedBalance(t, db, balancedomain.SellerBalance{SellerID: 1, PendingBalance: 5000})

	old := fakeClock.Now().Add(-100 * time.Hour)
	fresh := fakeClock.Now().Add(-1 * time.Hour)
	assert.NoError(t, db.Create(&ledgerdomain.BalanceTransaction{
		ID:        10,
		SellerID:  1,
		Type:      ledgerdomain.TransactionTypeOrderPayment,
		Amount:    3000,
		Status:    ledgerdomain.TransactionStatusPending,
		RefType:   "order",
		RefID:     100,
		CreatedAt: old,
	}).Error)
	assert.NoError(t, db.Create(&ledgerdomain.BalanceTransaction{
		ID:        11,
		SellerID:  1,
		Type:      ledgerdomain.TransactionTypeOrderPayment,
		Amount:    2000,
		Status:    ledgerdomain.TransactionStatusPending,
		RefType:   "order",
		RefID:     101,
		CreatedAt: fresh,
	}).Error)

	assert.NoError(t, settler.SettlePendingJob(ctx))

	// Only the entry past the settlement delay moves.
	var entry ledgerdomain.BalanceTransaction
	assert.NoError(t, db.First(&entry, "id = ?", 10).Error)
	assert.Equal(t, ledgerdomain.TransactionStatusSettled, entry.Status)
	assert.NotNil(t, entry.SettledAt)

	var freshEntry ledgerdomain.BalanceTransaction
	assert.NoError(t, db.First(&freshEntry, "id = ?", 11).Error)
	assert.Equal(t, ledgerdomain.TransactionStatusPending, freshEntry.Status)

	var balance balancedomain.SellerBalance
	assert.NoError(t, db.Where("seller_id = ?", 1).First(&balance).Error)
	assert.Equal(t, int64(3000), balance.AvailableBalance)
	assert.Equal(t, int64(2000), balance.PendingBalance)

	// Re-running is a no-op.
	assert.NoError(t, settler.SettlePendingJob(ctx))
	assert.NoError(t, db.Where("seller_id = ?", 1).First(&balance).Error)
	assert.Equal(t, int64(3000), balance.AvailableBalance)
	assert.Equal(t, int64(2000), balance.PendingBalance)
}

func TestScheduledPayoutsJob(t *testing.T) {
	settler, _, db, fakeClock := newTestSettler(t)
	ctx := context.Background()

	due := fakeClock.Now().Add(-time.Hour)
	seedBalance(t, db, balancedomain.SellerBalance{
		SellerID:            2,
		AvailableBalance:    5000,
		AutoPayoutEnabled:   true,
		NextScheduledPayout: &due,
	})

	assert.NoError(t, settler.ScheduledPayoutsJob(ctx))

	var payout payoutdomain.PayoutRequest
	assert.NoError(t, db.Where("seller_id = ?", 2).First(&payout).Error)
	assert.Equal(t, payoutdomain.RequestTypeScheduled, payout.RequestType)
	assert.Equal(t, int64(5000), payout.Amount)

	var balance balancedomain.SellerBalance
	assert.NoError(t, db.Where("seller_id = ?", 2).First(&balance).Error)
	assert.Equal(t, int64(0), balance.AvailableBalance)

	// A second sweep skips the seller while the payout is open.
	assert.NoError(t, settler.ScheduledPayoutsJob(ctx))
	var count int64
	assert.NoError(t, db.Model(&payoutdomain.PayoutRequest{}).Where("seller_id = ?", 2).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestForcedPayoutsJob_BalanceCap(t *testing.T) {
	settler, _, db, _ := newTestSettler(t)
	ctx := context.Background()

	seedBalance(t, db, balancedomain.SellerBalance{SellerID: 3, AvailableBalance: 60000})

	assert.NoError(t, settler.ForcedPayoutsJob(ctx))

	var payout payoutdomain.PayoutRequest
	assert.NoError(t, db.Where("seller_id = ?", 3).First(&payout).Error)
	assert.Equal(t, payoutdomain.RequestTypeForced, payout.RequestType)
	assert.Equal(t, int64(60000), payout.Amount)
}

func TestForcedPayoutsJob_RunsForSuspendedSeller(t *testing.T) {
	settler, _, db, _ := newTestSettler(t)
	ctx := context.Background()

	// Suspension blocks the seller's own payouts, not the platform's
	// obligation to release funds past the cap.
	seedBalance(t, db, balancedomain.SellerBalance{
		SellerID:         9,
		AvailableBalance: 70000,
		Status:           balancedomain.AccountStatusSuspended,
	})

	assert.NoError(t, settler.ForcedPayoutsJob(ctx))

	var payout payoutdomain.PayoutRequest
	assert.NoError(t, db.Where("seller_id = ?", 9).First(&payout).Error)
	assert.Equal(t, payoutdomain.RequestTypeForced, payout.RequestType)
	assert.Equal(t, int64(70000), payout.Amount)
}

func TestForcedPayoutsJob_SkipsUnverifiedBank(t *testing.T) {
	settler, _, db, _ := newTestSettler(t)
	ctx := context.Background()

	seedBalance(t, db, balancedomain.SellerBalance{
		SellerID:          4,
		AvailableBalance:  60000,
		BankName:          "Acme Bank",
		AccountNumber:     "123456789",
		AccountHolderName: "Jo Seller",
		BankVerified:      false,
	})

	assert.NoError(t, settler.ForcedPayoutsJob(ctx))

	var count int64
	assert.NoError(t, db.Model(&payoutdomain.PayoutRequest{}).Where("seller_id = ?", 4).Count(&count).Error)
	assert.Equal(t, int64(0), count)
}

func TestProcessPayoutsJob_Completes(t *testing.T) {
	settler, payoutSvc, db, _ := newTestSettler(t)
	ctx := context.Background()

	seedBalance(t, db, balancedomain.SellerBalance{SellerID: 5, AvailableBalance: 10000})
	payout, err := payoutSvc.Create(ctx, payoutdomain.CreatePayoutRequest{
		SellerID: 5, Amount: 8000, RequestType: payoutdomain.RequestTypeManual,
	})
	assert.NoError(t, err)

	assert.NoError(t, settler.ProcessPayoutsJob(ctx))

	done, err := payoutSvc.Get(ctx, payout.ID)
	assert.NoError(t, err)
	assert.Equal(t, payoutdomain.PayoutStatusCompleted, done.Status)
	assert.Contains(t, done.BankReference, "SBX-")
	assert.NotNil(t, done.CompletedAt)
}

func TestProcessPayoutsJob_GatewayRejection(t *testing.T) {
	settler, payoutSvc, db, fakeClock := newTestSettler(t)
	ctx := context.Background()

	seedBalance(t, db, balancedomain.SellerBalance{
		SellerID:          6,
		AvailableBalance:  10000,
		BankName:          "Acme Bank",
		AccountNumber:     "FAIL-001",
		AccountHolderName: "Jo Seller",
		BankVerified:      true,
	})
	payout, err := payoutSvc.Create(ctx, payoutdomain.CreatePayoutRequest{
		SellerID: 6, Amount: 8000, RequestType: payoutdomain.RequestTypeManual,
	})
	assert.NoError(t, err)

	assert.NoError(t, settler.ProcessPayoutsJob(ctx))

	failed, err := payoutSvc.Get(ctx, payout.ID)
	assert.NoError(t, err)
	assert.Equal(t, payoutdomain.PayoutStatusFailed, failed.Status)
	assert.Equal(t, 1, failed.RetryCount)
	assert.NotNil(t, failed.NextRetryAt)

	// Once the backoff passes, the sweep puts it back in the queue.
	fakeClock.Advance(25 * time.Hour)
	assert.NoError(t, settler.RetrySweepJob(ctx))

	requeued, err := payoutSvc.Get(ctx, payout.ID)
	assert.NoError(t, err)
	assert.Equal(t, payoutdomain.PayoutStatusPending, requeued.Status)
}

func TestRunJob_SoftTimeout(t *testing.T) {
	settler, _, _, _ := newTestSettler(t)

	err := settler.runJob(context.Background(), "slow_job", time.Millisecond, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	assert.NoError(t, err)
}

func TestRunOnce_EnabledJobsFilter(t *testing.T) {
	settler, _, db, fakeClock := newTestSettler(t)
	ctx := context.Background()
	settler.cfg.EnabledJobs = []string{"settle_pending"}

	seedBalance(t, db, balancedomain.SellerBalance{SellerID: 7, PendingBalance: 1000})
	old := fakeClock.Now().Add(-100 * time.Hour)
	assert.NoError(t, db.Create(&ledgerdomain.BalanceTransaction{
		ID:        20,
		SellerID:  7,
		Type:      ledgerdomain.TransactionTypeOrderPayment,
		Amount:    1000,
		Status:    ledgerdomain.TransactionStatusPending,
		RefType:   "order",
		RefID:     700,
		CreatedAt: old,
	}).Error)

	due := fakeClock.Now().Add(-time.Hour)
	seedBalance(t, db, balancedomain.SellerBalance{
		SellerID:            8,
		AvailableBalance:    5000,
		AutoPayoutEnabled:   true,
		NextScheduledPayout: &due,
	})

	assert.NoError(t, settler.RunOnce(ctx))

	// The settlement sweep ran; the disabled payout sweep did not.
	var entry ledgerdomain.BalanceTransaction
	assert.NoError(t, db.First(&entry, "id = ?", 20).Error)
	assert.Equal(t, ledgerdomain.TransactionStatusSettled, entry.Status)

	var count int64
	assert.NoError(t, db.Model(&payoutdomain.PayoutRequest{}).Where("seller_id = ?", 8).Count(&count).Error)
	assert.Equal(t, int64(0), count)
}

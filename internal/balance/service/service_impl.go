package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/craftora/payline/internal/audit/domain"
	"github.com/craftora/payline/internal/balance/domain"
	"github.com/craftora/payline/internal/clock"
	"github.com/craftora/payline/internal/config"
	ledgerdomain "github.com/craftora/payline/internal/ledger/domain"
	obsmetrics "github.com/craftora/payline/internal/observability/metrics"
	"github.com/craftora/payline/internal/trigger"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	Config     config.Config
	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	Repo       domain.Repository
	LedgerRepo ledgerdomain.Repository
	Audit      auditdomain.Service
}

type Service struct {
	cfg        config.Config
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	clock      clock.Clock
	repo       domain.Repository
	ledgerRepo ledgerdomain.Repository
	audit      auditdomain.Service
}

func NewService(p Params) domain.Service {
	return &Service{
		cfg:        p.Config,
		db:         p.DB,
		log:        p.Log.Named("balance.service"),
		genID:      p.GenID,
		clock:      p.Clock,
		repo:       p.Repo,
		ledgerRepo: p.LedgerRepo,
		audit:      p.Audit,
	}
}

func (s *Service) Get(ctx context.Context, sellerID snowflake.ID) (*domain.SellerBalance, error) {
	return s.repo.Get(ctx, s.db, sellerID)
}

func (s *Service) GetOrCreate(ctx context.Context, sellerID snowflake.ID) (*domain.SellerBalance, error) {
	var balance *domain.SellerBalance
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var err error
		balance, err = s.repo.GetOrCreateForUpdate(ctx, tx, sellerID, s.genID.Generate(), s.clock.Now())
		return err
	})
	if err != nil {
		return nil, err
	}
	return balance, nil
}

// mutate runs fn against the locked aggregate and persists the result.
func (s *Service) mutate(ctx context.Context, sellerID snowflake.ID, fn func(tx *gorm.DB, b *domain.SellerBalance) error) (*domain.SellerBalance, error) {
	var balance *domain.SellerBalance
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var err error
		balance, err = s.repo.GetOrCreateForUpdate(ctx, tx, sellerID, s.genID.Generate(), s.clock.Now())
		if err != nil {
			return err
		}
		if err := fn(tx, balance); err != nil {
			return err
		}
		return s.repo.Save(ctx, tx, balance)
	})
	if err != nil {
		return nil, err
	}
	return balance, nil
}

func (s *Service) AddToAvailable(ctx context.Context, sellerID snowflake.ID, amount int64, transactionDate time.Time) (*domain.SellerBalance, error) {
	return s.mutate(ctx, sellerID, func(tx *gorm.DB, b *domain.SellerBalance) error {
		return b.ApplyAvailableCredit(amount, transactionDate)
	})
}

func (s *Service) AddToPending(ctx context.Context, sellerID snowflake.ID, amount int64) (*domain.SellerBalance, error) {
	return s.mutate(ctx, sellerID, func(tx *gorm.DB, b *domain.SellerBalance) error {
		return b.ApplyPendingCredit(amount)
	})
}

func (s *Service) SettlePending(ctx context.Context, sellerID snowflake.ID, amount int64, transactionDate time.Time) (*domain.SellerBalance, error) {
	return s.mutate(ctx, sellerID, func(tx *gorm.DB, b *domain.SellerBalance) error {
		return b.ApplySettlement(amount, transactionDate)
	})
}

func (s *Service) DeductPlatformFee(ctx context.Context, sellerID snowflake.ID, amount int64) error {
	_, err := s.mutate(ctx, sellerID, func(tx *gorm.DB, b *domain.SellerBalance) error {
		return b.ApplyPlatformFee(amount)
	})
	return err
}

func (s *Service) UpdatePayoutSettings(ctx context.Context, sellerID snowflake.ID, settings domain.PayoutSettings) (*domain.SellerBalance, error) {
	if !domain.ValidSchedule(settings.Schedule) {
		return nil, domain.ErrInvalidSchedule
	}
	if settings.MinimumPayoutAmount < 0 {
		return nil, domain.ErrInvalidAmount
	}
	return s.mutate(ctx, sellerID, func(tx *gorm.DB, b *domain.SellerBalance) error {
		b.PayoutSchedule = settings.Schedule
		b.AutoPayoutEnabled = settings.AutoPayoutEnabled
		if settings.MinimumPayoutAmount > 0 {
			b.MinimumPayoutAmount = settings.MinimumPayoutAmount
		}
		b.NextScheduledPayout = trigger.NextScheduledPayout(b.PayoutSchedule, s.clock.Now())
		return nil
	})
}

func (s *Service) UpdateBankDetails(ctx context.Context, sellerID snowflake.ID, details domain.BankDetails) (*domain.SellerBalance, error) {
	details.BankName = strings.TrimSpace(details.BankName)
	details.BankCode = strings.TrimSpace(details.BankCode)
	details.AccountNumber = strings.TrimSpace(details.AccountNumber)
	details.AccountHolderName = strings.TrimSpace(details.AccountHolderName)
	if details.BankName == "" || details.AccountNumber == "" || details.AccountHolderName == "" {
		return nil, domain.ErrInvalidBankDetails
	}
	return s.mutate(ctx, sellerID, func(tx *gorm.DB, b *domain.SellerBalance) error {
		b.BankName = details.BankName
		b.BankCode = details.BankCode
		b.AccountNumber = details.AccountNumber
		b.AccountHolderName = details.AccountHolderName
		// Any change invalidates the previous verification.
		b.BankVerified = false
		b.BankVerifiedAt = nil
		return nil
	})
}

func (s *Service) VerifyBankDetails(ctx context.Context, sellerID snowflake.ID, adminID string) (*domain.SellerBalance, error) {
	balance, err := s.mutate(ctx, sellerID, func(tx *gorm.DB, b *domain.SellerBalance) error {
		if b.AccountNumber == "" {
			return domain.ErrInvalidBankDetails
		}
		now := s.clock.Now().UTC()
		b.BankVerified = true
		b.BankVerifiedAt = &now
		if b.Status == domain.AccountStatusPendingVerification {
			b.Status = domain.AccountStatusActive
		}
		if b.NextScheduledPayout == nil {
			b.NextScheduledPayout = trigger.NextScheduledPayout(b.PayoutSchedule, now)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	targetID := sellerID.String()
	if err := s.audit.AuditLog(ctx, &sellerID, string(auditdomain.ActorTypeAdmin), &adminID,
		"balance.bank_verified", "seller_balance", &targetID, nil); err != nil {
		s.log.Warn("audit write failed", zap.Error(err))
	}
	return balance, nil
}

func (s *Service) SetStatus(ctx context.Context, sellerID snowflake.ID, status domain.AccountStatus, adminID string) (*domain.SellerBalance, error) {
	switch status {
	case domain.AccountStatusActive, domain.AccountStatusSuspended, domain.AccountStatusPendingVerification:
	default:
		return nil, domain.ErrInvalidStatus
	}

	balance, err := s.mutate(ctx, sellerID, func(tx *gorm.DB, b *domain.SellerBalance) error {
		b.Status = status
		return nil
	})
	if err != nil {
		return nil, err
	}

	targetID := sellerID.String()
	if err := s.audit.AuditLog(ctx, &sellerID, string(auditdomain.ActorTypeAdmin), &adminID,
		"balance.status_changed", "seller_balance", &targetID,
		map[string]any{"status": string(status)}); err != nil {
		s.log.Warn("audit write failed", zap.Error(err))
	}
	return balance, nil
}

// AdminAdjust applies a signed correction and appends the matching ledger
// entry in the same transaction, so a replay still reconciles.
func (s *Service) AdminAdjust(ctx context.Context, sellerID snowflake.ID, amount int64, note string, adminID string) (*domain.SellerBalance, error) {
	if amount == 0 {
		return nil, domain.ErrInvalidAmount
	}

	adjustmentID := s.genID.Generate()
	balance, err := s.mutate(ctx, sellerID, func(tx *gorm.DB, b *domain.SellerBalance) error {
		if err := b.ApplyAdjustment(amount, s.clock.Now()); err != nil {
			return err
		}
		now := s.clock.Now().UTC()
		_, err := s.ledgerRepo.Insert(ctx, tx, &ledgerdomain.BalanceTransaction{
			ID:           s.genID.Generate(),
			SellerID:     sellerID,
			Type:         ledgerdomain.TransactionTypeAdjustment,
			Amount:       amount,
			BalanceAfter: b.AvailableBalance,
			Status:       ledgerdomain.TransactionStatusSettled,
			RefType:      "adjustment",
			RefID:        adjustmentID,
			Description:  strings.TrimSpace(note),
			SettledAt:    &now,
			CreatedAt:    now,
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	obsmetrics.IncLedgerEntry(string(ledgerdomain.TransactionTypeAdjustment))
	targetID := sellerID.String()
	if err := s.audit.AuditLog(ctx, &sellerID, string(auditdomain.ActorTypeAdmin), &adminID,
		"balance.adjusted", "seller_balance", &targetID,
		map[string]any{"amount": amount, "note": note, "adjustment_id": adjustmentID.String()}); err != nil {
		s.log.Warn("audit write failed", zap.Error(err))
	}

	s.log.Info("balance adjusted",
		zap.String("seller_id", sellerID.String()),
		zap.Int64("amount", amount),
		zap.String("admin_id", adminID),
	)
	return balance, nil
}

package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/craftora/payline/internal/audit/domain"
	balancedomain "github.com/craftora/payline/internal/balance/domain"
	"github.com/craftora/payline/internal/clock"
	"github.com/craftora/payline/internal/config"
	ledgerdomain "github.com/craftora/payline/internal/ledger/domain"
	obsmetrics "github.com/craftora/payline/internal/observability/metrics"
	"github.com/craftora/payline/internal/payout/domain"
	"github.com/craftora/payline/internal/trigger"
	"github.com/craftora/payline/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	Config      config.Config
	DB          *gorm.DB
	Log         *zap.Logger
	GenID       *snowflake.Node
	Clock       clock.Clock
	Repo        domain.Repository
	BalanceRepo balancedomain.Repository
	LedgerRepo  ledgerdomain.Repository
	Audit       auditdomain.Service
}

type Service struct {
	cfg         config.Config
	db          *gorm.DB
	log         *zap.Logger
	genID       *snowflake.Node
	clock       clock.Clock
	repo        domain.Repository
	balanceRepo balancedomain.Repository
	ledgerRepo  ledgerdomain.Repository
	audit       auditdomain.Service
}

func NewService(p Params) domain.Service {
	return &Service{
		cfg:         p.Config,
		db:          p.DB,
		log:         p.Log.Named("payout.service"),
		genID:       p.GenID,
		clock:       p.Clock,
		repo:        p.Repo,
		balanceRepo: p.BalanceRepo,
		ledgerRepo:  p.LedgerRepo,
		audit:       p.Audit,
	}
}

func (s *Service) thresholds() trigger.Thresholds {
	return trigger.Thresholds{
		MaxBalanceThreshold: s.cfg.MaxBalanceThreshold,
		MaxHoldDays:         s.cfg.MaxHoldDays,
		MinPayoutAmount:     s.cfg.MinimumPayoutAmount,
	}
}

func (s *Service) Create(ctx context.Context, req domain.CreatePayoutRequest) (*domain.PayoutRequest, error) {
	switch req.RequestType {
	case domain.RequestTypeManual, domain.RequestTypeScheduled, domain.RequestTypeForced:
	default:
		return nil, domain.ErrInvalidRequestType
	}
	if req.Amount <= 0 {
		return nil, domain.ErrInvalidAmount
	}

	var payout *domain.PayoutRequest
	err := s.db.Transaction(func(tx *gorm.DB) error {
		// The balance row lock serializes payout creation per seller.
		balance, err := s.balanceRepo.GetForUpdate(ctx, tx, req.SellerID)
		if err != nil {
			return err
		}

		if req.RequestType == domain.RequestTypeManual {
			if err := trigger.CanRequestPayout(balance, s.thresholds(), req.Amount); err != nil {
				return err
			}
		} else {
			// Forced payouts run regardless of account status; only the
			// seller's own schedule is gated on an active account.
			if req.RequestType == domain.RequestTypeScheduled && balance.Status != balancedomain.AccountStatusActive {
				return balancedomain.ErrInvalidStatus
			}
			if !balance.BankVerified {
				return balancedomain.ErrInvalidBankDetails
			}
			if req.Amount > balance.AvailableBalance {
				return balancedomain.ErrInsufficientBalance
			}
		}

		open, err := s.repo.FindOpenBySeller(ctx, tx, req.SellerID)
		if err != nil {
			return err
		}
		if open != nil {
			return domain.ErrOpenPayoutExists
		}

		fee := s.cfg.PayoutProcessingFee
		if fee < 0 || fee >= req.Amount {
			fee = 0
		}

		now := s.clock.Now().UTC()
		payoutID := s.genID.Generate()

		// Count before inserting the deduction entry below, so the payout's
		// own ledger row is not part of its covered period.
		periodStart := balance.LastPayoutAt
		periodCount, err := s.ledgerRepo.CountSettledInPeriod(ctx, tx, req.SellerID, periodStart, now)
		if err != nil {
			return err
		}

		payout = &domain.PayoutRequest{
			ID:                     payoutID,
			SellerID:               req.SellerID,
			Amount:                 req.Amount,
			ProcessingFee:          fee,
			NetAmount:              req.Amount - fee,
			RequestType:            req.RequestType,
			Status:                 domain.PayoutStatusPending,
			BankName:               balance.BankName,
			BankCode:               balance.BankCode,
			AccountNumber:          balance.AccountNumber,
			AccountHolderName:      balance.AccountHolderName,
			PeriodStart:            periodStart,
			PeriodEnd:              &now,
			PeriodTransactionCount: periodCount,
			Notes:                  strings.TrimSpace(req.Notes),
			MaxRetries:             s.cfg.PayoutMaxRetries,
			CreatedAt:              now,
			UpdatedAt:              now,
		}

		if err := balance.ApplyPayoutDeduction(req.Amount, payoutID, now); err != nil {
			return err
		}

		if _, err := s.ledgerRepo.Insert(ctx, tx, &ledgerdomain.BalanceTransaction{
			ID:           s.genID.Generate(),
			SellerID:     req.SellerID,
			Type:         ledgerdomain.TransactionTypePayout,
			Amount:       -req.Amount,
			BalanceAfter: balance.AvailableBalance,
			Status:       ledgerdomain.TransactionStatusSettled,
			RefType:      "payout_request",
			RefID:        payoutID,
			SettledAt:    &now,
			CreatedAt:    now,
		}); err != nil {
			return err
		}

		if err := s.repo.Insert(ctx, tx, payout); err != nil {
			return err
		}
		actorType, actorID := actorFor(req)
		if err := s.appendHistory(ctx, tx, payout, "", domain.PayoutStatusPending, "created", actorType, actorID); err != nil {
			return err
		}
		return s.balanceRepo.Save(ctx, tx, balance)
	})
	if err != nil {
		return nil, err
	}

	obsmetrics.IncLedgerEntry(string(ledgerdomain.TransactionTypePayout))
	s.log.Info("payout created",
		zap.String("payout_id", payout.ID.String()),
		zap.String("seller_id", payout.SellerID.String()),
		zap.Int64("amount", payout.Amount),
		zap.String("request_type", string(payout.RequestType)),
	)
	return payout, nil
}

func actorFor(req domain.CreatePayoutRequest) (string, string) {
	if req.RequestType == domain.RequestTypeManual {
		return string(auditdomain.ActorTypeSeller), req.ActorID
	}
	return string(auditdomain.ActorTypeSystem), ""
}

func (s *Service) appendHistory(ctx context.Context, tx *gorm.DB, payout *domain.PayoutRequest, from, to domain.PayoutStatus, reason, actorType, actorID string) error {
	return s.repo.InsertHistory(ctx, tx, &domain.PayoutStatusHistory{
		ID:              s.genID.Generate(),
		PayoutRequestID: payout.ID,
		FromStatus:      from,
		ToStatus:        to,
		Reason:          reason,
		ActorType:       actorType,
		ActorID:         actorID,
		CreatedAt:       s.clock.Now().UTC(),
	})
}

func (s *Service) Get(ctx context.Context, payoutID snowflake.ID) (*domain.PayoutRequest, error) {
	return s.repo.Get(ctx, s.db, payoutID)
}

func (s *Service) History(ctx context.Context, payoutID snowflake.ID) ([]*domain.PayoutStatusHistory, error) {
	if _, err := s.repo.Get(ctx, s.db, payoutID); err != nil {
		return nil, err
	}
	return s.repo.ListHistory(ctx, s.db, payoutID)
}

func (s *Service) List(ctx context.Context, req domain.ListPayoutRequest) (domain.ListPayoutResponse, error) {
	if req.From != nil && req.To != nil && req.To.Before(*req.From) {
		return domain.ListPayoutResponse{}, domain.ErrInvalidTimeRange
	}

	var cursor *domain.Cursor
	if strings.TrimSpace(req.PageToken) != "" {
		decoded, err := pagination.DecodeCursor(req.PageToken)
		if err != nil {
			return domain.ListPayoutResponse{}, domain.ErrInvalidPageToken
		}
		createdAt, err := time.Parse(time.RFC3339Nano, decoded.CreatedAt)
		if err != nil {
			return domain.ListPayoutResponse{}, domain.ErrInvalidPageToken
		}
		id, err := snowflake.ParseString(strings.TrimSpace(decoded.ID))
		if err != nil || id == 0 {
			return domain.ListPayoutResponse{}, domain.ErrInvalidPageToken
		}
		cursor = &domain.Cursor{ID: id, CreatedAt: createdAt}
	}

	pageSize := req.PageSize
	if pageSize <= 0 {
		pageSize = 50
	}
	if pageSize > 250 {
		pageSize = 250
	}

	items, err := s.repo.List(ctx, s.db, domain.ListFilter{
		SellerID: req.SellerID,
		Status:   req.Status,
		From:     req.From,
		To:       req.To,
		Cursor:   cursor,
		Limit:    pageSize,
	})
	if err != nil {
		return domain.ListPayoutResponse{}, err
	}

	pageInfo := pagination.BuildCursorPageInfo(items, int32(pageSize), func(item *domain.PayoutRequest) string {
		token, err := pagination.EncodeCursor(pagination.Cursor{
			ID:        item.ID.String(),
			CreatedAt: item.CreatedAt.Format(time.RFC3339Nano),
		})
		if err != nil {
			return ""
		}
		return token
	})
	if pageInfo != nil && pageInfo.HasMore && len(items) > pageSize {
		items = items[:pageSize]
	}

	payouts := make([]domain.PayoutRequest, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		payouts = append(payouts, *item)
	}

	resp := domain.ListPayoutResponse{Payouts: payouts}
	if pageInfo != nil {
		resp.PageInfo = *pageInfo
	}
	return resp, nil
}

func (s *Service) Cancel(ctx context.Context, payoutID snowflake.ID, reason string, actorID string) (*domain.PayoutRequest, error) {
	var payout *domain.PayoutRequest
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var err error
		payout, err = s.repo.GetForUpdate(ctx, tx, payoutID)
		if err != nil {
			return err
		}
		if !domain.CanTransition(payout.Status, domain.PayoutStatusCancelled) {
			return domain.ErrInvalidTransition
		}

		balance, err := s.balanceRepo.GetForUpdate(ctx, tx, payout.SellerID)
		if err != nil {
			return err
		}

		now := s.clock.Now().UTC()
		if err := balance.ApplyPayoutRestore(payout.Amount, now); err != nil {
			return err
		}

		// Compensating credit so the ledger replay still reconciles.
		if _, err := s.ledgerRepo.Insert(ctx, tx, &ledgerdomain.BalanceTransaction{
			ID:           s.genID.Generate(),
			SellerID:     payout.SellerID,
			Type:         ledgerdomain.TransactionTypePayout,
			Amount:       payout.Amount,
			BalanceAfter: balance.AvailableBalance,
			Status:       ledgerdomain.TransactionStatusSettled,
			RefType:      "payout_cancel",
			RefID:        payout.ID,
			Description:  strings.TrimSpace(reason),
			SettledAt:    &now,
			CreatedAt:    now,
		}); err != nil {
			return err
		}

		from := payout.Status
		payout.Status = domain.PayoutStatusCancelled
		payout.CancelledAt = &now
		if err := s.repo.Save(ctx, tx, payout); err != nil {
			return err
		}
		if err := s.appendHistory(ctx, tx, payout, from, domain.PayoutStatusCancelled, reason,
			string(auditdomain.ActorTypeSeller), actorID); err != nil {
			return err
		}
		return s.balanceRepo.Save(ctx, tx, balance)
	})
	if err != nil {
		return nil, err
	}

	obsmetrics.IncPayoutOutcome(obsmetrics.OutcomeCancelled)
	s.log.Info("payout cancelled",
		zap.String("payout_id", payout.ID.String()),
		zap.String("seller_id", payout.SellerID.String()),
		zap.Int64("amount", payout.Amount),
	)
	return payout, nil
}

func (s *Service) StartProcessing(ctx context.Context, payoutID snowflake.ID) (*domain.PayoutRequest, error) {
	var payout *domain.PayoutRequest
	err := s.db.Transaction(func(tx *gorm.DB) error {
		now := s.clock.Now().UTC()
		claimed, err := s.repo.UpdateStatus(ctx, tx, payoutID, domain.PayoutStatusPending, domain.PayoutStatusProcessing, now)
		if err != nil {
			return err
		}
		if !claimed {
			if _, err := s.repo.Get(ctx, tx, payoutID); err != nil {
				return err
			}
			return domain.ErrAlreadyClaimed
		}

		payout, err = s.repo.GetForUpdate(ctx, tx, payoutID)
		if err != nil {
			return err
		}
		payout.ProcessedAt = &now
		if err := s.repo.Save(ctx, tx, payout); err != nil {
			return err
		}
		return s.appendHistory(ctx, tx, payout, domain.PayoutStatusPending, domain.PayoutStatusProcessing, "claimed for processing",
			string(auditdomain.ActorTypeSystem), "")
	})
	if err != nil {
		return nil, err
	}
	return payout, nil
}

func (s *Service) MarkCompleted(ctx context.Context, payoutID snowflake.ID, bankReference string) (*domain.PayoutRequest, error) {
	var payout *domain.PayoutRequest
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var err error
		payout, err = s.repo.GetForUpdate(ctx, tx, payoutID)
		if err != nil {
			return err
		}
		if !domain.CanTransition(payout.Status, domain.PayoutStatusCompleted) {
			return domain.ErrInvalidTransition
		}

		now := s.clock.Now().UTC()
		from := payout.Status
		payout.Status = domain.PayoutStatusCompleted
		payout.CompletedAt = &now
		payout.BankReference = strings.TrimSpace(bankReference)
		if err := s.repo.Save(ctx, tx, payout); err != nil {
			return err
		}
		if err := s.appendHistory(ctx, tx, payout, from, domain.PayoutStatusCompleted, "transfer confirmed",
			string(auditdomain.ActorTypeSystem), ""); err != nil {
			return err
		}

		// Schedule the next automatic run now that this one is done.
		balance, err := s.balanceRepo.GetForUpdate(ctx, tx, payout.SellerID)
		if err != nil {
			return err
		}
		balance.NextScheduledPayout = trigger.NextScheduledPayout(balance.PayoutSchedule, now)
		return s.balanceRepo.Save(ctx, tx, balance)
	})
	if err != nil {
		return nil, err
	}

	obsmetrics.IncPayoutOutcome(obsmetrics.OutcomeCompleted)
	s.log.Info("payout completed",
		zap.String("payout_id", payout.ID.String()),
		zap.String("seller_id", payout.SellerID.String()),
		zap.String("bank_reference", payout.BankReference),
	)
	return payout, nil
}

func (s *Service) MarkFailed(ctx context.Context, payoutID snowflake.ID, reason string) (*domain.PayoutRequest, error) {
	var payout *domain.PayoutRequest
	exhausted := false
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var err error
		payout, err = s.repo.GetForUpdate(ctx, tx, payoutID)
		if err != nil {
			return err
		}
		if !domain.CanTransition(payout.Status, domain.PayoutStatusFailed) {
			return domain.ErrInvalidTransition
		}

		now := s.clock.Now().UTC()
		from := payout.Status
		payout.Status = domain.PayoutStatusFailed
		payout.FailureReason = strings.TrimSpace(reason)
		payout.RetryCount++
		if payout.RetryCount < payout.MaxRetries {
			retryAt := now.Add(s.cfg.PayoutRetryBackoff)
			payout.NextRetryAt = &retryAt
		} else {
			payout.NextRetryAt = nil
			exhausted = true
		}
		if err := s.repo.Save(ctx, tx, payout); err != nil {
			return err
		}
		return s.appendHistory(ctx, tx, payout, from, domain.PayoutStatusFailed, reason,
			string(auditdomain.ActorTypeSystem), "")
	})
	if err != nil {
		return nil, err
	}

	if exhausted {
		obsmetrics.IncPayoutOutcome(obsmetrics.OutcomeExhausted)
		s.log.Error("payout retries exhausted",
			zap.String("payout_id", payout.ID.String()),
			zap.String("seller_id", payout.SellerID.String()),
			zap.String("reason", payout.FailureReason),
		)
	} else {
		obsmetrics.IncPayoutOutcome(obsmetrics.OutcomeFailed)
		s.log.Warn("payout failed, retry scheduled",
			zap.String("payout_id", payout.ID.String()),
			zap.Int("retry_count", payout.RetryCount),
			zap.Timep("next_retry_at", payout.NextRetryAt),
		)
	}
	return payout, nil
}

func (s *Service) Requeue(ctx context.Context, payoutID snowflake.ID) (*domain.PayoutRequest, error) {
	var payout *domain.PayoutRequest
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var err error
		payout, err = s.repo.GetForUpdate(ctx, tx, payoutID)
		if err != nil {
			return err
		}
		if payout.Status != domain.PayoutStatusFailed {
			return domain.ErrInvalidTransition
		}
		if !payout.CanRetry() {
			return domain.ErrRetriesExhausted
		}

		payout.Status = domain.PayoutStatusPending
		payout.NextRetryAt = nil
		if err := s.repo.Save(ctx, tx, payout); err != nil {
			return err
		}
		return s.appendHistory(ctx, tx, payout, domain.PayoutStatusFailed, domain.PayoutStatusPending,
			fmt.Sprintf("retry %d of %d", payout.RetryCount+1, payout.MaxRetries),
			string(auditdomain.ActorTypeSystem), "")
	})
	if err != nil {
		return nil, err
	}
	return payout, nil
}

func (s *Service) PutOnHold(ctx context.Context, payoutID snowflake.ID, reason string, adminID string) (*domain.PayoutRequest, error) {
	var payout *domain.PayoutRequest
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var err error
		payout, err = s.repo.GetForUpdate(ctx, tx, payoutID)
		if err != nil {
			return err
		}
		if !domain.CanTransition(payout.Status, domain.PayoutStatusOnHold) {
			return domain.ErrInvalidTransition
		}

		from := payout.Status
		payout.Status = domain.PayoutStatusOnHold
		payout.HoldReason = strings.TrimSpace(reason)
		if err := s.repo.Save(ctx, tx, payout); err != nil {
			return err
		}
		return s.appendHistory(ctx, tx, payout, from, domain.PayoutStatusOnHold, reason,
			string(auditdomain.ActorTypeAdmin), adminID)
	})
	if err != nil {
		return nil, err
	}

	sellerID := payout.SellerID
	targetID := payout.ID.String()
	if err := s.audit.AuditLog(ctx, &sellerID, string(auditdomain.ActorTypeAdmin), &adminID,
		"payout.held", "payout_request", &targetID,
		map[string]any{"reason": reason}); err != nil {
		s.log.Warn("audit write failed", zap.Error(err))
	}
	return payout, nil
}

func (s *Service) ReleaseHold(ctx context.Context, payoutID snowflake.ID, adminID string) (*domain.PayoutRequest, error) {
	var payout *domain.PayoutRequest
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var err error
		payout, err = s.repo.GetForUpdate(ctx, tx, payoutID)
		if err != nil {
			return err
		}
		if payout.Status != domain.PayoutStatusOnHold {
			return domain.ErrInvalidTransition
		}

		payout.Status = domain.PayoutStatusPending
		payout.HoldReason = ""
		if err := s.repo.Save(ctx, tx, payout); err != nil {
			return err
		}
		return s.appendHistory(ctx, tx, payout, domain.PayoutStatusOnHold, domain.PayoutStatusPending, "hold released",
			string(auditdomain.ActorTypeAdmin), adminID)
	})
	if err != nil {
		return nil, err
	}

	sellerID := payout.SellerID
	targetID := payout.ID.String()
	if err := s.audit.AuditLog(ctx, &sellerID, string(auditdomain.ActorTypeAdmin), &adminID,
		"payout.released", "payout_request", &targetID, nil); err != nil {
		s.log.Warn("audit write failed", zap.Error(err))
	}
	return payout, nil
}

func (s *Service) ForceRetry(ctx context.Context, payoutID snowflake.ID, adminID string) (*domain.PayoutRequest, error) {
	var payout *domain.PayoutRequest
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var err error
		payout, err = s.repo.GetForUpdate(ctx, tx, payoutID)
		if err != nil {
			return err
		}
		if payout.Status != domain.PayoutStatusFailed {
			return domain.ErrInvalidTransition
		}

		now := s.clock.Now().UTC()
		payout.RetryCount = 0
		payout.NextRetryAt = &now
		if err := s.repo.Save(ctx, tx, payout); err != nil {
			return err
		}
		return s.appendHistory(ctx, tx, payout, domain.PayoutStatusFailed, domain.PayoutStatusFailed, "retry budget reset",
			string(auditdomain.ActorTypeAdmin), adminID)
	})
	if err != nil {
		return nil, err
	}

	sellerID := payout.SellerID
	targetID := payout.ID.String()
	if err := s.audit.AuditLog(ctx, &sellerID, string(auditdomain.ActorTypeAdmin), &adminID,
		"payout.force_retry", "payout_request", &targetID, nil); err != nil {
		s.log.Warn("audit write failed", zap.Error(err))
	}
	return payout, nil
}

func (s *Service) FindProcessable(ctx context.Context, limit int) ([]*domain.PayoutRequest, error) {
	return s.repo.FindByStatus(ctx, s.db, domain.PayoutStatusPending, limit)
}

func (s *Service) FindRetryable(ctx context.Context, limit int) ([]*domain.PayoutRequest, error) {
	return s.repo.FindRetryable(ctx, s.db, s.clock.Now(), limit)
}

package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	balancedomain "github.com/craftora/payline/internal/balance/domain"
	"github.com/craftora/payline/internal/clock"
	ledgerdomain "github.com/craftora/payline/internal/ledger/domain"
	obsmetrics "github.com/craftora/payline/internal/observability/metrics"
	"github.com/craftora/payline/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB          *gorm.DB
	Log         *zap.Logger
	GenID       *snowflake.Node
	Clock       clock.Clock
	Repo        ledgerdomain.Repository
	BalanceRepo balancedomain.Repository
}

type Service struct {
	db          *gorm.DB
	log         *zap.Logger
	genID       *snowflake.Node
	clock       clock.Clock
	repo        ledgerdomain.Repository
	balanceRepo balancedomain.Repository
}

func NewService(p Params) ledgerdomain.Service {
	return &Service{
		db:          p.DB,
		log:         p.Log.Named("ledger.service"),
		genID:       p.GenID,
		clock:       p.Clock,
		repo:        p.Repo,
		balanceRepo: p.BalanceRepo,
	}
}

func (s *Service) RecordOrderPayment(ctx context.Context, req ledgerdomain.RecordOrderPaymentRequest) (*ledgerdomain.BalanceTransaction, error) {
	if req.SellerID == 0 {
		return nil, ledgerdomain.ErrInvalidSeller
	}
	if req.OrderID == 0 {
		return nil, ledgerdomain.ErrInvalidReference
	}
	if req.GrossAmount <= 0 || req.PlatformFee < 0 || req.GatewayFee < 0 {
		return nil, ledgerdomain.ErrInvalidAmount
	}

	net := ledgerdomain.NetAmount(req.GrossAmount, req.PlatformFee, req.GatewayFee)
	if net <= 0 {
		return nil, ledgerdomain.ErrInvalidFees
	}

	status := ledgerdomain.TransactionStatusSettled
	var settledAt *time.Time
	now := s.clock.Now().UTC()
	if req.IsPending {
		status = ledgerdomain.TransactionStatusPending
	} else {
		settledAt = &now
	}

	entry := &ledgerdomain.BalanceTransaction{
		ID:           s.genID.Generate(),
		SellerID:     req.SellerID,
		Type:         ledgerdomain.TransactionTypeOrderPayment,
		Amount:       net,
		BalanceAfter: req.CurrentBalance + net,
		Status:       status,
		RefType:      "order",
		RefID:        req.OrderID,
		RefNumber:    strings.TrimSpace(req.OrderNumber),
		GrossAmount:  req.GrossAmount,
		PlatformFee:  req.PlatformFee,
		GatewayFee:   req.GatewayFee,
		Description:  strings.TrimSpace(req.Description),
		SettledAt:    settledAt,
		CreatedAt:    now,
	}

	return s.insert(ctx, entry)
}

func (s *Service) RecordPayout(ctx context.Context, req ledgerdomain.RecordPayoutRequest) (*ledgerdomain.BalanceTransaction, error) {
	if req.SellerID == 0 {
		return nil, ledgerdomain.ErrInvalidSeller
	}
	if req.PayoutID == 0 {
		return nil, ledgerdomain.ErrInvalidReference
	}
	if req.Amount <= 0 {
		return nil, ledgerdomain.ErrInvalidAmount
	}

	now := s.clock.Now().UTC()
	entry := &ledgerdomain.BalanceTransaction{
		ID:           s.genID.Generate(),
		SellerID:     req.SellerID,
		Type:         ledgerdomain.TransactionTypePayout,
		Amount:       -req.Amount,
		BalanceAfter: req.CurrentBalance - req.Amount,
		Status:       ledgerdomain.TransactionStatusSettled,
		RefType:      "payout_request",
		RefID:        req.PayoutID,
		SettledAt:    &now,
		CreatedAt:    now,
	}

	return s.insert(ctx, entry)
}

func (s *Service) RecordRefund(ctx context.Context, req ledgerdomain.RecordRefundRequest) (*ledgerdomain.BalanceTransaction, error) {
	if req.SellerID == 0 {
		return nil, ledgerdomain.ErrInvalidSeller
	}
	if req.RefundID == 0 {
		return nil, ledgerdomain.ErrInvalidReference
	}
	if req.Amount <= 0 {
		return nil, ledgerdomain.ErrInvalidAmount
	}

	now := s.clock.Now().UTC()
	entry := &ledgerdomain.BalanceTransaction{
		ID:           s.genID.Generate(),
		SellerID:     req.SellerID,
		Type:         ledgerdomain.TransactionTypeRefund,
		Amount:       -req.Amount,
		BalanceAfter: req.CurrentBalance - req.Amount,
		Status:       ledgerdomain.TransactionStatusSettled,
		RefType:      "refund",
		RefID:        req.RefundID,
		Description:  strings.TrimSpace(req.Description),
		SettledAt:    &now,
		CreatedAt:    now,
	}

	return s.insert(ctx, entry)
}

func (s *Service) RecordAdjustment(ctx context.Context, req ledgerdomain.RecordAdjustmentRequest) (*ledgerdomain.BalanceTransaction, error) {
	if req.SellerID == 0 {
		return nil, ledgerdomain.ErrInvalidSeller
	}
	if req.AdjustmentID == 0 {
		return nil, ledgerdomain.ErrInvalidReference
	}
	if req.Amount == 0 {
		return nil, ledgerdomain.ErrInvalidAmount
	}

	now := s.clock.Now().UTC()
	entry := &ledgerdomain.BalanceTransaction{
		ID:           s.genID.Generate(),
		SellerID:     req.SellerID,
		Type:         ledgerdomain.TransactionTypeAdjustment,
		Amount:       req.Amount,
		BalanceAfter: req.CurrentBalance + req.Amount,
		Status:       ledgerdomain.TransactionStatusSettled,
		RefType:      "adjustment",
		RefID:        req.AdjustmentID,
		Description:  strings.TrimSpace(req.Description),
		SettledAt:    &now,
		CreatedAt:    now,
	}

	return s.insert(ctx, entry)
}

func (s *Service) insert(ctx context.Context, entry *ledgerdomain.BalanceTransaction) (*ledgerdomain.BalanceTransaction, error) {
	inserted, err := s.repo.Insert(ctx, s.db, entry)
	if err != nil {
		return nil, err
	}
	if !inserted {
		// Duplicate reference; return the entry recorded first.
		existing, err := s.repo.FindByRef(ctx, s.db, entry.SellerID, entry.Type, entry.RefType, entry.RefID)
		if err != nil {
			return nil, err
		}
		if existing == nil {
			return nil, ledgerdomain.ErrInvalidReference
		}
		s.log.Debug("duplicate ledger reference ignored",
			zap.String("seller_id", entry.SellerID.String()),
			zap.String("type", string(entry.Type)),
			zap.String("ref_type", entry.RefType),
			zap.String("ref_id", entry.RefID.String()),
		)
		return existing, nil
	}
	obsmetrics.IncLedgerEntry(string(entry.Type))
	return entry, nil
}

func (s *Service) FindReadyForSettlement(ctx context.Context, delayHours int, limit int) ([]*ledgerdomain.BalanceTransaction, error) {
	if delayHours < 0 {
		delayHours = 0
	}
	cutoff := s.clock.Now().UTC().Add(-time.Duration(delayHours) * time.Hour)
	return s.repo.FindReadyForSettlement(ctx, s.db, cutoff, limit)
}

func (s *Service) Summarize(ctx context.Context, sellerID snowflake.ID, from, to time.Time) (*ledgerdomain.Summary, error) {
	if sellerID == 0 {
		return nil, ledgerdomain.ErrInvalidSeller
	}
	if to.Before(from) {
		return nil, ledgerdomain.ErrInvalidTimeRange
	}
	return s.repo.Summarize(ctx, s.db, sellerID, from, to)
}

func (s *Service) List(ctx context.Context, req ledgerdomain.ListTransactionRequest) (ledgerdomain.ListTransactionResponse, error) {
	if req.SellerID == 0 {
		return ledgerdomain.ListTransactionResponse{}, ledgerdomain.ErrInvalidSeller
	}
	if req.From != nil && req.To != nil && req.To.Before(*req.From) {
		return ledgerdomain.ListTransactionResponse{}, ledgerdomain.ErrInvalidTimeRange
	}

	var cursor *ledgerdomain.Cursor
	if strings.TrimSpace(req.PageToken) != "" {
		decoded, err := pagination.DecodeCursor(req.PageToken)
		if err != nil {
			return ledgerdomain.ListTransactionResponse{}, ledgerdomain.ErrInvalidPageToken
		}
		createdAt, err := time.Parse(time.RFC3339Nano, decoded.CreatedAt)
		if err != nil {
			return ledgerdomain.ListTransactionResponse{}, ledgerdomain.ErrInvalidPageToken
		}
		id, err := snowflake.ParseString(strings.TrimSpace(decoded.ID))
		if err != nil || id == 0 {
			return ledgerdomain.ListTransactionResponse{}, ledgerdomain.ErrInvalidPageToken
		}
		cursor = &ledgerdomain.Cursor{ID: id, CreatedAt: createdAt}
	}

	pageSize := req.PageSize
	if pageSize <= 0 {
		pageSize = 50
	}
	if pageSize > 250 {
		pageSize = 250
	}

	items, err := s.repo.List(ctx, s.db, ledgerdomain.ListFilter{
		SellerID: req.SellerID,
		Type:     req.Type,
		Status:   req.Status,
		From:     req.From,
		To:       req.To,
		Cursor:   cursor,
		Limit:    pageSize,
	})
	if err != nil {
		return ledgerdomain.ListTransactionResponse{}, err
	}

	pageInfo := pagination.BuildCursorPageInfo(items, int32(pageSize), func(item *ledgerdomain.BalanceTransaction) string {
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

	transactions := make([]ledgerdomain.BalanceTransaction, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		transactions = append(transactions, *item)
	}

	resp := ledgerdomain.ListTransactionResponse{Transactions: transactions}
	if pageInfo != nil {
		resp.PageInfo = *pageInfo
	}
	return resp, nil
}

func (s *Service) Reconcile(ctx context.Context, sellerID snowflake.ID) (*ledgerdomain.ReconcileResult, error) {
	if sellerID == 0 {
		return nil, ledgerdomain.ErrInvalidSeller
	}

	balance, err := s.balanceRepo.Get(ctx, s.db, sellerID)
	if err != nil {
		if errors.Is(err, balancedomain.ErrNotFound) {
			return nil, err
		}
		return nil, err
	}

	total, count, err := s.repo.SumSettled(ctx, s.db, sellerID)
	if err != nil {
		return nil, err
	}

	result := &ledgerdomain.ReconcileResult{
		SellerID:         sellerID,
		LedgerBalance:    total,
		AvailableBalance: balance.AvailableBalance,
		Balanced:         total == balance.AvailableBalance,
		EntryCount:       count,
	}
	if !result.Balanced {
		s.log.Error("ledger reconciliation mismatch",
			zap.String("seller_id", sellerID.String()),
			zap.Int64("ledger_balance", total),
			zap.Int64("available_balance", balance.AvailableBalance),
		)
	}
	return result, nil
}

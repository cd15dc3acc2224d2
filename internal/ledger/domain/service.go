package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/craftora/payline/pkg/db/pagination"
	"gorm.io/gorm"
)

type RecordOrderPaymentRequest struct {
	SellerID       snowflake.ID
	OrderID        snowflake.ID
	OrderNumber    string
	GrossAmount    int64
	PlatformFee    int64
	GatewayFee     int64
	CurrentBalance int64
	IsPending      bool
	Description    string
}

type RecordPayoutRequest struct {
	SellerID       snowflake.ID
	PayoutID       snowflake.ID
	Amount         int64
	CurrentBalance int64
}

type RecordRefundRequest struct {
	SellerID       snowflake.ID
	RefundID       snowflake.ID
	Amount         int64
	CurrentBalance int64
	Description    string
}

type RecordAdjustmentRequest struct {
	SellerID       snowflake.ID
	AdjustmentID   snowflake.ID
	Amount         int64
	CurrentBalance int64
	Description    string
}

type ListTransactionRequest struct {
	pagination.Pagination
	SellerID snowflake.ID
	Type     TransactionType
	Status   TransactionStatus
	From     *time.Time
	To       *time.Time
}

type ListTransactionResponse struct {
	pagination.PageInfo
	Transactions []BalanceTransaction `json:"transactions"`
}

// ReconcileResult compares the ledger replay with the live aggregate.
type ReconcileResult struct {
	SellerID         snowflake.ID `json:"seller_id"`
	LedgerBalance    int64        `json:"ledger_balance"`
	AvailableBalance int64        `json:"available_balance"`
	Balanced         bool         `json:"balanced"`
	EntryCount       int64        `json:"entry_count"`
}

type Service interface {
	// RecordOrderPayment is the only entry point by which money enters the
	// ledger. Returns the created entry, or the existing one if the order was
	// already recorded.
	RecordOrderPayment(ctx context.Context, req RecordOrderPaymentRequest) (*BalanceTransaction, error)
	RecordPayout(ctx context.Context, req RecordPayoutRequest) (*BalanceTransaction, error)
	RecordRefund(ctx context.Context, req RecordRefundRequest) (*BalanceTransaction, error)
	RecordAdjustment(ctx context.Context, req RecordAdjustmentRequest) (*BalanceTransaction, error)

	FindReadyForSettlement(ctx context.Context, delayHours int, limit int) ([]*BalanceTransaction, error)
	Summarize(ctx context.Context, sellerID snowflake.ID, from, to time.Time) (*Summary, error)
	List(ctx context.Context, req ListTransactionRequest) (ListTransactionResponse, error)
	Reconcile(ctx context.Context, sellerID snowflake.ID) (*ReconcileResult, error)
}

type Repository interface {
	// Insert appends an entry idempotently on (seller_id, type, ref_type,
	// ref_id); returns false when the reference was already recorded.
	Insert(ctx context.Context, tx *gorm.DB, entry *BalanceTransaction) (bool, error)
	FindByRef(ctx context.Context, db *gorm.DB, sellerID snowflake.ID, txType TransactionType, refType string, refID snowflake.ID) (*BalanceTransaction, error)
	FindReadyForSettlement(ctx context.Context, db *gorm.DB, cutoff time.Time, limit int) ([]*BalanceTransaction, error)
	// MarkSettled flips a pending entry; returns false when it was already
	// settled, which makes the settlement sweep idempotent.
	MarkSettled(ctx context.Context, tx *gorm.DB, entryID snowflake.ID, settledAt time.Time) (bool, error)
	SumSettled(ctx context.Context, db *gorm.DB, sellerID snowflake.ID) (int64, int64, error)
	// CountSettledInPeriod counts the settled entries between from
	// (exclusive, nil for the beginning of time) and to (inclusive).
	CountSettledInPeriod(ctx context.Context, db *gorm.DB, sellerID snowflake.ID, from *time.Time, to time.Time) (int64, error)
	Summarize(ctx context.Context, db *gorm.DB, sellerID snowflake.ID, from, to time.Time) (*Summary, error)
	List(ctx context.Context, db *gorm.DB, filter ListFilter) ([]*BalanceTransaction, error)
}

type ListFilter struct {
	SellerID snowflake.ID
	Type     TransactionType
	Status   TransactionStatus
	From     *time.Time
	To       *time.Time
	Cursor   *Cursor
	Limit    int
}

type Cursor struct {
	ID        snowflake.ID
	CreatedAt time.Time
}

var (
	ErrInvalidSeller    = errors.New("invalid_seller")
	ErrInvalidAmount    = errors.New("invalid_amount")
	ErrInvalidReference = errors.New("invalid_reference")
	ErrInvalidFees      = errors.New("fees_exceed_gross_amount")
	ErrInvalidTimeRange = errors.New("invalid_time_range")
	ErrInvalidPageToken = errors.New("invalid_page_token")
)

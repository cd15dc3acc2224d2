package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/craftora/payline/pkg/db/pagination"
	"gorm.io/gorm"
)

type CreatePayoutRequest struct {
	SellerID    snowflake.ID
	Amount      int64
	RequestType RequestType
	Notes       string
	// ActorID is the seller or admin who asked; scheduler runs pass empty.
	ActorID string
}

type ListPayoutRequest struct {
	pagination.Pagination
	SellerID snowflake.ID
	Status   PayoutStatus
	From     *time.Time
	To       *time.Time
}

type ListPayoutResponse struct {
	pagination.PageInfo
	Payouts []PayoutRequest `json:"payouts"`
}

type Service interface {
	// Create commits funds to a payout: the balance deduction, the ledger
	// entry and the request row are written in one transaction.
	Create(ctx context.Context, req CreatePayoutRequest) (*PayoutRequest, error)
	Get(ctx context.Context, payoutID snowflake.ID) (*PayoutRequest, error)
	List(ctx context.Context, req ListPayoutRequest) (ListPayoutResponse, error)
	History(ctx context.Context, payoutID snowflake.ID) ([]*PayoutStatusHistory, error)

	// Cancel releases the committed funds back to the seller.
	Cancel(ctx context.Context, payoutID snowflake.ID, reason string, actorID string) (*PayoutRequest, error)

	// StartProcessing claims a pending payout for gateway submission. Returns
	// ErrAlreadyClaimed when another worker got there first.
	StartProcessing(ctx context.Context, payoutID snowflake.ID) (*PayoutRequest, error)
	MarkCompleted(ctx context.Context, payoutID snowflake.ID, bankReference string) (*PayoutRequest, error)
	// MarkFailed records a gateway failure and schedules a retry while budget
	// remains; the committed deduction stays in place either way.
	MarkFailed(ctx context.Context, payoutID snowflake.ID, reason string) (*PayoutRequest, error)
	// Requeue moves a retryable failed payout back to pending.
	Requeue(ctx context.Context, payoutID snowflake.ID) (*PayoutRequest, error)

	PutOnHold(ctx context.Context, payoutID snowflake.ID, reason string, adminID string) (*PayoutRequest, error)
	ReleaseHold(ctx context.Context, payoutID snowflake.ID, adminID string) (*PayoutRequest, error)
	// ForceRetry resets an exhausted payout's retry budget.
	ForceRetry(ctx context.Context, payoutID snowflake.ID, adminID string) (*PayoutRequest, error)

	FindProcessable(ctx context.Context, limit int) ([]*PayoutRequest, error)
	FindRetryable(ctx context.Context, limit int) ([]*PayoutRequest, error)
}

type Repository interface {
	Insert(ctx context.Context, tx *gorm.DB, payout *PayoutRequest) error
	Get(ctx context.Context, db *gorm.DB, payoutID snowflake.ID) (*PayoutRequest, error)
	GetForUpdate(ctx context.Context, tx *gorm.DB, payoutID snowflake.ID) (*PayoutRequest, error)
	// FindOpenBySeller returns the seller's open payout, if any; called under
	// the balance row lock so two creates cannot race past each other.
	FindOpenBySeller(ctx context.Context, tx *gorm.DB, sellerID snowflake.ID) (*PayoutRequest, error)
	Save(ctx context.Context, tx *gorm.DB, payout *PayoutRequest) error
	// UpdateStatus performs a guarded transition; returns false when the row
	// was not in fromStatus anymore.
	UpdateStatus(ctx context.Context, tx *gorm.DB, payoutID snowflake.ID, from, to PayoutStatus, updatedAt time.Time) (bool, error)

	InsertHistory(ctx context.Context, tx *gorm.DB, entry *PayoutStatusHistory) error
	ListHistory(ctx context.Context, db *gorm.DB, payoutID snowflake.ID) ([]*PayoutStatusHistory, error)

	FindByStatus(ctx context.Context, db *gorm.DB, status PayoutStatus, limit int) ([]*PayoutRequest, error)
	FindRetryable(ctx context.Context, db *gorm.DB, now time.Time, limit int) ([]*PayoutRequest, error)
	List(ctx context.Context, db *gorm.DB, filter ListFilter) ([]*PayoutRequest, error)
}

type ListFilter struct {
	SellerID snowflake.ID
	Status   PayoutStatus
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
	ErrNotFound           = errors.New("payout_not_found")
	ErrInvalidAmount      = errors.New("invalid_amount")
	ErrInvalidRequestType = errors.New("invalid_request_type")
	ErrOpenPayoutExists   = errors.New("open_payout_exists")
	ErrInvalidTransition  = errors.New("invalid_status_transition")
	ErrAlreadyClaimed     = errors.New("payout_already_claimed")
	ErrRetriesExhausted   = errors.New("payout_retries_exhausted")
	ErrInvalidPageToken   = errors.New("invalid_page_token")
	ErrInvalidTimeRange   = errors.New("invalid_time_range")
)

package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Service interface {
	Get(ctx context.Context, sellerID snowflake.ID) (*SellerBalance, error)
	GetOrCreate(ctx context.Context, sellerID snowflake.ID) (*SellerBalance, error)

	AddToAvailable(ctx context.Context, sellerID snowflake.ID, amount int64, transactionDate time.Time) (*SellerBalance, error)
	AddToPending(ctx context.Context, sellerID snowflake.ID, amount int64) (*SellerBalance, error)
	SettlePending(ctx context.Context, sellerID snowflake.ID, amount int64, transactionDate time.Time) (*SellerBalance, error)
	DeductPlatformFee(ctx context.Context, sellerID snowflake.ID, amount int64) error

	UpdatePayoutSettings(ctx context.Context, sellerID snowflake.ID, settings PayoutSettings) (*SellerBalance, error)
	UpdateBankDetails(ctx context.Context, sellerID snowflake.ID, details BankDetails) (*SellerBalance, error)
	VerifyBankDetails(ctx context.Context, sellerID snowflake.ID, adminID string) (*SellerBalance, error)
	SetStatus(ctx context.Context, sellerID snowflake.ID, status AccountStatus, adminID string) (*SellerBalance, error)
	AdminAdjust(ctx context.Context, sellerID snowflake.ID, amount int64, note string, adminID string) (*SellerBalance, error)
}

type Repository interface {
	Get(ctx context.Context, db *gorm.DB, sellerID snowflake.ID) (*SellerBalance, error)
	// GetForUpdate locks the aggregate row for the duration of the enclosing
	// transaction; every mutating read goes through it.
	GetForUpdate(ctx context.Context, tx *gorm.DB, sellerID snowflake.ID) (*SellerBalance, error)
	GetOrCreateForUpdate(ctx context.Context, tx *gorm.DB, sellerID snowflake.ID, newID snowflake.ID, now time.Time) (*SellerBalance, error)
	Save(ctx context.Context, tx *gorm.DB, balance *SellerBalance) error

	FindDueForScheduledPayout(ctx context.Context, db *gorm.DB, now time.Time, limit int) ([]*SellerBalance, error)
	FindNeedingForcedPayout(ctx context.Context, db *gorm.DB, maxBalance int64, unpaidBefore time.Time, limit int) ([]*SellerBalance, error)
}

var (
	ErrNotFound            = errors.New("balance_not_found")
	ErrInvalidAmount       = errors.New("invalid_amount")
	ErrInsufficientBalance = errors.New("insufficient_balance")
	ErrInsufficientPending = errors.New("insufficient_pending_balance")
	ErrInvalidSchedule     = errors.New("invalid_payout_schedule")
	ErrInvalidStatus       = errors.New("invalid_account_status")
	ErrInvalidBankDetails  = errors.New("invalid_bank_details")
)

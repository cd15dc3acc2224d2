package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

type PayoutSchedule string

const (
	PayoutScheduleWeekly  PayoutSchedule = "weekly"
	PayoutScheduleMonthly PayoutSchedule = "monthly"
	PayoutScheduleManual  PayoutSchedule = "manual"
)

type AccountStatus string

const (
	AccountStatusActive              AccountStatus = "active"
	AccountStatusSuspended           AccountStatus = "suspended"
	AccountStatusPendingVerification AccountStatus = "pending_verification"
)

// SellerBalance is the per-seller money aggregate. One row per seller,
// created lazily on the first earning event and mutated only under a
// row-level lock.
type SellerBalance struct {
	ID       snowflake.ID `gorm:"primaryKey" json:"id"`
	SellerID snowflake.ID `gorm:"not null;uniqueIndex:ux_seller_balances_seller" json:"seller_id"`

	// Amounts are minor units of the platform currency.
	AvailableBalance  int64 `gorm:"not null;default:0" json:"available_balance"`
	PendingBalance    int64 `gorm:"not null;default:0" json:"pending_balance"`
	TotalEarned       int64 `gorm:"not null;default:0" json:"total_earned"`
	TotalPaidOut      int64 `gorm:"not null;default:0" json:"total_paid_out"`
	TotalPlatformFees int64 `gorm:"not null;default:0" json:"total_platform_fees"`

	PayoutSchedule      PayoutSchedule `gorm:"type:text;not null;default:'weekly'" json:"payout_schedule"`
	AutoPayoutEnabled   bool           `gorm:"not null;default:true" json:"auto_payout_enabled"`
	MinimumPayoutAmount int64          `gorm:"not null;default:0" json:"minimum_payout_amount"`

	BankName          string     `gorm:"type:text" json:"bank_name"`
	BankCode          string     `gorm:"type:text" json:"bank_code"`
	AccountNumber     string     `gorm:"type:text" json:"account_number"`
	AccountHolderName string     `gorm:"type:text" json:"account_holder_name"`
	BankVerified      bool       `gorm:"not null;default:false" json:"bank_verified"`
	BankVerifiedAt    *time.Time `json:"bank_verified_at,omitempty"`

	OldestUnpaidTransactionDate *time.Time `json:"oldest_unpaid_transaction_date,omitempty"`

	LastPayoutAmount    *int64        `json:"last_payout_amount,omitempty"`
	LastPayoutAt        *time.Time    `json:"last_payout_at,omitempty"`
	LastPayoutRequestID *snowflake.ID `json:"last_payout_request_id,omitempty"`

	NextScheduledPayout *time.Time `json:"next_scheduled_payout,omitempty"`

	Status AccountStatus `gorm:"type:text;not null;default:'pending_verification'" json:"status"`

	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

func (SellerBalance) TableName() string { return "seller_balances" }

// TotalBalance is available plus pending.
func (b *SellerBalance) TotalBalance() int64 {
	return b.AvailableBalance + b.PendingBalance
}

type BankDetails struct {
	BankName          string
	BankCode          string
	AccountNumber     string
	AccountHolderName string
}

type PayoutSettings struct {
	Schedule            PayoutSchedule
	AutoPayoutEnabled   bool
	MinimumPayoutAmount int64
}

func ValidSchedule(s PayoutSchedule) bool {
	switch s {
	case PayoutScheduleWeekly, PayoutScheduleMonthly, PayoutScheduleManual:
		return true
	}
	return false
}

package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

type TransactionType string

const (
	TransactionTypeOrderPayment TransactionType = "order_payment"
	TransactionTypePayout       TransactionType = "payout"
	TransactionTypeRefund       TransactionType = "refund"
	TransactionTypeAdjustment   TransactionType = "adjustment"
)

type TransactionStatus string

const (
	TransactionStatusPending  TransactionStatus = "pending"
	TransactionStatusSettled  TransactionStatus = "settled"
	TransactionStatusReversed TransactionStatus = "reversed"
)

// BalanceTransaction is one append-only ledger entry. BalanceAfter is the
// available-balance snapshot taken when the entry was applied and is never
// recomputed; replaying settled entries in order must reproduce the live
// aggregate. After insert only Status and SettledAt ever change.
type BalanceTransaction struct {
	ID       snowflake.ID    `gorm:"primaryKey" json:"id"`
	SellerID snowflake.ID    `gorm:"not null;index:idx_balance_transactions_seller_created,priority:1;index:idx_balance_transactions_seller_type,priority:1;uniqueIndex:ux_balance_transactions_ref,priority:1" json:"seller_id"`
	Type     TransactionType `gorm:"type:text;not null;index:idx_balance_transactions_seller_type,priority:2;uniqueIndex:ux_balance_transactions_ref,priority:2" json:"type"`

	// Amount is signed: positive credits, negative debits.
	Amount       int64             `gorm:"not null" json:"amount"`
	BalanceAfter int64             `gorm:"not null" json:"balance_after"`
	Status       TransactionStatus `gorm:"type:text;not null;index" json:"status"`

	RefType   string       `gorm:"type:text;not null;uniqueIndex:ux_balance_transactions_ref,priority:3" json:"ref_type"`
	RefID     snowflake.ID `gorm:"not null;uniqueIndex:ux_balance_transactions_ref,priority:4" json:"ref_id"`
	RefNumber string       `gorm:"type:text" json:"ref_number,omitempty"`

	// Fee breakdown, present on earning entries only.
	GrossAmount int64 `gorm:"not null;default:0" json:"gross_amount,omitempty"`
	PlatformFee int64 `gorm:"not null;default:0" json:"platform_fee,omitempty"`
	GatewayFee  int64 `gorm:"not null;default:0" json:"gateway_fee,omitempty"`

	Description string     `gorm:"type:text" json:"description,omitempty"`
	SettledAt   *time.Time `json:"settled_at,omitempty"`
	CreatedAt   time.Time  `gorm:"not null;default:CURRENT_TIMESTAMP;index:idx_balance_transactions_seller_created,priority:2" json:"created_at"`
}

func (BalanceTransaction) TableName() string { return "balance_transactions" }

// IsCredit reports whether the entry adds money to the seller.
func (t *BalanceTransaction) IsCredit() bool { return t.Amount > 0 }

// NetAmount of an order payment after fees.
func NetAmount(gross, platformFee, gatewayFee int64) int64 {
	return gross - platformFee - gatewayFee
}

type TypeSummary struct {
	Type   TransactionType `json:"type"`
	Count  int64           `json:"count"`
	Amount int64           `json:"amount"`
}

// Summary aggregates ledger activity over a period.
type Summary struct {
	SellerID     snowflake.ID  `json:"seller_id"`
	From         time.Time     `json:"from"`
	To           time.Time     `json:"to"`
	ByType       []TypeSummary `json:"by_type"`
	TotalCredits int64         `json:"total_credits"`
	TotalDebits  int64         `json:"total_debits"`
	TotalFees    int64         `json:"total_fees"`
}

package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

type PayoutStatus string

const (
	PayoutStatusPending    PayoutStatus = "pending"
	PayoutStatusProcessing PayoutStatus = "processing"
	PayoutStatusCompleted  PayoutStatus = "completed"
	PayoutStatusFailed     PayoutStatus = "failed"
	PayoutStatusCancelled  PayoutStatus = "cancelled"
	PayoutStatusOnHold     PayoutStatus = "on_hold"
)

type RequestType string

const (
	RequestTypeManual    RequestType = "manual"
	RequestTypeScheduled RequestType = "scheduled"
	RequestTypeForced    RequestType = "forced"
)

// transitions is the full state machine. A payout not listed here cannot
// move; completed, cancelled and exhausted-failed are terminal.
var transitions = map[PayoutStatus][]PayoutStatus{
	PayoutStatusPending:    {PayoutStatusProcessing, PayoutStatusFailed, PayoutStatusCancelled, PayoutStatusOnHold},
	PayoutStatusProcessing: {PayoutStatusCompleted, PayoutStatusFailed, PayoutStatusOnHold},
	PayoutStatusFailed:     {PayoutStatusPending, PayoutStatusCancelled},
	PayoutStatusOnHold:     {PayoutStatusPending, PayoutStatusCancelled},
}

// CanTransition reports whether the state machine allows from -> to.
func CanTransition(from, to PayoutStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IsOpen reports whether the status still ties up committed funds. A seller
// may have at most one open payout at a time.
func IsOpen(status PayoutStatus) bool {
	switch status {
	case PayoutStatusPending, PayoutStatusProcessing, PayoutStatusFailed, PayoutStatusOnHold:
		return true
	}
	return false
}

// PayoutRequest is one withdrawal of committed funds. The amount is deducted
// from the seller's available balance in the same transaction that creates
// the row; cancellation is the only path that puts it back.
type PayoutRequest struct {
	ID       snowflake.ID `gorm:"primaryKey" json:"id"`
	SellerID snowflake.ID `gorm:"not null;index:idx_payout_requests_seller_created,priority:1;index:idx_payout_requests_seller_status_created,priority:1" json:"seller_id"`

	Amount        int64 `gorm:"not null" json:"amount"`
	ProcessingFee int64 `gorm:"not null;default:0" json:"processing_fee"`
	NetAmount     int64 `gorm:"not null" json:"net_amount"`

	RequestType RequestType  `gorm:"type:text;not null" json:"request_type"`
	Status      PayoutStatus `gorm:"type:text;not null;index;index:idx_payout_requests_seller_status_created,priority:2" json:"status"`

	// Bank details are snapshotted at creation so a later change on the
	// balance profile cannot redirect an in-flight payout.
	BankName          string `gorm:"type:text;not null" json:"bank_name"`
	BankCode          string `gorm:"type:text" json:"bank_code"`
	AccountNumber     string `gorm:"type:text;not null" json:"account_number"`
	AccountHolderName string `gorm:"type:text;not null" json:"account_holder_name"`

	// Earnings period this payout covers, and how many settled ledger
	// entries fall inside it.
	PeriodStart            *time.Time `json:"period_start,omitempty"`
	PeriodEnd              *time.Time `json:"period_end,omitempty"`
	PeriodTransactionCount int64      `gorm:"not null;default:0" json:"period_transaction_count"`

	Notes      string `gorm:"type:text" json:"notes,omitempty"`
	HoldReason string `gorm:"type:text" json:"hold_reason,omitempty"`

	FailureReason string     `gorm:"type:text" json:"failure_reason,omitempty"`
	RetryCount    int        `gorm:"not null;default:0" json:"retry_count"`
	MaxRetries    int        `gorm:"not null;default:3" json:"max_retries"`
	NextRetryAt   *time.Time `gorm:"index" json:"next_retry_at,omitempty"`
	BankReference string     `gorm:"type:text" json:"bank_reference,omitempty"`

	ProcessedAt *time.Time `json:"processed_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	CancelledAt *time.Time `json:"cancelled_at,omitempty"`

	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP;index:idx_payout_requests_seller_created,priority:2;index:idx_payout_requests_seller_status_created,priority:3" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

func (PayoutRequest) TableName() string { return "payout_requests" }

// CanRetry reports whether a failed payout still has retry budget left.
func (p *PayoutRequest) CanRetry() bool {
	return p.Status == PayoutStatusFailed && p.RetryCount < p.MaxRetries
}

// IsTerminal reports whether no further transition is possible.
func (p *PayoutRequest) IsTerminal() bool {
	switch p.Status {
	case PayoutStatusCompleted, PayoutStatusCancelled:
		return true
	case PayoutStatusFailed:
		return !p.CanRetry()
	}
	return false
}

// PayoutStatusHistory is the append-only audit trail of every transition.
type PayoutStatusHistory struct {
	ID              snowflake.ID `gorm:"primaryKey" json:"id"`
	PayoutRequestID snowflake.ID `gorm:"not null;index" json:"payout_request_id"`
	FromStatus      PayoutStatus `gorm:"type:text;not null" json:"from_status"`
	ToStatus        PayoutStatus `gorm:"type:text;not null" json:"to_status"`
	Reason          string       `gorm:"type:text" json:"reason,omitempty"`
	ActorType       string       `gorm:"type:text;not null" json:"actor_type"`
	ActorID         string       `gorm:"type:text" json:"actor_id,omitempty"`
	CreatedAt       time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
}

func (PayoutStatusHistory) TableName() string { return "payout_status_histories" }

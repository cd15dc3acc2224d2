package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// Mutations enforce the aggregate invariants: balances never go negative and
// lifetime counters never decrease. Insufficient funds are an explicit error,
// never a clamp, so the ledger replay always reconciles.

// ApplyAvailableCredit credits the withdrawable balance and tracks the oldest
// transaction that has not yet been paid out.
func (b *SellerBalance) ApplyAvailableCredit(amount int64, transactionDate time.Time) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}
	b.AvailableBalance += amount
	b.TotalEarned += amount
	transactionDate = transactionDate.UTC()
	if b.OldestUnpaidTransactionDate == nil || transactionDate.Before(*b.OldestUnpaidTransactionDate) {
		b.OldestUnpaidTransactionDate = &transactionDate
	}
	return nil
}

// ApplyPendingCredit parks earnings that are not yet eligible for withdrawal.
func (b *SellerBalance) ApplyPendingCredit(amount int64) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}
	b.PendingBalance += amount
	return nil
}

// ApplySettlement moves funds from pending to available.
func (b *SellerBalance) ApplySettlement(amount int64, transactionDate time.Time) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}
	if b.PendingBalance < amount {
		return ErrInsufficientPending
	}
	b.PendingBalance -= amount
	return b.ApplyAvailableCredit(amount, transactionDate)
}

// ApplyPayoutDeduction commits funds to a payout. The available balance drops
// immediately so a concurrent request cannot double-spend it.
func (b *SellerBalance) ApplyPayoutDeduction(amount int64, payoutRequestID snowflake.ID, now time.Time) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}
	if b.AvailableBalance < amount {
		return ErrInsufficientBalance
	}
	b.AvailableBalance -= amount
	b.TotalPaidOut += amount

	paidAt := now.UTC()
	b.LastPayoutAmount = &amount
	b.LastPayoutAt = &paidAt
	if payoutRequestID != 0 {
		id := payoutRequestID
		b.LastPayoutRequestID = &id
	}

	if b.AvailableBalance == 0 {
		b.OldestUnpaidTransactionDate = nil
	}
	return nil
}

// ApplyPayoutRestore is the compensating credit for a cancelled payout. The
// lifetime counter is rolled back as well because the money never left.
func (b *SellerBalance) ApplyPayoutRestore(amount int64, transactionDate time.Time) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}
	b.AvailableBalance += amount
	b.TotalPaidOut -= amount
	transactionDate = transactionDate.UTC()
	if b.OldestUnpaidTransactionDate == nil || transactionDate.Before(*b.OldestUnpaidTransactionDate) {
		b.OldestUnpaidTransactionDate = &transactionDate
	}
	return nil
}

// ApplyPlatformFee records the fee taken by the platform. Fees are already
// netted out of credited amounts, so balances are untouched.
func (b *SellerBalance) ApplyPlatformFee(amount int64) error {
	if amount < 0 {
		return ErrInvalidAmount
	}
	b.TotalPlatformFees += amount
	return nil
}

// ApplyAdjustment applies a signed admin correction to the available balance.
func (b *SellerBalance) ApplyAdjustment(amount int64, now time.Time) error {
	if amount == 0 {
		return ErrInvalidAmount
	}
	if amount < 0 && b.AvailableBalance < -amount {
		return ErrInsufficientBalance
	}
	b.AvailableBalance += amount
	if amount > 0 {
		b.TotalEarned += amount
		adjustedAt := now.UTC()
		if b.OldestUnpaidTransactionDate == nil || adjustedAt.Before(*b.OldestUnpaidTransactionDate) {
			b.OldestUnpaidTransactionDate = &adjustedAt
		}
	}
	if b.AvailableBalance == 0 {
		b.OldestUnpaidTransactionDate = nil
	}
	return nil
}

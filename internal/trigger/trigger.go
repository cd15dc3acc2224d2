// Package trigger holds the payout eligibility rules. Everything here is a
// pure function of a balance snapshot and a clock reading so the scheduler,
// the request path, and the tests all share one implementation.
package trigger

import (
	"time"

	balancedomain "github.com/craftora/payline/internal/balance/domain"
)

// Thresholds are the platform-wide payout limits.
type Thresholds struct {
	// MaxBalanceThreshold forces a payout once the available balance reaches
	// it, regardless of the seller's schedule.
	MaxBalanceThreshold int64
	// MaxHoldDays forces a payout once the oldest unpaid earning is older
	// than this many days.
	MaxHoldDays int
	// MinPayoutAmount is the platform floor; sellers may configure a higher
	// minimum but never a lower one.
	MinPayoutAmount int64
}

// ApproachingFraction of the max balance threshold at which sellers get
// warned that a forced payout is coming.
const ApproachingFraction = 0.8

// NeedsForcedPayout reports whether the platform must pay the seller out now:
// either the balance hit the cap or earnings have been held too long. Account
// status does not gate this — seller money is never held past the limits,
// whatever state the account is in. Whether the payout can actually be wired
// (bank verification) is checked at creation time.
func NeedsForcedPayout(b *balancedomain.SellerBalance, t Thresholds, now time.Time) bool {
	if b.AvailableBalance <= 0 {
		return false
	}
	if t.MaxBalanceThreshold > 0 && b.AvailableBalance >= t.MaxBalanceThreshold {
		return true
	}
	if t.MaxHoldDays > 0 && b.OldestUnpaidTransactionDate != nil {
		age := now.UTC().Sub(b.OldestUnpaidTransactionDate.UTC())
		if age > time.Duration(t.MaxHoldDays)*24*time.Hour {
			return true
		}
	}
	return false
}

// IsDueForScheduledPayout reports whether the seller's own schedule says to
// pay out now. The seller minimum applies here; forced payouts ignore it.
func IsDueForScheduledPayout(b *balancedomain.SellerBalance, t Thresholds, now time.Time) bool {
	if b.Status != balancedomain.AccountStatusActive {
		return false
	}
	if !b.AutoPayoutEnabled || !b.BankVerified {
		return false
	}
	if b.PayoutSchedule == balancedomain.PayoutScheduleManual {
		return false
	}
	if b.AvailableBalance <= 0 {
		return false
	}
	if b.AvailableBalance < EffectiveMinimum(b, t) {
		return false
	}
	if b.NextScheduledPayout == nil {
		return false
	}
	return !now.UTC().Before(b.NextScheduledPayout.UTC())
}

// EffectiveMinimum is the larger of the platform floor and the seller's own
// configured minimum.
func EffectiveMinimum(b *balancedomain.SellerBalance, t Thresholds) int64 {
	min := t.MinPayoutAmount
	if b.MinimumPayoutAmount > min {
		min = b.MinimumPayoutAmount
	}
	return min
}

// NextScheduledPayout computes when the seller's next automatic payout is
// due, in UTC. Weekly schedules run Monday at midnight, monthly schedules run
// on the first of the month. Manual sellers get nil.
func NextScheduledPayout(schedule balancedomain.PayoutSchedule, from time.Time) *time.Time {
	from = from.UTC()
	switch schedule {
	case balancedomain.PayoutScheduleWeekly:
		days := (int(time.Monday) - int(from.Weekday()) + 7) % 7
		if days == 0 {
			days = 7
		}
		next := time.Date(from.Year(), from.Month(), from.Day(), 0, 0, 0, 0, time.UTC).
			AddDate(0, 0, days)
		return &next
	case balancedomain.PayoutScheduleMonthly:
		next := time.Date(from.Year(), from.Month(), 1, 0, 0, 0, 0, time.UTC).
			AddDate(0, 1, 0)
		return &next
	default:
		return nil
	}
}

// CanRequestPayout validates a manual payout request against the snapshot.
// Returns nil when the request may proceed.
func CanRequestPayout(b *balancedomain.SellerBalance, t Thresholds, amount int64) error {
	if amount <= 0 {
		return balancedomain.ErrInvalidAmount
	}
	if b.Status != balancedomain.AccountStatusActive {
		return balancedomain.ErrInvalidStatus
	}
	if !b.BankVerified {
		return balancedomain.ErrInvalidBankDetails
	}
	if amount > b.AvailableBalance {
		return balancedomain.ErrInsufficientBalance
	}
	if amount < EffectiveMinimum(b, t) {
		return balancedomain.ErrInvalidAmount
	}
	return nil
}

// DaysUntilForcedPayout reports how many whole days remain before the hold
// limit forces a payout. Returns -1 when no forced payout is pending, 0 when
// it is already due.
func DaysUntilForcedPayout(b *balancedomain.SellerBalance, t Thresholds, now time.Time) int {
	if t.MaxHoldDays <= 0 || b.OldestUnpaidTransactionDate == nil || b.AvailableBalance <= 0 {
		return -1
	}
	deadline := b.OldestUnpaidTransactionDate.UTC().Add(time.Duration(t.MaxHoldDays) * 24 * time.Hour)
	remaining := deadline.Sub(now.UTC())
	if remaining <= 0 {
		return 0
	}
	return int(remaining / (24 * time.Hour))
}

// IsApproachingMaxBalance reports whether the balance has crossed the warning
// fraction of the forced-payout cap.
func IsApproachingMaxBalance(b *balancedomain.SellerBalance, t Thresholds) bool {
	if t.MaxBalanceThreshold <= 0 {
		return false
	}
	return float64(b.AvailableBalance) >= ApproachingFraction*float64(t.MaxBalanceThreshold)
}

package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/craftora/payline/internal/balance/domain"
	"github.com/craftora/payline/pkg/db"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Get(ctx context.Context, conn *gorm.DB, sellerID snowflake.ID) (*domain.SellerBalance, error) {
	var balance domain.SellerBalance
	err := conn.WithContext(ctx).
		Where("seller_id = ?", sellerID).
		First(&balance).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &balance, nil
}

func (r *repo) GetForUpdate(ctx context.Context, tx *gorm.DB, sellerID snowflake.ID) (*domain.SellerBalance, error) {
	var balance domain.SellerBalance
	err := db.ForUpdate(tx.WithContext(ctx)).
		Where("seller_id = ?", sellerID).
		First(&balance).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &balance, nil
}

func (r *repo) GetOrCreateForUpdate(ctx context.Context, tx *gorm.DB, sellerID snowflake.ID, newID snowflake.ID, now time.Time) (*domain.SellerBalance, error) {
	balance, err := r.GetForUpdate(ctx, tx, sellerID)
	if err == nil {
		return balance, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}

	// Lazy create; a concurrent insert loses on the unique index and we
	// re-read under the lock.
	if err := tx.WithContext(ctx).Exec(
		`INSERT INTO seller_balances (
			id, seller_id, available_balance, pending_balance,
			total_earned, total_paid_out, total_platform_fees,
			payout_schedule, auto_payout_enabled, minimum_payout_amount,
			bank_verified, status, created_at, updated_at
		) VALUES (?, ?, 0, 0, 0, 0, 0, ?, ?, 0, ?, ?, ?, ?)
		ON CONFLICT (seller_id) DO NOTHING`,
		newID,
		sellerID,
		string(domain.PayoutScheduleWeekly),
		true,
		false,
		string(domain.AccountStatusPendingVerification),
		now.UTC(),
		now.UTC(),
	).Error; err != nil {
		return nil, err
	}

	return r.GetForUpdate(ctx, tx, sellerID)
}

func (r *repo) Save(ctx context.Context, tx *gorm.DB, balance *domain.SellerBalance) error {
	balance.UpdatedAt = time.Now().UTC()
	return tx.WithContext(ctx).Save(balance).Error
}

func (r *repo) FindDueForScheduledPayout(ctx context.Context, conn *gorm.DB, now time.Time, limit int) ([]*domain.SellerBalance, error) {
	var balances []*domain.SellerBalance
	stmt := conn.WithContext(ctx).
		Where("status = ?", domain.AccountStatusActive).
		Where("bank_verified = ?", true).
		Where("auto_payout_enabled = ?", true).
		Where("available_balance >= minimum_payout_amount").
		Where("available_balance > 0").
		Where("next_scheduled_payout IS NOT NULL AND next_scheduled_payout <= ?", now.UTC()).
		Order("next_scheduled_payout asc")
	if limit > 0 {
		stmt = stmt.Limit(limit)
	}
	if err := stmt.Find(&balances).Error; err != nil {
		return nil, err
	}
	return balances, nil
}

func (r *repo) FindNeedingForcedPayout(ctx context.Context, conn *gorm.DB, maxBalance int64, unpaidBefore time.Time, limit int) ([]*domain.SellerBalance, error) {
	var balances []*domain.SellerBalance
	stmt := conn.WithContext(ctx).
		Where("available_balance > 0").
		Where("available_balance >= ? OR (oldest_unpaid_transaction_date IS NOT NULL AND oldest_unpaid_transaction_date <= ?)",
			maxBalance, unpaidBefore.UTC()).
		Order("available_balance desc")
	if limit > 0 {
		stmt = stmt.Limit(limit)
	}
	if err := stmt.Find(&balances).Error; err != nil {
		return nil, err
	}
	return balances, nil
}

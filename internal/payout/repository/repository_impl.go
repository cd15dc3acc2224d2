package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/craftora/payline/internal/payout/domain"
	"github.com/craftora/payline/pkg/db"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, tx *gorm.DB, payout *domain.PayoutRequest) error {
	return tx.WithContext(ctx).Create(payout).Error
}

func (r *repo) Get(ctx context.Context, conn *gorm.DB, payoutID snowflake.ID) (*domain.PayoutRequest, error) {
	var payout domain.PayoutRequest
	err := conn.WithContext(ctx).First(&payout, "id = ?", payoutID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &payout, nil
}

func (r *repo) GetForUpdate(ctx context.Context, tx *gorm.DB, payoutID snowflake.ID) (*domain.PayoutRequest, error) {
	var payout domain.PayoutRequest
	err := db.ForUpdate(tx.WithContext(ctx)).First(&payout, "id = ?", payoutID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &payout, nil
}

func (r *repo) FindOpenBySeller(ctx context.Context, tx *gorm.DB, sellerID snowflake.ID) (*domain.PayoutRequest, error) {
	var payout domain.PayoutRequest
	err := tx.WithContext(ctx).
		Where("seller_id = ?", sellerID).
		Where("status IN ?", []string{
			string(domain.PayoutStatusPending),
			string(domain.PayoutStatusProcessing),
			string(domain.PayoutStatusFailed),
			string(domain.PayoutStatusOnHold),
		}).
		First(&payout).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &payout, nil
}

func (r *repo) Save(ctx context.Context, tx *gorm.DB, payout *domain.PayoutRequest) error {
	payout.UpdatedAt = time.Now().UTC()
	return tx.WithContext(ctx).Save(payout).Error
}

func (r *repo) UpdateStatus(ctx context.Context, tx *gorm.DB, payoutID snowflake.ID, from, to domain.PayoutStatus, updatedAt time.Time) (bool, error) {
	result := tx.WithContext(ctx).Exec(
		`UPDATE payout_requests SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
		string(to),
		updatedAt.UTC(),
		payoutID,
		string(from),
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repo) InsertHistory(ctx context.Context, tx *gorm.DB, entry *domain.PayoutStatusHistory) error {
	return tx.WithContext(ctx).Create(entry).Error
}

func (r *repo) ListHistory(ctx context.Context, conn *gorm.DB, payoutID snowflake.ID) ([]*domain.PayoutStatusHistory, error) {
	var entries []*domain.PayoutStatusHistory
	err := conn.WithContext(ctx).
		Where("payout_request_id = ?", payoutID).
		Order("created_at asc, id asc").
		Find(&entries).Error
	if err != nil {
		return nil, err
	}
	return entries, nil
}

func (r *repo) FindByStatus(ctx context.Context, conn *gorm.DB, status domain.PayoutStatus, limit int) ([]*domain.PayoutRequest, error) {
	var payouts []*domain.PayoutRequest
	stmt := conn.WithContext(ctx).
		Where("status = ?", string(status)).
		Order("created_at asc")
	if limit > 0 {
		stmt = stmt.Limit(limit)
	}
	if err := stmt.Find(&payouts).Error; err != nil {
		return nil, err
	}
	return payouts, nil
}

func (r *repo) FindRetryable(ctx context.Context, conn *gorm.DB, now time.Time, limit int) ([]*domain.PayoutRequest, error) {
	var payouts []*domain.PayoutRequest
	stmt := conn.WithContext(ctx).
		Where("status = ?", string(domain.PayoutStatusFailed)).
		Where("retry_count < max_retries").
		Where("next_retry_at IS NOT NULL AND next_retry_at <= ?", now.UTC()).
		Order("next_retry_at asc")
	if limit > 0 {
		stmt = stmt.Limit(limit)
	}
	if err := stmt.Find(&payouts).Error; err != nil {
		return nil, err
	}
	return payouts, nil
}

func (r *repo) List(ctx context.Context, conn *gorm.DB, filter domain.ListFilter) ([]*domain.PayoutRequest, error) {
	var payouts []*domain.PayoutRequest
	stmt := conn.WithContext(ctx).Model(&domain.PayoutRequest{})

	if filter.SellerID != 0 {
		stmt = stmt.Where("seller_id = ?", filter.SellerID)
	}
	if filter.Status != "" {
		stmt = stmt.Where("status = ?", string(filter.Status))
	}
	if filter.From != nil {
		stmt = stmt.Where("created_at >= ?", filter.From.UTC())
	}
	if filter.To != nil {
		stmt = stmt.Where("created_at <= ?", filter.To.UTC())
	}
	if filter.Cursor != nil {
		stmt = stmt.Where("(created_at < ?) OR (created_at = ? AND id < ?)",
			filter.Cursor.CreatedAt,
			filter.Cursor.CreatedAt,
			filter.Cursor.ID,
		)
	}

	stmt = stmt.Order("created_at desc, id desc")
	if filter.Limit > 0 {
		stmt = stmt.Limit(filter.Limit + 1)
	}

	if err := stmt.Find(&payouts).Error; err != nil {
		return nil, err
	}
	return payouts, nil
}

package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/craftora/payline/internal/ledger/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, tx *gorm.DB, entry *domain.BalanceTransaction) (bool, error) {
	if entry == nil {
		return false, domain.ErrInvalidReference
	}
	result := tx.WithContext(ctx).Exec(
		`INSERT INTO balance_transactions (
			id, seller_id, type, amount, balance_after, status,
			ref_type, ref_id, ref_number,
			gross_amount, platform_fee, gateway_fee,
			description, settled_at, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (seller_id, type, ref_type, ref_id) DO NOTHING`,
		entry.ID,
		entry.SellerID,
		string(entry.Type),
		entry.Amount,
		entry.BalanceAfter,
		string(entry.Status),
		entry.RefType,
		entry.RefID,
		entry.RefNumber,
		entry.GrossAmount,
		entry.PlatformFee,
		entry.GatewayFee,
		entry.Description,
		entry.SettledAt,
		entry.CreatedAt,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repo) FindByRef(ctx context.Context, conn *gorm.DB, sellerID snowflake.ID, txType domain.TransactionType, refType string, refID snowflake.ID) (*domain.BalanceTransaction, error) {
	var entry domain.BalanceTransaction
	err := conn.WithContext(ctx).
		Where("seller_id = ? AND type = ? AND ref_type = ? AND ref_id = ?", sellerID, txType, refType, refID).
		First(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

func (r *repo) FindReadyForSettlement(ctx context.Context, conn *gorm.DB, cutoff time.Time, limit int) ([]*domain.BalanceTransaction, error) {
	var entries []*domain.BalanceTransaction
	stmt := conn.WithContext(ctx).
		Where("status = ?", domain.TransactionStatusPending).
		Where("created_at <= ?", cutoff.UTC()).
		Order("created_at asc, id asc")
	if limit > 0 {
		stmt = stmt.Limit(limit)
	}
	if err := stmt.Find(&entries).Error; err != nil {
		return nil, err
	}
	return entries, nil
}

func (r *repo) MarkSettled(ctx context.Context, tx *gorm.DB, entryID snowflake.ID, settledAt time.Time) (bool, error) {
	result := tx.WithContext(ctx).Exec(
		`UPDATE balance_transactions
		 SET status = ?, settled_at = ?
		 WHERE id = ? AND status = ?`,
		string(domain.TransactionStatusSettled),
		settledAt.UTC(),
		entryID,
		string(domain.TransactionStatusPending),
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repo) SumSettled(ctx context.Context, conn *gorm.DB, sellerID snowflake.ID) (int64, int64, error) {
	var row struct {
		Total int64
		Count int64
	}
	err := conn.WithContext(ctx).Raw(
		`SELECT COALESCE(SUM(amount), 0) AS total, COUNT(*) AS count
		 FROM balance_transactions
		 WHERE seller_id = ? AND status = ?`,
		sellerID,
		string(domain.TransactionStatusSettled),
	).Scan(&row).Error
	if err != nil {
		return 0, 0, err
	}
	return row.Total, row.Count, nil
}

func (r *repo) CountSettledInPeriod(ctx context.Context, conn *gorm.DB, sellerID snowflake.ID, from *time.Time, to time.Time) (int64, error) {
	stmt := conn.WithContext(ctx).Model(&domain.BalanceTransaction{}).
		Where("seller_id = ?", sellerID).
		Where("status = ?", domain.TransactionStatusSettled).
		Where("created_at <= ?", to.UTC())
	if from != nil {
		stmt = stmt.Where("created_at > ?", from.UTC())
	}

	var count int64
	if err := stmt.Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

func (r *repo) Summarize(ctx context.Context, conn *gorm.DB, sellerID snowflake.ID, from, to time.Time) (*domain.Summary, error) {
	var rows []struct {
		Type   string
		Count  int64
		Amount int64
		Fees   int64
	}
	err := conn.WithContext(ctx).Raw(
		`SELECT type,
			COUNT(*) AS count,
			COALESCE(SUM(amount), 0) AS amount,
			COALESCE(SUM(platform_fee + gateway_fee), 0) AS fees
		 FROM balance_transactions
		 WHERE seller_id = ? AND created_at >= ? AND created_at <= ?
		 GROUP BY type
		 ORDER BY type`,
		sellerID,
		from.UTC(),
		to.UTC(),
	).Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	summary := &domain.Summary{
		SellerID: sellerID,
		From:     from.UTC(),
		To:       to.UTC(),
	}
	for _, row := range rows {
		summary.ByType = append(summary.ByType, domain.TypeSummary{
			Type:   domain.TransactionType(row.Type),
			Count:  row.Count,
			Amount: row.Amount,
		})
		if row.Amount > 0 {
			summary.TotalCredits += row.Amount
		} else {
			summary.TotalDebits += -row.Amount
		}
		summary.TotalFees += row.Fees
	}
	return summary, nil
}

func (r *repo) List(ctx context.Context, conn *gorm.DB, filter domain.ListFilter) ([]*domain.BalanceTransaction, error) {
	var entries []*domain.BalanceTransaction
	stmt := conn.WithContext(ctx).Model(&domain.BalanceTransaction{}).
		Where("seller_id = ?", filter.SellerID)

	if filter.Type != "" {
		stmt = stmt.Where("type = ?", filter.Type)
	}
	if filter.Status != "" {
		stmt = stmt.Where("status = ?", filter.Status)
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

	if err := stmt.Find(&entries).Error; err != nil {
		return nil, err
	}
	return entries, nil
}

package repository

import (
	"context"
	"time"

	"backoffice/internal/model"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// LedgerFilter narrows a ledger listing
type LedgerFilter struct {
	CustomerID *uuid.UUID
	Type       string
	From       *time.Time
	To         *time.Time
	Query      string
	Page       int
	PageSize   int
}

type LedgerRepository interface {
	Create(ctx context.Context, entry *model.LedgerEntry) error
	List(ctx context.Context, filter LedgerFilter) ([]model.LedgerEntry, int64, decimal.Decimal, error)
	SumByCustomer(ctx context.Context, customerID uuid.UUID) (decimal.Decimal, error)
	CountByCustomer(ctx context.Context, customerID uuid.UUID) (int64, error)
	FindBySource(ctx context.Context, sourceType string, sourceID uuid.UUID) ([]model.LedgerEntry, error)
}

type ledgerRepository struct {
	db *gorm.DB
}

func NewLedgerRepository(db *gorm.DB) LedgerRepository {
	return &ledgerRepository{db: db}
}

func (r *ledgerRepository) Create(ctx context.Context, entry *model.LedgerEntry) error {
	return GetDB(ctx, r.db).Create(entry).Error
}

func (r *ledgerRepository) filtered(ctx context.Context, filter LedgerFilter) *gorm.DB {
	db := GetDB(ctx, r.db).Model(&model.LedgerEntry{})
	if filter.CustomerID != nil {
		db = db.Where("customer_id = ?", *filter.CustomerID)
	}
	if filter.Type != "" {
		db = db.Where("type = ?", filter.Type)
	}
	if filter.From != nil {
		db = db.Where("date >= ?", *filter.From)
	}
	if filter.To != nil {
		db = db.Where("date <= ?", *filter.To)
	}
	if filter.Query != "" {
		db = db.Where("LOWER(description) LIKE LOWER(?)", "%"+filter.Query+"%")
	}
	return db
}

// List returns one page of entries plus the count and the balance of the whole filtered set.
func (r *ledgerRepository) List(ctx context.Context, filter LedgerFilter) ([]model.LedgerEntry, int64, decimal.Decimal, error) {
	var entries []model.LedgerEntry
	var total int64

	if err := r.filtered(ctx, filter).Count(&total).Error; err != nil {
		return nil, 0, decimal.Zero, err
	}

	offset := (filter.Page - 1) * filter.PageSize
	if err := r.filtered(ctx, filter).
		Order("date DESC").Order("id DESC").
		Offset(offset).Limit(filter.PageSize).
		Find(&entries).Error; err != nil {
		return nil, 0, decimal.Zero, err
	}

	var sum struct{ Balance decimal.Decimal }
	if err := r.filtered(ctx, filter).Select("COALESCE(SUM(amount), 0) AS balance").Scan(&sum).Error; err != nil {
		return nil, 0, decimal.Zero, err
	}

	return entries, total, sum.Balance.Round(2), nil
}

func (r *ledgerRepository) SumByCustomer(ctx context.Context, customerID uuid.UUID) (decimal.Decimal, error) {
	var sum struct{ Balance decimal.Decimal }
	if err := GetDB(ctx, r.db).Model(&model.LedgerEntry{}).
		Select("COALESCE(SUM(amount), 0) AS balance").
		Where("customer_id = ?", customerID).
		Scan(&sum).Error; err != nil {
		return decimal.Zero, err
	}
	return sum.Balance.Round(2), nil
}

func (r *ledgerRepository) CountByCustomer(ctx context.Context, customerID uuid.UUID) (int64, error) {
	var count int64
	if err := GetDB(ctx, r.db).Model(&model.LedgerEntry{}).Where("customer_id = ?", customerID).Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

func (r *ledgerRepository) FindBySource(ctx context.Context, sourceType string, sourceID uuid.UUID) ([]model.LedgerEntry, error) {
	var entries []model.LedgerEntry
	if err := GetDB(ctx, r.db).
		Where("source_type = ? AND source_id = ?", sourceType, sourceID).
		Order("date ASC").
		Find(&entries).Error; err != nil {
		return nil, err
	}
	return entries, nil
}

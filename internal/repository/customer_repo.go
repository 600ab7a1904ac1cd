package repository

import (
	"context"

	"backoffice/internal/model"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// BalanceMismatch is a customer whose stored balance differs from its ledger sum
type BalanceMismatch struct {
	CustomerID    uuid.UUID       `json:"customer_id"`
	Name          string          `json:"name"`
	StoredBalance decimal.Decimal `json:"stored_balance"`
	LedgerBalance decimal.Decimal `json:"ledger_balance"`
}

type CustomerRepository interface {
	Create(ctx context.Context, customer *model.Customer) error
	Update(ctx context.Context, customer *model.Customer) error
	Delete(ctx context.Context, id uuid.UUID) error
	FindByID(ctx context.Context, id uuid.UUID) (*model.Customer, error)
	List(ctx context.Context, page, limit int, search string) ([]model.Customer, int64, error)
	AddBalance(ctx context.Context, id uuid.UUID, delta decimal.Decimal) error
	FindBalanceMismatches(ctx context.Context) ([]BalanceMismatch, error)
}

type customerRepository struct {
	db *gorm.DB
}

func NewCustomerRepository(db *gorm.DB) CustomerRepository {
	return &customerRepository{db: db}
}

func (r *customerRepository) Create(ctx context.Context, customer *model.Customer) error {
	return GetDB(ctx, r.db).Create(customer).Error
}

// Update saves contact fields. Balance only moves through AddBalance.
func (r *customerRepository) Update(ctx context.Context, customer *model.Customer) error {
	return GetDB(ctx, r.db).Model(customer).
		Select("name", "phone", "email", "address", "notes").
		Updates(customer).Error
}

func (r *customerRepository) Delete(ctx context.Context, id uuid.UUID) error {
	return GetDB(ctx, r.db).Where("id = ?", id).Delete(&model.Customer{}).Error
}

func (r *customerRepository) FindByID(ctx context.Context, id uuid.UUID) (*model.Customer, error) {
	var customer model.Customer
	if err := GetDB(ctx, r.db).First(&customer, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &customer, nil
}

func (r *customerRepository) List(ctx context.Context, page, limit int, search string) ([]model.Customer, int64, error) {
	var customers []model.Customer
	var total int64

	db := GetDB(ctx, r.db).Model(&model.Customer{})
	if search != "" {
		like := "%" + search + "%"
		db = db.Where("LOWER(name) LIKE LOWER(?) OR LOWER(email) LIKE LOWER(?) OR phone LIKE ?", like, like, like)
	}

	if err := db.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	offset := (page - 1) * limit
	if err := db.Order("name ASC").Offset(offset).Limit(limit).Find(&customers).Error; err != nil {
		return nil, 0, err
	}

	return customers, total, nil
}

// AddBalance increments the redundant balance column atomically.
func (r *customerRepository) AddBalance(ctx context.Context, id uuid.UUID, delta decimal.Decimal) error {
	res := GetDB(ctx, r.db).Model(&model.Customer{}).Where("id = ?", id).
		Update("balance", gorm.Expr("balance + ?", delta))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func (r *customerRepository) FindBalanceMismatches(ctx context.Context) ([]BalanceMismatch, error) {
	var rows []struct {
		ID            uuid.UUID
		Name          string
		Balance       decimal.Decimal
		LedgerBalance decimal.Decimal
	}
	if err := GetDB(ctx, r.db).Table("customers").
		Select("customers.id, customers.name, customers.balance, COALESCE(SUM(ledger_entries.amount), 0) AS ledger_balance").
		Joins("LEFT JOIN ledger_entries ON ledger_entries.customer_id = customers.id").
		Group("customers.id, customers.name, customers.balance").
		Scan(&rows).Error; err != nil {
		return nil, err
	}

	var mismatches []BalanceMismatch
	for _, row := range rows {
		if !row.Balance.Round(2).Equal(row.LedgerBalance.Round(2)) {
			mismatches = append(mismatches, BalanceMismatch{
				CustomerID:    row.ID,
				Name:          row.Name,
				StoredBalance: row.Balance,
				LedgerBalance: row.LedgerBalance,
			})
		}
	}
	return mismatches, nil
}

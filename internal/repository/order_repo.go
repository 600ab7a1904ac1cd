package repository

import (
	"context"
	"time"

	"backoffice/internal/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Order list sort keys
const (
	OrderSortDateDesc = "date_desc"
	OrderSortDateAsc  = "date_asc"
	OrderSortCodeAsc  = "code_asc"
	OrderSortCodeDesc = "code_desc"
)

// OrderFilter narrows and orders an order listing
type OrderFilter struct {
	Status          string
	CustomerID      *uuid.UUID
	Sort            string
	IncludeCustomer bool
	IncludeItems    bool
	Page            int
	Limit           int
}

type OrderRepository interface {
	Create(ctx context.Context, order *model.Order) error
	CreateItem(ctx context.Context, item *model.OrderItem) error
	FindByIDWithItems(ctx context.Context, id uuid.UUID) (*model.Order, error)
	FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*model.Order, error)
	FindByIdempotencyKey(ctx context.Context, key string) (*model.Order, error)
	Save(ctx context.Context, order *model.Order) error
	UpdateItemReturned(ctx context.Context, itemID uuid.UUID, returnedQty int) error
	DeleteItems(ctx context.Context, orderID uuid.UUID) error
	Delete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context, filter OrderFilter) ([]model.Order, int64, error)
	NextCode(ctx context.Context, day time.Time) (string, error)
}

type orderRepository struct {
	db *gorm.DB
}

func NewOrderRepository(db *gorm.DB) OrderRepository {
	return &orderRepository{db: db}
}

func (r *orderRepository) Create(ctx context.Context, order *model.Order) error {
	return GetDB(ctx, r.db).Omit(clause.Associations).Create(order).Error
}

func (r *orderRepository) CreateItem(ctx context.Context, item *model.OrderItem) error {
	return GetDB(ctx, r.db).Create(item).Error
}

func (r *orderRepository) FindByIDWithItems(ctx context.Context, id uuid.UUID) (*model.Order, error) {
	var order model.Order
	if err := GetDB(ctx, r.db).
		Preload("Items", func(db *gorm.DB) *gorm.DB { return db.Order("created_at, id") }).
		Preload("Customer").
		First(&order, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &order, nil
}

// FindByIDForUpdate locks the order row, then loads its items.
func (r *orderRepository) FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*model.Order, error) {
	var order model.Order
	db := GetDB(ctx, r.db)
	if err := db.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).First(&order).Error; err != nil {
		return nil, err
	}
	if err := db.Where("order_id = ?", id).Order("created_at, id").Find(&order.Items).Error; err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *orderRepository) FindByIdempotencyKey(ctx context.Context, key string) (*model.Order, error) {
	var order model.Order
	if err := GetDB(ctx, r.db).
		Preload("Items", func(db *gorm.DB) *gorm.DB { return db.Order("created_at, id") }).
		Where("idempotency_key = ?", key).First(&order).Error; err != nil {
		return nil, err
	}
	return &order, nil
}

// Save persists the order header. Items are managed separately.
func (r *orderRepository) Save(ctx context.Context, order *model.Order) error {
	return GetDB(ctx, r.db).Model(order).Omit(clause.Associations).
		Select("status", "customer_id", "total", "notes").
		Updates(order).Error
}

func (r *orderRepository) UpdateItemReturned(ctx context.Context, itemID uuid.UUID, returnedQty int) error {
	return GetDB(ctx, r.db).Model(&model.OrderItem{}).Where("id = ?", itemID).Update("returned_qty", returnedQty).Error
}

func (r *orderRepository) DeleteItems(ctx context.Context, orderID uuid.UUID) error {
	return GetDB(ctx, r.db).Where("order_id = ?", orderID).Delete(&model.OrderItem{}).Error
}

func (r *orderRepository) Delete(ctx context.Context, id uuid.UUID) error {
	return GetDB(ctx, r.db).Where("id = ?", id).Delete(&model.Order{}).Error
}

func (r *orderRepository) List(ctx context.Context, filter OrderFilter) ([]model.Order, int64, error) {
	var orders []model.Order
	var total int64

	db := GetDB(ctx, r.db).Model(&model.Order{})
	if filter.Status != "" {
		db = db.Where("status = ?", filter.Status)
	}
	if filter.CustomerID != nil {
		db = db.Where("customer_id = ?", *filter.CustomerID)
	}
	if err := db.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	switch filter.Sort {
	case OrderSortDateAsc:
		db = db.Order("created_at ASC")
	case OrderSortCodeAsc:
		db = db.Order("code ASC").Order("created_at DESC")
	case OrderSortCodeDesc:
		db = db.Order("code DESC").Order("created_at DESC")
	default:
		db = db.Order("created_at DESC")
	}

	if filter.IncludeCustomer {
		db = db.Preload("Customer")
	}
	if filter.IncludeItems {
		db = db.Preload("Items")
	}

	offset := (filter.Page - 1) * filter.Limit
	if err := db.Offset(offset).Limit(filter.Limit).Find(&orders).Error; err != nil {
		return nil, 0, err
	}

	return orders, total, nil
}

// NextCode returns the next order code of the day, e.g. ORD-20060102-00001.
func (r *orderRepository) NextCode(ctx context.Context, day time.Time) (string, error) {
	return nextNumber(ctx, r.db, &model.Order{}, "code", "ORD-"+day.Format("20060102")+"-", 5)
}

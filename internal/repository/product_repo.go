package repository

import (
	"context"

	"backoffice/internal/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type ProductRepository interface {
	Create(ctx context.Context, product *model.Product) error
	Update(ctx context.Context, product *model.Product) error
	Delete(ctx context.Context, id uuid.UUID) error
	FindByID(ctx context.Context, id uuid.UUID) (*model.Product, error)
	FindBySKU(ctx context.Context, sku string) (*model.Product, error)
	List(ctx context.Context, page, limit int, search string) ([]model.Product, int64, error)
	FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*model.Product, error)
	FindByIDForUpdateWithDeleted(ctx context.Context, id uuid.UUID) (*model.Product, error)
	UpdateCounters(ctx context.Context, id uuid.UUID, stock, reserved int) error
	NextSKU(ctx context.Context, prefix string) (string, error)
	FindInconsistent(ctx context.Context) ([]model.Product, error)
}

type productRepository struct {
	db *gorm.DB
}

func NewProductRepository(db *gorm.DB) ProductRepository {
	return &productRepository{db: db}
}

func (r *productRepository) Create(ctx context.Context, product *model.Product) error {
	return GetDB(ctx, r.db).Create(product).Error
}

// Update saves catalog fields only; counters change through UpdateCounters.
func (r *productRepository) Update(ctx context.Context, product *model.Product) error {
	return GetDB(ctx, r.db).Model(product).
		Select("sku", "name", "category", "barcode", "price").
		Updates(product).Error
}

func (r *productRepository) Delete(ctx context.Context, id uuid.UUID) error {
	return GetDB(ctx, r.db).Where("id = ?", id).Delete(&model.Product{}).Error
}

func (r *productRepository) FindByID(ctx context.Context, id uuid.UUID) (*model.Product, error) {
	var product model.Product
	if err := GetDB(ctx, r.db).First(&product, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &product, nil
}

func (r *productRepository) FindBySKU(ctx context.Context, sku string) (*model.Product, error) {
	var product model.Product
	if err := GetDB(ctx, r.db).Where("sku = ?", sku).First(&product).Error; err != nil {
		return nil, err
	}
	return &product, nil
}

func (r *productRepository) List(ctx context.Context, page, limit int, search string) ([]model.Product, int64, error) {
	var products []model.Product
	var total int64

	db := GetDB(ctx, r.db).Model(&model.Product{})
	if search != "" {
		like := "%" + search + "%"
		db = db.Where("LOWER(name) LIKE LOWER(?) OR LOWER(sku) LIKE LOWER(?) OR barcode = ?", like, like, search)
	}

	if err := db.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	offset := (page - 1) * limit
	if err := db.Order("created_at desc").Offset(offset).Limit(limit).Find(&products).Error; err != nil {
		return nil, 0, err
	}

	return products, total, nil
}

func (r *productRepository) FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*model.Product, error) {
	return lockProduct(GetDB(ctx, r.db), id)
}

// FindByIDForUpdateWithDeleted also locks soft-deleted products, whose sold units can still be returned.
func (r *productRepository) FindByIDForUpdateWithDeleted(ctx context.Context, id uuid.UUID) (*model.Product, error) {
	return lockProduct(GetDB(ctx, r.db).Unscoped(), id)
}

func lockProduct(db *gorm.DB, id uuid.UUID) (*model.Product, error) {
	var product model.Product
	if err := db.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).First(&product).Error; err != nil {
		return nil, err
	}
	return &product, nil
}

// UpdateCounters writes counters of a locked row, deleted or not.
func (r *productRepository) UpdateCounters(ctx context.Context, id uuid.UUID, stock, reserved int) error {
	return GetDB(ctx, r.db).Unscoped().Model(&model.Product{}).Where("id = ?", id).
		Updates(map[string]interface{}{"stock": stock, "reserved": reserved}).Error
}

func (r *productRepository) NextSKU(ctx context.Context, prefix string) (string, error) {
	return nextNumber(ctx, r.db, &model.Product{}, "sku", prefix, 3)
}

// FindInconsistent lists products whose counters break 0 <= reserved <= stock.
func (r *productRepository) FindInconsistent(ctx context.Context) ([]model.Product, error) {
	var products []model.Product
	if err := GetDB(ctx, r.db).
		Where("reserved < 0 OR stock < 0 OR reserved > stock").
		Order("id").
		Find(&products).Error; err != nil {
		return nil, err
	}
	return products, nil
}

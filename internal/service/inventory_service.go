package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"backoffice/internal/cache"
	"backoffice/internal/model"
	"backoffice/internal/repository"
	"backoffice/pkg/pagination"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// DTOs
type CreateProductRequest struct {
	SKU      string          `json:"sku" binding:"omitempty,sku"`
	Name     string          `json:"name" binding:"required,max=255"`
	Category *string         `json:"category" binding:"omitempty,max=120"`
	Barcode  *string         `json:"barcode" binding:"omitempty,max=64"`
	Price    decimal.Decimal `json:"price"`
	Stock    int             `json:"stock" binding:"gte=0"`
}

type UpdateProductRequest struct {
	SKU      *string          `json:"sku" binding:"omitempty,sku"`
	Name     *string          `json:"name" binding:"omitempty,max=255"`
	Category *string          `json:"category" binding:"omitempty,max=120"`
	Barcode  *string          `json:"barcode" binding:"omitempty,max=64"`
	Price    *decimal.Decimal `json:"price"`
}

type AdjustStockRequest struct {
	Delta  int    `json:"delta" binding:"required"`
	Reason string `json:"reason" binding:"required,max=255"`
}

type ProductResponse struct {
	ID        string          `json:"id"`
	SKU       string          `json:"sku"`
	Name      string          `json:"name"`
	Category  *string         `json:"category"`
	Barcode   *string         `json:"barcode"`
	Price     decimal.Decimal `json:"price"`
	Stock     int             `json:"stock"`
	Reserved  int             `json:"reserved"`
	Available int             `json:"available"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// StockChangedEvent is published once a stock mutation has committed.
type StockChangedEvent struct {
	ProductID string `json:"product_id"`
	SKU       string `json:"sku"`
	Stock     int    `json:"stock"`
	Reserved  int    `json:"reserved"`
	Available int    `json:"available"`
}

func toProductResponse(p *model.Product) ProductResponse {
	return ProductResponse{
		ID:        p.ID.String(),
		SKU:       p.SKU,
		Name:      p.Name,
		Category:  p.Category,
		Barcode:   p.Barcode,
		Price:     p.Price,
		Stock:     p.Stock,
		Reserved:  p.Reserved,
		Available: p.Available(),
		UpdatedAt: p.UpdatedAt,
	}
}

// InventoryLedger mutates product counters. Every call must run inside a transaction
// and locks the product row before reading it.
type InventoryLedger interface {
	LockProducts(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]*model.Product, error)
	// LockReturnedProducts is LockProducts for returns; it also locks soft-deleted products.
	LockReturnedProducts(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]*model.Product, error)
	Reserve(ctx context.Context, productID uuid.UUID, qty int, orderID *uuid.UUID) (*model.Product, error)
	Release(ctx context.Context, productID uuid.UUID, qty int, orderID *uuid.UUID) (*model.Product, error)
	Consume(ctx context.Context, productID uuid.UUID, qty int, orderID *uuid.UUID) (*model.Product, error)
	Restock(ctx context.Context, productID uuid.UUID, qty int, orderID *uuid.UUID) (*model.Product, error)
	Adjust(ctx context.Context, productID uuid.UUID, delta int) (*model.Product, error)
	// NotifyChanged drops cached snapshots and publishes stock events. Call after commit.
	NotifyChanged(ctx context.Context, products ...*model.Product)
}

type InventoryService interface {
	InventoryLedger
	GetProducts(ctx context.Context, page, limit int, search string) ([]ProductResponse, int64, error)
	GetProduct(ctx context.Context, id string) (ProductResponse, error)
	CreateProduct(ctx context.Context, req CreateProductRequest) (ProductResponse, error)
	UpdateProduct(ctx context.Context, id string, req UpdateProductRequest) (ProductResponse, error)
	DeleteProduct(ctx context.Context, id string) error
	AdjustStock(ctx context.Context, id string, req AdjustStockRequest) (ProductResponse, error)
	GetStockCard(ctx context.Context, id string, page, limit int) ([]model.InventoryTransaction, int64, error)
}

type inventoryService struct {
	productRepo repository.ProductRepository
	invTxRepo   repository.InventoryTxRepository
	auditRepo   repository.AuditRepository
	txManager   repository.TransactionManager
	cache       cache.Cache
	cacheTTL    time.Duration
	events      EventPublisher
	log         *zap.Logger
	generations *generations
}

// generations counts cache invalidations per product. A snapshot read while the
// counter moved may predate the change and is not cached.
type generations struct {
	mu  sync.Mutex
	gen map[uuid.UUID]uint64
}

func (g *generations) current(id uuid.UUID) uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.gen[id]
}

func (g *generations) bump(ids ...uuid.UUID) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, id := range ids {
		g.gen[id]++
	}
}

func NewInventoryService(
	productRepo repository.ProductRepository,
	invTxRepo repository.InventoryTxRepository,
	auditRepo repository.AuditRepository,
	txManager repository.TransactionManager,
	c cache.Cache,
	cacheTTL time.Duration,
	events EventPublisher,
	log *zap.Logger,
) InventoryService {
	if c == nil {
		c = cache.Noop{}
	}
	if events == nil {
		events = NoopPublisher{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &inventoryService{
		productRepo: productRepo,
		invTxRepo:   invTxRepo,
		auditRepo:   auditRepo,
		txManager:   txManager,
		cache:       c,
		cacheTTL:    cacheTTL,
		events:      events,
		log:         log,
		generations: &generations{gen: map[uuid.UUID]uint64{}},
	}
}

// LockProducts locks every product row in ascending id order so that concurrent
// multi-product operations acquire locks in the same sequence.
func (s *inventoryService) LockProducts(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]*model.Product, error) {
	return s.lockSorted(ctx, ids, s.productRepo.FindByIDForUpdate)
}

func (s *inventoryService) LockReturnedProducts(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]*model.Product, error) {
	return s.lockSorted(ctx, ids, s.productRepo.FindByIDForUpdateWithDeleted)
}

type productLocker func(ctx context.Context, id uuid.UUID) (*model.Product, error)

func (s *inventoryService) lockSorted(ctx context.Context, ids []uuid.UUID, lock productLocker) (map[uuid.UUID]*model.Product, error) {
	sorted := make([]uuid.UUID, 0, len(ids))
	seen := make(map[uuid.UUID]bool, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			sorted = append(sorted, id)
		}
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].String() < sorted[j].String() })

	locked := make(map[uuid.UUID]*model.Product, len(sorted))
	for _, id := range sorted {
		p, err := lock(ctx, id)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, fmt.Errorf("%w: %s", ErrInvalidProduct, id)
			}
			return nil, fmt.Errorf("failed to lock product %s: %w", id, err)
		}
		locked[id] = p
	}
	return locked, nil
}

func (s *inventoryService) Reserve(ctx context.Context, productID uuid.UUID, qty int, orderID *uuid.UUID) (*model.Product, error) {
	return s.mutate(ctx, productID, qty, 1, orderID, model.TxTypeReserve, func(p *model.Product) error {
		if p.Available() < qty {
			return fmt.Errorf("%w: %s (available: %d)", ErrInsufficientStock, p.Name, p.Available())
		}
		p.Reserved += qty
		return nil
	})
}

func (s *inventoryService) Release(ctx context.Context, productID uuid.UUID, qty int, orderID *uuid.UUID) (*model.Product, error) {
	return s.mutate(ctx, productID, qty, -1, orderID, model.TxTypeRelease, func(p *model.Product) error {
		if p.Reserved < qty {
			return fmt.Errorf("%w: release %d of %s exceeds reserved %d", ErrInconsistency, qty, p.Name, p.Reserved)
		}
		p.Reserved -= qty
		return nil
	})
}

func (s *inventoryService) Consume(ctx context.Context, productID uuid.UUID, qty int, orderID *uuid.UUID) (*model.Product, error) {
	return s.mutate(ctx, productID, qty, -1, orderID, model.TxTypeConsume, func(p *model.Product) error {
		if p.Reserved < qty || p.Stock < qty {
			return fmt.Errorf("%w: consume %d of %s with stock %d reserved %d", ErrInconsistency, qty, p.Name, p.Stock, p.Reserved)
		}
		p.Stock -= qty
		p.Reserved -= qty
		return nil
	})
}

// Restock puts returned units back on the shelf, including units of a product deleted since the sale.
func (s *inventoryService) Restock(ctx context.Context, productID uuid.UUID, qty int, orderID *uuid.UUID) (*model.Product, error) {
	if qty <= 0 {
		return nil, fmt.Errorf("%w: quantity must be positive", ErrValidation)
	}
	return s.mutateLocked(ctx, productID, orderID, model.TxTypeRestock, s.productRepo.FindByIDForUpdateWithDeleted, func(p *model.Product) (int, error) {
		p.Stock += qty
		return qty, nil
	})
}

// Adjust applies a manual correction. Stock never drops below the reserved quantity.
func (s *inventoryService) Adjust(ctx context.Context, productID uuid.UUID, delta int) (*model.Product, error) {
	if delta == 0 {
		return nil, fmt.Errorf("%w: delta must be non-zero", ErrValidation)
	}
	return s.mutateWith(ctx, productID, nil, model.TxTypeAdjust, func(p *model.Product) (int, error) {
		next := p.Stock + delta
		if next < p.Reserved {
			next = p.Reserved
		}
		applied := next - p.Stock
		p.Stock = next
		return applied, nil
	})
}

func (s *inventoryService) mutate(ctx context.Context, productID uuid.UUID, qty, sign int, orderID *uuid.UUID, txType string, apply func(p *model.Product) error) (*model.Product, error) {
	if qty <= 0 {
		return nil, fmt.Errorf("%w: quantity must be positive", ErrValidation)
	}
	return s.mutateWith(ctx, productID, orderID, txType, func(p *model.Product) (int, error) {
		if err := apply(p); err != nil {
			return 0, err
		}
		return sign * qty, nil
	})
}

func (s *inventoryService) mutateWith(ctx context.Context, productID uuid.UUID, orderID *uuid.UUID, txType string, apply func(p *model.Product) (int, error)) (*model.Product, error) {
	return s.mutateLocked(ctx, productID, orderID, txType, s.productRepo.FindByIDForUpdate, apply)
}

func (s *inventoryService) mutateLocked(ctx context.Context, productID uuid.UUID, orderID *uuid.UUID, txType string, lock productLocker, apply func(p *model.Product) (int, error)) (*model.Product, error) {
	var product *model.Product
	err := s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		p, err := lock(txCtx, productID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: %s", ErrInvalidProduct, productID)
			}
			return fmt.Errorf("failed to lock product: %w", err)
		}

		changed, err := apply(p)
		if err != nil {
			return err
		}
		if p.Reserved < 0 || p.Stock < 0 || p.Reserved > p.Stock {
			return fmt.Errorf("%w: %s would have stock %d reserved %d", ErrInconsistency, p.Name, p.Stock, p.Reserved)
		}
		if err := s.productRepo.UpdateCounters(txCtx, p.ID, p.Stock, p.Reserved); err != nil {
			return fmt.Errorf("failed to update stock: %w", err)
		}

		card := &model.InventoryTransaction{
			ProductID:       p.ID,
			OrderID:         orderID,
			TransactionType: txType,
			QuantityChanged: changed,
			StockAfter:      p.Stock,
			ReservedAfter:   p.Reserved,
		}
		if err := s.invTxRepo.Create(txCtx, card); err != nil {
			return fmt.Errorf("failed to record stock card: %w", err)
		}
		product = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return product, nil
}

func (s *inventoryService) NotifyChanged(ctx context.Context, products ...*model.Product) {
	if len(products) == 0 {
		return
	}
	ids := make([]uuid.UUID, 0, len(products))
	for _, p := range products {
		ids = append(ids, p.ID)
	}
	s.invalidate(ctx, ids...)
	for _, p := range products {
		s.events.Publish(EventStockChanged, StockChangedEvent{
			ProductID: p.ID.String(),
			SKU:       p.SKU,
			Stock:     p.Stock,
			Reserved:  p.Reserved,
			Available: p.Available(),
		})
	}
}

// invalidate drops cached snapshots. Writers in other processes are only bounded by the cache TTL.
func (s *inventoryService) invalidate(ctx context.Context, ids ...uuid.UUID) {
	s.generations.bump(ids...)
	keys := make([]string, 0, len(ids))
	for _, id := range ids {
		keys = append(keys, cache.ProductKey(id.String()))
	}
	if err := s.cache.Delete(ctx, keys...); err != nil {
		s.log.Warn("product cache invalidation failed", zap.Error(err))
	}
}

func (s *inventoryService) GetProducts(ctx context.Context, page, limit int, search string) ([]ProductResponse, int64, error) {
	p := pagination.Standard.Normalize(page, limit)
	products, total, err := s.productRepo.List(ctx, p.Page, p.Limit, strings.TrimSpace(search))
	if err != nil {
		return nil, 0, err
	}

	res := make([]ProductResponse, 0, len(products))
	for i := range products {
		res = append(res, toProductResponse(&products[i]))
	}
	return res, total, nil
}

func (s *inventoryService) GetProduct(ctx context.Context, id string) (ProductResponse, error) {
	productID, err := parseID(id, "product id")
	if err != nil {
		return ProductResponse{}, err
	}

	gen := s.generations.current(productID)
	var cached ProductResponse
	if hit, err := s.cache.Get(ctx, cache.ProductKey(productID.String()), &cached); err != nil {
		s.log.Warn("product cache read failed", zap.Error(err))
	} else if hit {
		return cached, nil
	}

	product, err := s.productRepo.FindByID(ctx, productID)
	if err != nil {
		return ProductResponse{}, notFound(err, "product")
	}

	res := toProductResponse(product)
	if s.generations.current(productID) != gen {
		return res, nil
	}
	if err := s.cache.Set(ctx, cache.ProductKey(productID.String()), res, s.cacheTTL); err != nil {
		s.log.Warn("product cache write failed", zap.Error(err))
	}
	return res, nil
}

func (s *inventoryService) CreateProduct(ctx context.Context, req CreateProductRequest) (ProductResponse, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return ProductResponse{}, fmt.Errorf("%w: name is required", ErrValidation)
	}
	if req.Price.IsNegative() {
		return ProductResponse{}, fmt.Errorf("%w: price must not be negative", ErrValidation)
	}
	if req.Stock < 0 {
		return ProductResponse{}, fmt.Errorf("%w: stock must not be negative", ErrValidation)
	}

	product := model.Product{
		Name:     name,
		Category: trimOptional(req.Category),
		Barcode:  trimOptional(req.Barcode),
		Price:    req.Price.Round(2),
		Stock:    req.Stock,
	}

	err := s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		sku := strings.ToUpper(strings.TrimSpace(req.SKU))
		if sku == "" {
			next, err := s.productRepo.NextSKU(txCtx, SKUPrefix(product.Category, product.Name))
			if err != nil {
				return fmt.Errorf("failed to generate sku: %w", err)
			}
			sku = next
		} else if err := s.ensureSKUFree(txCtx, sku, uuid.Nil); err != nil {
			return err
		}
		product.SKU = sku

		if err := s.productRepo.Create(txCtx, &product); err != nil {
			return fmt.Errorf("failed to create product: %w", err)
		}
		if product.Stock > 0 {
			card := &model.InventoryTransaction{
				ProductID:       product.ID,
				TransactionType: model.TxTypeAdjust,
				QuantityChanged: product.Stock,
				StockAfter:      product.Stock,
			}
			if err := s.invTxRepo.Create(txCtx, card); err != nil {
				return fmt.Errorf("failed to record stock card: %w", err)
			}
		}
		return writeAudit(txCtx, s.auditRepo, model.ActionCreateProduct, product.ID.String(), product.Name, req)
	})
	if err != nil {
		return ProductResponse{}, err
	}

	return toProductResponse(&product), nil
}

func (s *inventoryService) UpdateProduct(ctx context.Context, id string, req UpdateProductRequest) (ProductResponse, error) {
	productID, err := parseID(id, "product id")
	if err != nil {
		return ProductResponse{}, err
	}

	var product *model.Product
	err = s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		p, err := s.productRepo.FindByIDForUpdate(txCtx, productID)
		if err != nil {
			return notFound(err, "product")
		}

		if req.SKU != nil {
			sku := strings.ToUpper(strings.TrimSpace(*req.SKU))
			if sku != p.SKU {
				if err := s.ensureSKUFree(txCtx, sku, p.ID); err != nil {
					return err
				}
				p.SKU = sku
			}
		}
		if req.Name != nil {
			name := strings.TrimSpace(*req.Name)
			if name == "" {
				return fmt.Errorf("%w: name must not be empty", ErrValidation)
			}
			p.Name = name
		}
		if req.Category != nil {
			p.Category = trimOptional(req.Category)
		}
		if req.Barcode != nil {
			p.Barcode = trimOptional(req.Barcode)
		}
		if req.Price != nil {
			if req.Price.IsNegative() {
				return fmt.Errorf("%w: price must not be negative", ErrValidation)
			}
			p.Price = req.Price.Round(2)
		}

		if err := s.productRepo.Update(txCtx, p); err != nil {
			return fmt.Errorf("failed to update product: %w", err)
		}
		product = p
		return writeAudit(txCtx, s.auditRepo, model.ActionUpdateProduct, p.ID.String(), p.Name, req)
	})
	if err != nil {
		return ProductResponse{}, err
	}

	s.invalidate(ctx, product.ID)
	return toProductResponse(product), nil
}

// DeleteProduct soft-deletes a product that no pending order holds.
func (s *inventoryService) DeleteProduct(ctx context.Context, id string) error {
	productID, err := parseID(id, "product id")
	if err != nil {
		return err
	}

	err = s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		p, err := s.productRepo.FindByIDForUpdate(txCtx, productID)
		if err != nil {
			return notFound(err, "product")
		}
		if p.Reserved > 0 {
			return fmt.Errorf("%w: product %s has %d units reserved", ErrInvalidState, p.SKU, p.Reserved)
		}
		if err := s.productRepo.Delete(txCtx, p.ID); err != nil {
			return fmt.Errorf("failed to delete product: %w", err)
		}
		return writeAudit(txCtx, s.auditRepo, model.ActionDeleteProduct, p.ID.String(), p.Name, map[string]interface{}{"deleted": true, "sku": p.SKU})
	})
	if err != nil {
		return err
	}

	s.invalidate(ctx, productID)
	return nil
}

func (s *inventoryService) AdjustStock(ctx context.Context, id string, req AdjustStockRequest) (ProductResponse, error) {
	productID, err := parseID(id, "product id")
	if err != nil {
		return ProductResponse{}, err
	}
	if req.Delta == 0 {
		return ProductResponse{}, fmt.Errorf("%w: delta must be non-zero", ErrValidation)
	}
	if strings.TrimSpace(req.Reason) == "" {
		return ProductResponse{}, fmt.Errorf("%w: reason is required", ErrValidation)
	}

	var product *model.Product
	err = s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		before, err := s.productRepo.FindByIDForUpdate(txCtx, productID)
		if err != nil {
			return notFound(err, "product")
		}
		stockBefore := before.Stock

		p, err := s.Adjust(txCtx, productID, req.Delta)
		if err != nil {
			return err
		}
		product = p
		return writeAudit(txCtx, s.auditRepo, model.ActionAdjustStock, p.ID.String(), p.Name, map[string]interface{}{
			"requested":    req.Delta,
			"applied":      p.Stock - stockBefore,
			"stock_before": stockBefore,
			"stock_after":  p.Stock,
			"reason":       req.Reason,
		})
	})
	if err != nil {
		return ProductResponse{}, err
	}

	s.NotifyChanged(ctx, product)
	return toProductResponse(product), nil
}

func (s *inventoryService) GetStockCard(ctx context.Context, id string, page, limit int) ([]model.InventoryTransaction, int64, error) {
	productID, err := parseID(id, "product id")
	if err != nil {
		return nil, 0, err
	}
	if _, err := s.productRepo.FindByID(ctx, productID); err != nil {
		return nil, 0, notFound(err, "product")
	}
	p := pagination.Standard.Normalize(page, limit)
	return s.invTxRepo.ListByProduct(ctx, productID, p.Page, p.Limit)
}

func (s *inventoryService) ensureSKUFree(ctx context.Context, sku string, self uuid.UUID) error {
	existing, err := s.productRepo.FindBySKU(ctx, sku)
	if err == nil && existing.ID != self {
		return fmt.Errorf("%w: sku %s already exists", ErrValidation, sku)
	}
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("failed to check sku: %w", err)
	}
	return nil
}

// SKUPrefix derives the three letter SKU prefix from the category, then the name, then "PRD".
func SKUPrefix(category *string, name string) string {
	sources := []string{}
	if category != nil {
		sources = append(sources, *category)
	}
	sources = append(sources, name)

	for _, src := range sources {
		var letters []rune
		for _, r := range strings.ToUpper(src) {
			if r >= 'A' && r <= 'Z' {
				letters = append(letters, r)
				if len(letters) == 3 {
					break
				}
			}
		}
		if len(letters) == 0 {
			continue
		}
		for len(letters) < 3 {
			letters = append(letters, 'P')
		}
		return string(letters)
	}
	return "PRD"
}

func trimOptional(v *string) *string {
	if v == nil {
		return nil
	}
	t := strings.TrimSpace(*v)
	if t == "" {
		return nil
	}
	return &t
}

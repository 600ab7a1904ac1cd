package repository

import (
	"context"
	"fmt"
	"time"

	"backoffice/internal/model"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// settledStatuses are the order states whose stock has left the shelf
var settledStatuses = []string{
	model.OrderStatusConfirmed,
	model.OrderStatusPartiallyReturned,
	model.OrderStatusReturned,
}

const settledInRange = "orders.status IN ? AND orders.created_at >= ? AND orders.created_at <= ? AND orders.deleted_at IS NULL"

type StatisticsRepository interface {
	GetSalesTotals(ctx context.Context, start, end time.Time) (total decimal.Decimal, count int, err error)
	CountDistinctProducts(ctx context.Context, start, end time.Time) (int, error)
	GetTopProducts(ctx context.Context, start, end time.Time, limit int) ([]model.ProductRanking, error)
	GetReturnedValueByProduct(ctx context.Context, start, end time.Time) (map[string]decimal.Decimal, error)
	GetReturnsByOrder(ctx context.Context, start, end time.Time) (map[uuid.UUID]decimal.Decimal, error)
	ListSettledOrders(ctx context.Context, start, end time.Time) ([]model.Order, error)
	ListSalesLines(ctx context.Context, start, end time.Time, page, limit int) ([]model.SalesLine, int64, error)
	ListCashMovements(ctx context.Context, start, end time.Time) ([]model.CashMovement, error)
}

type statisticsRepository struct {
	db *gorm.DB
}

func NewStatisticsRepository(db *gorm.DB) StatisticsRepository {
	return &statisticsRepository{db: db}
}

func (r *statisticsRepository) GetSalesTotals(ctx context.Context, start, end time.Time) (decimal.Decimal, int, error) {
	var result struct {
		Value decimal.Decimal
		Count int
	}
	if err := GetDB(ctx, r.db).Table("orders").
		Select("COALESCE(SUM(total), 0) AS value, COUNT(*) AS count").
		Where(settledInRange, settledStatuses, start, end).
		Scan(&result).Error; err != nil {
		return decimal.Zero, 0, fmt.Errorf("failed to query sales totals: %w", err)
	}
	return result.Value.Round(2), result.Count, nil
}

func (r *statisticsRepository) CountDistinctProducts(ctx context.Context, start, end time.Time) (int, error) {
	var count int64
	if err := GetDB(ctx, r.db).Table("order_items").
		Joins("JOIN orders ON orders.id = order_items.order_id").
		Where(settledInRange, settledStatuses, start, end).
		Distinct("order_items.product_id").
		Count(&count).Error; err != nil {
		return 0, fmt.Errorf("failed to count distinct products: %w", err)
	}
	return int(count), nil
}

// GetTopProducts ranks by units kept by customers. TotalValue is gross; the service nets it.
func (r *statisticsRepository) GetTopProducts(ctx context.Context, start, end time.Time, limit int) ([]model.ProductRanking, error) {
	var rankings []model.ProductRanking
	if err := GetDB(ctx, r.db).Table("order_items").
		Select("order_items.product_id AS product_id, MAX(order_items.product_name) AS product_name, SUM(order_items.quantity - order_items.returned_qty) AS total_quantity, SUM(order_items.line_total) AS total_value").
		Joins("JOIN orders ON orders.id = order_items.order_id").
		Where(settledInRange, settledStatuses, start, end).
		Group("order_items.product_id").
		Order("total_quantity DESC").
		Limit(limit).
		Scan(&rankings).Error; err != nil {
		return nil, fmt.Errorf("failed to query top products: %w", err)
	}
	return rankings, nil
}

// GetReturnedValueByProduct sums credit note bases per product for orders in the range.
func (r *statisticsRepository) GetReturnedValueByProduct(ctx context.Context, start, end time.Time) (map[string]decimal.Decimal, error) {
	var rows []struct {
		ProductID string
		Amount    decimal.Decimal
	}
	if err := GetDB(ctx, r.db).Table("credit_note_items").
		Select("credit_note_items.product_id AS product_id, COALESCE(SUM(credit_note_items.base), 0) AS amount").
		Joins("JOIN credit_notes ON credit_notes.id = credit_note_items.credit_note_id").
		Joins("JOIN orders ON orders.id = credit_notes.order_id").
		Where("credit_notes.status <> ?", model.CreditNoteStatusCanceled).
		Where(settledInRange, settledStatuses, start, end).
		Group("credit_note_items.product_id").
		Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to query returned value: %w", err)
	}
	out := make(map[string]decimal.Decimal, len(rows))
	for _, row := range rows {
		out[row.ProductID] = row.Amount.Round(2)
	}
	return out, nil
}

// GetReturnsByOrder sums credit note subtotals per order created in the range.
func (r *statisticsRepository) GetReturnsByOrder(ctx context.Context, start, end time.Time) (map[uuid.UUID]decimal.Decimal, error) {
	var rows []struct {
		OrderID uuid.UUID
		Amount  decimal.Decimal
	}
	if err := GetDB(ctx, r.db).Table("credit_notes").
		Select("credit_notes.order_id AS order_id, COALESCE(SUM(credit_notes.subtotal), 0) AS amount").
		Joins("JOIN orders ON orders.id = credit_notes.order_id").
		Where("credit_notes.status <> ?", model.CreditNoteStatusCanceled).
		Where(settledInRange, settledStatuses, start, end).
		Group("credit_notes.order_id").
		Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to query returns: %w", err)
	}
	out := make(map[uuid.UUID]decimal.Decimal, len(rows))
	for _, row := range rows {
		out[row.OrderID] = row.Amount.Round(2)
	}
	return out, nil
}

func (r *statisticsRepository) ListSettledOrders(ctx context.Context, start, end time.Time) ([]model.Order, error) {
	var orders []model.Order
	if err := GetDB(ctx, r.db).Model(&model.Order{}).
		Select("id", "code", "status", "total", "created_at").
		Where("status IN ? AND created_at >= ? AND created_at <= ?", settledStatuses, start, end).
		Order("created_at ASC").
		Find(&orders).Error; err != nil {
		return nil, fmt.Errorf("failed to list settled orders: %w", err)
	}
	return orders, nil
}

// ListSalesLines pages sold lines, newest order first.
func (r *statisticsRepository) ListSalesLines(ctx context.Context, start, end time.Time, page, limit int) ([]model.SalesLine, int64, error) {
	db := GetDB(ctx, r.db)
	query := db.Model(&model.OrderItem{}).
		Joins("JOIN orders ON orders.id = order_items.order_id").
		Where(settledInRange, settledStatuses, start, end)

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count sales lines: %w", err)
	}

	var items []model.OrderItem
	if err := query.Select("order_items.*").
		Order("orders.created_at DESC").Order("order_items.created_at ASC").
		Offset((page - 1) * limit).Limit(limit).
		Find(&items).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to list sales lines: %w", err)
	}
	if len(items) == 0 {
		return []model.SalesLine{}, total, nil
	}

	ids := make([]uuid.UUID, 0, len(items))
	for _, it := range items {
		ids = append(ids, it.OrderID)
	}
	var orders []model.Order
	if err := db.Model(&model.Order{}).Select("id", "code", "created_at").
		Where("id IN ?", ids).Find(&orders).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to load sales line orders: %w", err)
	}
	byID := make(map[uuid.UUID]model.Order, len(orders))
	for _, o := range orders {
		byID[o.ID] = o
	}

	lines := make([]model.SalesLine, 0, len(items))
	for _, it := range items {
		o := byID[it.OrderID]
		lines = append(lines, model.SalesLine{
			OrderID:     it.OrderID,
			OrderCode:   o.Code,
			OrderedAt:   o.CreatedAt,
			ProductID:   it.ProductID,
			ProductName: it.ProductName,
			UnitPrice:   it.UnitPrice,
			Quantity:    it.Quantity,
			ReturnedQty: it.ReturnedQty,
			Discount:    it.Discount,
			LineTotal:   it.LineTotal,
		})
	}
	return lines, total, nil
}

func (r *statisticsRepository) ListCashMovements(ctx context.Context, start, end time.Time) ([]model.CashMovement, error) {
	var movements []model.CashMovement
	if err := GetDB(ctx, r.db).
		Where("occurred_at >= ? AND occurred_at <= ? AND type <> ?", start, end, model.MovementTypeClose).
		Order("occurred_at ASC").
		Find(&movements).Error; err != nil {
		return nil, fmt.Errorf("failed to list cash movements: %w", err)
	}
	return movements, nil
}

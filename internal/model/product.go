package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Product is a catalog item with its physical stock and the part of it held by pending orders.
type Product struct {
	ID        uuid.UUID       `gorm:"type:uuid;primaryKey" json:"id"`
	SKU       string          `gorm:"type:varchar(6);uniqueIndex;not null" json:"sku"`
	Name      string          `gorm:"type:varchar(255);not null" json:"name"`
	Category  *string         `gorm:"type:varchar(120)" json:"category"`
	Barcode   *string         `gorm:"type:varchar(64)" json:"barcode"`
	Price     decimal.Decimal `gorm:"type:decimal(14,2);not null" json:"price"`
	Stock     int             `gorm:"type:int;not null" json:"stock"`
	Reserved  int             `gorm:"type:int;not null" json:"reserved"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
	DeletedAt gorm.DeletedAt  `gorm:"index" json:"-"`
}

func (p *Product) BeforeCreate(tx *gorm.DB) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return nil
}

// Available is the stock that can still be reserved or sold.
func (p Product) Available() int {
	if p.Stock-p.Reserved < 0 {
		return 0
	}
	return p.Stock - p.Reserved
}

// Stock card movement types
const (
	TxTypeReserve = "RESERVE"
	TxTypeRelease = "RELEASE"
	TxTypeConsume = "CONSUME"
	TxTypeRestock = "RESTOCK"
	TxTypeAdjust  = "ADJUST"
)

// InventoryTransaction (stock card) records every change of a product's counters
type InventoryTransaction struct {
	ID              uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	ProductID       uuid.UUID  `gorm:"type:uuid;not null;index" json:"product_id"`
	OrderID         *uuid.UUID `gorm:"type:uuid;index" json:"order_id"` // nil for manual adjustments
	TransactionType string     `gorm:"type:varchar(10);not null" json:"transaction_type"`
	QuantityChanged int        `gorm:"type:int;not null" json:"quantity_changed"`
	StockAfter      int        `gorm:"type:int;not null" json:"stock_after"`
	ReservedAfter   int        `gorm:"type:int;not null" json:"reserved_after"`
	CreatedAt       time.Time  `json:"created_at"`
}

func (t *InventoryTransaction) BeforeCreate(tx *gorm.DB) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	return nil
}

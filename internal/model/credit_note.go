package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Refund methods
const (
	RefundMethodCash   = "cash"
	RefundMethodCredit = "credit"
)

// CreditNote status constants
const (
	CreditNoteStatusCreated    = "created"
	CreditNoteStatusAuthorized = "authorized"
	CreditNoteStatusCanceled   = "canceled"
)

// CreditNote reverses part of a settled order. Amounts are stored positive.
type CreditNote struct {
	ID           uuid.UUID        `gorm:"type:uuid;primaryKey" json:"id"`
	Number       string           `gorm:"type:varchar(32);uniqueIndex;not null" json:"number"`
	OrderID      uuid.UUID        `gorm:"type:uuid;not null;index" json:"order_id"`
	CustomerID   *uuid.UUID       `gorm:"type:uuid;index" json:"customer_id"`
	Reason       string           `gorm:"type:text" json:"reason"`
	RefundMethod string           `gorm:"type:varchar(10);not null" json:"refund_method"`
	Subtotal     decimal.Decimal  `gorm:"type:decimal(14,2);not null" json:"subtotal"`
	Tax          decimal.Decimal  `gorm:"type:decimal(14,2);not null" json:"tax"`
	Total        decimal.Decimal  `gorm:"type:decimal(14,2);not null" json:"total"`
	Status       string           `gorm:"type:varchar(20);not null" json:"status"`
	Items        []CreditNoteItem `gorm:"foreignKey:CreditNoteID;constraint:OnDelete:CASCADE" json:"items"`
	CreatedAt    time.Time        `json:"created_at"`
}

func (n *CreditNote) BeforeCreate(tx *gorm.DB) error {
	if n.ID == uuid.Nil {
		n.ID = uuid.New()
	}
	return nil
}

// CreditNoteItem is one returned quantity of an order item
type CreditNoteItem struct {
	ID           uuid.UUID       `gorm:"type:uuid;primaryKey" json:"id"`
	CreditNoteID uuid.UUID       `gorm:"type:uuid;not null;index" json:"credit_note_id"`
	OrderItemID  uuid.UUID       `gorm:"type:uuid;not null;index" json:"order_item_id"`
	ProductID    uuid.UUID       `gorm:"type:uuid;not null" json:"product_id"`
	Quantity     int             `gorm:"type:int;not null" json:"quantity"`
	UnitPrice    decimal.Decimal `gorm:"type:decimal(14,2);not null" json:"unit_price"`
	Discount     decimal.Decimal `gorm:"type:decimal(14,2);not null" json:"discount"`
	TaxRate      decimal.Decimal `gorm:"type:decimal(6,4);not null" json:"tax_rate"`
	Base         decimal.Decimal `gorm:"type:decimal(14,2);not null" json:"base"`
	Tax          decimal.Decimal `gorm:"type:decimal(14,2);not null" json:"tax"`
	LineTotal    decimal.Decimal `gorm:"type:decimal(14,2);not null" json:"line_total"`
}

func (i *CreditNoteItem) BeforeCreate(tx *gorm.DB) error {
	if i.ID == uuid.Nil {
		i.ID = uuid.New()
	}
	return nil
}

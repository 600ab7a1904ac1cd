package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// OrderStatus constants
const (
	OrderStatusPending           = "pending"
	OrderStatusConfirmed         = "confirmed"
	OrderStatusCanceled          = "canceled"
	OrderStatusPartiallyReturned = "partially_returned"
	OrderStatusReturned          = "returned"
)

// Order sources
const (
	OrderSourceOrder    = "order"
	OrderSourceCheckout = "checkout"
)

// Order is a customer sale that reserves stock while pending and consumes it on confirmation.
// Removed orders are soft-deleted so their codes are never handed out again.
type Order struct {
	ID             uuid.UUID       `gorm:"type:uuid;primaryKey" json:"id"`
	Code           string          `gorm:"type:varchar(32);uniqueIndex;not null" json:"code"`
	Status         string          `gorm:"type:varchar(20);not null;index" json:"status"`
	Source         string          `gorm:"type:varchar(20);not null" json:"source"`
	CustomerID     *uuid.UUID      `gorm:"type:uuid;index" json:"customer_id"`
	Customer       *Customer       `gorm:"foreignKey:CustomerID" json:"customer,omitempty"`
	Total          decimal.Decimal `gorm:"type:decimal(14,2);not null" json:"total"`
	Notes          *string         `gorm:"type:text" json:"notes"`
	IdempotencyKey *string         `gorm:"type:varchar(64);uniqueIndex" json:"-"`
	Items          []OrderItem     `gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE" json:"items"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
	DeletedAt      gorm.DeletedAt  `gorm:"index" json:"-"`
}

func (o *Order) BeforeCreate(tx *gorm.DB) error {
	if o.ID == uuid.Nil {
		o.ID = uuid.New()
	}
	return nil
}

// Settled reports whether stock for the order has already left the shelf.
func (o *Order) Settled() bool {
	switch o.Status {
	case OrderStatusConfirmed, OrderStatusPartiallyReturned, OrderStatusReturned:
		return true
	}
	return false
}

// ReturnStatus derives the status of a settled order from its items' returned quantities.
func (o *Order) ReturnStatus() string {
	returned, full := 0, 0
	for _, it := range o.Items {
		if it.ReturnedQty > 0 {
			returned++
		}
		if it.ReturnedQty >= it.Quantity {
			full++
		}
	}
	switch {
	case len(o.Items) > 0 && full == len(o.Items):
		return OrderStatusReturned
	case returned > 0:
		return OrderStatusPartiallyReturned
	}
	return OrderStatusConfirmed
}

// OrderItem is a line of an order; name and price are snapshots taken at creation time
type OrderItem struct {
	ID          uuid.UUID       `gorm:"type:uuid;primaryKey" json:"id"`
	OrderID     uuid.UUID       `gorm:"type:uuid;not null;index" json:"order_id"`
	ProductID   uuid.UUID       `gorm:"type:uuid;not null;index" json:"product_id"`
	ProductName string          `gorm:"type:varchar(255);not null" json:"product_name"`
	UnitPrice   decimal.Decimal `gorm:"type:decimal(14,2);not null" json:"unit_price"`
	Quantity    int             `gorm:"type:int;not null" json:"quantity"`
	Discount    decimal.Decimal `gorm:"type:decimal(14,2);not null" json:"discount"`
	LineTotal   decimal.Decimal `gorm:"type:decimal(14,2);not null" json:"line_total"`
	ReturnedQty int             `gorm:"type:int;not null" json:"returned_qty"`
	CreatedAt   time.Time       `json:"created_at"`
}

func (i *OrderItem) BeforeCreate(tx *gorm.DB) error {
	if i.ID == uuid.Nil {
		i.ID = uuid.New()
	}
	return nil
}

// Returnable is the quantity that can still be returned.
func (i OrderItem) Returnable() int {
	if i.Quantity-i.ReturnedQty < 0 {
		return 0
	}
	return i.Quantity - i.ReturnedQty
}

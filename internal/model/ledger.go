package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Ledger entry types. Source types share the same vocabulary.
const (
	LedgerTypeOrder      = "order"
	LedgerTypePayment    = "payment"
	LedgerTypeCreditNote = "credit_note"
	LedgerTypeAdjustment = "adjustment"
)

// LedgerEntry is a signed change of a customer's debt: positive increases what the customer owes
type LedgerEntry struct {
	ID          uuid.UUID       `gorm:"type:uuid;primaryKey" json:"id"`
	CustomerID  *uuid.UUID      `gorm:"type:uuid;index:idx_ledger_customer" json:"customer_id"`
	Date        time.Time       `gorm:"not null;index" json:"date"`
	Type        string          `gorm:"type:varchar(32);not null" json:"type"`
	SourceType  string          `gorm:"type:varchar(32);not null;index:idx_ledger_source" json:"source_type"`
	SourceID    uuid.UUID       `gorm:"type:uuid;not null;index:idx_ledger_source" json:"source_id"`
	Amount      decimal.Decimal `gorm:"type:decimal(14,2);not null" json:"amount"`
	Description string          `gorm:"type:text" json:"description"`
	CreatedAt   time.Time       `json:"created_at"`
}

func (e *LedgerEntry) BeforeCreate(tx *gorm.DB) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	return nil
}

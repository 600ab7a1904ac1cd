package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// CashSessionDateLayout is the calendar day key of a session
const CashSessionDateLayout = "2006-01-02"

// CashSession groups the register movements of one calendar day
type CashSession struct {
	ID            uuid.UUID       `gorm:"type:uuid;primaryKey" json:"id"`
	Date          string          `gorm:"type:varchar(10);uniqueIndex;not null" json:"date"`
	OpeningAmount decimal.Decimal `gorm:"type:decimal(14,2);not null" json:"opening_amount"`
	ClosingAmount decimal.Decimal `gorm:"type:decimal(14,2);not null" json:"closing_amount"`
	IsOpen        bool            `gorm:"not null" json:"is_open"`
	ClosedAt      *time.Time      `json:"closed_at"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

func (s *CashSession) BeforeCreate(tx *gorm.DB) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	return nil
}

// Cash movement types
const (
	MovementTypeIncome  = "income"
	MovementTypeExpense = "expense"
	MovementTypeSale    = "sale"
	MovementTypeClose   = "close"
)

// CashMovement is an append-only register entry. Expenses are stored negative.
type CashMovement struct {
	ID            uuid.UUID       `gorm:"type:uuid;primaryKey" json:"id"`
	SessionID     uuid.UUID       `gorm:"type:uuid;not null;index" json:"session_id"`
	Amount        decimal.Decimal `gorm:"type:decimal(14,2);not null" json:"amount"`
	Type          string          `gorm:"type:varchar(10);not null" json:"type"`
	Description   string          `gorm:"type:text;not null" json:"description"`
	ReferenceType *string         `gorm:"type:varchar(20)" json:"reference_type,omitempty"`
	ReferenceID   *uuid.UUID      `gorm:"type:uuid;index" json:"reference_id,omitempty"`
	OccurredAt    time.Time       `gorm:"not null;index" json:"occurred_at"`
	CreatedAt     time.Time       `json:"created_at"`
}

func (m *CashMovement) BeforeCreate(tx *gorm.DB) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	return nil
}

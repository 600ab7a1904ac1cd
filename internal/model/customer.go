package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Customer is an account holder. Balance mirrors the sum of its ledger entries.
type Customer struct {
	ID        uuid.UUID       `gorm:"type:uuid;primaryKey" json:"id"`
	Name      string          `gorm:"type:varchar(255);not null" json:"name"`
	Phone     string          `gorm:"type:varchar(50)" json:"phone"`
	Email     string          `gorm:"type:varchar(255)" json:"email"`
	Address   string          `gorm:"type:text" json:"address"`
	Notes     string          `gorm:"type:text" json:"notes"`
	Balance   decimal.Decimal `gorm:"type:decimal(14,2);not null" json:"balance"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

func (c *Customer) BeforeCreate(tx *gorm.DB) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	return nil
}

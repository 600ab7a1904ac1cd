package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	ActionCreateProduct  = "CREATE_PRODUCT"
	ActionUpdateProduct  = "UPDATE_PRODUCT"
	ActionDeleteProduct  = "DELETE_PRODUCT"
	ActionAdjustStock    = "ADJUST_STOCK"
	ActionCreateOrder    = "CREATE_ORDER"
	ActionUpdateOrder    = "UPDATE_ORDER"
	ActionConfirmOrder   = "CONFIRM_ORDER"
	ActionCancelOrder    = "CANCEL_ORDER"
	ActionDeleteOrder    = "DELETE_ORDER"
	ActionCheckout       = "CHECKOUT"
	ActionOpenCash       = "OPEN_CASH"
	ActionCloseCash      = "CLOSE_CASH"
	ActionCashMovement   = "CASH_MOVEMENT"
	ActionCreateCustomer = "CREATE_CUSTOMER"
	ActionUpdateCustomer = "UPDATE_CUSTOMER"
	ActionDeleteCustomer = "DELETE_CUSTOMER"
	ActionLedgerPayment  = "LEDGER_PAYMENT"
	ActionLedgerAdjust   = "LEDGER_ADJUSTMENT"
	ActionCreditNote     = "CREATE_CREDIT_NOTE"
)

// AuditLog tracks What and When for state-changing operations
type AuditLog struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	Action     string    `gorm:"type:varchar(50);not null;index" json:"action"`
	EntityID   string    `gorm:"type:varchar(50);index" json:"entity_id"`        // Reference string (uuid/code)
	EntityName string    `gorm:"type:varchar(255)" json:"entity_name,omitempty"` // Human readable name
	Details    string    `gorm:"type:jsonb" json:"details"`                      // Serialized JSON payload of the action
	CreatedAt  time.Time `gorm:"index" json:"created_at"`
}

func (a *AuditLog) BeforeCreate(tx *gorm.DB) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	return nil
}

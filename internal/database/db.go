package database

import (
	"time"

	"backoffice/internal/model"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// NewConnection initializes a new connection pool using GORM
func NewConnection(dsn string, maxIdleConns, maxOpenConns int, log *zap.Logger) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxIdleConns(maxIdleConns)
	sqlDB.SetMaxOpenConns(maxOpenConns)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := Migrate(db); err != nil {
		log.Warn("failed to auto-migrate models", zap.Error(err))
	}

	return db, nil
}

// Migrate creates or updates the schema of every persisted model
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&model.Product{},
		&model.InventoryTransaction{},
		&model.Customer{},
		&model.Order{},
		&model.OrderItem{},
		&model.CashSession{},
		&model.CashMovement{},
		&model.LedgerEntry{},
		&model.CreditNote{},
		&model.CreditNoteItem{},
		&model.AuditLog{},
	)
}

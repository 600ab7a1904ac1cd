package main

import (
	"fmt"

	"backoffice/internal/cache"
	"backoffice/internal/config"
	"backoffice/internal/database"
	"backoffice/internal/lock"
	"backoffice/internal/logger"
	"backoffice/internal/repository"
	"backoffice/internal/service"
	"backoffice/internal/websocket"

	redis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// app holds the wired dependency graph shared by every command
type app struct {
	cfg config.Config
	log *zap.Logger
	db  *gorm.DB
	rdb *redis.Client
	hub *websocket.Hub

	inventory   service.InventoryService
	cash        service.CashService
	ledger      service.LedgerService
	customers   service.CustomerService
	orders      service.OrderService
	creditNotes service.CreditNoteService
	audit       service.AuditService
	stats       service.StatisticsService
}

func newApp() (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	log := logger.NewLogger(cfg.LogMode)

	db, err := database.NewConnection(cfg.DSN(), cfg.DBMaxIdleConns, cfg.DBMaxOpenConns, log)
	if err != nil {
		return nil, fmt.Errorf("database connection failed: %w", err)
	}
	log.Info("Connected to PostgreSQL successfully.")

	a := &app{cfg: cfg, log: log, db: db, hub: websocket.NewHub(log)}

	// Redis is optional: without it the cache is disabled and locks are process local.
	var productCache cache.Cache = cache.Noop{}
	var locker lock.Locker = lock.Noop{}
	if cfg.RedisAddr != "" {
		a.rdb = cache.NewRedisClient(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		productCache = cache.NewRedisCache(a.rdb)
		locker = lock.NewRedisLocker(a.rdb)
		log.Info("Redis cache enabled", zap.String("addr", cfg.RedisAddr))
	}

	// Set up dependencies (Repository -> Service -> Handler)
	txManager := repository.NewTransactionManager(db)
	productRepo := repository.NewProductRepository(db)
	orderRepo := repository.NewOrderRepository(db)
	customerRepo := repository.NewCustomerRepository(db)
	ledgerRepo := repository.NewLedgerRepository(db)
	auditRepo := repository.NewAuditRepository(db)
	clock := service.SystemClock{Location: cfg.Location()}

	a.inventory = service.NewInventoryService(productRepo, repository.NewInventoryTxRepository(db), auditRepo, txManager, productCache, cfg.CacheTTL, a.hub, log)
	a.cash = service.NewCashService(repository.NewCashRepository(db), auditRepo, txManager, locker, clock, cfg.CashSessionPolicy, a.hub, log)
	a.ledger = service.NewLedgerService(ledgerRepo, customerRepo, productRepo, auditRepo, txManager, clock, log)
	a.customers = service.NewCustomerService(customerRepo, ledgerRepo, auditRepo, txManager)
	a.orders = service.NewOrderService(orderRepo, customerRepo, auditRepo, txManager, a.inventory, a.cash, a.ledger, clock, a.hub, log)
	a.creditNotes = service.NewCreditNoteService(repository.NewCreditNoteRepository(db), orderRepo, auditRepo, txManager, a.inventory, a.cash, a.ledger, clock, cfg.TaxRate, a.hub, log)
	a.audit = service.NewAuditService(auditRepo)
	a.stats = service.NewStatisticsService(repository.NewStatisticsRepository(db), cfg.Location())

	return a, nil
}

func (a *app) close() {
	if a.rdb != nil {
		if err := a.rdb.Close(); err != nil {
			a.log.Warn("failed to close redis client", zap.Error(err))
		}
	}
	if sqlDB, err := a.db.DB(); err == nil {
		_ = sqlDB.Close()
	}
	_ = a.log.Sync()
}

package service

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"backoffice/internal/config"
	"backoffice/internal/database/dbtest"
	"backoffice/internal/model"
	"backoffice/internal/repository"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type fixedClock struct {
	now time.Time
}

func (c *fixedClock) Now() time.Time { return c.now }

type publishedEvent struct {
	name string
	data interface{}
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []publishedEvent
}

func (p *recordingPublisher) Publish(event string, data interface{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, publishedEvent{name: event, data: data})
}

func (p *recordingPublisher) count(event string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, e := range p.events {
		if e.name == event {
			n++
		}
	}
	return n
}

// memoryCache is a map backed cache.Cache for tests. onMiss runs after a missed Get.
type memoryCache struct {
	mu      sync.Mutex
	entries map[string][]byte
	onMiss  func()
}

func newMemoryCache() *memoryCache {
	return &memoryCache{entries: map[string][]byte{}}
}

func (c *memoryCache) Get(_ context.Context, key string, dest interface{}) (bool, error) {
	c.mu.Lock()
	raw, ok := c.entries[key]
	hook := c.onMiss
	c.mu.Unlock()
	if !ok {
		if hook != nil {
			hook()
		}
		return false, nil
	}
	return true, json.Unmarshal(raw, dest)
}

func (c *memoryCache) Set(_ context.Context, key string, value interface{}, _ time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = raw
	return nil
}

func (c *memoryCache) Delete(_ context.Context, keys ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, k := range keys {
		delete(c.entries, k)
	}
	return nil
}

func (c *memoryCache) has(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.entries[key]
	return ok
}

type fixture struct {
	db     *gorm.DB
	clock  *fixedClock
	events *recordingPublisher
	cache  *memoryCache

	productRepo  repository.ProductRepository
	invTxRepo    repository.InventoryTxRepository
	orderRepo    repository.OrderRepository
	cashRepo     repository.CashRepository
	customerRepo repository.CustomerRepository
	ledgerRepo   repository.LedgerRepository
	noteRepo     repository.CreditNoteRepository
	auditRepo    repository.AuditRepository

	inventory   InventoryService
	cash        CashService
	ledger      LedgerService
	customers   CustomerService
	orders      OrderService
	creditNotes CreditNoteService
	stats       StatisticsService
	audit       AuditService
}

func newFixture(t *testing.T) *fixture {
	return newFixtureWithPolicy(t, config.CashPolicyRequireOpen)
}

func newFixtureWithPolicy(t *testing.T, policy string) *fixture {
	t.Helper()

	db := dbtest.New(t)
	f := &fixture{
		db:     db,
		clock:  &fixedClock{now: time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC)},
		events: &recordingPublisher{},
		cache:  newMemoryCache(),

		productRepo:  repository.NewProductRepository(db),
		invTxRepo:    repository.NewInventoryTxRepository(db),
		orderRepo:    repository.NewOrderRepository(db),
		cashRepo:     repository.NewCashRepository(db),
		customerRepo: repository.NewCustomerRepository(db),
		ledgerRepo:   repository.NewLedgerRepository(db),
		noteRepo:     repository.NewCreditNoteRepository(db),
		auditRepo:    repository.NewAuditRepository(db),
	}
	txManager := repository.NewTransactionManager(db)

	f.inventory = NewInventoryService(f.productRepo, f.invTxRepo, f.auditRepo, txManager, f.cache, time.Minute, f.events, nil)
	f.cash = NewCashService(f.cashRepo, f.auditRepo, txManager, nil, f.clock, policy, f.events, nil)
	f.ledger = NewLedgerService(f.ledgerRepo, f.customerRepo, f.productRepo, f.auditRepo, txManager, f.clock, nil)
	f.customers = NewCustomerService(f.customerRepo, f.ledgerRepo, f.auditRepo, txManager)
	f.orders = NewOrderService(f.orderRepo, f.customerRepo, f.auditRepo, txManager, f.inventory, f.cash, f.ledger, f.clock, f.events, nil)
	f.creditNotes = NewCreditNoteService(f.noteRepo, f.orderRepo, f.auditRepo, txManager, f.inventory, f.cash, f.ledger, f.clock, decimal.RequireFromString("0.21"), f.events, nil)
	f.stats = NewStatisticsService(repository.NewStatisticsRepository(db), time.UTC)
	f.audit = NewAuditService(f.auditRepo)
	return f
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func assertMoney(t *testing.T, expected string, actual decimal.Decimal, msgAndArgs ...interface{}) {
	t.Helper()
	assert.True(t, dec(expected).Equal(actual.Round(2)), append([]interface{}{"expected %s, got %s", expected, actual.String()}, msgAndArgs...)...)
}

func (f *fixture) newProduct(t *testing.T, name string, stock int, price string) uuid.UUID {
	t.Helper()
	res, err := f.inventory.CreateProduct(context.Background(), CreateProductRequest{
		Name:  name,
		Price: dec(price),
		Stock: stock,
	})
	require.NoError(t, err)
	return uuid.MustParse(res.ID)
}

func (f *fixture) product(t *testing.T, id uuid.UUID) *model.Product {
	t.Helper()
	p, err := f.productRepo.FindByID(context.Background(), id)
	require.NoError(t, err)
	return p
}

func (f *fixture) newCustomer(t *testing.T, name string) uuid.UUID {
	t.Helper()
	res, err := f.customers.CreateCustomer(context.Background(), CreateCustomerRequest{Name: name})
	require.NoError(t, err)
	return res.ID
}

func (f *fixture) customerBalance(t *testing.T, id uuid.UUID) decimal.Decimal {
	t.Helper()
	c, err := f.customerRepo.FindByID(context.Background(), id)
	require.NoError(t, err)
	return c.Balance
}

func (f *fixture) openCash(t *testing.T, amount string) {
	t.Helper()
	_, err := f.cash.Open(context.Background(), OpenCashRequest{Amount: dec(amount)})
	require.NoError(t, err)
}

func (f *fixture) createOrder(t *testing.T, customerID *uuid.UUID, items ...OrderItemRequest) model.Order {
	t.Helper()
	req := CreateOrderRequest{Items: items}
	if customerID != nil {
		s := customerID.String()
		req.CustomerID = &s
	}
	order, err := f.orders.CreateOrder(context.Background(), req)
	require.NoError(t, err)
	return order
}

func item(productID uuid.UUID, qty int) OrderItemRequest {
	return OrderItemRequest{ProductID: productID.String(), Quantity: qty}
}

// assertCountersConsistent checks 0 <= reserved <= stock for every product.
func (f *fixture) assertCountersConsistent(t *testing.T) {
	t.Helper()
	bad, err := f.productRepo.FindInconsistent(context.Background())
	require.NoError(t, err)
	assert.Empty(t, bad)
}

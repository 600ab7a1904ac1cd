package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"backoffice/internal/model"
	"backoffice/internal/repository"
	"backoffice/pkg/pagination"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Payment methods accepted at checkout
const (
	PaymentCash     = "cash"
	PaymentDebit    = "debit"
	PaymentCredit   = "credit"
	PaymentTransfer = "transfer"
)

// DTOs
type OrderItemRequest struct {
	ProductID   string           `json:"product_id" binding:"required,uuid"`
	ProductName string           `json:"product_name" binding:"max=255"`
	UnitPrice   *decimal.Decimal `json:"unit_price"`
	Quantity    int              `json:"quantity" binding:"required,gt=0"`
	Discount    decimal.Decimal  `json:"discount"` // absolute, whole line
}

type CreateOrderRequest struct {
	CustomerID *string            `json:"customer_id" binding:"omitempty,uuid"`
	Items      []OrderItemRequest `json:"items" binding:"required,min=1,dive"`
	Notes      *string            `json:"notes"`
}

type UpdateOrderRequest struct {
	CustomerID *string            `json:"customer_id" binding:"omitempty,uuid"`
	Items      []OrderItemRequest `json:"items" binding:"omitempty,dive"` // nil keeps the current lines
	Notes      *string            `json:"notes"`
	Status     *string            `json:"status"`
}

type OrderListQuery struct {
	Status          string `form:"status"`
	CustomerID      string `form:"customer_id" binding:"omitempty,uuid"`
	Sort            string `form:"sort" binding:"omitempty,oneof=date_desc date_asc code_asc code_desc"`
	IncludeCustomer bool   `form:"include_customer"`
	IncludeItems    bool   `form:"include_items"`
	Page            int    `form:"page"`
	Limit           int    `form:"limit"`
}

type CheckoutItemRequest struct {
	ProductID string           `json:"product_id" binding:"required,uuid"`
	Qty       int              `json:"qty" binding:"required,gt=0"`
	Price     *decimal.Decimal `json:"price"`
	Discount  decimal.Decimal  `json:"discount"` // absolute, per unit
}

type CheckoutPaymentRequest struct {
	Method string          `json:"method" binding:"required,oneof=cash debit credit transfer"`
	Amount decimal.Decimal `json:"amount"`
}

type CheckoutRequest struct {
	Items          []CheckoutItemRequest    `json:"items" binding:"required,min=1,dive"`
	Payments       []CheckoutPaymentRequest `json:"payments" binding:"required,min=1,dive"`
	DiscountGlobal decimal.Decimal          `json:"discount_global"`
	CustomerID     *string                  `json:"customer_id" binding:"omitempty,uuid"`
	Notes          *string                  `json:"notes"`
	IdempotencyKey string                   `json:"idempotency_key" binding:"max=64"`
}

type CheckoutResponse struct {
	Order          model.Order     `json:"order"`
	Subtotal       decimal.Decimal `json:"subtotal"`
	Discount       decimal.Decimal `json:"discount"`
	Total          decimal.Decimal `json:"total"`
	Paid           decimal.Decimal `json:"paid"`
	Change         decimal.Decimal `json:"change"`
	CashRegistered decimal.Decimal `json:"cash_registered"`
	Replayed       bool            `json:"replayed"`
}

type OrderStatusEvent struct {
	OrderID string `json:"order_id"`
	Code    string `json:"code"`
	Status  string `json:"status"`
}

type OrderService interface {
	CreateOrder(ctx context.Context, req CreateOrderRequest) (model.Order, error)
	GetOrder(ctx context.Context, id string) (model.Order, error)
	GetOrders(ctx context.Context, q OrderListQuery) ([]model.Order, int64, error)
	UpdateOrder(ctx context.Context, id string, req UpdateOrderRequest) (model.Order, error)
	ConfirmOrder(ctx context.Context, id string) (model.Order, error)
	CancelOrder(ctx context.Context, id string) (model.Order, error)
	RemoveOrder(ctx context.Context, id string) error
	Checkout(ctx context.Context, req CheckoutRequest) (CheckoutResponse, error)
}

type orderService struct {
	orderRepo    repository.OrderRepository
	customerRepo repository.CustomerRepository
	auditRepo    repository.AuditRepository
	txManager    repository.TransactionManager
	inventory    InventoryLedger
	cash         CashRegister
	ledger       LedgerPoster
	clock        Clock
	events       EventPublisher
	log          *zap.Logger
}

func NewOrderService(
	orderRepo repository.OrderRepository,
	customerRepo repository.CustomerRepository,
	auditRepo repository.AuditRepository,
	txManager repository.TransactionManager,
	inventory InventoryLedger,
	cash CashRegister,
	ledger LedgerPoster,
	clock Clock,
	events EventPublisher,
	log *zap.Logger,
) OrderService {
	if clock == nil {
		clock = SystemClock{}
	}
	if events == nil {
		events = NoopPublisher{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &orderService{
		orderRepo:    orderRepo,
		customerRepo: customerRepo,
		auditRepo:    auditRepo,
		txManager:    txManager,
		inventory:    inventory,
		cash:         cash,
		ledger:       ledger,
		clock:        clock,
		events:       events,
		log:          log,
	}
}

// orderLine is a validated line before prices are resolved against the product.
type orderLine struct {
	productID uuid.UUID
	name      string
	unitPrice *decimal.Decimal
	quantity  int
	discount  decimal.Decimal
}

type createParams struct {
	customerID     *uuid.UUID
	lines          []orderLine
	globalDiscount decimal.Decimal
	notes          *string
	source         string
	idempotencyKey *string
}

// settlement describes what confirming an order posts besides the stock movement.
type settlement struct {
	cashAmount  decimal.Decimal
	description string
	paidInFull  bool
}

// afterCommit collects what must be announced once the transaction is durable.
type afterCommit struct {
	products  map[uuid.UUID]*model.Product
	movements []*model.CashMovement
}

func newAfterCommit() *afterCommit {
	return &afterCommit{products: map[uuid.UUID]*model.Product{}}
}

func (a *afterCommit) touch(products ...*model.Product) {
	for _, p := range products {
		a.products[p.ID] = p
	}
}

func (s *orderService) flush(ctx context.Context, a *afterCommit, order *model.Order) {
	products := make([]*model.Product, 0, len(a.products))
	for _, p := range a.products {
		products = append(products, p)
	}
	s.inventory.NotifyChanged(ctx, products...)
	for _, m := range a.movements {
		s.events.Publish(EventCashMovement, CashMovementEvent{SessionID: m.SessionID.String(), Type: m.Type, Amount: m.Amount})
	}
	if order != nil {
		s.events.Publish(EventOrderStatusChanged, OrderStatusEvent{OrderID: order.ID.String(), Code: order.Code, Status: order.Status})
	}
}

func toOrderLines(items []OrderItemRequest) ([]orderLine, error) {
	if len(items) == 0 {
		return nil, fmt.Errorf("%w: order must have at least one item", ErrValidation)
	}
	lines := make([]orderLine, 0, len(items))
	for i, it := range items {
		pid, err := parseID(it.ProductID, fmt.Sprintf("items[%d].product_id", i))
		if err != nil {
			return nil, err
		}
		if it.Quantity <= 0 {
			return nil, fmt.Errorf("%w: items[%d].quantity must be positive", ErrValidation, i)
		}
		lines = append(lines, orderLine{
			productID: pid,
			name:      strings.TrimSpace(it.ProductName),
			unitPrice: it.UnitPrice,
			quantity:  it.Quantity,
			discount:  it.Discount,
		})
	}
	return lines, nil
}

// demand sums quantities per product.
func demand(lines []orderLine) map[uuid.UUID]int {
	need := make(map[uuid.UUID]int, len(lines))
	for _, l := range lines {
		need[l.productID] += l.quantity
	}
	return need
}

func itemDemand(items []model.OrderItem) map[uuid.UUID]int {
	need := make(map[uuid.UUID]int, len(items))
	for _, it := range items {
		need[it.ProductID] += it.Quantity
	}
	return need
}

func sortedKeys(m map[uuid.UUID]int) []uuid.UUID {
	keys := make([]uuid.UUID, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })
	return keys
}

// buildItems prices the lines against the locked products and spreads the global
// discount proportionally to the line nets; the last line takes the rounding rest.
func buildItems(lines []orderLine, products map[uuid.UUID]*model.Product, global decimal.Decimal) ([]model.OrderItem, decimal.Decimal, error) {
	items := make([]model.OrderItem, 0, len(lines))
	nets := make([]decimal.Decimal, 0, len(lines))
	sumNet := decimal.Zero

	for i, l := range lines {
		p := products[l.productID]
		price := p.Price
		if l.unitPrice != nil {
			price = *l.unitPrice
		}
		if price.IsNegative() {
			return nil, decimal.Zero, fmt.Errorf("%w: items[%d] unit price must not be negative", ErrValidation, i)
		}
		if l.discount.IsNegative() {
			return nil, decimal.Zero, fmt.Errorf("%w: items[%d] discount must not be negative", ErrValidation, i)
		}
		name := l.name
		if name == "" {
			name = p.Name
		}
		price = price.Round(2)
		gross := price.Mul(decimal.NewFromInt(int64(l.quantity))).Round(2)
		net := gross.Sub(l.discount.Round(2))
		if net.IsNegative() {
			return nil, decimal.Zero, fmt.Errorf("%w: items[%d] discount exceeds line amount", ErrValidation, i)
		}
		items = append(items, model.OrderItem{
			ProductID:   l.productID,
			ProductName: name,
			UnitPrice:   price,
			Quantity:    l.quantity,
			Discount:    l.discount.Round(2),
		})
		nets = append(nets, net)
		sumNet = sumNet.Add(net)
	}

	global = global.Round(2)
	if global.IsNegative() {
		return nil, decimal.Zero, fmt.Errorf("%w: global discount must not be negative", ErrValidation)
	}
	if global.GreaterThan(sumNet) {
		return nil, decimal.Zero, fmt.Errorf("%w: global discount exceeds order amount", ErrValidation)
	}
	if global.IsPositive() {
		rest := global
		for i := range items {
			share := rest
			if i < len(items)-1 {
				share = global.Mul(nets[i]).Div(sumNet).Round(2)
				if share.GreaterThan(rest) {
					share = rest
				}
			}
			if share.GreaterThan(nets[i]) {
				share = nets[i]
			}
			items[i].Discount = items[i].Discount.Add(share)
			nets[i] = nets[i].Sub(share)
			rest = rest.Sub(share)
		}
		if rest.IsPositive() {
			return nil, decimal.Zero, fmt.Errorf("%w: global discount cannot be spread over the lines", ErrValidation)
		}
	}

	total := decimal.Zero
	for i := range items {
		items[i].LineTotal = nets[i]
		total = total.Add(nets[i])
	}
	return items, total, nil
}

func (s *orderService) checkCustomer(ctx context.Context, id *uuid.UUID) error {
	if id == nil {
		return nil
	}
	if _, err := s.customerRepo.FindByID(ctx, *id); err != nil {
		return notFound(err, "customer")
	}
	return nil
}

// createLocked validates availability of every product before reserving any of them.
func (s *orderService) createLocked(ctx context.Context, p createParams, ac *afterCommit) (*model.Order, error) {
	if err := s.checkCustomer(ctx, p.customerID); err != nil {
		return nil, err
	}

	need := demand(p.lines)
	products, err := s.inventory.LockProducts(ctx, sortedKeys(need))
	if err != nil {
		return nil, err
	}
	for _, id := range sortedKeys(need) {
		if products[id].Available() < need[id] {
			return nil, fmt.Errorf("%w: %s (available: %d)", ErrInsufficientStock, products[id].Name, products[id].Available())
		}
	}

	items, total, err := buildItems(p.lines, products, p.globalDiscount)
	if err != nil {
		return nil, err
	}

	code, err := s.orderRepo.NextCode(ctx, s.clock.Now())
	if err != nil {
		return nil, fmt.Errorf("failed to generate order code: %w", err)
	}
	order := &model.Order{
		Code:           code,
		Status:         model.OrderStatusPending,
		Source:         p.source,
		CustomerID:     p.customerID,
		Total:          total,
		Notes:          trimOptional(p.notes),
		IdempotencyKey: p.idempotencyKey,
	}
	if err := s.orderRepo.Create(ctx, order); err != nil {
		return nil, fmt.Errorf("failed to create order: %w", err)
	}
	for i := range items {
		items[i].OrderID = order.ID
		if err := s.orderRepo.CreateItem(ctx, &items[i]); err != nil {
			return nil, fmt.Errorf("failed to create order item: %w", err)
		}
	}
	order.Items = items

	for _, id := range sortedKeys(need) {
		product, err := s.inventory.Reserve(ctx, id, need[id], &order.ID)
		if err != nil {
			return nil, err
		}
		ac.touch(product)
	}
	return order, nil
}

func (s *orderService) CreateOrder(ctx context.Context, req CreateOrderRequest) (model.Order, error) {
	lines, err := toOrderLines(req.Items)
	if err != nil {
		return model.Order{}, err
	}
	customerID, err := parseOptionalID(req.CustomerID, "customer_id")
	if err != nil {
		return model.Order{}, err
	}

	ac := newAfterCommit()
	var order *model.Order
	err = s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		order, err = s.createLocked(txCtx, createParams{
			customerID: customerID,
			lines:      lines,
			notes:      req.Notes,
			source:     model.OrderSourceOrder,
		}, ac)
		if err != nil {
			return err
		}
		return writeAudit(txCtx, s.auditRepo, model.ActionCreateOrder, order.ID.String(), order.Code, map[string]interface{}{
			"total": order.Total,
			"items": len(order.Items),
		})
	})
	if err != nil {
		return model.Order{}, err
	}

	s.flush(ctx, ac, order)
	return *order, nil
}

func (s *orderService) GetOrder(ctx context.Context, id string) (model.Order, error) {
	oid, err := parseID(id, "order id")
	if err != nil {
		return model.Order{}, err
	}
	order, err := s.orderRepo.FindByIDWithItems(ctx, oid)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return model.Order{}, ErrOrderNotFound
		}
		return model.Order{}, fmt.Errorf("failed to load order: %w", err)
	}
	return *order, nil
}

func (s *orderService) GetOrders(ctx context.Context, q OrderListQuery) ([]model.Order, int64, error) {
	filter := repository.OrderFilter{
		Status:          q.Status,
		Sort:            q.Sort,
		IncludeCustomer: q.IncludeCustomer,
		IncludeItems:    q.IncludeItems,
	}
	p := pagination.Standard.Normalize(q.Page, q.Limit)
	filter.Page, filter.Limit = p.Page, p.Limit
	switch filter.Sort {
	case "", repository.OrderSortDateDesc, repository.OrderSortDateAsc, repository.OrderSortCodeAsc, repository.OrderSortCodeDesc:
	default:
		return nil, 0, fmt.Errorf("%w: unknown sort %q", ErrValidation, q.Sort)
	}
	if q.CustomerID != "" {
		cid, err := parseID(q.CustomerID, "customer_id")
		if err != nil {
			return nil, 0, err
		}
		filter.CustomerID = &cid
	}

	orders, total, err := s.orderRepo.List(ctx, filter)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list orders: %w", err)
	}
	return orders, total, nil
}

func (s *orderService) lockOrder(ctx context.Context, id uuid.UUID) (*model.Order, error) {
	order, err := s.orderRepo.FindByIDForUpdate(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("failed to lock order: %w", err)
	}
	return order, nil
}

func (s *orderService) UpdateOrder(ctx context.Context, id string, req UpdateOrderRequest) (model.Order, error) {
	oid, err := parseID(id, "order id")
	if err != nil {
		return model.Order{}, err
	}
	if req.Status != nil && *req.Status != model.OrderStatusPending {
		return model.Order{}, fmt.Errorf("%w: status can only be set to pending here, use confirm or cancel", ErrValidation)
	}
	var lines []orderLine
	if req.Items != nil {
		if lines, err = toOrderLines(req.Items); err != nil {
			return model.Order{}, err
		}
	}
	customerID, err := parseOptionalID(req.CustomerID, "customer_id")
	if err != nil {
		return model.Order{}, err
	}

	ac := newAfterCommit()
	var order *model.Order
	err = s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		order, err = s.lockOrder(txCtx, oid)
		if err != nil {
			return err
		}
		if order.Status != model.OrderStatusPending {
			return fmt.Errorf("%w: order %s is %s", ErrInvalidState, order.Code, order.Status)
		}

		if customerID != nil {
			if err := s.checkCustomer(txCtx, customerID); err != nil {
				return err
			}
			order.CustomerID = customerID
		}
		if req.Notes != nil {
			order.Notes = trimOptional(req.Notes)
		}
		if lines != nil {
			if err := s.replaceItems(txCtx, order, lines, ac); err != nil {
				return err
			}
		}

		if err := s.orderRepo.Save(txCtx, order); err != nil {
			return fmt.Errorf("failed to update order: %w", err)
		}
		return writeAudit(txCtx, s.auditRepo, model.ActionUpdateOrder, order.ID.String(), order.Code, req)
	})
	if err != nil {
		return model.Order{}, err
	}

	s.flush(ctx, ac, nil)
	return *order, nil
}

// replaceItems swaps the reserved lines of a pending order. Availability of the new
// lines is checked as if the old reservations were already released.
func (s *orderService) replaceItems(ctx context.Context, order *model.Order, lines []orderLine, ac *afterCommit) error {
	oldNeed := itemDemand(order.Items)
	newNeed := demand(lines)

	union := make(map[uuid.UUID]int, len(oldNeed)+len(newNeed))
	for id := range oldNeed {
		union[id] = 0
	}
	for id := range newNeed {
		union[id] = 0
	}
	products, err := s.inventory.LockProducts(ctx, sortedKeys(union))
	if err != nil {
		return err
	}
	for _, id := range sortedKeys(newNeed) {
		p := products[id]
		free := p.Stock - (p.Reserved - oldNeed[id])
		if free < newNeed[id] {
			if free < 0 {
				free = 0
			}
			return fmt.Errorf("%w: %s (available: %d)", ErrInsufficientStock, p.Name, free)
		}
	}

	items, total, err := buildItems(lines, products, decimal.Zero)
	if err != nil {
		return err
	}

	for _, id := range sortedKeys(oldNeed) {
		product, err := s.inventory.Release(ctx, id, oldNeed[id], &order.ID)
		if err != nil {
			return err
		}
		ac.touch(product)
	}
	for _, id := range sortedKeys(newNeed) {
		product, err := s.inventory.Reserve(ctx, id, newNeed[id], &order.ID)
		if err != nil {
			return err
		}
		ac.touch(product)
	}

	if err := s.orderRepo.DeleteItems(ctx, order.ID); err != nil {
		return fmt.Errorf("failed to replace order items: %w", err)
	}
	for i := range items {
		items[i].OrderID = order.ID
		if err := s.orderRepo.CreateItem(ctx, &items[i]); err != nil {
			return fmt.Errorf("failed to create order item: %w", err)
		}
	}
	order.Items = items
	order.Total = total
	return nil
}

// confirmLocked consumes the reservations of a pending order and posts the sale.
func (s *orderService) confirmLocked(ctx context.Context, order *model.Order, st settlement, ac *afterCommit) error {
	need := itemDemand(order.Items)
	if _, err := s.inventory.LockProducts(ctx, sortedKeys(need)); err != nil {
		return err
	}
	for _, id := range sortedKeys(need) {
		product, err := s.inventory.Consume(ctx, id, need[id], &order.ID)
		if err != nil {
			return err
		}
		ac.touch(product)
	}

	order.Status = model.OrderStatusConfirmed
	if err := s.orderRepo.Save(ctx, order); err != nil {
		return fmt.Errorf("failed to confirm order: %w", err)
	}

	if st.cashAmount.IsPositive() {
		session, err := s.cash.ResolveSession(ctx, s.cash.Today())
		if err != nil {
			return err
		}
		movement, err := s.cash.RegisterSale(ctx, session.ID, st.cashAmount, st.description, &CashReference{Type: model.LedgerTypeOrder, ID: order.ID})
		if err != nil {
			return err
		}
		ac.movements = append(ac.movements, movement)
	}

	if order.CustomerID != nil && order.Total.IsPositive() {
		if _, err := s.ledger.Record(ctx, LedgerRecord{
			CustomerID:  order.CustomerID,
			Type:        model.LedgerTypeOrder,
			SourceType:  model.LedgerTypeOrder,
			SourceID:    order.ID,
			Amount:      order.Total,
			Description: "Order " + order.Code,
		}); err != nil {
			return err
		}
		if st.paidInFull {
			if _, err := s.ledger.Record(ctx, LedgerRecord{
				CustomerID:  order.CustomerID,
				Type:        model.LedgerTypePayment,
				SourceType:  model.LedgerTypeOrder,
				SourceID:    order.ID,
				Amount:      order.Total.Neg(),
				Description: "Payment " + order.Code,
			}); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *orderService) ConfirmOrder(ctx context.Context, id string) (model.Order, error) {
	oid, err := parseID(id, "order id")
	if err != nil {
		return model.Order{}, err
	}

	ac := newAfterCommit()
	changed := false
	var order *model.Order
	err = s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		order, err = s.lockOrder(txCtx, oid)
		if err != nil {
			return err
		}
		switch order.Status {
		case model.OrderStatusConfirmed:
			return nil
		case model.OrderStatusPending:
		default:
			return fmt.Errorf("%w: order %s is %s", ErrInvalidState, order.Code, order.Status)
		}

		if err := s.confirmLocked(txCtx, order, settlement{
			cashAmount:  order.Total,
			description: "Sale " + order.Code,
		}, ac); err != nil {
			return err
		}
		changed = true
		return writeAudit(txCtx, s.auditRepo, model.ActionConfirmOrder, order.ID.String(), order.Code, map[string]interface{}{
			"total": order.Total,
		})
	})
	if err != nil {
		return model.Order{}, err
	}

	if changed {
		s.flush(ctx, ac, order)
	}
	return *order, nil
}

// cancelLocked releases every reservation of a pending order.
func (s *orderService) cancelLocked(ctx context.Context, order *model.Order, ac *afterCommit) error {
	need := itemDemand(order.Items)
	if _, err := s.inventory.LockProducts(ctx, sortedKeys(need)); err != nil {
		return err
	}
	for _, id := range sortedKeys(need) {
		product, err := s.inventory.Release(ctx, id, need[id], &order.ID)
		if err != nil {
			return err
		}
		ac.touch(product)
	}
	order.Status = model.OrderStatusCanceled
	if err := s.orderRepo.Save(ctx, order); err != nil {
		return fmt.Errorf("failed to cancel order: %w", err)
	}
	return nil
}

func (s *orderService) CancelOrder(ctx context.Context, id string) (model.Order, error) {
	oid, err := parseID(id, "order id")
	if err != nil {
		return model.Order{}, err
	}

	ac := newAfterCommit()
	changed := false
	var order *model.Order
	err = s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		order, err = s.lockOrder(txCtx, oid)
		if err != nil {
			return err
		}
		if order.Status == model.OrderStatusCanceled {
			return nil
		}
		if order.Settled() {
			return fmt.Errorf("%w: order %s is %s", ErrInvalidState, order.Code, order.Status)
		}
		if err := s.cancelLocked(txCtx, order, ac); err != nil {
			return err
		}
		changed = true
		return writeAudit(txCtx, s.auditRepo, model.ActionCancelOrder, order.ID.String(), order.Code, map[string]interface{}{
			"total": order.Total,
		})
	})
	if err != nil {
		return model.Order{}, err
	}

	if changed {
		s.flush(ctx, ac, order)
	}
	return *order, nil
}

func (s *orderService) RemoveOrder(ctx context.Context, id string) error {
	oid, err := parseID(id, "order id")
	if err != nil {
		return err
	}

	ac := newAfterCommit()
	err = s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		order, err := s.lockOrder(txCtx, oid)
		if err != nil {
			return err
		}
		if order.Settled() {
			return fmt.Errorf("%w: order %s is %s", ErrInvalidState, order.Code, order.Status)
		}
		if order.Status == model.OrderStatusPending {
			if err := s.cancelLocked(txCtx, order, ac); err != nil {
				return err
			}
		}
		if err := s.orderRepo.DeleteItems(txCtx, order.ID); err != nil {
			return fmt.Errorf("failed to delete order items: %w", err)
		}
		if err := s.orderRepo.Delete(txCtx, order.ID); err != nil {
			return fmt.Errorf("failed to delete order: %w", err)
		}
		return writeAudit(txCtx, s.auditRepo, model.ActionDeleteOrder, order.ID.String(), order.Code, map[string]interface{}{"deleted": true})
	})
	if err != nil {
		return err
	}

	s.flush(ctx, ac, nil)
	return nil
}

// Checkout sells at the counter: reserve, take payment and consume in one transaction.
func (s *orderService) Checkout(ctx context.Context, req CheckoutRequest) (CheckoutResponse, error) {
	if len(req.Items) == 0 {
		return CheckoutResponse{}, fmt.Errorf("%w: checkout must have at least one item", ErrValidation)
	}
	if len(req.Payments) == 0 {
		return CheckoutResponse{}, fmt.Errorf("%w: checkout must have at least one payment", ErrValidation)
	}

	lines := make([]orderLine, 0, len(req.Items))
	for i, it := range req.Items {
		pid, err := parseID(it.ProductID, fmt.Sprintf("items[%d].product_id", i))
		if err != nil {
			return CheckoutResponse{}, err
		}
		if it.Qty <= 0 {
			return CheckoutResponse{}, fmt.Errorf("%w: items[%d].qty must be positive", ErrValidation, i)
		}
		if it.Discount.IsNegative() {
			return CheckoutResponse{}, fmt.Errorf("%w: items[%d].discount must not be negative", ErrValidation, i)
		}
		lines = append(lines, orderLine{
			productID: pid,
			unitPrice: it.Price,
			quantity:  it.Qty,
			discount:  it.Discount.Mul(decimal.NewFromInt(int64(it.Qty))),
		})
	}

	paid, cashPaid, nonCashPaid := decimal.Zero, decimal.Zero, decimal.Zero
	for i, p := range req.Payments {
		if p.Amount.IsNegative() {
			return CheckoutResponse{}, fmt.Errorf("%w: payments[%d].amount must not be negative", ErrValidation, i)
		}
		switch p.Method {
		case PaymentCash:
			cashPaid = cashPaid.Add(p.Amount)
		case PaymentDebit, PaymentCredit, PaymentTransfer:
			nonCashPaid = nonCashPaid.Add(p.Amount)
		default:
			return CheckoutResponse{}, fmt.Errorf("%w: unknown payment method %q", ErrValidation, p.Method)
		}
		paid = paid.Add(p.Amount)
	}

	customerID, err := parseOptionalID(req.CustomerID, "customer_id")
	if err != nil {
		return CheckoutResponse{}, err
	}

	var key *string
	if k := strings.TrimSpace(req.IdempotencyKey); k != "" {
		key = &k
		if existing, err := s.replay(ctx, k); err != nil || existing != nil {
			if err != nil {
				return CheckoutResponse{}, err
			}
			return *existing, nil
		}
	}

	ac := newAfterCommit()
	var order *model.Order
	var cashRegistered decimal.Decimal
	err = s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		order, err = s.createLocked(txCtx, createParams{
			customerID:     customerID,
			lines:          lines,
			globalDiscount: req.DiscountGlobal,
			notes:          req.Notes,
			source:         model.OrderSourceCheckout,
			idempotencyKey: key,
		}, ac)
		if err != nil {
			return err
		}
		if paid.Round(2).LessThan(order.Total) {
			return fmt.Errorf("%w: paid %s of %s", ErrInsufficientPayment, paid.StringFixed(2), order.Total.StringFixed(2))
		}

		cashDue := decimal.Max(decimal.Zero, order.Total.Sub(nonCashPaid))
		cashRegistered = decimal.Min(cashPaid, cashDue).Round(2)
		if err := s.confirmLocked(txCtx, order, settlement{
			cashAmount:  cashRegistered,
			description: "Checkout " + order.Code,
			paidInFull:  true,
		}, ac); err != nil {
			return err
		}
		return writeAudit(txCtx, s.auditRepo, model.ActionCheckout, order.ID.String(), order.Code, map[string]interface{}{
			"total":           order.Total,
			"paid":            paid,
			"cash_registered": cashRegistered,
		})
	})
	if err != nil {
		if key != nil {
			// a concurrent request with the same key may have won the unique index
			if existing, lookupErr := s.replay(ctx, *key); lookupErr == nil && existing != nil {
				return *existing, nil
			}
		}
		return CheckoutResponse{}, err
	}

	s.flush(ctx, ac, order)
	res := checkoutTotals(*order)
	res.Paid = paid.Round(2)
	res.Change = paid.Sub(order.Total).Round(2)
	res.CashRegistered = cashRegistered
	return res, nil
}

func (s *orderService) replay(ctx context.Context, key string) (*CheckoutResponse, error) {
	existing, err := s.orderRepo.FindByIdempotencyKey(ctx, key)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up idempotency key: %w", err)
	}
	res := checkoutTotals(*existing)
	res.Replayed = true
	return &res, nil
}

func checkoutTotals(order model.Order) CheckoutResponse {
	subtotal, discount := decimal.Zero, decimal.Zero
	for _, it := range order.Items {
		subtotal = subtotal.Add(it.UnitPrice.Mul(decimal.NewFromInt(int64(it.Quantity))))
		discount = discount.Add(it.Discount)
	}
	return CheckoutResponse{
		Order:    order,
		Subtotal: subtotal.Round(2),
		Discount: discount.Round(2),
		Total:    order.Total.Round(2),
		Paid:     decimal.Zero,
		Change:   decimal.Zero,
	}
}

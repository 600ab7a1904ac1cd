package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"backoffice/internal/model"
	"backoffice/internal/repository"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ReturnTarget selects the order lines a returned quantity applies to.
type ReturnTarget interface {
	isReturnTarget()
}

// ByOrderItem targets one specific order line.
type ByOrderItem struct {
	OrderItemID uuid.UUID
}

// ByProduct spreads the quantity over the order lines of a product, in line order.
type ByProduct struct {
	ProductID uuid.UUID
}

func (ByOrderItem) isReturnTarget() {}
func (ByProduct) isReturnTarget()   {}

type ReturnLine struct {
	Target    ReturnTarget
	Quantity  int
	UnitPrice *decimal.Decimal
	Discount  decimal.Decimal
	TaxRate   *decimal.Decimal
}

type CreditNoteInput struct {
	OrderID      uuid.UUID
	CustomerID   *uuid.UUID
	Reason       string
	RefundMethod string
	Lines        []ReturnLine
}

// DTOs
type CreditNoteItemRequest struct {
	OrderItemID string           `json:"order_item_id" binding:"omitempty,uuid"`
	ProductID   string           `json:"product_id" binding:"omitempty,uuid"`
	Quantity    int              `json:"quantity" binding:"required,gt=0"`
	UnitPrice   *decimal.Decimal `json:"unit_price"`
	Discount    decimal.Decimal  `json:"discount"`
	TaxRate     *decimal.Decimal `json:"tax_rate"`
}

type CreateCreditNoteRequest struct {
	OrderID      string                  `json:"order_id" binding:"required,uuid"`
	CustomerID   *string                 `json:"customer_id" binding:"omitempty,uuid"`
	Reason       string                  `json:"reason" binding:"max=500"`
	RefundMethod string                  `json:"refund_method" binding:"required,oneof=cash credit"`
	Items        []CreditNoteItemRequest `json:"items" binding:"required,min=1,dive"`
}

// CreditNoteResponse presents amounts negative, as they reduce the sale.
type CreditNoteResponse struct {
	ID           uuid.UUID              `json:"id"`
	Number       string                 `json:"number"`
	OrderID      uuid.UUID              `json:"order_id"`
	CustomerID   *uuid.UUID             `json:"customer_id"`
	Reason       string                 `json:"reason"`
	RefundMethod string                 `json:"refund_method"`
	Subtotal     decimal.Decimal        `json:"subtotal"`
	Tax          decimal.Decimal        `json:"tax"`
	Total        decimal.Decimal        `json:"total"`
	Status       string                 `json:"status"`
	CreatedAt    time.Time              `json:"created_at"`
	Items        []model.CreditNoteItem `json:"items"`
}

func toCreditNoteResponse(n *model.CreditNote) CreditNoteResponse {
	items := n.Items
	if items == nil {
		items = []model.CreditNoteItem{}
	}
	return CreditNoteResponse{
		ID:           n.ID,
		Number:       n.Number,
		OrderID:      n.OrderID,
		CustomerID:   n.CustomerID,
		Reason:       n.Reason,
		RefundMethod: n.RefundMethod,
		Subtotal:     n.Subtotal.Neg(),
		Tax:          n.Tax.Neg(),
		Total:        n.Total.Neg(),
		Status:       n.Status,
		CreatedAt:    n.CreatedAt,
		Items:        items,
	}
}

// ToInput resolves the request into typed return targets.
func (r CreateCreditNoteRequest) ToInput() (CreditNoteInput, error) {
	orderID, err := parseID(r.OrderID, "order_id")
	if err != nil {
		return CreditNoteInput{}, err
	}
	customerID, err := parseOptionalID(r.CustomerID, "customer_id")
	if err != nil {
		return CreditNoteInput{}, err
	}
	in := CreditNoteInput{
		OrderID:      orderID,
		CustomerID:   customerID,
		Reason:       strings.TrimSpace(r.Reason),
		RefundMethod: r.RefundMethod,
	}
	for i, it := range r.Items {
		var target ReturnTarget
		switch {
		case it.OrderItemID != "" && it.ProductID != "":
			return CreditNoteInput{}, fmt.Errorf("%w: items[%d] must set order_item_id or product_id, not both", ErrValidation, i)
		case it.OrderItemID != "":
			id, err := parseID(it.OrderItemID, fmt.Sprintf("items[%d].order_item_id", i))
			if err != nil {
				return CreditNoteInput{}, err
			}
			target = ByOrderItem{OrderItemID: id}
		case it.ProductID != "":
			id, err := parseID(it.ProductID, fmt.Sprintf("items[%d].product_id", i))
			if err != nil {
				return CreditNoteInput{}, err
			}
			target = ByProduct{ProductID: id}
		default:
			return CreditNoteInput{}, fmt.Errorf("%w: items[%d] needs order_item_id or product_id", ErrValidation, i)
		}
		in.Lines = append(in.Lines, ReturnLine{
			Target:    target,
			Quantity:  it.Quantity,
			UnitPrice: it.UnitPrice,
			Discount:  it.Discount,
			TaxRate:   it.TaxRate,
		})
	}
	return in, nil
}

type CreditNoteService interface {
	CreateCreditNote(ctx context.Context, req CreateCreditNoteRequest) (CreditNoteResponse, error)
	Create(ctx context.Context, in CreditNoteInput) (CreditNoteResponse, error)
	GetCreditNote(ctx context.Context, id string) (CreditNoteResponse, error)
	ListByOrder(ctx context.Context, orderID string) ([]CreditNoteResponse, error)
}

type creditNoteService struct {
	noteRepo   repository.CreditNoteRepository
	orderRepo  repository.OrderRepository
	auditRepo  repository.AuditRepository
	txManager  repository.TransactionManager
	inventory  InventoryLedger
	cash       CashRegister
	ledger     LedgerPoster
	clock      Clock
	defaultTax decimal.Decimal
	events     EventPublisher
	log        *zap.Logger
}

func NewCreditNoteService(
	noteRepo repository.CreditNoteRepository,
	orderRepo repository.OrderRepository,
	auditRepo repository.AuditRepository,
	txManager repository.TransactionManager,
	inventory InventoryLedger,
	cash CashRegister,
	ledger LedgerPoster,
	clock Clock,
	defaultTax decimal.Decimal,
	events EventPublisher,
	log *zap.Logger,
) CreditNoteService {
	if clock == nil {
		clock = SystemClock{}
	}
	if events == nil {
		events = NoopPublisher{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &creditNoteService{
		noteRepo:   noteRepo,
		orderRepo:  orderRepo,
		auditRepo:  auditRepo,
		txManager:  txManager,
		inventory:  inventory,
		cash:       cash,
		ledger:     ledger,
		clock:      clock,
		defaultTax: defaultTax,
		events:     events,
		log:        log,
	}
}

func (s *creditNoteService) CreateCreditNote(ctx context.Context, req CreateCreditNoteRequest) (CreditNoteResponse, error) {
	in, err := req.ToInput()
	if err != nil {
		return CreditNoteResponse{}, err
	}
	return s.Create(ctx, in)
}

// allocation is a returned quantity bound to one order line.
type allocation struct {
	item *model.OrderItem
	line ReturnLine
	qty  int
}

// allocate binds each return line to order lines, clamping to what is still returnable.
func allocate(order *model.Order, lines []ReturnLine) ([]allocation, error) {
	remaining := make(map[uuid.UUID]int, len(order.Items))
	for _, it := range order.Items {
		remaining[it.ID] = it.Returnable()
	}

	var out []allocation
	for i, l := range lines {
		if l.Quantity <= 0 {
			return nil, fmt.Errorf("%w: items[%d].quantity must be positive", ErrValidation, i)
		}
		if l.Discount.IsNegative() {
			return nil, fmt.Errorf("%w: items[%d].discount must not be negative", ErrValidation, i)
		}

		switch t := l.Target.(type) {
		case ByOrderItem:
			var item *model.OrderItem
			for j := range order.Items {
				if order.Items[j].ID == t.OrderItemID {
					item = &order.Items[j]
					break
				}
			}
			if item == nil {
				return nil, fmt.Errorf("%w: order item %s is not part of order %s", ErrValidation, t.OrderItemID, order.Code)
			}
			qty := l.Quantity
			if qty > remaining[item.ID] {
				qty = remaining[item.ID]
			}
			if qty > 0 {
				remaining[item.ID] -= qty
				out = append(out, allocation{item: item, line: l, qty: qty})
			}

		case ByProduct:
			found := false
			want := l.Quantity
			first := true
			for j := range order.Items {
				item := &order.Items[j]
				if item.ProductID != t.ProductID {
					continue
				}
				found = true
				qty := want
				if qty > remaining[item.ID] {
					qty = remaining[item.ID]
				}
				if qty <= 0 {
					continue
				}
				bound := l
				if !first {
					bound.Discount = decimal.Zero
				}
				first = false
				remaining[item.ID] -= qty
				want -= qty
				out = append(out, allocation{item: item, line: bound, qty: qty})
				if want == 0 {
					break
				}
			}
			if !found {
				return nil, fmt.Errorf("%w: product %s is not part of order %s", ErrValidation, t.ProductID, order.Code)
			}

		default:
			return nil, fmt.Errorf("%w: items[%d] has no return target", ErrValidation, i)
		}
	}
	return out, nil
}

func (s *creditNoteService) Create(ctx context.Context, in CreditNoteInput) (CreditNoteResponse, error) {
	switch in.RefundMethod {
	case model.RefundMethodCash, model.RefundMethodCredit:
	default:
		return CreditNoteResponse{}, fmt.Errorf("%w: refund method must be cash or credit", ErrValidation)
	}
	if len(in.Lines) == 0 {
		return CreditNoteResponse{}, fmt.Errorf("%w: credit note must have at least one item", ErrValidation)
	}

	ac := newAfterCommit()
	var note *model.CreditNote
	var order *model.Order
	err := s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		var err error
		order, err = s.orderRepo.FindByIDForUpdate(txCtx, in.OrderID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrOrderNotFound
			}
			return fmt.Errorf("failed to lock order: %w", err)
		}
		if !order.Settled() {
			return fmt.Errorf("%w: order %s is %s", ErrInvalidState, order.Code, order.Status)
		}

		allocs, err := allocate(order, in.Lines)
		if err != nil {
			return err
		}
		if len(allocs) == 0 {
			return ErrNoValidItems
		}

		note = &model.CreditNote{
			OrderID:      order.ID,
			CustomerID:   order.CustomerID,
			Reason:       in.Reason,
			RefundMethod: in.RefundMethod,
			Status:       model.CreditNoteStatusCreated,
			Subtotal:     decimal.Zero,
			Tax:          decimal.Zero,
			Total:        decimal.Zero,
		}
		if note.CustomerID == nil {
			note.CustomerID = in.CustomerID
		}

		restock := map[uuid.UUID]int{}
		for _, a := range allocs {
			price := a.item.UnitPrice
			if a.line.UnitPrice != nil {
				price = *a.line.UnitPrice
			}
			if price.IsNegative() {
				return fmt.Errorf("%w: unit price must not be negative", ErrValidation)
			}
			rate := s.defaultTax
			if a.line.TaxRate != nil {
				rate = *a.line.TaxRate
			}
			if rate.IsNegative() {
				return fmt.Errorf("%w: tax rate must not be negative", ErrValidation)
			}

			base := price.Mul(decimal.NewFromInt(int64(a.qty))).Sub(a.line.Discount).Round(2)
			if base.IsNegative() {
				return fmt.Errorf("%w: discount exceeds the returned amount", ErrValidation)
			}
			tax := base.Mul(rate).Round(2)
			note.Items = append(note.Items, model.CreditNoteItem{
				OrderItemID: a.item.ID,
				ProductID:   a.item.ProductID,
				Quantity:    a.qty,
				UnitPrice:   price.Round(2),
				Discount:    a.line.Discount.Round(2),
				TaxRate:     rate,
				Base:        base,
				Tax:         tax,
				LineTotal:   base.Add(tax),
			})
			note.Subtotal = note.Subtotal.Add(base)
			note.Tax = note.Tax.Add(tax)
			note.Total = note.Total.Add(base.Add(tax))
			restock[a.item.ProductID] += a.qty
		}
		if !note.Total.IsPositive() {
			return ErrZeroAmount
		}

		if _, err := s.inventory.LockReturnedProducts(txCtx, sortedKeys(restock)); err != nil {
			return err
		}
		for _, pid := range sortedKeys(restock) {
			product, err := s.inventory.Restock(txCtx, pid, restock[pid], &order.ID)
			if err != nil {
				return err
			}
			ac.touch(product)
		}

		for _, a := range allocs {
			a.item.ReturnedQty += a.qty
			if err := s.orderRepo.UpdateItemReturned(txCtx, a.item.ID, a.item.ReturnedQty); err != nil {
				return fmt.Errorf("failed to update returned quantity: %w", err)
			}
		}
		order.Status = order.ReturnStatus()
		if err := s.orderRepo.Save(txCtx, order); err != nil {
			return fmt.Errorf("failed to update order status: %w", err)
		}

		number, err := s.noteRepo.NextNumber(txCtx, s.clock.Now())
		if err != nil {
			return fmt.Errorf("failed to generate credit note number: %w", err)
		}
		note.Number = number
		if err := s.noteRepo.Create(txCtx, note); err != nil {
			return fmt.Errorf("failed to create credit note: %w", err)
		}

		if note.CustomerID != nil {
			if _, err := s.ledger.Record(txCtx, LedgerRecord{
				CustomerID:  note.CustomerID,
				Type:        model.LedgerTypeCreditNote,
				SourceType:  model.LedgerTypeCreditNote,
				SourceID:    note.ID,
				Amount:      note.Total.Neg(),
				Description: "Credit note " + note.Number + " for order " + order.Code,
			}); err != nil {
				return err
			}
		}

		if note.RefundMethod == model.RefundMethodCash {
			session, err := s.cash.ResolveSession(txCtx, s.cash.Today())
			if err != nil {
				return err
			}
			movement, err := s.cash.RegisterRefund(txCtx, session.ID, note.Total, "Refund "+note.Number, &CashReference{Type: model.LedgerTypeCreditNote, ID: note.ID})
			if err != nil {
				return err
			}
			ac.movements = append(ac.movements, movement)
		}

		return writeAudit(txCtx, s.auditRepo, model.ActionCreditNote, note.ID.String(), note.Number, map[string]interface{}{
			"order_id":      order.ID,
			"total":         note.Total,
			"refund_method": note.RefundMethod,
			"order_status":  order.Status,
		})
	})
	if err != nil {
		return CreditNoteResponse{}, err
	}

	products := make([]*model.Product, 0, len(ac.products))
	for _, p := range ac.products {
		products = append(products, p)
	}
	s.inventory.NotifyChanged(ctx, products...)
	for _, m := range ac.movements {
		s.events.Publish(EventCashMovement, CashMovementEvent{SessionID: m.SessionID.String(), Type: m.Type, Amount: m.Amount})
	}
	s.events.Publish(EventOrderStatusChanged, OrderStatusEvent{OrderID: order.ID.String(), Code: order.Code, Status: order.Status})

	return toCreditNoteResponse(note), nil
}

func (s *creditNoteService) GetCreditNote(ctx context.Context, id string) (CreditNoteResponse, error) {
	nid, err := parseID(id, "credit note id")
	if err != nil {
		return CreditNoteResponse{}, err
	}
	note, err := s.noteRepo.FindByID(ctx, nid)
	if err != nil {
		return CreditNoteResponse{}, notFound(err, "credit note")
	}
	return toCreditNoteResponse(note), nil
}

func (s *creditNoteService) ListByOrder(ctx context.Context, orderID string) ([]CreditNoteResponse, error) {
	oid, err := parseID(orderID, "order id")
	if err != nil {
		return nil, err
	}
	if _, err := s.orderRepo.FindByIDWithItems(ctx, oid); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("failed to load order: %w", err)
	}
	notes, err := s.noteRepo.ListByOrder(ctx, oid)
	if err != nil {
		return nil, fmt.Errorf("failed to list credit notes: %w", err)
	}
	res := make([]CreditNoteResponse, 0, len(notes))
	for i := range notes {
		res = append(res, toCreditNoteResponse(&notes[i]))
	}
	return res, nil
}

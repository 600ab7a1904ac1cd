package service

import (
	"context"
	"testing"

	"backoffice/internal/model"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// settledOrder creates and confirms an order; a cash session must be open.
func (f *fixture) settledOrder(t *testing.T, customerID *uuid.UUID, items ...OrderItemRequest) model.Order {
	t.Helper()
	order := f.createOrder(t, customerID, items...)
	confirmed, err := f.orders.ConfirmOrder(context.Background(), order.ID.String())
	require.NoError(t, err)
	reloaded, err := f.orders.GetOrder(context.Background(), confirmed.ID.String())
	require.NoError(t, err)
	return reloaded
}

func TestCreditNoteRequiresSettledOrder(t *testing.T) {
	f := newFixture(t)
	pid := f.newProduct(t, "Mug", 5, "6.00")
	order := f.createOrder(t, nil, item(pid, 1))

	_, err := f.creditNotes.Create(context.Background(), CreditNoteInput{
		OrderID:      order.ID,
		RefundMethod: model.RefundMethodCredit,
		Lines:        []ReturnLine{{Target: ByOrderItem{OrderItemID: order.Items[0].ID}, Quantity: 1}},
	})
	assert.ErrorIs(t, err, ErrInvalidState)

	_, err = f.creditNotes.Create(context.Background(), CreditNoteInput{
		OrderID:      uuid.New(),
		RefundMethod: model.RefundMethodCredit,
		Lines:        []ReturnLine{{Target: ByProduct{ProductID: pid}, Quantity: 1}},
	})
	assert.ErrorIs(t, err, ErrOrderNotFound)
}

func TestCreditNoteReturnsStockCashAndLedger(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.newProduct(t, "Shirt", 10, "10.00")
	b := f.newProduct(t, "Socks", 10, "5.00")
	cid := f.newCustomer(t, "Lucia")
	f.openCash(t, "100")

	order := f.settledOrder(t, &cid, item(a, 3), item(b, 2))
	assertMoney(t, "40", f.customerBalance(t, cid))
	require.Len(t, order.Items, 2)
	shirt := order.Items[0]
	require.Equal(t, a, shirt.ProductID)

	note, err := f.creditNotes.Create(ctx, CreditNoteInput{
		OrderID:      order.ID,
		Reason:       "wrong size",
		RefundMethod: model.RefundMethodCash,
		Lines:        []ReturnLine{{Target: ByOrderItem{OrderItemID: shirt.ID}, Quantity: 1}},
	})
	require.NoError(t, err)
	assert.Equal(t, "NC-20260310-00001", note.Number)
	assertMoney(t, "-10", note.Subtotal)
	assertMoney(t, "-2.10", note.Tax)
	assertMoney(t, "-12.10", note.Total)
	require.NotNil(t, note.CustomerID)
	assert.Equal(t, cid, *note.CustomerID)
	require.Len(t, note.Items, 1)
	assertMoney(t, "12.10", note.Items[0].LineTotal)

	assert.Equal(t, 8, f.product(t, a).Stock)
	assertMoney(t, "27.90", f.customerBalance(t, cid))

	report, err := f.cash.Current(ctx)
	require.NoError(t, err)
	assertMoney(t, "40", report.Totals.Sales)
	assertMoney(t, "12.10", report.Totals.Expense)
	assertMoney(t, "127.90", report.Totals.Balance)

	reloaded, err := f.orders.GetOrder(ctx, order.ID.String())
	require.NoError(t, err)
	assert.Equal(t, model.OrderStatusPartiallyReturned, reloaded.Status)
	assert.Equal(t, 1, reloaded.Items[0].ReturnedQty)

	zero := dec("0")
	second, err := f.creditNotes.Create(ctx, CreditNoteInput{
		OrderID:      order.ID,
		RefundMethod: model.RefundMethodCredit,
		Lines: []ReturnLine{
			{Target: ByProduct{ProductID: b}, Quantity: 5, TaxRate: &zero},
			{Target: ByOrderItem{OrderItemID: shirt.ID}, Quantity: 5, TaxRate: &zero},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "NC-20260310-00002", second.Number)
	assertMoney(t, "-30", second.Total)
	assert.Equal(t, 10, f.product(t, a).Stock)
	assert.Equal(t, 10, f.product(t, b).Stock)
	assertMoney(t, "-2.10", f.customerBalance(t, cid))

	reloaded, err = f.orders.GetOrder(ctx, order.ID.String())
	require.NoError(t, err)
	assert.Equal(t, model.OrderStatusReturned, reloaded.Status)

	_, err = f.creditNotes.Create(ctx, CreditNoteInput{
		OrderID:      order.ID,
		RefundMethod: model.RefundMethodCredit,
		Lines:        []ReturnLine{{Target: ByProduct{ProductID: a}, Quantity: 1}},
	})
	assert.ErrorIs(t, err, ErrNoValidItems)

	report, err = f.cash.Current(ctx)
	require.NoError(t, err)
	assertMoney(t, "12.10", report.Totals.Expense)

	notes, err := f.creditNotes.ListByOrder(ctx, order.ID.String())
	require.NoError(t, err)
	assert.Len(t, notes, 2)

	fetched, err := f.creditNotes.GetCreditNote(ctx, note.ID.String())
	require.NoError(t, err)
	assertMoney(t, "-12.10", fetched.Total)
	assert.Len(t, fetched.Items, 1)
	f.assertCountersConsistent(t)
}

func TestCreditNoteByProductSpansLines(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	pid := f.newProduct(t, "Battery", 10, "2.00")
	f.openCash(t, "0")
	order := f.settledOrder(t, nil, item(pid, 2), item(pid, 3))

	zero := dec("0")
	note, err := f.creditNotes.Create(ctx, CreditNoteInput{
		OrderID:      order.ID,
		RefundMethod: model.RefundMethodCredit,
		Lines:        []ReturnLine{{Target: ByProduct{ProductID: pid}, Quantity: 4, Discount: dec("1"), TaxRate: &zero}},
	})
	require.NoError(t, err)
	require.Len(t, note.Items, 2)
	assert.Equal(t, 2, note.Items[0].Quantity)
	assertMoney(t, "1", note.Items[0].Discount)
	assert.Equal(t, 2, note.Items[1].Quantity)
	assertMoney(t, "0", note.Items[1].Discount)
	assertMoney(t, "-7", note.Total)
	assert.Nil(t, note.CustomerID)

	assert.Equal(t, 9, f.product(t, pid).Stock)
	reloaded, err := f.orders.GetOrder(ctx, order.ID.String())
	require.NoError(t, err)
	assert.Equal(t, model.OrderStatusPartiallyReturned, reloaded.Status)
}

func TestCreditNoteRejectsInvalidInput(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	pid := f.newProduct(t, "Cable", 10, "3.00")
	f.openCash(t, "0")
	order := f.settledOrder(t, nil, item(pid, 2))

	free := dec("0")
	_, err := f.creditNotes.Create(ctx, CreditNoteInput{
		OrderID:      order.ID,
		RefundMethod: model.RefundMethodCredit,
		Lines:        []ReturnLine{{Target: ByProduct{ProductID: pid}, Quantity: 1, UnitPrice: &free}},
	})
	assert.ErrorIs(t, err, ErrZeroAmount)

	_, err = f.creditNotes.Create(ctx, CreditNoteInput{
		OrderID:      order.ID,
		RefundMethod: model.RefundMethodCredit,
		Lines:        []ReturnLine{{Target: ByProduct{ProductID: uuid.New()}, Quantity: 1}},
	})
	assert.ErrorIs(t, err, ErrValidation)

	_, err = f.creditNotes.Create(ctx, CreditNoteInput{
		OrderID:      order.ID,
		RefundMethod: "voucher",
		Lines:        []ReturnLine{{Target: ByProduct{ProductID: pid}, Quantity: 1}},
	})
	assert.ErrorIs(t, err, ErrValidation)

	_, err = f.creditNotes.Create(ctx, CreditNoteInput{
		OrderID:      order.ID,
		RefundMethod: model.RefundMethodCredit,
		Lines:        []ReturnLine{{Target: ByProduct{ProductID: pid}, Quantity: 1, Discount: dec("5")}},
	})
	assert.ErrorIs(t, err, ErrValidation)

	assert.Equal(t, 8, f.product(t, pid).Stock)
	notes, err := f.creditNotes.ListByOrder(ctx, order.ID.String())
	require.NoError(t, err)
	assert.Empty(t, notes)
}

func TestCreditNoteCashRefundNeedsOpenSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	pid := f.newProduct(t, "Hat", 4, "15.00")
	f.openCash(t, "50")
	order := f.settledOrder(t, nil, item(pid, 1))
	_, err := f.cash.Close(ctx, CloseCashRequest{Amount: dec("65")})
	require.NoError(t, err)

	_, err = f.creditNotes.Create(ctx, CreditNoteInput{
		OrderID:      order.ID,
		RefundMethod: model.RefundMethodCash,
		Lines:        []ReturnLine{{Target: ByProduct{ProductID: pid}, Quantity: 1}},
	})
	assert.ErrorIs(t, err, ErrNoOpenSession)

	assert.Equal(t, 3, f.product(t, pid).Stock)
	reloaded, err := f.orders.GetOrder(ctx, order.ID.String())
	require.NoError(t, err)
	assert.Equal(t, model.OrderStatusConfirmed, reloaded.Status)
	assert.Equal(t, 0, reloaded.Items[0].ReturnedQty)
}

func TestCreditNoteFallsBackToRequestCustomer(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	pid := f.newProduct(t, "Book", 5, "20.00")
	cid := f.newCustomer(t, "Pablo")
	f.openCash(t, "0")
	order := f.settledOrder(t, nil, item(pid, 1))

	customer := cid.String()
	note, err := f.creditNotes.CreateCreditNote(ctx, CreateCreditNoteRequest{
		OrderID:      order.ID.String(),
		CustomerID:   &customer,
		RefundMethod: model.RefundMethodCredit,
		Items:        []CreditNoteItemRequest{{ProductID: pid.String(), Quantity: 1}},
	})
	require.NoError(t, err)
	assertMoney(t, "-24.20", note.Total)
	assertMoney(t, "-24.20", f.customerBalance(t, cid))
}

func TestCreateCreditNoteRequestToInput(t *testing.T) {
	id := uuid.New().String()

	_, err := CreateCreditNoteRequest{OrderID: id, Items: []CreditNoteItemRequest{{Quantity: 1}}}.ToInput()
	assert.ErrorIs(t, err, ErrValidation)

	_, err = CreateCreditNoteRequest{OrderID: id, Items: []CreditNoteItemRequest{{OrderItemID: id, ProductID: id, Quantity: 1}}}.ToInput()
	assert.ErrorIs(t, err, ErrValidation)

	in, err := CreateCreditNoteRequest{OrderID: id, Items: []CreditNoteItemRequest{{OrderItemID: id, Quantity: 2}}}.ToInput()
	require.NoError(t, err)
	require.Len(t, in.Lines, 1)
	assert.Equal(t, ByOrderItem{OrderItemID: uuid.MustParse(id)}, in.Lines[0].Target)
}

func TestCreditNoteRestocksDeletedProduct(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	pid := f.newProduct(t, "Lamp", 5, "20.00")
	f.openCash(t, "0")

	order := f.settledOrder(t, nil, item(pid, 2))
	require.NoError(t, f.inventory.DeleteProduct(ctx, pid.String()))

	note, err := f.creditNotes.Create(ctx, CreditNoteInput{
		OrderID:      order.ID,
		RefundMethod: model.RefundMethodCredit,
		Lines:        []ReturnLine{{Target: ByProduct{ProductID: pid}, Quantity: 1}},
	})
	require.NoError(t, err)
	assertMoney(t, "-24.20", note.Total)

	var deleted model.Product
	require.NoError(t, f.db.Unscoped().First(&deleted, "id = ?", pid).Error)
	assert.True(t, deleted.DeletedAt.Valid)
	assert.Equal(t, 4, deleted.Stock)
	assert.Equal(t, 0, deleted.Reserved)

	_, err = f.orders.CreateOrder(ctx, CreateOrderRequest{Items: []OrderItemRequest{item(pid, 1)}})
	assert.ErrorIs(t, err, ErrInvalidProduct)
}

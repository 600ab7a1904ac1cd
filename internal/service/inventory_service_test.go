package service

import (
	"context"
	"testing"

	"backoffice/internal/cache"
	"backoffice/internal/model"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInventoryLedgerMovements(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	pid := f.newProduct(t, "Coffee", 10, "3.50")

	p, err := f.inventory.Reserve(ctx, pid, 4, nil)
	require.NoError(t, err)
	assert.Equal(t, 10, p.Stock)
	assert.Equal(t, 4, p.Reserved)
	assert.Equal(t, 6, p.Available())

	p, err = f.inventory.Release(ctx, pid, 1, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, p.Reserved)

	p, err = f.inventory.Consume(ctx, pid, 3, nil)
	require.NoError(t, err)
	assert.Equal(t, 7, p.Stock)
	assert.Equal(t, 0, p.Reserved)

	p, err = f.inventory.Restock(ctx, pid, 2, nil)
	require.NoError(t, err)
	assert.Equal(t, 9, p.Stock)

	stored := f.product(t, pid)
	assert.Equal(t, 9, stored.Stock)
	assert.Equal(t, 0, stored.Reserved)

	card, total, err := f.inventory.GetStockCard(ctx, pid.String(), 1, 50)
	require.NoError(t, err)
	assert.EqualValues(t, 5, total) // initial stock + four movements
	types := map[string]int{}
	for _, c := range card {
		types[c.TransactionType]++
	}
	assert.Equal(t, map[string]int{
		model.TxTypeAdjust:  1,
		model.TxTypeReserve: 1,
		model.TxTypeRelease: 1,
		model.TxTypeConsume: 1,
		model.TxTypeRestock: 1,
	}, types)
}

func TestInventoryLedgerRejectsBrokenCounters(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	pid := f.newProduct(t, "Tea", 2, "1.00")

	_, err := f.inventory.Reserve(ctx, pid, 3, nil)
	assert.ErrorIs(t, err, ErrInsufficientStock)

	_, err = f.inventory.Release(ctx, pid, 1, nil)
	assert.ErrorIs(t, err, ErrInconsistency)

	_, err = f.inventory.Consume(ctx, pid, 1, nil)
	assert.ErrorIs(t, err, ErrInconsistency)

	_, err = f.inventory.Reserve(ctx, pid, 0, nil)
	assert.ErrorIs(t, err, ErrValidation)

	_, err = f.inventory.Reserve(ctx, uuid.New(), 1, nil)
	assert.ErrorIs(t, err, ErrInvalidProduct)

	p := f.product(t, pid)
	assert.Equal(t, 2, p.Stock)
	assert.Equal(t, 0, p.Reserved)
}

func TestLockProductsUnknownProduct(t *testing.T) {
	f := newFixture(t)
	pid := f.newProduct(t, "Milk", 1, "1.00")

	_, err := f.inventory.LockProducts(context.Background(), []uuid.UUID{pid, uuid.New()})
	assert.ErrorIs(t, err, ErrInvalidProduct)

	locked, err := f.inventory.LockProducts(context.Background(), []uuid.UUID{pid, pid})
	require.NoError(t, err)
	assert.Len(t, locked, 1)
}

func TestAdjustStockNeverDropsBelowReserved(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	pid := f.newProduct(t, "Sugar", 5, "2.00")

	_, err := f.inventory.Reserve(ctx, pid, 3, nil)
	require.NoError(t, err)

	res, err := f.inventory.AdjustStock(ctx, pid.String(), AdjustStockRequest{Delta: -10, Reason: "count"})
	require.NoError(t, err)
	assert.Equal(t, 3, res.Stock)
	assert.Equal(t, 3, res.Reserved)
	assert.Equal(t, 0, res.Available)
	assert.Equal(t, 1, f.events.count(EventStockChanged))

	_, err = f.inventory.AdjustStock(ctx, pid.String(), AdjustStockRequest{Delta: 0, Reason: "noop"})
	assert.ErrorIs(t, err, ErrValidation)

	_, err = f.inventory.AdjustStock(ctx, pid.String(), AdjustStockRequest{Delta: 1})
	assert.ErrorIs(t, err, ErrValidation)

	f.assertCountersConsistent(t)
}

func TestAdjustStockFloorsAtZeroWithoutReservations(t *testing.T) {
	f := newFixture(t)
	pid := f.newProduct(t, "Salt", 4, "1.00")

	res, err := f.inventory.AdjustStock(context.Background(), pid.String(), AdjustStockRequest{Delta: -10, Reason: "breakage"})
	require.NoError(t, err)
	assert.Equal(t, 0, res.Stock)
	assert.Equal(t, 0, res.Reserved)

	card, total, err := f.inventory.GetStockCard(context.Background(), pid.String(), 1, 10)
	require.NoError(t, err)
	assert.EqualValues(t, 2, total)
	changes := []int{}
	for _, c := range card {
		changes = append(changes, c.QuantityChanged)
	}
	assert.ElementsMatch(t, []int{4, -4}, changes)
}

func TestCreateProductGeneratesSKU(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	drinks := "Bebidas"

	first, err := f.inventory.CreateProduct(ctx, CreateProductRequest{Name: "Cola", Category: &drinks, Price: dec("1.20")})
	require.NoError(t, err)
	assert.Equal(t, "BEB001", first.SKU)

	second, err := f.inventory.CreateProduct(ctx, CreateProductRequest{Name: "Water", Category: &drinks, Price: dec("0.80")})
	require.NoError(t, err)
	assert.Equal(t, "BEB002", second.SKU)

	bare, err := f.inventory.CreateProduct(ctx, CreateProductRequest{Name: "123", Price: dec("1")})
	require.NoError(t, err)
	assert.Equal(t, "PRD001", bare.SKU)

	explicit, err := f.inventory.CreateProduct(ctx, CreateProductRequest{SKU: "abc123", Name: "Thing", Price: dec("1")})
	require.NoError(t, err)
	assert.Equal(t, "ABC123", explicit.SKU)

	_, err = f.inventory.CreateProduct(ctx, CreateProductRequest{SKU: "ABC123", Name: "Other", Price: dec("1")})
	assert.ErrorIs(t, err, ErrValidation)

	_, err = f.inventory.CreateProduct(ctx, CreateProductRequest{Name: "Negative", Price: dec("-1")})
	assert.ErrorIs(t, err, ErrValidation)
}

func TestSKUPrefix(t *testing.T) {
	str := func(s string) *string { return &s }

	cases := []struct {
		category *string
		name     string
		want     string
	}{
		{str("Bebidas"), "Cola", "BEB"},
		{nil, "Cola", "COL"},
		{str("  "), "te", "TEP"},
		{str("9-x"), "Cola", "XPP"},
		{nil, "42", "PRD"},
		{str(""), "", "PRD"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, SKUPrefix(tc.category, tc.name), "category=%v name=%q", tc.category, tc.name)
	}
}

func TestGetProductCachesAndInvalidates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	pid := f.newProduct(t, "Bread", 4, "1.10")
	key := cache.ProductKey(pid.String())

	res, err := f.inventory.GetProduct(ctx, pid.String())
	require.NoError(t, err)
	assert.Equal(t, 4, res.Available)
	assert.True(t, f.cache.has(key))

	_, err = f.inventory.AdjustStock(ctx, pid.String(), AdjustStockRequest{Delta: 2, Reason: "delivery"})
	require.NoError(t, err)
	assert.False(t, f.cache.has(key))

	res, err = f.inventory.GetProduct(ctx, pid.String())
	require.NoError(t, err)
	assert.Equal(t, 6, res.Stock)

	_, err = f.inventory.GetProduct(ctx, uuid.New().String())
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = f.inventory.GetProduct(ctx, "not-a-uuid")
	assert.ErrorIs(t, err, ErrValidation)
}

func TestGetProductDoesNotCacheSnapshotInvalidatedDuringRead(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	pid := f.newProduct(t, "Bread", 4, "1.10")
	key := cache.ProductKey(pid.String())

	f.cache.onMiss = func() {
		f.cache.onMiss = nil
		f.inventory.NotifyChanged(ctx, f.product(t, pid))
	}
	res, err := f.inventory.GetProduct(ctx, pid.String())
	require.NoError(t, err)
	assert.Equal(t, 4, res.Stock)
	assert.False(t, f.cache.has(key))

	_, err = f.inventory.GetProduct(ctx, pid.String())
	require.NoError(t, err)
	assert.True(t, f.cache.has(key))
}

func TestUpdateAndDeleteProduct(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	pid := f.newProduct(t, "Butter", 3, "2.00")

	name := "Salted butter"
	price := dec("2.25")
	res, err := f.inventory.UpdateProduct(ctx, pid.String(), UpdateProductRequest{Name: &name, Price: &price})
	require.NoError(t, err)
	assert.Equal(t, name, res.Name)
	assertMoney(t, "2.25", res.Price)
	assert.Equal(t, 3, res.Stock)

	_, err = f.inventory.Reserve(ctx, pid, 1, nil)
	require.NoError(t, err)
	err = f.inventory.DeleteProduct(ctx, pid.String())
	assert.ErrorIs(t, err, ErrInvalidState)

	_, err = f.inventory.Release(ctx, pid, 1, nil)
	require.NoError(t, err)
	require.NoError(t, f.inventory.DeleteProduct(ctx, pid.String()))

	_, err = f.inventory.GetProduct(ctx, pid.String())
	assert.ErrorIs(t, err, ErrNotFound)
}

package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	"backoffice/internal/model"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// raceOrders runs n CreateOrder calls at once and returns their errors.
func raceOrders(f *fixture, n int, items func(i int) []OrderItemRequest) []error {
	errs := make([]error, n)
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			_, errs[i] = f.orders.CreateOrder(context.Background(), CreateOrderRequest{Items: items(i)})
		}(i)
	}
	close(start)
	wg.Wait()
	return errs
}

func countOutcomes(t *testing.T, errs []error) (ok, outOfStock int) {
	t.Helper()
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, ErrInsufficientStock):
			outOfStock++
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	return ok, outOfStock
}

func TestConcurrentOrdersNeverOversell(t *testing.T) {
	f := newFixture(t)
	const stock, buyers = 5, 12
	pid := f.newProduct(t, "Ticket", stock, "3.00")

	errs := raceOrders(f, buyers, func(int) []OrderItemRequest {
		return []OrderItemRequest{item(pid, 1)}
	})

	ok, outOfStock := countOutcomes(t, errs)
	assert.Equal(t, stock, ok)
	assert.Equal(t, buyers-stock, outOfStock)

	p := f.product(t, pid)
	assert.Equal(t, stock, p.Stock)
	assert.Equal(t, stock, p.Reserved)
	f.assertCountersConsistent(t)

	orders, total, err := f.orders.GetOrders(context.Background(), OrderListQuery{})
	require.NoError(t, err)
	assert.EqualValues(t, stock, total)
	codes := map[string]bool{}
	for _, o := range orders {
		codes[o.Code] = true
	}
	assert.Len(t, codes, stock)
}

func TestConcurrentOrdersWithOppositeLineOrder(t *testing.T) {
	f := newFixture(t)
	const stock, buyers = 6, 10
	a := f.newProduct(t, "Pen", stock, "1.00")
	b := f.newProduct(t, "Ink", stock, "2.00")

	errs := raceOrders(f, buyers, func(i int) []OrderItemRequest {
		if i%2 == 0 {
			return []OrderItemRequest{item(a, 1), item(b, 1)}
		}
		return []OrderItemRequest{item(b, 1), item(a, 1)}
	})

	ok, outOfStock := countOutcomes(t, errs)
	assert.Equal(t, stock, ok)
	assert.Equal(t, buyers-stock, outOfStock)

	for _, id := range []uuid.UUID{a, b} {
		p := f.product(t, id)
		assert.Equal(t, stock, p.Reserved)
		assert.Equal(t, 0, p.Available())
	}
	f.assertCountersConsistent(t)
}

func TestConcurrentConfirmAndCancelSettleOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	pid := f.newProduct(t, "Chair", 3, "40.00")
	f.openCash(t, "0")
	order := f.createOrder(t, nil, item(pid, 2))

	var wg sync.WaitGroup
	errs := make([]error, 6)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				_, errs[i] = f.orders.ConfirmOrder(ctx, order.ID.String())
			} else {
				_, errs[i] = f.orders.CancelOrder(ctx, order.ID.String())
			}
		}(i)
	}
	wg.Wait()

	final, err := f.orders.GetOrder(ctx, order.ID.String())
	require.NoError(t, err)
	p := f.product(t, pid)
	assert.Equal(t, 0, p.Reserved)

	report, err := f.cash.Current(ctx)
	require.NoError(t, err)
	switch final.Status {
	case model.OrderStatusConfirmed:
		assert.Equal(t, 1, p.Stock)
		assertMoney(t, "80", report.Totals.Sales)
	case model.OrderStatusCanceled:
		assert.Equal(t, 3, p.Stock)
		assertMoney(t, "0", report.Totals.Sales)
	default:
		t.Fatalf("unexpected status %s", final.Status)
	}
	for _, err := range errs {
		if err != nil {
			assert.ErrorIs(t, err, ErrInvalidState)
		}
	}
	f.assertCountersConsistent(t)
}

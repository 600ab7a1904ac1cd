package service

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCustomerCRUD(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	created, err := f.customers.CreateCustomer(ctx, CreateCustomerRequest{Name: " Marta ", Email: "marta@example.com"})
	require.NoError(t, err)
	assert.Equal(t, "Marta", created.Name)
	assertMoney(t, "0", created.Balance)

	phone := "555-0101"
	updated, err := f.customers.UpdateCustomer(ctx, created.ID.String(), UpdateCustomerRequest{Phone: &phone})
	require.NoError(t, err)
	assert.Equal(t, phone, updated.Phone)
	assert.Equal(t, "marta@example.com", updated.Email)

	list, total, err := f.customers.GetCustomers(ctx, "mar", 1, 10)
	require.NoError(t, err)
	assert.EqualValues(t, 1, total)
	assert.Len(t, list, 1)

	require.NoError(t, f.customers.DeleteCustomer(ctx, created.ID.String()))
	_, err = f.customers.GetCustomer(ctx, created.ID.String())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCustomerValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.customers.CreateCustomer(ctx, CreateCustomerRequest{Name: "  "})
	assert.ErrorIs(t, err, ErrValidation)

	_, err = f.customers.CreateCustomer(ctx, CreateCustomerRequest{Name: "Bad", Email: "not-an-email"})
	assert.ErrorIs(t, err, ErrValidation)

	_, err = f.customers.UpdateCustomer(ctx, uuid.New().String(), UpdateCustomerRequest{})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCustomerWithLedgerCannotBeDeleted(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	cid := f.newCustomer(t, "Paco")

	_, err := f.ledger.RecordPayment(ctx, cid.String(), PaymentRequest{Amount: dec("5")})
	require.NoError(t, err)

	err = f.customers.DeleteCustomer(ctx, cid.String())
	assert.ErrorIs(t, err, ErrInvalidState)

	_, err = f.customers.GetCustomer(ctx, cid.String())
	assert.NoError(t, err)
}

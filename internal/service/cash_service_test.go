package service

import (
	"bytes"
	"context"
	"testing"
	"time"

	"backoffice/internal/config"
	"backoffice/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func TestCashOpenTwiceFails(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	report, err := f.cash.Open(ctx, OpenCashRequest{Amount: dec("100")})
	require.NoError(t, err)
	assert.Equal(t, "2026-03-10", report.Session.Date)
	assert.True(t, report.Session.IsOpen)
	assertMoney(t, "100", report.Totals.Balance)

	_, err = f.cash.Open(ctx, OpenCashRequest{Amount: dec("50")})
	assert.ErrorIs(t, err, ErrAlreadyOpen)

	_, err = f.cash.Open(ctx, OpenCashRequest{Amount: dec("-1")})
	assert.ErrorIs(t, err, ErrInvalidAmount)
}

func TestCashCloseWithoutSession(t *testing.T) {
	f := newFixture(t)

	_, err := f.cash.Close(context.Background(), CloseCashRequest{Amount: dec("0")})
	assert.ErrorIs(t, err, ErrNoOpenSession)
}

func TestCashMovementValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.cash.Movement(ctx, CashMovementRequest{Amount: dec("10"), Type: "income", Description: "tip"})
	assert.ErrorIs(t, err, ErrNoOpenSession)

	f.openCash(t, "0")

	_, err = f.cash.Movement(ctx, CashMovementRequest{Amount: dec("0"), Type: "income", Description: "tip"})
	assert.ErrorIs(t, err, ErrInvalidAmount)

	_, err = f.cash.Movement(ctx, CashMovementRequest{Amount: dec("10"), Type: "transfer", Description: "tip"})
	assert.ErrorIs(t, err, ErrInvalidType)

	_, err = f.cash.Movement(ctx, CashMovementRequest{Amount: dec("10"), Type: "income", Description: "  "})
	assert.ErrorIs(t, err, ErrValidation)

	bad := "nope"
	_, err = f.cash.Movement(ctx, CashMovementRequest{SessionID: &bad, Amount: dec("10"), Type: "income", Description: "tip"})
	assert.ErrorIs(t, err, ErrValidation)
}

func TestCashReportAndClose(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.openCash(t, "100")

	income, err := f.cash.Movement(ctx, CashMovementRequest{Amount: dec("50"), Type: "income", Description: "change fund"})
	require.NoError(t, err)
	assertMoney(t, "50", income.Amount)

	expense, err := f.cash.Movement(ctx, CashMovementRequest{Amount: dec("20"), Type: "expense", Description: "cleaning"})
	require.NoError(t, err)
	assertMoney(t, "-20", expense.Amount)

	sale, err := f.cash.Movement(ctx, CashMovementRequest{Amount: dec("-30"), Type: "sale", Description: "manual sale"})
	require.NoError(t, err)
	assertMoney(t, "30", sale.Amount)
	assert.Equal(t, 3, f.events.count(EventCashMovement))

	report, err := f.cash.Current(ctx)
	require.NoError(t, err)
	assertMoney(t, "100", report.Totals.Opening)
	assertMoney(t, "50", report.Totals.Income)
	assertMoney(t, "20", report.Totals.Expense)
	assertMoney(t, "30", report.Totals.Sales)
	assertMoney(t, "160", report.Totals.Balance)
	assert.Equal(t, 3, report.Totals.MovementCount)

	closed, err := f.cash.Close(ctx, CloseCashRequest{Amount: dec("158")})
	require.NoError(t, err)
	assert.False(t, closed.Session.IsOpen)
	assert.NotNil(t, closed.Session.ClosedAt)
	assertMoney(t, "158", closed.Session.ClosingAmount)
	assertMoney(t, "160", closed.Totals.Balance)
	assert.Equal(t, 3, closed.Totals.MovementCount)
	require.Len(t, closed.Movements, 4)

	var marker *model.CashMovement
	for i := range closed.Movements {
		if closed.Movements[i].Type == model.MovementTypeClose {
			marker = &closed.Movements[i]
		}
	}
	require.NotNil(t, marker)
	assert.True(t, marker.Amount.IsZero())
	assert.Contains(t, marker.Description, "balance 160.00")

	_, err = f.cash.Movement(ctx, CashMovementRequest{Amount: dec("5"), Type: "income", Description: "late"})
	assert.ErrorIs(t, err, ErrNoOpenSession)

	_, err = f.cash.Close(ctx, CloseCashRequest{Amount: dec("0")})
	assert.ErrorIs(t, err, ErrNoOpenSession)
}

func TestCashReopenResetsAmounts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.openCash(t, "100")
	_, err := f.cash.Close(ctx, CloseCashRequest{Amount: dec("100")})
	require.NoError(t, err)

	report, err := f.cash.Open(ctx, OpenCashRequest{Amount: dec("40")})
	require.NoError(t, err)
	assert.True(t, report.Session.IsOpen)
	assertMoney(t, "40", report.Session.OpeningAmount)
	assertMoney(t, "0", report.Session.ClosingAmount)
	assert.Nil(t, report.Session.ClosedAt)
}

func TestCashMovementOnExplicitSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.openCash(t, "10")

	session, err := f.cashRepo.FindSessionByDate(ctx, "2026-03-10")
	require.NoError(t, err)
	id := session.ID.String()

	m, err := f.cash.Movement(ctx, CashMovementRequest{SessionID: &id, Amount: dec("5"), Type: "income", Description: "float"})
	require.NoError(t, err)
	assert.Equal(t, session.ID, m.SessionID)
}

func TestCashAutoOpenPolicy(t *testing.T) {
	f := newFixtureWithPolicy(t, config.CashPolicyAutoOpen)
	ctx := context.Background()

	m, err := f.cash.Movement(ctx, CashMovementRequest{Amount: dec("12"), Type: "income", Description: "tip"})
	require.NoError(t, err)

	report, err := f.cash.Current(ctx)
	require.NoError(t, err)
	assert.Equal(t, report.Session.ID, m.SessionID)
	assert.True(t, report.Session.IsOpen)
	assertMoney(t, "0", report.Totals.Opening)
	assertMoney(t, "12", report.Totals.Balance)

	_, err = f.cash.Close(ctx, CloseCashRequest{Amount: dec("12")})
	require.NoError(t, err)

	_, err = f.cash.Movement(ctx, CashMovementRequest{Amount: dec("1"), Type: "income", Description: "after close"})
	assert.ErrorIs(t, err, ErrNoOpenSession)
}

func TestCashMovementsNewestFirst(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.openCash(t, "0")

	early := time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)
	late := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	_, err := f.cash.Movement(ctx, CashMovementRequest{Amount: dec("1"), Type: "income", Description: "early", OccurredAt: &early})
	require.NoError(t, err)
	_, err = f.cash.Movement(ctx, CashMovementRequest{Amount: dec("2"), Type: "income", Description: "late", OccurredAt: &late})
	require.NoError(t, err)

	movements, err := f.cash.Movements(ctx, "")
	require.NoError(t, err)
	require.Len(t, movements, 2)
	assert.Equal(t, "late", movements[0].Description)
	assert.Equal(t, "early", movements[1].Description)

	_, err = f.cash.Movements(ctx, "2026-01-01")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = f.cash.Report(ctx, "10/03/2026")
	assert.ErrorIs(t, err, ErrValidation)
}

func TestCloseStaleSessions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	stale := &model.CashSession{Date: "2026-03-09", OpeningAmount: dec("10"), IsOpen: true}
	require.NoError(t, f.cashRepo.CreateSession(ctx, stale))
	require.NoError(t, f.cashRepo.CreateMovement(ctx, &model.CashMovement{
		SessionID:   stale.ID,
		Amount:      dec("15"),
		Type:        model.MovementTypeSale,
		Description: "yesterday",
		OccurredAt:  time.Date(2026, 3, 9, 18, 0, 0, 0, time.UTC),
	}))
	f.openCash(t, "0")

	closed, err := f.cash.CloseStaleSessions(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, closed)

	report, err := f.cash.Report(ctx, "2026-03-09")
	require.NoError(t, err)
	assert.False(t, report.Session.IsOpen)
	assertMoney(t, "25", report.Session.ClosingAmount)

	today, err := f.cash.Current(ctx)
	require.NoError(t, err)
	assert.True(t, today.Session.IsOpen)
}

func TestExportReportWorkbook(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.openCash(t, "20")
	_, err := f.cash.Movement(ctx, CashMovementRequest{Amount: dec("5"), Type: "expense", Description: "coins"})
	require.NoError(t, err)

	raw, err := f.cash.ExportReport(ctx, "2026-03-10")
	require.NoError(t, err)
	require.NotEmpty(t, raw)

	wb, err := excelize.OpenReader(bytes.NewReader(raw))
	require.NoError(t, err)
	defer wb.Close()

	date, err := wb.GetCellValue("Summary", "B1")
	require.NoError(t, err)
	assert.Equal(t, "2026-03-10", date)

	desc, err := wb.GetCellValue("Movements", "D2")
	require.NoError(t, err)
	assert.Equal(t, "coins", desc)
}

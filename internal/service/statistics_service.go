package service

import (
	"context"
	"fmt"
	"sort"
	"time"

	"backoffice/internal/model"
	"backoffice/internal/repository"
	"backoffice/pkg/pagination"

	"github.com/shopspring/decimal"
)

const topProductsLimit = 5

type StatisticsService interface {
	GetSalesReport(ctx context.Context, startDate, endDate time.Time) (model.SalesReport, error)
	GetDailySales(ctx context.Context, startDate, endDate time.Time) ([]model.DailySales, error)
	GetSalesLines(ctx context.Context, startDate, endDate time.Time, page, limit int) ([]model.SalesLine, int64, error)
	GetDailyCash(ctx context.Context, startDate, endDate time.Time) ([]model.DailyCash, error)
}

type statisticsService struct {
	statsRepo repository.StatisticsRepository
	loc       *time.Location
}

// NewStatisticsService groups daily series by calendar day in loc (UTC when nil).
func NewStatisticsService(statsRepo repository.StatisticsRepository, loc *time.Location) StatisticsService {
	if loc == nil {
		loc = time.UTC
	}
	return &statisticsService{statsRepo: statsRepo, loc: loc}
}

func checkRange(startDate, endDate time.Time) error {
	if endDate.Before(startDate) {
		return fmt.Errorf("%w: end date is before start date", ErrValidation)
	}
	return nil
}

// GetSalesReport aggregates settled orders created inside the time bracket, net of credit notes
func (s *statisticsService) GetSalesReport(ctx context.Context, startDate, endDate time.Time) (model.SalesReport, error) {
	if err := checkRange(startDate, endDate); err != nil {
		return model.SalesReport{}, err
	}

	report := model.SalesReport{
		TimeRangeStartDate: startDate,
		TimeRangeEndDate:   endDate,
		AverageTicket:      decimal.Zero,
		Returns:            decimal.Zero,
	}

	total, count, err := s.statsRepo.GetSalesTotals(ctx, startDate, endDate)
	if err != nil {
		return model.SalesReport{}, err
	}
	returns, err := s.statsRepo.GetReturnsByOrder(ctx, startDate, endDate)
	if err != nil {
		return model.SalesReport{}, err
	}
	for _, amount := range returns {
		report.Returns = report.Returns.Add(amount)
	}
	report.TotalSales = total
	report.NetSales = total.Sub(report.Returns).Round(2)
	report.OrdersConfirmed = count
	if count > 0 {
		report.AverageTicket = report.NetSales.Div(decimal.NewFromInt(int64(count))).Round(2)
	}

	if report.DistinctProducts, err = s.statsRepo.CountDistinctProducts(ctx, startDate, endDate); err != nil {
		return model.SalesReport{}, err
	}

	top, err := s.statsRepo.GetTopProducts(ctx, startDate, endDate, topProductsLimit)
	if err != nil {
		return model.SalesReport{}, err
	}
	if top == nil {
		top = []model.ProductRanking{}
	}
	returned, err := s.statsRepo.GetReturnedValueByProduct(ctx, startDate, endDate)
	if err != nil {
		return model.SalesReport{}, err
	}
	for i := range top {
		top[i].TotalValue = top[i].TotalValue.Sub(returned[top[i].ProductID]).Round(2)
	}
	report.TopProducts = top

	return report, nil
}

// GetDailySales buckets settled orders by the day they were created
func (s *statisticsService) GetDailySales(ctx context.Context, startDate, endDate time.Time) ([]model.DailySales, error) {
	if err := checkRange(startDate, endDate); err != nil {
		return nil, err
	}
	orders, err := s.statsRepo.ListSettledOrders(ctx, startDate, endDate)
	if err != nil {
		return nil, err
	}
	returns, err := s.statsRepo.GetReturnsByOrder(ctx, startDate, endDate)
	if err != nil {
		return nil, err
	}

	days := map[string]*model.DailySales{}
	for _, o := range orders {
		key := o.CreatedAt.In(s.loc).Format(model.CashSessionDateLayout)
		d, ok := days[key]
		if !ok {
			d = &model.DailySales{Day: key, Total: decimal.Zero, Returns: decimal.Zero}
			days[key] = d
		}
		d.Orders++
		d.Total = d.Total.Add(o.Total)
		d.Returns = d.Returns.Add(returns[o.ID])
	}

	series := make([]model.DailySales, 0, len(days))
	for _, d := range days {
		d.Total = d.Total.Round(2)
		d.Returns = d.Returns.Round(2)
		d.Net = d.Total.Sub(d.Returns)
		series = append(series, *d)
	}
	sort.Slice(series, func(i, j int) bool { return series[i].Day < series[j].Day })
	return series, nil
}

func (s *statisticsService) GetSalesLines(ctx context.Context, startDate, endDate time.Time, page, limit int) ([]model.SalesLine, int64, error) {
	if err := checkRange(startDate, endDate); err != nil {
		return nil, 0, err
	}
	p := pagination.Standard.Normalize(page, limit)
	return s.statsRepo.ListSalesLines(ctx, startDate, endDate, p.Page, p.Limit)
}

// GetDailyCash sums register movements per day; close markers are left out
func (s *statisticsService) GetDailyCash(ctx context.Context, startDate, endDate time.Time) ([]model.DailyCash, error) {
	if err := checkRange(startDate, endDate); err != nil {
		return nil, err
	}
	movements, err := s.statsRepo.ListCashMovements(ctx, startDate, endDate)
	if err != nil {
		return nil, err
	}

	byDay := map[string][]model.CashMovement{}
	for _, m := range movements {
		key := m.OccurredAt.In(s.loc).Format(model.CashSessionDateLayout)
		byDay[key] = append(byDay[key], m)
	}

	series := make([]model.DailyCash, 0, len(byDay))
	for day, ms := range byDay {
		totals := ComputeCashTotals(decimal.Zero, ms)
		series = append(series, model.DailyCash{
			Day:     day,
			Income:  totals.Income,
			Expense: totals.Expense,
			Sales:   totals.Sales,
			Net:     totals.Balance,
		})
	}
	sort.Slice(series, func(i, j int) bool { return series[i].Day < series[j].Day })
	return series, nil
}

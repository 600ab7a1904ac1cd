package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// SalesReport aggregates settled orders over a time range. Returns are the credit note
// subtotals issued against those orders; net figures have them subtracted.
type SalesReport struct {
	TotalSales         decimal.Decimal  `json:"total_sales"`
	Returns            decimal.Decimal  `json:"returns"`
	NetSales           decimal.Decimal  `json:"net_sales"`
	OrdersConfirmed    int              `json:"orders_confirmed"`
	AverageTicket      decimal.Decimal  `json:"average_ticket"`
	DistinctProducts   int              `json:"distinct_products"`
	TopProducts        []ProductRanking `json:"top_products"`
	TimeRangeStartDate time.Time        `json:"time_range_start_date"`
	TimeRangeEndDate   time.Time        `json:"time_range_end_date"`
}

// ProductRanking represents a ranked product by units sold net of returns
type ProductRanking struct {
	ProductID     string          `json:"product_id"`
	ProductName   string          `json:"product_name"`
	TotalQuantity int             `json:"total_quantity"`
	TotalValue    decimal.Decimal `json:"total_value"`
}

// DailySales is one day of the sales series, keyed by the order's creation day
type DailySales struct {
	Day     string          `json:"day"`
	Orders  int             `json:"orders"`
	Total   decimal.Decimal `json:"total"`
	Returns decimal.Decimal `json:"returns"`
	Net     decimal.Decimal `json:"net"`
}

// SalesLine is a sold order line with its returned quantity
type SalesLine struct {
	OrderID     uuid.UUID       `json:"order_id"`
	OrderCode   string          `json:"order_code"`
	OrderedAt   time.Time       `json:"ordered_at"`
	ProductID   uuid.UUID       `json:"product_id"`
	ProductName string          `json:"product_name"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	Quantity    int             `json:"quantity"`
	ReturnedQty int             `json:"returned_qty"`
	Discount    decimal.Decimal `json:"discount"`
	LineTotal   decimal.Decimal `json:"line_total"`
}

// DailyCash summarizes the register movements of one day. Expense is positive.
type DailyCash struct {
	Day     string          `json:"day"`
	Income  decimal.Decimal `json:"income"`
	Expense decimal.Decimal `json:"expense"`
	Sales   decimal.Decimal `json:"sales"`
	Net     decimal.Decimal `json:"net"`
}

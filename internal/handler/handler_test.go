package handler

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"backoffice/internal/cache"
	"backoffice/internal/config"
	"backoffice/internal/database/dbtest"
	"backoffice/internal/repository"
	"backoffice/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type envelope struct {
	Status     string          `json:"status"`
	StatusCode int             `json:"status_code"`
	Data       json.RawMessage `json:"data"`
	Error      string          `json:"error"`
}

type testServer struct {
	t      *testing.T
	engine *gin.Engine
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)
	require.NoError(t, RegisterValidators())

	db := dbtest.New(t)
	txManager := repository.NewTransactionManager(db)
	productRepo := repository.NewProductRepository(db)
	orderRepo := repository.NewOrderRepository(db)
	customerRepo := repository.NewCustomerRepository(db)
	ledgerRepo := repository.NewLedgerRepository(db)
	auditRepo := repository.NewAuditRepository(db)
	clock := service.SystemClock{Location: time.UTC}

	inventory := service.NewInventoryService(productRepo, repository.NewInventoryTxRepository(db), auditRepo, txManager, cache.Noop{}, time.Minute, nil, nil)
	cash := service.NewCashService(repository.NewCashRepository(db), auditRepo, txManager, nil, clock, config.CashPolicyRequireOpen, nil, nil)
	ledger := service.NewLedgerService(ledgerRepo, customerRepo, productRepo, auditRepo, txManager, clock, nil)
	orders := service.NewOrderService(orderRepo, customerRepo, auditRepo, txManager, inventory, cash, ledger, clock, nil, nil)
	notes := service.NewCreditNoteService(repository.NewCreditNoteRepository(db), orderRepo, auditRepo, txManager, inventory, cash, ledger, clock, decimal.RequireFromString("0.21"), nil, nil)

	r := gin.New()
	root := r.Group("")
	NewInventoryHandler(inventory).RegisterRoutes(root)
	NewOrderHandler(orders).RegisterRoutes(root)
	NewCashHandler(cash).RegisterRoutes(root)
	NewCustomerHandler(service.NewCustomerService(customerRepo, ledgerRepo, auditRepo, txManager)).RegisterRoutes(root)
	NewLedgerHandler(ledger).RegisterRoutes(root)
	NewCreditNoteHandler(notes).RegisterRoutes(root)
	NewAuditHandler(service.NewAuditService(auditRepo)).RegisterRoutes(root)
	NewStatisticsHandler(service.NewStatisticsService(repository.NewStatisticsRepository(db), time.UTC)).RegisterRoutes(root)

	return &testServer{t: t, engine: r}
}

func (s *testServer) do(method, path string, body interface{}, headers ...string) (*httptest.ResponseRecorder, envelope) {
	s.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(s.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	s.engine.ServeHTTP(w, req)

	var env envelope
	if w.Header().Get("Content-Type") != xlsxContentType {
		_ = json.Unmarshal(w.Body.Bytes(), &env)
	}
	return w, env
}

func decode(t *testing.T, raw json.RawMessage, dest interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(raw, dest))
}

func (s *testServer) createProduct(name string, stock int, price string) string {
	s.t.Helper()
	w, env := s.do(http.MethodPost, "/api/products", gin.H{"name": name, "stock": stock, "price": price})
	require.Equal(s.t, http.StatusCreated, w.Code, w.Body.String())
	var p struct {
		ID string `json:"id"`
	}
	decode(s.t, env.Data, &p)
	return p.ID
}

func TestCreateProductValidatesSKU(t *testing.T) {
	s := newTestServer(t)

	w, env := s.do(http.MethodPost, "/api/products", gin.H{"name": "Tea", "sku": "T1", "price": "1.00"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "error", env.Status)

	w, env = s.do(http.MethodPost, "/api/products", gin.H{"name": "Tea", "category": "Beverage", "price": "1.00", "stock": 4})
	require.Equal(t, http.StatusCreated, w.Code)
	var p struct {
		SKU       string `json:"sku"`
		Available int    `json:"available"`
	}
	decode(t, env.Data, &p)
	assert.Equal(t, "BEV001", p.SKU)
	assert.Equal(t, 4, p.Available)

	w, _ = s.do(http.MethodPost, "/api/products", gin.H{"name": "Coffee", "sku": "COF001", "price": "2.00"})
	assert.Equal(t, http.StatusCreated, w.Code)
}

func TestOrderLifecycleOverHTTP(t *testing.T) {
	s := newTestServer(t)
	pid := s.createProduct("Coffee", 10, "2.50")

	w, env := s.do(http.MethodPost, "/api/orders", gin.H{"items": []gin.H{{"product_id": pid, "quantity": 4}}})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var order struct {
		ID     string          `json:"id"`
		Status string          `json:"status"`
		Total  decimal.Decimal `json:"total"`
	}
	decode(t, env.Data, &order)
	assert.Equal(t, "pending", order.Status)
	assert.True(t, decimal.RequireFromString("10").Equal(order.Total))

	w, _ = s.do(http.MethodPost, "/api/orders/"+order.ID+"/confirm", nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	w, _ = s.do(http.MethodPost, "/api/cash/open", gin.H{"amount": "20"})
	require.Equal(t, http.StatusCreated, w.Code)
	w, _ = s.do(http.MethodPost, "/api/cash/open", gin.H{"amount": "20"})
	assert.Equal(t, http.StatusConflict, w.Code)

	w, env = s.do(http.MethodPost, "/api/orders/"+order.ID+"/confirm", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	decode(t, env.Data, &order)
	assert.Equal(t, "confirmed", order.Status)

	w, _ = s.do(http.MethodDelete, "/api/orders/"+order.ID, nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	w, env = s.do(http.MethodGet, "/api/cash/current", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var report struct {
		Totals struct {
			Sales   decimal.Decimal `json:"sales"`
			Balance decimal.Decimal `json:"balance"`
		} `json:"totals"`
	}
	decode(t, env.Data, &report)
	assert.True(t, decimal.RequireFromString("10").Equal(report.Totals.Sales.Round(2)))
	assert.True(t, decimal.RequireFromString("30").Equal(report.Totals.Balance.Round(2)))

	w, env = s.do(http.MethodGet, "/api/orders?sort=code_asc", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var page struct {
		Total int64 `json:"total"`
	}
	decode(t, env.Data, &page)
	assert.EqualValues(t, 1, page.Total)
}

func TestErrorStatusCodes(t *testing.T) {
	s := newTestServer(t)

	w, env := s.do(http.MethodGet, "/api/orders/00000000-0000-0000-0000-000000000001", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, http.StatusNotFound, env.StatusCode)

	w, _ = s.do(http.MethodGet, "/api/orders/not-a-uuid", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = s.do(http.MethodGet, "/api/orders?sort=price", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = s.do(http.MethodPost, "/api/orders", gin.H{"items": []gin.H{}})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = s.do(http.MethodGet, "/api/cash/report?date=2020-01-01", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w, _ = s.do(http.MethodPost, "/api/cash/close", gin.H{"amount": "0"})
	assert.Equal(t, http.StatusConflict, w.Code)

	w, _ = s.do(http.MethodGet, "/api/statistics/sales?start_date=yesterday", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCheckoutReplaysIdempotencyHeader(t *testing.T) {
	s := newTestServer(t)
	pid := s.createProduct("Candle", 5, "2.00")
	w, _ := s.do(http.MethodPost, "/api/cash/open", gin.H{"amount": "0"})
	require.Equal(t, http.StatusCreated, w.Code)

	body := gin.H{
		"items":    []gin.H{{"product_id": pid, "qty": 2}},
		"payments": []gin.H{{"method": "cash", "amount": "5"}},
	}
	w, env := s.do(http.MethodPost, "/api/checkout", body, "Idempotency-Key", "till-1-42")
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var res struct {
		Change   decimal.Decimal `json:"change"`
		Replayed bool            `json:"replayed"`
	}
	decode(t, env.Data, &res)
	assert.True(t, decimal.RequireFromString("1").Equal(res.Change))
	assert.False(t, res.Replayed)

	w, env = s.do(http.MethodPost, "/api/checkout", body, "Idempotency-Key", "till-1-42")
	require.Equal(t, http.StatusOK, w.Code)
	decode(t, env.Data, &res)
	assert.True(t, res.Replayed)

	w, _ = s.do(http.MethodPost, "/api/checkout", gin.H{
		"items":    []gin.H{{"product_id": pid, "qty": 1}},
		"payments": []gin.H{{"method": "cash", "amount": "1"}},
	})
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestCreditNoteAndLedgerOverHTTP(t *testing.T) {
	s := newTestServer(t)
	pid := s.createProduct("Book", 5, "20.00")

	w, env := s.do(http.MethodPost, "/api/customers", gin.H{"name": "Pablo", "email": "pablo@example.com"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var customer struct {
		ID string `json:"id"`
	}
	decode(t, env.Data, &customer)

	w, _ = s.do(http.MethodPost, "/api/cash/open", gin.H{"amount": "0"})
	require.Equal(t, http.StatusCreated, w.Code)
	w, env = s.do(http.MethodPost, "/api/orders", gin.H{"customer_id": customer.ID, "items": []gin.H{{"product_id": pid, "quantity": 1}}})
	require.Equal(t, http.StatusCreated, w.Code)
	var order struct {
		ID string `json:"id"`
	}
	decode(t, env.Data, &order)

	w, _ = s.do(http.MethodPost, "/api/credit-notes", gin.H{
		"order_id":      order.ID,
		"refund_method": "credit",
		"items":         []gin.H{{"product_id": pid, "quantity": 1}},
	})
	assert.Equal(t, http.StatusConflict, w.Code)

	w, _ = s.do(http.MethodPost, "/api/orders/"+order.ID+"/confirm", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w, env = s.do(http.MethodPost, "/api/credit-notes", gin.H{
		"order_id":      order.ID,
		"refund_method": "credit",
		"items":         []gin.H{{"product_id": pid, "quantity": 3}},
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var note struct {
		Total decimal.Decimal `json:"total"`
	}
	decode(t, env.Data, &note)
	assert.True(t, decimal.RequireFromString("-24.20").Equal(note.Total))

	w, env = s.do(http.MethodGet, "/api/customers/"+customer.ID+"/balance", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var balance struct {
		Balance    decimal.Decimal `json:"balance"`
		Consistent bool            `json:"consistent"`
	}
	decode(t, env.Data, &balance)
	assert.True(t, decimal.RequireFromString("-4.20").Equal(balance.Balance.Round(2)))
	assert.True(t, balance.Consistent)

	w, _ = s.do(http.MethodPost, "/api/customers/"+customer.ID+"/payments", gin.H{"amount": "0"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = s.do(http.MethodDelete, "/api/customers/"+customer.ID, nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	w, env = s.do(http.MethodGet, "/api/ledger?customerId="+customer.ID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var ledger struct {
		Total int64 `json:"total"`
	}
	decode(t, env.Data, &ledger)
	assert.EqualValues(t, 2, ledger.Total)

	w, env = s.do(http.MethodGet, "/api/orders/"+order.ID+"/credit-notes", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var notes []json.RawMessage
	decode(t, env.Data, &notes)
	assert.Len(t, notes, 1)
}

func TestStatisticsReportsOverHTTP(t *testing.T) {
	s := newTestServer(t)
	pid := s.createProduct("Tea", 10, "2.50")
	w, _ := s.do(http.MethodPost, "/api/cash/open", gin.H{"amount": "0"})
	require.Equal(t, http.StatusCreated, w.Code)
	w, env := s.do(http.MethodPost, "/api/orders", gin.H{"items": []gin.H{{"product_id": pid, "quantity": 2}}})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var order struct {
		ID string `json:"id"`
	}
	decode(t, env.Data, &order)
	w, _ = s.do(http.MethodPost, "/api/orders/"+order.ID+"/confirm", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w, env = s.do(http.MethodGet, "/api/statistics/sales-daily", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var days []struct {
		Orders int             `json:"orders"`
		Net    decimal.Decimal `json:"net"`
	}
	decode(t, env.Data, &days)
	require.Len(t, days, 1)
	assert.Equal(t, 1, days[0].Orders)
	assert.True(t, decimal.RequireFromString("5").Equal(days[0].Net.Round(2)))

	w, env = s.do(http.MethodGet, "/api/statistics/sales-lines?limit=1", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var page struct {
		Total int64 `json:"total"`
	}
	decode(t, env.Data, &page)
	assert.EqualValues(t, 1, page.Total)

	w, env = s.do(http.MethodGet, "/api/statistics/cash-daily", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var cash []struct {
		Sales decimal.Decimal `json:"sales"`
	}
	decode(t, env.Data, &cash)
	require.Len(t, cash, 1)
	assert.True(t, decimal.RequireFromString("5").Equal(cash[0].Sales.Round(2)))

	w, _ = s.do(http.MethodGet, "/api/statistics/cash-daily?start_date=yesterday", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w, _ = s.do(http.MethodGet, "/api/statistics/sales-lines?start_date=2026-03-10&end_date=2026-03-01", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCashReportExport(t *testing.T) {
	s := newTestServer(t)
	w, _ := s.do(http.MethodPost, "/api/cash/open", gin.H{"amount": "15"})
	require.Equal(t, http.StatusCreated, w.Code)

	w, _ = s.do(http.MethodGet, "/api/cash/report/export", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, xlsxContentType, w.Header().Get("Content-Type"))
	assert.Contains(t, w.Header().Get("Content-Disposition"), ".xlsx")
	assert.NotZero(t, w.Body.Len())
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{service.ErrOrderNotFound, http.StatusNotFound},
		{service.ErrValidation, http.StatusBadRequest},
		{service.ErrZeroAmount, http.StatusBadRequest},
		{service.ErrInsufficientStock, http.StatusConflict},
		{service.ErrNoOpenSession, http.StatusConflict},
		{service.ErrInconsistency, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, statusFor(tt.err), tt.err.Error())
	}
}

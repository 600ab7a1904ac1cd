package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"backoffice/internal/model"
	"backoffice/internal/repository"
	"backoffice/pkg/pagination"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// LedgerRecord is an entry to append. A nil CustomerID posts an anonymous entry.
type LedgerRecord struct {
	CustomerID  *uuid.UUID
	Date        time.Time
	Type        string
	SourceType  string
	SourceID    uuid.UUID
	Amount      decimal.Decimal
	Description string
}

// DTOs
type LedgerQuery struct {
	CustomerID string `form:"customerId" binding:"omitempty,uuid"`
	Type       string `form:"type" binding:"omitempty,oneof=order payment credit_note adjustment"`
	From       string `form:"from"`
	To         string `form:"to"`
	Query      string `form:"q"`
	Page       int    `form:"-"`
	PageSize   int    `form:"-"`
}

type LedgerListResponse struct {
	Entries  []model.LedgerEntry `json:"entries"`
	Total    int64               `json:"total"`
	Page     int                 `json:"page"`
	PageSize int                 `json:"page_size"`
	Balance  decimal.Decimal     `json:"balance"`
}

type PaymentRequest struct {
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description" binding:"max=500"`
}

type AdjustmentRequest struct {
	Amount decimal.Decimal `json:"amount"`
	Reason string          `json:"reason" binding:"required,max=500"`
}

type ReconcileReport struct {
	CheckedAt            time.Time                    `json:"checked_at"`
	CustomerMismatches   []repository.BalanceMismatch `json:"customer_mismatches"`
	InconsistentProducts []model.Product              `json:"inconsistent_products"`
}

func (r ReconcileReport) Clean() bool {
	return len(r.CustomerMismatches) == 0 && len(r.InconsistentProducts) == 0
}

// LedgerPoster appends ledger entries inside the caller's transaction.
type LedgerPoster interface {
	Record(ctx context.Context, rec LedgerRecord) (*model.LedgerEntry, error)
}

type LedgerService interface {
	LedgerPoster
	List(ctx context.Context, q LedgerQuery) (LedgerListResponse, error)
	RecordPayment(ctx context.Context, customerID string, req PaymentRequest) (model.LedgerEntry, error)
	Adjust(ctx context.Context, customerID string, req AdjustmentRequest) (model.LedgerEntry, error)
	Reconcile(ctx context.Context) (ReconcileReport, error)
}

type ledgerService struct {
	ledgerRepo   repository.LedgerRepository
	customerRepo repository.CustomerRepository
	productRepo  repository.ProductRepository
	auditRepo    repository.AuditRepository
	txManager    repository.TransactionManager
	clock        Clock
	log          *zap.Logger
}

func NewLedgerService(
	ledgerRepo repository.LedgerRepository,
	customerRepo repository.CustomerRepository,
	productRepo repository.ProductRepository,
	auditRepo repository.AuditRepository,
	txManager repository.TransactionManager,
	clock Clock,
	log *zap.Logger,
) LedgerService {
	if clock == nil {
		clock = SystemClock{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &ledgerService{
		ledgerRepo:   ledgerRepo,
		customerRepo: customerRepo,
		productRepo:  productRepo,
		auditRepo:    auditRepo,
		txManager:    txManager,
		clock:        clock,
		log:          log,
	}
}

func validLedgerType(t string) bool {
	switch t {
	case model.LedgerTypeOrder, model.LedgerTypePayment, model.LedgerTypeCreditNote, model.LedgerTypeAdjustment:
		return true
	}
	return false
}

// Record appends an entry and moves the customer's balance by the same amount.
func (s *ledgerService) Record(ctx context.Context, rec LedgerRecord) (*model.LedgerEntry, error) {
	if rec.SourceID == uuid.Nil {
		return nil, fmt.Errorf("%w: ledger source id is required", ErrValidation)
	}
	if !validLedgerType(rec.Type) {
		return nil, fmt.Errorf("%w: unknown ledger type %q", ErrValidation, rec.Type)
	}
	if rec.SourceType == "" {
		rec.SourceType = rec.Type
	}
	if rec.Date.IsZero() {
		rec.Date = s.clock.Now()
	}

	entry := &model.LedgerEntry{
		CustomerID:  rec.CustomerID,
		Date:        rec.Date,
		Type:        rec.Type,
		SourceType:  rec.SourceType,
		SourceID:    rec.SourceID,
		Amount:      rec.Amount.Round(2),
		Description: rec.Description,
	}

	err := s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		if err := s.ledgerRepo.Create(txCtx, entry); err != nil {
			return fmt.Errorf("failed to append ledger entry: %w", err)
		}
		if entry.CustomerID != nil {
			if err := s.customerRepo.AddBalance(txCtx, *entry.CustomerID, entry.Amount); err != nil {
				return notFound(err, "customer")
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

func (s *ledgerService) List(ctx context.Context, q LedgerQuery) (LedgerListResponse, error) {
	p := pagination.Ledger.Normalize(q.Page, q.PageSize)
	filter := repository.LedgerFilter{
		Type:     q.Type,
		Query:    strings.TrimSpace(q.Query),
		Page:     p.Page,
		PageSize: p.Limit,
	}
	if q.Type != "" && !validLedgerType(q.Type) {
		return LedgerListResponse{}, fmt.Errorf("%w: unknown ledger type %q", ErrValidation, q.Type)
	}

	customerID, err := parseOptionalID(&q.CustomerID, "customer id")
	if err != nil {
		return LedgerListResponse{}, err
	}
	filter.CustomerID = customerID

	if filter.From, err = parseDateBound(q.From, false); err != nil {
		return LedgerListResponse{}, err
	}
	if filter.To, err = parseDateBound(q.To, true); err != nil {
		return LedgerListResponse{}, err
	}

	entries, total, balance, err := s.ledgerRepo.List(ctx, filter)
	if err != nil {
		return LedgerListResponse{}, fmt.Errorf("failed to list ledger: %w", err)
	}
	if entries == nil {
		entries = []model.LedgerEntry{}
	}
	return LedgerListResponse{
		Entries:  entries,
		Total:    total,
		Page:     filter.Page,
		PageSize: filter.PageSize,
		Balance:  balance.Round(2),
	}, nil
}

// parseDateBound accepts RFC3339 or a plain date; a plain upper bound covers the whole day.
func parseDateBound(raw string, upper bool) (*time.Time, error) {
	if raw == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return &t, nil
	}
	t, err := time.Parse(model.CashSessionDateLayout, raw)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid date %q", ErrValidation, raw)
	}
	if upper {
		t = t.Add(24*time.Hour - time.Nanosecond)
	}
	return &t, nil
}

func (s *ledgerService) RecordPayment(ctx context.Context, customerID string, req PaymentRequest) (model.LedgerEntry, error) {
	id, err := parseID(customerID, "customer id")
	if err != nil {
		return model.LedgerEntry{}, err
	}
	if !req.Amount.IsPositive() {
		return model.LedgerEntry{}, fmt.Errorf("%w: payment must be positive", ErrInvalidAmount)
	}
	description := strings.TrimSpace(req.Description)
	if description == "" {
		description = "Account payment"
	}

	var entry *model.LedgerEntry
	err = s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		customer, err := s.customerRepo.FindByID(txCtx, id)
		if err != nil {
			return notFound(err, "customer")
		}
		entry, err = s.Record(txCtx, LedgerRecord{
			CustomerID:  &customer.ID,
			Type:        model.LedgerTypePayment,
			SourceID:    uuid.New(),
			Amount:      req.Amount.Neg(),
			Description: description,
		})
		if err != nil {
			return err
		}
		return writeAudit(txCtx, s.auditRepo, model.ActionLedgerPayment, entry.ID.String(), customer.Name, map[string]interface{}{
			"customer_id": customer.ID,
			"amount":      req.Amount,
		})
	})
	if err != nil {
		return model.LedgerEntry{}, err
	}
	return *entry, nil
}

func (s *ledgerService) Adjust(ctx context.Context, customerID string, req AdjustmentRequest) (model.LedgerEntry, error) {
	id, err := parseID(customerID, "customer id")
	if err != nil {
		return model.LedgerEntry{}, err
	}
	if req.Amount.IsZero() {
		return model.LedgerEntry{}, fmt.Errorf("%w: adjustment must be non-zero", ErrInvalidAmount)
	}
	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		return model.LedgerEntry{}, fmt.Errorf("%w: reason is required", ErrValidation)
	}

	var entry *model.LedgerEntry
	err = s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		customer, err := s.customerRepo.FindByID(txCtx, id)
		if err != nil {
			return notFound(err, "customer")
		}
		entry, err = s.Record(txCtx, LedgerRecord{
			CustomerID:  &customer.ID,
			Type:        model.LedgerTypeAdjustment,
			SourceID:    uuid.New(),
			Amount:      req.Amount,
			Description: reason,
		})
		if err != nil {
			return err
		}
		return writeAudit(txCtx, s.auditRepo, model.ActionLedgerAdjust, entry.ID.String(), customer.Name, map[string]interface{}{
			"customer_id": customer.ID,
			"amount":      req.Amount,
			"reason":      reason,
		})
	})
	if err != nil {
		return model.LedgerEntry{}, err
	}
	return *entry, nil
}

// Reconcile compares derived balances with their sources. It only reports.
func (s *ledgerService) Reconcile(ctx context.Context) (ReconcileReport, error) {
	mismatches, err := s.customerRepo.FindBalanceMismatches(ctx)
	if err != nil {
		return ReconcileReport{}, fmt.Errorf("failed to check customer balances: %w", err)
	}
	products, err := s.productRepo.FindInconsistent(ctx)
	if err != nil {
		return ReconcileReport{}, fmt.Errorf("failed to check product counters: %w", err)
	}

	report := ReconcileReport{
		CheckedAt:            s.clock.Now(),
		CustomerMismatches:   mismatches,
		InconsistentProducts: products,
	}
	if report.CustomerMismatches == nil {
		report.CustomerMismatches = []repository.BalanceMismatch{}
	}
	if report.InconsistentProducts == nil {
		report.InconsistentProducts = []model.Product{}
	}
	for _, m := range mismatches {
		s.log.Warn("customer balance mismatch",
			zap.String("customer_id", m.CustomerID.String()),
			zap.String("stored", m.StoredBalance.String()),
			zap.String("ledger", m.LedgerBalance.String()))
	}
	for _, p := range products {
		s.log.Warn("product counters inconsistent",
			zap.String("product_id", p.ID.String()),
			zap.Int("stock", p.Stock),
			zap.Int("reserved", p.Reserved))
	}
	return report, nil
}

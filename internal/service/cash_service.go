package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"backoffice/internal/config"
	"backoffice/internal/lock"
	"backoffice/internal/model"
	"backoffice/internal/repository"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// DTOs
type OpenCashRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

type CloseCashRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

type CashMovementRequest struct {
	SessionID   *string         `json:"session_id" binding:"omitempty,uuid"`
	Amount      decimal.Decimal `json:"amount"`
	Type        string          `json:"type" binding:"required"`
	Description string          `json:"description" binding:"required,max=500"`
	OccurredAt  *time.Time      `json:"occurred_at"`
}

// CashReference points a movement at the document that caused it.
type CashReference struct {
	Type string
	ID   uuid.UUID
}

type CashTotals struct {
	Opening       decimal.Decimal `json:"opening"`
	Sales         decimal.Decimal `json:"sales"`
	Income        decimal.Decimal `json:"income"`
	Expense       decimal.Decimal `json:"expense"`
	Balance       decimal.Decimal `json:"balance"`
	MovementCount int             `json:"movement_count"`
}

type CashReport struct {
	Session   model.CashSession    `json:"session"`
	Totals    CashTotals           `json:"totals"`
	Movements []model.CashMovement `json:"movements"`
}

type CashMovementEvent struct {
	SessionID string          `json:"session_id"`
	Type      string          `json:"type"`
	Amount    decimal.Decimal `json:"amount"`
}

// CashRegister is the part of the cash manager other flows post into.
type CashRegister interface {
	Today() string
	// ResolveSession returns the session of date locked for update, applying the configured policy.
	ResolveSession(ctx context.Context, date string) (*model.CashSession, error)
	RegisterSale(ctx context.Context, sessionID uuid.UUID, amount decimal.Decimal, description string, ref *CashReference) (*model.CashMovement, error)
	RegisterRefund(ctx context.Context, sessionID uuid.UUID, amount decimal.Decimal, description string, ref *CashReference) (*model.CashMovement, error)
}

type CashService interface {
	CashRegister
	Open(ctx context.Context, req OpenCashRequest) (CashReport, error)
	Close(ctx context.Context, req CloseCashRequest) (CashReport, error)
	Movement(ctx context.Context, req CashMovementRequest) (model.CashMovement, error)
	Current(ctx context.Context) (CashReport, error)
	Report(ctx context.Context, date string) (CashReport, error)
	Movements(ctx context.Context, date string) ([]model.CashMovement, error)
	ExportReport(ctx context.Context, date string) ([]byte, error)
	CloseStaleSessions(ctx context.Context) (int, error)
}

type cashService struct {
	cashRepo  repository.CashRepository
	auditRepo repository.AuditRepository
	txManager repository.TransactionManager
	locker    lock.Locker
	clock     Clock
	policy    string
	events    EventPublisher
	log       *zap.Logger
}

func NewCashService(
	cashRepo repository.CashRepository,
	auditRepo repository.AuditRepository,
	txManager repository.TransactionManager,
	locker lock.Locker,
	clock Clock,
	policy string,
	events EventPublisher,
	log *zap.Logger,
) CashService {
	if locker == nil {
		locker = lock.Noop{}
	}
	if clock == nil {
		clock = SystemClock{}
	}
	if policy == "" {
		policy = config.CashPolicyRequireOpen
	}
	if events == nil {
		events = NoopPublisher{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &cashService{
		cashRepo:  cashRepo,
		auditRepo: auditRepo,
		txManager: txManager,
		locker:    locker,
		clock:     clock,
		policy:    policy,
		events:    events,
		log:       log,
	}
}

const sessionLockTTL = 10 * time.Second

func (s *cashService) Today() string {
	return s.clock.Now().Format(model.CashSessionDateLayout)
}

func (s *cashService) ResolveSession(ctx context.Context, date string) (*model.CashSession, error) {
	var session *model.CashSession
	err := s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		found, err := s.cashRepo.FindSessionByDateForUpdate(txCtx, date)
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("failed to load cash session: %w", err)
		}
		if err != nil {
			if s.policy != config.CashPolicyAutoOpen {
				return fmt.Errorf("%w for %s", ErrNoOpenSession, date)
			}
			fresh := &model.CashSession{Date: date, IsOpen: true}
			if err := s.cashRepo.CreateSessionIfAbsent(txCtx, fresh); err != nil {
				return fmt.Errorf("failed to open cash session: %w", err)
			}
			if found, err = s.cashRepo.FindSessionByDateForUpdate(txCtx, date); err != nil {
				return fmt.Errorf("failed to load cash session: %w", err)
			}
			s.log.Info("cash session opened automatically", zap.String("date", date))
		}
		if !found.IsOpen {
			return fmt.Errorf("%w: session %s is closed", ErrNoOpenSession, date)
		}
		session = found
		return nil
	})
	if err != nil {
		return nil, err
	}
	return session, nil
}

func (s *cashService) RegisterSale(ctx context.Context, sessionID uuid.UUID, amount decimal.Decimal, description string, ref *CashReference) (*model.CashMovement, error) {
	if !amount.IsPositive() {
		return nil, fmt.Errorf("%w: sale amount must be positive", ErrInvalidAmount)
	}
	return s.appendMovement(ctx, sessionID, model.MovementTypeSale, amount, description, ref, nil)
}

// RegisterRefund records cash handed back to a customer as an expense.
func (s *cashService) RegisterRefund(ctx context.Context, sessionID uuid.UUID, amount decimal.Decimal, description string, ref *CashReference) (*model.CashMovement, error) {
	if !amount.IsPositive() {
		return nil, fmt.Errorf("%w: refund amount must be positive", ErrInvalidAmount)
	}
	return s.appendMovement(ctx, sessionID, model.MovementTypeExpense, amount.Neg(), description, ref, nil)
}

func (s *cashService) appendMovement(ctx context.Context, sessionID uuid.UUID, movementType string, amount decimal.Decimal, description string, ref *CashReference, occurredAt *time.Time) (*model.CashMovement, error) {
	var movement *model.CashMovement
	err := s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		session, err := s.cashRepo.FindSessionByIDForUpdate(txCtx, sessionID)
		if err != nil {
			return notFound(err, "cash session")
		}
		if !session.IsOpen {
			return fmt.Errorf("%w: session %s is closed", ErrNoOpenSession, session.Date)
		}

		m := &model.CashMovement{
			SessionID:   session.ID,
			Amount:      amount.Round(2),
			Type:        movementType,
			Description: description,
			OccurredAt:  s.clock.Now(),
		}
		if occurredAt != nil {
			m.OccurredAt = *occurredAt
		}
		if ref != nil {
			refType := ref.Type
			refID := ref.ID
			m.ReferenceType = &refType
			m.ReferenceID = &refID
		}
		if err := s.cashRepo.CreateMovement(txCtx, m); err != nil {
			return fmt.Errorf("failed to record cash movement: %w", err)
		}
		movement = m
		return nil
	})
	if err != nil {
		return nil, err
	}
	if !repository.InTx(ctx) {
		s.publishMovement(movement)
	}
	return movement, nil
}

func (s *cashService) publishMovement(m *model.CashMovement) {
	s.events.Publish(EventCashMovement, CashMovementEvent{
		SessionID: m.SessionID.String(),
		Type:      m.Type,
		Amount:    m.Amount,
	})
}

func (s *cashService) Open(ctx context.Context, req OpenCashRequest) (CashReport, error) {
	if req.Amount.IsNegative() {
		return CashReport{}, fmt.Errorf("%w: opening amount must not be negative", ErrInvalidAmount)
	}
	date := s.Today()

	release, err := s.locker.Obtain(ctx, "cash:session:"+date, sessionLockTTL)
	if err != nil {
		return CashReport{}, fmt.Errorf("failed to lock cash session: %w", err)
	}
	defer release()

	var session *model.CashSession
	err = s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		existing, err := s.cashRepo.FindSessionByDateForUpdate(txCtx, date)
		switch {
		case err == nil && existing.IsOpen:
			return fmt.Errorf("%w for %s", ErrAlreadyOpen, date)
		case err == nil:
			existing.OpeningAmount = req.Amount.Round(2)
			existing.ClosingAmount = decimal.Zero
			existing.IsOpen = true
			existing.ClosedAt = nil
			if err := s.cashRepo.SaveSession(txCtx, existing); err != nil {
				return fmt.Errorf("failed to reopen cash session: %w", err)
			}
			session = existing
		case errors.Is(err, gorm.ErrRecordNotFound):
			fresh := &model.CashSession{Date: date, OpeningAmount: req.Amount.Round(2), IsOpen: true}
			if err := s.cashRepo.CreateSession(txCtx, fresh); err != nil {
				return fmt.Errorf("failed to open cash session: %w", err)
			}
			session = fresh
		default:
			return fmt.Errorf("failed to load cash session: %w", err)
		}
		return writeAudit(txCtx, s.auditRepo, model.ActionOpenCash, session.ID.String(), date, map[string]interface{}{
			"opening_amount": session.OpeningAmount,
		})
	})
	if err != nil {
		return CashReport{}, err
	}

	s.events.Publish(EventCashSession, map[string]interface{}{"date": date, "is_open": true})
	return s.Report(ctx, date)
}

func (s *cashService) Close(ctx context.Context, req CloseCashRequest) (CashReport, error) {
	if req.Amount.IsNegative() {
		return CashReport{}, fmt.Errorf("%w: closing amount must not be negative", ErrInvalidAmount)
	}
	date := s.Today()

	release, err := s.locker.Obtain(ctx, "cash:session:"+date, sessionLockTTL)
	if err != nil {
		return CashReport{}, fmt.Errorf("failed to lock cash session: %w", err)
	}
	defer release()

	err = s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		session, err := s.cashRepo.FindSessionByDateForUpdate(txCtx, date)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w for %s", ErrNoOpenSession, date)
			}
			return fmt.Errorf("failed to load cash session: %w", err)
		}
		if !session.IsOpen {
			return fmt.Errorf("%w for %s", ErrNoOpenSession, date)
		}
		return s.closeLocked(txCtx, session, req.Amount.Round(2))
	})
	if err != nil {
		return CashReport{}, err
	}

	s.events.Publish(EventCashSession, map[string]interface{}{"date": date, "is_open": false})
	return s.Report(ctx, date)
}

// closeLocked closes a session already locked by the caller and appends the close marker.
func (s *cashService) closeLocked(ctx context.Context, session *model.CashSession, counted decimal.Decimal) error {
	movements, err := s.cashRepo.ListMovements(ctx, session.ID, false)
	if err != nil {
		return fmt.Errorf("failed to load cash movements: %w", err)
	}
	totals := ComputeCashTotals(session.OpeningAmount, movements)

	now := s.clock.Now()
	session.ClosingAmount = counted
	session.IsOpen = false
	session.ClosedAt = &now
	if err := s.cashRepo.SaveSession(ctx, session); err != nil {
		return fmt.Errorf("failed to close cash session: %w", err)
	}

	marker := &model.CashMovement{
		SessionID: session.ID,
		Amount:    decimal.Zero,
		Type:      model.MovementTypeClose,
		Description: fmt.Sprintf("Close: opening %s, sales %s, income %s, expense %s, balance %s, counted %s",
			totals.Opening.StringFixed(2), totals.Sales.StringFixed(2), totals.Income.StringFixed(2),
			totals.Expense.StringFixed(2), totals.Balance.StringFixed(2), counted.StringFixed(2)),
		OccurredAt: now,
	}
	if err := s.cashRepo.CreateMovement(ctx, marker); err != nil {
		return fmt.Errorf("failed to record close movement: %w", err)
	}

	return writeAudit(ctx, s.auditRepo, model.ActionCloseCash, session.ID.String(), session.Date, map[string]interface{}{
		"expected":   totals.Balance,
		"counted":    counted,
		"difference": counted.Sub(totals.Balance),
	})
}

func (s *cashService) Movement(ctx context.Context, req CashMovementRequest) (model.CashMovement, error) {
	movementType := strings.ToLower(strings.TrimSpace(req.Type))
	switch movementType {
	case model.MovementTypeIncome, model.MovementTypeExpense, model.MovementTypeSale:
	default:
		return model.CashMovement{}, fmt.Errorf("%w: %q", ErrInvalidType, req.Type)
	}
	if req.Amount.IsZero() {
		return model.CashMovement{}, fmt.Errorf("%w: amount must be non-zero", ErrInvalidAmount)
	}
	description := strings.TrimSpace(req.Description)
	if description == "" {
		return model.CashMovement{}, fmt.Errorf("%w: description is required", ErrValidation)
	}
	sessionID, err := parseOptionalID(req.SessionID, "session id")
	if err != nil {
		return model.CashMovement{}, err
	}

	// expenses are always stored negative, income and sales positive
	amount := req.Amount.Abs()
	if movementType == model.MovementTypeExpense {
		amount = amount.Neg()
	}

	var movement *model.CashMovement
	err = s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		if sessionID == nil {
			session, err := s.ResolveSession(txCtx, s.Today())
			if err != nil {
				return err
			}
			sessionID = &session.ID
		}
		m, err := s.appendMovement(txCtx, *sessionID, movementType, amount, description, nil, req.OccurredAt)
		if err != nil {
			return err
		}
		movement = m
		return writeAudit(txCtx, s.auditRepo, model.ActionCashMovement, m.ID.String(), movementType, map[string]interface{}{
			"session_id":  m.SessionID,
			"amount":      m.Amount,
			"description": m.Description,
		})
	})
	if err != nil {
		return model.CashMovement{}, err
	}

	s.publishMovement(movement)
	return *movement, nil
}

func (s *cashService) Current(ctx context.Context) (CashReport, error) {
	return s.Report(ctx, s.Today())
}

func (s *cashService) Report(ctx context.Context, date string) (CashReport, error) {
	session, err := s.findSession(ctx, date)
	if err != nil {
		return CashReport{}, err
	}
	movements, err := s.cashRepo.ListMovements(ctx, session.ID, false)
	if err != nil {
		return CashReport{}, fmt.Errorf("failed to load cash movements: %w", err)
	}
	return CashReport{
		Session:   *session,
		Totals:    ComputeCashTotals(session.OpeningAmount, movements),
		Movements: movements,
	}, nil
}

func (s *cashService) Movements(ctx context.Context, date string) ([]model.CashMovement, error) {
	session, err := s.findSession(ctx, date)
	if err != nil {
		return nil, err
	}
	return s.cashRepo.ListMovements(ctx, session.ID, true)
}

func (s *cashService) findSession(ctx context.Context, date string) (*model.CashSession, error) {
	if date == "" {
		date = s.Today()
	}
	if _, err := time.Parse(model.CashSessionDateLayout, date); err != nil {
		return nil, fmt.Errorf("%w: date must be YYYY-MM-DD", ErrValidation)
	}
	session, err := s.cashRepo.FindSessionByDate(ctx, date)
	if err != nil {
		return nil, notFound(err, "cash session "+date)
	}
	return session, nil
}

// ExportReport renders the day's report as an xlsx workbook.
func (s *cashService) ExportReport(ctx context.Context, date string) ([]byte, error) {
	report, err := s.Report(ctx, date)
	if err != nil {
		return nil, err
	}

	f := excelize.NewFile()
	defer f.Close()

	const summary = "Summary"
	if err := f.SetSheetName("Sheet1", summary); err != nil {
		return nil, err
	}
	status := "open"
	if !report.Session.IsOpen {
		status = "closed"
	}
	rows := [][]interface{}{
		{"Date", report.Session.Date},
		{"Status", status},
		{"Opening", report.Totals.Opening.InexactFloat64()},
		{"Sales", report.Totals.Sales.InexactFloat64()},
		{"Income", report.Totals.Income.InexactFloat64()},
		{"Expense", report.Totals.Expense.InexactFloat64()},
		{"Balance", report.Totals.Balance.InexactFloat64()},
		{"Counted", report.Session.ClosingAmount.InexactFloat64()},
		{"Movements", report.Totals.MovementCount},
	}
	for i, row := range rows {
		cell, _ := excelize.CoordinatesToCellName(1, i+1)
		if err := f.SetSheetRow(summary, cell, &row); err != nil {
			return nil, err
		}
	}

	const detail = "Movements"
	if _, err := f.NewSheet(detail); err != nil {
		return nil, err
	}
	header := []interface{}{"Occurred at", "Type", "Amount", "Description", "Reference"}
	if err := f.SetSheetRow(detail, "A1", &header); err != nil {
		return nil, err
	}
	for i, m := range report.Movements {
		ref := ""
		if m.ReferenceType != nil && m.ReferenceID != nil {
			ref = *m.ReferenceType + ":" + m.ReferenceID.String()
		}
		row := []interface{}{m.OccurredAt.Format(time.RFC3339), m.Type, m.Amount.InexactFloat64(), m.Description, ref}
		cell, _ := excelize.CoordinatesToCellName(1, i+2)
		if err := f.SetSheetRow(detail, cell, &row); err != nil {
			return nil, err
		}
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("failed to render workbook: %w", err)
	}
	return buf.Bytes(), nil
}

// CloseStaleSessions closes sessions from earlier days that were left open,
// counting the expected balance as the closing amount.
func (s *cashService) CloseStaleSessions(ctx context.Context) (int, error) {
	stale, err := s.cashRepo.FindOpenSessionsBefore(ctx, s.Today())
	if err != nil {
		return 0, fmt.Errorf("failed to list stale sessions: %w", err)
	}

	closed := 0
	for _, candidate := range stale {
		err := s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
			session, err := s.cashRepo.FindSessionByIDForUpdate(txCtx, candidate.ID)
			if err != nil {
				return err
			}
			if !session.IsOpen {
				return nil
			}
			movements, err := s.cashRepo.ListMovements(txCtx, session.ID, false)
			if err != nil {
				return err
			}
			expected := ComputeCashTotals(session.OpeningAmount, movements).Balance
			return s.closeLocked(txCtx, session, expected)
		})
		if err != nil {
			s.log.Error("failed to close stale cash session", zap.String("date", candidate.Date), zap.Error(err))
			continue
		}
		closed++
		s.log.Info("closed stale cash session", zap.String("date", candidate.Date))
	}
	return closed, nil
}

// ComputeCashTotals sums the movements of a session. Close markers are ignored and
// expenses are reported as a positive figure.
func ComputeCashTotals(opening decimal.Decimal, movements []model.CashMovement) CashTotals {
	t := CashTotals{
		Opening: opening,
		Sales:   decimal.Zero,
		Income:  decimal.Zero,
		Expense: decimal.Zero,
	}
	for _, m := range movements {
		switch m.Type {
		case model.MovementTypeSale:
			t.Sales = t.Sales.Add(m.Amount)
		case model.MovementTypeIncome:
			t.Income = t.Income.Add(m.Amount)
		case model.MovementTypeExpense:
			t.Expense = t.Expense.Add(m.Amount.Abs())
		default:
			continue
		}
		t.MovementCount++
	}
	t.Opening = t.Opening.Round(2)
	t.Sales = t.Sales.Round(2)
	t.Income = t.Income.Round(2)
	t.Expense = t.Expense.Round(2)
	t.Balance = t.Opening.Add(t.Sales).Add(t.Income).Sub(t.Expense)
	return t
}

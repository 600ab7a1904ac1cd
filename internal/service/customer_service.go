package service

import (
	"context"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"backoffice/internal/model"
	"backoffice/internal/repository"
	"backoffice/pkg/pagination"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// --- Customer DTOs ---

type CreateCustomerRequest struct {
	Name    string `json:"name" binding:"required,max=255"`
	Phone   string `json:"phone" binding:"max=50"`
	Email   string `json:"email" binding:"omitempty,email"`
	Address string `json:"address"`
	Notes   string `json:"notes"`
}

type UpdateCustomerRequest struct {
	Name    *string `json:"name" binding:"omitempty,max=255"`
	Phone   *string `json:"phone" binding:"omitempty,max=50"`
	Email   *string `json:"email"`
	Address *string `json:"address"`
	Notes   *string `json:"notes"`
}

type CustomerResponse struct {
	ID        uuid.UUID       `json:"id"`
	Name      string          `json:"name"`
	Phone     string          `json:"phone"`
	Email     string          `json:"email"`
	Address   string          `json:"address"`
	Notes     string          `json:"notes"`
	Balance   decimal.Decimal `json:"balance"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

type CustomerBalanceResponse struct {
	CustomerID    uuid.UUID       `json:"customer_id"`
	Balance       decimal.Decimal `json:"balance"`
	LedgerBalance decimal.Decimal `json:"ledger_balance"`
	Entries       int64           `json:"entries"`
	Consistent    bool            `json:"consistent"`
}

// --- Interface ---

type CustomerService interface {
	CreateCustomer(ctx context.Context, req CreateCustomerRequest) (CustomerResponse, error)
	UpdateCustomer(ctx context.Context, id string, req UpdateCustomerRequest) (CustomerResponse, error)
	DeleteCustomer(ctx context.Context, id string) error
	GetCustomer(ctx context.Context, id string) (CustomerResponse, error)
	GetCustomers(ctx context.Context, search string, page, limit int) ([]CustomerResponse, int64, error)
	GetBalance(ctx context.Context, id string) (CustomerBalanceResponse, error)
}

// --- Implementation ---

type customerService struct {
	customerRepo repository.CustomerRepository
	ledgerRepo   repository.LedgerRepository
	auditRepo    repository.AuditRepository
	txManager    repository.TransactionManager
}

func NewCustomerService(
	customerRepo repository.CustomerRepository,
	ledgerRepo repository.LedgerRepository,
	auditRepo repository.AuditRepository,
	txManager repository.TransactionManager,
) CustomerService {
	return &customerService{
		customerRepo: customerRepo,
		ledgerRepo:   ledgerRepo,
		auditRepo:    auditRepo,
		txManager:    txManager,
	}
}

func toCustomerResponse(c model.Customer) CustomerResponse {
	return CustomerResponse{
		ID:        c.ID,
		Name:      c.Name,
		Phone:     c.Phone,
		Email:     c.Email,
		Address:   c.Address,
		Notes:     c.Notes,
		Balance:   c.Balance.Round(2),
		CreatedAt: c.CreatedAt,
		UpdatedAt: c.UpdatedAt,
	}
}

func validateEmail(email string) error {
	if email == "" {
		return nil
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return fmt.Errorf("%w: invalid email format", ErrValidation)
	}
	return nil
}

// --- CRUD ---

func (s *customerService) CreateCustomer(ctx context.Context, req CreateCustomerRequest) (CustomerResponse, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return CustomerResponse{}, fmt.Errorf("%w: name is required", ErrValidation)
	}
	if err := validateEmail(req.Email); err != nil {
		return CustomerResponse{}, err
	}

	customer := &model.Customer{
		Name:    name,
		Phone:   strings.TrimSpace(req.Phone),
		Email:   strings.TrimSpace(req.Email),
		Address: req.Address,
		Notes:   req.Notes,
		Balance: decimal.Zero,
	}

	err := s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		if err := s.customerRepo.Create(txCtx, customer); err != nil {
			return fmt.Errorf("failed to create customer: %w", err)
		}
		return writeAudit(txCtx, s.auditRepo, model.ActionCreateCustomer, customer.ID.String(), customer.Name, req)
	})
	if err != nil {
		return CustomerResponse{}, err
	}
	return toCustomerResponse(*customer), nil
}

// UpdateCustomer changes contact fields. The balance is owned by the ledger.
func (s *customerService) UpdateCustomer(ctx context.Context, id string, req UpdateCustomerRequest) (CustomerResponse, error) {
	uid, err := parseID(id, "customer id")
	if err != nil {
		return CustomerResponse{}, err
	}

	var customer *model.Customer
	err = s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		c, err := s.customerRepo.FindByID(txCtx, uid)
		if err != nil {
			return notFound(err, "customer")
		}

		if req.Name != nil {
			name := strings.TrimSpace(*req.Name)
			if name == "" {
				return fmt.Errorf("%w: name cannot be empty", ErrValidation)
			}
			c.Name = name
		}
		if req.Email != nil {
			if err := validateEmail(strings.TrimSpace(*req.Email)); err != nil {
				return err
			}
			c.Email = strings.TrimSpace(*req.Email)
		}
		if req.Phone != nil {
			c.Phone = strings.TrimSpace(*req.Phone)
		}
		if req.Address != nil {
			c.Address = *req.Address
		}
		if req.Notes != nil {
			c.Notes = *req.Notes
		}

		if err := s.customerRepo.Update(txCtx, c); err != nil {
			return fmt.Errorf("failed to update customer: %w", err)
		}
		customer = c
		return writeAudit(txCtx, s.auditRepo, model.ActionUpdateCustomer, c.ID.String(), c.Name, req)
	})
	if err != nil {
		return CustomerResponse{}, err
	}
	return toCustomerResponse(*customer), nil
}

// DeleteCustomer removes a customer that has no ledger history.
func (s *customerService) DeleteCustomer(ctx context.Context, id string) error {
	uid, err := parseID(id, "customer id")
	if err != nil {
		return err
	}

	return s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		customer, err := s.customerRepo.FindByID(txCtx, uid)
		if err != nil {
			return notFound(err, "customer")
		}
		entries, err := s.ledgerRepo.CountByCustomer(txCtx, uid)
		if err != nil {
			return fmt.Errorf("failed to check ledger: %w", err)
		}
		if entries > 0 {
			return fmt.Errorf("%w: customer has %d ledger entries", ErrInvalidState, entries)
		}
		if err := s.customerRepo.Delete(txCtx, uid); err != nil {
			return fmt.Errorf("failed to delete customer: %w", err)
		}
		return writeAudit(txCtx, s.auditRepo, model.ActionDeleteCustomer, customer.ID.String(), customer.Name, map[string]interface{}{"deleted": true})
	})
}

func (s *customerService) GetCustomer(ctx context.Context, id string) (CustomerResponse, error) {
	uid, err := parseID(id, "customer id")
	if err != nil {
		return CustomerResponse{}, err
	}
	customer, err := s.customerRepo.FindByID(ctx, uid)
	if err != nil {
		return CustomerResponse{}, notFound(err, "customer")
	}
	return toCustomerResponse(*customer), nil
}

func (s *customerService) GetCustomers(ctx context.Context, search string, page, limit int) ([]CustomerResponse, int64, error) {
	p := pagination.Standard.Normalize(page, limit)
	customers, total, err := s.customerRepo.List(ctx, p.Page, p.Limit, strings.TrimSpace(search))
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list customers: %w", err)
	}
	res := make([]CustomerResponse, 0, len(customers))
	for _, c := range customers {
		res = append(res, toCustomerResponse(c))
	}
	return res, total, nil
}

// GetBalance reports the stored balance next to the sum of the customer's ledger.
func (s *customerService) GetBalance(ctx context.Context, id string) (CustomerBalanceResponse, error) {
	uid, err := parseID(id, "customer id")
	if err != nil {
		return CustomerBalanceResponse{}, err
	}
	customer, err := s.customerRepo.FindByID(ctx, uid)
	if err != nil {
		return CustomerBalanceResponse{}, notFound(err, "customer")
	}
	sum, err := s.ledgerRepo.SumByCustomer(ctx, uid)
	if err != nil {
		return CustomerBalanceResponse{}, fmt.Errorf("failed to sum ledger: %w", err)
	}
	count, err := s.ledgerRepo.CountByCustomer(ctx, uid)
	if err != nil {
		return CustomerBalanceResponse{}, fmt.Errorf("failed to count ledger: %w", err)
	}
	balance := customer.Balance.Round(2)
	ledger := sum.Round(2)
	return CustomerBalanceResponse{
		CustomerID:    customer.ID,
		Balance:       balance,
		LedgerBalance: ledger,
		Entries:       count,
		Consistent:    balance.Equal(ledger),
	}, nil
}

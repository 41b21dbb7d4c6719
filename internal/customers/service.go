package customers

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/odyssey-erp/debtbook/internal/ledger"
	"github.com/odyssey-erp/debtbook/internal/orders"
	"github.com/odyssey-erp/debtbook/internal/shared"
)

// OrderLister lists orders; the settlement engine satisfies it.
type OrderLister interface {
	ListOrders(ctx context.Context, filter orders.Filter) ([]orders.Order, error)
}

// CreateInput is the request to register a customer.
type CreateInput struct {
	FullName    string `json:"fullName" validate:"required,max=200"`
	PhoneNumber string `json:"phoneNumber" validate:"omitempty,max=40"`
}

// Page is one page of a customer listing.
type Page struct {
	Customers  []Customer        `json:"customers"`
	Pagination shared.Pagination `json:"pagination"`
}

// Service handles customer directory business logic.
type Service struct {
	repo     Repository
	orders   OrderLister
	validate *validator.Validate
}

// NewService creates a new customer service.
func NewService(repo Repository, orders OrderLister) *Service {
	return &Service{repo: repo, orders: orders, validate: validator.New()}
}

// Create registers a customer with zero balances.
func (s *Service) Create(ctx context.Context, in CreateInput) (Customer, error) {
	in.FullName = strings.TrimSpace(in.FullName)
	if err := shared.FromValidator(s.validate.Struct(in)); err != nil {
		return Customer{}, err
	}
	c := Customer{FullName: in.FullName, PhoneNumber: strings.TrimSpace(in.PhoneNumber)}
	if err := s.repo.Create(ctx, &c); err != nil {
		return Customer{}, err
	}
	return c, nil
}

// Get loads one customer.
func (s *Service) Get(ctx context.Context, id int64) (Customer, error) {
	return s.repo.Get(ctx, id)
}

// Balance returns the ledger counters of a customer.
func (s *Service) Balance(ctx context.Context, id int64) (ledger.Balance, error) {
	c, err := s.repo.Get(ctx, id)
	if err != nil {
		return ledger.Balance{}, err
	}
	return c.Balance, nil
}

// List returns a page of customers.
func (s *Service) List(ctx context.Context, f ListFilter) (Page, error) {
	f.Page, f.PerPage = shared.NormalizePage(f.Page, f.PerPage)
	items, total, err := s.repo.List(ctx, f)
	if err != nil {
		return Page{}, fmt.Errorf("customers: list: %w", err)
	}
	if items == nil {
		items = []Customer{}
	}
	return Page{Customers: items, Pagination: shared.NewPagination(f.Page, f.PerPage, total)}, nil
}

// Orders lists every order of a customer, archived ones included.
func (s *Service) Orders(ctx context.Context, id int64) ([]orders.Order, error) {
	exists, err := s.repo.Exists(ctx, id)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, ErrNotFound
	}
	return s.orders.ListOrders(ctx, orders.Filter{CustomerID: &id, IncludeArchived: true})
}

// DebtSummary aggregates debt across customers.
func (s *Service) DebtSummary(ctx context.Context) (DebtSummary, error) {
	return s.repo.DebtSummary(ctx)
}

package store

import (
	"context"
	"errors"
	"fmt"

	"beanpos/backend/internal/domain"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrValidation        = errors.New("validation failed")
	ErrInsufficientStock = errors.New("insufficient stock")
)

// StockError reports a rejected stock movement together with the quantity
// actually available, so callers can surface "only N in stock".
type StockError struct {
	ProductID string
	Requested int
	Available int
}

func (e *StockError) Error() string {
	return fmt.Sprintf("insufficient stock for %s: requested %d, available %d", e.ProductID, e.Requested, e.Available)
}

func (e *StockError) Unwrap() error { return ErrInsufficientStock }

// Repository is the persistence boundary. It exclusively owns product stock
// and the stock log sequence: CreateOrder and AdjustStock are the only
// operations that move stock, and each movement appends exactly one log
// entry (ReplaceProducts synthesizes import entries for bulk deltas).
type Repository interface {
	ListProducts(ctx context.Context) ([]domain.Product, error)
	GetProductByID(ctx context.Context, id string) (*domain.Product, error)
	CreateProduct(ctx context.Context, product domain.Product, actingUser string) (*domain.Product, error)
	UpdateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
	DeleteProduct(ctx context.Context, id string) error
	ReplaceProducts(ctx context.Context, products []domain.Product, actingUser string) error

	AdjustStock(ctx context.Context, productID string, delta int, logType string, reason string, actingUser string) (*domain.StockLogEntry, error)
	ListStockLogs(ctx context.Context, limit int) ([]domain.StockLogEntry, error)

	CreateOrder(ctx context.Context, draft domain.OrderDraft) (*domain.Order, error)
	ListOrders(ctx context.Context) ([]domain.Order, error)
	GetOrderByID(ctx context.Context, id string) (*domain.Order, error)

	ListBranches(ctx context.Context) ([]domain.Branch, error)

	GetSettings(ctx context.Context) (domain.Settings, error)
	UpdateSettings(ctx context.Context, settings domain.Settings) (domain.Settings, error)

	CreateUser(ctx context.Context, user domain.UserAccount) (*domain.UserAccount, error)
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	GetUserByUsername(ctx context.Context, username string) (*domain.UserAccount, error)
	UpdateUser(ctx context.Context, user domain.UserAccount) (*domain.UserAccount, error)
	DeleteUser(ctx context.Context, id string) error
}

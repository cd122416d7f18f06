package cart

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"beanpos/backend/internal/domain"
	"beanpos/backend/internal/pricing"
	"beanpos/backend/internal/store"
)

// StockReader is the engine's read-only view of the catalog. Quantities are
// bounded by live stock at mutation time; the engine never writes stock.
type StockReader interface {
	GetProductByID(ctx context.Context, id string) (*domain.Product, error)
}

// Engine owns the set of in-progress sale tabs for one register session.
// Exactly one tab is active at a time and the working set never becomes
// empty: deleting the last tab resets it in place instead.
type Engine struct {
	mu       sync.Mutex
	stock    StockReader
	sales    []*domain.Sale
	activeID int64
	nextID   int64
}

func NewEngine(stock StockReader) *Engine {
	e := &Engine{stock: stock, nextID: 1}
	e.appendSaleLocked()
	return e
}

func (e *Engine) appendSaleLocked() *domain.Sale {
	sale := &domain.Sale{
		ID:       e.nextID,
		Name:     fmt.Sprintf("Order %d", e.nextID),
		Lines:    []domain.CartLine{},
		Discount: domain.Discount{Type: domain.DiscountNone},
	}
	e.nextID++
	e.sales = append(e.sales, sale)
	e.activeID = sale.ID
	return sale
}

func (e *Engine) activeLocked() *domain.Sale {
	for _, sale := range e.sales {
		if sale.ID == e.activeID {
			return sale
		}
	}
	return e.sales[0]
}

func (e *Engine) findLocked(saleID int64) *domain.Sale {
	for _, sale := range e.sales {
		if sale.ID == saleID {
			return sale
		}
	}
	return nil
}

// NewSale opens a fresh empty tab and makes it active. It never fails.
func (e *Engine) NewSale() domain.Sale {
	e.mu.Lock()
	defer e.mu.Unlock()
	return cloneSale(e.appendSaleLocked())
}

func (e *Engine) SwitchActiveSale(saleID int64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.findLocked(saleID) == nil {
		return store.ErrNotFound
	}
	e.activeID = saleID
	return nil
}

// DeleteSale removes a tab. The last remaining tab is reset in place rather
// than removed; deleting the active tab moves activity to the first
// remaining one.
func (e *Engine) DeleteSale(saleID int64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.deleteLocked(saleID)
}

func (e *Engine) deleteLocked(saleID int64) error {
	sale := e.findLocked(saleID)
	if sale == nil {
		return store.ErrNotFound
	}

	if len(e.sales) == 1 {
		sale.Lines = []domain.CartLine{}
		sale.Discount = domain.Discount{Type: domain.DiscountNone}
		return nil
	}

	kept := make([]*domain.Sale, 0, len(e.sales)-1)
	for _, s := range e.sales {
		if s.ID != saleID {
			kept = append(kept, s)
		}
	}
	e.sales = kept
	if e.activeID == saleID {
		e.activeID = e.sales[0].ID
	}
	return nil
}

// CompleteActive retires the active tab after a successful checkout, with
// the same never-empty semantics as DeleteSale.
func (e *Engine) CompleteActive() {
	e.mu.Lock()
	defer e.mu.Unlock()
	_ = e.deleteLocked(e.activeID)
}

// AddItem puts one unit of the product on the active tab: an existing line
// is incremented only while the result stays within current stock, and a
// new line is created only when stock is positive. Oversell attempts leave
// the tab unchanged and report the available quantity.
func (e *Engine) AddItem(ctx context.Context, productID string) error {
	product, err := e.stock.GetProductByID(ctx, productID)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	sale := e.activeLocked()
	for i := range sale.Lines {
		if sale.Lines[i].ProductID != productID {
			continue
		}
		if sale.Lines[i].Quantity+1 > product.Stock {
			return &store.StockError{ProductID: productID, Requested: sale.Lines[i].Quantity + 1, Available: product.Stock}
		}
		sale.Lines[i].Quantity++
		return nil
	}

	if product.Stock < 1 {
		return &store.StockError{ProductID: productID, Requested: 1, Available: 0}
	}
	sale.Lines = append(sale.Lines, domain.CartLine{ProductID: productID, Quantity: 1})
	return nil
}

// SetQuantity updates a line's quantity. Zero or negative removes the line;
// quantities above current stock are rejected without effect.
func (e *Engine) SetQuantity(ctx context.Context, productID string, quantity int) error {
	if quantity <= 0 {
		return e.RemoveItem(productID)
	}

	product, err := e.stock.GetProductByID(ctx, productID)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	sale := e.activeLocked()
	for i := range sale.Lines {
		if sale.Lines[i].ProductID != productID {
			continue
		}
		if quantity > product.Stock {
			return &store.StockError{ProductID: productID, Requested: quantity, Available: product.Stock}
		}
		sale.Lines[i].Quantity = quantity
		return nil
	}
	return store.ErrNotFound
}

func (e *Engine) RemoveItem(productID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	sale := e.activeLocked()
	for i := range sale.Lines {
		if sale.Lines[i].ProductID == productID {
			sale.Lines = append(sale.Lines[:i], sale.Lines[i+1:]...)
			return nil
		}
	}
	return store.ErrNotFound
}

func (e *Engine) SetNotes(productID string, notes string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	sale := e.activeLocked()
	for i := range sale.Lines {
		if sale.Lines[i].ProductID == productID {
			sale.Lines[i].Notes = notes
			return nil
		}
	}
	return store.ErrNotFound
}

// ApplyDiscount validates the discount against the active tab's current
// subtotal before accepting it. Invalid values are rejected, never clamped.
func (e *Engine) ApplyDiscount(ctx context.Context, discount domain.Discount) error {
	lines, err := e.pricedLines(ctx, e.ActiveSale())
	if err != nil {
		return err
	}

	if err := pricing.ValidateDiscount(discount, pricing.Subtotal(lines)); err != nil {
		return err
	}
	if discount.Type == domain.DiscountNone {
		discount = domain.Discount{Type: domain.DiscountNone}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.activeLocked().Discount = discount
	return nil
}

func (e *Engine) RemoveDiscount() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.activeLocked().Discount = domain.Discount{Type: domain.DiscountNone}
}

// ActiveSale returns a copy of the active tab.
func (e *Engine) ActiveSale() domain.Sale {
	e.mu.Lock()
	defer e.mu.Unlock()
	return cloneSale(e.activeLocked())
}

// Totals prices the active tab against current catalog prices. Lines whose
// product has since been deleted contribute nothing; checkout rejects them
// explicitly.
func (e *Engine) Totals(ctx context.Context, taxRatePercent float64) (domain.Totals, error) {
	sale := e.ActiveSale()
	lines, err := e.pricedLines(ctx, sale)
	if err != nil {
		return domain.Totals{}, err
	}
	return pricing.Compute(lines, sale.Discount, taxRatePercent), nil
}

// State is the renderable view of the register: all tabs, the active id,
// and the active tab's totals.
func (e *Engine) State(ctx context.Context, taxRatePercent float64) (domain.RegisterState, error) {
	totals, err := e.Totals(ctx, taxRatePercent)
	if err != nil {
		return domain.RegisterState{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	sales := make([]domain.Sale, 0, len(e.sales))
	for _, sale := range e.sales {
		sales = append(sales, cloneSale(sale))
	}
	return domain.RegisterState{Sales: sales, ActiveSaleID: e.activeID, Totals: totals}, nil
}

// Snapshot exports the open tabs for persistence.
func (e *Engine) Snapshot() ([]domain.Sale, int64, int64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	sales := make([]domain.Sale, 0, len(e.sales))
	for _, sale := range e.sales {
		sales = append(sales, cloneSale(sale))
	}
	return sales, e.activeID, e.nextID
}

// Restore replaces the working set with persisted tabs, re-establishing the
// never-empty and valid-active invariants if the snapshot violates them.
func (e *Engine) Restore(sales []domain.Sale, activeID int64, nextID int64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.sales = e.sales[:0]
	for i := range sales {
		restored := cloneSale(&sales[i])
		e.sales = append(e.sales, &restored)
		if restored.ID >= nextID {
			nextID = restored.ID + 1
		}
	}
	if nextID < 1 {
		nextID = 1
	}
	e.nextID = nextID
	if len(e.sales) == 0 {
		e.appendSaleLocked()
		return
	}
	e.activeID = e.sales[0].ID
	for _, sale := range e.sales {
		if sale.ID == activeID {
			e.activeID = activeID
			break
		}
	}
}

func (e *Engine) pricedLines(ctx context.Context, sale domain.Sale) ([]pricing.Line, error) {
	lines := make([]pricing.Line, 0, len(sale.Lines))
	for _, line := range sale.Lines {
		product, err := e.stock.GetProductByID(ctx, line.ProductID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				continue
			}
			return nil, err
		}
		lines = append(lines, pricing.Line{UnitPriceCents: product.PriceCents, Quantity: line.Quantity})
	}
	return lines, nil
}

func cloneSale(sale *domain.Sale) domain.Sale {
	out := *sale
	out.Lines = make([]domain.CartLine, len(sale.Lines))
	copy(out.Lines, sale.Lines)
	return out
}

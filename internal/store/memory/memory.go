package memory

import (
	"context"
	"fmt"
	"log"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"beanpos/backend/internal/domain"
	"beanpos/backend/internal/pricing"
	"beanpos/backend/internal/store"
	"beanpos/backend/internal/xid"
)

type Store struct {
	mu              sync.RWMutex
	products        map[string]domain.Product
	productOrder    []string
	stockLogs       []domain.StockLogEntry
	ordersByID      map[string]domain.Order
	orderIDs        []string
	branches        []domain.Branch
	settings        domain.Settings
	usersByUsername map[string]domain.UserAccount
}

// seedUsers builds the initial in-memory user accounts for dev/demo mode.
// Passwords come from SEED_<USERNAME>_PASSWORD environment variables; unset
// ones fall back to hardcoded dev defaults with a warning printed to stdout.
// These credentials are never used in production (the backend uses
// PostgreSQL when DATABASE_URL is set).
func seedUsers() map[string]domain.UserAccount {
	now := time.Now().UTC()
	users := map[string]domain.UserAccount{}
	warned := false
	for i, u := range []struct {
		username string
		fallback string
		role     string
		branchID string
	}{
		{"admin", "admin123", domain.RoleAdmin, "branch-1"},
		{"manager", "manager123", domain.RoleManager, "branch-2"},
		{"cashier1", "cashier123", domain.RoleCashier, "branch-1"},
		{"cashier2", "cashier123", domain.RoleCashier, "branch-2"},
		{"staff", "staff123", domain.RoleStaff, "branch-1"},
	} {
		envKey := "SEED_" + strings.ToUpper(u.username) + "_PASSWORD"
		password := envOr(envKey, u.fallback)
		if os.Getenv(envKey) == "" && !warned {
			log.Println("[memory-store] WARNING: using default dev credentials. Set SEED_*_PASSWORD to override.")
			warned = true
		}
		hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
		if err != nil {
			log.Fatalf("[memory-store] failed to hash seed password for %s: %v", u.username, err)
		}
		users[u.username] = domain.UserAccount{
			ID:        fmt.Sprintf("user-%d", i+1),
			Username:  u.username,
			Password:  string(hash),
			Role:      u.role,
			BranchID:  u.branchID,
			CreatedAt: now,
		}
	}
	return users
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// NewSeeded returns a store preloaded with the demo cafe catalog, branches
// and user accounts. Every seeded product gets one "initial" stock log entry.
func NewSeeded() *Store {
	products := []domain.Product{
		{ID: "p-1", Name: "Espresso", Category: "Coffee", PriceCents: 250, ImageURL: "https://picsum.photos/seed/espresso/400", Stock: 100, LowStockThreshold: 20},
		{ID: "p-2", Name: "Latte", Category: "Coffee", PriceCents: 350, ImageURL: "https://picsum.photos/seed/latte/400", Stock: 80, LowStockThreshold: 20},
		{ID: "p-3", Name: "Cappuccino", Category: "Coffee", PriceCents: 350, ImageURL: "https://picsum.photos/seed/cappuccino/400", Stock: 75, LowStockThreshold: 20},
		{ID: "p-4", Name: "Americano", Category: "Coffee", PriceCents: 300, ImageURL: "https://picsum.photos/seed/americano/400", Stock: 90, LowStockThreshold: 20},
		{ID: "p-5", Name: "Mocha", Category: "Coffee", PriceCents: 400, ImageURL: "https://picsum.photos/seed/mocha/400", Stock: 60, LowStockThreshold: 15},
		{ID: "p-6", Name: "Iced Coffee", Category: "Coffee", PriceCents: 325, ImageURL: "https://picsum.photos/seed/icedcoffee/400", Stock: 50, LowStockThreshold: 15},
		{ID: "p-7", Name: "Croissant", Category: "Pastry", PriceCents: 275, ImageURL: "https://picsum.photos/seed/croissant/400", Stock: 40, LowStockThreshold: 10},
		{ID: "p-8", Name: "Muffin", Category: "Pastry", PriceCents: 250, ImageURL: "https://picsum.photos/seed/muffin/400", Stock: 45, LowStockThreshold: 10},
		{ID: "p-9", Name: "Scone", Category: "Pastry", PriceCents: 260, ImageURL: "https://picsum.photos/seed/scone/400", Stock: 30, LowStockThreshold: 10},
		{ID: "p-10", Name: "Bagel", Category: "Pastry", PriceCents: 300, ImageURL: "https://picsum.photos/seed/bagel/400", Stock: 25, LowStockThreshold: 10},
		{ID: "p-11", Name: "Herbal Tea", Category: "Tea", PriceCents: 225, ImageURL: "https://picsum.photos/seed/herbaltea/400", Stock: 60, LowStockThreshold: 15},
		{ID: "p-12", Name: "Green Tea", Category: "Tea", PriceCents: 225, ImageURL: "https://picsum.photos/seed/greentea/400", Stock: 60, LowStockThreshold: 15},
		{ID: "p-13", Name: "Orange Juice", Category: "Beverage", PriceCents: 375, ImageURL: "https://picsum.photos/seed/orangejuice/400", Stock: 70, LowStockThreshold: 20},
		{ID: "p-14", Name: "Sandwich", Category: "Food", PriceCents: 650, ImageURL: "https://picsum.photos/seed/sandwich/400", Stock: 25, LowStockThreshold: 5},
		{ID: "p-15", Name: "Salad", Category: "Food", PriceCents: 700, ImageURL: "https://picsum.photos/seed/salad/400", Stock: 20, LowStockThreshold: 5},
	}

	s := New()
	now := time.Now().UTC()
	for _, p := range products {
		s.products[p.ID] = p
		s.productOrder = append(s.productOrder, p.ID)
		s.stockLogs = append(s.stockLogs, domain.StockLogEntry{
			ID:             xid.New("log"),
			ProductID:      p.ID,
			ProductName:    p.Name,
			QuantityChange: p.Stock,
			NewStock:       p.Stock,
			Reason:         "Initial stock",
			Type:           domain.StockLogInitial,
			User:           "system",
			CreatedAt:      now,
		})
	}
	s.usersByUsername = seedUsers()
	return s
}

// New returns an empty store with default settings and demo branches.
func New() *Store {
	return &Store{
		products:     map[string]domain.Product{},
		productOrder: []string{},
		ordersByID:   map[string]domain.Order{},
		branches: []domain.Branch{
			{ID: "branch-1", Name: "Main St. Cafe", Location: "Downtown"},
			{ID: "branch-2", Name: "Parkside Eatery", Location: "Uptown"},
		},
		settings:        domain.Settings{TaxRatePercent: pricing.DefaultTaxRatePercent, CurrencyCode: "USD"},
		usersByUsername: map[string]domain.UserAccount{},
	}
}

func (s *Store) ListProducts(_ context.Context) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Product, 0, len(s.productOrder))
	for _, id := range s.productOrder {
		out = append(out, s.products[id])
	}
	return out, nil
}

func (s *Store) GetProductByID(_ context.Context, id string) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.products[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	out := p
	return &out, nil
}

func (s *Store) CreateProduct(_ context.Context, product domain.Product, actingUser string) (*domain.Product, error) {
	if strings.TrimSpace(product.Name) == "" {
		return nil, fmt.Errorf("%w: product name is required", store.ErrValidation)
	}
	if product.PriceCents < 0 || product.Stock < 0 {
		return nil, fmt.Errorf("%w: price and stock cannot be negative", store.ErrValidation)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if product.ID == "" {
		product.ID = xid.New("p")
	}
	if _, exists := s.products[product.ID]; exists {
		return nil, fmt.Errorf("%w: product %s already exists", store.ErrValidation, product.ID)
	}

	s.products[product.ID] = product
	s.productOrder = append(s.productOrder, product.ID)
	s.appendLogLocked(product, product.Stock, domain.StockLogInitial, "Initial stock", actingUser)

	out := product
	return &out, nil
}

// UpdateProduct applies descriptive fields only. Stock is owned by the log
// operations and keeps its current value regardless of the input.
func (s *Store) UpdateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.products[product.ID]
	if !ok {
		return nil, store.ErrNotFound
	}
	product.Stock = current.Stock
	s.products[product.ID] = product

	out := product
	return &out, nil
}

// DeleteProduct removes a product from the catalog. Deleting an unknown id
// is a no-op; committed orders and stock logs are never touched.
func (s *Store) DeleteProduct(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.products[id]; !ok {
		return nil
	}
	delete(s.products, id)
	for i, pid := range s.productOrder {
		if pid == id {
			s.productOrder = append(s.productOrder[:i], s.productOrder[i+1:]...)
			break
		}
	}
	return nil
}

// ReplaceProducts swaps the whole catalog for the given set, in input order.
// Products whose stock level moved get one "import" log entry recording the
// signed delta; unchanged levels leave no trace in the ledger.
func (s *Store) ReplaceProducts(_ context.Context, products []domain.Product, actingUser string) error {
	for _, p := range products {
		if strings.TrimSpace(p.Name) == "" {
			return fmt.Errorf("%w: product name is required", store.ErrValidation)
		}
		if p.PriceCents < 0 || p.Stock < 0 {
			return fmt.Errorf("%w: price and stock cannot be negative for %q", store.ErrValidation, p.Name)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	prior := s.products
	s.products = make(map[string]domain.Product, len(products))
	s.productOrder = make([]string, 0, len(products))
	for _, p := range products {
		if p.ID == "" {
			p.ID = xid.New("p")
		}
		s.products[p.ID] = p
		s.productOrder = append(s.productOrder, p.ID)
		if delta := p.Stock - prior[p.ID].Stock; delta != 0 {
			s.appendLogLocked(p, delta, domain.StockLogImport, "CSV import", actingUser)
		}
	}
	return nil
}

// AdjustStock moves stock by delta and appends the matching log entry. A
// delta that would take stock negative is rejected and nothing is mutated.
func (s *Store) AdjustStock(_ context.Context, productID string, delta int, logType string, reason string, actingUser string) (*domain.StockLogEntry, error) {
	if delta == 0 {
		return nil, fmt.Errorf("%w: quantity change cannot be zero", store.ErrValidation)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	product, ok := s.products[productID]
	if !ok {
		return nil, store.ErrNotFound
	}
	newStock := product.Stock + delta
	if newStock < 0 {
		return nil, &store.StockError{ProductID: productID, Requested: -delta, Available: product.Stock}
	}

	product.Stock = newStock
	s.products[productID] = product
	entry := s.appendLogLocked(product, delta, logType, reason, actingUser)

	out := entry
	return &out, nil
}

// ListStockLogs returns entries newest first. A limit of zero or less means
// no limit.
func (s *Store) ListStockLogs(_ context.Context, limit int) ([]domain.StockLogEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.StockLogEntry, 0, len(s.stockLogs))
	for i := len(s.stockLogs) - 1; i >= 0; i-- {
		out = append(out, s.stockLogs[i])
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// CreateOrder commits a checkout atomically: every line is validated against
// current stock before anything moves, then product snapshots are frozen,
// totals recomputed, stock decremented and one "sale" log entry appended per
// line in cart order. Any failure leaves the store untouched.
func (s *Store) CreateOrder(_ context.Context, draft domain.OrderDraft) (*domain.Order, error) {
	if len(draft.Lines) == 0 {
		return nil, fmt.Errorf("%w: order has no lines", store.ErrValidation)
	}
	for _, line := range draft.Lines {
		if line.Quantity <= 0 {
			return nil, fmt.Errorf("%w: line quantity must be positive", store.ErrValidation)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// A product can appear on several lines. Validate the aggregate demand.
	demand := map[string]int{}
	for _, line := range draft.Lines {
		product, ok := s.products[line.ProductID]
		if !ok {
			return nil, fmt.Errorf("%w: product %s is no longer available", store.ErrValidation, line.ProductID)
		}
		demand[line.ProductID] += line.Quantity
		if demand[line.ProductID] > product.Stock {
			return nil, &store.StockError{ProductID: line.ProductID, Requested: demand[line.ProductID], Available: product.Stock}
		}
	}

	orderLines := make([]domain.OrderLine, 0, len(draft.Lines))
	priced := make([]pricing.Line, 0, len(draft.Lines))
	for _, line := range draft.Lines {
		product := s.products[line.ProductID]
		orderLines = append(orderLines, domain.OrderLine{
			ProductID:      product.ID,
			ProductName:    product.Name,
			Quantity:       line.Quantity,
			UnitPriceCents: product.PriceCents,
			Notes:          line.Notes,
		})
		priced = append(priced, pricing.Line{UnitPriceCents: product.PriceCents, Quantity: line.Quantity})
	}
	totals := pricing.Compute(priced, draft.Discount, draft.TaxRatePercent)

	order := domain.Order{
		ID:            xid.New("order"),
		CreatedAt:     time.Now().UTC(),
		Lines:         orderLines,
		SubtotalCents: totals.SubtotalCents,
		DiscountCents: totals.DiscountCents,
		TaxCents:      totals.TaxCents,
		TotalCents:    totals.TotalCents,
		PaymentMethod: draft.PaymentMethod,
		Cashier:       draft.Cashier,
		BranchID:      draft.BranchID,
	}

	for _, line := range draft.Lines {
		product := s.products[line.ProductID]
		product.Stock -= line.Quantity
		s.products[line.ProductID] = product
		s.appendLogLocked(product, -line.Quantity, domain.StockLogSale, "Sale #"+order.ID, draft.Cashier)
	}

	s.ordersByID[order.ID] = order
	s.orderIDs = append(s.orderIDs, order.ID)

	out := order
	return &out, nil
}

func (s *Store) ListOrders(_ context.Context) ([]domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Order, 0, len(s.orderIDs))
	for i := len(s.orderIDs) - 1; i >= 0; i-- {
		out = append(out, cloneOrder(s.ordersByID[s.orderIDs[i]]))
	}
	return out, nil
}

func (s *Store) GetOrderByID(_ context.Context, id string) (*domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	order, ok := s.ordersByID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	out := cloneOrder(order)
	return &out, nil
}

func (s *Store) ListBranches(_ context.Context) ([]domain.Branch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Branch, len(s.branches))
	copy(out, s.branches)
	return out, nil
}

func (s *Store) GetSettings(_ context.Context) (domain.Settings, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.settings, nil
}

func (s *Store) UpdateSettings(_ context.Context, settings domain.Settings) (domain.Settings, error) {
	if settings.TaxRatePercent < 0 || settings.TaxRatePercent > 100 {
		return domain.Settings{}, fmt.Errorf("%w: tax rate must be between 0 and 100", store.ErrValidation)
	}
	if settings.CurrencyCode == "" {
		settings.CurrencyCode = "USD"
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings = settings
	return s.settings, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) (*domain.UserAccount, error) {
	if strings.TrimSpace(user.Username) == "" || user.Password == "" {
		return nil, fmt.Errorf("%w: username and password are required", store.ErrValidation)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.usersByUsername[user.Username]; exists {
		return nil, fmt.Errorf("%w: username %q is taken", store.ErrValidation, user.Username)
	}
	if user.ID == "" {
		user.ID = xid.New("user")
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	s.usersByUsername[user.Username] = user

	out := user
	return &out, nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.UserAccount, 0, len(s.usersByUsername))
	for _, user := range s.usersByUsername {
		out = append(out, user)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return out, nil
}

func (s *Store) GetUserByUsername(_ context.Context, username string) (*domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, ok := s.usersByUsername[username]
	if !ok {
		return nil, store.ErrNotFound
	}
	out := user
	return &out, nil
}

func (s *Store) UpdateUser(_ context.Context, user domain.UserAccount) (*domain.UserAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.findUserByIDLocked(user.ID)
	if !ok {
		return nil, store.ErrNotFound
	}
	user.Username = current.Username
	user.CreatedAt = current.CreatedAt
	if user.Password == "" {
		user.Password = current.Password
	}
	s.usersByUsername[user.Username] = user

	out := user
	return &out, nil
}

func (s *Store) DeleteUser(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.findUserByIDLocked(id)
	if !ok {
		return store.ErrNotFound
	}
	delete(s.usersByUsername, user.Username)
	return nil
}

func (s *Store) findUserByIDLocked(id string) (domain.UserAccount, bool) {
	for _, user := range s.usersByUsername {
		if user.ID == id {
			return user, true
		}
	}
	return domain.UserAccount{}, false
}

func (s *Store) appendLogLocked(product domain.Product, change int, logType string, reason string, actingUser string) domain.StockLogEntry {
	entry := domain.StockLogEntry{
		ID:             xid.New("log"),
		ProductID:      product.ID,
		ProductName:    product.Name,
		QuantityChange: change,
		NewStock:       product.Stock,
		Reason:         reason,
		Type:           logType,
		User:           actingUser,
		CreatedAt:      time.Now().UTC(),
	}
	s.stockLogs = append(s.stockLogs, entry)
	return entry
}

func cloneOrder(order domain.Order) domain.Order {
	out := order
	out.Lines = make([]domain.OrderLine, len(order.Lines))
	copy(out.Lines, order.Lines)
	return out
}

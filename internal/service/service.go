package service

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"beanpos/backend/internal/cart"
	"beanpos/backend/internal/catalog"
	"beanpos/backend/internal/describe"
	"beanpos/backend/internal/domain"
	"beanpos/backend/internal/pricing"
	"beanpos/backend/internal/snapshot"
	"beanpos/backend/internal/store"
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

// ErrForbidden marks an operation the acting user's role does not allow.
var ErrForbidden = errors.New("forbidden")

type Service struct {
	repo            store.Repository
	register        *cart.Engine
	describer       *describe.Engine
	snapshots       *snapshot.Writer
	logger          *zap.Logger
	defaultBranchID string
}

func New(repo store.Repository, register *cart.Engine, describer *describe.Engine, snapshots *snapshot.Writer, logger *zap.Logger, defaultBranchID string) *Service {
	if defaultBranchID == "" {
		defaultBranchID = "branch-1"
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Service{
		repo:            repo,
		register:        register,
		describer:       describer,
		snapshots:       snapshots,
		logger:          logger,
		defaultBranchID: defaultBranchID,
	}
}

func (s *Service) requireRole(ctx context.Context, roles ...string) (domain.Actor, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return domain.Actor{}, fmt.Errorf("%w: authentication required", ErrForbidden)
	}
	for _, role := range roles {
		if actor.Role == role {
			return actor, nil
		}
	}
	return domain.Actor{}, fmt.Errorf("%w: %s role cannot perform this action", ErrForbidden, actor.Role)
}

// ---- Catalog ----

// ListProducts returns the catalog filtered by category and a free-text
// name query. Empty filters pass everything through.
func (s *Service) ListProducts(ctx context.Context, category string, query string) ([]domain.Product, error) {
	products, err := s.repo.ListProducts(ctx)
	if err != nil {
		return nil, err
	}
	return catalog.Filter(products, category, query), nil
}

func (s *Service) ListCategories(ctx context.Context) ([]string, error) {
	products, err := s.repo.ListProducts(ctx)
	if err != nil {
		return nil, err
	}
	return catalog.Categories(products), nil
}

func (s *Service) GetProduct(ctx context.Context, id string) (domain.Product, error) {
	product, err := s.repo.GetProductByID(ctx, id)
	if err != nil {
		return domain.Product{}, err
	}
	return *product, nil
}

// LowStockProducts returns products at or below their low stock threshold.
func (s *Service) LowStockProducts(ctx context.Context) ([]domain.Product, error) {
	products, err := s.repo.ListProducts(ctx)
	if err != nil {
		return nil, err
	}
	low := make([]domain.Product, 0)
	for _, p := range products {
		if p.Stock <= p.LowStockThreshold {
			low = append(low, p)
		}
	}
	return low, nil
}

func (s *Service) CreateProduct(ctx context.Context, req domain.ProductCreateRequest) (domain.Product, error) {
	actor, err := s.requireRole(ctx, domain.RoleAdmin, domain.RoleManager)
	if err != nil {
		return domain.Product{}, err
	}

	req.Name = strings.TrimSpace(req.Name)
	req.Category = strings.TrimSpace(req.Category)
	if req.Name == "" || req.Category == "" {
		return domain.Product{}, fmt.Errorf("%w: name and category are required", store.ErrValidation)
	}
	if req.PriceCents < 0 || req.InitialStock < 0 || req.LowStockThreshold < 0 {
		return domain.Product{}, fmt.Errorf("%w: price, stock and threshold cannot be negative", store.ErrValidation)
	}

	created, err := s.repo.CreateProduct(ctx, domain.Product{
		Name:              req.Name,
		Category:          req.Category,
		PriceCents:        req.PriceCents,
		ImageURL:          req.ImageURL,
		Stock:             req.InitialStock,
		LowStockThreshold: req.LowStockThreshold,
	}, actor.Username)
	if err != nil {
		return domain.Product{}, err
	}

	s.persist(ctx)
	return *created, nil
}

// UpdateProduct applies the present fields of the request to the product.
// Stock is not among them; it only moves through checkout and adjustments.
func (s *Service) UpdateProduct(ctx context.Context, id string, req domain.ProductUpdateRequest) (domain.Product, error) {
	if _, err := s.requireRole(ctx, domain.RoleAdmin, domain.RoleManager); err != nil {
		return domain.Product{}, err
	}

	current, err := s.repo.GetProductByID(ctx, id)
	if err != nil {
		return domain.Product{}, err
	}

	product := *current
	if req.Name != nil {
		product.Name = strings.TrimSpace(*req.Name)
		if product.Name == "" {
			return domain.Product{}, fmt.Errorf("%w: name cannot be empty", store.ErrValidation)
		}
	}
	if req.Category != nil {
		product.Category = strings.TrimSpace(*req.Category)
	}
	if req.PriceCents != nil {
		if *req.PriceCents < 0 {
			return domain.Product{}, fmt.Errorf("%w: price cannot be negative", store.ErrValidation)
		}
		product.PriceCents = *req.PriceCents
	}
	if req.ImageURL != nil {
		product.ImageURL = *req.ImageURL
	}
	if req.LowStockThreshold != nil {
		if *req.LowStockThreshold < 0 {
			return domain.Product{}, fmt.Errorf("%w: threshold cannot be negative", store.ErrValidation)
		}
		product.LowStockThreshold = *req.LowStockThreshold
	}

	saved, err := s.repo.UpdateProduct(ctx, product)
	if err != nil {
		return domain.Product{}, err
	}

	s.persist(ctx)
	return *saved, nil
}

// DeleteProduct removes a product from the catalog. Committed orders and
// stock history keep their frozen copies; deleting an unknown id succeeds.
func (s *Service) DeleteProduct(ctx context.Context, id string) error {
	if _, err := s.requireRole(ctx, domain.RoleAdmin, domain.RoleManager); err != nil {
		return err
	}
	if err := s.repo.DeleteProduct(ctx, id); err != nil {
		return err
	}
	s.persist(ctx)
	return nil
}

func (s *Service) DescribeProduct(ctx context.Context, id string) (domain.DescribeResponse, error) {
	product, err := s.repo.GetProductByID(ctx, id)
	if err != nil {
		return domain.DescribeResponse{}, err
	}
	if s.describer == nil {
		return domain.DescribeResponse{ProductID: product.ID, ProductName: product.Name, Description: describe.Placeholder}, nil
	}
	return s.describer.Describe(ctx, *product), nil
}

// ---- CSV import / export ----

var csvHeader = []string{"id", "name", "category", "price_cents", "image_url", "stock", "low_stock_threshold"}

// ImportProductsCSV replaces the whole catalog from CSV rows in file order.
// The header row is required and the import is all or nothing.
func (s *Service) ImportProductsCSV(ctx context.Context, r io.Reader) (int, error) {
	actor, err := s.requireRole(ctx, domain.RoleAdmin, domain.RoleManager)
	if err != nil {
		return 0, err
	}

	reader := csv.NewReader(r)
	header, err := reader.Read()
	if err != nil {
		return 0, fmt.Errorf("%w: cannot read CSV header: %v", store.ErrValidation, err)
	}
	if len(header) != len(csvHeader) {
		return 0, fmt.Errorf("%w: expected columns %s", store.ErrValidation, strings.Join(csvHeader, ","))
	}

	products := make([]domain.Product, 0, 32)
	for line := 2; ; line++ {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return 0, fmt.Errorf("%w: line %d: %v", store.ErrValidation, line, err)
		}

		priceCents, err := strconv.ParseInt(record[3], 10, 64)
		if err != nil {
			return 0, fmt.Errorf("%w: line %d: bad price %q", store.ErrValidation, line, record[3])
		}
		stock, err := strconv.Atoi(record[5])
		if err != nil {
			return 0, fmt.Errorf("%w: line %d: bad stock %q", store.ErrValidation, line, record[5])
		}
		threshold, err := strconv.Atoi(record[6])
		if err != nil {
			return 0, fmt.Errorf("%w: line %d: bad threshold %q", store.ErrValidation, line, record[6])
		}

		products = append(products, domain.Product{
			ID:                strings.TrimSpace(record[0]),
			Name:              strings.TrimSpace(record[1]),
			Category:          strings.TrimSpace(record[2]),
			PriceCents:        priceCents,
			ImageURL:          strings.TrimSpace(record[4]),
			Stock:             stock,
			LowStockThreshold: threshold,
		})
	}

	if err := s.repo.ReplaceProducts(ctx, products, actor.Username); err != nil {
		return 0, err
	}
	s.persist(ctx)
	return len(products), nil
}

func (s *Service) ExportProductsCSV(ctx context.Context, w io.Writer) error {
	products, err := s.repo.ListProducts(ctx)
	if err != nil {
		return err
	}

	writer := csv.NewWriter(w)
	if err := writer.Write(csvHeader); err != nil {
		return err
	}
	for _, p := range products {
		record := []string{
			p.ID,
			p.Name,
			p.Category,
			strconv.FormatInt(p.PriceCents, 10),
			p.ImageURL,
			strconv.Itoa(p.Stock),
			strconv.Itoa(p.LowStockThreshold),
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

func (s *Service) ExportOrdersCSV(ctx context.Context, w io.Writer) error {
	orders, err := s.repo.ListOrders(ctx)
	if err != nil {
		return err
	}

	writer := csv.NewWriter(w)
	if err := writer.Write([]string{"id", "created_at", "items", "subtotal_cents", "discount_cents", "tax_cents", "total_cents", "payment_method", "cashier", "branch_id"}); err != nil {
		return err
	}
	for _, order := range orders {
		items := make([]string, 0, len(order.Lines))
		for _, line := range order.Lines {
			items = append(items, fmt.Sprintf("%dx %s", line.Quantity, line.ProductName))
		}
		record := []string{
			order.ID,
			order.CreatedAt.Format(time.RFC3339),
			strings.Join(items, "; "),
			strconv.FormatInt(order.SubtotalCents, 10),
			strconv.FormatInt(order.DiscountCents, 10),
			strconv.FormatInt(order.TaxCents, 10),
			strconv.FormatInt(order.TotalCents, 10),
			order.PaymentMethod,
			order.Cashier,
			order.BranchID,
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

// ---- Inventory ----

// AdjustStock applies a manual stock correction. The sign of the quantity
// change selects the log entry type.
func (s *Service) AdjustStock(ctx context.Context, req domain.StockAdjustmentRequest) (domain.StockLogEntry, error) {
	actor, err := s.requireRole(ctx, domain.RoleAdmin, domain.RoleManager, domain.RoleStaff)
	if err != nil {
		return domain.StockLogEntry{}, err
	}
	if strings.TrimSpace(req.Reason) == "" {
		return domain.StockLogEntry{}, fmt.Errorf("%w: a reason is required", store.ErrValidation)
	}

	logType := domain.StockLogAdjustmentAdd
	if req.QuantityChange < 0 {
		logType = domain.StockLogAdjustmentRemove
	}

	entry, err := s.repo.AdjustStock(ctx, req.ProductID, req.QuantityChange, logType, req.Reason, actor.Username)
	if err != nil {
		return domain.StockLogEntry{}, err
	}

	s.persist(ctx)
	return *entry, nil
}

func (s *Service) ListStockLogs(ctx context.Context, limit int) ([]domain.StockLogEntry, error) {
	return s.repo.ListStockLogs(ctx, limit)
}

// ---- Register ----

func (s *Service) taxRate(ctx context.Context) float64 {
	settings, err := s.repo.GetSettings(ctx)
	if err != nil {
		s.logger.Warn("falling back to default tax rate", zap.Error(err))
		return pricing.DefaultTaxRatePercent
	}
	return settings.TaxRatePercent
}

func (s *Service) RegisterState(ctx context.Context) (domain.RegisterState, error) {
	return s.register.State(ctx, s.taxRate(ctx))
}

func (s *Service) NewSale(ctx context.Context) (domain.RegisterState, error) {
	s.register.NewSale()
	return s.RegisterState(ctx)
}

func (s *Service) SwitchSale(ctx context.Context, saleID int64) (domain.RegisterState, error) {
	if err := s.register.SwitchActiveSale(saleID); err != nil {
		return domain.RegisterState{}, err
	}
	return s.RegisterState(ctx)
}

func (s *Service) DeleteSale(ctx context.Context, saleID int64) (domain.RegisterState, error) {
	if err := s.register.DeleteSale(saleID); err != nil {
		return domain.RegisterState{}, err
	}
	return s.RegisterState(ctx)
}

func (s *Service) AddItem(ctx context.Context, productID string) (domain.RegisterState, error) {
	if err := s.register.AddItem(ctx, productID); err != nil {
		return domain.RegisterState{}, err
	}
	return s.RegisterState(ctx)
}

func (s *Service) SetQuantity(ctx context.Context, productID string, quantity int) (domain.RegisterState, error) {
	if err := s.register.SetQuantity(ctx, productID, quantity); err != nil {
		return domain.RegisterState{}, err
	}
	return s.RegisterState(ctx)
}

func (s *Service) RemoveItem(ctx context.Context, productID string) (domain.RegisterState, error) {
	if err := s.register.RemoveItem(productID); err != nil {
		return domain.RegisterState{}, err
	}
	return s.RegisterState(ctx)
}

func (s *Service) SetNotes(ctx context.Context, productID string, notes string) (domain.RegisterState, error) {
	if err := s.register.SetNotes(productID, notes); err != nil {
		return domain.RegisterState{}, err
	}
	return s.RegisterState(ctx)
}

func (s *Service) ApplyDiscount(ctx context.Context, discount domain.Discount) (domain.RegisterState, error) {
	if err := s.register.ApplyDiscount(ctx, discount); err != nil {
		return domain.RegisterState{}, err
	}
	return s.RegisterState(ctx)
}

func (s *Service) RemoveDiscount(ctx context.Context) (domain.RegisterState, error) {
	s.register.RemoveDiscount()
	return s.RegisterState(ctx)
}

// Checkout commits the active tab as an order. Stock validation and the
// decrement happen atomically in the store; only a committed order retires
// the tab.
func (s *Service) Checkout(ctx context.Context, req domain.CheckoutRequest) (domain.Order, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return domain.Order{}, fmt.Errorf("%w: authentication required", ErrForbidden)
	}

	sale := s.register.ActiveSale()
	if len(sale.Lines) == 0 {
		return domain.Order{}, fmt.Errorf("%w: the active sale is empty", store.ErrValidation)
	}

	branchID := actor.BranchID
	if branchID == "" {
		branchID = s.defaultBranchID
	}
	paymentMethod := req.PaymentMethod
	if paymentMethod == "" {
		paymentMethod = "cash"
	}

	order, err := s.repo.CreateOrder(ctx, domain.OrderDraft{
		Lines:          sale.Lines,
		Discount:       sale.Discount,
		TaxRatePercent: s.taxRate(ctx),
		PaymentMethod:  paymentMethod,
		Cashier:        actor.Username,
		BranchID:       branchID,
	})
	if err != nil {
		return domain.Order{}, err
	}

	s.register.CompleteActive()
	s.persist(ctx)

	s.logger.Info("order committed",
		zap.String("order_id", order.ID),
		zap.Int64("total_cents", order.TotalCents),
		zap.String("cashier", order.Cashier),
	)
	return *order, nil
}

// ---- Orders ----

func (s *Service) ListOrders(ctx context.Context) ([]domain.Order, error) {
	return s.repo.ListOrders(ctx)
}

func (s *Service) GetOrder(ctx context.Context, id string) (domain.Order, error) {
	order, err := s.repo.GetOrderByID(ctx, id)
	if err != nil {
		return domain.Order{}, err
	}
	return *order, nil
}

// ---- Reports ----

// estimatedProfitRate approximates margin for reporting; per-product cost
// tracking is out of scope.
const estimatedProfitRate = 0.4

func (s *Service) SalesReport(ctx context.Context, period string, branchID string) (domain.SalesReport, error) {
	if _, err := s.requireRole(ctx, domain.RoleAdmin, domain.RoleManager); err != nil {
		return domain.SalesReport{}, err
	}

	var since time.Time
	now := time.Now().UTC()
	switch period {
	case "", domain.ReportPeriodAll:
		period = domain.ReportPeriodAll
	case domain.ReportPeriodDaily:
		since = time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	case domain.ReportPeriodWeekly:
		since = now.AddDate(0, 0, -7)
	case domain.ReportPeriodMonthly:
		since = now.AddDate(0, -1, 0)
	default:
		return domain.SalesReport{}, fmt.Errorf("%w: unknown report period %q", store.ErrValidation, period)
	}

	orders, err := s.repo.ListOrders(ctx)
	if err != nil {
		return domain.SalesReport{}, err
	}

	report := domain.SalesReport{Period: period, BranchID: branchID}
	for _, order := range orders {
		if !since.IsZero() && order.CreatedAt.Before(since) {
			continue
		}
		if branchID != "" && order.BranchID != branchID {
			continue
		}
		report.Orders++
		report.RevenueCents += order.TotalCents
		report.DiscountCents += order.DiscountCents
		report.TaxCents += order.TaxCents
	}
	report.EstimatedProfitCents = int64(float64(report.RevenueCents) * estimatedProfitRate)
	return report, nil
}

// ---- Settings ----

func (s *Service) GetSettings(ctx context.Context) (domain.Settings, error) {
	return s.repo.GetSettings(ctx)
}

func (s *Service) UpdateSettings(ctx context.Context, settings domain.Settings) (domain.Settings, error) {
	if _, err := s.requireRole(ctx, domain.RoleAdmin); err != nil {
		return domain.Settings{}, err
	}
	saved, err := s.repo.UpdateSettings(ctx, settings)
	if err != nil {
		return domain.Settings{}, err
	}
	s.persist(ctx)
	return saved, nil
}

// ---- Branches ----

func (s *Service) ListBranches(ctx context.Context) ([]domain.Branch, error) {
	return s.repo.ListBranches(ctx)
}

// ---- Users ----

func validRole(role string) bool {
	switch role {
	case domain.RoleAdmin, domain.RoleManager, domain.RoleCashier, domain.RoleStaff:
		return true
	}
	return false
}

func publicUser(account domain.UserAccount) domain.User {
	return domain.User{
		ID:       account.ID,
		Username: account.Username,
		Role:     account.Role,
		BranchID: account.BranchID,
	}
}

func (s *Service) CreateUser(ctx context.Context, req domain.UserCreateRequest) (domain.User, error) {
	if _, err := s.requireRole(ctx, domain.RoleAdmin); err != nil {
		return domain.User{}, err
	}

	// Login lowercases usernames before lookup, so store them lowercased.
	req.Username = strings.ToLower(strings.TrimSpace(req.Username))
	if req.Username == "" || req.Password == "" {
		return domain.User{}, fmt.Errorf("%w: username and password are required", store.ErrValidation)
	}
	if !validRole(req.Role) {
		return domain.User{}, fmt.Errorf("%w: unknown role %q", store.ErrValidation, req.Role)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return domain.User{}, err
	}

	created, err := s.repo.CreateUser(ctx, domain.UserAccount{
		Username: req.Username,
		Password: string(hash),
		Role:     req.Role,
		BranchID: req.BranchID,
	})
	if err != nil {
		return domain.User{}, err
	}
	return publicUser(*created), nil
}

func (s *Service) ListUsers(ctx context.Context) ([]domain.User, error) {
	if _, err := s.requireRole(ctx, domain.RoleAdmin, domain.RoleManager); err != nil {
		return nil, err
	}

	accounts, err := s.repo.ListUsers(ctx)
	if err != nil {
		return nil, err
	}
	users := make([]domain.User, 0, len(accounts))
	for _, account := range accounts {
		users = append(users, publicUser(account))
	}
	return users, nil
}

func (s *Service) UpdateUser(ctx context.Context, id string, req domain.UserUpdateRequest) (domain.User, error) {
	if _, err := s.requireRole(ctx, domain.RoleAdmin); err != nil {
		return domain.User{}, err
	}

	account := domain.UserAccount{ID: id}
	if req.Password != nil {
		if *req.Password == "" {
			return domain.User{}, fmt.Errorf("%w: password cannot be empty", store.ErrValidation)
		}
		hash, err := bcrypt.GenerateFromPassword([]byte(*req.Password), bcrypt.DefaultCost)
		if err != nil {
			return domain.User{}, err
		}
		account.Password = string(hash)
	}
	if req.Role != nil {
		if !validRole(*req.Role) {
			return domain.User{}, fmt.Errorf("%w: unknown role %q", store.ErrValidation, *req.Role)
		}
		account.Role = *req.Role
	}
	if req.BranchID != nil {
		account.BranchID = *req.BranchID
	}

	if req.Role == nil || req.BranchID == nil {
		current, err := s.findAccountByID(ctx, id)
		if err != nil {
			return domain.User{}, err
		}
		if req.Role == nil {
			account.Role = current.Role
		}
		if req.BranchID == nil {
			account.BranchID = current.BranchID
		}
	}

	saved, err := s.repo.UpdateUser(ctx, account)
	if err != nil {
		return domain.User{}, err
	}
	return publicUser(*saved), nil
}

// DeleteUser refuses to remove the last admin account so the system cannot
// lock itself out.
func (s *Service) DeleteUser(ctx context.Context, id string) error {
	if _, err := s.requireRole(ctx, domain.RoleAdmin); err != nil {
		return err
	}

	target, err := s.findAccountByID(ctx, id)
	if err != nil {
		return err
	}
	if target.Role == domain.RoleAdmin {
		accounts, err := s.repo.ListUsers(ctx)
		if err != nil {
			return err
		}
		admins := 0
		for _, account := range accounts {
			if account.Role == domain.RoleAdmin {
				admins++
			}
		}
		if admins <= 1 {
			return fmt.Errorf("%w: cannot delete the last admin account", store.ErrValidation)
		}
	}
	return s.repo.DeleteUser(ctx, id)
}

func (s *Service) findAccountByID(ctx context.Context, id string) (domain.UserAccount, error) {
	accounts, err := s.repo.ListUsers(ctx)
	if err != nil {
		return domain.UserAccount{}, err
	}
	for _, account := range accounts {
		if account.ID == id {
			return account, nil
		}
	}
	return domain.UserAccount{}, store.ErrNotFound
}

// ---- Persistence mirror ----

// persist mirrors the register to the snapshot file in the background. It
// is best effort; a failed save only logs a warning.
func (s *Service) persist(ctx context.Context) {
	if s.snapshots == nil {
		return
	}

	products, err := s.repo.ListProducts(ctx)
	if err != nil {
		s.logger.Warn("snapshot skipped: products", zap.Error(err))
		return
	}
	orders, err := s.repo.ListOrders(ctx)
	if err != nil {
		s.logger.Warn("snapshot skipped: orders", zap.Error(err))
		return
	}
	logs, err := s.repo.ListStockLogs(ctx, 0)
	if err != nil {
		s.logger.Warn("snapshot skipped: stock logs", zap.Error(err))
		return
	}
	settings, err := s.repo.GetSettings(ctx)
	if err != nil {
		s.logger.Warn("snapshot skipped: settings", zap.Error(err))
		return
	}
	sales, activeID, nextID := s.register.Snapshot()

	state := snapshot.State{
		Products:     products,
		Orders:       orders,
		StockLogs:    logs,
		Sales:        sales,
		ActiveSaleID: activeID,
		NextSaleID:   nextID,
		Settings:     settings,
	}
	go func() {
		if err := s.snapshots.Save(state); err != nil {
			s.logger.Warn("snapshot save failed", zap.Error(err))
		}
	}()
}

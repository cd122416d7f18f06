package service

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"beanpos/backend/internal/cart"
	"beanpos/backend/internal/domain"
	"beanpos/backend/internal/store"
	"beanpos/backend/internal/store/memory"
)

func newTestService() *Service {
	repo := memory.NewSeeded()
	register := cart.NewEngine(repo)
	return New(repo, register, nil, nil, nil, "branch-1")
}

func adminCtx() context.Context {
	return WithActor(context.Background(), domain.Actor{Username: "admin", Role: domain.RoleAdmin, BranchID: "branch-1"})
}

func cashierCtx() context.Context {
	return WithActor(context.Background(), domain.Actor{Username: "cashier1", Role: domain.RoleCashier, BranchID: "branch-1"})
}

func TestListProductsFiltering(t *testing.T) {
	svc := newTestService()
	ctx := cashierCtx()

	coffee, err := svc.ListProducts(ctx, "Coffee", "")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(coffee) != 6 {
		t.Fatalf("got %d coffee products, want 6", len(coffee))
	}

	iced, err := svc.ListProducts(ctx, "All", "iced")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(iced) != 1 || iced[0].Name != "Iced Coffee" {
		t.Fatalf("query filter broken: %v", iced)
	}
}

func TestCheckoutCommitsOrderAndRetiresSale(t *testing.T) {
	svc := newTestService()
	ctx := cashierCtx()

	if _, err := svc.AddItem(ctx, "p-1"); err != nil {
		t.Fatalf("add: %v", err)
	}
	if _, err := svc.AddItem(ctx, "p-1"); err != nil {
		t.Fatalf("add: %v", err)
	}

	order, err := svc.Checkout(ctx, domain.CheckoutRequest{PaymentMethod: "card"})
	if err != nil {
		t.Fatalf("checkout: %v", err)
	}
	if order.Cashier != "cashier1" || order.BranchID != "branch-1" {
		t.Fatalf("order attribution wrong: %+v", order)
	}
	if order.SubtotalCents != 500 || order.TaxCents != 40 || order.TotalCents != 540 {
		t.Fatalf("totals wrong: %+v", order)
	}

	state, err := svc.RegisterState(ctx)
	if err != nil {
		t.Fatalf("state: %v", err)
	}
	if len(state.Sales) != 1 || len(state.Sales[0].Lines) != 0 {
		t.Fatalf("active sale not retired: %+v", state.Sales)
	}

	product, err := svc.GetProduct(ctx, "p-1")
	if err != nil {
		t.Fatalf("get product: %v", err)
	}
	if product.Stock != 98 {
		t.Fatalf("stock = %d, want 98", product.Stock)
	}
}

func TestCheckoutRejectsEmptySale(t *testing.T) {
	svc := newTestService()

	_, err := svc.Checkout(cashierCtx(), domain.CheckoutRequest{})
	if !errors.Is(err, store.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestCheckoutKeepsSaleOnStockFailure(t *testing.T) {
	svc := newTestService()
	ctx := cashierCtx()

	// Drain Salad stock behind the register's back, then try to sell it.
	if _, err := svc.AddItem(ctx, "p-15"); err != nil {
		t.Fatalf("add: %v", err)
	}
	adminContext := adminCtx()
	if _, err := svc.AdjustStock(adminContext, domain.StockAdjustmentRequest{ProductID: "p-15", QuantityChange: -20, Reason: "spoilage"}); err != nil {
		t.Fatalf("adjust: %v", err)
	}

	_, err := svc.Checkout(ctx, domain.CheckoutRequest{})
	if !errors.Is(err, store.ErrInsufficientStock) {
		t.Fatalf("expected insufficient stock, got %v", err)
	}

	state, _ := svc.RegisterState(ctx)
	if len(state.Sales[0].Lines) != 1 {
		t.Fatalf("sale lost its lines on failed checkout: %+v", state.Sales[0])
	}
}

func TestAdjustStockPicksLogTypeBySign(t *testing.T) {
	svc := newTestService()
	ctx := adminCtx()

	add, err := svc.AdjustStock(ctx, domain.StockAdjustmentRequest{ProductID: "p-1", QuantityChange: 10, Reason: "delivery"})
	if err != nil {
		t.Fatalf("add adjustment: %v", err)
	}
	if add.Type != domain.StockLogAdjustmentAdd {
		t.Fatalf("type = %q, want adjustment-add", add.Type)
	}

	remove, err := svc.AdjustStock(ctx, domain.StockAdjustmentRequest{ProductID: "p-1", QuantityChange: -3, Reason: "breakage"})
	if err != nil {
		t.Fatalf("remove adjustment: %v", err)
	}
	if remove.Type != domain.StockLogAdjustmentRemove {
		t.Fatalf("type = %q, want adjustment-remove", remove.Type)
	}

	if _, err := svc.AdjustStock(ctx, domain.StockAdjustmentRequest{ProductID: "p-1", QuantityChange: 1}); !errors.Is(err, store.ErrValidation) {
		t.Fatalf("missing reason accepted: %v", err)
	}
}

func TestProductMutationsRequireRole(t *testing.T) {
	svc := newTestService()

	_, err := svc.CreateProduct(cashierCtx(), domain.ProductCreateRequest{Name: "Cortado", Category: "Coffee", PriceCents: 325})
	if !errors.Is(err, ErrForbidden) {
		t.Fatalf("cashier created a product: %v", err)
	}
	if _, err := svc.CreateProduct(context.Background(), domain.ProductCreateRequest{Name: "Cortado", Category: "Coffee"}); !errors.Is(err, ErrForbidden) {
		t.Fatalf("anonymous created a product: %v", err)
	}

	created, err := svc.CreateProduct(adminCtx(), domain.ProductCreateRequest{
		Name: "Cortado", Category: "Coffee", PriceCents: 325, InitialStock: 40, LowStockThreshold: 10,
	})
	if err != nil {
		t.Fatalf("admin create failed: %v", err)
	}
	if created.Stock != 40 {
		t.Fatalf("initial stock = %d", created.Stock)
	}
}

func TestUpdateProductPartialFields(t *testing.T) {
	svc := newTestService()
	ctx := adminCtx()

	newPrice := int64(275)
	updated, err := svc.UpdateProduct(ctx, "p-1", domain.ProductUpdateRequest{PriceCents: &newPrice})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.PriceCents != 275 {
		t.Fatalf("price = %d", updated.PriceCents)
	}
	if updated.Name != "Espresso" || updated.Stock != 100 {
		t.Fatalf("untouched fields changed: %+v", updated)
	}
}

func TestDeleteLastAdminRefused(t *testing.T) {
	svc := newTestService()
	ctx := adminCtx()

	users, err := svc.ListUsers(ctx)
	if err != nil {
		t.Fatalf("list users: %v", err)
	}
	var adminID string
	for _, u := range users {
		if u.Role == domain.RoleAdmin {
			adminID = u.ID
		}
	}
	if adminID == "" {
		t.Fatalf("no seeded admin found")
	}

	if err := svc.DeleteUser(ctx, adminID); !errors.Is(err, store.ErrValidation) {
		t.Fatalf("last admin deleted: %v", err)
	}

	// With a second admin present the delete goes through.
	if _, err := svc.CreateUser(ctx, domain.UserCreateRequest{Username: "owner", Password: "secret123", Role: domain.RoleAdmin}); err != nil {
		t.Fatalf("create second admin: %v", err)
	}
	if err := svc.DeleteUser(ctx, adminID); err != nil {
		t.Fatalf("delete with two admins: %v", err)
	}
}

func TestSalesReportFiltersBranch(t *testing.T) {
	svc := newTestService()

	mainCtx := cashierCtx()
	if _, err := svc.AddItem(mainCtx, "p-1"); err != nil {
		t.Fatalf("add: %v", err)
	}
	if _, err := svc.Checkout(mainCtx, domain.CheckoutRequest{}); err != nil {
		t.Fatalf("checkout: %v", err)
	}

	uptown := WithActor(context.Background(), domain.Actor{Username: "cashier2", Role: domain.RoleCashier, BranchID: "branch-2"})
	if _, err := svc.AddItem(uptown, "p-14"); err != nil {
		t.Fatalf("add: %v", err)
	}
	if _, err := svc.Checkout(uptown, domain.CheckoutRequest{}); err != nil {
		t.Fatalf("checkout: %v", err)
	}

	all, err := svc.SalesReport(adminCtx(), domain.ReportPeriodAll, "")
	if err != nil {
		t.Fatalf("report: %v", err)
	}
	if all.Orders != 2 {
		t.Fatalf("orders = %d, want 2", all.Orders)
	}
	if all.EstimatedProfitCents != int64(float64(all.RevenueCents)*0.4) {
		t.Fatalf("estimated profit off: %+v", all)
	}

	branch, err := svc.SalesReport(adminCtx(), domain.ReportPeriodDaily, "branch-2")
	if err != nil {
		t.Fatalf("report: %v", err)
	}
	if branch.Orders != 1 {
		t.Fatalf("branch orders = %d, want 1", branch.Orders)
	}

	if _, err := svc.SalesReport(adminCtx(), "yearly", ""); !errors.Is(err, store.ErrValidation) {
		t.Fatalf("unknown period accepted: %v", err)
	}
	if _, err := svc.SalesReport(cashierCtx(), domain.ReportPeriodAll, ""); !errors.Is(err, ErrForbidden) {
		t.Fatalf("cashier read a report: %v", err)
	}
}

func TestCSVRoundTrip(t *testing.T) {
	svc := newTestService()
	ctx := adminCtx()

	var out bytes.Buffer
	if err := svc.ExportProductsCSV(ctx, &out); err != nil {
		t.Fatalf("export: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 16 {
		t.Fatalf("got %d CSV lines, want header + 15", len(lines))
	}

	count, err := svc.ImportProductsCSV(ctx, strings.NewReader(out.String()))
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if count != 15 {
		t.Fatalf("imported %d, want 15", count)
	}

	products, _ := svc.ListProducts(ctx, "", "")
	if len(products) != 15 || products[0].Name != "Espresso" {
		t.Fatalf("catalog mangled by round trip: %d products", len(products))
	}

	if _, err := svc.ImportProductsCSV(ctx, strings.NewReader("bad,header\n")); !errors.Is(err, store.ErrValidation) {
		t.Fatalf("bad header accepted: %v", err)
	}
	if _, err := svc.ImportProductsCSV(cashierCtx(), strings.NewReader(out.String())); !errors.Is(err, ErrForbidden) {
		t.Fatalf("cashier imported a catalog: %v", err)
	}
}

func TestApplyDiscountThroughService(t *testing.T) {
	svc := newTestService()
	ctx := cashierCtx()

	if _, err := svc.AddItem(ctx, "p-5"); err != nil {
		t.Fatalf("add: %v", err)
	}

	state, err := svc.ApplyDiscount(ctx, domain.Discount{Type: domain.DiscountPercentage, Percent: 50})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	// Mocha is 400; half off leaves 200, 8% tax is 16.
	if state.Totals.DiscountCents != 200 || state.Totals.TotalCents != 216 {
		t.Fatalf("totals = %+v", state.Totals)
	}

	state, err = svc.RemoveDiscount(ctx)
	if err != nil {
		t.Fatalf("remove: %v", err)
	}
	if state.Totals.DiscountCents != 0 {
		t.Fatalf("discount survived removal: %+v", state.Totals)
	}
}

func TestDescribeWithoutGeneratorUsesPlaceholder(t *testing.T) {
	svc := newTestService()

	resp, err := svc.DescribeProduct(cashierCtx(), "p-1")
	if err != nil {
		t.Fatalf("describe: %v", err)
	}
	if resp.Description == "" {
		t.Fatalf("empty description")
	}
	if resp.ProductName != "Espresso" {
		t.Fatalf("wrong product: %+v", resp)
	}

	if _, err := svc.DescribeProduct(cashierCtx(), "ghost"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("unknown product: %v", err)
	}
}

func TestLowStockProducts(t *testing.T) {
	svc := newTestService()
	ctx := adminCtx()

	if _, err := svc.AdjustStock(ctx, domain.StockAdjustmentRequest{ProductID: "p-15", QuantityChange: -16, Reason: "spoilage"}); err != nil {
		t.Fatalf("adjust: %v", err)
	}

	low, err := svc.LowStockProducts(ctx)
	if err != nil {
		t.Fatalf("low stock: %v", err)
	}
	if len(low) != 1 || low[0].ID != "p-15" {
		t.Fatalf("low stock list = %v", low)
	}
}

// settingsFailRepo simulates a store whose settings read is unavailable.
type settingsFailRepo struct {
	store.Repository
}

func (r settingsFailRepo) GetSettings(context.Context) (domain.Settings, error) {
	return domain.Settings{}, errors.New("settings unavailable")
}

func TestTaxRateFallsBackToDefault(t *testing.T) {
	repo := settingsFailRepo{Repository: memory.NewSeeded()}
	register := cart.NewEngine(repo)
	svc := New(repo, register, nil, nil, nil, "branch-1")

	state, err := svc.AddItem(cashierCtx(), "p-1")
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	// 250 subtotal at the 8% default: 20 tax, 270 total.
	if state.Totals.TaxCents != 20 || state.Totals.TotalCents != 270 {
		t.Fatalf("totals = %+v, want default tax applied", state.Totals)
	}
}

func TestCreateUserLowercasesUsername(t *testing.T) {
	svc := newTestService()

	user, err := svc.CreateUser(adminCtx(), domain.UserCreateRequest{
		Username: "Alice", Password: "wonder123", Role: domain.RoleCashier, BranchID: "branch-1",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if user.Username != "alice" {
		t.Fatalf("username = %q, want alice", user.Username)
	}
}
